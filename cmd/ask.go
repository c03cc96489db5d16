package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/automind/internal/clarify"
	"github.com/ziadkadry99/automind/internal/suggest"
)

var askSubmit bool

var askCmd = &cobra.Command{
	Use:   "ask [request]",
	Short: "Turn a plain-language request into an automation, answering questions interactively",
	Long: `Resolves a request such as "turn on the porch light at 7 pm" against your
entities and prints the generated automation YAML. When the request is
ambiguous, automind asks a clarification question for each open point.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		engine, err := a.newEngine(askSubmit)
		if err != nil {
			return err
		}

		text := strings.Join(args, " ")
		if text == "" {
			prompt := promptui.Prompt{Label: "What should happen"}
			if text, err = prompt.Run(); err != nil {
				return fmt.Errorf("request: %w", err)
			}
		}

		out, err := engine.Request(ctx, text)
		if err != nil {
			return err
		}
		sessionID, questions := out.SessionID, out.Questions
		for out.Status == suggest.OutcomeNeedsAnswers {
			answers, err := askQuestions(questions)
			if err != nil {
				return err
			}
			next, err := engine.Answer(ctx, sessionID, answers)
			if errors.Is(err, clarify.ErrInvalidAnswer) {
				stderrf("%v\n", err)
				continue
			}
			if err != nil {
				return err
			}
			out, questions = next, next.Questions
		}

		if out.Automation.Submitted {
			stderrf("Automation %s submitted to Home Assistant.\n", out.Automation.ID)
		}
		fmt.Print(out.Automation.YAML)
		return nil
	},
}

func init() {
	askCmd.Flags().BoolVar(&askSubmit, "submit", false, "deploy the generated automation to Home Assistant")
	rootCmd.AddCommand(askCmd)
}

// askQuestions prompts for every pending question and returns the answers
// as one batch.
func askQuestions(questions []clarify.Question) ([]clarify.Answer, error) {
	answers := make([]clarify.Answer, 0, len(questions))
	for _, q := range questions {
		a := clarify.Answer{QuestionID: q.ID}
		switch {
		case q.Kind == clarify.QuestionParameter:
			prompt := promptui.Prompt{
				Label: q.Prompt,
				Validate: func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("an answer is required")
					}
					return nil
				},
			}
			text, err := prompt.Run()
			if err != nil {
				return nil, fmt.Errorf("question %s: %w", q.ID, err)
			}
			a.Text = strings.TrimSpace(text)

		case len(q.Candidates) > 0:
			items := make([]string, len(q.Candidates))
			for i, c := range q.Candidates {
				items[i] = fmt.Sprintf("%s (%s)", c.Name, c.EntityID)
				if c.AreaID != "" {
					items[i] += " in " + c.AreaID
				}
			}
			sel := promptui.Select{Label: q.Prompt, Items: items}
			i, _, err := sel.Run()
			if err != nil {
				return nil, fmt.Errorf("question %s: %w", q.ID, err)
			}
			a.EntityID = q.Candidates[i].EntityID

		default:
			prompt := promptui.Prompt{
				Label: q.Prompt,
				Validate: func(s string) error {
					if _, ok := q.Interpret(s); !ok {
						return errors.New("enter an entity id such as light.porch")
					}
					return nil
				},
			}
			reply, err := prompt.Run()
			if err != nil {
				return nil, fmt.Errorf("question %s: %w", q.ID, err)
			}
			a.EntityID, _ = q.Interpret(reply)
		}
		answers = append(answers, a)
	}
	return answers, nil
}
