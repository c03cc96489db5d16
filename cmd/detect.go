package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/automind/internal/progress"
	"github.com/ziadkadry99/automind/internal/synergy"
)

var (
	detectBackfill bool
	detectLimit    int
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Mine state history for patterns and rank automation suggestions",
	Long: `Runs one detection pass over the locally stored state history: mines
co-occurrence patterns, turns them into synergy opportunities and stores the
run. With --backfill the history is first copied from Home Assistant's
recorder.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if detectBackfill {
			n, err := a.backfill(ctx, progress.NewReporter("Backfilling history"))
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
			stderrf("Backfilled %d transitions.\n", n)
		}

		run, err := a.newPass().Run(ctx, progress.NewReporter("Fetching history"))
		if err != nil {
			return err
		}

		stderrf("Run %s: %d entities, %d transitions, %d patterns.\n",
			run.ID, run.EntityCount, run.TransitionCount, len(run.Patterns))
		printOpportunities(run.Opportunities, detectLimit)
		return nil
	},
}

func init() {
	detectCmd.Flags().BoolVar(&detectBackfill, "backfill", false, "copy recorder history from Home Assistant first")
	detectCmd.Flags().IntVar(&detectLimit, "limit", 10, "number of suggestions to print")
	rootCmd.AddCommand(detectCmd)
}

func printOpportunities(ops []synergy.Opportunity, limit int) {
	if len(ops) == 0 {
		fmt.Println("No suggestions found.")
		return
	}
	if limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}
	for i, op := range ops {
		fmt.Printf("%d. %s  impact=%.3f confidence=%.2f\n", i+1, op.ID, op.AdvancedImpactScore, op.Confidence)
		if op.Trigger != nil {
			fmt.Printf("   when %s\n", op.Trigger)
		}
		for _, act := range op.Actions {
			fmt.Printf("   %s %s\n", act.Service, act.EntityID)
		}
	}
}
