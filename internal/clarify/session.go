// Package clarify runs the clarification dialogue that resolves ambiguous
// requests before an automation is generated.
package clarify

import (
	"errors"
	"maps"
	"time"

	"github.com/ziadkadry99/automind/internal/intent"
)

// Status is a session's position in the dialogue.
type Status string

const (
	StatusCreated  Status = "created"
	StatusOpen     Status = "open"
	StatusAnswered Status = "answered"
	StatusResolved Status = "resolved"
	StatusExpired  Status = "expired"
)

var (
	ErrSessionNotFound = errors.New("clarification session not found")
	ErrSessionExpired  = errors.New("clarification session expired")
	// ErrSessionClosed is returned for answers to a session that is no
	// longer waiting for any.
	ErrSessionClosed     = errors.New("clarification session is not open")
	ErrUnknownQuestion   = errors.New("unknown question")
	ErrDuplicateAnswer   = errors.New("question already answered")
	ErrInvalidAnswer     = errors.New("invalid answer")
	ErrInvalidTransition = errors.New("invalid session transition")
)

// QuestionKind says what a question asks for.
type QuestionKind string

const (
	// QuestionEntity asks which entity a mention refers to.
	QuestionEntity QuestionKind = "entity"
	// QuestionParameter asks for a missing part of the request.
	QuestionParameter QuestionKind = "parameter"
)

// Candidate is one entity offered as an answer.
type Candidate struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	AreaID   string `json:"area_id,omitempty"`
}

// Question is one pending ambiguity.
type Question struct {
	ID     string       `json:"id"`
	Kind   QuestionKind `json:"kind"`
	Prompt string       `json:"prompt"`
	// Mention is the request text an entity question is about.
	Mention string `json:"mention,omitempty"`
	// Parameter names the missing part of a parameter question.
	Parameter  string      `json:"parameter,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Answer answers one question. Entity questions take EntityID; parameter
// questions take Text. Bindings map entity mentions inside Text to entity
// ids and are filled in by the caller.
type Answer struct {
	QuestionID string            `json:"question_id"`
	EntityID   string            `json:"entity_id,omitempty"`
	Text       string            `json:"text,omitempty"`
	Bindings   map[string]string `json:"bindings,omitempty"`
}

// Session is one clarification dialogue. Sessions live in memory only.
type Session struct {
	ID           string        `json:"id"`
	Request      string        `json:"request"`
	Status       Status        `json:"status"`
	Questions    []Question    `json:"questions"`
	Answers      []Answer      `json:"answers"`
	Draft        intent.Intent `json:"draft"`
	Timeout      time.Duration `json:"timeout"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// Pending returns the questions without an answer, in question order.
func (s Session) Pending() []Question {
	answered := make(map[string]bool, len(s.Answers))
	for _, a := range s.Answers {
		answered[a.QuestionID] = true
	}
	var out []Question
	for _, q := range s.Questions {
		if !answered[q.ID] {
			out = append(out, q)
		}
	}
	return out
}

func (s Session) question(id string) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// clone returns a copy sharing no slices or maps with s.
func (s Session) clone() Session {
	out := s
	out.Questions = cloneQuestions(s.Questions)
	out.Answers = make([]Answer, len(s.Answers))
	for i, a := range s.Answers {
		out.Answers[i] = cloneAnswer(a)
	}
	out.Draft = s.Draft.Clone()
	return out
}

func cloneQuestions(qs []Question) []Question {
	out := make([]Question, len(qs))
	for i, q := range qs {
		q.Candidates = append([]Candidate(nil), q.Candidates...)
		out[i] = q
	}
	return out
}

func cloneAnswer(a Answer) Answer {
	a.Bindings = maps.Clone(a.Bindings)
	return a
}
