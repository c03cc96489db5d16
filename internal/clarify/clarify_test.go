package clarify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/ziadkadry99/automind/internal/entity"
	"github.com/ziadkadry99/automind/internal/intent"
	"github.com/ziadkadry99/automind/internal/registry"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func lampQuestions() []Question {
	return []Question{
		{
			ID: "q1", Kind: QuestionEntity, Mention: "lamp", Prompt: "Which lamp?",
			Candidates: []Candidate{
				{EntityID: "light.bedroom_lamp", Name: "Bedroom Lamp", AreaID: "bedroom"},
				{EntityID: "light.living_room_lamp", Name: "Living Room Lamp", AreaID: "living_room"},
			},
		},
		{ID: "q2", Kind: QuestionParameter, Parameter: intent.MissingTrigger, Prompt: "When?"},
	}
}

func lampDraft() intent.Intent {
	return intent.Intent{
		Request: "turn on the lamp",
		Actions: []intent.Action{{Verb: "turn_on", Entity: "lamp"}},
		Missing: []string{intent.MissingTrigger},
	}
}

// openSession returns an open session with two pending questions.
func openSession(t *testing.T) Session {
	t.Helper()
	created := Session{ID: "s1", Request: "turn on the lamp", Status: StatusCreated, Draft: lampDraft(), Timeout: 10 * time.Minute, CreatedAt: t0, LastActivity: t0}
	s, eff, err := Transition(created, Open{Questions: lampQuestions()}, t0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Status != StatusOpen || eff.Kind != EffectAsk || len(eff.Pending) != 2 {
		t.Fatalf("after open: status %s, effect %+v", s.Status, eff)
	}
	return s
}

func TestTwoQuestionsNeedTwoAnswers(t *testing.T) {
	s := openSession(t)

	s, eff, err := Transition(s, AnswerBatch{Answers: []Answer{{QuestionID: "q1", EntityID: "light.bedroom_lamp"}}}, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if s.Status != StatusOpen {
		t.Errorf("status after one answer = %s, want open", s.Status)
	}
	if eff.Kind != EffectAsk || len(eff.Pending) != 1 || eff.Pending[0].ID != "q2" {
		t.Errorf("effect = %+v, want q2 pending", eff)
	}
	if s.Draft.Actions[0].Entity != "light.bedroom_lamp" {
		t.Errorf("draft action entity = %q", s.Draft.Actions[0].Entity)
	}

	s, eff, err = Transition(s, AnswerBatch{Answers: []Answer{{QuestionID: "q2", Text: "at 7:00 AM"}}}, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second answer: %v", err)
	}
	if s.Status != StatusAnswered || eff.Kind != EffectReady {
		t.Fatalf("status %s effect %s, want answered/ready", s.Status, eff.Kind)
	}

	s, eff, err = Transition(s, Resolve{}, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.Status != StatusResolved || eff.Kind != EffectGenerate || eff.Intent == nil {
		t.Fatalf("status %s effect %+v, want resolved with intent", s.Status, eff)
	}
	want := intent.Intent{
		Request: "turn on the lamp",
		Trigger: &intent.Trigger{Kind: intent.KindTime, At: "07:00:00", Phrase: "at 7:00 am"},
		Actions: []intent.Action{{Verb: "turn_on", Entity: "light.bedroom_lamp"}},
	}
	if diff := cmp.Diff(want, *eff.Intent); diff != "" {
		t.Errorf("resolved intent mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownQuestionRejectedWithoutMutation(t *testing.T) {
	s := openSession(t)
	s, _, err := Transition(s, AnswerBatch{Answers: []Answer{{QuestionID: "q1", EntityID: "light.bedroom_lamp"}}}, t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	before := s.clone()

	got, eff, err := Transition(s, AnswerBatch{Answers: []Answer{{QuestionID: "q3", Text: "hello"}}}, t0.Add(2*time.Minute))
	if !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("err = %v, want ErrUnknownQuestion", err)
	}
	if eff.Kind != EffectNone {
		t.Errorf("effect = %s, want none", eff.Kind)
	}
	if diff := cmp.Diff(before, got); diff != "" {
		t.Errorf("session changed (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(before, s); diff != "" {
		t.Errorf("input session changed (-before +after):\n%s", diff)
	}
}

func TestAnswerBatchIsAtomic(t *testing.T) {
	s := openSession(t)
	before := s.clone()
	got, _, err := Transition(s, AnswerBatch{Answers: []Answer{
		{QuestionID: "q1", EntityID: "light.bedroom_lamp"},
		{QuestionID: "q9", EntityID: "light.bedroom_lamp"},
	}}, t0.Add(time.Minute))
	if !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("err = %v, want ErrUnknownQuestion", err)
	}
	if diff := cmp.Diff(before, got); diff != "" {
		t.Errorf("partial batch applied (-before +after):\n%s", diff)
	}
}

func TestAnswerValidation(t *testing.T) {
	tests := []struct {
		name    string
		answers []Answer
		want    error
	}{
		{"not a candidate", []Answer{{QuestionID: "q1", EntityID: "light.kitchen"}}, ErrInvalidAnswer},
		{"empty entity", []Answer{{QuestionID: "q1"}}, ErrInvalidAnswer},
		{"unreadable trigger", []Answer{{QuestionID: "q2", Text: "whenever you like"}}, ErrInvalidAnswer},
		{"duplicate in batch", []Answer{{QuestionID: "q1", EntityID: "light.bedroom_lamp"}, {QuestionID: "q1", EntityID: "light.living_room_lamp"}}, ErrDuplicateAnswer},
		{"empty batch", nil, ErrInvalidAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openSession(t)
			got, _, err := Transition(s, AnswerBatch{Answers: tt.answers}, t0.Add(time.Minute))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(got.Answers) != 0 || got.Status != StatusOpen {
				t.Errorf("session mutated: %+v", got)
			}
		})
	}
}

func TestAnswerAlreadyAnswered(t *testing.T) {
	s := openSession(t)
	s, _, err := Transition(s, AnswerBatch{Answers: []Answer{{QuestionID: "q1", EntityID: "light.bedroom_lamp"}}}, t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = Transition(s, AnswerBatch{Answers: []Answer{{QuestionID: "q1", EntityID: "light.living_room_lamp"}}}, t0.Add(2*time.Minute))
	if !errors.Is(err, ErrDuplicateAnswer) {
		t.Errorf("err = %v, want ErrDuplicateAnswer", err)
	}
}

func TestParameterAnswerBindings(t *testing.T) {
	s := openSession(t)
	s, _, err := Transition(s, AnswerBatch{Answers: []Answer{
		{QuestionID: "q1", EntityID: "light.living_room_lamp"},
		{QuestionID: "q2", Text: "when the front door opens", Bindings: map[string]string{"front door": "binary_sensor.front_door"}},
	}}, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	want := &intent.Trigger{Kind: intent.KindState, Entity: "binary_sensor.front_door", To: "open", Phrase: "when the front door opens"}
	if diff := cmp.Diff(want, s.Draft.Trigger); diff != "" {
		t.Errorf("trigger mismatch (-want +got):\n%s", diff)
	}
	if s.Status != StatusAnswered {
		t.Errorf("status = %s, want answered", s.Status)
	}
}

func TestExpiry(t *testing.T) {
	s := openSession(t)
	s, _, err := Transition(s, AnswerBatch{Answers: []Answer{{QuestionID: "q1", EntityID: "light.bedroom_lamp"}}}, t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	same, eff, _ := Transition(s, Tick{}, t0.Add(5*time.Minute))
	if same.Status != StatusOpen || eff.Kind != EffectNone {
		t.Fatalf("session expired early: %s", same.Status)
	}

	expired, eff, err := Transition(s, Tick{}, t0.Add(11*time.Minute))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if expired.Status != StatusExpired || eff.Kind != EffectExpired {
		t.Fatalf("status %s effect %s, want expired", expired.Status, eff.Kind)
	}

	before := expired.clone()
	after, _, err := Transition(expired, AnswerBatch{Answers: []Answer{{QuestionID: "q2", Text: "at 7:00 am"}}}, t0.Add(12*time.Minute))
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("expired session changed (-before +after):\n%s", diff)
	}
}

func TestAnswerPastTimeoutWithoutTick(t *testing.T) {
	s := openSession(t)
	got, _, err := Transition(s, AnswerBatch{Answers: []Answer{{QuestionID: "q1", EntityID: "light.bedroom_lamp"}}}, t0.Add(10*time.Minute))
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if len(got.Answers) != 0 {
		t.Error("answer applied to an idle session")
	}
}

func TestInvalidTransitions(t *testing.T) {
	s := openSession(t)
	if _, _, err := Transition(s, Resolve{}, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("resolve from open: err = %v", err)
	}
	if _, _, err := Transition(s, Open{Questions: lampQuestions()}, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("reopen: err = %v", err)
	}
	created := Session{Status: StatusCreated}
	if _, _, err := Transition(created, Open{}, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("open without questions: err = %v", err)
	}
	dup := []Question{{ID: "q1"}, {ID: "q1"}}
	if _, _, err := Transition(created, Open{Questions: dup}, t0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("duplicate question ids: err = %v", err)
	}
}

func TestInterpret(t *testing.T) {
	q := lampQuestions()[0]
	tests := []struct {
		reply string
		want  string
		ok    bool
	}{
		{"1", "light.bedroom_lamp", true},
		{"2", "light.living_room_lamp", true},
		{"3", "", false},
		{"Bedroom Lamp", "light.bedroom_lamp", true},
		{"light.living_room_lamp", "light.living_room_lamp", true},
		{"the one in the living room", "light.living_room_lamp", true},
		{"lamp", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := q.Interpret(tt.reply)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Interpret(%q) = %q, %v; want %q, %v", tt.reply, got, ok, tt.want, tt.ok)
		}
	}

	open := Question{ID: "q1", Kind: QuestionEntity, Mention: "jacuzzi"}
	if id, ok := open.Interpret("switch.hot_tub"); !ok || id != "switch.hot_tub" {
		t.Errorf("free entity id = %q, %v", id, ok)
	}
	if _, ok := open.Interpret("hot tub"); ok {
		t.Error("free text accepted as entity id")
	}
}

func TestDetect(t *testing.T) {
	static := registry.NewStatic([]registry.Entry{
		{EntityID: "light.bedroom_lamp", Name: "Bedroom Lamp"},
		{EntityID: "light.living_room_lamp", Name: "Living Room Lamp"},
		{EntityID: "light.porch", Name: "Porch Light"},
	}, nil)
	r := entity.NewResolver(static)

	draft := intent.ParseRules("Turn on the lamp, the jacuzzi and the porch light")
	bound, qs, err := Detect(context.Background(), r, entity.NewCache(), draft)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(qs) != 3 {
		t.Fatalf("got %d questions, want 3: %+v", len(qs), qs)
	}
	if qs[0].ID != "q1" || qs[0].Mention != "lamp" || len(qs[0].Candidates) != 2 {
		t.Errorf("q1 = %+v", qs[0])
	}
	if qs[1].ID != "q2" || qs[1].Mention != "jacuzzi" || len(qs[1].Candidates) != 0 {
		t.Errorf("q2 = %+v", qs[1])
	}
	if qs[2].ID != "q3" || qs[2].Kind != QuestionParameter || qs[2].Parameter != intent.MissingTrigger {
		t.Errorf("q3 = %+v", qs[2])
	}
	if bound.Actions[2].Entity != "light.porch" {
		t.Errorf("porch light not bound: %+v", bound.Actions)
	}
	if draft.Actions[2].Entity != "porch light" {
		t.Error("Detect mutated its input")
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager() (*Manager, *fakeClock) {
	clock := &fakeClock{now: t0}
	m := NewManager(10*time.Minute, time.Millisecond, nil)
	m.now = clock.Now
	return m, clock
}

func TestManagerFlow(t *testing.T) {
	m, clock := newTestManager()
	ctx := context.Background()

	s, eff, err := m.Open(ctx, "turn on the lamp", lampDraft(), lampQuestions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if eff.Kind != EffectAsk || s.Status != StatusOpen {
		t.Fatalf("open: %s %s", s.Status, eff.Kind)
	}

	clock.Advance(time.Minute)
	s, _, err = m.Answer(ctx, s.ID, []Answer{{QuestionID: "q1", EntityID: "light.bedroom_lamp"}})
	if err != nil || s.Status != StatusOpen {
		t.Fatalf("first answer: %v, status %s", err, s.Status)
	}

	clock.Advance(time.Minute)
	s, eff, err = m.Answer(ctx, s.ID, []Answer{{QuestionID: "q2", Text: "every 10 minutes"}})
	if err != nil {
		t.Fatalf("second answer: %v", err)
	}
	if s.Status != StatusResolved || eff.Kind != EffectGenerate {
		t.Fatalf("status %s effect %s, want resolved/generate", s.Status, eff.Kind)
	}
	if eff.Intent.Trigger.Kind != intent.KindTimePattern || eff.Intent.Trigger.Minutes != "/10" {
		t.Errorf("trigger = %+v", eff.Intent.Trigger)
	}

	if _, _, err := m.Answer(ctx, s.ID, []Answer{{QuestionID: "q1", EntityID: "light.bedroom_lamp"}}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("answer to resolved session: err = %v", err)
	}
}

func TestManagerExpiry(t *testing.T) {
	m, clock := newTestManager()
	ctx := context.Background()
	s, _, err := m.Open(ctx, "turn on the lamp", lampDraft(), lampQuestions())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Answer(ctx, s.ID, []Answer{{QuestionID: "q1", EntityID: "light.bedroom_lamp"}}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(11 * time.Minute)
	_, _, err = m.Answer(ctx, s.ID, []Answer{{QuestionID: "q2", Text: "at 7 am"}})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusExpired || len(got.Answers) != 1 || got.Draft.Trigger != nil {
		t.Errorf("expired session = status %s, %d answers, trigger %v", got.Status, len(got.Answers), got.Draft.Trigger)
	}
	if _, _, err := m.Answer(ctx, s.ID, []Answer{{QuestionID: "q2", Text: "at 7 am"}}); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("second attempt: err = %v", err)
	}
}

func TestManagerCancelledAnswerLeavesSession(t *testing.T) {
	m, _ := newTestManager()
	s, _, err := m.Open(context.Background(), "turn on the lamp", lampDraft(), lampQuestions())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := m.Answer(ctx, s.ID, []Answer{{QuestionID: "q1", EntityID: "light.bedroom_lamp"}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	got, _ := m.Get(s.ID)
	if len(got.Answers) != 0 {
		t.Error("cancelled answer was committed")
	}
}

func TestManagerConcurrentAnswers(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	const sessions = 20
	ids := make([]string, sessions)
	for i := range ids {
		s, _, err := m.Open(ctx, fmt.Sprintf("request %d", i), lampDraft(), lampQuestions())
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = s.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2*sessions)
	for _, id := range ids {
		for _, a := range []Answer{
			{QuestionID: "q1", EntityID: "light.living_room_lamp"},
			{QuestionID: "q2", Text: "at 6:30 pm"},
		} {
			wg.Add(1)
			go func(id string, a Answer) {
				defer wg.Done()
				if _, _, err := m.Answer(ctx, id, []Answer{a}); err != nil {
					errs <- err
				}
			}(id, a)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent answer: %v", err)
	}

	for _, id := range ids {
		s, err := m.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if s.Status != StatusResolved || len(s.Answers) != 2 {
			t.Errorf("session %s: status %s with %d answers", id, s.Status, len(s.Answers))
		}
	}
}

func TestManagerSweepEvicts(t *testing.T) {
	m, clock := newTestManager()
	if _, _, err := m.Open(context.Background(), "turn on the lamp", lampDraft(), lampQuestions()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(11 * time.Minute)
	if n := m.Sweep(); n != 0 {
		t.Errorf("first sweep evicted %d, want 0 (expired sessions stay visible)", n)
	}
	if s := m.List(); len(s) != 1 || s[0].Status != StatusExpired {
		t.Fatalf("after first sweep: %+v", s)
	}
	clock.Advance(10 * time.Minute)
	if n := m.Sweep(); n != 1 {
		t.Errorf("second sweep evicted %d, want 1", n)
	}
	if _, err := m.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get missing: err = %v", err)
	}
}

func TestManagerRunStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, _ := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
