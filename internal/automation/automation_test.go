package automation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/ziadkadry99/automind/internal/entity"
	"github.com/ziadkadry99/automind/internal/intent"
	"github.com/ziadkadry99/automind/internal/registry"
)

func testResolver() *entity.Resolver {
	static := registry.NewStatic([]registry.Entry{
		{EntityID: "switch.coffee_maker", Name: "Coffee Maker", AreaID: "kitchen"},
		{EntityID: "switch.bathroom_fan", Name: "Bathroom Fan", AreaID: "bathroom"},
		{EntityID: "switch.heater", Name: "Heater", AreaID: "living_room"},
		{EntityID: "light.porch", Name: "Porch Light", AreaID: "outside"},
		{EntityID: "light.hallway", Name: "Hallway Light", AreaID: "hallway"},
		{EntityID: "light.kitchen", OriginalName: "Kitchen Light", AreaID: "kitchen"},
		{EntityID: "light.bedroom_lamp", Name: "Bedroom Lamp", AreaID: "bedroom"},
		{EntityID: "light.living_room_lamp", Name: "Living Room Lamp", AreaID: "living_room"},
		{EntityID: "binary_sensor.hallway_motion", OriginalName: "Hallway Motion", AreaID: "hallway"},
		{EntityID: "sensor.living_room_temperature", OriginalName: "Living Room Temperature", AreaID: "living_room"},
		{EntityID: "sensor.outdoor_temperature", OriginalName: "Outdoor Temperature"},
		{EntityID: "input_datetime.wake_up", Name: "Wake Up"},
		{EntityID: "cover.garage_door", Name: "Garage Door"},
	}, nil)
	return entity.NewResolver(static)
}

func newTestGenerator() *Generator {
	g := NewGenerator(testResolver(), nil)
	g.newID = func() string { return "test-id" }
	return g
}

func generate(t *testing.T, text string) *Spec {
	t.Helper()
	in := intent.ParseRules(text)
	spec, err := newTestGenerator().Generate(context.Background(), entity.NewCache(), in)
	if err != nil {
		t.Fatalf("Generate(%q): %v", text, err)
	}
	return spec
}

func renderedTrigger(t *testing.T, spec *Spec) map[string]any {
	t.Helper()
	out, err := RenderYAML(spec)
	if err != nil {
		t.Fatalf("RenderYAML: %v", err)
	}
	var doc struct {
		Triggers []map[string]any `yaml:"triggers"`
	}
	if err := yaml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("re-reading rendered YAML: %v\n%s", err, out)
	}
	if len(doc.Triggers) != 1 {
		t.Fatalf("rendered %d triggers, want 1:\n%s", len(doc.Triggers), out)
	}
	return doc.Triggers[0]
}

func TestGenerateFixedTime(t *testing.T) {
	spec := generate(t, "Turn on the coffee maker at 7:00 AM")

	want := []Trigger{{Kind: intent.KindTime, At: "07:00:00"}}
	if diff := cmp.Diff(want, spec.Triggers); diff != "" {
		t.Errorf("triggers mismatch (-want +got):\n%s", diff)
	}
	wantActions := []Action{{Action: "switch.turn_on", Target: Target{EntityID: "switch.coffee_maker"}}}
	if diff := cmp.Diff(wantActions, spec.Actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
	if spec.Alias != "Turn on Coffee Maker at 07:00:00" {
		t.Errorf("alias = %q", spec.Alias)
	}

	trig := renderedTrigger(t, spec)
	if trig["trigger"] != "time" || trig["at"] != "07:00:00" {
		t.Errorf("rendered trigger = %v", trig)
	}
}

func TestGenerateRecurringUsesTimePattern(t *testing.T) {
	spec := generate(t, "Every 10 minutes toggle the bathroom fan")

	want := []Trigger{{Kind: intent.KindTimePattern, Minutes: "/10"}}
	if diff := cmp.Diff(want, spec.Triggers); diff != "" {
		t.Errorf("triggers mismatch (-want +got):\n%s", diff)
	}

	trig := renderedTrigger(t, spec)
	if trig["trigger"] != "time_pattern" || trig["minutes"] != "/10" {
		t.Errorf("rendered trigger = %v", trig)
	}
	if _, ok := trig["at"]; ok {
		t.Errorf("recurring trigger rendered an at field: %v", trig)
	}
}

func TestGenerateStateTrigger(t *testing.T) {
	spec := generate(t, "When the hallway light turns on, turn on the porch light and the kitchen light")

	want := []Trigger{{Kind: intent.KindState, EntityID: "light.hallway", To: "on"}}
	if diff := cmp.Diff(want, spec.Triggers); diff != "" {
		t.Errorf("triggers mismatch (-want +got):\n%s", diff)
	}
	wantActions := []Action{
		{Action: "light.turn_on", Target: Target{EntityID: "light.porch"}},
		{Action: "light.turn_on", Target: Target{EntityID: "light.kitchen"}},
	}
	if diff := cmp.Diff(wantActions, spec.Actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
	if spec.Alias != "Turn on Porch Light, turn on Kitchen Light when Hallway Light changes to on" {
		t.Errorf("alias = %q", spec.Alias)
	}
}

func TestGenerateNumericTrigger(t *testing.T) {
	spec := generate(t, "Turn on the heater when the living room temperature drops below 18.5")
	trig := spec.Triggers[0]
	if trig.Kind != intent.KindNumericState || trig.EntityID != "sensor.living_room_temperature" {
		t.Fatalf("trigger = %+v", trig)
	}
	if trig.Below == nil || *trig.Below != 18.5 || trig.Above != nil {
		t.Errorf("thresholds above=%v below=%v", trig.Above, trig.Below)
	}
}

func TestGenerateConditionAndCover(t *testing.T) {
	spec := generate(t, "Close the garage door at 10 pm only if the hallway light is off")
	wantConditions := []Condition{{Condition: "state", EntityID: "light.hallway", State: "off"}}
	if diff := cmp.Diff(wantConditions, spec.Conditions); diff != "" {
		t.Errorf("conditions mismatch (-want +got):\n%s", diff)
	}
	if spec.Actions[0].Action != "cover.close_cover" {
		t.Errorf("action = %q, want cover.close_cover", spec.Actions[0].Action)
	}
}

func TestGenerateEntityValuedAt(t *testing.T) {
	in := intent.Intent{
		Request: "turn on the coffee maker at input_datetime.wake_up",
		Trigger: &intent.Trigger{Kind: intent.KindTime, At: "input_datetime.wake_up"},
		Actions: []intent.Action{{Verb: "turn_on", Entity: "switch.coffee_maker"}},
	}
	spec, err := newTestGenerator().Generate(context.Background(), entity.NewCache(), in)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if spec.Triggers[0].At != "input_datetime.wake_up" {
		t.Errorf("at = %q", spec.Triggers[0].At)
	}
	if spec.Alias != "Turn on Coffee Maker at Wake Up" {
		t.Errorf("alias = %q", spec.Alias)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name string
		in   intent.Intent
		rule string
	}{
		{
			name: "incomplete",
			in:   intent.ParseRules("Turn the kitchen light off"),
			rule: RuleIncompleteIntent,
		},
		{
			name: "repetition in clock field",
			in: intent.Intent{
				Trigger: &intent.Trigger{Kind: intent.KindTime, At: "/10"},
				Actions: []intent.Action{{Verb: "toggle", Entity: "switch.bathroom_fan"}},
			},
			rule: RuleAtLiteral,
		},
		{
			name: "clock time and repetition",
			in: intent.Intent{
				Trigger: &intent.Trigger{Kind: intent.KindTimePattern, At: "07:00:00", Minutes: "/10"},
				Actions: []intent.Action{{Verb: "toggle", Entity: "switch.bathroom_fan"}},
			},
			rule: RuleExclusiveFields,
		},
		{
			name: "unsupported service",
			in:   intent.ParseRules("Turn on the outdoor temperature at 8 am"),
			rule: RuleServiceSupported,
		},
		{
			name: "unknown entity",
			in:   intent.ParseRules("Turn on the jacuzzi at 8 am"),
			rule: RuleEntityResolvable,
		},
		{
			name: "no trigger",
			in: intent.Intent{
				Actions: []intent.Action{{Verb: "turn_on", Entity: "light.porch"}},
			},
			rule: RuleRequiredField,
		},
		{
			name: "offset on clock time",
			in: intent.Intent{
				Trigger: &intent.Trigger{Kind: intent.KindTime, At: "07:00", Offset: "-00:10:00"},
				Actions: []intent.Action{{Verb: "turn_on", Entity: "light.porch"}},
			},
			rule: RuleExclusiveFields,
		},
		{
			name: "unknown kind",
			in: intent.Intent{
				Trigger: &intent.Trigger{Kind: "sun"},
				Actions: []intent.Action{{Verb: "turn_on", Entity: "light.porch"}},
			},
			rule: RuleTriggerKind,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestGenerator().Generate(context.Background(), entity.NewCache(), tt.in)
			if !errors.Is(err, ErrSpecGeneration) {
				t.Fatalf("err = %v, want ErrSpecGeneration", err)
			}
			var se *SpecError
			if !errors.As(err, &se) || se.Rule != tt.rule {
				t.Errorf("err = %v, want rule %s", err, tt.rule)
			}
		})
	}
}

func TestGenerateEntityTimeWithOffset(t *testing.T) {
	in := intent.Intent{
		Request: "Turn on the bedroom lamp ten minutes before wake up",
		Trigger: &intent.Trigger{Kind: intent.KindTime, At: "input_datetime.wake_up", Offset: "-00:10:00"},
		Actions: []intent.Action{{Verb: "turn_on", Entity: "light.bedroom_lamp"}},
	}
	spec, err := newTestGenerator().Generate(context.Background(), entity.NewCache(), in)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := Trigger{Kind: intent.KindTime, At: "input_datetime.wake_up", Offset: "-00:10:00"}
	if diff := cmp.Diff(want, spec.Triggers[0]); diff != "" {
		t.Errorf("trigger mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateAmbiguousEntity(t *testing.T) {
	_, err := newTestGenerator().Generate(context.Background(), entity.NewCache(), intent.ParseRules("Turn on the lamp at 8 am"))
	var ambiguous *entity.AmbiguousReferenceError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("err = %v, want AmbiguousReferenceError", err)
	}
	if len(ambiguous.Candidates) != 2 {
		t.Errorf("candidates = %d, want 2", len(ambiguous.Candidates))
	}
}

func TestValidate(t *testing.T) {
	view := map[string]entity.Entity{
		"light.porch":                {ID: "light.porch", Domain: "light", Capabilities: registry.DefaultCapabilities("light")},
		"sensor.outdoor_temperature": {ID: "sensor.outdoor_temperature", Domain: "sensor"},
		"input_datetime.wake_up":     {ID: "input_datetime.wake_up", Domain: "input_datetime"},
		"binary_sensor.front_door":   {ID: "binary_sensor.front_door", Domain: "binary_sensor"},
	}
	action := []Action{{Action: "light.turn_on", Target: Target{EntityID: "light.porch"}}}
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name    string
		trigger Trigger
		actions []Action
		rule    string
	}{
		{"clock time", Trigger{Kind: intent.KindTime, At: "07:00:00"}, action, ""},
		{"entity at with offset", Trigger{Kind: intent.KindTime, At: "input_datetime.wake_up", Offset: "-00:10:00"}, action, ""},
		{"repetition in at", Trigger{Kind: intent.KindTime, At: "/10"}, action, RuleAtLiteral},
		{"wildcard in at", Trigger{Kind: intent.KindTime, At: "*"}, action, RuleAtLiteral},
		{"unpadded clock", Trigger{Kind: intent.KindTime, At: "7:00"}, action, RuleAtLiteral},
		{"offset on literal", Trigger{Kind: intent.KindTime, At: "07:00:00", Offset: "00:05:00"}, action, RuleExclusiveFields},
		{"at and minutes", Trigger{Kind: intent.KindTime, At: "07:00:00", Minutes: "/10"}, action, RuleExclusiveFields},
		{"missing at", Trigger{Kind: intent.KindTime}, action, RuleRequiredField},
		{"pattern", Trigger{Kind: intent.KindTimePattern, Minutes: "/10"}, action, ""},
		{"pattern with at", Trigger{Kind: intent.KindTimePattern, At: "07:00:00", Minutes: "/10"}, action, RuleExclusiveFields},
		{"empty pattern", Trigger{Kind: intent.KindTimePattern}, action, RuleRequiredField},
		{"pattern out of range", Trigger{Kind: intent.KindTimePattern, Minutes: "/90"}, action, RuleRepetitionValue},
		{"pattern zero divisor", Trigger{Kind: intent.KindTimePattern, Hours: "/0"}, action, RuleRepetitionValue},
		{"state", Trigger{Kind: intent.KindState, EntityID: "binary_sensor.front_door", To: "on"}, action, ""},
		{"state without entity", Trigger{Kind: intent.KindState, To: "on"}, action, RuleRequiredField},
		{"state unknown entity", Trigger{Kind: intent.KindState, EntityID: "binary_sensor.nope"}, action, RuleEntityResolvable},
		{"state with above", Trigger{Kind: intent.KindState, EntityID: "binary_sensor.front_door", Above: f(1)}, action, RuleExclusiveFields},
		{"numeric", Trigger{Kind: intent.KindNumericState, EntityID: "sensor.outdoor_temperature", Above: f(20), Below: f(30)}, action, ""},
		{"numeric without threshold", Trigger{Kind: intent.KindNumericState, EntityID: "sensor.outdoor_temperature"}, action, RuleRequiredField},
		{"numeric inverted range", Trigger{Kind: intent.KindNumericState, EntityID: "sensor.outdoor_temperature", Above: f(30), Below: f(20)}, action, RuleThresholdRange},
		{"unknown kind", Trigger{Kind: "sun"}, action, RuleTriggerKind},
		{"no actions", Trigger{Kind: intent.KindTime, At: "07:00:00"}, nil, RuleActionRequired},
		{"unsupported service", Trigger{Kind: intent.KindTime, At: "07:00:00"},
			[]Action{{Action: "sensor.turn_on", Target: Target{EntityID: "sensor.outdoor_temperature"}}}, RuleServiceSupported},
		{"service from wrong domain", Trigger{Kind: intent.KindTime, At: "07:00:00"},
			[]Action{{Action: "switch.turn_on", Target: Target{EntityID: "light.porch"}}}, RuleServiceSupported},
		{"unknown action entity", Trigger{Kind: intent.KindTime, At: "07:00:00"},
			[]Action{{Action: "light.turn_on", Target: Target{EntityID: "light.nope"}}}, RuleEntityResolvable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := &Spec{ID: "x", Triggers: []Trigger{tt.trigger}, Actions: tt.actions}
			err := Validate(spec, view)
			if tt.rule == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			var se *SpecError
			if !errors.As(err, &se) || se.Rule != tt.rule {
				t.Errorf("Validate err = %v, want rule %s", err, tt.rule)
			}
		})
	}
}

func TestRenderYAMLOffset(t *testing.T) {
	spec := &Spec{
		ID:       "x",
		Alias:    "Coffee before wake up",
		Mode:     "single",
		Triggers: []Trigger{{Kind: intent.KindTime, At: "input_datetime.wake_up", Offset: "-00:10:00"}},
		Actions:  []Action{{Action: "switch.turn_on", Target: Target{EntityID: "switch.coffee_maker"}}},
	}
	trig := renderedTrigger(t, spec)
	at, ok := trig["at"].(map[string]any)
	if !ok {
		t.Fatalf("at = %#v, want a mapping", trig["at"])
	}
	if at["entity_id"] != "input_datetime.wake_up" || at["offset"] != "-00:10:00" {
		t.Errorf("at = %v", at)
	}
}

func TestServiceFor(t *testing.T) {
	tests := []struct{ verb, domain, want string }{
		{"turn_on", "light", "turn_on"},
		{"turn_on", "cover", "open_cover"},
		{"open", "cover", "open_cover"},
		{"close", "valve", "close_valve"},
		{"open", "lock", "open"},
		{"close", "light", ""},
		{"lock", "lock", "lock"},
		{"start", "vacuum", "start"},
		{"start", "fan", "turn_on"},
		{"stop", "cover", "stop_cover"},
		{"dance", "light", ""},
	}
	for _, tt := range tests {
		if got := ServiceFor(tt.verb, tt.domain); got != tt.want {
			t.Errorf("ServiceFor(%q, %q) = %q, want %q", tt.verb, tt.domain, got, tt.want)
		}
	}
}

// scriptedSubmitter returns errs in order, then nil.
type scriptedSubmitter struct {
	mu    sync.Mutex
	errs  []error
	specs []*Spec
}

func (s *scriptedSubmitter) Submit(ctx context.Context, spec *Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs = append(s.specs, spec)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func TestDeployAccepted(t *testing.T) {
	sub := &scriptedSubmitter{}
	spec, err := newTestGenerator().Deploy(context.Background(), entity.NewCache(), intent.ParseRules("Turn on the coffee maker at 7:00 AM"), sub)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if len(sub.specs) != 1 || sub.specs[0] != spec {
		t.Errorf("submitted %d specs", len(sub.specs))
	}
}

func TestDeployRederivesTriggerKind(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{&RuntimeRejection{Status: 400, Message: "Message malformed: extra keys not allowed"}}}
	in := intent.Intent{
		Request: "every 10 minutes toggle the bathroom fan",
		Trigger: &intent.Trigger{Kind: intent.KindState, Entity: "switch.bathroom_fan", Phrase: "every 10 minutes"},
		Actions: []intent.Action{{Verb: "toggle", Entity: "switch.bathroom_fan"}},
	}
	spec, err := newTestGenerator().Deploy(context.Background(), entity.NewCache(), in, sub)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if len(sub.specs) != 2 {
		t.Fatalf("submitted %d specs, want 2", len(sub.specs))
	}
	want := []Trigger{{Kind: intent.KindTimePattern, Minutes: "/10"}}
	if diff := cmp.Diff(want, spec.Triggers); diff != "" {
		t.Errorf("re-derived triggers mismatch (-want +got):\n%s", diff)
	}
	if in.Trigger.Kind != intent.KindState {
		t.Error("Deploy mutated the caller's intent")
	}
}

func TestDeploySameKindSurfacesRejection(t *testing.T) {
	rejection := &RuntimeRejection{Status: 400, Message: "Invalid time specified"}
	sub := &scriptedSubmitter{errs: []error{rejection}}
	_, err := newTestGenerator().Deploy(context.Background(), entity.NewCache(), intent.ParseRules("Turn on the coffee maker at 7:00 AM"), sub)

	var se *SpecError
	if !errors.As(err, &se) || se.Rule != RuleRuntimeRejected {
		t.Fatalf("err = %v, want runtime_rejected SpecError", err)
	}
	var rej *RuntimeRejection
	if !errors.As(err, &rej) || rej.Message != "Invalid time specified" {
		t.Errorf("rejection not preserved: %v", err)
	}
	if len(sub.specs) != 1 {
		t.Errorf("submitted %d specs, want 1", len(sub.specs))
	}
}

func TestDeployInfrastructureError(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{registry.ErrUnavailable}}
	_, err := newTestGenerator().Deploy(context.Background(), entity.NewCache(), intent.ParseRules("Turn on the coffee maker at 7:00 AM"), sub)
	if !errors.Is(err, registry.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if errors.Is(err, ErrSpecGeneration) {
		t.Error("infrastructure failure reported as spec error")
	}
}

func TestHASubmitter(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	spec := generate(t, "Every 10 minutes toggle the bathroom fan")
	if err := NewHASubmitter(srv.URL+"/", "tok").Submit(context.Background(), spec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if gotPath != "/api/config/automation/config/test-id" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth = %q", gotAuth)
	}
	triggers, _ := gotBody["triggers"].([]any)
	if len(triggers) != 1 {
		t.Fatalf("body triggers = %v", gotBody["triggers"])
	}
	trig := triggers[0].(map[string]any)
	if trig["trigger"] != "time_pattern" || trig["minutes"] != "/10" {
		t.Errorf("body trigger = %v", trig)
	}
}

func TestHASubmitterRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Message malformed: invalid time for dictionary value @ data['at']"}`))
	}))
	defer srv.Close()

	err := NewHASubmitter(srv.URL, "tok").Submit(context.Background(), &Spec{ID: "a"})
	var rej *RuntimeRejection
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want RuntimeRejection", err)
	}
	if rej.Message != "Message malformed: invalid time for dictionary value @ data['at']" {
		t.Errorf("message = %q", rej.Message)
	}
}

func TestHASubmitterServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHASubmitter(srv.URL, "tok").Submit(context.Background(), &Spec{ID: "a"})
	if !errors.Is(err, registry.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
