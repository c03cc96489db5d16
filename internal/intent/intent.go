// Package intent turns free-text automation requests into structured
// intents. A rule-based parser handles the common phrasings; anything it
// cannot read is handed to the completion provider, and anything still
// missing becomes a clarification question.
package intent

// TriggerKind is the kind of automation trigger.
type TriggerKind string

const (
	// KindTime fires once a day at a clock time.
	KindTime TriggerKind = "time"
	// KindTimePattern fires on a recurring cadence.
	KindTimePattern TriggerKind = "time_pattern"
	// KindState fires when an entity changes state.
	KindState TriggerKind = "state"
	// KindNumericState fires when a numeric entity crosses a threshold.
	KindNumericState TriggerKind = "numeric_state"
)

// Valid reports whether k is a known trigger kind.
func (k TriggerKind) Valid() bool {
	switch k {
	case KindTime, KindTimePattern, KindState, KindNumericState:
		return true
	}
	return false
}

// Trigger is the parsed trigger of a request. Entity holds a mention until
// resolution replaces it with an entity id.
type Trigger struct {
	Kind TriggerKind `json:"kind"`
	// Phrase is the request text the trigger was read from.
	Phrase string `json:"phrase"`

	At string `json:"at,omitempty"`
	// Offset shifts an entity-valued At, as "[-]HH:MM:SS".
	Offset string `json:"offset,omitempty"`

	Hours   string `json:"hours,omitempty"`
	Minutes string `json:"minutes,omitempty"`
	Seconds string `json:"seconds,omitempty"`

	Entity string   `json:"entity,omitempty"`
	To     string   `json:"to,omitempty"`
	From   string   `json:"from,omitempty"`
	Above  *float64 `json:"above,omitempty"`
	Below  *float64 `json:"below,omitempty"`
}

// Action asks for one verb on one entity.
type Action struct {
	Verb   string `json:"verb"`
	Entity string `json:"entity"`
}

// Condition restricts an automation to times when Entity is in State.
type Condition struct {
	Entity string `json:"entity"`
	State  string `json:"state"`
}

// Missing parameters that need a clarification question.
const (
	MissingTrigger = "trigger"
	MissingAction  = "action"
)

// Intent is a parsed request. It is fully resolved once every entity field
// holds an entity id and Missing is empty.
type Intent struct {
	Request    string      `json:"request"`
	Trigger    *Trigger    `json:"trigger,omitempty"`
	Actions    []Action    `json:"actions,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Missing    []string    `json:"missing,omitempty"`
	// ProviderFailed records that the completion provider could not help and
	// the remaining gaps fall to clarification.
	ProviderFailed bool `json:"provider_failed,omitempty"`
}

// Clone returns a deep copy.
func (in Intent) Clone() Intent {
	out := in
	if in.Trigger != nil {
		t := *in.Trigger
		if t.Above != nil {
			v := *t.Above
			t.Above = &v
		}
		if t.Below != nil {
			v := *t.Below
			t.Below = &v
		}
		out.Trigger = &t
	}
	out.Actions = append([]Action(nil), in.Actions...)
	out.Conditions = append([]Condition(nil), in.Conditions...)
	out.Missing = append([]string(nil), in.Missing...)
	return out
}

// Mentions lists every entity reference in the intent in a fixed order:
// trigger, actions, conditions. Duplicates are kept once.
func (in Intent) Mentions() []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if in.Trigger != nil && (in.Trigger.Kind == KindState || in.Trigger.Kind == KindNumericState) {
		add(in.Trigger.Entity)
	}
	if in.Trigger != nil && in.Trigger.Kind == KindTime && !IsClockTime(in.Trigger.At) {
		add(in.Trigger.At)
	}
	for _, a := range in.Actions {
		add(a.Entity)
	}
	for _, c := range in.Conditions {
		add(c.Entity)
	}
	return out
}

// Bind replaces every occurrence of mention with id.
func (in Intent) Bind(mention, id string) Intent {
	out := in.Clone()
	if out.Trigger != nil {
		if out.Trigger.Entity == mention {
			out.Trigger.Entity = id
		}
		if out.Trigger.Kind == KindTime && out.Trigger.At == mention {
			out.Trigger.At = id
		}
	}
	for i := range out.Actions {
		if out.Actions[i].Entity == mention {
			out.Actions[i].Entity = id
		}
	}
	for i := range out.Conditions {
		if out.Conditions[i].Entity == mention {
			out.Conditions[i].Entity = id
		}
	}
	return out
}

// Complete reports whether no parameter is missing.
func (in Intent) Complete() bool { return len(in.Missing) == 0 }

func (in *Intent) computeMissing() {
	in.Missing = nil
	if in.Trigger == nil {
		in.Missing = append(in.Missing, MissingTrigger)
	}
	if len(in.Actions) == 0 {
		in.Missing = append(in.Missing, MissingAction)
	}
}
