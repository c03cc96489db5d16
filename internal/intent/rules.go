package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reEvery = regexp.MustCompile(`\bevery\s+(?:(\d+|a|an|one|two|three|four|five|six|ten|fifteen|twenty|thirty|half(?:\s+an?)?)\s+)?(seconds?|secs?|minutes?|mins?|hours?|hrs?)\b`)

	reAtEntity = regexp.MustCompile(`\bat\s+((?:input_datetime|sensor)\.[a-z0-9_]+)\b`)
	reAtClock  = regexp.MustCompile(`\bat\s+(?:(noon|midnight)|(\d{1,2})(?::(\d{2}))?(?::(\d{2}))?\s*(a\.?m\.?|p\.?m\.?|o'clock)?)(?:\s|,|$)`)

	reNumeric = regexp.MustCompile(`\b(?:when|whenever|once|if)\s+(?:the\s+)?(.+?)\s+(?:is\s+|goes\s+|rises\s+|drops\s+|falls\s+|gets\s+)?(above|over|exceeds|higher than|more than|greater than|below|under|less than|lower than)\s+(-?\d+(?:\.\d+)?)`)

	reMotion = regexp.MustCompile(`\b(?:when|whenever|once|if)\s+(?:there is\s+)?motion\s+(?:is\s+)?detected\s+in\s+(?:the\s+)?([a-z0-9_' ]+?)(?:\s*,|\s+then\b|\s+(?:turn|switch|toggle|open|close|lock|unlock)\b|$)`)

	reState = regexp.MustCompile(`\b(?:when|whenever|once|if)\s+(?:the\s+)?(.+?)\s+(?:turns|switches|goes|becomes|is|gets|changes to)\s+(on|off|open|opened|closed|locked|unlocked|home|away|detected|playing|paused)\b`)

	reStateVerb = regexp.MustCompile(`\b(?:when|whenever|once|if)\s+(?:the\s+)?(.+?)\s+(opens|closes|locks|unlocks|arrives home|comes home|leaves)\b`)

	reCondition = regexp.MustCompile(`\b(?:but\s+)?only\s+(?:if|when|while)\s+(?:the\s+)?(.+?)\s+is\s+(on|off|open|closed|locked|unlocked|home|away)\b`)

	reDaily = regexp.MustCompile(`\b(?:every\s+day|each\s+day|daily|every\s+morning|every\s+evening|every\s+night)\b`)

	reActionVerbFirst = regexp.MustCompile(`\b(turn|switch)\s+(on|off)\s+(.+)$`)
	reActionVerbLast  = regexp.MustCompile(`\b(turn|switch)\s+(.+?)\s+(on|off)$`)
	reActionSimple    = regexp.MustCompile(`\b(toggle|open|close|lock|unlock|start|stop)\s+(.+)$`)

	reSplit = regexp.MustCompile(`\s*(?:,|;|\band then\b|\bthen\b|\band\b)\s*`)
)

var numberWords = map[string]int{
	"": 1, "a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "ten": 10, "fifteen": 15, "twenty": 20, "thirty": 30,
}

var stateWords = map[string]string{
	"opened":       "open",
	"detected":     "on",
	"away":         "not_home",
	"opens":        "open",
	"closes":       "closed",
	"locks":        "locked",
	"unlocks":      "unlocked",
	"arrives home": "home",
	"comes home":   "home",
	"leaves":       "not_home",
}

// ParseRules parses a request with the rule-based grammar. Parameters it
// cannot find are listed in Missing.
func ParseRules(text string) Intent {
	in := Intent{Request: strings.TrimSpace(text)}
	s := normalize(text)

	for _, m := range reCondition.FindAllStringSubmatchIndex(s, -1) {
		in.Conditions = append(in.Conditions, Condition{
			Entity: cleanMention(s[m[2]:m[3]]),
			State:  canonicalState(s[m[4]:m[5]]),
		})
	}
	s = blank(s, reCondition)

	if t, span, ok := deriveTrigger(s); ok {
		in.Trigger = &t
		s = s[:span[0]] + " " + s[span[1]:]
	}
	s = reDaily.ReplaceAllString(s, " ")

	in.Actions = parseActions(s)
	in.computeMissing()
	return in
}

// DeriveTrigger reads a trigger from a phrase with the rule-based grammar.
func DeriveTrigger(phrase string) (Trigger, bool) {
	t, _, ok := deriveTrigger(normalize(phrase))
	return t, ok
}

// deriveTrigger tries each trigger form in precedence order: an explicit
// cadence, a clock time, a numeric threshold, then a state change.
func deriveTrigger(s string) (Trigger, [2]int, bool) {
	if m := reEvery.FindStringSubmatchIndex(s); m != nil {
		count := ""
		if m[2] >= 0 {
			count = s[m[2]:m[3]]
		}
		if t, ok := cadence(count, s[m[4]:m[5]]); ok {
			t.Phrase = s[m[0]:m[1]]
			return t, [2]int{m[0], m[1]}, true
		}
	}
	if m := reAtEntity.FindStringSubmatchIndex(s); m != nil {
		return Trigger{Kind: KindTime, At: s[m[2]:m[3]], Phrase: s[m[0]:m[1]]}, [2]int{m[0], m[1]}, true
	}
	for _, m := range reAtClock.FindAllStringSubmatchIndex(s, -1) {
		at, ok := clockTime(group(s, m, 1), group(s, m, 2), group(s, m, 3), group(s, m, 4), group(s, m, 5))
		if !ok {
			continue
		}
		phrase := strings.TrimRight(s[m[0]:m[1]], " ,")
		return Trigger{Kind: KindTime, At: at, Phrase: phrase}, [2]int{m[0], m[0] + len(phrase)}, true
	}
	if m := reNumeric.FindStringSubmatchIndex(s); m != nil {
		v, err := strconv.ParseFloat(s[m[6]:m[7]], 64)
		if err == nil {
			t := Trigger{Kind: KindNumericState, Entity: cleanMention(s[m[2]:m[3]]), Phrase: s[m[0]:m[1]]}
			switch s[m[4]:m[5]] {
			case "above", "over", "exceeds", "higher than", "more than", "greater than":
				t.Above = &v
			default:
				t.Below = &v
			}
			return t, [2]int{m[0], m[1]}, true
		}
	}
	if m := reMotion.FindStringSubmatchIndex(s); m != nil {
		area := cleanMention(s[m[2]:m[3]])
		end := m[3]
		return Trigger{Kind: KindState, Entity: area + " motion", To: "on", Phrase: s[m[0]:end]}, [2]int{m[0], end}, true
	}
	if m := reState.FindStringSubmatchIndex(s); m != nil {
		return Trigger{
			Kind:   KindState,
			Entity: cleanMention(s[m[2]:m[3]]),
			To:     canonicalState(s[m[4]:m[5]]),
			Phrase: s[m[0]:m[1]],
		}, [2]int{m[0], m[1]}, true
	}
	if m := reStateVerb.FindStringSubmatchIndex(s); m != nil {
		return Trigger{
			Kind:   KindState,
			Entity: cleanMention(s[m[2]:m[3]]),
			To:     canonicalState(s[m[4]:m[5]]),
			Phrase: s[m[0]:m[1]],
		}, [2]int{m[0], m[1]}, true
	}
	return Trigger{}, [2]int{}, false
}

// cadence builds a recurring trigger. Whole multiples of the next unit up
// are promoted so that "every 120 seconds" becomes minutes "/2".
func cadence(count, unit string) (Trigger, bool) {
	n, half := 0, false
	if strings.HasPrefix(count, "half") {
		half = true
	} else if v, ok := numberWords[count]; ok {
		n = v
	} else {
		v, err := strconv.Atoi(count)
		if err != nil || v <= 0 {
			return Trigger{}, false
		}
		n = v
	}

	var seconds int
	switch {
	case strings.HasPrefix(unit, "s"):
		seconds = n
	case strings.HasPrefix(unit, "m"):
		seconds = n * 60
	default:
		if half {
			seconds = 1800
		} else {
			seconds = n * 3600
		}
	}
	if half && !strings.HasPrefix(unit, "h") {
		return Trigger{}, false
	}

	t := Trigger{Kind: KindTimePattern}
	switch {
	case seconds%3600 == 0:
		t.Hours = fmt.Sprintf("/%d", seconds/3600)
	case seconds%60 == 0:
		t.Minutes = fmt.Sprintf("/%d", seconds/60)
	default:
		t.Seconds = fmt.Sprintf("/%d", seconds)
	}
	return t, true
}

// clockTime converts the captured parts of "at 7:30 pm" into HH:MM:SS.
func clockTime(named, hh, mm, ss, suffix string) (string, bool) {
	switch named {
	case "noon":
		return "12:00:00", true
	case "midnight":
		return "00:00:00", true
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return "", false
	}
	m, s := 0, 0
	if mm != "" {
		m, _ = strconv.Atoi(mm)
	}
	if ss != "" {
		s, _ = strconv.Atoi(ss)
	}
	suffix = strings.ReplaceAll(suffix, ".", "")
	switch suffix {
	case "am":
		if h < 1 || h > 12 {
			return "", false
		}
		if h == 12 {
			h = 0
		}
	case "pm":
		if h < 1 || h > 12 {
			return "", false
		}
		if h != 12 {
			h += 12
		}
	}
	if h > 23 || m > 59 || s > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s), true
}

// parseActions reads the verb clauses left once trigger and conditions are
// removed. A bare noun phrase inherits the preceding verb, so "turn on the
// lamp and the fan" yields two actions.
func parseActions(s string) []Action {
	var out []Action
	prevVerb := ""
	for _, piece := range reSplit.Split(s, -1) {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		verb, mention := "", ""
		if m := reActionVerbFirst.FindStringSubmatch(piece); m != nil {
			verb, mention = "turn_"+m[2], m[3]
		} else if m := reActionVerbLast.FindStringSubmatch(piece); m != nil {
			verb, mention = "turn_"+m[3], m[2]
		} else if m := reActionSimple.FindStringSubmatch(piece); m != nil {
			verb, mention = m[1], m[2]
		} else if prevVerb != "" {
			verb, mention = prevVerb, piece
		}
		mention = cleanMention(mention)
		if verb == "" || mention == "" {
			continue
		}
		out = append(out, Action{Verb: verb, Entity: mention})
		prevVerb = verb
	}
	return out
}

func normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimRight(s, ".!?")
	return strings.Join(strings.Fields(s), " ")
}

var mentionNoise = []string{"please", "now", "for me", "automatically"}

func cleanMention(s string) string {
	s = strings.Trim(strings.TrimSpace(s), ",.;:!?")
	for _, n := range mentionNoise {
		s = strings.TrimSuffix(s, " "+n)
		s = strings.TrimPrefix(s, n+" ")
	}
	for _, p := range []string{"the ", "my ", "all ", "a "} {
		s = strings.TrimPrefix(s, p)
	}
	s = strings.TrimSuffix(s, "'s")
	if s == "please" || s == "it" {
		return ""
	}
	return strings.TrimSpace(s)
}

func canonicalState(s string) string {
	if v, ok := stateWords[s]; ok {
		return v
	}
	return s
}

func blank(s string, re *regexp.Regexp) string {
	return re.ReplaceAllString(s, " ")
}

func group(s string, m []int, i int) string {
	if m[2*i] < 0 {
		return ""
	}
	return s[m[2*i]:m[2*i+1]]
}

// IsClockTime reports whether v is a literal HH:MM:SS or HH:MM time.
func IsClockTime(v string) bool {
	parts := strings.Split(v, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return false
	}
	limits := []int{23, 59, 59}
	for i, p := range parts {
		if len(p) != 2 {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return false
		}
	}
	return true
}
