package patterns

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ziadkadry99/automind/internal/telemetry"
)

// Config holds detection thresholds.
type Config struct {
	// MinSupport is the number of co-occurrences a pattern needs.
	MinSupport int
	// MinConfidence drops patterns whose support/trigger ratio is lower.
	MinConfidence float64
	// MaxOffset bounds how long after the trigger a consequent may occur.
	MaxOffset time.Duration
	// Thresholds overrides the numeric threshold per entity. Entities without
	// one use the mean value observed in the batch.
	Thresholds map[string]float64
	// WindowHours is the widest hour band reported as a pattern time window.
	WindowHours int
}

// Result is the output of one detection run.
type Result struct {
	RunID    string    `json:"run_id"`
	Patterns []Pattern `json:"patterns"`
	// Considered counts the well-formed transitions used.
	Considered int `json:"considered"`
	// Skipped counts malformed transitions that were dropped.
	Skipped int `json:"skipped"`
}

// Detector mines patterns from transitions.
type Detector struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewDetector creates a detector with the given configuration.
func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	if cfg.MinSupport < 1 {
		cfg.MinSupport = 1
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{cfg: cfg, logger: logger, now: time.Now}
}

type event struct {
	shape Shape
	key   string
	at    time.Time
}

type tally struct {
	trigger    Shape
	consequent Shape
	support    int
	offsetSum  time.Duration
	hours      []int
}

// Detect mines the given transitions, which may cover any number of
// entities and need not be sorted. Malformed records are skipped.
func (d *Detector) Detect(ctx context.Context, transitions []telemetry.StateTransition) (Result, error) {
	res := Result{RunID: uuid.NewString()}

	valid := make([]telemetry.StateTransition, 0, len(transitions))
	for _, tr := range transitions {
		if reason := malformed(tr); reason != "" {
			res.Skipped++
			d.logger.Debug("skipping transition",
				zap.String("entity_id", tr.EntityID),
				zap.String("reason", reason),
			)
			continue
		}
		valid = append(valid, tr)
	}
	if res.Skipped > 0 {
		d.logger.Warn("skipped malformed transitions", zap.Int("skipped", res.Skipped), zap.String("run_id", res.RunID))
	}
	res.Considered = len(valid)

	events := d.events(valid)
	sort.SliceStable(events, func(i, j int) bool { return events[i].at.Before(events[j].at) })

	triggerSupport := make(map[string]int)
	for _, ev := range events {
		triggerSupport[ev.key]++
	}

	tallies := make(map[string]*tally)
	for i, trig := range events {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		seen := make(map[string]bool)
		for j := i + 1; j < len(events); j++ {
			cons := events[j]
			offset := cons.at.Sub(trig.at)
			if offset > d.cfg.MaxOffset {
				break
			}
			if offset <= 0 || cons.shape.EntityID == trig.shape.EntityID || seen[cons.key] {
				continue
			}
			seen[cons.key] = true

			pairKey := trig.key + "=>" + cons.key
			t, ok := tallies[pairKey]
			if !ok {
				t = &tally{trigger: trig.shape, consequent: cons.shape}
				tallies[pairKey] = t
			}
			t.support++
			t.offsetSum += offset
			t.hours = append(t.hours, trig.at.Hour())
		}
	}

	detectedAt := d.now().UTC()
	for _, t := range tallies {
		if t.support < d.cfg.MinSupport {
			continue
		}
		ts := triggerSupport[t.trigger.Key()]
		confidence := float64(t.support) / float64(ts)
		if confidence < d.cfg.MinConfidence {
			continue
		}
		res.Patterns = append(res.Patterns, Pattern{
			ID:             uuid.NewString(),
			Trigger:        t.trigger,
			Consequent:     t.consequent,
			Window:         hourBand(t.hours, d.cfg.WindowHours),
			Support:        t.support,
			TriggerSupport: ts,
			Confidence:     confidence,
			MeanOffset:     t.offsetSum / time.Duration(t.support),
			RunID:          res.RunID,
			DetectedAt:     detectedAt,
		})
	}

	sort.Slice(res.Patterns, func(i, j int) bool {
		a, b := res.Patterns[i], res.Patterns[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Support != b.Support {
			return a.Support > b.Support
		}
		if ak, bk := a.Trigger.Key(), b.Trigger.Key(); ak != bk {
			return ak < bk
		}
		return a.Consequent.Key() < b.Consequent.Key()
	})

	d.logger.Info("pattern detection finished",
		zap.String("run_id", res.RunID),
		zap.Int("transitions", res.Considered),
		zap.Int("patterns", len(res.Patterns)),
	)
	return res, nil
}

// events turns transitions into shape occurrences. Entities whose every
// state is numeric produce threshold crossings; all others produce "to"
// shapes.
func (d *Detector) events(trs []telemetry.StateTransition) []event {
	byEntity := make(map[string][]telemetry.StateTransition)
	for _, tr := range trs {
		byEntity[tr.EntityID] = append(byEntity[tr.EntityID], tr)
	}

	var out []event
	for id, list := range byEntity {
		values, numeric := numericValues(list)
		if numeric && len(values) < 2 {
			// One reading gives no threshold to cross.
			continue
		}
		if !numeric {
			for _, tr := range list {
				s := Shape{EntityID: id, Kind: ShapeTo, State: tr.To}
				out = append(out, event{shape: s, key: s.Key(), at: tr.At})
			}
			continue
		}

		threshold, ok := d.cfg.Thresholds[id]
		if !ok {
			threshold = roundTo(mean(values), 1)
		}
		for _, tr := range list {
			from, errFrom := strconv.ParseFloat(tr.From, 64)
			to, _ := strconv.ParseFloat(tr.To, 64)
			if errFrom != nil {
				continue
			}
			var s Shape
			switch {
			case from <= threshold && to > threshold:
				s = Shape{EntityID: id, Kind: ShapeAbove, Threshold: threshold}
			case from >= threshold && to < threshold:
				s = Shape{EntityID: id, Kind: ShapeBelow, Threshold: threshold}
			default:
				continue
			}
			out = append(out, event{shape: s, key: s.Key(), at: tr.At})
		}
	}
	return out
}

// malformed returns why a transition cannot be used, or "".
func malformed(tr telemetry.StateTransition) string {
	switch {
	case strings.TrimSpace(tr.EntityID) == "" || !strings.Contains(tr.EntityID, "."):
		return "invalid entity id"
	case tr.At.IsZero():
		return "missing timestamp"
	case tr.To == "" || tr.To == "unknown" || tr.To == "unavailable":
		return "no usable target state"
	case tr.From == tr.To:
		return "no state change"
	}
	return ""
}

func numericValues(list []telemetry.StateTransition) ([]float64, bool) {
	values := make([]float64, 0, len(list))
	for _, tr := range list {
		v, err := strconv.ParseFloat(tr.To, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// hourBand returns the hour window covering every occurrence when it is at
// most width hours wide.
func hourBand(hours []int, width int) *TimeWindow {
	if len(hours) == 0 {
		return nil
	}
	lo, hi := hours[0], hours[0]
	for _, h := range hours[1:] {
		lo = min(lo, h)
		hi = max(hi, h)
	}
	if hi-lo+1 > width {
		return nil
	}
	return &TimeWindow{StartHour: lo, EndHour: hi + 1}
}
