package synergy

import (
	"context"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ziadkadry99/automind/internal/entity"
	"github.com/ziadkadry99/automind/internal/patterns"
	"github.com/ziadkadry99/automind/internal/registry"
)

// Config holds scoring weights and thresholds.
type Config struct {
	MinConfidence   float64
	Defaults        DefaultPolicy
	FrequencyWeight float64
	EntityWeight    float64
	BenefitWeight   float64
	TimingWeight    float64
	DiversityWeight float64
	// Limit caps the ranked list; zero means no cap.
	Limit int
	// HistoryDays is the length of the mined history, used to turn support
	// counts into per-day frequencies.
	HistoryDays float64
	// MaxOffset is the pattern detector's offset bound, used to normalise timing.
	MaxOffset time.Duration
}

// Detector builds and ranks synergy opportunities.
type Detector struct {
	cfg    Config
	logger *zap.Logger
}

// NewDetector creates a synergy detector.
func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 1
	}
	if cfg.MaxOffset <= 0 {
		cfg.MaxOffset = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{cfg: cfg, logger: logger}
}

// Detect runs Candidates and Rank over one pattern set.
func (d *Detector) Detect(ctx context.Context, ps []patterns.Pattern, view []entity.Entity) ([]Opportunity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Rank(d.Candidates(ps, view), view), nil
}

// Candidates groups patterns into joint candidates: patterns sharing a
// trigger form a behavioural group, and patterns whose consequents share an
// area form an area group. Area groups carry no confidence of their own.
func (d *Detector) Candidates(ps []patterns.Pattern, view []entity.Entity) []Candidate {
	byID := indexView(view)

	var out []Candidate

	byTrigger := make(map[string][]patterns.Pattern)
	for _, p := range ps {
		if p.Consequent.Kind != patterns.ShapeTo {
			continue
		}
		k := p.Trigger.Key()
		byTrigger[k] = append(byTrigger[k], p)
	}
	for _, k := range sortedKeys(byTrigger) {
		group := dedupeConsequents(byTrigger[k])
		if len(group) < 2 {
			continue
		}
		c, ok := d.fromGroup(group, byID)
		if !ok {
			continue
		}
		var confSum float64
		for _, p := range group {
			confSum += p.Confidence
		}
		conf := confSum / float64(len(group))
		c.Confidence = &conf
		c.Source = SourceCorrelation
		c.TimingCorrelation = d.timing(group)
		out = append(out, c)
	}

	byArea := make(map[string][]patterns.Pattern)
	for _, p := range ps {
		if p.Consequent.Kind != patterns.ShapeTo {
			continue
		}
		area := byID[p.Consequent.EntityID].AreaID
		if area == "" {
			continue
		}
		byArea[area] = append(byArea[area], p)
	}
	for _, area := range sortedKeys(byArea) {
		group := dedupeConsequents(byArea[area])
		if len(group) < 2 || sharesTrigger(group) {
			// Single-trigger groups are already covered above.
			continue
		}
		// The most frequent trigger drives the area scene.
		sort.SliceStable(group, func(i, j int) bool { return group[i].Support > group[j].Support })
		lead := group[0]
		// An action on the lead trigger's own entity would retrigger the
		// automation.
		group = slices.DeleteFunc(group, func(p patterns.Pattern) bool {
			return p.Consequent.EntityID == lead.Trigger.EntityID
		})
		if len(group) < 2 {
			continue
		}
		c, ok := d.fromGroup(group, byID)
		if !ok {
			continue
		}
		trig := lead.Trigger
		c.Trigger = &trig
		c.AreaID = area
		c.Source = SourceArea
		c.TimingCorrelation = windowOverlap(group)
		out = append(out, c)
	}
	return out
}

// fromGroup builds the shared parts of a candidate. It fails when fewer than
// two entities would be involved or no consequent maps to a service.
func (d *Detector) fromGroup(group []patterns.Pattern, byID map[string]entity.Entity) (Candidate, bool) {
	trig := group[0].Trigger
	c := Candidate{Trigger: &trig}

	seen := map[string]bool{}
	addEntity := func(id string) {
		if !seen[id] {
			seen[id] = true
			c.Entities = append(c.Entities, id)
		}
	}
	addEntity(trig.EntityID)

	minSupport := math.MaxInt
	for _, p := range group {
		if p.Consequent.EntityID == trig.EntityID {
			continue
		}
		domain := registry.Domain(p.Consequent.EntityID)
		service := registry.ServiceForState(domain, p.Consequent.State)
		if service == "" {
			continue
		}
		if e, ok := byID[p.Consequent.EntityID]; ok && len(e.Capabilities) > 0 && !e.Supports(service) {
			continue
		}
		c.Actions = append(c.Actions, Action{EntityID: p.Consequent.EntityID, Service: service})
		addEntity(p.Consequent.EntityID)
		minSupport = min(minSupport, p.Support)
	}
	if len(c.Actions) == 0 || len(c.Entities) < 2 {
		return Candidate{}, false
	}
	c.Frequency = float64(minSupport) / d.cfg.HistoryDays
	c.AreaID = commonArea(c.Entities, byID)
	return c, true
}

// Rank scores candidates, assigns missing confidences, filters by the
// minimum confidence and orders the result. Inputs are not modified.
func (d *Detector) Rank(cands []Candidate, view []entity.Entity) []Opportunity {
	byID := indexView(view)
	ops := make([]Opportunity, 0, len(cands))
	for _, c := range cands {
		op, ok := d.score(c, byID)
		if !ok {
			continue
		}
		ops = append(ops, op)
	}

	ranked := FilterByConfidence(ops, d.cfg.MinConfidence)
	SortOpportunities(ranked)
	if d.cfg.Limit > 0 && len(ranked) > d.cfg.Limit {
		ranked = ranked[:d.cfg.Limit]
	}
	d.logger.Debug("ranked synergy opportunities",
		zap.Int("candidates", len(cands)),
		zap.Int("ranked", len(ranked)),
	)
	return ranked
}

func (d *Detector) score(c Candidate, byID map[string]entity.Entity) (Opportunity, bool) {
	entities := uniqueStrings(c.Entities)
	if len(entities) < 2 {
		d.logger.Warn("dropping candidate with fewer than two entities", zap.Strings("entities", c.Entities))
		return Opportunity{}, false
	}

	conf, defaulted := ConfidenceOf(c, d.cfg.Defaults)
	if defaulted {
		d.logger.Debug("candidate confidence defaulted",
			zap.Strings("entities", entities),
			zap.String("area_id", c.AreaID),
			zap.Float64("confidence", conf),
		)
	}

	actions := append([]Action(nil), c.Actions...)
	var capabilities []string
	for _, a := range actions {
		capabilities = append(capabilities, a.Service)
	}
	capabilities = uniqueStrings(capabilities)
	sort.Strings(capabilities)

	freq := sanitize(c.Frequency)
	timing := clamp01(c.TimingCorrelation)
	baseline := d.cfg.FrequencyWeight*(freq/(1+freq)) +
		d.cfg.EntityWeight*(math.Min(float64(len(entities)), 5)/5) +
		d.cfg.BenefitWeight*benefit(actions)
	advanced := baseline * (1 + d.cfg.TimingWeight*timing + d.cfg.DiversityWeight*diversity(entities))

	var trig *patterns.Shape
	if c.Trigger != nil {
		t := *c.Trigger
		trig = &t
	}

	source := c.Source
	if source == "" {
		source = SourceExternal
	}

	op := Opportunity{
		ID:                  opportunityID(entities, trig, actions),
		Entities:            entities,
		AreaID:              c.AreaID,
		Trigger:             trig,
		Actions:             actions,
		Capabilities:        capabilities,
		Frequency:           freq,
		TimingCorrelation:   timing,
		ImpactScore:         baseline,
		AdvancedImpactScore: advanced,
		Confidence:          conf,
		ConfidenceDefaulted: defaulted,
		Source:              source,
	}
	if err := op.Validate(); err != nil {
		d.logger.Warn("dropping invalid opportunity", zap.Error(err))
		return Opportunity{}, false
	}
	return op, true
}

// SortOpportunities orders by advanced impact, then confidence, then entity
// count (all descending), then id.
func SortOpportunities(ops []Opportunity) {
	sort.SliceStable(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		if a.AdvancedImpactScore != b.AdvancedImpactScore {
			return a.AdvancedImpactScore > b.AdvancedImpactScore
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if len(a.Entities) != len(b.Entities) {
			return len(a.Entities) > len(b.Entities)
		}
		return a.ID < b.ID
	})
}

// domainBenefit estimates how much users gain from automating a domain.
var domainBenefit = map[string]float64{
	"climate":      1.0,
	"lock":         0.9,
	"cover":        0.8,
	"light":        0.6,
	"switch":       0.6,
	"fan":          0.6,
	"water_heater": 0.8,
	"media_player": 0.5,
	"vacuum":       0.7,
}

func benefit(actions []Action) float64 {
	if len(actions) == 0 {
		return 0
	}
	var sum float64
	for _, a := range actions {
		b, ok := domainBenefit[registry.Domain(a.EntityID)]
		if !ok {
			b = 0.4
		}
		sum += b
	}
	return sum / float64(len(actions))
}

// diversity is the share of distinct domains among the entities.
func diversity(entities []string) float64 {
	domains := map[string]bool{}
	for _, id := range entities {
		domains[registry.Domain(id)] = true
	}
	return float64(len(domains)) / float64(len(entities))
}

// timing scores how soon consequents follow the trigger: 1 for immediate,
// 0 at the detector's offset bound.
func (d *Detector) timing(group []patterns.Pattern) float64 {
	var sum time.Duration
	for _, p := range group {
		sum += p.MeanOffset
	}
	avg := sum / time.Duration(len(group))
	return clamp01(1 - float64(avg)/float64(d.cfg.MaxOffset))
}

// windowOverlap is the share of pattern pairs whose time windows overlap.
func windowOverlap(group []patterns.Pattern) float64 {
	pairs, overlapping := 0, 0
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			pairs++
			a, b := group[i].Window, group[j].Window
			if a != nil && b != nil && a.StartHour < b.EndHour && b.StartHour < a.EndHour {
				overlapping++
			}
		}
	}
	if pairs == 0 {
		return 0
	}
	return float64(overlapping) / float64(pairs)
}

var opportunityNamespace = uuid.MustParse("6f1c2a0e-4a4b-4c55-9a35-3b7f0d1e9c21")

// opportunityID is stable for the same entities, trigger and actions.
func opportunityID(entities []string, trig *patterns.Shape, actions []Action) string {
	parts := append([]string(nil), entities...)
	sort.Strings(parts)
	key := strings.Join(parts, ",")
	if trig != nil {
		key += "|" + trig.Key()
	}
	for _, a := range actions {
		key += "|" + a.EntityID + ":" + a.Service
	}
	return uuid.NewSHA1(opportunityNamespace, []byte(key)).String()
}

func indexView(view []entity.Entity) map[string]entity.Entity {
	m := make(map[string]entity.Entity, len(view))
	for _, e := range view {
		m[e.ID] = e
	}
	return m
}

func commonArea(ids []string, byID map[string]entity.Entity) string {
	area := ""
	for _, id := range ids {
		a := byID[id].AreaID
		if a == "" {
			return ""
		}
		if area == "" {
			area = a
		} else if a != area {
			return ""
		}
	}
	return area
}

// dedupeConsequents keeps the strongest pattern per consequent entity.
func dedupeConsequents(group []patterns.Pattern) []patterns.Pattern {
	best := map[string]patterns.Pattern{}
	var order []string
	for _, p := range group {
		id := p.Consequent.EntityID
		cur, ok := best[id]
		if !ok {
			order = append(order, id)
			best[id] = p
			continue
		}
		if p.Confidence > cur.Confidence || (p.Confidence == cur.Confidence && p.Support > cur.Support) {
			best[id] = p
		}
	}
	sort.Strings(order)
	out := make([]patterns.Pattern, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}

func sharesTrigger(group []patterns.Pattern) bool {
	for _, p := range group[1:] {
		if p.Trigger.Key() != group[0].Trigger.Key() {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
