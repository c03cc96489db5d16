package suggest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/automind/internal/entity"
	"github.com/ziadkadry99/automind/internal/patterns"
	"github.com/ziadkadry99/automind/internal/progress"
	"github.com/ziadkadry99/automind/internal/synergy"
	"github.com/ziadkadry99/automind/internal/telemetry"
)

// ErrPassRunning is returned when a detection pass is requested while
// another one is still in progress.
var ErrPassRunning = errors.New("a detection pass is already running")

// EntityLister lists the entities with history worth mining in a window.
type EntityLister interface {
	Entities(ctx context.Context, window telemetry.Window) ([]string, error)
}

// Pruner drops history older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Notifier is told about opportunities a run found that the previous run
// did not.
type Notifier interface {
	NewOpportunities(ctx context.Context, runID string, ops []synergy.Opportunity) error
}

// PassConfig configures a detection pass.
type PassConfig struct {
	// HistoryWindow is how far back each pass looks.
	HistoryWindow time.Duration
	// MaxConcurrency bounds concurrent history fetches.
	MaxConcurrency int
	// KeepRuns is how many stored runs survive pruning.
	KeepRuns int
	// Retention, when positive and the history supports it, prunes older
	// transitions after each pass.
	Retention time.Duration
	Filter    *entity.Filter
	// Notifier, when set, receives the opportunities new in each run.
	Notifier Notifier
}

// Pass runs detection: fetch history, mine patterns, rank synergies, store
// the run. At most one pass runs at a time.
type Pass struct {
	history  telemetry.History
	lister   EntityLister
	resolver *entity.Resolver
	patterns *patterns.Detector
	synergy  *synergy.Detector
	store    *Store
	cfg      PassConfig
	logger   *zap.Logger
	now      func() time.Time

	running sync.Mutex
}

// NewPass creates a detection pass.
func NewPass(history telemetry.History, lister EntityLister, resolver *entity.Resolver, pd *patterns.Detector, sd *synergy.Detector, store *Store, cfg PassConfig, logger *zap.Logger) *Pass {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 7 * 24 * time.Hour
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.KeepRuns <= 0 {
		cfg.KeepRuns = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pass{
		history:  history,
		lister:   lister,
		resolver: resolver,
		patterns: pd,
		synergy:  sd,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Run performs one pass and returns the stored run. rep may be nil.
func (p *Pass) Run(ctx context.Context, rep progress.Reporter) (*Run, error) {
	if !p.running.TryLock() {
		return nil, ErrPassRunning
	}
	defer p.running.Unlock()
	rep = progress.OrNop(rep)

	started := p.now()
	window := telemetry.LastWindow(started, p.cfg.HistoryWindow)

	ids, err := p.lister.Entities(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	ids = p.allowed(ids)
	p.logger.Info("detection pass started",
		zap.Int("entities", len(ids)),
		zap.Time("window_start", window.Start),
	)

	histories, err := p.fetch(ctx, ids, window, rep)
	if err != nil {
		return nil, err
	}
	var transitions []telemetry.StateTransition
	for _, h := range histories {
		transitions = append(transitions, h...)
	}

	res, err := p.patterns.Detect(ctx, transitions)
	if err != nil {
		return nil, fmt.Errorf("detecting patterns: %w", err)
	}

	cache := entity.NewCache()
	if err := p.resolver.Load(ctx, cache); err != nil {
		return nil, fmt.Errorf("loading entity view: %w", err)
	}
	ops, err := p.synergy.Detect(ctx, res.Patterns, cache.Entities())
	if err != nil {
		return nil, fmt.Errorf("detecting synergies: %w", err)
	}

	run := Run{
		ID:              res.RunID,
		StartedAt:       started,
		FinishedAt:      p.now(),
		WindowStart:     window.Start,
		WindowEnd:       window.End,
		EntityCount:     len(ids),
		TransitionCount: res.Considered,
		SkippedCount:    res.Skipped,
		Patterns:        res.Patterns,
		Opportunities:   ops,
	}
	previous, err := p.store.LatestRun(ctx)
	if err != nil {
		p.logger.Warn("loading previous detection run", zap.Error(err))
	}
	if err := p.store.SaveRun(ctx, run); err != nil {
		return nil, err
	}
	p.notify(ctx, previous, &run)
	if n, err := p.store.PruneRuns(ctx, p.cfg.KeepRuns); err != nil {
		p.logger.Warn("pruning detection runs", zap.Error(err))
	} else if n > 0 {
		p.logger.Debug("pruned detection runs", zap.Int64("count", n))
	}
	p.prune(ctx, started)

	p.logger.Info("detection pass finished",
		zap.String("run_id", run.ID),
		zap.Int("patterns", len(run.Patterns)),
		zap.Int("opportunities", len(run.Opportunities)),
		zap.Int("skipped", run.SkippedCount),
		zap.Duration("took", run.FinishedAt.Sub(started)),
	)
	return &run, nil
}

// fetch loads each entity's history concurrently. An entity whose history
// cannot be read is logged and left out; only cancellation aborts the pass.
func (p *Pass) fetch(ctx context.Context, ids []string, window telemetry.Window, rep progress.Reporter) ([][]telemetry.StateTransition, error) {
	rep.Start(len(ids))
	defer rep.Finish()

	histories := make([][]telemetry.StateTransition, len(ids))
	var done, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			trs, err := p.history.GetStateHistory(gctx, id, window)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				p.logger.Warn("skipping entity history", zap.String("entity_id", id), zap.Error(err))
			} else {
				histories[i] = trs
			}
			rep.Update(int(done.Add(1)), id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if n := failed.Load(); n > 0 {
		p.logger.Warn("history unavailable for some entities", zap.Int64("entities", n))
	}
	return histories, nil
}

func (p *Pass) allowed(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] || !p.cfg.Filter.Allowed(id) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *Pass) prune(ctx context.Context, now time.Time) {
	pr, ok := p.history.(Pruner)
	if !ok || p.cfg.Retention <= 0 {
		return
	}
	n, err := pr.Prune(ctx, now.Add(-p.cfg.Retention))
	if err != nil {
		p.logger.Warn("pruning state history", zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Debug("pruned state history", zap.Int64("transitions", n))
	}
}

func (p *Pass) notify(ctx context.Context, previous, run *Run) {
	if p.cfg.Notifier == nil {
		return
	}
	fresh := NewOpportunities(previous, run)
	if len(fresh) == 0 {
		return
	}
	if err := p.cfg.Notifier.NewOpportunities(ctx, run.ID, fresh); err != nil {
		p.logger.Warn("notifying new opportunities", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// NewOpportunities returns the opportunities of run absent from previous.
// Opportunity ids are stable across runs. A nil previous makes every
// opportunity new.
func NewOpportunities(previous, run *Run) []synergy.Opportunity {
	seen := make(map[string]bool)
	if previous != nil {
		for _, op := range previous.Opportunities {
			seen[op.ID] = true
		}
	}
	var out []synergy.Opportunity
	for _, op := range run.Opportunities {
		if !seen[op.ID] {
			out = append(out, op)
		}
	}
	return out
}

// Latest returns the most recent stored run, or nil.
func (p *Pass) Latest(ctx context.Context) (*Run, error) {
	return p.store.LatestRun(ctx)
}

// ViewLister lists every entity in the resolver's view. It serves sources
// such as the Home Assistant history API that cannot enumerate entities
// themselves.
type ViewLister struct {
	Resolver *entity.Resolver
}

// Entities returns the ids of the current entity view.
func (l ViewLister) Entities(ctx context.Context, _ telemetry.Window) ([]string, error) {
	cache := entity.NewCache()
	if err := l.Resolver.Load(ctx, cache); err != nil {
		return nil, err
	}
	view := cache.Entities()
	ids := make([]string, len(view))
	for i, e := range view {
		ids[i] = e.ID
	}
	return ids, nil
}
