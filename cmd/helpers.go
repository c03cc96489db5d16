package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/automind/internal/automation"
	"github.com/ziadkadry99/automind/internal/clarify"
	"github.com/ziadkadry99/automind/internal/config"
	"github.com/ziadkadry99/automind/internal/db"
	"github.com/ziadkadry99/automind/internal/embeddings"
	"github.com/ziadkadry99/automind/internal/entity"
	"github.com/ziadkadry99/automind/internal/intent"
	"github.com/ziadkadry99/automind/internal/llm"
	"github.com/ziadkadry99/automind/internal/logging"
	"github.com/ziadkadry99/automind/internal/notifications"
	"github.com/ziadkadry99/automind/internal/patterns"
	"github.com/ziadkadry99/automind/internal/progress"
	"github.com/ziadkadry99/automind/internal/registry"
	"github.com/ziadkadry99/automind/internal/suggest"
	"github.com/ziadkadry99/automind/internal/synergy"
	"github.com/ziadkadry99/automind/internal/telemetry"
	"github.com/ziadkadry99/automind/internal/vectordb"
)

// app holds the components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *db.DB
	registry registry.Registry
	resolver *entity.Resolver
	history  *telemetry.Store
	index    vectordb.VectorStore // nil without an embedding provider
}

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `automind init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

// openApp loads the config and opens the database, registry, resolver and
// optional entity index. The caller must call close.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(verbose)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(filepath.Join(cfg.DataDir, "automind.db"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	reg, err := createRegistryFromConfig(cfg, logger)
	if err != nil {
		database.Close()
		return nil, err
	}
	filter, err := entity.NewFilter(cfg.Entities.Include, cfg.Entities.Exclude)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("entity filter: %w", err)
	}

	opts := []entity.Option{entity.WithFilter(filter), entity.WithLogger(logger)}
	if states, ok := reg.(registry.StateReader); ok {
		opts = append(opts, entity.WithStates(states))
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       database,
		registry: reg,
		history:  telemetry.NewStore(database),
	}

	index, err := a.openIndex(ctx, entity.NewResolver(reg, opts...))
	if err != nil {
		// Semantic matching is optional; lexical resolution still works.
		logger.Warn("entity index unavailable", zap.Error(err))
	} else if index != nil {
		a.index = index
		opts = append(opts, entity.WithIndex(index, 0.75))
	}
	a.resolver = entity.NewResolver(reg, opts...)
	return a, nil
}

func (a *app) close() {
	a.db.Close()
	a.logger.Sync()
}

// createRegistryFromConfig returns the static fixture registry when one is
// configured, otherwise the live Home Assistant websocket client.
func createRegistryFromConfig(cfg *config.Config, logger *zap.Logger) (registry.Registry, error) {
	if cfg.HomeAssistant.RegistryFile != "" {
		reg, err := registry.LoadStatic(cfg.HomeAssistant.RegistryFile)
		if err != nil {
			return nil, fmt.Errorf("loading registry fixture: %w", err)
		}
		return reg, nil
	}
	if cfg.HomeAssistant.Token == "" {
		return nil, errors.New("HASS_TOKEN is required to reach Home Assistant")
	}
	reg, err := registry.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
	if err != nil {
		return nil, fmt.Errorf("creating registry client: %w", err)
	}
	return reg, nil
}

// openIndex loads the persisted entity index, building it from the registry
// when it is missing. It returns nil without an embedding provider.
func (a *app) openIndex(ctx context.Context, resolver *entity.Resolver) (vectordb.VectorStore, error) {
	if a.cfg.EmbeddingProvider == "" {
		return nil, nil
	}
	embedder, err := embeddings.NewEmbedder(string(a.cfg.EmbeddingProvider), a.cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	store, err := vectordb.NewChromemStore(embedder)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	dir := filepath.Join(a.cfg.DataDir, "vectordb")
	if err := store.Load(ctx, dir); err == nil && store.Count() > 0 {
		return store, nil
	}

	n, err := entity.BuildIndex(ctx, resolver, entity.NewCache(), store)
	if err != nil {
		return nil, err
	}
	if err := store.Persist(ctx, dir); err != nil {
		a.logger.Warn("persisting entity index", zap.Error(err))
	}
	a.logger.Info("entity index built", zap.Int("entities", n), zap.String("dir", dir))
	return store, nil
}

// createLLMProviderFromConfig builds the completion provider chain. It
// returns nil when LLM-assisted parsing is disabled.
func createLLMProviderFromConfig(cfg *config.Config, logger *zap.Logger) (llm.Provider, error) {
	if cfg.Provider == config.ProviderNone {
		return nil, nil
	}
	provider, err := llm.NewProvider(string(cfg.Provider), cfg.Model)
	if err != nil {
		return nil, err
	}
	provider = llm.NewRateLimitedProvider(provider, cfg.RateLimitRPM)
	return llm.NewRetryingProvider(provider, cfg.Retry.MaxRetries, cfg.Retry.InitialBackoff, cfg.Retry.Timeout, logger), nil
}

// newEngine wires the request path. With submit set, generated automations
// are deployed to Home Assistant.
func (a *app) newEngine(submit bool) (*suggest.Engine, error) {
	provider, err := createLLMProviderFromConfig(a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	var opts []suggest.EngineOption
	if submit {
		opts = append(opts, suggest.WithSubmitter(automation.NewHASubmitter(a.cfg.HomeAssistant.URL, a.cfg.HomeAssistant.Token)))
	}
	return suggest.NewEngine(
		intent.NewParser(provider, a.cfg.Model, a.logger),
		a.resolver,
		automation.NewGenerator(a.resolver, a.logger),
		clarify.NewManager(a.cfg.Clarification.SessionTimeout, a.cfg.Clarification.SweepInterval, a.logger),
		suggest.NewStore(a.db),
		a.logger,
		opts...,
	), nil
}

// newPass wires a detection pass over the local transition store.
func (a *app) newPass() *suggest.Pass {
	pc := a.cfg.Patterns
	sc := a.cfg.Synergy
	pd := patterns.NewDetector(patterns.Config{
		MinSupport:    pc.MinSupport,
		MinConfidence: pc.MinConfidence,
		MaxOffset:     pc.MaxOffset,
	}, a.logger)
	sd := synergy.NewDetector(synergy.Config{
		MinConfidence: sc.MinConfidence,
		Defaults: synergy.DefaultPolicy{
			WithArea:    sc.DefaultConfidenceWithArea,
			WithoutArea: sc.DefaultConfidenceWithoutArea,
		},
		FrequencyWeight: sc.FrequencyWeight,
		EntityWeight:    sc.EntityWeight,
		BenefitWeight:   sc.BenefitWeight,
		TimingWeight:    sc.TimingWeight,
		DiversityWeight: sc.DiversityWeight,
		Limit:           sc.Limit,
		HistoryDays:     pc.HistoryWindow.Hours() / 24,
		MaxOffset:       pc.MaxOffset,
	}, a.logger)

	filter, _ := entity.NewFilter(a.cfg.Entities.Include, a.cfg.Entities.Exclude)
	passCfg := suggest.PassConfig{
		HistoryWindow:  pc.HistoryWindow,
		MaxConcurrency: a.cfg.MaxConcurrency,
		Retention:      2 * pc.HistoryWindow,
		Filter:         filter,
	}
	if nc := a.cfg.Notifications; len(nc.Webhooks) > 0 {
		passCfg.Notifier = notifications.NewDispatcher(nc.Webhooks, nc.MinConfidence, a.logger)
	}
	return suggest.NewPass(a.history, a.history, a.resolver, pd, sd, suggest.NewStore(a.db), passCfg, a.logger)
}

// backfill copies the Home Assistant recorder history of every entity in the
// resolver view into the local store.
func (a *app) backfill(ctx context.Context, rep progress.Reporter) (int, error) {
	rep = progress.OrNop(rep)
	ids, err := suggest.ViewLister{Resolver: a.resolver}.Entities(ctx, telemetry.Window{})
	if err != nil {
		return 0, fmt.Errorf("listing entities: %w", err)
	}
	src := telemetry.NewHAHistory(a.cfg.HomeAssistant.URL, a.cfg.HomeAssistant.Token)
	window := telemetry.LastWindow(time.Now(), a.cfg.Patterns.HistoryWindow)

	rep.Start(len(ids))
	total := 0
	for i, id := range ids {
		n, err := telemetry.Backfill(ctx, src, a.history, []string{id}, window)
		total += n
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			a.logger.Warn("backfill failed", zap.String("entity_id", id), zap.Error(err))
		}
		rep.Update(i+1, id)
	}
	rep.Finish()
	return total, nil
}

// stderrf prints a status line to stderr, keeping stdout for results.
func stderrf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
