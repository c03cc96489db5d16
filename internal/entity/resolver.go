package entity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/ziadkadry99/automind/internal/registry"
	"github.com/ziadkadry99/automind/internal/vectordb"
)

// Resolver maps entity references to canonical entities using the registry,
// the live-state view and, optionally, a semantic index.
type Resolver struct {
	reg           registry.Registry
	states        registry.StateReader
	filter        *Filter
	index         vectordb.VectorStore
	minSimilarity float32
	logger        *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStates supplies the live-state view used for legacy names.
func WithStates(s registry.StateReader) Option {
	return func(r *Resolver) { r.states = s }
}

// WithFilter hides entities rejected by f.
func WithFilter(f *Filter) Option {
	return func(r *Resolver) { r.filter = f }
}

// WithIndex enables semantic matching for mentions with no lexical match.
func WithIndex(index vectordb.VectorStore, minSimilarity float32) Option {
	return func(r *Resolver) {
		r.index = index
		r.minSimilarity = minSimilarity
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver over reg.
func NewResolver(reg registry.Registry, opts ...Option) *Resolver {
	r := &Resolver{reg: reg, logger: zap.NewNop(), minSimilarity: 0.75}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load fills cache from the registry if it is not loaded yet. Registry
// failures degrade to the live-state view and never fail the load.
func (r *Resolver) Load(ctx context.Context, cache *Cache) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.loaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var entries map[string]registry.Entry
	if r.reg != nil {
		var err error
		entries, err = r.reg.GetEntityRegistry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cache.registryDown = true
			r.logger.Warn("entity registry unavailable, falling back to state names", zap.Error(err))
		}
	} else {
		cache.registryDown = true
	}

	states := map[string]registry.State{}
	if r.states != nil {
		list, err := r.states.GetStates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cache.statesDown = true
			r.logger.Warn("state view unavailable", zap.Error(err))
		}
		for _, s := range list {
			states[s.EntityID] = s
		}
	} else {
		cache.statesDown = true
	}

	view := make(map[string]Entity, len(entries)+len(states))
	for id, entry := range entries {
		if entry.DisabledBy != "" || !r.filter.Allowed(id) {
			continue
		}
		var st *registry.State
		if s, ok := states[id]; ok {
			st = &s
		}
		view[id] = build(id, &entry, st)
	}
	for id, s := range states {
		if _, ok := view[id]; ok {
			continue
		}
		if _, registered := entries[id]; registered || !r.filter.Allowed(id) {
			continue
		}
		view[id] = build(id, nil, &s)
	}

	cache.view = view
	cache.loaded = true
	cache.loads++
	r.logger.Debug("entity view loaded",
		zap.Int("entities", len(view)),
		zap.Bool("registry_down", cache.registryDown),
	)
	return nil
}

// Resolve returns the canonical entity for ref, which may be an entity id or
// a natural-language mention.
func (r *Resolver) Resolve(ctx context.Context, cache *Cache, ref string) (*Entity, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty reference: %w", ErrEntityNotFound)
	}
	if err := r.Load(ctx, cache); err != nil {
		return nil, err
	}

	if looksLikeID(ref) {
		id := strings.ToLower(ref)
		if e, ok := cache.Get(id); ok {
			return &e, nil
		}
		// With neither the registry nor the state view reachable the id
		// itself is the only source of truth left.
		cache.mu.Lock()
		blind := cache.registryDown && cache.statesDown
		cache.mu.Unlock()
		if blind && r.filter.Allowed(id) {
			e := cache.remember(build(id, nil, nil))
			r.logger.Warn("resolved entity from id only", zap.String("entity_id", id))
			return &e, nil
		}
		return nil, fmt.Errorf("%s: %w", ref, ErrEntityNotFound)
	}

	matches, err := r.Match(ctx, cache, ref)
	if err != nil {
		return nil, err
	}
	if len(matches) > 1 {
		return nil, &AmbiguousReferenceError{Mention: ref, Candidates: matches}
	}
	return &matches[0], nil
}

// Match returns every entity a loose mention could refer to, sorted by id.
// It fails with ErrEntityNotFound when nothing matches.
func (r *Resolver) Match(ctx context.Context, cache *Cache, mention string) ([]Entity, error) {
	if err := r.Load(ctx, cache); err != nil {
		return nil, err
	}
	view := cache.Entities()

	if looksLikeID(mention) {
		if e, ok := cache.Get(strings.ToLower(mention)); ok {
			return []Entity{e}, nil
		}
	}

	tokens := tokenize(mention)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%q: %w", mention, ErrEntityNotFound)
	}
	norm := strings.Join(tokens, " ")

	var exact, partial []Entity
	for _, e := range view {
		switch matchQuality(e, norm, tokens) {
		case matchExact:
			exact = append(exact, e)
		case matchPartial:
			partial = append(partial, e)
		}
	}
	if len(exact) > 0 {
		return exact, nil
	}
	if len(partial) > 0 {
		return partial, nil
	}

	if r.index != nil {
		found, err := r.semantic(ctx, cache, mention)
		if err != nil {
			r.logger.Warn("semantic entity search failed", zap.String("mention", mention), zap.Error(err))
		} else if len(found) > 0 {
			return found, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", mention, ErrEntityNotFound)
}

func (r *Resolver) semantic(ctx context.Context, cache *Cache, mention string) ([]Entity, error) {
	results, err := r.index.Search(ctx, mention, 3, nil)
	if err != nil {
		return nil, err
	}
	var out []Entity
	for _, res := range results {
		if res.Similarity < r.minSimilarity {
			continue
		}
		if e, ok := cache.Get(res.Document.ID); ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IsNotFound reports whether err means the reference matched nothing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

type quality int

const (
	matchNone quality = iota
	matchPartial
	matchExact
)

var stopWords = map[string]bool{"the": true, "my": true, "a": true, "an": true, "all": true, "in": true, "of": true}

// domainWords maps words users say to the domain they usually mean.
var domainWords = map[string]string{
	"light": "light", "lights": "light", "lamp": "light", "lamps": "light", "bulb": "light",
	"switch": "switch", "plug": "switch", "outlet": "switch",
	"fan":   "fan",
	"blind": "cover", "blinds": "cover", "shade": "cover", "shades": "cover", "curtain": "cover", "garage": "cover",
	"lock": "lock", "door": "lock",
	"thermostat": "climate", "heating": "climate", "ac": "climate",
	"sensor": "sensor", "motion": "binary_sensor",
	"tv": "media_player", "speaker": "media_player",
	"scene": "scene", "script": "script",
}

func matchQuality(e Entity, norm string, tokens []string) quality {
	best := matchNone
	for _, alias := range e.Aliases {
		aliasTokens := tokenize(alias)
		if strings.Join(aliasTokens, " ") == norm {
			return matchExact
		}
		if containsAll(aliasTokens, tokens, e.Domain) {
			best = matchPartial
		}
	}
	return best
}

// containsAll reports whether every mention token appears in the alias, or
// names the entity's domain.
func containsAll(aliasTokens, tokens []string, domain string) bool {
	set := make(map[string]bool, len(aliasTokens))
	for _, t := range aliasTokens {
		set[t] = true
	}
	named := false
	for _, t := range tokens {
		if set[t] {
			named = true
			continue
		}
		if d, ok := domainWords[t]; ok && d == domain {
			continue
		}
		return false
	}
	return named
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

func looksLikeID(ref string) bool {
	domain, object, ok := strings.Cut(ref, ".")
	if !ok || domain == "" || object == "" {
		return false
	}
	return !strings.ContainsAny(ref, " \t")
}
