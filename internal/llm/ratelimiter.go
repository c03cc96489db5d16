package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimitedProvider spaces completions so that no more than rpm start in
// any minute. Up to rpm calls may burst before pacing begins.
type RateLimitedProvider struct {
	provider Provider
	rpm      float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
	now    func() time.Time
}

// NewRateLimitedProvider wraps provider. A non-positive rpm disables limiting
// and returns provider unchanged.
func NewRateLimitedProvider(provider Provider, rpm int) Provider {
	if rpm <= 0 {
		return provider
	}
	return &RateLimitedProvider{
		provider: provider,
		rpm:      float64(rpm),
		tokens:   float64(rpm),
		last:     time.Now(),
		now:      time.Now,
	}
}

func (r *RateLimitedProvider) Name() string { return r.provider.Name() }

func (r *RateLimitedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	for {
		delay := r.reserve()
		if delay == 0 {
			break
		}
		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
	}
	return r.provider.Complete(ctx, req)
}

// reserve takes a token and returns zero, or returns how long until one is
// available.
func (r *RateLimitedProvider) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.tokens = min(r.rpm, r.tokens+now.Sub(r.last).Minutes()*r.rpm)
	r.last = now

	if r.tokens >= 1 {
		r.tokens--
		return 0
	}
	wait := time.Duration((1 - r.tokens) / r.rpm * float64(time.Minute))
	return max(wait, time.Millisecond)
}
