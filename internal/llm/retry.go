package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// RetryingProvider retries failed completions a bounded number of times with
// exponential backoff. Each attempt runs under its own timeout.
type RetryingProvider struct {
	provider       Provider
	maxRetries     int
	initialBackoff time.Duration
	timeout        time.Duration
	logger         *zap.Logger

	// sleep waits for d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryingProvider wraps provider so that every call is attempted at most
// maxRetries+1 times. A zero timeout leaves attempts bounded only by ctx.
func NewRetryingProvider(provider Provider, maxRetries int, initialBackoff, timeout time.Duration, logger *zap.Logger) *RetryingProvider {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingProvider{
		provider:       provider,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		timeout:        timeout,
		logger:         logger,
		sleep:          sleepContext,
	}
}

func (r *RetryingProvider) Name() string {
	return r.provider.Name()
}

func (r *RetryingProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	backoff := r.initialBackoff
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Warn("retrying completion",
				zap.String("provider", r.provider.Name()),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			if err := r.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		resp, err := r.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		// The caller gave up.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = classify(r.provider.Name(), err)
		if !retryable(lastErr) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (r *RetryingProvider) attempt(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if r.timeout <= 0 {
		return r.provider.Complete(ctx, req)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.provider.Complete(attemptCtx, req)
}

func retryable(err error) bool {
	return errors.Is(err, ErrProvider) || errors.Is(err, ErrProviderTimeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
