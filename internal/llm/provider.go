package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Provider is the completion capability consumed by request parsing:
// given a prompt, return a natural-language or JSON completion.
type Provider interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Name returns the name of this provider.
	Name() string
}

var (
	// ErrProvider marks a failed completion call.
	ErrProvider = errors.New("completion provider error")
	// ErrProviderTimeout marks a completion call that ran out of time.
	ErrProviderTimeout = errors.New("completion provider timeout")
)

// classify wraps err so that it matches ErrProvider or ErrProviderTimeout.
// Caller cancellation is returned unchanged.
func classify(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProvider) || errors.Is(err, ErrProviderTimeout) || errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %v", name, ErrProviderTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", name, ErrProvider, err)
}
