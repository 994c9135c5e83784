// Package embedding batches texts through an embedding provider with bounded
// concurrency and retry of transient failures.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Provider embeds a batch of texts. The result has one vector per input, in order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// ProviderError is the normalized failure of a provider call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports rate limiting, server-side failures and transport errors.
func (e *ProviderError) Temporary() bool {
	if e.StatusCode == 429 || e.StatusCode == 408 || e.StatusCode >= 500 {
		return true
	}
	if e.StatusCode == 0 && e.Err != nil {
		return IsTransient(e.Err)
	}
	return false
}

type temporary interface {
	Temporary() bool
}

// IsTransient reports whether a retry of the failed call may succeed.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
