// Package provider abstracts the external transcription backends that turn
// a batch of scanned pages into structured log entries.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/domain"
)

// ErrUnknownProvider is returned when a submission names an unregistered
// provider identifier.
var ErrUnknownProvider = errors.New("unknown transcription provider")

// Result is one batch's transcription output.
type Result struct {
	// Entries are the log entries recognized in the batch, page order.
	Entries []domain.LogEntry
	// Truncated means the backend cut the response short at a length
	// ceiling. Not an error; the pipeline surfaces it as a warning.
	Truncated bool
	// OutputTokens is the backend's reported completion token usage.
	OutputTokens int
}

// Provider converts a batch of pages plus the trailing context carried
// over from the previous batch into structured entries. Implementations
// classify their failures as transient or fatal (see Error) and declare
// their own retry policy.
type Provider interface {
	Name() string
	Call(ctx context.Context, pages []domain.Page, trailing []domain.LogEntry) (*Result, error)
	Retry() Policy
}

// Policy describes how call failures are retried. Only transient errors
// are retried; exhaustion escalates to fatal.
type Policy struct {
	// MaxAttempts caps total call attempts, including the first.
	MaxAttempts int
	// InitialDelay is the backoff before the first retry.
	InitialDelay time.Duration
	// Multiplier grows the delay between consecutive retries.
	Multiplier float64
	// MaxDelay caps a single backoff sleep. Zero means uncapped.
	MaxDelay time.Duration
}

// NoRetry is the policy of providers that treat every failure as final.
var NoRetry = Policy{MaxAttempts: 1}

// Call invokes p once per attempt allowed by its retry policy, sleeping
// with exponential backoff between transient failures. Fatal errors and
// context cancellation abort immediately; retry exhaustion is escalated
// to a fatal error. onRetry, when non-nil, is invoked before each backoff
// sleep with the failed attempt number and its error.
func Call(ctx context.Context, p Provider, pages []domain.Page, trailing []domain.LogEntry, onRetry func(attempt int, err error)) (*Result, error) {
	policy := p.Retry()
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.InitialDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	mult := policy.Multiplier
	if mult < 1 {
		mult = 2
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := p.Call(ctx, pages, trailing)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}
		if attempt == attempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		sleep := delay
		if policy.MaxDelay > 0 && sleep > policy.MaxDelay {
			sleep = policy.MaxDelay
		}
		select {
		case <-ctx.Done():
			return nil, Fatal(fmt.Errorf("retry aborted: %w", ctx.Err()))
		case <-time.After(sleep):
		}
		delay = time.Duration(float64(delay) * mult)
	}

	return nil, Fatal(fmt.Errorf("retries exhausted after %d attempts: %w", attempts, lastErr))
}

// Registry maps provider identifiers to implementations. The pipeline
// never branches on provider identity; adding a backend is implementing
// Provider and registering it here.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its own name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Lookup resolves a provider identifier.
func (r *Registry) Lookup(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists the registered identifiers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
