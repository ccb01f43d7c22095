package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/domain"
)

// stubProvider returns scripted responses for retry tests.
type stubProvider struct {
	name   string
	policy Policy
	calls  int
	script func(call int) (*Result, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Retry() Policy { return s.policy }

func (s *stubProvider) Call(ctx context.Context, pages []domain.Page, trailing []domain.LogEntry) (*Result, error) {
	s.calls++
	return s.script(s.calls)
}

var fastRetry = Policy{MaxAttempts: 4, InitialDelay: time.Millisecond, Multiplier: 2}

func TestCallRetriesTransientErrors(t *testing.T) {
	p := &stubProvider{
		name:   "stub",
		policy: fastRetry,
		script: func(call int) (*Result, error) {
			if call <= 3 {
				return nil, Transient(errors.New("rate limited"))
			}
			return &Result{OutputTokens: 7}, nil
		},
	}

	result, err := Call(context.Background(), p, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, result.OutputTokens)
	assert.Equal(t, 4, p.calls)
}

func TestCallNotifiesEachRetry(t *testing.T) {
	p := &stubProvider{
		name:   "stub",
		policy: fastRetry,
		script: func(call int) (*Result, error) {
			if call <= 2 {
				return nil, Transient(errors.New("rate limited"))
			}
			return &Result{}, nil
		},
	}

	var attempts []int
	_, err := Call(context.Background(), p, nil, nil, func(attempt int, err error) {
		attempts = append(attempts, attempt)
		assert.True(t, IsTransient(err))
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestCallFatalErrorAbortsImmediately(t *testing.T) {
	p := &stubProvider{
		name:   "stub",
		policy: fastRetry,
		script: func(int) (*Result, error) {
			return nil, Fatal(errors.New("invalid api key"))
		},
	}

	_, err := Call(context.Background(), p, nil, nil, nil)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Equal(t, 1, p.calls)
}

func TestCallExhaustionEscalatesToFatal(t *testing.T) {
	p := &stubProvider{
		name:   "stub",
		policy: Policy{MaxAttempts: 3, InitialDelay: time.Millisecond},
		script: func(int) (*Result, error) {
			return nil, Transient(errors.New("still rate limited"))
		},
	}

	_, err := Call(context.Background(), p, nil, nil, nil)
	require.Error(t, err)
	assert.False(t, IsTransient(err), "exhaustion must escalate to fatal")
	assert.Contains(t, err.Error(), "retries exhausted after 3 attempts")
	assert.Equal(t, 3, p.calls)
}

func TestCallNoRetryPolicy(t *testing.T) {
	p := &stubProvider{
		name:   "stub",
		policy: NoRetry,
		script: func(int) (*Result, error) {
			return nil, Transient(errors.New("timeout"))
		},
	}

	_, err := Call(context.Background(), p, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
}

func TestCallStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &stubProvider{
		name:   "stub",
		policy: Policy{MaxAttempts: 5, InitialDelay: time.Hour},
		script: func(int) (*Result, error) {
			cancel()
			return nil, Transient(errors.New("rate limited"))
		},
	}

	_, err := Call(ctx, p, nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.calls)
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsTransient(Transient(base)))
	assert.False(t, IsTransient(Fatal(base)))
	assert.False(t, IsTransient(base), "unclassified errors are fatal")
	assert.False(t, IsTransient(nil))

	// Classification survives wrapping.
	wrapped := errors.Join(errors.New("context"), Transient(base))
	assert.True(t, IsTransient(wrapped))
	assert.ErrorIs(t, Transient(base), base)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	stub := &stubProvider{name: "stub", policy: NoRetry}
	registry.Register(stub)

	p, err := registry.Lookup("stub")
	require.NoError(t, err)
	assert.Equal(t, "stub", p.Name())

	_, err = registry.Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	assert.ElementsMatch(t, []string{"stub"}, registry.Names())
}

func TestParseEntries(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{
			name:    "wrapped object",
			content: `{"entries":[{"page":0,"date":"2024-05-01","hours":1542.3,"text":"Oil change"}]}`,
			want:    1,
		},
		{
			name:    "bare array",
			content: `[{"page":0,"text":"Annual inspection"},{"page":1,"text":"Replaced vacuum pump"}]`,
			want:    2,
		},
		{
			name:    "empty entry list",
			content: `{"entries":[]}`,
			want:    0,
		},
		{
			name:    "empty payload",
			content: "",
			wantErr: true,
		},
		{
			name:    "not json",
			content: "I could not read these pages",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := parseEntries(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, entries, tt.want)
		})
	}
}
