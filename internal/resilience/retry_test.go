package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
}

func TestDoValSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	val, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("conn lost"), 0)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, calls)
}

func TestDoValStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, NewPermanentError(errors.New("constraint violation"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestDoValExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := NewTransientError(errors.New("still down"), 503)
	_, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoValRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := DoVal(ctx, fastRetry(10), func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(errors.New("flaky"), 0)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "cancellation must stop further attempts")
}

func TestDoValCustomShouldRetry(t *testing.T) {
	sentinel := errors.New("special")
	cfg := fastRetry(3)
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, sentinel) }

	calls := 0
	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, sentinel
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestComputeBackoffNonDecreasing(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	})

	prev := time.Duration(0)
	for attempt := 0; attempt < 8; attempt++ {
		// Jitter is random, so the floor (no-jitter delay) must carry the
		// monotonicity guarantee.
		noJitter := cfg
		noJitter.JitterFraction = 0
		d := computeBackoff(attempt, noJitter)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, cfg.MaxBackoff)
		prev = d
	}
}

func TestComputeBackoffJitterStaysWithinCap(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     4 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	})

	for i := 0; i < 50; i++ {
		d := computeBackoff(6, cfg)
		assert.LessOrEqual(t, d, cfg.MaxBackoff)
	}
}

func TestIsTransientClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped transient", NewTransientError(errors.New("x"), 503), true},
		{"permanent wins over transient text", NewPermanentError(errors.New("i/o timeout")), false},
		{"plain error", errors.New("no idea"), false},
		{"sqlite busy", errors.New("database is locked"), true},
		{"dns", errors.New("dial tcp: lookup api: no such host"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestFromConfigFallsBackToDefaults(t *testing.T) {
	cfg := FromConfig(0, 0, 0, 0, -1)
	def := DefaultRetryConfig()

	assert.Equal(t, def.MaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, def.InitialBackoff, cfg.InitialBackoff)
	assert.Equal(t, def.MaxBackoff, cfg.MaxBackoff)
	assert.Equal(t, def.Multiplier, cfg.Multiplier)
	assert.Equal(t, def.JitterFraction, cfg.JitterFraction)
}
