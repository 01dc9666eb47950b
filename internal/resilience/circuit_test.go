package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	})
	cb.nowFunc = func() time.Time { return now }
	return cb, &now
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	cb, _ := testBreaker(3, time.Minute)
	boom := errors.New("provider down")

	for i := 0; i < 3; i++ {
		assert.Equal(t, CircuitClosed, cb.State())
		err := cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
		require.Error(t, err)
	}

	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitSuccessResetsFailureCount(t *testing.T) {
	cb, _ := testBreaker(3, time.Minute)
	boom := errors.New("down")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })

	failures, state := cb.Counters()
	assert.Equal(t, 1, failures)
	assert.Equal(t, CircuitClosed, state)
}

func TestCircuitHalfOpenProbeRecovers(t *testing.T) {
	cb, now := testBreaker(1, 30*time.Second)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	assert.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(31 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitHalfOpenProbeFailureReopens(t *testing.T) {
	cb, now := testBreaker(1, 30*time.Second)

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	*now = now.Add(31 * time.Second)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("still down") })
	require.Error(t, err)

	_, state := cb.Counters()
	assert.Equal(t, CircuitOpen, state)
}

func TestExecuteValPassesValueThrough(t *testing.T) {
	cb, _ := testBreaker(1, time.Minute)

	val, err := ExecuteVal(context.Background(), cb, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestFromCircuitConfigDefaults(t *testing.T) {
	cfg := FromCircuitConfig(0, 0)
	def := DefaultCircuitBreakerConfig()
	assert.Equal(t, def.FailureThreshold, cfg.FailureThreshold)
	assert.Equal(t, def.ResetTimeout, cfg.ResetTimeout)

	cfg = FromCircuitConfig(7, 60)
	assert.Equal(t, 7, cfg.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.ResetTimeout)
}
