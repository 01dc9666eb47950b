package cascade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/resilience"
)

func provider(name string, conf, cost float64, err error) Func[string, string] {
	return Func[string, string]{
		ProviderName: name,
		Fn: func(ctx context.Context, in string) (Result[string], error) {
			if err != nil {
				return Result[string]{CostUSD: cost}, err
			}
			return Result[string]{Output: name + ":" + in, Confidence: conf, CostUSD: cost}, nil
		},
	}
}

func newTestExecutor(threshold float64, providers ...Provider[string, string]) *Executor[string, string] {
	return New("screen", StageConfig{Threshold: threshold, CallTimeout: time.Second},
		providers, resilience.CircuitBreakerConfig{})
}

func TestRunHaltsAtFirstConfidentProvider(t *testing.T) {
	exec := newTestExecutor(0.8,
		provider("cheap", 0.9, 0.001, nil),
		provider("expensive", 0.99, 0.10, nil),
	)

	out := exec.Run(context.Background(), "photo")

	require.NotNil(t, out.Winner)
	assert.Equal(t, "cheap", out.Winner.Provider)
	assert.False(t, out.Degraded)
	assert.Len(t, out.Attempts, 1, "the expensive provider must not run")
	assert.InDelta(t, 0.001, out.TotalCostUSD, 1e-9)
}

func TestRunFallsThroughOnLowConfidence(t *testing.T) {
	exec := newTestExecutor(0.8,
		provider("cheap", 0.5, 0.001, nil),
		provider("expensive", 0.92, 0.10, nil),
	)

	out := exec.Run(context.Background(), "photo")

	require.NotNil(t, out.Winner)
	assert.Equal(t, "expensive", out.Winner.Provider)
	assert.False(t, out.Degraded)
	assert.Len(t, out.Attempts, 2)
	assert.InDelta(t, 0.101, out.TotalCostUSD, 1e-9)
}

func TestRunErrorBecomesZeroConfidenceAttempt(t *testing.T) {
	exec := newTestExecutor(0.8,
		provider("flaky", 0, 0.002, errors.New("rate limited")),
		provider("steady", 0.85, 0.01, nil),
	)

	out := exec.Run(context.Background(), "photo")

	require.NotNil(t, out.Winner)
	assert.Equal(t, "steady", out.Winner.Provider)

	first := out.Attempts[0]
	assert.Equal(t, "flaky", first.Provider)
	assert.False(t, first.Completed)
	assert.Zero(t, first.Confidence)
	assert.NotEmpty(t, first.Err)
	// A billed failure still counts against the total.
	assert.InDelta(t, 0.012, out.TotalCostUSD, 1e-9)
}

func TestRunDegradedWinnerWhenNobodyClearsBar(t *testing.T) {
	exec := newTestExecutor(0.9,
		provider("a", 0.4, 0.001, nil),
		provider("b", 0.7, 0.01, nil),
		provider("c", 0.6, 0.05, nil),
	)

	out := exec.Run(context.Background(), "photo")

	require.NotNil(t, out.Winner)
	assert.True(t, out.Degraded)
	assert.Equal(t, "b", out.Winner.Provider)
	assert.Len(t, out.Attempts, 3)
}

func TestRunAllFailuresYieldsNoWinner(t *testing.T) {
	exec := newTestExecutor(0.5,
		provider("a", 0, 0, errors.New("down")),
		provider("b", 0, 0, errors.New("also down")),
	)

	out := exec.Run(context.Background(), "photo")

	assert.Nil(t, out.Winner)
	assert.Len(t, out.Attempts, 2)
}

func TestRunEmptyProviderList(t *testing.T) {
	exec := newTestExecutor(0.5)

	out := exec.Run(context.Background(), "photo")

	assert.Nil(t, out.Winner)
	assert.Empty(t, out.Attempts)
	assert.Zero(t, out.TotalCostUSD)
}

func TestRunClampsReportedConfidence(t *testing.T) {
	exec := newTestExecutor(0.8, provider("eager", 1.7, 0, nil))

	out := exec.Run(context.Background(), "photo")

	require.NotNil(t, out.Winner)
	assert.Equal(t, 1.0, out.Winner.Confidence)
}

func TestRunStopsWhenDeadlinePassed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ran := false
	exec := newTestExecutor(0.8,
		Func[string, string]{ProviderName: "first", Fn: func(ctx context.Context, in string) (Result[string], error) {
			cancel()
			return Result[string]{}, errors.New("interrupted")
		}},
		Func[string, string]{ProviderName: "second", Fn: func(ctx context.Context, in string) (Result[string], error) {
			ran = true
			return Result[string]{Confidence: 1}, nil
		}},
	)

	out := exec.Run(ctx, "photo")

	assert.False(t, ran, "fallback must not run once the pipeline deadline passed")
	assert.Nil(t, out.Winner)
}

func TestOpenBreakerSkipsProviderWithoutCost(t *testing.T) {
	breakerCfg := resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour}
	calls := 0
	exec := New("screen", StageConfig{Threshold: 0.8},
		[]Provider[string, string]{
			Func[string, string]{ProviderName: "tripped", Fn: func(ctx context.Context, in string) (Result[string], error) {
				calls++
				return Result[string]{CostUSD: 0.05}, errors.New("down")
			}},
		}, breakerCfg)

	_ = exec.Run(context.Background(), "photo")
	out := exec.Run(context.Background(), "photo")

	assert.Equal(t, 1, calls, "open breaker must not reach the provider")
	require.Len(t, out.Attempts, 1)
	assert.Zero(t, out.Attempts[0].CostUSD)
	assert.NotEmpty(t, out.Attempts[0].Err)
}
