package cascade

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Mikecranesync/Rivet-PRO-sub004/internal/resilience"
)

// StageConfig holds the gating parameters for one cascade stage.
type StageConfig struct {
	// Threshold is the confidence bar a provider must clear to win.
	Threshold float64

	// CallTimeout bounds each individual provider invocation.
	CallTimeout time.Duration
}

// Executor runs an ordered provider list for a single stage. Providers
// are expected to be ordered cheapest/fastest first; the executor stops at
// the first one whose confidence clears the threshold, so expensive
// providers are never called once a cheaper one sufficed.
type Executor[I, O any] struct {
	stage     string
	cfg       StageConfig
	providers []Provider[I, O]
	breakers  map[string]*resilience.CircuitBreaker
	now       func() time.Time
}

// New creates an executor for a stage. breakerCfg may be zero-valued, in
// which case breakers use package defaults.
func New[I, O any](stage string, cfg StageConfig, providers []Provider[I, O], breakerCfg resilience.CircuitBreakerConfig) *Executor[I, O] {
	breakers := make(map[string]*resilience.CircuitBreaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = resilience.NewCircuitBreaker(breakerCfg)
	}
	return &Executor[I, O]{
		stage:     stage,
		cfg:       cfg,
		providers: providers,
		breakers:  breakers,
		now:       time.Now,
	}
}

// Stage returns the stage name this executor serves.
func (e *Executor[I, O]) Stage() string { return e.stage }

// Providers returns the ordered provider names.
func (e *Executor[I, O]) Providers() []string {
	names := make([]string, len(e.providers))
	for i, p := range e.providers {
		names[i] = p.Name()
	}
	return names
}

// Run walks the provider list in order. A provider error or timeout is
// recorded as a zero-confidence attempt (cost included if the provider
// reported one) and the cascade moves on. If no provider clears the
// threshold, the highest-confidence completed attempt becomes a degraded
// winner. Run never returns an error: an empty provider list simply yields
// an outcome with no attempts.
func (e *Executor[I, O]) Run(ctx context.Context, in I) Outcome[O] {
	out := Outcome[O]{}

	for _, p := range e.providers {
		attempt := e.invoke(ctx, p, in)
		out.Attempts = append(out.Attempts, attempt)
		out.TotalCostUSD += attempt.CostUSD

		if attempt.Err == "" && attempt.Confidence >= e.cfg.Threshold {
			out.Winner = &out.Attempts[len(out.Attempts)-1]
			zap.L().Debug("cascade: threshold met",
				zap.String("stage", e.stage),
				zap.String("provider", p.Name()),
				zap.Float64("confidence", attempt.Confidence),
			)
			return out
		}

		// The pipeline deadline trumps further fallback.
		if ctx.Err() != nil {
			break
		}
	}

	// Exhausted: pick the best completed attempt as a degraded winner.
	best := -1
	for i := range out.Attempts {
		if !out.Attempts[i].Completed {
			continue
		}
		if best < 0 || out.Attempts[i].Confidence > out.Attempts[best].Confidence {
			best = i
		}
	}
	if best >= 0 {
		out.Winner = &out.Attempts[best]
		out.Degraded = true
		zap.L().Warn("cascade: degraded result",
			zap.String("stage", e.stage),
			zap.String("provider", out.Winner.Provider),
			zap.Float64("confidence", out.Winner.Confidence),
			zap.Float64("threshold", e.cfg.Threshold),
		)
	}
	return out
}

func (e *Executor[I, O]) invoke(ctx context.Context, p Provider[I, O], in I) Attempt[O] {
	attempt := Attempt[O]{Provider: p.Name()}

	callCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}

	start := e.now()
	res, err := resilience.ExecuteVal(callCtx, e.breakers[p.Name()], func(ctx context.Context) (Result[O], error) {
		return p.Invoke(ctx, in)
	})
	attempt.LatencyMS = e.now().Sub(start).Milliseconds()

	if err != nil {
		// Failed attempts count as confidence 0; partial cost is kept if
		// the provider reported one before failing. An open breaker never
		// reached the provider, so its cost is zero.
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			attempt.CostUSD = res.CostUSD
		}
		attempt.Err = err.Error()
		zap.L().Warn("cascade: provider failed",
			zap.String("stage", e.stage),
			zap.String("provider", p.Name()),
			zap.Error(err),
		)
		return attempt
	}

	attempt.Completed = true
	attempt.Output = res.Output
	attempt.Confidence = clamp01(res.Confidence)
	attempt.CostUSD = res.CostUSD
	return attempt
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
