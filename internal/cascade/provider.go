// Package cascade runs ordered provider fallback chains with confidence
// gating. Providers are tried cheapest-first until one clears the stage's
// confidence bar; every attempt's cost is accumulated whether or not it won.
package cascade

import "context"

// Result is what a provider returns on success: a typed payload plus the
// self-reported confidence and the cost of producing it.
type Result[O any] struct {
	Output     O
	Confidence float64
	CostUSD    float64
}

// Provider is one interchangeable capability within a stage's ordered list.
// Invoke may return a non-zero CostUSD alongside an error when a call was
// billed before failing; the cascade still accounts for it.
type Provider[I, O any] interface {
	Name() string
	Invoke(ctx context.Context, in I) (Result[O], error)
}

// Func adapts a plain function into a Provider.
type Func[I, O any] struct {
	ProviderName string
	Fn           func(ctx context.Context, in I) (Result[O], error)
}

func (f Func[I, O]) Name() string { return f.ProviderName }

func (f Func[I, O]) Invoke(ctx context.Context, in I) (Result[O], error) {
	return f.Fn(ctx, in)
}
