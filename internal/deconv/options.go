package deconv

import (
	"context"
	"fmt"

	"rl-deconv/internal/convolve"
	"rl-deconv/internal/matrix"
)

// DivisionPolicy decides what happens when the re-blurred estimate has a
// zero (or near-zero) cell in the relative-blur division.
type DivisionPolicy int

const (
	// DivisionEpsilon replaces denominators with |d| < Epsilon by ±Epsilon
	// (sign of d, + for exact zero). The number of guarded cells is reported
	// to the iteration hook.
	DivisionEpsilon DivisionPolicy = iota
	// DivisionStrict aborts the call with ErrZeroDivision on an exact zero.
	DivisionStrict
)

// DefaultEpsilon is the denominator floor used by DivisionEpsilon.
const DefaultEpsilon = 1e-12

// InitialEstimate is the uniform grey every restoration starts from.
const InitialEstimate = 0.5

func (p DivisionPolicy) String() string {
	switch p {
	case DivisionEpsilon:
		return "epsilon"
	case DivisionStrict:
		return "strict"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseDivisionPolicy maps a configuration name onto a DivisionPolicy.
func ParseDivisionPolicy(name string) (DivisionPolicy, error) {
	switch name {
	case "epsilon", "":
		return DivisionEpsilon, nil
	case "strict", "fatal":
		return DivisionStrict, nil
	default:
		return 0, fmt.Errorf("%q: %w", name, ErrUnknownPolicy)
	}
}

// IterationStats is passed to the iteration hook after each update.
type IterationStats struct {
	Iteration int // 1-based
	Total     int
	Guarded   int // denominators replaced under DivisionEpsilon
}

// IterationHook observes the estimate after each iteration. The estimate is
// the live buffer; hooks must not retain or modify it.
type IterationHook func(stats IterationStats, estimate *matrix.Dense)

type options struct {
	convolver convolve.Convolver
	policy    DivisionPolicy
	epsilon   float64
	workers   int
	border    convolve.Border
	hook      IterationHook
	ctx       context.Context
}

// Option configures a RichardsonLucy call.
type Option func(*options)

// WithConvolver runs the iteration against c instead of the built-in engine.
func WithConvolver(c convolve.Convolver) Option {
	return func(o *options) { o.convolver = c }
}

// WithDivisionPolicy selects the zero-denominator policy.
func WithDivisionPolicy(p DivisionPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithEpsilon sets the denominator floor for DivisionEpsilon.
func WithEpsilon(eps float64) Option {
	return func(o *options) { o.epsilon = eps }
}

// WithWorkers shards each pass across n goroutines (<= 0: one per CPU).
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithBorder sets the border mode of the built-in engine. It has no effect
// when WithConvolver is given.
func WithBorder(b convolve.Border) Option {
	return func(o *options) { o.border = b }
}

// WithIterationHook registers a per-iteration observer.
func WithIterationHook(h IterationHook) Option {
	return func(o *options) { o.hook = h }
}

// WithContext stops the loop between iterations once ctx is done.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

func buildOptions(opts []Option) options {
	o := options{
		policy:  DivisionEpsilon,
		epsilon: DefaultEpsilon,
		workers: 1,
		border:  convolve.BorderReflect101,
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ctx == nil {
		o.ctx = context.Background()
	}
	if o.convolver == nil {
		o.convolver = convolve.NewEngine(o.border, o.workers)
	}

	return o
}
