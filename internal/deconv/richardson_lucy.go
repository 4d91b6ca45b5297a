// Package deconv restores images blurred by a known point-spread function
// with the Richardson-Lucy iteration.
//
// Starting from a uniform 0.5 estimate, each iteration re-blurs the estimate
// with the PSF, divides the observation by it, filters that ratio with the
// 180°-rotated PSF and multiplies the estimate by the result:
//
//	est_conv      = filter(latent, psf)
//	relative_blur = observed / est_conv
//	error_est     = filter(relative_blur, flip(psf))
//	latent        = latent * error_est
//
// The loop runs a fixed number of times with no convergence test and no
// clamping, so values may leave [0,1]. Iterations are strictly sequential;
// the passes inside one iteration are row-sharded when workers > 1.
package deconv

import (
	"errors"
	"fmt"
	"math"

	"rl-deconv/internal/convolve"
	"rl-deconv/internal/matrix"
	"rl-deconv/internal/psf"
)

var (
	// ErrNegativeIterations is returned for iterations < 0.
	ErrNegativeIterations = errors.New("deconv: iterations must be >= 0")

	// ErrZeroDivision is returned under DivisionStrict when the re-blurred
	// estimate has a zero cell.
	ErrZeroDivision = errors.New("deconv: division by zero in relative blur")

	// ErrUnknownPolicy is returned for an unrecognized division policy.
	ErrUnknownPolicy = errors.New("deconv: unknown division policy")

	// ErrInvalidEpsilon is returned for a non-positive or non-finite epsilon.
	ErrInvalidEpsilon = errors.New("deconv: epsilon must be positive and finite")

	// ErrShapeMismatch is returned when a convolver returns a matrix whose
	// shape differs from its input.
	ErrShapeMismatch = errors.New("deconv: convolver changed the image shape")
)

// ZeroDivisionError locates a zero denominator found under DivisionStrict.
type ZeroDivisionError struct {
	Iteration int
	Row, Col  int
}

func (e *ZeroDivisionError) Error() string {
	return fmt.Sprintf("deconv: division by zero at (%d,%d) in iteration %d", e.Row, e.Col, e.Iteration)
}

// Unwrap lets errors.Is match ErrZeroDivision.
func (e *ZeroDivisionError) Unwrap() error {
	return ErrZeroDivision
}

// RichardsonLucy runs iterations Richardson-Lucy updates of a 0.5 estimate
// against observed with the given PSF and returns the estimate. observed and
// kernel are not modified; the result shares no storage with them.
func RichardsonLucy(observed, kernel *matrix.Dense, iterations int, opts ...Option) (*matrix.Dense, error) {
	o := buildOptions(opts)
	if err := validate(observed, kernel, iterations, o); err != nil {
		return nil, err
	}

	latent, err := matrix.Filled(observed.Rows(), observed.Cols(), InitialEstimate)
	if err != nil {
		return nil, err
	}
	kernelHat := kernel.Flip()

	for i := 1; i <= iterations; i++ {
		if err := o.ctx.Err(); err != nil {
			return nil, fmt.Errorf("deconv: stopped before iteration %d: %w", i, err)
		}

		estConv, err := filter(o.convolver, latent, kernel)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: re-blur: %w", i, err)
		}

		relativeBlur, guarded, err := divide(observed, estConv, i, o)
		if err != nil {
			return nil, err
		}

		errorEst, err := filter(o.convolver, relativeBlur, kernelHat)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: error estimate: %w", i, err)
		}

		if err := matrix.MulInPlace(latent, errorEst, o.workers); err != nil {
			return nil, fmt.Errorf("iteration %d: update: %w", i, err)
		}

		if o.hook != nil {
			o.hook(IterationStats{Iteration: i, Total: iterations, Guarded: guarded}, latent)
		}
	}

	return latent, nil
}

func validate(observed, kernel *matrix.Dense, iterations int, o options) error {
	if observed == nil || kernel == nil {
		return fmt.Errorf("deconv: %w", matrix.ErrNilMatrix)
	}
	if iterations < 0 {
		return fmt.Errorf("iterations=%d: %w", iterations, ErrNegativeIterations)
	}
	if err := observed.Validate(); err != nil {
		return fmt.Errorf("deconv: observed: %w", err)
	}
	if err := psf.Validate(kernel); err != nil {
		return fmt.Errorf("deconv: %w", err)
	}
	if kernel.Rows() > observed.Rows() || kernel.Cols() > observed.Cols() {
		return fmt.Errorf("deconv: psf %dx%d, observed %dx%d: %w",
			kernel.Rows(), kernel.Cols(), observed.Rows(), observed.Cols(), convolve.ErrKernelTooLarge)
	}
	switch o.policy {
	case DivisionEpsilon:
		if !(o.epsilon > 0) || math.IsInf(o.epsilon, 0) {
			return fmt.Errorf("epsilon=%g: %w", o.epsilon, ErrInvalidEpsilon)
		}
	case DivisionStrict:
	default:
		return fmt.Errorf("deconv: %s: %w", o.policy, ErrUnknownPolicy)
	}

	return nil
}

func filter(c convolve.Convolver, src, kernel *matrix.Dense) (*matrix.Dense, error) {
	out, err := c.Filter2D(src, kernel)
	if err != nil {
		return nil, err
	}
	if !matrix.SameShape(src, out) {
		return nil, fmt.Errorf("got %dx%d for %dx%d: %w", out.Rows(), out.Cols(), src.Rows(), src.Cols(), ErrShapeMismatch)
	}

	return out, nil
}

// divide computes observed/estConv under the configured policy. estConv is
// consumed and reused as the output buffer.
func divide(observed, estConv *matrix.Dense, iteration int, o options) (*matrix.Dense, int, error) {
	cols := observed.Cols()
	rowGuards := make([]int, observed.Rows())

	err := matrix.Shard(observed.Rows(), o.workers, func(lo, hi int) error {
		for r := lo; r < hi; r++ {
			num := observed.Row(r)
			den := estConv.Row(r)
			for c := 0; c < cols; c++ {
				d := den[c]
				switch o.policy {
				case DivisionStrict:
					if d == 0 {
						return &ZeroDivisionError{Iteration: iteration, Row: r, Col: c}
					}
				default:
					if math.Abs(d) < o.epsilon {
						if d < 0 {
							d = -o.epsilon
						} else {
							d = o.epsilon
						}
						rowGuards[r]++
					}
				}
				den[c] = num[c] / d
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	var guarded int
	for _, g := range rowGuards {
		guarded += g
	}

	return estConv, guarded, nil
}
