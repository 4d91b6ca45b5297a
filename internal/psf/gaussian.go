// Package psf builds point-spread-function kernels.
package psf

import (
	"errors"
	"fmt"
	"math"

	"rl-deconv/internal/matrix"
)

// Tolerance is the allowed deviation of a kernel's sum from 1.
const Tolerance = 1e-9

var (
	// ErrInvalidSize is returned for a kernel size <= 0.
	ErrInvalidSize = errors.New("psf: kernel size must be > 0")

	// ErrInvalidSigma is returned for a standard deviation that is not a
	// positive finite number.
	ErrInvalidSigma = errors.New("psf: sigma must be positive and finite")

	// ErrNotNormalized is returned when a kernel does not sum to 1 or holds
	// negative weights.
	ErrNotNormalized = errors.New("psf: kernel is not a normalized non-negative distribution")
)

// Gaussian returns a size×size anisotropic Gaussian kernel normalized to sum 1.
//
// The row mean is fixed at 0 and the column mean at size/2, so the peak
// sits on row 0 and is horizontally centered. Weights are computed and
// summed over the whole kernel first, then divided by that sum.
func Gaussian(size int, sigmaRow, sigmaCol float64) (*matrix.Dense, error) {
	if size <= 0 {
		return nil, fmt.Errorf("Gaussian size=%d: %w", size, ErrInvalidSize)
	}
	if !validSigma(sigmaRow) {
		return nil, fmt.Errorf("Gaussian sigma_row=%g: %w", sigmaRow, ErrInvalidSigma)
	}
	if !validSigma(sigmaCol) {
		return nil, fmt.Errorf("Gaussian sigma_col=%g: %w", sigmaCol, ErrInvalidSigma)
	}

	k, err := matrix.NewDense(size, size)
	if err != nil {
		return nil, err
	}

	meanRow := 0.0
	meanCol := float64(size) / 2.0
	norm := 2 * math.Pi * sigmaRow * sigmaCol

	var sum float64
	for r := 0; r < size; r++ {
		row := k.Row(r)
		dr := (float64(r) - meanRow) / sigmaRow
		for c := range row {
			dc := (float64(c) - meanCol) / sigmaCol
			v := math.Exp(-0.5*(dr*dr+dc*dc)) / norm
			row[c] = v
			sum += v
		}
	}

	for r := 0; r < size; r++ {
		row := k.Row(r)
		for c := range row {
			row[c] /= sum
		}
	}

	return k, nil
}

// Validate checks that k is finite, non-negative and sums to 1 within Tolerance.
func Validate(k *matrix.Dense) error {
	if err := k.Validate(); err != nil {
		return fmt.Errorf("psf: %w", err)
	}
	for r := 0; r < k.Rows(); r++ {
		for c, v := range k.Row(r) {
			if v < 0 {
				return fmt.Errorf("psf: weight %g at (%d,%d): %w", v, r, c, ErrNotNormalized)
			}
		}
	}
	if s := k.Sum(); math.Abs(s-1) > Tolerance {
		return fmt.Errorf("psf: sum %.12g: %w", s, ErrNotNormalized)
	}

	return nil
}

// Identity returns an odd size×size kernel with 1 at the center.
func Identity(size int) (*matrix.Dense, error) {
	if size <= 0 || size%2 == 0 {
		return nil, fmt.Errorf("Identity size=%d: %w", size, ErrInvalidSize)
	}
	k, err := matrix.NewDense(size, size)
	if err != nil {
		return nil, err
	}
	k.Row(size / 2)[size/2] = 1

	return k, nil
}

func validSigma(s float64) bool {
	return s > 0 && !math.IsInf(s, 0) && !math.IsNaN(s)
}
