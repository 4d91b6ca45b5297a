package psf_test

import (
	"math"
	"testing"

	"rl-deconv/internal/matrix"
	"rl-deconv/internal/psf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianSumsToOne(t *testing.T) {
	tests := []struct {
		size               int
		sigmaRow, sigmaCol float64
	}{
		{1, 1, 1},
		{2, 0.5, 3},
		{5, 9, 5},
		{7, 1.5, 1.5},
		{15, 0.3, 12},
		{31, 4, 2},
	}
	for _, tt := range tests {
		k, err := psf.Gaussian(tt.size, tt.sigmaRow, tt.sigmaCol)
		require.NoError(t, err)
		assert.Equal(t, tt.size, k.Rows())
		assert.Equal(t, tt.size, k.Cols())
		assert.InDelta(t, 1.0, k.Sum(), 1e-9, "%+v", tt)
		require.NoError(t, psf.Validate(k))
	}
}

func TestGaussianMatchesDensityRatio(t *testing.T) {
	const size, sr, sc = 5, 9.0, 5.0
	k, err := psf.Gaussian(size, sr, sc)
	require.NoError(t, err)

	density := func(r, c int) float64 {
		dr := float64(r) / sr
		dc := (float64(c) - 2.5) / sc
		return math.Exp(-0.5 * (dr*dr + dc*dc))
	}
	// Normalization cancels in ratios.
	a, _ := k.At(3, 0)
	b, _ := k.At(1, 4)
	assert.InDelta(t, density(3, 0)/density(1, 4), a/b, 1e-12)
}

func TestGaussianFalloffFromDefinedCenter(t *testing.T) {
	const size = 5
	k, err := psf.Gaussian(size, 9.0, 5.0)
	require.NoError(t, err)

	// Down column N/2, moving away from the row mean at 0.
	col := size / 2
	for r := 1; r < size; r++ {
		prev, _ := k.At(r-1, col)
		cur, _ := k.At(r, col)
		assert.Greater(t, prev, cur, "column %d row %d", col, r)
	}

	// Along row 0, moving away from the column mean at 2.5 in each direction.
	row := k.Row(0)
	for c := col; c > 0; c-- {
		assert.Greater(t, row[c], row[c-1], "row 0 leftwards at %d", c)
	}
	for c := col + 1; c < size-1; c++ {
		assert.Greater(t, row[c], row[c+1], "row 0 rightwards at %d", c)
	}

	// Columns 2 and 3 are equidistant from 2.5.
	assert.InDelta(t, row[2], row[3], 1e-15)
}

func TestGaussianRejectsInvalidArguments(t *testing.T) {
	_, err := psf.Gaussian(0, 1, 1)
	require.ErrorIs(t, err, psf.ErrInvalidSize)
	_, err = psf.Gaussian(-3, 1, 1)
	require.ErrorIs(t, err, psf.ErrInvalidSize)

	for _, s := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err = psf.Gaussian(5, s, 1)
		require.ErrorIs(t, err, psf.ErrInvalidSigma, "sigma_row=%g", s)
		_, err = psf.Gaussian(5, 1, s)
		require.ErrorIs(t, err, psf.ErrInvalidSigma, "sigma_col=%g", s)
	}
}

func TestValidate(t *testing.T) {
	k, err := matrix.NewDenseRows([][]float64{{0.5, 0.5}})
	require.NoError(t, err)
	require.NoError(t, psf.Validate(k))

	k, err = matrix.NewDenseRows([][]float64{{0.5, 0.6}})
	require.NoError(t, err)
	require.ErrorIs(t, psf.Validate(k), psf.ErrNotNormalized)

	k, err = matrix.NewDenseRows([][]float64{{1.5, -0.5}})
	require.NoError(t, err)
	require.ErrorIs(t, psf.Validate(k), psf.ErrNotNormalized)

	k, err = matrix.NewDenseRows([][]float64{{math.NaN(), 1}})
	require.NoError(t, err)
	require.ErrorIs(t, psf.Validate(k), matrix.ErrNaNInf)
}

func TestFlippedGaussianIsInvolution(t *testing.T) {
	k, err := psf.Gaussian(6, 2, 3)
	require.NoError(t, err)

	flipped := k.Flip()
	require.NoError(t, psf.Validate(flipped))
	assert.False(t, matrix.Equal(k, flipped, 1e-12))
	assert.True(t, matrix.Equal(k, flipped.Flip(), 0))
}

func TestIdentity(t *testing.T) {
	k, err := psf.Identity(3)
	require.NoError(t, err)
	require.NoError(t, psf.Validate(k))
	v, _ := k.At(1, 1)
	assert.Equal(t, 1.0, v)

	_, err = psf.Identity(4)
	require.ErrorIs(t, err, psf.ErrInvalidSize)
}
