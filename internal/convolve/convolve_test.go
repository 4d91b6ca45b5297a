package convolve

import (
	"math/rand"
	"testing"

	"rl-deconv/internal/matrix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRows(t *testing.T, rows [][]float64) *matrix.Dense {
	t.Helper()
	m, err := matrix.NewDenseRows(rows)
	require.NoError(t, err)
	return m
}

func randomDense(t *testing.T, rows, cols int, seed int64) *matrix.Dense {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.Float64()
	}
	m, err := matrix.NewDenseFrom(rows, cols, data)
	require.NoError(t, err)
	return m
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		p, n   int
		border Border
		want   int
	}{
		{"inside", 2, 5, BorderZero, 2},
		{"zero left", -1, 5, BorderZero, -1},
		{"zero right", 5, 5, BorderZero, -1},
		{"replicate left", -2, 5, BorderReplicate, 0},
		{"replicate right", 7, 5, BorderReplicate, 4},
		{"reflect101 left", -1, 5, BorderReflect101, 1},
		{"reflect101 left 2", -2, 5, BorderReflect101, 2},
		{"reflect101 right", 5, 5, BorderReflect101, 3},
		{"reflect101 right 2", 6, 5, BorderReflect101, 2},
		{"reflect101 single", -3, 1, BorderReflect101, 0},
		{"reflect101 double bounce", -5, 3, BorderReflect101, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolve(tt.p, tt.n, tt.border))
		})
	}
}

func TestFilter2DIdentityKernel(t *testing.T) {
	src := randomDense(t, 6, 7, 1)
	kernel := mustRows(t, [][]float64{
		{0, 0, 0},
		{0, 1, 0},
		{0, 0, 0},
	})

	for _, b := range []Border{BorderReflect101, BorderReplicate, BorderZero} {
		out, err := Filter2D(src, kernel, b, 3)
		require.NoError(t, err)
		assert.True(t, matrix.Equal(src, out, 0), b.String())
	}
}

func TestFilter2DZeroBorderByHand(t *testing.T) {
	src := mustRows(t, [][]float64{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, 9},
	})
	// Correlation, not convolution: the right neighbour gets weight 1.
	kernel := mustRows(t, [][]float64{
		{0, 0, 0},
		{0, 0, 1},
		{0, 0, 0},
	})

	out, err := Filter2D(src, kernel, BorderZero, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 0, 5, 6, 0, 8, 9, 0}, out.Data())

	out, err = Filter2D(src, kernel, BorderReplicate, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 3, 5, 6, 6, 8, 9, 9}, out.Data())

	out, err = Filter2D(src, kernel, BorderReflect101, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 2, 5, 6, 5, 8, 9, 8}, out.Data())
}

func TestFilter2DEvenKernelAnchor(t *testing.T) {
	src := mustRows(t, [][]float64{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
	})
	// 2x2 kernel: anchor is (1,1), so weight at (0,0) reads the up-left sample.
	kernel := mustRows(t, [][]float64{
		{1, 0},
		{0, 0},
	})

	out, err := Filter2D(src, kernel, BorderZero, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 1, 2, 3}, out.Data())
}

func TestFilter2DConstantPreserved(t *testing.T) {
	src, err := matrix.Filled(9, 11, 0.25)
	require.NoError(t, err)
	kernel := mustRows(t, [][]float64{
		{0.05, 0.1, 0.05},
		{0.1, 0.4, 0.1},
		{0.05, 0.1, 0.05},
	})

	for _, b := range []Border{BorderReflect101, BorderReplicate} {
		out, err := Filter2D(src, kernel, b, 0)
		require.NoError(t, err)
		assert.True(t, matrix.Equal(src, out, 1e-12), b.String())
	}
}

func TestFilter2DWorkerInvariance(t *testing.T) {
	src := randomDense(t, 37, 23, 7)
	kernel := randomDense(t, 5, 5, 8)

	ref, err := Filter2D(src, kernel, BorderReflect101, 1)
	require.NoError(t, err)
	for _, w := range []int{2, 3, 8, 100} {
		out, err := Filter2D(src, kernel, BorderReflect101, w)
		require.NoError(t, err)
		assert.True(t, matrix.Equal(ref, out, 0), "workers=%d", w)
	}
}

func TestFilter2DDoesNotMutateInputs(t *testing.T) {
	src := randomDense(t, 8, 8, 3)
	kernel := randomDense(t, 3, 3, 4)
	srcCopy, kernelCopy := src.Clone(), kernel.Clone()

	_, err := Filter2D(src, kernel, BorderReflect101, 2)
	require.NoError(t, err)
	assert.True(t, matrix.Equal(srcCopy, src, 0))
	assert.True(t, matrix.Equal(kernelCopy, kernel, 0))
}

func TestFilter2DErrors(t *testing.T) {
	src := randomDense(t, 3, 3, 1)
	big := randomDense(t, 4, 1, 2)

	_, err := Filter2D(src, big, BorderZero, 1)
	require.ErrorIs(t, err, ErrKernelTooLarge)

	_, err = Filter2D(nil, src, BorderZero, 1)
	require.ErrorIs(t, err, matrix.ErrNilMatrix)

	_, err = Filter2D(src, src, Border(42), 1)
	require.ErrorIs(t, err, ErrUnknownBorder)
}

func TestEngineImplementsConvolver(t *testing.T) {
	var c Convolver = NewEngine(BorderZero, 2)
	src := randomDense(t, 4, 4, 5)
	kernel := mustRows(t, [][]float64{{1}})

	out, err := c.Filter2D(src, kernel)
	require.NoError(t, err)
	assert.True(t, matrix.Equal(src, out, 0))
}

func TestParseBorder(t *testing.T) {
	for name, want := range map[string]Border{
		"":           BorderReflect101,
		"reflect101": BorderReflect101,
		"replicate":  BorderReplicate,
		"zero":       BorderZero,
		"constant":   BorderZero,
	} {
		got, err := ParseBorder(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseBorder("wrap")
	require.ErrorIs(t, err, ErrUnknownBorder)
}
