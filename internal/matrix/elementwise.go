package matrix

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Shard splits [0, rows) into at most workers contiguous row blocks and runs
// fn on each block concurrently. It returns after every block finished; the
// first non-nil error is returned. workers <= 0 means runtime.NumCPU().
// With one worker (or one row) fn runs on the calling goroutine.
func Shard(rows, workers int, fn func(lo, hi int) error) error {
	if rows <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > rows {
		workers = rows
	}
	if workers == 1 {
		return fn(0, rows)
	}

	block := (rows + workers - 1) / workers
	var g errgroup.Group
	for lo := 0; lo < rows; lo += block {
		lo, hi := lo, min(lo+block, rows)
		g.Go(func() error {
			return fn(lo, hi)
		})
	}

	return g.Wait()
}

// Mul returns the element-wise product a∘b as a new matrix.
func Mul(a, b *Dense) (*Dense, error) {
	if !SameShape(a, b) {
		return nil, shapeErrorf("Mul", a, b)
	}
	var out mat.Dense
	out.MulElem(a.d, b.d)

	return wrap(&out), nil
}

// MulInPlace overwrites dst with dst∘b, sharding rows across workers.
func MulInPlace(dst, b *Dense, workers int) error {
	if !SameShape(dst, b) {
		return shapeErrorf("MulInPlace", dst, b)
	}

	d, bd := dst.raw(), b.raw()
	return Shard(dst.r, workers, func(lo, hi int) error {
		floats.Mul(d[lo*dst.c:hi*dst.c], bd[lo*dst.c:hi*dst.c])
		return nil
	})
}

// Div returns the element-wise quotient a/b as a new matrix. Zero
// denominators follow IEEE-754 (±Inf or NaN); callers that need a policy
// must guard before calling.
func Div(a, b *Dense) (*Dense, error) {
	if !SameShape(a, b) {
		return nil, shapeErrorf("Div", a, b)
	}
	var out mat.Dense
	out.DivElem(a.d, b.d)

	return wrap(&out), nil
}

// MSE returns the mean squared difference between a and b.
func MSE(a, b *Dense) (float64, error) {
	if !SameShape(a, b) {
		return 0, shapeErrorf("MSE", a, b)
	}
	d := floats.Distance(a.raw(), b.raw(), 2)

	return d * d / float64(a.Len()), nil
}

func shapeErrorf(op string, a, b *Dense) error {
	if a == nil || b == nil {
		return fmt.Errorf("%s: %w", op, ErrNilMatrix)
	}

	return fmt.Errorf("%s %dx%d vs %dx%d: %w", op, a.r, a.c, b.r, b.c, ErrDimensionMismatch)
}
