// Package matrix provides the dense float64 matrix the restoration core works on.
// Dense wraps a gonum mat.Dense with a contiguous row-major backing slice.
// The shape is fixed at creation; values are mutable.
package matrix

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidDimensions indicates that requested matrix dimensions are non-positive.
	ErrInvalidDimensions = errors.New("matrix: dimensions must be > 0")

	// ErrIndexOutOfBounds indicates that a row or column index is outside valid range.
	ErrIndexOutOfBounds = errors.New("matrix: index out of bounds")

	// ErrDimensionMismatch indicates operands of different shapes.
	ErrDimensionMismatch = errors.New("matrix: dimension mismatch")

	// ErrNilMatrix indicates a nil *Dense argument.
	ErrNilMatrix = errors.New("matrix: nil matrix")

	// ErrNaNInf signals a NaN or ±Inf value where finite values are required.
	ErrNaNInf = errors.New("matrix: NaN or Inf encountered")

	// ErrDataLength indicates a backing slice whose length is not rows*cols.
	ErrDataLength = errors.New("matrix: data length does not match shape")
)

// denseErrorf wraps an underlying error with Dense method context.
func denseErrorf(method string, row, col int, err error) error {
	return fmt.Errorf("Dense.%s(%d,%d): %w", method, row, col, err)
}

// Dense is a row-major matrix of float64 values.
type Dense struct {
	r, c int
	d    *mat.Dense
}

func wrap(d *mat.Dense) *Dense {
	r, c := d.Dims()
	return &Dense{r: r, c: c, d: d}
}

// raw is the flat backing storage; its stride equals the column count
// because every Dense is allocated here.
func (m *Dense) raw() []float64 {
	return m.d.RawMatrix().Data
}

// NewDense creates an r×c Dense matrix initialized to zeros.
func NewDense(rows, cols int) (*Dense, error) {
	if rows <= 0 || cols <= 0 {
		return nil, ErrInvalidDimensions
	}

	return wrap(mat.NewDense(rows, cols, nil)), nil
}

// NewDenseFrom creates an r×c matrix that copies data (row-major).
func NewDenseFrom(rows, cols int, data []float64) (*Dense, error) {
	m, err := NewDense(rows, cols)
	if err != nil {
		return nil, err
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("NewDenseFrom %dx%d with %d values: %w", rows, cols, len(data), ErrDataLength)
	}
	copy(m.raw(), data)

	return m, nil
}

// NewDenseRows builds a matrix from a rectangular [][]float64 literal.
func NewDenseRows(rows [][]float64) (*Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrInvalidDimensions
	}
	m, err := NewDense(len(rows), len(rows[0]))
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) != m.c {
			return nil, fmt.Errorf("NewDenseRows row %d has %d values, want %d: %w", i, len(row), m.c, ErrDimensionMismatch)
		}
		m.d.SetRow(i, row)
	}

	return m, nil
}

// FromGonum copies any gonum matrix.
func FromGonum(a mat.Matrix) (*Dense, error) {
	r, c := a.Dims()
	if r <= 0 || c <= 0 {
		return nil, ErrInvalidDimensions
	}

	return wrap(mat.DenseCopyOf(a)), nil
}

// Filled creates an r×c matrix with every cell set to v.
func Filled(rows, cols int, v float64) (*Dense, error) {
	m, err := NewDense(rows, cols)
	if err != nil {
		return nil, err
	}
	m.Fill(v)

	return m, nil
}

// Rows returns the number of rows in the matrix.
func (m *Dense) Rows() int {
	return m.r
}

// Cols returns the number of columns in the matrix.
func (m *Dense) Cols() int {
	return m.c
}

// Len returns rows*cols.
func (m *Dense) Len() int {
	return m.r * m.c
}

// Gonum exposes the underlying gonum matrix. Writes through it modify m.
func (m *Dense) Gonum() *mat.Dense {
	return m.d
}

func (m *Dense) checkIndex(method string, row, col int) error {
	if row < 0 || row >= m.r || col < 0 || col >= m.c {
		return denseErrorf(method, row, col, ErrIndexOutOfBounds)
	}

	return nil
}

// At retrieves the element at (row, col).
func (m *Dense) At(row, col int) (float64, error) {
	if err := m.checkIndex("At", row, col); err != nil {
		return 0, err
	}

	return m.d.At(row, col), nil
}

// Set assigns value v at (row, col).
func (m *Dense) Set(row, col int, v float64) error {
	if err := m.checkIndex("Set", row, col); err != nil {
		return err
	}
	m.d.Set(row, col, v)

	return nil
}

// Row returns the backing slice of row i. Writes through the returned slice
// modify the matrix. It panics if i is out of range.
func (m *Dense) Row(i int) []float64 {
	row := m.d.RawRowView(i)
	return row[:len(row):len(row)]
}

// Data returns a copy of the row-major values.
func (m *Dense) Data() []float64 {
	out := make([]float64, m.Len())
	copy(out, m.raw())

	return out
}

// Fill sets every cell to v.
func (m *Dense) Fill(v float64) {
	data := m.raw()
	for i := range data {
		data[i] = v
	}
}

// Clone returns a deep copy of the matrix.
func (m *Dense) Clone() *Dense {
	return wrap(mat.DenseCopyOf(m.d))
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b *Dense) bool {
	return a != nil && b != nil && a.r == b.r && a.c == b.c
}

// Sum returns the sum of all cells.
func (m *Dense) Sum() float64 {
	return mat.Sum(m.d)
}

// Validate returns ErrNaNInf (wrapped with the first offending cell) if any
// value is not finite.
func (m *Dense) Validate() error {
	if m == nil {
		return ErrNilMatrix
	}
	for i, v := range m.raw() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return denseErrorf("Validate", i/m.c, i%m.c, ErrNaNInf)
		}
	}

	return nil
}

// Flip returns a new matrix rotated by 180 degrees: cell (r,c) of m lands at
// (rows-1-r, cols-1-c). This is a spatial flip, not an algebraic inverse.
func (m *Dense) Flip() *Dense {
	src := m.raw()
	n := len(src)
	out := make([]float64, n)
	// Row-major reversal of the flat buffer reverses rows and columns at once.
	for i, v := range src {
		out[n-1-i] = v
	}

	return wrap(mat.NewDense(m.r, m.c, out))
}

// Equal reports whether a and b have the same shape and every pair of cells
// differs by at most tol.
func Equal(a, b *Dense, tol float64) bool {
	if !SameShape(a, b) {
		return false
	}
	bd := b.raw()
	for i, v := range a.raw() {
		if math.Abs(v-bd[i]) > tol {
			return false
		}
	}

	return true
}

// String implements fmt.Stringer for easy debugging.
func (m *Dense) String() string {
	return fmt.Sprintf("%v", mat.Formatted(m.d, mat.Squeeze()))
}
