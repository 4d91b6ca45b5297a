// Package convolve implements same-size 2D filtering of matrix.Dense values.
//
// Filter2D follows OpenCV's filter2D contract: it computes a correlation (the
// kernel is not flipped) with the anchor at the kernel center
// (cols/2, rows/2), so for every output cell
//
//	dst(y,x) = Σ_i Σ_j k(i,j) · src(y+i-ay, x+j-ax)
//
// Samples outside the source are resolved by the configured Border.
// Work is row-sharded; every output row is written by exactly one goroutine
// and reads only the source, so results do not depend on the worker count.
package convolve

import (
	"errors"
	"fmt"

	"rl-deconv/internal/matrix"
)

var (
	// ErrKernelTooLarge is returned when the kernel exceeds the source in
	// either dimension.
	ErrKernelTooLarge = errors.New("convolve: kernel larger than source")

	// ErrUnknownBorder is returned for a Border value outside the defined set.
	ErrUnknownBorder = errors.New("convolve: unknown border mode")
)

// Border selects how samples outside the source are resolved.
type Border int

const (
	// BorderReflect101 mirrors without repeating the edge: gfedcb|abcdefgh|gfedcba.
	// It is OpenCV's BORDER_DEFAULT.
	BorderReflect101 Border = iota
	// BorderReplicate repeats the edge sample: aaaaaa|abcdefgh|hhhhhhh.
	BorderReplicate
	// BorderZero treats outside samples as 0.
	BorderZero
)

func (b Border) String() string {
	switch b {
	case BorderReflect101:
		return "reflect101"
	case BorderReplicate:
		return "replicate"
	case BorderZero:
		return "zero"
	default:
		return fmt.Sprintf("border(%d)", int(b))
	}
}

// ParseBorder maps a configuration name onto a Border.
func ParseBorder(name string) (Border, error) {
	switch name {
	case "reflect101", "reflect_101", "default", "":
		return BorderReflect101, nil
	case "replicate":
		return BorderReplicate, nil
	case "zero", "constant":
		return BorderZero, nil
	default:
		return 0, fmt.Errorf("%q: %w", name, ErrUnknownBorder)
	}
}

// Convolver produces a same-size filtered copy of src. Implementations must
// not mutate src or kernel.
type Convolver interface {
	Filter2D(src, kernel *matrix.Dense) (*matrix.Dense, error)
}

// Engine is the pure Go Convolver.
type Engine struct {
	Border  Border
	Workers int // <= 0 means runtime.NumCPU()
}

// NewEngine returns an Engine with the given border and worker count.
func NewEngine(border Border, workers int) *Engine {
	return &Engine{Border: border, Workers: workers}
}

// Filter2D runs the engine with its configured border and workers.
func (e *Engine) Filter2D(src, kernel *matrix.Dense) (*matrix.Dense, error) {
	return Filter2D(src, kernel, e.Border, e.Workers)
}

// Filter2D filters src with kernel and returns a new matrix of src's shape.
func Filter2D(src, kernel *matrix.Dense, border Border, workers int) (*matrix.Dense, error) {
	if src == nil || kernel == nil {
		return nil, fmt.Errorf("Filter2D: %w", matrix.ErrNilMatrix)
	}
	if kernel.Rows() > src.Rows() || kernel.Cols() > src.Cols() {
		return nil, fmt.Errorf("Filter2D kernel %dx%d, source %dx%d: %w",
			kernel.Rows(), kernel.Cols(), src.Rows(), src.Cols(), ErrKernelTooLarge)
	}
	if border < BorderReflect101 || border > BorderZero {
		return nil, fmt.Errorf("Filter2D: %w", ErrUnknownBorder)
	}

	rows, cols := src.Rows(), src.Cols()
	kr, kc := kernel.Rows(), kernel.Cols()
	ay, ax := kr/2, kc/2

	dst, err := matrix.NewDense(rows, cols)
	if err != nil {
		return nil, err
	}

	// Column lookup is shared by every row: colIdx[x*kc+j] is the source
	// column for output x and kernel column j, or -1 for a zero sample.
	colIdx := make([]int, cols*kc)
	for x := 0; x < cols; x++ {
		for j := 0; j < kc; j++ {
			colIdx[x*kc+j] = resolve(x+j-ax, cols, border)
		}
	}

	err = matrix.Shard(rows, workers, func(lo, hi int) error {
		for y := lo; y < hi; y++ {
			out := dst.Row(y)
			for i := 0; i < kr; i++ {
				sy := resolve(y+i-ay, rows, border)
				if sy < 0 {
					continue
				}
				srow := src.Row(sy)
				krow := kernel.Row(i)
				for x := 0; x < cols; x++ {
					idx := colIdx[x*kc : x*kc+kc]
					var acc float64
					for j, w := range krow {
						if sx := idx[j]; sx >= 0 {
							acc += w * srow[sx]
						}
					}
					out[x] += acc
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return dst, nil
}

// resolve maps a possibly out-of-range coordinate into [0, n) or returns -1
// when the sample is outside under BorderZero.
func resolve(p, n int, border Border) int {
	if p >= 0 && p < n {
		return p
	}
	switch border {
	case BorderZero:
		return -1
	case BorderReplicate:
		if p < 0 {
			return 0
		}
		return n - 1
	default:
		if n == 1 {
			return 0
		}
		// Reflect until inside; a kernel no larger than the source needs at
		// most one bounce, the loop keeps the mapping total anyway.
		for p < 0 || p >= n {
			if p < 0 {
				p = -p
			} else {
				p = 2*n - 2 - p
			}
		}
		return p
	}
}
