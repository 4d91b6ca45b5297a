package opencv

import (
	"fmt"
	"image"

	"rl-deconv/internal/convolve"
	"rl-deconv/internal/matrix"

	"gocv.io/x/gocv"
)

// Filter2DEngine runs the correlation through OpenCV's filter2D with the
// anchor at the kernel center. It is interchangeable with convolve.Engine.
type Filter2DEngine struct {
	Border convolve.Border
}

var _ convolve.Convolver = (*Filter2DEngine)(nil)

// NewFilter2DEngine returns an OpenCV-backed convolver.
func NewFilter2DEngine(border convolve.Border) *Filter2DEngine {
	return &Filter2DEngine{Border: border}
}

// Filter2D implements convolve.Convolver.
func (e *Filter2DEngine) Filter2D(src, kernel *matrix.Dense) (*matrix.Dense, error) {
	if src == nil || kernel == nil {
		return nil, fmt.Errorf("opencv filter2d: %w", matrix.ErrNilMatrix)
	}
	if kernel.Rows() > src.Rows() || kernel.Cols() > src.Cols() {
		return nil, fmt.Errorf("opencv filter2d: kernel %dx%d, image %dx%d: %w",
			kernel.Rows(), kernel.Cols(), src.Rows(), src.Cols(), convolve.ErrKernelTooLarge)
	}
	border, err := borderType(e.Border)
	if err != nil {
		return nil, err
	}

	s, err := writeDense(src)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	k, err := writeDense(kernel)
	if err != nil {
		return nil, err
	}
	defer k.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	// Anchor is floor(cols/2), floor(rows/2) so even kernels match convolve.Engine.
	anchor := image.Pt(kernel.Cols()/2, kernel.Rows()/2)
	gocv.Filter2D(s, &dst, gocv.MatTypeCV64F, k, anchor, 0, border)

	if err := validateMat(dst, "filter2d"); err != nil {
		return nil, err
	}

	return readDense(dst)
}

func borderType(b convolve.Border) (gocv.BorderType, error) {
	switch b {
	case convolve.BorderReflect101:
		return gocv.BorderReflect101, nil
	case convolve.BorderReplicate:
		return gocv.BorderReplicate, nil
	case convolve.BorderZero:
		return gocv.BorderConstant, nil
	default:
		return 0, fmt.Errorf("opencv filter2d: %d: %w", int(b), convolve.ErrUnknownBorder)
	}
}
