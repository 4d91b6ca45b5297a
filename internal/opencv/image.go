// Package opencv is the gocv boundary: it decodes image files into
// normalized single-channel matrices, encodes results back, and offers
// OpenCV's filter2D as a convolve.Convolver.
package opencv

import (
	"errors"
	"fmt"

	"rl-deconv/internal/matrix"
	"rl-deconv/internal/raster"

	"gocv.io/x/gocv"
)

var (
	// ErrDecode is returned when OpenCV cannot read or decode an image.
	ErrDecode = errors.New("opencv: image could not be decoded")

	// ErrEncode is returned when OpenCV cannot write an image.
	ErrEncode = errors.New("opencv: image could not be written")

	// ErrUnsupportedChannels is returned for a channel count other than 1, 3 or 4.
	ErrUnsupportedChannels = errors.New("opencv: unsupported channel count")
)

// Image is a decoded, normalized single-channel image.
type Image struct {
	Pixels   *matrix.Dense // samples in [0,1]
	Channels int           // channel count of the source file
	Depth    raster.Depth  // bits per sample of the source file
}

type loadOptions struct {
	grayscale bool
}

// LoadOption configures Load and Decode.
type LoadOption func(*loadOptions)

// WithGrayscale reduces BGR and BGRA sources to one channel instead of
// rejecting them.
func WithGrayscale() LoadOption {
	return func(o *loadOptions) { o.grayscale = true }
}

// Load reads the file at path unchanged (depth and channels preserved) and
// normalizes it by its depth.
func Load(path string, opts ...LoadOption) (*Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadUnchanged)
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("%s: %w", path, ErrDecode)
	}

	return fromMat(mat, opts)
}

// Decode is Load for in-memory encoded data.
func Decode(data []byte, opts ...LoadOption) (*Image, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadUnchanged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, ErrDecode
	}

	return fromMat(mat, opts)
}

func fromMat(mat gocv.Mat, opts []LoadOption) (*Image, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := validateMat(mat, "load"); err != nil {
		return nil, err
	}

	depth, err := depthOf(mat.Type())
	if err != nil {
		return nil, err
	}
	divisor, err := depth.Divisor()
	if err != nil {
		return nil, err
	}

	channels := mat.Channels()
	gray, err := toSingleChannel(mat, channels, o.grayscale)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	f := gocv.NewMat()
	defer f.Close()
	gray.ConvertTo(&f, gocv.MatTypeCV64FC1)

	pixels, err := readDense(f)
	if err != nil {
		return nil, err
	}
	for r := 0; r < pixels.Rows(); r++ {
		row := pixels.Row(r)
		for c := range row {
			row[c] /= divisor
		}
	}

	return &Image{Pixels: pixels, Channels: channels, Depth: depth}, nil
}

// toSingleChannel returns a new Mat the caller must close.
func toSingleChannel(src gocv.Mat, channels int, reduce bool) (gocv.Mat, error) {
	if channels == 1 {
		return src.Clone(), nil
	}
	if !reduce {
		return gocv.Mat{}, fmt.Errorf("%d channels: %w", channels, raster.ErrMultiChannel)
	}

	dst := gocv.NewMat()
	switch channels {
	case 3:
		gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	case 4:
		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(src, &bgr, gocv.ColorBGRAToBGR)
		gocv.CvtColor(bgr, &dst, gocv.ColorBGRToGray)
	default:
		dst.Close()
		return gocv.Mat{}, fmt.Errorf("%d channels: %w", channels, ErrUnsupportedChannels)
	}
	if dst.Empty() {
		dst.Close()
		return gocv.Mat{}, fmt.Errorf("grayscale reduction of %d channels: %w", channels, ErrDecode)
	}

	return dst, nil
}

// Save writes m to path at the given depth. Samples are scaled from [0,1]
// to full range with OpenCV's saturating conversion.
func Save(path string, m *matrix.Dense, depth raster.Depth) error {
	divisor, err := depth.Divisor()
	if err != nil {
		return err
	}
	target := gocv.MatTypeCV8UC1
	if depth == raster.Depth16 {
		target = gocv.MatTypeCV16UC1
	}

	f, err := writeDense(m)
	if err != nil {
		return err
	}
	defer f.Close()

	out := gocv.NewMat()
	defer out.Close()
	f.ConvertToWithParams(&out, target, float32(divisor), 0)

	if ok := gocv.IMWrite(path, out); !ok {
		return fmt.Errorf("%s: %w", path, ErrEncode)
	}

	return nil
}

func depthOf(t gocv.MatType) (raster.Depth, error) {
	switch t {
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC4:
		return raster.Depth8, nil
	case gocv.MatTypeCV16UC1, gocv.MatTypeCV16UC3, gocv.MatTypeCV16UC4:
		return raster.Depth16, nil
	default:
		return 0, fmt.Errorf("mat type %d: %w", int(t), raster.ErrUnsupportedDepth)
	}
}

func validateMat(mat gocv.Mat, operation string) error {
	if mat.Empty() {
		return fmt.Errorf("mat is empty for operation: %s: %w", operation, ErrDecode)
	}
	if mat.Rows() <= 0 || mat.Cols() <= 0 {
		return fmt.Errorf("mat has invalid dimensions %dx%d for operation: %s: %w",
			mat.Cols(), mat.Rows(), operation, matrix.ErrInvalidDimensions)
	}

	return nil
}

// readDense copies a CV_64FC1 Mat into a new matrix.
func readDense(mat gocv.Mat) (*matrix.Dense, error) {
	if err := validateMat(mat, "read"); err != nil {
		return nil, err
	}
	m, err := matrix.NewDense(mat.Rows(), mat.Cols())
	if err != nil {
		return nil, err
	}
	for r := 0; r < m.Rows(); r++ {
		row := m.Row(r)
		for c := range row {
			row[c] = mat.GetDoubleAt(r, c)
		}
	}

	return m, nil
}

// writeDense copies m into a new CV_64FC1 Mat the caller must close.
func writeDense(m *matrix.Dense) (gocv.Mat, error) {
	if m == nil {
		return gocv.Mat{}, matrix.ErrNilMatrix
	}
	mat := gocv.NewMatWithSize(m.Rows(), m.Cols(), gocv.MatTypeCV64FC1)
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("failed to create Mat with size %dx%d", m.Cols(), m.Rows())
	}
	for r := 0; r < m.Rows(); r++ {
		for c, v := range m.Row(r) {
			mat.SetDoubleAt(r, c, v)
		}
	}

	return mat, nil
}
