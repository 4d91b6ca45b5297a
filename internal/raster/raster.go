// Package raster converts between Go images and normalized float matrices.
//
// Pixel depth is explicit: 8-bit samples are divided by 255 and 16-bit
// samples by 65535 on the way in, and the inverse scale (with saturation)
// is applied on the way out.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"rl-deconv/internal/matrix"
)

var (
	// ErrUnsupportedDepth is returned for a pixel depth other than 8 or 16 bits.
	ErrUnsupportedDepth = errors.New("raster: unsupported pixel depth")

	// ErrMultiChannel is returned for color input when reduction is disabled.
	ErrMultiChannel = errors.New("raster: multi-channel image requires grayscale reduction")

	// ErrEmptyImage is returned for a nil or zero-area image.
	ErrEmptyImage = errors.New("raster: empty image")
)

// Depth is the number of bits per sample.
type Depth int

const (
	Depth8  Depth = 8
	Depth16 Depth = 16
)

// Divisor returns the full-scale value for the depth.
func (d Depth) Divisor() (float64, error) {
	switch d {
	case Depth8:
		return 255, nil
	case Depth16:
		return 65535, nil
	default:
		return 0, fmt.Errorf("%d bits: %w", int(d), ErrUnsupportedDepth)
	}
}

// FromImage converts img to a matrix normalized to [0,1]. Gray and Gray16
// images convert directly. Other color models are rejected unless
// reduceColor is set, in which case they are reduced through
// color.Gray16Model and reported as 16-bit.
func FromImage(img image.Image, reduceColor bool) (*matrix.Dense, Depth, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, 0, ErrEmptyImage
	}
	b := img.Bounds()
	m, err := matrix.NewDense(b.Dy(), b.Dx())
	if err != nil {
		return nil, 0, err
	}

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			row := m.Row(y)
			for x := range row {
				row[x] = float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y) / 255
			}
		}
		return m, Depth8, nil
	case *image.Gray16:
		for y := 0; y < b.Dy(); y++ {
			row := m.Row(y)
			for x := range row {
				row[x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y) / 65535
			}
		}
		return m, Depth16, nil
	}

	if !reduceColor {
		return nil, 0, fmt.Errorf("%T: %w", img, ErrMultiChannel)
	}
	for y := 0; y < b.Dy(); y++ {
		row := m.Row(y)
		for x := range row {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			row[x] = float64(g.Y) / 65535
		}
	}

	return m, Depth16, nil
}

// ToGray16 renders m as a 16-bit grayscale image, mapping [0,1] onto
// [0,65535]. Values outside [0,1] saturate; NaN renders as 0.
func ToGray16(m *matrix.Dense) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, m.Cols(), m.Rows()))
	for y := 0; y < m.Rows(); y++ {
		for x, v := range m.Row(y) {
			img.SetGray16(x, y, color.Gray16{Y: uint16(Quantize(v, 65535))})
		}
	}

	return img
}

// ToGray renders m as an 8-bit grayscale image with saturation.
func ToGray(m *matrix.Dense) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Cols(), m.Rows()))
	for y := 0; y < m.Rows(); y++ {
		for x, v := range m.Row(y) {
			img.SetGray(x, y, color.Gray{Y: uint8(Quantize(v, 255))})
		}
	}

	return img
}

// Quantize scales a normalized sample to [0, full] with rounding and saturation.
func Quantize(v, full float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return full
	}

	return math.Round(v * full)
}
