package pipeline

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"rl-deconv/internal/matrix"
	"rl-deconv/internal/raster"
)

// PNGSaver writes 8- or 16-bit grayscale PNG files.
type PNGSaver struct{}

func (PNGSaver) Save(path string, m *matrix.Dense, depth raster.Depth) error {
	if m == nil {
		return matrix.ErrNilMatrix
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".png" {
		return fmt.Errorf("unsupported output format %q: only .png is written without OpenCV", ext)
	}

	var img image.Image
	switch depth {
	case raster.Depth8:
		img = raster.ToGray(m)
	case raster.Depth16:
		img = raster.ToGray16(m)
	default:
		return fmt.Errorf("%d bits: %w", int(depth), raster.ErrUnsupportedDepth)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode PNG: %w", err)
	}

	return f.Close()
}
