package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"rl-deconv/internal/logger"
	"rl-deconv/internal/raster"

	_ "golang.org/x/image/tiff"
)

// StdlibLoader decodes PNG, JPEG and TIFF with the Go image packages.
type StdlibLoader struct {
	Grayscale bool
	logger    logger.Logger
}

func NewStdlibLoader(grayscale bool, log logger.Logger) *StdlibLoader {
	return &StdlibLoader{Grayscale: grayscale, logger: log}
}

func (l *StdlibLoader) Load(path string) (*ImageData, error) {
	l.logger.Debug("ImageLoader", "loading image", map[string]interface{}{
		"path": path,
	})

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	pixels, depth, err := raster.FromImage(img, l.Grayscale)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	channels := 1
	switch img.(type) {
	case *image.Gray, *image.Gray16:
	default:
		channels = 3
	}

	imageData := &ImageData{
		Pixels:   pixels,
		Width:    pixels.Cols(),
		Height:   pixels.Rows(),
		Channels: channels,
		Depth:    depth,
		Path:     path,
	}

	l.logger.Info("ImageLoader", "image loaded successfully", map[string]interface{}{
		"width":  imageData.Width,
		"height": imageData.Height,
		"depth":  int(depth),
		"format": format,
	})

	return imageData, nil
}
