package pipeline

import (
	"time"

	"rl-deconv/internal/matrix"
	"rl-deconv/internal/raster"
)

// ImageData is a decoded source image normalized to [0,1].
type ImageData struct {
	Pixels   *matrix.Dense
	Width    int
	Height   int
	Channels int
	Depth    raster.Depth
	Path     string
}

// ImageLoader reads a source image from disk.
type ImageLoader interface {
	Load(path string) (*ImageData, error)
}

// ImageSaver writes an estimate to disk at the given depth.
type ImageSaver interface {
	Save(path string, m *matrix.Dense, depth raster.Depth) error
}

// Display receives each stage image once the run has finished.
type Display interface {
	Show(title string, m *matrix.Dense)
}

// MetricsRecorder receives run statistics.
type MetricsRecorder interface {
	Iteration(guarded int, mse float64)
	ObserveStage(stage string, d time.Duration)
	RunFinished(err error)
}
