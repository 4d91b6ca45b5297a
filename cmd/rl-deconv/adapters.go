package main

import (
	"rl-deconv/internal/matrix"
	"rl-deconv/internal/opencv"
	"rl-deconv/internal/pipeline"
	"rl-deconv/internal/raster"
	"rl-deconv/internal/viewer"
)

type opencvLoader struct {
	grayscale bool
}

func (l opencvLoader) Load(path string) (*pipeline.ImageData, error) {
	var opts []opencv.LoadOption
	if l.grayscale {
		opts = append(opts, opencv.WithGrayscale())
	}
	img, err := opencv.Load(path, opts...)
	if err != nil {
		return nil, err
	}
	return &pipeline.ImageData{
		Pixels:   img.Pixels,
		Width:    img.Pixels.Cols(),
		Height:   img.Pixels.Rows(),
		Channels: img.Channels,
		Depth:    img.Depth,
		Path:     path,
	}, nil
}

type opencvSaver struct{}

func (opencvSaver) Save(path string, m *matrix.Dense, depth raster.Depth) error {
	return opencv.Save(path, m, depth)
}

// display drops the window handle viewer.Show returns.
type display struct {
	v *viewer.Viewer
}

func (d display) Show(title string, m *matrix.Dense) {
	d.v.Show(title, m)
}
