package pipeline_test

import (
	"image"
	"image/color"
)

func colorCard() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for x := 0; x < 4; x++ {
		img.SetRGBA(x, 0, color.RGBA{R: 200, G: 40, B: 10, A: 255})
		img.SetRGBA(x, 1, color.RGBA{R: 10, G: 40, B: 200, A: 255})
	}
	return img
}
