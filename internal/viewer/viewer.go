// Package viewer shows pipeline stages in fyne windows, one per stage.
package viewer

import (
	"errors"
	"image"
	"strconv"
	"sync/atomic"

	"rl-deconv/internal/matrix"
	"rl-deconv/internal/raster"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

// AppID identifies the application to fyne preferences storage.
const AppID = "io.github.rl-deconv"

const (
	// MinDisplayWidth and MinDisplayHeight bound small images from below so
	// a 32x32 estimate is still visible.
	MinDisplayWidth  = 256
	MinDisplayHeight = 256
)

var ErrNoWindows = errors.New("viewer: nothing to show")

// Viewer owns the stage windows of one run.
type Viewer struct {
	app     fyne.App
	windows []fyne.Window
	running atomic.Bool
}

func New(a fyne.App) *Viewer {
	return &Viewer{app: a}
}

// Show opens a window titled title displaying m as 16-bit grayscale. Values
// outside [0,1] are clipped for display only.
func (v *Viewer) Show(title string, m *matrix.Dense) fyne.Window {
	img := raster.ToGray16(m)

	w := v.app.NewWindow(title)
	w.SetContent(stageContent(title, img))
	w.Resize(displaySize(img.Bounds()))
	w.Show()

	v.windows = append(v.windows, w)
	return w
}

// Run blocks until every window is closed.
func (v *Viewer) Run() error {
	if len(v.windows) == 0 {
		return ErrNoWindows
	}
	v.running.Store(true)
	defer v.running.Store(false)
	v.app.Run()
	return nil
}

// Shutdown closes the windows and stops the event loop. It is a no-op
// unless Run is blocking.
func (v *Viewer) Shutdown() {
	if !v.running.Load() {
		return
	}
	fyne.Do(func() {
		for _, w := range v.windows {
			w.Close()
		}
		v.app.Quit()
	})
}

func stageContent(title string, img image.Image) fyne.CanvasObject {
	view := canvas.NewImageFromImage(img)
	view.FillMode = canvas.ImageFillContain
	view.ScaleMode = canvas.ImageScalePixels
	view.SetMinSize(displaySize(img.Bounds()))

	b := img.Bounds()
	caption := widget.NewLabel(title + " " + strconv.Itoa(b.Dx()) + "x" + strconv.Itoa(b.Dy()))

	return container.NewBorder(caption, nil, nil, nil, view)
}

func displaySize(b image.Rectangle) fyne.Size {
	w, h := float32(b.Dx()), float32(b.Dy())
	if w < MinDisplayWidth {
		w = MinDisplayWidth
	}
	if h < MinDisplayHeight {
		h = MinDisplayHeight
	}
	return fyne.NewSize(w, h)
}
