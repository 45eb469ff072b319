// Package ebitenrender adapts the software render path to an Ebitengine
// host: composed frames are uploaded into an *ebiten.Image the host draws
// each frame.
package ebitenrender

import (
	"image"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
)

// Framebuffer implements video.Framebuffer over an ebiten.Image. The
// image is reused between frames and recreated only when the window
// geometry changes.
type Framebuffer struct {
	mu  sync.Mutex
	img *ebiten.Image
}

// New creates an empty framebuffer; the backing image is allocated on the
// first Blit.
func New() *Framebuffer {
	return &Framebuffer{}
}

// Blit uploads the composed frame. Runs on the UI thread: the renderer
// proxy marshals every render call there.
func (f *Framebuffer) Blit(img *image.RGBA) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if f.img == nil || f.img.Bounds().Dx() != w || f.img.Bounds().Dy() != h {
		f.img = ebiten.NewImage(w, h)
	}
	f.img.WritePixels(img.Pix)
}

// Present is a no-op: the host's draw loop shows the image every tick.
func (f *Framebuffer) Present() {}

// Image returns the current frame image, nil before the first Blit. The
// host draws it in its Draw callback.
func (f *Framebuffer) Image() *ebiten.Image {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.img
}
