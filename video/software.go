package video

import (
	"image"
	"log/slog"
	"sync/atomic"

	xdraw "golang.org/x/image/draw"

	"github.com/lumenplay/lumen/media"
)

// Framebuffer is the host's presentation target for the software path:
// typically a streaming texture or window-sized image the host blits.
type Framebuffer interface {
	// Blit uploads the composed window-sized image.
	Blit(img *image.RGBA)
	// Present makes the last blit visible.
	Present()
}

// SoftwareRenderer is the CPU fallback: it converts decoded pixel buffers
// to RGBA, letterboxes them into the window preserving aspect ratio, and
// hands the result to the host framebuffer. The scaler is precomputed and
// kept between frames; it is rebuilt only when the source geometry or
// pixel format or the window geometry changes.
type SoftwareRenderer struct {
	log *slog.Logger
	fb  Framebuffer

	width  int
	height int
	inited bool

	scaler   xdraw.Scaler
	scaleDst image.Rectangle
	srcW     int
	srcH     int
	srcFmt   media.PixelFormat

	canvas *image.RGBA
	ycbcr  *image.YCbCr

	presents atomic.Int64
}

// NewSoftwareRenderer creates a software renderer over the host
// framebuffer. If log is nil, slog.Default() is used.
func NewSoftwareRenderer(fb Framebuffer, log *slog.Logger) *SoftwareRenderer {
	if log == nil {
		log = slog.Default()
	}
	return &SoftwareRenderer{log: log.With("component", "sw-renderer"), fb: fb}
}

// Init binds the renderer to the window geometry. The window handle is
// unused: the host framebuffer already targets the window.
func (r *SoftwareRenderer) Init(_ WindowHandle, width, height int) error {
	if r.fb == nil {
		return ErrNotInitialized
	}
	r.resizeLocked(width, height)
	r.inited = true
	return nil
}

// Resize rebuilds the canvas and invalidates the scaler.
func (r *SoftwareRenderer) Resize(width, height int) {
	r.resizeLocked(width, height)
}

func (r *SoftwareRenderer) resizeLocked(width, height int) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	r.width = width
	r.height = height
	r.canvas = image.NewRGBA(image.Rect(0, 0, width, height))
	r.scaler = nil
}

// Clear blits a black canvas.
func (r *SoftwareRenderer) Clear() {
	if !r.inited {
		return
	}
	for i := range r.canvas.Pix {
		r.canvas.Pix[i] = 0
	}
	r.fb.Blit(r.canvas)
	r.fb.Present()
}

// RenderFrame converts, scales, letterboxes, and presents a CPU frame.
// Hardware frames cannot take this path.
func (r *SoftwareRenderer) RenderFrame(f *media.VideoFrame) bool {
	if !r.inited || f.Hardware() || f.Width <= 0 || f.Height <= 0 {
		return false
	}

	src, ok := r.sourceImage(f)
	if !ok {
		return false
	}

	if r.scaler == nil || f.Width != r.srcW || f.Height != r.srcH || f.Format != r.srcFmt {
		r.srcW, r.srcH, r.srcFmt = f.Width, f.Height, f.Format
		r.scaleDst = letterbox(r.width, r.height, f.Width, f.Height)
		r.scaler = xdraw.CatmullRom.NewScaler(
			r.scaleDst.Dx(), r.scaleDst.Dy(), f.Width, f.Height)
		for i := range r.canvas.Pix {
			r.canvas.Pix[i] = 0
		}
	}

	r.scaler.Scale(r.canvas, r.scaleDst, src, src.Bounds(), xdraw.Src, nil)
	r.fb.Blit(r.canvas)
	r.fb.Present()
	r.presents.Add(1)
	return true
}

// sourceImage wraps the frame's pixels as an image without copying planes
// where the layout allows it.
func (r *SoftwareRenderer) sourceImage(f *media.VideoFrame) (image.Image, bool) {
	switch f.Format {
	case media.PixelRGBA:
		stride := f.Stride
		if stride <= 0 {
			stride = f.Width * 4
		}
		if len(f.Pixels) < stride*f.Height {
			return nil, false
		}
		return &image.RGBA{Pix: f.Pixels, Stride: stride,
			Rect: image.Rect(0, 0, f.Width, f.Height)}, true

	case media.PixelYUV420P:
		ySize := f.Width * f.Height
		cw, ch := (f.Width+1)/2, (f.Height+1)/2
		cSize := cw * ch
		if len(f.Pixels) < ySize+2*cSize {
			return nil, false
		}
		return &image.YCbCr{
			Y:              f.Pixels[:ySize],
			Cb:             f.Pixels[ySize : ySize+cSize],
			Cr:             f.Pixels[ySize+cSize : ySize+2*cSize],
			YStride:        f.Width,
			CStride:        cw,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           image.Rect(0, 0, f.Width, f.Height),
		}, true

	case media.PixelNV12:
		ySize := f.Width * f.Height
		cw, ch := (f.Width+1)/2, (f.Height+1)/2
		cSize := cw * ch
		if len(f.Pixels) < ySize+2*cSize {
			return nil, false
		}
		// Deinterleave UV into the reused YCbCr buffers.
		if r.ycbcr == nil || r.ycbcr.Rect.Dx() != f.Width || r.ycbcr.Rect.Dy() != f.Height {
			r.ycbcr = image.NewYCbCr(image.Rect(0, 0, f.Width, f.Height),
				image.YCbCrSubsampleRatio420)
		}
		copy(r.ycbcr.Y, f.Pixels[:ySize])
		uv := f.Pixels[ySize:]
		for i := 0; i < cSize; i++ {
			r.ycbcr.Cb[i] = uv[2*i]
			r.ycbcr.Cr[i] = uv[2*i+1]
		}
		return r.ycbcr, true

	default:
		return nil, false
	}
}

// Present re-blits the current canvas, used for frame repeat.
func (r *SoftwareRenderer) Present() {
	if !r.inited {
		return
	}
	r.fb.Blit(r.canvas)
	r.fb.Present()
	r.presents.Add(1)
}

// ClearCaches drops the precomputed scaler; the software path holds no
// GPU identities.
func (r *SoftwareRenderer) ClearCaches() {
	r.scaler = nil
}

// Presents returns the number of completed presents.
func (r *SoftwareRenderer) Presents() int64 { return r.presents.Load() }

// Cleanup releases buffers.
func (r *SoftwareRenderer) Cleanup() {
	r.canvas = nil
	r.ycbcr = nil
	r.scaler = nil
	r.inited = false
}

// letterbox fits src into dst preserving aspect ratio, centered.
func letterbox(dstW, dstH, srcW, srcH int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return image.Rect(0, 0, dstW, dstH)
	}
	w := dstW
	h := w * srcH / srcW
	if h > dstH {
		h = dstH
		w = h * srcW / srcH
	}
	x := (dstW - w) / 2
	y := (dstH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}
