package video

import (
	"log/slog"
	"sync/atomic"

	"github.com/lumenplay/lumen/media"
)

// Renderer is the presentation capability. Exactly one backend is chosen
// at open: the zero-copy GPU renderer when hardware decoding is active,
// otherwise a software path. All methods must execute on the host's UI
// thread; wrap concrete renderers with OnUIThread to enforce that.
type Renderer interface {
	Init(window WindowHandle, width, height int) error
	Resize(width, height int)
	Clear()
	// RenderFrame displays the frame, reporting success. Per-frame
	// failures are skipped by the caller, not fatal.
	RenderFrame(f *media.VideoFrame) bool
	// Present re-presents the last composed image without a new frame.
	Present()
	// ClearCaches invalidates identity-keyed GPU state (view caches).
	// Called on seek before the decoder recycles surfaces, and on stop.
	ClearCaches()
	Cleanup()
}

// GPURenderer is the zero-copy backend: it samples the decoder's surfaces
// directly through cached shader resource views on the shared device.
type GPURenderer struct {
	log    *slog.Logger
	device *DeviceHandle
	cache  ViewCache

	width  int
	height int
	inited bool

	// Last bound plane views, reused when the scheduler re-presents.
	lastLuma   View
	lastChroma View

	presents atomic.Int64
}

// NewGPURenderer creates a renderer over the decoder's shared device
// handle. The renderer takes ownership of the handle reference.
func NewGPURenderer(device *DeviceHandle, log *slog.Logger) *GPURenderer {
	if log == nil {
		log = slog.Default()
	}
	return &GPURenderer{log: log.With("component", "gpu-renderer"), device: device}
}

// Init binds the renderer to the native window.
func (r *GPURenderer) Init(window WindowHandle, width, height int) error {
	if r.device == nil {
		return ErrNotInitialized
	}
	if window == 0 {
		return ErrNotInitialized
	}
	r.width = width
	r.height = height
	r.inited = true
	return nil
}

// Resize updates the output geometry.
func (r *GPURenderer) Resize(width, height int) {
	r.width = width
	r.height = height
}

// Clear presents an empty frame.
func (r *GPURenderer) Clear() {
	if r.inited {
		r.device.Device().Present()
	}
}

// RenderFrame looks up (or creates) the frame surface's plane views, draws
// the conversion quad, and presents. CPU frames are not this backend's
// job and are reported as failures so the caller can log and skip.
func (r *GPURenderer) RenderFrame(f *media.VideoFrame) bool {
	if !r.inited || !f.Hardware() {
		return false
	}
	dev := r.device.Device()
	luma, chroma, err := r.cache.Views(dev, f.Surface, f.Slice)
	if err != nil {
		r.log.Warn("view creation failed", "error", err)
		return false
	}
	if err := dev.DrawTexturedQuad(luma, chroma); err != nil {
		r.log.Warn("draw failed", "error", err)
		return false
	}
	if err := dev.Present(); err != nil {
		r.log.Warn("present failed", "error", err)
		return false
	}
	r.lastLuma, r.lastChroma = luma, chroma
	r.presents.Add(1)
	return true
}

// Present redraws the last bound surface views, implementing frame repeat
// without advancing the queue.
func (r *GPURenderer) Present() {
	if !r.inited || r.lastLuma == nil {
		return
	}
	dev := r.device.Device()
	if err := dev.DrawTexturedQuad(r.lastLuma, r.lastChroma); err != nil {
		return
	}
	dev.Present()
	r.presents.Add(1)
}

// ClearCaches drops every cached view. The decoder's surfaces may be
// recycled right after, so stale views must not survive this call.
func (r *GPURenderer) ClearCaches() {
	r.lastLuma, r.lastChroma = nil, nil
	r.cache.Clear()
}

// CacheStats exposes the view cache counters for diagnostics.
func (r *GPURenderer) CacheStats() CacheStats { return r.cache.Stats() }

// Presents returns the number of completed presents.
func (r *GPURenderer) Presents() int64 { return r.presents.Load() }

// Cleanup releases caches and the device reference.
func (r *GPURenderer) Cleanup() {
	r.ClearCaches()
	if r.device != nil {
		r.device.Release()
		r.device = nil
	}
	r.inited = false
}
