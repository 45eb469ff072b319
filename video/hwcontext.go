package video

import (
	"fmt"
	"log/slog"
)

// surfacePoolExtra is the headroom added on top of the codec's own surface
// minimum: frames sitting in the video frame queue plus a couple in flight
// inside the scheduler and renderer keep their pool slots pinned, so the
// decoder needs spares to keep producing.
const surfacePoolExtra = 8

// DecoderContext negotiates hardware decoding: it owns the GPU device and
// the surface pool the codec writes into, and hands the renderer a shared
// reference to the same device so decoded surfaces are sampled in place.
type DecoderContext struct {
	log    *slog.Logger
	kind   HWKind
	device *DeviceHandle
	pool   *SurfacePool

	width       int
	height      int
	codecMin    int
	negotiated  SurfaceFormat
	initialized bool
}

// NewDecoderContext creates an empty context. If log is nil,
// slog.Default() is used.
func NewDecoderContext(log *slog.Logger) *DecoderContext {
	if log == nil {
		log = slog.Default()
	}
	return &DecoderContext{log: log.With("component", "hw-decoder")}
}

// Initialize takes ownership of the platform device for the given backend
// kind and records the stream geometry. codecMinSurfaces is the codec's
// own pool recommendation; the pool itself is created lazily when the
// codec calls back to negotiate the surface format.
func (c *DecoderContext) Initialize(dev Device, kind HWKind, codecMinSurfaces, width, height int) error {
	if dev == nil {
		return ErrNotInitialized
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("video: bad stream geometry %dx%d", width, height)
	}
	if codecMinSurfaces < 1 {
		codecMinSurfaces = 1
	}
	c.device = NewDeviceHandle(dev)
	c.kind = kind
	c.width = width
	c.height = height
	c.codecMin = codecMinSurfaces
	c.initialized = true
	c.log.Info("hardware decoder ready", "kind", kind.String(),
		"width", width, "height", height, "codec_min_surfaces", codecMinSurfaces)
	return nil
}

// NegotiateFormat is the format-selection callback the codec invokes
// lazily once it knows its candidate surface formats. It picks the first
// format the engine can render and creates the surface pool with binding
// flags for both decoder writes and shader reads — the requirement that
// makes the zero-copy path possible.
func (c *DecoderContext) NegotiateFormat(candidates []SurfaceFormat) (SurfaceFormat, error) {
	if !c.initialized {
		return 0, ErrNotInitialized
	}
	chosen := SurfaceNV12
	found := false
	for _, f := range candidates {
		if f == SurfaceNV12 || f == SurfaceP010 {
			chosen = f
			found = true
			break
		}
	}
	if !found {
		return 0, fmt.Errorf("video: no renderable surface format among %v", candidates)
	}

	pool, err := NewSurfacePool(c.device.Device(), SurfaceDesc{
		Width:  c.width,
		Height: c.height,
		Format: chosen,
		Bind:   BindDecoder | BindShaderResource,
	}, c.codecMin+surfacePoolExtra)
	if err != nil {
		return 0, err
	}
	c.pool = pool
	c.negotiated = chosen
	c.log.Info("surface pool created", "format", chosen.String(), "surfaces", pool.Size())
	return chosen, nil
}

// Pool returns the surface pool, nil before negotiation.
func (c *DecoderContext) Pool() *SurfacePool { return c.pool }

// Kind returns the hardware backend in use.
func (c *DecoderContext) Kind() HWKind { return c.kind }

// SharedDevice returns a retained handle to the GPU device for the
// renderer. The renderer must use this handle, not a device of its own;
// a second device would force a CPU copy on every frame.
func (c *DecoderContext) SharedDevice() (*DeviceHandle, error) {
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	return c.device.Retain(), nil
}

// ResetPool force-frees every pool slot. Called during seek after the
// frame queue has been cleared and the renderer's caches dropped.
func (c *DecoderContext) ResetPool() {
	if c.pool != nil {
		c.pool.ResetAll()
	}
}

// Close releases the context's device reference. Surfaces die with the
// device when the renderer drops its reference too.
func (c *DecoderContext) Close() {
	if c.device != nil {
		c.device.Release()
		c.device = nil
	}
	c.initialized = false
}
