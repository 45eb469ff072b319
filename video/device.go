// Package video implements the video half of the playback pipeline: the
// hardware decoder context and its surface pool, the render scheduler that
// paces frames against the master clock, the renderer capability with its
// zero-copy view cache, and the software fallback path.
package video

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lumenplay/lumen/media"
)

// Errors reported by the video path.
var (
	ErrNotInitialized = errors.New("video: not initialized")
	ErrDeviceLost     = errors.New("video: device lost")
	ErrPoolExhausted  = errors.New("video: surface pool exhausted")
	ErrWrongDevice    = errors.New("video: surface belongs to another device")
)

// WindowHandle is the host's native window identifier, opaque to the engine.
type WindowHandle uintptr

// BindFlags describe how a surface may be used. Zero-copy rendering needs
// surfaces bound for both decoder writes and shader reads.
type BindFlags uint8

const (
	BindDecoder BindFlags = 1 << iota
	BindShaderResource
)

// SurfaceFormat is the pixel layout of a GPU surface.
type SurfaceFormat uint8

const (
	SurfaceNV12 SurfaceFormat = iota
	SurfaceP010
	SurfaceRGBA
)

// String returns the conventional format name.
func (f SurfaceFormat) String() string {
	switch f {
	case SurfaceNV12:
		return "nv12"
	case SurfaceP010:
		return "p010"
	case SurfaceRGBA:
		return "rgba"
	default:
		return "invalid"
	}
}

// SurfaceDesc describes the surfaces of one decoder pool.
type SurfaceDesc struct {
	Width  int
	Height int
	Format SurfaceFormat
	Bind   BindFlags
}

// View is a typed binding through which the pixel shader reads one plane
// of a surface.
type View interface {
	Release()
}

// Device is the platform GPU capability shared between the hardware
// decoder and the renderer. The host injects the concrete implementation;
// the engine owns pooling, view caching, and lifetime.
type Device interface {
	// CreateSurface allocates one texture matching desc.
	CreateSurface(desc SurfaceDesc) (media.Surface, error)
	// CreateView builds a shader resource view for one plane (0 = luma,
	// 1 = chroma) of the given surface array slice.
	CreateView(s media.Surface, slice, plane int) (View, error)
	// DrawTexturedQuad draws a full-screen quad sampling the given plane
	// views through the YUV-to-RGB conversion shader.
	DrawTexturedQuad(luma, chroma View) error
	// Present flips the swap chain.
	Present() error
	// Release frees the device. Called exactly once, by the last holder.
	Release()
}

// DeviceHandle shares one Device between the decoder context and the
// renderer. Whichever side is destroyed last releases the device.
type DeviceHandle struct {
	dev  Device
	refs *atomic.Int32
}

// NewDeviceHandle wraps dev with a reference count of one.
func NewDeviceHandle(dev Device) *DeviceHandle {
	refs := &atomic.Int32{}
	refs.Store(1)
	return &DeviceHandle{dev: dev, refs: refs}
}

// Retain adds a reference and returns a handle sharing the same count.
func (h *DeviceHandle) Retain() *DeviceHandle {
	h.refs.Add(1)
	return &DeviceHandle{dev: h.dev, refs: h.refs}
}

// Release drops one reference, freeing the device when it was the last.
func (h *DeviceHandle) Release() {
	if h.refs.Add(-1) == 0 {
		h.dev.Release()
	}
}

// Device returns the underlying device.
func (h *DeviceHandle) Device() Device { return h.dev }

// SurfacePool is the fixed set of textures a hardware decoder writes into.
// Acquiring pins a slot until the presenting stage releases the frame.
type SurfacePool struct {
	mu       sync.Mutex
	surfaces []media.Surface
	inUse    []bool
	gen      uint64
}

// NewSurfacePool allocates count surfaces on dev.
func NewSurfacePool(dev Device, desc SurfaceDesc, count int) (*SurfacePool, error) {
	p := &SurfacePool{
		surfaces: make([]media.Surface, 0, count),
		inUse:    make([]bool, count),
	}
	for i := 0; i < count; i++ {
		s, err := dev.CreateSurface(desc)
		if err != nil {
			return nil, fmt.Errorf("video: surface %d/%d: %w", i, count, err)
		}
		p.surfaces = append(p.surfaces, s)
	}
	return p, nil
}

// Acquire pins a free slot, returning the surface and its release func.
func (p *SurfacePool) Acquire() (media.Surface, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, busy := range p.inUse {
		if !busy {
			p.inUse[i] = true
			idx := i
			gen := p.gen
			release := func() {
				p.mu.Lock()
				defer p.mu.Unlock()
				// A pool reset between acquire and release (seek)
				// already freed every slot.
				if p.gen == gen {
					p.inUse[idx] = false
				}
			}
			return p.surfaces[i], release, nil
		}
	}
	return nil, nil, ErrPoolExhausted
}

// ResetAll force-frees every slot. Used on seek after the queues holding
// pinned frames have been cleared.
func (p *SurfacePool) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	for i := range p.inUse {
		p.inUse[i] = false
	}
}

// Size returns the pool's surface count.
func (p *SurfacePool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.surfaces)
}

// InUse returns the number of pinned slots.
func (p *SurfacePool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, busy := range p.inUse {
		if busy {
			n++
		}
	}
	return n
}
