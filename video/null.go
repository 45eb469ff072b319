package video

import (
	"sync/atomic"

	"github.com/lumenplay/lumen/media"
)

// NullRenderer accepts and discards every frame. Used for headless
// playback (audio only) and in tests.
type NullRenderer struct {
	rendered atomic.Int64
}

// Init always succeeds; there is no output.
func (r *NullRenderer) Init(WindowHandle, int, int) error { return nil }

// Resize is a no-op.
func (r *NullRenderer) Resize(int, int) {}

// Clear is a no-op.
func (r *NullRenderer) Clear() {}

// RenderFrame discards the frame, counting it.
func (r *NullRenderer) RenderFrame(*media.VideoFrame) bool {
	r.rendered.Add(1)
	return true
}

// Present is a no-op.
func (r *NullRenderer) Present() {}

// ClearCaches is a no-op.
func (r *NullRenderer) ClearCaches() {}

// Cleanup is a no-op.
func (r *NullRenderer) Cleanup() {}

// Rendered returns the discarded frame count.
func (r *NullRenderer) Rendered() int64 { return r.rendered.Load() }
