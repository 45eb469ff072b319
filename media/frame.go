package media

// SampleFormat identifies the in-memory layout of one PCM sample.
type SampleFormat uint8

const (
	SampleU8 SampleFormat = iota
	SampleS16
	SampleS32
	SampleF32
	SampleF64
)

// Bytes returns the size of a single sample in bytes.
func (f SampleFormat) Bytes() int {
	switch f {
	case SampleU8:
		return 1
	case SampleS16:
		return 2
	case SampleS32, SampleF32:
		return 4
	case SampleF64:
		return 8
	default:
		return 0
	}
}

// String returns the conventional short name for the format.
func (f SampleFormat) String() string {
	switch f {
	case SampleU8:
		return "u8"
	case SampleS16:
		return "s16"
	case SampleS32:
		return "s32"
	case SampleF32:
		return "f32"
	case SampleF64:
		return "f64"
	default:
		return "invalid"
	}
}

// AudioFrame is decoder-native PCM. Planar frames carry one plane per
// channel in Data; interleaved frames carry a single plane. AudioFrames are
// short-lived: the resampler consumes them immediately after decode.
type AudioFrame struct {
	Format     SampleFormat
	Planar     bool
	Channels   int
	SampleRate int
	Samples    int
	Data       [][]byte
	PTS        Timestamp
}

// PCMFrame is resampled audio in the device target format: interleaved
// little-endian samples. Cursor tracks the bytes already consumed by the
// device callback; a frame is retired once Cursor reaches len(Data).
type PCMFrame struct {
	Data      []byte
	Cursor    int
	Samples   int
	PTSMillis float64
}

// Remaining returns the unconsumed portion of the frame.
func (f *PCMFrame) Remaining() []byte {
	return f.Data[f.Cursor:]
}

// Advance moves the read cursor forward by n bytes, clamped to the frame
// size so the 0 <= Cursor <= len(Data) invariant always holds.
func (f *PCMFrame) Advance(n int) {
	f.Cursor += n
	if f.Cursor > len(f.Data) {
		f.Cursor = len(f.Data)
	}
	if f.Cursor < 0 {
		f.Cursor = 0
	}
}

// Consumed reports whether the device callback has drained the whole frame.
func (f *PCMFrame) Consumed() bool {
	return f.Cursor >= len(f.Data)
}

// PixelFormat identifies the layout of a CPU video frame.
type PixelFormat uint8

const (
	PixelRGBA PixelFormat = iota
	PixelNV12
	PixelYUV420P
)

// String returns the conventional short name for the pixel format.
func (f PixelFormat) String() string {
	switch f {
	case PixelRGBA:
		return "rgba"
	case PixelNV12:
		return "nv12"
	case PixelYUV420P:
		return "yuv420p"
	default:
		return "invalid"
	}
}

// Surface is an opaque reference to a decoder-owned GPU texture. Identity
// is stable for the lifetime of the decoder's surface pool; the renderer
// caches per-surface views keyed by this identity and must drop them when
// the pool is torn down (seek, stop).
type Surface interface {
	// SurfaceID returns the identity of the underlying texture. IDs are
	// unique within one surface pool generation.
	SurfaceID() uint64
}

// VideoFrame is one decoded picture. Exactly one of the two variants is
// populated: Pixels for the software path, Surface for the hardware path.
// A hardware frame pins one slot of the decoder's surface pool until it is
// released by the presenting stage.
type VideoFrame struct {
	Width  int
	Height int
	PTS    Timestamp

	// Software path.
	Pixels []byte
	Stride int
	Format PixelFormat

	// Hardware path.
	Surface Surface
	Slice   int

	// Release returns the frame's surface to the decoder pool. Nil for
	// software frames. Called exactly once by whichever stage drops or
	// finishes presenting the frame.
	Release func()
}

// Hardware reports whether the frame references a GPU surface.
func (f *VideoFrame) Hardware() bool {
	return f.Surface != nil
}

// Dispose releases a hardware frame's pool slot. Safe on software frames
// and safe to call once per frame only.
func (f *VideoFrame) Dispose() {
	if f.Release != nil {
		f.Release()
		f.Release = nil
	}
}
