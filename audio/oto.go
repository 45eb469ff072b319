package audio

import (
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/lumenplay/lumen/media"
)

// The oto context is a process-wide singleton: it can be created once and
// never torn down. Sessions after the first must reuse the same device
// format.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoSpec Spec
	otoErr  error
)

func otoContext(spec Spec) (*oto.Context, error) {
	otoOnce.Do(func() {
		format, err := otoFormat(spec.Format)
		if err != nil {
			otoErr = err
			return
		}
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   spec.SampleRate,
			ChannelCount: spec.Channels,
			Format:       format,
		})
		if err != nil {
			otoErr = fmt.Errorf("audio: open device: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
		otoSpec = spec
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if spec != otoSpec {
		return nil, fmt.Errorf("audio: device already open as %d Hz/%d ch/%s: %w",
			otoSpec.SampleRate, otoSpec.Channels, otoSpec.Format, ErrUnsupportedFormat)
	}
	return otoCtx, nil
}

func otoFormat(f media.SampleFormat) (oto.Format, error) {
	switch f {
	case media.SampleU8:
		return oto.FormatUnsignedInt8, nil
	case media.SampleS16:
		return oto.FormatSignedInt16LE, nil
	case media.SampleF32:
		return oto.FormatFloat32LE, nil
	default:
		return 0, fmt.Errorf("audio: oto cannot play %s: %w", f, ErrUnsupportedFormat)
	}
}

// OtoSink drives the platform audio device through ebitengine/oto. The oto
// player pulls PCM through an io.Reader running on a driver-owned
// goroutine; that read is the engine's device callback.
type OtoSink struct {
	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
	pull   PullFunc
	volume float64
}

// NewOtoSink returns an unopened oto-backed sink.
func NewOtoSink() *OtoSink {
	return &OtoSink{volume: 1}
}

// pullReader adapts the engine callback to the io.Reader oto pulls from.
type pullReader struct {
	pull PullFunc
}

func (r pullReader) Read(p []byte) (int, error) {
	return r.pull(p), nil
}

var _ io.Reader = pullReader{}

// Open creates (or reuses) the process-wide device context and builds a
// player over the pull callback.
func (s *OtoSink) Open(spec Spec, pull PullFunc) error {
	ctx, err := otoContext(spec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.pull = pull
	s.player = ctx.NewPlayer(pullReader{pull: pull})
	s.player.SetVolume(s.volume)
	return nil
}

// Start begins playback; the device starts invoking the callback.
func (s *OtoSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return ErrNotInitialized
	}
	s.player.Play()
	return nil
}

// Pause suspends the device without releasing it.
func (s *OtoSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		s.player.Pause()
	}
}

// Resume continues after Pause.
func (s *OtoSink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		s.player.Play()
	}
}

// Flush drops bytes already queued to the hardware by replacing the oto
// player. Callers pause first, so no callback is in flight.
func (s *OtoSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return
	}
	s.player.Close()
	s.player = s.ctx.NewPlayer(pullReader{pull: s.pull})
	s.player.SetVolume(s.volume)
}

// SetVolume scales device output in [0,1].
func (s *OtoSink) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
	if s.player != nil {
		s.player.SetVolume(v)
	}
}

// Close releases the player. The context itself is process-wide and stays.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		err := s.player.Close()
		s.player = nil
		return err
	}
	return nil
}
