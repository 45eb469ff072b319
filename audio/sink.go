// Package audio implements the audio half of the playback pipeline: the
// resampler that converts decoder-native PCM into the device format, and
// the player whose pull callback feeds the audio device from a bounded PCM
// queue with no allocation or conversion on the hot path.
package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumenplay/lumen/media"
)

// Errors reported by the audio path.
var (
	ErrUnsupportedFormat = errors.New("audio: unsupported sample format")
	ErrNotInitialized    = errors.New("audio: not initialized")
	ErrNotPaused         = errors.New("audio: device must be paused")
)

// Spec is the device target format, fixed for the whole session.
type Spec struct {
	SampleRate int
	Channels   int
	Format     media.SampleFormat
}

// BytesPerSample returns the size of one sample in the target format.
func (s Spec) BytesPerSample() int { return s.Format.Bytes() }

// FrameBytes returns the size of one interleaved sample frame (all
// channels).
func (s Spec) FrameBytes() int { return s.Format.Bytes() * s.Channels }

// PullFunc is the device callback: fill buf with PCM in the session target
// format and return the byte count written. The device thread calls it; it
// must not block, allocate, or log.
type PullFunc func(buf []byte) int

// Sink is the platform audio device capability. One backend is chosen at
// startup; the engine only ever talks to this interface.
type Sink interface {
	// Open allocates the device for the given format and registers the
	// pull callback. The callback is not invoked until Start.
	Open(spec Spec, pull PullFunc) error
	// Start begins pulling. Idempotent.
	Start() error
	// Pause stops pulling without releasing the device.
	Pause()
	// Resume continues pulling after Pause.
	Resume()
	// Flush drops any bytes already handed to the hardware. Only valid
	// while paused.
	Flush()
	// SetVolume scales output in [0,1].
	SetVolume(v float64)
	// Close releases the device.
	Close() error
}

// NullSink is a clock-driven sink with no device behind it: it pulls PCM at
// the real-time rate and discards it. Used for headless playback and tests.
type NullSink struct {
	mu      sync.Mutex
	spec    Spec
	pull    PullFunc
	stop    chan struct{}
	stopped sync.WaitGroup
	running atomic.Bool
	paused  atomic.Bool
}

// Open records the spec and callback.
func (s *NullSink) Open(spec Spec, pull PullFunc) error {
	if spec.FrameBytes() == 0 || spec.SampleRate <= 0 {
		return ErrUnsupportedFormat
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spec = spec
	s.pull = pull
	return nil
}

// Start launches the pulling goroutine at a 10ms cadence.
func (s *NullSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pull == nil {
		return ErrNotInitialized
	}
	if s.running.Swap(true) {
		return nil
	}
	s.stop = make(chan struct{})
	buf := make([]byte, s.spec.SampleRate/100*s.spec.FrameBytes())
	pull := s.pull
	stop := s.stop

	s.stopped.Add(1)
	go func() {
		defer s.stopped.Done()
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !s.paused.Load() {
					pull(buf)
				}
			}
		}
	}()
	return nil
}

// Pause suspends pulling.
func (s *NullSink) Pause() { s.paused.Store(true) }

// Resume continues pulling.
func (s *NullSink) Resume() { s.paused.Store(false) }

// Flush is a no-op: nothing is buffered downstream.
func (s *NullSink) Flush() {}

// SetVolume is a no-op.
func (s *NullSink) SetVolume(float64) {}

// Close stops the pulling goroutine.
func (s *NullSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Swap(false) {
		close(s.stop)
		s.stopped.Wait()
	}
	return nil
}
