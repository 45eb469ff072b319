package audio

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumenplay/lumen/media"
	"github.com/lumenplay/lumen/queue"
)

// Player owns the PCM queue and the device callback. The producer side
// (the audio decode worker) pushes resampled frames; the device thread
// drains them through the pull callback, consuming frames partially across
// callbacks when buffer sizes don't line up with frame sizes.
type Player struct {
	log  *slog.Logger
	spec Spec
	sink Sink

	frames *queue.Queue[*media.PCMFrame]

	// current is touched only by the device callback, except under Flush,
	// which requires the device to be paused first.
	current *media.PCMFrame

	// Playback position: the PTS of the frame being consumed plus the
	// samples played since its start. Atomics keep the callback lock-free.
	basePTSBits      atomic.Uint64
	samplesSinceBase atomic.Int64
	totalSamples     atomic.Int64
	underruns        atomic.Int64

	playing atomic.Bool

	mu       sync.Mutex
	volume   float64
	muted    bool
	preMute  float64
	started  bool
	closed   bool
	queueCap int
}

// NewPlayer creates a Player over the given sink. If log is nil,
// slog.Default() is used. queueCap <= 0 selects the stock PCM queue size.
func NewPlayer(sink Sink, log *slog.Logger, queueCap int) *Player {
	if log == nil {
		log = slog.Default()
	}
	if queueCap <= 0 {
		queueCap = media.PCMQueueSize
	}
	return &Player{
		log:      log.With("component", "audio-player"),
		sink:     sink,
		volume:   1,
		queueCap: queueCap,
	}
}

// Init allocates the device for the session target format and registers
// the callback. Must be called before any other method.
func (p *Player) Init(spec Spec) error {
	if spec.SampleRate <= 0 || spec.Channels <= 0 || spec.BytesPerSample() == 0 {
		return ErrUnsupportedFormat
	}
	p.spec = spec
	p.frames = queue.New[*media.PCMFrame](p.queueCap)
	p.basePTSBits.Store(math.Float64bits(0))
	if err := p.sink.Open(spec, p.pull); err != nil {
		return err
	}
	p.log.Info("audio device ready",
		"rate", spec.SampleRate, "channels", spec.Channels, "format", spec.Format.String())
	return nil
}

// PushFrame queues a resampled frame, blocking up to timeout for space.
func (p *Player) PushFrame(f *media.PCMFrame, timeout time.Duration) error {
	if p.frames == nil {
		return ErrNotInitialized
	}
	return p.frames.Push(f, timeout)
}

// TryPushFrame queues a frame without blocking.
func (p *Player) TryPushFrame(f *media.PCMFrame) error {
	if p.frames == nil {
		return ErrNotInitialized
	}
	return p.frames.TryPush(f)
}

// Start begins device playback.
func (p *Player) Start() error {
	if p.frames == nil {
		return ErrNotInitialized
	}
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	p.playing.Store(true)
	return p.sink.Start()
}

// Pause silences the callback and suspends the device.
func (p *Player) Pause() {
	p.playing.Store(false)
	p.sink.Pause()
}

// Resume continues playback after Pause.
func (p *Player) Resume() {
	p.playing.Store(true)
	p.sink.Resume()
}

// Stop halts the device. The queue stays intact for a later Start.
func (p *Player) Stop() {
	p.playing.Store(false)
	p.sink.Pause()
}

// Flush discards all queued PCM, the partially consumed frame, and any
// bytes the device has buffered. The device must be paused first; that
// guarantees no callback is concurrently touching current.
func (p *Player) Flush() error {
	if p.playing.Load() {
		return ErrNotPaused
	}
	if p.frames != nil {
		p.frames.Clear()
	}
	p.current = nil
	p.samplesSinceBase.Store(0)
	p.sink.Flush()
	return nil
}

// ResetTimestamps zeroes the playback position accounting. Used on seek
// after Flush, before the first post-seek frame arrives.
func (p *Player) ResetTimestamps() {
	p.basePTSBits.Store(math.Float64bits(0))
	p.samplesSinceBase.Store(0)
}

// SetVolume forwards the volume to the device; v is clamped to [0,1].
func (p *Player) SetVolume(v float64) {
	v = math.Max(0, math.Min(1, v))
	p.mu.Lock()
	p.volume = v
	muted := p.muted
	p.mu.Unlock()
	if !muted {
		p.sink.SetVolume(v)
	}
}

// Volume returns the configured volume, independent of mute.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetMuted silences the device, remembering the volume for unmute.
func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	if muted == p.muted {
		p.mu.Unlock()
		return
	}
	p.muted = muted
	if muted {
		p.preMute = p.volume
		p.mu.Unlock()
		p.sink.SetVolume(0)
		return
	}
	v := p.preMute
	p.volume = v
	p.mu.Unlock()
	p.sink.SetVolume(v)
}

// Muted reports the mute state.
func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// PlaybackPTS returns the instantaneous playback position in milliseconds,
// precise to the sample: the PTS basis of the frame being consumed plus
// the samples played since.
func (p *Player) PlaybackPTS() float64 {
	base := math.Float64frombits(p.basePTSBits.Load())
	samples := p.samplesSinceBase.Load()
	return base + float64(samples)*1000/float64(p.spec.SampleRate)
}

// QueueLen returns the number of queued PCM frames.
func (p *Player) QueueLen() int {
	if p.frames == nil {
		return 0
	}
	return p.frames.Len()
}

// Underruns returns how many callbacks ran out of PCM.
func (p *Player) Underruns() int64 { return p.underruns.Load() }

// SamplesPlayed returns the total samples handed to the device.
func (p *Player) SamplesPlayed() int64 { return p.totalSamples.Load() }

// Close stops the device and releases the queue.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.playing.Store(false)
	if p.frames != nil {
		p.frames.Close()
	}
	return p.sink.Close()
}

// pull is the device callback. It drains the partially consumed frame
// first, then pops new frames until the buffer is full, zero-filling on
// underrun. No allocation, no conversion, no logging; the only lock is the
// queue's non-blocking pop.
func (p *Player) pull(buf []byte) int {
	if !p.playing.Load() {
		zero(buf)
		return len(buf)
	}

	frameBytes := p.spec.FrameBytes()
	filled := 0
	for filled < len(buf) {
		if p.current == nil {
			f, err := p.frames.TryPop()
			if err != nil {
				break
			}
			p.current = f
			p.basePTSBits.Store(math.Float64bits(f.PTSMillis))
			p.samplesSinceBase.Store(0)
		}

		n := copy(buf[filled:], p.current.Remaining())
		p.current.Advance(n)
		filled += n

		if n > 0 && frameBytes > 0 {
			samples := int64(n / frameBytes)
			p.samplesSinceBase.Add(samples)
			p.totalSamples.Add(samples)
		}
		if p.current.Consumed() {
			p.current = nil
		}
	}

	if filled < len(buf) {
		p.underruns.Add(1)
		zero(buf[filled:])
	}
	return len(buf)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
