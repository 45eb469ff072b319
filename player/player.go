// Package player is the playback controller: it owns the clock, the state
// machine, the queues, and the audio/video paths, spawns the session's
// worker goroutines, and exposes the API surface the host UI binds to.
package player

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lumenplay/lumen/audio"
	"github.com/lumenplay/lumen/clock"
	"github.com/lumenplay/lumen/config"
	"github.com/lumenplay/lumen/media"
	"github.com/lumenplay/lumen/queue"
	"github.com/lumenplay/lumen/source"
	reisensource "github.com/lumenplay/lumen/source/reisen"
	srtsource "github.com/lumenplay/lumen/source/srt"
	"github.com/lumenplay/lumen/state"
	"github.com/lumenplay/lumen/video"
)

const (
	// queuePollInterval bounds every blocking queue operation and pause
	// wait inside the workers so teardown can always make progress.
	queuePollInterval = 100 * time.Millisecond
	// joinTimeout bounds worker joins at stop. A worker that misses it is
	// logged and abandoned; the player still reaches Stopped.
	joinTimeout = 2 * time.Second
	// syncTick is the sync monitor cadence.
	syncTick = 10 * time.Millisecond
	// demuxErrorLimit is how many consecutive read failures the demux
	// worker tolerates before declaring the session dead.
	demuxErrorLimit = 50
	// defaultCodecSurfaces stands in for the codec's pool recommendation
	// when the backend does not report one.
	defaultCodecSurfaces = 8
)

// SourceFactory opens a packet source for a URL. Overridable for tests
// and for hosts with custom transports.
type SourceFactory func(ctx context.Context, url string, log *slog.Logger) (source.PacketSource, error)

func defaultSourceFactory(ctx context.Context, url string, log *slog.Logger) (source.PacketSource, error) {
	if addr, ok := strings.CutPrefix(url, "srt://"); ok {
		return srtsource.Dial(ctx, srtsource.Config{Address: addr}, log)
	}
	return reisensource.New(url, log)
}

// Option configures a Player at construction.
type Option func(*Player)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option { return func(p *Player) { p.cfg = cfg } }

// WithLogger sets the base logger.
func WithLogger(log *slog.Logger) Option { return func(p *Player) { p.baseLog = log } }

// WithSink replaces the platform audio device backend.
func WithSink(sink audio.Sink) Option { return func(p *Player) { p.sink = sink } }

// WithUIRunner provides the host's UI-thread marshal; renderer calls are
// proxied through it.
func WithUIRunner(ui video.UIRunner) Option { return func(p *Player) { p.uiRunner = ui } }

// WithFramebuffer provides the host presentation target for the software
// render path.
func WithFramebuffer(fb video.Framebuffer) Option { return func(p *Player) { p.fb = fb } }

// WithDeviceFactory provides the platform GPU device constructor for
// hardware decoding.
func WithDeviceFactory(f func(video.HWKind) (video.Device, error)) Option {
	return func(p *Player) { p.devFactory = f }
}

// WithSourceFactory replaces the URL-to-source resolution.
func WithSourceFactory(f SourceFactory) Option { return func(p *Player) { p.srcFactory = f } }

// WithDecoderProvider supplies codecs for sources that deliver raw
// elementary streams (SRT).
func WithDecoderProvider(dp source.DecoderProvider) Option {
	return func(p *Player) { p.decoders = dp }
}

// Player is one playback session. All exported methods are safe to call
// from any goroutine; the workers never call back into the API.
type Player struct {
	baseLog *slog.Logger
	log     *slog.Logger
	cfg     *config.Config
	id      string

	st  *state.Manager
	clk *clock.Clock

	sink       audio.Sink
	uiRunner   video.UIRunner
	fb         video.Framebuffer
	devFactory func(video.HWKind) (video.Device, error)
	srcFactory SourceFactory
	decoders   source.DecoderProvider

	mu sync.Mutex

	src         source.PacketSource
	srcMu       sync.Mutex // serializes ReadPacket against Seek
	audioStream *source.StreamInfo
	videoStream *source.StreamInfo
	adec        source.AudioDecoder
	vdec        source.VideoDecoder

	resampler *audio.Resampler
	aplayer   *audio.Player

	renderer video.Renderer
	hwctx    *video.DecoderContext
	choice   video.PathChoice
	sched    *video.Scheduler

	videoPackets *queue.Queue[*media.Packet]
	audioPackets *queue.Queue[*media.Packet]
	videoFrames  *queue.Queue[*media.VideoFrame]

	stats           pipelineStats
	lastSyncSamples atomic.Int64

	runCancel context.CancelFunc
	workers   *errgroup.Group
}

// New creates an idle Player. Without options it plays through the oto
// audio device and discards video until a render window is attached.
func New(opts ...Option) *Player {
	p := &Player{
		baseLog:    slog.Default(),
		cfg:        config.Default(),
		id:         uuid.NewString(),
		st:         state.NewManager(),
		srcFactory: defaultSourceFactory,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sink == nil {
		p.sink = audio.NewOtoSink()
	}
	p.log = p.baseLog.With("component", "player", "session", p.id)
	return p
}

// State returns the current lifecycle state.
func (p *Player) State() state.State { return p.st.Current() }

// Open creates the source and decoders for url, fixes the clock mode and
// audio format, and selects the render path. On success the player is
// Stopped and ready for Play.
func (p *Player) Open(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.st.Transition(state.Opening) {
		return wrap(KindState, "open", ErrWrongState)
	}
	p.releaseSessionLocked()

	fail := func(kind Kind, err error) error {
		p.releaseSessionLocked()
		p.st.Transition(state.Idle)
		return wrap(kind, "open", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	src, err := p.srcFactory(ctx, url, p.baseLog.With("session", p.id))
	if err != nil {
		return fail(KindIO, err)
	}
	p.src = src

	for _, info := range src.Streams() {
		info := info
		switch info.Kind {
		case media.StreamAudio:
			if p.audioStream == nil {
				p.audioStream = &info
			}
		case media.StreamVideo:
			if p.videoStream == nil {
				p.videoStream = &info
			}
		}
	}
	if p.audioStream == nil && p.videoStream == nil {
		return fail(KindIO, source.ErrNoSuchStream)
	}

	provider := p.decoders
	if provider == nil {
		provider, _ = src.(source.DecoderProvider)
	}
	if p.videoStream != nil {
		if provider == nil {
			return fail(KindDecode, source.ErrNoDecoder)
		}
		if p.vdec, err = provider.VideoDecoder(p.videoStream.Index); err != nil {
			return fail(KindDecode, err)
		}
	}
	if p.audioStream != nil {
		if provider == nil {
			return fail(KindDecode, source.ErrNoDecoder)
		}
		if p.adec, err = provider.AudioDecoder(p.audioStream.Index); err != nil {
			return fail(KindDecode, err)
		}
	}

	// Master clock: audio when present, video when only video, external
	// otherwise. Fixed for the session.
	mode := clock.ExternalMaster
	switch {
	case p.audioStream != nil:
		mode = clock.AudioMaster
	case p.videoStream != nil:
		mode = clock.VideoMaster
	}
	p.clk = clock.New(mode)
	p.clk.SetParams(clock.Params{
		MaxVideoDelayMillis:   p.cfg.Sync.MaxVideoDelayMillis,
		MaxVideoSpeedupMillis: p.cfg.Sync.MaxVideoSpeedupMillis,
		DropThresholdMillis:   p.cfg.Sync.DropThresholdMillis,
		RepeatThresholdMillis: p.cfg.Sync.RepeatThresholdMillis,
		EnableFrameDrop:       p.cfg.Sync.EnableFrameDrop,
		EnableFrameRepeat:     p.cfg.Sync.EnableFrameRepeat,
	})

	if p.audioStream != nil {
		format, ferr := p.cfg.Audio.SampleFormat()
		if ferr != nil {
			return fail(KindConfig, ferr)
		}
		spec := audio.Spec{
			SampleRate: p.cfg.Audio.TargetSampleRate,
			Channels:   p.cfg.Audio.TargetChannels,
			Format:     format,
		}
		p.aplayer = audio.NewPlayer(p.sink, p.log, p.cfg.Queues.PCMCapacity)
		if err := p.aplayer.Init(spec); err != nil {
			return fail(KindAudio, err)
		}
		p.resampler = audio.NewResampler(p.log)
		p.resampler.SetTarget(spec)
	}

	policy := video.PathPolicy{
		UseHardware:   p.cfg.Render.UseHardwareAcceleration,
		AllowFallback: p.cfg.Render.Hardware.AllowFallback,
		Allowed:       p.cfg.Render.Hardware.Allow,
	}
	probe := func(kind video.HWKind) bool {
		if p.devFactory == nil {
			return false
		}
		dev, perr := p.devFactory(kind)
		if perr != nil {
			return false
		}
		dev.Release()
		return true
	}
	p.choice, err = video.SelectPath(policy, nil, probe, p.log)
	if err != nil {
		return fail(KindRender, err)
	}

	if !p.st.Transition(state.Stopped) {
		return fail(KindState, ErrWrongState)
	}
	p.log.Info("opened",
		"url", url,
		"duration_ms", src.Duration().Milliseconds(),
		"clock", mode.String(),
		"render_path", p.choice.String(),
		"has_audio", p.audioStream != nil,
		"has_video", p.videoStream != nil,
	)
	return nil
}

// SetRenderWindow attaches the native window and instantiates the
// renderer on the selected path.
func (p *Player) SetRenderWindow(handle video.WindowHandle, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.src == nil {
		return wrap(KindState, "set_render_window", ErrNotOpen)
	}

	choice := p.choice
	var renderer video.Renderer
	if choice.Hardware {
		hw, err := p.buildHardwareRendererLocked(handle, width, height)
		if err != nil {
			if !p.cfg.Render.Hardware.AllowFallback {
				return wrap(KindRender, "set_render_window", err)
			}
			p.log.Info("hardware unavailable, falling back to software decode")
			choice = video.PathChoice{Decoder: video.HWNone, Hardware: false}
		} else {
			renderer = hw
		}
	}
	if renderer == nil {
		sw := p.buildSoftwareRendererLocked()
		wrapped := video.OnUIThread(sw, p.uiRunner)
		if err := wrapped.Init(handle, width, height); err != nil {
			return wrap(KindRender, "set_render_window", err)
		}
		renderer = wrapped
	}

	if p.renderer != nil {
		p.renderer.Cleanup()
	}
	p.renderer = renderer
	p.choice = choice
	return nil
}

func (p *Player) buildHardwareRendererLocked(handle video.WindowHandle, width, height int) (video.Renderer, error) {
	if p.devFactory == nil {
		return nil, video.ErrNoHardwarePath
	}
	dev, err := p.devFactory(p.choice.Decoder)
	if err != nil {
		return nil, err
	}
	hwctx := video.NewDecoderContext(p.log)
	geomW, geomH := width, height
	if p.videoStream != nil && p.videoStream.Width > 0 {
		geomW, geomH = p.videoStream.Width, p.videoStream.Height
	}
	if err := hwctx.Initialize(dev, p.choice.Decoder, defaultCodecSurfaces, geomW, geomH); err != nil {
		dev.Release()
		return nil, err
	}
	shared, err := hwctx.SharedDevice()
	if err != nil {
		hwctx.Close()
		return nil, err
	}
	renderer := video.OnUIThread(video.NewGPURenderer(shared, p.log), p.uiRunner)
	if err := renderer.Init(handle, width, height); err != nil {
		renderer.Cleanup()
		hwctx.Close()
		return nil, err
	}
	if p.hwctx != nil {
		p.hwctx.Close()
	}
	p.hwctx = hwctx
	return renderer, nil
}

func (p *Player) buildSoftwareRendererLocked() video.Renderer {
	if p.fb != nil {
		return video.NewSoftwareRenderer(p.fb, p.log)
	}
	return &video.NullRenderer{}
}

// Play starts playback from Stopped, or resumes from Paused.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.st.Current() {
	case state.Paused:
		p.clk.Resume(time.Now())
		if p.aplayer != nil {
			p.aplayer.Resume()
		}
		if !p.st.Transition(state.Playing) {
			return wrap(KindState, "play", ErrWrongState)
		}
		return nil

	case state.Stopped:
		if p.src == nil {
			return wrap(KindState, "play", ErrNotOpen)
		}
		return p.startPipelineLocked()

	default:
		return wrap(KindState, "play", ErrWrongState)
	}
}

// startPipelineLocked rebuilds queues and workers and starts playback
// from the beginning of the media.
func (p *Player) startPipelineLocked() error {
	// Replays after a stop restart from zero; live sources cannot seek
	// and just continue.
	if err := p.src.Seek(0, true); err != nil && !errors.Is(err, source.ErrSeekUnsupported) {
		return wrap(KindIO, "play", err)
	}
	if p.adec != nil {
		p.adec.Flush()
	}
	if p.vdec != nil {
		p.vdec.Flush()
	}
	if p.resampler != nil {
		p.resampler.Reset()
	}
	p.clk.Reset()

	if p.renderer == nil {
		// Headless session: no window was attached, video is discarded.
		p.renderer = &video.NullRenderer{}
	}

	p.videoPackets = queue.New[*media.Packet](p.cfg.Queues.PacketCapacity)
	p.audioPackets = queue.New[*media.Packet](p.cfg.Queues.PacketCapacity)
	p.videoFrames = queue.New[*media.VideoFrame](p.cfg.Queues.VideoFrameCapacity)
	p.sched = video.NewScheduler(p.videoFrames, p.clk, p.renderer, p.st, p.log)

	if !p.st.Transition(state.Playing) {
		return wrap(KindState, "play", ErrWrongState)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.runCancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	p.workers = g

	g.Go(func() error { return p.demuxLoop(ctx) })
	if p.videoStream != nil {
		g.Go(func() error { return p.videoDecodeLoop(ctx) })
		g.Go(func() error { return p.sched.Run(ctx) })
	}
	if p.audioStream != nil {
		g.Go(func() error { return p.audioDecodeLoop(ctx) })
	}
	g.Go(func() error { return p.syncMonitorLoop(ctx) })

	if p.aplayer != nil {
		p.aplayer.ResetTimestamps()
		if err := p.aplayer.Start(); err != nil {
			p.st.Transition(state.Errored)
			return wrap(KindAudio, "play", err)
		}
	}
	p.log.Info("playing")
	return nil
}

// Pause suspends playback, freezing the clock and silencing the device.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.st.Current() != state.Playing {
		return wrap(KindState, "pause", ErrWrongState)
	}
	p.clk.Pause(time.Now())
	if p.aplayer != nil {
		p.aplayer.Pause()
	}
	if !p.st.Transition(state.Paused) {
		return wrap(KindState, "pause", ErrWrongState)
	}
	return nil
}

// Stop halts playback, joins the workers, and clears every queue. The
// media stays open; Play restarts from the beginning.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

func (p *Player) stopLocked() error {
	cur := p.st.Current()
	if cur == state.Idle {
		return nil
	}
	// Error is terminal until close; tear the pipeline down but leave the
	// state observable.
	if cur != state.Stopped && cur != state.Errored {
		if !p.st.Transition(state.Stopped) {
			return wrap(KindState, "stop", ErrWrongState)
		}
	}
	p.teardownPipelineLocked()
	return nil
}

// teardownPipelineLocked joins workers with a bounded timeout and resets
// the session's transient state.
func (p *Player) teardownPipelineLocked() {
	if p.runCancel != nil {
		p.runCancel()
		p.runCancel = nil
	}
	for _, q := range []*queue.Queue[*media.Packet]{p.videoPackets, p.audioPackets} {
		if q != nil {
			q.Close()
		}
	}
	if p.videoFrames != nil {
		p.videoFrames.Close()
	}

	if p.workers != nil {
		done := make(chan error, 1)
		g := p.workers
		go func() { done <- g.Wait() }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				p.log.Warn("worker exited with error", "error", err)
			}
		case <-time.After(joinTimeout):
			p.log.Error("worker join timed out", "timeout", joinTimeout.String())
		}
		p.workers = nil
	}

	p.drainQueuesLocked()

	if p.aplayer != nil {
		p.aplayer.Stop()
		if err := p.aplayer.Flush(); err != nil {
			p.log.Warn("audio flush failed", "error", err)
		}
		p.aplayer.ResetTimestamps()
	}
	if p.renderer != nil {
		p.renderer.ClearCaches()
	}
	if p.hwctx != nil {
		p.hwctx.ResetPool()
	}
	if p.clk != nil {
		p.clk.Reset()
	}
}

// drainQueuesLocked empties every queue, releasing pinned video frames.
func (p *Player) drainQueuesLocked() {
	if p.videoPackets != nil {
		p.videoPackets.Clear()
	}
	if p.audioPackets != nil {
		p.audioPackets.Clear()
	}
	if p.videoFrames != nil {
		for _, f := range p.videoFrames.Clear() {
			f.Dispose()
		}
	}
}

// Seek repositions playback to target. Callable while Playing or Paused;
// playback resumes in the originating state.
func (p *Player) Seek(target time.Duration, backward bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.src == nil {
		return wrap(KindState, "seek", ErrNotOpen)
	}
	cur := p.st.Current()
	if cur != state.Playing && cur != state.Paused {
		return wrap(KindState, "seek", ErrWrongState)
	}
	if target < 0 || (p.src.Duration() > 0 && target > p.src.Duration()) {
		return wrap(KindConfig, "seek", ErrOutOfRange)
	}
	if !p.st.Transition(state.Seeking) {
		return wrap(KindState, "seek", ErrWrongState)
	}

	if p.aplayer != nil {
		p.aplayer.Pause()
	}

	// The demux worker holds srcMu across reads; taking it here keeps
	// the backend seek exclusive with ReadPacket.
	p.srcMu.Lock()
	err := p.src.Seek(target, backward)
	p.srcMu.Unlock()
	if err != nil {
		p.st.Transition(cur)
		if cur == state.Playing && p.aplayer != nil {
			p.aplayer.Resume()
		}
		return wrap(KindIO, "seek", err)
	}

	p.drainQueuesLocked()
	if p.adec != nil {
		p.adec.Flush()
	}
	if p.vdec != nil {
		p.vdec.Flush()
	}
	if p.resampler != nil {
		p.resampler.Reset()
	}
	if p.aplayer != nil {
		if err := p.aplayer.Flush(); err != nil {
			p.log.Warn("audio flush failed", "error", err)
		}
		p.aplayer.ResetTimestamps()
	}
	if p.renderer != nil {
		p.renderer.ClearCaches()
	}
	if p.hwctx != nil {
		p.hwctx.ResetPool()
	}
	p.clk.ResetForSeek(float64(target.Milliseconds()), time.Now())
	p.lastSyncSamples.Store(0)

	if !p.st.Transition(cur) {
		return wrap(KindState, "seek", ErrWrongState)
	}
	if cur == state.Playing && p.aplayer != nil {
		p.aplayer.Resume()
	}
	p.log.Info("seek complete", "target_ms", target.Milliseconds(), "backward", backward)
	return nil
}

// SetVolume forwards to the audio player; no-op for silent media.
func (p *Player) SetVolume(v float64) {
	if p.aplayer != nil {
		p.aplayer.SetVolume(v)
	}
}

// Volume returns the configured volume, 0 for silent media.
func (p *Player) Volume() float64 {
	if p.aplayer == nil {
		return 0
	}
	return p.aplayer.Volume()
}

// SetMuted mutes or unmutes, preserving the volume across the pair.
func (p *Player) SetMuted(muted bool) {
	if p.aplayer != nil {
		p.aplayer.SetMuted(muted)
	}
}

// Muted reports the mute state; silent media reports true.
func (p *Player) Muted() bool {
	if p.aplayer == nil {
		return true
	}
	return p.aplayer.Muted()
}

// Streams lists the open media's elementary streams.
func (p *Player) Streams() []source.StreamInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.src == nil {
		return nil
	}
	return p.src.Streams()
}

// Duration returns the media duration, 0 for live sources.
func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.src == nil {
		return 0
	}
	return p.src.Duration()
}

// CurrentTime returns the master clock reading, clamped to the media
// bounds.
func (p *Player) CurrentTime() time.Duration {
	p.mu.Lock()
	src, clk := p.src, p.clk
	p.mu.Unlock()
	if clk == nil {
		return 0
	}
	ms := clk.MasterClock(time.Now())
	if ms < 0 {
		ms = 0
	}
	d := time.Duration(ms * float64(time.Millisecond))
	if src != nil {
		if total := src.Duration(); total > 0 && d > total {
			d = total
		}
	}
	return d
}

// Stats assembles a pipeline snapshot.
func (p *Player) Stats() StatsSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	var snap StatsSnapshot
	if s, ok := p.src.(interface{ Stats() *source.Stats }); ok && s != nil {
		snap.Source = s.Stats().Snapshot()
	}
	snap.Video = DecodeStats{
		PacketsIn:    p.stats.videoPacketsIn.Load(),
		FramesOut:    p.stats.videoFramesOut.Load(),
		DecodeErrors: p.stats.videoDecodeErr.Load(),
	}
	if p.videoFrames != nil {
		snap.Video.QueueLen = p.videoFrames.Len()
		snap.Video.QueueCap = p.videoFrames.Cap()
	}
	snap.Audio = DecodeStats{
		PacketsIn:    p.stats.audioPacketsIn.Load(),
		FramesOut:    p.stats.audioFramesOut.Load(),
		DecodeErrors: p.stats.audioDecodeErr.Load(),
	}
	snap.ResampleErrors = p.stats.resampleErr.Load()
	if p.aplayer != nil {
		snap.Audio.QueueLen = p.aplayer.QueueLen()
		snap.AudioSamplesPlayed = p.aplayer.SamplesPlayed()
		snap.AudioUnderruns = p.aplayer.Underruns()
	}
	if p.sched != nil {
		snap.renderStats(p.sched.Stats())
	}
	if p.clk != nil {
		snap.Sync = p.clk.Stats()
	}
	return snap
}

// Close stops playback and releases every resource. The player returns to
// Idle and can open new media.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.stopLocked(); err != nil {
		return err
	}
	p.releaseSessionLocked()
	cur := p.st.Current()
	if cur != state.Idle && !p.st.Transition(state.Idle) {
		return wrap(KindState, "close", ErrWrongState)
	}
	return nil
}

// releaseSessionLocked frees per-media resources.
func (p *Player) releaseSessionLocked() {
	if p.adec != nil {
		p.adec.Close()
		p.adec = nil
	}
	if p.vdec != nil {
		p.vdec.Close()
		p.vdec = nil
	}
	if p.src != nil {
		p.src.Close()
		p.src = nil
	}
	if p.aplayer != nil {
		p.aplayer.Close()
		p.aplayer = nil
	}
	if p.renderer != nil {
		p.renderer.Cleanup()
		p.renderer = nil
	}
	if p.hwctx != nil {
		p.hwctx.Close()
		p.hwctx = nil
	}
	p.audioStream = nil
	p.videoStream = nil
	p.resampler = nil
	p.sched = nil
	p.videoPackets = nil
	p.audioPackets = nil
	p.videoFrames = nil
}
