package player

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumenplay/lumen/audio"
	"github.com/lumenplay/lumen/config"
	"github.com/lumenplay/lumen/media"
	"github.com/lumenplay/lumen/source"
	"github.com/lumenplay/lumen/state"
	"github.com/lumenplay/lumen/video"
)

// fakeSource serves a synthetic 2-second A/V clip: ~33ms (30 fps) video
// frames and ~23ms audio frames, interleaved in PTS order.
type fakeSource struct {
	mu      sync.Mutex
	packets []*media.Packet
	pos     int
	dur     time.Duration
	seeks   []time.Duration
	closed  bool

	adec *fakeAudioDecoder
	vdec *fakeVideoDecoder
}

func newFakeSource(dur time.Duration) *fakeSource {
	s := &fakeSource{dur: dur}
	s.adec = &fakeAudioDecoder{}
	s.vdec = &fakeVideoDecoder{}

	var vPTS, aPTS float64
	for vPTS < float64(dur.Milliseconds()) || aPTS < float64(dur.Milliseconds()) {
		if aPTS <= vPTS {
			s.packets = append(s.packets, &media.Packet{
				Kind:        media.StreamAudio,
				StreamIndex: 1,
				PTS:         media.FromMillis(aPTS, media.TimeBaseMillis),
			})
			aPTS += 1024000.0 / 44100.0
		} else {
			s.packets = append(s.packets, &media.Packet{
				Kind:        media.StreamVideo,
				StreamIndex: 0,
				PTS:         media.FromMillis(vPTS, media.TimeBaseMillis),
			})
			vPTS += 1000.0 / 30.0
		}
	}
	return s
}

func (s *fakeSource) ReadPacket(ctx context.Context) (*media.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.packets) {
		return nil, source.ErrEndOfStream
	}
	pkt := s.packets[s.pos]
	s.pos++
	return pkt, nil
}

func (s *fakeSource) Streams() []source.StreamInfo {
	return []source.StreamInfo{
		{Index: 0, Kind: media.StreamVideo, Codec: "fake", TimeBase: media.TimeBaseMillis,
			Width: 64, Height: 48, FrameRate: 30},
		{Index: 1, Kind: media.StreamAudio, Codec: "fake", TimeBase: media.TimeBaseMillis,
			SampleRate: 44100, Channels: 2},
	}
}

func (s *fakeSource) Duration() time.Duration { return s.dur }

func (s *fakeSource) Seek(target time.Duration, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeks = append(s.seeks, target)
	targetMillis := float64(target.Milliseconds())
	s.pos = len(s.packets)
	for i, pkt := range s.packets {
		if pkt.PTS.Milliseconds() >= targetMillis {
			s.pos = i
			break
		}
	}
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) AudioDecoder(int) (source.AudioDecoder, error) { return s.adec, nil }
func (s *fakeSource) VideoDecoder(int) (source.VideoDecoder, error) { return s.vdec, nil }

// fakeAudioDecoder emits one 1024-sample s16 stereo frame per packet.
type fakeAudioDecoder struct {
	mu      sync.Mutex
	pending *media.Packet
	flushes atomic.Int32
}

func (d *fakeAudioDecoder) SendPacket(p *media.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = p
	return nil
}

func (d *fakeAudioDecoder) ReceiveFrame() (*media.AudioFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return nil, source.ErrAgain
	}
	pkt := d.pending
	d.pending = nil

	const samples = 1024
	data := make([]byte, samples*4)
	for i := 0; i < samples*2; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(i%128)))
	}
	return &media.AudioFrame{
		Format:     media.SampleS16,
		Channels:   2,
		SampleRate: 44100,
		Samples:    samples,
		Data:       [][]byte{data},
		PTS:        pkt.PTS,
	}, nil
}

func (d *fakeAudioDecoder) Flush() { d.flushes.Add(1) }

func (d *fakeAudioDecoder) Close() error { return nil }

// fakeVideoDecoder emits one RGBA frame per packet.
type fakeVideoDecoder struct {
	mu      sync.Mutex
	pending *media.Packet
	flushes atomic.Int32
}

func (d *fakeVideoDecoder) SendPacket(p *media.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = p
	return nil
}

func (d *fakeVideoDecoder) ReceiveFrame() (*media.VideoFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return nil, source.ErrAgain
	}
	pkt := d.pending
	d.pending = nil
	return &media.VideoFrame{
		Width: 64, Height: 48,
		Pixels: make([]byte, 64*48*4),
		Stride: 64 * 4,
		Format: media.PixelRGBA,
		PTS:    pkt.PTS,
	}, nil
}

func (d *fakeVideoDecoder) Flush() { d.flushes.Add(1) }

func (d *fakeVideoDecoder) Close() error { return nil }

// cacheCountingRenderer tracks ClearCaches calls.
type cacheCountingRenderer struct {
	video.NullRenderer
	cacheClears atomic.Int32
}

func (r *cacheCountingRenderer) ClearCaches() { r.cacheClears.Add(1) }

// newTestPlayer wires a player over the fake pipeline. The NullSink pulls
// PCM in real time so the audio clock actually advances.
func newTestPlayer(t *testing.T, src *fakeSource) *Player {
	t.Helper()
	p := New(
		WithLogger(slog.Default()),
		WithConfig(config.Default()),
		WithSink(&audio.NullSink{}),
		WithSourceFactory(func(context.Context, string, *slog.Logger) (source.PacketSource, error) {
			return src, nil
		}),
	)
	t.Cleanup(func() { p.Close() })
	return p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestOpenTransitionsToStopped(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, newFakeSource(2*time.Second))
	if err := p.Open("fake://clip"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := p.State(); got != state.Stopped {
		t.Errorf("state after open = %v, want Stopped", got)
	}
	if got := p.Duration(); got != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", got)
	}
}

func TestOpenFailurePropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("container not found")
	p := New(
		WithSink(&audio.NullSink{}),
		WithSourceFactory(func(context.Context, string, *slog.Logger) (source.PacketSource, error) {
			return nil, boom
		}),
	)
	err := p.Open("fake://missing")
	if !errors.Is(err, boom) {
		t.Fatalf("Open = %v, want wrapped source error", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindIO {
		t.Errorf("error kind = %v, want io", err)
	}
	if got := p.State(); got != state.Idle {
		t.Errorf("state after failed open = %v, want Idle", got)
	}
}

func TestPlayRequiresOpen(t *testing.T) {
	t.Parallel()

	p := New(WithSink(&audio.NullSink{}))
	err := p.Play()
	if !errors.Is(err, ErrWrongState) {
		t.Errorf("Play before open = %v, want ErrWrongState", err)
	}
}

func TestPlayPauseStopLifecycle(t *testing.T) {
	t.Parallel()

	src := newFakeSource(2 * time.Second)
	p := newTestPlayer(t, src)
	if err := p.Open("fake://clip"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := p.State(); got != state.Playing {
		t.Fatalf("state = %v, want Playing", got)
	}

	if !waitFor(t, 3*time.Second, func() bool { return p.Stats().FramesPresented > 3 }) {
		t.Fatalf("no frames presented; stats: %+v", p.Stats())
	}

	if err := p.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := p.Pause(); err == nil {
		t.Error("double Pause should fail with wrong state")
	}
	if err := p.Play(); err != nil {
		t.Fatalf("resume: %v", err)
	}

	start := time.Now()
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > joinTimeout+time.Second {
		t.Errorf("Stop took %v, want bounded join", elapsed)
	}
	if got := p.State(); got != state.Stopped {
		t.Errorf("state after stop = %v, want Stopped", got)
	}
}

func TestMasterClockAdvancesDuringPlayback(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, newFakeSource(2*time.Second))
	if err := p.Open("fake://clip"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return p.CurrentTime() > 200*time.Millisecond }) {
		t.Fatalf("master clock stuck at %v", p.CurrentTime())
	}
}

func TestPauseFreezesCurrentTime(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, newFakeSource(2*time.Second))
	p.Open("fake://clip")
	p.Play()
	waitFor(t, 3*time.Second, func() bool { return p.CurrentTime() > 100*time.Millisecond })
	p.Pause()

	at := p.CurrentTime()
	time.Sleep(150 * time.Millisecond)
	after := p.CurrentTime()
	if diff := (after - at).Abs(); diff > 30*time.Millisecond {
		t.Errorf("clock moved %v while paused", diff)
	}
}

func TestSeekWhilePlaying(t *testing.T) {
	t.Parallel()

	src := newFakeSource(5 * time.Second)
	p := newTestPlayer(t, src)
	p.Open("fake://clip")
	p.Play()
	waitFor(t, 3*time.Second, func() bool { return p.Stats().FramesPresented > 2 })

	if err := p.Seek(4*time.Second, false); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := p.State(); got != state.Playing {
		t.Errorf("state after seek = %v, want Playing (originating)", got)
	}

	// The master clock reads the target almost immediately.
	if !waitFor(t, 300*time.Millisecond, func() bool {
		d := p.CurrentTime()
		return d >= 3900*time.Millisecond && d <= 4400*time.Millisecond
	}) {
		t.Errorf("CurrentTime after seek = %v, want ≈4s", p.CurrentTime())
	}

	src.mu.Lock()
	seeks := len(src.seeks)
	src.mu.Unlock()
	if seeks == 0 {
		t.Error("backend seek never invoked")
	}
	if src.adec.flushes.Load() == 0 || src.vdec.flushes.Load() == 0 {
		t.Error("decoders not flushed on seek")
	}
}

func TestSeekWhilePausedResumesAtTarget(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, newFakeSource(5*time.Second))
	p.Open("fake://clip")
	p.Play()
	waitFor(t, 3*time.Second, func() bool { return p.CurrentTime() > 100*time.Millisecond })
	p.Pause()

	if err := p.Seek(3*time.Second, false); err != nil {
		t.Fatalf("Seek while paused: %v", err)
	}
	if got := p.State(); got != state.Paused {
		t.Fatalf("state after paused seek = %v, want Paused", got)
	}
	// Still paused: the clock is frozen at the target.
	at := p.CurrentTime()
	if math.Abs(float64(at-3*time.Second)) > float64(200*time.Millisecond) {
		t.Errorf("CurrentTime after paused seek = %v, want ≈3s", at)
	}

	if err := p.Play(); err != nil {
		t.Fatalf("resume after seek: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return p.CurrentTime() > 3*time.Second }) {
		t.Errorf("playback did not continue from seek target, at %v", p.CurrentTime())
	}
}

func TestSeekOutOfRange(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, newFakeSource(2*time.Second))
	p.Open("fake://clip")
	p.Play()

	if err := p.Seek(10*time.Second, false); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Seek past end = %v, want ErrOutOfRange", err)
	}
	if err := p.Seek(-time.Second, false); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("negative Seek = %v, want ErrOutOfRange", err)
	}
}

func TestSeekClearsRendererCachesOnce(t *testing.T) {
	t.Parallel()

	src := newFakeSource(5 * time.Second)
	p := newTestPlayer(t, src)
	p.Open("fake://clip")

	renderer := &cacheCountingRenderer{}
	p.mu.Lock()
	p.renderer = renderer
	p.mu.Unlock()

	p.Play()
	waitFor(t, 3*time.Second, func() bool { return p.Stats().FramesPresented > 1 })

	before := renderer.cacheClears.Load()
	if err := p.Seek(2*time.Second, false); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := renderer.cacheClears.Load() - before; got != 1 {
		t.Errorf("ClearCaches during seek = %d, want exactly 1", got)
	}
}

func TestVolumeAndMute(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, newFakeSource(time.Second))
	p.Open("fake://clip")

	p.SetVolume(0.4)
	if got := p.Volume(); got != 0.4 {
		t.Errorf("Volume = %v, want 0.4", got)
	}
	p.SetMuted(true)
	if !p.Muted() {
		t.Error("Muted = false after SetMuted(true)")
	}
	p.SetMuted(false)
	if got := p.Volume(); got != 0.4 {
		t.Errorf("Volume after unmute = %v, want preserved 0.4", got)
	}
}

func TestStatsAccountingBalances(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t, newFakeSource(500*time.Millisecond))
	p.Open("fake://clip")
	p.Play()

	// Let the short clip finish demuxing and mostly drain.
	waitFor(t, 5*time.Second, func() bool {
		s := p.Stats()
		return s.FramesPresented+s.FramesDropped >= s.Video.FramesOut && s.Video.FramesOut > 0
	})
	p.Stop()

	s := p.Stats()
	if s.Video.FramesOut == 0 {
		t.Fatal("no video frames decoded")
	}
	if s.FramesPresented+s.FramesDropped+s.RenderErrors > s.Video.FramesOut {
		t.Errorf("render accounting exceeds decoded frames: %+v", s)
	}
	if s.Audio.FramesOut == 0 {
		t.Error("no audio frames decoded")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	t.Parallel()

	src := newFakeSource(time.Second)
	p := newTestPlayer(t, src)
	p.Open("fake://clip")
	p.Play()
	waitFor(t, 2*time.Second, func() bool { return p.Stats().FramesPresented > 0 })

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := p.State(); got != state.Idle {
		t.Errorf("state after close = %v, want Idle", got)
	}
	src.mu.Lock()
	closed := src.closed
	src.mu.Unlock()
	if !closed {
		t.Error("source not closed")
	}
}
