// Package clock implements the master playback clock: per-stream timestamp
// normalization, drift tracking, pause accounting, and the per-frame
// display/drop/repeat decisions the video scheduler acts on.
package clock

import (
	"math"
	"sync"
	"time"
)

// Mode selects which stream drives the master clock. The choice is made
// once at open: audio when an audio stream is present and decodable, video
// when only video exists, external (wall clock) otherwise.
type Mode uint8

const (
	AudioMaster Mode = iota
	VideoMaster
	ExternalMaster
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case AudioMaster:
		return "audio"
	case VideoMaster:
		return "video"
	case ExternalMaster:
		return "external"
	default:
		return "unknown"
	}
}

// Params tunes the sync decisions. Values are milliseconds.
type Params struct {
	MaxVideoDelayMillis   float64
	MaxVideoSpeedupMillis float64
	DropThresholdMillis   float64
	RepeatThresholdMillis float64
	EnableFrameDrop       bool
	EnableFrameRepeat     bool
}

// DefaultParams returns the stock thresholds: clamp ±100ms, drop when more
// than 80ms behind, repeat when more than 20ms ahead.
func DefaultParams() Params {
	return Params{
		MaxVideoDelayMillis:   100,
		MaxVideoSpeedupMillis: 100,
		DropThresholdMillis:   80,
		RepeatThresholdMillis: 20,
		EnableFrameDrop:       true,
		EnableFrameRepeat:     true,
	}
}

// driftGain is the low-pass coefficient applied to the disagreement between
// an observed timestamp and the clock's prediction. Small enough to absorb
// isolated jitter, large enough that sustained drift converges.
const driftGain = 0.1

// syncHistorySize is the window for the average sync error statistic.
const syncHistorySize = 100

// streamClock is one stream's latest observation: the normalized PTS, the
// wall-clock instant it was taken, and the smoothed drift term.
type streamClock struct {
	ptsMillis  float64
	sampleTime time.Time
	drift      float64
}

// timeAt extrapolates the stream's media time to wall-clock instant now.
func (c *streamClock) timeAt(now time.Time) float64 {
	if c.sampleTime.IsZero() {
		return 0
	}
	elapsed := float64(now.Sub(c.sampleTime)) / float64(time.Millisecond)
	return c.ptsMillis + elapsed + c.drift
}

// normBase is a stream's normalization base: the first valid raw PTS, which
// maps to media time 0.
type normBase struct {
	initialized bool
	firstMillis float64
}

// normalize translates a raw PTS into the stream's own zero-based time.
// The first valid observation becomes the base. Negative (unknown) values
// pass through untouched.
func (b *normBase) normalize(rawMillis float64) float64 {
	if rawMillis < 0 {
		return rawMillis
	}
	if !b.initialized {
		b.initialized = true
		b.firstMillis = rawMillis
		return 0
	}
	return rawMillis - b.firstMillis
}

// Clock is the single source of truth for "where are we in media time".
// All methods are callable from any worker; the pts/sample tuple is guarded
// by a short mutex and statistics live behind a separate one so the hot
// read path stays short.
type Clock struct {
	mu     sync.Mutex
	mode   Mode
	params Params

	audio    streamClock
	video    streamClock
	external streamClock

	audioBase normBase
	videoBase normBase

	playStart   time.Time
	initialized bool

	paused     bool
	pauseBegan time.Time
	pausedFor  time.Duration

	statsMu      sync.Mutex
	stats        SyncStats
	errorHistory [syncHistorySize]float64
	historyIdx   int
	historyFill  int
}

// New creates a Clock in the given mode with default parameters.
func New(mode Mode) *Clock {
	return &Clock{mode: mode, params: DefaultParams()}
}

// SetParams replaces the sync thresholds.
func (c *Clock) SetParams(p Params) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = p
}

// ModeInUse returns the configured master mode.
func (c *Clock) ModeInUse() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// UpdateAudioClock records the audio stream's latest playback timestamp
// (raw, pre-normalization) observed at wall-clock now.
func (c *Clock) UpdateAudioClock(rawPTSMillis float64, now time.Time) {
	c.update(&c.audio, &c.audioBase, rawPTSMillis, now)
}

// UpdateVideoClock records the video stream's latest presented timestamp
// (raw, pre-normalization) observed at wall-clock now.
func (c *Clock) UpdateVideoClock(rawPTSMillis float64, now time.Time) {
	c.update(&c.video, &c.videoBase, rawPTSMillis, now)
}

func (c *Clock) update(sc *streamClock, base *normBase, rawMillis float64, now time.Time) {
	c.mu.Lock()

	if !c.initialized {
		c.playStart = now
		c.initialized = true
	}

	normalized := base.normalize(rawMillis)

	// Low-pass the disagreement between the observed timestamp and what
	// this clock would have answered for now, so isolated jitter is
	// absorbed but sustained drift is not.
	if !sc.sampleTime.IsZero() {
		predicted := sc.timeAt(now)
		sc.drift = (normalized - predicted) * driftGain
	}

	sc.ptsMillis = normalized
	sc.sampleTime = now
	c.mu.Unlock()

	c.updateStats(now)
}

// MasterClock returns the normalized media time of the master stream at
// wall-clock now. While paused, the clock reads as frozen at the pause
// instant.
func (c *Clock) MasterClock(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.masterLocked(now)
}

func (c *Clock) masterLocked(now time.Time) float64 {
	if c.paused && now.After(c.pauseBegan) {
		now = c.pauseBegan
	}
	switch c.mode {
	case AudioMaster:
		return c.audio.timeAt(now)
	case VideoMaster:
		return c.video.timeAt(now)
	default:
		if !c.initialized {
			return 0
		}
		return float64(now.Sub(c.playStart)) / float64(time.Millisecond)
	}
}

// VideoDelay returns how long the given video frame should still wait
// before presentation: normalized video PTS minus the master clock, clamped
// to [-MaxVideoSpeedup, +MaxVideoDelay]. Positive means render later.
func (c *Clock) VideoDelay(videoPTSMillis float64, now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoDelayLocked(videoPTSMillis, now)
}

func (c *Clock) videoDelayLocked(videoPTSMillis float64, now time.Time) float64 {
	normalized := c.videoBase.normalize(videoPTSMillis)
	diff := normalized - c.masterLocked(now)
	return math.Max(-c.params.MaxVideoSpeedupMillis,
		math.Min(c.params.MaxVideoDelayMillis, diff))
}

// ShouldDropVideo reports whether the frame is so far behind the master
// clock that presenting it would only add to the backlog.
func (c *Clock) ShouldDropVideo(videoPTSMillis float64, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.params.EnableFrameDrop {
		return false
	}
	return c.videoDelayLocked(videoPTSMillis, now) < -c.params.DropThresholdMillis
}

// ShouldRepeatVideo reports whether the frame is far enough ahead that the
// previous frame should be shown again instead of advancing.
func (c *Clock) ShouldRepeatVideo(videoPTSMillis float64, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.params.EnableFrameRepeat {
		return false
	}
	return c.videoDelayLocked(videoPTSMillis, now) > c.params.RepeatThresholdMillis
}

// Pause freezes the clock at now. Updates while paused are not expected;
// the audio callback emits silence and the scheduler parks.
func (c *Clock) Pause(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.pauseBegan = now
}

// Resume unfreezes the clock by advancing every sample time (and the
// external start) across the pause window, so the read path needs no
// pause-duration subtraction.
func (c *Clock) Resume(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	d := now.Sub(c.pauseBegan)
	c.pausedFor += d
	if !c.audio.sampleTime.IsZero() {
		c.audio.sampleTime = c.audio.sampleTime.Add(d)
	}
	if !c.video.sampleTime.IsZero() {
		c.video.sampleTime = c.video.sampleTime.Add(d)
	}
	if c.initialized {
		c.playStart = c.playStart.Add(d)
	}
	c.paused = false
}

// Paused reports whether the clock is frozen.
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Reset fully clears the clock, including both normalization bases. Used
// on stop: the next open starts a new identity domain.
func (c *Clock) Reset() {
	c.mu.Lock()
	c.audio = streamClock{}
	c.video = streamClock{}
	c.external = streamClock{}
	c.audioBase = normBase{}
	c.videoBase = normBase{}
	c.playStart = time.Time{}
	c.initialized = false
	c.paused = false
	c.pauseBegan = time.Time{}
	c.pausedFor = 0
	c.mu.Unlock()

	c.statsMu.Lock()
	c.stats = SyncStats{}
	c.errorHistory = [syncHistorySize]float64{}
	c.historyIdx = 0
	c.historyFill = 0
	c.statsMu.Unlock()
}

// ResetForSeek pins every clock to the seek target at now. Normalization
// bases are preserved: the stream identity has not changed, and the next
// frame's raw PTS still normalizes against the original first PTS.
func (c *Clock) ResetForSeek(targetMillis float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.audio = streamClock{ptsMillis: targetMillis, sampleTime: now}
	c.video = streamClock{ptsMillis: targetMillis, sampleTime: now}
	c.external = streamClock{ptsMillis: targetMillis, sampleTime: now}
	c.playStart = now.Add(-time.Duration(targetMillis * float64(time.Millisecond)))
	c.initialized = true
	if c.paused {
		// Keep the frozen reading at the seek target.
		c.pauseBegan = now
	}
}

// SyncStats is a snapshot of synchronization health.
type SyncStats struct {
	AudioMillis    float64
	VideoMillis    float64
	OffsetMillis   float64
	AvgErrorMillis float64
	MaxErrorMillis float64
	Corrections    int64
}

// InSync reports whether the streams agree within 40ms.
func (s SyncStats) InSync() bool {
	return math.Abs(s.OffsetMillis) < 40
}

// Quality buckets the current offset: <20ms excellent, <40ms good,
// <80ms fair, else poor.
func (s SyncStats) Quality() string {
	abs := math.Abs(s.OffsetMillis)
	switch {
	case abs < 20:
		return "excellent"
	case abs < 40:
		return "good"
	case abs < 80:
		return "fair"
	default:
		return "poor"
	}
}

// Stats returns the current synchronization statistics.
func (c *Clock) Stats() SyncStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Clock) updateStats(now time.Time) {
	c.mu.Lock()
	audio := c.audio.timeAt(now)
	video := c.video.timeAt(now)
	haveBoth := !c.audio.sampleTime.IsZero() && !c.video.sampleTime.IsZero()
	c.mu.Unlock()

	if !haveBoth {
		return
	}
	offset := video - audio

	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	c.stats.AudioMillis = audio
	c.stats.VideoMillis = video
	c.stats.OffsetMillis = offset

	c.errorHistory[c.historyIdx] = math.Abs(offset)
	c.historyIdx = (c.historyIdx + 1) % syncHistorySize
	if c.historyFill < syncHistorySize {
		c.historyFill++
	}

	var sum float64
	for i := 0; i < c.historyFill; i++ {
		sum += c.errorHistory[i]
	}
	c.stats.AvgErrorMillis = sum / float64(c.historyFill)
	if abs := math.Abs(offset); abs > c.stats.MaxErrorMillis {
		c.stats.MaxErrorMillis = abs
	}
	if math.Abs(offset) > 40 {
		c.stats.Corrections++
	}
}
