package clock

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func TestNormalizationFirstPTSMapsToZero(t *testing.T) {
	t.Parallel()

	c := New(AudioMaster)
	// Stream starts at a large container offset.
	c.UpdateAudioClock(90_000, at(0))

	if got := c.MasterClock(at(0)); math.Abs(got) > 0.001 {
		t.Errorf("master after first sample = %v, want 0", got)
	}

	c.UpdateAudioClock(90_100, at(100))
	if got := c.MasterClock(at(100)); math.Abs(got-100) > 1 {
		t.Errorf("master after 100ms = %v, want ~100", got)
	}
}

func TestMasterClockAdvancesBetweenSamples(t *testing.T) {
	t.Parallel()

	c := New(AudioMaster)
	c.UpdateAudioClock(0, at(0))

	if got := c.MasterClock(at(250)); math.Abs(got-250) > 0.001 {
		t.Errorf("extrapolated master = %v, want 250", got)
	}
}

func TestMasterClockMonotonicWhilePlaying(t *testing.T) {
	t.Parallel()

	c := New(AudioMaster)
	c.UpdateAudioClock(0, at(0))

	prev := math.Inf(-1)
	for ms := 0; ms <= 2000; ms += 10 {
		// Updates arrive with small jitter around the true rate.
		if ms%40 == 0 {
			jitter := float64(ms%80) / 40 // 0 or 1 ms
			c.UpdateAudioClock(float64(ms)+jitter, at(ms))
		}
		got := c.MasterClock(at(ms))
		// Allowed regression is bounded by the drift smoothing step.
		if got < prev-1.0 {
			t.Fatalf("master clock regressed: %v after %v at t=%dms", got, prev, ms)
		}
		prev = got
	}
}

func TestDriftIsLowPassed(t *testing.T) {
	t.Parallel()

	c := New(AudioMaster)
	c.UpdateAudioClock(0, at(0))
	// Observed PTS jumps 50ms ahead of prediction; drift should move only
	// a tenth of that.
	c.UpdateAudioClock(150, at(100))

	// At the sample instant, master = pts + drift = 150 + 0.1*(150-100).
	got := c.MasterClock(at(100))
	if math.Abs(got-155) > 0.001 {
		t.Errorf("master with drift = %v, want 155", got)
	}
}

func TestVideoDelayClamped(t *testing.T) {
	t.Parallel()

	c := New(AudioMaster)
	c.UpdateAudioClock(0, at(0))
	c.UpdateVideoClock(0, at(0))

	tests := []struct {
		name     string
		videoPTS float64
		want     float64
	}{
		{"in sync", 0, 0},
		{"slightly ahead", 50, 50},
		{"clamped ahead", 500, 100},
		{"slightly behind", -60, -60},
		{"clamped behind", -500, -100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.VideoDelay(tt.videoPTS, at(0))
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("VideoDelay(%v) = %v, want %v", tt.videoPTS, got, tt.want)
			}
		})
	}
}

func TestShouldDropAndRepeat(t *testing.T) {
	t.Parallel()

	c := New(AudioMaster)
	c.UpdateAudioClock(0, at(0))
	c.UpdateVideoClock(0, at(0))

	// 200ms behind the master: drop.
	if !c.ShouldDropVideo(-200, at(0)) {
		t.Error("frame 200ms late should be dropped")
	}
	// 50ms behind: inside the drop threshold.
	if c.ShouldDropVideo(-50, at(0)) {
		t.Error("frame 50ms late should not be dropped")
	}
	// 50ms ahead: repeat.
	if !c.ShouldRepeatVideo(50, at(0)) {
		t.Error("frame 50ms early should trigger repeat")
	}
	if c.ShouldRepeatVideo(10, at(0)) {
		t.Error("frame 10ms early should not trigger repeat")
	}
}

func TestDropRepeatDisabled(t *testing.T) {
	t.Parallel()

	c := New(AudioMaster)
	p := DefaultParams()
	p.EnableFrameDrop = false
	p.EnableFrameRepeat = false
	c.SetParams(p)
	c.UpdateAudioClock(0, at(0))

	if c.ShouldDropVideo(-500, at(0)) {
		t.Error("drop disabled but ShouldDropVideo true")
	}
	if c.ShouldRepeatVideo(500, at(0)) {
		t.Error("repeat disabled but ShouldRepeatVideo true")
	}
}

func TestPauseFreezesAndResumeContinues(t *testing.T) {
	t.Parallel()

	c := New(AudioMaster)
	c.UpdateAudioClock(0, at(0))

	c.Pause(at(1000))
	frozen := c.MasterClock(at(1000))

	// Two seconds pass while paused; the reading must not move.
	if got := c.MasterClock(at(3000)); math.Abs(got-frozen) > 0.001 {
		t.Errorf("paused clock moved: %v -> %v", frozen, got)
	}

	c.Resume(at(3000))
	// Delta after resume equals delta of wall time, not pause + delta.
	got := c.MasterClock(at(3500))
	if math.Abs(got-(frozen+500)) > 0.001 {
		t.Errorf("post-resume clock = %v, want %v", got, frozen+500)
	}
}

func TestPauseResumeRoundTripLeavesClockUnchanged(t *testing.T) {
	t.Parallel()

	c := New(ExternalMaster)
	c.UpdateAudioClock(0, at(0)) // initializes play start

	before := c.MasterClock(at(400))
	c.Pause(at(400))
	c.Resume(at(900))
	after := c.MasterClock(at(900))

	if math.Abs(after-before) > 0.001 {
		t.Errorf("pause/resume changed clock: %v -> %v", before, after)
	}
}

func TestResetForSeek(t *testing.T) {
	t.Parallel()

	c := New(AudioMaster)
	c.UpdateAudioClock(10_000, at(0)) // base = 10000
	c.UpdateAudioClock(10_500, at(500))

	c.ResetForSeek(4000, at(600))
	if got := c.MasterClock(at(600)); math.Abs(got-4000) > 0.001 {
		t.Errorf("master after seek = %v, want 4000", got)
	}

	// The normalization base survives: raw PTS 14100 is 4100 in stream time.
	c.UpdateAudioClock(14_100, at(700))
	if got := c.MasterClock(at(700)); math.Abs(got-4100) > 15 {
		t.Errorf("master after post-seek sample = %v, want ~4100", got)
	}
}

func TestResetClearsBases(t *testing.T) {
	t.Parallel()

	c := New(AudioMaster)
	c.UpdateAudioClock(5000, at(0))
	c.Reset()

	// After a full reset the next first PTS becomes the new zero.
	c.UpdateAudioClock(20_000, at(0))
	if got := c.MasterClock(at(0)); math.Abs(got) > 0.001 {
		t.Errorf("master after reset + first sample = %v, want 0", got)
	}
}

func TestExternalMasterTracksWallClock(t *testing.T) {
	t.Parallel()

	c := New(ExternalMaster)
	c.UpdateVideoClock(0, at(0))

	if got := c.MasterClock(at(1500)); math.Abs(got-1500) > 0.001 {
		t.Errorf("external master = %v, want 1500", got)
	}
}

func TestSyncStatsQualityBuckets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		offset float64
		want   string
	}{
		{5, "excellent"}, {-15, "excellent"}, {30, "good"}, {60, "fair"}, {120, "poor"},
	}
	for _, tt := range tests {
		s := SyncStats{OffsetMillis: tt.offset}
		if got := s.Quality(); got != tt.want {
			t.Errorf("Quality(%v) = %q, want %q", tt.offset, got, tt.want)
		}
	}
}

func TestSyncStatsTrackOffset(t *testing.T) {
	t.Parallel()

	c := New(AudioMaster)
	// Each stream's first PTS normalizes to 0, so the offset comes from
	// sample times: video started at t=0, audio's first sample at t=30ms.
	c.UpdateVideoClock(0, at(0))
	c.UpdateAudioClock(0, at(30)) // video 30ms ahead

	s := c.Stats()
	if math.Abs(s.OffsetMillis-30) > 0.5 {
		t.Errorf("OffsetMillis = %v, want ~30", s.OffsetMillis)
	}
	if !s.InSync() {
		t.Error("30ms offset should still count as in sync")
	}
	if s.Quality() != "good" {
		t.Errorf("Quality = %q, want good", s.Quality())
	}
}
