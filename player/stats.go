package player

import (
	"sync/atomic"

	"github.com/lumenplay/lumen/clock"
	"github.com/lumenplay/lumen/source"
	"github.com/lumenplay/lumen/video"
)

// pipelineStats aggregates per-stage counters. Workers touch only atomics;
// Player.Stats assembles the user-facing view.
type pipelineStats struct {
	packetsDemuxed atomic.Int64

	videoPacketsIn atomic.Int64
	videoFramesOut atomic.Int64
	videoDecodeErr atomic.Int64

	audioPacketsIn atomic.Int64
	audioFramesOut atomic.Int64
	audioDecodeErr atomic.Int64
	resampleErr    atomic.Int64
}

// DecodeStats is one decoder's throughput and error accounting.
type DecodeStats struct {
	PacketsIn    int64 `json:"packetsIn"`
	FramesOut    int64 `json:"framesOut"`
	DecodeErrors int64 `json:"decodeErrors"`
	QueueLen     int   `json:"queueLen"`
	QueueCap     int   `json:"queueCap"`
}

// StatsSnapshot is a point-in-time view of the whole pipeline, from demux
// through presentation.
type StatsSnapshot struct {
	Source source.StatsSnapshot `json:"source"`
	Video  DecodeStats          `json:"video"`
	Audio  DecodeStats          `json:"audio"`

	FramesPresented int64 `json:"framesPresented"`
	FramesDropped   int64 `json:"framesDropped"`
	FramesRepeated  int64 `json:"framesRepeated"`
	RenderErrors    int64 `json:"renderErrors"`

	AudioSamplesPlayed int64 `json:"audioSamplesPlayed"`
	AudioUnderruns     int64 `json:"audioUnderruns"`
	ResampleErrors     int64 `json:"resampleErrors"`

	Sync clock.SyncStats `json:"sync"`
}

// renderStats copies the scheduler counters into the snapshot.
func (s *StatsSnapshot) renderStats(sched video.SchedulerStats) {
	s.FramesPresented = sched.Presented
	s.FramesDropped = sched.Dropped
	s.FramesRepeated = sched.Repeated
	s.RenderErrors = sched.RenderErrors
}
