// Package source defines the packet-source and frame-decoder capabilities
// the engine consumes. Container and codec internals stay behind these
// interfaces; backends live in the subpackages.
package source

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/lumenplay/lumen/media"
)

// Errors shared by source backends.
var (
	ErrEndOfStream     = errors.New("source: end of stream")
	ErrNoSuchStream    = errors.New("source: no such stream")
	ErrSeekUnsupported = errors.New("source: seek not supported")
	ErrNoDecoder       = errors.New("source: no decoder available")
	ErrAgain           = errors.New("source: no frame available yet")
)

// StreamInfo describes one elementary stream discovered at open.
type StreamInfo struct {
	Index      int
	Kind       media.StreamKind
	Codec      string
	TimeBase   media.Rational
	Width      int
	Height     int
	FrameRate  float64
	SampleRate int
	Channels   int
}

// PacketSource is the demultiplexer capability: a pull-based reader of
// encoded packets in container order.
type PacketSource interface {
	// ReadPacket returns the next packet of any stream. ErrEndOfStream
	// once the container is exhausted.
	ReadPacket(ctx context.Context) (*media.Packet, error)
	// Streams lists the source's elementary streams.
	Streams() []StreamInfo
	// Duration returns the container duration, 0 when unknown (live).
	Duration() time.Duration
	// Seek repositions to target. backward biases toward the preceding
	// keyframe.
	Seek(target time.Duration, backward bool) error
	Close() error
}

// AudioDecoder turns audio packets into PCM frames.
type AudioDecoder interface {
	SendPacket(p *media.Packet) error
	// ReceiveFrame returns the next decoded frame, ErrAgain when the
	// decoder needs more input.
	ReceiveFrame() (*media.AudioFrame, error)
	// Flush drops internal reference frames. Used on seek.
	Flush()
	Close() error
}

// VideoDecoder turns video packets into pictures.
type VideoDecoder interface {
	SendPacket(p *media.Packet) error
	ReceiveFrame() (*media.VideoFrame, error)
	Flush()
	Close() error
}

// DecoderProvider is implemented by sources that carry their own codecs
// (the FFmpeg-backed file source). Network sources that deliver raw
// elementary streams do not; the host supplies decoders instead.
type DecoderProvider interface {
	AudioDecoder(streamIndex int) (AudioDecoder, error)
	VideoDecoder(streamIndex int) (VideoDecoder, error)
}

// Stats counts source-level activity, mirrored from connection and demux
// health monitoring.
type Stats struct {
	bytesRead    atomic.Int64
	packetsRead  atomic.Int64
	packetsVideo atomic.Int64
	packetsAudio atomic.Int64
	readErrors   atomic.Int64
}

// RecordPacket notes one demuxed packet of n payload bytes.
func (s *Stats) RecordPacket(kind media.StreamKind, n int) {
	s.bytesRead.Add(int64(n))
	s.packetsRead.Add(1)
	switch kind {
	case media.StreamVideo:
		s.packetsVideo.Add(1)
	case media.StreamAudio:
		s.packetsAudio.Add(1)
	}
}

// RecordError notes one failed read.
func (s *Stats) RecordError() { s.readErrors.Add(1) }

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	BytesRead    int64 `json:"bytesRead"`
	PacketsRead  int64 `json:"packetsRead"`
	PacketsVideo int64 `json:"packetsVideo"`
	PacketsAudio int64 `json:"packetsAudio"`
	ReadErrors   int64 `json:"readErrors"`
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		BytesRead:    s.bytesRead.Load(),
		PacketsRead:  s.packetsRead.Load(),
		PacketsVideo: s.packetsVideo.Load(),
		PacketsAudio: s.packetsAudio.Load(),
		ReadErrors:   s.readErrors.Load(),
	}
}
