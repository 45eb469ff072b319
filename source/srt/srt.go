// Package srt backs the packet source with a pull-mode SRT connection: it
// dials a remote SRT listener, reads the MPEG transport stream it carries,
// and splits it into elementary packets with 90 kHz timestamps. SRT
// sources are live: no duration, no seeking, and no built-in decoders —
// the host supplies codecs for the elementary streams.
package srt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/lumenplay/lumen/internal/mpegts"
	"github.com/lumenplay/lumen/media"
	"github.com/lumenplay/lumen/source"
)

// readBufferSize is sized for SRT's standard payload: 1316 bytes is seven
// 188-byte TS packets; ten payloads per read keeps syscall overhead low.
const readBufferSize = 1316 * 10

// latencyNs is the SRT latency window in nanoseconds (120ms).
const latencyNs = 120_000_000

// dialTimeout bounds the synchronous connect.
const dialTimeout = 10 * time.Second

// Config describes the remote SRT source.
type Config struct {
	// Address is the remote listener, host:port.
	Address string
	// StreamID is the SRT stream identifier; defaults to "live/<address>".
	StreamID string
}

// Source pulls a transport stream over SRT and yields elementary packets.
type Source struct {
	log  *slog.Logger
	conn *srtgo.Conn

	splitter *mpegts.Splitter
	readBuf  []byte
	pending  []mpegts.ESPacket
	seq      map[uint16]uint64
	stats    *source.Stats

	mu      sync.Mutex
	streams []source.StreamInfo
	closed  bool
}

// Dial connects to the remote listener, failing after a bounded timeout.
// If log is nil, slog.Default() is used.
func Dial(ctx context.Context, cfg Config, log *slog.Logger) (*Source, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("srt: address is required")
	}
	if log == nil {
		log = slog.Default()
	}

	scfg := srtgo.DefaultConfig()
	scfg.Latency = latencyNs
	scfg.StreamID = cfg.StreamID
	if scfg.StreamID == "" {
		scfg.StreamID = "live/" + cfg.Address
	}

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(cfg.Address, scfg)
		ch <- dialResult{conn, err}
	}()

	// Collect a late dial result in the background and close any leaked
	// connection.
	drain := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt: dial %s: %w", cfg.Address, res.err)
		}
		return &Source{
			log:      log.With("component", "srt-source", "address", cfg.Address),
			conn:     res.conn,
			splitter: mpegts.NewSplitter(),
			readBuf:  make([]byte, readBufferSize),
			seq:      make(map[uint16]uint64),
			stats:    &source.Stats{},
		}, nil
	case <-timer.C:
		drain()
		return nil, fmt.Errorf("srt: dial %s timed out after %s", cfg.Address, dialTimeout)
	case <-ctx.Done():
		drain()
		return nil, ctx.Err()
	}
}

// ReadPacket returns the next elementary packet, reading and splitting
// transport stream bytes as needed.
func (s *Source) ReadPacket(ctx context.Context) (*media.Packet, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(s.pending) > 0 {
			es := s.pending[0]
			s.pending = s.pending[1:]
			if es.Kind == media.StreamUnknown {
				continue
			}
			return s.convert(es), nil
		}

		n, err := s.conn.Read(s.readBuf)
		if err != nil {
			s.stats.RecordError()
			return nil, fmt.Errorf("srt: read: %w", err)
		}
		if n == 0 {
			s.pending = append(s.pending, s.splitter.Flush()...)
			if len(s.pending) == 0 {
				return nil, source.ErrEndOfStream
			}
			continue
		}
		s.pending = append(s.pending, s.splitter.Split(s.readBuf[:n])...)
		s.refreshStreams()
	}
}

func (s *Source) convert(es mpegts.ESPacket) *media.Packet {
	s.seq[es.PID]++
	s.stats.RecordPacket(es.Kind, len(es.Data))

	pts := media.Timestamp{Ticks: es.PTS, Base: media.TimeBase90kHz}
	dts := media.Timestamp{Ticks: es.DTS, Base: media.TimeBase90kHz}
	return &media.Packet{
		Kind:        es.Kind,
		StreamIndex: int(es.PID),
		Data:        es.Data,
		PTS:         pts,
		DTS:         dts,
		Keyframe:    es.RandomAccess,
		Seq:         s.seq[es.PID],
	}
}

// refreshStreams rebuilds the stream table when the PMT adds PIDs.
func (s *Source) refreshStreams() {
	types := s.splitter.StreamTypes()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(types) == len(s.streams) {
		return
	}
	s.streams = s.streams[:0]
	for pid, streamType := range types {
		info := source.StreamInfo{
			Index:    int(pid),
			TimeBase: media.TimeBase90kHz,
			Codec:    codecName(streamType),
		}
		switch codecKind(streamType) {
		case media.StreamVideo:
			info.Kind = media.StreamVideo
		case media.StreamAudio:
			info.Kind = media.StreamAudio
		default:
			continue
		}
		s.streams = append(s.streams, info)
	}
}

func codecKind(streamType uint8) media.StreamKind {
	switch streamType {
	case 0x01, 0x02, 0x10, 0x1B, 0x24:
		return media.StreamVideo
	case 0x03, 0x04, 0x0F, 0x11, 0x81:
		return media.StreamAudio
	default:
		return media.StreamUnknown
	}
}

func codecName(streamType uint8) string {
	switch streamType {
	case 0x01, 0x02:
		return "mpeg2video"
	case 0x1B:
		return "h264"
	case 0x24:
		return "hevc"
	case 0x03, 0x04:
		return "mp3"
	case 0x0F, 0x11:
		return "aac"
	case 0x81:
		return "ac3"
	default:
		return "unknown"
	}
}

// Streams lists the elementary streams the PMT has announced so far.
func (s *Source) Streams() []source.StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]source.StreamInfo, len(s.streams))
	copy(out, s.streams)
	return out
}

// Duration is unknown for live sources.
func (s *Source) Duration() time.Duration { return 0 }

// Seek is unsupported on live SRT streams.
func (s *Source) Seek(time.Duration, bool) error { return source.ErrSeekUnsupported }

// Stats returns the connection's demux counters.
func (s *Source) Stats() *source.Stats { return s.stats }

// Close terminates the SRT connection.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.Close()
	return nil
}
