// Package reisen backs the packet-source and decoder capabilities with
// FFmpeg through the reisen bindings. It serves local files and any URL
// scheme FFmpeg's protocol layer understands.
//
// FFmpeg decodes at demux time: the library couples ReadPacket with the
// per-stream frame readers, so this source decodes each packet as it is
// demuxed and the decoder endpoints replay those frames in packet order.
// The pipeline shape (demux worker, decode workers, queues) is unchanged;
// only the point where the codec actually runs moves.
package reisen

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/erparts/reisen"

	"github.com/lumenplay/lumen/media"
	"github.com/lumenplay/lumen/source"
)

// networkInit runs FFmpeg's global network initialization exactly once per
// process. The library does not support repeated init/quit cycles, so
// there is deliberately no teardown.
var networkInit sync.Once

func initNetwork() error {
	var err error
	networkInit.Do(func() {
		err = reisen.NetworkInitialize()
	})
	return err
}

// decodedBuffer bounds the frames decoded ahead of the decoder endpoints.
const decodedBuffer = 16

// Source demuxes and decodes one container through FFmpeg.
type Source struct {
	log   *slog.Logger
	url   string
	cont  *reisen.Media
	video *reisen.VideoStream
	audio *reisen.AudioStream

	streams  []source.StreamInfo
	duration time.Duration
	stats    *source.Stats

	mu          sync.Mutex
	videoFrames []*media.VideoFrame
	audioFrames []*media.AudioFrame
	videoSeq    uint64
	audioSeq    uint64
	closed      bool
}

// New opens url and prepares the first video and audio streams for
// decoding. If log is nil, slog.Default() is used.
func New(url string, log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := initNetwork(); err != nil {
		return nil, fmt.Errorf("reisen: network init: %w", err)
	}

	cont, err := reisen.NewMedia(url)
	if err != nil {
		return nil, fmt.Errorf("reisen: open %q: %w", url, err)
	}

	s := &Source{
		log:   log.With("component", "reisen-source", "url", url),
		url:   url,
		cont:  cont,
		stats: &source.Stats{},
	}

	if err := cont.OpenDecode(); err != nil {
		cont.Close()
		return nil, fmt.Errorf("reisen: open decode: %w", err)
	}

	if videoStreams := cont.VideoStreams(); len(videoStreams) > 0 {
		if len(videoStreams) > 1 {
			s.log.Warn("multiple video streams, using the first", "count", len(videoStreams))
		}
		s.video = videoStreams[0]
		if err := s.video.Open(); err != nil {
			s.teardown()
			return nil, fmt.Errorf("reisen: open video stream: %w", err)
		}
		frNum, frDen := s.video.FrameRate()
		info := source.StreamInfo{
			Index:    s.video.Index(),
			Kind:     media.StreamVideo,
			Codec:    s.video.CodecName(),
			TimeBase: media.TimeBaseMillis,
			Width:    s.video.Width(),
			Height:   s.video.Height(),
		}
		if frDen > 0 {
			info.FrameRate = float64(frNum) / float64(frDen)
		}
		s.streams = append(s.streams, info)
		if d, err := s.video.Duration(); err == nil && d > s.duration {
			s.duration = d
		}
	}

	if audioStreams := cont.AudioStreams(); len(audioStreams) > 0 {
		if len(audioStreams) > 1 {
			s.log.Warn("multiple audio streams, using the first", "count", len(audioStreams))
		}
		s.audio = audioStreams[0]
		if err := s.audio.Open(); err != nil {
			s.teardown()
			return nil, fmt.Errorf("reisen: open audio stream: %w", err)
		}
		s.streams = append(s.streams, source.StreamInfo{
			Index:      s.audio.Index(),
			Kind:       media.StreamAudio,
			Codec:      s.audio.CodecName(),
			TimeBase:   media.TimeBaseMillis,
			SampleRate: s.audio.SampleRate(),
			Channels:   2,
		})
		if d, err := s.audio.Duration(); err == nil && d > s.duration {
			s.duration = d
		}
	}

	if len(s.streams) == 0 {
		s.teardown()
		return nil, source.ErrNoSuchStream
	}
	return s, nil
}

// ReadPacket demuxes the next unit, decodes it on the spot, and returns a
// packet describing it. The payload stays inside FFmpeg; the matching
// decoder endpoint will surface the frame.
func (s *Source) ReadPacket(ctx context.Context) (*media.Packet, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pkt, ok, err := s.cont.ReadPacket()
		if err != nil {
			s.stats.RecordError()
			return nil, fmt.Errorf("reisen: read packet: %w", err)
		}
		if !ok {
			return nil, source.ErrEndOfStream
		}

		switch pkt.Type() {
		case reisen.StreamVideo:
			if s.video == nil || pkt.StreamIndex() != s.video.Index() {
				continue
			}
			frame, _, err := s.video.ReadVideoFrame()
			if err != nil {
				s.stats.RecordError()
				s.log.Warn("video decode failed, packet skipped", "error", err)
				continue
			}
			if frame == nil {
				continue
			}
			return s.stashVideo(frame, len(pkt.Data()))

		case reisen.StreamAudio:
			if s.audio == nil || pkt.StreamIndex() != s.audio.Index() {
				continue
			}
			frame, _, err := s.audio.ReadAudioFrame()
			if err != nil {
				s.stats.RecordError()
				s.log.Warn("audio decode failed, packet skipped", "error", err)
				continue
			}
			if frame == nil {
				continue
			}
			return s.stashAudio(frame, len(pkt.Data()))

		default:
			continue
		}
	}
}

func (s *Source) stashVideo(frame *reisen.VideoFrame, payloadLen int) (*media.Packet, error) {
	pts, err := frame.PresentationOffset()
	if err != nil {
		pts = -1
	}

	w, h := s.video.Width(), s.video.Height()
	vf := &media.VideoFrame{
		Width:  w,
		Height: h,
		Stride: w * 4,
		Format: media.PixelRGBA,
		Pixels: append([]byte(nil), frame.Data()...),
		PTS:    media.FromMillis(float64(pts)/float64(time.Millisecond), media.TimeBaseMillis),
	}
	if pts < 0 {
		vf.PTS = media.NoTimestamp(media.TimeBaseMillis)
	}

	s.mu.Lock()
	if len(s.videoFrames) >= decodedBuffer {
		// Drop the oldest rather than grow without bound; the decode
		// worker is expected to keep up.
		s.videoFrames = s.videoFrames[1:]
	}
	s.videoFrames = append(s.videoFrames, vf)
	s.videoSeq++
	seq := s.videoSeq
	s.mu.Unlock()

	s.stats.RecordPacket(media.StreamVideo, payloadLen)
	return &media.Packet{
		Kind:        media.StreamVideo,
		StreamIndex: s.video.Index(),
		PTS:         vf.PTS,
		Seq:         seq,
	}, nil
}

func (s *Source) stashAudio(frame *reisen.AudioFrame, payloadLen int) (*media.Packet, error) {
	pts, err := frame.PresentationOffset()
	if err != nil {
		pts = -1
	}

	// reisen delivers s16le stereo at the stream rate.
	data := append([]byte(nil), frame.Data()...)
	af := &media.AudioFrame{
		Format:     media.SampleS16,
		Channels:   2,
		SampleRate: s.audio.SampleRate(),
		Samples:    len(data) / 4,
		Data:       [][]byte{data},
		PTS:        media.FromMillis(float64(pts)/float64(time.Millisecond), media.TimeBaseMillis),
	}
	if pts < 0 {
		af.PTS = media.NoTimestamp(media.TimeBaseMillis)
	}

	s.mu.Lock()
	if len(s.audioFrames) >= decodedBuffer {
		s.audioFrames = s.audioFrames[1:]
	}
	s.audioFrames = append(s.audioFrames, af)
	s.audioSeq++
	seq := s.audioSeq
	s.mu.Unlock()

	s.stats.RecordPacket(media.StreamAudio, payloadLen)
	return &media.Packet{
		Kind:        media.StreamAudio,
		StreamIndex: s.audio.Index(),
		PTS:         af.PTS,
		Seq:         seq,
	}, nil
}

// Streams lists the discovered streams.
func (s *Source) Streams() []source.StreamInfo { return s.streams }

// Duration returns the container duration.
func (s *Source) Duration() time.Duration { return s.duration }

// Stats returns the source's demux counters.
func (s *Source) Stats() *source.Stats { return s.stats }

// Seek rewinds both streams to target and drops frames decoded ahead.
func (s *Source) Seek(target time.Duration, _ bool) error {
	if target < 0 || (s.duration > 0 && target > s.duration) {
		return fmt.Errorf("reisen: seek target %v out of range", target)
	}
	if s.video != nil {
		if err := s.video.Rewind(target); err != nil {
			return fmt.Errorf("reisen: video rewind: %w", err)
		}
	}
	if s.audio != nil {
		if err := s.audio.Rewind(target); err != nil {
			return fmt.Errorf("reisen: audio rewind: %w", err)
		}
	}
	s.mu.Lock()
	s.videoFrames = nil
	s.audioFrames = nil
	s.mu.Unlock()
	return nil
}

// AudioDecoder returns the decoder endpoint for the audio stream.
func (s *Source) AudioDecoder(streamIndex int) (source.AudioDecoder, error) {
	if s.audio == nil || streamIndex != s.audio.Index() {
		return nil, source.ErrNoSuchStream
	}
	return &audioDecoder{src: s}, nil
}

// VideoDecoder returns the decoder endpoint for the video stream.
func (s *Source) VideoDecoder(streamIndex int) (source.VideoDecoder, error) {
	if s.video == nil || streamIndex != s.video.Index() {
		return nil, source.ErrNoSuchStream
	}
	return &videoDecoder{src: s}, nil
}

func (s *Source) teardown() {
	if s.video != nil {
		s.video.Close()
	}
	if s.audio != nil {
		s.audio.Close()
	}
	s.cont.CloseDecode()
	s.cont.Close()
}

// Close releases the container and codecs. The FFmpeg network layer stays
// initialized for the life of the process.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.videoFrames = nil
	s.audioFrames = nil
	s.mu.Unlock()

	s.teardown()
	return nil
}

// audioDecoder replays frames decoded at demux time, in packet order.
type audioDecoder struct {
	src *Source
}

func (d *audioDecoder) SendPacket(*media.Packet) error { return nil }

func (d *audioDecoder) ReceiveFrame() (*media.AudioFrame, error) {
	d.src.mu.Lock()
	defer d.src.mu.Unlock()
	if len(d.src.audioFrames) == 0 {
		return nil, source.ErrAgain
	}
	f := d.src.audioFrames[0]
	d.src.audioFrames = d.src.audioFrames[1:]
	return f, nil
}

func (d *audioDecoder) Flush() {
	d.src.mu.Lock()
	d.src.audioFrames = nil
	d.src.mu.Unlock()
}

func (d *audioDecoder) Close() error { return nil }

type videoDecoder struct {
	src *Source
}

func (d *videoDecoder) SendPacket(*media.Packet) error { return nil }

func (d *videoDecoder) ReceiveFrame() (*media.VideoFrame, error) {
	d.src.mu.Lock()
	defer d.src.mu.Unlock()
	if len(d.src.videoFrames) == 0 {
		return nil, source.ErrAgain
	}
	f := d.src.videoFrames[0]
	d.src.videoFrames = d.src.videoFrames[1:]
	return f, nil
}

func (d *videoDecoder) Flush() {
	d.src.mu.Lock()
	d.src.videoFrames = nil
	d.src.mu.Unlock()
}

func (d *videoDecoder) Close() error { return nil }
