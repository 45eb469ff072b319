package player

import (
	"context"
	"errors"
	"time"

	"github.com/lumenplay/lumen/media"
	"github.com/lumenplay/lumen/queue"
	"github.com/lumenplay/lumen/source"
	"github.com/lumenplay/lumen/state"
)

// gate runs the shared prologue of every worker loop: exit on stop, park
// while paused. exit is true when the worker should return; otherwise
// proceed reports whether the loop body should run this iteration.
func (p *Player) gate(ctx context.Context) (proceed, exit bool) {
	if ctx.Err() != nil || p.st.ShouldStop() {
		return false, true
	}
	switch p.st.Current() {
	case state.Paused:
		p.st.WaitForResume(queuePollInterval)
		return false, false
	case state.Seeking:
		// The controller is flushing; do not touch the source or queues.
		time.Sleep(5 * time.Millisecond)
		return false, false
	}
	return true, false
}

// demuxLoop reads packets from the source and routes them to the
// per-stream packet queues, blocking on backpressure.
func (p *Player) demuxLoop(ctx context.Context) error {
	log := p.log.With("worker", "demux")
	consecutiveErrs := 0

	for {
		proceed, exit := p.gate(ctx)
		if exit {
			return nil
		}
		if !proceed {
			continue
		}

		p.srcMu.Lock()
		pkt, err := p.src.ReadPacket(ctx)
		p.srcMu.Unlock()

		switch {
		case errors.Is(err, source.ErrEndOfStream):
			log.Info("end of stream")
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			consecutiveErrs++
			if consecutiveErrs >= demuxErrorLimit {
				log.Error("source failed repeatedly, aborting session", "error", err)
				p.st.Transition(state.Errored)
				return err
			}
			log.Warn("read failed, packet skipped", "error", err)
			continue
		}
		consecutiveErrs = 0
		p.stats.packetsDemuxed.Add(1)

		var q *queue.Queue[*media.Packet]
		switch pkt.Kind {
		case media.StreamVideo:
			if p.videoStream == nil || pkt.StreamIndex != p.videoStream.Index {
				continue
			}
			q = p.videoPackets
		case media.StreamAudio:
			if p.audioStream == nil || pkt.StreamIndex != p.audioStream.Index {
				continue
			}
			q = p.audioPackets
		default:
			continue
		}

		if !p.pushPacket(ctx, q, pkt) {
			return nil
		}
	}
}

// pushPacket blocks on the queue with stop checks between attempts.
// Returns false when the worker should exit.
func (p *Player) pushPacket(ctx context.Context, q *queue.Queue[*media.Packet], pkt *media.Packet) bool {
	for {
		err := q.Push(pkt, queuePollInterval)
		switch {
		case err == nil:
			return true
		case errors.Is(err, queue.ErrClosed):
			return false
		}
		if ctx.Err() != nil || p.st.ShouldStop() {
			return false
		}
	}
}

// videoDecodeLoop feeds video packets to the decoder and moves decoded
// frames into the frame queue.
func (p *Player) videoDecodeLoop(ctx context.Context) error {
	log := p.log.With("worker", "video-decode")

	for {
		proceed, exit := p.gate(ctx)
		if exit {
			return nil
		}
		if !proceed {
			continue
		}

		pkt, err := p.videoPackets.Pop(queuePollInterval)
		switch {
		case errors.Is(err, queue.ErrClosed):
			return nil
		case errors.Is(err, queue.ErrTimeout):
			continue
		case err != nil:
			return err
		}

		p.stats.videoPacketsIn.Add(1)
		if err := p.vdec.SendPacket(pkt); err != nil {
			p.stats.videoDecodeErr.Add(1)
			log.Warn("send packet failed, packet skipped", "error", err)
			continue
		}

		for {
			frame, err := p.vdec.ReceiveFrame()
			if errors.Is(err, source.ErrAgain) {
				break
			}
			if err != nil {
				p.stats.videoDecodeErr.Add(1)
				log.Warn("receive frame failed", "error", err)
				break
			}
			p.stats.videoFramesOut.Add(1)
			if !p.pushVideoFrame(ctx, frame) {
				return nil
			}
		}
	}
}

func (p *Player) pushVideoFrame(ctx context.Context, f *media.VideoFrame) bool {
	for {
		err := p.videoFrames.Push(f, queuePollInterval)
		switch {
		case err == nil:
			return true
		case errors.Is(err, queue.ErrClosed):
			f.Dispose()
			return false
		}
		if ctx.Err() != nil || p.st.ShouldStop() {
			f.Dispose()
			return false
		}
		if p.st.Current() == state.Seeking {
			// The frame predates the seek target; the flush would drop
			// it anyway.
			f.Dispose()
			return true
		}
	}
}

// audioDecodeLoop decodes audio packets, resamples the frames to the
// device format, and queues the PCM for the device callback.
func (p *Player) audioDecodeLoop(ctx context.Context) error {
	log := p.log.With("worker", "audio-decode")

	for {
		proceed, exit := p.gate(ctx)
		if exit {
			return nil
		}
		if !proceed {
			continue
		}

		pkt, err := p.audioPackets.Pop(queuePollInterval)
		switch {
		case errors.Is(err, queue.ErrClosed):
			return nil
		case errors.Is(err, queue.ErrTimeout):
			continue
		case err != nil:
			return err
		}

		p.stats.audioPacketsIn.Add(1)
		if err := p.adec.SendPacket(pkt); err != nil {
			p.stats.audioDecodeErr.Add(1)
			log.Warn("send packet failed, packet skipped", "error", err)
			continue
		}

		for {
			frame, err := p.adec.ReceiveFrame()
			if errors.Is(err, source.ErrAgain) {
				break
			}
			if err != nil {
				p.stats.audioDecodeErr.Add(1)
				log.Warn("receive frame failed", "error", err)
				break
			}
			p.stats.audioFramesOut.Add(1)

			pcm, err := p.resampler.Resample(frame)
			if err != nil {
				p.stats.resampleErr.Add(1)
				log.Warn("resample failed, frame skipped", "error", err)
				continue
			}
			if !p.pushPCM(ctx, pcm) {
				return nil
			}
		}
	}
}

func (p *Player) pushPCM(ctx context.Context, pcm *media.PCMFrame) bool {
	for {
		err := p.aplayer.PushFrame(pcm, queuePollInterval)
		switch {
		case err == nil:
			return true
		case errors.Is(err, queue.ErrClosed):
			return false
		}
		if ctx.Err() != nil || p.st.ShouldStop() {
			return false
		}
		if p.st.Current() == state.Seeking {
			return true // pre-seek PCM, the flush drops the queue anyway
		}
	}
}

// syncMonitorLoop ticks every 10ms, feeding the audio playback position
// into the master clock whenever new samples have actually played.
func (p *Player) syncMonitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(syncTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if p.st.ShouldStop() {
			return nil
		}
		if p.st.Current() != state.Playing {
			continue
		}
		if p.aplayer == nil {
			continue
		}
		played := p.aplayer.SamplesPlayed()
		if played == p.lastSyncSamples.Load() {
			continue
		}
		p.lastSyncSamples.Store(played)
		p.clk.UpdateAudioClock(p.aplayer.PlaybackPTS(), time.Now())
	}
}
