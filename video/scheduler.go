package video

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lumenplay/lumen/clock"
	"github.com/lumenplay/lumen/media"
	"github.com/lumenplay/lumen/queue"
	"github.com/lumenplay/lumen/state"
)

// schedulerPollInterval bounds every blocking wait in the scheduler loop
// so teardown can never hang it.
const schedulerPollInterval = 100 * time.Millisecond

// SchedulerStats is a snapshot of presentation accounting. Each frame
// taken from the queue is counted once in Presented, Dropped or
// RenderErrors (a frame still held when the loop exits is in none);
// Repeated counts re-presents of the previous image, which take no frame.
type SchedulerStats struct {
	Presented    int64
	Dropped      int64
	Repeated     int64
	RenderErrors int64
}

// Scheduler paces video frames against the master clock: pop, decide
// drop/repeat, sleep until due, present, feed the video clock back.
type Scheduler struct {
	log      *slog.Logger
	frames   *queue.Queue[*media.VideoFrame]
	clk      *clock.Clock
	renderer Renderer
	st       *state.Manager

	presented    atomic.Int64
	dropped      atomic.Int64
	repeated     atomic.Int64
	renderErrors atomic.Int64
}

// NewScheduler wires the scheduler to its queue, clock, renderer, and the
// shared state manager. If log is nil, slog.Default() is used.
func NewScheduler(frames *queue.Queue[*media.VideoFrame], clk *clock.Clock,
	renderer Renderer, st *state.Manager, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:      log.With("component", "render-scheduler"),
		frames:   frames,
		clk:      clk,
		renderer: renderer,
		st:       st,
	}
}

// Run is the render scheduler worker loop. It exits when the context is
// cancelled, the state moves to a stop state, or the frame queue closes.
func (s *Scheduler) Run(ctx context.Context) error {
	var pending *media.VideoFrame
	defer func() {
		if pending != nil {
			pending.Dispose()
		}
	}()

	for {
		if ctx.Err() != nil || s.st.ShouldStop() {
			return nil
		}
		if s.st.Current() == state.Paused {
			s.st.WaitForResume(schedulerPollInterval)
			continue
		}

		if pending == nil {
			f, err := s.frames.Pop(schedulerPollInterval)
			switch {
			case errors.Is(err, queue.ErrClosed):
				return nil
			case errors.Is(err, queue.ErrTimeout):
				continue
			case err != nil:
				return err
			}
			pending = f
		}

		pts := pending.PTS.Milliseconds()
		now := time.Now()

		if s.clk.ShouldDropVideo(pts, now) {
			pending.Dispose()
			pending = nil
			s.dropped.Add(1)
			continue
		}

		if delay := s.clk.VideoDelay(pts, now); delay > 0 {
			if !s.sleepUntilDue(ctx, time.Duration(delay*float64(time.Millisecond))) {
				continue
			}
		}

		// Frame still ahead of the master after the clamped wait: show
		// the previous image again and keep this frame queued locally.
		if s.clk.ShouldRepeatVideo(pts, time.Now()) {
			s.renderer.Present()
			s.repeated.Add(1)
			continue
		}

		if !s.renderer.RenderFrame(pending) {
			s.renderErrors.Add(1)
			s.log.Warn("render failed, frame skipped", "pts_ms", pts)
		} else {
			s.presented.Add(1)
		}
		s.clk.UpdateVideoClock(pts, time.Now())
		pending.Dispose()
		pending = nil
	}
}

// sleepUntilDue waits for d, waking early on state changes or context
// cancellation. It returns true when the full delay elapsed.
func (s *Scheduler) sleepUntilDue(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.st.WaitChange():
		return false
	case <-ctx.Done():
		return false
	}
}

// Stats returns the presentation counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Presented:    s.presented.Load(),
		Dropped:      s.dropped.Load(),
		Repeated:     s.repeated.Load(),
		RenderErrors: s.renderErrors.Load(),
	}
}
