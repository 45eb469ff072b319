package state

import (
	"sync/atomic"
	"testing"
	"time"
)

// playingManager walks a fresh Manager into the Playing state.
func playingManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager()
	for _, s := range []State{Opening, Stopped, Playing} {
		if !m.Transition(s) {
			t.Fatalf("setup transition to %v failed from %v", s, m.Current())
		}
	}
	return m
}

func TestTransitionArcs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		walk []State
		want bool
	}{
		{"open play pause", []State{Opening, Stopped, Playing, Paused}, true},
		{"pause resume", []State{Opening, Stopped, Playing, Paused, Playing}, true},
		{"seek from playing", []State{Opening, Stopped, Playing, Seeking, Playing}, true},
		{"seek from paused returns to paused", []State{Opening, Stopped, Playing, Paused, Seeking, Paused}, true},
		{"stop from paused", []State{Opening, Stopped, Playing, Paused, Stopped}, true},
		{"stop idempotent", []State{Opening, Stopped, Stopped}, true},
		{"full lifecycle", []State{Opening, Stopped, Playing, Stopped, Idle}, true},
		{"idle straight to playing", []State{Playing}, false},
		{"idle to paused", []State{Paused}, false},
		{"opening to playing", []State{Opening, Playing}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager()
			ok := true
			for _, s := range tt.walk {
				if !m.Transition(s) {
					ok = false
					break
				}
			}
			if ok != tt.want {
				t.Errorf("walk %v = %v, want %v", tt.walk, ok, tt.want)
			}
		})
	}
}

func TestErrorReachableFromAnyState(t *testing.T) {
	t.Parallel()

	m := playingManager(t)
	if !m.Transition(Errored) {
		t.Fatal("Error should be reachable from Playing")
	}
	if m.Transition(Playing) {
		t.Error("Error should not transition to Playing")
	}
	if !m.Transition(Idle) {
		t.Error("Error should leave via Idle")
	}
}

// Regression: a worker blocked in WaitForResume must be woken by a
// transition to Stopped, not only by Paused -> Playing.
func TestWaitForResumeWakesOnStop(t *testing.T) {
	t.Parallel()

	m := playingManager(t)
	if !m.Transition(Paused) {
		t.Fatal("transition to Paused failed")
	}

	var woke atomic.Bool
	start := time.Now()
	done := make(chan bool, 1)
	go func() {
		r := m.WaitForResume(5 * time.Second)
		woke.Store(true)
		done <- r
	}()

	time.Sleep(50 * time.Millisecond)
	if !m.Transition(Stopped) {
		t.Fatal("transition to Stopped failed")
	}

	select {
	case r := <-done:
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("WaitForResume took %v, want prompt wake", elapsed)
		}
		if !r {
			t.Error("WaitForResume should return true when state leaves Paused")
		}
		if !m.ShouldStop() {
			t.Error("ShouldStop should be true after Stopped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForResume never woke on Stop")
	}
	_ = woke.Load()
}

func TestWaitForResumeWakesOnEveryExitArc(t *testing.T) {
	t.Parallel()

	for _, target := range []State{Playing, Seeking, Stopped} {
		target := target
		t.Run(target.String(), func(t *testing.T) {
			t.Parallel()
			m := playingManager(t)
			m.Transition(Paused)

			done := make(chan bool, 1)
			go func() { done <- m.WaitForResume(5 * time.Second) }()
			time.Sleep(20 * time.Millisecond)
			m.Transition(target)

			select {
			case r := <-done:
				if !r {
					t.Errorf("WaitForResume = false after exit to %v", target)
				}
			case <-time.After(time.Second):
				t.Fatalf("no wake on Paused -> %v", target)
			}
		})
	}
}

func TestWaitForResumeTimeout(t *testing.T) {
	t.Parallel()

	m := playingManager(t)
	m.Transition(Paused)

	if m.WaitForResume(30 * time.Millisecond) {
		t.Error("WaitForResume should time out while still Paused")
	}
}

func TestWaitForResumeNotPausedReturnsImmediately(t *testing.T) {
	t.Parallel()

	m := playingManager(t)
	start := time.Now()
	if !m.WaitForResume(5 * time.Second) {
		t.Error("WaitForResume should return true when not paused")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("WaitForResume should not block when not paused")
	}
}

func TestShouldStop(t *testing.T) {
	t.Parallel()

	m := NewManager()
	if !m.ShouldStop() {
		t.Error("Idle should report stop")
	}
	m.Transition(Opening)
	if m.ShouldStop() {
		t.Error("Opening should not report stop")
	}
	m.Transition(Stopped)
	if !m.ShouldStop() {
		t.Error("Stopped should report stop")
	}
}
