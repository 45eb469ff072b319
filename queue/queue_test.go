package queue

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPushPopOrder(t *testing.T) {
	t.Parallel()

	q := New[int](4)
	for i := 1; i <= 4; i++ {
		if err := q.Push(i, time.Second); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	for i := 1; i <= 4; i++ {
		v, err := q.Pop(time.Second)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if v != i {
			t.Errorf("Pop = %d, want %d (FIFO order)", v, i)
		}
	}
}

func TestPushTimeoutWhenFull(t *testing.T) {
	t.Parallel()

	q := New[int](1)
	if err := q.Push(1, time.Second); err != nil {
		t.Fatal(err)
	}
	err := q.Push(2, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Push on full queue = %v, want ErrTimeout", err)
	}
}

func TestPopTimeoutWhenEmpty(t *testing.T) {
	t.Parallel()

	q := New[int](1)
	_, err := q.Pop(20 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Pop on empty queue = %v, want ErrTimeout", err)
	}
}

func TestTryOps(t *testing.T) {
	t.Parallel()

	q := New[int](1)
	if _, err := q.TryPop(); !errors.Is(err, ErrEmpty) {
		t.Errorf("TryPop empty = %v, want ErrEmpty", err)
	}
	if err := q.TryPush(1); err != nil {
		t.Fatalf("TryPush: %v", err)
	}
	if err := q.TryPush(2); !errors.Is(err, ErrFull) {
		t.Errorf("TryPush full = %v, want ErrFull", err)
	}
	if v, err := q.TryPop(); err != nil || v != 1 {
		t.Errorf("TryPop = %d, %v", v, err)
	}
}

func TestCloseWakesBlockedPop(t *testing.T) {
	t.Parallel()

	q := New[int](1)
	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(5 * time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Pop after Close = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake on Close")
	}
}

func TestCloseDrainsBufferedItems(t *testing.T) {
	t.Parallel()

	q := New[int](2)
	q.TryPush(1)
	q.TryPush(2)
	q.Close()

	if v, err := q.Pop(time.Second); err != nil || v != 1 {
		t.Fatalf("Pop buffered after close = %d, %v", v, err)
	}
	if v, err := q.TryPop(); err != nil || v != 2 {
		t.Fatalf("TryPop buffered after close = %d, %v", v, err)
	}
	if _, err := q.Pop(10 * time.Millisecond); !errors.Is(err, ErrClosed) {
		t.Errorf("Pop on drained closed queue = %v, want ErrClosed", err)
	}
}

func TestClearReturnsItems(t *testing.T) {
	t.Parallel()

	q := New[int](8)
	for i := 0; i < 5; i++ {
		q.TryPush(i)
	}
	drained := q.Clear()
	if len(drained) != 5 {
		t.Fatalf("Clear returned %d items, want 5", len(drained))
	}
	if q.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", q.Len())
	}
}

func TestLenNeverExceedsCap(t *testing.T) {
	t.Parallel()

	q := New[int](4)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			q.Push(i, time.Millisecond)
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			q.Pop(time.Millisecond)
		}
	}()

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		if l := q.Len(); l > q.Cap() {
			t.Errorf("Len %d exceeds Cap %d", l, q.Cap())
			break
		}
	}
	close(stop)
	wg.Wait()
}
