package waitqueue

import (
	"sync"
	"testing"

	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/sched"
)

func newTestSched() *sched.Scheduler {
	s := sched.New(0)
	s.SetIdle(&sched.Thread{PID: 0})
	return s
}

func TestSleepSignalableUntilResolvesImmediatelyWhenTrue(t *testing.T) {
	s := newTestSched()
	q := New()
	s.AddThread(&sched.Thread{PID: 1, State: sched.Runnable})

	v, err := SleepSignalableUntil(s, q, 1, nil, func() (int, bool, *kerr.Error) {
		return 42, true, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("v=%d err=%v", v, err)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty after resolution, got %d", q.Len())
	}
	if th, _ := s.Lookup(1); th.State != sched.Runnable {
		t.Fatalf("expected Runnable, got %v", th.State)
	}
}

func TestSleepSignalableUntilSpinsUntilPredicateTrue(t *testing.T) {
	s := newTestSched()
	q := New()
	s.AddThread(&sched.Thread{PID: 1, State: sched.Runnable})

	tries := 0
	v, err := SleepSignalableUntil(s, q, 1, nil, func() (string, bool, *kerr.Error) {
		tries++
		if tries < 3 {
			return "", false, nil
		}
		return "done", true, nil
	})
	if err != nil || v != "done" {
		t.Fatalf("v=%q err=%v", v, err)
	}
	if tries != 3 {
		t.Fatalf("expected 3 predicate evaluations, got %d", tries)
	}
}

func TestSleepSignalableUntilReturnsEINTRWhenSignalPending(t *testing.T) {
	s := newTestSched()
	q := New()
	s.AddThread(&sched.Thread{PID: 1, State: sched.Runnable})

	predCalled := false
	_, err := SleepSignalableUntil(s, q, 1, func() bool { return true }, func() (int, bool, *kerr.Error) {
		predCalled = true
		return 0, true, nil
	})
	if err == nil || err.Errno != kerr.EINTR {
		t.Fatalf("expected EINTR, got %v", err)
	}
	if predCalled {
		t.Fatalf("pred must not run once a signal is already pending")
	}
}

func TestSleepSignalableUntilPropagatesPredError(t *testing.T) {
	s := newTestSched()
	q := New()
	s.AddThread(&sched.Thread{PID: 1, State: sched.Runnable})

	_, err := SleepSignalableUntil(s, q, 1, nil, func() (int, bool, *kerr.Error) {
		return 0, false, kerr.Of(kerr.EIO)
	})
	if err == nil || err.Errno != kerr.EIO {
		t.Fatalf("expected EIO, got %v", err)
	}
}

func TestWakeAllDrainsQueueAndMarksRunnable(t *testing.T) {
	s := newTestSched()
	q := New()
	s.AddThread(&sched.Thread{PID: 1, State: sched.Runnable})
	s.AddThread(&sched.Thread{PID: 2, State: sched.Runnable})

	done := make(chan struct{}, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		SleepSignalableUntil(s, q, 1, nil, func() (int, bool, *kerr.Error) {
			select {
			case <-done:
				return 1, true, nil
			default:
				return 0, false, nil
			}
		})
	}()
	go func() {
		defer wg.Done()
		SleepSignalableUntil(s, q, 2, nil, func() (int, bool, *kerr.Error) {
			select {
			case <-done:
				return 2, true, nil
			default:
				return 0, false, nil
			}
		})
	}()

	// Give both goroutines a chance to enqueue, then wake them.
	for q.Len() < 2 {
	}
	close(done)
	q.WakeAll(s)
	wg.Wait()

	if q.Len() != 0 {
		t.Fatalf("expected empty queue after wake, got %d", q.Len())
	}
}

func TestRemoveOnlyTargetedPID(t *testing.T) {
	s := newTestSched()
	q := New()
	s.AddThread(&sched.Thread{PID: 1, State: sched.Runnable})
	s.AddThread(&sched.Thread{PID: 2, State: sched.Runnable})

	q.enqueue(1)
	q.enqueue(2)
	if !q.remove(1) {
		t.Fatalf("expected to remove pid 1")
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 remaining waiter, got %d", q.Len())
	}
	if q.remove(1) {
		t.Fatalf("pid 1 should already be gone")
	}
}
