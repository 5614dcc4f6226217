package sched

import (
	"testing"

	"github.com/biscuit-go/kernel/internal/budget"
)

func newTestSched() *Scheduler {
	s := New(4)
	s.SetIdle(&Thread{PID: 0})
	return s
}

func TestCurrentDefaultsToIdle(t *testing.T) {
	s := newTestSched()
	if s.Current().PID != 0 {
		t.Fatalf("expected idle PID 0 current, got %d", s.Current().PID)
	}
}

func TestSwitchPicksRunqueueHeadFIFO(t *testing.T) {
	s := newTestSched()
	t1 := &Thread{PID: 1, State: Runnable}
	t2 := &Thread{PID: 2, State: Runnable}
	s.AddThread(t1)
	s.AddThread(t2)
	s.MarkRunnable(1)
	s.MarkRunnable(2)

	s.Switch()
	if s.Current().PID != 1 {
		t.Fatalf("expected PID 1 first, got %d", s.Current().PID)
	}
	s.Switch()
	if s.Current().PID != 2 {
		t.Fatalf("expected PID 2 next, got %d", s.Current().PID)
	}
}

func TestSwitchRequeuesStillRunnableCurrent(t *testing.T) {
	s := newTestSched()
	t1 := &Thread{PID: 1, State: Runnable}
	t2 := &Thread{PID: 2, State: Runnable}
	s.AddThread(t1)
	s.AddThread(t2)
	s.MarkRunnable(1)
	s.MarkRunnable(2)

	s.Switch() // current = 1, runqueue = [2]
	s.Switch() // requeues 1, current = 2, runqueue = [1]
	if s.Current().PID != 2 {
		t.Fatalf("expected PID 2, got %d", s.Current().PID)
	}
	rq := s.Runqueue()
	if len(rq) != 1 || rq[0] != 1 {
		t.Fatalf("expected runqueue [1], got %v", rq)
	}
}

func TestSwitchFallsBackToIdleWhenRunqueueEmpty(t *testing.T) {
	s := newTestSched()
	t1 := &Thread{PID: 1, State: Runnable}
	s.AddThread(t1)
	s.MarkRunnable(1)

	s.Switch()
	if s.Current().PID != 1 {
		t.Fatalf("expected PID 1, got %d", s.Current().PID)
	}
	// t1 blocks itself rather than staying Runnable.
	s.MarkBlocked(1)
	s.Switch()
	if s.Current().PID != 0 {
		t.Fatalf("expected idle PID 0, got %d", s.Current().PID)
	}
}

func TestRunqueueInvariantExcludesBlockedAndIdle(t *testing.T) {
	s := newTestSched()
	t1 := &Thread{PID: 1, State: Runnable}
	s.AddThread(t1)
	s.MarkRunnable(1)
	s.Switch() // current = 1

	s.MarkBlocked(1)
	s.Switch() // current = idle, 1 must not reappear on runqueue

	for _, p := range s.Runqueue() {
		if p == 0 {
			t.Fatalf("idle PID must never be on the runqueue")
		}
		if p == 1 {
			t.Fatalf("blocked PID must not be on the runqueue")
		}
	}
}

func TestTickPreemptsAtBoundary(t *testing.T) {
	s := newTestSched()
	t1 := &Thread{PID: 1, State: Runnable}
	t2 := &Thread{PID: 2, State: Runnable}
	s.AddThread(t1)
	s.AddThread(t2)
	s.MarkRunnable(1)
	s.MarkRunnable(2)
	s.Switch() // current = 1

	for i := 0; i < 3; i++ {
		s.Tick()
	}
	if s.Current().PID != 1 {
		t.Fatalf("should not have preempted yet, current = %d", s.Current().PID)
	}
	s.Tick() // 4th tick: preempt
	if s.Current().PID != 2 {
		t.Fatalf("expected preemption to PID 2, got %d", s.Current().PID)
	}
}

func TestExitRemovesFromTableAndRunqueue(t *testing.T) {
	s := newTestSched()
	t1 := &Thread{PID: 1, State: Runnable}
	t2 := &Thread{PID: 2, State: Runnable}
	s.AddThread(t1)
	s.AddThread(t2)
	s.MarkRunnable(1)
	s.MarkRunnable(2)
	s.Switch() // current = 1

	s.Exit(1, 7)
	if _, ok := s.Lookup(1); ok {
		t.Fatalf("exited PID must be dropped from the table")
	}
	for _, p := range s.Runqueue() {
		if p == 1 {
			t.Fatalf("exited PID must not remain on the runqueue")
		}
	}
	if s.Current().PID != 2 {
		t.Fatalf("expected switch to PID 2 after exit, got %d", s.Current().PID)
	}
}

func TestOnSwitchHookInvoked(t *testing.T) {
	s := newTestSched()
	t1 := &Thread{PID: 1, State: Runnable}
	s.AddThread(t1)
	s.MarkRunnable(1)

	var from, to PID
	calls := 0
	s.OnSwitch = func(prev, next *Thread) {
		calls++
		if prev != nil {
			from = prev.PID
		}
		to = next.PID
	}
	s.Switch()
	if calls != 1 || from != 0 || to != 1 {
		t.Fatalf("expected one hook call 0->1, got calls=%d from=%d to=%d", calls, from, to)
	}
}

func TestMarkRunnableIgnoresIdle(t *testing.T) {
	s := newTestSched()
	s.MarkRunnable(0)
	if len(s.Runqueue()) != 0 {
		t.Fatalf("idle PID must never be enqueued")
	}
}

func TestTickReplenishesGovernorEveryCall(t *testing.T) {
	s := newTestSched()
	gov := budget.NewGovernor()
	s.Governor = gov

	for gov.Take(budget.K2User) {
	}
	if gov.Remaining(budget.K2User) != 0 {
		t.Fatalf("expected site to be fully drained before Tick, got %d", gov.Remaining(budget.K2User))
	}

	s.Tick()
	if gov.Remaining(budget.K2User) <= 0 {
		t.Fatalf("expected Tick to replenish the governor, remaining = %d", gov.Remaining(budget.K2User))
	}
}
