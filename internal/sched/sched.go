// Package sched implements the kernel's single-processor preemptive
// scheduler (§4.5): a FIFO runqueue of runnable PIDs, a per-process table,
// a CURRENT slot, and a per-CPU IDLE process. No biscuit fragment for the
// scheduler itself survived retrieval (proc/ is an empty stub in the
// pack), so this is built directly from the design prose in the
// idiom teacher_src/tinfo/tinfo.go establishes for thread bookkeeping
// (Tnote_t's Alive/Killed/Isdoomed flags, a package-level "current" slot).
// biscuit's own "current" slot is a per-goroutine pointer smuggled through
// a patched runtime's g struct (runtime.Gptr/Setgptr) because biscuit's
// threads are real OS-level execution contexts; this module never
// executes arbitrary user-mode instructions; it is tested by direct calls
// from one goroutine, so CURRENT is simply a guarded field and Switch is
// bookkeeping rather than a literal register-context transfer — there is
// no architecture context-switch primitive for a hosted Go kernel-logic
// simulation to invoke.
package sched

import (
	"sync"

	"github.com/biscuit-go/kernel/internal/accnt"
	"github.com/biscuit-go/kernel/internal/budget"
)

// PID identifies a process; PID 0 is reserved for the per-CPU idle thread
// and never enters the runqueue (§3 "Process").
type PID int32

// State is a thread's scheduling state (§3 "Process" lifecycle).
type State int

const (
	Runnable State = iota
	BlockedSignalable
	Sleeping
	Exited
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "Runnable"
	case BlockedSignalable:
		return "BlockedSignalable"
	case Sleeping:
		return "Sleeping"
	case Exited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// Thread is the scheduler's view of one process: just enough state to
// drive the runqueue and CURRENT/IDLE bookkeeping. proc.Process embeds one.
type Thread struct {
	PID      PID
	State    State
	ExitCode int
	Idle     bool

	Accnt accnt.Accnt
}

// Scheduler owns the runqueue, process table, and CURRENT/IDLE slots for
// one (simulated) CPU.
type Scheduler struct {
	mu sync.Mutex

	runqueue []PID
	table    map[PID]*Thread

	current *Thread
	idle    *Thread

	ticks        uint64
	preemptTicks uint64

	// OnSwitch, if set, is invoked with the outgoing and incoming thread
	// every time Switch installs a new CURRENT (§4.5's added "Accounting
	// hook"). Nothing in proc or boot sets it, so by default a switch
	// installs no page table and charges no accounting.
	OnSwitch func(prev, next *Thread)

	// Governor, if set, has Replenish called once per Tick (§4.15
	// "periodic Replenish, called once per scheduler tick"), so a budget
	// site that underflowed recovers on the next tick instead of failing
	// ENOHEAP for the rest of the kernel's life.
	Governor *budget.Governor
}

// New constructs a Scheduler that preempts every preemptTicks timer ticks.
func New(preemptTicks uint64) *Scheduler {
	return &Scheduler{table: make(map[PID]*Thread), preemptTicks: preemptTicks}
}

// SetIdle installs t as the per-CPU idle thread and the initial CURRENT.
func (s *Scheduler) SetIdle(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Idle = true
	s.idle = t
	s.table[t.PID] = t
	if s.current == nil {
		s.current = t
	}
}

// AddThread registers a new thread in the process table. It is not placed
// on the runqueue; call MarkRunnable separately once it is runnable.
func (s *Scheduler) AddThread(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table[t.PID] = t
}

// Lookup returns the thread for pid, if the scheduler still tracks it.
func (s *Scheduler) Lookup(pid PID) (*Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.table[pid]
	return t, ok
}

// Current returns the thread currently installed as CURRENT.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Runqueue returns a snapshot of the runqueue's PIDs in FIFO order, for
// diagnostics and tests of the runqueue invariant (§8).
func (s *Scheduler) Runqueue() []PID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PID, len(s.runqueue))
	copy(out, s.runqueue)
	return out
}

// enqueueLocked pushes pid to the runqueue tail. Caller holds s.mu.
func (s *Scheduler) enqueueLocked(pid PID) {
	s.runqueue = append(s.runqueue, pid)
}

// MarkBlocked marks pid BlockedSignalable. The caller is responsible for
// also enqueuing it on whatever wait queue it is blocking on.
func (s *Scheduler) MarkBlocked(pid PID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.table[pid]; ok {
		t.State = BlockedSignalable
	}
}

// MarkSleeping marks pid Sleeping (used for timed sleeps outside the
// signalable wait-queue path).
func (s *Scheduler) MarkSleeping(pid PID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.table[pid]; ok {
		t.State = Sleeping
	}
}

// MarkRunnable marks pid Runnable and re-enqueues it on the runqueue,
// mirroring wake_all's "sets every dequeued process back to Runnable,
// re-enqueuing on the scheduler runqueue" (§4.6).
func (s *Scheduler) MarkRunnable(pid PID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.table[pid]
	if !ok || t.Idle {
		return
	}
	t.State = Runnable
	s.enqueueLocked(pid)
}

// Switch is the scheduler's single choreography (§4.5): requeue CURRENT if
// still runnable, pop the next PID (falling back to IDLE), install it as
// CURRENT, and invoke OnSwitch.
func (s *Scheduler) Switch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switchLocked()
}

func (s *Scheduler) switchLocked() {
	cur := s.current
	if cur != nil && cur.State == Runnable && !cur.Idle {
		s.enqueueLocked(cur.PID)
	}

	var nextPID PID
	if len(s.runqueue) > 0 {
		nextPID = s.runqueue[0]
		s.runqueue = s.runqueue[1:]
	} else {
		nextPID = s.idle.PID
	}

	if cur != nil && nextPID == cur.PID {
		return
	}

	next := s.table[nextPID]
	if next == nil {
		next = s.idle
	}
	prev := s.current
	s.current = next
	if s.OnSwitch != nil {
		s.OnSwitch(prev, next)
	}
}

// Tick advances the preemption tick counter, calling Switch every
// preemptTicks ticks (§4.5). The timer handler itself is expected to have
// already acknowledged the interrupt before calling Tick.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	s.ticks++
	due := s.preemptTicks != 0 && s.ticks%s.preemptTicks == 0
	gov := s.Governor
	s.mu.Unlock()
	if gov != nil {
		gov.Replenish()
	}
	if due {
		s.Switch()
	}
}

// Exit transitions pid to ExitedWith(code): it is removed from the
// runqueue and the process table, any parent-visible state transition is
// the caller's responsibility (proc owns parent/child bookkeeping and
// SIGCHLD), and Switch is invoked. Per the termination invariant (§4.5),
// once this returns the PID must never be picked again; Go's lack of a
// true non-returning-call primitive means the caller, not this function,
// must stop acting on behalf of pid afterward.
func (s *Scheduler) Exit(pid PID, code int) {
	s.mu.Lock()
	if t, ok := s.table[pid]; ok {
		t.State = Exited
		t.ExitCode = code
	}
	for i, p := range s.runqueue {
		if p == pid {
			s.runqueue = append(s.runqueue[:i], s.runqueue[i+1:]...)
			break
		}
	}
	delete(s.table, pid)
	s.mu.Unlock()
	s.Switch()
}
