// Package accnt implements per-process CPU-time accounting, adapted from
// teacher_src/accnt/accnt.go.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt accumulates per-process accounting information. Userns and Sysns
// store runtime in nanoseconds; the mutex lets callers take a consistent
// snapshot of both fields when exporting usage statistics (e.g. wait4's
// rusage-style report).
type Accnt struct {
	Userns int64
	Sysns  int64
	mu     sync.Mutex
}

// AddUser adds delta nanoseconds to the user-time counter.
func (a *Accnt) AddUser(delta time.Duration) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// AddSys adds delta nanoseconds to the system-time counter.
func (a *Accnt) AddSys(delta time.Duration) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Snapshot returns a consistent (Userns, Sysns) pair.
func (a *Accnt) Snapshot() (time.Duration, time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Duration(atomic.LoadInt64(&a.Userns)), time.Duration(atomic.LoadInt64(&a.Sysns))
}

// Add merges other's counters into a, used when a parent reaps a child's
// accounting at wait4 time.
func (a *Accnt) Add(other *Accnt) {
	u, s := other.Snapshot()
	a.mu.Lock()
	defer a.mu.Unlock()
	atomic.AddInt64(&a.Userns, int64(u))
	atomic.AddInt64(&a.Sysns, int64(s))
}

// Rusage is the minimal resource-usage summary wait4 surfaces per
// SPEC_FULL.md §4.14.
type Rusage struct {
	UserTime time.Duration
	SysTime  time.Duration
}

// ToRusage snapshots a into an Rusage value.
func (a *Accnt) ToRusage() Rusage {
	u, s := a.Snapshot()
	return Rusage{UserTime: u, SysTime: s}
}
