package config

import "sync/atomic"

// Atomic is a resource limit that can be atomically given back and taken,
// adapted from teacher_src/limits/limits.go's Sysatomic_t. The zero value
// has no budget; construct with a limit via Atomic{limit: n} or Reset.
type Atomic struct {
	limit int64
}

// Reset sets the available budget to n, discarding any prior state.
func (a *Atomic) Reset(n int64) {
	atomic.StoreInt64(&a.limit, n)
}

// Given increases the available budget by n.
func (a *Atomic) Given(n uint) {
	atomic.AddInt64(&a.limit, int64(n))
}

// Taken attempts to decrement the budget by n, returning false (and leaving
// the budget unchanged) if that would drive it negative.
func (a *Atomic) Taken(n uint) bool {
	if atomic.AddInt64(&a.limit, -int64(n)) >= 0 {
		return true
	}
	atomic.AddInt64(&a.limit, int64(n))
	return false
}

// Take is Taken(1).
func (a *Atomic) Take() bool { return a.Taken(1) }

// Give is Given(1).
func (a *Atomic) Give() { a.Given(1) }

// Remaining reports the current budget (may be read racily for diagnostics).
func (a *Atomic) Remaining() int64 { return atomic.LoadInt64(&a.limit) }
