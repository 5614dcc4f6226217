// Package caller captures and formats Go call stacks for the panic handler
// and for debug-only "who called this" diagnostics.
package caller

import (
	"fmt"
	"runtime"
	"sync"
)

// Dump renders the call stack starting at the given skip depth as a
// newline-joined "file:line" chain, innermost frame first.
func Dump(skip int) string {
	i := skip
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}

// DistinctCaller detects the first call arriving from each distinct chain of
// ancestor callers, so a noisy call site can log a warning once per code
// path instead of once per call.
type DistinctCaller struct {
	mu      sync.Mutex
	Enabled bool
	seen    map[uintptr]bool
	// Whitelist names call chains (by the innermost non-whitelisted
	// function) that should never be reported as distinct.
	Whitelist map[string]bool
}

func (dc *DistinctCaller) pcHash(pcs []uintptr) uintptr {
	if len(pcs) == 0 {
		panic("empty pc slice")
	}
	var ret uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		ret ^= pc
	}
	return ret
}

// Len reports how many distinct call chains have been recorded so far.
func (dc *DistinctCaller) Len() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return len(dc.seen)
}

// Seen reports whether the current call chain is new (returning true along
// with a formatted stack trace) and records it if so.
func (dc *DistinctCaller) Seen() (bool, string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if !dc.Enabled {
		return false, ""
	}
	if dc.seen == nil {
		dc.seen = make(map[uintptr]bool)
	}

	var pcs []uintptr
	for sz, got := 30, 30; got >= sz; sz *= 2 {
		pcs = make([]uintptr, sz)
		got = runtime.Callers(3, pcs)
		if got == 0 {
			return false, ""
		}
		pcs = pcs[:got]
	}

	h := dc.pcHash(pcs)
	if dc.seen[h] {
		return false, ""
	}
	dc.seen[h] = true

	frames := runtime.CallersFrames(pcs)
	fs := ""
	for {
		fr, more := frames.Next()
		if dc.Whitelist[fr.Function] {
			return false, ""
		}
		if fs == "" {
			fs = fmt.Sprintf("%v (%v:%v)\n", fr.Function, fr.File, fr.Line)
		} else {
			fs += fmt.Sprintf("\t%v (%v:%v)\n", fr.Function, fr.File, fr.Line)
		}
		if !more || fr.Function == "runtime.goexit" {
			break
		}
	}
	return true, fs
}
