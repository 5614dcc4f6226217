// Package klog implements the kernel's own log: a fixed-capacity ring
// buffer of formatted text a dmesg-style syscall can read back, with a
// Printf-style producer standing in for biscuit's bare fmt.Printf
// boot-time messages (mem.Phys_init, mem.Dmap_init). No third-party
// logging library is wired in here — biscuit never reaches for one at
// boot time either, and nothing else in the retrieval pack contributes a
// kernel-appropriate structured logger, so this stays on fmt/strings the
// same way biscuit's own boot log does.
package klog

import (
	"fmt"
	"io"
	"sync"

	"github.com/biscuit-go/kernel/internal/config"
	"github.com/biscuit-go/kernel/internal/ringbuffer"
)

// Log is the kernel log ring buffer: every Printf call appends formatted
// text to it, overwriting the oldest bytes once full (§6), and optionally
// mirrors the same text to an attached console writer immediately.
type Log struct {
	mu      sync.Mutex
	ring    *ringbuffer.RingBuffer
	console io.Writer
}

// New returns an empty kernel log of config.KlogSize capacity.
func New() *Log {
	return &Log{ring: ringbuffer.New(config.KlogSize)}
}

// SetConsole attaches (or, with nil, detaches) a writer every subsequent
// Printf call also mirrors its formatted output to — stdout in this hosted
// build, standing in for biscuit's direct-to-console fmt.Printf.
func (l *Log) SetConsole(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
}

// Printf formats according to format and args and appends the result to
// the ring, making room by dropping the oldest bytes if the message would
// overflow capacity, then mirrors it to the console writer if one is
// attached.
func (l *Log) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(msg) - l.ring.Cap(); n > 0 {
		msg = msg[n:] // longer than the whole ring; keep only the tail
	}
	if need := len(msg) - l.ring.Free(); need > 0 {
		discard := make([]byte, need)
		l.ring.PopSlice(discard)
	}
	l.ring.PushSlice([]byte(msg))

	if l.console != nil {
		io.WriteString(l.console, msg)
	}
}

// Read drains up to len(buf) bytes of buffered log text, the same
// wrap-around FIFO semantics every other ring-buffer-backed device in this
// kernel exposes through Read (§6 "dmesg-style syscall read-out").
func (l *Log) Read(buf []byte) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ring.PopSlice(buf)
}

// Len reports the number of unread bytes currently buffered.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ring.Used()
}
