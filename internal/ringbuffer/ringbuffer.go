// Package ringbuffer implements the fixed-capacity wrap-around byte FIFO
// shared by TTY input, the kernel log, and pipes (§3 "Ring buffer"),
// adapted from teacher_src/circbuf/circbuf.go with the physical-page
// backing stripped out: this module's ring buffers are backed by a plain
// []byte, not a device page shared with hardware.
package ringbuffer

import "sync"

// RingBuffer is a lock-guarded, fixed-capacity byte FIFO with wrap-around.
type RingBuffer struct {
	mu   sync.Mutex
	buf  []byte
	head int // next write position; grows except on DropLast and Reset
	tail int // next read position; grows except on Reset
}

// New constructs a RingBuffer with the given byte capacity.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		panic("ringbuffer: non-positive capacity")
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Cap returns the buffer's total capacity in bytes.
func (rb *RingBuffer) Cap() int { return len(rb.buf) }

func (rb *RingBuffer) used() int { return rb.head - rb.tail }

// IsFull reports whether the buffer can accept no more bytes.
func (rb *RingBuffer) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.used() == len(rb.buf)
}

// IsEmpty reports whether the buffer holds no bytes.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.used() == 0
}

// IsWritable reports whether PushSlice would accept at least one byte.
func (rb *RingBuffer) IsWritable() bool { return !rb.IsFull() }

// IsReadable reports whether PopSlice would return at least one byte.
func (rb *RingBuffer) IsReadable() bool { return !rb.IsEmpty() }

// Used returns the number of unread bytes currently buffered.
func (rb *RingBuffer) Used() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.used()
}

// Free returns the number of bytes of spare capacity.
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buf) - rb.used()
}

// PushSlice copies min(len(data), free space) bytes from data into the
// buffer and returns the number copied. It never blocks and never loses
// bytes it reports as copied (§8 universal invariant).
func (rb *RingBuffer) PushSlice(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	free := len(rb.buf) - rb.used()
	n := len(data)
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		rb.buf[(rb.head+i)%len(rb.buf)] = data[i]
	}
	rb.head += n
	return n
}

// PopSlice copies min(len(out), used bytes) bytes into out and returns the
// number copied; it is the inverse of PushSlice up to wrap (§8).
func (rb *RingBuffer) PopSlice(out []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	used := rb.used()
	n := len(out)
	if n > used {
		n = used
	}
	for i := 0; i < n; i++ {
		out[i] = rb.buf[(rb.tail+i)%len(rb.buf)]
	}
	rb.tail += n
	return n
}

// PeekByte returns the byte at the given offset from the tail without
// consuming it, and whether that offset holds buffered data.
func (rb *RingBuffer) PeekByte(offset int) (byte, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if offset < 0 || offset >= rb.used() {
		return 0, false
	}
	return rb.buf[(rb.tail+offset)%len(rb.buf)], true
}

// DropLast removes the most recently pushed byte, if any, and reports
// whether it did so. The TTY's cooked-mode erase (§4.13) does not use it:
// it trims its own staging line instead.
func (rb *RingBuffer) DropLast() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.used() == 0 {
		return false
	}
	rb.head--
	return true
}

// Reset empties the buffer without copying any bytes out.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head, rb.tail = 0, 0
}
