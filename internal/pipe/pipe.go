// Package pipe implements the fixed-capacity ring-buffer-backed pipe pair
// the system-call dispatcher's pipe(2) creates (§4.10), adapted from
// teacher_src/circbuf/circbuf.go's consumer/producer split over
// internal/ringbuffer rather than that package's physical-page backing.
package pipe

import (
	"sync"

	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/ringbuffer"
	"github.com/biscuit-go/kernel/internal/stat"
	"github.com/biscuit-go/kernel/internal/vfs"
	"github.com/biscuit-go/kernel/internal/waitqueue"
)

// Capacity is the byte capacity every pipe is created with.
const Capacity = 16 * 1024

// Pipe is the shared ring buffer and wait queue two OpenedFiles (a read end
// and a write end) are layered over.
type Pipe struct {
	buf   *ringbuffer.RingBuffer
	waitq *waitqueue.Queue

	mu          sync.Mutex
	readersOpen bool
	writersOpen bool
}

// New returns a connected (readEnd, writeEnd) pair, both open.
func New() (vfs.FileLike, vfs.FileLike) {
	p := &Pipe{
		buf:         ringbuffer.New(Capacity),
		waitq:       waitqueue.New(),
		readersOpen: true,
		writersOpen: true,
	}
	return &ReadEnd{p: p}, &WriteEnd{p: p}
}

// WaitQueue returns f's underlying pipe wait queue, if f is one end of a
// pipe. Sleeping on it or waking it needs a *sched.Scheduler, which this
// package has no reference to; the syscall dispatcher's read(2) and
// write(2) do not use it, since they do not block on a pipe.
func WaitQueue(f vfs.FileLike) *waitqueue.Queue {
	switch e := f.(type) {
	case *ReadEnd:
		return e.p.waitq
	case *WriteEnd:
		return e.p.waitq
	default:
		return nil
	}
}

func (p *Pipe) closeReader() {
	p.mu.Lock()
	p.readersOpen = false
	p.mu.Unlock()
}

func (p *Pipe) closeWriter() {
	p.mu.Lock()
	p.writersOpen = false
	p.mu.Unlock()
}

func (p *Pipe) readersGone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.readersOpen
}

func (p *Pipe) writersGone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.writersOpen
}

// ReadEnd is the read-only file object returned for a pipe's fd[0].
type ReadEnd struct{ p *Pipe }

func (r *ReadEnd) Stat(st *stat.Stat_t) *kerr.Error {
	st.SetMode(stat.IFIFO | 0o600)
	st.SetSize(uint64(r.p.buf.Used()))
	return nil
}

// Read drains up to len(buf) bytes without blocking. Offset is ignored — a
// pipe has no seekable position. The dispatcher's read(2) calls this once
// and returns its result, so reading an empty pipe returns 0 whether or
// not a write end is still open.
func (r *ReadEnd) Read(offset int64, buf []byte) (int, *kerr.Error) {
	return r.p.buf.PopSlice(buf), nil
}

func (r *ReadEnd) Write(offset int64, buf []byte) (int, *kerr.Error) {
	return 0, kerr.Of(kerr.EBADF)
}

func (r *ReadEnd) Poll() vfs.PollStatus {
	return vfs.PollStatus{Readable: r.p.buf.IsReadable() || r.p.writersGone()}
}

// WritersGone reports whether every write end of this pipe has been
// closed, i.e. whether a 0 from Read means end of file.
func (r *ReadEnd) WritersGone() bool { return r.p.writersGone() }

// Close drops this end's open-reader reference. The caller is responsible
// for waking any blocked writer (WaitQueue(end).WakeAll(scheduler)) so it
// observes the now-readerless pipe on its next attempt.
func (r *ReadEnd) Close() { r.p.closeReader() }

// WriteEnd is the write-only file object returned for a pipe's fd[1].
type WriteEnd struct{ p *Pipe }

func (w *WriteEnd) Stat(st *stat.Stat_t) *kerr.Error {
	st.SetMode(stat.IFIFO | 0o200)
	return nil
}

func (w *WriteEnd) Read(offset int64, buf []byte) (int, *kerr.Error) {
	return 0, kerr.Of(kerr.EBADF)
}

// Write appends up to len(buf) bytes without blocking, returning EPIPE if
// every reader has gone away. The dispatcher's write(2) calls this once
// and returns its result, so a write to a full pipe returns 0 rather than
// blocking or failing with EAGAIN.
func (w *WriteEnd) Write(offset int64, buf []byte) (int, *kerr.Error) {
	if w.p.readersGone() {
		return 0, kerr.Of(kerr.EPIPE)
	}
	return w.p.buf.PushSlice(buf), nil
}

func (w *WriteEnd) Poll() vfs.PollStatus {
	return vfs.PollStatus{Writable: w.p.buf.IsWritable() || w.p.readersGone()}
}

// ReadersGone reports whether every read end has been closed.
func (w *WriteEnd) ReadersGone() bool { return w.p.readersGone() }

// Close drops this end's open-writer reference. The caller is responsible
// for waking any blocked reader (WaitQueue(end).WakeAll(scheduler)) so it
// observes EOF rather than sleeping forever.
func (w *WriteEnd) Close() { w.p.closeWriter() }
