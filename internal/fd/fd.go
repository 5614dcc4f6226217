// Package fd implements the per-process opened-file table (§4.9): a fixed
// array of slots bounded by config.FDMax, a shared opened-file handle with
// a per-fd close-on-exec flag, and the open/dup/dup2/close/fork/execve
// operations the syscall dispatcher drives. Adapted from
// teacher_src/fd/fd.go's Fd_t/Copyfd/Cwd_t shape, generalized from the
// biscuit's single always-current fd slab to an explicit fixed-size Table
// of Option<LocalOpenedFile>-shaped slots.
package fd

import (
	"sync"

	"github.com/biscuit-go/kernel/internal/config"
	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/ustr"
	"github.com/biscuit-go/kernel/internal/vfs"
)

// OpenedFile is the shared, refcounted handle one or more fd table slots
// may point at, bundling the underlying file with its current seek offset.
// Multiple slots (across dup/fork) share one OpenedFile, matching the
// teacher's Fd_t.Fops being "a reference, not a value".
type OpenedFile struct {
	mu     sync.Mutex
	File   vfs.FileLike
	offset int64
	refs   int32
}

func newOpenedFile(f vfs.FileLike) *OpenedFile {
	return &OpenedFile{File: f, refs: 1}
}

func (o *OpenedFile) ref() *OpenedFile {
	o.mu.Lock()
	o.refs++
	o.mu.Unlock()
	return o
}

// Offset returns the handle's current seek offset.
func (o *OpenedFile) Offset() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.offset
}

// Seek sets the handle's offset to pos.
func (o *OpenedFile) Seek(pos int64) {
	o.mu.Lock()
	o.offset = pos
	o.mu.Unlock()
}

// Read reads into buf at the current offset, advancing it.
func (o *OpenedFile) Read(buf []byte) (int, *kerr.Error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, err := o.File.Read(o.offset, buf)
	o.offset += int64(n)
	return n, err
}

// Write writes buf at the current offset, advancing it.
func (o *OpenedFile) Write(buf []byte) (int, *kerr.Error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, err := o.File.Write(o.offset, buf)
	o.offset += int64(n)
	return n, err
}

// localOpenedFile bundles a shared OpenedFile with the per-fd close-on-exec
// flag (§4.9 LocalOpenedFile).
type localOpenedFile struct {
	file    *OpenedFile
	cloexec bool
}

// Table is a process's opened-file table: a fixed array of
// Option<LocalOpenedFile> slots, guarded by one lock whose holder must
// never sleep while holding it (§4.9 "Concurrency").
type Table struct {
	mu      sync.Mutex
	slots   [config.FDMax]*localOpenedFile
	nextFd  int
}

// NewTable returns an empty opened-file table.
func NewTable() *Table {
	return &Table{}
}

// lowestFreeFrom finds the lowest unused slot at or above from, wrapping
// modulo config.FDMax, or -1 if every slot is occupied.
func (t *Table) lowestFreeFrom(from int) int {
	for i := 0; i < config.FDMax; i++ {
		idx := (from + i) % config.FDMax
		if t.slots[idx] == nil {
			return idx
		}
	}
	return -1
}

// Open allocates the lowest available fd at or above the table's
// wrapping next-fd cursor and binds it to f. Returns ENFILE if every slot
// is occupied.
func (t *Table) Open(f vfs.FileLike, cloexec bool) (int, *kerr.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.lowestFreeFrom(t.nextFd)
	if idx < 0 {
		return -1, kerr.Of(kerr.ENFILE)
	}
	t.slots[idx] = &localOpenedFile{file: newOpenedFile(f), cloexec: cloexec}
	t.nextFd = (idx + 1) % config.FDMax
	return idx, nil
}

// OpenWithFixedFd binds f to exactly fd, failing EBADF if fd is
// out-of-range or already occupied.
func (t *Table) OpenWithFixedFd(fd int, f vfs.FileLike, cloexec bool) *kerr.Error {
	if fd < 0 || fd >= config.FDMax {
		return kerr.Of(kerr.EBADF)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[fd] != nil {
		return kerr.Of(kerr.EBADF)
	}
	t.slots[fd] = &localOpenedFile{file: newOpenedFile(f), cloexec: cloexec}
	return nil
}

// Get returns the OpenedFile bound to fd, or EBADF if the slot is empty.
func (t *Table) Get(fd int) (*OpenedFile, *kerr.Error) {
	if fd < 0 || fd >= config.FDMax {
		return nil, kerr.Of(kerr.EBADF)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.slots[fd]
	if l == nil {
		return nil, kerr.Of(kerr.EBADF)
	}
	return l.file, nil
}

// Dup allocates a new slot at or above gte bound to fd's file, sharing the
// same OpenedFile.
func (t *Table) Dup(fd int, gte int) (int, *kerr.Error) {
	if fd < 0 || fd >= config.FDMax {
		return -1, kerr.Of(kerr.EBADF)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	src := t.slots[fd]
	if src == nil {
		return -1, kerr.Of(kerr.EBADF)
	}
	idx := t.lowestFreeFrom(gte)
	if idx < 0 {
		return -1, kerr.Of(kerr.ENFILE)
	}
	t.slots[idx] = &localOpenedFile{file: src.file.ref(), cloexec: false}
	return idx, nil
}

// Dup2 closes newFd if occupied and re-binds it to oldFd's file.
func (t *Table) Dup2(oldFd, newFd int) *kerr.Error {
	if oldFd < 0 || oldFd >= config.FDMax || newFd < 0 || newFd >= config.FDMax {
		return kerr.Of(kerr.EBADF)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	src := t.slots[oldFd]
	if src == nil {
		return kerr.Of(kerr.EBADF)
	}
	if oldFd == newFd {
		return nil
	}
	t.closeLocked(newFd)
	t.slots[newFd] = &localOpenedFile{file: src.file.ref(), cloexec: false}
	return nil
}

// Close clears fd's slot, dropping the underlying file once its last
// reference goes away.
func (t *Table) Close(fd int) *kerr.Error {
	if fd < 0 || fd >= config.FDMax {
		return kerr.Of(kerr.EBADF)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[fd] == nil {
		return kerr.Of(kerr.EBADF)
	}
	t.closeLocked(fd)
	return nil
}

// Closer is implemented by file objects (pipe ends, sockets) that need to
// know when their very last table reference goes away, as opposed to every
// individual close(2) call on a dup'd or forked fd.
type Closer interface {
	Close()
}

func (t *Table) closeLocked(fd int) {
	l := t.slots[fd]
	if l == nil {
		return
	}
	t.slots[fd] = nil
	l.file.mu.Lock()
	l.file.refs--
	dropped := l.file.refs == 0
	l.file.mu.Unlock()
	if dropped {
		if c, ok := l.file.File.(Closer); ok {
			c.Close()
		}
	}
}

// CloseCloexecFiles clears every slot whose close-on-exec flag is set,
// invoked from execve (§4.9).
func (t *Table) CloseCloexecFiles() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd, l := range t.slots {
		if l != nil && l.cloexec {
			t.closeLocked(fd)
		}
	}
}

// Fork returns a shallow clone of t: every OpenedFile is shared (its
// refcount bumped), and per-fd close-on-exec flags are copied (§4.9).
func (t *Table) Fork() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := &Table{nextFd: t.nextFd}
	for i, l := range t.slots {
		if l != nil {
			nt.slots[i] = &localOpenedFile{file: l.file.ref(), cloexec: l.cloexec}
		}
	}
	return nt
}

// Cwd tracks a process's current working directory, adapted from
// teacher_src/fd/fd.go's Cwd_t.
type Cwd struct {
	mu   sync.Mutex
	Dir  vfs.Directory
	Path ustr.Ustr
}

// NewRootCwd constructs a Cwd rooted at "/".
func NewRootCwd(root vfs.Directory) *Cwd {
	return &Cwd{Dir: root, Path: ustr.Root}
}

// Fullpath joins the cwd with p if p is not already absolute.
func (c *Cwd) Fullpath(p ustr.Ustr) ustr.Ustr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.IsAbsolute() {
		return p
	}
	return c.Path.Extend(p)
}

// Set updates the cwd to dir/path (used by chdir).
func (c *Cwd) Set(dir vfs.Directory, path ustr.Ustr) {
	c.mu.Lock()
	c.Dir = dir
	c.Path = path
	c.mu.Unlock()
}

// Snapshot returns the cwd's current directory and path together,
// consistent with one another.
func (c *Cwd) Snapshot() (vfs.Directory, ustr.Ustr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Dir, c.Path
}
