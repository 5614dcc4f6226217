package klog

import (
	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/stat"
	"github.com/biscuit-go/kernel/internal/vfs"
)

// File adapts a Log to vfs.FileLike, the dmesg-style read-only pseudo-file
// a Read syscall on an opened kernel-log fd drains (§6 "kernel log
// readback"). Read ignores offset and drains the ring exactly like Log.Read
// does directly — there is no seeking back over already-read log text, the
// same one-shot-consume semantics dmesg itself has.
type File struct {
	vfs.SocketDefaults
	log *Log
}

// NewFile returns a vfs.FileLike view of l.
func NewFile(l *Log) *File { return &File{log: l} }

func (f *File) Stat(st *stat.Stat_t) *kerr.Error {
	st.SetMode(stat.IFREG | 0o444)
	st.SetSize(uint64(f.log.Len()))
	return nil
}

func (f *File) Read(offset int64, buf []byte) (int, *kerr.Error) {
	return f.log.Read(buf), nil
}

func (f *File) Write(offset int64, buf []byte) (int, *kerr.Error) {
	return 0, kerr.Of(kerr.EBADF)
}

func (f *File) Poll() vfs.PollStatus {
	return vfs.PollStatus{Readable: f.log.Len() > 0, Writable: false}
}
