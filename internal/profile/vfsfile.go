package profile

import (
	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/stat"
	"github.com/biscuit-go/kernel/internal/vfs"
)

// Kind selects which of Collector's two profiles a File serializes.
type Kind int

const (
	KindMemory Kind = iota
	KindProcess
)

// File adapts a Collector to vfs.FileLike: the D_PROF pseudo-file a Read
// syscall pulls a freshly gzip-encoded pprof profile from (§4.14, already
// present as an unused device id in teacher_src/defs/device.go). A read
// starting at offset 0 re-encodes the current snapshot into f.buf; reads
// at later offsets serve out of that same buffer, so the whole file
// regenerates from the top. klog's File differs: it ignores the offset
// and drains its ring.
type File struct {
	vfs.SocketDefaults
	c    *Collector
	kind Kind

	buf []byte
}

// NewFile returns a vfs.FileLike view of c, serializing kind's profile.
func NewFile(c *Collector, kind Kind) *File {
	return &File{c: c, kind: kind}
}

func (f *File) encode() ([]byte, error) {
	if f.kind == KindProcess {
		return f.c.WriteProcessProfile()
	}
	return f.c.WriteMemoryProfile()
}

func (f *File) Stat(st *stat.Stat_t) *kerr.Error {
	st.SetMode(stat.IFREG | 0o444)
	return nil
}

func (f *File) Read(offset int64, buf []byte) (int, *kerr.Error) {
	if offset == 0 {
		b, err := f.encode()
		if err != nil {
			return 0, kerr.Of(kerr.EIO)
		}
		f.buf = b
	}
	if offset < 0 || offset > int64(len(f.buf)) {
		return 0, nil
	}
	n := copy(buf, f.buf[offset:])
	return n, nil
}

func (f *File) Write(offset int64, buf []byte) (int, *kerr.Error) {
	return 0, kerr.Of(kerr.EBADF)
}

func (f *File) Poll() vfs.PollStatus {
	return vfs.PollStatus{Readable: true, Writable: false}
}
