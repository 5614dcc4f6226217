package userio

import (
	"github.com/biscuit-go/kernel/internal/budget"
	"github.com/biscuit-go/kernel/internal/config"
	"github.com/biscuit-go/kernel/internal/kerr"
)

// iovecEntrySize is the wire size of one (base, len) pair as laid out by
// the platform's struct iovec: two 8-byte little-endian fields.
const iovecEntrySize = 16

type iovecEntry struct {
	uva uintptr
	len int
}

// Iovec is a sequence of user buffers described by an iovec array read
// from user memory, mirroring teacher_src/vm/userbuf.go's Useriovec_t.
type Iovec struct {
	a    *Access
	iovs []iovecEntry
	tsz  int
}

// NewIovec reads n iovec entries starting at base from user memory.
// Returns EINVAL if n exceeds config.IOVMax (§4.10).
func NewIovec(a *Access, base uintptr, n int) (*Iovec, *kerr.Error) {
	if n > config.IOVMax || n < 0 {
		return nil, kerr.Of(kerr.EINVAL)
	}
	iov := &Iovec{a: a, iovs: make([]iovecEntry, n)}
	for i := 0; i < n; i++ {
		entryVA := base + uintptr(i)*iovecEntrySize
		uva, err := a.Read(entryVA, 8)
		if err != nil {
			return nil, err
		}
		length, err := a.Read(entryVA+8, 8)
		if err != nil {
			return nil, err
		}
		iov.iovs[i] = iovecEntry{uva: uintptr(uva), len: int(length)}
		iov.tsz += int(length)
	}
	return iov, nil
}

// Remain returns the number of bytes left across every not-yet-drained
// entry.
func (iov *Iovec) Remain() int {
	n := 0
	for _, e := range iov.iovs {
		n += e.len
	}
	return n
}

// TotalSize returns the total byte count described by the iovec array at
// construction time.
func (iov *Iovec) TotalSize() int { return iov.tsz }

func (iov *Iovec) transfer(buf []byte, write bool) (int, *kerr.Error) {
	did := 0
	for len(buf) > 0 && len(iov.iovs) > 0 {
		if iov.a.gov != nil && !iov.a.gov.Take(budget.IovecTx) {
			return did, kerr.Of(kerr.ENOHEAP)
		}
		cur := &iov.iovs[0]
		n := len(buf)
		if n > cur.len {
			n = cur.len
		}
		var c int
		var err *kerr.Error
		if write {
			c, err = iov.a.WriteBytes(cur.uva, buf[:n])
		} else {
			c, err = iov.a.ReadBytes(cur.uva, buf[:n])
		}
		cur.uva += uintptr(c)
		cur.len -= c
		buf = buf[c:]
		did += c
		if cur.len == 0 {
			iov.iovs = iov.iovs[1:]
		}
		if err != nil {
			return did, err
		}
	}
	return did, nil
}

// Uioread drains from the iovec's user buffers into dst.
func (iov *Iovec) Uioread(dst []byte) (int, *kerr.Error) { return iov.transfer(dst, false) }

// Uiowrite fills the iovec's user buffers from src.
func (iov *Iovec) Uiowrite(src []byte) (int, *kerr.Error) { return iov.transfer(src, true) }
