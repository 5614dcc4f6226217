// Package userio implements the kernel's only permitted routes between
// kernel and user memory (§4.11): UserVAddr.{read, read_bytes, read_cstr,
// write, write_bytes, fill}, plus the multi-buffer iovec reader/writer used
// by readv/writev. Grounded in teacher_src/vm/userbuf.go's Userbuf_t/
// Useriovec_t chunked transfer loop and teacher_src/vm/as.go's
// Userdmap8_inner/Userreadn/Userwriten/Userstr. biscuit's per-access
// instruction-pointer whitelist (so the page-fault handler can recognise a
// fault inside a user copy as EFAULT rather than a kernel panic) has no
// separate referent here: vm.HandleFault already distinguishes kernel-mode
// faults from user-address faults by construction, so a userio transfer
// passes on the error HandleFault reports with a vm.FaultKill or
// vm.FaultSIGSEGV outcome: EFAULT for an unmapped, null or kernel-half
// address, or the allocation or file-read error that stopped the fault.
package userio

import (
	"github.com/biscuit-go/kernel/internal/budget"
	"github.com/biscuit-go/kernel/internal/config"
	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/memtypes"
	"github.com/biscuit-go/kernel/internal/ustr"
	"github.com/biscuit-go/kernel/internal/vm"
)

// Access mediates every kernel<->user memory transfer for one address
// space, optionally metering chunked operations against a resource budget
// governor (§4.10 "Resource budget governor").
type Access struct {
	vm  *vm.VM
	gov *budget.Governor
}

// New constructs an Access over vm, charging gov (if non-nil) one unit of
// the IovecTx site per page-sized chunk transferred.
func New(v *vm.VM, gov *budget.Governor) *Access {
	return &Access{vm: v, gov: gov}
}

// resolvePage returns the page-local byte slice for uva's containing page,
// demand-faulting it in first if unmapped.
func (a *Access) resolvePage(uva memtypes.UserVAddr, write bool) ([]byte, *kerr.Error) {
	pt := a.vm.PageTable()
	base := uva.PageBase()
	if pte, ok := pt.Lookup(base.Value()); ok {
		return a.vm.Bytes(pte.Addr(), config.PageSize), nil
	}

	ecode := vm.FaultUser
	if write {
		ecode |= vm.FaultWrite
	}
	outcome, err := a.vm.HandleFault(uva.Value(), ecode, false)
	if outcome != vm.FaultResolved {
		if err != nil {
			return nil, err
		}
		return nil, kerr.Of(kerr.EFAULT)
	}
	pte, ok := pt.Lookup(base.Value())
	if !ok {
		return nil, kerr.Of(kerr.EFAULT)
	}
	return a.vm.Bytes(pte.Addr(), config.PageSize), nil
}

// transfer copies buf to/from user memory starting at uva, crossing page
// boundaries as needed and charging one budget unit per page touched.
func (a *Access) transfer(uva uintptr, buf []byte, write bool) (int, *kerr.Error) {
	total := 0
	for len(buf) > 0 {
		if a.gov != nil && !a.gov.Take(budget.IovecTx) {
			return total, kerr.Of(kerr.ENOHEAP)
		}
		uv, ok := memtypes.NewUserVAddr(uva)
		if !ok {
			return total, kerr.Of(kerr.EFAULT)
		}
		page, err := a.resolvePage(uv, write)
		if err != nil {
			return total, err
		}
		off := int(uv.PageOffset())
		n := len(buf)
		if avail := config.PageSize - off; n > avail {
			n = avail
		}
		if write {
			copy(page[off:off+n], buf[:n])
		} else {
			copy(buf[:n], page[off:off+n])
		}
		buf = buf[n:]
		uva += uintptr(n)
		total += n
	}
	return total, nil
}

// ReadBytes copies len(dst) bytes from user memory at uva into dst.
func (a *Access) ReadBytes(uva uintptr, dst []byte) (int, *kerr.Error) {
	return a.transfer(uva, dst, false)
}

// WriteBytes copies src into user memory starting at uva.
func (a *Access) WriteBytes(uva uintptr, src []byte) (int, *kerr.Error) {
	return a.transfer(uva, src, true)
}

// Fill writes n copies of b into user memory starting at uva.
func (a *Access) Fill(uva uintptr, n int, b byte) *kerr.Error {
	pattern := make([]byte, config.PageSize)
	for i := range pattern {
		pattern[i] = b
	}
	for n > 0 {
		chunk := len(pattern)
		if chunk > n {
			chunk = n
		}
		written, err := a.WriteBytes(uva, pattern[:chunk])
		if err != nil {
			return err
		}
		uva += uintptr(written)
		n -= written
	}
	return nil
}

// Read reads a little-endian integer of size bytes (at most 8) from user
// memory at uva, mirroring teacher_src/vm/as.go's Userreadn.
func (a *Access) Read(uva uintptr, size int) (uint64, *kerr.Error) {
	if size > 8 {
		panic("userio: Read size exceeds 8 bytes")
	}
	var buf [8]byte
	if _, err := a.ReadBytes(uva, buf[:size]); err != nil {
		return 0, err
	}
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

// Write writes the low size bytes (at most 8) of val as a little-endian
// integer to user memory at uva, mirroring Userwriten.
func (a *Access) Write(uva uintptr, size int, val uint64) *kerr.Error {
	if size > 8 {
		panic("userio: Write size exceeds 8 bytes")
	}
	var buf [8]byte
	for i := 0; i < size; i++ {
		buf[i] = byte(val)
		val >>= 8
	}
	_, err := a.WriteBytes(uva, buf[:size])
	return err
}

// ReadCStr copies a NUL-terminated string from user memory at uva, up to
// maxLen bytes, returning ENAMETOOLONG if no NUL is found within that
// bound (mirrors teacher_src/vm/as.go's Userstr).
func (a *Access) ReadCStr(uva uintptr, maxLen int) (ustr.Ustr, *kerr.Error) {
	s := ustr.Ustr{}
	cur := uva
	for len(s) < maxLen {
		uv, ok := memtypes.NewUserVAddr(cur)
		if !ok {
			return nil, kerr.Of(kerr.EFAULT)
		}
		page, err := a.resolvePage(uv, false)
		if err != nil {
			return nil, err
		}
		off := int(uv.PageOffset())
		chunk := page[off:]
		if rem := maxLen - len(s); len(chunk) > rem {
			chunk = chunk[:rem]
		}
		for j, c := range chunk {
			if c == 0 {
				s = append(s, chunk[:j]...)
				return s, nil
			}
		}
		s = append(s, chunk...)
		cur += uintptr(len(chunk))
	}
	return nil, kerr.Of(kerr.ENAMETOOLONG)
}
