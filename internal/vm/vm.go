// Package vm implements a process's address space: an ordered VMA list
// over a page table, demand-paged fault resolution, and fork-time deep
// copy (§4.3). Grounded in teacher_src/vm/as.go's Vm_t (locked region +
// pmap pair, Vmadd_anon/Vmadd_file, Unusedva_inner gap search,
// Sys_pgfault's align/lookup/allocate/fill/install sequence) and
// teacher_src/vm/as.go's VSANON shared-anon variant for the narrow
// MAP_SHARED-anonymous extension (§4.3 "shared anonymous mappings").
package vm

import (
	"sync"

	"github.com/biscuit-go/kernel/internal/config"
	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/memtypes"
	"github.com/biscuit-go/kernel/internal/pagealloc"
	"github.com/biscuit-go/kernel/internal/pagetable"
)

// AreaType distinguishes an Anonymous (demand-zero) VMA from a File-backed
// one (§3 "VMA").
type AreaType int

const (
	Anonymous AreaType = iota
	FileBacked
)

// FileBackend is the minimal capability a File-backed VMA needs from its
// inode: a byte-range read used to fill pages on demand. vfs's opened files
// satisfy this structurally, with no import from vm back to vfs.
type FileBackend interface {
	ReadAt(buf []byte, off int64) (int, *kerr.Error)
}

// Area is one VMA: a half-open user-address range carrying a type.
type Area struct {
	Start, End uintptr // half-open [Start, End)
	Type       AreaType
	Shared     bool // MAP_SHARED anonymous, per the narrow VSANON-style extension
	File       FileBackend
	FileOff    int64
	FileLen    int64 // portion of [Start,End) backed by file; the rest is zero-filled
}

func (a *Area) contains(addr uintptr) bool { return addr >= a.Start && addr < a.End }
func (a *Area) overlaps(start, end uintptr) bool {
	return start < a.End && end > a.Start
}

// FaultOutcome reports what a page fault resolved to; the caller (the
// process/signal layer, not yet built when vm is) turns SIGSEGV/Kill into
// an actual signal delivery or process termination, since vm itself has no
// business importing proc or signal.
type FaultOutcome int

const (
	FaultResolved FaultOutcome = iota
	FaultSIGSEGV               // no containing VMA: deliver SIGSEGV and terminate
	FaultKill                  // null or kernel-half address, or allocation/mapping/file-read failure
)

// FaultEcode mirrors the hardware page-fault error code's relevant bits.
type FaultEcode uint

const (
	FaultWrite FaultEcode = 1 << 0
	FaultUser  FaultEcode = 1 << 1
)

// mmapWindowStart/End bound the region alloc_vaddr_range searches for a
// free gap when mmap is called without a hint; kept well clear of the
// fixed heap and stack ranges.
const (
	mmapWindowStart uintptr = 0x0000_1000_0000_0000
	mmapWindowEnd   uintptr = 0x0000_7000_0000_0000
)

// VM is one process's address space (§3 "Process" / §4.3).
type VM struct {
	mu sync.Mutex

	pt    *pagetable.PageTable
	alloc *pagealloc.Allocator

	areas []*Area // kept sorted by Start

	StackBase uintptr
	HeapBase  uintptr
	HeapEnd   uintptr
}

// New constructs an address space with a fresh page table and the given
// fixed stack/heap bases. The one-page guard range stackRangeOverlaps
// reserves below stackBase is pre-populated with an anonymous VMA here, the
// only way anything ever gets to live there — AddVMArea and friends refuse
// to let any other caller touch it, so without this the fixed user stack
// would SIGSEGV on first access.
func New(alloc *pagealloc.Allocator, stackBase, heapBase uintptr) (*VM, *kerr.Error) {
	pt, err := pagetable.New(alloc)
	if err != nil {
		return nil, err
	}
	v := &VM{pt: pt, alloc: alloc, StackBase: stackBase, HeapBase: heapBase, HeapEnd: heapBase}
	v.areas = append(v.areas, &Area{Start: stackBase - config.PageSize, End: stackBase, Type: Anonymous})
	return v, nil
}

// PageTable returns the page table backing this address space.
func (vm *VM) PageTable() *pagetable.PageTable { return vm.pt }

// PageTableMut is identical to PageTable: Go has no const pointers, so the
// read/write accessor distinction collapses to one method.
func (vm *VM) PageTableMut() *pagetable.PageTable { return vm.pt }

// Bytes returns the byte slice backing length bytes of physical storage at
// p, the indirection userio needs to touch a page once HandleFault (or a
// prior mapping) has resolved its physical frame.
func (vm *VM) Bytes(p memtypes.PAddr, length int) []byte { return vm.alloc.Bytes(p, length) }

// stackRangeOverlaps reports whether [start,end) intersects the fixed
// user-stack range, a single guard-sized page below StackBase.
func (vm *VM) stackRangeOverlaps(start, end uintptr) bool {
	stackStart := vm.StackBase - config.PageSize
	return start < vm.StackBase && end > stackStart
}

// AddVMArea inserts a new VMA, failing EINVAL if it overlaps an existing
// one, the stack range, or crosses into the kernel half (§4.3).
func (vm *VM) AddVMArea(start, length uintptr, typ AreaType) *kerr.Error {
	if length == 0 {
		return kerr.Of(kerr.EINVAL)
	}
	end := start + length
	if _, ok := memtypes.NewUserVAddr(start); !ok {
		return kerr.Of(kerr.EINVAL)
	}
	if _, ok := memtypes.NewUserVAddr(end - 1); !ok {
		return kerr.Of(kerr.EINVAL)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.stackRangeOverlaps(start, end) {
		return kerr.Of(kerr.EINVAL)
	}
	for _, a := range vm.areas {
		if a.overlaps(start, end) {
			return kerr.Of(kerr.EINVAL)
		}
	}

	area := &Area{Start: start, End: end, Type: typ}
	vm.insertLocked(area)
	return nil
}

// AddFileBackedVMArea is AddVMArea for a mapping backed by file, covering
// fileLen bytes of it starting at fileOff within [start, start+length); any
// remainder of the range past fileLen is demand-zeroed on fault, matching a
// regular file-backed mmap whose length exceeds the file's remaining size.
func (vm *VM) AddFileBackedVMArea(start, length uintptr, file FileBackend, fileOff, fileLen int64) *kerr.Error {
	if length == 0 {
		return kerr.Of(kerr.EINVAL)
	}
	end := start + length
	if _, ok := memtypes.NewUserVAddr(start); !ok {
		return kerr.Of(kerr.EINVAL)
	}
	if _, ok := memtypes.NewUserVAddr(end - 1); !ok {
		return kerr.Of(kerr.EINVAL)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.stackRangeOverlaps(start, end) {
		return kerr.Of(kerr.EINVAL)
	}
	for _, a := range vm.areas {
		if a.overlaps(start, end) {
			return kerr.Of(kerr.EINVAL)
		}
	}

	area := &Area{Start: start, End: end, Type: FileBacked, File: file, FileOff: fileOff, FileLen: fileLen}
	vm.insertLocked(area)
	return nil
}

// insertLocked inserts area keeping vm.areas sorted by Start. Caller holds
// vm.mu.
func (vm *VM) insertLocked(area *Area) {
	i := 0
	for i < len(vm.areas) && vm.areas[i].Start < area.Start {
		i++
	}
	vm.areas = append(vm.areas, nil)
	copy(vm.areas[i+1:], vm.areas[i:])
	vm.areas[i] = area
}

func (vm *VM) findVMA(addr uintptr) *Area {
	for _, a := range vm.areas {
		if a.contains(addr) {
			return a
		}
	}
	return nil
}

// IsFreeVaddrRange reports whether [base,base+len) is free of every
// existing VMA and the stack range, honouring an mmap hint (§4.3).
func (vm *VM) IsFreeVaddrRange(base, length uintptr) bool {
	end := base + length
	if _, ok := memtypes.NewUserVAddr(base); !ok {
		return false
	}
	if length > 0 {
		if _, ok := memtypes.NewUserVAddr(end - 1); !ok {
			return false
		}
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.stackRangeOverlaps(base, end) {
		return false
	}
	for _, a := range vm.areas {
		if a.overlaps(base, end) {
			return false
		}
	}
	return true
}

// AllocVaddrRange finds a free gap of length bytes within the reserved
// mmap window, for a hint-less mmap (§4.3).
func (vm *VM) AllocVaddrRange(length uintptr) (uintptr, *kerr.Error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	candidate := mmapWindowStart
	for _, a := range vm.areas {
		if a.Start >= mmapWindowEnd {
			break
		}
		gapEnd := a.Start
		if candidate+length <= gapEnd && gapEnd > candidate {
			return candidate, nil
		}
		if a.End > candidate {
			candidate = a.End
		}
	}
	if candidate+length <= mmapWindowEnd {
		return candidate, nil
	}
	return 0, kerr.Of(kerr.ENOMEM)
}

// ExpandHeapTo grows or shrinks the heap, failing if the new end would
// collide with a VMA (§4.3). The heap is tracked as the range
// [HeapBase, HeapEnd), not as a VMA: this only moves HeapEnd, under vm.mu.
func (vm *VM) ExpandHeapTo(newEnd uintptr) *kerr.Error {
	if _, ok := memtypes.NewUserVAddr(newEnd - 1); newEnd > vm.HeapBase && !ok {
		return kerr.Of(kerr.EINVAL)
	}
	if newEnd < vm.HeapBase {
		return kerr.Of(kerr.EINVAL)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	for _, a := range vm.areas {
		if a.Start >= vm.HeapBase && a.overlaps(vm.HeapBase, newEnd) {
			return kerr.Of(kerr.EINVAL)
		}
	}
	vm.HeapEnd = newEnd
	return nil
}

// Fork produces a new VM whose page table is a deep copy and whose VMA
// list is cloned; file-backed VMAs keep the same inode reference (§4.3).
func (vm *VM) Fork() (*VM, *kerr.Error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	newPT, err := pagetable.New(vm.alloc)
	if err != nil {
		return nil, err
	}
	if err := newPT.DuplicateFrom(vm.pt); err != nil {
		return nil, err
	}

	child := &VM{
		pt:        newPT,
		alloc:     vm.alloc,
		StackBase: vm.StackBase,
		HeapBase:  vm.HeapBase,
		HeapEnd:   vm.HeapEnd,
	}
	for _, a := range vm.areas {
		clone := *a
		child.areas = append(child.areas, &clone)
	}
	return child, nil
}

// HandleFault resolves a page fault for the given raw faulting address
// (not necessarily page-aligned) and fault-reason bits, per the §4.3
// algorithm. Steps (1)-(2) — the kernel-mode whitelist check and the
// null-deref kill — are represented here as a panic (an unrecoverable
// kernel bug) and a FaultKill outcome respectively, the latter for any
// null or kernel-half address whether the fault came from user or
// supervisor mode;
// the caller owns turning FaultSIGSEGV/FaultKill into an actual signal
// delivery or process termination.
func (vm *VM) HandleFault(faultAddr uintptr, ecode FaultEcode, ipWhitelisted bool) (FaultOutcome, *kerr.Error) {
	fromKernel := ecode&FaultUser == 0
	if fromKernel && !ipWhitelisted {
		panic("vm: page fault in kernel mode at a non-whitelisted instruction pointer")
	}

	uaddr, ok := memtypes.NewUserVAddr(faultAddr)
	if !ok {
		return FaultKill, kerr.Of(kerr.EFAULT)
	}
	base := uaddr.PageBase()

	vm.mu.Lock()
	area := vm.findVMA(base.Value())
	if area == nil {
		vm.mu.Unlock()
		return FaultSIGSEGV, kerr.Of(kerr.EFAULT)
	}

	frame, aerr := vm.alloc.AllocPages(0, pagealloc.User|pagealloc.DirtyOK)
	if aerr != nil {
		vm.mu.Unlock()
		return FaultKill, aerr
	}
	buf := vm.alloc.Bytes(frame, config.PageSize)

	switch area.Type {
	case Anonymous:
		for i := range buf {
			buf[i] = 0
		}
	case FileBacked:
		off := area.FileOff + int64(base.Value()-area.Start)
		fileEnd := area.FileOff + area.FileLen
		n := 0
		if off < fileEnd {
			want := int64(len(buf))
			if off+want > fileEnd {
				want = fileEnd - off
			}
			read, rerr := area.File.ReadAt(buf[:want], off)
			if rerr != nil {
				vm.mu.Unlock()
				return FaultKill, rerr
			}
			n = read
		}
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
	}

	err := vm.pt.MapUserPage(base, frame)
	vm.mu.Unlock()
	if err != nil {
		return FaultKill, err
	}
	return FaultResolved, nil
}
