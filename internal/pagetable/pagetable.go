// Package pagetable implements the kernel's 4-level page table (§4.4),
// adapted from the PTE flag layout and walk/insert/remove shape of
// teacher_src/mem/dmap.go (shl/pgbits level-shift arithmetic) and
// teacher_src/vm/as.go (_page_insert/Page_remove/pmap_walk). biscuit's
// tree lives in raw physical memory addressed through unsafe.Pointer and a
// recursive self-map slot; this hosted build has no raw memory to walk, so
// each table level is a pagealloc frame whose 512 eight-byte entries are
// read and written through encoding/binary, and the walk recurses in
// ordinary Go rather than through a recursive page-table slot.
package pagetable

import (
	"encoding/binary"

	"github.com/biscuit-go/kernel/internal/config"
	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/memtypes"
	"github.com/biscuit-go/kernel/internal/pagealloc"
)

// PTE is one 64-bit page-table entry: a page-aligned physical address in
// its high bits plus permission flags in its low bits, mirroring the
// teacher's PTE_P/PTE_W/PTE_U layout.
type PTE uint64

const (
	Present  PTE = 1 << 0
	Writable PTE = 1 << 1
	User     PTE = 1 << 2

	addrMask PTE = ^PTE(config.PageSize - 1)
)

// Addr returns the physical address this entry points to.
func (e PTE) Addr() memtypes.PAddr { return memtypes.PAddr(e & addrMask) }

const entriesPerTable = config.PageSize / 8 // 512 eight-byte entries per table page

// kernelHalfStart is the first PML4 index belonging to the kernel half of
// the address space: entries [0,kernelHalfStart) are user, the rest kernel,
// matching the canonical x86-64 split biscuit's VUSER/VEND slots
// describe.
const kernelHalfStart = entriesPerTable / 2

// PageTable is one process's (or the kernel's) 4-level tree. Root is the
// physical frame holding the top-level (PML4-equivalent) table.
type PageTable struct {
	alloc *pagealloc.Allocator
	Root  memtypes.PAddr
}

// New allocates a fresh, all-zero top-level table.
func New(alloc *pagealloc.Allocator) (*PageTable, *kerr.Error) {
	root, err := alloc.AllocPages(0, pagealloc.Kernel|pagealloc.Zeroed)
	if err != nil {
		return nil, err
	}
	return &PageTable{alloc: alloc, Root: root}, nil
}

func readEntry(alloc *pagealloc.Allocator, table memtypes.PAddr, index int) PTE {
	b := alloc.Bytes(table, config.PageSize)
	return PTE(binary.LittleEndian.Uint64(b[index*8:]))
}

func writeEntry(alloc *pagealloc.Allocator, table memtypes.PAddr, index int, e PTE) {
	b := alloc.Bytes(table, config.PageSize)
	binary.LittleEndian.PutUint64(b[index*8:], uint64(e))
}

// indices splits a virtual address into its four level-9-bit indices,
// mirroring teacher_src/mem/dmap.go's pgbits/shl (shl(c) = 12 + 9*c).
func indices(vaddr uintptr) (l4, l3, l2, l1 int) {
	bits := func(level uint) int { return int((vaddr >> (12 + 9*level)) & 0x1ff) }
	return bits(3), bits(2), bits(1), bits(0)
}

// walk descends from root to the final-level table holding the PTE for
// vaddr, allocating zeroed intermediate tables along the way when create is
// true. It returns the table holding the leaf entry and the index within
// it.
func walk(alloc *pagealloc.Allocator, root memtypes.PAddr, vaddr uintptr, create bool) (memtypes.PAddr, int, *kerr.Error) {
	idx := []int{}
	l4, l3, l2, l1 := indices(vaddr)
	idx = append(idx, l4, l3, l2)

	table := root
	for _, i := range idx {
		e := readEntry(alloc, table, i)
		if e&Present == 0 {
			if !create {
				return 0, 0, kerr.Of(kerr.EFAULT)
			}
			next, err := alloc.AllocPages(0, pagealloc.Kernel|pagealloc.Zeroed)
			if err != nil {
				return 0, 0, err
			}
			e = PTE(next) | Present | Writable | User
			writeEntry(alloc, table, i, e)
		}
		table = e.Addr()
	}
	return table, l1, nil
}

// MapUserPage installs vaddr -> paddr with PRESENT|USER|WRITABLE, lazily
// allocating intermediate tables (§4.4).
func (pt *PageTable) MapUserPage(vaddr memtypes.UserVAddr, paddr memtypes.PAddr) *kerr.Error {
	table, idx, err := walk(pt.alloc, pt.Root, vaddr.PageBase().Value(), true)
	if err != nil {
		return err
	}
	writeEntry(pt.alloc, table, idx, PTE(paddr)|Present|Writable|User)
	return nil
}

// Lookup returns the PTE mapping vaddr, if any.
func (pt *PageTable) Lookup(vaddr uintptr) (PTE, bool) {
	table, idx, err := walk(pt.alloc, pt.Root, vaddr&^uintptr(config.PageSize-1), false)
	if err != nil {
		return 0, false
	}
	e := readEntry(pt.alloc, table, idx)
	if e&Present == 0 {
		return 0, false
	}
	return e, true
}

// Unmap clears the mapping for vaddr, returning the physical address it
// pointed to (if any) so the caller can drop its pagealloc reference.
func (pt *PageTable) Unmap(vaddr uintptr) (memtypes.PAddr, bool) {
	table, idx, err := walk(pt.alloc, pt.Root, vaddr&^uintptr(config.PageSize-1), false)
	if err != nil {
		return 0, false
	}
	e := readEntry(pt.alloc, table, idx)
	if e&Present == 0 {
		return 0, false
	}
	writeEntry(pt.alloc, table, idx, 0)
	return e.Addr(), true
}

// Switch returns the root this table would load into the hardware
// page-table-base register (§4.4); this hosted build has no such register,
// so the scheduler records the returned address as "current" itself.
func (pt *PageTable) Switch() memtypes.PAddr { return pt.Root }

// DuplicateFrom replaces pt's tree with a copy of src's: kernel-half
// top-level entries are aliased unchanged (same child table, shared with
// every address space), user-half entries are walked recursively and every
// leaf-backing page is physically copied into a freshly allocated frame.
// This cost is accepted in lieu of copy-on-write (§4.4).
func (pt *PageTable) DuplicateFrom(src *PageTable) *kerr.Error {
	newRoot, err := pt.alloc.AllocPages(0, pagealloc.Kernel|pagealloc.Zeroed)
	if err != nil {
		return err
	}

	for i := 0; i < entriesPerTable; i++ {
		e := readEntry(src.alloc, src.Root, i)
		if e&Present == 0 {
			continue
		}
		if i >= kernelHalfStart {
			writeEntry(pt.alloc, newRoot, i, e)
			continue
		}
		childAddr, derr := pt.deepCopyLevel(src.alloc, e.Addr(), 2)
		if derr != nil {
			return derr
		}
		writeEntry(pt.alloc, newRoot, i, childAddr|(e&^addrMask))
	}
	pt.Root = newRoot
	return nil
}

// deepCopyLevel copies one table at the given level (2=PDPT-equivalent,
// 1=PD-equivalent, 0=last-level table) and everything beneath it; level -1
// means srcTable is a leaf data page, which is copied byte for byte. It
// returns the physical address of the new table (levels >= 0) or new data
// page (level -1), combined with Present so callers can OR in the parent's
// permission bits directly.
func (pt *PageTable) deepCopyLevel(srcAlloc *pagealloc.Allocator, srcTable memtypes.PAddr, level int) (PTE, *kerr.Error) {
	if level < 0 {
		// srcTable is actually a leaf data page: physically copy its
		// contents into a fresh frame.
		newPage, err := pt.alloc.AllocPages(0, pagealloc.Kernel|pagealloc.DirtyOK)
		if err != nil {
			return 0, err
		}
		copy(pt.alloc.Bytes(newPage, config.PageSize), srcAlloc.Bytes(srcTable, config.PageSize))
		return PTE(newPage) | Present, nil
	}

	newTable, err := pt.alloc.AllocPages(0, pagealloc.Kernel|pagealloc.Zeroed)
	if err != nil {
		return 0, err
	}
	for i := 0; i < entriesPerTable; i++ {
		e := readEntry(srcAlloc, srcTable, i)
		if e&Present == 0 {
			continue
		}
		childLevel := level - 1
		if level == 0 {
			childLevel = -1 // next recursion copies a leaf data page
		}
		child, derr := pt.deepCopyLevel(srcAlloc, e.Addr(), childLevel)
		if derr != nil {
			return 0, derr
		}
		writeEntry(pt.alloc, newTable, i, child|(e&^addrMask))
	}
	return PTE(newTable) | Present, nil
}
