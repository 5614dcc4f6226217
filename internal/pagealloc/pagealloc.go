// Package pagealloc implements the kernel's physical page allocator: a
// per-zone buddy allocator serving power-of-two runs of 4 KiB frames,
// adapted from the refcounting/free-list design of
// teacher_src/mem/mem.go's Physmem_t (Refpg_new/Refup/Refdown, per-page
// Physpg_t refcount), generalized from biscuit's single global free
// list into this module's explicit multi-zone contract (§4.1): one
// zone per contiguous RAM area, tried in order on exhaustion.
package pagealloc

import (
	"sync"

	"github.com/biscuit-go/kernel/internal/config"
	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/memtypes"
)

// Flags recognised by AllocPages (§4.1).
type Flags uint

const (
	Kernel  Flags = 1 << iota // destined for kernel use
	User                      // destined for a user mapping
	Zeroed                    // allocator must zero the returned frames
	DirtyOK                   // caller does not require zeroing
)

// maxOrder bounds how large a single zone's buddy tree can grow; 24 orders
// covers zones far larger than any RAM area this hosted simulation needs.
const maxOrder = 24

// Zone is one contiguous, page-aligned region of simulated physical RAM
// managed by its own buddy free lists.
type Zone struct {
	mu        sync.Mutex
	base      memtypes.PAddr
	nframes   int
	ram       []byte // nframes * PageSize bytes of backing storage
	refcount  []int32
	freeLists [maxOrder + 1][]int // per-order stack of free block-start frame indices
}

// newZone constructs a zone of nframes frames starting at base, with every
// frame initially free.
func newZone(base memtypes.PAddr, nframes int) *Zone {
	z := &Zone{
		base:     base,
		nframes:  nframes,
		ram:      make([]byte, nframes*config.PageSize),
		refcount: make([]int32, nframes),
	}
	z.seedFreeLists()
	return z
}

// seedFreeLists decomposes the zone's full frame range into the largest
// aligned power-of-two blocks it can, classic buddy-allocator bootstrap.
func (z *Zone) seedFreeLists() {
	idx := 0
	for idx < z.nframes {
		order := 0
		for order < maxOrder {
			blockSize := 1 << (order + 1)
			if idx%blockSize != 0 || idx+blockSize > z.nframes {
				break
			}
			order++
		}
		z.freeLists[order] = append(z.freeLists[order], idx)
		idx += 1 << order
	}
}

func (z *Zone) contains(p memtypes.PAddr) bool {
	off := int64(p-z.base) / config.PageSize
	return off >= 0 && off < int64(z.nframes)
}

// freeFrameCount sums the frames still sitting on every order's free list.
func (z *Zone) freeFrameCount() int {
	z.mu.Lock()
	defer z.mu.Unlock()
	n := 0
	for order, list := range z.freeLists {
		n += (1 << uint(order)) * len(list)
	}
	return n
}

// alloc attempts to serve a 2^order-frame allocation from this zone.
func (z *Zone) alloc(order int, zeroed bool) (memtypes.PAddr, bool) {
	z.mu.Lock()
	defer z.mu.Unlock()

	o := order
	for o <= maxOrder && len(z.freeLists[o]) == 0 {
		o++
	}
	if o > maxOrder {
		return 0, false
	}
	n := len(z.freeLists[o])
	idx := z.freeLists[o][n-1]
	z.freeLists[o] = z.freeLists[o][:n-1]

	// split down to the requested order, returning upper buddies to
	// smaller free lists.
	for o > order {
		o--
		buddy := idx + (1 << o)
		z.freeLists[o] = append(z.freeLists[o], buddy)
	}

	if z.refcount[idx] != 0 {
		panic("pagealloc: allocated frame has nonzero refcount")
	}
	z.refcount[idx] = 1

	start := idx * config.PageSize
	length := (1 << order) * config.PageSize
	if zeroed {
		for i := start; i < start+length; i++ {
			z.ram[i] = 0
		}
	}
	return z.base + memtypes.PAddr(start), true
}

func (z *Zone) frameIndex(p memtypes.PAddr) int {
	return int((p - z.base) / config.PageSize)
}

// free returns a 2^order-frame block to the zone, merging with its buddy
// when possible.
func (z *Zone) free(p memtypes.PAddr, order int) {
	z.mu.Lock()
	defer z.mu.Unlock()

	idx := z.frameIndex(p)
	if z.refcount[idx] <= 0 {
		panic("pagealloc: double free detected")
	}
	z.refcount[idx] = 0

	o := order
	for o < maxOrder {
		buddy := idx ^ (1 << o)
		if buddy+1<<o > z.nframes {
			break
		}
		merged := false
		list := z.freeLists[o]
		for i, v := range list {
			if v == buddy {
				z.freeLists[o] = append(list[:i], list[i+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			break
		}
		if buddy < idx {
			idx = buddy
		}
		o++
	}
	z.freeLists[o] = append(z.freeLists[o], idx)
}

// Bytes returns a slice directly backing the length bytes of frame-aligned
// storage starting at p. This stands in for biscuit's direct map
// (mem.Dmap): in this hosted simulation "physical RAM" already lives in a Go
// byte slice, so no virtual-address indirection is needed to touch it.
func (z *Zone) Bytes(p memtypes.PAddr, length int) []byte {
	off := int(p - z.base)
	return z.ram[off : off+length]
}

// OOMRequest is sent on an Allocator's registered OOM channel when
// AllocPages exhausts every zone, adapted from
// teacher_src/oommsg/oommsg.go's package-level OomCh/Oommsg_t: a reclaimer
// reading Need frees at least Need frames, then signals Resume so the
// failed allocation can retry once.
type OOMRequest struct {
	Need   int
	Resume chan bool
}

// Allocator owns every zone of usable RAM reported by the boot loader and
// serves page-aligned allocations of 2^order contiguous frames (§4.1).
type Allocator struct {
	zones []*Zone

	mu    sync.Mutex
	oomCh chan OOMRequest
}

// SetOOMChannel registers ch as the allocator's out-of-memory notifier.
// When AllocPages would otherwise return ENOMEM, it instead sends one
// OOMRequest on ch (non-blocking — a reclaimer that isn't ready to listen
// doesn't get a retry) and, if accepted, blocks on Resume before retrying
// exactly once. A nil channel (the default) disables this and AllocPages
// fails immediately, as if no reclaimer were registered at all.
func (a *Allocator) SetOOMChannel(ch chan OOMRequest) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.oomCh = ch
}

func (a *Allocator) oomChannel() chan OOMRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.oomCh
}

// New constructs an Allocator with no zones; call AddZone for each RAM area
// the boot loader reported as usable.
func New() *Allocator {
	return &Allocator{}
}

// AddZone registers a contiguous RAM area of nframes frames starting at
// base as available for allocation.
func (a *Allocator) AddZone(base memtypes.PAddr, nframes int) {
	a.zones = append(a.zones, newZone(base, nframes))
}

// Stats reports, summed across every registered zone, the total number of
// frames under management and how many currently sit on a free list —
// the raw counts internal/profile turns into a page-allocator profile
// sample.
func (a *Allocator) Stats() (totalFrames, freeFrames int) {
	for _, z := range a.zones {
		totalFrames += z.nframes
		freeFrames += z.freeFrameCount()
	}
	return totalFrames, freeFrames
}

func orderFor(n int) int {
	order := 0
	for 1<<order < n {
		order++
	}
	return order
}

// AllocPages serves an allocation of 2^order contiguous frames (OrderFor
// turns a frame count into an order), trying zones in the order
// they were registered and failing with ENOMEM only once every zone has
// been tried (§4.1).
func (a *Allocator) AllocPages(order int, flags Flags) (memtypes.PAddr, *kerr.Error) {
	zeroed := flags&Zeroed != 0
	if p, ok := a.tryAlloc(order, zeroed); ok {
		return p, nil
	}
	if ch := a.oomChannel(); ch != nil {
		resume := make(chan bool, 1)
		select {
		case ch <- OOMRequest{Need: 1 << order, Resume: resume}:
			<-resume
			if p, ok := a.tryAlloc(order, zeroed); ok {
				return p, nil
			}
		default:
		}
	}
	return 0, kerr.Of(kerr.ENOMEM)
}

func (a *Allocator) tryAlloc(order int, zeroed bool) (memtypes.PAddr, bool) {
	for _, z := range a.zones {
		if p, ok := z.alloc(order, zeroed); ok {
			return p, true
		}
	}
	return 0, false
}

func (a *Allocator) zoneFor(p memtypes.PAddr) *Zone {
	for _, z := range a.zones {
		if z.contains(p) {
			return z
		}
	}
	return nil
}

// FreePages returns a previously allocated 2^order-frame block.
func (a *Allocator) FreePages(p memtypes.PAddr, order int) {
	z := a.zoneFor(p)
	if z == nil {
		panic("pagealloc: free of address outside any zone")
	}
	z.free(p, order)
}

// Refup increments the reference count of the frame containing p.
func (a *Allocator) Refup(p memtypes.PAddr) {
	z := a.zoneFor(p)
	if z == nil {
		panic("pagealloc: refup of address outside any zone")
	}
	z.mu.Lock()
	z.refcount[z.frameIndex(p)]++
	z.mu.Unlock()
}

// Refdown decrements the reference count of the frame containing p,
// freeing it (as an order-0 block) when the count reaches zero, and
// reporting whether that happened.
func (a *Allocator) Refdown(p memtypes.PAddr) bool {
	z := a.zoneFor(p)
	if z == nil {
		panic("pagealloc: refdown of address outside any zone")
	}
	z.mu.Lock()
	idx := z.frameIndex(p)
	if z.refcount[idx] <= 0 {
		z.mu.Unlock()
		panic("pagealloc: refdown of unreferenced frame")
	}
	z.refcount[idx]--
	freed := z.refcount[idx] == 0
	z.mu.Unlock()
	if freed {
		z.free(p, 0)
	}
	return freed
}

// Refcnt returns the current reference count of the frame containing p.
func (a *Allocator) Refcnt(p memtypes.PAddr) int32 {
	z := a.zoneFor(p)
	if z == nil {
		panic("pagealloc: refcnt of address outside any zone")
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.refcount[z.frameIndex(p)]
}

// Bytes returns a slice directly backing length bytes of frame storage
// starting at p, panicking if the range is not wholly within one zone.
func (a *Allocator) Bytes(p memtypes.PAddr, length int) []byte {
	z := a.zoneFor(p)
	if z == nil {
		panic("pagealloc: address outside any zone")
	}
	return z.Bytes(p, length)
}

// OwnedPages is a scoped handle granting exclusive ownership of an
// allocation; Free returns the pages to the allocator. Go has no
// destructors, so unlike biscuit's Rust-shaped OwnedPages this handle's
// "destructor" is an explicit Free call, the idiomatic Go expression of a
// scoped resource (paired with defer at the call site).
type OwnedPages struct {
	a     *Allocator
	Addr  memtypes.PAddr
	Order int
	freed bool
}

// AllocPagesOwned is AllocPages wrapped in a scoped handle.
func (a *Allocator) AllocPagesOwned(order int, flags Flags) (*OwnedPages, *kerr.Error) {
	p, err := a.AllocPages(order, flags)
	if err != nil {
		return nil, err
	}
	return &OwnedPages{a: a, Addr: p, Order: order}, nil
}

// Free returns the pages to the allocator. Calling Free more than once
// panics, matching the double-free detection required by §4.1.
func (o *OwnedPages) Free() {
	if o.freed {
		panic("pagealloc: OwnedPages freed twice")
	}
	o.freed = true
	o.a.FreePages(o.Addr, o.Order)
}

// Bytes returns the byte slice backing this allocation.
func (o *OwnedPages) Bytes() []byte {
	return o.a.Bytes(o.Addr, (1<<o.Order)*config.PageSize)
}

// OrderFor returns the smallest order such that 1<<order >= n frames are
// requested; exported so callers with a frame count (rather than a
// pre-computed order) can call AllocPages directly.
func OrderFor(nframes int) int { return orderFor(nframes) }
