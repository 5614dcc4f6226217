// Package kheap implements the kernel's small-object allocator (§4.2): a
// power-of-two-size buddy heap seeded lazily from pagealloc, grounded in the
// relationship implied by teacher_src/mem/mem.go where Physmem_t.Refpg_new
// is the sole path to more memory — here named explicitly as a rescue
// callback rather than left implicit, since kheap's chunked refill is its
// own concern distinct from page-frame bookkeeping.
package kheap

import (
	"strconv"
	"sync"
)

// minBlockSize/numOrders bound the object sizes this heap serves: 16 bytes to
// the rescue chunk size (ChunkSize), in power-of-two steps.
const (
	minBlockSize = 16
	numOrders    = 16 // minBlockSize<<numOrders == ChunkSize: the top order is one whole chunk
)

// ChunkSize is the fixed size requested from the rescue callback each time
// the heap needs more backing memory (§4.2: "a fixed-size chunk, e.g. 1 MiB").
const ChunkSize = 1 << 20

// RescueFunc supplies the heap with one more ChunkSize-byte chunk of raw
// memory, or nil if the page allocator is exhausted.
type RescueFunc func() []byte

// Heap is a power-of-two buddy heap over chunks obtained from a
// RescueFunc. It never returns memory to the rescue source: kernel
// allocations are assumed long-lived relative to the kernel's lifetime,
// matching biscuit's model where Physmem.Refpg_new chunks are never
// unmapped.
type Heap struct {
	mu       sync.Mutex
	rescue   RescueFunc
	free     [numOrders + 1][][]byte // free[order] = list of blocks of size minBlockSize<<order
	usable   bool                    // one-shot latch: first successful rescue flips this true
	onUsable func()
}

// New constructs a Heap drawing chunks from rescue. onUsable, if non-nil,
// is invoked exactly once, the first time a rescue succeeds, so debug-only
// diagnostics can tell when the heap has become usable (§4.2).
func New(rescue RescueFunc, onUsable func()) *Heap {
	return &Heap{rescue: rescue, onUsable: onUsable}
}

// Usable reports whether the heap has ever successfully rescued a chunk.
func (h *Heap) Usable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.usable
}

func orderFor(size int) int {
	blockSize := minBlockSize
	order := 0
	for blockSize < size {
		blockSize <<= 1
		order++
	}
	return order
}

// Alloc returns a block of at least size bytes, or panics if the
// underlying page allocator is exhausted — failure is fatal per §4.2.
// size must not exceed ChunkSize.
func (h *Heap) Alloc(size int) []byte {
	if size > ChunkSize {
		panic("kheap: allocation exceeds maximum individual object size")
	}
	if size <= 0 {
		size = 1
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	order := orderFor(size)
	blk := h.takeLocked(order)
	return blk[:size]
}

// takeLocked returns a free block of the given order, splitting a larger
// block or rescuing a new chunk as needed. Caller holds h.mu.
func (h *Heap) takeLocked(order int) []byte {
	o := order
	for o <= numOrders && len(h.free[o]) == 0 {
		o++
	}
	if o > numOrders {
		h.rescueLocked()
		o = order
		for o <= numOrders && len(h.free[o]) == 0 {
			o++
		}
		if o > numOrders {
			panic("kheap: out of memory")
		}
	}

	n := len(h.free[o])
	blk := h.free[o][n-1]
	h.free[o] = h.free[o][:n-1]

	for o > order {
		o--
		half := len(blk) / 2
		h.free[o] = append(h.free[o], blk[half:len(blk):len(blk)])
		blk = blk[:half:half]
	}
	return blk
}

// rescueLocked requests one more chunk and seeds it as a single top-order
// free block. Caller holds h.mu.
func (h *Heap) rescueLocked() {
	chunk := h.rescue()
	if chunk == nil {
		return
	}
	if len(chunk) != ChunkSize {
		panic("kheap: rescue callback returned a mis-sized chunk")
	}
	first := !h.usable
	h.usable = true
	h.free[numOrders] = append(h.free[numOrders], chunk)
	if first && h.onUsable != nil {
		h.onUsable()
	}
}

// Free returns a previously allocated block to the heap. The caller must
// pass the original slice returned by Alloc truncated back to its
// allocated capacity is not required: Free infers the block's order from
// its capacity, so callers must retain cap(blk) from the Alloc call (e.g.
// by never re-slicing beyond the original bounds).
func (h *Heap) Free(blk []byte, size int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	order := orderFor(size)
	full := blk[:cap(blk)][:1<<(4+order)]
	h.free[order] = append(h.free[order], full)
}

// DebugDump returns a short diagnostic string reporting free-list depth per
// order.
func (h *Heap) DebugDump() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := "kheap order free-counts: "
	for o := 0; o <= numOrders; o++ {
		if len(h.free[o]) > 0 {
			s += strconv.Itoa(o) + ":" + strconv.Itoa(len(h.free[o])) + " "
		}
	}
	return s
}
