// Package virtqueue implements the descriptor-ring protocol shared by every
// virtio transport and device driver (§4.12): a descriptor table threaded
// into a free list through each descriptor's own next field, a driver-owned
// available ring, and a device-owned used ring. No biscuit fragment covers
// this — biscuit's own disk access goes through AHCI, not virtio — so the
// ring layout and the enqueue/notify/pop_used algorithm are grounded on
// iansmith-mazarin's virtqueue.go, adapted from raw unsafe.Pointer arithmetic
// over a DMA'd page to plain Go slices, the way this module already
// represents guest memory in internal/pagealloc and internal/vm rather than
// touching real physical addresses.
package virtqueue

import "sync"

// Desc is one descriptor-table entry: a buffer's guest-physical address,
// length, flags, and (when DescFNext is set) the index of the next
// descriptor in its chain. The same Next field threads the free list when a
// descriptor is unallocated.
type Desc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

// Descriptor flag bits (virtio 1.2 §2.7.5).
const (
	DescFNext     uint16 = 1 << 0
	DescFWrite    uint16 = 1 << 1
	DescFIndirect uint16 = 1 << 2
)

// Ring flag bits.
const (
	AvailFNoInterrupt uint16 = 1 << 0
	UsedFNoNotify     uint16 = 1 << 0
)

// endOfChain marks the tail of the free list and is never a valid
// descriptor index for a size-constrained (<=32768) queue.
const endOfChain = 0xffff

// Chunk is one buffer in a descriptor chain passed to Enqueue.
type Chunk struct {
	Addr      uint64
	Len       uint32
	WriteOnly bool // true iff the device may write into this buffer
}

// UsedElem is one used-ring entry: the head descriptor index of a completed
// chain and the number of bytes the device wrote into it.
type UsedElem struct {
	ID  uint32
	Len uint32
}

// Queue is one virtqueue: the descriptor table plus the free-list and
// cursor bookkeeping a driver needs to drive it (§4.12 State).
type Queue struct {
	mu sync.Mutex

	size uint16
	desc []Desc

	availFlags uint16
	availIdx   uint16
	availRing  []uint16

	usedFlags   uint16
	usedIdx     uint16
	usedRing    []UsedElem
	lastUsedIdx uint16

	freeHead       uint16
	numFree        uint16
	deviceAvailIdx uint16
}

// New allocates a queue of size descriptors. size must be a power of two
// (§4.12 "N = 2^k"); New panics otherwise, since an invalid queue size is a
// driver programming error, never a runtime condition to recover from.
func New(size uint16) *Queue {
	if size == 0 || size&(size-1) != 0 {
		panic("virtqueue: size must be a power of two")
	}
	q := &Queue{
		size:      size,
		desc:      make([]Desc, size),
		availRing: make([]uint16, size),
		usedRing:  make([]UsedElem, size),
		numFree:   size,
	}
	for i := uint16(0); i < size-1; i++ {
		q.desc[i].Next = i + 1
	}
	q.desc[size-1].Next = endOfChain
	return q
}

// Size returns the queue's descriptor-table size.
func (q *Queue) Size() uint16 { return q.size }

// NumFree returns the number of descriptors currently on the free list.
func (q *Queue) NumFree() uint16 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.numFree
}

// SetAvailFlags/SetUsedFlags install the driver's/device's suppression
// hints (AvailFNoInterrupt, UsedFNoNotify); the queue core itself never
// reads them back — they exist only to be round-tripped to a transport or a
// peer that does.
func (q *Queue) SetAvailFlags(f uint16) { q.mu.Lock(); q.availFlags = f; q.mu.Unlock() }
func (q *Queue) SetUsedFlags(f uint16)  { q.mu.Lock(); q.usedFlags = f; q.mu.Unlock() }

// Enqueue publishes chain to the available ring (§4.12 enqueue). If fewer
// than len(chain) descriptors are free, it first reclaims descriptors from
// used entries the driver hasn't popped yet; if that still isn't enough it
// panics — there is no way to make forward progress, and a real driver
// would have sized its queue to avoid this.
func (q *Queue) Enqueue(chain []Chunk) uint16 {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := uint16(len(chain))
	if n == 0 || n > q.size {
		panic("virtqueue: invalid chain length")
	}
	if q.numFree < n {
		q.reclaimUsedLocked()
	}
	if q.numFree < n {
		panic("virtqueue: out of descriptors")
	}

	indices := make([]uint16, n)
	cur := q.freeHead
	for i := range indices {
		indices[i] = cur
		cur = q.desc[cur].Next
	}
	q.freeHead = cur
	q.numFree -= n

	for i, c := range chain {
		flags := uint16(0)
		if c.WriteOnly {
			flags |= DescFWrite
		}
		next := uint16(endOfChain)
		if i != len(chain)-1 {
			flags |= DescFNext
			next = indices[i+1]
		}
		q.desc[indices[i]] = Desc{Addr: c.Addr, Len: c.Len, Flags: flags, Next: next}
	}

	head := indices[0]
	q.availRing[q.availIdx%q.size] = head
	q.availIdx++ // publish; a real device would need a fence here, there is none to model within a single address space
	return head
}

// reclaimUsedLocked drains used entries the driver has not yet popped,
// threading each one's descriptor chain back onto the free list without
// surfacing it through PopUsed — an emergency reclaim, not a substitute for
// the driver actually draining the used ring in its normal poll loop.
func (q *Queue) reclaimUsedLocked() {
	for q.lastUsedIdx != q.usedIdx {
		elem := q.usedRing[q.lastUsedIdx%q.size]
		q.freeChainLocked(uint16(elem.ID))
		q.lastUsedIdx++
	}
}

func (q *Queue) freeChainLocked(head uint16) {
	cur := head
	for {
		d := q.desc[cur]
		q.desc[cur].Next = q.freeHead
		q.freeHead = cur
		q.numFree++
		if d.Flags&DescFNext == 0 {
			return
		}
		cur = d.Next
	}
}

// ConsumeAvail is the device side's half of enqueue: it returns the next
// chain the driver has published on the available ring, by head descriptor
// index and buffer list, without touching the free list — the descriptors
// stay allocated to the driver until it later pops the matching used entry
// PushUsed produces.
func (q *Queue) ConsumeAvail() (head uint16, chain []Chunk, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deviceAvailIdx == q.availIdx {
		return 0, nil, false
	}
	head = q.availRing[q.deviceAvailIdx%q.size]
	q.deviceAvailIdx++

	cur := head
	for {
		d := q.desc[cur]
		chain = append(chain, Chunk{Addr: d.Addr, Len: d.Len, WriteOnly: d.Flags&DescFWrite != 0})
		if d.Flags&DescFNext == 0 {
			break
		}
		cur = d.Next
	}
	return head, chain, true
}

// PushUsed is the device side of the protocol: record that the chain headed
// by head has been processed, writing n bytes. Real hardware does this via
// DMA into the used ring from the device's own execution context; this
// module's reference virtio-net/virtio-blk drivers call it directly since
// there is no separate device address space to cross (§4.12's three
// transports abstract register access, not this completion path).
func (q *Queue) PushUsed(head uint16, n uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.usedRing[q.usedIdx%q.size] = UsedElem{ID: uint32(head), Len: n}
	q.usedIdx++
}

// PopUsed returns the next completed descriptor chain — its buffers and the
// byte count the device reported — threading the chain back onto the free
// list, or reports none pending (§4.12 pop_used).
func (q *Queue) PopUsed() ([]Chunk, uint32, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lastUsedIdx == q.usedIdx {
		return nil, 0, false
	}
	elem := q.usedRing[q.lastUsedIdx%q.size]
	q.lastUsedIdx++

	var chain []Chunk
	cur := uint16(elem.ID)
	for {
		d := q.desc[cur]
		chain = append(chain, Chunk{Addr: d.Addr, Len: d.Len, WriteOnly: d.Flags&DescFWrite != 0})
		hasNext := d.Flags&DescFNext != 0
		next := d.Next
		q.desc[cur].Next = q.freeHead
		q.freeHead = cur
		q.numFree++
		if !hasNext {
			break
		}
		cur = next
	}
	return chain, elem.Len, true
}
