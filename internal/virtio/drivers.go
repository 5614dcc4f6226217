package virtio

import (
	"encoding/binary"

	"github.com/biscuit-go/kernel/internal/blockdev"
	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/virtqueue"
)

// GuestMem is a flat, identity-mapped view of guest memory a Chunk's Addr
// indexes into directly — the same simplifying assumption
// iansmith-mazarin's virtqueue.go makes ("Since we're identity-mapped,
// virtual address = physical address"), adequate for these reference
// drivers since real DMA/IOMMU translation is out of scope (§1).
type GuestMem []byte

func (m GuestMem) slice(c virtqueue.Chunk) []byte {
	return m[c.Addr : c.Addr+uint64(c.Len)]
}

// NetDevice is a thin reference virtio-net driver (§4.12 "added"): it
// drains packets the guest driver queues for transmission into an internal
// loopback sink, then redelivers them into receive buffers the driver has
// posted — standing in for a real NIC/socket layer, which stays out of
// scope (§1).
type NetDevice struct {
	mem  GuestMem
	tx   *virtqueue.Queue
	rx   *virtqueue.Queue
	sink [][]byte
}

// NewNetDevice returns a loopback virtio-net reference driver operating on
// mem's transmit queue tx and receive queue rx.
func NewNetDevice(mem GuestMem, tx, rx *virtqueue.Queue) *NetDevice {
	return &NetDevice{mem: mem, tx: tx, rx: rx}
}

// PumpTx drains every packet queued for transmission, gathering each
// chain's buffers into one packet for the loopback sink and completing the
// chain on tx's used ring. Returns the number of packets processed.
func (n *NetDevice) PumpTx() int {
	sent := 0
	for {
		head, chain, ok := n.tx.ConsumeAvail()
		if !ok {
			return sent
		}
		var pkt []byte
		for _, c := range chain {
			pkt = append(pkt, n.mem.slice(c)...)
		}
		n.sink = append(n.sink, pkt)
		n.tx.PushUsed(head, uint32(len(pkt)))
		sent++
	}
}

// PumpRx delivers queued loopback packets into receive buffers the driver
// has posted, one packet per posted chain, until either is exhausted.
// Returns the number of packets delivered.
func (n *NetDevice) PumpRx() int {
	delivered := 0
	for len(n.sink) > 0 {
		head, chain, ok := n.rx.ConsumeAvail()
		if !ok {
			return delivered
		}
		pkt := n.sink[0]
		n.sink = n.sink[1:]

		var off int
		for _, c := range chain {
			if !c.WriteOnly {
				continue
			}
			buf := n.mem.slice(c)
			written := copy(buf, pkt[off:])
			off += written
		}
		n.rx.PushUsed(head, uint32(off))
		delivered++
	}
	return delivered
}

// virtio-blk request header types (virtio 1.2 §5.2.6).
const (
	blkTypeIn  uint32 = 0
	blkTypeOut uint32 = 1
)

// blkSectorSize is the virtio-blk protocol's fixed sector size; it need not
// equal the underlying block device's BlockSize (here BlockSize is 4096, so
// eight sectors make one block and a request's sector is divided down to an
// lba).
const blkSectorSize = 512

// BlkDevice is a thin reference virtio-blk driver (§4.12 "added") wired to
// a blockdev.Cache: each request is a three-descriptor chain (a
// type/sector header, a data buffer, and a one-byte status), the subset of
// the virtio-blk protocol this kernel core's opened-file table actually
// exercises through ReadBlock/WriteBlock.
type BlkDevice struct {
	mem   GuestMem
	q     *virtqueue.Queue
	cache *blockdev.Cache
}

// NewBlkDevice returns a reference virtio-blk driver operating on mem's
// single request queue q, backed by cache.
func NewBlkDevice(mem GuestMem, q *virtqueue.Queue, cache *blockdev.Cache) *BlkDevice {
	return &BlkDevice{mem: mem, q: q, cache: cache}
}

// Pump processes every queued request, reading or writing the addressed
// block through the cache and writing back a status byte. Returns the
// number of requests processed.
func (b *BlkDevice) Pump() int {
	processed := 0
	for {
		head, chain, ok := b.q.ConsumeAvail()
		if !ok {
			return processed
		}
		processed++

		if len(chain) != 3 {
			b.q.PushUsed(head, 0)
			continue
		}
		hdr := b.mem.slice(chain[0])
		data := b.mem.slice(chain[1])
		status := b.mem.slice(chain[2])

		reqType := binary.LittleEndian.Uint32(hdr[0:4])
		sector := binary.LittleEndian.Uint64(hdr[8:16])
		lba := sector * blkSectorSize / blockdev.BlockSize

		var err *kerr.Error
		switch reqType {
		case blkTypeIn:
			var buf []byte
			buf, err = b.cache.Get(lba)
			if err == nil {
				copy(data, buf)
			}
		case blkTypeOut:
			err = b.cache.Put(lba, data)
		default:
			err = kerr.Of(kerr.ENOTTY)
		}

		if err != nil {
			status[0] = 1
		} else {
			status[0] = 0
		}
		b.q.PushUsed(head, uint32(len(data)))
	}
}
