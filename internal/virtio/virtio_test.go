package virtio

import (
	"encoding/binary"
	"testing"

	"github.com/biscuit-go/kernel/internal/blockdev"
	"github.com/biscuit-go/kernel/internal/virtqueue"
)

func TestNegotiateRejectsMissingRequiredFeature(t *testing.T) {
	tr := NewLegacyPCITransport(0x1, []uint16{8}, 0, NewVectorPool(56, 8))
	if _, err := Negotiate(tr, 0x2, 1); err == nil {
		t.Fatalf("expected negotiation failure for unsupported feature bit")
	}
	if tr.Status()&StatusFailed == 0 {
		t.Fatalf("status should carry FAILED after rejected negotiation")
	}
}

func TestNegotiateSucceedsAndInstantiatesQueues(t *testing.T) {
	tr := NewMMIOTransport(0x3, []uint16{4, 8}, 16)
	queues, err := Negotiate(tr, 0x1, 2)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if len(queues) != 2 || queues[0].Size() != 4 || queues[1].Size() != 8 {
		t.Fatalf("queues = %+v", queues)
	}
	if tr.Status()&StatusDriverOK == 0 {
		t.Fatalf("expected DRIVER_OK set after successful negotiation")
	}
}

func TestConfigByteAccessRoundtrips(t *testing.T) {
	tr := NewLegacyPCITransport(0, nil, 4, NewVectorPool(56, 8))
	tr.WriteConfig8(2, 0x42)
	if got := tr.ReadConfig8(2); got != 0x42 {
		t.Fatalf("ReadConfig8 = %#x, want 0x42", got)
	}
}

func TestVectorPoolAllocFreeAndDoubleFreePanics(t *testing.T) {
	p := NewVectorPool(56, 2)
	v1 := p.Alloc()
	v2 := p.Alloc()
	if v1 == v2 {
		t.Fatalf("expected distinct vectors")
	}
	p.Free(v1)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on double free")
		}
	}()
	p.Free(v1)
}

func TestLegacyPCITransportAssignsAndReleasesVector(t *testing.T) {
	pool := NewVectorPool(56, 1)
	tr := NewLegacyPCITransport(0, nil, 0, pool)
	if tr.IRQVector() != 56 {
		t.Fatalf("IRQVector = %d, want 56", tr.IRQVector())
	}
	tr.Detach()
	// the vector should be reusable now
	tr2 := NewLegacyPCITransport(0, nil, 0, pool)
	if tr2.IRQVector() != 56 {
		t.Fatalf("IRQVector after detach/reattach = %d, want 56", tr2.IRQVector())
	}
}

func TestNetDeviceLoopsPacketFromTxToRx(t *testing.T) {
	mem := make(GuestMem, 0x10000)
	payload := []byte("hello")
	copy(mem[0x1000:], payload)

	tx := virtqueue.New(4)
	rx := virtqueue.New(4)
	dev := NewNetDevice(mem, tx, rx)

	tx.Enqueue([]virtqueue.Chunk{{Addr: 0x1000, Len: uint32(len(payload))}})
	if n := dev.PumpTx(); n != 1 {
		t.Fatalf("PumpTx = %d, want 1", n)
	}

	rx.Enqueue([]virtqueue.Chunk{{Addr: 0x2000, Len: 64, WriteOnly: true}})
	if n := dev.PumpRx(); n != 1 {
		t.Fatalf("PumpRx = %d, want 1", n)
	}

	if string(mem[0x2000:0x2000+len(payload)]) != "hello" {
		t.Fatalf("received payload = %q, want %q", mem[0x2000:0x2000+len(payload)], payload)
	}

	if _, _, ok := tx.PopUsed(); !ok {
		t.Fatalf("expected tx completion to be poppable")
	}
	if _, _, ok := rx.PopUsed(); !ok {
		t.Fatalf("expected rx completion to be poppable")
	}
}

func TestBlkDeviceWriteThenReadRoundtrip(t *testing.T) {
	mem := make(GuestMem, 0x10000)
	dev := blockdev.NewMemDevice(4)
	cache := blockdev.NewCache(dev, 2)

	q := virtqueue.New(4)
	blk := NewBlkDevice(mem, q, cache)

	// Write request: header at 0x0, 512-byte-sector-aligned data at
	// 0x1000, 1-byte status at 0x2000.
	hdr := mem[0x0:16]
	binary.LittleEndian.PutUint32(hdr[0:4], blkTypeOut)
	binary.LittleEndian.PutUint64(hdr[8:16], 8) // sector 8 -> lba 1 (512*8/4096)

	payload := make([]byte, blockdev.BlockSize)
	for i := range payload {
		payload[i] = 0xCD
	}
	copy(mem[0x1000:], payload)

	q.Enqueue([]virtqueue.Chunk{
		{Addr: 0x0, Len: 16},
		{Addr: 0x1000, Len: blockdev.BlockSize},
		{Addr: 0x2000, Len: 1, WriteOnly: true},
	})
	if n := blk.Pump(); n != 1 {
		t.Fatalf("Pump (write) = %d, want 1", n)
	}
	if _, _, ok := q.PopUsed(); !ok {
		t.Fatalf("expected write completion")
	}
	if mem[0x2000] != 0 {
		t.Fatalf("write status = %d, want 0", mem[0x2000])
	}

	if err := cache.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Read request, reusing the header/status addresses with a fresh data
	// buffer to confirm the payload round-trips through the device.
	binary.LittleEndian.PutUint32(hdr[0:4], blkTypeIn)
	for i := range mem[0x1000 : 0x1000+blockdev.BlockSize] {
		mem[0x1000+i] = 0
	}

	q.Enqueue([]virtqueue.Chunk{
		{Addr: 0x0, Len: 16},
		{Addr: 0x1000, Len: blockdev.BlockSize, WriteOnly: true},
		{Addr: 0x2000, Len: 1, WriteOnly: true},
	})
	if n := blk.Pump(); n != 1 {
		t.Fatalf("Pump (read) = %d, want 1", n)
	}
	if _, _, ok := q.PopUsed(); !ok {
		t.Fatalf("expected read completion")
	}
	if mem[0x1000] != 0xCD {
		t.Fatalf("readback = %#x, want 0xCD", mem[0x1000])
	}
}
