package blockdev

import "testing"

func fillBlock(b byte) []byte {
	buf := make([]byte, BlockSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestMemDeviceReadWriteRoundtrip(t *testing.T) {
	d := NewMemDevice(4)
	if err := d.WriteBlock(2, fillBlock(0xAB)); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	buf := make([]byte, BlockSize)
	if err := d.ReadBlock(2, buf); err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if buf[0] != 0xAB || buf[BlockSize-1] != 0xAB {
		t.Fatalf("readback mismatch")
	}
}

func TestMemDeviceOutOfRangeReturnsEINVAL(t *testing.T) {
	d := NewMemDevice(1)
	if err := d.ReadBlock(5, make([]byte, BlockSize)); err == nil {
		t.Fatalf("expected error for out-of-range lba")
	}
}

func TestCacheHitAvoidsDeviceRead(t *testing.T) {
	d := NewMemDevice(4)
	d.WriteBlock(0, fillBlock(1))
	c := NewCache(d, 2)

	if _, err := c.Get(0); err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Mutate the device directly; a cache hit must not observe this.
	d.WriteBlock(0, fillBlock(2))
	buf, err := c.Get(0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if buf[0] != 1 {
		t.Fatalf("cache hit observed stale device write: got %d want 1", buf[0])
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	d := NewMemDevice(4)
	c := NewCache(d, 2)

	c.Get(0)
	c.Get(1)
	c.Get(0) // touch 0, making 1 the LRU victim
	c.Get(2) // evicts 1

	if len(c.byLBA) != 2 {
		t.Fatalf("cache size = %d, want 2", len(c.byLBA))
	}
	if _, ok := c.byLBA[1]; ok {
		t.Fatalf("expected block 1 to have been evicted")
	}
	if _, ok := c.byLBA[0]; !ok {
		t.Fatalf("expected block 0 (recently touched) to remain cached")
	}
}

func TestCachePutMarksDirtyAndFlushWritesThrough(t *testing.T) {
	d := NewMemDevice(4)
	c := NewCache(d, 4)

	if err := c.Put(3, fillBlock(7)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	devBuf := make([]byte, BlockSize)
	d.ReadBlock(3, devBuf)
	if devBuf[0] != 0 {
		t.Fatalf("Put should not write through before Flush")
	}

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	d.ReadBlock(3, devBuf)
	if devBuf[0] != 7 {
		t.Fatalf("Flush did not write through: got %d want 7", devBuf[0])
	}
}

func TestCacheEvictionFlushesDirtyBlockFirst(t *testing.T) {
	d := NewMemDevice(4)
	c := NewCache(d, 1)

	c.Put(0, fillBlock(9))
	c.Get(1) // forces eviction of block 0, which is dirty

	devBuf := make([]byte, BlockSize)
	d.ReadBlock(0, devBuf)
	if devBuf[0] != 9 {
		t.Fatalf("eviction should flush dirty block before dropping it: got %d want 9", devBuf[0])
	}
}
