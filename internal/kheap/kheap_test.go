package kheap

import "testing"

func chunkRescue(n *int) RescueFunc {
	return func() []byte {
		*n++
		return make([]byte, ChunkSize)
	}
}

func TestAllocServesFromRescuedChunk(t *testing.T) {
	var rescues int
	h := New(chunkRescue(&rescues), nil)
	blk := h.Alloc(100)
	if len(blk) != 100 {
		t.Fatalf("len = %d, want 100", len(blk))
	}
	if rescues != 1 {
		t.Fatalf("rescues = %d, want 1", rescues)
	}
}

func TestOnUsableFiresOnce(t *testing.T) {
	var rescues, fired int
	h := New(chunkRescue(&rescues), func() { fired++ })
	h.Alloc(16)
	h.Alloc(ChunkSize) // forces a second rescue
	if fired != 1 {
		t.Fatalf("onUsable fired %d times, want 1", fired)
	}
}

func TestUsableLatch(t *testing.T) {
	var rescues int
	h := New(chunkRescue(&rescues), nil)
	if h.Usable() {
		t.Fatal("expected not usable before first allocation")
	}
	h.Alloc(8)
	if !h.Usable() {
		t.Fatal("expected usable after first successful rescue")
	}
}

func TestAllocExceedsChunkSizePanics(t *testing.T) {
	var rescues int
	h := New(chunkRescue(&rescues), nil)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for oversized allocation")
		}
	}()
	h.Alloc(ChunkSize + 1)
}

func TestRescueExhaustionPanics(t *testing.T) {
	h := New(func() []byte { return nil }, nil)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when rescue cannot supply memory")
		}
	}()
	h.Alloc(16)
}

func TestFreeAndReallocSameOrder(t *testing.T) {
	var rescues int
	h := New(chunkRescue(&rescues), nil)
	blk := h.Alloc(32)
	h.Free(blk, 32)
	blk2 := h.Alloc(32)
	if len(blk2) != 32 {
		t.Fatalf("len = %d, want 32", len(blk2))
	}
	if rescues != 1 {
		t.Fatalf("expected the freed block to be reused without a second rescue, got %d rescues", rescues)
	}
}

func TestDebugDumpReportsFreeCounts(t *testing.T) {
	var rescues int
	h := New(chunkRescue(&rescues), nil)
	h.Alloc(16)
	s := h.DebugDump()
	if s == "" {
		t.Fatal("expected non-empty debug dump")
	}
}
