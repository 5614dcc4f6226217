package pagealloc

import (
	"testing"

	"github.com/biscuit-go/kernel/internal/config"
	"github.com/biscuit-go/kernel/internal/kerr"
)

func newTestAllocator(nframes int) *Allocator {
	a := New()
	a.AddZone(0x10000, nframes)
	return a
}

func TestAllocFreeRoundtrip(t *testing.T) {
	a := newTestAllocator(16)
	p, err := a.AllocPages(0, Kernel)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	if a.Refcnt(p) != 1 {
		t.Fatalf("refcnt = %d, want 1", a.Refcnt(p))
	}
	a.FreePages(p, 0)
}

func TestAllocZeroed(t *testing.T) {
	a := newTestAllocator(4)
	p, err := a.AllocPages(0, Zeroed)
	if err != nil {
		t.Fatalf("alloc failed: %v", err)
	}
	b := a.Bytes(p, config.PageSize)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %d, want 0", i, v)
		}
	}
}

func TestAllocExhaustion(t *testing.T) {
	a := newTestAllocator(2)
	if _, err := a.AllocPages(0, Kernel); err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	if _, err := a.AllocPages(0, Kernel); err != nil {
		t.Fatalf("second alloc: %v", err)
	}
	_, err := a.AllocPages(0, Kernel)
	if err == nil || err.Errno != kerr.ENOMEM {
		t.Fatalf("expected ENOMEM, got %v", err)
	}
}

func TestOOMChannelRetryAfterReclaim(t *testing.T) {
	a := newTestAllocator(1)
	first, err := a.AllocPages(0, Kernel)
	if err != nil {
		t.Fatalf("first alloc: %v", err)
	}

	oom := make(chan OOMRequest, 1)
	a.SetOOMChannel(oom)

	done := make(chan struct{})
	go func() {
		req := <-oom
		a.FreePages(first, 0)
		req.Resume <- true
		close(done)
	}()

	if _, err := a.AllocPages(0, Kernel); err != nil {
		t.Fatalf("alloc after reclaim: %v", err)
	}
	<-done
}

func TestOOMChannelNoListenerFailsImmediately(t *testing.T) {
	a := newTestAllocator(1)
	if _, err := a.AllocPages(0, Kernel); err != nil {
		t.Fatalf("first alloc: %v", err)
	}
	a.SetOOMChannel(make(chan OOMRequest)) // unbuffered, nobody reading

	_, err := a.AllocPages(0, Kernel)
	if err == nil || err.Errno != kerr.ENOMEM {
		t.Fatalf("expected ENOMEM, got %v", err)
	}
}

func TestBuddySplitAndMerge(t *testing.T) {
	a := newTestAllocator(4)
	p0, err := a.AllocPages(0, Kernel)
	if err != nil {
		t.Fatalf("alloc p0: %v", err)
	}
	p1, err := a.AllocPages(0, Kernel)
	if err != nil {
		t.Fatalf("alloc p1: %v", err)
	}
	a.FreePages(p0, 0)
	a.FreePages(p1, 0)

	// After freeing both order-0 halves of a buddy pair, a single
	// order-2 (4-frame) allocation should succeed again.
	if _, err := a.AllocPages(2, Kernel); err != nil {
		t.Fatalf("order-2 alloc after merge: %v", err)
	}
}

func TestFallsBackToNextZone(t *testing.T) {
	a := New()
	a.AddZone(0x10000, 1)
	a.AddZone(0x20000, 4)

	if _, err := a.AllocPages(0, Kernel); err != nil {
		t.Fatalf("exhaust first zone: %v", err)
	}
	p, err := a.AllocPages(0, Kernel)
	if err != nil {
		t.Fatalf("expected fallback to second zone: %v", err)
	}
	if p < 0x20000 {
		t.Fatalf("allocation %x did not come from the second zone", p)
	}
}

func TestRefupKeepsFrameAlive(t *testing.T) {
	a := newTestAllocator(4)
	p, err := a.AllocPages(0, Kernel)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	a.Refup(p)
	if freed := a.Refdown(p); freed {
		t.Fatal("frame freed while still referenced")
	}
	if freed := a.Refdown(p); !freed {
		t.Fatal("frame not freed on final refdown")
	}
}

func TestDoubleFreePanics(t *testing.T) {
	a := newTestAllocator(4)
	p, err := a.AllocPages(0, Kernel)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	a.FreePages(p, 0)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	a.FreePages(p, 0)
}

func TestOwnedPagesDoubleFreePanics(t *testing.T) {
	a := newTestAllocator(4)
	op, err := a.AllocPagesOwned(0, Kernel)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	op.Free()
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	op.Free()
}

func TestOrderFor(t *testing.T) {
	cases := []struct{ n, want int }{
		{1, 0}, {2, 1}, {3, 2}, {4, 2}, {5, 3},
	}
	for _, c := range cases {
		if got := OrderFor(c.n); got != c.want {
			t.Errorf("OrderFor(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}
