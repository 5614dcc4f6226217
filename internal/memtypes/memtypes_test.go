package memtypes

import "testing"

func TestDirectMapRoundtrip(t *testing.T) {
	p := PAddr(0x123456000)
	v := DirectMap(p)
	if got := DirectUnmap(v); got != p {
		t.Fatalf("got %x want %x", got, p)
	}
}

func TestUserVAddrRejectsNull(t *testing.T) {
	if _, ok := NewUserVAddr(0); ok {
		t.Fatal("expected null address to be rejected")
	}
}

func TestUserVAddrRejectsKernelHalf(t *testing.T) {
	if _, ok := NewUserVAddr(userHalfLimit); ok {
		t.Fatal("expected kernel-half address to be rejected")
	}
	if _, ok := NewUserVAddr(userHalfLimit - 1); !ok {
		t.Fatal("expected last user-half address to be accepted")
	}
}

func TestUserVAddrAddCrossingBoundary(t *testing.T) {
	u, ok := NewUserVAddr(userHalfLimit - 4)
	if !ok {
		t.Fatal("setup: expected valid address")
	}
	if _, ok := u.Add(8); ok {
		t.Fatal("expected Add to reject crossing into kernel half")
	}
}

func TestPageBaseAndOffset(t *testing.T) {
	u, ok := NewUserVAddr(0x1000 + 0x123)
	if !ok {
		t.Fatal("setup")
	}
	if u.PageOffset() != 0x123 {
		t.Fatalf("offset = %x", u.PageOffset())
	}
	if u.PageBase().Value() != 0x1000 {
		t.Fatalf("base = %x", u.PageBase().Value())
	}
}
