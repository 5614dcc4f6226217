// Package memtypes defines the kernel's three address-space wrappers:
// physical addresses, kernel-virtual addresses, and non-null user-virtual
// addresses, adapted from teacher_src/mem/mem.go and teacher_src/mem/dmap.go.
package memtypes

import (
	"github.com/biscuit-go/kernel/internal/config"
)

// PAddr is an opaque physical address.
type PAddr uintptr

// Add returns p+n.
func (p PAddr) Add(n uintptr) PAddr { return p + PAddr(n) }

// PageOffset returns the offset of p within its containing page.
func (p PAddr) PageOffset() uintptr { return uintptr(p) & (config.PageSize - 1) }

// PageBase returns p rounded down to its containing page's base address.
func (p PAddr) PageBase() PAddr { return p &^ PAddr(config.PageSize-1) }

// KVAddr is an opaque kernel-virtual address: a physical address plus the
// fixed straight-map offset (§3 "Straight map").
type KVAddr uintptr

// directMapBase is the simulated base of the straight-mapped window. In a
// real x86-64 build this is a fixed high-half virtual address; in this
// hosted simulation it is simply a distinguishing additive constant so that
// PAddr<->KVAddr conversion round-trips are exercised by tests without
// colliding with ordinary Go heap addresses (which this module never
// dereferences as hardware addresses in the first place).
const directMapBase KVAddr = 1 << 46

// DirectMap converts a physical address into its kernel-virtual alias via
// the straight map. Conversion is constant-time, as required by §3.
func DirectMap(p PAddr) KVAddr {
	return directMapBase + KVAddr(p)
}

// DirectUnmap inverts DirectMap, panicking if v does not lie in the
// straight-mapped window (mirrors teacher_src/mem/mem.go's Dmap_v2p bounds
// check).
func DirectUnmap(v KVAddr) PAddr {
	if v < directMapBase {
		t := "address is not in the direct map"
		panic(t)
	}
	return PAddr(v - directMapBase)
}

// userHalfLimit is the highest address a UserVAddr may hold: everything at
// or above this boundary belongs to the kernel half of the address space
// (§3), and UserVAddr is constructed so it can never represent such an
// address.
const userHalfLimit = uintptr(1) << 47

// UserVAddr is a non-null user-virtual address. By construction it never
// points into the kernel half; every kernel/user memory access goes through
// one (§3, §4.11).
type UserVAddr struct {
	addr uintptr
}

// NewUserVAddr validates addr and returns a UserVAddr, or ok=false if addr
// is null or falls in the kernel half.
func NewUserVAddr(addr uintptr) (UserVAddr, bool) {
	if addr == 0 || addr >= userHalfLimit {
		return UserVAddr{}, false
	}
	return UserVAddr{addr: addr}, true
}

// Value returns the raw address.
func (u UserVAddr) Value() uintptr { return u.addr }

// Add returns a UserVAddr n bytes past u, or ok=false if that would cross
// into the kernel half.
func (u UserVAddr) Add(n uintptr) (UserVAddr, bool) {
	return NewUserVAddr(u.addr + n)
}

// PageOffset returns the offset of u within its containing page.
func (u UserVAddr) PageOffset() uintptr { return u.addr & (config.PageSize - 1) }

// PageBase returns u rounded down to its containing page's base address;
// the result is always itself a valid UserVAddr since rounding down cannot
// cross into the kernel half from a valid address.
func (u UserVAddr) PageBase() UserVAddr {
	return UserVAddr{addr: u.addr &^ uintptr(config.PageSize-1)}
}
