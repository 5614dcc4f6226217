// Package bootinfo parses a boot-time information blob (multiboot-legacy,
// multiboot-2, or the Linux boot protocol) into RAM zones suitable for
// pagealloc.AddZone, a kernel command line, and the virtio-mmio device
// list a command-line override can describe. It is deliberately a parser
// over byte buffers, not a real bootloader handoff — real boot-time
// register/memory-map access stays an external collaborator (§1). The
// Mkdev/Unmkdev helpers borrow the shape of teacher_src/defs/device.go's
// functions of the same name (major/minor packed into one integer); each
// parsed virtio-mmio entry is the base/size/irq triple a
// virtio_mmio.device= argument carries, with no device number attached.
package bootinfo

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/memtypes"
)

// Recognized boot-information magic numbers.
const (
	MagicMultibootLegacy uint32 = 0x2badb002
	MagicMultiboot2      uint32 = 0x36d76289
	MagicLinuxBootProto  uint32 = 0xb002b002
)

// RAMArea is one usable physical memory range reported by the bootloader.
type RAMArea struct {
	Base   memtypes.PAddr
	Length uint64
}

// VirtioMMIODevice is one virtio-mmio window the command line describes,
// via virtio_mmio.device=<size>@0x<base>:<irq>.
type VirtioMMIODevice struct {
	Size uint64
	Base uint64
	IRQ  int
}

// BootInfo is the normalized result of parsing a boot-information blob: the
// RAM areas pagealloc.AddZone should be fed, the raw kernel command line,
// and any virtio-mmio devices it named.
type BootInfo struct {
	RAMAreas          []RAMArea
	Cmdline           string
	VirtioMMIODevices []VirtioMMIODevice
	PCIEnabled        bool
}

// Parse dispatches on blob's leading magic number to the matching decoder.
// An unrecognized magic returns ENXIO — there is no bootloader format this
// kernel core can make sense of.
func Parse(blob []byte) (*BootInfo, *kerr.Error) {
	if len(blob) < 4 {
		return nil, kerr.Of(kerr.EINVAL)
	}
	magic := binary.LittleEndian.Uint32(blob[0:4])
	switch magic {
	case MagicMultibootLegacy:
		return parseMultibootLegacy(blob[4:])
	case MagicMultiboot2:
		return parseMultiboot2(blob[4:])
	case MagicLinuxBootProto:
		return parseLinuxBootProto(blob[4:])
	default:
		return nil, kerr.Of(kerr.ENXIO)
	}
}

// parseMultibootLegacy reads a flat sequence of (base uint64, length
// uint64) RAM area pairs terminated by a zero-length entry, followed by a
// NUL-terminated command line — a deliberately simplified stand-in for
// real multiboot-1's tagged mmap_addr/mmap_length info header, adequate
// for feeding pagealloc.AddZone and exercising cmdline parsing without
// modeling the bootloader's own in-memory struct layout.
func parseMultibootLegacy(body []byte) (*BootInfo, *kerr.Error) {
	areas, rest, err := readRAMAreas(body)
	if err != nil {
		return nil, err
	}
	bi := &BootInfo{RAMAreas: areas}
	applyCmdline(bi, readCString(rest))
	return bi, nil
}

// parseMultiboot2 uses the same RAM-area-list-then-cmdline layout as
// parseMultibootLegacy; multiboot2's real tag stream is out of scope, but
// the magic number is distinguished so a caller can tell which bootloader
// handed control over.
func parseMultiboot2(body []byte) (*BootInfo, *kerr.Error) {
	return parseMultibootLegacy(body)
}

// parseLinuxBootProto mirrors the same simplified layout for a kernel
// booted via the Linux/x86 boot protocol (e.g. under a minimal EFI stub),
// again a byte-buffer stand-in rather than a real zero-page/E820 parse.
func parseLinuxBootProto(body []byte) (*BootInfo, *kerr.Error) {
	return parseMultibootLegacy(body)
}

func readRAMAreas(body []byte) ([]RAMArea, []byte, *kerr.Error) {
	var areas []RAMArea
	off := 0
	for {
		if off+16 > len(body) {
			return nil, nil, kerr.Of(kerr.EINVAL)
		}
		base := binary.LittleEndian.Uint64(body[off : off+8])
		length := binary.LittleEndian.Uint64(body[off+8 : off+16])
		off += 16
		if length == 0 {
			break
		}
		areas = append(areas, RAMArea{Base: memtypes.PAddr(base), Length: length})
	}
	return areas, body[off:], nil
}

func readCString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// applyCmdline records raw and tokenizes it for the flags this kernel
// core recognizes: pci=off disables PCI enumeration (§4.12's legacy/modern
// PCI transports go unused), and one or more
// virtio_mmio.device=<size>@0x<base>:<irq> arguments each describe one
// MMIO transport window to attach at boot.
func applyCmdline(bi *BootInfo, raw string) {
	bi.Cmdline = raw
	bi.PCIEnabled = true
	for _, tok := range strings.Fields(raw) {
		switch {
		case tok == "pci=off":
			bi.PCIEnabled = false
		case strings.HasPrefix(tok, "virtio_mmio.device="):
			if dev, ok := parseVirtioMMIOArg(strings.TrimPrefix(tok, "virtio_mmio.device=")); ok {
				bi.VirtioMMIODevices = append(bi.VirtioMMIODevices, dev)
			}
		}
	}
}

// parseVirtioMMIOArg parses one <size>@0x<base>:<irq> argument, the same
// shape Linux's own virtio_mmio.device= command-line option takes.
func parseVirtioMMIOArg(s string) (VirtioMMIODevice, bool) {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return VirtioMMIODevice{}, false
	}
	sizeStr, rest := s[:at], s[at+1:]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return VirtioMMIODevice{}, false
	}
	baseStr, irqStr := rest[:colon], rest[colon+1:]

	size, err := strconv.ParseUint(sizeStr, 0, 64)
	if err != nil {
		return VirtioMMIODevice{}, false
	}
	base, err := strconv.ParseUint(strings.TrimPrefix(baseStr, "0x"), 16, 64)
	if err != nil {
		return VirtioMMIODevice{}, false
	}
	irq, err := strconv.Atoi(irqStr)
	if err != nil {
		return VirtioMMIODevice{}, false
	}
	return VirtioMMIODevice{Size: size, Base: base, IRQ: irq}, true
}

// Mkdev packs a major/minor pair the way teacher_src/defs/device.go's
// Mkdev does. Parse does not call it: a parsed VirtioMMIODevice carries no
// device identifier of its own.
func Mkdev(maj, min int) uint64 {
	return uint64(maj)<<40 | uint64(min)<<32
}

// Unmkdev is Mkdev's inverse for minor numbers 0..255; it keeps only the
// low 8 bits of the minor field.
func Unmkdev(d uint64) (maj, min int) {
	return int(d >> 40), int(uint8(d >> 32))
}
