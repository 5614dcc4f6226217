package boot

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/biscuit-go/kernel/internal/bootinfo"
)

func buildBlob(t *testing.T, magic uint32, base, length uint64, cmdline string) []byte {
	t.Helper()
	var buf []byte
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, magic)
	buf = append(buf, hdr...)

	entry := make([]byte, 16)
	binary.LittleEndian.PutUint64(entry[0:8], base)
	binary.LittleEndian.PutUint64(entry[8:16], length)
	buf = append(buf, entry...)
	buf = append(buf, make([]byte, 16)...) // terminator

	buf = append(buf, []byte(cmdline)...)
	buf = append(buf, 0)
	return buf
}

func TestBootBringsUpAllSubsystems(t *testing.T) {
	blob := buildBlob(t, bootinfo.MagicMultibootLegacy, 0, 4*4096, "root=/dev/sda1")
	var console bytes.Buffer

	k, err := Boot(context.Background(), blob, &console)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if k.Pages == nil || k.Sched == nil || k.Procs == nil || k.Root == nil || k.Log == nil || k.Profile == nil {
		t.Fatalf("Boot left a subsystem nil: %+v", k)
	}
	if k.Init == nil {
		t.Fatalf("Boot did not create an init process")
	}
	total, _ := k.Pages.Stats()
	if total != 4 {
		t.Fatalf("total frames = %d, want 4", total)
	}
	if console.Len() == 0 {
		t.Fatalf("expected boot progress mirrored to the console")
	}
}

func TestBootAttachesVirtioMMIODevicesWhenPCIDisabled(t *testing.T) {
	blob := buildBlob(t, bootinfo.MagicLinuxBootProto, 0, 4096,
		"pci=off virtio_mmio.device=0x200@0x10000000:5")

	k, err := Boot(context.Background(), blob, nil)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if k.Info.PCIEnabled {
		t.Fatalf("expected PCI disabled")
	}
	if len(k.VirtioMMIO) != 1 {
		t.Fatalf("VirtioMMIO = %d devices, want 1", len(k.VirtioMMIO))
	}
	if len(k.VirtioQueue) != 1 || len(k.VirtioQueue[0]) != 1 {
		t.Fatalf("VirtioQueue = %+v, want one device with one queue", k.VirtioQueue)
	}
}

func TestBootRejectsUnrecognizedMagic(t *testing.T) {
	blob := buildBlob(t, 0xdeadbeef, 0, 4096, "")
	if _, err := Boot(context.Background(), blob, nil); err == nil {
		t.Fatalf("expected Boot to fail on an unrecognized boot-info magic")
	}
}
