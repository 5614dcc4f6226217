// Command kernel boots a hosted instance of the kernel core against a
// boot-information blob and reports a short summary of what came up — the
// demo entry point for a module whose real callers are expected to embed
// internal/boot directly, the same role teacher_src/kernel/chentry.go
// plays for biscuit's own build (a small standalone CLI wrapper, not
// the kernel's actual assembly-language entry point).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/biscuit-go/kernel/internal/boot"
)

func main() {
	bootinfoPath := flag.String("bootinfo", "", "path to a boot-information blob (multiboot legacy/2 or Linux boot protocol)")
	flag.Parse()

	if *bootinfoPath == "" {
		fmt.Fprintln(os.Stderr, "usage: kernel -bootinfo <path>")
		os.Exit(1)
	}

	blob, err := os.ReadFile(*bootinfoPath)
	if err != nil {
		log.Fatalf("reading boot-information blob: %v", err)
	}

	k, err := boot.Boot(context.Background(), blob, os.Stdout)
	if err != nil {
		log.Fatalf("boot: %v", err)
	}

	total, free := k.Pages.Stats()
	fmt.Printf("kernel core up: init pid %d, %d/%d frames free, %d virtio-mmio device(s), pci=%v\n",
		k.Init.Thread.PID, free, total, len(k.VirtioMMIO), k.Info.PCIEnabled)
}
