// Package boot orchestrates kernel-core startup: parsing the boot-time
// information blob, bringing up the page allocator, scheduler, process
// table and root filesystem, and attaching whatever virtio-mmio devices
// the command line named. Biscuit's own entry point (teacher_src/main.go,
// not retrieved intact) brings these up sequentially on a single boot
// goroutine; this module instead fans the pieces that don't depend on the
// parsed boot info out across goroutines with golang.org/x/sync/errgroup,
// the idiomatic generalization of that sequential boot path once there is
// more than one independent subsystem to bring up (mirrored on
// SeleniaProject-Orizon's own errgroup.WithContext boot/build fan-out).
package boot

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/biscuit-go/kernel/internal/bootinfo"
	"github.com/biscuit-go/kernel/internal/budget"
	"github.com/biscuit-go/kernel/internal/config"
	"github.com/biscuit-go/kernel/internal/klog"
	"github.com/biscuit-go/kernel/internal/memfs"
	"github.com/biscuit-go/kernel/internal/pagealloc"
	"github.com/biscuit-go/kernel/internal/proc"
	"github.com/biscuit-go/kernel/internal/profile"
	"github.com/biscuit-go/kernel/internal/sched"
	"github.com/biscuit-go/kernel/internal/vfs"
	"github.com/biscuit-go/kernel/internal/virtio"
	"github.com/biscuit-go/kernel/internal/virtqueue"
)

// NCPU is the value Boot passes to sched.New, which takes it as the
// preemption interval: the scheduler switches every NCPU timer ticks. The
// scheduler keeps a single runqueue; the teacher's per-CPU runqueue array
// has no analogue in this single-processor simulation.
const NCPU = 4

// defaultQueueSize is the virtqueue size negotiated for every virtio-mmio
// device boot attaches, absent any finer-grained per-device sizing in the
// command line (§4.12).
const defaultQueueSize = 256

// Kernel is the fully-initialized set of subsystems Boot produces, ready
// for cmd/kernel (or a test) to drive directly.
type Kernel struct {
	Info    *bootinfo.BootInfo
	Pages   *pagealloc.Allocator
	Sched   *sched.Scheduler
	Procs   *proc.Table
	Root    vfs.Directory
	Log     *klog.Log
	Profile *profile.Collector
	Init    *proc.Process
	Budget  *budget.Governor

	VirtioMMIO  []*virtio.MMIOTransport
	VirtioQueue [][]*virtqueue.Queue
}

// Boot parses blob and brings every kernel-core subsystem up. The log
// ring, the scheduler/process table, and the root filesystem don't depend
// on anything the blob carries, so they're built concurrently with
// parsing it; anything that does depend on the parsed BootInfo (RAM
// zones, virtio-mmio transports, the init process seeded with the root
// directory) is wired in afterward, once the fan-out barrier clears.
func Boot(ctx context.Context, blob []byte, console io.Writer) (*Kernel, error) {
	k := &Kernel{}

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		k.Log = klog.New()
		if console != nil {
			k.Log.SetConsole(console)
		}
		k.Log.Printf("klog: ring ready (%d bytes)\n", config.KlogSize)
		return nil
	})
	g.Go(func() error {
		k.Sched = sched.New(NCPU)
		k.Sched.SetIdle(&sched.Thread{PID: 0})
		k.Budget = budget.NewGovernor()
		k.Sched.Governor = k.Budget
		k.Procs = proc.NewTable(k.Sched)
		return nil
	})
	g.Go(func() error {
		k.Root = memfs.New().RootDir()
		return nil
	})

	var info *bootinfo.BootInfo
	g.Go(func() error {
		parsed, err := bootinfo.Parse(blob)
		if err != nil {
			return err
		}
		info = parsed
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	k.Info = info

	k.Pages = pagealloc.New()
	for _, area := range info.RAMAreas {
		nframes := int(area.Length / config.PageSize)
		if nframes > 0 {
			k.Pages.AddZone(area.Base, nframes)
		}
	}

	k.Init = k.Procs.CreateInit(nil, k.Root)
	k.Profile = profile.New(k.Pages, k.Procs)

	if !info.PCIEnabled {
		for _, dev := range info.VirtioMMIODevices {
			t := virtio.NewMMIOTransport(0, []uint16{defaultQueueSize}, int(dev.Size))
			queues, qerr := virtio.Negotiate(t, 0, 1)
			if qerr != nil {
				k.Log.Printf("boot: virtio-mmio device at 0x%x failed to negotiate: %v\n", dev.Base, qerr)
				continue
			}
			k.VirtioMMIO = append(k.VirtioMMIO, t)
			k.VirtioQueue = append(k.VirtioQueue, queues)
		}
	}

	k.Log.Printf("boot: %d RAM area(s), %d virtio-mmio device(s), pci=%v\n",
		len(info.RAMAreas), len(k.VirtioMMIO), info.PCIEnabled)

	return k, nil
}
