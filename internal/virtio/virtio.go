// Package virtio implements the transport-independent half of a virtio
// device driver (§4.12): the device-status/feature-negotiation state
// machine, a common Transport interface the three real transports (legacy
// PCI, modern PCI, MMIO) all satisfy, and a pair of thin reference drivers
// (virtio-net, virtio-blk) exercising internal/virtqueue end to end. Real
// PCI/MMIO register access is an external collaborator (§1 Out of scope);
// the two Transport implementations here are in-memory stand-ins that let
// Negotiate and the reference drivers be driven the same way a real
// transport would, grounded on iansmith-mazarin's mmio_write16/pci_qemu.go
// register-access style generalized away from real hardware addresses.
package virtio

import (
	"sync"

	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/virtqueue"
)

// VectorPool is a free-list allocator for MSI interrupt vectors a legacy
// PCI transport assigns at device-init time, adapted from
// teacher_src/msi/msi.go's Msi_alloc/Msi_free (generalized from a
// hardcoded 56..63 pool to a caller-supplied range, since this module has
// more than one virtio device competing for vectors).
type VectorPool struct {
	mu    sync.Mutex
	avail map[int]bool
}

// NewVectorPool returns a pool holding the n vectors [base, base+n).
func NewVectorPool(base, n int) *VectorPool {
	avail := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		avail[base+i] = true
	}
	return &VectorPool{avail: avail}
}

// Alloc removes and returns one available vector, panicking if the pool is
// exhausted — every legacy-PCI virtio device in this kernel is wired up at
// boot, so running out here is a configuration error, not something a
// caller can recover from mid-request.
func (p *VectorPool) Alloc() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for v := range p.avail {
		delete(p.avail, v)
		return v
	}
	panic("virtio: no more MSI vectors")
}

// Free returns vector to the pool, panicking on a double free.
func (p *VectorPool) Free(vector int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.avail[vector] {
		panic("virtio: double free of MSI vector")
	}
	p.avail[vector] = true
}

// Device status register bits (virtio 1.2 §2.1).
const (
	StatusAcknowledge      uint8 = 1
	StatusDriver           uint8 = 2
	StatusDriverOK         uint8 = 4
	StatusFeaturesOK       uint8 = 8
	StatusDeviceNeedsReset uint8 = 64
	StatusFailed           uint8 = 128
)

// Transport abstracts a virtio device's register-level control surface, so
// the queue code "does not know which transport it is using" (§4.12).
type Transport interface {
	DeviceFeatures() uint64
	SetDriverFeatures(uint64)
	Status() uint8
	SetStatus(uint8)
	SelectQueue(index uint16)
	QueueSize() uint16
	SetQueueEnable(enable bool)
	Notify(queueIndex uint16)
	ReadConfig8(offset int) uint8
	WriteConfig8(offset int, v uint8)
}

// Negotiate drives a Transport through the device initialisation sequence
// (§4.12): reset, ACK, DRIVER, feature exchange, FEAT_OK round-trip, then
// instantiate numQueues virtqueues, each sized as the device reports for
// that queue index, and raise DRIVER_OK. required is the subset of device features the driver cannot
// function without; any bit in required the device doesn't advertise fails
// negotiation before committing to it.
func Negotiate(t Transport, required uint64, numQueues int) ([]*virtqueue.Queue, *kerr.Error) {
	t.SetStatus(0)
	t.SetStatus(StatusAcknowledge)
	t.SetStatus(StatusAcknowledge | StatusDriver)

	devFeatures := t.DeviceFeatures()
	if required&^devFeatures != 0 {
		t.SetStatus(t.Status() | StatusFailed)
		return nil, kerr.Of(kerr.ENXIO)
	}
	t.SetDriverFeatures(required)

	t.SetStatus(t.Status() | StatusFeaturesOK)
	if t.Status()&StatusFeaturesOK == 0 {
		t.SetStatus(t.Status() | StatusFailed)
		return nil, kerr.Of(kerr.EIO)
	}

	queues := make([]*virtqueue.Queue, numQueues)
	for i := 0; i < numQueues; i++ {
		t.SelectQueue(uint16(i))
		queues[i] = virtqueue.New(t.QueueSize())
		t.SetQueueEnable(true)
	}

	t.SetStatus(t.Status() | StatusDriverOK)
	return queues, nil
}

// regBank holds the register state common to every transport's simulated
// device: feature bits, status, the selected queue, per-queue size/enable,
// a notify counter per queue, and device-config bytes. The two transports
// below differ only in the field names and access pattern a real driver
// would use to reach this state (I/O ports vs an MMIO window) — the state
// itself, and therefore Negotiate's behavior, is identical, matching
// §4.12's "the queue code does not know which transport it is using".
type regBank struct {
	mu sync.Mutex

	deviceFeatures uint64
	driverFeatures uint64
	status         uint8

	queueSizes  []uint16
	selected    uint16
	enabled     []bool
	notifyCount []int
	config      []byte
}

func newRegBank(deviceFeatures uint64, queueSizes []uint16, configSize int) *regBank {
	return &regBank{
		deviceFeatures: deviceFeatures,
		queueSizes:     queueSizes,
		enabled:        make([]bool, len(queueSizes)),
		notifyCount:    make([]int, len(queueSizes)),
		config:         make([]byte, configSize),
	}
}

func (r *regBank) deviceFeaturesGet() uint64 { r.mu.Lock(); defer r.mu.Unlock(); return r.deviceFeatures }
func (r *regBank) driverFeaturesSet(f uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.driverFeatures = f
}
func (r *regBank) statusGet() uint8     { r.mu.Lock(); defer r.mu.Unlock(); return r.status }
func (r *regBank) statusSet(s uint8)    { r.mu.Lock(); defer r.mu.Unlock(); r.status = s }
func (r *regBank) selectQueue(i uint16) { r.mu.Lock(); defer r.mu.Unlock(); r.selected = i }
func (r *regBank) queueSize() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(r.selected) >= len(r.queueSizes) {
		return 0
	}
	return r.queueSizes[r.selected]
}
func (r *regBank) setQueueEnable(enable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(r.selected) < len(r.enabled) {
		r.enabled[r.selected] = enable
	}
}
func (r *regBank) notify(queueIndex uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(queueIndex) < len(r.notifyCount) {
		r.notifyCount[queueIndex]++
	}
}
func (r *regBank) readConfig8(offset int) uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset < 0 || offset >= len(r.config) {
		return 0
	}
	return r.config[offset]
}
func (r *regBank) writeConfig8(offset int, v uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset >= 0 && offset < len(r.config) {
		r.config[offset] = v
	}
}

// LegacyPCITransport simulates the legacy virtio-pci register layout
// (VIRTIO_PCI_HOST_FEATURES/GUEST_FEATURES/QUEUE_SEL/QUEUE_NOTIFY/STATUS at
// fixed I/O-port offsets, device-specific config starting at offset 20),
// standing in for real port-I/O access (out of scope per §1). Unlike MMIO,
// a legacy PCI device needs an MSI vector assigned at attach time, drawn
// from a shared VectorPool.
type LegacyPCITransport struct {
	*regBank
	vectors *VectorPool
	vector  int
}

// NewLegacyPCITransport returns a Transport simulating a legacy-PCI virtio
// device advertising deviceFeatures, with one virtqueue per entry of
// queueSizes and configSize bytes of device-specific config space. vectors
// supplies the MSI vector this device is assigned for its lifetime.
func NewLegacyPCITransport(deviceFeatures uint64, queueSizes []uint16, configSize int, vectors *VectorPool) *LegacyPCITransport {
	return &LegacyPCITransport{
		regBank: newRegBank(deviceFeatures, queueSizes, configSize),
		vectors: vectors,
		vector:  vectors.Alloc(),
	}
}

// IRQVector returns the MSI vector this device was assigned.
func (t *LegacyPCITransport) IRQVector() int { return t.vector }

// Detach releases this device's MSI vector back to the pool.
func (t *LegacyPCITransport) Detach() { t.vectors.Free(t.vector) }

func (t *LegacyPCITransport) DeviceFeatures() uint64        { return t.deviceFeaturesGet() }
func (t *LegacyPCITransport) SetDriverFeatures(f uint64)    { t.driverFeaturesSet(f) }
func (t *LegacyPCITransport) Status() uint8                 { return t.statusGet() }
func (t *LegacyPCITransport) SetStatus(s uint8)             { t.statusSet(s) }
func (t *LegacyPCITransport) SelectQueue(index uint16)      { t.selectQueue(index) }
func (t *LegacyPCITransport) QueueSize() uint16             { return t.queueSize() }
func (t *LegacyPCITransport) SetQueueEnable(enable bool)    { t.setQueueEnable(enable) }
func (t *LegacyPCITransport) Notify(queueIndex uint16)      { t.notify(queueIndex) }
func (t *LegacyPCITransport) ReadConfig8(offset int) uint8  { return t.readConfig8(offset) }
func (t *LegacyPCITransport) WriteConfig8(offset int, v uint8) { t.writeConfig8(offset, v) }

// MMIOTransport simulates the virtio-mmio register window (a flat
// memory-mapped range read/written a word at a time, per
// iansmith-mazarin's mmio_write16 idiom), standing in for a real MMIO
// mapping (out of scope per §1; internal/bootinfo parses where such a
// window would be, but does not map it).
type MMIOTransport struct{ *regBank }

// NewMMIOTransport returns a Transport simulating an MMIO-style virtio
// device with the same parameters as NewLegacyPCITransport.
func NewMMIOTransport(deviceFeatures uint64, queueSizes []uint16, configSize int) *MMIOTransport {
	return &MMIOTransport{newRegBank(deviceFeatures, queueSizes, configSize)}
}

func (t *MMIOTransport) DeviceFeatures() uint64        { return t.deviceFeaturesGet() }
func (t *MMIOTransport) SetDriverFeatures(f uint64)    { t.driverFeaturesSet(f) }
func (t *MMIOTransport) Status() uint8                 { return t.statusGet() }
func (t *MMIOTransport) SetStatus(s uint8)             { t.statusSet(s) }
func (t *MMIOTransport) SelectQueue(index uint16)      { t.selectQueue(index) }
func (t *MMIOTransport) QueueSize() uint16             { return t.queueSize() }
func (t *MMIOTransport) SetQueueEnable(enable bool)    { t.setQueueEnable(enable) }
func (t *MMIOTransport) Notify(queueIndex uint16)      { t.notify(queueIndex) }
func (t *MMIOTransport) ReadConfig8(offset int) uint8  { return t.readConfig8(offset) }
func (t *MMIOTransport) WriteConfig8(offset int, v uint8) { t.writeConfig8(offset, v) }
