package signal

import (
	"testing"

	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/pagealloc"
	"github.com/biscuit-go/kernel/internal/userio"
	"github.com/biscuit-go/kernel/internal/vm"
)

// testFrameRSP sits well inside the VMA newTestAccess maps, with plenty of
// room below it for the trampoline and return-address slot.
const testFrameRSP = 0x0000_0000_1008_0000

func newTestAccess(t *testing.T) *userio.Access {
	t.Helper()
	a := pagealloc.New()
	a.AddZone(0x100000, 8192)
	v, err := vm.New(a, 0x0000_7fff_ffff_f000, 0x0000_0000_0060_0000)
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	// A stack-shaped area far from the VM's fixed stack/heap ranges, large
	// enough to hold a trampoline stack frame below testFrameRSP.
	if err := v.AddVMArea(0x0000_0000_1000_0000, 0x0000_0000_0010_0000, vm.Anonymous); err != nil {
		t.Fatalf("AddVMArea: %v", err)
	}
	return userio.New(v, nil)
}

func TestDefaultActionsTerminateExceptChldAndCont(t *testing.T) {
	s := NewState()
	if s.Action(SIGCHLD).Kind != Ignore {
		t.Fatalf("SIGCHLD default should be Ignore")
	}
	if s.Action(SIGCONT).Kind != Ignore {
		t.Fatalf("SIGCONT default should be Ignore")
	}
	if s.Action(SIGTERM).Kind != Terminate {
		t.Fatalf("SIGTERM default should be Terminate")
	}
}

func TestSetActionRejectsKillAndStop(t *testing.T) {
	s := NewState()
	if err := s.SetAction(SIGKILL, Action{Kind: Ignore}); err == nil || err.Errno != kerr.EINVAL {
		t.Fatalf("expected EINVAL for SIGKILL, got %v", err)
	}
	if err := s.SetAction(SIGSTOP, Action{Kind: Ignore}); err == nil || err.Errno != kerr.EINVAL {
		t.Fatalf("expected EINVAL for SIGSTOP, got %v", err)
	}
}

func TestRaiseIsIdempotentForPendingState(t *testing.T) {
	s := NewState()
	first := s.Raise(SIGUSR1)
	second := s.Raise(SIGUSR1)
	if !first || second {
		t.Fatalf("expected first=true second=false, got first=%v second=%v", first, second)
	}
	sig, ok := s.popLowest()
	if !ok || sig != SIGUSR1 {
		t.Fatalf("expected to pop SIGUSR1, got %v ok=%v", sig, ok)
	}
	if _, ok := s.popLowest(); ok {
		t.Fatalf("expected no further pending signal after single pop")
	}
}

func TestPopLowestReturnsLowestNumberedFirst(t *testing.T) {
	s := NewState()
	s.Raise(SIGTERM)
	s.Raise(SIGHUP)
	sig, ok := s.popLowest()
	if !ok || sig != SIGHUP {
		t.Fatalf("expected SIGHUP first, got %v", sig)
	}
	sig, ok = s.popLowest()
	if !ok || sig != SIGTERM {
		t.Fatalf("expected SIGTERM second, got %v", sig)
	}
}

func TestDeliverNoneWhenNothingPending(t *testing.T) {
	s := NewState()
	uio := newTestAccess(t)
	outcome, _, _, err := s.Deliver(uio, Frame{})
	if err != nil || outcome != DeliveryNone {
		t.Fatalf("expected DeliveryNone, got %v err=%v", outcome, err)
	}
}

func TestDeliverIgnoreConsumesSignal(t *testing.T) {
	s := NewState()
	uio := newTestAccess(t)
	s.Raise(SIGCHLD)
	outcome, _, _, err := s.Deliver(uio, Frame{})
	if err != nil || outcome != DeliveryNone {
		t.Fatalf("expected DeliveryNone for ignored signal, got %v err=%v", outcome, err)
	}
	if s.Pending() {
		t.Fatalf("ignored signal should be consumed, not left pending")
	}
}

func TestDeliverTerminateReturnsSyntheticStatus(t *testing.T) {
	s := NewState()
	uio := newTestAccess(t)
	s.Raise(SIGTERM)
	outcome, _, status, err := s.Deliver(uio, Frame{})
	if err != nil || outcome != DeliveryTerminate {
		t.Fatalf("expected DeliveryTerminate, got %v err=%v", outcome, err)
	}
	if status != 128+int(SIGTERM) {
		t.Fatalf("status = %d, want %d", status, 128+int(SIGTERM))
	}
}

func TestDeliverHandlerBuildsTrampolineStack(t *testing.T) {
	s := NewState()
	uio := newTestAccess(t)
	handlerAddr := uintptr(0x401000)
	if err := s.SetAction(SIGUSR1, Action{Kind: Handler, HandlerAddr: handlerAddr}); err != nil {
		t.Fatalf("SetAction: %v", err)
	}
	s.Raise(SIGUSR1)

	oldFrame := Frame{RIP: 0x400000, RSP: testFrameRSP, RDI: 1, RSI: 2, RDX: 3}
	outcome, next, _, err := s.Deliver(uio, oldFrame)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if outcome != DeliveryHandlerDispatched {
		t.Fatalf("expected DeliveryHandlerDispatched, got %v", outcome)
	}
	if next.RIP != handlerAddr {
		t.Fatalf("RIP = %x, want handler addr %x", next.RIP, handlerAddr)
	}
	if next.RDI != uint64(SIGUSR1) || next.RSI != 0 || next.RDX != 0 {
		t.Fatalf("expected argument vector (signum,0,0), got (%d,%d,%d)", next.RDI, next.RSI, next.RDX)
	}
	if next.RSP >= oldFrame.RSP-RedZone {
		t.Fatalf("new RSP %x must be below the red zone, old RSP=%x", next.RSP, oldFrame.RSP)
	}

	// The trampoline bytes must actually be readable at the address the
	// pushed return slot points to.
	retAddr, err := uio.Read(next.RSP, 8)
	if err != nil {
		t.Fatalf("Read return slot: %v", err)
	}
	got := make([]byte, 8)
	if _, err := uio.ReadBytes(uintptr(retAddr), got); err != nil {
		t.Fatalf("ReadBytes trampoline: %v", err)
	}
	for i, b := range Trampoline {
		if got[i] != b {
			t.Fatalf("trampoline byte %d = %x, want %x", i, got[i], b)
		}
	}
}

func TestSigReturnRestoresSavedFrame(t *testing.T) {
	s := NewState()
	uio := newTestAccess(t)
	handlerAddr := uintptr(0x401000)
	if err := s.SetAction(SIGUSR1, Action{Kind: Handler, HandlerAddr: handlerAddr}); err != nil {
		t.Fatalf("SetAction: %v", err)
	}
	s.Raise(SIGUSR1)
	oldFrame := Frame{RIP: 0x400000, RSP: testFrameRSP}
	_, _, _, err := s.Deliver(uio, oldFrame)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	restored, ok := s.SigReturn()
	if !ok {
		t.Fatalf("expected a saved frame to restore")
	}
	if restored.RIP != oldFrame.RIP || restored.RSP != oldFrame.RSP {
		t.Fatalf("restored frame %+v != original %+v", restored, oldFrame)
	}
}

func TestSigReturnWithoutSavedFrameFails(t *testing.T) {
	s := NewState()
	if _, ok := s.SigReturn(); ok {
		t.Fatalf("expected no saved frame to restore")
	}
}
