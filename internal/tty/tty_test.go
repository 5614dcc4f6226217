package tty

import (
	"testing"

	"github.com/biscuit-go/kernel/internal/memfs"
	"github.com/biscuit-go/kernel/internal/proc"
	"github.com/biscuit-go/kernel/internal/sched"
)

func newTestTable(t *testing.T) (*proc.Table, *proc.Process) {
	t.Helper()
	s := sched.New(4)
	s.SetIdle(&sched.Thread{PID: 0})
	tbl := proc.NewTable(s)
	fs := memfs.New()
	init := tbl.CreateInit(nil, fs.RootDir())
	return tbl, init
}

func feed(tt *TTY, s string) {
	for i := 0; i < len(s); i++ {
		tt.Input(s[i])
	}
}

func TestCookedModeLinebuffersUntilNewline(t *testing.T) {
	tbl, _ := newTestTable(t)
	tt := New(tbl)

	feed(tt, "hi")
	buf := make([]byte, 16)
	if n, _ := tt.Read(0, buf); n != 0 {
		t.Fatalf("Read before newline = %d, want 0", n)
	}

	feed(tt, "\n")
	n, err := tt.Read(0, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hi\n" {
		t.Fatalf("Read = %q, want %q", buf[:n], "hi\n")
	}
}

func TestCookedModeEraseRemovesLastStagedByte(t *testing.T) {
	tbl, _ := newTestTable(t)
	tt := New(tbl)

	feed(tt, "hix")
	tt.Input(DefaultSpecialChars().Erase)
	feed(tt, "\n")

	buf := make([]byte, 16)
	n, _ := tt.Read(0, buf)
	if string(buf[:n]) != "hi\n" {
		t.Fatalf("Read = %q, want %q", buf[:n], "hi\n")
	}
}

func TestCookedModeKillDropsWholeStagedLine(t *testing.T) {
	tbl, _ := newTestTable(t)
	tt := New(tbl)

	feed(tt, "garbage")
	tt.Input(DefaultSpecialChars().Kill)
	feed(tt, "ok\n")

	buf := make([]byte, 16)
	n, _ := tt.Read(0, buf)
	if string(buf[:n]) != "ok\n" {
		t.Fatalf("Read = %q, want %q", buf[:n], "ok\n")
	}
}

func TestRawModeDeliversEachByteImmediately(t *testing.T) {
	tbl, _ := newTestTable(t)
	tt := New(tbl)
	tt.SetMode(false)

	tt.Input('a')
	buf := make([]byte, 4)
	n, _ := tt.Read(0, buf)
	if string(buf[:n]) != "a" {
		t.Fatalf("Read = %q, want %q", buf[:n], "a")
	}
}

func TestIntrRaisesSigintOnForegroundGroupInsteadOfBuffering(t *testing.T) {
	tbl, init := newTestTable(t)
	tt := New(tbl)
	tt.SetForegroundPgid(init.Pgid())

	tt.Input(DefaultSpecialChars().Intr)

	if !init.Signals.Pending() {
		t.Fatalf("expected SIGINT pending on foreground group leader")
	}
	buf := make([]byte, 4)
	n, _ := tt.Read(0, buf)
	if n != 0 {
		t.Fatalf("INTR byte should not have been buffered as data, got %q", buf[:n])
	}
}

func TestSignalsDisabledBuffersSpecialCharsAsData(t *testing.T) {
	tbl, init := newTestTable(t)
	tt := New(tbl)
	tt.SetForegroundPgid(init.Pgid())
	tt.SetSignalsEnabled(false)

	tt.Input(DefaultSpecialChars().Intr)
	tt.Input('\n')

	if init.Signals.Pending() {
		t.Fatalf("expected no signal raised while signal generation disabled")
	}
	buf := make([]byte, 4)
	n, _ := tt.Read(0, buf)
	if n != 2 || buf[0] != DefaultSpecialChars().Intr || buf[1] != '\n' {
		t.Fatalf("Read = %q, want INTR byte followed by newline", buf[:n])
	}
}

func TestIoctlGetSetForegroundPgrp(t *testing.T) {
	tbl, init := newTestTable(t)
	tt := New(tbl)

	if got, err := tt.Ioctl(TIOCGPGRP, 0); err != nil || got != 0 {
		t.Fatalf("TIOCGPGRP = %d, %v; want 0, nil", got, err)
	}

	if _, err := tt.Ioctl(TIOCSPGRP, uintptr(init.Pgid())); err != nil {
		t.Fatalf("TIOCSPGRP: %v", err)
	}
	if got, _ := tt.Ioctl(TIOCGPGRP, 0); got != uintptr(init.Pgid()) {
		t.Fatalf("TIOCGPGRP after set = %d, want %d", got, init.Pgid())
	}
}

func TestUnknownIoctlReturnsZero(t *testing.T) {
	tbl, _ := newTestTable(t)
	tt := New(tbl)
	got, err := tt.Ioctl(0x9999, 0)
	if err != nil || got != 0 {
		t.Fatalf("unknown ioctl = %d, %v; want 0, nil", got, err)
	}
}
