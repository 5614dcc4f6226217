package kerr

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestErrnoConstantsMatchUnix(t *testing.T) {
	cases := []struct {
		name string
		e    Errno
		want unix.Errno
	}{
		{"EPERM", EPERM, unix.EPERM},
		{"ENOENT", ENOENT, unix.ENOENT},
		{"ESRCH", ESRCH, unix.ESRCH},
		{"EINTR", EINTR, unix.EINTR},
		{"EIO", EIO, unix.EIO},
		{"ENXIO", ENXIO, unix.ENXIO},
		{"E2BIG", E2BIG, unix.E2BIG},
		{"EBADF", EBADF, unix.EBADF},
		{"ECHILD", ECHILD, unix.ECHILD},
		{"EAGAIN", EAGAIN, unix.EAGAIN},
		{"ENOMEM", ENOMEM, unix.ENOMEM},
		{"EACCES", EACCES, unix.EACCES},
		{"EFAULT", EFAULT, unix.EFAULT},
		{"EEXIST", EEXIST, unix.EEXIST},
		{"ENOTDIR", ENOTDIR, unix.ENOTDIR},
		{"EISDIR", EISDIR, unix.EISDIR},
		{"EINVAL", EINVAL, unix.EINVAL},
		{"ENFILE", ENFILE, unix.ENFILE},
		{"EMFILE", EMFILE, unix.EMFILE},
		{"ENOTTY", ENOTTY, unix.ENOTTY},
		{"EFBIG", EFBIG, unix.EFBIG},
		{"ENOSPC", ENOSPC, unix.ENOSPC},
		{"ESPIPE", ESPIPE, unix.ESPIPE},
		{"EROFS", EROFS, unix.EROFS},
		{"EPIPE", EPIPE, unix.EPIPE},
		{"ENAMETOOLONG", ENAMETOOLONG, unix.ENAMETOOLONG},
		{"ENOSYS", ENOSYS, unix.ENOSYS},
		{"ELOOP", ELOOP, unix.ELOOP},
		{"ENOTSOCK", ENOTSOCK, unix.ENOTSOCK},
		{"EADDRINUSE", EADDRINUSE, unix.EADDRINUSE},
	}
	for _, c := range cases {
		if c.e.Unix() != c.want {
			t.Errorf("%s = %d, want unix value %d", c.name, c.e, c.want)
		}
	}
}

func TestNegateNilIsZero(t *testing.T) {
	if Negate(nil) != 0 {
		t.Fatalf("Negate(nil) != 0")
	}
}

func TestNegateReturnsNegativeErrno(t *testing.T) {
	if got := Negate(Of(ENOENT)); got != -2 {
		t.Fatalf("Negate(ENOENT) = %d, want -2", got)
	}
}

func TestOfCarriesNoMessage(t *testing.T) {
	err := Of(EINVAL)
	if err.Msg != "" {
		t.Fatalf("Of().Msg = %q, want empty", err.Msg)
	}
	if err.Error() != "errno 22" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "errno 22")
	}
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(ENOENT, "no such file: %s", "foo")
	if err.Error() != "errno 2: no such file: foo" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestDebugCapturesBacktrace(t *testing.T) {
	Debug = true
	defer func() { Debug = false }()
	err := New(EIO, "boom")
	if err.Backtrace() == "" {
		t.Fatalf("expected non-empty backtrace when Debug is enabled")
	}
}
