// Package kerr defines the kernel's single error sum type: an errno code,
// an optional static message, and, in debug builds, a captured backtrace.
package kerr

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/biscuit-go/kernel/internal/caller"
)

// Errno values follow Linux conventions (§6).
type Errno int

const (
	EPERM        Errno = 1
	ENOENT       Errno = 2
	ESRCH        Errno = 3
	EINTR        Errno = 4
	EIO          Errno = 5
	ENXIO        Errno = 6
	E2BIG        Errno = 7
	EBADF        Errno = 9
	ECHILD       Errno = 10
	EAGAIN       Errno = 11
	ENOMEM       Errno = 12
	EACCES       Errno = 13
	EFAULT       Errno = 14
	EEXIST       Errno = 17
	ENOTDIR      Errno = 20
	EISDIR       Errno = 21
	EINVAL       Errno = 22
	ENFILE       Errno = 23
	EMFILE       Errno = 24
	ENOTTY       Errno = 25
	EFBIG        Errno = 27
	ENOSPC       Errno = 28
	ESPIPE       Errno = 29
	EROFS        Errno = 30
	EPIPE        Errno = 32
	ENAMETOOLONG Errno = 36
	ENOSYS       Errno = 38
	ELOOP        Errno = 40
	ENOTSOCK     Errno = 88
	EADDRINUSE   Errno = 98
	ENOHEAP      Errno = 150 // kernel-internal: resource budget exhausted
)

// Debug, when true, attaches a captured backtrace to every Error created by
// New. It is read on every New call, so it can be flipped at run time (the
// tests do so); it mirrors biscuit's "debug builds only" backtrace capture.
var Debug = false

// Error is the kernel-wide fallible-operation result type.
type Error struct {
	Errno     Errno
	Msg       string
	backtrace string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("errno %d", e.Errno)
	}
	return fmt.Sprintf("errno %d: %s", e.Errno, e.Msg)
}

// Backtrace returns the captured call stack, if Debug was enabled when the
// error was created.
func (e *Error) Backtrace() string { return e.backtrace }

// New constructs an Error, capturing a backtrace when Debug is enabled.
func New(errno Errno, msg string) *Error {
	e := &Error{Errno: errno, Msg: msg}
	if Debug {
		e.backtrace = caller.Dump(2)
	}
	return e
}

// Newf is New with a formatted message.
func Newf(errno Errno, format string, args ...interface{}) *Error {
	return New(errno, fmt.Sprintf(format, args...))
}

// Of wraps a bare errno with no message, the common case at call sites that
// mirror biscuit's "-defs.EFAULT" idiom.
func Of(errno Errno) *Error { return New(errno, "") }

// Negate converts an Error into the negative-errno word the syscall ABI
// returns to user mode (§6). A nil error yields 0.
func Negate(err *Error) int64 {
	if err == nil {
		return 0
	}
	return -int64(err.Errno)
}

// Unix reports e's numeric value as a golang.org/x/sys/unix.Errno, the
// same integer the syscall dispatcher hands back negated (§6 "Linux
// conventions"). It exists so a test can cross-check every Errno constant
// above against the platform's own unix.E* table rather than trusting the
// hand-copied numbers.
func (e Errno) Unix() unix.Errno { return unix.Errno(e) }
