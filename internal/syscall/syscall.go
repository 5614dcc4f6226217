// Package syscall implements the system-call dispatcher (§4.10): argument
// marshalling through userio, the bounded read_cstr/iovec/argv paths, and
// the individual call handlers that tie proc, fd, vfs, vm, signal, and pipe
// together. No biscuit fragment for a unified dispatcher survived retrieval
// (teacher_src/fs/fsops.go-style per-call entry points do exist, but the
// central switch itself is assembled by hand from the syscall table's
// contracts), so the call numbers and open-flag bits are taken from
// golang.org/x/sys/unix rather than invented, matching internal/signal's
// existing reuse of that module for SIGxxx constants. Real ELF parsing is
// out of scope (an external collaborator's job); execve here depends on
// an abstract ExecLoader instead.
package syscall

import (
	"bytes"
	"crypto/rand"

	"golang.org/x/sys/unix"

	"github.com/biscuit-go/kernel/internal/config"
	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/pipe"
	"github.com/biscuit-go/kernel/internal/proc"
	"github.com/biscuit-go/kernel/internal/signal"
	"github.com/biscuit-go/kernel/internal/stat"
	"github.com/biscuit-go/kernel/internal/ustr"
	"github.com/biscuit-go/kernel/internal/userio"
	"github.com/biscuit-go/kernel/internal/vfs"
	"github.com/biscuit-go/kernel/internal/vm"
)

// AtFdCwd is the dirfd sentinel meaning "resolve relative to the caller's
// current working directory", reusing Linux's AT_FDCWD value rather than
// inventing one so argument marshalling needs no per-platform translation.
const AtFdCwd = int32(unix.AT_FDCWD)

// Args is the raw six-register syscall argument vector in x86-64 SysV
// order (rdi, rsi, rdx, r10, r8, r9).
type Args [6]uint64

// ExecLoader loads a program image into vm and returns its entry point.
// Real ELF parsing is an external collaborator the dispatcher depends on
// only through this interface (§4.10 execve).
type ExecLoader interface {
	Load(inode vfs.Inode, v *vm.VM, argv, envp []ustr.Ustr) (entry uintptr, err *kerr.Error)
}

// Dispatcher routes a syscall number and argument vector to the handler
// that implements it, given the calling process.
type Dispatcher struct {
	Procs  *proc.Table
	Root   *vfs.RootFs
	Loader ExecLoader
	Gov    func(v *vm.VM) *userio.Access
}

// New constructs a Dispatcher. access builds the userio.Access a handler
// uses to touch caller's user memory (wiring in a resource-budget governor
// is the caller's business, not the dispatcher's).
func New(procs *proc.Table, root *vfs.RootFs, loader ExecLoader, access func(v *vm.VM) *userio.Access) *Dispatcher {
	return &Dispatcher{Procs: procs, Root: root, Loader: loader, Gov: access}
}

func (d *Dispatcher) uio(caller *proc.Process) *userio.Access {
	return d.Gov(caller.Vm)
}

// Dispatch executes syscall nr with argument vector a on behalf of caller,
// returning a non-negative result on success or -errno on failure (§4.10).
// An unrecognised nr returns -ENOSYS rather than panicking.
func (d *Dispatcher) Dispatch(caller *proc.Process, nr uintptr, a Args) int64 {
	switch nr {
	case unix.SYS_READ:
		return d.sysRead(caller, int(a[0]), uintptr(a[1]), int(a[2]))
	case unix.SYS_WRITE:
		return d.sysWrite(caller, int(a[0]), uintptr(a[1]), int(a[2]))
	case unix.SYS_READV:
		return d.sysReadv(caller, int(a[0]), uintptr(a[1]), int(a[2]))
	case unix.SYS_WRITEV:
		return d.sysWritev(caller, int(a[0]), uintptr(a[1]), int(a[2]))
	case unix.SYS_OPEN:
		return d.sysOpenat(caller, AtFdCwd, uintptr(a[0]), int32(a[1]), uint32(a[2]))
	case unix.SYS_OPENAT:
		return d.sysOpenat(caller, int32(a[0]), uintptr(a[1]), int32(a[2]), uint32(a[3]))
	case unix.SYS_CLOSE:
		return d.sysClose(caller, int(a[0]))
	case unix.SYS_DUP:
		return d.sysDup(caller, int(a[0]))
	case unix.SYS_DUP2:
		return d.sysDup2(caller, int(a[0]), int(a[1]))
	case unix.SYS_FSTAT:
		return d.sysFstat(caller, int(a[0]), uintptr(a[1]))
	case unix.SYS_STAT:
		return d.sysStatPath(caller, uintptr(a[0]), uintptr(a[1]), true)
	case unix.SYS_LSTAT:
		return d.sysStatPath(caller, uintptr(a[0]), uintptr(a[1]), false)
	case unix.SYS_MMAP:
		return d.sysMmap(caller, uintptr(a[0]), uintptr(a[1]), int32(a[2]), int32(a[3]), int(a[4]), int64(a[5]))
	case unix.SYS_BRK:
		return d.sysBrk(caller, uintptr(a[0]))
	case unix.SYS_FORK:
		return d.sysFork(caller)
	case unix.SYS_EXECVE:
		return d.sysExecve(caller, uintptr(a[0]), uintptr(a[1]), uintptr(a[2]))
	case unix.SYS_WAIT4:
		return d.sysWait4(caller, int32(a[0]), uintptr(a[1]), int32(a[2]))
	case unix.SYS_KILL:
		return d.sysKill(caller, int32(a[0]), int32(a[1]))
	case unix.SYS_RT_SIGACTION:
		return d.sysRtSigaction(caller, int32(a[0]), uintptr(a[1]))
	case unix.SYS_PIPE:
		return d.sysPipe(caller, uintptr(a[0]))
	case unix.SYS_POLL:
		return d.sysPoll(caller, uintptr(a[0]), int(a[1]), int(a[2]))
	case unix.SYS_SELECT:
		return d.sysSelect(caller, int(a[0]), uintptr(a[1]), uintptr(a[2]), uintptr(a[3]), uintptr(a[4]))
	case unix.SYS_IOCTL:
		return d.sysIoctl(caller, int(a[0]), uint64(a[1]), uintptr(a[2]))
	default:
		return kerr.Negate(kerr.Of(kerr.ENOSYS))
	}
}

// resolveDir resolves dirfd/path's starting directory for a *at(2)-style
// call: an absolute path always starts at the root, AtFdCwd starts at
// caller's cwd, and any other dirfd must itself be an open directory fd.
func (d *Dispatcher) resolveDir(caller *proc.Process, dirfd int32, path ustr.Ustr) (vfs.Directory, *kerr.Error) {
	if path.IsAbsolute() {
		return d.Root.Root(), nil
	}
	if dirfd == AtFdCwd {
		dir, _ := caller.Cwd.Snapshot()
		return dir, nil
	}
	of, err := caller.Files.Get(int(dirfd))
	if err != nil {
		return nil, err
	}
	dir, ok := of.File.(vfs.Directory)
	if !ok {
		return nil, kerr.Of(kerr.ENOTDIR)
	}
	return dir, nil
}

// resolveParentAndLeaf splits path into its containing directory (resolved,
// following intermediate symlinks) and its final component name, for
// O_CREAT's "look up the parent, then create or find the leaf there" need —
// the only case where the final component may legitimately not exist yet.
func (d *Dispatcher) resolveParentAndLeaf(startDir vfs.Directory, path ustr.Ustr) (vfs.Directory, ustr.Ustr, *kerr.Error) {
	comps := ustr.Split(path)
	if len(comps) == 0 {
		return nil, nil, kerr.Of(kerr.ENOENT)
	}
	leaf := comps[len(comps)-1]
	parentComps := comps[:len(comps)-1]

	dir := startDir
	if path.IsAbsolute() {
		dir = d.Root.Root()
	}
	var cur vfs.Inode = dir
	for _, c := range parentComps {
		curDir, ok := cur.(vfs.Directory)
		if !ok {
			return nil, nil, kerr.Of(kerr.ENOTDIR)
		}
		next, err := curDir.Lookup(c)
		if err != nil {
			return nil, nil, err
		}
		if sym, ok := next.(vfs.Symlink); ok {
			target, serr := sym.LinkedTo()
			if serr != nil {
				return nil, nil, serr
			}
			resolved, rerr := d.Root.Resolve(curDir, target, vfs.ResolveOpts{FollowFinalSymlink: true})
			if rerr != nil {
				return nil, nil, rerr
			}
			next = resolved
		}
		cur = next
	}
	parentDir, ok := cur.(vfs.Directory)
	if !ok {
		return nil, nil, kerr.Of(kerr.ENOTDIR)
	}
	return parentDir, leaf, nil
}

func (d *Dispatcher) sysRead(caller *proc.Process, fdNum int, bufVA uintptr, n int) int64 {
	of, err := caller.Files.Get(fdNum)
	if err != nil {
		return kerr.Negate(err)
	}
	if n < 0 {
		return kerr.Negate(kerr.Of(kerr.EINVAL))
	}
	if int64(n) > config.MaxReadWriteLen {
		n = int(config.MaxReadWriteLen)
	}
	buf := make([]byte, n)
	got, rerr := of.Read(buf)
	if rerr != nil {
		return kerr.Negate(rerr)
	}
	if _, werr := d.uio(caller).WriteBytes(bufVA, buf[:got]); werr != nil {
		return kerr.Negate(werr)
	}
	return int64(got)
}

func (d *Dispatcher) sysWrite(caller *proc.Process, fdNum int, bufVA uintptr, n int) int64 {
	of, err := caller.Files.Get(fdNum)
	if err != nil {
		return kerr.Negate(err)
	}
	if n < 0 {
		return kerr.Negate(kerr.Of(kerr.EINVAL))
	}
	if int64(n) > config.MaxReadWriteLen {
		n = int(config.MaxReadWriteLen)
	}
	buf := make([]byte, n)
	if _, rerr := d.uio(caller).ReadBytes(bufVA, buf); rerr != nil {
		return kerr.Negate(rerr)
	}
	put, werr := of.Write(buf)
	if werr != nil {
		return kerr.Negate(werr)
	}
	return int64(put)
}

func (d *Dispatcher) sysReadv(caller *proc.Process, fdNum int, iovecVA uintptr, n int) int64 {
	of, err := caller.Files.Get(fdNum)
	if err != nil {
		return kerr.Negate(err)
	}
	iov, ierr := userio.NewIovec(d.uio(caller), iovecVA, n)
	if ierr != nil {
		return kerr.Negate(ierr)
	}
	buf := make([]byte, iov.TotalSize())
	got, rerr := of.Read(buf)
	if rerr != nil {
		return kerr.Negate(rerr)
	}
	if _, werr := iov.Uiowrite(buf[:got]); werr != nil {
		return kerr.Negate(werr)
	}
	return int64(got)
}

func (d *Dispatcher) sysWritev(caller *proc.Process, fdNum int, iovecVA uintptr, n int) int64 {
	of, err := caller.Files.Get(fdNum)
	if err != nil {
		return kerr.Negate(err)
	}
	iov, ierr := userio.NewIovec(d.uio(caller), iovecVA, n)
	if ierr != nil {
		return kerr.Negate(ierr)
	}
	buf := make([]byte, iov.TotalSize())
	if _, rerr := iov.Uioread(buf); rerr != nil {
		return kerr.Negate(rerr)
	}
	put, werr := of.Write(buf)
	if werr != nil {
		return kerr.Negate(werr)
	}
	return int64(put)
}

func (d *Dispatcher) sysOpenat(caller *proc.Process, dirfd int32, pathVA uintptr, flags int32, mode uint32) int64 {
	raw, err := d.uio(caller).ReadCStr(pathVA, config.PathMax)
	if err != nil {
		return kerr.Negate(err)
	}

	startDir, err := d.resolveDir(caller, dirfd, raw)
	if err != nil {
		return kerr.Negate(err)
	}

	var target vfs.Inode
	if flags&unix.O_CREAT == 0 {
		ino, rerr := d.Root.Resolve(startDir, raw, vfs.ResolveOpts{FollowFinalSymlink: true})
		if rerr != nil {
			return kerr.Negate(rerr)
		}
		target = ino
	} else {
		parentDir, leaf, rerr := d.resolveParentAndLeaf(startDir, raw)
		if rerr != nil {
			return kerr.Negate(rerr)
		}
		existing, lookupErr := parentDir.Lookup(leaf)
		switch {
		case lookupErr == nil:
			if flags&unix.O_EXCL != 0 {
				return kerr.Negate(kerr.Of(kerr.EEXIST))
			}
			target = existing
		case lookupErr.Errno == kerr.ENOENT:
			created, cerr := parentDir.CreateFile(leaf, mode)
			if cerr != nil {
				return kerr.Negate(cerr)
			}
			target = created
		default:
			return kerr.Negate(lookupErr)
		}
	}

	if _, isDir := target.(vfs.Directory); isDir {
		if flags&unix.O_ACCMODE != unix.O_RDONLY {
			return kerr.Negate(kerr.Of(kerr.EISDIR))
		}
	} else if flags&unix.O_DIRECTORY != 0 {
		return kerr.Negate(kerr.Of(kerr.ENOTDIR))
	}

	fl, ok := target.(vfs.FileLike)
	if !ok {
		return kerr.Negate(kerr.Of(kerr.EINVAL))
	}

	newFd, oerr := caller.Files.Open(fl, flags&unix.O_CLOEXEC != 0)
	if oerr != nil {
		return kerr.Negate(oerr)
	}
	return int64(newFd)
}

func (d *Dispatcher) sysClose(caller *proc.Process, fdNum int) int64 {
	if err := caller.Files.Close(fdNum); err != nil {
		return kerr.Negate(err)
	}
	return 0
}

func (d *Dispatcher) sysDup(caller *proc.Process, fdNum int) int64 {
	nfd, err := caller.Files.Dup(fdNum, 0)
	if err != nil {
		return kerr.Negate(err)
	}
	return int64(nfd)
}

func (d *Dispatcher) sysDup2(caller *proc.Process, oldFd, newFd int) int64 {
	if err := caller.Files.Dup2(oldFd, newFd); err != nil {
		return kerr.Negate(err)
	}
	return int64(newFd)
}

func statInto(fl vfs.FileLike) (stat.Stat_t, *kerr.Error) {
	var st stat.Stat_t
	if err := fl.Stat(&st); err != nil {
		return stat.Stat_t{}, err
	}
	return st, nil
}

func (d *Dispatcher) sysFstat(caller *proc.Process, fdNum int, statVA uintptr) int64 {
	of, err := caller.Files.Get(fdNum)
	if err != nil {
		return kerr.Negate(err)
	}
	st, serr := statInto(of.File)
	if serr != nil {
		return kerr.Negate(serr)
	}
	if _, werr := d.uio(caller).WriteBytes(statVA, st.Bytes()); werr != nil {
		return kerr.Negate(werr)
	}
	return 0
}

func (d *Dispatcher) sysStatPath(caller *proc.Process, pathVA, statVA uintptr, followFinal bool) int64 {
	raw, err := d.uio(caller).ReadCStr(pathVA, config.PathMax)
	if err != nil {
		return kerr.Negate(err)
	}
	dir, _ := caller.Cwd.Snapshot()
	ino, rerr := d.Root.Resolve(dir, raw, vfs.ResolveOpts{FollowFinalSymlink: followFinal})
	if rerr != nil {
		return kerr.Negate(rerr)
	}
	fl, ok := ino.(vfs.FileLike)
	if !ok {
		if sym, ok := ino.(vfs.Symlink); ok {
			var st stat.Stat_t
			if serr := sym.Stat(&st); serr != nil {
				return kerr.Negate(serr)
			}
			if _, werr := d.uio(caller).WriteBytes(statVA, st.Bytes()); werr != nil {
				return kerr.Negate(werr)
			}
			return 0
		}
		return kerr.Negate(kerr.Of(kerr.EINVAL))
	}
	st, serr := statInto(fl)
	if serr != nil {
		return kerr.Negate(serr)
	}
	if _, werr := d.uio(caller).WriteBytes(statVA, st.Bytes()); werr != nil {
		return kerr.Negate(werr)
	}
	return 0
}

// fileBackedReader adapts a vfs.FileLike to vm.FileBackend for a file-backed
// mmap's demand-fault reads.
type fileBackedReader struct{ f vfs.FileLike }

func (r fileBackedReader) ReadAt(buf []byte, off int64) (int, *kerr.Error) {
	return r.f.Read(off, buf)
}

const (
	mapShared    = 0x01
	mapPrivate   = 0x02
	mapFixed     = 0x10
	mapAnonymous = 0x20
)

func (d *Dispatcher) sysMmap(caller *proc.Process, hint uintptr, length uintptr, prot, flags int32, fdNum int, off int64) int64 {
	if caller.Vm == nil || length == 0 {
		return kerr.Negate(kerr.Of(kerr.EINVAL))
	}
	if length%config.PageSize != 0 {
		return kerr.Negate(kerr.Of(kerr.EINVAL))
	}

	var addr uintptr
	if flags&mapFixed != 0 {
		if hint%config.PageSize != 0 || !caller.Vm.IsFreeVaddrRange(hint, length) {
			return kerr.Negate(kerr.Of(kerr.EINVAL))
		}
		addr = hint
	} else {
		a, aerr := caller.Vm.AllocVaddrRange(length)
		if aerr != nil {
			return kerr.Negate(aerr)
		}
		addr = a
	}

	if flags&mapAnonymous != 0 {
		if err := caller.Vm.AddVMArea(addr, length, vm.Anonymous); err != nil {
			return kerr.Negate(err)
		}
		return int64(addr)
	}

	of, err := caller.Files.Get(fdNum)
	if err != nil {
		return kerr.Negate(err)
	}
	st, serr := statInto(of.File)
	if serr != nil {
		return kerr.Negate(serr)
	}
	fileLen := int64(st.Size()) - off
	if fileLen < 0 {
		fileLen = 0
	}
	if fileLen > int64(length) {
		fileLen = int64(length)
	}
	if err := caller.Vm.AddFileBackedVMArea(addr, length, fileBackedReader{of.File}, off, fileLen); err != nil {
		return kerr.Negate(err)
	}
	return int64(addr)
}

func (d *Dispatcher) sysBrk(caller *proc.Process, newEnd uintptr) int64 {
	if caller.Vm == nil {
		return kerr.Negate(kerr.Of(kerr.EINVAL))
	}
	if newEnd == 0 {
		return int64(caller.Vm.HeapEnd)
	}
	if err := caller.Vm.ExpandHeapTo(newEnd); err != nil {
		return kerr.Negate(err)
	}
	return int64(newEnd)
}

func (d *Dispatcher) sysFork(caller *proc.Process) int64 {
	child, err := d.Procs.Fork(caller)
	if err != nil {
		return kerr.Negate(err)
	}
	return int64(child.Thread.PID)
}

// maxShebangDepth bounds #! chains the way vfs.RootFs.Resolve bounds
// symlink chains, against an interpreter that names itself as its own
// interpreter.
const maxShebangDepth = 4

// readShebang inspects fl's first bytes for a #! line. A prefix with no
// terminating newline within config.PathMax bytes is not treated as a
// shebang at all (the image is left to fail ELF parsing on its own terms),
// matching "if it starts with #! and contains a newline".
func readShebang(fl vfs.FileLike) (interp string, arg string, isShebang bool, err *kerr.Error) {
	buf := make([]byte, config.PathMax)
	n, rerr := fl.Read(0, buf)
	if rerr != nil {
		return "", "", false, rerr
	}
	buf = buf[:n]
	if len(buf) < 2 || buf[0] != '#' || buf[1] != '!' {
		return "", "", false, nil
	}
	nl := bytes.IndexByte(buf, '\n')
	if nl < 0 {
		return "", "", false, nil
	}
	fields := bytes.Fields(buf[2:nl])
	if len(fields) == 0 {
		return "", "", false, nil
	}
	interp = string(fields[0])
	if len(fields) > 1 {
		arg = string(bytes.Join(fields[1:], []byte(" ")))
	}
	return interp, arg, true, nil
}

// sysExecve reads the path/argv/envp vectors out of user memory, bounded
// per §4.10 (PathMax/ArgLenMax per string, ArgMax entries), follows any #!
// interpreter chain, and hands the resulting image's inode to Loader. The
// initial stack (argc/argv/envp/auxv) is built here rather than by Loader,
// since it is identical regardless of what kind of image the interpreter
// ends up being; Loader's only job is to map the program image and report
// an entry point. Success never returns to the dispatcher's caller in a
// real kernel (the new image starts running instead); here it reports the
// new entry point so a test harness or a higher layer can observe it, and
// saves (entry, new RSP) on caller.Frame.
func (d *Dispatcher) sysExecve(caller *proc.Process, pathVA, argvVA, envpVA uintptr) int64 {
	path, err := d.uio(caller).ReadCStr(pathVA, config.PathMax)
	if err != nil {
		return kerr.Negate(err)
	}
	argv, aerr := d.readStrVec(caller, argvVA)
	if aerr != nil {
		return kerr.Negate(aerr)
	}
	envp, eerr := d.readStrVec(caller, envpVA)
	if eerr != nil {
		return kerr.Negate(eerr)
	}

	for depth := 0; ; depth++ {
		if depth > maxShebangDepth {
			return kerr.Negate(kerr.Of(kerr.ELOOP))
		}
		dir, _ := caller.Cwd.Snapshot()
		ino, rerr := d.Root.Resolve(dir, path, vfs.ResolveOpts{FollowFinalSymlink: true})
		if rerr != nil {
			return kerr.Negate(rerr)
		}
		fl, ok := ino.(vfs.FileLike)
		if !ok {
			return kerr.Negate(kerr.Of(kerr.EACCES))
		}
		interp, interpArg, isShebang, serr := readShebang(fl)
		if serr != nil {
			return kerr.Negate(serr)
		}
		if !isShebang {
			return d.finishExecve(caller, ino, argv, envp)
		}

		rebuilt := []ustr.Ustr{ustr.Ustr(interp)}
		if interpArg != "" {
			rebuilt = append(rebuilt, ustr.Ustr(interpArg))
		}
		rebuilt = append(rebuilt, path)
		if len(argv) > 1 {
			rebuilt = append(rebuilt, argv[1:]...)
		}
		argv = rebuilt
		path = ustr.Ustr(interp)
	}
}

// finishExecve loads ino's image, builds its initial stack, and installs
// the resulting entry point and stack pointer on caller.Frame.
func (d *Dispatcher) finishExecve(caller *proc.Process, ino vfs.Inode, argv, envp []ustr.Ustr) int64 {
	if d.Loader == nil {
		return kerr.Negate(kerr.Of(kerr.ENOSYS))
	}
	entry, lerr := d.Loader.Load(ino, caller.Vm, argv, envp)
	if lerr != nil {
		return kerr.Negate(lerr)
	}
	rsp, serr := buildInitStack(d.uio(caller), caller.Vm.StackBase, argv, envp)
	if serr != nil {
		return kerr.Negate(serr)
	}
	caller.Files.CloseCloexecFiles()
	caller.Frame = signal.Frame{RIP: entry, RSP: rsp}
	return int64(entry)
}

// atRandom/atNull are the two auxv(3) entry types this stack layout ever
// emits; every other AT_* constant is left out as not meaningful without a
// real ELF image to describe (AT_PHDR, AT_ENTRY, ...).
const (
	atRandom = 25
	atNull   = 0
)

// buildInitStack writes the argc/argv/envp/auxv frame execve's new image
// expects at start (§6 "process stack layout at execve"): strings and a
// 16-byte AT_RANDOM block at the top (closest to stackTop), the argv/envp
// pointer arrays and an AT_RANDOM/AT_NULL-terminated auxv block below them,
// and argc at the final 16-byte-aligned stack pointer.
func buildInitStack(uio *userio.Access, stackTop uintptr, argv, envp []ustr.Ustr) (uintptr, *kerr.Error) {
	cursor := stackTop

	writeStr := func(s ustr.Ustr) (uintptr, *kerr.Error) {
		b := append(append([]byte(nil), s...), 0)
		cursor -= uintptr(len(b))
		if _, err := uio.WriteBytes(cursor, b); err != nil {
			return 0, err
		}
		return cursor, nil
	}

	argvAddrs := make([]uintptr, len(argv))
	for i, a := range argv {
		addr, err := writeStr(a)
		if err != nil {
			return 0, err
		}
		argvAddrs[i] = addr
	}
	envpAddrs := make([]uintptr, len(envp))
	for i, e := range envp {
		addr, err := writeStr(e)
		if err != nil {
			return 0, err
		}
		envpAddrs[i] = addr
	}

	var randBytes [16]byte
	if _, rerr := rand.Read(randBytes[:]); rerr != nil {
		return 0, kerr.Of(kerr.EIO)
	}
	cursor -= uintptr(len(randBytes))
	if _, err := uio.WriteBytes(cursor, randBytes[:]); err != nil {
		return 0, err
	}
	atRandomAddr := cursor
	cursor &^= 7 // every array below is an array of 8-byte words

	auxv := []uint64{atRandom, uint64(atRandomAddr), atNull, 0}
	cursor -= uintptr(len(auxv) * 8)
	auxvBase := cursor
	for i, w := range auxv {
		if err := uio.Write(auxvBase+uintptr(i*8), 8, w); err != nil {
			return 0, err
		}
	}

	cursor -= uintptr((len(envpAddrs) + 1) * 8)
	envpBase := cursor
	for i, addr := range envpAddrs {
		if err := uio.Write(envpBase+uintptr(i*8), 8, uint64(addr)); err != nil {
			return 0, err
		}
	}
	if err := uio.Write(envpBase+uintptr(len(envpAddrs)*8), 8, 0); err != nil {
		return 0, err
	}

	cursor -= uintptr((len(argvAddrs) + 1) * 8)
	argvBase := cursor
	for i, addr := range argvAddrs {
		if err := uio.Write(argvBase+uintptr(i*8), 8, uint64(addr)); err != nil {
			return 0, err
		}
	}
	if err := uio.Write(argvBase+uintptr(len(argvAddrs)*8), 8, 0); err != nil {
		return 0, err
	}

	cursor -= 8
	cursor &^= 15 // final rsp, 16-byte aligned per the x86-64 SysV ABI
	if err := uio.Write(cursor, 8, uint64(len(argv))); err != nil {
		return 0, err
	}
	return cursor, nil
}

// readStrVec reads a NUL-terminated array of user-string pointers (argv or
// envp), bounded at config.ArgMax entries of at most config.ArgLenMax bytes
// each (§4.10).
func (d *Dispatcher) readStrVec(caller *proc.Process, base uintptr) ([]ustr.Ustr, *kerr.Error) {
	if base == 0 {
		return nil, nil
	}
	uio := d.uio(caller)
	var out []ustr.Ustr
	for i := 0; i < config.ArgMax; i++ {
		entryVA := base + uintptr(i)*8
		ptr, err := uio.Read(entryVA, 8)
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			return out, nil
		}
		s, serr := uio.ReadCStr(uintptr(ptr), config.ArgLenMax)
		if serr != nil {
			return nil, serr
		}
		out = append(out, s)
	}
	return nil, kerr.Of(kerr.E2BIG)
}

func (d *Dispatcher) sysWait4(caller *proc.Process, rawPID int32, statusVA uintptr, options int32) int64 {
	sel := proc.WaitSelector{Kind: proc.WaitAny}
	switch {
	case rawPID > 0:
		sel = proc.WaitSelector{Kind: proc.WaitPID, PID: proc.PID(rawPID)}
	case rawPID == 0:
		sel = proc.WaitSelector{Kind: proc.WaitPGID, PGID: caller.Pgid()}
	case rawPID < -1:
		sel = proc.WaitSelector{Kind: proc.WaitPGID, PGID: -rawPID}
	}

	res, err := d.Procs.Wait4(caller, sel)
	if err != nil {
		return kerr.Negate(err)
	}
	if statusVA != 0 {
		if werr := d.uio(caller).Write(statusVA, 8, uint64(int64(res.Status))); werr != nil {
			return kerr.Negate(werr)
		}
	}
	return int64(res.PID)
}

func (d *Dispatcher) sysKill(caller *proc.Process, rawPID int32, sig int32) int64 {
	if err := d.Procs.Kill(caller, rawPID, signal.Signal(sig)); err != nil {
		return kerr.Negate(err)
	}
	return 0
}

// sigDfl/sigIgn mirror the userspace SIG_DFL/SIG_IGN sentinel handler
// addresses: 0 restores the signal's POSIX-default disposition, 1 installs
// an explicit ignore, anything else is a real handler address (§4.10
// rt_sigaction "installs a handler, SIG_DFL, or SIG_IGN").
const (
	sigDfl uintptr = 0
	sigIgn uintptr = 1
)

func (d *Dispatcher) sysRtSigaction(caller *proc.Process, sig int32, handlerAddr uintptr) int64 {
	var action signal.Action
	switch handlerAddr {
	case sigDfl:
		action = signal.DefaultAction(signal.Signal(sig))
	case sigIgn:
		action = signal.Action{Kind: signal.Ignore}
	default:
		action = signal.Action{Kind: signal.Handler, HandlerAddr: handlerAddr}
	}
	if err := caller.Signals.SetAction(signal.Signal(sig), action); err != nil {
		return kerr.Negate(err)
	}
	return 0
}

func (d *Dispatcher) sysPipe(caller *proc.Process, fdsVA uintptr) int64 {
	r, w := pipe.New()
	rfd, err := caller.Files.Open(r, false)
	if err != nil {
		return kerr.Negate(err)
	}
	wfd, err := caller.Files.Open(w, false)
	if err != nil {
		caller.Files.Close(rfd)
		return kerr.Negate(err)
	}
	if err := d.uio(caller).Write(fdsVA, 4, uint64(uint32(rfd))); err != nil {
		return kerr.Negate(err)
	}
	if err := d.uio(caller).Write(fdsVA+4, 4, uint64(uint32(wfd))); err != nil {
		return kerr.Negate(err)
	}
	return 0
}

// pollFd mirrors struct pollfd's wire layout: a 4-byte fd, 2-byte requested
// events, 2-byte returned events.
const pollFdSize = 8

func (d *Dispatcher) sysPoll(caller *proc.Process, fdsVA uintptr, nfds int, timeoutMs int) int64 {
	if nfds < 0 {
		return kerr.Negate(kerr.Of(kerr.EINVAL))
	}
	uio := d.uio(caller)

	type entry struct {
		fdNum int
		want  uint16
		va    uintptr
	}
	entries := make([]entry, nfds)
	for i := 0; i < nfds; i++ {
		va := fdsVA + uintptr(i)*pollFdSize
		rawFd, err := uio.Read(va, 4)
		if err != nil {
			return kerr.Negate(err)
		}
		events, err := uio.Read(va+4, 2)
		if err != nil {
			return kerr.Negate(err)
		}
		entries[i] = entry{fdNum: int(int32(rawFd)), want: uint16(events), va: va}
	}

	const pollin, pollout = 0x0001, 0x0004

	check := func() (int, bool) {
		ready := 0
		for _, e := range entries {
			if e.fdNum < 0 {
				continue
			}
			of, err := caller.Files.Get(e.fdNum)
			if err != nil {
				uio.Write(e.va+6, 2, 0x0008) // POLLERR
				ready++
				continue
			}
			st := of.File.Poll()
			var revents uint16
			if e.want&pollin != 0 && st.Readable {
				revents |= pollin
			}
			if e.want&pollout != 0 && st.Writable {
				revents |= pollout
			}
			if revents != 0 {
				uio.Write(e.va+6, 2, uint64(revents))
				ready++
			}
		}
		return ready, ready > 0
	}

	if n, done := check(); done || timeoutMs == 0 || nfds == 0 {
		return int64(n)
	}

	q := caller.PollScratchQueue()
	n, err := proc.Sleep(d.Procs.Scheduler(), caller, q, func() (int, bool, *kerr.Error) {
		n, done := check()
		return n, done, nil
	})
	if err != nil {
		return kerr.Negate(err)
	}
	return int64(n)
}

// fdSetWords is the fixed word count of a glibc-shaped fd_set: FDMax bits
// packed into 8-byte words, regardless of the caller's nfds.
const fdSetWords = config.FDMax / 64

func fdSetTestBit(uio *userio.Access, base uintptr, fd int) (bool, *kerr.Error) {
	word, err := uio.Read(base+uintptr(fd/64)*8, 8)
	if err != nil {
		return false, err
	}
	return word&(uint64(1)<<uint(fd%64)) != 0, nil
}

func fdSetSetBit(uio *userio.Access, base uintptr, fd int) *kerr.Error {
	word, err := uio.Read(base+uintptr(fd/64)*8, 8)
	if err != nil {
		return err
	}
	word |= uint64(1) << uint(fd%64)
	return uio.Write(base+uintptr(fd/64)*8, 8, word)
}

func fdSetClearAll(uio *userio.Access, base uintptr) *kerr.Error {
	for i := 0; i < fdSetWords; i++ {
		if err := uio.Write(base+uintptr(i)*8, 8, 0); err != nil {
			return err
		}
	}
	return nil
}

// selectFdSet is a snapshot of one of select's three fd_set arguments: its
// user-space base (0 if the caller passed NULL) and the fds it names.
type selectFdSet struct {
	va  uintptr
	fds []int
}

func readSelectFdSet(uio *userio.Access, va uintptr, nfds int) (selectFdSet, *kerr.Error) {
	if va == 0 {
		return selectFdSet{}, nil
	}
	set := selectFdSet{va: va}
	for fd := 0; fd < nfds; fd++ {
		on, err := fdSetTestBit(uio, va, fd)
		if err != nil {
			return selectFdSet{}, err
		}
		if on {
			set.fds = append(set.fds, fd)
		}
	}
	return set, nil
}

func writeSelectResult(uio *userio.Access, set selectFdSet, ready map[int]bool) *kerr.Error {
	if set.va == 0 {
		return nil
	}
	if err := fdSetClearAll(uio, set.va); err != nil {
		return err
	}
	for fd := range ready {
		if err := fdSetSetBit(uio, set.va, fd); err != nil {
			return err
		}
	}
	return nil
}

// sysSelect implements select(2) by sharing sysPoll's wait-queue machinery
// over a differently-shaped argument set: three glibc-style fd_set bitmaps
// (read/write/except) instead of an array of struct pollfd, and a struct
// timeval instead of a millisecond count. Unlike sysPoll, which marks a bad
// fd POLLERR and keeps going, select(2)'s contract is to fail the whole call
// with EBADF the moment any named fd doesn't resolve. exceptfds is accepted
// but never reports anything ready: this kernel has no notion of
// out-of-band/exceptional conditions to report on it.
func (d *Dispatcher) sysSelect(caller *proc.Process, nfds int, readVA, writeVA, exceptVA, timevalVA uintptr) int64 {
	if nfds < 0 || nfds > config.FDMax {
		return kerr.Negate(kerr.Of(kerr.EINVAL))
	}
	uio := d.uio(caller)

	readSet, err := readSelectFdSet(uio, readVA, nfds)
	if err != nil {
		return kerr.Negate(err)
	}
	writeSet, err := readSelectFdSet(uio, writeVA, nfds)
	if err != nil {
		return kerr.Negate(err)
	}
	exceptSet, err := readSelectFdSet(uio, exceptVA, nfds)
	if err != nil {
		return kerr.Negate(err)
	}
	for _, set := range []selectFdSet{readSet, writeSet, exceptSet} {
		for _, fd := range set.fds {
			if _, ferr := caller.Files.Get(fd); ferr != nil {
				return kerr.Negate(kerr.Of(kerr.EBADF))
			}
		}
	}

	hasTimeout := false
	timeoutMs := 0
	if timevalVA != 0 {
		sec, terr := uio.Read(timevalVA, 8)
		if terr != nil {
			return kerr.Negate(terr)
		}
		usec, terr := uio.Read(timevalVA+8, 8)
		if terr != nil {
			return kerr.Negate(terr)
		}
		hasTimeout = true
		timeoutMs = int(sec)*1000 + int(usec)/1000
	}

	readyRead := map[int]bool{}
	readyWrite := map[int]bool{}
	check := func() (int, bool) {
		n := 0
		for _, fd := range readSet.fds {
			of, _ := caller.Files.Get(fd)
			if of.File.Poll().Readable {
				readyRead[fd] = true
				n++
			}
		}
		for _, fd := range writeSet.fds {
			of, _ := caller.Files.Get(fd)
			if of.File.Poll().Writable {
				readyWrite[fd] = true
				n++
			}
		}
		return n, n > 0
	}

	n, done := check()
	if !done && (!hasTimeout || timeoutMs != 0) {
		q := caller.PollScratchQueue()
		var serr *kerr.Error
		n, serr = proc.Sleep(d.Procs.Scheduler(), caller, q, func() (int, bool, *kerr.Error) {
			for k := range readyRead {
				delete(readyRead, k)
			}
			for k := range readyWrite {
				delete(readyWrite, k)
			}
			n, done := check()
			return n, done, nil
		})
		if serr != nil {
			return kerr.Negate(serr)
		}
	}

	if err := writeSelectResult(uio, readSet, readyRead); err != nil {
		return kerr.Negate(err)
	}
	if err := writeSelectResult(uio, writeSet, readyWrite); err != nil {
		return kerr.Negate(err)
	}
	if err := writeSelectResult(uio, exceptSet, nil); err != nil {
		return kerr.Negate(err)
	}
	return int64(n)
}

// ioctler is the capability interface a FileLike may optionally implement
// to handle device-specific ioctl requests (e.g. internal/tty's
// TIOCGPGRP/TIOCSPGRP); anything that doesn't implement it returns 0 for
// every request, the same "unknown ioctl returns 0" default biscuit's
// devices fall back to.
type ioctler interface {
	Ioctl(req uint64, arg uintptr) (uintptr, *kerr.Error)
}

func (d *Dispatcher) sysIoctl(caller *proc.Process, fdNum int, req uint64, arg uintptr) int64 {
	of, err := caller.Files.Get(fdNum)
	if err != nil {
		return kerr.Negate(err)
	}
	ic, ok := of.File.(ioctler)
	if !ok {
		return 0
	}
	ret, ierr := ic.Ioctl(req, arg)
	if ierr != nil {
		return kerr.Negate(ierr)
	}
	return int64(ret)
}
