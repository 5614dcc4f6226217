// Package vfs implements the filesystem-independent abstractions (§4.8):
// the FileSystem/Directory/FileLike/Symlink capability interfaces, the
// mount tree (RootFs), and path resolution with symlink-loop detection.
// Grounded on the capability-variant inode shape teacher_src/fs/super.go
// and teacher_src/fs/blk.go imply (separate on-disk structures accessed
// through narrow typed views) generalized to an in-memory capability
// interface set, since this module has no on-disk format of its own to
// parse — memfs (the reference backend) is where disk-shaped field
// accessors like Superblock_t's would actually live, and it has none
// either, being purely in-memory.
package vfs

import (
	"sync"

	"github.com/biscuit-go/kernel/internal/config"
	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/stat"
	"github.com/biscuit-go/kernel/internal/ustr"
)

// PollStatus reports readiness bits for poll/select (§4.8 FileLike.poll).
type PollStatus struct {
	Readable bool
	Writable bool
}

// FileLike is the capability set of anything that can sit behind a file
// descriptor: regular files, directories opened for reading, devices,
// pipes, and sockets. Socket-flavoured operations default to EBADF for
// anything that is not actually a socket, and unknown ioctls return 0 —
// both mirrored here as the zero-value behavior embedders inherit.
type FileLike interface {
	Stat(st *stat.Stat_t) *kerr.Error
	Read(offset int64, buf []byte) (int, *kerr.Error)
	Write(offset int64, buf []byte) (int, *kerr.Error)
	Poll() PollStatus
}

// SocketDefaults gives FileLike implementations that are not sockets the
// uniform EBADF behavior for every socket-flavoured operation,
// embeddable so concrete types don't each repeat the same nine stubs.
type SocketDefaults struct{}

func (SocketDefaults) Bind(sockaddr []byte) *kerr.Error           { return kerr.Of(kerr.EBADF) }
func (SocketDefaults) Listen(backlog int) *kerr.Error             { return kerr.Of(kerr.EBADF) }
func (SocketDefaults) Accept() (FileLike, *kerr.Error)            { return nil, kerr.Of(kerr.EBADF) }
func (SocketDefaults) Connect(sockaddr []byte) *kerr.Error        { return kerr.Of(kerr.EBADF) }
func (SocketDefaults) SendTo(buf []byte, addr []byte) (int, *kerr.Error) {
	return 0, kerr.Of(kerr.EBADF)
}
func (SocketDefaults) RecvFrom(buf []byte) (int, []byte, *kerr.Error) {
	return 0, nil, kerr.Of(kerr.EBADF)
}
func (SocketDefaults) Shutdown(how int) *kerr.Error          { return kerr.Of(kerr.EBADF) }
func (SocketDefaults) GetSockName() ([]byte, *kerr.Error)    { return nil, kerr.Of(kerr.EBADF) }
func (SocketDefaults) GetPeerName() ([]byte, *kerr.Error)    { return nil, kerr.Of(kerr.EBADF) }
func (SocketDefaults) Ioctl(req uint64, arg uintptr) (uintptr, *kerr.Error) { return 0, nil }

// DirEntry is one entry produced by Directory.Readdir.
type DirEntry struct {
	Name ustr.Ustr
	Ino  uint64
}

// Directory is the capability set of an inode that can contain other
// inodes.
type Directory interface {
	FileLike
	Lookup(name ustr.Ustr) (Inode, *kerr.Error)
	Readdir(index int) (DirEntry, bool, *kerr.Error)
	CreateFile(name ustr.Ustr, mode uint32) (Inode, *kerr.Error)
	CreateDir(name ustr.Ustr, mode uint32) (Inode, *kerr.Error)
	Link(name ustr.Ustr, target Inode) *kerr.Error
}

// Symlink is the capability set of an inode that redirects path
// resolution.
type Symlink interface {
	Stat(st *stat.Stat_t) *kerr.Error
	LinkedTo() (ustr.Ustr, *kerr.Error)
}

// Inode is the common supertype path resolution walks; any inode
// implements at least one of Directory, FileLike, or Symlink in addition.
// An open interface needing only Ino is used rather than a closed sum type because Go has
// no sum types — callers type-assert to the capability they need, exactly
// the pattern resolve uses internally.
type Inode interface {
	Ino() uint64
}

// FileSystem is the capability set of a mountable filesystem.
type FileSystem interface {
	RootDir() Directory
}

// RootFs is the mount tree: one root filesystem plus a table from
// directory inode number to the filesystem mounted there (§4.8).
type RootFs struct {
	mu     sync.RWMutex
	root   FileSystem
	mounts map[uint64]FileSystem
}

// NewRootFs constructs a mount tree rooted at root.
func NewRootFs(root FileSystem) *RootFs {
	return &RootFs{root: root, mounts: make(map[uint64]FileSystem)}
}

// Mount installs fs at the directory identified by mountpointIno.
func (r *RootFs) Mount(mountpointIno uint64, fs FileSystem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounts[mountpointIno] = fs
}

// Root returns the root directory of the root filesystem.
func (r *RootFs) Root() Directory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root.RootDir()
}

// crossMount returns the directory resolution should continue in if dir's
// inode is a mount point, else dir unchanged.
func (r *RootFs) crossMount(dir Directory, ino uint64) Directory {
	r.mu.RLock()
	fs, ok := r.mounts[ino]
	r.mu.RUnlock()
	if !ok {
		return dir
	}
	return fs.RootDir()
}

// ResolveOpts controls path-resolution behavior.
type ResolveOpts struct {
	// FollowFinalSymlink controls whether a symlink named by the final
	// path component is followed (false for operations like lstat that
	// want the link itself).
	FollowFinalSymlink bool
}

// Resolve walks path starting from start (a directory), crossing mount
// points and following symlinks per opts, and returns the resulting inode.
// Symlink-loop detection bounds the nesting depth of symlink expansions (a
// link whose target again goes through a link) at config.ELoopMax (§4.8);
// links met one after another at the same depth are not counted together.
func (r *RootFs) Resolve(start Directory, path ustr.Ustr, opts ResolveOpts) (Inode, *kerr.Error) {
	dir := start
	if path.IsAbsolute() {
		dir = r.Root()
	}
	comps := ustr.Split(path)
	return r.resolveComponents(dir, comps, opts, 0)
}

func (r *RootFs) resolveComponents(dir Directory, comps []ustr.Ustr, opts ResolveOpts, loopDepth int) (Inode, *kerr.Error) {
	var cur Inode = dir
	for i, c := range comps {
		curDir, ok := cur.(Directory)
		if !ok {
			return nil, kerr.Of(kerr.ENOTDIR)
		}
		next, err := curDir.Lookup(c)
		if err != nil {
			return nil, err
		}

		isLast := i == len(comps)-1
		if sym, ok := next.(Symlink); ok && (!isLast || opts.FollowFinalSymlink) {
			if loopDepth >= config.ELoopMax {
				return nil, kerr.Of(kerr.ELOOP)
			}
			target, err := sym.LinkedTo()
			if err != nil {
				return nil, err
			}
			base := curDir
			if target.IsAbsolute() {
				base = r.Root()
			}
			resolved, err := r.resolveComponents(base, ustr.Split(target), opts, loopDepth+1)
			if err != nil {
				return nil, err
			}
			next = resolved
		}

		if nd, ok := next.(Directory); ok {
			next = r.crossMount(nd, next.Ino())
		}
		cur = next
	}
	return cur, nil
}
