// Package memfs is the reference in-memory filesystem backend: the
// concrete FileSystem/Directory/FileLike/Symlink implementation exercised
// by the VFS's tests and the demo boot sequence.
// No biscuit fragment survived retrieval for an in-memory filesystem
// (teacher_src/fs holds only the on-disk ufs superblock/block-cache
// shape), so the node/inode-table layout here is grounded instead on
// teacher_src/mem/mem.go's per-allocation bookkeeping idiom and the stat
// field layout from internal/stat. Nodes carry no reference counts: a node
// nothing refers to any more is reclaimed by Go's garbage collector.
package memfs

import (
	"sync"
	"time"

	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/stat"
	"github.com/biscuit-go/kernel/internal/ustr"
	"github.com/biscuit-go/kernel/internal/vfs"
)

// kind distinguishes the three node shapes memfs supports.
type kind int

const (
	kindFile kind = iota
	kindDir
	kindSymlink
)

// node is the single concrete inode type memfs uses for files,
// directories, and symlinks alike; its fields beyond kind are only
// meaningful for the matching kind.
type node struct {
	mu     sync.Mutex
	ino    uint64
	k      kind
	mode   uint32
	mtime  int64
	parent *node // kindDir; nil for the filesystem root

	data     []byte           // kindFile
	children map[string]*node // kindDir
	order    []string         // kindDir, insertion order for Readdir
	linkDest ustr.Ustr        // kindSymlink
}

func (n *node) Ino() uint64 { return n.ino }

func (n *node) Stat(st *stat.Stat_t) *kerr.Error {
	n.mu.Lock()
	defer n.mu.Unlock()
	st.SetIno(n.ino)
	st.SetMode(uint64(n.mode) | n.modeBits())
	st.SetMtime(uint64(n.mtime))
	switch n.k {
	case kindFile:
		st.SetSize(uint64(len(n.data)))
		st.SetBlocks(uint64((len(n.data) + 511) / 512))
	case kindSymlink:
		st.SetSize(uint64(len(n.linkDest)))
	}
	return nil
}

func (n *node) modeBits() uint64 {
	switch n.k {
	case kindDir:
		return stat.IFDIR
	case kindSymlink:
		return stat.IFLNK
	default:
		return stat.IFREG
	}
}

func (n *node) Read(offset int64, buf []byte) (int, *kerr.Error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.k != kindFile {
		return 0, kerr.Of(kerr.EBADF)
	}
	if offset < 0 || offset >= int64(len(n.data)) {
		return 0, nil
	}
	return copy(buf, n.data[offset:]), nil
}

func (n *node) Write(offset int64, buf []byte) (int, *kerr.Error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.k != kindFile {
		return 0, kerr.Of(kerr.EBADF)
	}
	end := offset + int64(len(buf))
	if end > int64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[offset:end], buf)
	n.mtime = nowStamp()
	return len(buf), nil
}

func (n *node) Poll() vfs.PollStatus {
	return vfs.PollStatus{Readable: true, Writable: true}
}

func (n *node) LinkedTo() (ustr.Ustr, *kerr.Error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.k != kindSymlink {
		return nil, kerr.Of(kerr.EINVAL)
	}
	return n.linkDest, nil
}

func (n *node) Lookup(name ustr.Ustr) (vfs.Inode, *kerr.Error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.k != kindDir {
		return nil, kerr.Of(kerr.ENOTDIR)
	}
	if name.IsDot() {
		return n, nil
	}
	if name.IsDotDot() {
		if n.parent == nil {
			return n, nil
		}
		return n.parent, nil
	}
	child, ok := n.children[name.String()]
	if !ok {
		return nil, kerr.Of(kerr.ENOENT)
	}
	return child, nil
}

func (n *node) Readdir(index int) (vfs.DirEntry, bool, *kerr.Error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.k != kindDir {
		return vfs.DirEntry{}, false, kerr.Of(kerr.ENOTDIR)
	}
	if index < 0 || index >= len(n.order) {
		return vfs.DirEntry{}, false, nil
	}
	name := n.order[index]
	child := n.children[name]
	return vfs.DirEntry{Name: ustr.Ustr(name), Ino: child.ino}, true, nil
}

func (n *node) CreateFile(name ustr.Ustr, mode uint32) (vfs.Inode, *kerr.Error) {
	return n.create(name, mode, kindFile)
}

func (n *node) CreateDir(name ustr.Ustr, mode uint32) (vfs.Inode, *kerr.Error) {
	child, err := n.create(name, mode, kindDir)
	if err != nil {
		return nil, err
	}
	child.(*node).children = make(map[string]*node)
	return child, nil
}

func (n *node) create(name ustr.Ustr, mode uint32, k kind) (vfs.Inode, *kerr.Error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.k != kindDir {
		return nil, kerr.Of(kerr.ENOTDIR)
	}
	key := name.String()
	if _, exists := n.children[key]; exists {
		return nil, kerr.Of(kerr.EINVAL)
	}
	child := &node{ino: nextIno(), k: k, mode: mode, mtime: nowStamp(), parent: n}
	n.children[key] = child
	n.order = append(n.order, key)
	return child, nil
}

func (n *node) Link(name ustr.Ustr, target vfs.Inode) *kerr.Error {
	tn, ok := target.(*node)
	if !ok {
		return kerr.Of(kerr.EINVAL)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.k != kindDir {
		return kerr.Of(kerr.ENOTDIR)
	}
	key := name.String()
	if _, exists := n.children[key]; exists {
		return kerr.Of(kerr.EINVAL)
	}
	n.children[key] = tn
	n.order = append(n.order, key)
	return nil
}

// FS is an in-memory filesystem: one node tree rooted at Root.
type FS struct {
	root *node
}

// New constructs an empty in-memory filesystem with just a root directory.
func New() *FS {
	return &FS{root: &node{ino: nextIno(), k: kindDir, mode: 0o755, children: make(map[string]*node), mtime: nowStamp()}}
}

func (f *FS) RootDir() vfs.Directory { return f.root }

// NewSymlink creates a symlink named name in dir pointing at target. memfs
// exposes this directly since vfs.Directory has no CreateSymlink capability
// of its own (vfs.Directory's own interface omits it; link
// creation for plain files already covers the "point a name at an existing
// inode" case).
func NewSymlink(dir vfs.Directory, name ustr.Ustr, target ustr.Ustr) (vfs.Inode, *kerr.Error) {
	n, ok := dir.(*node)
	if !ok {
		return nil, kerr.Of(kerr.EINVAL)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.k != kindDir {
		return nil, kerr.Of(kerr.ENOTDIR)
	}
	key := name.String()
	if _, exists := n.children[key]; exists {
		return nil, kerr.Of(kerr.EINVAL)
	}
	child := &node{ino: nextIno(), k: kindSymlink, linkDest: target, mode: 0o777, mtime: nowStamp()}
	n.children[key] = child
	n.order = append(n.order, key)
	return child, nil
}

var inoCounter struct {
	mu  sync.Mutex
	cur uint64
}

func nextIno() uint64 {
	inoCounter.mu.Lock()
	defer inoCounter.mu.Unlock()
	inoCounter.cur++
	return inoCounter.cur
}

// nowStamp returns the current time in nanoseconds; every mtime memfs
// records comes from it.
func nowStamp() int64 { return time.Now().UnixNano() }
