package vfs_test

import (
	"testing"

	"github.com/biscuit-go/kernel/internal/kerr"
	"github.com/biscuit-go/kernel/internal/memfs"
	"github.com/biscuit-go/kernel/internal/ustr"
	"github.com/biscuit-go/kernel/internal/vfs"
)

func TestResolveSimplePath(t *testing.T) {
	fs := memfs.New()
	root := fs.RootDir()
	root.CreateDir(ustr.Ustr("a"), 0o755)
	a, _ := root.Lookup(ustr.Ustr("a"))
	aDir := a.(vfs.Directory)
	aDir.CreateFile(ustr.Ustr("b.txt"), 0o644)

	rfs := vfs.NewRootFs(fs)
	ino, err := rfs.Resolve(root, ustr.Ustr("/a/b.txt"), vfs.ResolveOpts{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ino == nil {
		t.Fatalf("expected non-nil inode")
	}
}

func TestResolveMissingComponentENOENT(t *testing.T) {
	fs := memfs.New()
	root := fs.RootDir()
	rfs := vfs.NewRootFs(fs)
	_, err := rfs.Resolve(root, ustr.Ustr("/nope"), vfs.ResolveOpts{})
	if err == nil || err.Errno != kerr.ENOENT {
		t.Fatalf("expected ENOENT, got %v", err)
	}
}

func TestResolveNonDirectoryComponentENOTDIR(t *testing.T) {
	fs := memfs.New()
	root := fs.RootDir()
	root.CreateFile(ustr.Ustr("f"), 0o644)
	rfs := vfs.NewRootFs(fs)
	_, err := rfs.Resolve(root, ustr.Ustr("/f/g"), vfs.ResolveOpts{})
	if err == nil || err.Errno != kerr.ENOTDIR {
		t.Fatalf("expected ENOTDIR, got %v", err)
	}
}

func TestResolveFollowsSymlink(t *testing.T) {
	fs := memfs.New()
	root := fs.RootDir()
	root.CreateFile(ustr.Ustr("real"), 0o644)
	memfs.NewSymlink(root, ustr.Ustr("link"), ustr.Ustr("/real"))

	rfs := vfs.NewRootFs(fs)
	ino, err := rfs.Resolve(root, ustr.Ustr("/link"), vfs.ResolveOpts{FollowFinalSymlink: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	real, _ := root.Lookup(ustr.Ustr("real"))
	if ino.Ino() != real.Ino() {
		t.Fatalf("expected symlink to resolve to the real file's inode")
	}
}

func TestResolveWithoutFollowFinalSymlinkReturnsLinkItself(t *testing.T) {
	fs := memfs.New()
	root := fs.RootDir()
	root.CreateFile(ustr.Ustr("real"), 0o644)
	linkIno, _ := memfs.NewSymlink(root, ustr.Ustr("link"), ustr.Ustr("/real"))

	rfs := vfs.NewRootFs(fs)
	ino, err := rfs.Resolve(root, ustr.Ustr("/link"), vfs.ResolveOpts{FollowFinalSymlink: false})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ino.Ino() != linkIno.Ino() {
		t.Fatalf("expected the symlink inode itself, not its target")
	}
}

func TestResolveDetectsSymlinkLoop(t *testing.T) {
	fs := memfs.New()
	root := fs.RootDir()
	memfs.NewSymlink(root, ustr.Ustr("a"), ustr.Ustr("/b"))
	memfs.NewSymlink(root, ustr.Ustr("b"), ustr.Ustr("/a"))

	rfs := vfs.NewRootFs(fs)
	_, err := rfs.Resolve(root, ustr.Ustr("/a"), vfs.ResolveOpts{FollowFinalSymlink: true})
	if err == nil || err.Errno != kerr.ELOOP {
		t.Fatalf("expected ELOOP, got %v", err)
	}
}

func TestResolveCrossesMountPoint(t *testing.T) {
	base := memfs.New()
	root := base.RootDir()
	mountDirIno, _ := root.CreateDir(ustr.Ustr("mnt"), 0o755)

	mounted := memfs.New()
	mounted.RootDir().CreateFile(ustr.Ustr("inner"), 0o644)

	rfs := vfs.NewRootFs(base)
	rfs.Mount(mountDirIno.Ino(), mounted)

	ino, err := rfs.Resolve(root, ustr.Ustr("/mnt/inner"), vfs.ResolveOpts{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want, _ := mounted.RootDir().Lookup(ustr.Ustr("inner"))
	if ino.Ino() != want.Ino() {
		t.Fatalf("expected resolution to cross into the mounted filesystem")
	}
}
