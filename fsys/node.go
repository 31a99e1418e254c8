package fsys

import (
	"context"
	"path"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/IvanBrykalov/autohttpfs/attr"
)

// node is one path in the mount. Every operation is delegated to Ops.
type node struct {
	gofuse.Inode
	ops  *Ops
	path string
}

var _ gofuse.InodeEmbedder = (*node)(nil)
var _ gofuse.NodeLookuper = (*node)(nil)
var _ gofuse.NodeGetattrer = (*node)(nil)
var _ gofuse.NodeSetattrer = (*node)(nil)
var _ gofuse.NodeOpendirer = (*node)(nil)
var _ gofuse.NodeReaddirer = (*node)(nil)
var _ gofuse.NodeOpener = (*node)(nil)
var _ gofuse.NodeReader = (*node)(nil)
var _ gofuse.NodeWriter = (*node)(nil)
var _ gofuse.NodeFlusher = (*node)(nil)
var _ gofuse.NodeReleaser = (*node)(nil)

// fileHandle carries a session id through go-fuse.
type fileHandle struct {
	id uint64
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	p := path.Join(n.path, name)
	a, err := n.ops.Getattr(ctx, p)
	if errno := ToErrno(err); errno != 0 {
		if errno != syscall.ENOENT {
			n.ops.log.Debug("lookup failed", zap.String("path", p), zap.Error(err))
		}
		return nil, errno
	}
	out.Attr = a
	child := &node{ops: n.ops, path: p}
	return n.NewInode(ctx, child, gofuse.StableAttr{Mode: a.Mode & unix.S_IFMT}), 0
}

func (n *node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	a, err := n.ops.Getattr(ctx, n.path)
	if errno := ToErrno(err); errno != 0 {
		return errno
	}
	if fh, ok := f.(*fileHandle); ok {
		if size, ok := n.ops.HandleSize(fh.id); ok {
			a.Size = size
		}
	}
	out.Attr = a
	return 0
}

// Setattr supports only size changes, and only on control files.
func (n *node) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		var id uint64
		if fh, ok := f.(*fileHandle); ok {
			id = fh.id
		}
		if errno := ToErrno(n.ops.Truncate(ctx, n.path, id, int64(size))); errno != 0 {
			return errno
		}
	}
	return n.Getattr(ctx, f, out)
}

func (n *node) Opendir(ctx context.Context) syscall.Errno {
	fh, err := n.ops.Opendir(ctx, n.path)
	if err != nil {
		return ToErrno(err)
	}
	_ = n.ops.Releasedir(fh)
	return 0
}

func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	fh, err := n.ops.Opendir(ctx, n.path)
	if err != nil {
		return nil, ToErrno(err)
	}
	defer n.ops.Releasedir(fh)

	entries, err := n.ops.Readdir(ctx, fh)
	if err != nil {
		n.ops.log.Warn("readdir failed", zap.String("path", n.path), zap.Error(err))
		return nil, ToErrno(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: direntMode(e.Record)})
	}
	return gofuse.NewListDirStream(out), 0
}

func direntMode(rec attr.Record) uint32 {
	if t := rec.Type(); t != 0 {
		return t
	}
	return unix.S_IFREG
}

func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	fh, err := n.ops.Open(ctx, n.path, flags)
	if err != nil {
		return nil, 0, ToErrno(err)
	}
	if n.ops.res.IsControl(n.path) {
		// Control values change under us; never serve them from page cache.
		return &fileHandle{id: fh}, fuse.FOPEN_DIRECT_IO, 0
	}
	return &fileHandle{id: fh}, 0, 0
}

func (n *node) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fh, ok := f.(*fileHandle)
	if !ok {
		return nil, syscall.EINVAL
	}
	nread, err := n.ops.Read(ctx, fh.id, dest, off)
	if err != nil {
		n.ops.log.Warn("read failed", zap.String("path", n.path), zap.Int64("off", off), zap.Error(err))
		return nil, ToErrno(err)
	}
	return fuse.ReadResultData(dest[:nread]), 0
}

func (n *node) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	fh, ok := f.(*fileHandle)
	if !ok {
		return 0, syscall.ENOTSUP
	}
	written, err := n.ops.Write(fh.id, data, off)
	if err != nil {
		return 0, ToErrno(err)
	}
	return uint32(written), 0
}

func (n *node) Flush(ctx context.Context, f gofuse.FileHandle) syscall.Errno {
	fh, ok := f.(*fileHandle)
	if !ok {
		return 0
	}
	return ToErrno(n.ops.Flush(fh.id))
}

func (n *node) Release(ctx context.Context, f gofuse.FileHandle) syscall.Errno {
	fh, ok := f.(*fileHandle)
	if !ok {
		return 0
	}
	if err := n.ops.Release(fh.id); err != nil {
		n.ops.log.Warn("release failed", zap.String("path", n.path), zap.Error(err))
		return ToErrno(err)
	}
	return 0
}
