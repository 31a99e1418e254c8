// Package fsys adapts the resolver, the handle table and the control
// namespace to FUSE.
//
// Ops holds the filesystem semantics as plain path/handle methods returning Go
// errors, so they can be exercised without a kernel. node.go wraps Ops in a
// go-fuse node tree and Mount serves it.
package fsys

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/IvanBrykalov/autohttpfs/attr"
	"github.com/IvanBrykalov/autohttpfs/control"
	"github.com/IvanBrykalov/autohttpfs/handle"
	"github.com/IvanBrykalov/autohttpfs/listing"
	"github.com/IvanBrykalov/autohttpfs/remote"
	"github.com/IvanBrykalov/autohttpfs/resolver"
)

const (
	DefaultDirMode  = 0o555
	DefaultFileMode = 0o444

	writeBits = unix.S_IWUSR | unix.S_IWGRP | unix.S_IWOTH
	execBits  = unix.S_IXUSR | unix.S_IXGRP | unix.S_IXOTH
)

// Options wires Ops to its collaborators. Resolver, Handles and Control are
// required.
type Options struct {
	Resolver *resolver.Resolver
	Handles  *handle.Table
	Control  *control.Namespace

	// ReadOnly strips every write bit from reported modes.
	ReadOnly bool
	// NoExec strips exec bits from regular files that carry permissions.
	NoExec bool
	// ListRoot merges the origin's root listing into "/". Off in auto-host
	// mode, where the root has no listing of its own.
	ListRoot bool

	// Base permission bits for records without their own; 0 means the
	// defaults above.
	DirMode  uint32
	FileMode uint32

	UID, GID uint32
	Logger   *zap.Logger
}

// Ops implements the filesystem operations. Safe for concurrent use.
type Ops struct {
	res *resolver.Resolver
	hs  *handle.Table
	ctl *control.Namespace

	readOnly bool
	noExec   bool
	listRoot bool
	dirMode  uint32
	fileMode uint32
	owner    fuse.Owner

	log *zap.Logger
}

// New constructs Ops. It panics on missing collaborators.
func New(opt Options) *Ops {
	if opt.Resolver == nil || opt.Handles == nil || opt.Control == nil {
		panic("fsys: Resolver, Handles and Control are required")
	}
	if opt.DirMode == 0 {
		opt.DirMode = DefaultDirMode
	}
	if opt.FileMode == 0 {
		opt.FileMode = DefaultFileMode
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	return &Ops{
		res:      opt.Resolver,
		hs:       opt.Handles,
		ctl:      opt.Control,
		readOnly: opt.ReadOnly,
		noExec:   opt.NoExec,
		listRoot: opt.ListRoot,
		dirMode:  opt.DirMode &^ unix.S_IFMT,
		fileMode: opt.FileMode &^ unix.S_IFMT,
		owner:    fuse.Owner{Uid: opt.UID, Gid: opt.GID},
		log:      opt.Logger.Named("fsys"),
	}
}

// Getattr returns the attributes of path.
func (o *Ops) Getattr(ctx context.Context, p string) (fuse.Attr, error) {
	if o.res.IsControl(p) {
		rec, err := o.ctl.Stat(p)
		if err != nil {
			return fuse.Attr{}, err
		}
		return o.controlAttr(rec), nil
	}
	rec, err := o.res.GetAttr(ctx, p)
	if err != nil {
		return fuse.Attr{}, fmt.Errorf("getattr %s: %w", p, err)
	}
	return o.remoteAttr(rec), nil
}

// remoteAttr applies the mount's mode policy to an origin record.
func (o *Ops) remoteAttr(rec attr.Record) fuse.Attr {
	a := fuse.Attr{Nlink: 1, Owner: o.owner}
	if rec.IsDir() {
		a.Mode = unix.S_IFDIR | (o.dirMode &^ writeBits) | unix.S_IXUSR
	} else {
		a.Mode = unix.S_IFREG | (o.fileMode &^ (writeBits | execBits))
		if !o.readOnly {
			a.Mode |= unix.S_IWUSR
		}
	}

	if rec.Perm() != 0 {
		a.Mode = rec.Mode &^ writeBits
		if !o.readOnly {
			a.Mode |= unix.S_IWUSR
		}
		if o.noExec && rec.IsRegular() {
			a.Mode &^= execBits
		}
	}
	if rec.Size != 0 {
		a.Size = rec.Size
		a.Blocks = (rec.Size + 511) / 512
	}
	if rec.Mtime != 0 {
		t := uint64(rec.Mtime)
		a.Atime, a.Mtime, a.Ctime = t, t, t
	}
	return a
}

func (o *Ops) controlAttr(rec attr.Record) fuse.Attr {
	t := uint64(rec.Mtime)
	return fuse.Attr{
		Mode:  rec.Mode,
		Size:  rec.Size,
		Nlink: 1,
		Owner: o.owner,
		Atime: t,
		Mtime: t,
		Ctime: t,
	}
}

// Opendir opens a directory session.
func (o *Ops) Opendir(ctx context.Context, p string) (uint64, error) {
	if o.res.IsControl(p) {
		rec, err := o.ctl.Stat(p)
		if err != nil {
			return 0, err
		}
		if !rec.IsDir() {
			return 0, fmt.Errorf("opendir %s: %w", p, ErrNotDir)
		}
		return o.hs.Alloc(handle.Dir, p, rec, nil).ID, nil
	}

	rec, err := o.res.GetAttr(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("opendir %s: %w", p, err)
	}
	if !rec.IsDir() {
		return 0, fmt.Errorf("opendir %s: %w", p, ErrNotDir)
	}
	return o.hs.Alloc(handle.Dir, p, rec, nil).ID, nil
}

// Readdir lists the directory behind fh. "." and ".." are left to the
// caller.
func (o *Ops) Readdir(ctx context.Context, fh uint64) ([]attr.Entry, error) {
	s, ok := o.hs.Find(fh)
	if !ok {
		return nil, fmt.Errorf("readdir %d: %w", fh, handle.ErrInvalidHandle)
	}
	if s.Kind != handle.Dir {
		return nil, fmt.Errorf("readdir %s: %w", s.Path, ErrNotDir)
	}

	switch {
	case o.res.IsControl(s.Path):
		return o.ctl.Readdir(s.Path)
	case s.Path == "/":
		entries := []attr.Entry{{Name: o.ctl.Name(), Record: attr.Dir()}}
		if !o.listRoot {
			return entries, nil
		}
		remoteEntries, err := o.list(ctx, "/")
		if err != nil {
			return nil, err
		}
		for _, e := range remoteEntries {
			// Hidden top-level names never resolve.
			if strings.HasPrefix(e.Name, ".") {
				continue
			}
			entries = append(entries, e)
		}
		return entries, nil
	default:
		return o.list(ctx, s.Path)
	}
}

// list fetches and parses the origin listing of a directory. Anything but a
// 200 text/json reply is an empty directory.
func (o *Ops) list(ctx context.Context, p string) ([]attr.Entry, error) {
	res, body, err := o.res.Prober().GetText(ctx, p, remote.AcceptListing)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", p, err)
	}
	if res.StatusCode != http.StatusOK {
		o.log.Debug("listing unavailable", zap.String("path", p), zap.Int("status", res.StatusCode))
		return nil, nil
	}
	if mt, _, _ := mime.ParseMediaType(res.ContentType); mt != remote.AcceptStat {
		o.log.Debug("listing not json", zap.String("path", p), zap.String("content_type", res.ContentType))
		return nil, nil
	}

	r := listing.Parse(body)
	switch r.Status {
	case listing.Malformed:
		o.log.Warn("malformed listing", zap.String("path", p), zap.Error(r.Err))
		return nil, nil
	case listing.Empty:
		return nil, nil
	}
	return r.Entries, nil
}

// Releasedir ends a directory session.
func (o *Ops) Releasedir(fh uint64) error {
	return o.hs.Release(fh)
}

// Open opens a file session. Remote files are read-only; control files
// snapshot their value and buffer writes until Release.
func (o *Ops) Open(ctx context.Context, p string, flags uint32) (uint64, error) {
	write := flags&syscall.O_ACCMODE != syscall.O_RDONLY

	if o.res.IsControl(p) {
		f, err := o.ctl.Open(p, write)
		if err != nil {
			return 0, err
		}
		if flags&syscall.O_TRUNC != 0 && write {
			if err := f.Truncate(0); err != nil {
				return 0, err
			}
		}
		rec, _ := o.ctl.Stat(p)
		return o.hs.Alloc(handle.Control, p, rec, f).ID, nil
	}

	rec, err := o.res.GetAttr(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", p, err)
	}
	if rec.IsDir() {
		return 0, fmt.Errorf("open %s: %w", p, ErrIsDir)
	}
	if write {
		return 0, fmt.Errorf("open %s for writing: %w", p, ErrUnsupported)
	}
	return o.hs.Alloc(handle.File, p, rec, nil).ID, nil
}

// Read fills dest from offset off of the file behind fh.
func (o *Ops) Read(ctx context.Context, fh uint64, dest []byte, off int64) (int, error) {
	s, ok := o.hs.Find(fh)
	if !ok {
		return 0, fmt.Errorf("read %d: %w", fh, handle.ErrInvalidHandle)
	}
	switch s.Kind {
	case handle.Control:
		return s.Delegate.(*control.File).Read(dest, off), nil
	case handle.Dir:
		return 0, fmt.Errorf("read %s: %w", s.Path, ErrIsDir)
	}

	size := int64(s.Record.Size)
	if off < 0 || off >= size {
		return 0, nil
	}
	if rest := size - off; int64(len(dest)) > rest {
		dest = dest[:rest]
	}
	n, _, err := o.res.Prober().GetRange(ctx, s.Path, dest, off)
	if err != nil {
		return 0, fmt.Errorf("read %s at %d: %w", s.Path, off, err)
	}
	return n, nil
}

// Write buffers data into a control file. Remote files reject writes.
func (o *Ops) Write(fh uint64, data []byte, off int64) (int, error) {
	s, ok := o.hs.Find(fh)
	if !ok {
		return 0, fmt.Errorf("write %d: %w", fh, handle.ErrInvalidHandle)
	}
	if s.Kind != handle.Control {
		return 0, fmt.Errorf("write %s: %w", s.Path, ErrUnsupported)
	}
	return s.Delegate.(*control.File).Write(data, off)
}

// Truncate resizes a control file's buffer. fh is 0 for truncate(2) by path,
// which is accepted on writable control files and applies nothing by itself.
func (o *Ops) Truncate(ctx context.Context, p string, fh uint64, size int64) error {
	if fh != 0 {
		s, ok := o.hs.Find(fh)
		if !ok {
			return fmt.Errorf("truncate %d: %w", fh, handle.ErrInvalidHandle)
		}
		if s.Kind == handle.Control {
			return s.Delegate.(*control.File).Truncate(size)
		}
		return fmt.Errorf("truncate %s: %w", s.Path, ErrUnsupported)
	}

	if o.res.IsControl(p) {
		rec, err := o.ctl.Stat(p)
		if err != nil {
			return err
		}
		if rec.IsDir() {
			return fmt.Errorf("truncate %s: %w", p, ErrIsDir)
		}
		if rec.Perm()&unix.S_IWUSR == 0 {
			return fmt.Errorf("truncate %s: %w", p, control.ErrReadOnly)
		}
		return nil
	}
	return fmt.Errorf("truncate %s: %w", path.Clean(p), ErrUnsupported)
}

// HandleSize reports the live buffer size of an open control file.
func (o *Ops) HandleSize(fh uint64) (uint64, bool) {
	s, ok := o.hs.Find(fh)
	if !ok || s.Kind != handle.Control {
		return 0, false
	}
	return uint64(s.Delegate.(*control.File).Size()), true
}

// Flush validates fh; there is nothing to write back.
func (o *Ops) Flush(fh uint64) error {
	if _, ok := o.hs.Find(fh); !ok {
		return fmt.Errorf("flush %d: %w", fh, handle.ErrInvalidHandle)
	}
	return nil
}

// Release ends a file session. For control files this applies the buffered
// value.
func (o *Ops) Release(fh uint64) error {
	return o.hs.Release(fh)
}
