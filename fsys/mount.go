package fsys

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
)

// DefaultMaxReadahead matches the kernel's usual 128 KiB window.
const DefaultMaxReadahead = 128 << 10

// MountOptions configures the FUSE server.
type MountOptions struct {
	Mountpoint   string
	AllowOther   bool
	Debug        bool
	MaxReadahead int

	// Zero means one second for entries and attributes and 100ms for
	// negative lookups.
	EntryTimeout    time.Duration
	AttrTimeout     time.Duration
	NegativeTimeout time.Duration
}

// Mount serves ops at opt.Mountpoint. The server is unmounted when ctx is
// cancelled; callers wait on the returned server.
func Mount(ctx context.Context, ops *Ops, opt MountOptions) (*fuse.Server, error) {
	if ops == nil {
		return nil, errors.New("fsys: ops are required")
	}
	if opt.Mountpoint == "" {
		return nil, errors.New("fsys: mountpoint is required")
	}
	if opt.MaxReadahead <= 0 {
		opt.MaxReadahead = DefaultMaxReadahead
	}
	if opt.EntryTimeout <= 0 {
		opt.EntryTimeout = time.Second
	}
	if opt.AttrTimeout <= 0 {
		opt.AttrTimeout = time.Second
	}
	if opt.NegativeTimeout <= 0 {
		opt.NegativeTimeout = 100 * time.Millisecond
	}

	if err := os.MkdirAll(opt.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", opt.Mountpoint, err)
	}

	root := &node{ops: ops, path: "/"}
	server, err := gofuse.Mount(opt.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &opt.EntryTimeout,
		AttrTimeout:     &opt.AttrTimeout,
		NegativeTimeout: &opt.NegativeTimeout,
		UID:             ops.owner.Uid,
		GID:             ops.owner.Gid,
		MountOptions: fuse.MountOptions{
			FsName:       "autohttpfs",
			Name:         "autohttpfs",
			AllowOther:   opt.AllowOther,
			Debug:        opt.Debug,
			MaxReadAhead: opt.MaxReadahead,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", opt.Mountpoint, err)
	}

	go func() {
		<-ctx.Done()
		if err := server.Unmount(); err != nil {
			ops.log.Error("unmount failed", zap.String("mountpoint", opt.Mountpoint), zap.Error(err))
		}
	}()

	ops.log.Info("mounted", zap.String("mountpoint", opt.Mountpoint), zap.Bool("readonly", ops.readOnly))
	return server, nil
}
