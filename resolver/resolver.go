// Package resolver decides what a mount path is: a directory, a regular
// file, or nothing. Answers come from the attribute cache when possible and
// otherwise from two HEAD probes against the origin.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/IvanBrykalov/autohttpfs/attr"
	"github.com/IvanBrykalov/autohttpfs/cache"
	"github.com/IvanBrykalov/autohttpfs/remote"
)

// ErrNotFound means neither probe classified the path.
var ErrNotFound = errors.New("resolver: not found")

// DefaultControlPrefix is where the control namespace is mounted.
const DefaultControlPrefix = "/.proc"

// Options configures a Resolver. Cache and Prober are required.
type Options struct {
	Cache  cache.Cache[string, attr.Record]
	Prober remote.Prober
	// ControlPrefix is never probed; empty means DefaultControlPrefix.
	ControlPrefix string
	Logger        *zap.Logger
}

// Resolver classifies paths. Safe for concurrent use.
type Resolver struct {
	cache   cache.Cache[string, attr.Record]
	probe   remote.Prober
	control string
	log     *zap.Logger

	// Concurrent misses for one path share a single pair of probes.
	sf singleflight.Group
}

// New constructs a Resolver. It panics on missing collaborators.
func New(opt Options) *Resolver {
	if opt.Cache == nil || opt.Prober == nil {
		panic("resolver: Cache and Prober are required")
	}
	if opt.ControlPrefix == "" {
		opt.ControlPrefix = DefaultControlPrefix
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	return &Resolver{
		cache:   opt.Cache,
		probe:   opt.Prober,
		control: opt.ControlPrefix,
		log:     opt.Logger.Named("resolver"),
	}
}

// GetAttr returns the record for path. It fails with ErrNotFound when the
// origin has no such resource, or with a *remote.TransportError when the
// origin could not be asked.
func (r *Resolver) GetAttr(ctx context.Context, path string) (attr.Record, error) {
	if path == "/" {
		return attr.Dir(), nil
	}
	if r.IsControl(path) || strings.HasPrefix(path, "/.") {
		return attr.Record{}, ErrNotFound
	}
	if rec, ok := r.cache.Find(path); ok {
		return rec, nil
	}

	// The flight outlives any one caller; the HTTP client timeout bounds it.
	flightCtx := context.WithoutCancel(ctx)
	ch := r.sf.DoChan(path, func() (any, error) {
		// Another flight may have filled the cache while we queued.
		if rec, ok := r.cache.Find(path); ok {
			return rec, nil
		}
		rec, err := r.classify(flightCtx, path)
		if err != nil {
			return attr.Record{}, err
		}
		r.cache.Add(path, rec)
		return rec, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return attr.Record{}, ctx.Err()
	}
	if res.Shared {
		r.log.Debug("coalesced probe", zap.String("path", path))
	}
	if res.Err != nil {
		return attr.Record{}, res.Err
	}
	return res.Val.(attr.Record), nil
}

// Invalidate drops the cached record for path, if any.
func (r *Resolver) Invalidate(path string) bool {
	return r.cache.Remove(path)
}

// IsControl reports whether path lies in the control namespace.
func (r *Resolver) IsControl(path string) bool {
	return path == r.control || strings.HasPrefix(path, r.control+"/")
}

// ControlPrefix returns the control namespace root.
func (r *Resolver) ControlPrefix() string { return r.control }

// Cache exposes the attribute cache for tuning and dumps.
func (r *Resolver) Cache() cache.Cache[string, attr.Record] { return r.cache }

// Prober exposes the origin client for reads and listings.
func (r *Resolver) Prober() remote.Prober { return r.probe }

// classify runs the directory probe, then the file probe.
func (r *Resolver) classify(ctx context.Context, path string) (attr.Record, error) {
	var transportErr error

	res, err := r.probe.Head(ctx, path, remote.HeadOptions{Dir: true, Accept: remote.AcceptStat})
	switch {
	case err != nil:
		if !isTransport(err) {
			return attr.Record{}, fmt.Errorf("resolve %s: %w", path, err)
		}
		transportErr = err
	case res.StatusCode == http.StatusOK || res.StatusCode == http.StatusForbidden:
		rec := attr.Dir()
		if res.HasStat && res.Stat.IsDir() {
			rec.Mode = res.Stat.Mode
			rec.Mtime = res.Stat.Mtime
		}
		r.log.Debug("classified", zap.String("path", path), zap.String("type", "dir"), zap.Int("status", res.StatusCode))
		return rec, nil
	}

	res, err = r.probe.Head(ctx, path, remote.HeadOptions{})
	switch {
	case err != nil:
		if !isTransport(err) {
			return attr.Record{}, fmt.Errorf("resolve %s: %w", path, err)
		}
		transportErr = err
	case res.StatusCode == http.StatusOK:
		rec := attr.Regular(0)
		if res.ContentLength > 0 {
			rec.Size = uint64(res.ContentLength)
		}
		if res.HasStat && res.Stat.IsRegular() {
			rec.Mode = res.Stat.Mode
			rec.Mtime = res.Stat.Mtime
			if res.ContentLength < 0 {
				rec.Size = res.Stat.Size
			}
		}
		r.log.Debug("classified", zap.String("path", path), zap.String("type", "file"), zap.Uint64("size", rec.Size))
		return rec, nil
	}

	if transportErr != nil {
		return attr.Record{}, transportErr
	}
	return attr.Record{}, ErrNotFound
}

func isTransport(err error) bool {
	var te *remote.TransportError
	return errors.As(err, &te)
}
