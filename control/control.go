// Package control implements the small virtual tree under the control prefix
// (default "/.proc") whose files expose tunables as decimal text.
//
// Opening a file snapshots the current value. Writes are buffered: offset 0
// replaces the buffer, any other write must append. The buffered text is
// parsed and applied when the handle is released.
package control

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/IvanBrykalov/autohttpfs/attr"
)

var (
	ErrNotFound      = errors.New("control: no such entry")
	ErrInvalidOffset = errors.New("control: writes must replace or append")
	ErrInvalidValue  = errors.New("control: value is not a decimal integer")
	ErrReadOnly      = errors.New("control: read-only parameter")
	ErrIsDir         = errors.New("control: is a directory")
	ErrNotDir        = errors.New("control: not a directory")
)

// Param is one tunable. A nil Set makes it read-only.
type Param struct {
	Name string
	Get  func() int64
	Set  func(int64) error
}

// node is a directory (param == nil) or a parameter file.
type node struct {
	name     string
	param    *Param
	children []*node // mount order
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Namespace is the control tree. Mounting happens at startup; lookups are
// read-only afterwards and need no locking.
type Namespace struct {
	prefix string
	root   *node
	log    *zap.Logger
}

// New returns an empty namespace rooted at prefix.
func New(prefix string, logger *zap.Logger) *Namespace {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix = path.Clean("/" + prefix)
	return &Namespace{
		prefix: prefix,
		root:   &node{name: path.Base(prefix)},
		log:    logger.Named("control"),
	}
}

// Prefix returns the absolute root of the namespace.
func (ns *Namespace) Prefix() string { return ns.prefix }

// Name returns the root's directory entry name, e.g. ".proc".
func (ns *Namespace) Name() string { return ns.root.name }

// Mount adds p at rel (e.g. "cache/expire"), creating directories as needed.
// It panics on a duplicate or conflicting path.
func (ns *Namespace) Mount(rel string, p Param) {
	parts := strings.Split(strings.Trim(rel, "/"), "/")
	dir := ns.root
	for _, name := range parts[:len(parts)-1] {
		next := dir.child(name)
		if next == nil {
			next = &node{name: name}
			dir.children = append(dir.children, next)
		}
		if next.param != nil {
			panic("control: " + rel + " crosses a file")
		}
		dir = next
	}
	leaf := parts[len(parts)-1]
	if dir.child(leaf) != nil {
		panic("control: duplicate mount " + rel)
	}
	if p.Name == "" {
		p.Name = rel
	}
	dir.children = append(dir.children, &node{name: leaf, param: &p})
}

func (ns *Namespace) lookup(p string) (*node, error) {
	if p == ns.prefix {
		return ns.root, nil
	}
	rel, ok := strings.CutPrefix(p, ns.prefix+"/")
	if !ok {
		return nil, ErrNotFound
	}
	n := ns.root
	for _, name := range strings.Split(strings.Trim(rel, "/"), "/") {
		if n.param != nil {
			return nil, ErrNotDir
		}
		if n = n.child(name); n == nil {
			return nil, ErrNotFound
		}
	}
	return n, nil
}

// Stat returns the attributes of a control path.
func (ns *Namespace) Stat(p string) (attr.Record, error) {
	n, err := ns.lookup(p)
	if err != nil {
		return attr.Record{}, fmt.Errorf("stat %s: %w", p, err)
	}
	now := time.Now().Unix()
	if n.param == nil {
		return attr.Record{Mode: unix.S_IFDIR | 0o555, Mtime: now}, nil
	}
	rec := attr.Regular(uint64(len(format(n.param.Get()))))
	rec.Mode |= 0o444
	if n.param.Set != nil {
		rec.Mode |= unix.S_IWUSR
	}
	rec.Mtime = now
	return rec, nil
}

// Readdir lists a control directory in mount order.
func (ns *Namespace) Readdir(p string) ([]attr.Entry, error) {
	n, err := ns.lookup(p)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", p, err)
	}
	if n.param != nil {
		return nil, fmt.Errorf("readdir %s: %w", p, ErrNotDir)
	}
	out := make([]attr.Entry, 0, len(n.children))
	for _, c := range n.children {
		rec, _ := ns.Stat(path.Join(p, c.name))
		out = append(out, attr.Entry{Name: c.name, Record: rec})
	}
	return out, nil
}

// Open snapshots the parameter at p into a new File.
func (ns *Namespace) Open(p string, write bool) (*File, error) {
	n, err := ns.lookup(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	if n.param == nil {
		return nil, fmt.Errorf("open %s: %w", p, ErrIsDir)
	}
	if write && n.param.Set == nil {
		return nil, fmt.Errorf("open %s: %w", p, ErrReadOnly)
	}
	return &File{
		param: n.param,
		buf:   []byte(format(n.param.Get())),
		log:   ns.log,
	}, nil
}

func format(v int64) string { return strconv.FormatInt(v, 10) + "\n" }

// File is one open control file. It implements handle.Delegate.
type File struct {
	param *Param
	log   *zap.Logger

	mu    sync.Mutex
	buf   []byte
	wrote bool
}

// Size returns the current buffer length.
func (f *File) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.buf))
}

// Read copies buffered text starting at off.
func (f *File) Read(dest []byte, off int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off >= int64(len(f.buf)) {
		return 0
	}
	return copy(dest, f.buf[off:])
}

// Write replaces the buffer at offset 0 and appends at the buffer's end.
// Any other offset fails with ErrInvalidOffset.
func (f *File) Write(data []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.param.Set == nil {
		return 0, ErrReadOnly
	}
	if off == 0 {
		f.buf = f.buf[:0]
	}
	if off != int64(len(f.buf)) {
		return 0, fmt.Errorf("%s at %d: %w", f.param.Name, off, ErrInvalidOffset)
	}
	f.buf = append(f.buf, data...)
	f.wrote = true
	return len(data), nil
}

// Truncate resizes the buffer, zero-filling when it grows.
func (f *File) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.param.Set == nil {
		return ErrReadOnly
	}
	if size < 0 {
		return fmt.Errorf("%s: %w", f.param.Name, ErrInvalidOffset)
	}
	if size <= int64(len(f.buf)) {
		f.buf = f.buf[:size]
	} else {
		f.buf = append(f.buf, make([]byte, size-int64(len(f.buf)))...)
	}
	f.wrote = true
	return nil
}

// Release applies the buffered value if anything was written. It is safe to
// call more than once; only the first call after a write applies it.
func (f *File) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.wrote {
		return nil
	}
	f.wrote = false

	text := strings.TrimSpace(strings.TrimRight(string(f.buf), "\x00"))
	if text == "" {
		// Truncated and closed without a value: nothing to apply.
		return nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		f.log.Warn("rejected control write", zap.String("param", f.param.Name), zap.String("value", text))
		return fmt.Errorf("%s=%q: %w", f.param.Name, text, ErrInvalidValue)
	}
	old := f.param.Get()
	if err := f.param.Set(v); err != nil {
		f.log.Warn("rejected control write", zap.String("param", f.param.Name), zap.Int64("value", v), zap.Error(err))
		return fmt.Errorf("%s=%d: %w: %w", f.param.Name, v, ErrInvalidValue, err)
	}
	f.log.Info("control updated", zap.String("param", f.param.Name), zap.Int64("old", old), zap.Int64("new", v))
	return nil
}
