// Package handle maps the opaque 64-bit file handles the kernel hands back to
// us onto per-open sessions.
//
// Ids start at 1 and only ever grow; 0 is never issued so it can mean "no
// handle" at the protocol boundary. A released id never resolves again.
package handle

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/autohttpfs/attr"
	"github.com/IvanBrykalov/autohttpfs/resolver"
)

// ErrInvalidHandle is returned for ids that are not live.
var ErrInvalidHandle = errors.New("handle: invalid handle")

// Kind tells what a session was opened on.
type Kind int

const (
	File Kind = iota
	Dir
	Control
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Dir:
		return "dir"
	case Control:
		return "control"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Delegate is per-session state that must be finalized on release, such as
// a control file flushing its buffered write.
type Delegate interface {
	Release() error
}

// Session is the state behind one open handle. Fields are fixed at
// allocation; a Delegate synchronizes its own mutable state.
type Session struct {
	ID       uint64
	Kind     Kind
	Path     string
	Record   attr.Record
	Resolver *resolver.Resolver
	Delegate Delegate
}

// Table owns every live session. Safe for concurrent use; its lock is
// independent of the attribute cache lock.
type Table struct {
	res *resolver.Resolver
	log *zap.Logger

	mu       sync.Mutex
	next     uint64
	sessions map[uint64]*Session
}

// NewTable returns an empty table whose sessions refer to res.
func NewTable(res *resolver.Resolver, logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{
		res:      res,
		log:      logger.Named("handle"),
		next:     1,
		sessions: make(map[uint64]*Session),
	}
}

// Alloc registers a new session and returns it.
func (t *Table) Alloc(kind Kind, path string, rec attr.Record, d Delegate) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &Session{
		ID:       t.next,
		Kind:     kind,
		Path:     path,
		Record:   rec,
		Resolver: t.res,
		Delegate: d,
	}
	t.next++
	t.sessions[s.ID] = s
	t.log.Debug("open", zap.Uint64("fh", s.ID), zap.Stringer("kind", kind), zap.String("path", path))
	return s
}

// Find looks up a live session.
func (t *Table) Find(id uint64) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Release removes the session and finalizes its delegate. The delegate runs
// after the table lock is dropped; its error is returned.
func (t *Table) Release(id uint64) error {
	t.mu.Lock()
	s, ok := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("release %d: %w", id, ErrInvalidHandle)
	}
	t.log.Debug("release", zap.Uint64("fh", id), zap.String("path", s.Path))
	if s.Delegate != nil {
		if err := s.Delegate.Release(); err != nil {
			return fmt.Errorf("release %s: %w", s.Path, err)
		}
	}
	return nil
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
