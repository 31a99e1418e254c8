// Package fifo implements first-in-first-out trimming. Entries are ordered by
// the time their key was first admitted; hits and overwrites extend an
// entry's expiry but never move it, so the trimmer always drops the oldest
// admission first.
//
// This is the default policy of the attribute cache.
package fifo

import "github.com/IvanBrykalov/autohttpfs/policy"

type fifo[K comparable, V any] struct {
	h policy.Hooks[K, V]
}

type fifoPolicy[K comparable, V any] struct{}

// New returns a Policy factory that constructs FIFO instances.
func New[K comparable, V any]() policy.Policy[K, V] { return fifoPolicy[K, V]{} }

func (fifoPolicy[K, V]) New(h policy.Hooks[K, V]) policy.ListPolicy[K, V] {
	return &fifo[K, V]{h: h}
}

func (fifoPolicy[K, V]) Name() string { return "fifo" }

func (p *fifo[K, V]) OnInsert(n policy.Node[K, V]) { p.h.PushFront(n) }
func (p *fifo[K, V]) OnHit(policy.Node[K, V])      {}
func (p *fifo[K, V]) OnUpdate(policy.Node[K, V])   {}
func (p *fifo[K, V]) OnRemove(policy.Node[K, V])   {}

// Victim is the earliest admitted entry still resident.
func (p *fifo[K, V]) Victim() policy.Node[K, V] { return p.h.Back() }
