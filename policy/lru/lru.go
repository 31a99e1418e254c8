// Package lru implements least-recently-used trimming: every hit or overwrite
// moves the entry to the front, so the trimmer drops the entry that has gone
// longest without being looked up.
package lru

import "github.com/IvanBrykalov/autohttpfs/policy"

type lru[K comparable, V any] struct {
	h policy.Hooks[K, V]
}

type lruPolicy[K comparable, V any] struct{}

// New returns a Policy factory that constructs LRU instances.
func New[K comparable, V any]() policy.Policy[K, V] { return lruPolicy[K, V]{} }

func (lruPolicy[K, V]) New(h policy.Hooks[K, V]) policy.ListPolicy[K, V] {
	return &lru[K, V]{h: h}
}

func (lruPolicy[K, V]) Name() string { return "lru" }

func (p *lru[K, V]) OnInsert(n policy.Node[K, V]) { p.h.PushFront(n) }

// OnHit promotes the entry.
func (p *lru[K, V]) OnHit(n policy.Node[K, V]) { p.h.MoveToFront(n) }

// OnUpdate promotes the entry; a refresh from the origin counts as use.
func (p *lru[K, V]) OnUpdate(n policy.Node[K, V]) { p.h.MoveToFront(n) }

func (p *lru[K, V]) OnRemove(_ policy.Node[K, V]) {}

// Victim is the least recently used entry.
func (p *lru[K, V]) Victim() policy.Node[K, V] { return p.h.Back() }
