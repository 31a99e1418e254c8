package cache

// node is an intrusive doubly linked list element owned by the cache.
// Front of the list is the newest admission (or most recent hit, depending
// on the policy); the trimmer takes victims from the back.
type node[K comparable, V any] struct {
	key K
	val V

	prev *node[K, V]
	next *node[K, V]

	// Absolute expiration deadline in UnixNano. The entry is valid while
	// now <= exp.
	exp int64
}

// Key returns the node key (part of policy.Node interface).
func (n *node[K, V]) Key() K { return n.key }

// Value returns a pointer to the stored value (part of policy.Node interface).
// NOTE: callers must only read/write through this pointer while holding the
// cache lock.
func (n *node[K, V]) Value() *V { return &n.val }
