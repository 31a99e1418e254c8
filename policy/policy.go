// Package policy defines how the attribute cache orders its entries for
// trimming. The cache owns an intrusive list (front = newest, back = oldest)
// and exposes it to a policy through Hooks; the policy decides where entries
// go on admission and on access, and which entry the trimmer removes next.
package policy

// Node is the minimal contract a cache entry must satisfy for a policy.
type Node[K comparable, V any] interface {
	Key() K
	Value() *V
}

// Hooks expose O(1) list operations over the cache's entry list.
//
// Concurrency: all hook calls happen under the cache lock.
// Hooks manage only the list; the cache owns the key->node map.
type Hooks[K comparable, V any] interface {
	// MoveToFront moves the node to the front of the list.
	MoveToFront(Node[K, V])
	// PushFront links a new node at the front of the list.
	PushFront(Node[K, V])
	// Remove unlinks the node.
	Remove(Node[K, V])
	// Back returns the node at the back of the list (or nil if empty).
	Back() Node[K, V]
	// Len returns the number of linked nodes.
	Len() int
}

// ListPolicy is a policy instance bound to one cache's hooks.
// All methods are invoked under the cache lock.
//
// Policies never evict on their own: capacity is enforced later, in batches,
// by the cache's background trimmer, which asks Victim for each entry to drop.
type ListPolicy[K comparable, V any] interface {
	// OnInsert is called once when a new key is admitted.
	OnInsert(Node[K, V])
	// OnHit is called when a lookup finds a valid entry.
	OnHit(Node[K, V])
	// OnUpdate is called when an existing key is overwritten.
	OnUpdate(Node[K, V])
	// OnRemove is called before the cache unlinks a node for any reason.
	OnRemove(Node[K, V])
	// Victim returns the next entry to trim, or nil when empty.
	Victim() Node[K, V]
}

// Policy is a factory that binds a ListPolicy to a cache's hooks.
type Policy[K comparable, V any] interface {
	New(Hooks[K, V]) ListPolicy[K, V]
	// Name is a short stable identifier used in config and logs.
	Name() string
}
