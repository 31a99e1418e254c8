package cache

import "github.com/IvanBrykalov/autohttpfs/policy"

// -------------------- internals (mu held) --------------------

// insertFront links n at the front in O(1).
func (c *cache[K, V]) insertFront(n *node[K, V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
	c.len++
}

// moveToFront relinks n at the front in O(1).
func (c *cache[K, V]) moveToFront(n *node[K, V]) {
	if n == c.head {
		return
	}
	// detach
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.tail == n {
		c.tail = n.prev
	}
	// insert at head
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

// unlink removes n from the list and updates the length in O(1).
func (c *cache[K, V]) unlink(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.head == n {
		c.head = n.next
	}
	if c.tail == n {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
	c.len--
}

// evictLocked removes n from the map and list, counts it, and calls OnEvict.
func (c *cache[K, V]) evictLocked(n *node[K, V], reason EvictReason) {
	c.pol.OnRemove(n)
	c.unlink(n)
	delete(c.m, n.key)
	c.evicts.Add(1)
	c.opt.Metrics.Evict(reason)
	if cb := c.opt.OnEvict; cb != nil {
		cb(n.key, n.val, reason)
	}
}

// trimLocked evicts up to count victims picked by the policy.
func (c *cache[K, V]) trimLocked(count int, reason EvictReason) int {
	removed := 0
	for removed < count {
		v := c.pol.Victim()
		if v == nil {
			break
		}
		c.evictLocked(v.(*node[K, V]), reason)
		removed++
	}
	return removed
}

// -------------------- policy hooks --------------------

// listHooks adapts the cache's list operations to policy.Hooks.
type listHooks[K comparable, V any] struct{ c *cache[K, V] }

func (h listHooks[K, V]) MoveToFront(x policy.Node[K, V]) { h.c.moveToFront(x.(*node[K, V])) }
func (h listHooks[K, V]) PushFront(x policy.Node[K, V])   { h.c.insertFront(x.(*node[K, V])) }

// Remove only unlinks; map bookkeeping is performed by the cache itself.
func (h listHooks[K, V]) Remove(x policy.Node[K, V]) { h.c.unlink(x.(*node[K, V])) }

// Back returns nil (not a typed nil node) on an empty list.
func (h listHooks[K, V]) Back() policy.Node[K, V] {
	if h.c.tail == nil {
		return nil
	}
	return h.c.tail
}
func (h listHooks[K, V]) Len() int { return h.c.len }
