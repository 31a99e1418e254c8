// Package cache provides a generic, TTL-bounded in-memory cache with a soft
// entry limit enforced by a background trimmer. autohttpfs keeps one of these
// keyed by request path to remember what the origin said about each path.
//
// Design
//
//   - Concurrency: one mutex guards the map and the entry list. Every call
//     holds it for its own duration only; callers never do I/O under it.
//
//   - Storage: a map[K]*node for lookups plus an intrusive doubly linked
//     list used only to pick trim victims. All operations are O(1) expected.
//
//   - Policies: trimming order is pluggable via the policy package. FIFO is
//     the default (victims in admission order); LRU is available.
//
//   - TTL: Add stamps now+TTL on the entry; every hit re-stamps it (sliding
//     expiration). Expired entries are removed lazily by Find.
//
//   - Capacity: MaxEntries is a soft bound. Add never evicts; when it pushes
//     the size past the limit it wakes the trimmer, which also runs every
//     TrimInterval. The trimmer removes victims in batches of 5, sub/10 or 20
//     (sub = entries over the limit), dropping the lock between batches.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size signals.
//     By default NoopMetrics is used; metrics/prom exports them.
//
//   - Callbacks: Options.OnEvict(k, v, reason) is called for every removal
//     (reason is one of EvictTTL, EvictTrim, EvictRemoved, EvictDisabled).
//
// Basic usage
//
//	c := cache.New[string, attr.Record](cache.Options[string, attr.Record]{
//	    MaxEntries: 2000,
//	    TTL:        time.Minute,
//	})
//	defer c.Close()
//
//	c.Add("/pub/file.txt", attr.Regular(100))
//	if rec, ok := c.Find("/pub/file.txt"); ok {
//	    _ = rec.Size
//	}
//
// Deterministic time in tests
//
//	clk := clockwork.NewFakeClock()
//	c := cache.New[string, int](cache.Options[string, int]{TTL: time.Second, Clock: clk})
//	c.Add("k", 1)
//	clk.Advance(2 * time.Second)
//	_, ok := c.Find("k") // ok == false (expired)
package cache
