package cache

import "time"

// Cache is an in-memory, TTL-bounded key/value store whose size is held near
// MaxEntries by a background trimmer.
// All methods are safe for concurrent use by multiple goroutines.
//
// Find, Add and Remove are amortized O(1): a map lookup plus constant-time
// list adjustments under the cache lock.
type Cache[K comparable, V any] interface {
	// Add inserts or overwrites k→v and sets its expiry to now+TTL.
	// Returns true iff k was not present before.
	// When the insert pushes Len above MaxEntries the trimmer is woken;
	// the bound is restored asynchronously.
	Add(k K, v V) bool

	// Find returns the value for k only if it is present and not expired.
	// An expired entry is removed on the spot. A hit extends the entry's
	// expiry by another TTL.
	Find(k K) (V, bool)

	// Remove deletes k if present and returns true on success.
	Remove(k K) bool

	// Trim removes up to n entries chosen by the eviction policy and
	// returns how many were removed.
	Trim(n int) int

	// Len returns the number of resident entries, expired ones included.
	Len() int

	TTL() time.Duration
	// SetTTL changes the TTL applied by subsequent Add calls and hits.
	SetTTL(time.Duration)

	MaxEntries() int
	// SetMaxEntries changes the soft capacity and wakes the trimmer.
	SetMaxEntries(int)

	Enabled() bool
	// SetEnabled toggles the cache. Disabling drops every entry; while
	// disabled Find always misses and Add stores nothing.
	SetEnabled(bool)

	// Range calls fn for a snapshot of the resident entries, in policy
	// order (front first), until fn returns false. fn runs without the
	// cache lock held.
	Range(fn func(Entry[K, V]) bool)

	// Stats returns cumulative counters.
	Stats() Stats

	// Close stops the trimmer and waits for it to exit. Subsequent Add and
	// Find calls are ignored. Close is idempotent.
	Close() error
}

// Entry is a point-in-time copy of one resident entry.
type Entry[K comparable, V any] struct {
	Key     K
	Value   V
	Expires time.Time
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
}
