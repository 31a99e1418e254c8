package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/autohttpfs/internal/util"
	"github.com/IvanBrykalov/autohttpfs/policy"
	"github.com/IvanBrykalov/autohttpfs/policy/fifo"
)

// cache is a single-lock in-memory KV store with a pluggable trimming
// policy and one background trimmer goroutine.
type cache[K comparable, V any] struct {
	// ---- guarded by mu ----
	mu   sync.Mutex
	m    map[K]*node[K, V]
	head *node[K, V]
	tail *node[K, V]
	len  int
	max  int
	ttl  time.Duration
	pol  policy.ListPolicy[K, V]

	enabled atomic.Bool
	closed  atomic.Bool

	opt   Options[K, V]
	clock clockwork.Clock
	log   *zap.Logger

	// trimmer lifecycle
	wake      chan struct{}
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicUint64
	misses util.PaddedAtomicUint64
	evicts util.PaddedAtomicUint64
}

// New constructs a cache with the provided Options and starts its trimmer.
// Callers must Close the cache to stop the trimmer goroutine.
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.MaxEntries <= 0 {
		opt.MaxEntries = DefaultMaxEntries
	}
	if opt.TTL <= 0 {
		opt.TTL = DefaultTTL
	}
	if opt.TrimInterval <= 0 {
		opt.TrimInterval = DefaultTrimInterval
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = fifo.New[K, V]()
	}
	if opt.Clock == nil {
		opt.Clock = clockwork.NewRealClock()
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}

	c := &cache[K, V]{
		m:     make(map[K]*node[K, V], opt.MaxEntries),
		max:   opt.MaxEntries,
		ttl:   opt.TTL,
		opt:   opt,
		clock: opt.Clock,
		log:   opt.Logger.Named("cache"),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	c.pol = opt.Policy.New(listHooks[K, V]{c: c})
	c.enabled.Store(true)

	// Arm the ticker before returning so fake clocks see it immediately.
	ticker := c.clock.NewTicker(opt.TrimInterval)
	c.wg.Add(1)
	go c.trimLoop(ticker)

	c.log.Debug("cache started",
		zap.Int("max_entries", opt.MaxEntries),
		zap.Duration("ttl", opt.TTL),
		zap.Duration("trim_interval", opt.TrimInterval),
		zap.String("policy", opt.Policy.Name()))
	return c
}

// ---- Cache[K,V] implementation ----

func (c *cache[K, V]) Add(k K, v V) bool {
	if c.closed.Load() || !c.enabled.Load() {
		return false
	}

	c.mu.Lock()
	// SetEnabled(false) may have dropped everything while we waited.
	if !c.enabled.Load() {
		c.mu.Unlock()
		return false
	}
	exp := c.deadlineLocked()
	added := false
	if n, ok := c.m[k]; ok {
		n.val = v
		n.exp = exp
		c.pol.OnUpdate(n)
	} else {
		n := &node[K, V]{key: k, val: v, exp: exp}
		c.m[k] = n
		c.pol.OnInsert(n)
		added = true
	}
	over := c.len > c.max
	size := c.len
	c.mu.Unlock()

	c.opt.Metrics.Size(size)
	if over {
		c.kick()
	}
	return added
}

func (c *cache[K, V]) Find(k K) (V, bool) {
	var zero V
	if c.closed.Load() || !c.enabled.Load() {
		c.miss()
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.m[k]
	if !ok {
		c.miss()
		return zero, false
	}
	if c.clock.Now().UnixNano() > n.exp {
		c.evictLocked(n, EvictTTL)
		c.opt.Metrics.Size(c.len)
		c.miss()
		return zero, false
	}

	// Sliding expiration: every hit re-arms the full TTL.
	n.exp = c.deadlineLocked()
	c.pol.OnHit(n)
	c.hits.Add(1)
	c.opt.Metrics.Hit()
	return n.val, true
}

func (c *cache[K, V]) Remove(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.m[k]
	if !ok {
		return false
	}
	c.evictLocked(n, EvictRemoved)
	c.opt.Metrics.Size(c.len)
	return true
}

func (c *cache[K, V]) Trim(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := c.trimLocked(n, EvictTrim)
	if removed > 0 {
		c.opt.Metrics.Size(c.len)
	}
	return removed
}

func (c *cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.len
}

func (c *cache[K, V]) TTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl
}

func (c *cache[K, V]) SetTTL(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	c.ttl = d
	c.mu.Unlock()
}

func (c *cache[K, V]) MaxEntries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max
}

func (c *cache[K, V]) SetMaxEntries(n int) {
	if n < 0 {
		n = 0
	}
	c.mu.Lock()
	c.max = n
	over := c.len > c.max
	c.mu.Unlock()
	if over {
		c.kick()
	}
}

func (c *cache[K, V]) Enabled() bool { return c.enabled.Load() }

func (c *cache[K, V]) SetEnabled(on bool) {
	if c.enabled.Swap(on) == on || on {
		return
	}
	c.mu.Lock()
	dropped := c.trimLocked(c.len, EvictDisabled)
	c.mu.Unlock()
	c.opt.Metrics.Size(0)
	c.log.Debug("cache disabled", zap.Int("dropped", dropped))
}

func (c *cache[K, V]) Range(fn func(Entry[K, V]) bool) {
	c.mu.Lock()
	snap := make([]Entry[K, V], 0, c.len)
	for n := c.head; n != nil; n = n.next {
		snap = append(snap, Entry[K, V]{Key: n.key, Value: n.val, Expires: time.Unix(0, n.exp)})
	}
	c.mu.Unlock()

	for _, e := range snap {
		if !fn(e) {
			return
		}
	}
}

func (c *cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicts.Load(),
		Entries:   c.Len(),
	}
}

// Close stops the trimmer and blocks until it has exited.
func (c *cache[K, V]) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		c.wg.Wait()
		c.log.Debug("cache closed")
	})
	return nil
}

// ---- helpers ----

// kick wakes the trimmer without blocking; one pending wake is enough.
func (c *cache[K, V]) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *cache[K, V]) miss() {
	c.misses.Add(1)
	c.opt.Metrics.Miss()
}

// deadlineLocked converts the current TTL into an absolute UnixNano deadline.
func (c *cache[K, V]) deadlineLocked() int64 {
	return c.clock.Now().Add(c.ttl).UnixNano()
}
