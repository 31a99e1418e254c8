package cache

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/autohttpfs/attr"
	"github.com/IvanBrykalov/autohttpfs/policy/lru"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func keysOf[V any](c Cache[string, V]) []string {
	var keys []string
	c.Range(func(e Entry[string, V]) bool {
		keys = append(keys, e.Key)
		return true
	})
	return keys
}

func TestCache_AddFind(t *testing.T) {
	t.Parallel()

	c := New[string, attr.Record](Options[string, attr.Record]{})
	t.Cleanup(func() { _ = c.Close() })

	if !c.Add("/a", attr.Regular(100)) {
		t.Fatal("first Add must report a new key")
	}
	got, ok := c.Find("/a")
	if !ok {
		t.Fatal("fresh miss")
	}
	if !got.IsRegular() || got.Size != 100 {
		t.Fatalf("want regular file of 100 bytes, got %v", got)
	}

	if c.Add("/a", attr.Regular(7)) {
		t.Fatal("overwrite must not report a new key")
	}
	if got, _ := c.Find("/a"); got.Size != 7 {
		t.Fatalf("overwrite lost: want size 7, got %d", got.Size)
	}
	if c.Len() != 1 {
		t.Fatalf("want 1 entry, got %d", c.Len())
	}
}

// Uses a fake clock to avoid timing flakiness.
func TestCache_TTL_FakeClock(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	c := New[string, attr.Record](Options[string, attr.Record]{TTL: time.Second, Clock: clk})
	t.Cleanup(func() { _ = c.Close() })

	c.Add("/a", attr.Regular(1))
	clk.Advance(time.Second)
	if _, ok := c.Find("/a"); !ok {
		t.Fatal("entry must still be valid exactly at its deadline")
	}

	clk.Advance(2 * time.Second)
	if _, ok := c.Find("/a"); ok {
		t.Fatal("expired hit")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry must be removed eagerly, %d left", c.Len())
	}
}

// Every hit re-arms the TTL.
func TestCache_SlidingExpiry(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	c := New[string, int](Options[string, int]{TTL: 10 * time.Second, Clock: clk})
	t.Cleanup(func() { _ = c.Close() })

	c.Add("k", 1)
	for i := 0; i < 5; i++ {
		clk.Advance(6 * time.Second)
		if _, ok := c.Find("k"); !ok {
			t.Fatalf("hit %d: entry expired despite refresh", i)
		}
	}

	var exp time.Time
	c.Range(func(e Entry[string, int]) bool { exp = e.Expires; return false })
	if want := clk.Now().Add(10 * time.Second); !exp.Equal(want) {
		t.Fatalf("Expires want %v, got %v", want, exp)
	}

	clk.Advance(11 * time.Second)
	if _, ok := c.Find("k"); ok {
		t.Fatal("entry must expire once hits stop")
	}
}

// A TTL change applies to the next Add or hit.
func TestCache_SetTTL(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	c := New[string, int](Options[string, int]{TTL: time.Minute, Clock: clk})
	t.Cleanup(func() { _ = c.Close() })

	c.SetTTL(time.Second)
	if c.TTL() != time.Second {
		t.Fatalf("TTL want 1s, got %v", c.TTL())
	}
	c.Add("k", 1)
	clk.Advance(2 * time.Second)
	if _, ok := c.Find("k"); ok {
		t.Fatal("entry must honor the new TTL")
	}
}

func TestCache_Remove(t *testing.T) {
	t.Parallel()

	var reasons []EvictReason
	c := New[string, int](Options[string, int]{
		OnEvict: func(_ string, _ int, r EvictReason) { reasons = append(reasons, r) },
	})
	t.Cleanup(func() { _ = c.Close() })

	if c.Remove("/nope") {
		t.Fatal("Remove of an absent key must be false")
	}
	c.Add("/a", 1)
	if !c.Remove("/a") {
		t.Fatal("Remove /a must be true")
	}
	if _, ok := c.Find("/a"); ok {
		t.Fatal("/a must be absent after Remove")
	}
	if diff := cmp.Diff([]EvictReason{EvictRemoved}, reasons); diff != "" {
		t.Fatalf("evict reasons (-want +got):\n%s", diff)
	}
}

// Inserting 2100 keys over a limit of 2000 converges back to the limit.
func TestCache_CapacityConvergence(t *testing.T) {
	t.Parallel()

	c := New[string, attr.Record](Options[string, attr.Record]{
		MaxEntries: 2000,
		Clock:      clockwork.NewFakeClock(),
	})
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 2100; i++ {
		c.Add("/k/"+strconv.Itoa(i), attr.Regular(uint64(i)))
		if n := c.Len(); n > i+1 {
			t.Fatalf("size %d exceeds number of inserts %d", n, i+1)
		}
	}
	waitFor(t, func() bool { return c.Len() <= 2000 })

	// FIFO: the first admissions are the ones trimmed.
	if _, ok := c.Find("/k/0"); ok {
		t.Fatal("oldest key must have been trimmed")
	}
	if _, ok := c.Find("/k/2099"); !ok {
		t.Fatal("newest key must survive")
	}
	if st := c.Stats(); st.Evictions != 100 {
		t.Fatalf("want exactly 100 trim evictions, got %d", st.Evictions)
	}
}

func TestCache_SetMaxEntriesWakesTrimmer(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{MaxEntries: 100, Clock: clockwork.NewFakeClock()})
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 10; i++ {
		c.Add(strconv.Itoa(i), i)
	}
	c.SetMaxEntries(4)
	if c.MaxEntries() != 4 {
		t.Fatalf("MaxEntries want 4, got %d", c.MaxEntries())
	}
	waitFor(t, func() bool { return c.Len() == 4 })
}

// Without any wake, the periodic sweep alone restores the bound.
func TestCache_TickerTrims(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	c := New[string, int](Options[string, int]{
		MaxEntries:   10,
		TrimInterval: time.Second,
		Clock:        clk,
	}).(*cache[string, int])
	t.Cleanup(func() { _ = c.Close() })

	// Grow past the limit behind Add's back so the wake channel stays empty.
	c.mu.Lock()
	for i := 0; i < 25; i++ {
		n := &node[string, int]{key: strconv.Itoa(i), val: i, exp: c.deadlineLocked()}
		c.m[n.key] = n
		c.pol.OnInsert(n)
	}
	c.mu.Unlock()

	if n := c.Len(); n != 25 {
		t.Fatalf("trimmer ran before the tick: want 25, got %d", n)
	}
	clk.Advance(time.Second)
	waitFor(t, func() bool { return c.Len() <= 10 })
	if st := c.Stats(); st.Evictions != 15 {
		t.Fatalf("want 15 trim evictions, got %d", st.Evictions)
	}
}

// An Add queued behind the lock while the cache is disabled stores nothing.
func TestCache_AddRacingDisable(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{}).(*cache[string, int])
	t.Cleanup(func() { _ = c.Close() })

	c.mu.Lock()
	done := make(chan bool)
	go func() { done <- c.Add("late", 1) }()
	// Give Add time to pass its unlocked checks and block on mu.
	time.Sleep(20 * time.Millisecond)
	c.enabled.Store(false)
	c.mu.Unlock()

	if added := <-done; added {
		t.Fatal("Add must not store into a disabled cache")
	}
	if n := c.Len(); n != 0 {
		t.Fatalf("want empty cache, got %d", n)
	}
	c.SetEnabled(true)
	if _, ok := c.Find("late"); ok {
		t.Fatal("entry must not resurface after re-enabling")
	}
}

// Hits do not reorder a FIFO cache but do reorder an LRU one.
func TestCache_TrimOrder(t *testing.T) {
	t.Parallel()

	fifoCache := New[string, int](Options[string, int]{})
	lruCache := New[string, int](Options[string, int]{Policy: lru.New[string, int]()})
	t.Cleanup(func() {
		_ = fifoCache.Close()
		_ = lruCache.Close()
	})

	for _, c := range []Cache[string, int]{fifoCache, lruCache} {
		c.Add("a", 1)
		c.Add("b", 2)
		c.Add("c", 3)
		c.Find("a")
		if n := c.Trim(1); n != 1 {
			t.Fatalf("Trim(1) removed %d", n)
		}
	}

	if diff := cmp.Diff([]string{"c", "b"}, keysOf(fifoCache)); diff != "" {
		t.Fatalf("fifo survivors (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "c"}, keysOf(lruCache)); diff != "" {
		t.Fatalf("lru survivors (-want +got):\n%s", diff)
	}

	if n := fifoCache.Trim(10); n != 2 {
		t.Fatalf("Trim past the end must stop at empty, removed %d", n)
	}
}

func TestCache_Disable(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{})
	t.Cleanup(func() { _ = c.Close() })

	c.Add("a", 1)
	c.SetEnabled(false)
	if c.Enabled() {
		t.Fatal("cache must report disabled")
	}
	if c.Len() != 0 {
		t.Fatalf("disabling must drop entries, %d left", c.Len())
	}
	if c.Add("b", 2) {
		t.Fatal("Add must be a no-op while disabled")
	}
	if _, ok := c.Find("b"); ok {
		t.Fatal("Find must miss while disabled")
	}

	c.SetEnabled(true)
	c.Add("b", 2)
	if v, ok := c.Find("b"); !ok || v != 2 {
		t.Fatalf("re-enabled cache: want 2, got %v ok=%v", v, ok)
	}
}

func TestCache_Stats(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{})
	t.Cleanup(func() { _ = c.Close() })

	c.Add("a", 1)
	c.Find("a")
	c.Find("a")
	c.Find("b")

	want := Stats{Hits: 2, Misses: 1, Evictions: 0, Entries: 1}
	if diff := cmp.Diff(want, c.Stats()); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}
}

func TestCache_CloseIdempotent(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{})
	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(c.Close)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if c.Add("a", 1) {
		t.Fatal("Add after Close must be ignored")
	}
}

func TestBatchSize(t *testing.T) {
	t.Parallel()

	cases := []struct{ sub, want int }{
		{1, 1},
		{3, 3},
		{5, 5},
		{49, 5},
		{50, 5},
		{120, 12},
		{199, 19},
		{200, 20},
		{5000, 20},
	}
	for _, tc := range cases {
		if got := batchSize(tc.sub); got != tc.want {
			t.Errorf("batchSize(%d) want %d, got %d", tc.sub, tc.want, got)
		}
	}
}
