package cache

import (
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"
)

// A mixed workload of concurrent Add/Find/Remove/tuning calls on random keys
// while the trimmer is busy. Should pass under `-race` without detector reports.
func TestRace_Basic(t *testing.T) {
	c := New[string, []byte](Options[string, []byte]{
		MaxEntries:   512,
		TTL:          20 * time.Millisecond,
		TrimInterval: time.Millisecond,
	})
	t.Cleanup(func() { _ = c.Close() })

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 5_000
	deadline := time.Now().Add(time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "/k/" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5% Remove
					c.Remove(k)
				case 5: // ~1% tuning
					c.SetMaxEntries(256 + r.Intn(512))
				case 6:
					c.Stats()
				case 10, 11, 12, 13, 14, 15, 16, 17, 18, 19: // ~10% Add
					c.Add(k, []byte("x"))
				default: // Find
					c.Find(k)
				}
			}
		}(w)
	}
	wg.Wait()
}
