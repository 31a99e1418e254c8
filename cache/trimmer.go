package cache

import (
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// trimLoop is the body of the background trimmer. It sleeps until the ticker
// fires or an insert overshoots MaxEntries, then trims back to the limit.
func (c *cache[K, V]) trimLoop(t clockwork.Ticker) {
	defer c.wg.Done()
	defer t.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-c.wake:
		case <-t.Chan():
		}
		if n := c.trimExcess(); n > 0 {
			c.log.Debug("trimmed", zap.Int("evicted", n), zap.Int("entries", c.Len()))
		}
	}
}

// trimExcess removes entries in small batches until Len <= MaxEntries,
// taking the lock once per batch so foreground calls interleave.
func (c *cache[K, V]) trimExcess() int {
	total := 0
	for {
		select {
		case <-c.stop:
			return total
		default:
		}

		c.mu.Lock()
		sub := c.len - c.max
		if sub <= 0 {
			c.mu.Unlock()
			return total
		}
		n := c.trimLocked(batchSize(sub), EvictTrim)
		size := c.len
		c.mu.Unlock()

		c.opt.Metrics.Size(size)
		if n == 0 {
			return total
		}
		total += n
	}
}

// batchSize is the number of victims taken per lock acquisition when the
// cache is sub entries over its limit.
func batchSize(sub int) int {
	var d int
	switch {
	case sub < 50:
		d = 5
	case sub < 200:
		d = sub / 10
	default:
		d = 20
	}
	if d > sub {
		d = sub
	}
	return d
}
