package cache

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/autohttpfs/policy"
)

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictTTL: expired, removed lazily by Find.
	EvictTTL EvictReason = iota
	// EvictTrim: removed by the trimmer (or Trim) to honor MaxEntries.
	EvictTrim
	// EvictRemoved: removed explicitly through Remove.
	EvictRemoved
	// EvictDisabled: dropped because the cache was disabled.
	EvictDisabled
)

func (r EvictReason) String() string {
	switch r {
	case EvictTTL:
		return "ttl"
	case EvictTrim:
		return "trim"
	case EvictRemoved:
		return "removed"
	case EvictDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int)
}

const (
	DefaultTTL          = 60 * time.Second
	DefaultMaxEntries   = 2000
	DefaultTrimInterval = 5 * time.Second
)

// Options configures the cache. Zero values are safe; defaults are applied
// in New():
//   - MaxEntries <= 0   => DefaultMaxEntries
//   - TTL <= 0          => DefaultTTL
//   - TrimInterval <= 0 => DefaultTrimInterval
//   - nil Policy        => FIFO
//   - nil Metrics       => NoopMetrics
//   - nil Clock         => real clock
//   - nil Logger        => zap.NewNop()
type Options[K comparable, V any] struct {
	// MaxEntries is the soft entry limit enforced by the trimmer.
	MaxEntries int

	// TTL is the lifetime granted by Add and renewed by every hit.
	TTL time.Duration

	// TrimInterval is the period of the trimmer's background sweep.
	TrimInterval time.Duration

	// Policy orders entries for trimming; nil => FIFO.
	Policy policy.Policy[K, V]

	// OnEvict is called on every removal under the cache lock; keep it
	// lightweight and never call back into the cache from it.
	OnEvict func(k K, v V, reason EvictReason)
	Metrics Metrics

	// Clock drives expiry and the trimmer ticker. Tests pass a fake clock.
	Clock clockwork.Clock

	Logger *zap.Logger
}
