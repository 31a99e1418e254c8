// Command bench runs a synthetic path workload against the attribute cache and
// exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/autohttpfs/attr"
	"github.com/IvanBrykalov/autohttpfs/cache"
	pmet "github.com/IvanBrykalov/autohttpfs/metrics/prom"
	"github.com/IvanBrykalov/autohttpfs/policy/fifo"
	"github.com/IvanBrykalov/autohttpfs/policy/lru"
)

func main() {
	// ---- Flags ----
	var (
		maxEntries = flag.Int("max-entries", cache.DefaultMaxEntries, "soft capacity (entries)")
		ttl        = flag.Duration("ttl", cache.DefaultTTL, "entry TTL")
		trimEvery  = flag.Duration("trim-interval", time.Second, "trimmer sweep period")
		policyName = flag.String("policy", "fifo", "trim order: fifo | lru")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		lookups  = flag.Int("lookups", 90, "lookup percentage [0..100]; the rest are inserts after a miss")

		paths = flag.Int("paths", 100_000, "path space size")
		depth = flag.Int("depth", 4, "directory levels per path")
		zipfS = flag.Float64("zipf-s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf-v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", "", "serve Prometheus metrics at addr; empty = disabled")
	)
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *paths < 2 {
		logger.Fatal("--paths must be at least 2", zap.Int("paths", *paths))
	}

	// ---- pprof and Prometheus (on DefaultServeMux) ----
	metrics := pmet.New(nil, "autohttpfs", "bench", nil)
	if *metricsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
	}
	for _, addr := range []string{*pprofAddr, *metricsAddr} {
		if addr == "" {
			continue
		}
		go func(addr string) {
			logger.Info("serving debug endpoints", zap.String("addr", addr))
			logger.Warn("debug server stopped", zap.Error(http.ListenAndServe(addr, nil)))
		}(addr)
	}

	// ---- Build cache ----
	var evictions atomic.Uint64
	opt := cache.Options[string, attr.Record]{
		MaxEntries:   *maxEntries,
		TTL:          *ttl,
		TrimInterval: *trimEvery,
		Metrics:      metrics,
		Logger:       logger,
		OnEvict: func(string, attr.Record, cache.EvictReason) {
			evictions.Add(1)
		},
	}
	switch *policyName {
	case "fifo":
		opt.Policy = fifo.New[string, attr.Record]()
	case "lru":
		opt.Policy = lru.New[string, attr.Record]()
	default:
		logger.Fatal("unknown policy (use fifo or lru)", zap.String("policy", *policyName))
	}
	c := cache.New[string, attr.Record](opt)
	defer func() { _ = c.Close() }()

	// ---- Snapshot flags for goroutines ----
	lookupPct := *lookups
	pathsMax := uint64(*paths - 1)
	levels := max(*depth, 1)
	seedBase := *seed
	workersN := max(*workers, 1)

	// ---- Load generation ----
	var total, finds, hits, adds atomic.Uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var g errgroup.Group
	for w := 0; w < workersN; w++ {
		w := w
		g.Go(func() error {
			// rand.Rand is not goroutine-safe; one per worker.
			r := rand.New(rand.NewSource(seedBase + int64(w)*9973))
			z := rand.NewZipf(r, *zipfS, *zipfV, pathsMax)

			for ctx.Err() == nil {
				total.Add(1)
				p, rec := pathFor(z.Uint64(), levels)
				if int(r.Int31n(100)) < lookupPct {
					finds.Add(1)
					if _, ok := c.Find(p); ok {
						hits.Add(1)
						continue
					}
				}
				adds.Add(1)
				c.Add(p, rec)
			}
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	// Give the trimmer one sweep to converge on the bound.
	time.Sleep(*trimEvery + 100*time.Millisecond)

	// ---- Report ----
	ops := total.Load()
	findsN := finds.Load()
	hitRate := 0.0
	if findsN > 0 {
		hitRate = float64(hits.Load()) / float64(findsN) * 100
	}
	st := c.Stats()

	fmt.Printf("policy=%s max_entries=%d ttl=%v workers=%d paths=%d dur=%v seed=%d\n",
		*policyName, *maxEntries, *ttl, workersN, *paths, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  finds=%d  adds=%d\n",
		ops, float64(ops)/elapsed.Seconds(), findsN, adds.Load())
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", st.Hits, st.Misses, hitRate)
	fmt.Printf("evictions=%d  Len()=%d\n", evictions.Load(), c.Len())
}

// pathFor spreads n over a fixed-depth tree; the leaf is a file, the rest
// are directories.
func pathFor(n uint64, depth int) (string, attr.Record) {
	if n%5 == 0 {
		return "/d" + strconv.FormatUint(n%97, 10) + "/dir" + strconv.FormatUint(n, 10), attr.Dir()
	}
	p := ""
	for i := depth - 1; i > 0; i-- {
		p += "/d" + strconv.FormatUint(n%uint64(7*i+3), 10)
	}
	return p + "/f" + strconv.FormatUint(n, 10), attr.Regular(n % 65536)
}
