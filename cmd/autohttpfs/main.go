// Command autohttpfs mounts an HTTP tree as a read-only filesystem.
//
//	autohttpfs [flags] MOUNTPOINT
//
// With --origin every path resolves against that base URL. Without it the
// first path component names the host: MOUNTPOINT/example.com/pub/ reads
// http://example.com/pub/.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/autohttpfs/attr"
	"github.com/IvanBrykalov/autohttpfs/cache"
	"github.com/IvanBrykalov/autohttpfs/config"
	"github.com/IvanBrykalov/autohttpfs/control"
	"github.com/IvanBrykalov/autohttpfs/fsys"
	"github.com/IvanBrykalov/autohttpfs/handle"
	"github.com/IvanBrykalov/autohttpfs/internal/util"
	"github.com/IvanBrykalov/autohttpfs/logging"
	pmet "github.com/IvanBrykalov/autohttpfs/metrics/prom"
	"github.com/IvanBrykalov/autohttpfs/policy"
	"github.com/IvanBrykalov/autohttpfs/policy/fifo"
	"github.com/IvanBrykalov/autohttpfs/policy/lru"
	"github.com/IvanBrykalov/autohttpfs/remote"
	"github.com/IvanBrykalov/autohttpfs/resolver"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "autohttpfs:", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "autohttpfs:", err)
		os.Exit(1)
	}
}

// parseFlags loads the optional config file and applies the flags that were
// set explicitly on top of it.
func parseFlags(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("autohttpfs", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: autohttpfs [flags] MOUNTPOINT\n\n")
		fs.PrintDefaults()
	}

	def := config.Default()
	var (
		configPath   = fs.StringP("config", "c", "", "YAML configuration file")
		origin       = fs.StringP("origin", "r", def.Origin, "base URL to mount; empty derives the host from the first path component")
		readOnly     = fs.Bool("readonly", def.ReadOnly, "clear write permission bits")
		noExec       = fs.Bool("noexec", def.NoExec, "clear execute bits on regular files")
		maxReadahead = fs.Int("max-readahead", def.MaxReadahead, "kernel readahead window in bytes")
		timeout      = fs.Duration("http-timeout", def.HTTP.Timeout, "per-request timeout")
		userAgent    = fs.String("user-agent", def.HTTP.UserAgent, "User-Agent header (default autohttpfs/<version>)")
		ttl          = fs.Duration("cache-ttl", def.Cache.TTL, "attribute cache TTL")
		maxEntries   = fs.Int("cache-max-entries", def.Cache.MaxEntries, "attribute cache soft capacity")
		trimInterval = fs.Duration("cache-trim-interval", def.Cache.TrimInterval, "trimmer sweep period")
		pol          = fs.String("cache-policy", def.Cache.Policy, "trim order: fifo | lru")
		noCache      = fs.Bool("no-cache", false, "start with the attribute cache disabled")
		level        = fs.IntP("verbose", "v", def.Log.Level, "log verbosity, 0..8 (syslog scale)")
		logFormat    = fs.String("log-format", def.Log.Format, "console | json")
		logOutput    = fs.String("log-output", def.Log.Output, "stdout, stderr or a file path")
		metricsAddr  = fs.String("metrics", def.Metrics.Addr, "serve Prometheus metrics at addr; empty disables")
		prefix       = fs.String("control-prefix", def.Control.Prefix, "path of the control directory")
		allowOther   = fs.Bool("allow-other", def.FUSE.AllowOther, "let other users access the mount")
		debug        = fs.Bool("fuse-debug", def.FUSE.Debug, "log every FUSE request")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("origin", func() { cfg.Origin = *origin })
	set("readonly", func() { cfg.ReadOnly = *readOnly })
	set("noexec", func() { cfg.NoExec = *noExec })
	set("max-readahead", func() { cfg.MaxReadahead = *maxReadahead })
	set("http-timeout", func() { cfg.HTTP.Timeout = *timeout })
	set("user-agent", func() { cfg.HTTP.UserAgent = *userAgent })
	set("cache-ttl", func() { cfg.Cache.TTL = *ttl })
	set("cache-max-entries", func() { cfg.Cache.MaxEntries = *maxEntries })
	set("cache-trim-interval", func() { cfg.Cache.TrimInterval = *trimInterval })
	set("cache-policy", func() { cfg.Cache.Policy = *pol })
	set("no-cache", func() { cfg.Cache.Enabled = !*noCache })
	set("verbose", func() { cfg.Log.Level = *level })
	set("log-format", func() { cfg.Log.Format = *logFormat })
	set("log-output", func() { cfg.Log.Output = *logOutput })
	set("metrics", func() { cfg.Metrics.Addr = *metricsAddr })
	set("control-prefix", func() { cfg.Control.Prefix = *prefix })
	set("allow-other", func() { cfg.FUSE.AllowOther = *allowOther })
	set("fuse-debug", func() { cfg.FUSE.Debug = *debug })

	switch fs.NArg() {
	case 0:
	case 1:
		cfg.Mountpoint = fs.Arg(0)
	default:
		return nil, fmt.Errorf("expected one mountpoint, got %d arguments", fs.NArg())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func policyByName(name string) policy.Policy[string, attr.Record] {
	if name == "lru" {
		return lru.New[string, attr.Record]()
	}
	return fifo.New[string, attr.Record]()
}

func run(cfg *config.Config) error {
	logger, verbosity, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics := pmet.New(prometheus.DefaultRegisterer, "autohttpfs", "", nil)

	attrs := cache.New[string, attr.Record](cache.Options[string, attr.Record]{
		MaxEntries:   cfg.Cache.MaxEntries,
		TTL:          cfg.Cache.TTL,
		TrimInterval: cfg.Cache.TrimInterval,
		Policy:       policyByName(cfg.Cache.Policy),
		Metrics:      metrics,
		Logger:       logger,
	})
	defer func() { _ = attrs.Close() }()
	attrs.SetEnabled(cfg.Cache.Enabled)

	client, err := remote.New(remote.Options{
		Origin:    cfg.Origin,
		Timeout:   cfg.HTTP.Timeout,
		UserAgent: cfg.HTTP.UserAgent,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	res := resolver.New(resolver.Options{
		Cache:         attrs,
		Prober:        client,
		ControlPrefix: cfg.Control.Prefix,
		Logger:        logger,
	})
	ns := control.New(cfg.Control.Prefix, logger)
	ns.MountCache(attrs, verbosity)

	ops := fsys.New(fsys.Options{
		Resolver: res,
		Handles:  handle.NewTable(res, logger),
		Control:  ns,
		ReadOnly: cfg.ReadOnly,
		NoExec:   cfg.NoExec,
		ListRoot: !client.AutoHost(),
		UID:      uint32(os.Getuid()),
		GID:      uint32(os.Getgid()),
		Logger:   logger,
	})

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	server, err := fsys.Mount(ctx, ops, fsys.MountOptions{
		Mountpoint:   cfg.Mountpoint,
		AllowOther:   cfg.FUSE.AllowOther,
		Debug:        cfg.FUSE.Debug,
		MaxReadahead: cfg.MaxReadahead,
	})
	if err != nil {
		return err
	}
	logger.Info("serving",
		zap.String("origin", originName(cfg.Origin)),
		zap.String("control", ns.Prefix()),
		zap.Duration("ttl", cfg.Cache.TTL),
		zap.Int("max_entries", cfg.Cache.MaxEntries),
		zap.String("policy", cfg.Cache.Policy),
	)

	g.Go(func() error {
		server.Wait()
		// Unmounted from outside (fusermount -u) or by ctx: stop the rest.
		cancel()
		return nil
	})

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics: serving", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-usr1:
				dumpCache(logger, attrs)
			}
		}
	})

	err = g.Wait()
	logger.Info("unmounted", zap.String("mountpoint", cfg.Mountpoint))
	return err
}

func originName(origin string) string {
	if origin == "" {
		return "auto"
	}
	return origin
}

// dumpCache logs every resident record, deepest paths first.
func dumpCache(logger *zap.Logger, c cache.Cache[string, attr.Record]) {
	entries := make(map[string]cache.Entry[string, attr.Record], c.Len())
	c.Range(func(e cache.Entry[string, attr.Record]) bool {
		entries[e.Key] = e
		return true
	})
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	util.SortPathKeys(keys)

	st := c.Stats()
	logger.Info("cache dump",
		zap.Int("entries", len(keys)),
		zap.Uint64("hits", st.Hits),
		zap.Uint64("misses", st.Misses),
		zap.Uint64("evictions", st.Evictions),
	)
	for _, k := range keys {
		e := entries[k]
		logger.Info("cache entry",
			zap.String("path", k),
			zap.Stringer("attr", e.Value),
			zap.Time("expires", e.Expires),
		)
	}
}
