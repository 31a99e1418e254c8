// Package config loads the autohttpfs mount configuration.
//
// Values start from Default, are overlaid by an optional YAML file, and are
// finally overridden by command-line flags in cmd/autohttpfs. Validate runs
// last.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete mount configuration.
type Config struct {
	// Mountpoint is the directory the filesystem is attached to.
	Mountpoint string `yaml:"mountpoint"`

	// Origin is the base URL every path resolves against. Empty enables
	// auto-host mode, where the first path component names the host.
	Origin string `yaml:"origin"`

	// ReadOnly clears write permission bits reported by the origin.
	// Default: true
	ReadOnly bool `yaml:"readonly"`

	// NoExec clears execute bits on regular files.
	// Default: true
	NoExec bool `yaml:"noexec"`

	// MaxReadahead is handed to the kernel, in bytes.
	// Default: 131072
	MaxReadahead int `yaml:"max_readahead"`

	HTTP    HTTPConfig    `yaml:"http"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Control ControlConfig `yaml:"control"`
	FUSE    FUSEConfig    `yaml:"fuse"`
}

// HTTPConfig configures the origin client.
type HTTPConfig struct {
	// Timeout bounds each request end to end.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// UserAgent overrides the default "autohttpfs/<version>".
	UserAgent string `yaml:"user_agent"`
}

// CacheConfig configures the attribute cache.
type CacheConfig struct {
	// Enabled turns attribute caching on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// TTL is how long a classification stays valid without a hit.
	// Default: 60s
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries is the soft capacity.
	// Default: 2000
	MaxEntries int `yaml:"max_entries"`

	// TrimInterval is the trimmer's sweep period.
	// Default: 5s
	TrimInterval time.Duration `yaml:"trim_interval"`

	// Policy selects the trimming order: "fifo" or "lru".
	// Default: fifo
	Policy string `yaml:"policy"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is a syslog-scale verbosity, 0..8.
	// Default: 5 (notice)
	Level int `yaml:"level"`

	// Format is "console" or "json".
	// Default: console
	Format string `yaml:"format"`

	// Output is stdout, stderr, or a file path.
	// Default: stderr
	Output string `yaml:"output"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables it.
	Addr string `yaml:"addr"`
}

// ControlConfig configures the control namespace.
type ControlConfig struct {
	// Prefix is the absolute path of the control directory.
	// Default: /.proc
	Prefix string `yaml:"prefix"`
}

// FUSEConfig passes options to the kernel mount.
type FUSEConfig struct {
	AllowOther bool `yaml:"allow_other"`
	Debug      bool `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ReadOnly:     true,
		NoExec:       true,
		MaxReadahead: 128 << 10,
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      true,
			TTL:          60 * time.Second,
			MaxEntries:   2000,
			TrimInterval: 5 * time.Second,
			Policy:       "fifo",
		},
		Log: LogConfig{
			Level:  5,
			Format: "console",
			Output: "stderr",
		},
		Control: ControlConfig{
			Prefix: "/.proc",
		},
	}
}

// Load overlays the YAML file at path on Default. Unknown keys are errors.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects inconsistent values.
func (c *Config) Validate() error {
	var errs []error
	if c.Mountpoint == "" {
		errs = append(errs, errors.New("mountpoint is required"))
	}
	if c.Origin != "" {
		u, err := url.Parse(c.Origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("origin %q must be an absolute http(s) URL", c.Origin))
		}
	}
	if c.MaxReadahead < 0 {
		errs = append(errs, fmt.Errorf("max_readahead must not be negative, got %d", c.MaxReadahead))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout must be positive, got %v", c.HTTP.Timeout))
	}
	if c.Cache.TTL < time.Second {
		errs = append(errs, fmt.Errorf("cache.ttl must be at least 1s, got %v", c.Cache.TTL))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries))
	}
	if c.Cache.TrimInterval <= 0 {
		errs = append(errs, fmt.Errorf("cache.trim_interval must be positive, got %v", c.Cache.TrimInterval))
	}
	switch c.Cache.Policy {
	case "fifo", "lru":
	default:
		errs = append(errs, fmt.Errorf("cache.policy must be fifo or lru, got %q", c.Cache.Policy))
	}
	if c.Log.Level < 0 || c.Log.Level > 8 {
		errs = append(errs, fmt.Errorf("log.level must be between 0 and 8, got %d", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	if !strings.HasPrefix(c.Control.Prefix, "/.") || strings.Count(c.Control.Prefix, "/") != 1 {
		errs = append(errs, fmt.Errorf("control.prefix must be a hidden top-level name like /.proc, got %q", c.Control.Prefix))
	}
	return errors.Join(errs...)
}
