package control

import (
	"fmt"
	"time"
)

// CacheTunables is the part of the attribute cache the control files drive.
type CacheTunables interface {
	Len() int
	Enabled() bool
	SetEnabled(bool)
	MaxEntries() int
	SetMaxEntries(int)
	TTL() time.Duration
	SetTTL(time.Duration)
}

// LevelTunable is a runtime log verbosity, as provided by logging.Verbosity.
type LevelTunable interface {
	Get() int64
	Set(int64) error
}

// MountCache mounts the standard tree:
//
//	cache/enable       rw  0 or 1
//	cache/entries      ro  resident entries
//	cache/max_entries  rw  soft capacity
//	cache/expire       rw  TTL in seconds
//	cache/loglevel     rw  log verbosity
func (ns *Namespace) MountCache(c CacheTunables, lvl LevelTunable) {
	ns.Mount("cache/enable", Param{
		Name: "cache.enable",
		Get: func() int64 {
			if c.Enabled() {
				return 1
			}
			return 0
		},
		Set: func(v int64) error {
			if v != 0 && v != 1 {
				return fmt.Errorf("enable must be 0 or 1, got %d", v)
			}
			c.SetEnabled(v == 1)
			return nil
		},
	})
	ns.Mount("cache/entries", Param{
		Name: "cache.entries",
		Get:  func() int64 { return int64(c.Len()) },
	})
	ns.Mount("cache/max_entries", Param{
		Name: "cache.max_entries",
		Get:  func() int64 { return int64(c.MaxEntries()) },
		Set: func(v int64) error {
			if v < 0 {
				return fmt.Errorf("max_entries must not be negative, got %d", v)
			}
			c.SetMaxEntries(int(v))
			return nil
		},
	})
	ns.Mount("cache/expire", Param{
		Name: "cache.expire",
		Get:  func() int64 { return int64(c.TTL() / time.Second) },
		Set: func(v int64) error {
			if v < 0 || v > int64(time.Duration(1<<63-1)/time.Second) {
				return fmt.Errorf("expire out of range: %d", v)
			}
			c.SetTTL(time.Duration(v) * time.Second)
			return nil
		},
	})
	ns.Mount("cache/loglevel", Param{
		Name: "log.level",
		Get:  lvl.Get,
		Set:  lvl.Set,
	})
}
