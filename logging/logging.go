// Package logging builds the zap logger used across autohttpfs.
//
// Verbosity is an integer on the syslog scale (8 verbose, 7 debug, 6 info,
// 5 notice, 4 warning, 3 error, 2 and below critical) so it can be read and
// written as a number through the control namespace. zap has no notice
// level; notice and info both enable info messages.
package logging

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LevelCrit    = 2
	LevelError   = 3
	LevelWarning = 4
	LevelNotice  = 5
	LevelInfo    = 6
	LevelDebug   = 7
	LevelVerbose = 8

	DefaultLevel = LevelNotice
)

// ErrLevelRange is returned for verbosities outside 0..8.
var ErrLevelRange = errors.New("logging: level must be between 0 and 8")

// Config holds logging configuration.
type Config struct {
	Level      int    // syslog scale, see package doc
	Format     string // console, json
	OutputPath string // stdout, stderr, or file path
}

// Verbosity is the runtime-tunable level of a logger built by New.
type Verbosity struct {
	atom zap.AtomicLevel
	n    atomic.Int64
}

// NewVerbosity returns a Verbosity set to n.
func NewVerbosity(n int64) (*Verbosity, error) {
	v := &Verbosity{atom: zap.NewAtomicLevel()}
	if err := v.Set(n); err != nil {
		return nil, err
	}
	return v, nil
}

// Get returns the current syslog-scale level.
func (v *Verbosity) Get() int64 { return v.n.Load() }

// Set changes the level of every logger derived from this Verbosity.
func (v *Verbosity) Set(n int64) error {
	if n < 0 || n > LevelVerbose {
		return fmt.Errorf("%w: %d", ErrLevelRange, n)
	}
	v.n.Store(n)
	v.atom.SetLevel(ZapLevel(n))
	return nil
}

// Level exposes the underlying atomic level.
func (v *Verbosity) Level() zap.AtomicLevel { return v.atom }

// ZapLevel maps a syslog-scale verbosity onto the lowest enabled zap level.
func ZapLevel(n int64) zapcore.Level {
	switch {
	case n >= LevelDebug:
		return zapcore.DebugLevel
	case n >= LevelNotice:
		return zapcore.InfoLevel
	case n == LevelWarning:
		return zapcore.WarnLevel
	case n == LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.DPanicLevel
	}
}

// New builds a logger whose level follows the returned Verbosity.
func New(cfg Config) (*zap.Logger, *Verbosity, error) {
	v, err := NewVerbosity(int64(cfg.Level))
	if err != nil {
		return nil, nil, err
	}

	var config zap.Config
	if cfg.Format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		// DPanic is our "critical"; it must never abort the mount.
		config.Development = false
	}
	config.Level = v.atom
	if cfg.OutputPath != "" {
		config.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, nil, fmt.Errorf("logging: build: %w", err)
	}
	return logger, v, nil
}
