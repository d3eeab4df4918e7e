package dedup

import (
	"errors"
	"fmt"
	"time"
)

// Route class names
const (
	ClassCreate       = "create"
	ClassFrequentSave = "frequent-save"
)

// RouteClassConfig assigns a window to routes whose "<METHOD> <normalized path>"
// key matches one of Patterns.
type RouteClassConfig struct {
	Name     string        `mapstructure:"name" yaml:"name" validate:"required"`
	Window   time.Duration `mapstructure:"window" yaml:"window" validate:"gt=0"`
	Patterns []string      `mapstructure:"patterns" yaml:"patterns" validate:"min=1"`
}

// Config holds the deduplication cache settings
type Config struct {
	Enabled       bool               `mapstructure:"enabled" yaml:"enabled"`
	DefaultWindow time.Duration      `mapstructure:"default_window" yaml:"default_window" validate:"gt=0"`
	RouteClasses  []RouteClassConfig `mapstructure:"route_classes" yaml:"route_classes" validate:"dive"`
	MaxSize       int                `mapstructure:"max_size" yaml:"max_size" validate:"gt=0"`
	Shards        int                `mapstructure:"shards" yaml:"shards" validate:"gt=0,lte=1024"`
	SweepInterval time.Duration      `mapstructure:"sweep_interval" yaml:"sweep_interval" validate:"gt=0"`
	MaxBodyBytes  int64              `mapstructure:"max_body_bytes" yaml:"max_body_bytes" validate:"gt=0"`
	SkipPaths     []string           `mapstructure:"skip_paths" yaml:"skip_paths"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		DefaultWindow: 2 * time.Second,
		RouteClasses: []RouteClassConfig{
			{
				Name:     ClassCreate,
				Window:   5 * time.Second,
				Patterns: []string{`^POST /sessions$`, `^POST /bookings$`, `^POST /hotels$`},
			},
			{
				Name:     ClassFrequentSave,
				Window:   time.Second,
				Patterns: []string{`/(draft|autosave|progress)$`},
			},
		},
		MaxSize:       10000,
		Shards:        16,
		SweepInterval: time.Minute,
		MaxBodyBytes:  1 << 20,
		SkipPaths:     []string{"/health", "/metrics", "/static/", "/assets/", "/favicon.ico"},
	}
}

// Validate checks the invariants struct tags cannot express
func (c Config) Validate() error {
	if c.DefaultWindow <= 0 {
		return errors.New("default window must be positive")
	}
	if c.MaxSize <= 0 {
		return errors.New("max size must be positive")
	}
	if c.Shards <= 0 {
		return errors.New("shard count must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be positive")
	}
	seen := make(map[string]bool, len(c.RouteClasses))
	for _, rc := range c.RouteClasses {
		if seen[rc.Name] {
			return fmt.Errorf("duplicate route class %q", rc.Name)
		}
		seen[rc.Name] = true
	}
	return nil
}
