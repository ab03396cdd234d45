// Package scheduler drives the heartbeat: scheduled jobs, then at most one
// organic task per tick.
package scheduler

import "time"

// Config defines the heartbeat configuration.
type Config struct {
	// TickInterval is the period between ticks after the first, immediate one.
	TickInterval time.Duration `yaml:"tick_interval"`
	// IdleLogEvery appends an idle heartbeat entry on every Nth consecutive
	// idle cycle. Zero disables idle entries.
	IdleLogEvery int `yaml:"idle_log_every"`
	// OutputLimit caps the output stored per activity entry, in runes.
	OutputLimit int `yaml:"output_limit"`
}

// DefaultConfig returns the default heartbeat configuration.
func DefaultConfig() *Config {
	return &Config{
		TickInterval: time.Minute,
		IdleLogEvery: 10,
		OutputLimit:  2000,
	}
}
