// Package config loads the daemon configuration from ~/.cadence/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fentz26/cadence/internal/activitylog"
	"github.com/fentz26/cadence/internal/drive"
	"github.com/fentz26/cadence/internal/executor"
	"github.com/fentz26/cadence/internal/logging"
	"github.com/fentz26/cadence/internal/oracle"
	"github.com/fentz26/cadence/internal/scheduler"
)

// DefaultListen is the control-plane address used by the daemon and the CLI.
const DefaultListen = "127.0.0.1:7466"

// Config is the complete daemon configuration.
type Config struct {
	// Listen is the control-plane HTTP address.
	Listen string `yaml:"listen"`
	// DataDir holds every file the daemon writes.
	DataDir string `yaml:"data_dir"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Scheduler   scheduler.Config `yaml:"scheduler"`
	Executor    executor.Config  `yaml:"executor"`
	Drive       drive.Config     `yaml:"drive"`
	Oracle      oracle.Config    `yaml:"oracle"`
	Sources     SourcesConfig    `yaml:"sources"`
	Tools       ToolsConfig      `yaml:"tools"`
	ActivityLog ActivityConfig   `yaml:"activity_log"`
}

// SourcesConfig tunes the built-in task sources.
type SourcesConfig struct {
	LearningEvery       int `yaml:"learning_every"`
	ReflectionStartHour int `yaml:"reflection_start_hour"`
	ReflectionEndHour   int `yaml:"reflection_end_hour"`
	SkillGapEvery       int `yaml:"skill_gap_every"`
	ProactiveEvery      int `yaml:"proactive_every"`
	// SessionWindow is how recently a client must have called the API for
	// an external session to count as active.
	SessionWindow time.Duration `yaml:"session_window"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	// ShellAllowlist replaces the default allowlist when set.
	ShellAllowlist map[string][]string `yaml:"shell_allowlist,omitempty"`
	ShellWorkDir   string              `yaml:"shell_work_dir"`
	ShellTimeout   time.Duration       `yaml:"shell_timeout"`
	FetchTimeout   time.Duration       `yaml:"fetch_timeout"`
}

// ActivityConfig bounds the activity log.
type ActivityConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
	Keep     int   `yaml:"keep"`
}

// DefaultDir returns ~/.cadence, or .cadence when there is no home.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cadence"
	}
	return filepath.Join(home, ".cadence")
}

// DefaultPath returns ~/.cadence/config.yaml.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    DefaultListen,
		DataDir:   DefaultDir(),
		LogLevel:  "info",
		Scheduler: *scheduler.DefaultConfig(),
		Executor:  executor.DefaultConfig(),
		Drive:     drive.DefaultConfig(),
		Oracle:    oracle.DefaultConfig(),
		Sources: SourcesConfig{
			LearningEvery:       3,
			ReflectionStartHour: 22,
			ReflectionEndHour:   6,
			SkillGapEvery:       20,
			ProactiveEvery:      5,
			SessionWindow:       10 * time.Minute,
		},
		Tools: ToolsConfig{
			ShellTimeout: time.Minute,
			FetchTimeout: 30 * time.Second,
		},
		ActivityLog: ActivityConfig{
			MaxBytes: activitylog.DefaultMaxBytes,
			Keep:     activitylog.DefaultKeep,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; fields absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file, creating parent directories if
// needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Scheduler.TickInterval < time.Second {
		errs = append(errs, fmt.Errorf("scheduler.tick_interval must be at least 1s, got %s", c.Scheduler.TickInterval))
	}
	if c.Scheduler.IdleLogEvery < 0 {
		errs = append(errs, errors.New("scheduler.idle_log_every must not be negative"))
	}
	if c.Executor.MaxIterations < 1 {
		errs = append(errs, errors.New("executor.max_iterations must be at least 1"))
	}
	if c.Executor.SessionTimeout <= 0 {
		errs = append(errs, errors.New("executor.session_timeout must be positive"))
	}
	if c.Oracle.Model == "" {
		errs = append(errs, errors.New("oracle.model is required"))
	}
	for name, h := range map[string]int{
		"sources.reflection_start_hour": c.Sources.ReflectionStartHour,
		"sources.reflection_end_hour":   c.Sources.ReflectionEndHour,
	} {
		if h < 0 || h > 23 {
			errs = append(errs, fmt.Errorf("%s must be within 0-23, got %d", name, h))
		}
	}
	if c.ActivityLog.MaxBytes <= 0 || c.ActivityLog.Keep <= 0 {
		errs = append(errs, errors.New("activity_log.max_bytes and activity_log.keep must be positive"))
	}
	return errors.Join(errs...)
}

// DBPath is the SQLite database for goals, curiosity, learning and
// decision records.
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "cadence.db") }

// ActivityLogPath is the JSONL activity log.
func (c *Config) ActivityLogPath() string { return filepath.Join(c.DataDir, "activity.jsonl") }

// TaskStatePath is the task reliability snapshot.
func (c *Config) TaskStatePath() string { return filepath.Join(c.DataDir, "task_state.json") }

// SchedulesPath is the scheduled job list.
func (c *Config) SchedulesPath() string { return filepath.Join(c.DataDir, "schedules.json") }

// ProgressDir holds per-goal executor progress files.
func (c *Config) ProgressDir() string { return filepath.Join(c.DataDir, "progress") }

// MemoryDir holds the long-term memory vectors.
func (c *Config) MemoryDir() string { return filepath.Join(c.DataDir, "memory") }

// DaemonLogPath is the structured JSON process log.
func (c *Config) DaemonLogPath() string { return filepath.Join(c.DataDir, "daemon.log") }
