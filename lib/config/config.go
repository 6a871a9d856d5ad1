// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the conveyor server configuration.
//
// Configuration is read from a single YAML file named by:
//   - the CONVEYOR_CONFIG environment variable, or
//   - the --config flag of the command
//
// There is no discovery and no fallback location. The file may carry
// development, staging, and production sections whose values override
// the base values when the environment matches.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the configuration file when no flag does.
const EnvironmentVariable = "CONVEYOR_CONFIG"

// Environment is the deployment type.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the conveyor server configuration.
type Config struct {
	Environment Environment     `yaml:"environment"`
	Paths       PathsConfig     `yaml:"paths"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	Disk        DiskConfig      `yaml:"disk"`
	Secrets     SecretsConfig   `yaml:"secrets"`
	Socket      SocketConfig    `yaml:"socket"`
	Log         LogConfig       `yaml:"log"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the values an environment section may replace.
// Empty values leave the base value alone.
type Overrides struct {
	Paths     *PathsConfig     `yaml:"paths,omitempty"`
	Scheduler *SchedulerConfig `yaml:"scheduler,omitempty"`
	Disk      *DiskConfig      `yaml:"disk,omitempty"`
	Secrets   *SecretsConfig   `yaml:"secrets,omitempty"`
	Socket    *SocketConfig    `yaml:"socket,omitempty"`
	Log       *LogConfig       `yaml:"log,omitempty"`
}

// PathsConfig configures directory locations. Every path may use
// ${CONVEYOR_ROOT}, ${HOME}, and ${VAR:-default}.
type PathsConfig struct {
	Root string `yaml:"root"`

	// State holds the sqlite databases.
	State string `yaml:"state"`

	// Pipelines holds the pipeline definition files.
	Pipelines string `yaml:"pipelines"`

	// Materials holds the pollers' repository mirrors.
	Materials string `yaml:"materials"`

	// Artifacts is the filesystem whose free space gates scheduling.
	Artifacts string `yaml:"artifacts"`
}

// SchedulerConfig tunes trigger evaluation. Durations use
// time.ParseDuration syntax.
type SchedulerConfig struct {
	// PollInterval is how often auto-update materials are polled.
	PollInterval string `yaml:"poll_interval"`

	// SweepInterval is how often every pipeline is re-evaluated.
	SweepInterval string `yaml:"sweep_interval"`

	// MDUTimeout bounds the material update before a manual run. "0"
	// waits until the update finishes.
	MDUTimeout string `yaml:"mdu_timeout"`

	// MDUWorkers bounds concurrent material updates.
	MDUWorkers int `yaml:"mdu_workers"`

	// TimerLocation is the time zone timer specs are evaluated in.
	TimerLocation string `yaml:"timer_location"`
}

// DiskConfig configures the artifacts disk gate.
type DiskConfig struct {
	// ArtifactsMinimumFree is a byte size such as "2GiB" or "500 MB".
	// "0" disables the gate.
	ArtifactsMinimumFree string `yaml:"artifacts_minimum_free"`
}

// SecretsConfig locates the age identity that decrypts material
// passwords.
type SecretsConfig struct {
	// Identity is an age identity file. Empty disables encrypted
	// passwords.
	Identity string `yaml:"identity"`
}

// SocketConfig configures the control socket.
type SocketConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures the server log.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
}

// Default returns the values a configuration file is loaded over.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:      "${HOME}/.local/share/conveyor",
			State:     "${CONVEYOR_ROOT}/state",
			Pipelines: "${CONVEYOR_ROOT}/pipelines",
			Materials: "${CONVEYOR_ROOT}/materials",
			Artifacts: "${CONVEYOR_ROOT}/artifacts",
		},
		Scheduler: SchedulerConfig{
			PollInterval:  "1m",
			SweepInterval: "10m",
			MDUTimeout:    "5m",
			MDUWorkers:    4,
			TimerLocation: "UTC",
		},
		Disk: DiskConfig{
			ArtifactsMinimumFree: "1GiB",
		},
		Socket: SocketConfig{
			Path: "${CONVEYOR_ROOT}/conveyor.sock",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultSocketPath is the control socket of a server running with the
// default paths.
func DefaultSocketPath() string {
	cfg := Default()
	cfg.expandVariables()
	return cfg.Socket.Path
}

// Load reads the file named by CONVEYOR_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your conveyor.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads path over Default, applies the section for the
// configured environment, expands variables, and validates.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		override(&c.Paths.Root, paths.Root)
		override(&c.Paths.State, paths.State)
		override(&c.Paths.Pipelines, paths.Pipelines)
		override(&c.Paths.Materials, paths.Materials)
		override(&c.Paths.Artifacts, paths.Artifacts)
	}
	if scheduler := overrides.Scheduler; scheduler != nil {
		override(&c.Scheduler.PollInterval, scheduler.PollInterval)
		override(&c.Scheduler.SweepInterval, scheduler.SweepInterval)
		override(&c.Scheduler.MDUTimeout, scheduler.MDUTimeout)
		override(&c.Scheduler.TimerLocation, scheduler.TimerLocation)
		if scheduler.MDUWorkers != 0 {
			c.Scheduler.MDUWorkers = scheduler.MDUWorkers
		}
	}
	if overrides.Disk != nil {
		override(&c.Disk.ArtifactsMinimumFree, overrides.Disk.ArtifactsMinimumFree)
	}
	if overrides.Secrets != nil {
		override(&c.Secrets.Identity, overrides.Secrets.Identity)
	}
	if overrides.Socket != nil {
		override(&c.Socket.Path, overrides.Socket.Path)
	}
	if overrides.Log != nil {
		override(&c.Log.Level, overrides.Log.Level)
	}
}

func override(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["CONVEYOR_ROOT"] = c.Paths.Root

	for _, path := range []*string{
		&c.Paths.State,
		&c.Paths.Pipelines,
		&c.Paths.Materials,
		&c.Paths.Artifacts,
		&c.Secrets.Identity,
		&c.Socket.Path,
	} {
		*path = expandVars(*path, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default}, preferring vars
// over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment %q", c.Environment))
	}

	for name, path := range map[string]string{
		"paths.root":      c.Paths.Root,
		"paths.state":     c.Paths.State,
		"paths.pipelines": c.Paths.Pipelines,
		"paths.materials": c.Paths.Materials,
		"socket.path":     c.Socket.Path,
	} {
		if path == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	if _, err := c.PollInterval(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SweepInterval(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.MDUTimeout(); err != nil {
		errs = append(errs, err)
	}
	if c.Scheduler.MDUWorkers < 1 {
		errs = append(errs, fmt.Errorf("scheduler.mdu_workers must be at least 1, got %d", c.Scheduler.MDUWorkers))
	}
	if _, err := c.TimerLocation(); err != nil {
		errs = append(errs, err)
	}
	minimum, err := c.ArtifactsMinimumFree()
	if err != nil {
		errs = append(errs, err)
	} else if minimum > 0 && c.Paths.Artifacts == "" {
		errs = append(errs, fmt.Errorf("paths.artifacts is required when disk.artifacts_minimum_free is set"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PollInterval parses scheduler.poll_interval.
func (c *Config) PollInterval() (time.Duration, error) {
	return positiveDuration("scheduler.poll_interval", c.Scheduler.PollInterval)
}

// SweepInterval parses scheduler.sweep_interval.
func (c *Config) SweepInterval() (time.Duration, error) {
	return positiveDuration("scheduler.sweep_interval", c.Scheduler.SweepInterval)
}

// MDUTimeout parses scheduler.mdu_timeout. Zero means no timeout.
func (c *Config) MDUTimeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.Scheduler.MDUTimeout)
	if err != nil || timeout < 0 {
		return 0, fmt.Errorf("scheduler.mdu_timeout: invalid duration %q", c.Scheduler.MDUTimeout)
	}
	return timeout, nil
}

func positiveDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("%s: want a positive duration, got %q", field, value)
	}
	return duration, nil
}

// TimerLocation loads scheduler.timer_location.
func (c *Config) TimerLocation() (*time.Location, error) {
	location, err := time.LoadLocation(c.Scheduler.TimerLocation)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timer_location: %w", err)
	}
	return location, nil
}

// ArtifactsMinimumFree parses disk.artifacts_minimum_free in bytes.
func (c *Config) ArtifactsMinimumFree() (uint64, error) {
	if c.Disk.ArtifactsMinimumFree == "" {
		return 0, nil
	}
	minimum, err := humanize.ParseBytes(c.Disk.ArtifactsMinimumFree)
	if err != nil {
		return 0, fmt.Errorf("disk.artifacts_minimum_free: %w", err)
	}
	return minimum, nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// EnsurePaths creates the directories the server writes to.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{
		c.Paths.Root,
		c.Paths.State,
		c.Paths.Pipelines,
		c.Paths.Materials,
		c.Paths.Artifacts,
		filepath.Dir(c.Socket.Path),
	} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("config: creating %s: %w", path, err)
		}
	}
	return nil
}
