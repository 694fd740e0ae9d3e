// Package config provides configuration management for actorrt applications
package config

import (
	"fmt"
	"time"

	"github.com/najoast/actorrt/core"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Duration is a time.Duration written as "10ms" or "1m30s" in config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String returns the string representation of Duration
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Config represents the complete actorrt configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Scheduler configuration
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`

	// Monitoring configuration
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Custom configurations (for user-defined objects)
	Custom map[string]interface{} `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Application metadata
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Include the source position of the log call
	AddSource bool `yaml:"add_source" json:"add_source"`

	// Fields attached to every record
	Fields map[string]interface{} `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// RuntimeConfig contains scheduler configuration
type RuntimeConfig struct {
	// Shared worker pool size, 0 means one per CPU
	Workers int `yaml:"workers" json:"workers"`

	// Default time slice per object pass
	TimeSlice Duration `yaml:"time_slice" json:"time_slice"`

	// Pin every worker thread to a CPU
	PinWorkers bool `yaml:"pin_workers" json:"pin_workers"`

	// Maximum number of live objects, 0 means unlimited
	MaxObjects int `yaml:"max_objects" json:"max_objects"`

	// Upper bound on graceful shutdown
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// Options maps the configuration onto runtime options. Collaborators such as
// the logger and metrics are left for the caller to fill in.
func (c RuntimeConfig) Options() core.Options {
	return core.Options{
		Workers:    c.Workers,
		TimeSlice:  c.TimeSlice.Std(),
		PinWorkers: c.PinWorkers,
		MaxObjects: c.MaxObjects,
	}
}

// MonitorConfig contains monitoring configuration
type MonitorConfig struct {
	// Enable monitoring
	Enabled bool `yaml:"enabled" json:"enabled"`

	// How often runtime statistics are logged, 0 disables it
	StatsInterval Duration `yaml:"stats_interval" json:"stats_interval"`

	// HTTP server for metrics
	HTTP HTTPMonitorConfig `yaml:"http" json:"http"`
}

// HTTPMonitorConfig contains HTTP monitoring server settings
type HTTPMonitorConfig struct {
	// HTTP server address
	Address string `yaml:"address" json:"address"`

	// HTTP server port
	Port int `yaml:"port" json:"port"`

	// Metrics endpoint path
	MetricsPath string `yaml:"metrics_path" json:"metrics_path"`

	// Health endpoint path
	HealthPath string `yaml:"health_path" json:"health_path"`
}

// Addr returns the listen address of the monitor server.
func (c HTTPMonitorConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "actorrt-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       true,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stdout",
		},
		Runtime: RuntimeConfig{
			Workers:         0,
			TimeSlice:       Duration(10 * time.Millisecond),
			PinWorkers:      false,
			MaxObjects:      0,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Monitor: MonitorConfig{
			Enabled:       true,
			StatsInterval: Duration(time.Minute),
			HTTP: HTTPMonitorConfig{
				Address:     "0.0.0.0",
				Port:        9090,
				MetricsPath: "/metrics",
				HealthPath:  "/health",
			},
		},
		Custom: make(map[string]interface{}),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return ErrInvalidLogFormat
	}

	// Validate runtime config
	if c.Runtime.Workers < 0 {
		return ErrInvalidWorkers
	}
	if c.Runtime.TimeSlice <= 0 {
		return ErrInvalidTimeSlice
	}
	if c.Runtime.MaxObjects < 0 {
		return ErrInvalidMaxObjects
	}
	if c.Runtime.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	// Validate monitor config; port 0 picks a free port
	if c.Monitor.Enabled && (c.Monitor.HTTP.Port < 0 || c.Monitor.HTTP.Port > 65535) {
		return ErrInvalidPort
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
