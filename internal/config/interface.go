package config

import "time"

// Provider defines the interface for accessing configuration values.
// All configuration values are immutable after initial loading.
type Provider interface {
	// GetLogLevel returns the configured logging level
	GetLogLevel() string

	// GetTelemetryURL returns the websocket URL of the live telemetry source
	GetTelemetryURL() string

	// GetHighlight returns how long a freshly received sample stays highlighted
	GetHighlight() time.Duration

	// GetHistoryURL returns the historical dataset endpoint
	GetHistoryURL() string

	// IsHeadless returns whether the HTTP surface replaces the terminal UI
	IsHeadless() bool

	// IsMetricsEnabled returns whether Prometheus metrics are exposed
	IsMetricsEnabled() bool

	// IsDiagnosticsEnabled returns whether the diagnostics journal is written
	IsDiagnosticsEnabled() bool
}

// Option defines a configuration option that can be passed to Load
type Option func(*options) error

// options holds internal configuration options
type options struct {
	configPath string
	envPrefix  string
	args       []string
	argsSet    bool
}

// WithConfigFile specifies an explicit configuration file path
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "POWERDASH"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}

// WithArgs parses the given command line arguments instead of os.Args[1:]
func WithArgs(args []string) Option {
	return func(o *options) error {
		o.args = args
		o.argsSet = true
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}
