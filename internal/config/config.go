package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/powerdash/internal/chart"
	"codeberg.org/mutker/powerdash/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix        = "POWERDASH"
	DefaultLogLevel         = string(LogLevelWarning)
	DefaultTelemetryURL     = "wss://four07-backend.onrender.com"
	DefaultHistoryURL       = "https://four07-backend.onrender.com/main-chart/data"
	DefaultHighlight        = 150 * time.Millisecond
	DefaultReconnectMin     = time.Second
	DefaultReconnectMax     = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadLimit        = 4096
	DefaultWindow           = "today"
	DefaultChartWidth       = 1024
	DefaultChartHeight      = 400
	DefaultListen           = ":8080"
	DefaultDiagnosticsDB    = "/var/lib/powerdash/diagnostics.db"
	DefaultBatchSize        = 32
	DefaultBatchTimeout     = 5 * time.Second
	DefaultPIDFile          = "powerdash.pid"

	configName = "powerdash"
)

type TelemetryConfig struct {
	URL              string        `mapstructure:"url"`
	Highlight        time.Duration `mapstructure:"highlight"`
	ReconnectMin     time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadLimit        int64         `mapstructure:"read_limit"`
}

type HistoryConfig struct {
	URL string `mapstructure:"url"`
	// Timeout of zero leaves dataset requests without a deadline.
	Timeout time.Duration `mapstructure:"timeout"`
}

type ChartConfig struct {
	Window string `mapstructure:"window"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
}

type DiagnosticsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DBPath       string        `mapstructure:"db"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	LogLevel    string            `mapstructure:"log_level"`
	LogFile     string            `mapstructure:"log_file"`
	Headless    bool              `mapstructure:"headless"`
	Listen      string            `mapstructure:"listen"`
	PIDFile     string            `mapstructure:"pid_file"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	History     HistoryConfig     `mapstructure:"history"`
	Chart       ChartConfig       `mapstructure:"chart"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// Load reads defaults, the TOML config file, environment variables and
// command line flags, in increasing order of precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}
	if !o.argsSet {
		o.args = os.Args[1:]
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if f := fs.Lookup("config"); f != nil && f.Changed {
		path = f.Value.String()
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.AddConfigPath("/etc")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, configName))
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_file", "")
	v.SetDefault("headless", false)
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("pid_file", filepath.Join(os.TempDir(), DefaultPIDFile))
	v.SetDefault("telemetry.url", DefaultTelemetryURL)
	v.SetDefault("telemetry.highlight", DefaultHighlight)
	v.SetDefault("telemetry.reconnect_min", DefaultReconnectMin)
	v.SetDefault("telemetry.reconnect_max", DefaultReconnectMax)
	v.SetDefault("telemetry.handshake_timeout", DefaultHandshakeTimeout)
	v.SetDefault("telemetry.read_limit", DefaultReadLimit)
	v.SetDefault("history.url", DefaultHistoryURL)
	v.SetDefault("history.timeout", time.Duration(0))
	v.SetDefault("chart.window", DefaultWindow)
	v.SetDefault("chart.width", DefaultChartWidth)
	v.SetDefault("chart.height", DefaultChartHeight)
	v.SetDefault("diagnostics.enabled", false)
	v.SetDefault("diagnostics.db", DefaultDiagnosticsDB)
	v.SetDefault("diagnostics.batch_size", DefaultBatchSize)
	v.SetDefault("diagnostics.batch_timeout", DefaultBatchTimeout)
	v.SetDefault("metrics.enabled", false)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.String("config", "", "Path to the TOML configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning, error")
	fs.String("log-file", "", "Write logs to this file instead of stdout")
	fs.Bool("headless", false, "Serve the HTTP API instead of the terminal UI")
	fs.String("listen", DefaultListen, "Listen address in headless mode")
	fs.String("telemetry-url", DefaultTelemetryURL, "Websocket URL of the live telemetry source")
	fs.String("history-url", DefaultHistoryURL, "URL of the historical dataset endpoint")
	fs.String("window", DefaultWindow, "Initial chart window: today (1d), 7d (week), 30d (month)")
	fs.Bool("diagnostics", false, "Record connection and fetch diagnostics to sqlite")
	fs.Bool("metrics", false, "Expose Prometheus metrics")
	return fs
}

var flagKeys = map[string]string{
	"log-level":     "log_level",
	"log-file":      "log_file",
	"headless":      "headless",
	"listen":        "listen",
	"telemetry-url": "telemetry.url",
	"history-url":   "history.url",
	"window":        "chart.window",
	"diagnostics":   "diagnostics.enabled",
	"metrics":       "metrics.enabled",
}

// bindFlags binds only flags the user set, so unset flags never mask
// values from the file or environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	return bindErr
}

// Validate checks the loaded configuration for values the dashboard
// cannot run with.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if err := validateURL(c.Telemetry.URL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL(c.History.URL, "http", "https"); err != nil {
		return err
	}

	switch {
	case c.Telemetry.Highlight <= 0:
		return errFactory.WithData(errors.ErrInvalidDuration, "telemetry.highlight")
	case c.Telemetry.ReconnectMin <= 0:
		return errFactory.WithData(errors.ErrInvalidDuration, "telemetry.reconnect_min")
	case c.Telemetry.ReconnectMax < c.Telemetry.ReconnectMin:
		return errFactory.WithData(errors.ErrInvalidDuration, "telemetry.reconnect_max")
	case c.History.Timeout < 0:
		return errFactory.WithData(errors.ErrInvalidDuration, "history.timeout")
	}

	if _, err := chart.ParseWindow(c.Chart.Window); err != nil {
		return errFactory.WithData(errors.ErrInvalidWindow, c.Chart.Window)
	}

	if c.Diagnostics.Enabled && c.Diagnostics.DBPath == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "diagnostics.db")
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	errFactory := errors.New()

	u, err := url.Parse(raw)
	if err != nil {
		return errFactory.Wrap(errors.ErrInvalidURL, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return errFactory.WithData(errors.ErrInvalidURL, raw)
}

func (c *Config) GetLogLevel() string { return c.LogLevel }

func (c *Config) GetTelemetryURL() string { return c.Telemetry.URL }

func (c *Config) GetHighlight() time.Duration { return c.Telemetry.Highlight }

func (c *Config) GetHistoryURL() string { return c.History.URL }

func (c *Config) IsHeadless() bool { return c.Headless }

func (c *Config) IsMetricsEnabled() bool { return c.Metrics.Enabled }

func (c *Config) IsDiagnosticsEnabled() bool { return c.Diagnostics.Enabled }
