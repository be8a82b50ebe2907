// Package config loads moqview-play's configuration from, in ascending
// order of precedence, built-in defaults, an optional YAML file, an
// optional .env file's environment variables, and command-line flags.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds everything the CLI demo needs to open a broadcast and run
// its debug/metrics surface.
type Config struct {
	URL         string        `yaml:"url"`
	Rendition   string        `yaml:"rendition"`
	Latency     time.Duration `yaml:"latency"`
	MinBuffer   time.Duration `yaml:"min_buffer"`
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
	DebugAddr   string        `yaml:"debug_addr"`
	InsecureTLS bool          `yaml:"insecure_tls"`
	StatsPeriod time.Duration `yaml:"stats_period"`
}

// Defaults returns the built-in configuration used when neither a config
// file nor flags override a field.
func Defaults() *Config {
	return &Config{
		Latency:     200 * time.Millisecond,
		MinBuffer:   100 * time.Millisecond,
		LogLevel:    "info",
		LogFormat:   "text",
		DebugAddr:   ":9090",
		StatsPeriod: 5 * time.Second,
	}
}

// LoadEnvFile loads a .env file into the process environment, if present.
// A missing file is not an error; the caller is expected to fall back to
// defaults or flags either way.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// getEnv returns the environment variable named by key, or fallback if
// unset or empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// LoadFile merges a YAML config file over base. A missing file is not an
// error; base is returned unmodified.
func LoadFile(base *Config, path string) (*Config, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := *base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides cfg's fields from environment variables, following
// the file layer and preceding flags.
func ApplyEnv(cfg *Config) {
	cfg.URL = getEnv("MOQVIEW_URL", cfg.URL)
	cfg.Rendition = getEnv("MOQVIEW_RENDITION", cfg.Rendition)
	cfg.LogLevel = getEnv("MOQVIEW_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("MOQVIEW_LOG_FORMAT", cfg.LogFormat)
	cfg.DebugAddr = getEnv("MOQVIEW_DEBUG_ADDR", cfg.DebugAddr)
	cfg.Latency = getEnvDuration("MOQVIEW_LATENCY", cfg.Latency)
	cfg.MinBuffer = getEnvDuration("MOQVIEW_MIN_BUFFER", cfg.MinBuffer)
}

// FlagSet builds a pflag.FlagSet bound to cfg's fields; call Parse on it
// and then Validate on cfg.
func FlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("moqview-play", pflag.ContinueOnError)
	fs.StringVar(&cfg.URL, "url", cfg.URL, "moq:// or https:// URL of the broadcast to watch")
	fs.StringVar(&cfg.Rendition, "rendition", cfg.Rendition, "explicit rendition name to request (empty selects automatically)")
	fs.DurationVar(&cfg.Latency, "latency", cfg.Latency, "target end-to-end presentation latency")
	fs.DurationVar(&cfg.MinBuffer, "min-buffer", cfg.MinBuffer, "minimum buffer duration (validated only; the player takes its buffer from the catalog's minBuffer and does not read this value)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")
	fs.StringVar(&cfg.DebugAddr, "debug-addr", cfg.DebugAddr, "address for the /metrics, /stats, and /healthz server")
	fs.BoolVar(&cfg.InsecureTLS, "insecure-tls", cfg.InsecureTLS, "skip TLS certificate verification (self-signed relays)")
	fs.DurationVar(&cfg.StatsPeriod, "stats-period", cfg.StatsPeriod, "interval between stats log lines")
	var configFile string
	fs.StringVar(&configFile, "config", "", "path to a YAML config file")
	return fs
}

// ConfigFileFlag peeks at the --config flag ahead of the full flag parse,
// so LoadFile can run before FlagSet's other fields are bound over it.
func ConfigFileFlag(args []string) string {
	fs := pflag.NewFlagSet("moqview-play-peek", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	var configFile string
	fs.StringVar(&configFile, "config", "", "path to a YAML config file")
	_ = fs.Parse(args)
	return configFile
}

// Validate rejects a configuration that cannot be used to start playback.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if c.Latency <= 0 {
		return fmt.Errorf("latency must be positive, got %v", c.Latency)
	}
	if c.MinBuffer < 0 {
		return fmt.Errorf("min-buffer must not be negative, got %v", c.MinBuffer)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	return nil
}
