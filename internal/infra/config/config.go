package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"cdpmux/internal/domain"
)

// Config is the root of the cdpmux configuration file.
type Config struct {
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Engine    EngineConfig    `yaml:"engine"`
	Transport TransportConfig `yaml:"transport"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// EndpointConfig locates the DevTools WebSocket.
type EndpointConfig struct {
	// URL is the browser or page debugger URL, e.g.
	// ws://127.0.0.1:9222/devtools/browser/<id>, or an http://host:port
	// address whose /json/version names one.
	URL         string            `yaml:"url"`
	DialTimeout time.Duration     `yaml:"dial_timeout"`
	ReadLimit   int64             `yaml:"read_limit"`
	Headers     map[string]string `yaml:"headers,omitempty"`
}

// EngineConfig sizes the connection's event fan-out.
type EngineConfig struct {
	ReplayCapacity int `yaml:"replay_capacity"` // negative disables replay
	CatchAllBuffer int `yaml:"catch_all_buffer"`
	// CallTimeout bounds how long the CLI waits for one response. The engine
	// itself never times out a command.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// TransportConfig holds send-side protections.
type TransportConfig struct {
	SendRate  float64       `yaml:"send_rate"` // frames per second, 0 = unlimited
	SendBurst int           `yaml:"send_burst"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for the send path.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			DialTimeout: 10 * time.Second,
			ReadLimit:   64 << 20,
		},
		Engine: EngineConfig{
			ReplayCapacity: 128,
			CatchAllBuffer: 1,
			CallTimeout:    30 * time.Second,
		},
		Transport: TransportConfig{
			Breaker: BreakerConfig{
				Enabled:     true,
				MaxFailures: 3,
				Timeout:     10 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := ApplyEnvOverrides(cfg); err != nil {
				return nil, err
			}
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrConfigLoad, path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve path: %w", domain.ErrConfigLoad, err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrConfigLoad, path, err)
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps CDPMUX_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CDPMUX_ENDPOINT_URL"); v != "" {
		cfg.Endpoint.URL = v
	}
	if v := os.Getenv("CDPMUX_ENDPOINT_DIAL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("CDPMUX_ENDPOINT_DIAL_TIMEOUT", err)
		}
		cfg.Endpoint.DialTimeout = d
	}
	if v := os.Getenv("CDPMUX_ENGINE_REPLAY_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("CDPMUX_ENGINE_REPLAY_CAPACITY", err)
		}
		cfg.Engine.ReplayCapacity = n
	}
	if v := os.Getenv("CDPMUX_ENGINE_CALL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("CDPMUX_ENGINE_CALL_TIMEOUT", err)
		}
		cfg.Engine.CallTimeout = d
	}
	if v := os.Getenv("CDPMUX_TRANSPORT_SEND_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("CDPMUX_TRANSPORT_SEND_RATE", err)
		}
		cfg.Transport.SendRate = f
	}
	if v := os.Getenv("CDPMUX_TRANSPORT_BREAKER_ENABLED"); v != "" {
		cfg.Transport.Breaker.Enabled = v == "true"
	}
	if v := os.Getenv("CDPMUX_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CDPMUX_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CDPMUX_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("CDPMUX_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CDPMUX_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	return nil
}

func envError(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrConfigLoad, name, err)
}

// validatePermissions checks the config file is not writable by others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: stat: %w", domain.ErrConfigLoad, err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("%w: %s has insecure permissions %o (want 0600 or 0644)", domain.ErrConfigLoad, path, mode)
	}
	return nil
}
