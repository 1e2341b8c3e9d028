package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateEndpoint(cfg, ve)
	validateEngine(cfg, ve)
	validateTransport(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// ValidateEndpointURL checks a DevTools endpoint: a ws/wss debugger URL, or an
// http/https address whose /json/version names one.
func ValidateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("url %q must use ws, wss, http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

func validateEndpoint(cfg *Config, ve *ValidationError) {
	// The URL may also come from the command line, so it is optional here.
	if cfg.Endpoint.URL != "" {
		if err := ValidateEndpointURL(cfg.Endpoint.URL); err != nil {
			ve.Add("endpoint.url: %v", err)
		}
	}
	if cfg.Endpoint.DialTimeout <= 0 {
		ve.Add("endpoint.dial_timeout must be > 0")
	}
	if cfg.Endpoint.ReadLimit < 0 {
		ve.Add("endpoint.read_limit must be >= 0")
	}
}

func validateEngine(cfg *Config, ve *ValidationError) {
	if cfg.Engine.CatchAllBuffer < 0 {
		ve.Add("engine.catch_all_buffer must be >= 0")
	}
	if cfg.Engine.CallTimeout < 0 {
		ve.Add("engine.call_timeout must be >= 0")
	}
}

func validateTransport(cfg *Config, ve *ValidationError) {
	t := cfg.Transport
	if t.SendRate < 0 {
		ve.Add("transport.send_rate must be >= 0")
	}
	if t.SendBurst < 0 {
		ve.Add("transport.send_burst must be >= 0")
	}
	if t.Breaker.Enabled {
		if t.Breaker.MaxFailures == 0 {
			ve.Add("transport.breaker.max_failures must be > 0 when the breaker is enabled")
		}
		if t.Breaker.Timeout < 0 || t.Breaker.Interval < 0 {
			ve.Add("transport.breaker timeout and interval must be >= 0")
		}
	}
}

var validLogLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

var validLogFormats = map[string]bool{"": true, "text": true, "json": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

var validExporters = map[string]bool{"": true, "noop": true, "stdout": true}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q must be noop or stdout", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be between 0 and 1")
	}
}
