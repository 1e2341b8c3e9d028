// Package integration runs the engine against a real browser. Tests are
// behind the integration build tag and skip unless CDPMUX_CHROME_URL points
// at a DevTools endpoint, e.g. a headless Chrome started with
// --remote-debugging-port=9222.
package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"cdpmux/internal/adapter/mapper"
	"cdpmux/internal/adapter/transport"
	"cdpmux/internal/usecase/rpc"
	"cdpmux/pkg/devtools"
)

// Config holds integration test configuration from the environment.
type Config struct {
	ChromeURL   string
	TestTimeout time.Duration
	SkipSlow    bool
	Verbose     bool
}

// LoadConfig reads CDPMUX_CHROME_URL, SKIP_SLOW_TESTS and CDPMUX_TEST_VERBOSE.
func LoadConfig() *Config {
	return &Config{
		ChromeURL:   os.Getenv("CDPMUX_CHROME_URL"),
		TestTimeout: 60 * time.Second,
		SkipSlow:    os.Getenv("SKIP_SLOW_TESTS") == "1",
		Verbose:     os.Getenv("CDPMUX_TEST_VERBOSE") == "1",
	}
}

// SkipIfNoBrowser skips the test when no endpoint is configured.
func SkipIfNoBrowser(t *testing.T, cfg *Config) {
	t.Helper()
	if cfg.ChromeURL == "" {
		t.Skip("Skipping browser integration test: CDPMUX_CHROME_URL not set")
	}
}

// SkipIfShort skips integration tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// Connect dials the configured browser and returns a connection that is
// closed when the test ends.
func Connect(t *testing.T, ctx context.Context, cfg *Config) *rpc.Conn {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.Verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	url, err := transport.Discover(ctx, cfg.ChromeURL, nil)
	if err != nil {
		t.Fatalf("discover %s: %v", cfg.ChromeURL, err)
	}
	ch, err := transport.Dial(ctx, url, transport.WebSocketOptions{}, logger)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}

	reg := mapper.NewRegistry()
	reg.RegisterAll(devtools.EventTypes())
	conn := rpc.NewConn(ch, mapper.NewJSON(reg), rpc.Options{}, logger)
	t.Cleanup(func() { conn.Close() })
	return conn
}
