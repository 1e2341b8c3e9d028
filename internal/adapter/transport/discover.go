package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// VersionInfo is the body of a DevTools /json/version response.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent,omitempty"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Discover asks an http(s) DevTools address for its browser-level WebSocket
// URL. ws and wss URLs are returned unchanged.
func Discover(ctx context.Context, endpoint string, client *http.Client) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("discover %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return endpoint, nil
	case "http", "https":
	default:
		return "", fmt.Errorf("discover %q: unsupported scheme %q", endpoint, u.Scheme)
	}

	info, err := FetchVersion(ctx, endpoint, client)
	if err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("discover %q: no webSocketDebuggerUrl in /json/version", endpoint)
	}
	return info.WebSocketDebuggerURL, nil
}

// FetchVersion reads /json/version from an http(s) DevTools address.
func FetchVersion(ctx context.Context, endpoint string, client *http.Client) (*VersionInfo, error) {
	if client == nil {
		client = http.DefaultClient
	}
	versionURL := strings.TrimSuffix(endpoint, "/") + "/json/version"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionURL, nil)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("discover: %s returned %d: %s", versionURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var info VersionInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("discover: decode %s: %w", versionURL, err)
	}
	return &info, nil
}
