package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type wireFrame struct {
	ID        uint64          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result"`
	Error     *Error          `json:"error"`
	SessionID string          `json:"sessionId"`
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	srv := New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1})))
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-served)
	})
	return srv
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func roundTrip(t *testing.T, ws *websocket.Conn, req Request) []wireFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, ws, req))

	var frames []wireFrame
	for {
		var f wireFrame
		require.NoError(t, wsjson.Read(ctx, ws, &f))
		frames = append(frames, f)
		if f.Method == "" && f.ID == req.ID {
			return frames
		}
	}
}

func TestVersionEndpointAdvertisesDebuggerURL(t *testing.T) {
	srv := startTestServer(t)

	resp, err := http.Get("http://" + srv.Addr() + "/json/version")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, srv.URL(), body["webSocketDebuggerUrl"])
	assert.Equal(t, "1.3", body["Protocol-Version"])
}

func TestUnknownBrowserIDIsRejected(t *testing.T) {
	srv := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := websocket.Dial(ctx, "ws://"+srv.Addr()+"/devtools/browser/nope", nil)
	assert.Error(t, err)
}

func TestBuiltinCommands(t *testing.T) {
	srv := startTestServer(t)
	srv.SetDOMCounters(DOMCounters{Documents: 3, Nodes: 10, JsEventListeners: 2})
	ws := dialWS(t, srv.URL())

	frames := roundTrip(t, ws, Request{ID: 5, Method: "Memory.getDOMCounters"})
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"documents":3,"nodes":10,"jsEventListeners":2}`, string(frames[0].Result))

	frames = roundTrip(t, ws, Request{ID: 6, Method: "Page.enable", SessionID: "S1"})
	assert.JSONEq(t, `{}`, string(frames[0].Result))
	assert.Equal(t, "S1", frames[0].SessionID)

	frames = roundTrip(t, ws, Request{ID: 7, Method: "Browser.getVersion"})
	assert.Contains(t, string(frames[0].Result), "cdpmux-emulator")
}

func TestUnknownMethodIsRejected(t *testing.T) {
	srv := startTestServer(t)
	ws := dialWS(t, srv.URL())

	frames := roundTrip(t, ws, Request{ID: 1, Method: "Foo.bar"})
	require.NotNil(t, frames[0].Error)
	assert.Equal(t, CodeMethodNotFound, frames[0].Error.Code)
	assert.Equal(t, "'Foo.bar' wasn't found", frames[0].Error.Message)
}

func TestEvaluateEmitsConsoleEventBeforeResponse(t *testing.T) {
	srv := startTestServer(t)
	ws := dialWS(t, srv.URL())

	frames := roundTrip(t, ws, Request{ID: 1, Method: "Runtime.evaluate", Params: json.RawMessage(`{"expression":"hello"}`)})
	require.Len(t, frames, 2)
	assert.Equal(t, "Console.messageAdded", frames[0].Method)
	assert.JSONEq(t, `{"message":{"source":"console-api","level":"log","text":"hello"}}`, string(frames[0].Params))
	assert.JSONEq(t, `{"result":{"type":"string","value":"hello"}}`, string(frames[1].Result))

	frames = roundTrip(t, ws, Request{ID: 2, Method: "Runtime.evaluate", Params: json.RawMessage(`{}`)})
	require.NotNil(t, frames[0].Error)
	assert.Equal(t, CodeInvalidParams, frames[0].Error.Code)
}

func TestCustomHandlerErrors(t *testing.T) {
	srv := startTestServer(t)
	srv.Handle("Page.navigate", func(context.Context, *Client, Request) (any, error) {
		return nil, errors.New("Cannot navigate to invalid URL")
	})
	ws := dialWS(t, srv.URL())

	frames := roundTrip(t, ws, Request{ID: 1, Method: "Page.navigate"})
	require.NotNil(t, frames[0].Error)
	assert.Equal(t, CodeServerError, frames[0].Error.Code)
	assert.Equal(t, "Cannot navigate to invalid URL", frames[0].Error.Message)
}

func TestEmitBroadcasts(t *testing.T) {
	srv := startTestServer(t)
	a := dialWS(t, srv.URL())
	b := dialWS(t, srv.URL())
	require.Eventually(t, func() bool { return srv.Clients() == 2 }, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, srv.Emit("Page.loadEventFired", map[string]float64{"timestamp": 1.5}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, ws := range []*websocket.Conn{a, b} {
		var f wireFrame
		require.NoError(t, wsjson.Read(ctx, ws, &f))
		assert.Equal(t, "Page.loadEventFired", f.Method)
		assert.JSONEq(t, `{"timestamp":1.5}`, string(f.Params))
	}
}

func TestVersionProbesAreRateLimited(t *testing.T) {
	srv := startTestServer(t)

	limited := false
	for i := 0; i < connectBurst+5 && !limited; i++ {
		resp, err := http.Get("http://" + srv.Addr() + "/json/version")
		require.NoError(t, err)
		resp.Body.Close()
		limited = resp.StatusCode == http.StatusTooManyRequests
	}
	assert.True(t, limited, "expected 429 after %d requests", connectBurst)
}

func TestTargetLifecycle(t *testing.T) {
	srv := startTestServer(t)
	ws := dialWS(t, srv.URL())

	frames := roundTrip(t, ws, Request{ID: 1, Method: "Target.createTarget", Params: json.RawMessage(`{"url":"about:blank"}`)})
	var created struct {
		TargetID string `json:"targetId"`
	}
	require.NoError(t, json.Unmarshal(frames[0].Result, &created))
	require.NotEmpty(t, created.TargetID)
	assert.Equal(t, 1, srv.Pages())

	frames = roundTrip(t, ws, Request{ID: 2, Method: "Target.attachToTarget",
		Params: json.RawMessage(`{"targetId":"` + created.TargetID + `","flatten":true}`)})
	require.Len(t, frames, 2)
	assert.Equal(t, "Target.attachedToTarget", frames[0].Method)
	var attached struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(frames[1].Result, &attached))
	assert.Contains(t, string(frames[0].Params), attached.SessionID)

	// Page.navigate is a page-session command.
	frames = roundTrip(t, ws, Request{ID: 3, Method: "Page.navigate", Params: json.RawMessage(`{"url":"https://example.com"}`)})
	require.NotNil(t, frames[0].Error)
	assert.Equal(t, CodeMethodNotFound, frames[0].Error.Code)

	frames = roundTrip(t, ws, Request{ID: 4, Method: "Page.navigate", SessionID: attached.SessionID,
		Params: json.RawMessage(`{"url":"https://example.com"}`)})
	require.Len(t, frames, 2)
	assert.Equal(t, "Page.loadEventFired", frames[0].Method)
	assert.Equal(t, attached.SessionID, frames[0].SessionID)
	assert.Equal(t, attached.SessionID, frames[1].SessionID)
	assert.Contains(t, string(frames[1].Result), created.TargetID)

	frames = roundTrip(t, ws, Request{ID: 5, Method: "Target.closeTarget", Params: json.RawMessage(`{"targetId":"` + created.TargetID + `"}`)})
	assert.Nil(t, frames[0].Error)
	assert.Zero(t, srv.Pages())

	frames = roundTrip(t, ws, Request{ID: 6, Method: "Target.attachToTarget", Params: json.RawMessage(`{"targetId":"gone"}`)})
	require.NotNil(t, frames[0].Error)
	assert.Equal(t, CodeServerError, frames[0].Error.Code)
}
