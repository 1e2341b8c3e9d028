package transport

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// startPeer serves a WebSocket endpoint that runs handle for each client.
func startPeer(t *testing.T, handle func(ctx context.Context, ws *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close(websocket.StatusNormalClosure, "")
		ws.SetReadLimit(4 << 20)
		handle(r.Context(), ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func echo(ctx context.Context, ws *websocket.Conn) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		if err := ws.Write(ctx, typ, data); err != nil {
			return
		}
	}
}

func dial(t *testing.T, url string, opts WebSocketOptions) *WebSocket {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, err := Dial(ctx, url, opts, noopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func next(t *testing.T, ch <-chan []byte) ([]byte, bool) {
	t.Helper()
	select {
	case data, ok := <-ch:
		return data, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil, false
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	ws := dial(t, startPeer(t, echo), WebSocketOptions{})

	for _, msg := range []string{`{"id":1,"method":"Page.enable"}`, `{"id":2,"method":"Runtime.enable"}`} {
		require.NoError(t, ws.Send(context.Background(), []byte(msg)))
		data, ok := next(t, ws.Incoming())
		require.True(t, ok)
		assert.Equal(t, msg, string(data))
	}
	assert.NoError(t, ws.Close())
	assert.NoError(t, ws.Close())

	_, ok := next(t, ws.Incoming())
	assert.False(t, ok)
}

func TestWebSocketLargeMessage(t *testing.T) {
	ws := dial(t, startPeer(t, echo), WebSocketOptions{})

	big := `"` + strings.Repeat("a", 1<<20) + `"`
	require.NoError(t, ws.Send(context.Background(), []byte(big)))
	data, ok := next(t, ws.Incoming())
	require.True(t, ok)
	assert.Len(t, data, len(big))
}

func TestWebSocketPeerHangup(t *testing.T) {
	url := startPeer(t, func(ctx context.Context, ws *websocket.Conn) {
		ws.Write(ctx, websocket.MessageText, []byte(`{"method":"Inspector.detached","params":{"reason":"target_closed"}}`))
		ws.Close(websocket.StatusGoingAway, "bye")
	})
	ws := dial(t, url, WebSocketOptions{})

	data, ok := next(t, ws.Incoming())
	require.True(t, ok)
	assert.Contains(t, string(data), "Inspector.detached")

	_, ok = next(t, ws.Incoming())
	assert.False(t, ok, "incoming closes when the peer hangs up")
	assert.NoError(t, ws.Close())
}

func TestWebSocketSendRateLimit(t *testing.T) {
	ws := dial(t, startPeer(t, echo), WebSocketOptions{SendRate: 0.01, SendBurst: 1})

	require.NoError(t, ws.Send(context.Background(), []byte(`{}`)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := ws.Send(ctx, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), WebSocketOptions{}, noopLogger())
	assert.Error(t, err)
}
