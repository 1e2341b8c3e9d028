// Package transport provides DuplexChannel implementations: a WebSocket
// client for real DevTools endpoints, an in-memory pair for tests, and a
// circuit breaker decorator.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

// DefaultReadLimit bounds a single incoming message. Screenshots and heap
// snapshot chunks are far larger than the library default of 32 KiB.
const DefaultReadLimit int64 = 64 << 20

// WebSocketOptions configures Dial.
type WebSocketOptions struct {
	ReadLimit int64
	// SendRate caps outgoing frames per second; zero disables limiting.
	SendRate  float64
	SendBurst int
	Header    http.Header
}

// WebSocket is a DuplexChannel over a text-message WebSocket.
type WebSocket struct {
	conn     *websocket.Conn
	limiter  *rate.Limiter
	logger   *slog.Logger
	incoming chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	readEnded chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to a DevTools WebSocket URL such as
// ws://127.0.0.1:9222/devtools/browser/<id>.
func Dial(ctx context.Context, url string, opts WebSocketOptions, logger *slog.Logger) (*WebSocket, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader:      opts.Header,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocket(conn, opts, logger), nil
}

// NewWebSocket adopts an established connection and starts reading from it.
func NewWebSocket(conn *websocket.Conn, opts WebSocketOptions, logger *slog.Logger) *WebSocket {
	limit := opts.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)

	var limiter *rate.Limiter
	if opts.SendRate > 0 {
		burst := opts.SendBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.SendRate), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &WebSocket{
		conn:      conn,
		limiter:   limiter,
		logger:    logger,
		incoming:  make(chan []byte),
		ctx:       ctx,
		cancel:    cancel,
		readEnded: make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocket) readLoop() {
	defer close(w.readEnded)
	defer close(w.incoming)
	for {
		_, data, err := w.conn.Read(w.ctx)
		if err != nil {
			if w.ctx.Err() == nil {
				w.logger.Info("websocket read ended", "error", err, "status", websocket.CloseStatus(err))
			}
			return
		}
		select {
		case w.incoming <- data:
		case <-w.ctx.Done():
			return
		}
	}
}

// Send writes data as one text message, waiting for the rate limiter first.
func (w *WebSocket) Send(ctx context.Context, data []byte) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send rate limit: %w", err)
		}
	}
	return w.conn.Write(ctx, websocket.MessageText, data)
}

// Incoming yields each received message. It is closed when the connection ends.
func (w *WebSocket) Incoming() <-chan []byte { return w.incoming }

// Close performs the close handshake and waits for the reader to exit. When
// the peer has already gone, the handshake error is not reported.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		peerGone := false
		select {
		case <-w.readEnded:
			peerGone = true
		default:
		}
		err := w.conn.Close(websocket.StatusNormalClosure, "")
		w.cancel()
		<-w.readEnded
		if err != nil && !peerGone {
			w.closeErr = fmt.Errorf("close websocket: %w", err)
		}
	})
	return w.closeErr
}
