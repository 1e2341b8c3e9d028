// Package emulator serves a minimal DevTools endpoint over WebSocket. It
// answers commands through registered handlers and lets the host push events,
// which makes it a stand-in browser for tests and local experiments.
package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"cdpmux/internal/infra/middleware"
)

// Per-address HTTP budget: version probes and upgrades.
const (
	connectsPerMin = 600
	connectBurst   = 60
)

// Handler answers one command. The returned value is encoded as the result;
// nil encodes as an empty object.
type Handler func(ctx context.Context, c *Client, req Request) (any, error)

// Client is one connected WebSocket client.
type Client struct {
	id        uint64
	ws        *websocket.Conn
	sendCh    chan any // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// ID returns the server-assigned client number.
func (c *Client) ID() uint64 { return c.id }

// Emit queues an event for this client. It reports false when the client is
// gone or too slow to keep up.
func (c *Client) Emit(method string, params any, sessionID string) bool {
	return c.enqueue(event{Method: method, Params: params, SessionID: sessionID})
}

func (c *Client) enqueue(frame any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendCh <- frame:
		return true
	default:
		c.logger.Warn("emulator: dropped frame for slow client", "client", c.id)
		return false
	}
}

func (c *Client) close() { c.closeOnce.Do(func() { close(c.done) }) }

// Server is the emulated endpoint.
type Server struct {
	clients    sync.Map // id (uint64) -> *Client
	handlersMu sync.RWMutex
	handlers   map[string]Handler
	logger     *slog.Logger
	browserID  string
	product    string
	listener   net.Listener
	httpSrv    *http.Server
	nextID     atomic.Uint64
	wg         sync.WaitGroup

	countersMu sync.Mutex
	counters   DOMCounters

	targets *targets
}

// New creates a server with the built-in handlers registered.
func New(logger *slog.Logger) *Server {
	s := &Server{
		handlers:  make(map[string]Handler),
		logger:    logger,
		browserID: ulid.Make().String(),
		product:   "cdpmux-emulator/1.0",
		counters:  DOMCounters{Documents: 1, Nodes: 4, JsEventListeners: 0},
		targets:   newTargets(),
	}
	s.registerBuiltins()
	s.registerTargetHandlers()
	return s
}

// Handle registers h for method, replacing any earlier handler. Safe to call
// while clients are connected.
func (s *Server) Handle(method string, h Handler) {
	s.handlersMu.Lock()
	s.handlers[method] = h
	s.handlersMu.Unlock()
}

// Listen binds addr; use "127.0.0.1:0" for an ephemeral port.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("emulator listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /json/version", s.handleVersion)
	mux.HandleFunc("/devtools/browser/{id}", s.handleUpgrade)
	handler := middleware.Chain(mux,
		middleware.Recover(s.logger),
		middleware.AccessLog(s.logger),
		middleware.RateLimit(middleware.RateLimitConfig{RequestsPerMin: connectsPerMin, BurstSize: connectBurst}),
	)
	s.listener = ln
	s.httpSrv = &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	return nil
}

// Serve accepts connections until ctx is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("emulator: Serve called before Listen")
	}
	s.logger.Info("emulator started", "url", s.URL())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop(context.Background())
		case <-stop:
		}
	}()

	if err := s.httpSrv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("emulator serve: %w", err)
	}
	return nil
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.clients.Range(func(key, value any) bool {
		c := value.(*Client)
		c.close()
		c.ws.Close(websocket.StatusGoingAway, "emulator shutting down")
		s.clients.Delete(key)
		return true
	})

	var err error
	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err = s.httpSrv.Shutdown(shutdownCtx)
	}
	s.wg.Wait()
	return err
}

// Addr returns the bound address. Only valid after Listen.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// URL returns the browser WebSocket debugger URL.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + "/devtools/browser/" + s.browserID
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	n := 0
	s.clients.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Emit broadcasts an event to every client and returns how many accepted it.
func (s *Server) Emit(method string, params any) int {
	n := 0
	s.clients.Range(func(_, value any) bool {
		if value.(*Client).Emit(method, params, "") {
			n++
		}
		return true
	})
	return n
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"Browser":              s.product,
		"Protocol-Version":     protocolVersion,
		"webSocketDebuggerUrl": s.URL(),
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.wg.Add(1)
	defer s.wg.Done()
	if r.PathValue("id") != s.browserID {
		http.NotFound(w, r)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*", "[::1]", "[::1]:*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(16 << 20)

	c := &Client{
		id:     s.nextID.Add(1),
		ws:     ws,
		sendCh: make(chan any, 256),
		done:   make(chan struct{}),
		logger: s.logger,
	}
	s.clients.Store(c.id, c)
	s.logger.Info("emulator client connected", "client", c.id)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writeLoop(c)
	}()

	s.readLoop(r.Context(), c)

	c.close()
	s.clients.Delete(c.id)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("emulator client disconnected", "client", c.id)
}

func (s *Server) readLoop(ctx context.Context, c *Client) {
	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		select {
		case <-c.done:
			return
		default:
		}

		var req Request
		if err := wsjson.Read(ctx, c.ws, &req); err != nil {
			return
		}
		if req.Method == "" {
			s.logger.Warn("emulator: frame without method", "client", c.id, "id", req.ID)
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.dispatch(ctx, c, req)
		}()
	}
}

func (s *Server) writeLoop(c *Client) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, c.ws, frame)
			cancel()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *Client, req Request) {
	s.handlersMu.RLock()
	h, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok && (strings.HasSuffix(req.Method, ".enable") || strings.HasSuffix(req.Method, ".disable")) {
		h, ok = noop, true
	}

	resp := response{ID: req.ID, SessionID: req.SessionID}
	if !ok {
		resp.Error = &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("'%s' wasn't found", req.Method)}
		c.enqueue(resp)
		return
	}

	result, err := h(ctx, c, req)
	switch {
	case err != nil:
		var perr *Error
		if !errors.As(err, &perr) {
			perr = &Error{Code: CodeServerError, Message: err.Error()}
		}
		resp.Error = perr
	case result == nil:
		resp.Result = struct{}{}
	default:
		resp.Result = result
	}
	c.enqueue(resp)
}

func noop(context.Context, *Client, Request) (any, error) { return nil, nil }
