// Package rpc multiplexes DevTools commands and events over one duplex
// channel. Commands are correlated to their responses by id; frames without
// an id are handed to an event bus for fan-out.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"cdpmux/internal/domain"
	"cdpmux/internal/infra/metrics"
	"cdpmux/internal/infra/tracer"
	"cdpmux/internal/usecase/eventbus"
)

// Mapper is the codec a Conn needs: frame encoding plus typed event decoding.
type Mapper interface {
	domain.FrameMapper
	domain.EventDecoder
}

// Options configures a Conn.
type Options struct {
	// ReplayCapacity and CatchAllBuffer size the event bus; see eventbus.Options.
	ReplayCapacity int
	CatchAllBuffer int
	Metrics        *metrics.Instruments
}

// Conn is one client connection to a DevTools endpoint. It is safe for
// concurrent use.
type Conn struct {
	id      string
	ch      domain.DuplexChannel
	mapper  Mapper
	bus     *eventbus.Bus
	logger  *slog.Logger
	metrics *metrics.Instruments

	nextID  atomic.Uint64
	pending *pendingTable

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	readDone  chan struct{}
	wg        sync.WaitGroup
}

// NewConn starts reading from ch. The Conn owns ch from here on and closes it
// on Close or when the incoming stream ends.
func NewConn(ch domain.DuplexChannel, mapper Mapper, opts Options, logger *slog.Logger) *Conn {
	id := ulid.Make().String()
	logger = logger.With("conn_id", id)
	c := &Conn{
		id:      id,
		ch:      ch,
		mapper:  mapper,
		logger:  logger,
		metrics: opts.Metrics,
		pending: newPendingTable(),
		bus: eventbus.New(mapper, eventbus.Options{
			ReplayCapacity: opts.ReplayCapacity,
			CatchAllBuffer: opts.CatchAllBuffer,
			Metrics:        opts.Metrics,
		}, logger),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// ID returns the connection's unique id.
func (c *Conn) ID() string { return c.id }

// Call sends method with params and returns a handle for its outcome. On
// success the response result is decoded into result, which must be a
// pointer or nil. ctx bounds the send only; waiting for the response is
// the caller's business (see Call.Wait).
func (c *Conn) Call(ctx context.Context, method string, params, result any) *Call {
	return c.CallSession(ctx, "", method, params, result)
}

// CallSession is Call addressed to a target session attached in flat mode.
func (c *Conn) CallSession(ctx context.Context, sessionID, method string, params, result any) *Call {
	if ctx == nil {
		ctx = context.Background()
	}
	call := newCall(c.nextID.Add(1), method, result)
	ctx, call.span = tracer.StartCallSpan(ctx, c.id, method, call.id)
	c.metrics.CallStarted(ctx, method)

	if !c.pending.add(call) {
		c.finish(call, domain.NewDomainError("Conn.Call", domain.ErrConnectionClosed, method))
		return call
	}

	data, err := c.mapper.EncodeCommand(domain.CommandFrame{
		ID:        call.id,
		Method:    method,
		Params:    params,
		SessionID: sessionID,
	})
	if err != nil {
		if _, ok := c.pending.take(call.id); ok {
			c.finish(call, domain.WrapOp("Conn.Call", err))
		}
		return call
	}

	if err := c.ch.Send(ctx, data); err != nil {
		// A concurrent Close may already own the entry.
		if _, ok := c.pending.take(call.id); ok {
			c.finish(call, domain.WrapOp("Conn.Call "+method, fmt.Errorf("%w: %w", domain.ErrSendFailed, err)))
		}
		return call
	}
	c.logger.Debug("command sent", "id", call.id, "method", method)
	return call
}

// Subscribe registers an event subscription; see eventbus.Bus.Subscribe.
func (c *Conn) Subscribe(opts eventbus.SubscribeOptions) *eventbus.Subscription {
	return c.bus.Subscribe(opts)
}

// Stats reports the event bus counters.
func (c *Conn) Stats() eventbus.Stats { return c.bus.Stats() }

// Pending returns the number of commands awaiting a response.
func (c *Conn) Pending() int { return c.pending.len() }

// Done is closed when the connection is closed, by Close or by the peer.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close fails every pending call with ErrConnectionClosed, ends all event
// subscriptions and closes the channel. It waits for the read loop and any
// in-progress resolutions, and is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.shutdown() })
	<-c.readDone
	c.wg.Wait()
	return c.closeErr
}

func (c *Conn) shutdown() error {
	close(c.done)
	calls := c.pending.drain()
	for _, call := range calls {
		c.finish(call, domain.NewDomainError("Conn.Close", domain.ErrConnectionClosed, call.method))
	}
	c.bus.Close()
	err := c.ch.Close()
	c.logger.Info("connection closed", "failed_pending", len(calls))
	return err
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	for data := range c.ch.Incoming() {
		in, err := c.mapper.DecodeIncoming(data)
		if err != nil {
			c.metrics.DecodeFailed(context.Background(), "frame")
			c.logger.Warn("dropping malformed frame", "error", err, "bytes", len(data))
			continue
		}
		if in.IsResponse() {
			c.dispatch(in.Response)
			continue
		}
		c.bus.Publish(*in.Event)
	}
	c.logger.Debug("incoming stream ended")
	c.closeOnce.Do(func() { c.closeErr = c.shutdown() })
}

// dispatch claims the pending call for resp and resolves it off the read loop.
// A response whose id is not pending is logged and dropped, never published.
func (c *Conn) dispatch(resp *domain.ResponseFrame) {
	call, ok := c.pending.take(resp.ID)
	if !ok {
		c.logger.Warn("ignoring response for unknown or resolved command", "id", resp.ID)
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.finish(call, c.outcome(call, resp))
	}()
}

func (c *Conn) outcome(call *Call, resp *domain.ResponseFrame) error {
	if resp.Error != nil {
		return &domain.RemoteError{ID: call.id, Method: call.method, Payload: *resp.Error}
	}
	if err := c.mapper.DecodeTyped(resp.Result, call.result); err != nil {
		c.metrics.DecodeFailed(context.Background(), "result")
		return domain.WrapOp(call.method, err)
	}
	return nil
}

// finish resolves call and records its outcome. A second resolution is a bug
// in the caller's bookkeeping; it is logged and otherwise ignored.
func (c *Conn) finish(call *Call, err error) {
	if !call.resolve(err) {
		c.logger.Error("duplicate resolution ignored", "id", call.id, "method", call.method)
		return
	}
	c.metrics.CallFinished(context.Background(), call.method, err)
	if call.span != nil {
		tracer.End(call.span, err)
	}
	if err != nil {
		c.logger.Debug("command failed", "id", call.id, "method", call.method, "error", err)
	}
}
