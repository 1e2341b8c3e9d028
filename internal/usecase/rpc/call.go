package rpc

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// Call is the handle for one in-flight command. It resolves exactly once.
type Call struct {
	id     uint64
	method string
	result any
	span   trace.Span

	once sync.Once
	done chan struct{}
	err  error
}

func newCall(id uint64, method string, result any) *Call {
	return &Call{id: id, method: method, result: result, done: make(chan struct{})}
}

// ID returns the command id assigned on the wire.
func (c *Call) ID() uint64 { return c.id }

// Method returns the command name.
func (c *Call) Method() string { return c.method }

// Done is closed when the call has its outcome.
func (c *Call) Done() <-chan struct{} { return c.done }

// Err returns the outcome. It is nil until Done is closed and for successful
// calls, whose result has then been decoded into the target passed to Call.
func (c *Call) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the call resolves or ctx ends. Giving up on the wait does
// not cancel the command; the call still resolves later.
func (c *Call) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve records err as the outcome. It reports false if the call had
// already been resolved.
func (c *Call) resolve(err error) bool {
	resolved := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		resolved = true
	})
	return resolved
}
