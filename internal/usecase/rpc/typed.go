package rpc

import (
	"context"
	"fmt"
	"reflect"

	"cdpmux/internal/usecase/eventbus"
)

// Invoke sends method and waits for its result decoded as T. Cancelling ctx
// abandons the wait; the command itself still resolves in the background.
func Invoke[T any](ctx context.Context, c *Conn, method string, params any) (T, error) {
	var out T
	call := c.Call(ctx, method, params, &out)
	if err := call.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// InvokeSession is Invoke addressed to an attached session.
func InvokeSession[T any](ctx context.Context, c *Conn, sessionID, method string, params any) (T, error) {
	var out T
	call := c.CallSession(ctx, sessionID, method, params, &out)
	if err := call.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Subscribe delivers every method event decoded as T, in arrival order. T
// may be the payload struct or a pointer to it. The returned function
// unsubscribes; the channel is closed after that or when c closes.
func Subscribe[T any](c *Conn, method string) (<-chan T, func()) {
	typ := reflect.TypeFor[T]()
	sub := c.Subscribe(eventbus.SubscribeOptions{Method: method, Type: typ})
	out := make(chan T)
	go func() {
		defer close(out)
		for ev := range sub.C() {
			v, ok := payloadAs[T](ev.Params, typ)
			if !ok {
				c.logger.Warn("dropping event with unexpected payload type",
					"method", ev.Method,
					"want", typ.String(),
					"got", fmt.Sprintf("%T", ev.Params),
				)
				continue
			}
			select {
			case out <- v:
			case <-sub.Done():
				return
			}
		}
	}()
	return out, sub.Unsubscribe
}

// payloadAs converts a decoded event payload, always a pointer to the
// underlying struct, to T.
func payloadAs[T any](params any, typ reflect.Type) (T, bool) {
	if typ.Kind() == reflect.Pointer {
		v, ok := params.(T)
		return v, ok
	}
	p, ok := params.(*T)
	if !ok {
		var zero T
		return zero, false
	}
	return *p, true
}
