package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"cdpmux/internal/adapter/emulator"
	"cdpmux/internal/domain"
	"cdpmux/internal/usecase/eventbus"
	"cdpmux/internal/usecase/rpc"
	"cdpmux/pkg/devtools"
)

const defaultEmulatorAddr = "127.0.0.1:9222"

func runCall(ctx context.Context, e *env, args cliArgs, stdout io.Writer) error {
	if len(args.Args) == 0 {
		return errors.New("usage: cdpmux call METHOD [JSON]")
	}
	method := args.Args[0]

	var params any
	if len(args.Args) > 1 {
		raw := strings.Join(args.Args[1:], " ")
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("params for %s are not valid JSON", method)
		}
		params = json.RawMessage(raw)
	}

	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	result, err := rpc.InvokeSession[json.RawMessage](callCtx, e.conn, args.SessionID, method, params)
	if err != nil {
		return err
	}
	return printJSON(stdout, result)
}

func runCounters(ctx context.Context, e *env, stdout io.Writer) error {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	c, err := devtools.GetDOMCounters(callCtx, e.conn)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "documents=%d nodes=%d listeners=%d\n", c.Documents, c.Nodes, c.JsEventListeners)
	return err
}

func runVersion(ctx context.Context, e *env, stdout io.Writer) error {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	v, err := devtools.GetVersion(callCtx, e.conn)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "product:  %s\nprotocol: %s\nrevision: %s\nuser-agent: %s\njs: %s\n",
		v.Product, v.ProtocolVersion, v.Revision, v.UserAgent, v.JsVersion)
	return err
}

// watchLine is one printed event.
type watchLine struct {
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// runWatch prints events until ctx ends or the connection drops. Named
// methods get one ordered subscription each, and their domains are enabled
// first; with no names every event is printed, latest-wins.
func runWatch(ctx context.Context, e *env, methods []string, stdout io.Writer) error {
	var subs []*eventbus.Subscription
	if len(methods) == 0 {
		subs = append(subs, e.conn.Subscribe(eventbus.SubscribeOptions{}))
	} else {
		for _, m := range methods {
			subs = append(subs, e.conn.Subscribe(eventbus.SubscribeOptions{Method: m}))
		}
		for _, d := range domainsOf(methods) {
			callCtx, cancel := e.callContext(ctx)
			err := devtools.Enable(callCtx, e.conn, d)
			cancel()
			if err != nil {
				if errors.Is(err, domain.ErrRemote) {
					e.log.Warn("enable failed", "domain", d, "error", err)
					continue
				}
				return err
			}
		}
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	events := make(chan domain.Event)
	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *eventbus.Subscription) {
			defer wg.Done()
			for ev := range s.C() {
				select {
				case events <- ev:
				case <-s.Done():
					return
				}
			}
		}(s)
	}
	go func() {
		wg.Wait()
		close(events)
	}()

	enc := json.NewEncoder(stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.conn.Done():
			return domain.ErrConnectionClosed
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := enc.Encode(watchLine{Method: ev.Method, SessionID: ev.SessionID, Params: ev.Raw}); err != nil {
				return err
			}
		}
	}
}

// domainsOf returns the distinct domains of methods in first-seen order.
func domainsOf(methods []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range methods {
		d, _, ok := strings.Cut(m, ".")
		if !ok || d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func runEmulate(ctx context.Context, args cliArgs, stdout io.Writer) error {
	e, err := setup(ctx, args)
	if err != nil {
		return err
	}
	defer e.close()

	addr := args.Addr
	if addr == "" {
		addr = defaultEmulatorAddr
	}
	srv := emulator.New(e.log)
	if err := srv.Listen(addr); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "DevTools listening on %s\n", srv.URL())
	return srv.Serve(ctx)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
