package devtools_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpmux/internal/adapter/emulator"
	"cdpmux/internal/adapter/mapper"
	"cdpmux/internal/adapter/transport"
	"cdpmux/internal/domain"
	"cdpmux/internal/usecase/eventbus"
	"cdpmux/internal/usecase/rpc"
	"cdpmux/pkg/devtools"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// connect starts an emulated browser and returns a connection to it.
func connect(t *testing.T) (*emulator.Server, *rpc.Conn) {
	t.Helper()
	srv := emulator.New(quietLogger())
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-served
	})

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	ch, err := transport.Dial(dialCtx, srv.URL(), transport.WebSocketOptions{}, quietLogger())
	require.NoError(t, err)

	reg := mapper.NewRegistry()
	reg.RegisterAll(devtools.EventTypes())
	conn := rpc.NewConn(ch, mapper.NewJSON(reg), rpc.Options{}, quietLogger())
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return srv.Clients() == 1 }, 5*time.Second, 5*time.Millisecond)
	return srv, conn
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGetDOMCounters(t *testing.T) {
	srv, conn := connect(t)
	srv.SetDOMCounters(emulator.DOMCounters{Documents: 3, Nodes: 10, JsEventListeners: 2})

	counters, err := devtools.GetDOMCounters(testContext(t), conn)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counters.Documents)
	assert.Equal(t, int64(10), counters.Nodes)
	assert.Equal(t, int64(2), counters.JsEventListeners)
}

func TestGetVersion(t *testing.T) {
	_, conn := connect(t)

	v, err := devtools.GetVersion(testContext(t), conn)
	require.NoError(t, err)
	assert.Equal(t, "1.3", v.ProtocolVersion)
	assert.Contains(t, v.Product, "cdpmux-emulator")
}

func TestEvaluateDeliversConsoleMessage(t *testing.T) {
	_, conn := connect(t)
	ctx := testContext(t)

	messages, stop := devtools.ConsoleMessages(conn)
	defer stop()
	require.NoError(t, devtools.Enable(ctx, conn, "Console"))

	res, err := devtools.Evaluate(ctx, conn, "document.title")
	require.NoError(t, err)
	assert.Equal(t, "string", res.Result.Type)
	assert.JSONEq(t, `"document.title"`, string(res.Result.Value))

	select {
	case msg := <-messages:
		assert.Equal(t, "document.title", msg.Message.Text)
		assert.Equal(t, "console-api", msg.Message.Source)
	case <-ctx.Done():
		t.Fatal("console message not delivered")
	}
	require.NoError(t, devtools.Disable(ctx, conn, "Console"))
}

func TestEvaluateRejectedByPeer(t *testing.T) {
	_, conn := connect(t)

	_, err := devtools.Evaluate(testContext(t), conn, "")
	require.ErrorIs(t, err, domain.ErrRemote)
	var remote *domain.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, emulator.CodeInvalidParams, remote.Payload.Code)
}

func TestLoadEvents(t *testing.T) {
	srv, conn := connect(t)
	ctx := testContext(t)

	loads, stop := devtools.LoadEvents(conn)
	defer stop()
	require.Equal(t, 1, srv.Emit(devtools.EventPageLoadEventFired, map[string]float64{"timestamp": 12.5}))

	select {
	case ev := <-loads:
		assert.NotNil(t, ev.Timestamp)
	case <-ctx.Done():
		t.Fatal("load event not delivered")
	}
}

func TestCatchAllUsesRegisteredTypes(t *testing.T) {
	srv, conn := connect(t)
	ctx := testContext(t)

	sub := conn.Subscribe(eventbus.SubscribeOptions{})
	defer sub.Unsubscribe()
	srv.Emit(devtools.EventConsoleMessageAdded, map[string]any{
		"message": map[string]any{"source": "network", "level": "error", "text": "404"},
	})

	select {
	case ev := <-sub.C():
		msg, ok := ev.Params.(*devtools.ConsoleMessageAdded)
		require.True(t, ok, "params type %T", ev.Params)
		assert.Equal(t, "404", msg.Message.Text)
	case <-ctx.Done():
		t.Fatal("event not delivered")
	}
}

func TestServerShutdownEndsConnection(t *testing.T) {
	srv, conn := connect(t)

	require.NoError(t, srv.Stop(context.Background()))
	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not observe server shutdown")
	}
	err := conn.Call(context.Background(), "Page.enable", nil, nil).Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
}

func TestEventTypesAreRegistrable(t *testing.T) {
	reg := mapper.NewRegistry()
	reg.RegisterAll(devtools.EventTypes())
	assert.Equal(t, len(devtools.EventTypes()), reg.Len())
	_, ok := reg.Lookup(devtools.EventLogEntryAdded)
	assert.True(t, ok)
}

func TestPageSessionNavigate(t *testing.T) {
	srv, conn := connect(t)
	ctx := testContext(t)

	attached := conn.Subscribe(eventbus.SubscribeOptions{Method: devtools.EventTargetAttachedToTarget})
	defer attached.Unsubscribe()
	loads := conn.Subscribe(eventbus.SubscribeOptions{Method: devtools.EventPageLoadEventFired})
	defer loads.Unsubscribe()

	id, err := devtools.CreatePage(ctx, conn, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	session, err := devtools.Attach(ctx, conn, id)
	require.NoError(t, err)
	require.NotEmpty(t, session)

	select {
	case ev := <-attached.C():
		info, ok := ev.Params.(*target.EventAttachedToTarget)
		require.True(t, ok, "params type %T", ev.Params)
		assert.Equal(t, session, info.SessionID)
		assert.Equal(t, id, info.TargetInfo.TargetID)
	case <-ctx.Done():
		t.Fatal("attachedToTarget not delivered")
	}

	nav, err := devtools.Navigate(ctx, conn, session, "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, string(id), string(nav.FrameID))

	select {
	case ev := <-loads.C():
		assert.Equal(t, string(session), ev.SessionID)
	case <-ctx.Done():
		t.Fatal("load event not delivered")
	}

	require.NoError(t, devtools.CloseTarget(ctx, conn, id))
	assert.Zero(t, srv.Pages())
}

func TestNavigateWithoutSessionIsRejected(t *testing.T) {
	_, conn := connect(t)
	_, err := devtools.Navigate(testContext(t), conn, "", "https://example.com/")
	var remote *domain.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, emulator.CodeMethodNotFound, remote.Payload.Code)
}

func TestNavigationError(t *testing.T) {
	srv, conn := connect(t)
	ctx := testContext(t)
	srv.Handle("Page.navigate", func(context.Context, *emulator.Client, emulator.Request) (any, error) {
		return map[string]string{"frameId": "F", "errorText": "net::ERR_NAME_NOT_RESOLVED"}, nil
	})

	_, err := devtools.Navigate(ctx, conn, "S1", "https://nowhere.invalid/")
	var navErr *devtools.NavigationError
	require.ErrorAs(t, err, &navErr)
	assert.Equal(t, "net::ERR_NAME_NOT_RESOLVED", navErr.Text)
}
