package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"

	"cdpmux/internal/adapter/mapper"
	"cdpmux/internal/adapter/transport"
	"cdpmux/internal/domain"
	"cdpmux/internal/infra/config"
	"cdpmux/internal/infra/logger"
	"cdpmux/internal/infra/metrics"
	"cdpmux/internal/infra/tracer"
	"cdpmux/internal/usecase/rpc"
	"cdpmux/pkg/devtools"
)

// env is everything a command needs, torn down in reverse order by close.
type env struct {
	cfg     *config.Config
	log     *slog.Logger
	conn    *rpc.Conn
	closers []func(context.Context) error
}

// close runs every closer, newest first, and aggregates their errors.
func (e *env) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result *multierror.Error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (e *env) onClose(fn func(context.Context) error) {
	e.closers = append(e.closers, fn)
}

// setup loads config and starts logging and tracing.
func setup(ctx context.Context, args cliArgs) (*env, error) {
	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if args.URL != "" {
		if err := config.ValidateEndpointURL(args.URL); err != nil {
			return nil, fmt.Errorf("--url: %w", err)
		}
		cfg.Endpoint.URL = args.URL
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	e := &env{cfg: cfg, log: log}
	e.onClose(func(context.Context) error { return logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	e.onClose(tracerShutdown)
	return e, nil
}

// withConn runs fn against a live connection and tears everything down
// afterwards. Teardown errors are returned only when fn succeeded.
func withConn(ctx context.Context, args cliArgs, fn func(context.Context, *env) error) (err error) {
	e, err := setup(ctx, args)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.close(); cerr != nil {
			if err == nil {
				err = cerr
			} else {
				e.log.Warn("shutdown", "error", cerr)
			}
		}
	}()

	conn, err := connect(ctx, e)
	if err != nil {
		return err
	}
	e.conn = conn
	e.onClose(func(context.Context) error {
		if err := conn.Close(); err != nil && !errors.Is(err, domain.ErrConnectionClosed) {
			return fmt.Errorf("close connection: %w", err)
		}
		return nil
	})
	return fn(ctx, e)
}

// connect resolves the endpoint, dials it and starts the engine.
func connect(ctx context.Context, e *env) (*rpc.Conn, error) {
	cfg := e.cfg
	if cfg.Endpoint.URL == "" {
		return nil, errors.New("no endpoint: set endpoint.url, CDPMUX_ENDPOINT_URL or --url")
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Endpoint.DialTimeout)
	defer cancel()

	url, err := transport.Discover(dialCtx, cfg.Endpoint.URL, nil)
	if err != nil {
		return nil, err
	}

	header := make(http.Header, len(cfg.Endpoint.Headers))
	for k, v := range cfg.Endpoint.Headers {
		header.Set(k, v)
	}
	ws, err := transport.Dial(dialCtx, url, transport.WebSocketOptions{
		ReadLimit: cfg.Endpoint.ReadLimit,
		SendRate:  cfg.Transport.SendRate,
		SendBurst: cfg.Transport.SendBurst,
		Header:    header,
	}, e.log)
	if err != nil {
		return nil, err
	}

	var ch domain.DuplexChannel = ws
	if b := cfg.Transport.Breaker; b.Enabled {
		ch = transport.NewBreaker(url, ws, transport.BreakerConfig{
			MaxFailures: b.MaxFailures,
			Timeout:     b.Timeout,
			Interval:    b.Interval,
		}, e.log)
	}

	inst, err := metrics.New(nil)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	reg := mapper.NewRegistry()
	reg.RegisterAll(devtools.EventTypes())

	conn := rpc.NewConn(ch, mapper.NewJSON(reg), rpc.Options{
		ReplayCapacity: cfg.Engine.ReplayCapacity,
		CatchAllBuffer: cfg.Engine.CatchAllBuffer,
		Metrics:        inst,
	}, e.log)
	e.log.Info("connected", "conn_id", conn.ID(), "url", url, "breaker", cfg.Transport.Breaker.Enabled)
	return conn, nil
}

// callContext bounds one command by engine.call_timeout.
func (e *env) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Engine.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.Engine.CallTimeout)
}
