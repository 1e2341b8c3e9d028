// Package metrics exposes the engine's OpenTelemetry instruments.
//
// All recording methods are safe on a nil *Instruments, which records nothing.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"cdpmux/internal/domain"
)

const meterName = "cdpmux"

// Instruments groups the counters recorded by the connection and event bus.
type Instruments struct {
	callsStarted    metric.Int64Counter
	callOutcomes    metric.Int64Counter
	pending         metric.Int64UpDownCounter
	eventsPublished metric.Int64Counter
	eventsDropped   metric.Int64Counter
	decodeFailures  metric.Int64Counter
}

// New builds the instruments from provider, or from the global provider when
// provider is nil. The global default is a noop until the host installs one.
func New(provider metric.MeterProvider) (*Instruments, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	var (
		inst Instruments
		err  error
	)
	if inst.callsStarted, err = meter.Int64Counter("cdpmux.calls.started",
		metric.WithDescription("Commands sent to the peer.")); err != nil {
		return nil, fmt.Errorf("create calls.started: %w", err)
	}
	if inst.callOutcomes, err = meter.Int64Counter("cdpmux.calls.completed",
		metric.WithDescription("Commands resolved, by outcome code.")); err != nil {
		return nil, fmt.Errorf("create calls.completed: %w", err)
	}
	if inst.pending, err = meter.Int64UpDownCounter("cdpmux.calls.pending",
		metric.WithDescription("Commands awaiting a response.")); err != nil {
		return nil, fmt.Errorf("create calls.pending: %w", err)
	}
	if inst.eventsPublished, err = meter.Int64Counter("cdpmux.events.published",
		metric.WithDescription("Events received from the peer.")); err != nil {
		return nil, fmt.Errorf("create events.published: %w", err)
	}
	if inst.eventsDropped, err = meter.Int64Counter("cdpmux.events.dropped",
		metric.WithDescription("Events discarded by latest-wins subscriptions.")); err != nil {
		return nil, fmt.Errorf("create events.dropped: %w", err)
	}
	if inst.decodeFailures, err = meter.Int64Counter("cdpmux.decode.failures",
		metric.WithDescription("Frames or payloads that could not be decoded, by stage.")); err != nil {
		return nil, fmt.Errorf("create decode.failures: %w", err)
	}
	return &inst, nil
}

// CallStarted records a command being registered as pending.
func (i *Instruments) CallStarted(ctx context.Context, method string) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("method", method))
	i.callsStarted.Add(ctx, 1, attrs)
	i.pending.Add(ctx, 1, attrs)
}

// CallFinished records the single outcome of a command.
func (i *Instruments) CallFinished(ctx context.Context, method string, err error) {
	if i == nil {
		return
	}
	i.pending.Add(ctx, -1, metric.WithAttributes(attribute.String("method", method)))
	i.callOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", string(domain.ErrorCodeOf(err))),
	))
}

// EventPublished records an event entering the bus.
func (i *Instruments) EventPublished(ctx context.Context, method string) {
	if i == nil {
		return
	}
	i.eventsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// EventsDropped records n events discarded by lagging subscribers.
func (i *Instruments) EventsDropped(ctx context.Context, method string, n int) {
	if i == nil || n <= 0 {
		return
	}
	i.eventsDropped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("method", method)))
}

// DecodeFailed records a decode failure at stage ("frame", "event").
func (i *Instruments) DecodeFailed(ctx context.Context, stage string) {
	if i == nil {
		return
	}
	i.decodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
