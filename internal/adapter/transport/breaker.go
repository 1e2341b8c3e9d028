package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"cdpmux/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 3
	defaultBreakerTimeout     time.Duration = 10 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures Breaker. Zero fields take the defaults.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive send failures that opens the circuit.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a probe send is allowed.
	Timeout time.Duration
	// Interval clears the failure counts periodically while closed.
	Interval time.Duration
}

// Breaker wraps a DuplexChannel so that sends fail fast once the peer has
// stopped accepting frames. Incoming and Close pass straight through.
type Breaker struct {
	domain.DuplexChannel
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker wraps inner with a circuit breaker named name.
func NewBreaker(name string, inner domain.DuplexChannel, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "send:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A caller giving up is not a channel fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return &Breaker{DuplexChannel: inner, breaker: cb}
}

// Send routes through the breaker.
func (b *Breaker) Send(ctx context.Context, data []byte) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.DuplexChannel.Send(ctx, data)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", b.breaker.Name(), err)
	}
	return err
}

// State returns the current circuit state for monitoring.
func (b *Breaker) State() gobreaker.State { return b.breaker.State() }
