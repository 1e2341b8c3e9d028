package eventbus

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"cdpmux/internal/domain"
	"cdpmux/internal/infra/metrics"
)

// Default sizing.
const (
	DefaultReplayCapacity = 128
	DefaultCatchAllBuffer = 1
)

// Options configures a Bus. Zero values select the defaults; a negative
// ReplayCapacity disables replay.
type Options struct {
	ReplayCapacity int
	CatchAllBuffer int
	Metrics        *metrics.Instruments
}

// SubscribeOptions selects the events a subscription receives.
type SubscribeOptions struct {
	// Method restricts delivery to one event name. Empty subscribes to every
	// event with a latest-wins queue.
	Method string
	// Type is the payload type to decode into. Nil defers to the decoder's
	// registry and raw fallback.
	Type reflect.Type
}

// Stats is a point-in-time view of the bus.
type Stats struct {
	Subscribers    int
	Replay         int
	Published      uint64
	Dropped        uint64
	DecodeFailures uint64
}

// Bus republishes event frames to any number of independently paced
// subscribers and keeps a bounded history that new subscribers replay.
// It is safe for concurrent use.
type Bus struct {
	decoder        domain.EventDecoder
	logger         *slog.Logger
	metrics        *metrics.Instruments
	catchAllBuffer int

	mu      sync.Mutex
	history *ring
	subs    map[uint64]*Subscription
	closed  bool

	nextID         atomic.Uint64
	published      atomic.Uint64
	dropped        atomic.Uint64
	decodeFailures atomic.Uint64
	wg             sync.WaitGroup
}

// New creates an event bus that types events with decoder.
func New(decoder domain.EventDecoder, opts Options, logger *slog.Logger) *Bus {
	replay := opts.ReplayCapacity
	switch {
	case replay == 0:
		replay = DefaultReplayCapacity
	case replay < 0:
		replay = 0
	}
	catchAll := opts.CatchAllBuffer
	if catchAll <= 0 {
		catchAll = DefaultCatchAllBuffer
	}
	return &Bus{
		decoder:        decoder,
		logger:         logger,
		metrics:        opts.Metrics,
		catchAllBuffer: catchAll,
		history:        newRing(replay),
		subs:           make(map[uint64]*Subscription),
	}
}

// Publish records frame in the history and queues it for every matching
// subscriber. It never blocks on a subscriber and is a no-op after Close.
func (b *Bus) Publish(frame domain.EventFrame) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.history.push(frame)
	var (
		behind  []uint64
		dropped int
	)
	for _, sub := range b.subs {
		if !sub.matches(frame) {
			continue
		}
		if n := sub.enqueue(frame); n > 0 {
			behind = append(behind, sub.id)
			dropped += n
		}
	}
	b.mu.Unlock()

	b.published.Add(1)
	b.metrics.EventPublished(context.Background(), frame.Method)
	if len(behind) > 0 {
		b.metrics.EventsDropped(context.Background(), frame.Method, dropped)
		b.logger.Debug("catch-all subscribers behind, dropped oldest event",
			"subscriptions", behind,
			"method", frame.Method,
		)
	}
}

// Subscribe registers a subscription. Matching history is queued ahead of
// live events in the same critical section, so nothing is missed or repeated.
// Replayed history is delivered in full even to catch-all subscriptions;
// latest-wins applies to live events only. After Close it returns a
// subscription whose channel is already closed.
func (b *Bus) Subscribe(opts SubscribeOptions) *Subscription {
	sub := &Subscription{
		id:     b.nextID.Add(1),
		method: opts.Method,
		typ:    opts.Type,
		out:    make(chan domain.Event),
		done:   make(chan struct{}),
		bus:    b,
	}
	if opts.Method == "" {
		sub.queue = newLatestQueue(b.catchAllBuffer)
	} else {
		sub.queue = newFIFOQueue()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.stop()
		close(sub.out)
		return sub
	}
	var snapshot []domain.EventFrame
	b.history.each(func(f domain.EventFrame) {
		if sub.matches(f) {
			snapshot = append(snapshot, f)
		}
	})
	sub.queue.replay(snapshot)
	b.subs[sub.id] = sub
	b.wg.Add(1)
	b.mu.Unlock()

	go b.pump(sub)
	return sub
}

// pump decodes queued frames and hands them to the subscriber. Decoding runs
// here, outside every lock, so a slow or failing decode only affects this
// subscriber.
func (b *Bus) pump(sub *Subscription) {
	defer b.wg.Done()
	defer close(sub.out)
	defer func() {
		if r := recover(); r != nil {
			b.remove(sub.id)
			sub.stop()
			b.logger.Error("event decoder panicked",
				"subscription", sub.id,
				"method", sub.method,
				"panic", r,
			)
		}
	}()

	for {
		frame, ok := sub.queue.pop(sub.done)
		if !ok {
			return
		}
		ev, err := b.decoder.DecodeEvent(frame, sub.typ)
		if err != nil {
			b.decodeFailures.Add(1)
			b.metrics.DecodeFailed(context.Background(), "event")
			b.logger.Warn("dropping undecodable event",
				"subscription", sub.id,
				"method", frame.Method,
				"error", err,
			)
			continue
		}
		select {
		case sub.out <- ev:
		case <-sub.done:
			return
		}
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Subscribers:    len(b.subs),
		Replay:         b.history.len(),
		Published:      b.published.Load(),
		Dropped:        b.dropped.Load(),
		DecodeFailures: b.decodeFailures.Load(),
	}
}

// Close ends every subscription and waits for their pumps to exit. After it
// returns no subscriber receives anything further. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.wg.Wait()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for id, sub := range b.subs {
		subs = append(subs, sub)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	b.wg.Wait()
}

// Subscription is one consumer's ordered view of matching events.
type Subscription struct {
	id      uint64
	method  string
	typ     reflect.Type
	queue   queue
	out     chan domain.Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	bus     *Bus
}

// C delivers events in arrival order. It is closed when the subscription ends.
func (s *Subscription) C() <-chan domain.Event { return s.out }

// Done is closed as soon as the subscription is stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Method returns the event filter, empty for catch-all subscriptions.
func (s *Subscription) Method() string { return s.method }

// Dropped returns how many events this subscription discarded under backpressure.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Unsubscribe stops delivery. C is closed shortly after; it is safe to call
// more than once and from the goroutine reading C.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) matches(f domain.EventFrame) bool {
	return s.method == "" || s.method == f.Method
}

// enqueue is called with the bus lock held. It returns how many queued
// events were discarded to make room; the caller reports them after unlocking.
func (s *Subscription) enqueue(f domain.EventFrame) int {
	n := s.queue.push(f)
	if n > 0 {
		s.dropped.Add(uint64(n))
		s.bus.dropped.Add(uint64(n))
	}
	return n
}
