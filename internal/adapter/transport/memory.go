package transport

import (
	"context"
	"sync"

	"cdpmux/internal/domain"
)

const memorySentBuffer = 1024

// Memory is an in-process DuplexChannel. The engine side uses Send, Incoming
// and Close; the peer side reads commands from Sent and answers with Deliver.
type Memory struct {
	peer     chan []byte
	incoming chan []byte
	sent     chan []byte
	done     chan struct{}

	mu      sync.Mutex
	sendErr error

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMemory creates a connected in-memory channel.
func NewMemory() *Memory {
	m := &Memory{
		peer:     make(chan []byte),
		incoming: make(chan []byte),
		sent:     make(chan []byte, memorySentBuffer),
		done:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.forward()
	return m
}

func (m *Memory) forward() {
	defer m.wg.Done()
	defer close(m.incoming)
	for {
		select {
		case <-m.done:
			return
		case data := <-m.peer:
			select {
			case m.incoming <- data:
			case <-m.done:
				return
			}
		}
	}
}

// Send hands data to the peer. It fails once the channel is closed or after
// FailSends installed an error.
func (m *Memory) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	err := m.sendErr
	m.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-m.done:
		return domain.ErrConnectionClosed
	default:
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case m.sent <- buf:
		return nil
	case <-m.done:
		return domain.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Incoming returns the frames delivered by the peer. It is closed by Close.
func (m *Memory) Incoming() <-chan []byte { return m.incoming }

// Close ends the channel. It is idempotent.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
	return nil
}

// Sent returns the frames the engine sent, in order.
func (m *Memory) Sent() <-chan []byte { return m.sent }

// Deliver plays one raw frame from the peer. It blocks until the engine reads
// it and fails once the channel is closed.
func (m *Memory) Deliver(ctx context.Context, data []byte) error {
	select {
	case m.peer <- data:
		return nil
	case <-m.done:
		return domain.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hangup simulates the peer dropping the connection.
func (m *Memory) Hangup() { m.closeOnce.Do(func() { close(m.done) }) }

// FailSends makes every later Send return err. A nil err restores delivery.
func (m *Memory) FailSends(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

// Closed is closed once either side has closed the channel.
func (m *Memory) Closed() <-chan struct{} { return m.done }
