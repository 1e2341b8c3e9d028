package eventbus

import (
	"sync"

	"cdpmux/internal/domain"
)

// queue decouples the publisher from one subscriber's pump. push never
// blocks; pop blocks until an entry is available or done is closed.
type queue interface {
	push(f domain.EventFrame) (dropped int)
	replay(frames []domain.EventFrame)
	pop(done <-chan struct{}) (domain.EventFrame, bool)
	len() int
}

// fifoQueue buffers without bound. Name-filtered subscriptions use it because
// they ask for every occurrence of one event.
type fifoQueue struct {
	mu     sync.Mutex
	items  []domain.EventFrame
	signal chan struct{}
}

func newFIFOQueue() *fifoQueue {
	return &fifoQueue{signal: make(chan struct{}, 1)}
}

func (q *fifoQueue) push(f domain.EventFrame) int {
	q.mu.Lock()
	q.items = append(q.items, f)
	q.mu.Unlock()
	notify(q.signal)
	return 0
}

func (q *fifoQueue) replay(frames []domain.EventFrame) {
	if len(frames) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, frames...)
	q.mu.Unlock()
	notify(q.signal)
}

func (q *fifoQueue) pop(done <-chan struct{}) (domain.EventFrame, bool) {
	for {
		select {
		case <-done:
			return domain.EventFrame{}, false
		default:
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			f := q.items[0]
			q.items[0] = domain.EventFrame{}
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return f, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-done:
			return domain.EventFrame{}, false
		}
	}
}

func (q *fifoQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// latestQueue keeps only the newest entries, discarding the oldest when the
// subscriber falls behind. With capacity 1 it is latest-wins. Replayed
// history sits in backlog and is delivered in full before any live entry.
type latestQueue struct {
	mu      sync.Mutex
	backlog []domain.EventFrame
	items   *ring
	signal  chan struct{}
}

func newLatestQueue(capacity int) *latestQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &latestQueue{items: newRing(capacity), signal: make(chan struct{}, 1)}
}

func (q *latestQueue) push(f domain.EventFrame) int {
	q.mu.Lock()
	evicted := q.items.push(f)
	q.mu.Unlock()
	notify(q.signal)
	if evicted {
		return 1
	}
	return 0
}

func (q *latestQueue) replay(frames []domain.EventFrame) {
	if len(frames) == 0 {
		return
	}
	q.mu.Lock()
	q.backlog = append(q.backlog, frames...)
	q.mu.Unlock()
	notify(q.signal)
}

func (q *latestQueue) pop(done <-chan struct{}) (domain.EventFrame, bool) {
	for {
		select {
		case <-done:
			return domain.EventFrame{}, false
		default:
		}

		q.mu.Lock()
		var (
			f  domain.EventFrame
			ok bool
		)
		if len(q.backlog) > 0 {
			f, ok = q.backlog[0], true
			q.backlog[0] = domain.EventFrame{}
			q.backlog = q.backlog[1:]
			if len(q.backlog) == 0 {
				q.backlog = nil
			}
		} else {
			f, ok = q.items.shift()
		}
		q.mu.Unlock()
		if ok {
			return f, true
		}

		select {
		case <-q.signal:
		case <-done:
			return domain.EventFrame{}, false
		}
	}
}

func (q *latestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog) + q.items.len()
}

func notify(signal chan struct{}) {
	select {
	case signal <- struct{}{}:
	default:
	}
}
