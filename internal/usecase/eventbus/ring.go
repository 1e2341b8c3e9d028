package eventbus

import "cdpmux/internal/domain"

// ring is a fixed-capacity FIFO of frames that evicts its oldest entry when
// full. It is not synchronised; owners guard it with their own lock.
type ring struct {
	buf   []domain.EventFrame
	start int
	count int
}

func newRing(capacity int) *ring {
	if capacity < 0 {
		capacity = 0
	}
	return &ring{buf: make([]domain.EventFrame, capacity)}
}

// push appends f and reports whether the oldest entry was evicted to make room.
// A zero-capacity ring drops everything.
func (r *ring) push(f domain.EventFrame) (evicted bool) {
	if len(r.buf) == 0 {
		return true
	}
	if r.count == len(r.buf) {
		r.buf[r.start] = domain.EventFrame{}
		r.start = (r.start + 1) % len(r.buf)
		r.count--
		evicted = true
	}
	r.buf[(r.start+r.count)%len(r.buf)] = f
	r.count++
	return evicted
}

func (r *ring) shift() (domain.EventFrame, bool) {
	if r.count == 0 {
		return domain.EventFrame{}, false
	}
	f := r.buf[r.start]
	r.buf[r.start] = domain.EventFrame{}
	r.start = (r.start + 1) % len(r.buf)
	r.count--
	return f, true
}

// each visits entries oldest first.
func (r *ring) each(fn func(domain.EventFrame)) {
	for i := 0; i < r.count; i++ {
		fn(r.buf[(r.start+i)%len(r.buf)])
	}
}

func (r *ring) len() int { return r.count }
