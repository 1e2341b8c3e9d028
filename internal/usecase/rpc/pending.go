package rpc

import "sync"

// pendingTable tracks in-flight calls by id. Removal is the only way to
// obtain the right to resolve a call, so every call is resolved by exactly
// one path.
type pendingTable struct {
	mu     sync.Mutex
	calls  map[uint64]*Call
	closed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[uint64]*Call)}
}

// add registers c. It reports false once the table has been drained.
func (p *pendingTable) add(c *Call) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.calls[c.id] = c
	return true
}

// take removes and returns the call registered under id.
func (p *pendingTable) take(id uint64) (*Call, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	return c, ok
}

// drain closes the table and returns everything still registered.
func (p *pendingTable) drain() []*Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	out := make([]*Call, 0, len(p.calls))
	for id, c := range p.calls {
		out = append(out, c)
		delete(p.calls, id)
	}
	return out
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
