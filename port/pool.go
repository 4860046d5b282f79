package port

import (
	"sync"

	"github.com/opd-ai/vpuomx/omx"
)

// Origin records who supplied a buffer's backing storage.
type Origin uint8

const (
	// OriginNone means the header is unknown to the pool
	OriginNone Origin = iota
	// OriginAllocated means the port's allocator created the storage
	OriginAllocated
	// OriginUsed means the framework supplied the storage
	OriginUsed
)

// Pool holds the buffers of one port: a FIFO of buffers ready for
// processing plus the bookkeeping sets of component-allocated and
// framework-supplied headers. The FIFO and the sets are guarded by
// separate mutexes so producers and consumers of ready buffers never
// contend with allocation.
type Pool struct {
	readyMu sync.Mutex
	ready   []*omx.BufferHeader

	setMu     sync.Mutex
	allocated map[uint64]*omx.BufferHeader
	used      map[uint64]*omx.BufferHeader
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		allocated: make(map[uint64]*omx.BufferHeader),
		used:      make(map[uint64]*omx.BufferHeader),
	}
}

// Put appends h to the ready FIFO.
func (p *Pool) Put(h *omx.BufferHeader) {
	p.readyMu.Lock()
	defer p.readyMu.Unlock()
	p.ready = append(p.ready, h)
}

// Get removes and returns the oldest ready buffer, or nil when none is queued.
func (p *Pool) Get() *omx.BufferHeader {
	p.readyMu.Lock()
	defer p.readyMu.Unlock()
	if len(p.ready) == 0 {
		return nil
	}
	h := p.ready[0]
	p.ready[0] = nil
	p.ready = p.ready[1:]
	return h
}

// Drain removes every ready buffer and returns them in FIFO order.
func (p *Pool) Drain() []*omx.BufferHeader {
	p.readyMu.Lock()
	defer p.readyMu.Unlock()
	drained := p.ready
	p.ready = nil
	return drained
}

// Ready returns the number of queued buffers.
func (p *Pool) Ready() int {
	p.readyMu.Lock()
	defer p.readyMu.Unlock()
	return len(p.ready)
}

// Add registers h under origin and returns the new registered count.
func (p *Pool) Add(h *omx.BufferHeader, origin Origin) int {
	p.setMu.Lock()
	defer p.setMu.Unlock()
	switch origin {
	case OriginAllocated:
		p.allocated[h.ID] = h
	case OriginUsed:
		p.used[h.ID] = h
	}
	return len(p.allocated) + len(p.used)
}

// Remove unregisters h and reports which set held it. Unknown headers
// return OriginNone and leave the pool untouched.
func (p *Pool) Remove(h *omx.BufferHeader) (Origin, int) {
	p.setMu.Lock()
	defer p.setMu.Unlock()
	origin := OriginNone
	if _, ok := p.allocated[h.ID]; ok {
		delete(p.allocated, h.ID)
		origin = OriginAllocated
	} else if _, ok := p.used[h.ID]; ok {
		delete(p.used, h.ID)
		origin = OriginUsed
	}
	return origin, len(p.allocated) + len(p.used)
}

// Contains reports whether h is registered.
func (p *Pool) Contains(h *omx.BufferHeader) bool {
	if h == nil {
		return false
	}
	p.setMu.Lock()
	defer p.setMu.Unlock()
	if got, ok := p.allocated[h.ID]; ok {
		return got == h
	}
	got, ok := p.used[h.ID]
	return ok && got == h
}

// Count returns the number of registered headers.
func (p *Pool) Count() int {
	p.setMu.Lock()
	defer p.setMu.Unlock()
	return len(p.allocated) + len(p.used)
}

// Headers returns every registered header.
func (p *Pool) Headers() []*omx.BufferHeader {
	p.setMu.Lock()
	defer p.setMu.Unlock()
	out := make([]*omx.BufferHeader, 0, len(p.allocated)+len(p.used))
	for _, h := range p.allocated {
		out = append(out, h)
	}
	for _, h := range p.used {
		out = append(out, h)
	}
	return out
}
