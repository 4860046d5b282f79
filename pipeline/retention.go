package pipeline

import (
	"sync"

	"github.com/opd-ai/vpuomx/engine"
)

// RetentionPool holds the output buffers bound to the engine as persistent
// reference surfaces, keyed by header ID. Capacity is fixed when the
// pipeline starts.
type RetentionPool struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]*engine.HardwareBuffer
	// released counts start-up gate slots handed out, never above capacity
	released int
}

// NewRetentionPool creates a pool of capacity k.
func NewRetentionPool(k int) *RetentionPool {
	if k < 0 {
		k = 0
	}
	return &RetentionPool{
		capacity: k,
		entries:  make(map[uint64]*engine.HardwareBuffer, k),
	}
}

// Capacity returns K.
func (p *RetentionPool) Capacity() int { return p.capacity }

// Len returns the number of retained buffers.
func (p *RetentionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Contains reports whether headerID is retained.
func (p *RetentionPool) Contains(headerID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[headerID]
	return ok
}

// addLocked retains hw and reports whether a gate slot should be released.
func (p *RetentionPool) addLocked(headerID uint64, hw *engine.HardwareBuffer) (release bool) {
	p.entries[headerID] = hw
	if p.released < p.capacity {
		p.released++
		return true
	}
	return false
}

func (p *RetentionPool) fullLocked() bool {
	return len(p.entries) >= p.capacity
}

// Remove drops headerID and reports whether it was retained.
func (p *RetentionPool) Remove(headerID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[headerID]; !ok {
		return false
	}
	delete(p.entries, headerID)
	return true
}

// Clear drops every entry.
func (p *RetentionPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[uint64]*engine.HardwareBuffer, p.capacity)
}
