package pipeline

import (
	"sync"

	"github.com/opd-ai/vpuomx/engine"
	"github.com/opd-ai/vpuomx/omx"
)

// binding ties a framework header to the engine handle that stands for it.
type binding struct {
	header *omx.BufferHeader
	hw     *engine.HardwareBuffer
	output bool
	// shared is set when hw addresses the header's own storage
	shared bool

	// withEngine is set while the engine may access hw
	withEngine bool
	// recalled is set when the header went back to the framework while
	// the engine still lists hw, as for an end-of-stream return
	recalled bool
}

// handleMap maps engine handles to framework headers in both directions.
type handleMap struct {
	mu       sync.Mutex
	byHW     map[uint64]*binding
	byHeader map[uint64]*binding
}

// newHandleMap creates an empty map.
func newHandleMap() *handleMap {
	return &handleMap{
		byHW:     make(map[uint64]*binding),
		byHeader: make(map[uint64]*binding),
	}
}

func (m *handleMap) bindLocked(h *omx.BufferHeader, hw *engine.HardwareBuffer, output, shared bool) *binding {
	b := &binding{header: h, hw: hw, output: output, shared: shared}
	m.byHW[hw.ID] = b
	m.byHeader[h.ID] = b
	return b
}

// Bind records that hw stands for h.
func (m *handleMap) Bind(h *omx.BufferHeader, hw *engine.HardwareBuffer, output, shared bool) *binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bindLocked(h, hw, output, shared)
}

// ByHeader looks a binding up by header.
func (m *handleMap) ByHeader(h *omx.BufferHeader) (*binding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byHeader[h.ID]
	return b, ok
}

// ByHW looks a binding up by engine handle.
func (m *handleMap) ByHW(hw *engine.HardwareBuffer) (*binding, bool) {
	if hw == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byHW[hw.ID]
	return b, ok
}

// Header returns the header bound to hw.
func (m *handleMap) Header(hw *engine.HardwareBuffer) *omx.BufferHeader {
	if b, ok := m.ByHW(hw); ok {
		return b.header
	}
	return nil
}

// SetWithEngine updates the engine-ownership flag of b and clears recalled
// when the engine gives the buffer up.
func (m *handleMap) SetWithEngine(b *binding, with bool) {
	m.mu.Lock()
	b.withEngine = with
	if !with {
		b.recalled = false
	}
	m.mu.Unlock()
}

// GiveBack clears the engine-ownership flag of b and reports whether b
// had been recalled.
func (m *handleMap) GiveBack(b *binding) (recalled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recalled = b.recalled
	b.withEngine = false
	b.recalled = false
	return recalled
}

// Recall picks an output binding the engine holds and marks it recalled.
func (m *handleMap) Recall() (*binding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.byHW {
		if b.output && b.withEngine && !b.recalled {
			b.recalled = true
			return b, true
		}
	}
	return nil, false
}

// Unrecall hands a recalled binding back to the engine's custody and
// reports whether b was recalled.
func (m *handleMap) Unrecall(b *binding) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !b.recalled {
		return false
	}
	b.recalled = false
	return true
}

func (m *handleMap) removeLocked(b *binding) {
	delete(m.byHW, b.hw.ID)
	delete(m.byHeader, b.header.ID)
}

// Remove forgets b.
func (m *handleMap) Remove(b *binding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(b)
}

// Clear empties the map and returns every binding it held.
func (m *handleMap) Clear() []*binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*binding, 0, len(m.byHW))
	for _, b := range m.byHW {
		all = append(all, b)
	}
	m.byHW = make(map[uint64]*binding)
	m.byHeader = make(map[uint64]*binding)
	return all
}

// RemoveIf forgets every binding match accepts and returns them.
func (m *handleMap) RemoveIf(match func(*binding) bool) []*binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []*binding
	for _, b := range m.byHW {
		if match(b) {
			removed = append(removed, b)
		}
	}
	for _, b := range removed {
		m.removeLocked(b)
	}
	return removed
}

// Len returns the number of bindings.
func (m *handleMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHW)
}
