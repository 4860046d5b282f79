package component

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/vpuomx/engine/soft"
	"github.com/opd-ai/vpuomx/omx"
)

const waitTimeout = 2 * time.Second

type entryKind int

const (
	entryEvent entryKind = iota
	entryEmptied
	entryFilled
)

// entry is one callback as the framework saw it. Headers are copied at
// callback time because the component reuses them.
type entry struct {
	kind   entryKind
	event  omx.Event
	header omx.BufferHeader
	ptr    *omx.BufferHeader
}

// framework records every callback in arrival order.
type framework struct {
	mu      sync.Mutex
	entries []entry
	assoc   int
}

func (f *framework) callbacks() omx.Callbacks {
	return omx.Callbacks{
		EventHandler: func(ev omx.Event) {
			f.record(entry{kind: entryEvent, event: ev})
		},
		EmptyBufferDone: func(h *omx.BufferHeader) {
			f.record(entry{kind: entryEmptied, header: *h, ptr: h})
		},
		FillBufferDone: func(h *omx.BufferHeader) {
			f.record(entry{kind: entryFilled, header: *h, ptr: h})
		},
		Associate: func(in, out *omx.BufferHeader) {
			f.mu.Lock()
			f.assoc++
			f.mu.Unlock()
		},
	}
}

func (f *framework) record(e entry) {
	f.mu.Lock()
	f.entries = append(f.entries, e)
	f.mu.Unlock()
}

func (f *framework) snapshot() []entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entry(nil), f.entries...)
}

func (f *framework) count(kind entryKind) int {
	n := 0
	for _, e := range f.snapshot() {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (f *framework) headers(kind entryKind) []omx.BufferHeader {
	var out []omx.BufferHeader
	for _, e := range f.snapshot() {
		if e.kind == kind {
			out = append(out, e.header)
		}
	}
	return out
}

// indexOf returns the position of the first matching event, or -1.
func (f *framework) indexOf(typ omx.EventType, data1, data2 uint32) int {
	for i, e := range f.snapshot() {
		if e.kind == entryEvent && e.event.Type == typ && e.event.Data1 == data1 && e.event.Data2 == data2 {
			return i
		}
	}
	return -1
}

func (f *framework) eventsOf(typ omx.EventType) []omx.Event {
	var out []omx.Event
	for _, e := range f.snapshot() {
		if e.kind == entryEvent && e.event.Type == typ {
			out = append(out, e.event)
		}
	}
	return out
}

func (f *framework) waitEvent(t *testing.T, typ omx.EventType, data1, data2 uint32) int {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.indexOf(typ, data1, data2) >= 0
	}, waitTimeout, time.Millisecond, "waiting for %s(%d, %d)", typ, data1, data2)
	return f.indexOf(typ, data1, data2)
}

func (f *framework) waitCount(t *testing.T, kind entryKind, n int) []omx.BufferHeader {
	t.Helper()
	require.Eventually(t, func() bool { return f.count(kind) >= n }, waitTimeout, time.Millisecond)
	return f.headers(kind)
}

func (f *framework) waitComplete(t *testing.T, cmd omx.Command, data2 uint32) int {
	t.Helper()
	return f.waitEvent(t, omx.EventCmdComplete, uint32(cmd), data2)
}

// harness is a component on the software engine with a recording framework.
type harness struct {
	c   *Component
	fw  *framework
	eng *soft.Engine
}

func newHarness(t *testing.T, role string, opts ...Option) *harness {
	t.Helper()
	h := &harness{fw: &framework{}, eng: soft.New(soft.Config{Channels: 2, RegionSize: 1 << 16})}
	c, err := New(role, h.eng, h.fw.callbacks(), opts...)
	require.NoError(t, err)
	h.c = c
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return h
}

func (h *harness) definition(t *testing.T, index uint32) omx.PortDefinition {
	t.Helper()
	def := omx.PortDefinition{Header: omx.NewHeader(), Index: index}
	require.NoError(t, h.c.GetParameter(omx.IndexParamPortDefinition, &def))
	return def
}

// allocate fills a port up to BufferCountActual.
func (h *harness) allocate(t *testing.T, index uint32) []*omx.BufferHeader {
	t.Helper()
	def := h.definition(t, index)
	headers := make([]*omx.BufferHeader, 0, def.BufferCountActual)
	for i := uint32(0); i < def.BufferCountActual; i++ {
		b, err := h.c.AllocateBuffer(index, i, def.BufferSize)
		require.NoError(t, err)
		headers = append(headers, b)
	}
	return headers
}

func (h *harness) sendState(t *testing.T, s omx.State) {
	t.Helper()
	require.NoError(t, h.c.SendCommand(omx.CommandStateSet, uint32(s), nil))
}

// toIdle moves a fresh component to Idle and returns its buffers.
func (h *harness) toIdle(t *testing.T) (in, out []*omx.BufferHeader) {
	t.Helper()
	h.sendState(t, omx.StateIdle)
	in = h.allocate(t, InputPort)
	out = h.allocate(t, OutputPort)
	h.fw.waitComplete(t, omx.CommandStateSet, uint32(omx.StateIdle))
	return in, out
}

func (h *harness) toExecuting(t *testing.T) (in, out []*omx.BufferHeader) {
	t.Helper()
	in, out = h.toIdle(t)
	h.sendState(t, omx.StateExecuting)
	h.fw.waitComplete(t, omx.CommandStateSet, uint32(omx.StateExecuting))
	return in, out
}

func fill(b *omx.BufferHeader, payload []byte, ts int64, flags omx.BufferFlags) *omx.BufferHeader {
	n := copy(b.Buffer, payload)
	b.Offset = 0
	b.FilledLen = uint32(n)
	b.Timestamp = ts
	b.Flags = flags
	return b
}
