package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/vpuomx/codec"
	"github.com/opd-ai/vpuomx/engine"
	"github.com/opd-ai/vpuomx/omx"
	"github.com/opd-ai/vpuomx/port"
)

const waitTimeout = 2 * time.Second

// mockTimeProvider returns a fixed time that tests can advance.
type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

type pushedInput struct {
	hw    *engine.HardwareBuffer
	size  uint32
	flags omx.BufferFlags
}

// mockChannel records engine calls. Tests drive completions by invoking
// the captured callbacks directly.
type mockChannel struct {
	mu        sync.Mutex
	inputs    []pushedInput
	lent      []*engine.HardwareBuffer
	transient map[uint64]bool
	closed    bool
	stops     int
	drains    int
	pushErr   error
	allocErr  error
	keyFrames int
	bitrate   uint32
	frameRate uint32

	released func(*engine.HardwareBuffer)
	stopped  func()
}

func newMockChannel() *mockChannel {
	return &mockChannel{transient: make(map[uint64]bool)}
}

func (c *mockChannel) AllocBuffer(size uint32) (*engine.HardwareBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allocErr != nil {
		return nil, c.allocErr
	}
	return engine.NewHardwareBuffer(make([]byte, size), nil), nil
}

func (c *mockChannel) ImportBuffer(data []byte) (*engine.HardwareBuffer, error) {
	return engine.NewHardwareBuffer(data, nil), nil
}

func (c *mockChannel) PushInputBuffer(in *engine.HardwareBuffer, size uint32, flags omx.BufferFlags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pushErr != nil {
		return c.pushErr
	}
	c.inputs = append(c.inputs, pushedInput{hw: in, size: size, flags: flags})
	return nil
}

func (c *mockChannel) lend(out *engine.HardwareBuffer, transient bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lent = append(c.lent, out)
	c.transient[out.ID] = transient
	return nil
}

func (c *mockChannel) PutDisplayBuffer(out *engine.HardwareBuffer) error     { return c.lend(out, false) }
func (c *mockChannel) ReleaseDisplayBuffer(out *engine.HardwareBuffer) error { return c.lend(out, true) }
func (c *mockChannel) PutStreamBuffer(out *engine.HardwareBuffer) error      { return c.lend(out, false) }

func (c *mockChannel) SetBitrate(b uint32) error {
	c.mu.Lock()
	c.bitrate = b
	c.mu.Unlock()
	return nil
}

func (c *mockChannel) SetFrameRate(q16 uint32) error {
	c.mu.Lock()
	c.frameRate = q16
	c.mu.Unlock()
	return nil
}

func (c *mockChannel) RequestKeyFrame() error {
	c.mu.Lock()
	c.keyFrames++
	c.mu.Unlock()
	return nil
}

func (c *mockChannel) Drain() error {
	c.mu.Lock()
	c.drains++
	c.mu.Unlock()
	return nil
}

func (c *mockChannel) drainCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drains
}

func (c *mockChannel) inputCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inputs)
}

// ForceStop releases every held buffer, then raises Stopped.
func (c *mockChannel) ForceStop() error {
	c.mu.Lock()
	held := make([]*engine.HardwareBuffer, 0, len(c.inputs)+len(c.lent))
	for _, in := range c.inputs {
		held = append(held, in.hw)
	}
	held = append(held, c.lent...)
	c.inputs = nil
	c.lent = nil
	c.stops++
	c.mu.Unlock()

	for _, b := range held {
		c.released(b)
	}
	c.stopped()
	return nil
}

func (c *mockChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// takeInput removes the oldest pushed input.
func (c *mockChannel) takeInput(t *testing.T) pushedInput {
	t.Helper()
	var in pushedInput
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.inputs) == 0 {
			return false
		}
		in = c.inputs[0]
		c.inputs = c.inputs[1:]
		return true
	}, waitTimeout, time.Millisecond)
	return in
}

// takeLent removes the oldest lent output buffer.
func (c *mockChannel) takeLent(t *testing.T) *engine.HardwareBuffer {
	t.Helper()
	var out *engine.HardwareBuffer
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.lent) == 0 {
			return false
		}
		out = c.lent[0]
		c.lent = c.lent[1:]
		return true
	}, waitTimeout, time.Millisecond)
	return out
}

func (c *mockChannel) lentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lent)
}

func (c *mockChannel) isTransient(hw *engine.HardwareBuffer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transient[hw.ID]
}

type mockDecoderChannel struct {
	*mockChannel
	cb engine.DecoderCallbacks
}

type mockEncoderChannel struct {
	*mockChannel
	cb engine.EncoderCallbacks
}

// mockEngine opens mock channels and keeps the last one of each kind.
type mockEngine struct {
	mu      sync.Mutex
	openErr error
	dec     *mockDecoderChannel
	enc     *mockEncoderChannel
	decCfg  engine.DecoderConfig
	encCfg  engine.EncoderConfig
	opens   int
}

func (e *mockEngine) Name() string { return "mock" }

func (e *mockEngine) OpenDecoder(cfg engine.DecoderConfig, cb engine.DecoderCallbacks) (engine.DecoderChannel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opens++
	if e.openErr != nil {
		return nil, e.openErr
	}
	ch := &mockDecoderChannel{mockChannel: newMockChannel(), cb: cb}
	ch.released = cb.Released
	ch.stopped = cb.Stopped
	e.dec, e.decCfg = ch, cfg
	return ch, nil
}

func (e *mockEngine) OpenEncoder(cfg engine.EncoderConfig, cb engine.EncoderCallbacks) (engine.EncoderChannel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opens++
	if e.openErr != nil {
		return nil, e.openErr
	}
	ch := &mockEncoderChannel{mockChannel: newMockChannel(), cb: cb}
	ch.released = cb.Released
	ch.stopped = cb.Stopped
	e.enc, e.encCfg = ch, cfg
	return ch, nil
}

func (e *mockEngine) decoder(t *testing.T) *mockDecoderChannel {
	t.Helper()
	var ch *mockDecoderChannel
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		ch = e.dec
		return ch != nil
	}, waitTimeout, time.Millisecond)
	return ch
}

func (e *mockEngine) encoder(t *testing.T) *mockEncoderChannel {
	t.Helper()
	var ch *mockEncoderChannel
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		ch = e.enc
		return ch != nil
	}, waitTimeout, time.Millisecond)
	return ch
}

// framework records what the pipeline hands back.
type framework struct {
	mu      sync.Mutex
	emptied []*omx.BufferHeader
	filled  []omx.BufferHeader
	events  []omx.Event
	assoc   [][2]*omx.BufferHeader
}

func (f *framework) callbacks() omx.Callbacks {
	return omx.Callbacks{
		EventHandler: func(ev omx.Event) {
			f.mu.Lock()
			f.events = append(f.events, ev)
			f.mu.Unlock()
		},
		EmptyBufferDone: func(h *omx.BufferHeader) {
			f.mu.Lock()
			f.emptied = append(f.emptied, h)
			f.mu.Unlock()
		},
		FillBufferDone: func(h *omx.BufferHeader) {
			f.mu.Lock()
			f.filled = append(f.filled, *h)
			f.mu.Unlock()
		},
		Associate: func(in, out *omx.BufferHeader) {
			f.mu.Lock()
			f.assoc = append(f.assoc, [2]*omx.BufferHeader{in, out})
			f.mu.Unlock()
		},
	}
}

func (f *framework) waitFilled(t *testing.T, n int) []omx.BufferHeader {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.filled) >= n
	}, waitTimeout, time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]omx.BufferHeader(nil), f.filled...)
}

func (f *framework) waitEmptied(t *testing.T, n int) []*omx.BufferHeader {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.emptied) >= n
	}, waitTimeout, time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*omx.BufferHeader(nil), f.emptied...)
}

func (f *framework) filledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.filled)
}

func (f *framework) eventsOf(typ omx.EventType) []omx.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []omx.Event
	for _, ev := range f.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

const (
	testWidth  = 64
	testHeight = 48
)

func inputDefinition(coding omx.Coding) omx.PortDefinition {
	return omx.PortDefinition{
		Header:            omx.NewHeader(),
		Index:             0,
		Direction:         omx.DirInput,
		BufferCountActual: 2,
		BufferCountMin:    2,
		BufferSize:        64 << 10,
		Enabled:           true,
		Video: omx.VideoPortDefinition{
			Width:       testWidth,
			Height:      testHeight,
			Stride:      testWidth,
			SliceHeight: testHeight,
			Compression: coding,
		},
	}
}

func outputDefinition(count uint32, coding omx.Coding) omx.PortDefinition {
	return omx.PortDefinition{
		Header:            omx.NewHeader(),
		Index:             1,
		Direction:         omx.DirOutput,
		BufferCountActual: count,
		BufferCountMin:    1,
		BufferSize:        testWidth * testHeight * 3 / 2,
		Enabled:           true,
		Video: omx.VideoPortDefinition{
			Width:       testWidth,
			Height:      testHeight,
			Stride:      testWidth,
			SliceHeight: testHeight,
			Compression: coding,
			ColorFormat: omx.ColorFormatYUV420SemiPlanar,
		},
	}
}

// fixture wires ports, a mock engine and a recording framework.
type fixture struct {
	in, out *port.Port
	eng     *mockEngine
	fw      *framework
	clock   *mockTimeProvider
	self    *struct{ name string }
}

func newFixture(t *testing.T, outputs uint32) *fixture {
	t.Helper()
	return &fixture{
		in:    port.New(inputDefinition(omx.CodingAVC)),
		out:   port.New(outputDefinition(outputs, omx.CodingUnused)),
		eng:   &mockEngine{},
		fw:    &framework{},
		clock: newMockTimeProvider(),
		self:  &struct{ name string }{"component"},
	}
}

func (f *fixture) config(t *testing.T) Config {
	t.Helper()
	v, err := codec.New(omx.CodingAVC)
	require.NoError(t, err)
	return Config{
		Input:     f.in,
		Output:    f.out,
		Engine:    f.eng,
		Variant:   v,
		Settings:  v.DefaultSettings(),
		Callbacks: f.fw.callbacks(),
		Self:      f.self,
		Clock:     f.clock,
	}
}

func allocate(t *testing.T, p *port.Port, n int) []*omx.BufferHeader {
	t.Helper()
	size := p.Definition().BufferSize
	headers := make([]*omx.BufferHeader, n)
	for i := range headers {
		h, err := p.AllocateBuffer(size, nil)
		require.NoError(t, err)
		headers[i] = h
	}
	return headers
}

func fillInput(h *omx.BufferHeader, payload []byte, ts int64, flags omx.BufferFlags) *omx.BufferHeader {
	n := copy(h.Buffer, payload)
	h.Offset = 0
	h.FilledLen = uint32(n)
	h.Timestamp = ts
	h.Flags = flags
	return h
}
