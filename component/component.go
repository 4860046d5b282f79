package component

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vpuomx/checker"
	"github.com/opd-ai/vpuomx/codec"
	"github.com/opd-ai/vpuomx/engine"
	"github.com/opd-ai/vpuomx/limits"
	"github.com/opd-ai/vpuomx/metrics"
	"github.com/opd-ai/vpuomx/omx"
	"github.com/opd-ai/vpuomx/pipeline"
	"github.com/opd-ai/vpuomx/port"
)

// Port indexes. Every component has one input and one output port.
const (
	InputPort  uint32 = 0
	OutputPort uint32 = 1

	portCount = 2
)

// Info identifies a component instance.
type Info struct {
	Name    string
	Role    string
	Version omx.Version
	ID      uuid.UUID
}

type task struct {
	id    uuid.UUID
	cmd   omx.Command
	param uint32
	data  any
}

// Component is one decoder or encoder instance driven by a framework.
//
// Framework calls are checked against the current state and answered
// synchronously. SendCommand only queues a task; a single worker executes
// tasks in submission order and reports each with EventCmdComplete.
type Component struct {
	id      uuid.UUID
	name    string
	role    Role
	eng     engine.Engine
	variant codec.Variant
	opts    options
	log     *logrus.Entry
	metrics *metrics.Component

	ports [portCount]*port.Port

	mu    sync.Mutex
	cb    omx.Callbacks
	state omx.State
	// target is the state once every queued StateSet has run
	target        omx.State
	pendingStates int
	settings      codec.Settings
	marks         []*omx.Mark
	seiReporting  bool
	keyFrame      bool
	suppliers     [portCount]omx.BufferSupplierType
	tunnels       [portCount]tunnel
	closed        bool

	// pipeMu guards the pipeline; only the worker replaces it
	pipeMu  sync.RWMutex
	pipe    pipeline.Pipeline
	decoder *pipeline.Decoder
	encoder *pipeline.Encoder

	tasks  chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a component for role in the Loaded state.
func New(role string, eng engine.Engine, cb omx.Callbacks, opts ...Option) (*Component, error) {
	r, err := ParseRole(role)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "component.New",
			"role":     role,
			"error":    err.Error(),
		}).Error("Unknown component role")
		return nil, err
	}
	if eng == nil {
		return nil, ErrNilEngine
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := validateOptions(&o); err != nil {
		return nil, err
	}
	variant, err := codec.New(r.Coding)
	if err != nil {
		return nil, err
	}
	if err := variant.ValidateFrameSize(o.width, o.height); err != nil {
		return nil, err
	}

	id := uuid.New()
	if o.name == "" {
		o.name = NamePrefix + r.Name
	}
	if o.log == nil {
		o.log = logrus.NewEntry(logrus.StandardLogger())
	}

	c := &Component{
		id:       id,
		name:     o.name,
		role:     r,
		eng:      eng,
		variant:  variant,
		opts:     o,
		cb:       cb,
		state:    omx.StateLoaded,
		target:   omx.StateLoaded,
		settings: variant.DefaultSettings(),
		tasks:    make(chan task, commandQueueDepth),
		log: o.log.WithFields(logrus.Fields{
			"component":    o.name,
			"component_id": id.String(),
		}),
		metrics: o.metrics.For(o.name),
	}
	c.buildPorts()
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(1)
	go c.worker()

	c.log.WithFields(logrus.Fields{
		"function": "component.New",
		"role":     r.Name,
		"width":    o.width,
		"height":   o.height,
	}).Info("Component created")
	return c, nil
}

func validateOptions(o *options) error {
	if err := limits.ValidateBufferCount(o.inputCount); err != nil {
		return fmt.Errorf("%w: input port: %v", omx.ErrBadParameter, err)
	}
	if err := limits.ValidateBufferCount(o.outputCount); err != nil {
		return fmt.Errorf("%w: output port: %v", omx.ErrBadParameter, err)
	}
	if o.strideAlign == 0 {
		o.strideAlign = limits.DefaultStrideAlign
	}
	if err := limits.ValidateAlignment(o.strideAlign); err != nil {
		return fmt.Errorf("%w: %v", omx.ErrBadParameter, err)
	}
	if o.allocator == nil {
		o.allocator = port.HeapAllocator{}
	}
	return nil
}

// buildPorts lays out a compressed and a raw port in the role's direction.
func (c *Component) buildPorts() {
	o := c.opts
	stride := limits.Align(o.width, o.strideAlign)
	slice := limits.Align(o.height, limits.DefaultHeightAlign)
	rawSize := limits.FrameSize(stride, slice)

	raw := omx.VideoPortDefinition{
		MIMEType:    "video/raw",
		Width:       o.width,
		Height:      o.height,
		Stride:      int32(stride),
		SliceHeight: slice,
		FrameRate:   c.settings.FrameRate,
		ColorFormat: omx.ColorFormatYUV420SemiPlanar,
	}
	coded := raw
	coded.MIMEType = mimeType(c.role.Coding)
	coded.Compression = c.role.Coding
	coded.ColorFormat = omx.ColorFormatUnused

	rawFormats := []omx.VideoPortFormat{
		{Header: omx.NewHeader(), ColorFormat: omx.ColorFormatYUV420SemiPlanar, FrameRate: raw.FrameRate},
		{Header: omx.NewHeader(), ColorFormat: omx.ColorFormatYUV420Planar, FrameRate: raw.FrameRate},
	}
	codedFormats := []omx.VideoPortFormat{
		{Header: omx.NewHeader(), Compression: c.role.Coding, FrameRate: raw.FrameRate},
	}
	codedSize := max(rawSize/2, minBitstreamBuffer)

	if c.role.Kind == KindDecoder {
		c.ports[InputPort] = c.newPort(InputPort, omx.DirInput, o.inputCount, codedSize, coded, codedFormats)
		c.ports[OutputPort] = c.newPort(OutputPort, omx.DirOutput, o.outputCount, rawSize, raw, rawFormats)
		return
	}
	coded.Bitrate = c.settings.Bitrate
	c.ports[InputPort] = c.newPort(InputPort, omx.DirInput, o.inputCount, rawSize, raw, rawFormats)
	c.ports[OutputPort] = c.newPort(OutputPort, omx.DirOutput, o.outputCount, codedSize, coded, codedFormats)
}

func (c *Component) newPort(index uint32, dir omx.Direction, count, size uint32, video omx.VideoPortDefinition, formats []omx.VideoPortFormat) *port.Port {
	def := omx.PortDefinition{
		Header:            omx.NewHeader(),
		Index:             index,
		Direction:         dir,
		BufferCountActual: count,
		BufferCountMin:    count,
		BufferSize:        size,
		Enabled:           true,
		BuffersContiguous: true,
		BufferAlignment:   c.opts.strideAlign,
		Video:             video,
	}
	return port.New(def,
		port.WithAllocator(c.opts.allocator),
		port.WithStrideAlign(c.opts.strideAlign),
		port.WithZeroCopy(c.opts.zeroCopy),
		port.WithFormats(formats...),
		port.WithLogger(c.log),
	)
}

// codedIndex is the port carrying the bitstream, rawIndex the one carrying pictures.
func (c *Component) codedIndex() uint32 {
	if c.role.Kind == KindDecoder {
		return InputPort
	}
	return OutputPort
}

func (c *Component) rawIndex() uint32 { return 1 - c.codedIndex() }

// result is the single conversion point between internal errors and the
// typed codes returned to the framework.
func (c *Component) result(function string, err error) error {
	if err == nil {
		return nil
	}
	c.log.WithFields(logrus.Fields{
		"function": function,
		"error":    err.Error(),
	}).Debug("Call rejected")
	return omx.AsError(err)
}

func (c *Component) checkLocked(op checker.Operation) error {
	if c.closed {
		return ErrClosed
	}
	return checker.CheckOperationAllowed(op, c.state)
}

func (c *Component) port(index uint32) (*port.Port, error) {
	if err := checker.CheckPortIndex(index, portCount); err != nil {
		return nil, err
	}
	return c.ports[index], nil
}

func (c *Component) callbacks() omx.Callbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb
}

func (c *Component) emit(ev omx.Event) {
	c.metrics.Event(ev.Type)
	c.callbacks().Event(ev)
}

// Info returns the component identity.
func (c *Component) Info() Info {
	return Info{Name: c.name, Role: c.role.Name, Version: omx.SpecVersion, ID: c.id}
}

// Role returns the role the component was built for.
func (c *Component) Role() Role { return c.role }

// GetState returns the committed state. Queued transitions are not reflected
// until their EventCmdComplete.
func (c *Component) GetState() (omx.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.state, c.result("GetState", ErrClosed)
	}
	return c.state, nil
}

// SetCallbacks replaces the framework callback table. Loaded only.
func (c *Component) SetCallbacks(cb omx.Callbacks) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(checker.OpSetCallbacks); err != nil {
		return c.result("SetCallbacks", err)
	}
	c.cb = cb
	return nil
}

// AllocateBuffer creates a buffer of size bytes on a port.
func (c *Component) AllocateBuffer(portIndex uint32, appData any, size uint32) (*omx.BufferHeader, error) {
	p, err := c.bufferPort(checker.OpAllocateBuffer, portIndex)
	if err != nil {
		return nil, c.result("AllocateBuffer", err)
	}
	h, err := p.AllocateBuffer(size, appData)
	return h, c.result("AllocateBuffer", err)
}

// UseBuffer registers framework storage on a port.
func (c *Component) UseBuffer(portIndex uint32, appData any, size uint32, data []byte) (*omx.BufferHeader, error) {
	p, err := c.bufferPort(checker.OpUseBuffer, portIndex)
	if err != nil {
		return nil, c.result("UseBuffer", err)
	}
	h, err := p.UseBuffer(data, size, appData)
	return h, c.result("UseBuffer", err)
}

// FreeBuffer unregisters a buffer. Freeing an unknown buffer is a no-op.
func (c *Component) FreeBuffer(portIndex uint32, h *omx.BufferHeader) error {
	p, err := c.bufferPort(checker.OpFreeBuffer, portIndex)
	if err != nil {
		return c.result("FreeBuffer", err)
	}
	p.DestroyBuffer(h)
	return nil
}

func (c *Component) bufferPort(op checker.Operation, index uint32) (*port.Port, error) {
	c.mu.Lock()
	err := c.checkLocked(op)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.port(index)
}

// EmptyThisBuffer submits an input buffer. A mark queued by MarkBuffer is
// attached to the first unmarked buffer.
func (c *Component) EmptyThisBuffer(h *omx.BufferHeader) error {
	return c.result("EmptyThisBuffer", c.exchange(checker.OpEmptyThisBuffer, h, omx.DirInput))
}

// FillThisBuffer submits an output buffer.
func (c *Component) FillThisBuffer(h *omx.BufferHeader) error {
	return c.result("FillThisBuffer", c.exchange(checker.OpFillThisBuffer, h, omx.DirOutput))
}

func (c *Component) exchange(op checker.Operation, h *omx.BufferHeader, dir omx.Direction) error {
	if h == nil {
		return fmt.Errorf("%w: nil buffer header", omx.ErrBadParameter)
	}
	index := h.InputPortIndex
	if dir == omx.DirOutput {
		index = h.OutputPortIndex
	}
	p, err := c.bufferPort(op, index)
	if err != nil {
		return err
	}
	if p.Direction() != dir {
		return fmt.Errorf("%w: port %d is not an %s port", omx.ErrBadPortIndex, index, dir)
	}
	if !p.Owns(h) {
		return ErrForeignBuffer
	}
	if !p.Enabled() {
		return ErrPortDisabled
	}
	if uint64(h.Offset)+uint64(h.FilledLen) > uint64(h.AllocLen) {
		return fmt.Errorf("%w: offset %d + length %d exceed %d", omx.ErrBadParameter, h.Offset, h.FilledLen, h.AllocLen)
	}

	if dir == omx.DirInput {
		c.mu.Lock()
		if h.Mark == nil && len(c.marks) > 0 {
			h.Mark = c.marks[0]
			c.marks = c.marks[1:]
		}
		c.mu.Unlock()
	}

	c.pipeMu.RLock()
	defer c.pipeMu.RUnlock()
	if c.pipe == nil {
		// held until a pipeline starts or the port is flushed
		p.PutBuffer(h)
		return nil
	}
	if dir == omx.DirInput {
		return c.pipe.EmptyThisBuffer(h)
	}
	return c.pipe.FillThisBuffer(h)
}

// returnQueued hands every buffer waiting on ports back with zero length.
func (c *Component) returnQueued(ports ...*port.Port) {
	cb := c.callbacks()
	for _, p := range ports {
		for _, h := range p.Drain() {
			h.Offset, h.FilledLen = 0, 0
			c.metrics.BufferFlushed(p.Index())
			if p.Direction() == omx.DirInput {
				cb.EmptyDone(h)
			} else {
				cb.FillDone(h)
			}
		}
	}
}

func (c *Component) runningPipeline() pipeline.Pipeline {
	c.pipeMu.RLock()
	defer c.pipeMu.RUnlock()
	return c.pipe
}

// Close stops the command worker and any running pipeline. Queued commands
// are dropped.
func (c *Component) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	err := c.stopPipeline()

	c.log.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Component closed")
	return c.result("Close", err)
}
