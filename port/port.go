// Package port implements one directional data port of a component: its
// negotiated definition, the supported format list and the buffer pool
// that tracks which headers belong to the port and which are ready for
// processing.
package port

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vpuomx/checker"
	"github.com/opd-ai/vpuomx/limits"
	"github.com/opd-ai/vpuomx/omx"
)

// ErrNoAllocator indicates a buffer call on a port without an allocator.
var ErrNoAllocator = errors.New("port has no allocator")

// Port owns one port's definition and buffers. It is safe for concurrent use.
type Port struct {
	mu          sync.RWMutex
	def         omx.PortDefinition
	formats     []omx.VideoPortFormat
	allocator   Allocator
	strideAlign uint32
	zeroCopy    bool

	// changed is closed and replaced whenever Enabled, Populated or the
	// buffer count changes
	changed chan struct{}

	pool *Pool
	log  *logrus.Entry
}

// Option configures a Port at construction.
type Option func(*Port)

// WithAllocator sets the allocator used by AllocateBuffer.
func WithAllocator(a Allocator) Option {
	return func(p *Port) { p.allocator = a }
}

// WithStrideAlign sets the stride alignment enforced by SetDefinition.
func WithStrideAlign(align uint32) Option {
	return func(p *Port) { p.strideAlign = align }
}

// WithZeroCopy configures direct (DMA) addressing of the port's buffers.
func WithZeroCopy(enabled bool) Option {
	return func(p *Port) { p.zeroCopy = enabled }
}

// WithFormats sets the enumeration answered by Format.
func WithFormats(formats ...omx.VideoPortFormat) Option {
	return func(p *Port) { p.formats = append([]omx.VideoPortFormat(nil), formats...) }
}

// WithLogger sets the parent log entry.
func WithLogger(entry *logrus.Entry) Option {
	return func(p *Port) { p.log = entry }
}

// New creates a port from an initial definition. The definition is taken
// as is; it is the caller's responsibility to pass a consistent one.
func New(def omx.PortDefinition, opts ...Option) *Port {
	p := &Port{
		def:         def,
		allocator:   HeapAllocator{},
		strideAlign: limits.DefaultStrideAlign,
		changed:     make(chan struct{}),
		pool:        NewPool(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logrus.NewEntry(logrus.StandardLogger())
	}
	p.log = p.log.WithFields(logrus.Fields{
		"port":      def.Index,
		"direction": def.Direction.String(),
	})
	p.def.Populated = false
	return p
}

// Index returns the port index.
func (p *Port) Index() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.def.Index
}

// Direction returns the port direction.
func (p *Port) Direction() omx.Direction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.def.Direction
}

// Definition returns a copy of the current definition.
func (p *Port) Definition() omx.PortDefinition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.def
}

// SetDefinition replaces the definition after validating it. Fields the
// port owns (Index, Direction, Enabled, Populated and BufferCountMin) must
// match the current definition, so an accepted definition reads back
// unchanged. On failure the stored definition is unchanged.
func (p *Port) SetDefinition(def omx.PortDefinition) error {
	if err := checker.CheckVersion(def.Version); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.checkOwnedLocked(def)
	if err == nil {
		err = p.validateLocked(def)
	}
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"function": "Port.SetDefinition",
			"error":    err.Error(),
		}).Debug("Rejected port definition")
		return err
	}
	p.def = def
	p.recountLocked(p.pool.Count())

	p.log.WithFields(logrus.Fields{
		"function":     "Port.SetDefinition",
		"count_actual": def.BufferCountActual,
		"buffer_size":  def.BufferSize,
		"width":        def.Video.Width,
		"height":       def.Video.Height,
		"stride":       def.Video.Stride,
	}).Debug("Port definition updated")
	return nil
}

// Update applies fn to a copy of the definition and stores the result if
// it validates. Unlike SetDefinition it may change BufferCountMin; it is
// meant for component-internal reconfiguration.
func (p *Port) Update(fn func(def *omx.PortDefinition)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.def
	fn(&next)
	next.Index = p.def.Index
	next.Direction = p.def.Direction
	next.Enabled = p.def.Enabled
	next.Populated = p.def.Populated
	if err := p.validateLocked(next); err != nil {
		return err
	}
	p.def = next
	p.recountLocked(p.pool.Count())
	return nil
}

func (p *Port) checkOwnedLocked(def omx.PortDefinition) error {
	cur := p.def
	switch {
	case def.Index != cur.Index:
		return fmt.Errorf("%w: port index %d, want %d", omx.ErrBadParameter, def.Index, cur.Index)
	case def.Direction != cur.Direction:
		return fmt.Errorf("%w: port direction is read-only", omx.ErrBadParameter)
	case def.Enabled != cur.Enabled, def.Populated != cur.Populated:
		return fmt.Errorf("%w: port enabled and populated are read-only", omx.ErrBadParameter)
	case def.BufferCountMin != cur.BufferCountMin:
		return fmt.Errorf("%w: minimum buffer count %d is read-only", omx.ErrBadParameter, cur.BufferCountMin)
	}
	return nil
}

func (p *Port) validateLocked(def omx.PortDefinition) error {
	if err := limits.ValidateBufferCount(def.BufferCountActual); err != nil {
		return fmt.Errorf("%w: %v", omx.ErrBadParameter, err)
	}
	if def.BufferCountActual < def.BufferCountMin {
		return fmt.Errorf("%w: buffer count %d below minimum %d",
			omx.ErrBadParameter, def.BufferCountActual, def.BufferCountMin)
	}
	if err := limits.ValidatePortBufferSize(def.BufferSize); err != nil {
		return fmt.Errorf("%w: %v", omx.ErrBadParameter, err)
	}
	return ValidateGeometry(def.Video, p.strideAlign)
}

// ValidateGeometry checks that a video definition's stride covers its width
// and is a multiple of align, and that the slice height covers the height.
func ValidateGeometry(v omx.VideoPortDefinition, align uint32) error {
	if v.Width > limits.MaxDimension || v.Height > limits.MaxDimension {
		return fmt.Errorf("%w: %dx%d exceeds %d", omx.ErrBadParameter, v.Width, v.Height, limits.MaxDimension)
	}
	if v.Stride < 0 || uint32(v.Stride) < v.Width {
		return fmt.Errorf("%w: stride %d smaller than width %d", omx.ErrBadParameter, v.Stride, v.Width)
	}
	if align > 1 && uint32(v.Stride)%align != 0 {
		return fmt.Errorf("%w: stride %d not a multiple of %d", omx.ErrBadParameter, v.Stride, align)
	}
	if v.SliceHeight < v.Height {
		return fmt.Errorf("%w: slice height %d smaller than height %d", omx.ErrBadParameter, v.SliceHeight, v.Height)
	}
	return nil
}

// StrideAlign returns the enforced stride alignment.
func (p *Port) StrideAlign() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.strideAlign
}

// ZeroCopy reports whether the engine addresses this port's buffers directly.
// When false every buffer crossing the engine boundary is copied.
func (p *Port) ZeroCopy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.zeroCopy
}

// SetZeroCopy toggles direct addressing.
func (p *Port) SetZeroCopy(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.zeroCopy = enabled
}

// Format returns the index-th supported format or omx.ErrNoMore.
func (p *Port) Format(index uint32) (omx.VideoPortFormat, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if int64(index) >= int64(len(p.formats)) {
		return omx.VideoPortFormat{}, omx.ErrNoMore
	}
	f := p.formats[index]
	f.PortIndex = p.def.Index
	f.Index = index
	return f, nil
}

// SetFormat selects one of the supported formats.
func (p *Port) SetFormat(f omx.VideoPortFormat) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, supported := range p.formats {
		if supported.Compression == f.Compression && supported.ColorFormat == f.ColorFormat {
			p.def.Video.Compression = f.Compression
			p.def.Video.ColorFormat = f.ColorFormat
			if f.FrameRate != 0 {
				p.def.Video.FrameRate = f.FrameRate
			}
			return nil
		}
	}
	return fmt.Errorf("%w: format %s/%d", omx.ErrUnsupportedSetting, f.Compression, f.ColorFormat)
}

// Enabled reports whether the port is enabled.
func (p *Port) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.def.Enabled
}

// SetEnabled enables or disables the port.
func (p *Port) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.def.Enabled == enabled {
		return
	}
	p.def.Enabled = enabled
	p.notifyLocked()
}

// Populated reports whether BufferCountActual buffers are registered.
func (p *Port) Populated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.def.Populated
}

// BufferCount returns the number of registered buffers.
func (p *Port) BufferCount() int {
	return p.pool.Count()
}

// WaitPopulated blocks until the port's populated flag equals want, or
// ctx is done.
func (p *Port) WaitPopulated(ctx context.Context, want bool) error {
	for {
		p.mu.RLock()
		done := p.def.Populated == want
		changed := p.changed
		p.mu.RUnlock()
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// WaitEmpty blocks until every buffer has been freed, or ctx is done.
func (p *Port) WaitEmpty(ctx context.Context) error {
	for {
		p.mu.RLock()
		empty := p.pool.Count() == 0
		changed := p.changed
		p.mu.RUnlock()
		if empty {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (p *Port) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// recountLocked refreshes Populated and wakes every waiter.
func (p *Port) recountLocked(count int) {
	p.def.Populated = count > 0 && uint32(count) >= p.def.BufferCountActual
	p.notifyLocked()
}

func (p *Port) newHeader(data []byte, size uint32, appData any) *omx.BufferHeader {
	h := &omx.BufferHeader{
		ID:         omx.NewBufferID(),
		Buffer:     data,
		AllocLen:   size,
		AppPrivate: appData,
	}
	if p.def.Direction == omx.DirInput {
		h.InputPortIndex = p.def.Index
	} else {
		h.OutputPortIndex = p.def.Index
	}
	return h
}

func (p *Port) admitLocked(size uint32) error {
	if p.allocator == nil {
		return fmt.Errorf("%w: %w", omx.ErrInsufficientResources, ErrNoAllocator)
	}
	if err := limits.ValidatePortBufferSize(size); err != nil {
		return fmt.Errorf("%w: %v", omx.ErrBadParameter, err)
	}
	if size < p.def.BufferSize {
		return fmt.Errorf("%w: buffer size %d below port requirement %d", omx.ErrBadParameter, size, p.def.BufferSize)
	}
	if uint32(p.pool.Count()) >= p.def.BufferCountActual {
		return fmt.Errorf("%w: port already holds %d buffers", omx.ErrInsufficientResources, p.def.BufferCountActual)
	}
	return nil
}

// AllocateBuffer creates a header whose storage comes from the port's
// allocator. An allocator failure returns a nil header and an error
// wrapping omx.ErrInsufficientResources.
func (p *Port) AllocateBuffer(size uint32, appData any) (*omx.BufferHeader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.admitLocked(size); err != nil {
		return nil, err
	}
	data, err := p.allocator.Alloc(size)
	if err != nil || data == nil {
		p.log.WithFields(logrus.Fields{
			"function": "Port.AllocateBuffer",
			"size":     size,
			"error":    fmt.Sprint(err),
		}).Error("Buffer allocation failed")
		return nil, fmt.Errorf("%w: %v", omx.ErrInsufficientResources, err)
	}

	h := p.newHeader(data, size, appData)
	p.recountLocked(p.pool.Add(h, OriginAllocated))

	p.log.WithFields(logrus.Fields{
		"function":  "Port.AllocateBuffer",
		"buffer_id": h.ID,
		"size":      size,
		"populated": p.def.Populated,
	}).Debug("Buffer allocated")
	return h, nil
}

// UseBuffer wraps framework-supplied storage in a new header.
func (p *Port) UseBuffer(data []byte, size uint32, appData any) (*omx.BufferHeader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.admitLocked(size); err != nil {
		return nil, err
	}
	if uint32(len(data)) < size {
		return nil, fmt.Errorf("%w: supplied %d bytes for a %d byte buffer", omx.ErrBadParameter, len(data), size)
	}

	h := p.newHeader(data[:size], size, appData)
	p.recountLocked(p.pool.Add(h, OriginUsed))

	p.log.WithFields(logrus.Fields{
		"function":  "Port.UseBuffer",
		"buffer_id": h.ID,
		"size":      size,
		"populated": p.def.Populated,
	}).Debug("Buffer registered")
	return h, nil
}

// DestroyBuffer unregisters h and releases storage the port allocated.
// Headers unknown to the port are ignored, so a repeated free during
// teardown is harmless.
func (p *Port) DestroyBuffer(h *omx.BufferHeader) {
	if h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	origin, count := p.pool.Remove(h)
	switch origin {
	case OriginNone:
		p.log.WithFields(logrus.Fields{
			"function":  "Port.DestroyBuffer",
			"buffer_id": h.ID,
		}).Warn("Ignoring free of unknown buffer")
		return
	case OriginAllocated:
		if p.allocator != nil {
			p.allocator.Free(h.Buffer)
		}
		h.Buffer = nil
	}
	p.recountLocked(count)

	p.log.WithFields(logrus.Fields{
		"function":  "Port.DestroyBuffer",
		"buffer_id": h.ID,
		"remaining": count,
	}).Debug("Buffer freed")
}

// Owns reports whether h is registered on this port.
func (p *Port) Owns(h *omx.BufferHeader) bool {
	return p.pool.Contains(h)
}

// Headers returns every registered header.
func (p *Port) Headers() []*omx.BufferHeader {
	return p.pool.Headers()
}

// PutBuffer queues h as ready for processing.
func (p *Port) PutBuffer(h *omx.BufferHeader) {
	p.pool.Put(h)
}

// GetBuffer dequeues the oldest ready buffer, or returns nil.
func (p *Port) GetBuffer() *omx.BufferHeader {
	return p.pool.Get()
}

// Drain dequeues every ready buffer.
func (p *Port) Drain() []*omx.BufferHeader {
	return p.pool.Drain()
}

// Queued returns the number of ready buffers.
func (p *Port) Queued() int {
	return p.pool.Ready()
}
