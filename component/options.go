package component

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vpuomx/metrics"
	"github.com/opd-ai/vpuomx/pipeline"
	"github.com/opd-ai/vpuomx/port"
)

// Default port layout.
const (
	DefaultWidth       = 320
	DefaultHeight      = 240
	DefaultInputCount  = 2
	DefaultOutputCount = 4

	// minBitstreamBuffer is the smallest compressed-data buffer a port asks for
	minBitstreamBuffer = 64 << 10

	// commandQueueDepth bounds queued SendCommand tasks
	commandQueueDepth = 32
)

type options struct {
	name        string
	log         *logrus.Entry
	metrics     *metrics.Metrics
	clock       pipeline.TimeProvider
	allocator   port.Allocator
	strideAlign uint32
	zeroCopy    bool
	width       uint32
	height      uint32
	inputCount  uint32
	outputCount uint32
	regionSize  uint32
}

func defaultOptions() options {
	return options{
		clock:       pipeline.DefaultTimeProvider{},
		allocator:   port.HeapAllocator{},
		width:       DefaultWidth,
		height:      DefaultHeight,
		inputCount:  DefaultInputCount,
		outputCount: DefaultOutputCount,
	}
}

// Option configures a Component at construction.
type Option func(*options)

// WithName overrides the component name used in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the parent log entry.
func WithLogger(entry *logrus.Entry) Option {
	return func(o *options) { o.log = entry }
}

// WithMetrics records component and pipeline metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTimeProvider sets the clock used for latency measurement.
func WithTimeProvider(tp pipeline.TimeProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.clock = tp
		}
	}
}

// WithAllocator sets the allocator behind AllocateBuffer on both ports.
func WithAllocator(a port.Allocator) Option {
	return func(o *options) { o.allocator = a }
}

// WithStrideAlign sets the row stride alignment of raw pictures.
func WithStrideAlign(align uint32) Option {
	return func(o *options) { o.strideAlign = align }
}

// WithZeroCopy lets the engine address both ports' buffers directly.
func WithZeroCopy(enabled bool) Option {
	return func(o *options) { o.zeroCopy = enabled }
}

// WithFrameSize sets the initial picture geometry.
func WithFrameSize(width, height uint32) Option {
	return func(o *options) {
		o.width = width
		o.height = height
	}
}

// WithBufferCounts sets the minimum and initial buffer count of each port.
func WithBufferCounts(input, output uint32) Option {
	return func(o *options) {
		o.inputCount = input
		o.outputCount = output
	}
}

// WithRegionSize sizes the encoder's circular bitstream region.
func WithRegionSize(size uint32) Option {
	return func(o *options) { o.regionSize = size }
}
