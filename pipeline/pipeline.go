package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vpuomx/codec"
	"github.com/opd-ai/vpuomx/engine"
	"github.com/opd-ai/vpuomx/metrics"
	"github.com/opd-ai/vpuomx/omx"
	"github.com/opd-ai/vpuomx/port"
)

// State is the pipeline life-cycle state.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateFlushing
	StateStopped
)

var stateNames = map[State]string{
	StateUninitialized: "Uninitialized",
	StateRunning:       "Running",
	StateFlushing:      "Flushing",
	StateStopped:       "Stopped",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Config carries what both pipeline kinds need.
type Config struct {
	Input     *port.Port
	Output    *port.Port
	Engine    engine.Engine
	Variant   codec.Variant
	Settings  codec.Settings
	Callbacks omx.Callbacks
	// Self identifies the owning component as a mark target
	Self any
	// RegionSize sizes the encoder bitstream region; zero lets the engine choose
	RegionSize uint32

	Log     *logrus.Entry
	Metrics *metrics.Component
	Clock   TimeProvider
	// Paused starts the pipeline without processing buffers
	Paused bool
}

// Pipeline is the surface a component drives.
type Pipeline interface {
	Start()
	EmptyThisBuffer(h *omx.BufferHeader) error
	FillThisBuffer(h *omx.BufferHeader) error
	// Flush returns every buffer of the given ports with zero length,
	// including those the engine holds, before it returns.
	Flush(ports ...uint32) error
	Pause()
	Resume()
	// Stop returns all buffers and closes the engine channel. A stopped
	// pipeline cannot be restarted.
	Stop() error
	// ForgetPort drops engine handles bound to a port's headers
	ForgetPort(index uint32)
	State() State
}

// processor is the per-kind half of a pipeline.
type processor interface {
	open() (engine.Channel, error)
	empty(h *omx.BufferHeader)
	fill(h *omx.BufferHeader)
	released(bd *binding)
	flushed(ports map[uint32]bool)
	abortStartup()
	teardown()
}

type base struct {
	cfg   Config
	log   *logrus.Entry
	clock TimeProvider
	proc  processor

	mu       sync.Mutex
	state    State
	started  bool
	paused   bool
	ch       engine.Channel
	openErr  error
	flushing map[uint32]bool
	requeue  []*omx.BufferHeader
	// draining is set from an EOS input until its EOS output is delivered
	draining bool

	// procMu serialises buffer processing with flush and stop
	procMu sync.Mutex

	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	stopped chan struct{}

	records Queue
	handles *handleMap
}

func (b *base) init(cfg Config, proc processor, kind string) {
	if cfg.Clock == nil {
		cfg.Clock = DefaultTimeProvider{}
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	b.cfg = cfg
	b.clock = cfg.Clock
	b.log = cfg.Log.WithField("pipeline", kind)
	b.proc = proc
	b.paused = cfg.Paused
	b.wake = make(chan struct{}, 1)
	b.done = make(chan struct{})
	b.stopped = make(chan struct{}, 1)
	b.handles = newHandleMap()
}

// Start launches the processing worker.
func (b *base) Start() {
	b.mu.Lock()
	if b.started || b.state == StateStopped {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run()
	b.signal()

	b.log.WithFields(logrus.Fields{
		"function": "Start",
		"paused":   b.cfg.Paused,
	}).Info("Pipeline started")
}

// State returns the current state.
func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// EmptyThisBuffer queues an input buffer.
func (b *base) EmptyThisBuffer(h *omx.BufferHeader) error {
	return b.queue(b.cfg.Input, h)
}

// FillThisBuffer queues an output buffer.
func (b *base) FillThisBuffer(h *omx.BufferHeader) error {
	return b.queue(b.cfg.Output, h)
}

func (b *base) queue(p *port.Port, h *omx.BufferHeader) error {
	if h == nil {
		return ErrNilBuffer
	}
	if b.State() == StateStopped {
		return ErrStopped
	}
	p.PutBuffer(h)
	b.cfg.Metrics.BufferSubmitted(p.Index())
	b.signal()
	return nil
}

// Pause suspends buffer processing. Queued buffers stay in the port FIFOs.
func (b *base) Pause() {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
	b.log.WithField("function", "Pause").Debug("Pipeline paused")
}

// Resume continues buffer processing.
func (b *base) Resume() {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
	b.signal()
	b.log.WithField("function", "Resume").Debug("Pipeline resumed")
}

func (b *base) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *base) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}
		for b.processOne() {
			select {
			case <-b.done:
				return
			default:
			}
		}
	}
}

// processOne handles one queued buffer, output side first so the engine
// always has somewhere to put pictures.
func (b *base) processOne() bool {
	b.procMu.Lock()
	defer b.procMu.Unlock()

	b.mu.Lock()
	draining := b.draining
	active := b.state == StateUninitialized || b.state == StateRunning || draining
	idle := !active || b.paused
	b.mu.Unlock()
	if idle {
		return false
	}

	if h := b.cfg.Output.GetBuffer(); h != nil {
		if b.ensureChannel() {
			b.proc.fill(h)
		} else {
			b.returnBuffer(h, true)
		}
		return true
	}
	if draining {
		// inputs wait in the port until the stream end comes out
		return false
	}
	if h := b.cfg.Input.GetBuffer(); h != nil {
		if b.ensureChannel() {
			b.proc.empty(h)
		} else {
			b.returnBuffer(h, false)
		}
		return true
	}
	return false
}

// ensureChannel opens the engine channel on first use. A failed open is
// reported once and not retried.
func (b *base) ensureChannel() bool {
	b.mu.Lock()
	if b.ch != nil {
		b.mu.Unlock()
		return true
	}
	if b.openErr != nil {
		b.mu.Unlock()
		return false
	}
	b.mu.Unlock()

	ch, err := b.proc.open()

	b.mu.Lock()
	b.ch, b.openErr = ch, err
	if err == nil && b.state == StateUninitialized {
		b.state = StateRunning
	}
	b.mu.Unlock()

	if err != nil {
		b.log.WithFields(logrus.Fields{
			"function": "ensureChannel",
			"engine":   b.cfg.Engine.Name(),
			"error":    err.Error(),
		}).Error("Failed to open engine channel")
		b.reportError(err)
		return false
	}
	b.log.WithFields(logrus.Fields{
		"function": "ensureChannel",
		"engine":   b.cfg.Engine.Name(),
	}).Info("Engine channel opened")
	return true
}

// beginDrain enters Flushing for an EOS input about to be pushed.
func (b *base) beginDrain() {
	b.mu.Lock()
	b.draining = true
	b.state = StateFlushing
	b.mu.Unlock()
}

// drain asks the engine to finish everything queued ahead of the EOS input.
func (b *base) drain(ch engine.Channel) {
	if err := ch.Drain(); err != nil {
		b.log.WithFields(logrus.Fields{
			"function": "drain",
			"error":    err.Error(),
		}).Error("Engine drain failed")
		b.reportError(err)
		return
	}
	b.log.WithField("function", "drain").Debug("Draining engine")
}

// endDrain returns to Running once the EOS output is out, or when the EOS
// input never reached the engine.
func (b *base) endDrain() {
	b.mu.Lock()
	was := b.draining
	b.draining = false
	if was && b.state == StateFlushing {
		b.state = StateRunning
	}
	b.mu.Unlock()
	if was {
		b.signal()
	}
}

func (b *base) channel() engine.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *base) event(ev omx.Event) {
	b.cfg.Metrics.Event(ev.Type)
	b.cfg.Callbacks.Event(ev)
}

func (b *base) reportError(err error) {
	code := omx.Code(err)
	b.cfg.Metrics.EngineError(code)
	b.event(omx.ErrorEvent(code))
}

func (b *base) onEngineError(code engine.ErrorCode) {
	b.log.WithFields(logrus.Fields{
		"function": "onEngineError",
		"code":     code.String(),
	}).Error("Engine reported an error")
	b.reportError(code.OMX())
}

func portIndex(h *omx.BufferHeader, output bool) uint32 {
	if output {
		return h.OutputPortIndex
	}
	return h.InputPortIndex
}

// returnBuffer hands h back empty.
func (b *base) returnBuffer(h *omx.BufferHeader, output bool) {
	h.FilledLen = 0
	h.Offset = 0
	b.cfg.Metrics.BufferFlushed(portIndex(h, output))
	if output {
		b.cfg.Callbacks.FillDone(h)
	} else {
		b.cfg.Callbacks.EmptyDone(h)
	}
}

// returnInput hands a consumed input back.
func (b *base) returnInput(h *omx.BufferHeader) {
	h.FilledLen = 0
	h.Offset = 0
	b.cfg.Metrics.BufferCompleted(h.InputPortIndex)
	b.cfg.Callbacks.EmptyDone(h)
}

// deliverOutput stamps h with the propagated metadata of rec and hands it
// to the framework.
func (b *base) deliverOutput(h *omx.BufferHeader, rec Record, ok bool) {
	h.Mark = nil
	var mark *omx.Mark
	if ok {
		h.Timestamp = rec.Timestamp
		h.Flags |= rec.Flags & omx.PropagatedFlags
		if rec.Mark != nil {
			if b.cfg.Self != nil && rec.Mark.Target == b.cfg.Self {
				mark = rec.Mark
			} else {
				h.Mark = rec.Mark
			}
		}
		if !rec.Submitted.IsZero() {
			b.cfg.Metrics.Latency(b.clock.Since(rec.Submitted))
		}
		if rec.Source != nil {
			b.cfg.Callbacks.Associated(rec.Source, h)
		}
	}

	b.cfg.Metrics.BufferCompleted(h.OutputPortIndex)
	b.cfg.Callbacks.FillDone(h)

	if mark != nil {
		b.event(omx.Event{Type: omx.EventMark, Data: mark.Data})
	}
}

func (b *base) recordFor(h *omx.BufferHeader) Record {
	return Record{
		Source:    h,
		Mark:      h.Mark,
		Timestamp: h.Timestamp,
		Flags:     h.Flags,
		Submitted: b.clock.Now(),
	}
}

// inputHandle returns the engine handle for an input header, wrapping h's
// storage directly when the port is zero-copy and staging a copy
// otherwise.
func (b *base) inputHandle(ch engine.Channel, h *omx.BufferHeader) (*binding, error) {
	bd, ok := b.handles.ByHeader(h)
	if !ok {
		var hw *engine.HardwareBuffer
		var err error
		shared := b.cfg.Input.ZeroCopy()
		if shared {
			hw, err = ch.ImportBuffer(h.Buffer)
		} else {
			hw, err = ch.AllocBuffer(h.AllocLen)
		}
		if err != nil {
			return nil, err
		}
		bd = b.handles.Bind(h, hw, false, shared)
	}
	// A no-op for shared storage with Offset zero; otherwise moves the
	// payload to the start of the engine's view.
	copy(bd.hw.Data, h.Payload())
	return bd, nil
}

func (b *base) onReleased(hw *engine.HardwareBuffer) {
	bd, ok := b.handles.ByHW(hw)
	if !ok {
		b.log.WithFields(logrus.Fields{
			"function":  "onReleased",
			"handle_id": hw.ID,
		}).Warn("Engine released an unknown buffer")
		return
	}
	recalled := b.handles.GiveBack(bd)

	b.proc.released(bd)
	if recalled {
		return
	}
	if !bd.output {
		b.records.Remove(bd.header)
	}

	idx := portIndex(bd.header, bd.output)
	b.mu.Lock()
	requeue := b.flushing != nil && !b.flushing[idx]
	if requeue {
		b.requeue = append(b.requeue, bd.header)
	}
	b.mu.Unlock()
	if !requeue {
		b.returnBuffer(bd.header, bd.output)
	}
}

func (b *base) onStopped() {
	select {
	case b.stopped <- struct{}{}:
	default:
	}
}

// forceStop stops the engine channel and waits for its Stopped callback.
func (b *base) forceStop(ch engine.Channel) {
	select {
	case <-b.stopped:
	default:
	}
	if err := ch.ForceStop(); err != nil {
		b.log.WithFields(logrus.Fields{
			"function": "forceStop",
			"error":    err.Error(),
		}).Error("Engine force stop failed")
		return
	}
	<-b.stopped
}

// Flush returns every buffer of ports with zero length. Buffers of other
// ports recalled from the engine are queued again in their original order.
func (b *base) Flush(ports ...uint32) error {
	set := make(map[uint32]bool, len(ports))
	for _, p := range ports {
		set[p] = true
	}

	b.mu.Lock()
	if b.state == StateStopped {
		b.mu.Unlock()
		return ErrStopped
	}
	prev := b.state
	if b.draining {
		// the engine forgets a pending drain on force stop; a recalled EOS
		// input starts a new one when it is pushed again
		b.draining = false
		prev = StateRunning
	}
	b.state = StateFlushing
	b.flushing = set
	b.mu.Unlock()

	b.proc.abortStartup()

	b.procMu.Lock()
	for _, p := range []*port.Port{b.cfg.Input, b.cfg.Output} {
		if !set[p.Index()] {
			continue
		}
		for _, h := range p.Drain() {
			b.returnBuffer(h, p.Direction() == omx.DirOutput)
		}
	}
	if ch := b.channel(); ch != nil {
		b.forceStop(ch)
	}
	if set[b.cfg.Input.Index()] {
		b.records.Clear()
	}

	b.mu.Lock()
	requeue := b.requeue
	b.requeue = nil
	b.flushing = nil
	b.state = prev
	b.mu.Unlock()

	b.requeueBuffers(requeue)
	b.proc.flushed(set)
	b.procMu.Unlock()

	b.log.WithFields(logrus.Fields{
		"function": "Flush",
		"ports":    ports,
		"requeued": len(requeue),
	}).Info("Pipeline flushed")
	b.signal()
	return nil
}

// requeueBuffers puts recalled buffers back ahead of anything queued since.
func (b *base) requeueBuffers(headers []*omx.BufferHeader) {
	if len(headers) == 0 {
		return
	}
	for _, p := range []*port.Port{b.cfg.Input, b.cfg.Output} {
		later := p.Drain()
		for _, h := range headers {
			if p.Owns(h) {
				p.PutBuffer(h)
			}
		}
		for _, h := range later {
			p.PutBuffer(h)
		}
	}
}

// Stop tears the pipeline down. Every buffer the pipeline or the engine
// holds is returned with zero length.
func (b *base) Stop() error {
	b.mu.Lock()
	if b.state == StateStopped {
		b.mu.Unlock()
		return nil
	}
	started := b.started
	b.state = StateFlushing
	b.draining = false
	b.flushing = map[uint32]bool{b.cfg.Input.Index(): true, b.cfg.Output.Index(): true}
	b.mu.Unlock()

	b.proc.abortStartup()
	close(b.done)
	if started {
		b.wg.Wait()
	}

	b.procMu.Lock()
	defer b.procMu.Unlock()

	var closeErr error
	if ch := b.channel(); ch != nil {
		b.forceStop(ch)
		closeErr = ch.Close()
	}
	for _, p := range []*port.Port{b.cfg.Input, b.cfg.Output} {
		for _, h := range p.Drain() {
			b.returnBuffer(h, p.Direction() == omx.DirOutput)
		}
	}
	for _, bd := range b.handles.Clear() {
		if bd.withEngine && !bd.recalled {
			b.returnBuffer(bd.header, bd.output)
		}
		bd.hw.Release()
	}
	b.records.Clear()
	b.proc.teardown()

	b.mu.Lock()
	b.state = StateStopped
	b.flushing = nil
	b.mu.Unlock()

	b.log.WithField("function", "Stop").Info("Pipeline stopped")
	return omx.AsError(closeErr)
}

// ForgetPort releases the engine handles bound to headers of a port
// whose buffers are being freed.
func (b *base) ForgetPort(index uint32) {
	b.procMu.Lock()
	defer b.procMu.Unlock()

	forgotten := b.handles.RemoveIf(func(bd *binding) bool {
		return portIndex(bd.header, bd.output) == index
	})
	for _, bd := range forgotten {
		b.proc.released(bd)
		bd.hw.Release()
	}
	if len(forgotten) > 0 {
		b.log.WithFields(logrus.Fields{
			"function": "ForgetPort",
			"port":     index,
			"handles":  len(forgotten),
		}).Debug("Engine handles released")
	}
}
