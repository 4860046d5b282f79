package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/opd-ai/vpuomx/codec"
	"github.com/opd-ai/vpuomx/engine"
	"github.com/opd-ai/vpuomx/limits"
	"github.com/opd-ai/vpuomx/omx"
)

// Decoder runs a decode session.
type Decoder struct {
	base

	retention *RetentionPool
	// gate holds K slots from construction; binding an output buffer into
	// the retention pool gives one back
	gate *semaphore.Weighted

	gateMu     sync.Mutex
	gateCancel context.CancelCauseFunc
	gateAbort  bool
	gatePassed atomic.Int32

	announced    atomic.Bool
	seiReporting atomic.Bool

	infoMu sync.Mutex
	info   engine.StreamInfo

	// pendingEOS is the end-of-stream record waiting for an output buffer,
	// guarded by base.mu
	pendingEOS *Record
}

// NewDecoder creates a decoder pipeline. The retention capacity is taken
// from the output port's actual buffer count now and does not follow
// later changes.
func NewDecoder(cfg Config) (*Decoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	k := int(cfg.Output.Definition().BufferCountActual) - 1
	if k < 0 {
		k = 0
	}
	d := &Decoder{
		retention: NewRetentionPool(k),
		gate:      semaphore.NewWeighted(int64(k)),
	}
	d.gate.TryAcquire(int64(k))
	d.init(cfg, d, "decoder")
	d.log = d.log.WithField("retention", k)
	return d, nil
}

// Retention returns the pool of output buffers bound as reference pictures.
func (d *Decoder) Retention() *RetentionPool { return d.retention }

// SetSEIReporting enables EventVendorSEI delivery.
func (d *Decoder) SetSEIReporting(enabled bool) { d.seiReporting.Store(enabled) }

// StreamInfo returns the geometry reported by the engine, if any yet.
func (d *Decoder) StreamInfo() (engine.StreamInfo, bool) {
	if !d.announced.Load() {
		return engine.StreamInfo{}, false
	}
	d.infoMu.Lock()
	defer d.infoMu.Unlock()
	return d.info, true
}

func (d *Decoder) decoderChannel() engine.DecoderChannel {
	ch, _ := d.channel().(engine.DecoderChannel)
	return ch
}

func (d *Decoder) open() (engine.Channel, error) {
	in := d.cfg.Input.Definition().Video
	out := d.cfg.Output.Definition().Video

	var level int
	if d.cfg.Settings.Level != 0 {
		var err error
		if level, err = d.cfg.Variant.ConvertLevel(d.cfg.Settings.Level); err != nil {
			return nil, err
		}
	}

	ch, err := d.cfg.Engine.OpenDecoder(engine.DecoderConfig{
		Coding:      in.Compression,
		Width:       in.Width,
		Height:      in.Height,
		ColorFormat: out.ColorFormat,
		StrideAlign: d.cfg.Output.StrideAlign(),
		Level:       level,
		Options:     d.cfg.Variant.Options(d.cfg.Settings),
		Profile:     d.cfg.Settings.Profile,
		FrameLevel:  d.cfg.Settings.Level,
	}, engine.DecoderCallbacks{
		EndOfParsing:    d.onEndOfParsing,
		EndOfDecoding:   d.onEndOfDecoding,
		Display:         d.onDisplay,
		ResolutionFound: d.onResolutionFound,
		ParsedSEI:       d.onParsedSEI,
		Error:           d.onEngineError,
		Released:        d.onReleased,
		Stopped:         d.onStopped,
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// empty submits one input buffer. Each picture-carrying buffer pushes a
// record, and an end-of-stream buffer pushes one more for the EOS output.
func (d *Decoder) empty(h *omx.BufferHeader) {
	eos := h.Flags.Has(omx.FlagEOS)
	if h.FilledLen == 0 && !eos {
		d.returnInput(h)
		return
	}
	if h.FilledLen > 0 && !h.Flags.Has(omx.FlagCodecConfig) {
		rec := d.recordFor(h)
		rec.Flags &^= omx.FlagEOS
		d.records.Push(rec)
	}
	if eos {
		d.records.Push(d.recordFor(h))
	}

	ch := d.decoderChannel()
	bd, err := d.inputHandle(ch, h)
	if err != nil {
		d.rejectInput(h, err)
		return
	}
	if eos {
		d.beginDrain()
	}
	d.handles.SetWithEngine(bd, true)
	if err := ch.PushInputBuffer(bd.hw, h.FilledLen, h.Flags); err != nil {
		d.handles.SetWithEngine(bd, false)
		d.rejectInput(h, err)
		return
	}
	if eos {
		d.drain(ch)
	}

	d.log.WithFields(logrus.Fields{
		"function":  "empty",
		"header_id": h.ID,
		"size":      h.FilledLen,
		"timestamp": h.Timestamp,
		"eos":       eos,
	}).Debug("Input pushed to engine")
}

func (d *Decoder) rejectInput(h *omx.BufferHeader, err error) {
	d.records.Remove(h)
	d.log.WithFields(logrus.Fields{
		"function":  "empty",
		"header_id": h.ID,
		"error":     err.Error(),
	}).Error("Failed to submit input buffer")
	if h.Flags.Has(omx.FlagEOS) {
		d.endDrain()
	}
	d.reportError(err)
	d.returnBuffer(h, false)
}

// fill lends one output buffer to the engine.
func (d *Decoder) fill(h *omx.BufferHeader) {
	d.mu.Lock()
	eos := d.pendingEOS
	d.pendingEOS = nil
	d.mu.Unlock()
	if eos != nil {
		d.deliverEOS(h, *eos, eos.Source != nil)
		return
	}

	if bd, ok := d.handles.ByHeader(h); ok && d.handles.Unrecall(bd) {
		// the engine never gave this one up
		return
	}

	bd, transient, err := d.bindOutput(d.decoderChannel(), h)
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"function":  "fill",
			"header_id": h.ID,
			"error":     err.Error(),
		}).Error("Failed to bind output buffer")
		d.reportError(err)
		d.returnBuffer(h, true)
		return
	}

	ch := d.decoderChannel()
	if transient {
		err = ch.ReleaseDisplayBuffer(bd.hw)
	} else {
		err = ch.PutDisplayBuffer(bd.hw)
	}
	if err != nil {
		d.handles.SetWithEngine(bd, false)
		d.reportError(err)
		d.returnBuffer(h, true)
		return
	}

	d.log.WithFields(logrus.Fields{
		"function":  "fill",
		"header_id": h.ID,
		"transient": transient,
	}).Debug("Output lent to engine")
}

// bindOutput finds or creates the engine handle for h and decides whether
// it joins the retention pool. Both maps change in one critical section.
func (d *Decoder) bindOutput(ch engine.DecoderChannel, h *omx.BufferHeader) (bd *binding, transient bool, err error) {
	release := false
	d.retention.mu.Lock()
	d.handles.mu.Lock()

	bd, ok := d.handles.byHeader[h.ID]
	if !ok {
		var hw *engine.HardwareBuffer
		shared := d.cfg.Output.ZeroCopy()
		if shared {
			hw, err = ch.ImportBuffer(h.Buffer[:h.AllocLen])
		} else {
			hw, err = ch.AllocBuffer(h.AllocLen)
		}
		if err != nil {
			d.handles.mu.Unlock()
			d.retention.mu.Unlock()
			return nil, false, err
		}
		bd = d.handles.bindLocked(h, hw, true, shared)
	}
	if _, retained := d.retention.entries[h.ID]; !retained {
		if d.retention.fullLocked() {
			transient = true
		} else {
			release = d.retention.addLocked(h.ID, bd.hw)
		}
	}
	bd.withEngine = true
	bd.recalled = false
	retained := len(d.retention.entries)

	d.handles.mu.Unlock()
	d.retention.mu.Unlock()

	d.cfg.Metrics.SetRetained(retained)
	if release {
		d.gate.Release(1)
	}
	return bd, transient, nil
}

func (d *Decoder) onEndOfParsing(hw *engine.HardwareBuffer) {
	bd, ok := d.handles.ByHW(hw)
	if !ok {
		return
	}
	d.handles.SetWithEngine(bd, false)
	d.returnInput(bd.header)
}

func (d *Decoder) onEndOfDecoding(hw *engine.HardwareBuffer) {
	d.log.WithFields(logrus.Fields{
		"function":  "onEndOfDecoding",
		"handle_id": hw.ID,
	}).Debug("Picture decoded")
}

func (d *Decoder) onDisplay(frame *engine.Frame, info *engine.StreamInfo) {
	switch {
	case frame != nil:
		d.displayFrame(frame)
	case info != nil:
		d.resolutionChanged(*info)
	default:
		d.endOfStream()
	}
}

func (d *Decoder) displayFrame(frame *engine.Frame) {
	bd, ok := d.handles.ByHW(frame.Buffer)
	if !ok {
		d.log.WithField("function", "displayFrame").Warn("Engine displayed an unknown buffer")
		return
	}
	if d.handles.GiveBack(bd) {
		d.log.WithFields(logrus.Fields{
			"function":  "displayFrame",
			"header_id": bd.header.ID,
		}).Warn("Dropping picture decoded into a recalled buffer")
		return
	}

	h := bd.header
	rec, ok := d.records.Pop()
	n := min(frame.FilledLen, h.AllocLen, uint32(len(frame.Buffer.Data)))
	if !bd.shared {
		copy(h.Buffer[:n], frame.Buffer.Data[:n])
	}
	h.Offset = 0
	h.FilledLen = n
	h.Flags = omx.FlagEndOfFrame
	if frame.KeyFrame {
		h.Flags |= omx.FlagSyncFrame
	}
	if frame.Corrupt {
		h.Flags |= omx.FlagDataCorrupt
	}
	if frame.DecodeOnly {
		h.Flags |= omx.FlagDecodeOnly
	}
	d.deliverOutput(h, rec, ok)
}

// endOfStream returns an engine-held output buffer carrying EOS, or arms
// the next supplied output buffer to carry it.
func (d *Decoder) endOfStream() {
	rec, _ := d.records.PopIf(func(r Record) bool { return r.Flags.Has(omx.FlagEOS) })
	bd, held := d.handles.Recall()
	if !held {
		d.mu.Lock()
		d.pendingEOS = &rec
		d.mu.Unlock()
		d.log.WithField("function", "endOfStream").Debug("No output buffer held, deferring EOS")
		d.signal()
		return
	}
	d.deliverEOS(bd.header, rec, rec.Source != nil)
}

func (d *Decoder) deliverEOS(h *omx.BufferHeader, rec Record, ok bool) {
	h.Offset = 0
	h.FilledLen = 0
	h.Flags = omx.FlagEOS
	d.deliverOutput(h, rec, ok)
	d.endDrain()
	d.event(omx.Event{
		Type:  omx.EventBufferFlag,
		Data1: d.cfg.Output.Index(),
		Data2: uint32(omx.FlagEOS),
	})
	d.log.WithFields(logrus.Fields{
		"function":  "deliverEOS",
		"header_id": h.ID,
	}).Info("End of stream delivered")
}

// onResolutionFound configures the output port for the stream, then holds
// the engine until the retention pool is full. Only the first call counts.
func (d *Decoder) onResolutionFound(info engine.StreamInfo) {
	if !d.announced.CompareAndSwap(false, true) {
		d.log.WithFields(logrus.Fields{
			"function": "onResolutionFound",
			"width":    info.Width,
			"height":   info.Height,
		}).Warn("Repeated resolution event ignored")
		return
	}
	dpb := d.applyStreamInfo(info)

	d.log.WithFields(logrus.Fields{
		"function":    "onResolutionFound",
		"width":       info.Width,
		"height":      info.Height,
		"stride":      info.Stride,
		"min_buffers": dpb,
	}).Info("Stream resolution found")

	d.awaitRetention()
}

// resolutionChanged reconfigures the output port for a geometry change in
// the middle of the stream. The start-up wait does not run again.
func (d *Decoder) resolutionChanged(info engine.StreamInfo) {
	// TODO: resize the retention pool when the new geometry needs more references
	dpb := d.applyStreamInfo(info)
	d.log.WithFields(logrus.Fields{
		"function":    "resolutionChanged",
		"width":       info.Width,
		"height":      info.Height,
		"stride":      info.Stride,
		"min_buffers": dpb,
	}).Info("Stream resolution changed")
}

// applyStreamInfo records info, moves the output port to its geometry and
// raises port-settings-changed. It returns the minimum output count.
func (d *Decoder) applyStreamInfo(info engine.StreamInfo) uint32 {
	d.infoMu.Lock()
	d.info = info
	d.infoMu.Unlock()

	dpb := codec.MinOutputBuffers(d.cfg.Variant, info.Width, info.Height, info.Level)
	err := d.cfg.Output.Update(func(def *omx.PortDefinition) {
		def.Video.Width = info.Width
		def.Video.Height = info.Height
		def.Video.Stride = int32(info.Stride)
		def.Video.SliceHeight = info.SliceHeight
		if info.FrameRate != 0 {
			def.Video.FrameRate = info.FrameRate
		}
		def.BufferSize = limits.FrameSize(info.Stride, info.SliceHeight)
		def.BufferCountMin = dpb
		if def.BufferCountActual < def.BufferCountMin {
			def.BufferCountActual = def.BufferCountMin
		}
	})
	if err != nil {
		d.log.WithFields(logrus.Fields{
			"function": "applyStreamInfo",
			"error":    err.Error(),
		}).Error("Stream geometry rejected by output port")
		d.reportError(err)
	} else {
		d.event(omx.Event{
			Type:  omx.EventPortSettingsChanged,
			Data1: d.cfg.Output.Index(),
			Data2: uint32(omx.IndexParamPortDefinition),
		})
	}
	d.event(omx.Event{Type: omx.EventVendorStreamInfo, Data1: d.cfg.Output.Index(), Data: info})
	return dpb
}

// awaitRetention blocks until K output buffers have been bound.
func (d *Decoder) awaitRetention() {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	d.gateMu.Lock()
	if d.gateAbort {
		d.gateMu.Unlock()
		return
	}
	d.gateCancel = cancel
	d.gateMu.Unlock()

	k := int64(d.retention.Capacity())
	err := d.gate.Acquire(ctx, k)

	d.gateMu.Lock()
	d.gateCancel = nil
	d.gateMu.Unlock()

	if err != nil {
		d.log.WithFields(logrus.Fields{
			"function": "awaitRetention",
			"cause":    context.Cause(ctx).Error(),
		}).Info("Start-up wait aborted")
		return
	}
	d.gatePassed.Add(1)
	d.log.WithFields(logrus.Fields{
		"function": "awaitRetention",
		"bound":    k,
	}).Debug("Retention pool ready")
}

func (d *Decoder) abortStartup() {
	d.gateMu.Lock()
	defer d.gateMu.Unlock()
	d.gateAbort = true
	if d.gateCancel != nil {
		d.gateCancel(errStartupAborted)
	}
}

func (d *Decoder) onParsedSEI(payload []byte) {
	if !d.seiReporting.Load() {
		return
	}
	d.event(omx.Event{
		Type:  omx.EventVendorSEI,
		Data1: d.cfg.Output.Index(),
		Data:  append([]byte(nil), payload...),
	})
}

func (d *Decoder) released(bd *binding) {
	if !bd.output {
		return
	}
	if d.retention.Remove(bd.header.ID) {
		d.cfg.Metrics.SetRetained(d.retention.Len())
	}
}

func (d *Decoder) flushed(ports map[uint32]bool) {
	if ports[d.cfg.Output.Index()] {
		d.mu.Lock()
		d.pendingEOS = nil
		d.mu.Unlock()
	}
	d.gateMu.Lock()
	d.gateAbort = false
	d.gateMu.Unlock()
}

func (d *Decoder) teardown() {
	d.retention.Clear()
	d.cfg.Metrics.SetRetained(0)
}
