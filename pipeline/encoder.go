package pipeline

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vpuomx/engine"
	"github.com/opd-ai/vpuomx/omx"
)

// Encoder runs an encode session.
type Encoder struct {
	base

	// controls set before the channel opens, applied at open
	ctlMu     sync.Mutex
	bitrate   uint32
	frameRate uint32
	keyFrame  bool
}

// NewEncoder creates an encoder pipeline.
func NewEncoder(cfg Config) (*Encoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Encoder{}
	e.init(cfg, e, "encoder")
	return e, nil
}

func (e *Encoder) encoderChannel() engine.EncoderChannel {
	ch, _ := e.channel().(engine.EncoderChannel)
	return ch
}

// SetBitrate changes the target bitrate of a running session.
func (e *Encoder) SetBitrate(bitrate uint32) error {
	if ch := e.encoderChannel(); ch != nil {
		return ch.SetBitrate(bitrate)
	}
	e.ctlMu.Lock()
	e.bitrate = bitrate
	e.ctlMu.Unlock()
	return nil
}

// SetFrameRate changes the Q16 frame rate of a running session.
func (e *Encoder) SetFrameRate(q16 uint32) error {
	if ch := e.encoderChannel(); ch != nil {
		return ch.SetFrameRate(q16)
	}
	e.ctlMu.Lock()
	e.frameRate = q16
	e.ctlMu.Unlock()
	return nil
}

// RequestKeyFrame makes the next encoded picture a key frame.
func (e *Encoder) RequestKeyFrame() error {
	if ch := e.encoderChannel(); ch != nil {
		return ch.RequestKeyFrame()
	}
	e.ctlMu.Lock()
	e.keyFrame = true
	e.ctlMu.Unlock()
	return nil
}

func (e *Encoder) open() (engine.Channel, error) {
	in := e.cfg.Input.Definition().Video
	out := e.cfg.Output.Definition().Video

	s := e.cfg.Settings
	e.ctlMu.Lock()
	if e.bitrate != 0 {
		s.Bitrate = e.bitrate
	}
	if e.frameRate != 0 {
		s.FrameRate = e.frameRate
	}
	keyFrame := e.keyFrame
	e.keyFrame = false
	e.ctlMu.Unlock()

	level, err := e.cfg.Variant.ConvertLevel(s.Level)
	if err != nil {
		return nil, err
	}
	ch, err := e.cfg.Engine.OpenEncoder(engine.EncoderConfig{
		Coding:      out.Compression,
		Width:       in.Width,
		Height:      in.Height,
		Stride:      uint32(in.Stride),
		SliceHeight: in.SliceHeight,
		ColorFormat: in.ColorFormat,
		Settings:    s,
		Options:     e.cfg.Variant.Options(s),
		Level:       level,
		RegionSize:  e.cfg.RegionSize,
	}, engine.EncoderCallbacks{
		FrameEncoded: e.onFrameEncoded,
		Error:        e.onEngineError,
		Released:     e.onReleased,
		Stopped:      e.onStopped,
	})
	if err != nil {
		return nil, err
	}
	if keyFrame {
		if err := ch.RequestKeyFrame(); err != nil {
			e.log.WithFields(logrus.Fields{
				"function": "open",
				"error":    err.Error(),
			}).Warn("Deferred key frame request failed")
		}
	}
	return ch, nil
}

func (e *Encoder) empty(h *omx.BufferHeader) {
	e.records.Push(e.recordFor(h))
	eos := h.Flags.Has(omx.FlagEOS)

	ch := e.encoderChannel()
	bd, err := e.inputHandle(ch, h)
	if err == nil {
		if eos {
			e.beginDrain()
		}
		e.handles.SetWithEngine(bd, true)
		if err = ch.PushInputBuffer(bd.hw, h.FilledLen, h.Flags); err != nil {
			e.handles.SetWithEngine(bd, false)
		}
	}
	if err != nil {
		if eos {
			e.endDrain()
		}
		e.records.Remove(h)
		e.log.WithFields(logrus.Fields{
			"function":  "empty",
			"header_id": h.ID,
			"error":     err.Error(),
		}).Error("Failed to submit input picture")
		e.reportError(err)
		e.returnBuffer(h, false)
		return
	}

	e.log.WithFields(logrus.Fields{
		"function":  "empty",
		"header_id": h.ID,
		"timestamp": h.Timestamp,
	}).Debug("Picture pushed to engine")
	if eos {
		e.drain(ch)
	}
}

// fill resets h and lends its storage to the engine's stream pool.
func (e *Encoder) fill(h *omx.BufferHeader) {
	h.Clear()

	ch := e.encoderChannel()
	bd, ok := e.handles.ByHeader(h)
	if !ok {
		hw, err := ch.ImportBuffer(h.Buffer[:h.AllocLen])
		if err != nil {
			e.reportError(err)
			e.returnBuffer(h, true)
			return
		}
		bd = e.handles.Bind(h, hw, true, true)
	}
	e.handles.SetWithEngine(bd, true)
	if err := ch.PutStreamBuffer(bd.hw); err != nil {
		e.handles.SetWithEngine(bd, false)
		e.log.WithFields(logrus.Fields{
			"function":  "fill",
			"header_id": h.ID,
			"error":     err.Error(),
		}).Error("Failed to lend stream buffer")
		e.reportError(err)
		e.returnBuffer(h, true)
	}
}

func (e *Encoder) onFrameEncoded(f engine.EncodedFrame) {
	obd, ok := e.handles.ByHW(f.Output)
	if !ok {
		e.log.WithField("function", "onFrameEncoded").Warn("Engine filled an unknown stream buffer")
		return
	}
	e.handles.GiveBack(obd)
	h := obd.header

	var src *omx.BufferHeader
	if ibd, ok := e.handles.ByHW(f.Input); ok {
		e.handles.GiveBack(ibd)
		src = ibd.header
	}

	if f.Overflow {
		e.log.WithFields(logrus.Fields{
			"function":  "onFrameEncoded",
			"header_id": h.ID,
			"size":      f.Size(),
			"capacity":  h.AllocLen,
		}).Error("Encoded frame does not fit output buffer")
		e.reportError(omx.ErrOverflow)
		e.returnBuffer(h, true)
		if src != nil {
			e.records.Remove(src)
			e.returnBuffer(src, false)
		}
		if f.EOS {
			e.endDrain()
		}
		return
	}

	var rec Record
	var has bool
	if !f.CodecConfig && src != nil {
		rec, has = e.records.Pop()
	}

	h.Offset = 0
	h.FilledLen = copySections(h.Buffer[:h.AllocLen], f.Region, f.Sections)
	h.Flags = omx.FlagEndOfFrame
	if f.CodecConfig {
		h.Flags |= omx.FlagCodecConfig
	}
	if f.KeyFrame {
		h.Flags |= omx.FlagSyncFrame
	}
	if f.EOS {
		h.Flags |= omx.FlagEOS
	}
	e.deliverOutput(h, rec, has)

	if f.EOS {
		e.endDrain()
		e.event(omx.Event{
			Type:  omx.EventBufferFlag,
			Data1: e.cfg.Output.Index(),
			Data2: uint32(omx.FlagEOS),
		})
		e.log.WithFields(logrus.Fields{
			"function":  "onFrameEncoded",
			"header_id": h.ID,
		}).Info("End of stream delivered")
	}
	if src != nil {
		e.returnInput(src)
	}
}

// copySections gathers sections of the circular region into dst and
// returns the number of bytes written. Data beyond len(dst) is dropped.
func copySections(dst, region []byte, sections []engine.Section) uint32 {
	size := len(region)
	if size == 0 {
		return 0
	}
	n := 0
	for _, s := range sections {
		off := int(s.Offset) % size
		left := int(s.Length)
		for left > 0 && n < len(dst) {
			c := copy(dst[n:n+min(left, len(dst)-n)], region[off:])
			n += c
			left -= c
			off = (off + c) % size
		}
	}
	return uint32(n)
}

func (e *Encoder) released(*binding)      {}
func (e *Encoder) flushed(map[uint32]bool) {}
func (e *Encoder) abortStartup()           {}
func (e *Encoder) teardown()               {}
