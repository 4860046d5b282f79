package soft

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/opd-ai/vpuomx/engine"
	"github.com/opd-ai/vpuomx/limits"
	"github.com/opd-ai/vpuomx/omx"
)

// bitstreamSize is the capacity of a decoder's staging ring.
const bitstreamSize = 4 << 20

type input struct {
	buf   *engine.HardwareBuffer
	size  uint32
	flags omx.BufferFlags
}

type decoder struct {
	worker

	cfg  engine.DecoderConfig
	cb   engine.DecoderCallbacks
	bits *ringbuffer.RingBuffer

	// guarded by worker.mu
	inputs    []input
	display   []*engine.HardwareBuffer
	lent      map[uint64]bool
	announced bool
	draining  bool
	// lastEOS is set while the newest pushed input carries EOS, which
	// already ends the stream
	lastEOS bool
	info    engine.StreamInfo
}

// OpenDecoder opens a decode channel.
func (e *Engine) OpenDecoder(cfg engine.DecoderConfig, cb engine.DecoderCallbacks) (engine.DecoderChannel, error) {
	if err := e.acquireChannel(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "soft.OpenDecoder",
			"coding":   cfg.Coding.String(),
			"error":    err.Error(),
		}).Warn("No decoder channel available")
		return nil, err
	}

	d := &decoder{
		cfg:  cfg,
		cb:   cb,
		bits: ringbuffer.New(bitstreamSize),
		lent: make(map[uint64]bool),
	}
	d.init(e, "decoder")
	d.log = d.log.WithField("coding", cfg.Coding.String())
	d.start(d.step)

	d.log.WithFields(logrus.Fields{
		"function": "soft.OpenDecoder",
		"width":    cfg.Width,
		"height":   cfg.Height,
	}).Info("Decoder channel opened")
	return d, nil
}

func (d *decoder) AllocBuffer(size uint32) (*engine.HardwareBuffer, error) {
	return d.eng.alloc(size)
}

func (d *decoder) ImportBuffer(data []byte) (*engine.HardwareBuffer, error) {
	return importBuffer(data)
}

func (d *decoder) PushInputBuffer(in *engine.HardwareBuffer, size uint32, flags omx.BufferFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen("push_input"); err != nil {
		return err
	}
	if in == nil || int(size) > len(in.Data) || size > bitstreamSize {
		return engine.NewError("push_input", engine.CodeBadParameter)
	}
	if free := d.bits.Free(); int(size) > free {
		d.log.WithFields(logrus.Fields{
			"function": "decoder.PushInputBuffer",
			"size":     size,
			"free":     free,
		}).Debug("Bitstream buffer full")
		return engine.NewError("push_input", engine.CodeResourceUnavailable)
	}
	if size > 0 {
		if _, err := d.bits.Write(in.Data[:size]); err != nil {
			return engine.NewError("push_input", engine.CodeResourceUnavailable)
		}
	}
	d.inputs = append(d.inputs, input{buf: in, size: size, flags: flags})
	d.lastEOS = flags.Has(omx.FlagEOS)
	d.signal()
	return nil
}

func (d *decoder) PutDisplayBuffer(out *engine.HardwareBuffer) error {
	return d.lend(out, false)
}

func (d *decoder) ReleaseDisplayBuffer(out *engine.HardwareBuffer) error {
	return d.lend(out, true)
}

func (d *decoder) lend(out *engine.HardwareBuffer, transient bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen("lend_display"); err != nil {
		return err
	}
	if out == nil {
		return engine.NewError("lend_display", engine.CodeBadParameter)
	}
	if _, ok := d.lent[out.ID]; ok {
		return engine.NewError("lend_display", engine.CodeBadParameter)
	}
	d.lent[out.ID] = transient
	d.display = append(d.display, out)
	d.signal()
	return nil
}

func (d *decoder) Drain() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen("drain"); err != nil {
		return err
	}
	if d.lastEOS {
		return nil
	}
	d.draining = true
	d.signal()
	return nil
}

func (d *decoder) ForceStop() error {
	return d.forceStop()
}

func (d *decoder) Close() error {
	return d.close()
}

// step runs one unit of work and reports whether more may be pending.
func (d *decoder) step() bool {
	d.mu.Lock()
	if d.stopping {
		return d.stopLocked()
	}
	if len(d.inputs) == 0 {
		if !d.draining {
			d.mu.Unlock()
			return false
		}
		d.draining = false
		d.mu.Unlock()
		d.callDisplay(nil, nil)
		return true
	}

	in := d.inputs[0]
	if !d.announced && in.size > 0 {
		d.announced = true
		d.info = d.streamInfo(in.size)
		info := d.info
		d.mu.Unlock()

		d.log.WithFields(logrus.Fields{
			"function": "decoder.step",
			"width":    info.Width,
			"height":   info.Height,
		}).Info("Stream resolution found")
		if d.cb.ResolutionFound != nil {
			d.cb.ResolutionFound(info)
		}
		return true
	}

	picture := in.size > 0 && !in.flags.Has(omx.FlagCodecConfig)
	var out *engine.HardwareBuffer
	if picture {
		if len(d.display) == 0 {
			d.mu.Unlock()
			return false
		}
		out = d.display[0]
		d.display = d.display[1:]
	}
	d.inputs = d.inputs[1:]
	d.mu.Unlock()

	if !d.delay() {
		return false
	}

	au, err := d.stage(in)
	if d.cb.EndOfParsing != nil {
		d.cb.EndOfParsing(in.buf)
	}
	code := d.eng.takeInjected()
	if err != nil && code == engine.CodeNone {
		code = engine.CodeBadParameter
	}
	if code != engine.CodeNone {
		if out != nil {
			d.mu.Lock()
			d.display = append([]*engine.HardwareBuffer{out}, d.display...)
			d.mu.Unlock()
		}
		d.log.WithFields(logrus.Fields{
			"function": "decoder.step",
			"code":     code.String(),
		}).Error("Decode failed")
		if d.cb.Error != nil {
			d.cb.Error(code)
		}
		if in.flags.Has(omx.FlagEOS) {
			d.callDisplay(nil, nil)
		}
		return true
	}

	if hdr, ok := parseSequenceHeader(au); ok {
		d.checkResolutionChange(hdr)
	}
	if picture {
		d.decodePicture(au, out)
	}
	if in.flags.Has(omx.FlagEOS) {
		d.callDisplay(nil, nil)
	}
	return true
}

// stage takes the next access unit out of the bitstream ring, where
// PushInputBuffer parked it.
func (d *decoder) stage(in input) ([]byte, error) {
	if in.size == 0 {
		return nil, nil
	}
	au := make([]byte, in.size)
	if _, err := io.ReadFull(d.bits, au); err != nil {
		d.bits.Reset()
		return nil, err
	}
	return au, nil
}

func (d *decoder) decodePicture(au []byte, out *engine.HardwareBuffer) {
	info := d.currentInfo()
	frameSize := int(limits.FrameSize(info.Stride, info.SliceHeight))
	frame := &engine.Frame{Buffer: out}

	n := len(out.Data)
	if frameSize < n {
		n = frameSize
	}
	frame.Corrupt = n < frameSize
	frame.FilledLen = uint32(n)

	if hdr, err := parseFrameHeader(au); err == nil {
		end := frameHeaderSize + int(hdr.Samples)
		if end > len(au) {
			end = len(au)
			frame.Corrupt = true
		}
		reconstruct(out.Data[:n], au[frameHeaderSize:end])
		frame.KeyFrame = hdr.KeyFrame
		if sei := au[end:]; len(sei) > 0 && d.cb.ParsedSEI != nil {
			d.cb.ParsedSEI(sei)
		}
	} else {
		reconstruct(out.Data[:n], sample(au))
	}

	d.mu.Lock()
	delete(d.lent, out.ID)
	d.mu.Unlock()

	if d.cb.EndOfDecoding != nil {
		d.cb.EndOfDecoding(out)
	}
	d.callDisplay(frame, nil)
}

func (d *decoder) checkResolutionChange(hdr sequenceHeader) {
	d.mu.Lock()
	if hdr.Width == d.info.Width && hdr.Height == d.info.Height {
		d.mu.Unlock()
		return
	}
	d.info = d.geometry(hdr.Width, hdr.Height)
	info := d.info
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{
		"function": "decoder.checkResolutionChange",
		"width":    info.Width,
		"height":   info.Height,
	}).Info("Stream resolution changed")
	d.callDisplay(nil, &info)
}

func (d *decoder) callDisplay(frame *engine.Frame, info *engine.StreamInfo) {
	if d.cb.Display != nil {
		d.cb.Display(frame, info)
	}
}

func (d *decoder) currentInfo() engine.StreamInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// streamInfo peeks at the access unit at the head of the ring.
func (d *decoder) streamInfo(size uint32) engine.StreamInfo {
	head := make([]byte, min(size, sequenceHeaderSize))
	if n, _ := d.bits.Peek(head); n == len(head) {
		if hdr, ok := parseSequenceHeader(head); ok {
			return d.geometry(hdr.Width, hdr.Height)
		}
	}
	return d.geometry(d.cfg.Width, d.cfg.Height)
}

func (d *decoder) geometry(width, height uint32) engine.StreamInfo {
	align := d.cfg.StrideAlign
	if align == 0 {
		align = limits.DefaultStrideAlign
	}
	return engine.StreamInfo{
		Width:       width,
		Height:      height,
		Stride:      limits.Align(width, align),
		SliceHeight: limits.Align(height, limits.DefaultHeightAlign),
		Profile:     d.cfg.Profile,
		Level:       d.cfg.FrameLevel,
		FrameRate:   30 << 16,
		Crop:        engine.Crop{Width: width, Height: height},
	}
}

// stopLocked releases everything the channel holds and raises Stopped.
// Called with d.mu held; returns with it released.
func (d *decoder) stopLocked() bool {
	held := make([]*engine.HardwareBuffer, 0, len(d.inputs)+len(d.display))
	for _, in := range d.inputs {
		held = append(held, in.buf)
	}
	held = append(held, d.display...)
	d.inputs = nil
	d.display = nil
	d.lent = make(map[uint64]bool)
	d.draining = false
	d.lastEOS = false
	d.stopping = false
	d.bits.Reset()
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{
		"function": "decoder.stop",
		"released": len(held),
	}).Debug("Force stop")

	for _, b := range held {
		if d.cb.Released != nil {
			d.cb.Released(b)
		}
	}
	if d.cb.Stopped != nil {
		d.cb.Stopped()
	}
	return true
}
