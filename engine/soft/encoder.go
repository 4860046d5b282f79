package soft

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vpuomx/engine"
	"github.com/opd-ai/vpuomx/omx"
)

type encoder struct {
	worker

	cfg    engine.EncoderConfig
	cb     engine.EncoderCallbacks
	region []byte
	wpos   uint32

	// guarded by worker.mu
	inputs     []input
	streams    []*engine.HardwareBuffer
	lent       map[uint64]bool
	seq        uint32
	sentConfig bool
	keyReq     bool
	draining   bool
	lastEOS    bool
	bitrate    uint32
	frameRate  uint32
}

// OpenEncoder opens an encode channel.
func (e *Engine) OpenEncoder(cfg engine.EncoderConfig, cb engine.EncoderCallbacks) (engine.EncoderChannel, error) {
	if err := e.acquireChannel(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "soft.OpenEncoder",
			"coding":   cfg.Coding.String(),
			"error":    err.Error(),
		}).Warn("No encoder channel available")
		return nil, err
	}
	if cfg.RegionSize == 0 {
		cfg.RegionSize = e.cfg.RegionSize
	}

	c := &encoder{
		cfg:       cfg,
		cb:        cb,
		region:    make([]byte, cfg.RegionSize),
		lent:      make(map[uint64]bool),
		bitrate:   cfg.Settings.Bitrate,
		frameRate: cfg.Settings.FrameRate,
	}
	c.init(e, "encoder")
	c.log = c.log.WithField("coding", cfg.Coding.String())
	c.start(c.step)

	c.log.WithFields(logrus.Fields{
		"function": "soft.OpenEncoder",
		"width":    cfg.Width,
		"height":   cfg.Height,
		"bitrate":  cfg.Settings.Bitrate,
		"region":   cfg.RegionSize,
	}).Info("Encoder channel opened")
	return c, nil
}

func (c *encoder) AllocBuffer(size uint32) (*engine.HardwareBuffer, error) {
	return c.eng.alloc(size)
}

func (c *encoder) ImportBuffer(data []byte) (*engine.HardwareBuffer, error) {
	return importBuffer(data)
}

func (c *encoder) PushInputBuffer(in *engine.HardwareBuffer, size uint32, flags omx.BufferFlags) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("push_input"); err != nil {
		return err
	}
	if in == nil || int(size) > len(in.Data) {
		return engine.NewError("push_input", engine.CodeBadParameter)
	}
	c.inputs = append(c.inputs, input{buf: in, size: size, flags: flags})
	c.lastEOS = flags.Has(omx.FlagEOS)
	c.signal()
	return nil
}

func (c *encoder) PutStreamBuffer(out *engine.HardwareBuffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("put_stream"); err != nil {
		return err
	}
	if out == nil || c.lent[out.ID] {
		return engine.NewError("put_stream", engine.CodeBadParameter)
	}
	c.lent[out.ID] = true
	c.streams = append(c.streams, out)
	c.signal()
	return nil
}

func (c *encoder) SetBitrate(bitrate uint32) error {
	if bitrate == 0 {
		return engine.NewError("set_bitrate", engine.CodeBadParameter)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("set_bitrate"); err != nil {
		return err
	}
	c.bitrate = bitrate
	return nil
}

func (c *encoder) SetFrameRate(q16 uint32) error {
	if q16 == 0 {
		return engine.NewError("set_frame_rate", engine.CodeBadParameter)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("set_frame_rate"); err != nil {
		return err
	}
	c.frameRate = q16
	return nil
}

func (c *encoder) RequestKeyFrame() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("request_key_frame"); err != nil {
		return err
	}
	c.keyReq = true
	return nil
}

func (c *encoder) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("drain"); err != nil {
		return err
	}
	// an EOS input already ends the stream
	if c.lastEOS {
		return nil
	}
	c.draining = true
	c.signal()
	return nil
}

func (c *encoder) ForceStop() error {
	return c.forceStop()
}

func (c *encoder) Close() error {
	return c.close()
}

func (c *encoder) step() bool {
	c.mu.Lock()
	if c.stopping {
		return c.stopLocked()
	}
	if len(c.streams) == 0 {
		c.mu.Unlock()
		return false
	}
	if !c.sentConfig {
		c.sentConfig = true
		out := c.popStreamLocked()
		c.mu.Unlock()
		c.emitConfig(out)
		return true
	}
	if len(c.inputs) == 0 {
		if !c.draining {
			c.mu.Unlock()
			return false
		}
		c.draining = false
		out := c.popStreamLocked()
		c.mu.Unlock()
		c.emit(engine.EncodedFrame{Output: out, Region: c.region, EOS: true})
		return true
	}

	in := c.inputs[0]
	c.inputs = c.inputs[1:]
	out := c.popStreamLocked()
	key := c.seq == 0 || c.keyReq
	if gop := c.cfg.Settings.GOPLength; gop > 0 && c.seq%gop == 0 {
		key = true
	}
	c.keyReq = false
	seq := c.seq
	c.seq++
	c.mu.Unlock()

	if !c.delay() {
		return false
	}

	if code := c.eng.takeInjected(); code != engine.CodeNone {
		c.mu.Lock()
		c.lent[out.ID] = true
		c.streams = append([]*engine.HardwareBuffer{out}, c.streams...)
		c.mu.Unlock()

		c.log.WithFields(logrus.Fields{
			"function": "encoder.step",
			"code":     code.String(),
		}).Error("Encode failed")
		if c.cb.Error != nil {
			c.cb.Error(code)
		}
		if c.cb.Released != nil {
			c.cb.Released(in.buf)
		}
		return true
	}

	f := engine.EncodedFrame{
		Input:  in.buf,
		Output: out,
		Region: c.region,
		EOS:    in.flags.Has(omx.FlagEOS),
	}
	if in.size > 0 {
		samples := sample(in.buf.Data[:in.size])
		hdr := frameHeader{Seq: seq, KeyFrame: key, Samples: uint32(len(samples))}
		f.Sections = []engine.Section{c.write(hdr.marshal()), c.write(samples)}
		f.KeyFrame = key
		f.Overflow = int(f.Size()) > len(out.Data)
	}
	c.emit(f)
	return true
}

func (c *encoder) emitConfig(out *engine.HardwareBuffer) {
	hdr := sequenceHeader{Coding: c.cfg.Coding, Width: c.cfg.Width, Height: c.cfg.Height}
	f := engine.EncodedFrame{
		Output:      out,
		Region:      c.region,
		Sections:    []engine.Section{c.write(hdr.marshal())},
		CodecConfig: true,
	}
	f.Overflow = int(f.Size()) > len(out.Data)
	c.emit(f)
}

func (c *encoder) emit(f engine.EncodedFrame) {
	if f.Overflow {
		c.log.WithFields(logrus.Fields{
			"function": "encoder.emit",
			"size":     f.Size(),
			"capacity": len(f.Output.Data),
		}).Warn("Encoded frame overflows stream buffer")
	}
	if c.cb.FrameEncoded != nil {
		c.cb.FrameEncoded(f)
	}
}

// write copies b into the circular region, wrapping at the end.
func (c *encoder) write(b []byte) engine.Section {
	size := uint32(len(c.region))
	s := engine.Section{Offset: c.wpos, Length: uint32(len(b))}
	n := copy(c.region[c.wpos:], b)
	copy(c.region, b[n:])
	c.wpos = (c.wpos + uint32(len(b))) % size
	return s
}

func (c *encoder) popStreamLocked() *engine.HardwareBuffer {
	out := c.streams[0]
	c.streams = c.streams[1:]
	delete(c.lent, out.ID)
	return out
}

func (c *encoder) stopLocked() bool {
	held := make([]*engine.HardwareBuffer, 0, len(c.inputs)+len(c.streams))
	for _, in := range c.inputs {
		held = append(held, in.buf)
	}
	held = append(held, c.streams...)
	c.inputs = nil
	c.streams = nil
	c.lent = make(map[uint64]bool)
	c.draining = false
	c.lastEOS = false
	c.stopping = false
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"function": "encoder.stop",
		"released": len(held),
	}).Debug("Force stop")

	for _, b := range held {
		if c.cb.Released != nil {
			c.cb.Released(b)
		}
	}
	if c.cb.Stopped != nil {
		c.cb.Stopped()
	}
	return true
}
