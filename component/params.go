package component

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vpuomx/checker"
	"github.com/opd-ai/vpuomx/codec"
	"github.com/opd-ai/vpuomx/limits"
	"github.com/opd-ai/vpuomx/omx"
)

// Vendor extension names answered by GetExtensionIndex.
const (
	ExtensionZeroCopy     = "OMX.vpu.index.param.zeroCopy"
	ExtensionSEIReporting = "OMX.vpu.index.config.seiReporting"
)

var extensions = map[string]omx.Index{
	ExtensionZeroCopy:     omx.IndexParamVendorZeroCopy,
	ExtensionSEIReporting: omx.IndexConfigVendorSEIReporting,
}

// as asserts param is a non-nil *T and checks its structure version.
func as[T any](param any) (*T, error) {
	p, ok := param.(*T)
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: want %T, got %T", ErrParamType, p, param)
	}
	if v, ok := any(p).(omx.Versioned); ok {
		if err := checker.CheckHeader(v); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// portOf returns the port a port-specific structure addresses.
func portOf(param any) (uint32, bool) {
	switch p := param.(type) {
	case *omx.PortDefinition:
		if p != nil {
			return p.Index, true
		}
	case *omx.VideoPortFormat:
		if p != nil {
			return p.PortIndex, true
		}
	case *omx.ProfileLevel:
		if p != nil {
			return p.PortIndex, true
		}
	case *omx.Bitrate:
		if p != nil {
			return p.PortIndex, true
		}
	case *omx.AVCParams:
		if p != nil {
			return p.PortIndex, true
		}
	case *omx.HEVCParams:
		if p != nil {
			return p.PortIndex, true
		}
	case *omx.VP8Params:
		if p != nil {
			return p.PortIndex, true
		}
	case *omx.BufferSupplier:
		if p != nil {
			return p.PortIndex, true
		}
	case *omx.ZeroCopy:
		if p != nil {
			return p.PortIndex, true
		}
	}
	return 0, false
}

func (c *Component) requireCoding(coding omx.Coding) error {
	if c.role.Coding != coding {
		return fmt.Errorf("%w: %s parameters on a %s component", omx.ErrUnsupportedIndex, coding, c.role.Coding)
	}
	return nil
}

func (c *Component) requireKind(kind Kind) error {
	if c.role.Kind != kind {
		return fmt.Errorf("%w: %s only", omx.ErrUnsupportedIndex, kind)
	}
	return nil
}

func (c *Component) requireCodedPort(index uint32) error {
	if err := checker.CheckPortIndex(index, portCount); err != nil {
		return err
	}
	if index != c.codedIndex() {
		return fmt.Errorf("%w: port %d carries raw pictures", omx.ErrBadPortIndex, index)
	}
	return nil
}

// GetParameter fills param, a pointer to the structure matching index.
// Enumerating indexes read the structure's Index field and answer
// omx.ErrNoMore past the last entry.
func (c *Component) GetParameter(index omx.Index, param any) error {
	return c.result("GetParameter", c.getParameter(index, param))
}

func (c *Component) getParameter(index omx.Index, param any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(checker.OpGetParameter); err != nil {
		return err
	}

	switch index {
	case omx.IndexParamPortDefinition:
		p, err := as[omx.PortDefinition](param)
		if err != nil {
			return err
		}
		pt, err := c.port(p.Index)
		if err != nil {
			return err
		}
		*p = pt.Definition()

	case omx.IndexParamVideoInit:
		p, err := as[omx.PortParam](param)
		if err != nil {
			return err
		}
		p.Ports, p.StartPortNumber = portCount, InputPort

	case omx.IndexParamVideoPortFormat:
		p, err := as[omx.VideoPortFormat](param)
		if err != nil {
			return err
		}
		pt, err := c.port(p.PortIndex)
		if err != nil {
			return err
		}
		f, err := pt.Format(p.Index)
		if err != nil {
			return err
		}
		f.Header = p.Header
		*p = f

	case omx.IndexParamVideoProfileLevelCurrent:
		p, err := as[omx.ProfileLevel](param)
		if err != nil {
			return err
		}
		if err := c.requireCodedPort(p.PortIndex); err != nil {
			return err
		}
		p.Profile, p.Level = c.settings.Profile, c.settings.Level

	case omx.IndexParamVideoProfileLevelQuerySupported:
		p, err := as[omx.ProfileLevel](param)
		if err != nil {
			return err
		}
		if err := c.requireCodedPort(p.PortIndex); err != nil {
			return err
		}
		table := c.variant.ProfileTable()
		if int64(p.Index) >= int64(len(table)) {
			return omx.ErrNoMore
		}
		p.Profile, p.Level = table[p.Index].Profile, table[p.Index].Level

	case omx.IndexParamVideoBitrate:
		p, err := as[omx.Bitrate](param)
		if err != nil {
			return err
		}
		if err := c.requireKind(KindEncoder); err != nil {
			return err
		}
		if err := c.requireCodedPort(p.PortIndex); err != nil {
			return err
		}
		p.ControlRate, p.TargetBitrate = c.settings.ControlRate, c.settings.Bitrate

	case omx.IndexParamVideoAvc:
		p, err := as[omx.AVCParams](param)
		if err != nil {
			return err
		}
		if err := c.codecParamCheck(omx.CodingAVC, p.PortIndex); err != nil {
			return err
		}
		v, err := c.settings.AVC(p.PortIndex)
		if err != nil {
			return err
		}
		v.Header = p.Header
		*p = v

	case omx.IndexParamVideoHevc:
		p, err := as[omx.HEVCParams](param)
		if err != nil {
			return err
		}
		if err := c.codecParamCheck(omx.CodingHEVC, p.PortIndex); err != nil {
			return err
		}
		v := c.settings.HEVC(p.PortIndex)
		v.Header = p.Header
		*p = v

	case omx.IndexParamVideoVp8:
		p, err := as[omx.VP8Params](param)
		if err != nil {
			return err
		}
		if err := c.codecParamCheck(omx.CodingVP8, p.PortIndex); err != nil {
			return err
		}
		v := c.settings.VP8(p.PortIndex)
		v.Header = p.Header
		*p = v

	case omx.IndexParamCompBufferSupplier:
		p, err := as[omx.BufferSupplier](param)
		if err != nil {
			return err
		}
		if _, err := c.port(p.PortIndex); err != nil {
			return err
		}
		p.Supplier = c.suppliers[p.PortIndex]

	case omx.IndexParamStandardComponentRole:
		p, err := as[omx.ComponentRole](param)
		if err != nil {
			return err
		}
		p.Role = c.role.Name

	case omx.IndexParamVendorZeroCopy:
		p, err := as[omx.ZeroCopy](param)
		if err != nil {
			return err
		}
		pt, err := c.port(p.PortIndex)
		if err != nil {
			return err
		}
		p.Enable = pt.ZeroCopy()

	default:
		return fmt.Errorf("%w: parameter 0x%08x", omx.ErrUnsupportedIndex, uint32(index))
	}
	return nil
}

func (c *Component) codecParamCheck(coding omx.Coding, portIndex uint32) error {
	if err := c.requireCoding(coding); err != nil {
		return err
	}
	return c.requireCodedPort(portIndex)
}

// snapshot is what a failed SetParameter puts back.
type snapshot struct {
	defs      [portCount]omx.PortDefinition
	zeroCopy  [portCount]bool
	settings  codec.Settings
	suppliers [portCount]omx.BufferSupplierType
}

func (c *Component) snapshotLocked() snapshot {
	s := snapshot{settings: c.settings, suppliers: c.suppliers}
	for i, p := range c.ports {
		s.defs[i] = p.Definition()
		s.zeroCopy[i] = p.ZeroCopy()
	}
	return s
}

func (c *Component) restoreLocked(s snapshot) {
	c.settings = s.settings
	c.suppliers = s.suppliers
	for i, p := range c.ports {
		def := s.defs[i]
		if err := p.Update(func(d *omx.PortDefinition) { *d = def }); err != nil {
			c.log.WithFields(logrus.Fields{
				"function": "restoreLocked",
				"port":     i,
				"error":    err.Error(),
			}).Warn("Port definition not restored")
		}
		p.SetZeroCopy(s.zeroCopy[i])
	}
}

// SetParameter applies param, a pointer to the structure matching index.
// Parameters are accepted in Loaded and WaitForResources, and in any state
// for a structure addressing a disabled port. A failed call leaves every
// port and codec setting as it was.
func (c *Component) SetParameter(index omx.Index, param any) error {
	return c.result("SetParameter", c.setParameter(index, param))
}

func (c *Component) setParameter(index omx.Index, param any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkLocked(checker.OpSetParameter); err != nil {
		i, ok := portOf(param)
		if c.closed || !ok || c.state == omx.StateInvalid || i >= portCount || c.ports[i].Enabled() {
			return err
		}
	}

	snap := c.snapshotLocked()
	if err := c.applyParameterLocked(index, param); err != nil {
		c.restoreLocked(snap)
		return err
	}
	c.log.WithFields(logrus.Fields{
		"function": "SetParameter",
		"index":    fmt.Sprintf("0x%08x", uint32(index)),
	}).Debug("Parameter applied")
	return nil
}

func (c *Component) applyParameterLocked(index omx.Index, param any) error {
	switch index {
	case omx.IndexParamPortDefinition:
		p, err := as[omx.PortDefinition](param)
		if err != nil {
			return err
		}
		return c.setPortDefinitionLocked(*p)

	case omx.IndexParamVideoPortFormat:
		p, err := as[omx.VideoPortFormat](param)
		if err != nil {
			return err
		}
		pt, err := c.port(p.PortIndex)
		if err != nil {
			return err
		}
		return pt.SetFormat(*p)

	case omx.IndexParamVideoProfileLevelCurrent:
		p, err := as[omx.ProfileLevel](param)
		if err != nil {
			return err
		}
		if err := c.requireCodedPort(p.PortIndex); err != nil {
			return err
		}
		if !codec.SupportsProfileLevel(c.variant, p.Profile, p.Level) {
			return fmt.Errorf("%w: profile 0x%x level 0x%x", omx.ErrUnsupportedSetting, p.Profile, p.Level)
		}
		c.settings.Profile, c.settings.Level = p.Profile, p.Level
		return nil

	case omx.IndexParamVideoBitrate:
		p, err := as[omx.Bitrate](param)
		if err != nil {
			return err
		}
		if err := c.requireKind(KindEncoder); err != nil {
			return err
		}
		if err := c.requireCodedPort(p.PortIndex); err != nil {
			return err
		}
		if p.ControlRate > omx.ControlRateConstantSkipFrames {
			return fmt.Errorf("%w: control rate %d", omx.ErrBadParameter, p.ControlRate)
		}
		c.settings.ControlRate, c.settings.Bitrate = p.ControlRate, p.TargetBitrate
		return c.ports[p.PortIndex].Update(func(d *omx.PortDefinition) { d.Video.Bitrate = p.TargetBitrate })

	case omx.IndexParamVideoAvc:
		p, err := as[omx.AVCParams](param)
		if err != nil {
			return err
		}
		if err := c.codecParamCheck(omx.CodingAVC, p.PortIndex); err != nil {
			return err
		}
		if err := c.settings.ApplyAVC(*p); err != nil {
			return err
		}
		return c.settings.Validate(c.variant)

	case omx.IndexParamVideoHevc:
		p, err := as[omx.HEVCParams](param)
		if err != nil {
			return err
		}
		if err := c.codecParamCheck(omx.CodingHEVC, p.PortIndex); err != nil {
			return err
		}
		c.settings.ApplyHEVC(*p)
		return c.settings.Validate(c.variant)

	case omx.IndexParamVideoVp8:
		p, err := as[omx.VP8Params](param)
		if err != nil {
			return err
		}
		if err := c.codecParamCheck(omx.CodingVP8, p.PortIndex); err != nil {
			return err
		}
		c.settings.ApplyVP8(*p)
		return c.settings.Validate(c.variant)

	case omx.IndexParamCompBufferSupplier:
		p, err := as[omx.BufferSupplier](param)
		if err != nil {
			return err
		}
		if _, err := c.port(p.PortIndex); err != nil {
			return err
		}
		if p.Supplier > omx.BufferSupplyOutput {
			return fmt.Errorf("%w: supplier %d", omx.ErrBadParameter, p.Supplier)
		}
		c.suppliers[p.PortIndex] = p.Supplier
		return nil

	case omx.IndexParamStandardComponentRole:
		p, err := as[omx.ComponentRole](param)
		if err != nil {
			return err
		}
		if p.Role != c.role.Name {
			return fmt.Errorf("%w: role %q, component acts as %q", omx.ErrUnsupportedSetting, p.Role, c.role.Name)
		}
		return nil

	case omx.IndexParamVendorZeroCopy:
		p, err := as[omx.ZeroCopy](param)
		if err != nil {
			return err
		}
		pt, err := c.port(p.PortIndex)
		if err != nil {
			return err
		}
		pt.SetZeroCopy(p.Enable)
		return nil

	case omx.IndexParamVideoInit, omx.IndexParamVideoProfileLevelQuerySupported:
		return ErrReadOnly

	default:
		return fmt.Errorf("%w: parameter 0x%08x", omx.ErrUnsupportedIndex, uint32(index))
	}
}

// setPortDefinitionLocked stores def and keeps the opposite port's picture
// geometry in step with it.
func (c *Component) setPortDefinitionLocked(def omx.PortDefinition) error {
	pt, err := c.port(def.Index)
	if err != nil {
		return err
	}
	if def.Index == c.codedIndex() {
		// bitstream ports carry no layout of their own
		def.Video.Stride = int32(limits.Align(def.Video.Width, pt.StrideAlign()))
		def.Video.SliceHeight = limits.Align(def.Video.Height, limits.DefaultHeightAlign)
	}
	if err := pt.SetDefinition(def); err != nil {
		return err
	}
	v := pt.Definition().Video
	if err := c.variant.ValidateFrameSize(v.Width, v.Height); err != nil {
		return err
	}

	raw := c.ports[c.rawIndex()]
	coded := c.ports[c.codedIndex()]
	if def.Index == c.rawIndex() {
		frameSize := limits.FrameSize(uint32(v.Stride), v.SliceHeight)
		if err := raw.Update(func(d *omx.PortDefinition) { d.BufferSize = max(d.BufferSize, frameSize) }); err != nil {
			return err
		}
		if v.FrameRate != 0 && c.role.Kind == KindEncoder {
			c.settings.FrameRate = v.FrameRate
		}
		return coded.Update(func(d *omx.PortDefinition) {
			d.Video.Width, d.Video.Height = v.Width, v.Height
			d.Video.Stride, d.Video.SliceHeight = v.Stride, v.SliceHeight
			if v.FrameRate != 0 {
				d.Video.FrameRate = v.FrameRate
			}
		})
	}

	if c.role.Kind == KindEncoder && v.Bitrate != 0 {
		c.settings.Bitrate = v.Bitrate
	}
	align := raw.StrideAlign()
	return raw.Update(func(d *omx.PortDefinition) {
		if d.Video.Width == v.Width && d.Video.Height == v.Height {
			return
		}
		stride := limits.Align(v.Width, align)
		slice := limits.Align(v.Height, limits.DefaultHeightAlign)
		d.Video.Width, d.Video.Height = v.Width, v.Height
		d.Video.Stride, d.Video.SliceHeight = int32(stride), slice
		d.BufferSize = max(d.BufferSize, limits.FrameSize(stride, slice))
	})
}

// GetConfig fills config, a pointer to the structure matching index.
func (c *Component) GetConfig(index omx.Index, config any) error {
	return c.result("GetConfig", c.getConfig(index, config))
}

func (c *Component) getConfig(index omx.Index, config any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(checker.OpGetConfig); err != nil {
		return err
	}

	switch index {
	case omx.IndexConfigVideoBitrate:
		p, err := as[omx.ConfigBitrate](config)
		if err != nil {
			return err
		}
		if err := c.requireKind(KindEncoder); err != nil {
			return err
		}
		p.TargetBitrate = c.settings.Bitrate

	case omx.IndexConfigVideoFramerate:
		p, err := as[omx.ConfigFramerate](config)
		if err != nil {
			return err
		}
		pt, err := c.port(p.PortIndex)
		if err != nil {
			return err
		}
		p.FrameRate = pt.Definition().Video.FrameRate
		if c.role.Kind == KindEncoder {
			p.FrameRate = c.settings.FrameRate
		}

	case omx.IndexConfigVideoIntraVOPRefresh:
		p, err := as[omx.IntraRefreshVOP](config)
		if err != nil {
			return err
		}
		if err := c.requireKind(KindEncoder); err != nil {
			return err
		}
		p.Request = c.keyFrame

	case omx.IndexConfigCommonOutputCrop:
		p, err := as[omx.OutputCrop](config)
		if err != nil {
			return err
		}
		if err := c.requireKind(KindDecoder); err != nil {
			return err
		}
		if p.PortIndex != OutputPort {
			return fmt.Errorf("%w: crop is reported on the output port", omx.ErrBadPortIndex)
		}
		c.outputCropLocked(p)

	case omx.IndexConfigVendorSEIReporting:
		p, err := as[omx.SEIReporting](config)
		if err != nil {
			return err
		}
		if err := c.requireKind(KindDecoder); err != nil {
			return err
		}
		p.Enable = c.seiReporting

	default:
		return fmt.Errorf("%w: config 0x%08x", omx.ErrUnsupportedIndex, uint32(index))
	}
	return nil
}

// outputCropLocked reports the stream's visible rectangle once the engine
// has found it, and the whole output picture before that.
func (c *Component) outputCropLocked(p *omx.OutputCrop) {
	c.pipeMu.RLock()
	dec := c.decoder
	c.pipeMu.RUnlock()
	if dec != nil {
		if info, ok := dec.StreamInfo(); ok {
			p.Left, p.Top = info.Crop.Left, info.Crop.Top
			p.Width, p.Height = info.Crop.Width, info.Crop.Height
			return
		}
	}
	v := c.ports[OutputPort].Definition().Video
	p.Left, p.Top, p.Width, p.Height = 0, 0, v.Width, v.Height
}

// SetConfig applies a runtime setting and forwards it to a running
// pipeline. Settings given while no pipeline runs take effect when the
// next one starts.
func (c *Component) SetConfig(index omx.Index, config any) error {
	forward, err := c.applyConfig(index, config)
	if err == nil && forward != nil {
		err = forward()
	}
	return c.result("SetConfig", err)
}

// applyConfig records a setting and returns the call, if any, that hands
// it to the pipeline. The call runs without c.mu held.
func (c *Component) applyConfig(index omx.Index, config any) (func() error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(checker.OpSetConfig); err != nil {
		return nil, err
	}

	c.pipeMu.RLock()
	dec, enc := c.decoder, c.encoder
	c.pipeMu.RUnlock()

	switch index {
	case omx.IndexConfigVideoBitrate:
		p, err := as[omx.ConfigBitrate](config)
		if err != nil {
			return nil, err
		}
		if err := c.requireKind(KindEncoder); err != nil {
			return nil, err
		}
		if p.TargetBitrate == 0 {
			return nil, fmt.Errorf("%w: zero bitrate", omx.ErrBadParameter)
		}
		c.settings.Bitrate = p.TargetBitrate
		if enc != nil {
			return func() error { return enc.SetBitrate(p.TargetBitrate) }, nil
		}

	case omx.IndexConfigVideoFramerate:
		p, err := as[omx.ConfigFramerate](config)
		if err != nil {
			return nil, err
		}
		if err := c.requireKind(KindEncoder); err != nil {
			return nil, err
		}
		if p.FrameRate == 0 {
			return nil, fmt.Errorf("%w: zero frame rate", omx.ErrBadParameter)
		}
		c.settings.FrameRate = p.FrameRate
		if enc != nil {
			return func() error { return enc.SetFrameRate(p.FrameRate) }, nil
		}

	case omx.IndexConfigVideoIntraVOPRefresh:
		p, err := as[omx.IntraRefreshVOP](config)
		if err != nil {
			return nil, err
		}
		if err := c.requireKind(KindEncoder); err != nil {
			return nil, err
		}
		if !p.Request {
			c.keyFrame = false
			return nil, nil
		}
		if enc != nil {
			return enc.RequestKeyFrame, nil
		}
		c.keyFrame = true

	case omx.IndexConfigVendorSEIReporting:
		p, err := as[omx.SEIReporting](config)
		if err != nil {
			return nil, err
		}
		if err := c.requireKind(KindDecoder); err != nil {
			return nil, err
		}
		c.seiReporting = p.Enable
		if dec != nil {
			dec.SetSEIReporting(p.Enable)
		}

	case omx.IndexConfigCommonOutputCrop:
		return nil, ErrReadOnly

	default:
		return nil, fmt.Errorf("%w: config 0x%08x", omx.ErrUnsupportedIndex, uint32(index))
	}
	return nil, nil
}

// GetExtensionIndex resolves a vendor extension name.
func (c *Component) GetExtensionIndex(name string) (omx.Index, error) {
	c.mu.Lock()
	err := c.checkLocked(checker.OpGetExtensionIndex)
	c.mu.Unlock()
	if err != nil {
		return 0, c.result("GetExtensionIndex", err)
	}
	index, ok := extensions[name]
	if !ok {
		return 0, c.result("GetExtensionIndex", fmt.Errorf("%w: extension %q", omx.ErrUnsupportedIndex, name))
	}
	return index, nil
}
