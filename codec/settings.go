package codec

import (
	"fmt"

	"github.com/opd-ai/vpuomx/omx"
)

// Settings is the engine-side encoder configuration. Components keep one
// Settings and translate the framework's per-codec parameter structures
// into and out of it.
type Settings struct {
	Bitrate        uint32
	ControlRate    omx.ControlRate
	FrameRate      uint32 // Q16
	GOPLength      uint32
	BFrames        uint32
	Profile        uint32
	Level          uint32
	RefFrames      uint32
	EntropyCABAC   bool
	LoopFilter     omx.LoopFilterMode
	DCTPartitions  uint32
	ErrorResilient bool
}

// Validate checks settings against the variant's profile table.
func (s Settings) Validate(v Variant) error {
	if !SupportsProfileLevel(v, s.Profile, s.Level) {
		return fmt.Errorf("%w: %s profile 0x%x level 0x%x", omx.ErrUnsupportedSetting, v.Coding(), s.Profile, s.Level)
	}
	if _, err := v.ConvertLevel(s.Level); err != nil {
		return err
	}
	if s.GOPLength != 0 && s.GOPLength <= s.BFrames {
		return fmt.Errorf("%w: gop length %d must exceed b-frame count %d", omx.ErrBadParameter, s.GOPLength, s.BFrames)
	}
	if s.DCTPartitions > 3 {
		return fmt.Errorf("%w: %d dct partitions", omx.ErrBadParameter, s.DCTPartitions)
	}
	return nil
}

// ApplyAVC folds framework AVC parameters into s.
func (s *Settings) ApplyAVC(p omx.AVCParams) error {
	gop, err := GOPLength(int(p.PFrames), int(p.BFrames))
	if err != nil {
		return err
	}
	s.GOPLength = uint32(gop)
	s.BFrames = p.BFrames
	s.Profile = p.Profile
	s.Level = p.Level
	s.RefFrames = p.RefFrames
	s.EntropyCABAC = p.EntropyCABAC
	s.LoopFilter = p.LoopFilter
	return nil
}

// AVC exports s as framework AVC parameters for port.
func (s Settings) AVC(port uint32) (omx.AVCParams, error) {
	p := omx.AVCParams{
		Header:       omx.NewHeader(),
		PortIndex:    port,
		BFrames:      s.BFrames,
		Profile:      s.Profile,
		Level:        s.Level,
		RefFrames:    s.RefFrames,
		EntropyCABAC: s.EntropyCABAC,
		LoopFilter:   s.LoopFilter,
	}
	if s.GOPLength == 0 {
		return p, nil
	}
	pFrames, err := PFrames(int(s.GOPLength), int(s.BFrames))
	if err != nil {
		return p, err
	}
	p.PFrames = uint32(pFrames)
	return p, nil
}

// ApplyHEVC folds framework HEVC parameters into s.
func (s *Settings) ApplyHEVC(p omx.HEVCParams) {
	s.Profile = p.Profile
	s.Level = p.Level
	s.GOPLength = p.KeyFrameInterval
}

// HEVC exports s as framework HEVC parameters for port.
func (s Settings) HEVC(port uint32) omx.HEVCParams {
	return omx.HEVCParams{
		Header:           omx.NewHeader(),
		PortIndex:        port,
		Profile:          s.Profile,
		Level:            s.Level,
		KeyFrameInterval: s.GOPLength,
	}
}

// ApplyVP8 folds framework VP8 parameters into s.
func (s *Settings) ApplyVP8(p omx.VP8Params) {
	s.Profile = p.Profile
	s.Level = p.Level
	s.DCTPartitions = p.DCTPartitions
	s.ErrorResilient = p.ErrorResilient
}

// VP8 exports s as framework VP8 parameters for port.
func (s Settings) VP8(port uint32) omx.VP8Params {
	return omx.VP8Params{
		Header:         omx.NewHeader(),
		PortIndex:      port,
		Profile:        s.Profile,
		Level:          s.Level,
		DCTPartitions:  s.DCTPartitions,
		ErrorResilient: s.ErrorResilient,
	}
}
