package codec

import (
	"fmt"

	"github.com/opd-ai/vpuomx/omx"
)

// HEVC profile values.
const (
	HEVCProfileMain   uint32 = 0x1
	HEVCProfileMain10 uint32 = 0x2
)

// HEVC main tier level values.
const (
	HEVCMainTierLevel1  uint32 = 0x1
	HEVCMainTierLevel2  uint32 = 0x4
	HEVCMainTierLevel21 uint32 = 0x10
	HEVCMainTierLevel3  uint32 = 0x40
	HEVCMainTierLevel31 uint32 = 0x100
	HEVCMainTierLevel4  uint32 = 0x400
	HEVCMainTierLevel41 uint32 = 0x1000
	HEVCMainTierLevel5  uint32 = 0x4000
	HEVCMainTierLevel51 uint32 = 0x10000
	HEVCMainTierLevel52 uint32 = 0x40000
	HEVCMainTierLevel6  uint32 = 0x100000
	HEVCMainTierLevel61 uint32 = 0x400000
	HEVCMainTierLevel62 uint32 = 0x1000000
)

type hevcLevelInfo struct {
	idc       int
	maxLumaPs int
}

// Table A.8 of H.265: general_level_idc and MaxLumaPs.
var hevcLevels = map[uint32]hevcLevelInfo{
	HEVCMainTierLevel1:  {30, 36864},
	HEVCMainTierLevel2:  {60, 122880},
	HEVCMainTierLevel21: {63, 245760},
	HEVCMainTierLevel3:  {90, 552960},
	HEVCMainTierLevel31: {93, 983040},
	HEVCMainTierLevel4:  {120, 2228224},
	HEVCMainTierLevel41: {123, 2228224},
	HEVCMainTierLevel5:  {150, 8912896},
	HEVCMainTierLevel51: {153, 8912896},
	HEVCMainTierLevel52: {156, 8912896},
	HEVCMainTierLevel6:  {180, 35651584},
	HEVCMainTierLevel61: {183, 35651584},
	HEVCMainTierLevel62: {186, 35651584},
}

const hevcMaxDpbPicBuf = 6

// HEVC is the H.265 variant.
type HEVC struct{}

// Coding returns omx.CodingHEVC.
func (HEVC) Coding() omx.Coding { return omx.CodingHEVC }

// ProfileTable lists Main and Main10 up to level 5.1.
func (HEVC) ProfileTable() []ProfileLevel {
	return []ProfileLevel{
		{HEVCProfileMain, HEVCMainTierLevel51},
		{HEVCProfileMain10, HEVCMainTierLevel51},
	}
}

// ConvertLevel returns general_level_idc.
func (HEVC) ConvertLevel(level uint32) (int, error) {
	info, ok := hevcLevels[level]
	if !ok {
		return 0, fmt.Errorf("%w: hevc level 0x%x", omx.ErrBadParameter, level)
	}
	return info.idc, nil
}

// DPBSize follows the maxDpbSize derivation of A.4.2: smaller pictures
// relative to MaxLumaPs allow more reference pictures, up to 16.
func (HEVC) DPBSize(width, height, level uint32) int {
	info, ok := hevcLevels[level]
	if !ok {
		return 16
	}
	ps := int(width) * int(height)
	switch {
	case ps <= info.maxLumaPs>>2:
		return 16
	case ps <= info.maxLumaPs>>1:
		return 12
	case ps <= (3*info.maxLumaPs)>>2:
		return 8
	default:
		return hevcMaxDpbPicBuf
	}
}

// Options enables the in-loop filters and B-frames.
func (HEVC) Options(s Settings) Options {
	var o Options
	if s.LoopFilter != omx.LoopFilterDisable {
		o |= OptLoopFilter
	}
	if s.BFrames > 0 {
		o |= OptBFrames
	}
	return o
}

// ValidateFrameSize requires dimensions that are multiples of the minimum
// coding block (8) up to 8192x4320.
func (HEVC) ValidateFrameSize(width, height uint32) error {
	if err := validateCommon(width, height); err != nil {
		return err
	}
	if width%8 != 0 || height%8 != 0 {
		return fmt.Errorf("%w: hevc frame %dx%d must be a multiple of 8", omx.ErrBadParameter, width, height)
	}
	if width > 8192 || height > 4320 {
		return fmt.Errorf("%w: hevc frame %dx%d exceeds 8192x4320", omx.ErrBadParameter, width, height)
	}
	return nil
}

// DefaultSettings returns Main profile level 4.1.
func (HEVC) DefaultSettings() Settings {
	return Settings{
		Bitrate:     3000000,
		ControlRate: omx.ControlRateVariable,
		FrameRate:   30 << 16,
		GOPLength:   60,
		Profile:     HEVCProfileMain,
		Level:       HEVCMainTierLevel41,
		RefFrames:   1,
		LoopFilter:  omx.LoopFilterEnable,
	}
}
