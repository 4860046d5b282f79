package codec

import (
	"fmt"

	"github.com/opd-ai/vpuomx/omx"
)

// AVC profile values.
const (
	AVCProfileBaseline uint32 = 0x01
	AVCProfileMain     uint32 = 0x02
	AVCProfileExtended uint32 = 0x04
	AVCProfileHigh     uint32 = 0x08
)

// AVC level values.
const (
	AVCLevel1  uint32 = 0x01
	AVCLevel1b uint32 = 0x02
	AVCLevel11 uint32 = 0x04
	AVCLevel12 uint32 = 0x08
	AVCLevel13 uint32 = 0x10
	AVCLevel2  uint32 = 0x20
	AVCLevel21 uint32 = 0x40
	AVCLevel22 uint32 = 0x80
	AVCLevel3  uint32 = 0x100
	AVCLevel31 uint32 = 0x200
	AVCLevel32 uint32 = 0x400
	AVCLevel4  uint32 = 0x800
	AVCLevel41 uint32 = 0x1000
	AVCLevel42 uint32 = 0x2000
	AVCLevel5  uint32 = 0x4000
	AVCLevel51 uint32 = 0x8000
	AVCLevel52 uint32 = 0x10000
)

type avcLevelInfo struct {
	idc       int
	maxDpbMbs int
}

// Table A-1 of H.264: level_idc and MaxDpbMbs.
var avcLevels = map[uint32]avcLevelInfo{
	AVCLevel1:  {10, 396},
	AVCLevel1b: {9, 396},
	AVCLevel11: {11, 900},
	AVCLevel12: {12, 2376},
	AVCLevel13: {13, 2376},
	AVCLevel2:  {20, 2376},
	AVCLevel21: {21, 4752},
	AVCLevel22: {22, 8100},
	AVCLevel3:  {30, 8100},
	AVCLevel31: {31, 18000},
	AVCLevel32: {32, 20480},
	AVCLevel4:  {40, 32768},
	AVCLevel41: {41, 32768},
	AVCLevel42: {42, 34816},
	AVCLevel5:  {50, 110400},
	AVCLevel51: {51, 184320},
	AVCLevel52: {52, 184320},
}

const avcMaxDPBFrames = 16

// AVC is the H.264 variant.
type AVC struct{}

// Coding returns omx.CodingAVC.
func (AVC) Coding() omx.Coding { return omx.CodingAVC }

// ProfileTable lists the profiles with their highest supported level.
func (AVC) ProfileTable() []ProfileLevel {
	return []ProfileLevel{
		{AVCProfileBaseline, AVCLevel51},
		{AVCProfileMain, AVCLevel51},
		{AVCProfileHigh, AVCLevel51},
	}
}

// ConvertLevel returns the level_idc for a framework level value.
func (AVC) ConvertLevel(level uint32) (int, error) {
	info, ok := avcLevels[level]
	if !ok {
		return 0, fmt.Errorf("%w: avc level 0x%x", omx.ErrBadParameter, level)
	}
	return info.idc, nil
}

// DPBSize computes MaxDpbFrames = MaxDpbMbs / (PicWidthInMbs * FrameHeightInMbs),
// clamped to [1, 16]. Unknown levels fall back to the 16 frame maximum.
func (AVC) DPBSize(width, height, level uint32) int {
	info, ok := avcLevels[level]
	mbs := int((width+15)/16) * int((height+15)/16)
	if !ok || mbs == 0 {
		return avcMaxDPBFrames
	}
	n := info.maxDpbMbs / mbs
	if n < 1 {
		n = 1
	}
	if n > avcMaxDPBFrames {
		n = avcMaxDPBFrames
	}
	return n
}

// Options derives entropy, deblocking and B-frame bits.
func (AVC) Options(s Settings) Options {
	var o Options
	if s.EntropyCABAC && s.Profile != AVCProfileBaseline {
		o |= OptCABAC
	}
	switch s.LoopFilter {
	case omx.LoopFilterEnable:
		o |= OptLoopFilter | OptLoopFilterSliceBoundary
	case omx.LoopFilterDisableSliceBoundary:
		o |= OptLoopFilter
	}
	if s.BFrames > 0 && s.Profile != AVCProfileBaseline {
		o |= OptBFrames
	}
	if s.Profile == AVCProfileHigh {
		o |= OptTransform8x8
	}
	return o
}

// ValidateFrameSize requires even dimensions up to 4096x2304.
func (AVC) ValidateFrameSize(width, height uint32) error {
	if err := validateCommon(width, height); err != nil {
		return err
	}
	if width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("%w: avc frame %dx%d must have even dimensions", omx.ErrBadParameter, width, height)
	}
	if width > 4096 || height > 2304 {
		return fmt.Errorf("%w: avc frame %dx%d exceeds 4096x2304", omx.ErrBadParameter, width, height)
	}
	return nil
}

// DefaultSettings returns High profile level 4.1, one second GOP at 30fps.
func (AVC) DefaultSettings() Settings {
	return Settings{
		Bitrate:      4000000,
		ControlRate:  omx.ControlRateVariable,
		FrameRate:    30 << 16,
		GOPLength:    30,
		BFrames:      0,
		Profile:      AVCProfileHigh,
		Level:        AVCLevel41,
		RefFrames:    1,
		EntropyCABAC: true,
		LoopFilter:   omx.LoopFilterEnable,
	}
}
