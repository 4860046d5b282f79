package codec

import (
	"fmt"

	"github.com/opd-ai/vpuomx/omx"
)

// VP8 profile and level values.
const (
	VP8ProfileMain uint32 = 0x1

	VP8LevelVersion0 uint32 = 0x1
	VP8LevelVersion1 uint32 = 0x2
	VP8LevelVersion2 uint32 = 0x4
	VP8LevelVersion3 uint32 = 0x8
)

// VP8 keeps the last, golden and altref references.
const vp8References = 3

// VP8Codec is the VP8 variant.
//
// VP8 has no level-constrained DPB: the decoder always needs the three
// reference slots plus the frame under reconstruction.
type VP8Codec struct{}

// NewVP8Codec creates a new VP8 variant.
func NewVP8Codec() *VP8Codec {
	return &VP8Codec{}
}

// Coding returns omx.CodingVP8.
func (c *VP8Codec) Coding() omx.Coding { return omx.CodingVP8 }

// ProfileTable lists the main profile up to version 3.
func (c *VP8Codec) ProfileTable() []ProfileLevel {
	return []ProfileLevel{{VP8ProfileMain, VP8LevelVersion3}}
}

// ConvertLevel maps the version bit to the bitstream version number.
func (c *VP8Codec) ConvertLevel(level uint32) (int, error) {
	switch level {
	case VP8LevelVersion0:
		return 0, nil
	case VP8LevelVersion1:
		return 1, nil
	case VP8LevelVersion2:
		return 2, nil
	case VP8LevelVersion3:
		return 3, nil
	}
	return 0, fmt.Errorf("%w: vp8 level 0x%x", omx.ErrBadParameter, level)
}

// DPBSize ignores geometry and level.
func (c *VP8Codec) DPBSize(width, height, level uint32) int {
	return vp8References + 1
}

// Options maps error resilience and token partitions.
func (c *VP8Codec) Options(s Settings) Options {
	var o Options
	if s.ErrorResilient {
		o |= OptErrorResilient
	}
	if s.DCTPartitions > 0 {
		o |= OptMultiPartition
	}
	if s.LoopFilter != omx.LoopFilterDisable {
		o |= OptLoopFilter
	}
	return o
}

// ValidateFrameSize accepts even dimensions from 16 to 16383.
func (c *VP8Codec) ValidateFrameSize(width, height uint32) error {
	if width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("%w: vp8 frame %dx%d has an odd dimension", omx.ErrBadParameter, width, height)
	}
	if width < 16 || height < 16 || width > 16383 || height > 16383 {
		return fmt.Errorf("%w: vp8 frame %dx%d outside 16..16383", omx.ErrBadParameter, width, height)
	}
	return nil
}

// DefaultSettings returns settings sized for 720p.
func (c *VP8Codec) DefaultSettings() Settings {
	return Settings{
		Bitrate:     DefaultBitrate(1280, 720),
		ControlRate: omx.ControlRateVariable,
		FrameRate:   30 << 16,
		GOPLength:   120,
		Profile:     VP8ProfileMain,
		Level:       VP8LevelVersion0,
		RefFrames:   1,
		LoopFilter:  omx.LoopFilterEnable,
	}
}

// bitrateSteps maps an upper pixel count to a target bitrate.
var bitrateSteps = []struct {
	pixels  uint32
	bitrate uint32
}{
	{160 * 120, 64_000},
	{320 * 240, 128_000},
	{640 * 480, 512_000},
	{800 * 600, 1_000_000},
	{1024 * 768, 1_500_000},
	{1280 * 720, 2_000_000},
	{1920 * 1080, 4_000_000},
}

// DefaultBitrate returns a target bitrate for a width x height picture.
func DefaultBitrate(width, height uint32) uint32 {
	pixels := width * height
	for _, s := range bitrateSteps {
		if pixels <= s.pixels {
			return s.bitrate
		}
	}
	return 8_000_000
}
