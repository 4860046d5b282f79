// Package codec provides the codec-specific knowledge a component needs
// without knowing how to code a bitstream: profile/level tables, level
// conversion to the engine's numbering, decoded picture buffer sizing and
// encoder option bits.
//
// The set of codecs is closed. A Variant is selected once when a
// component is constructed:
//
//	v, err := codec.New(omx.CodingAVC)
//	dpb := v.DPBSize(1920, 1080, codec.AVCLevel41)
package codec

import (
	"fmt"

	"github.com/opd-ai/vpuomx/omx"
)

// ProfileLevel is one supported (profile, level) pair in framework values.
type ProfileLevel struct {
	Profile uint32
	Level   uint32
}

// Options is the codec option bit set handed to the engine.
type Options uint32

const (
	OptCABAC Options = 1 << iota
	OptLoopFilter
	OptLoopFilterSliceBoundary
	OptBFrames
	OptTransform8x8
	OptErrorResilient
	OptMultiPartition
)

// Has reports whether every bit of o2 is set.
func (o Options) Has(o2 Options) bool { return o&o2 == o2 }

// Variant is the capability interface every codec implements.
type Variant interface {
	// Coding returns the compression kind.
	Coding() omx.Coding
	// ProfileTable returns the supported pairs in enumeration order.
	ProfileTable() []ProfileLevel
	// ConvertLevel maps a framework level value to the engine's level number.
	ConvertLevel(level uint32) (int, error)
	// DPBSize returns the number of reference pictures a decoder must keep
	// for a stream of the given geometry and framework level.
	DPBSize(width, height, level uint32) int
	// Options derives the engine option bits from settings.
	Options(s Settings) Options
	// ValidateFrameSize checks codec-specific picture size rules.
	ValidateFrameSize(width, height uint32) error
	// DefaultSettings returns the encoder defaults for the codec.
	DefaultSettings() Settings
}

// New returns the variant for coding, or omx.ErrNotImplemented for
// unsupported codecs.
func New(coding omx.Coding) (Variant, error) {
	switch coding {
	case omx.CodingAVC:
		return AVC{}, nil
	case omx.CodingHEVC:
		return HEVC{}, nil
	case omx.CodingVP8:
		return NewVP8Codec(), nil
	default:
		return nil, fmt.Errorf("%w: codec %s", omx.ErrNotImplemented, coding)
	}
}

// Supported lists the codings New accepts.
func Supported() []omx.Coding {
	return []omx.Coding{omx.CodingAVC, omx.CodingHEVC, omx.CodingVP8}
}

// SupportsProfileLevel reports whether (profile, level) is covered by the
// variant's table: the profile must be listed and the level must not
// exceed that profile's maximum.
func SupportsProfileLevel(v Variant, profile, level uint32) bool {
	for _, pl := range v.ProfileTable() {
		if pl.Profile == profile && level != 0 && level <= pl.Level {
			return true
		}
	}
	return false
}

// MinOutputBuffers is the smallest decoder output count for a stream: the
// reference pictures plus the one being displayed.
func MinOutputBuffers(v Variant, width, height, level uint32) uint32 {
	return uint32(v.DPBSize(width, height, level)) + 1
}

func validateCommon(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: empty frame %dx%d", omx.ErrBadParameter, width, height)
	}
	return nil
}
