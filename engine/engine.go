package engine

import (
	"github.com/opd-ai/vpuomx/codec"
	"github.com/opd-ai/vpuomx/omx"
)

// Crop is the visible rectangle of a decoded picture.
type Crop struct {
	Left, Top     int32
	Width, Height uint32
}

// StreamInfo describes a decoded stream as detected by the engine.
type StreamInfo struct {
	Width       uint32
	Height      uint32
	Stride      uint32
	SliceHeight uint32
	// Profile and Level use framework values
	Profile   uint32
	Level     uint32
	FrameRate uint32 // Q16
	Crop      Crop
}

// Frame is one decoded picture handed to Display.
type Frame struct {
	Buffer    *HardwareBuffer
	FilledLen uint32
	KeyFrame  bool
	Corrupt   bool
	// DecodeOnly pictures are not to be shown
	DecodeOnly bool
}

// Section locates one span of produced bitstream in the encoder's region.
type Section struct {
	Offset uint32
	Length uint32
}

// EncodedFrame is one unit of encoder output. Sections index into Region,
// which is circular: a section may run past the end and continue at zero.
// Region contents are only valid for the duration of the callback.
type EncodedFrame struct {
	// Input is the source picture, nil for codec configuration data
	Input *HardwareBuffer
	// Output is the stream buffer the data is destined for
	Output   *HardwareBuffer
	Region   []byte
	Sections []Section

	KeyFrame    bool
	CodecConfig bool
	EOS         bool
	// Overflow is set when the data did not fit Output
	Overflow bool
}

// Size returns the total payload length.
func (f EncodedFrame) Size() uint32 {
	var n uint32
	for _, s := range f.Sections {
		n += s.Length
	}
	return n
}

// DecoderConfig opens a decode channel.
type DecoderConfig struct {
	Coding      omx.Coding
	Width       uint32
	Height      uint32
	ColorFormat omx.ColorFormat
	StrideAlign uint32
	// Level is the engine level number, see codec.Variant.ConvertLevel
	Level   int
	Options codec.Options
	// Profile and FrameLevel are framework values used to report StreamInfo
	Profile    uint32
	FrameLevel uint32
}

// EncoderConfig opens an encode channel.
type EncoderConfig struct {
	Coding      omx.Coding
	Width       uint32
	Height      uint32
	Stride      uint32
	SliceHeight uint32
	ColorFormat omx.ColorFormat
	Settings    codec.Settings
	Options     codec.Options
	Level       int
	// RegionSize is the size of the circular bitstream region
	RegionSize uint32
}

// DecoderCallbacks are raised by a decode channel.
type DecoderCallbacks struct {
	// EndOfParsing returns an input buffer once its data is consumed
	EndOfParsing func(in *HardwareBuffer)
	// EndOfDecoding reports that a picture has been reconstructed into out
	EndOfDecoding func(out *HardwareBuffer)
	// Display hands over a picture. A nil frame with info reports a
	// resolution change; both nil report end of stream.
	Display func(frame *Frame, info *StreamInfo)
	// ResolutionFound reports the stream geometry once headers are parsed
	ResolutionFound func(info StreamInfo)
	ParsedSEI       func(payload []byte)
	Error           func(code ErrorCode)
	// Released returns a buffer the engine holds no further reference to
	Released func(b *HardwareBuffer)
	// Stopped completes a ForceStop
	Stopped func()
}

// EncoderCallbacks are raised by an encode channel.
type EncoderCallbacks struct {
	FrameEncoded func(f EncodedFrame)
	Error        func(code ErrorCode)
	Released     func(b *HardwareBuffer)
	Stopped      func()
}

// Channel holds the calls common to both directions.
type Channel interface {
	// AllocBuffer returns engine-owned storage of size bytes
	AllocBuffer(size uint32) (*HardwareBuffer, error)
	// ImportBuffer wraps caller storage for direct engine addressing
	ImportBuffer(data []byte) (*HardwareBuffer, error)
	// PushInputBuffer queues size valid bytes of in for processing
	PushInputBuffer(in *HardwareBuffer, size uint32, flags omx.BufferFlags) error
	// Drain finishes queued work and signals end of stream
	Drain() error
	// ForceStop abandons in-flight work, releases every held buffer and
	// raises Stopped. The channel stays usable afterwards.
	ForceStop() error
	Close() error
}

// DecoderChannel is an open decode session.
type DecoderChannel interface {
	Channel
	// PutDisplayBuffer lends a bound output buffer to the engine
	PutDisplayBuffer(out *HardwareBuffer) error
	// ReleaseDisplayBuffer lends an output buffer the engine may fill once
	// but must not keep as a reference picture
	ReleaseDisplayBuffer(out *HardwareBuffer) error
}

// EncoderChannel is an open encode session.
type EncoderChannel interface {
	Channel
	// PutStreamBuffer lends an output buffer for encoded data
	PutStreamBuffer(out *HardwareBuffer) error
	SetBitrate(bitrate uint32) error
	SetFrameRate(q16 uint32) error
	RequestKeyFrame() error
}

// Engine opens channels.
type Engine interface {
	Name() string
	OpenDecoder(cfg DecoderConfig, cb DecoderCallbacks) (DecoderChannel, error)
	OpenEncoder(cfg EncoderConfig, cb EncoderCallbacks) (EncoderChannel, error)
}
