package omx

import "sync/atomic"

// BufferFlags is the flag word carried by a buffer header.
type BufferFlags uint32

// Buffer flag bits. Values match OMX_BUFFERFLAG_*.
const (
	FlagEOS              BufferFlags = 0x00000001
	FlagStartTime        BufferFlags = 0x00000002
	FlagDecodeOnly       BufferFlags = 0x00000004
	FlagDataCorrupt      BufferFlags = 0x00000008
	FlagEndOfFrame       BufferFlags = 0x00000010
	FlagSyncFrame        BufferFlags = 0x00000020
	FlagExtraData        BufferFlags = 0x00000040
	FlagCodecConfig      BufferFlags = 0x00000080
	FlagTimestampInvalid BufferFlags = 0x00000100
	FlagReadOnly         BufferFlags = 0x00000200
	FlagEndOfSubFrame    BufferFlags = 0x00000400
)

// PropagatedFlags are the input flags carried from a source buffer to the
// output produced from it.
const PropagatedFlags = FlagStartTime | FlagDecodeOnly | FlagDataCorrupt | FlagTimestampInvalid | FlagEndOfSubFrame

// Has reports whether every bit of f2 is set in f.
func (f BufferFlags) Has(f2 BufferFlags) bool { return f&f2 == f2 }

// Mark is pass-through correlation data. When a marked buffer's output
// reaches the component identified by Target, an EventMark carrying Data
// is raised instead of propagating the mark further.
type Mark struct {
	Target any
	Data   any
}

var nextBufferID atomic.Uint64

// NewBufferID returns a process-unique buffer identity.
func NewBufferID() uint64 {
	return nextBufferID.Add(1)
}

// BufferHeader is the framework-visible descriptor for one data buffer.
type BufferHeader struct {
	// ID is a stable identity for the header's lifetime
	ID uint64

	// Buffer is the backing storage; AllocLen bytes are usable
	Buffer   []byte
	AllocLen uint32

	// FilledLen bytes of valid data start at Offset
	FilledLen uint32
	Offset    uint32

	Flags     BufferFlags
	Timestamp int64 // microseconds
	Mark      *Mark

	// AppPrivate is opaque framework data supplied at allocation
	AppPrivate any
	// PlatformPrivate is opaque component data
	PlatformPrivate any

	InputPortIndex  uint32
	OutputPortIndex uint32

	// TickCount is carried unmodified
	TickCount uint32
}

// Payload returns the valid bytes of the buffer.
func (h *BufferHeader) Payload() []byte {
	if h == nil || h.Buffer == nil {
		return nil
	}
	end := int(h.Offset) + int(h.FilledLen)
	if end > len(h.Buffer) {
		end = len(h.Buffer)
	}
	if int(h.Offset) > end {
		return nil
	}
	return h.Buffer[h.Offset:end]
}

// Clear resets the framing metadata so the buffer can carry new data.
func (h *BufferHeader) Clear() {
	h.FilledLen = 0
	h.Offset = 0
	h.Flags = 0
	h.Timestamp = 0
	h.Mark = nil
}
