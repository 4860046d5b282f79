package omx

// Index identifies a parameter or configuration structure.
type Index uint32

// Parameter indexes (static configuration).
const (
	IndexParamStandardComponentRole Index = 0x01000017
	IndexParamPortDefinition        Index = 0x02000001
	IndexParamCompBufferSupplier    Index = 0x02000002

	IndexParamVideoInit                       Index = 0x01000004
	IndexParamVideoPortFormat                 Index = 0x06000001
	IndexParamVideoBitrate                    Index = 0x06000004
	IndexParamVideoAvc                        Index = 0x0600000D
	IndexParamVideoProfileLevelQuerySupported Index = 0x0600000F
	IndexParamVideoProfileLevelCurrent        Index = 0x06000010
	IndexParamVideoHevc                       Index = 0x06000011
	IndexParamVideoVp8                        Index = 0x06000012
)

// Config indexes (dynamic configuration).
const (
	IndexConfigVideoBitrate         Index = 0x09000002
	IndexConfigVideoFramerate       Index = 0x09000003
	IndexConfigVideoIntraVOPRefresh Index = 0x09000004
	IndexConfigCommonOutputCrop     Index = 0x0700001D
)

// Vendor indexes reachable through GetExtensionIndex.
const (
	IndexVendorStartUnused Index = 0x7F000000
	// IndexParamVendorZeroCopy toggles direct (DMA) addressing of a port's buffers
	IndexParamVendorZeroCopy Index = 0x7F000001
	// IndexConfigVendorSEIReporting toggles EventVendorSEI delivery
	IndexConfigVendorSEIReporting Index = 0x7F000002
)

// Coding is a video compression kind.
type Coding uint32

const (
	CodingUnused Coding = iota
	CodingAutoDetect
	CodingMPEG2
	CodingH263
	CodingMPEG4
	CodingWMV
	CodingRV
	CodingAVC
	CodingMJPEG
	CodingVP8
	CodingVP9
	CodingHEVC
)

var codingNames = map[Coding]string{
	CodingUnused: "unused", CodingAutoDetect: "auto", CodingMPEG2: "mpeg2",
	CodingH263: "h263", CodingMPEG4: "mpeg4", CodingWMV: "wmv", CodingRV: "rv",
	CodingAVC: "avc", CodingMJPEG: "mjpeg", CodingVP8: "vp8", CodingVP9: "vp9",
	CodingHEVC: "hevc",
}

// String returns the short coding name used in component roles.
func (c Coding) String() string {
	if name, ok := codingNames[c]; ok {
		return name
	}
	return "unknown"
}

// ColorFormat is a raw picture layout.
type ColorFormat uint32

const (
	ColorFormatUnused           ColorFormat = 0
	ColorFormatYUV420Planar     ColorFormat = 19
	ColorFormatYUV420SemiPlanar ColorFormat = 21
)

// BufferSupplierType identifies which side of a tunnel allocates buffers.
type BufferSupplierType uint32

const (
	BufferSupplyUnspecified BufferSupplierType = iota
	BufferSupplyInput
	BufferSupplyOutput
)

// ControlRate is an encoder rate-control mode.
type ControlRate uint32

const (
	ControlRateDisable ControlRate = iota
	ControlRateVariable
	ControlRateConstant
	ControlRateVariableSkipFrames
	ControlRateConstantSkipFrames
)

// LoopFilterMode selects the AVC deblocking filter behaviour.
type LoopFilterMode uint32

const (
	LoopFilterEnable LoopFilterMode = iota
	LoopFilterDisable
	LoopFilterDisableSliceBoundary
)

// Header carries the structure version every parameter struct starts with.
type Header struct {
	Version Version
}

// NewHeader returns a header stamped with SpecVersion.
func NewHeader() Header { return Header{Version: SpecVersion} }

// StructVersion returns the version the caller stamped the structure with.
func (h Header) StructVersion() Version { return h.Version }

// Versioned is implemented by every parameter and config structure.
type Versioned interface {
	StructVersion() Version
}

// VideoPortDefinition is the video part of a port definition.
type VideoPortDefinition struct {
	MIMEType    string
	Width       uint32
	Height      uint32
	Stride      int32
	SliceHeight uint32
	Bitrate     uint32
	FrameRate   uint32 // Q16 frames per second
	Compression Coding
	ColorFormat ColorFormat
}

// PortDefinition describes one port.
type PortDefinition struct {
	Header
	Index             uint32
	Direction         Direction
	BufferCountActual uint32
	BufferCountMin    uint32
	BufferSize        uint32
	Enabled           bool
	Populated         bool
	BuffersContiguous bool
	BufferAlignment   uint32
	Video             VideoPortDefinition
}

// PortParam reports the range of ports a component exposes for a domain.
type PortParam struct {
	Header
	Ports           uint32
	StartPortNumber uint32
}

// VideoPortFormat enumerates the formats a port supports; Index selects the entry.
type VideoPortFormat struct {
	Header
	PortIndex   uint32
	Index       uint32
	Compression Coding
	ColorFormat ColorFormat
	FrameRate   uint32
}

// ProfileLevel is a (profile, level) pair; Index enumerates supported pairs.
type ProfileLevel struct {
	Header
	PortIndex uint32
	Index     uint32
	Profile   uint32
	Level     uint32
}

// Bitrate configures encoder rate control.
type Bitrate struct {
	Header
	PortIndex     uint32
	ControlRate   ControlRate
	TargetBitrate uint32
}

// AVCParams carries H.264 encoder settings in the framework's format.
type AVCParams struct {
	Header
	PortIndex    uint32
	PFrames      uint32
	BFrames      uint32
	Profile      uint32
	Level        uint32
	RefFrames    uint32
	EntropyCABAC bool
	LoopFilter   LoopFilterMode
}

// HEVCParams carries H.265 encoder settings.
type HEVCParams struct {
	Header
	PortIndex        uint32
	Profile          uint32
	Level            uint32
	KeyFrameInterval uint32
}

// VP8Params carries VP8 encoder settings.
type VP8Params struct {
	Header
	PortIndex      uint32
	Profile        uint32
	Level          uint32
	DCTPartitions  uint32
	ErrorResilient bool
}

// BufferSupplier selects the buffer supplier of a tunneled port.
type BufferSupplier struct {
	Header
	PortIndex uint32
	Supplier  BufferSupplierType
}

// ComponentRole names the standard role a component is acting as.
type ComponentRole struct {
	Header
	Role string
}

// ZeroCopy toggles direct addressing of a port's buffers by the engine.
type ZeroCopy struct {
	Header
	PortIndex uint32
	Enable    bool
}

// ConfigBitrate changes the target bitrate while running.
type ConfigBitrate struct {
	Header
	PortIndex     uint32
	TargetBitrate uint32
}

// ConfigFramerate changes the frame rate while running.
type ConfigFramerate struct {
	Header
	PortIndex uint32
	FrameRate uint32 // Q16
}

// IntraRefreshVOP requests the next encoded frame be a key frame.
type IntraRefreshVOP struct {
	Header
	PortIndex uint32
	Request   bool
}

// OutputCrop is the visible rectangle of decoded pictures.
type OutputCrop struct {
	Header
	PortIndex uint32
	Left      int32
	Top       int32
	Width     uint32
	Height    uint32
}

// SEIReporting toggles vendor SEI events.
type SEIReporting struct {
	Header
	Enable bool
}

// TunnelSetup is exchanged during tunnel negotiation.
type TunnelSetup struct {
	Supplier BufferSupplierType
}
