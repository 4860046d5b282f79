package omx

import "fmt"

// State is a component life-cycle state.
type State uint32

const (
	// StateInvalid indicates the component detected an unrecoverable failure
	StateInvalid State = iota
	// StateLoaded is the state a component is constructed in
	StateLoaded
	// StateIdle indicates resources are allocated but no data is processed
	StateIdle
	// StateExecuting indicates buffers are exchanged and processed
	StateExecuting
	// StatePause indicates processing is suspended with buffers retained
	StatePause
	// StateWaitForResources indicates the component waits for engine resources
	StateWaitForResources
)

var stateNames = map[State]string{
	StateInvalid:          "Invalid",
	StateLoaded:           "Loaded",
	StateIdle:             "Idle",
	StateExecuting:        "Executing",
	StatePause:            "Pause",
	StateWaitForResources: "WaitForResources",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// States lists every member of the closed state enumeration.
func States() []State {
	return []State{StateInvalid, StateLoaded, StateIdle, StateExecuting, StatePause, StateWaitForResources}
}

// Command is a SendCommand kind.
type Command uint32

const (
	// CommandStateSet requests a state transition
	CommandStateSet Command = iota
	// CommandFlush returns every buffer queued on a port
	CommandFlush
	// CommandPortDisable disables a port
	CommandPortDisable
	// CommandPortEnable enables a port
	CommandPortEnable
	// CommandMarkBuffer marks the next input buffer
	CommandMarkBuffer
)

var commandNames = map[Command]string{
	CommandStateSet:    "StateSet",
	CommandFlush:       "Flush",
	CommandPortDisable: "PortDisable",
	CommandPortEnable:  "PortEnable",
	CommandMarkBuffer:  "MarkBuffer",
}

// String returns the command name.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", uint32(c))
}

// AllPorts addresses every port of a component in Flush, PortEnable and
// PortDisable commands.
const AllPorts uint32 = 0xFFFFFFFF

// Direction is a port direction.
type Direction uint32

const (
	// DirInput marks a port that receives buffers from the framework for processing
	DirInput Direction = iota
	// DirOutput marks a port that returns produced data to the framework
	DirOutput
)

// String returns "input" or "output".
func (d Direction) String() string {
	if d == DirInput {
		return "input"
	}
	return "output"
}

// Version is a structure version. Only the major number must match.
type Version struct {
	Major    uint8
	Minor    uint8
	Revision uint8
	Step     uint8
}

// SpecVersion is the structure version this implementation speaks.
var SpecVersion = Version{Major: 1, Minor: 1, Revision: 2, Step: 0}

// String formats the version as major.minor.revision.step.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Revision, v.Step)
}

// EventType is the kind of an asynchronous component event.
type EventType uint32

const (
	// EventCmdComplete reports the completion of a SendCommand task
	EventCmdComplete EventType = iota
	// EventError reports an asynchronous failure
	EventError
	// EventMark reports that a marked buffer reached its target component
	EventMark
	// EventPortSettingsChanged reports a port definition change made by the component
	EventPortSettingsChanged
	// EventBufferFlag reports a buffer flag, e.g. end of stream on an output port
	EventBufferFlag
	// EventResourcesAcquired reports that WaitForResources obtained its resources
	EventResourcesAcquired
)

// Vendor event kinds.
const (
	// EventVendorSEI carries a parsed supplemental enhancement information message
	EventVendorSEI EventType = 0x7F000001
	// EventVendorSceneChange reports a scene cut detected by the engine
	EventVendorSceneChange EventType = 0x7F000002
	// EventVendorStreamInfo carries the stream geometry detected by the decoder
	EventVendorStreamInfo EventType = 0x7F000003
)

var eventNames = map[EventType]string{
	EventCmdComplete:         "CmdComplete",
	EventError:               "Error",
	EventMark:                "Mark",
	EventPortSettingsChanged: "PortSettingsChanged",
	EventBufferFlag:          "BufferFlag",
	EventResourcesAcquired:   "ResourcesAcquired",
	EventVendorSEI:           "VendorSEI",
	EventVendorSceneChange:   "VendorSceneChange",
	EventVendorStreamInfo:    "VendorStreamInfo",
}

// String returns the event name.
func (e EventType) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Event(0x%x)", uint32(e))
}

// Event is one asynchronous notification delivered to the framework.
//
// Data1/Data2 follow the IL conventions: for EventCmdComplete Data1 is the
// Command and Data2 the new state or port index; for EventError Data1 is
// the Error code; for EventBufferFlag and EventPortSettingsChanged Data1 is
// the port index and Data2 the flags or parameter index.
type Event struct {
	Type  EventType
	Data1 uint32
	Data2 uint32
	Data  any
}

// Callbacks is the framework callback table captured at component
// construction. Nil entries are skipped. Callbacks run on component owned
// goroutines and must not block for long.
type Callbacks struct {
	EventHandler    func(ev Event)
	EmptyBufferDone func(h *BufferHeader)
	FillBufferDone  func(h *BufferHeader)
	// Associate correlates the input buffer a decoded picture came from
	// (nil when unknown) with the output buffer that carries it.
	Associate func(in, out *BufferHeader)
}

// Event delivers ev to the event handler when one is installed.
func (c Callbacks) Event(ev Event) {
	if c.EventHandler != nil {
		c.EventHandler(ev)
	}
}

// EmptyDone returns an input buffer to the framework.
func (c Callbacks) EmptyDone(h *BufferHeader) {
	if c.EmptyBufferDone != nil {
		c.EmptyBufferDone(h)
	}
}

// FillDone returns an output buffer to the framework.
func (c Callbacks) FillDone(h *BufferHeader) {
	if c.FillBufferDone != nil {
		c.FillBufferDone(h)
	}
}

// Associated reports an input/output correlation.
func (c Callbacks) Associated(in, out *BufferHeader) {
	if c.Associate != nil {
		c.Associate(in, out)
	}
}

// ErrorEvent builds an EventError for code.
func ErrorEvent(code Error) Event {
	return Event{Type: EventError, Data1: uint32(code)}
}
