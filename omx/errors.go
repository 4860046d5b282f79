package omx

import (
	"errors"
	"fmt"
)

// Error is a typed component error code. The zero value (ErrNone) means
// success and is never returned as a non-nil error.
type Error uint32

// Standard error codes. Values match OMX_ERRORTYPE.
const (
	// ErrNone indicates success
	ErrNone Error = 0

	// ErrInsufficientResources indicates memory or buffer slots are exhausted
	ErrInsufficientResources Error = 0x80001000
	// ErrUndefined indicates an error without a more specific classification
	ErrUndefined Error = 0x80001001
	// ErrComponentNotFound indicates no component is registered under a name
	ErrComponentNotFound Error = 0x80001003
	// ErrBadParameter indicates a malformed or inconsistent argument
	ErrBadParameter Error = 0x80001005
	// ErrNotImplemented indicates a recognised but unsupported request
	ErrNotImplemented Error = 0x80001006
	// ErrOverflow indicates produced data did not fit the output buffer
	ErrOverflow Error = 0x80001008
	// ErrHardware indicates the engine reported a device fault
	ErrHardware Error = 0x80001009
	// ErrInvalidState indicates the component is in the Invalid state
	ErrInvalidState Error = 0x8000100A
	// ErrPortsNotCompatible indicates two ports cannot be tunneled
	ErrPortsNotCompatible Error = 0x8000100C
	// ErrNoMore indicates an enumeration index is past the last entry
	ErrNoMore Error = 0x8000100E
	// ErrVersionMismatch indicates a structure version the component does not speak
	ErrVersionMismatch Error = 0x8000100F
	// ErrNotReady indicates the component cannot serve the request yet
	ErrNotReady Error = 0x80001010
	// ErrSameState indicates a transition to the current state was requested
	ErrSameState Error = 0x80001012
	// ErrIncorrectStateTransition indicates an edge missing from the state graph
	ErrIncorrectStateTransition Error = 0x80001017
	// ErrIncorrectStateOperation indicates a call that is illegal in the current state
	ErrIncorrectStateOperation Error = 0x80001018
	// ErrUnsupportedSetting indicates a value the component cannot apply
	ErrUnsupportedSetting Error = 0x80001019
	// ErrUnsupportedIndex indicates an unknown parameter or config index
	ErrUnsupportedIndex Error = 0x8000101A
	// ErrBadPortIndex indicates a port index the component does not have
	ErrBadPortIndex Error = 0x8000101B
)

// Vendor error codes raised for engine channel failures.
const (
	// ErrNoChannelAvailable indicates every engine scheduling channel is in use
	ErrNoChannelAvailable Error = 0x90000001
	// ErrResourceUnavailable indicates the engine lacks a required resource
	ErrResourceUnavailable Error = 0x90000002
	// ErrResourceFragmented indicates engine memory is too fragmented to serve a request
	ErrResourceFragmented Error = 0x90000003
)

var errorNames = map[Error]string{
	ErrNone:                     "none",
	ErrInsufficientResources:    "insufficient resources",
	ErrUndefined:                "undefined error",
	ErrComponentNotFound:        "component not found",
	ErrBadParameter:             "bad parameter",
	ErrNotImplemented:           "not implemented",
	ErrOverflow:                 "overflow",
	ErrHardware:                 "hardware error",
	ErrInvalidState:             "invalid state",
	ErrPortsNotCompatible:       "ports not compatible",
	ErrNoMore:                   "no more",
	ErrVersionMismatch:          "version mismatch",
	ErrNotReady:                 "not ready",
	ErrSameState:                "same state",
	ErrIncorrectStateTransition: "incorrect state transition",
	ErrIncorrectStateOperation:  "incorrect state operation",
	ErrUnsupportedSetting:       "unsupported setting",
	ErrUnsupportedIndex:         "unsupported index",
	ErrBadPortIndex:             "bad port index",
	ErrNoChannelAvailable:       "no channel available",
	ErrResourceUnavailable:      "resource unavailable",
	ErrResourceFragmented:       "resource fragmented",
}

// Error implements the error interface.
func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("omx error 0x%08x", uint32(e))
}

// Code extracts the typed error code carried by err. A nil error maps to
// ErrNone and an error without a code maps to ErrUndefined.
func Code(err error) Error {
	if err == nil {
		return ErrNone
	}
	var code Error
	if errors.As(err, &code) {
		return code
	}
	return ErrUndefined
}

// AsError guarantees err carries a typed code, wrapping it in ErrUndefined
// when it does not. A nil error stays nil.
func AsError(err error) error {
	if err == nil {
		return nil
	}
	var code Error
	if errors.As(err, &code) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUndefined, err)
}
