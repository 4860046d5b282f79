package engine

import (
	"errors"
	"fmt"

	"github.com/opd-ai/vpuomx/omx"
)

// ErrorCode is an engine-level failure classification.
type ErrorCode uint32

const (
	CodeNone ErrorCode = iota
	CodeNoChannel
	CodeResourceUnavailable
	CodeResourceFragmented
	CodeBadParameter
	CodeNoMemory
	CodeHardware
	CodeUnknown
)

var codeNames = map[ErrorCode]string{
	CodeNone:                "none",
	CodeNoChannel:           "no channel",
	CodeResourceUnavailable: "resource unavailable",
	CodeResourceFragmented:  "resource fragmented",
	CodeBadParameter:        "bad parameter",
	CodeNoMemory:            "no memory",
	CodeHardware:            "hardware",
	CodeUnknown:             "unknown",
}

// String returns the code name.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// OMX maps the engine code onto the framework's error enumeration.
func (c ErrorCode) OMX() omx.Error {
	switch c {
	case CodeNone:
		return omx.ErrNone
	case CodeNoChannel:
		return omx.ErrNoChannelAvailable
	case CodeResourceUnavailable:
		return omx.ErrResourceUnavailable
	case CodeResourceFragmented:
		return omx.ErrResourceFragmented
	case CodeBadParameter:
		return omx.ErrBadParameter
	case CodeNoMemory:
		return omx.ErrInsufficientResources
	default:
		// device faults have no framework code of their own
		return omx.ErrUndefined
	}
}

// Error is returned by channel calls. It unwraps to the mapped omx.Error
// so omx.Code and errors.Is work across the boundary.
type Error struct {
	Op   string
	Code ErrorCode
}

// NewError builds an *Error for op.
func NewError(op string, code ErrorCode) *Error {
	return &Error{Op: op, Code: code}
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine %s: %s", e.Op, e.Code)
}

// Unwrap returns the mapped framework code.
func (e *Error) Unwrap() error {
	return e.Code.OMX()
}

// CodeOf returns the engine code carried by err, CodeUnknown when err is
// not an engine error and CodeNone for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// ErrClosed is returned by calls on a closed channel.
var ErrClosed = NewError("channel", CodeResourceUnavailable)
