package component

import (
	"errors"
	"fmt"

	"github.com/opd-ai/vpuomx/omx"
)

// Construction errors.
var (
	// ErrUnknownRole indicates a role this implementation does not provide.
	ErrUnknownRole = fmt.Errorf("%w: unknown component role", omx.ErrComponentNotFound)

	// ErrNilEngine indicates New was called without an engine.
	ErrNilEngine = fmt.Errorf("%w: nil engine", omx.ErrBadParameter)
)

// Command errors.
var (
	// ErrQueueFull indicates the command queue cannot take another task.
	ErrQueueFull = fmt.Errorf("%w: command queue full", omx.ErrInsufficientResources)

	// ErrClosed indicates a call on a component after Close.
	ErrClosed = fmt.Errorf("%w: component closed", omx.ErrInvalidState)

	// ErrBadMark indicates a MarkBuffer command without a mark.
	ErrBadMark = fmt.Errorf("%w: mark buffer needs a *omx.Mark", omx.ErrBadParameter)
)

// Parameter errors.
var (
	// ErrParamType indicates a parameter structure of the wrong type for its index.
	ErrParamType = fmt.Errorf("%w: wrong structure for index", omx.ErrBadParameter)

	// ErrReadOnly indicates a set on an index that can only be read.
	ErrReadOnly = fmt.Errorf("%w: read-only index", omx.ErrUnsupportedSetting)
)

// Buffer errors.
var (
	// ErrForeignBuffer indicates a header that does not belong to the addressed port.
	ErrForeignBuffer = fmt.Errorf("%w: buffer not registered on port", omx.ErrBadParameter)

	// ErrPortDisabled indicates a buffer exchanged on a disabled port.
	ErrPortDisabled = fmt.Errorf("%w: port disabled", omx.ErrIncorrectStateOperation)
)

// errAborted ends a task whose wait was cut short by Close.
var errAborted = errors.New("task aborted")
