// Package checker answers whether a component operation or state
// transition is legal. Every function is pure: no logging, no locking and
// no side effects, so the component can call them before touching any
// state and a failure never leaves partial mutations behind.
package checker

import (
	"fmt"

	"github.com/opd-ai/vpuomx/omx"
)

// Operation is a framework-to-component call subject to state checks.
type Operation uint32

const (
	OpGetParameter Operation = iota
	OpSetParameter
	OpGetConfig
	OpSetConfig
	OpGetExtensionIndex
	OpGetState
	OpSendCommand
	OpSetCallbacks
	OpTunnelRequest
	OpUseBuffer
	OpAllocateBuffer
	OpFreeBuffer
	OpEmptyThisBuffer
	OpFillThisBuffer
	operationCount
)

var operationNames = [operationCount]string{
	OpGetParameter:      "GetParameter",
	OpSetParameter:      "SetParameter",
	OpGetConfig:         "GetConfig",
	OpSetConfig:         "SetConfig",
	OpGetExtensionIndex: "GetExtensionIndex",
	OpGetState:          "GetState",
	OpSendCommand:       "SendCommand",
	OpSetCallbacks:      "SetCallbacks",
	OpTunnelRequest:     "TunnelRequest",
	OpUseBuffer:         "UseBuffer",
	OpAllocateBuffer:    "AllocateBuffer",
	OpFreeBuffer:        "FreeBuffer",
	OpEmptyThisBuffer:   "EmptyThisBuffer",
	OpFillThisBuffer:    "FillThisBuffer",
}

// String returns the operation name.
func (o Operation) String() string {
	if o < operationCount {
		return operationNames[o]
	}
	return fmt.Sprintf("Operation(%d)", uint32(o))
}

// Operations lists every checked operation.
func Operations() []Operation {
	ops := make([]Operation, 0, operationCount)
	for op := Operation(0); op < operationCount; op++ {
		ops = append(ops, op)
	}
	return ops
}

// stateMask is a bit set of states an operation is legal in.
type stateMask uint8

func maskOf(states ...omx.State) stateMask {
	var m stateMask
	for _, s := range states {
		m |= 1 << s
	}
	return m
}

func (m stateMask) has(s omx.State) bool { return m&(1<<s) != 0 }

var (
	anyValid = maskOf(omx.StateLoaded, omx.StateIdle, omx.StateExecuting, omx.StatePause, omx.StateWaitForResources)
	// configuration that changes the stream shape is only accepted before resources are committed
	unconfigured = maskOf(omx.StateLoaded, omx.StateWaitForResources)
	bufferSetup  = maskOf(omx.StateLoaded, omx.StateIdle, omx.StateExecuting, omx.StatePause)
	processing   = maskOf(omx.StateIdle, omx.StateExecuting, omx.StatePause)
)

var allowed = [operationCount]stateMask{
	OpGetParameter:      anyValid,
	OpSetParameter:      unconfigured,
	OpGetConfig:         anyValid,
	OpSetConfig:         anyValid,
	OpGetExtensionIndex: anyValid,
	OpGetState:          anyValid,
	OpSendCommand:       anyValid,
	OpSetCallbacks:      maskOf(omx.StateLoaded),
	OpTunnelRequest:     unconfigured,
	OpUseBuffer:         bufferSetup,
	OpAllocateBuffer:    bufferSetup,
	OpFreeBuffer:        bufferSetup,
	OpEmptyThisBuffer:   processing,
	OpFillThisBuffer:    processing,
}

// CheckOperationAllowed fails with omx.ErrInvalidState when state is
// Invalid and with omx.ErrIncorrectStateOperation when op is not legal in
// state.
func CheckOperationAllowed(op Operation, state omx.State) error {
	if err := CheckExists(state); err != nil {
		return err
	}
	if state == omx.StateInvalid {
		return fmt.Errorf("%w: %s", omx.ErrInvalidState, op)
	}
	if op >= operationCount {
		return fmt.Errorf("%w: unknown operation %d", omx.ErrBadParameter, uint32(op))
	}
	if !allowed[op].has(state) {
		return fmt.Errorf("%w: %s in %s", omx.ErrIncorrectStateOperation, op, state)
	}
	return nil
}

// transitions is the fixed state graph; transitions[from] holds the legal targets.
var transitions = map[omx.State]stateMask{
	omx.StateLoaded:           maskOf(omx.StateIdle, omx.StateWaitForResources),
	omx.StateWaitForResources: maskOf(omx.StateIdle),
	omx.StateIdle:             maskOf(omx.StateLoaded, omx.StateExecuting, omx.StatePause),
	omx.StateExecuting:        maskOf(omx.StateIdle, omx.StatePause),
	omx.StatePause:            maskOf(omx.StateIdle, omx.StateExecuting),
}

// CheckTransitionAllowed reports whether current may move to requested.
// requested == current always fails with omx.ErrSameState.
func CheckTransitionAllowed(current, requested omx.State) error {
	if err := CheckExists(current); err != nil {
		return err
	}
	if err := CheckExists(requested); err != nil {
		return err
	}
	if requested == current {
		return fmt.Errorf("%w: already %s", omx.ErrSameState, current)
	}
	if requested == omx.StateInvalid {
		return fmt.Errorf("%w: cannot request %s", omx.ErrInvalidState, requested)
	}
	if !transitions[current].has(requested) {
		return fmt.Errorf("%w: %s -> %s", omx.ErrIncorrectStateTransition, current, requested)
	}
	return nil
}

// CheckExists fails with omx.ErrBadParameter for values outside the state
// enumeration.
func CheckExists(state omx.State) error {
	if state > omx.StateWaitForResources {
		return fmt.Errorf("%w: %s", omx.ErrBadParameter, state)
	}
	return nil
}

// CheckCommand fails with omx.ErrBadParameter for unknown command kinds.
func CheckCommand(cmd omx.Command) error {
	if cmd > omx.CommandMarkBuffer {
		return fmt.Errorf("%w: %s", omx.ErrBadParameter, cmd)
	}
	return nil
}

// CheckVersion fails with omx.ErrVersionMismatch when v's major number
// differs from omx.SpecVersion.
func CheckVersion(v omx.Version) error {
	if v.Major != omx.SpecVersion.Major {
		return fmt.Errorf("%w: got %s, want %d.x", omx.ErrVersionMismatch, v, omx.SpecVersion.Major)
	}
	return nil
}

// CheckHeader validates the version of a parameter structure.
func CheckHeader(p omx.Versioned) error {
	if p == nil {
		return fmt.Errorf("%w: nil structure", omx.ErrBadParameter)
	}
	return CheckVersion(p.StructVersion())
}

// CheckPortIndex fails with omx.ErrBadPortIndex when index is not below count.
func CheckPortIndex(index uint32, count int) error {
	if int64(index) >= int64(count) {
		return fmt.Errorf("%w: %d", omx.ErrBadPortIndex, index)
	}
	return nil
}
