// Package omx defines the framework-facing vocabulary shared by every
// vpuomx package: component states and commands, buffer headers and their
// flags, parameter and configuration structures, events, the framework
// callback table and the closed set of typed error codes.
//
// The numeric values of states, commands, events and errors match the
// OpenMAX IL 1.1.2 headers so traces and logs can be compared with other
// IL implementations.
//
// # Errors
//
// Every error returned by a public vpuomx operation wraps exactly one
// [Error] code. Classify failures with errors.Is:
//
//	if errors.Is(err, omx.ErrIncorrectStateOperation) {
//	    // the call is not legal in the current component state
//	}
//
// or extract the code with [Code].
//
// # Buffer ownership
//
// A [BufferHeader] is owned by exactly one side at a time. The framework
// owns it while filling input or draining output; the component owns it
// from EmptyThisBuffer/FillThisBuffer until the matching EmptyBufferDone /
// FillBufferDone callback.
package omx
