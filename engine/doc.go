// Package engine defines the contract between components and a video
// processing engine: opening decode and encode channels, moving hardware
// buffers in and out of them, and the callbacks the engine raises on its
// own goroutines.
//
// Callback tables are plain structs of functions captured when a channel
// is opened. The engine never receives component pointers and never
// retains framework buffer headers; it deals only in HardwareBuffer
// handles, which the pipeline maps back to headers.
//
// Callbacks may run concurrently with channel calls and with each other,
// except that Stopped is always the last callback raised for a ForceStop.
package engine
