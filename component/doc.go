// Package component implements a video decoder or encoder component as a
// framework sees it: two ports, a life-cycle state machine, parameter and
// configuration structures, and buffer exchange.
//
// A component is created in the Loaded state:
//
//	c, err := component.New("video_decoder.avc", eng, omx.Callbacks{
//		EventHandler:    onEvent,
//		EmptyBufferDone: onEmptied,
//		FillBufferDone:  onFilled,
//	})
//
// State changes are requested with SendCommand and complete
// asynchronously. Moving from Loaded to Idle waits until the framework has
// allocated BufferCountActual buffers on every enabled port; moving from
// Idle to Executing builds a fresh pipeline, which opens the engine
// channel when the first buffer arrives; moving back to Idle stops the
// pipeline and returns every buffer it held with zero length.
//
// All calls return errors that carry an omx.Error code, so callers can
// classify them with errors.Is or omx.Code.
package component
