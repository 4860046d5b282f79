// Package pipeline bridges framework buffer calls to an engine channel.
//
// A pipeline owns one processing worker that drains the input and output
// port FIFOs and hands buffers to the engine. Completions arrive on engine
// goroutines through the channel's callback table; the pipeline maps the
// engine handle back to the framework header, restamps it from the
// propagation record of the input it came from and returns it through
// omx.Callbacks.
//
// Decoder pipelines keep up to K output buffers bound to the engine as
// reference pictures, where K is one less than the output port's actual
// buffer count. Stream start-up blocks until K buffers have been bound.
//
// Encoder pipelines copy bitstream sections out of the engine's circular
// region into the framework's output buffers.
package pipeline
