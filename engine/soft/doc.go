// Package soft implements engine.Engine in software.
//
// The soft engine does no real compression. It honours the channel
// contract (buffer lending, callback ordering, ForceStop and Drain
// semantics) on its own goroutines so components can run end to end
// without a device: the CLI simulator and the component tests use it.
//
// Streams use a small self-describing format. The encoder emits a
// sequence header carrying the coding and picture size as codec
// configuration data, then one access unit per picture; the decoder
// takes its geometry from that header when present and from the
// channel configuration otherwise.
package soft
