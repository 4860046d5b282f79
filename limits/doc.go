// Package limits provides centralized buffer size, count and alignment
// constants and validation functions for vpuomx ports.
//
// # Buffer Bounds
//
//   - MaxBufferSize (64MB): the largest single buffer any port accepts.
//   - MinBufferCount / MaxBufferCount (1..32): the range of BufferCountActual.
//     Engines address at most 32 display buffers per scheduling channel.
//
// # Alignment
//
// Raw picture ports must keep their row stride a multiple of the engine's
// stride alignment (DefaultStrideAlign, 16 bytes) and their slice height at
// least the frame height. Use Align to derive conforming values:
//
//	stride := limits.Align(width, limits.DefaultStrideAlign)
//	size := limits.FrameSize(stride, limits.Align(height, limits.DefaultHeightAlign))
//
// # Validation Functions
//
//	err := limits.ValidatePortBufferSize(size)
//	if err != nil {
//	    // Handle validation error (ErrBufferEmpty or ErrBufferTooLarge)
//	}
package limits
