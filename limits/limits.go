// Package limits provides centralized buffer size, count and alignment
// bounds for vpuomx ports. This ensures consistent validation across the
// port, component and configuration layers.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxBufferSize is the largest single buffer a port accepts (64MB).
	// This covers an 8K 4:2:0 picture with room for engine padding.
	MaxBufferSize = 64 * 1024 * 1024

	// MinBufferCount is the smallest buffer count a port may be configured with
	MinBufferCount = 1

	// MaxBufferCount bounds the buffers per port.
	// Engines address at most 32 display buffers per channel.
	MaxBufferCount = 32

	// DefaultStrideAlign is the row stride alignment engines require by default
	DefaultStrideAlign = 16

	// DefaultHeightAlign is the slice height alignment of decoded pictures
	DefaultHeightAlign = 16

	// MaxDimension is the largest picture width or height supported
	MaxDimension = 8192
)

var (
	// ErrBufferEmpty indicates a zero-size buffer was requested
	ErrBufferEmpty = errors.New("empty buffer")

	// ErrBufferTooLarge indicates a buffer exceeds MaxBufferSize
	ErrBufferTooLarge = errors.New("buffer too large")

	// ErrBufferCount indicates a buffer count outside [MinBufferCount, MaxBufferCount]
	ErrBufferCount = errors.New("buffer count out of range")

	// ErrAlignment indicates an alignment that is not a power of two
	ErrAlignment = errors.New("alignment must be a power of two")
)

// ValidateBufferSize validates a buffer size against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateBufferSize(size uint32, maxSize uint32) error {
	if size == 0 {
		return ErrBufferEmpty
	}
	if size > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrBufferTooLarge, size, maxSize)
	}
	return nil
}

// ValidatePortBufferSize validates a size against MaxBufferSize.
func ValidatePortBufferSize(size uint32) error {
	return ValidateBufferSize(size, MaxBufferSize)
}

// ValidateBufferCount validates a port buffer count.
func ValidateBufferCount(count uint32) error {
	if count < MinBufferCount || count > MaxBufferCount {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrBufferCount, count, MinBufferCount, MaxBufferCount)
	}
	return nil
}

// ValidateAlignment checks that align is a non-zero power of two.
func ValidateAlignment(align uint32) error {
	if align == 0 || align&(align-1) != 0 {
		return fmt.Errorf("%w: %d", ErrAlignment, align)
	}
	return nil
}

// Align rounds v up to the next multiple of align. align must be a power of two.
func Align(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// FrameSize returns the byte size of a 4:2:0 picture with the given
// stride and slice height.
func FrameSize(stride, sliceHeight uint32) uint32 {
	return stride * sliceHeight * 3 / 2
}
