package engine

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var nextHandleID atomic.Uint64

// HardwareBuffer is an engine-addressable buffer handle. It starts with
// one reference, held by whoever created it.
type HardwareBuffer struct {
	// ID is unique for the process
	ID uint64
	// Data is the storage the engine reads or writes
	Data []byte

	refs   atomic.Int32
	onFree func(*HardwareBuffer)
}

// NewHardwareBuffer wraps data. onFree, when set, runs once when the last
// reference is released.
func NewHardwareBuffer(data []byte, onFree func(*HardwareBuffer)) *HardwareBuffer {
	b := &HardwareBuffer{
		ID:     nextHandleID.Add(1),
		Data:   data,
		onFree: onFree,
	}
	b.refs.Store(1)
	return b
}

// Retain adds a reference.
func (b *HardwareBuffer) Retain() {
	b.refs.Add(1)
}

// Release drops a reference and reports whether it was the last one.
// Releasing a freed buffer is logged and ignored.
func (b *HardwareBuffer) Release() bool {
	n := b.refs.Add(-1)
	switch {
	case n == 0:
		if b.onFree != nil {
			b.onFree(b)
		}
		return true
	case n < 0:
		b.refs.Store(0)
		logrus.WithFields(logrus.Fields{
			"function":  "HardwareBuffer.Release",
			"handle_id": b.ID,
		}).Warn("Release on freed hardware buffer")
	}
	return false
}

// Refs returns the current reference count.
func (b *HardwareBuffer) Refs() int32 {
	return b.refs.Load()
}
