package port

import (
	"errors"
	"sync/atomic"
)

// ErrAllocatorExhausted is returned by a BudgetAllocator whose budget is spent.
var ErrAllocatorExhausted = errors.New("allocator budget exhausted")

// Allocator provides the backing storage of component-allocated buffers.
type Allocator interface {
	Alloc(size uint32) ([]byte, error)
	Free(buf []byte)
}

// HeapAllocator allocates buffers on the Go heap.
type HeapAllocator struct{}

// Alloc returns a zeroed slice of size bytes.
func (HeapAllocator) Alloc(size uint32) ([]byte, error) {
	return make([]byte, size), nil
}

// Free is a no-op; the garbage collector reclaims the slice.
func (HeapAllocator) Free([]byte) {}

// BudgetAllocator is a heap allocator with a byte budget, used to model
// engine memory that is smaller than the host's.
type BudgetAllocator struct {
	remaining atomic.Int64
}

// NewBudgetAllocator creates an allocator that serves at most budget bytes
// outstanding at any time.
func NewBudgetAllocator(budget int64) *BudgetAllocator {
	a := &BudgetAllocator{}
	a.remaining.Store(budget)
	return a
}

// Alloc reserves size bytes from the budget.
func (a *BudgetAllocator) Alloc(size uint32) ([]byte, error) {
	if a.remaining.Add(-int64(size)) < 0 {
		a.remaining.Add(int64(size))
		return nil, ErrAllocatorExhausted
	}
	return make([]byte, size), nil
}

// Free returns buf's capacity to the budget.
func (a *BudgetAllocator) Free(buf []byte) {
	a.remaining.Add(int64(cap(buf)))
}

// Remaining reports the unreserved budget.
func (a *BudgetAllocator) Remaining() int64 {
	return a.remaining.Load()
}
