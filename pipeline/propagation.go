package pipeline

import (
	"sync"
	"time"

	"github.com/opd-ai/vpuomx/omx"
)

// Record carries the metadata of one input buffer to the output produced
// from it. Records are consumed in submission order: engines produce
// outputs in the order inputs were pushed.
type Record struct {
	Source    *omx.BufferHeader
	Mark      *omx.Mark
	Timestamp int64
	Flags     omx.BufferFlags
	Submitted time.Time
}

// Queue is a FIFO of propagation records.
type Queue struct {
	mu    sync.Mutex
	items []Record
}

// Push appends r.
func (q *Queue) Push(r Record) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

// Pop removes and returns the oldest record.
func (q *Queue) Pop() (Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Record{}, false
	}
	r := q.items[0]
	q.items[0] = Record{}
	q.items = q.items[1:]
	return r, true
}

// PopIf pops the oldest record only when match accepts it.
func (q *Queue) PopIf(match func(Record) bool) (Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || !match(q.items[0]) {
		return Record{}, false
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r, true
}

// Remove drops every record sourced from h and returns how many were dropped.
func (q *Queue) Remove(h *omx.BufferHeader) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, r := range q.items {
		if r.Source != h {
			kept = append(kept, r)
		}
	}
	n := len(q.items) - len(kept)
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = Record{}
	}
	q.items = kept
	return n
}

// Clear drops all records.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
