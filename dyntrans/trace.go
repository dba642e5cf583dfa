package dyntrans

import (
	"errors"
	"fmt"
)

// TraceEntry is one executed instruction.
type TraceEntry struct {
	CPU  int
	PC   uint64
	Word uint32
}

func (e TraceEntry) String() string {
	return fmt.Sprintf("cpu%d %08x: %08x", e.CPU, e.PC, e.Word)
}

// TraceQueue represents a simple FIFO queue keeping the last maxSize
// executed instructions
type TraceQueue struct {
	items   []TraceEntry
	size    int // Current number of elements in the queue
	maxSize int
}

// NewTraceQueue creates a new empty queue.
func NewTraceQueue(maxSize int) *TraceQueue {
	q := &TraceQueue{}
	q.maxSize = maxSize
	return q
}

// Enqueue adds an item to the rear of the queue.
func (q *TraceQueue) Enqueue(item TraceEntry) {

	if q.size == q.maxSize {
		q.Dequeue()
	}

	q.items = append(q.items, item)
	q.size++
}

// Dequeue removes and returns the item from the front of the queue.
func (q *TraceQueue) Dequeue() (TraceEntry, error) {
	if q.size == 0 {
		return TraceEntry{}, errors.New("queue is empty")
	}
	frontItem := q.items[0]
	q.items = q.items[1:]
	q.size--
	return frontItem, nil
}

// IsEmpty checks if the queue is empty.
func (q *TraceQueue) IsEmpty() bool {
	return q.size == 0
}

// Len returns the number of queued entries.
func (q *TraceQueue) Len() int {
	return q.size
}

// Entries returns a copy of the queued entries, oldest first.
func (q *TraceQueue) Entries() []TraceEntry {
	out := make([]TraceEntry, q.size)
	copy(out, q.items)
	return out
}
