package acquire

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Item is one record from the remote source.
// Only ID is interpreted; Raw is carried through untouched.
type Item struct {
	// ID is the stable external key of the record (e.g. "bitcoin").
	ID string `json:"id"`

	// Raw is the undecoded record as returned by the source.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Batch records where one response landed in the log.
type Batch struct {
	ID     int `json:"id"`
	Start  int `json:"start"`
	Length int `json:"length"`
}

// Log is the append-only, arrival-ordered sequence of items of one run.
//
// A single writer (the pipeline) appends; any number of readers may call
// Len and FirstArrival without taking the writer's lock.
type Log struct {
	mu      sync.RWMutex
	items   []Item
	batches []Batch
	sealed  bool

	length       atomic.Int64
	firstArrival atomic.Int64 // unix nanos, 0 until the first append
}

// NewLog creates an empty log with room for capacity items.
func NewLog(capacity int) *Log {
	if capacity < 0 {
		capacity = 0
	}
	return &Log{items: make([]Item, 0, capacity)}
}

// Append adds items to the end of the log as one batch.
// Returns the number of items appended, which is 0 once the log is sealed.
func (l *Log) Append(items []Item) int {
	if len(items) == 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return 0
	}

	start := len(l.items)
	l.items = append(l.items, items...)
	l.batches = append(l.batches, Batch{
		ID:     len(l.batches) + 1,
		Start:  start,
		Length: len(items),
	})

	l.firstArrival.CompareAndSwap(0, time.Now().UnixNano())
	l.length.Store(int64(len(l.items)))

	return len(items)
}

// Seal makes every later Append a no-op.
func (l *Log) Seal() {
	l.mu.Lock()
	l.sealed = true
	l.mu.Unlock()
}

// Sealed reports whether the log accepts no more items.
func (l *Log) Sealed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sealed
}

// Len returns the number of items appended so far.
func (l *Log) Len() int {
	return int(l.length.Load())
}

// FirstArrival returns the instant of the first append.
func (l *Log) FirstArrival() (time.Time, bool) {
	nanos := l.firstArrival.Load()
	if nanos == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// Items returns a copy of the whole log.
func (l *Log) Items() []Item {
	return l.Slice(-1)
}

// Slice returns a copy of the first n items; n < 0 means all of them.
func (l *Log) Slice(n int) []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n < 0 || n > len(l.items) {
		n = len(l.items)
	}
	out := make([]Item, n)
	copy(out, l.items[:n])
	return out
}

// Batches returns a copy of the batch boundaries in arrival order.
func (l *Log) Batches() []Batch {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Batch, len(l.batches))
	copy(out, l.batches)
	return out
}

// BatchOf returns the batch containing the item at index.
func (l *Log) BatchOf(index int) (Batch, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// Few batches per run, a linear scan is enough.
	for _, b := range l.batches {
		if index >= b.Start && index < b.Start+b.Length {
			return b, true
		}
	}
	return Batch{}, false
}
