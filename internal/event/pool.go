package event

import "sync"

// Payload storage is drawn from size-bucketed pools to keep alloc/free off
// the allocator hot path, the same tradeoff the dispatch core's backends
// make for I/O buffers: a handful of fixed bucket sizes beats a general
// purpose allocator for short-lived, size-bounded lifetimes.
const (
	bucket64b  = 64
	bucket256b = 256
	bucket1k   = 1024
	bucket4k   = 4096
	bucket16k  = 16384
)

var bucketPool = struct {
	p64b  sync.Pool
	p256b sync.Pool
	p1k   sync.Pool
	p4k   sync.Pool
	p16k  sync.Pool
}{
	p64b:  sync.Pool{New: func() any { b := make([]byte, bucket64b); return &b }},
	p256b: sync.Pool{New: func() any { b := make([]byte, bucket256b); return &b }},
	p1k:   sync.Pool{New: func() any { b := make([]byte, bucket1k); return &b }},
	p4k:   sync.Pool{New: func() any { b := make([]byte, bucket4k); return &b }},
	p16k:  sync.Pool{New: func() any { b := make([]byte, bucket16k); return &b }},
}

// GetPayload returns a pooled buffer of at least the requested size.
// Sizes above the largest bucket are allocated directly and never pooled.
func GetPayload(size uint32) []byte {
	switch {
	case size <= bucket64b:
		return (*bucketPool.p64b.Get().(*[]byte))[:size]
	case size <= bucket256b:
		return (*bucketPool.p256b.Get().(*[]byte))[:size]
	case size <= bucket1k:
		return (*bucketPool.p1k.Get().(*[]byte))[:size]
	case size <= bucket4k:
		return (*bucketPool.p4k.Get().(*[]byte))[:size]
	case size <= bucket16k:
		return (*bucketPool.p16k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutPayload returns a buffer to its bucket pool. Buffers whose capacity
// doesn't match a bucket exactly (i.e. were allocated directly because
// they exceeded the largest bucket) are dropped for the GC to reclaim.
func PutPayload(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case bucket64b:
		bucketPool.p64b.Put(&buf)
	case bucket256b:
		bucketPool.p256b.Put(&buf)
	case bucket1k:
		bucketPool.p1k.Put(&buf)
	case bucket4k:
		bucketPool.p4k.Put(&buf)
	case bucket16k:
		bucketPool.p16k.Put(&buf)
	}
}

// Table is the global event table: a fixed slice of *Event slots, indexed
// by Handle, allocated once at init_global and never reallocated, so
// handles stay stable pointers into it for the process lifetime.
type Table struct {
	mu    sync.Mutex
	slots []*Event
	free  []Handle
}

// NewTable allocates a table with room for size events.
func NewTable(size int) *Table {
	t := &Table{
		slots: make([]*Event, size),
		free:  make([]Handle, size),
	}
	for i := range t.slots {
		t.slots[i] = &Event{Handle: Handle(i)}
		t.free[i] = Handle(size - 1 - i)
	}
	return t
}

// Alloc reserves a free slot, sizes its payload from the bucket pool, and
// returns the event.
func (t *Table) Alloc(size uint32) (*Event, error) {
	t.mu.Lock()
	if len(t.free) == 0 {
		t.mu.Unlock()
		return nil, ErrTableFull
	}
	h := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.mu.Unlock()

	ev := t.slots[h]
	ev.Reset()
	ev.Payload = GetPayload(size)
	return ev, nil
}

// Free returns an event's payload to its bucket pool and reclaims its
// table slot.
func (t *Table) Free(h Handle) error {
	if int(h) >= len(t.slots) {
		return ErrBadHandle
	}
	ev := t.slots[h]
	if ev.Payload != nil {
		PutPayload(ev.Payload)
		ev.Payload = nil
	}
	ev.Header = Header{}

	t.mu.Lock()
	t.free = append(t.free, h)
	t.mu.Unlock()
	return nil
}

// Get returns the event at handle h without allocating or freeing it.
func (t *Table) Get(h Handle) (*Event, error) {
	if int(h) >= len(t.slots) {
		return nil, ErrBadHandle
	}
	return t.slots[h], nil
}
