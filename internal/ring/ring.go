// Package ring implements the bounded, lock-free, multi-producer
// multi-consumer queue that backs every queue element's event storage.
//
// The algorithm is the SCQ (Scalable Circular Queue) of Nikolaev (DISC
// 2019): Fetch-And-Add producer/consumer indices with 2n physical slots
// for capacity n, and a per-slot cycle counter for ABA safety. Enqueue and
// dequeue never block; a full or empty ring simply returns ErrWouldBlock,
// matching the dispatch loop's requirement that no operation may suspend.
package ring

import (
	"errors"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// ErrWouldBlock is returned by Enqueue when the ring is full and by
// Dequeue when the ring is empty.
var ErrWouldBlock = errors.New("ring: would block")

type pad [56]byte
type padShort [48]byte

type slot struct {
	cycle atomix.Uint64
	data  any
	_     padShort
}

// Ring is a bounded MPMC queue of event handles (opaque values, typically
// table indices boxed as any to avoid an import cycle with the event
// package).
type Ring struct {
	_         pad
	tail      atomix.Uint64
	_         pad
	head      atomix.Uint64
	_         pad
	threshold atomix.Int64
	_         pad
	draining  atomix.Bool
	_         pad
	buffer    []slot
	capacity  uint64
	size      uint64
	mask      uint64
}

// New creates a ring with the given usable capacity, rounded up to the
// next power of 2. Physical slot count is 2n for capacity n, per SCQ.
func New(capacity int) *Ring {
	if capacity < 2 {
		panic("ring: capacity must be >= 2")
	}

	n := uint64(roundToPow2(capacity))
	size := n * 2

	r := &Ring{
		buffer:   make([]slot, size),
		capacity: n,
		size:     size,
		mask:     size - 1,
	}
	r.threshold.StoreRelaxed(3*int64(n) - 1)
	for i := uint64(0); i < size; i++ {
		r.buffer[i].cycle.StoreRelaxed(i / n)
	}
	return r
}

func roundToPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Cap returns the ring's usable capacity.
func (r *Ring) Cap() int { return int(r.capacity) }

// Len reports the number of slots currently occupied, i.e. enqueued but
// not yet dequeued. It is a point-in-time snapshot racing with concurrent
// producers/consumers; callers that need a precondition (e.g. "is this
// ring quiescent") must already hold it quiescent by other means.
func (r *Ring) Len() int {
	tail := r.tail.LoadAcquire()
	head := r.head.LoadAcquire()
	if tail <= head {
		return 0
	}
	return int(tail - head)
}

// Enqueue admits one event handle. Returns ErrWouldBlock if the ring is
// full.
func (r *Ring) Enqueue(handle any) error {
	sw := spin.Wait{}
	for {
		tail := r.tail.LoadAcquire()
		head := r.head.LoadAcquire()
		if tail >= head+r.capacity {
			return ErrWouldBlock
		}

		myTail := r.tail.AddAcqRel(1) - 1
		s := &r.buffer[myTail&r.mask]
		expectedCycle := myTail / r.capacity

		slotCycle := s.cycle.LoadAcquire()
		if slotCycle == expectedCycle {
			s.data = handle
			s.cycle.StoreRelease(expectedCycle + 1)
			r.threshold.StoreRelaxed(3*int64(r.capacity) - 1)
			return nil
		}
		if int64(slotCycle) < int64(expectedCycle) {
			return ErrWouldBlock
		}
		sw.Once()
	}
}

// EnqueueBurst admits as many handles from the slice as the ring has room
// for, returning the number admitted.
func (r *Ring) EnqueueBurst(handles []any) int {
	n := 0
	for _, h := range handles {
		if r.Enqueue(h) != nil {
			break
		}
		n++
	}
	return n
}

// Drain signals that no more enqueues will occur, letting Dequeue skip the
// livelock-prevention threshold check so callers can drain what remains.
func (r *Ring) Drain() {
	r.draining.StoreRelease(true)
}

// Dequeue removes and returns one event handle. Returns (nil,
// ErrWouldBlock) if the ring is empty.
func (r *Ring) Dequeue() (any, error) {
	if !r.draining.LoadAcquire() && r.threshold.LoadRelaxed() < 0 {
		return nil, ErrWouldBlock
	}

	sw := spin.Wait{}
	for {
		myHead := r.head.AddAcqRel(1) - 1
		s := &r.buffer[myHead&r.mask]
		expectedCycle := myHead/r.capacity + 1
		slotCycle := s.cycle.LoadAcquire()

		if slotCycle == expectedCycle {
			handle := s.data
			s.data = nil
			nextEnqCycle := (myHead + r.size) / r.capacity
			s.cycle.StoreRelease(nextEnqCycle)
			return handle, nil
		}

		if int64(slotCycle) < int64(expectedCycle) {
			nextEnqCycle := (myHead + r.size) / r.capacity
			s.cycle.CompareAndSwapAcqRel(slotCycle, nextEnqCycle)

			tail := r.tail.LoadAcquire()
			if tail <= myHead+1 {
				r.catchup(tail, myHead+1)
				r.threshold.AddAcqRel(-1)
				return nil, ErrWouldBlock
			}
			if r.threshold.AddAcqRel(-1) <= 0 && !r.draining.LoadAcquire() {
				return nil, ErrWouldBlock
			}
		}
		sw.Once()
	}
}

// DequeueBurst removes up to max handles, returning the slice of handles
// actually dequeued.
func (r *Ring) DequeueBurst(max int) []any {
	out := make([]any, 0, max)
	for i := 0; i < max; i++ {
		h, err := r.Dequeue()
		if err != nil {
			break
		}
		out = append(out, h)
	}
	return out
}

func (r *Ring) catchup(tail, head uint64) {
	for tail < head {
		if r.tail.CompareAndSwapRelaxed(tail, head) {
			break
		}
		tail = r.tail.LoadRelaxed()
		head = r.head.LoadRelaxed()
	}
}
