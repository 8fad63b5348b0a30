// Package queues implements the queue element: its state machine, the
// three scheduling disciplines (atomic, parallel, parallel-ordered), and
// the admission bookkeeping each discipline needs on top of the
// underlying ring.
package queues

import (
	"errors"
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"

	"github.com/libem/em/internal/constants"
	"github.com/libem/em/internal/event"
	"github.com/libem/em/internal/ring"
)

// Discipline selects how a queue's events are scheduled across cores.
type Discipline int

const (
	// Atomic admits one core at a time: FIFO, exactly one in-flight
	// receive callback per queue.
	Atomic Discipline = iota
	// Parallel admits any number of cores concurrently, no ordering.
	Parallel
	// ParallelOrdered admits any number of cores concurrently for
	// processing, but serializes the egress (finalize) step so events
	// leave in arrival order.
	ParallelOrdered
)

// State is the queue element's lifecycle state.
type State int32

const (
	StateInvalid State = iota
	StateInit
	StateBound
	StateReady
)

var (
	ErrBadState   = errors.New("queues: invalid state transition")
	ErrNotFound   = errors.New("queues: not found")
	ErrWouldBlock = ring.ErrWouldBlock
	ErrNotEmpty   = errors.New("queues: ring not empty or dispatch in flight")
)

// Element is a single queue: its scheduling discipline, the ring backing
// it, and whatever admission bookkeeping the discipline requires.
type Element struct {
	Handle     uint32
	Discipline Discipline
	Priority   int

	state atomic.Int32
	eo    atomic.Uint32 // bound EO handle, 0 if unbound
	group atomic.Uint32 // queue-group handle controlling core affinity

	ring   *ring.Ring
	events *event.Table

	// Atomic discipline: a packed ordering cell. The high 32 bits count
	// events sitting in the ring; the low 32 bits are 1 while some core
	// is actively draining the queue, 0 otherwise. A core may start
	// draining only by CASing the low bit 0->1, guaranteeing at most one
	// active drainer, i.e. FIFO single-owner-at-a-time admission.
	orderCell atomix.Uint64

	// ParallelOrdered discipline: nextTicket is handed out to events at
	// enqueue time; orderFirst is the ticket that may next finalize.
	// orderLock guards the compare-and-advance of orderFirst so that
	// cores finishing out of order block until their turn, preserving
	// egress order without serializing the processing itself. enqLock
	// serializes ticket assignment with the ring enqueue, so ticket
	// order matches ring order and a failed enqueue never consumes a
	// ticket (a consumed-but-absent ticket would stall orderFirst for
	// every later event).
	nextTicket atomic.Uint64
	orderFirst atomic.Uint64
	orderLock  spinLock
	enqLock    spinLock

	// inFlight counts events dequeued but not yet handed back through
	// MarkDone, across all three disciplines. Delete uses it together
	// with the ring's own occupancy to refuse retiring a queue that
	// still has a dispatch in progress.
	inFlight atomic.Int32
}

const (
	cellDrainingBit = uint64(1)
)

// New creates a queue element in StateInit, not yet bound to an EO.
// events is the global event table; Send uses it to stamp each event's
// header with this queue as its source before admitting it to the ring.
func New(handle uint32, d Discipline, priority int, events *event.Table) *Element {
	capacity := constants.AtomicRingCapacity
	switch d {
	case Parallel:
		capacity = constants.ParallelRingCapacity
	case ParallelOrdered:
		capacity = constants.ParallelOrderedRingCapacity
	}
	e := &Element{
		Handle:     handle,
		Discipline: d,
		Priority:   priority,
		ring:       ring.New(capacity),
		events:     events,
	}
	e.state.Store(int32(StateInit))
	return e
}

// State returns the queue's current lifecycle state.
func (e *Element) State() State { return State(e.state.Load()) }

// Bind attaches an EO handle to the queue, moving Init -> Bound.
func (e *Element) Bind(eoHandle uint32) error {
	if !e.state.CompareAndSwap(int32(StateInit), int32(StateBound)) {
		return ErrBadState
	}
	e.eo.Store(eoHandle)
	return nil
}

// Unbind detaches the EO, moving Bound -> Init.
func (e *Element) Unbind() error {
	if !e.state.CompareAndSwap(int32(StateBound), int32(StateInit)) {
		return ErrBadState
	}
	e.eo.Store(0)
	return nil
}

// Enable makes the queue visible to the scheduler, moving Bound -> Ready.
func (e *Element) Enable() error {
	if !e.state.CompareAndSwap(int32(StateBound), int32(StateReady)) {
		return ErrBadState
	}
	return nil
}

// Disable hides the queue from the scheduler, moving Ready -> Bound.
func (e *Element) Disable() error {
	if !e.state.CompareAndSwap(int32(StateReady), int32(StateBound)) {
		return ErrBadState
	}
	return nil
}

// Delete retires the queue, moving Init -> Invalid. Only legal once the
// queue carries no EO binding (StateInit), its ring holds no events, and
// no core is still mid-dispatch on one of its events: deleting out from
// under either would leak the event handles still sitting in the ring or
// still owned by a running receive callback.
func (e *Element) Delete() error {
	if State(e.state.Load()) != StateInit {
		return ErrBadState
	}
	if !e.Empty() {
		return ErrNotEmpty
	}
	if !e.state.CompareAndSwap(int32(StateInit), int32(StateInvalid)) {
		return ErrBadState
	}
	return nil
}

// Empty reports whether the queue's ring currently holds no events and
// no core is still mid-dispatch on one it already dequeued.
func (e *Element) Empty() bool {
	return e.ring.Len() == 0 && e.inFlight.Load() == 0
}

// EO returns the bound EO handle, or 0 if unbound.
func (e *Element) EO() uint32 { return e.eo.Load() }

// Group returns the queue's queue-group handle.
func (e *Element) Group() uint32 { return e.group.Load() }

// SetGroup assigns the queue to a queue group, controlling which cores
// may dispatch it.
func (e *Element) SetGroup(group uint32) { e.group.Store(group) }

// Send admits an event handle onto the queue, stamping the event's
// header with this queue as its source (src_q_elem) first. For the
// Atomic discipline it also bumps the ordering cell's pending-event
// count, which is what lets TryAcquireAtomic admit the queue for
// draining.
func (e *Element) Send(h event.Handle) error {
	if e.events != nil {
		if ev, err := e.events.Get(h); err == nil {
			ev.Header.SrcQueue = e.Handle
		}
	}

	if e.Discipline == ParallelOrdered {
		e.enqLock.Lock()
		ticket := e.nextTicket.Load()
		// The ticket rides the event header too, so the dispatcher can
		// recover its finalize slot without threading it separately.
		if e.events != nil {
			if ev, err := e.events.Get(h); err == nil {
				ev.Header.LockP = ticket
			}
		}
		if err := e.ring.Enqueue(orderedItem{ticket: ticket, handle: h}); err != nil {
			e.enqLock.Unlock()
			return err
		}
		e.nextTicket.Store(ticket + 1)
		e.enqLock.Unlock()
		return nil
	}

	if err := e.ring.Enqueue(h); err != nil {
		return err
	}
	if e.Discipline == Atomic {
		e.orderCell.AddAcqRel(1 << 32)
	}
	return nil
}

type orderedItem struct {
	ticket uint64
	handle event.Handle
}

// TryAcquireAtomic attempts to become the sole draining core for an
// Atomic-discipline queue. Returns false if another core already holds
// it, or if the queue currently has no pending events.
func (e *Element) TryAcquireAtomic() bool {
	for {
		cell := e.orderCell.LoadAcquire()
		pending := cell >> 32
		draining := cell&cellDrainingBit != 0
		if draining || pending == 0 {
			return false
		}
		next := cell | cellDrainingBit
		if e.orderCell.CompareAndSwapAcqRel(cell, next) {
			return true
		}
	}
}

// ReleaseAtomic drops drain ownership, decrementing the pending count by
// the number of events the caller actually consumed. Returns true if the
// queue still has pending events after the release, so the caller (or
// another core) should re-acquire immediately rather than letting the
// queue go idle with unprocessed events.
func (e *Element) ReleaseAtomic(consumed uint32) bool {
	for {
		cell := e.orderCell.LoadAcquire()
		pending := cell >> 32
		next := ((pending - uint64(consumed)) << 32)
		if e.orderCell.CompareAndSwapAcqRel(cell, next) {
			return (pending - uint64(consumed)) > 0
		}
	}
}

// PendingCount returns the atomic discipline's ordering cell's pending
// count: the number of events admitted but not yet released by a
// drainer. For non-Atomic disciplines it returns 0; use the ring itself
// to inspect backlog there.
func (e *Element) PendingCount() uint32 {
	if e.Discipline != Atomic {
		return 0
	}
	return uint32(e.orderCell.LoadAcquire() >> 32)
}

// Dequeue removes one event from the ring. For ParallelOrdered queues it
// also returns the event's ticket, needed later by FinalizeOrdered. Every
// successful Dequeue must be matched by a later MarkDone once the
// dispatcher is done with the event, so Empty (and therefore Delete) can
// tell a drained ring from one with a dispatch still in flight.
func (e *Element) Dequeue() (event.Handle, uint64, error) {
	raw, err := e.ring.Dequeue()
	if err != nil {
		return 0, 0, err
	}
	e.inFlight.Add(1)
	if e.Discipline == ParallelOrdered {
		item := raw.(orderedItem)
		return item.handle, item.ticket, nil
	}
	return raw.(event.Handle), 0, nil
}

// MarkDone closes out one Dequeue: the dispatcher has finished handling
// that event (forwarded or freed it). Called once per successful Dequeue,
// regardless of discipline.
func (e *Element) MarkDone() {
	e.inFlight.Add(-1)
}

// FinalizeOrdered blocks (spinning) until it is ticket's turn to retire,
// runs fn — the actual hand-off to the event's destination — while still
// holding that position, then advances the order cursor. fn must run
// before the cursor advances, not after FinalizeOrdered returns: ticket
// k+1 becoming eligible is what lets another core start its own fn
// concurrently, so advancing early would let k+1's hand-off reach the
// destination queue before k's, breaking egress order despite completion
// running in parallel across cores.
func (e *Element) FinalizeOrdered(ticket uint64, fn func()) {
	sw := spin.Wait{}
	for {
		e.orderLock.Lock()
		if e.orderFirst.Load() == ticket {
			fn()
			e.orderFirst.Store(ticket + 1)
			e.orderLock.Unlock()
			return
		}
		e.orderLock.Unlock()
		sw.Once()
	}
}

// spinLock is a minimal CAS-based mutual exclusion lock for the short
// critical sections the parallel-ordered discipline needs; it never
// blocks on the OS scheduler.
type spinLock struct {
	locked atomic.Bool
}

func (l *spinLock) Lock() {
	sw := spin.Wait{}
	for !l.locked.CompareAndSwap(false, true) {
		sw.Once()
	}
}

func (l *spinLock) Unlock() {
	l.locked.Store(false)
}
