package em

import (
	"errors"

	"github.com/libem/em/internal/event"
	"github.com/libem/em/internal/queues"
)

// EventHandle names an event by its slot in the global event table.
type EventHandle = event.Handle

// Event is the fixed header plus pooled payload storage carried through
// the dispatcher. It is never copied by value across queue/EO boundaries:
// only the handle travels through rings, and Get resolves it back to the
// same underlying storage.
type Event = event.Event

// EventHeader is the fixed 32-byte control block every Event carries.
type EventHeader = event.Header

// EventType is the packed major/minor event type tag. MakeEventType,
// MajorType and MinorType mirror the internal event package's helpers.
type EventType = event.Type

func MakeEventType(major, minor uint16) EventType { return event.MakeType(major, minor) }
func MajorType(t EventType) EventType             { return event.MajorType(t) }
func MinorType(t EventType) EventType             { return event.MinorType(t) }

// AllocEvent reserves an event slot sized for at least `size` payload
// bytes, drawing the payload from the size-bucketed pool.
func (m *Machine) AllocEvent(size uint32) (*Event, error) {
	return m.global.Events.Alloc(size)
}

// FreeEvent returns an event's payload to its pool bucket and reclaims
// its table slot. Do not call this on an event already handed to Send;
// ownership transfers to the dispatcher at that point and it frees the
// event itself once processing completes.
func (m *Machine) FreeEvent(h EventHandle) error {
	return m.global.Events.Free(h)
}

// Event resolves a handle back to its underlying storage without
// allocating or freeing it.
func (m *Machine) Event(h EventHandle) (*Event, error) {
	return m.global.Events.Get(h)
}

// Send enqueues an event onto a queue by handle. Ownership of the event
// passes to the dispatcher: the caller must not touch ev.Payload or
// ev.Header again until it either receives the event back through its
// own EO (forwarding) or sees it freed.
//
// A full ring reports ErrKindWouldBlock, scoped to the discipline that
// overflowed (e.g. "send_atomic"): the caller is expected to retry once
// the queue has drained rather than treat this as a fatal condition.
func (m *Machine) Send(dst QueueHandle, h EventHandle) error {
	q, ok := m.global.Queue(uint32(dst))
	if !ok {
		return ErrQueueNotFound
	}
	if err := q.Send(h); err != nil {
		if errors.Is(err, queues.ErrWouldBlock) {
			return NewError(sendOp(q.Discipline), ErrKindWouldBlock, "queue ring at capacity")
		}
		return WrapError(sendOp(q.Discipline), err)
	}
	return nil
}

// ForwardEvent marks an event, from inside a receive callback, to be
// sent on to dst once its processing completes. For events dispatched
// off a parallel-ordered queue the forward commits in source arrival
// order rather than completion order.
func (m *Machine) ForwardEvent(ev *Event, dst QueueHandle) {
	ev.Header.DstQueue = uint32(dst)
	ev.Header.Operation = event.OpSend
}

// SendGroup tags the event as a contribution to the given event group
// and enqueues it: the dispatcher completes the group automatically once
// the event's receive call returns.
func (m *Machine) SendGroup(dst QueueHandle, h EventHandle, gh EventGroupHandle) error {
	ev, err := m.global.Events.Get(h)
	if err != nil {
		return WrapError("send_group", err)
	}
	ev.Header.EventGroup = uint32(gh)
	return m.Send(dst, h)
}
