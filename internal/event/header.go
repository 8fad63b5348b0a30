// Package event defines the event header and the pooled storage behind it.
package event

import "unsafe"

// Header is the fixed, cache-line-friendly control block carried by every
// event. It never grows to carry collaborator-specific fields (timers,
// packet metadata): those live in the payload, addressed through the
// event's own type, per the design note that keeps this header stable
// regardless of which external collaborator produced the event.
type Header struct {
	LockP          uint64 // ordered-egress ticket: source-arrival position stamped on admission to a parallel-ordered queue, the slot the dispatcher waits on at finalize
	SrcQueue       uint32 // handle of the queue element the event is currently enqueued on, 0 if none
	DstQueue       uint32 // handle of the queue element the event should be sent to next, meaningful only with Operation == OpSend
	EventGroup     uint32 // handle of the event group this event belongs to, 0 if none
	EventType      Type   // application-defined type tag, see MakeType/MajorType/MinorType
	Operation      uint32 // post-receive action tag: OpSend marks the event for forwarding to DstQueue
	ProcessingDone uint32 // set to 1 once the destination EO's receive callback has returned
}

// Operation values: what the dispatcher does with an event once its
// receive call returns. OpNone frees the event back to its pool; OpSend
// commits it to Header.DstQueue, in source-arrival order when it came
// off a parallel-ordered queue.
const (
	OpNone uint32 = iota
	OpSend
)

// Compile-time size check: the header must stay exactly 32 bytes so that
// growing the event model (e.g. to carry timer back-references) cannot
// silently widen the hottest structure in the dispatch path.
var _ [32]byte = [unsafe.Sizeof(Header{})]byte{}

// Handle identifies an event by its slot in the global event table.
type Handle uint32

// Event pairs a header with pooled payload storage and the handle that
// names it in the global table.
type Event struct {
	Handle  Handle
	Header  Header
	Payload []byte
}

// Reset clears an event's header and trims its payload to zero length,
// without returning the payload buffer to the pool. Used when an event is
// about to be reused for a new alloc without recycling its handle.
func (e *Event) Reset() {
	e.Header = Header{}
	if e.Payload != nil {
		e.Payload = e.Payload[:0]
	}
}
