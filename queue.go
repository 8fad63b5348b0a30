package em

import (
	"errors"

	"github.com/libem/em/internal/constants"
	"github.com/libem/em/internal/queues"
	"github.com/libem/em/internal/tables"
)

// Discipline selects how a queue's events are scheduled across cores.
type Discipline int

const (
	// DisciplineAtomic admits one core at a time: FIFO, exactly one
	// in-flight receive callback per queue.
	DisciplineAtomic Discipline = iota
	// DisciplineParallel admits any number of cores concurrently, no
	// ordering guarantee.
	DisciplineParallel
	// DisciplineParallelOrdered admits any number of cores concurrently
	// for processing, serializing only the egress order.
	DisciplineParallelOrdered
)

func (d Discipline) internal() queues.Discipline {
	switch d {
	case DisciplineParallel:
		return queues.Parallel
	case DisciplineParallelOrdered:
		return queues.ParallelOrdered
	default:
		return queues.Atomic
	}
}

// sendOp names the escope a failed Send is tagged with, one per
// discipline, so a backpressure error identifies which ring overflowed.
func sendOp(d queues.Discipline) string {
	switch d {
	case queues.Parallel:
		return "send_parallel"
	case queues.ParallelOrdered:
		return "send_parallel_ordered"
	default:
		return "send_atomic"
	}
}

// QueueHandle names a queue element in the global queue table.
type QueueHandle uint32

// QueueOption configures optional parts of a queue at creation time.
type QueueOption func(*queueOptions)

type queueOptions struct {
	staticID uint32
	group    QueueGroupHandle
}

// WithStaticID places the queue at a caller-chosen id in the static
// range [1, StaticQueueIDRangeEnd), instead of a dynamically allocated
// handle. Creating two queues with the same static id fails with
// ErrKindNotFree.
func WithStaticID(id uint32) QueueOption {
	return func(o *queueOptions) { o.staticID = id }
}

// WithQueueGroup assigns the queue to a queue group at creation, in
// place of the default group (eligible on every core).
func WithQueueGroup(gh QueueGroupHandle) QueueOption {
	return func(o *queueOptions) { o.group = gh }
}

// CreateQueue allocates a queue with the given discipline and priority
// (0..NumPriorities-1, higher runs first within a core's dispatch pass),
// in StateInit: not yet bound to an EO or visible to any dispatch core.
func (m *Machine) CreateQueue(d Discipline, priority int, opts ...QueueOption) (QueueHandle, error) {
	var o queueOptions
	for _, opt := range opts {
		opt(&o)
	}

	if priority < 0 || priority >= constants.NumPriorities {
		return 0, NewError("queue_create", ErrKindBadID, "priority out of range")
	}

	var q *queues.Element
	var err error
	if o.staticID != 0 {
		q, err = m.global.CreateStaticQueue(o.staticID, d.internal(), priority)
	} else {
		q, err = m.global.CreateQueue(d.internal(), priority)
	}
	if err != nil {
		if errors.Is(err, tables.ErrBadStaticID) {
			return 0, NewError("queue_create", ErrKindBadID, "static queue id out of range")
		}
		if errors.Is(err, tables.ErrStaticIDTaken) {
			return 0, NewError("queue_create", ErrKindNotFree, "static queue id in use")
		}
		return 0, WrapError("queue_create", err)
	}
	if o.group != 0 {
		q.SetGroup(uint32(o.group))
	}
	return QueueHandle(q.Handle), nil
}

// DeleteQueue retires a queue. The queue must be unbound (StateInit)
// first.
func (m *Machine) DeleteQueue(h QueueHandle) error {
	q, ok := m.global.Queue(uint32(h))
	if !ok {
		return ErrQueueNotFound
	}
	if err := q.Delete(); err != nil {
		return WrapError("queue_delete", err)
	}
	return m.global.DeleteQueue(uint32(h))
}

// BindQueue attaches an EO to a queue, moving it from Init to Bound.
func (m *Machine) BindQueue(qh QueueHandle, eh EOHandle) error {
	q, ok := m.global.Queue(uint32(qh))
	if !ok {
		return ErrQueueNotFound
	}
	e, ok := m.global.EO(uint32(eh))
	if !ok {
		return ErrEONotFound
	}
	if err := q.Bind(uint32(eh)); err != nil {
		return WrapError("queue_bind", err)
	}
	e.AddQueue(uint32(qh))
	return nil
}

// UnbindQueue detaches a queue's EO, moving it from Bound back to Init.
func (m *Machine) UnbindQueue(qh QueueHandle) error {
	q, ok := m.global.Queue(uint32(qh))
	if !ok {
		return ErrQueueNotFound
	}
	eh := q.EO()
	if err := q.Unbind(); err != nil {
		return WrapError("queue_unbind", err)
	}
	if e, ok := m.global.EO(eh); ok {
		e.RemoveQueue(uint32(qh))
	}
	return nil
}

// EnableQueue makes a bound queue visible to the scheduler.
func (m *Machine) EnableQueue(h QueueHandle) error {
	q, ok := m.global.Queue(uint32(h))
	if !ok {
		return ErrQueueNotFound
	}
	if err := q.Enable(); err != nil {
		return WrapError("queue_enable", err)
	}
	return nil
}

// DisableQueue hides a queue from the scheduler without unbinding it.
func (m *Machine) DisableQueue(h QueueHandle) error {
	q, ok := m.global.Queue(uint32(h))
	if !ok {
		return ErrQueueNotFound
	}
	if err := q.Disable(); err != nil {
		return WrapError("queue_disable", err)
	}
	return nil
}

// EventCount reports the number of events currently admitted to an
// Atomic-discipline queue but not yet released by its drainer. Other
// disciplines always report 0.
func (m *Machine) EventCount(h QueueHandle) (int, error) {
	q, ok := m.global.Queue(uint32(h))
	if !ok {
		return 0, ErrQueueNotFound
	}
	return int(q.PendingCount()), nil
}

// SetQueueGroup assigns a queue to a queue group, controlling which cores
// are eligible to dispatch it.
func (m *Machine) SetQueueGroup(qh QueueHandle, gh QueueGroupHandle) error {
	q, ok := m.global.Queue(uint32(qh))
	if !ok {
		return ErrQueueNotFound
	}
	q.SetGroup(uint32(gh))
	return nil
}
