// Package sched implements the per-core dispatch loop: a CPU-pinned,
// busy-polling worker that scans its eligible queues in priority order
// and drives each discipline's admission and egress rules.
package sched

import (
	"context"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/libem/em/internal/eo"
	"github.com/libem/em/internal/event"
	"github.com/libem/em/internal/eventgroup"
	"github.com/libem/em/internal/logging"
	"github.com/libem/em/internal/queues"
)

func nowNanos() int64 { return time.Now().UnixNano() }

// Observer receives dispatch telemetry. Implementations must not block.
type Observer interface {
	ObserveDispatch(core int, queue uint32, batch int, latencyNs uint64)
	ObserveIdle(core int)
	ObserveError(core int, queue uint32, err error)
}

// NoOpObserver discards all telemetry.
type NoOpObserver struct{}

func (NoOpObserver) ObserveDispatch(int, uint32, int, uint64) {}
func (NoOpObserver) ObserveIdle(int)                          {}
func (NoOpObserver) ObserveError(int, uint32, error)          {}

// Registry gives a core access to the shared tables it needs to dispatch:
// which queues it owns this pass, the EO bound to a queue, the event
// table, and the event-group completion tracker.
type Registry interface {
	QueuesForCore(core int) []*queues.Element
	EO(handle uint32) (*eo.Element, bool)
	EventTable() *event.Table
	GroupTable() *eventgroup.Table
	Send(dstQueue uint32, h event.Handle) error
}

// Config configures a single dispatch core.
type Config struct {
	CoreID      int
	CPUAffinity int // physical CPU to pin to; -1 means no pinning
	Batch       int // max events drained per queue per pass
	Logger      *logging.Logger
	Observer    Observer
	Registry    Registry
	// IdleHint is invoked whenever a full pass finds no runnable queue.
	// It must not block or yield to the OS scheduler; the default is a
	// no-op.
	IdleHint func()
}

// Core is one worker: a CPU-pinned goroutine running the dispatch loop
// for as long as its context stays alive.
type Core struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	dispatched atomic.Uint64
}

// New creates a core bound to the given context. Call Start to launch its
// dispatch loop.
func New(ctx context.Context, cfg Config) *Core {
	if cfg.Batch <= 0 {
		cfg.Batch = 16
	}
	if cfg.Observer == nil {
		cfg.Observer = NoOpObserver{}
	}
	if cfg.IdleHint == nil {
		cfg.IdleHint = func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Core{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the dispatch loop on its own goroutine, pinned to its
// configured CPU.
func (c *Core) Start() {
	go c.loop()
}

// Stop requests the dispatch loop to exit and waits for it to do so.
func (c *Core) Stop() {
	c.cancel()
	<-c.done
}

// Dispatched returns the number of events this core has dispatched since
// start.
func (c *Core) Dispatched() uint64 { return c.dispatched.Load() }

func (c *Core) loop() {
	defer close(c.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var log *logging.Logger
	if c.cfg.Logger != nil {
		log = c.cfg.Logger.WithScope("dispatch", c.cfg.CoreID)
	}

	if c.cfg.CPUAffinity >= 0 {
		var mask unix.CPUSet
		mask.Set(c.cfg.CPUAffinity)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			if log != nil {
				log.Warnf("failed to set CPU affinity to %d: %v", c.cfg.CPUAffinity, err)
			}
		}
	}

	if log != nil {
		log.Debugf("dispatch loop starting")
	}

	for {
		select {
		case <-c.ctx.Done():
			if log != nil {
				log.Debugf("dispatch loop stopping")
			}
			return
		default:
			if !c.pass() {
				c.cfg.Observer.ObserveIdle(c.cfg.CoreID)
				c.cfg.IdleHint()
			}
		}
	}
}

// pass scans every queue eligible for this core and services whichever
// have work, in priority order (highest first). Returns true if any
// event was dispatched.
func (c *Core) pass() bool {
	elems := c.cfg.Registry.QueuesForCore(c.cfg.CoreID)
	sort.Slice(elems, func(i, j int) bool { return elems[i].Priority > elems[j].Priority })

	didWork := false
	for _, q := range elems {
		if q.State() != queues.StateReady {
			continue
		}
		switch q.Discipline {
		case queues.Atomic:
			if c.drainAtomic(q) {
				didWork = true
			}
		case queues.Parallel:
			if c.drainParallel(q) {
				didWork = true
			}
		case queues.ParallelOrdered:
			if c.drainOrdered(q) {
				didWork = true
			}
		}
	}
	return didWork
}

func (c *Core) drainAtomic(q *queues.Element) bool {
	if !q.TryAcquireAtomic() {
		return false
	}
	// Bound the drain by the ordering cell's pending count, not just the
	// batch size: Send enqueues into the ring before bumping the cell, so
	// the ring can momentarily hold more events than the cell accounts
	// for, and consuming one of those here would underflow the count at
	// release.
	limit := c.cfg.Batch
	if pending := int(q.PendingCount()); pending < limit {
		limit = pending
	}
	consumed := uint32(0)
	for i := 0; i < limit; i++ {
		h, _, err := q.Dequeue()
		if err != nil {
			break
		}
		c.deliver(q, h)
		consumed++
	}
	q.ReleaseAtomic(consumed)
	return consumed > 0
}

func (c *Core) drainParallel(q *queues.Element) bool {
	consumed := 0
	for i := 0; i < c.cfg.Batch; i++ {
		h, _, err := q.Dequeue()
		if err != nil {
			break
		}
		c.deliver(q, h)
		consumed++
	}
	return consumed > 0
}

func (c *Core) drainOrdered(q *queues.Element) bool {
	consumed := 0
	for i := 0; i < c.cfg.Batch; i++ {
		h, _, err := q.Dequeue()
		if err != nil {
			break
		}
		c.deliver(q, h)
		consumed++
	}
	return consumed > 0
}

// deliver invokes the bound EO's receive callback for one event, then
// forwards or frees it. Disposal runs even when the EO wasn't running
// (or could not be found) and Receive never fired: the event must still
// be freed (or forwarded)
// and its event-group contribution completed, or a fan-in waiting on it
// would hang forever.
func (c *Core) deliver(q *queues.Element, h event.Handle) {
	start := nowNanos()

	ev, err := c.cfg.Registry.EventTable().Get(h)
	if err != nil {
		c.cfg.Observer.ObserveError(c.cfg.CoreID, q.Handle, err)
		q.MarkDone()
		return
	}

	eoElem, ok := c.cfg.Registry.EO(q.EO())
	if !ok {
		c.cfg.Observer.ObserveError(c.cfg.CoreID, q.Handle, eo.ErrNotFound)
	} else if _, recvErr := eoElem.Invoke(eo.Context{Core: c.cfg.CoreID, Queue: q.Handle}, ev); recvErr != nil {
		c.cfg.Observer.ObserveError(c.cfg.CoreID, q.Handle, recvErr)
	}
	ev.Header.ProcessingDone = 1

	// finish (the actual forward-or-free) must run at the ordered queue's
	// retire point, not just after it, or a later ticket's forward could
	// reach the destination queue before an earlier ticket's. The ticket
	// is the one Send stamped into the header at admission.
	finish := func() {
		c.finishEvent(ev)
	}
	if q.Discipline == queues.ParallelOrdered {
		q.FinalizeOrdered(ev.Header.LockP, finish)
	} else {
		finish()
	}
	q.MarkDone()

	c.dispatched.Add(1)
	c.cfg.Observer.ObserveDispatch(c.cfg.CoreID, q.Handle, 1, uint64(nowNanos()-start))
}

// finishEvent applies an event group completion (if the event belonged to
// one) and then either forwards the event to its next destination queue
// or frees it back to the global table.
func (c *Core) finishEvent(ev *event.Event) {
	if ev.Header.EventGroup != 0 {
		notify, done, err := c.cfg.Registry.GroupTable().Complete(ev.Header.EventGroup)
		if err == nil && done {
			for _, n := range notify {
				_ = c.cfg.Registry.Send(n.DstQueue, n.Event)
			}
		}
	}

	if ev.Header.Operation == event.OpSend && ev.Header.DstQueue != 0 {
		dst := ev.Header.DstQueue
		ev.Header.DstQueue = 0
		ev.Header.Operation = event.OpNone
		_ = c.cfg.Registry.Send(dst, ev.Handle)
		return
	}

	_ = c.cfg.Registry.EventTable().Free(ev.Handle)
}
