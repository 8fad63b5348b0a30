package tables

import (
	"encoding/binary"
	"errors"

	"github.com/libem/em/internal/event"
	"github.com/libem/em/internal/eo"
	"github.com/libem/em/internal/eventgroup"
	"github.com/libem/em/internal/groupmask"
	"github.com/libem/em/internal/queues"
)

// controlPriority puts the lifecycle control queues ahead of every
// application queue in a core's dispatch pass, so a start/stop call
// doesn't wait behind a busy application queue to get serviced.
const controlPriority = 1 << 30

// initControlPlane brings up the EO start/stop propagation machinery: one
// control queue per configured core (bound to a single internal control
// EO) and one completion queue (bound to a single internal "done" EO).
// Grounded on go-ublk's Device, which runs the same shape of sequencing
// by hand in Go rather than through a generic mechanism: bring up N
// per-queue Runners, then flip the device live; tear the Runners down,
// then retire the device. Here the "per-queue Runner" becomes "per-core
// control queue", generalized so any EO can ask for the same sequencing
// instead of it being wired once for one device type.
func (g *Global) initControlPlane() error {
	g.lifecycleWaiters = make(map[uint32]chan struct{})
	g.controlQueues = make(map[int]*queues.Element)

	// The control plane's own EOs and queues are bring-up infrastructure,
	// not application allocations, so they're minted through
	// createInternalEO/createInternalQueue rather than CreateEO/CreateQueue:
	// a deployment configuring MaxEOs/MaxQueues down to its exact expected
	// application usage shouldn't find its budget silently short by
	// Cores+1 queues and 2 EOs.
	controlEO, err := g.createInternalEO(g.controlReceive, eo.Options{Name: "em.control"})
	if err != nil {
		return err
	}
	if err := controlEO.Start(); err != nil {
		return err
	}

	for core := 0; core < g.Config.Cores; core++ {
		q, err := g.createInternalQueue(queues.Atomic, controlPriority)
		if err != nil {
			return err
		}
		groupHandle := g.NextQueueGroup()
		if !g.Masks.Create(groupHandle, groupmask.Mask(0).Set(core)) {
			return errors.New("tables: failed to install control queue group")
		}
		q.SetGroup(groupHandle)
		if err := q.Bind(controlEO.Handle); err != nil {
			return err
		}
		controlEO.AddQueue(q.Handle)
		if err := q.Enable(); err != nil {
			return err
		}
		g.controlQueues[core] = q
	}

	doneEO, err := g.createInternalEO(g.doneReceive, eo.Options{Name: "em.lifecycle_done"})
	if err != nil {
		return err
	}
	if err := doneEO.Start(); err != nil {
		return err
	}
	doneQueue, err := g.createInternalQueue(queues.Atomic, controlPriority)
	if err != nil {
		return err
	}
	if err := doneQueue.Bind(doneEO.Handle); err != nil {
		return err
	}
	doneEO.AddQueue(doneQueue.Handle)
	if err := doneQueue.Enable(); err != nil {
		return err
	}
	g.doneQueue = doneQueue

	return nil
}

// createInternalEO mints an EO outside the application's MaxEOs budget,
// for the control plane's own fixed, small set of EOs.
func (g *Global) createInternalEO(recv eo.Receive, opts eo.Options) (*eo.Element, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.nextEO
	g.nextEO++
	e := eo.New(h, recv, opts)
	g.eos[h] = e
	g.internalEOs++
	return e, nil
}

// createInternalQueue mints a queue outside the application's MaxQueues
// budget, for the control plane's own fixed, small set of queues.
func (g *Global) createInternalQueue(d queues.Discipline, priority int) (*queues.Element, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.nextQueue
	g.nextQueue++
	q := queues.New(h, d, priority, g.Events)
	q.SetGroup(DefaultQueueGroup)
	g.queues[h] = q
	g.internalQueues++
	return q, nil
}

// controlReceive is the internal control EO's Receive: it decodes which
// EO and which of start_local/stop_local a control event asks this core
// to run, and runs it. The event stays tagged with the lifecycle call's
// event group, so the scheduler's own finishEvent completes that group
// automatically once this returns, exactly like any other tagged event.
func (g *Global) controlReceive(ctx eo.Context, ev *event.Event) error {
	if len(ev.Payload) < 5 {
		return errors.New("tables: malformed lifecycle control payload")
	}
	targetHandle := binary.LittleEndian.Uint32(ev.Payload[0:4])
	stop := ev.Payload[4] != 0

	target, ok := g.EO(targetHandle)
	if !ok {
		return eo.ErrNotFound
	}

	lctx := eo.Context{Core: ctx.Core, Queue: ctx.Queue}
	var err error
	if stop {
		err = target.RunStopLocal(lctx)
	} else {
		err = target.RunStartLocal(lctx)
	}
	if err != nil {
		target.HandleError(lctx, ev, err)
	}
	return nil
}

// doneReceive is the internal completion EO's Receive: a lifecycle call's
// event group notification arrives here once every targeted core has
// acknowledged, and this wakes the goroutine blocked in propagateLocal.
func (g *Global) doneReceive(_ eo.Context, ev *event.Event) error {
	if len(ev.Payload) < 4 {
		return errors.New("tables: malformed lifecycle-done payload")
	}
	groupHandle := binary.LittleEndian.Uint32(ev.Payload[0:4])

	g.lifecycleMu.Lock()
	ch, ok := g.lifecycleWaiters[groupHandle]
	g.lifecycleMu.Unlock()
	if ok {
		close(ch)
	}
	return nil
}

// eligibleCores returns every core eligible to dispatch at least one of
// the EO's currently bound queues, i.e. the union of their queue-group
// masks. An EO with no bound queues (or none whose group maps to any
// core) has nothing to propagate *_local to.
func (g *Global) eligibleCores(e *eo.Element) []int {
	var combined groupmask.Mask
	for _, qh := range e.Queues() {
		q, ok := g.Queue(qh)
		if !ok {
			continue
		}
		combined |= g.Masks.Lookup(q.Group())
	}
	var cores []int
	for c := 0; c < g.Config.Cores; c++ {
		if combined.Has(c) {
			cores = append(cores, c)
		}
	}
	return cores
}

// propagateLocal sends one control event per eligible core, asking it to
// run the target EO's start_local (stop=false) or stop_local (stop=true)
// callback, and blocks until an event group confirms every core has
// acknowledged. A core this couldn't reach (a full control ring, or a
// missing control queue) is completed on its behalf immediately rather
// than left to hang the caller forever.
func (g *Global) propagateLocal(target *eo.Element, cores []int, stop bool) error {
	if len(cores) == 0 {
		return nil
	}

	groupHandle := g.NextEventGroup()

	notifEv, err := g.Events.Alloc(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(notifEv.Payload[0:4], groupHandle)

	done := make(chan struct{})
	g.lifecycleMu.Lock()
	g.lifecycleWaiters[groupHandle] = done
	g.lifecycleMu.Unlock()
	defer func() {
		g.lifecycleMu.Lock()
		delete(g.lifecycleWaiters, groupHandle)
		g.lifecycleMu.Unlock()
	}()

	notify := []eventgroup.Notification{{DstQueue: g.doneQueue.Handle, Event: notifEv.Handle}}
	if err := g.Groups.Create(groupHandle); err != nil {
		_ = g.Events.Free(notifEv.Handle)
		return err
	}
	defer g.Groups.Delete(groupHandle)
	if err := g.Groups.Apply(groupHandle, int64(len(cores)), notify); err != nil {
		_ = g.Events.Free(notifEv.Handle)
		return err
	}

	op := byte(0)
	if stop {
		op = 1
	}

	for _, c := range cores {
		q, ok := g.controlQueues[c]
		if !ok {
			g.completeMissingContribution(groupHandle)
			continue
		}
		ctrlEv, err := g.Events.Alloc(8)
		if err != nil {
			g.completeMissingContribution(groupHandle)
			continue
		}
		binary.LittleEndian.PutUint32(ctrlEv.Payload[0:4], target.Handle)
		ctrlEv.Payload[4] = op
		ctrlEv.Header.EventGroup = groupHandle

		if err := q.Send(ctrlEv.Handle); err != nil {
			_ = g.Events.Free(ctrlEv.Handle)
			g.completeMissingContribution(groupHandle)
		}
	}

	<-done
	return nil
}

// completeMissingContribution accounts for a control event that could
// never be delivered, the same completion hook the scheduler runs for
// events that actually reached their target core.
func (g *Global) completeMissingContribution(groupHandle uint32) {
	notify, done, err := g.Groups.Complete(groupHandle)
	if err != nil || !done {
		return
	}
	for _, n := range notify {
		_ = g.Send(n.DstQueue, n.Event)
	}
}

// StartEO runs the EO's global start callback (if any), propagates
// start_local to every core eligible on one of its bound queues (if any
// is registered), waits for all of them to acknowledge, and only then
// marks the EO Running. Grounded on go-ublk's Device.Start sequencing:
// every runner started, then the device flipped live.
func (g *Global) StartEO(handle uint32) error {
	e, ok := g.EO(handle)
	if !ok {
		return eo.ErrNotFound
	}
	if cur := e.State(); cur != eo.StateInit && cur != eo.StateStopped {
		return eo.ErrBadState
	}

	if err := e.RunStart(eo.Context{Core: -1}); err != nil {
		return err
	}
	if e.HasStartLocal() {
		if err := g.propagateLocal(e, g.eligibleCores(e), false); err != nil {
			return err
		}
	}
	return e.Start()
}

// StopEO propagates stop_local to every eligible core first, waits for
// every acknowledgement, then runs the EO's global stop callback (if
// any), and only then marks the EO Stopped. Grounded on go-ublk's
// Device.StopAndDelete: every runner closed before the device's global
// ctrl.StopDevice/DeleteDevice calls.
func (g *Global) StopEO(handle uint32) error {
	e, ok := g.EO(handle)
	if !ok {
		return eo.ErrNotFound
	}
	if e.State() != eo.StateRunning {
		return eo.ErrBadState
	}

	if e.HasStopLocal() {
		if err := g.propagateLocal(e, g.eligibleCores(e), true); err != nil {
			return err
		}
	}
	if err := e.RunStop(eo.Context{Core: -1}); err != nil {
		return err
	}
	return e.Stop()
}
