// Package eo implements the execution object element: the registration
// unit that owns a receive callback, the set of queues feeding it, and
// its start/stop lifecycle callbacks. Propagating start/stop to every
// bound queue's eligible cores (running the *_local variant on each, via
// an internal control queue, gated by an event group) is orchestrated by
// internal/tables, which is the one place that already holds the queue,
// mask and event-group tables this needs; Element itself only stores the
// callbacks and runs them when asked.
package eo

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/libem/em/internal/event"
)

// State mirrors the queue element's lifecycle, with the same Invalid ->
// Init -> ... -> Invalid shape, but EOs have no Bound state: Start and
// Stop move an EO between Running and Stopped, a transition distinct
// from queue binding.
type State int32

const (
	StateInvalid State = iota
	StateInit
	StateStopped
	StateRunning
)

var (
	ErrBadState = errors.New("eo: invalid state transition")
	ErrNotFound = errors.New("eo: not found")
)

// Receive is the application callback invoked once per dispatched event.
// ctx carries the core id the callback is running on, for collaborators
// (timers, ingress) that need to know their execution context.
type Receive func(ctx Context, ev *event.Event) error

// Lifecycle is a start/stop (or start_local/stop_local) callback. It
// receives the Context of the core running it (Queue is 0 for the global
// start/stop variants, which run once rather than per-core).
type Lifecycle func(ctx Context) error

// ErrorHandler is invoked when Receive, start_local or stop_local returns
// an error, if the EO registered one; global start/stop errors are
// returned to the caller instead. A per-event error does not stop
// dispatch; the error handler is the EO's own hook for whatever it wants
// to do about that (count it, log it, escalate it).
type ErrorHandler func(ctx Context, ev *event.Event, err error)

// Context is passed to every receive and lifecycle callback invocation.
type Context struct {
	Core  int
	Queue uint32
}

// Options configures the optional parts of an EO at creation: its name,
// an opaque application context handed back on every callback, the
// start/stop callback pairs, and an error handler. All fields are
// optional; the zero value is a plain receive-only EO.
type Options struct {
	Name         string
	AppContext   any
	Start        Lifecycle
	StartLocal   Lifecycle
	Stop         Lifecycle
	StopLocal    Lifecycle
	ErrorHandler ErrorHandler
}

// Element is a single execution object: its receive callback, lifecycle
// callbacks, and the set of queues currently bound to it.
type Element struct {
	Handle uint32
	Name   string

	appContext any

	state atomic.Int32

	mu     sync.Mutex
	recv   Receive
	queues map[uint32]struct{}

	start, startLocal, stop, stopLocal Lifecycle
	errorHandler                       ErrorHandler
}

// New creates an EO element in StateInit with the given receive callback
// and options.
func New(handle uint32, recv Receive, opts Options) *Element {
	e := &Element{
		Handle:       handle,
		Name:         opts.Name,
		appContext:   opts.AppContext,
		recv:         recv,
		queues:       make(map[uint32]struct{}),
		start:        opts.Start,
		startLocal:   opts.StartLocal,
		stop:         opts.Stop,
		stopLocal:    opts.StopLocal,
		errorHandler: opts.ErrorHandler,
	}
	e.state.Store(int32(StateInit))
	return e
}

// State returns the EO's current lifecycle state.
func (e *Element) State() State { return State(e.state.Load()) }

// AppContext returns the opaque context supplied at creation, for
// collaborators that need to recover their own state from inside a
// lifecycle or error-handler callback.
func (e *Element) AppContext() any { return e.appContext }

// AddQueue records that queueHandle is now bound to this EO. Queue
// binding itself (the queue element's Bind call) is the caller's
// responsibility; this just keeps the EO's membership set current so
// Start/Stop can be propagated to every bound queue.
func (e *Element) AddQueue(queueHandle uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queues[queueHandle] = struct{}{}
}

// RemoveQueue reverses AddQueue.
func (e *Element) RemoveQueue(queueHandle uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.queues, queueHandle)
}

// Queues returns the set of queue handles currently bound to this EO.
func (e *Element) Queues() []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint32, 0, len(e.queues))
	for q := range e.queues {
		out = append(out, q)
	}
	return out
}

// Start moves the EO from Init or Stopped into Running, making its
// queues eligible for dispatch. This is only the state transition; the
// global-callback-then-propagate-then-transition sequence lives in
// tables.Global.StartEO, which calls this once that sequence completes.
func (e *Element) Start() error {
	cur := State(e.state.Load())
	if cur != StateInit && cur != StateStopped {
		return ErrBadState
	}
	if !e.state.CompareAndSwap(int32(cur), int32(StateRunning)) {
		return ErrBadState
	}
	return nil
}

// Stop moves the EO from Running into Stopped, the counterpart to Start.
func (e *Element) Stop() error {
	if !e.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		return ErrBadState
	}
	return nil
}

// Delete retires the EO, moving Stopped/Init -> Invalid. The caller must
// have already removed every bound queue.
func (e *Element) Delete() error {
	cur := State(e.state.Load())
	if cur != StateInit && cur != StateStopped {
		return ErrBadState
	}
	e.mu.Lock()
	n := len(e.queues)
	e.mu.Unlock()
	if n != 0 {
		return ErrBadState
	}
	if !e.state.CompareAndSwap(int32(cur), int32(StateInvalid)) {
		return ErrBadState
	}
	return nil
}

// Invoke calls the EO's receive callback if the EO is currently running.
// Returns false without invoking anything if the EO has since stopped;
// the scheduler still disposes of the event either way. A Receive error
// is surfaced to the registered error handler, if any.
func (e *Element) Invoke(ctx Context, ev *event.Event) (bool, error) {
	if State(e.state.Load()) != StateRunning {
		return false, nil
	}
	err := e.recv(ctx, ev)
	if err != nil && e.errorHandler != nil {
		e.errorHandler(ctx, ev, err)
	}
	return true, err
}

// HasStart reports whether a global start callback is registered.
func (e *Element) HasStart() bool { return e.start != nil }

// HasStop reports whether a global stop callback is registered.
func (e *Element) HasStop() bool { return e.stop != nil }

// HasStartLocal reports whether a per-core start callback is registered.
func (e *Element) HasStartLocal() bool { return e.startLocal != nil }

// HasStopLocal reports whether a per-core stop callback is registered.
func (e *Element) HasStopLocal() bool { return e.stopLocal != nil }

// RunStart invokes the global start callback if one is registered.
func (e *Element) RunStart(ctx Context) error {
	if e.start == nil {
		return nil
	}
	return e.start(ctx)
}

// RunStop invokes the global stop callback if one is registered.
func (e *Element) RunStop(ctx Context) error {
	if e.stop == nil {
		return nil
	}
	return e.stop(ctx)
}

// RunStartLocal invokes the per-core start callback if one is
// registered, for the core named in ctx.
func (e *Element) RunStartLocal(ctx Context) error {
	if e.startLocal == nil {
		return nil
	}
	return e.startLocal(ctx)
}

// RunStopLocal invokes the per-core stop callback if one is registered,
// for the core named in ctx.
func (e *Element) RunStopLocal(ctx Context) error {
	if e.stopLocal == nil {
		return nil
	}
	return e.stopLocal(ctx)
}

// HandleError invokes the EO's registered error handler, if any. Used by
// the lifecycle-propagation control path for errors raised by
// start_local/stop_local, the same hook Invoke uses for Receive errors.
func (e *Element) HandleError(ctx Context, ev *event.Event, err error) {
	if e.errorHandler != nil {
		e.errorHandler(ctx, ev, err)
	}
}
