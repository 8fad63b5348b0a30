package em

import (
	"errors"

	"github.com/libem/em/internal/eo"
)

// EOHandle names an execution object in the global EO table.
type EOHandle uint32

// Context is passed to every Receive invocation, carrying the core id and
// queue handle the event was dispatched from.
type Context = eo.Context

// Receive is the application callback invoked once per dispatched event.
// Returning an error does not stop dispatch; it is passed to the EO's
// error handler, if registered, and counted in the core's error metrics
// rather than returned anywhere, matching the run-to-completion model:
// there is nothing upstream to propagate a per-event error to.
type Receive = eo.Receive

// Lifecycle is a start/stop (or start_local/stop_local) callback.
type Lifecycle = eo.Lifecycle

// ErrorHandler is invoked when Receive, start_local or stop_local returns
// an error, if the EO registered one.
type ErrorHandler = eo.ErrorHandler

// EOOption configures an EO at creation time. The zero value of every
// option left unset is a plain receive-only EO, so every existing
// CreateEO(recv) call site keeps compiling unchanged.
type EOOption func(*eo.Options)

// WithName attaches a name (at most MaxEONameLen bytes) to an EO. The
// name is stored on the EO; errors and diagnostics do not include it.
func WithName(name string) EOOption {
	return func(o *eo.Options) { o.Name = name }
}

// WithContext attaches an opaque application context to an EO, recovered
// later through Machine.EOContext or inside a lifecycle/error callback via
// ctx's collaborators.
func WithContext(appContext any) EOOption {
	return func(o *eo.Options) { o.AppContext = appContext }
}

// WithStart registers the EO's global start callback, run once when the
// EO starts, before start_local is propagated to any core.
func WithStart(fn Lifecycle) EOOption {
	return func(o *eo.Options) { o.Start = fn }
}

// WithStartLocal registers the EO's per-core start callback, run once on
// every core eligible to dispatch one of the EO's bound queues.
func WithStartLocal(fn Lifecycle) EOOption {
	return func(o *eo.Options) { o.StartLocal = fn }
}

// WithStop registers the EO's global stop callback, run once after
// stop_local has been acknowledged by every eligible core.
func WithStop(fn Lifecycle) EOOption {
	return func(o *eo.Options) { o.Stop = fn }
}

// WithStopLocal registers the EO's per-core stop callback, run once on
// every core eligible to dispatch one of the EO's bound queues, before
// the global stop callback runs.
func WithStopLocal(fn Lifecycle) EOOption {
	return func(o *eo.Options) { o.StopLocal = fn }
}

// WithErrorHandler registers the EO's error handler, invoked whenever
// Receive, start_local or stop_local returns a non-nil error. An error
// from the global start or stop callback is returned by StartEO/StopEO
// and does not reach the handler.
func WithErrorHandler(fn ErrorHandler) EOOption {
	return func(o *eo.Options) { o.ErrorHandler = fn }
}

// CreateEO registers a new execution object with the given receive
// callback, in StateInit.
func (m *Machine) CreateEO(recv Receive, opts ...EOOption) (EOHandle, error) {
	var o eo.Options
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.Name) > MaxEONameLen {
		return 0, NewError("eo_create", ErrKindTooLarge, "EO name too long")
	}
	e, err := m.global.CreateEO(recv, o)
	if err != nil {
		return 0, WrapError("eo_create", err)
	}
	return EOHandle(e.Handle), nil
}

// DeleteEO retires an EO. All queues bound to it must already be removed.
func (m *Machine) DeleteEO(h EOHandle) error {
	e, ok := m.global.EO(uint32(h))
	if !ok {
		return ErrEONotFound
	}
	if err := e.Delete(); err != nil {
		return WrapError("eo_delete", err)
	}
	return m.global.DeleteEO(uint32(h))
}

// StartEO runs the EO's start callback (if any), propagates start_local to
// every core eligible on one of its bound queues and waits for every one
// of them to acknowledge, and only then moves the EO into StateRunning.
func (m *Machine) StartEO(h EOHandle) error {
	if err := m.global.StartEO(uint32(h)); err != nil {
		return translateEOError("eo_start", err)
	}
	return nil
}

// StopEO propagates stop_local to every eligible core and waits for every
// acknowledgement, runs the EO's stop callback (if any), and only then
// moves a running EO back to StateStopped. Queues stay bound; the
// scheduler simply stops invoking Receive for them.
func (m *Machine) StopEO(h EOHandle) error {
	if err := m.global.StopEO(uint32(h)); err != nil {
		return translateEOError("eo_stop", err)
	}
	return nil
}

// EOContext returns the opaque application context an EO was created
// with, for callers that stashed per-EO state via WithContext.
func (m *Machine) EOContext(h EOHandle) (any, error) {
	e, ok := m.global.EO(uint32(h))
	if !ok {
		return nil, ErrEONotFound
	}
	return e.AppContext(), nil
}

// EOQueues returns the queue handles currently bound to an EO.
func (m *Machine) EOQueues(h EOHandle) ([]QueueHandle, error) {
	e, ok := m.global.EO(uint32(h))
	if !ok {
		return nil, ErrEONotFound
	}
	qs := e.Queues()
	out := make([]QueueHandle, len(qs))
	for i, q := range qs {
		out[i] = QueueHandle(q)
	}
	return out, nil
}

// translateEOError maps the internal eo/tables sentinel errors onto the
// public sentinels and structured kinds callers already match against,
// the same translation CreateEO/DeleteEO get via the ok-checked lookup;
// StartEO/StopEO instead go straight through tables.Global, which does
// its own lookup and returns the internal sentinels directly.
func translateEOError(op string, err error) error {
	if errors.Is(err, eo.ErrNotFound) {
		return ErrEONotFound
	}
	if errors.Is(err, eo.ErrBadState) {
		return NewError(op, ErrKindBadState, "invalid EO state transition")
	}
	return WrapError(op, err)
}
