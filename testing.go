package em

import "sync"

// MockEO is a Receive callback plus call-count tracking, for tests that
// need to assert an EO was invoked without wiring a real application
// handler.
type MockEO struct {
	mu         sync.Mutex
	calls      int
	lastCtx    Context
	lastHeader EventHeader
	lastErr    error
	events     []EventHandle

	// RecvFunc, when set, is invoked by Receive after recording the call.
	// Its return value becomes Receive's return value.
	RecvFunc func(ctx Context, ev *Event) error
}

// NewMockEO creates a MockEO with no custom RecvFunc: its Receive always
// succeeds.
func NewMockEO() *MockEO {
	return &MockEO{}
}

// Receive implements the Receive signature expected by CreateEO.
func (m *MockEO) Receive(ctx Context, ev *Event) error {
	m.mu.Lock()
	m.calls++
	m.lastCtx = ctx
	m.lastHeader = ev.Header
	m.events = append(m.events, ev.Handle)
	m.mu.Unlock()

	var err error
	if m.RecvFunc != nil {
		err = m.RecvFunc(ctx, ev)
	}

	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	return err
}

// Calls returns how many times Receive has been invoked.
func (m *MockEO) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastContext returns the Context of the most recent Receive call.
func (m *MockEO) LastContext() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCtx
}

// LastHeader returns the event header of the most recent Receive call.
func (m *MockEO) LastHeader() EventHeader {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

// LastError returns the error returned by the most recent Receive call.
func (m *MockEO) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Events returns the handles of every event Receive has seen, in order.
func (m *MockEO) Events() []EventHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventHandle, len(m.events))
	copy(out, m.events)
	return out
}

// Reset clears all call tracking.
func (m *MockEO) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = 0
	m.lastCtx = Context{}
	m.lastHeader = EventHeader{}
	m.lastErr = nil
	m.events = nil
}
