// Package eventgroup implements fan-in completion tracking: an
// application creates a group, arms it with Apply to expect N
// contributions, the dispatcher completes it once per tagged event as
// they finish, and the caller is handed the group's notification events
// back once the count reaches zero. A completed group may be re-armed
// with another Apply; Increment widens an armed group's fan-in.
package eventgroup

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/libem/em/internal/event"
)

var (
	ErrExists         = errors.New("eventgroup: already exists")
	ErrNotFound       = errors.New("eventgroup: not found")
	ErrDeleted        = errors.New("eventgroup: deleted")
	ErrBadCount       = errors.New("eventgroup: count must be positive")
	ErrAlreadyApplied = errors.New("eventgroup: already armed")
	ErrNotApplied     = errors.New("eventgroup: not armed")
)

// Notification names an event ready to be sent to a destination queue
// once a group completes.
type Notification struct {
	DstQueue uint32
	Event    event.Handle
}

type group struct {
	// remaining doubles as the armed flag: zero means unarmed (or
	// completed and re-armable), positive means that many contributions
	// are still outstanding.
	remaining atomic.Int64
	deleted   atomic.Bool

	mu     sync.Mutex // guards notify swap against a racing Apply
	notify []Notification
}

// Table holds all live event groups, keyed by handle.
type Table struct {
	mu     sync.RWMutex
	groups map[uint32]*group
}

// NewTable creates an empty event-group table.
func NewTable() *Table {
	return &Table{groups: make(map[uint32]*group)}
}

func (t *Table) lookup(handle uint32) (*group, error) {
	t.mu.RLock()
	g, ok := t.groups[handle]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if g.deleted.Load() {
		return nil, ErrDeleted
	}
	return g, nil
}

// Create allocates a new, unarmed event group. Arm it with Apply before
// tagging any events with it.
func (t *Table) Create(handle uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.groups[handle]; exists {
		return ErrExists
	}
	t.groups[handle] = &group{}
	return nil
}

// Apply arms the group: sets its remaining contribution count to count
// and records the notification events to fire once it reaches zero.
// Arming an already-armed group, or arming with a non-positive count,
// is an error. A group whose countdown already fired may be re-armed.
func (t *Table) Apply(handle uint32, count int64, notify []Notification) error {
	if count <= 0 {
		return ErrBadCount
	}
	g, err := t.lookup(handle)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.remaining.Load() != 0 {
		return ErrAlreadyApplied
	}
	g.notify = notify
	g.remaining.Store(count)
	return nil
}

// Complete applies one contribution's completion to the group: the
// automatic hook the dispatcher runs when an event tagged with this
// group finishes its receive call. It returns the group's notification
// events (and true) exactly once, the call during which the countdown
// reaches zero; all other calls return (nil, false).
func (t *Table) Complete(handle uint32) ([]Notification, bool, error) {
	g, err := t.lookup(handle)
	if err != nil {
		return nil, false, err
	}

	remaining := g.remaining.Add(-1)
	switch {
	case remaining == 0:
		return g.notify, true, nil
	case remaining < 0:
		g.remaining.Add(1)
		return nil, false, ErrNotApplied
	default:
		return nil, false, nil
	}
}

// Increment adds k to an armed group's remaining expected-contribution
// count, independent of and without interacting with the per-event
// Complete hook's countdown-to-zero check. Used by a caller that wants
// to widen an already-armed group's fan-in (e.g. discovering more work
// after Apply already ran).
func (t *Table) Increment(handle uint32, k int64) error {
	g, err := t.lookup(handle)
	if err != nil {
		return err
	}
	if g.remaining.Load() == 0 {
		return ErrNotApplied
	}
	g.remaining.Add(k)
	return nil
}

// Delete removes a group. Completes and increments racing with a
// concurrent delete observe an error rather than silently completing.
func (t *Table) Delete(handle uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.groups[handle]
	if !ok {
		return ErrNotFound
	}
	g.deleted.Store(true)
	delete(t.groups, handle)
	return nil
}
