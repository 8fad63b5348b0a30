package em

import "github.com/libem/em/internal/eventgroup"

// EventGroupHandle names a fan-in completion tracker.
type EventGroupHandle uint32

// Notification names an event to send to a destination queue once an
// event group's remaining contribution count reaches zero.
type Notification = eventgroup.Notification

// CreateEventGroup allocates a new, unarmed event group. Arm it with
// ApplyEventGroup before tagging any events with it.
func (m *Machine) CreateEventGroup() (EventGroupHandle, error) {
	h := m.global.NextEventGroup()
	if err := m.global.Groups.Create(h); err != nil {
		return 0, WrapError("eventgroup_create", err)
	}
	return EventGroupHandle(h), nil
}

// ApplyEventGroup arms the group: sets its remaining contribution count
// to count and records the notification events fired exactly once the
// count reaches zero. Arming an already-armed group, or arming with a
// non-positive count, fails. A group whose countdown already fired may
// be re-armed.
func (m *Machine) ApplyEventGroup(h EventGroupHandle, count int64, notify []Notification) error {
	if err := m.global.Groups.Apply(uint32(h), count, notify); err != nil {
		return WrapError("eventgroup_apply", err)
	}
	return nil
}

// CompleteEventGroup applies one contribution's completion directly, for
// callers that finish work outside the normal dispatch path (e.g. a
// collaborator finishing I/O without routing back through an EO). This is
// the same hook the dispatcher itself runs automatically when a tagged
// event's receive call returns; it does not widen the expected count the
// way IncrementEventGroup does. Returns the group's notification
// events exactly once, the call during which the count reaches zero.
func (m *Machine) CompleteEventGroup(h EventGroupHandle) ([]Notification, bool, error) {
	notify, done, err := m.global.Groups.Complete(uint32(h))
	if err != nil {
		return nil, false, WrapError("eventgroup_complete", err)
	}
	return notify, done, nil
}

// IncrementEventGroup adds k to an armed group's remaining
// expected-contribution count, growing its fan-in rather than completing
// a contribution.
func (m *Machine) IncrementEventGroup(h EventGroupHandle, k int64) error {
	if err := m.global.Groups.Increment(uint32(h), k); err != nil {
		return WrapError("eventgroup_increment", err)
	}
	return nil
}

// DeleteEventGroup removes a group. Completes and increments racing with
// a concurrent delete observe an error rather than silently completing.
func (m *Machine) DeleteEventGroup(h EventGroupHandle) error {
	if err := m.global.Groups.Delete(uint32(h)); err != nil {
		return WrapError("eventgroup_delete", err)
	}
	return nil
}
