package em

import (
	"github.com/libem/em/internal/groupmask"
	"github.com/libem/em/internal/tables"
)

// QueueGroupHandle names a queue group's core-affinity mask. Every queue
// belongs to DefaultQueueGroup (eligible on every configured core) until
// explicitly reassigned.
type QueueGroupHandle uint32

// DefaultQueueGroup is eligible on every core configured at init_global.
const DefaultQueueGroup QueueGroupHandle = tables.DefaultQueueGroup

// CoreMask is a bitmask of eligible core ids for a queue group.
type CoreMask = groupmask.Mask

// CreateQueueGroup allocates a new queue group with the given core mask.
func (m *Machine) CreateQueueGroup(mask CoreMask) (QueueGroupHandle, error) {
	h := m.global.NextQueueGroup()
	if !m.global.Masks.Create(h, mask) {
		return 0, NewError("queuegroup_create", ErrKindAllocFailed, "queue group already exists")
	}
	return QueueGroupHandle(h), nil
}

// ModifyQueueGroup replaces the core mask for an existing queue group.
func (m *Machine) ModifyQueueGroup(h QueueGroupHandle, mask CoreMask) error {
	if !m.global.Masks.Modify(uint32(h), mask) {
		return NewError("queuegroup_modify", ErrKindNotFound, "queue group not found")
	}
	return nil
}

// DeleteQueueGroup removes a queue group. Queues still assigned to it stop
// being eligible on any core until reassigned.
func (m *Machine) DeleteQueueGroup(h QueueGroupHandle) error {
	if !m.global.Masks.Delete(uint32(h)) {
		return NewError("queuegroup_delete", ErrKindNotFound, "queue group not found")
	}
	return nil
}
