// Package groupmask implements the queue-group core-affinity mask: which
// cores are eligible to dispatch queues belonging to a given queue group.
// Reads happen on every dispatch pass and must be wait-free; writes are
// rare (queue-group create/modify/delete) and may serialize against each
// other.
package groupmask

import (
	"sync"
	"sync/atomic"
)

// Mask is a fixed-width bitmask of eligible cores. 64 bits covers
// constants.DefaultMaxCores; deployments with more cores would widen this,
// but that's outside this module's scope.
type Mask uint64

// Set returns a new mask with core added.
func (m Mask) Set(core int) Mask { return m | (1 << uint(core)) }

// Clear returns a new mask with core removed.
func (m Mask) Clear(core int) Mask { return m &^ (1 << uint(core)) }

// Has reports whether core is eligible under this mask.
func (m Mask) Has(core int) bool { return m&(1<<uint(core)) != 0 }

type table map[uint32]Mask

// Table holds the queue-group -> core-mask mapping. Every write replaces
// the whole map behind an atomic.Pointer, so readers on the dispatch hot
// path never take a lock.
type Table struct {
	writeMu sync.Mutex
	current atomic.Pointer[table]
}

// NewTable creates an empty queue-group mask table.
func NewTable() *Table {
	t := &Table{}
	m := make(table)
	t.current.Store(&m)
	return t
}

// Lookup returns the mask for a queue group, or 0 if the group doesn't
// exist (meaning: eligible on no core, so its queues never get scheduled).
func (t *Table) Lookup(group uint32) Mask {
	cur := *t.current.Load()
	return cur[group]
}

// Create installs a mask for a new queue group. Returns false if the
// group already exists.
func (t *Table) Create(group uint32, mask Mask) bool {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	cur := *t.current.Load()
	if _, exists := cur[group]; exists {
		return false
	}
	next := cloneTable(cur)
	next[group] = mask
	t.current.Store(&next)
	return true
}

// Modify replaces the mask for an existing queue group. Returns false if
// the group doesn't exist.
func (t *Table) Modify(group uint32, mask Mask) bool {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	cur := *t.current.Load()
	if _, exists := cur[group]; !exists {
		return false
	}
	next := cloneTable(cur)
	next[group] = mask
	t.current.Store(&next)
	return true
}

// Delete removes a queue group's mask. Returns false if it didn't exist.
func (t *Table) Delete(group uint32) bool {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	cur := *t.current.Load()
	if _, exists := cur[group]; !exists {
		return false
	}
	next := cloneTable(cur)
	delete(next, group)
	t.current.Store(&next)
	return true
}

func cloneTable(src table) table {
	dst := make(table, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
