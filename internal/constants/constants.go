// Package constants holds the compile-time limits and defaults of the
// dispatch core: table sizes, ring capacities, and id space boundaries.
package constants

// Static id space. Queue handles below StaticIDRangeEnd are reserved for
// application-assigned static ids (handle 0 stays reserved as "no
// handle"); internal control queues and dynamically allocated queues are
// numbered from StaticIDRangeEnd upward, internal first since they are
// minted during bring-up.
const (
	StaticIDRangeEnd = 256
)

// NumPriorities is the number of strict priority levels. Higher values
// run first within a core's dispatch pass.
const NumPriorities = 4

// Name length limits, exposed through the root package. Naming helpers
// themselves (registries, lookup by name) are an outer-surface concern
// and live with the applications that want them.
const (
	MaxQueueNameLen      = 32
	MaxEONameLen         = 32
	MaxQueueGroupNameLen = 32
)

// Table sizing defaults for init_global. Overridable via em.Config.
const (
	DefaultMaxCores       = 64
	DefaultMaxQueues      = 4096
	DefaultMaxEOs         = 4096
	DefaultMaxEventGroups = 1024
	DefaultMaxQueueGroups = 64
)

// Ring capacities per scheduling discipline. Parallel-ordered queues use
// the shallower ring since the egress-ordering hand-off limits useful
// depth.
const (
	AtomicRingCapacity          = 4096
	ParallelRingCapacity        = 4096
	ParallelOrderedRingCapacity = 1024
)

// DefaultDispatchBatch bounds how many events a core takes from one queue
// per dispatch round, so one busy queue cannot starve the others sharing a
// queue group.
const DefaultDispatchBatch = 16
