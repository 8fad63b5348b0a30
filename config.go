package em

import (
	"github.com/libem/em/internal/constants"
	"github.com/libem/em/internal/logging"
)

// Compile-time limits of the dispatch core.
const (
	// MaxCores bounds Config.Cores; a core mask fits one 64-bit word.
	MaxCores = constants.DefaultMaxCores
	// MaxQueueGroups is the nominal queue-group table size. The mask
	// table itself is map-backed and doesn't hard-enforce it.
	MaxQueueGroups = constants.DefaultMaxQueueGroups
	// NumPriorities is the number of strict priority levels accepted by
	// CreateQueue.
	NumPriorities = constants.NumPriorities
	// StaticQueueIDRangeEnd bounds the static queue id range accepted by
	// WithStaticID; dynamic handles are allocated at or above it.
	StaticQueueIDRangeEnd = constants.StaticIDRangeEnd

	MaxQueueNameLen      = constants.MaxQueueNameLen
	MaxEONameLen         = constants.MaxEONameLen
	MaxQueueGroupNameLen = constants.MaxQueueGroupNameLen
)

// Config sizes and configures a Machine. It is the init_global/init_local
// input: table sizes, the core count and their CPU pinning, dispatch
// batch size, and the ambient logging/metrics hooks. Struct-based by
// design, mirroring a DeviceParams/DefaultParams shape rather
// than a functional-options API.
type Config struct {
	// Cores is the number of dispatch cores to run.
	Cores int
	// CPUAffinity maps core index -> physical CPU id. A nil or short slice
	// leaves the corresponding cores unpinned.
	CPUAffinity []int

	MaxEvents      int
	MaxQueues      int
	MaxEOs         int
	MaxEventGroups int

	// Batch is the maximum number of events drained from one queue per
	// dispatch pass before moving on to the next queue.
	Batch int

	Logger *logging.Logger

	// IdleHint is invoked by every core whenever a dispatch pass finds no
	// runnable queue. It must never block or yield to the OS scheduler.
	// When nil, the core uses a no-op.
	IdleHint func()
}

// DefaultConfig returns a Config suitable for a single-core instance with
// no CPU pinning.
func DefaultConfig() Config {
	return Config{
		Cores:          1,
		CPUAffinity:    nil,
		MaxEvents:      16384,
		MaxQueues:      4096,
		MaxEOs:         4096,
		MaxEventGroups: 1024,
		Batch:          16,
		Logger:         logging.Default(),
	}
}

func (c Config) affinityFor(core int) int {
	if core < len(c.CPUAffinity) {
		return c.CPUAffinity[core]
	}
	return -1
}
