// Package tables performs the one-time global bring-up for an EM
// instance: allocating the fixed-size event, queue, EO, event-group and
// queue-group-mask tables, and wiring the default queue group so queues
// created before any explicit queue-group call still dispatch somewhere.
package tables

import (
	"errors"
	"sync"

	"github.com/libem/em/internal/constants"
	"github.com/libem/em/internal/eo"
	"github.com/libem/em/internal/event"
	"github.com/libem/em/internal/eventgroup"
	"github.com/libem/em/internal/groupmask"
	"github.com/libem/em/internal/queues"
)

// DefaultQueueGroup is the queue-group handle every queue belongs to
// until assigned elsewhere, eligible on every core up to Config.Cores.
const DefaultQueueGroup = 1

// Config sizes the global tables and the local per-core state. It is the
// init_global/init_local input: everything a running instance needs to
// know before any queue, EO or event group can be created.
type Config struct {
	Cores          int
	MaxEvents      int
	MaxQueues      int
	MaxEOs         int
	MaxEventGroups int
}

// DefaultConfig mirrors the module's internal/constants defaults.
func DefaultConfig() Config {
	return Config{
		Cores:          1,
		MaxEvents:      constants.DefaultMaxEOs * 4,
		MaxQueues:      constants.DefaultMaxQueues,
		MaxEOs:         constants.DefaultMaxEOs,
		MaxEventGroups: constants.DefaultMaxEventGroups,
	}
}

func (c Config) validate() error {
	if c.Cores <= 0 {
		return errors.New("tables: Cores must be positive")
	}
	if c.Cores > constants.DefaultMaxCores {
		return errors.New("tables: Cores exceeds DefaultMaxCores")
	}
	if c.MaxEvents <= 0 || c.MaxQueues <= 0 || c.MaxEOs <= 0 || c.MaxEventGroups <= 0 {
		return errors.New("tables: table sizes must be positive")
	}
	return nil
}

// Global holds every global table an EM instance needs, plus the handle
// allocators for queues and EOs (the event table manages its own
// allocation internally; queue and EO handles come from monotonic
// counters here and are not reused after a delete).
type Global struct {
	Config Config

	Events *event.Table
	Groups *eventgroup.Table
	Masks  *groupmask.Table

	mu         sync.Mutex
	queues     map[uint32]*queues.Element
	eos        map[uint32]*eo.Element
	nextQueue  uint32
	nextEO     uint32
	nextGroup  uint32
	nextQGroup uint32

	// Control-plane allocations live in the same tables but outside the
	// application's MaxQueues/MaxEOs budget; these counters keep the
	// capacity checks in CreateQueue/CreateEO honest about it.
	internalQueues int
	internalEOs    int

	// EO start/stop propagation control plane; see lifecycle.go.
	controlQueues map[int]*queues.Element
	doneQueue     *queues.Element

	lifecycleMu      sync.Mutex
	lifecycleWaiters map[uint32]chan struct{}
}

// InitGlobal is the bring-up sequence: allocate every global table, then
// install the default queue group eligible on every configured core.
// Grounded on the "one-time bring-up with a structured error on any
// failed step" shape; each step here can fail independently, like a
// device controller's open/configure/start sequence.
func InitGlobal(cfg Config) (*Global, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	g := &Global{
		Config: cfg,
		Events: event.NewTable(cfg.MaxEvents),
		Groups: eventgroup.NewTable(),
		Masks:  groupmask.NewTable(),
		queues: make(map[uint32]*queues.Element),
		eos:    make(map[uint32]*eo.Element),
		// handle 0 is reserved as "no handle" everywhere in this module;
		// queue handles below StaticIDRangeEnd are reserved for
		// application-chosen static ids (CreateStaticQueue), so dynamic
		// and internal queues are numbered from the range end upward.
		nextQueue:  constants.StaticIDRangeEnd,
		nextEO:     1,
		nextGroup:  1,
		nextQGroup: DefaultQueueGroup + 1,
	}

	var mask groupmask.Mask
	for core := 0; core < cfg.Cores; core++ {
		mask = mask.Set(core)
	}
	if !g.Masks.Create(DefaultQueueGroup, mask) {
		return nil, errors.New("tables: failed to install default queue group")
	}

	if err := g.initControlPlane(); err != nil {
		return nil, err
	}

	return g, nil
}

// Static queue id errors.
var (
	ErrBadStaticID   = errors.New("tables: static queue id out of range")
	ErrStaticIDTaken = errors.New("tables: static queue id in use")
)

// CreateStaticQueue allocates a queue element at a caller-chosen id in
// the static range [1, StaticIDRangeEnd), for applications that wire
// well-known queue ids at bring-up instead of passing handles around.
func (g *Global) CreateStaticQueue(id uint32, d queues.Discipline, priority int) (*queues.Element, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id == 0 || id >= constants.StaticIDRangeEnd {
		return nil, ErrBadStaticID
	}
	if _, taken := g.queues[id]; taken {
		return nil, ErrStaticIDTaken
	}
	if len(g.queues)-g.internalQueues >= g.Config.MaxQueues {
		return nil, errors.New("tables: queue table full")
	}

	q := queues.New(id, d, priority, g.Events)
	q.SetGroup(DefaultQueueGroup)
	g.queues[id] = q
	return q, nil
}

// CreateQueue allocates a queue element and registers it in the global
// queue table, defaulting it to the default queue group.
func (g *Global) CreateQueue(d queues.Discipline, priority int) (*queues.Element, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.queues)-g.internalQueues >= g.Config.MaxQueues {
		return nil, errors.New("tables: queue table full")
	}
	h := g.nextQueue
	g.nextQueue++

	q := queues.New(h, d, priority, g.Events)
	q.SetGroup(DefaultQueueGroup)
	g.queues[h] = q
	return q, nil
}

// EventTable returns the global event table, satisfying sched.Registry.
func (g *Global) EventTable() *event.Table { return g.Events }

// GroupTable returns the global event-group table, satisfying
// sched.Registry.
func (g *Global) GroupTable() *eventgroup.Table { return g.Groups }

// Queue looks up a queue element by handle.
func (g *Global) Queue(handle uint32) (*queues.Element, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.queues[handle]
	return q, ok
}

// DeleteQueue removes a queue from the global table. The element itself
// must already be in StateInvalid (i.e. its own Delete already ran).
func (g *Global) DeleteQueue(handle uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.queues[handle]; !ok {
		return queues.ErrNotFound
	}
	delete(g.queues, handle)
	return nil
}

// CreateEO allocates an EO element and registers it in the global EO
// table.
func (g *Global) CreateEO(recv eo.Receive, opts eo.Options) (*eo.Element, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.eos)-g.internalEOs >= g.Config.MaxEOs {
		return nil, errors.New("tables: EO table full")
	}
	h := g.nextEO
	g.nextEO++

	e := eo.New(h, recv, opts)
	g.eos[h] = e
	return e, nil
}

// EO looks up an EO element by handle.
func (g *Global) EO(handle uint32) (*eo.Element, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.eos[handle]
	return e, ok
}

// DeleteEO removes an EO from the global table.
func (g *Global) DeleteEO(handle uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.eos[handle]; !ok {
		return eo.ErrNotFound
	}
	delete(g.eos, handle)
	return nil
}

// NextEventGroup reserves the next event-group handle. The caller still
// has to call Groups.Create with it.
func (g *Global) NextEventGroup() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.nextGroup
	g.nextGroup++
	return h
}

// NextQueueGroup reserves the next queue-group handle, for groups beyond
// the pre-installed DefaultQueueGroup.
func (g *Global) NextQueueGroup() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.nextQGroup
	g.nextQGroup++
	return h
}

// QueuesForCore returns every queue, in any state, whose queue group is
// eligible on the given core; the dispatcher itself skips queues that are
// not Ready. It stands in for init_local's per-core state: the read path
// every dispatch pass uses, built from the global queue table plus the
// wait-free queue-group mask table.
func (g *Global) QueuesForCore(core int) []*queues.Element {
	g.mu.Lock()
	all := make([]*queues.Element, 0, len(g.queues))
	for _, q := range g.queues {
		all = append(all, q)
	}
	g.mu.Unlock()

	out := all[:0]
	for _, q := range all {
		mask := g.Masks.Lookup(q.Group())
		if mask.Has(core) {
			out = append(out, q)
		}
	}
	return out
}

// Send delivers an event handle to a queue by handle, the global
// counterpart to an Element's own Send used once a destination queue is
// known only by its handle (group-notification fan-out, event
// forwarding).
func (g *Global) Send(dstQueue uint32, h event.Handle) error {
	q, ok := g.Queue(dstQueue)
	if !ok {
		return queues.ErrNotFound
	}
	return q.Send(h)
}
