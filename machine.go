// Package em implements a run-to-completion, multi-core event dispatcher:
// execution objects (EOs) registered against queues, a fixed pool of
// worker cores, and three scheduling disciplines (atomic, parallel,
// parallel-ordered). See Config and New to bring up an instance.
package em

import (
	"context"
	"sync"

	"github.com/libem/em/internal/logging"
	"github.com/libem/em/internal/sched"
	"github.com/libem/em/internal/tables"
)

// Machine is a running EM instance: the global tables plus one dispatch
// core per configured core id.
type Machine struct {
	cfg     Config
	global  *tables.Global
	metrics *Metrics
	logger  *logging.Logger

	mu      sync.Mutex
	started bool
	cores   []*sched.Core
	cancel  context.CancelFunc
}

// New performs init_global: allocates every global table from cfg and
// returns a Machine ready to have queues, EOs and event groups created on
// it. Call Start to bring up the dispatch cores (init_local).
func New(cfg Config) (*Machine, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	tcfg := tables.Config{
		Cores:          cfg.Cores,
		MaxEvents:      cfg.MaxEvents,
		MaxQueues:      cfg.MaxQueues,
		MaxEOs:         cfg.MaxEOs,
		MaxEventGroups: cfg.MaxEventGroups,
	}
	g, err := tables.InitGlobal(tcfg)
	if err != nil {
		return nil, WrapError("init_global", err)
	}

	return &Machine{
		cfg:     cfg,
		global:  g,
		metrics: NewMetrics(),
		logger:  cfg.Logger,
	}, nil
}

// Metrics returns the instance's metrics collector.
func (m *Machine) Metrics() *Metrics { return m.metrics }

// Start performs init_local: launches one CPU-pinned dispatch core per
// configured core id. Queues, EOs and event groups may still be created,
// bound and enabled after Start; the scheduler simply won't see a queue
// until it reaches StateReady.
func (m *Machine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return NewError("machine_start", ErrKindBadState, "already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	obs := schedObserver{m: m.metrics}
	cores := make([]*sched.Core, m.cfg.Cores)
	for i := 0; i < m.cfg.Cores; i++ {
		cores[i] = sched.New(ctx, sched.Config{
			CoreID:      i,
			CPUAffinity: m.cfg.affinityFor(i),
			Batch:       m.cfg.Batch,
			Logger:      m.logger,
			Observer:    obs,
			Registry:    m.global,
			IdleHint:    m.cfg.IdleHint,
		})
	}

	for _, c := range cores {
		c.Start()
	}
	m.cores = cores
	m.started = true
	return nil
}

// Stop signals every dispatch core to exit and waits for them to do so.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	for _, c := range m.cores {
		c.Stop()
	}
	m.cancel()
	m.metrics.Stop()
	m.started = false
}
