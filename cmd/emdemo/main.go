// Command emdemo boots a small EM instance exercising all three
// scheduling disciplines, drives it with the example ingress and timer
// collaborators, and prints a metrics snapshot on shutdown. Pure
// demonstration code, not part of the module's public contract.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libem/em"
	"github.com/libem/em/examples/ingress"
	"github.com/libem/em/examples/timer"
	"github.com/libem/em/internal/logging"
)

func main() {
	var (
		cores     = flag.Int("cores", 2, "number of dispatch cores")
		verbose   = flag.Bool("v", false, "verbose logging")
		runtimeS  = flag.Int("runtime", 0, "stop automatically after N seconds (0 = run until Ctrl+C)")
		ingressHz = flag.Duration("ingress-interval", 2*time.Millisecond, "ingress event interval")
		timerHz   = flag.Duration("timer-period", 250*time.Millisecond, "timer expiry period")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := em.DefaultConfig()
	cfg.Cores = *cores
	cfg.Logger = logger

	machine, err := em.New(cfg)
	if err != nil {
		logger.Error("failed to initialize machine", "error", err)
		os.Exit(1)
	}

	atomicQ, parallelQ, orderedQ, err := setupQueues(machine)
	if err != nil {
		logger.Error("failed to set up queues", "error", err)
		os.Exit(1)
	}

	if err := machine.Start(); err != nil {
		logger.Error("failed to start machine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := ingress.New(machine, atomicQ, *ingressHz, 64)
	go gen.Run(ctx)

	ts := timer.New(machine, parallelQ, *timerHz)
	go ts.Run(ctx)

	_ = orderedQ // bound to the shared EO in setupQueues; no dedicated generator

	fmt.Printf("emdemo running with %d cores\n", *cores)
	fmt.Println("Press Ctrl+C to stop...")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *runtimeS > 0 {
		select {
		case <-sigCh:
		case <-time.After(time.Duration(*runtimeS) * time.Second):
		}
	} else {
		<-sigCh
	}

	cancel()
	machine.Stop()

	snap := machine.Metrics().Snapshot()
	out, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(out))
}

func setupQueues(m *em.Machine) (atomicQ, parallelQ, orderedQ em.QueueHandle, err error) {
	mock := em.NewMockEO()
	eoHandle, err := m.CreateEO(mock.Receive)
	if err != nil {
		return 0, 0, 0, err
	}
	if err := m.StartEO(eoHandle); err != nil {
		return 0, 0, 0, err
	}

	for _, spec := range []struct {
		d   em.Discipline
		out *em.QueueHandle
	}{
		{em.DisciplineAtomic, &atomicQ},
		{em.DisciplineParallel, &parallelQ},
		{em.DisciplineParallelOrdered, &orderedQ},
	} {
		qh, err := m.CreateQueue(spec.d, 0)
		if err != nil {
			return 0, 0, 0, err
		}
		if err := m.BindQueue(qh, eoHandle); err != nil {
			return 0, 0, 0, err
		}
		if err := m.EnableQueue(qh); err != nil {
			return 0, 0, 0, err
		}
		*spec.out = qh
	}

	return atomicQ, parallelQ, orderedQ, nil
}
