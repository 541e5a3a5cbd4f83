// mill_bench drives the work-stealing scheduler and the STM engine with a
// synthetic workload: N contexts, each yielding a few times and bumping a
// shared transactional counter, spread across P engines. It reports wall
// time and verifies that no increment was lost.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/millvm/mill/core/sched"
	"github.com/millvm/mill/core/stm"
	"github.com/millvm/mill/pkg/config"
	"github.com/millvm/mill/pkg/logger"
	"github.com/millvm/mill/pkg/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file (optional)")
		engines    = flag.Int("P", 0, "engine count; overrides the config file, 0 means one per CPU")
		contexts   = flag.Int("n", 1000, "number of contexts to spawn")
		yields     = flag.Int("yields", 3, "suspension points per context")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mill_bench: %v\n", err)
			os.Exit(1)
		}
	}
	if *engines > 0 {
		cfg.Scheduler.Engines = *engines
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mill_bench: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	tel, telShutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		log.Fatal("telemetry setup failed", zap.Error(err))
	}
	defer telShutdown(context.Background())

	schedMetrics, err := telemetry.NewSchedulerMetrics(tel.Meter)
	if err != nil {
		log.Fatal("metric setup failed", zap.Error(err))
	}
	stmMetrics, err := telemetry.NewSTMMetrics(tel.Meter)
	if err != nil {
		log.Fatal("metric setup failed", zap.Error(err))
	}

	pool, err := sched.New(sched.Config{
		Engines:             cfg.Scheduler.Engines,
		StealAdviceInterval: time.Duration(cfg.Scheduler.StealAdviceIntervalMs) * time.Millisecond,
		QueueCapacity:       cfg.Scheduler.QueueCapacity,
	}, log, schedMetrics)
	if err != nil {
		log.Fatal("scheduler setup failed", zap.Error(err))
	}

	eng := stm.New(log, stmMetrics)
	counter := eng.NewVar(0)

	start := time.Now()
	pool.Start()
	for i := 0; i < *contexts; i++ {
		if err := pool.Spawn(sched.NewContext(workload(eng, counter, *yields))); err != nil {
			log.Fatal("spawn failed", zap.Error(err))
		}
	}

	// Block until every increment has landed, using the STM wait protocol
	// itself: retry until the counter reaches the target.
	if err := eng.Atomically(func(tx *stm.Txn) error {
		if tx.Read(counter).(int) < *contexts {
			return tx.Retry()
		}
		return nil
	}); err != nil {
		log.Fatal("wait failed", zap.Error(err))
	}
	elapsed := time.Since(start)
	pool.Stop()

	final := eng.ReadCommitted(counter).(int)
	log.Info("benchmark finished",
		zap.Int("engines", pool.NumEngines()),
		zap.Int("contexts", *contexts),
		zap.Int("counter", final),
		zap.Duration("elapsed", elapsed))
	if final != *contexts {
		log.Fatal("lost increments", zap.Int("expected", *contexts), zap.Int("got", final))
	}
}

// workload builds a context body: yield the requested number of times, then
// atomically bump the shared counter.
func workload(eng *stm.Engine, counter *stm.Var, yields int) sched.Step {
	var step func(remaining int) sched.Step
	step = func(remaining int) sched.Step {
		return func() sched.Step {
			if remaining > 0 {
				return step(remaining - 1)
			}
			_ = eng.Atomically(func(tx *stm.Txn) error {
				tx.Write(counter, tx.Read(counter).(int)+1)
				return nil
			})
			return nil
		}
	}
	return step(yields)
}
