package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	commonutils "github.com/millvm/mill/internal/common_utils"
)

// --- Test Helpers ---

// newTestScheduler builds a scheduler with a fast advisor so tests don't
// depend on long advice intervals.
func newTestScheduler(t *testing.T, engines int) *Scheduler {
	t.Helper()
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	s, err := New(Config{
		Engines:             engines,
		StealAdviceInterval: 2 * time.Millisecond,
		QueueCapacity:       16,
	}, logger, nil)
	require.NoError(t, err)
	return s
}

// stopWithin stops the scheduler and fails the test if engines do not all
// reach shutdown in time.
func stopWithin(t *testing.T, s *Scheduler, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("scheduler did not shut down in time")
	}
	for i := 0; i < s.NumEngines(); i++ {
		require.Equal(t, StateShutdown, s.Engine(i).State())
	}
}

// allSleeping reports whether every engine has parked.
func allSleeping(s *Scheduler) bool {
	for i := 0; i < s.NumEngines(); i++ {
		if s.Engine(i).State() != StateSleeping {
			return false
		}
	}
	return true
}

// --- Test Cases ---

// TestScheduler_DistributesSeededWork seeds one engine's queue with 100
// contexts and verifies all of them run exactly once and that every engine
// in the pool ends up executing at least one of them (the stealing path).
func TestScheduler_DistributesSeededWork(t *testing.T) {
	const n = 100
	s := newTestScheduler(t, 4)

	var ran atomic.Int64
	var enginesSeen sync.Map
	for i := 0; i < n; i++ {
		s.Engine(0).Queue().PushLocal(NewContext(func() Step {
			if v, ok := s.byGoroutine.Load(commonutils.GoID()); ok {
				enginesSeen.Store(v.(*Engine).id, true)
			}
			time.Sleep(2 * time.Millisecond) // long enough for thieves to arrive
			ran.Add(1)
			return nil
		}))
	}
	s.Start()

	require.Eventually(t, func() bool { return ran.Load() == n },
		10*time.Second, 5*time.Millisecond, "all seeded contexts must run")

	distinct := 0
	enginesSeen.Range(func(_, _ any) bool { distinct++; return true })
	require.Equal(t, 4, distinct, "every engine should have stolen some work")

	stopWithin(t, s, 5*time.Second)
	require.Equal(t, int64(n), ran.Load(), "no context may run twice")
}

// TestScheduler_ExternalSpawnWakesSleeper parks the whole pool, then spawns
// from outside an engine: a sleeper must wake and run the context promptly.
func TestScheduler_ExternalSpawnWakesSleeper(t *testing.T) {
	s := newTestScheduler(t, 2)
	s.Start()

	require.Eventually(t, func() bool { return allSleeping(s) },
		5*time.Second, time.Millisecond, "an empty pool should go to sleep")

	done := make(chan struct{})
	require.NoError(t, s.Spawn(NewContext(func() Step {
		close(done)
		return nil
	})))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sleeping engine was not woken by spawn")
	}
	stopWithin(t, s, 5*time.Second)
}

// TestScheduler_SpawnFromEngineUsesOwnQueue spawns children from inside a
// running context; the parent and all children must complete.
func TestScheduler_SpawnFromEngineUsesOwnQueue(t *testing.T) {
	const children = 32
	s := newTestScheduler(t, 3)
	s.Start()

	var ran atomic.Int64
	require.NoError(t, s.Spawn(NewContext(func() Step {
		for i := 0; i < children; i++ {
			_ = s.Spawn(NewContext(func() Step {
				ran.Add(1)
				return nil
			}))
		}
		ran.Add(1)
		return nil
	})))

	require.Eventually(t, func() bool { return ran.Load() == children+1 },
		10*time.Second, time.Millisecond)
	stopWithin(t, s, 5*time.Second)
}

// TestScheduler_YieldingContextResumes runs a context that suspends several
// times; each suspension re-enqueues it and it must resume where it left off.
func TestScheduler_YieldingContextResumes(t *testing.T) {
	s := newTestScheduler(t, 2)
	s.Start()

	var steps atomic.Int64
	var step func(remaining int) Step
	step = func(remaining int) Step {
		return func() Step {
			steps.Add(1)
			if remaining == 0 {
				return nil
			}
			return step(remaining - 1)
		}
	}
	require.NoError(t, s.Spawn(NewContext(step(5))))

	require.Eventually(t, func() bool { return steps.Load() == 6 },
		5*time.Second, time.Millisecond, "context should run once per suspension plus completion")
	stopWithin(t, s, 5*time.Second)
}

// TestScheduler_WorkstealAdviceWakesSleeper parks the pool, plants work
// directly on a queue (no spawn, so no context notification fires) and
// delivers worksteal advice: some engine must find the work.
func TestScheduler_WorkstealAdviceWakesSleeper(t *testing.T) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	// Advisor disabled: the test delivers the advice by hand.
	s, err := New(Config{Engines: 2, QueueCapacity: 16}, logger, nil)
	require.NoError(t, err)
	s.Start()

	require.Eventually(t, func() bool { return allSleeping(s) },
		5*time.Second, time.Millisecond)

	done := make(chan struct{})
	// The owner is asleep, so this non-owner push cannot race with it.
	s.Engine(0).Queue().PushLocal(NewContext(func() Step {
		close(done)
		return nil
	}))
	s.AdviseWorksteal()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worksteal advice did not lead to the planted context running")
	}
	stopWithin(t, s, 5*time.Second)
}

// TestScheduler_ShutdownWakesSleepers verifies shutdown reaches engines that
// are asleep, and that Spawn refuses work afterwards.
func TestScheduler_ShutdownWakesSleepers(t *testing.T) {
	s := newTestScheduler(t, 4)
	s.Start()

	require.Eventually(t, func() bool { return allSleeping(s) },
		5*time.Second, time.Millisecond)

	stopWithin(t, s, 5*time.Second)
	require.ErrorIs(t, s.Spawn(NewContext(noopStep)), ErrShuttingDown)
}

// TestScheduler_StopWithoutStart must return promptly even though no engine
// goroutine or advisor ever ran.
func TestScheduler_StopWithoutStart(t *testing.T) {
	s := newTestScheduler(t, 2)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop on a never-started scheduler hung")
	}
	require.ErrorIs(t, s.Spawn(NewContext(noopStep)), ErrShuttingDown)
}

// TestScheduler_StateStrings pins the observable state names used in logs.
func TestScheduler_StateStrings(t *testing.T) {
	require.Equal(t, "working", StateWorking.String())
	require.Equal(t, "sleeping", StateSleeping.String())
	require.Equal(t, "worksteal_advice", notifWorkstealAdvice.String())
}
