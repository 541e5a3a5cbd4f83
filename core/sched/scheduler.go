// Package sched implements a work-stealing parallel execution engine: a pool
// of worker engines, each with its own deque of lightweight contexts, that
// run local work first, steal from each other when idle, and sleep when no
// work exists anywhere. Wake-ups (new context, work-steal advice, shutdown)
// are delivered through CAS transitions between awake states and through a
// mutex-protected handoff when the target engine is asleep.
package sched

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	commonutils "github.com/millvm/mill/internal/common_utils"
	"github.com/millvm/mill/pkg/telemetry"
)

// ErrShuttingDown is returned by Spawn once shutdown has been requested.
var ErrShuttingDown = errors.New("sched: scheduler is shutting down")

// Config holds the engine-pool settings.
type Config struct {
	// Engines is the number of worker engines. Zero means one per CPU.
	Engines int
	// StealAdviceInterval bounds how often the background advisor nudges a
	// sleeping engine to attempt a steal. Zero disables the advisor.
	StealAdviceInterval time.Duration
	// QueueCapacity is the initial capacity of each engine's work queue.
	QueueCapacity int
}

// Scheduler owns the engine pool, the shared submission queue and the
// notification machinery. It is an explicit handle: construct with New, start
// with Start, stop with Stop.
type Scheduler struct {
	cfg     Config
	logger  *zap.Logger
	metrics *telemetry.SchedulerMetrics

	// mu is the global engine lock. It guards sleep registration, wake-up
	// delivery and each engine's pending notification.
	mu      sync.Mutex
	engines []*Engine
	inbox   inbox

	// byGoroutine maps a running engine's goroutine id to the engine, so
	// Spawn can detect engine-affine callers.
	byGoroutine sync.Map

	shutdown atomic.Bool
	started  atomic.Bool

	wg            sync.WaitGroup
	advisorCancel context.CancelFunc
	advisorDone   chan struct{}
}

// New builds a scheduler. The logger is required; metrics may be nil.
func New(cfg Config, logger *zap.Logger, metrics *telemetry.SchedulerMetrics) (*Scheduler, error) {
	if logger == nil {
		return nil, fmt.Errorf("sched: logger must not be nil")
	}
	if cfg.Engines <= 0 {
		cfg.Engines = runtime.NumCPU()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	s := &Scheduler{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "scheduler")),
		metrics:     metrics,
		advisorDone: make(chan struct{}),
	}
	for i := 0; i < cfg.Engines; i++ {
		s.engines = append(s.engines, newEngine(i, s, cfg.QueueCapacity))
	}
	return s, nil
}

// NumEngines returns the pool size.
func (s *Scheduler) NumEngines() int { return len(s.engines) }

// Engine returns the engine with the given id. It exists for introspection
// and for seeding work onto a specific queue before Start.
func (s *Scheduler) Engine(id int) *Engine { return s.engines[id] }

// Start launches one goroutine per engine plus the work-steal advisor.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("starting engine pool", zap.Int("engines", len(s.engines)))
	for _, e := range s.engines {
		s.wg.Add(1)
		go func(e *Engine) {
			defer s.wg.Done()
			id := commonutils.GoID()
			s.byGoroutine.Store(id, e)
			defer s.byGoroutine.Delete(id)
			e.run()
		}(e)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.advisorCancel = cancel
	if s.cfg.StealAdviceInterval > 0 {
		go s.advise(ctx)
	} else {
		close(s.advisorDone)
	}
}

// Spawn hands a context to the scheduler. Called from inside an engine, the
// work lands on that engine's own queue; otherwise it goes to the shared
// submission queue. Either way, at most one sleeping engine is woken, so a
// single new context never causes a thundering herd.
func (s *Scheduler) Spawn(c *Context) error {
	if s.shutdown.Load() {
		return ErrShuttingDown
	}
	s.metrics.ContextSpawned(context.Background())
	if v, ok := s.byGoroutine.Load(commonutils.GoID()); ok {
		e := v.(*Engine)
		e.queue.PushLocal(c)
		s.wakeOne(notifContext)
		return nil
	}
	s.inbox.put(c)
	s.wakeOne(notifContextAdvice)
	return nil
}

// AdviseWorksteal nudges one sleeping engine to attempt a steal pass. It is
// the on-demand form of the background advisor.
func (s *Scheduler) AdviseWorksteal() {
	s.wakeOne(notifWorkstealAdvice)
}

// RequestShutdown broadcasts shutdown to every engine. Sleeping engines get
// a locked wake-up; awake engines observe the flag at their next checkpoint
// and finish their in-flight context first. Safe to call more than once.
func (s *Scheduler) RequestShutdown() {
	if !s.shutdown.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("shutdown requested")
	if s.advisorCancel != nil {
		s.advisorCancel()
	}
	s.mu.Lock()
	for _, e := range s.engines {
		if e.State() == StateSleeping {
			e.deliver(notifShutdown)
		}
	}
	s.mu.Unlock()
}

// Wait blocks until every engine has reached StateShutdown. On a scheduler
// that was never started there is nothing to wait for: no engine goroutines
// ran and the advisor never existed.
func (s *Scheduler) Wait() {
	s.wg.Wait()
	if s.started.Load() {
		<-s.advisorDone
	}
}

// Stop is RequestShutdown followed by Wait.
func (s *Scheduler) Stop() {
	s.RequestShutdown()
	s.Wait()
}

func (s *Scheduler) shutdownRequested() bool { return s.shutdown.Load() }

// anyQueuedWork reports whether any engine queue or the submission queue is
// non-empty. Advisory: used by the advisor and by the under-lock recheck in
// Engine.sleep.
func (s *Scheduler) anyQueuedWork() bool {
	if s.inbox.size() > 0 {
		return true
	}
	for _, e := range s.engines {
		if e.queue.Size() > 0 {
			return true
		}
	}
	return false
}

// wakeOne wakes exactly one sleeping engine with the given notification. If
// no engine is asleep it falls back to flipping one idle engine to working,
// which makes that engine recheck the queues. Returns whether any engine was
// notified.
func (s *Scheduler) wakeOne(n notification) bool {
	s.mu.Lock()
	for _, e := range s.engines {
		if e.State() == StateSleeping {
			e.deliver(n)
			s.mu.Unlock()
			return true
		}
	}
	s.mu.Unlock()
	for _, e := range s.engines {
		if e.cas(StateIdle, StateWorking) || e.cas(StateStealing, StateWorking) {
			return true
		}
	}
	return false
}

// advise periodically wakes a sleeper for a steal attempt while work is
// queued somewhere. It exists to close the race window where an engine went
// to sleep just as a busy engine's queue filled up without any Spawn call
// (e.g. a long chain of re-suspending contexts).
func (s *Scheduler) advise(ctx context.Context) {
	defer close(s.advisorDone)
	limiter := rate.NewLimiter(rate.Every(s.cfg.StealAdviceInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if s.anyQueuedWork() {
			s.wakeOne(notifWorkstealAdvice)
		}
	}
}
