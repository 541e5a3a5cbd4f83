package sched

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Engine is one worker in the pool. It runs contexts from its own work queue,
// steals from its peers when the queue runs dry, and sleeps when no work
// exists anywhere. Engine 0 is the primordial engine and starts in
// StateWorking; all others start in StateIdle.
type Engine struct {
	id    int
	sched *Scheduler
	queue *WorkQueue
	state atomic.Int32

	// cond waits on the scheduler's engine lock. notif is the pending wake
	// reason; both it and every transition out of StateSleeping are guarded
	// by that lock.
	cond  *sync.Cond
	notif notification

	logger *zap.Logger
}

func newEngine(id int, s *Scheduler, queueCapacity int) *Engine {
	e := &Engine{
		id:     id,
		sched:  s,
		queue:  NewWorkQueue(queueCapacity),
		logger: s.logger.With(zap.Int("engine", id)),
	}
	e.cond = sync.NewCond(&s.mu)
	if id == 0 {
		e.state.Store(int32(StateWorking))
	} else {
		e.state.Store(int32(StateIdle))
	}
	return e
}

// State returns the engine's current scheduling state.
func (e *Engine) State() EngineState {
	return EngineState(e.state.Load())
}

// Queue returns the engine's own work queue.
func (e *Engine) Queue() *WorkQueue { return e.queue }

// cas attempts one atomic state transition. A false return is not an error:
// the state changed concurrently and the caller must re-read and re-dispatch.
func (e *Engine) cas(from, to EngineState) bool {
	return e.state.CompareAndSwap(int32(from), int32(to))
}

// run is the engine main loop: pop local work and run it; else go idle; else
// steal from peers; else sleep until a notification arrives. The loop exits
// only through StateShutdown.
func (e *Engine) run() {
	e.logger.Debug("engine started", zap.Stringer("state", e.State()))
	for {
		switch e.State() {
		case StateWorking:
			if e.sched.shutdownRequested() {
				e.cas(StateWorking, StateShutdown)
				continue
			}
			c := e.queue.PopLocal()
			if c == nil {
				// Local work exhausted.
				e.cas(StateWorking, StateIdle)
				continue
			}
			e.runContext(c)

		case StateIdle:
			if e.sched.shutdownRequested() {
				// Safe without the lock: nothing depends on an idle engine.
				e.cas(StateIdle, StateShutdown)
				continue
			}
			if c := e.takeRunnable(); c != nil {
				// A context became available while idle.
				e.cas(StateIdle, StateWorking)
				e.runContext(c)
				continue
			}
			// Claim "searching other queues". On a failed CAS the state
			// changed under us; go around and dispatch on the new state.
			e.cas(StateIdle, StateStealing)

		case StateStealing:
			if e.sched.shutdownRequested() {
				e.cas(StateStealing, StateShutdown)
				continue
			}
			if c := e.stealOnce(); c != nil {
				e.cas(StateStealing, StateWorking)
				e.runContext(c)
				continue
			}
			e.sleep()

		case StateSleeping:
			// Unreachable from the loop itself: sleep() only returns after
			// the state has moved on. Dispatch again.
			continue

		case StateShutdown:
			e.logger.Debug("engine stopped")
			return
		}
	}
}

// runContext advances one context by one step. A context that suspends goes
// back on this engine's own queue; a completed one is dropped.
func (e *Engine) runContext(c *Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("context panicked; dropping it",
				zap.String("context", c.ID().String()), zap.Any("panic", r))
		}
	}()
	if c.runOnce() {
		e.sched.metrics.ContextCompleted(context.Background())
		return
	}
	e.queue.PushLocal(c)
}

// takeRunnable checks the engine's own queue, then the scheduler's shared
// submission queue.
func (e *Engine) takeRunnable() *Context {
	if c := e.queue.PopLocal(); c != nil {
		return c
	}
	return e.sched.inbox.take()
}

// stealOnce makes one round-robin pass over all other engines' queues and
// the shared submission queue, returning the first context found.
func (e *Engine) stealOnce() *Context {
	engines := e.sched.engines
	n := len(engines)
	for i := 1; i < n; i++ {
		victim := engines[(e.id+i)%n]
		e.sched.metrics.StealAttempt(context.Background())
		if c := victim.queue.Steal(); c != nil {
			e.sched.metrics.StealHit(context.Background())
			e.logger.Debug("stole context",
				zap.Int("victim", victim.id), zap.String("context", c.ID().String()))
			return c
		}
	}
	return e.sched.inbox.take()
}

// sleep transitions StateStealing -> StateSleeping and blocks until a
// notification arrives. The whole handoff happens under the scheduler's
// engine lock: after we are registered as sleeping, any work or shutdown
// published before a producer's sleeper scan is either seen by our final
// recheck below or triggers a locked wake-up. That closes the lost-wakeup
// window.
func (e *Engine) sleep() {
	s := e.sched
	s.mu.Lock()
	if s.shutdownRequested() {
		s.mu.Unlock()
		e.cas(StateStealing, StateShutdown)
		return
	}
	if !e.cas(StateStealing, StateSleeping) {
		// A notification beat us to it; act on the new state.
		s.mu.Unlock()
		return
	}
	// Final recheck under the lock: work pushed before we registered as
	// sleeping would never generate a wake-up for us.
	if s.anyQueuedWork() {
		e.state.Store(int32(StateIdle))
		s.mu.Unlock()
		return
	}
	e.notif = notifNone
	s.metrics.Sleep(context.Background())
	e.logger.Debug("engine sleeping")
	for e.notif == notifNone {
		e.cond.Wait()
	}
	n := e.notif
	e.notif = notifNone
	s.mu.Unlock()

	e.logger.Debug("engine woke", zap.Stringer("notification", n), zap.Stringer("state", e.State()))
	if n == notifWorkstealAdvice {
		e.workstealOnce()
	}
}

// workstealOnce handles a worksteal advice delivered during sleep: one steal
// pass, then back to working (with the stolen context queued locally) or
// stealing.
func (e *Engine) workstealOnce() {
	if c := e.stealOnce(); c != nil {
		e.queue.PushLocal(c)
		e.cas(StateStealing, StateWorking)
	}
}

// deliver hands a notification to this engine. The caller must hold the
// scheduler's engine lock and have verified the engine is sleeping; the state
// change, the notification and the signal happen atomically under that lock.
func (e *Engine) deliver(n notification) {
	e.notif = n
	switch n {
	case notifContext, notifContextAdvice:
		// The engine rechecks for runnable work from idle.
		e.state.Store(int32(StateIdle))
	case notifWorkstealAdvice:
		e.state.Store(int32(StateStealing))
	case notifShutdown:
		e.state.Store(int32(StateShutdown))
	}
	e.cond.Signal()
	e.sched.metrics.Wakeup(context.Background(), n.String())
}
