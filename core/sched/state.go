package sched

// EngineState is the per-engine scheduling state. An engine owns its own
// transitions between the awake states (Working, Idle, Stealing) via CAS on
// an atomic field; every transition out of Sleeping goes through the
// scheduler's global engine lock, because a sleeping engine is not observing
// memory and must be woken by whoever changes its state.
type EngineState int32

const (
	// StateWorking: the engine has a context to run (or is about to check
	// its own queue for one).
	StateWorking EngineState = iota
	// StateIdle: the local queue came up empty; the engine is deciding what
	// to do next.
	StateIdle
	// StateStealing: the engine is scanning other engines' queues for work.
	StateStealing
	// StateSleeping: the engine is blocked on its condition variable waiting
	// for a notification. Reachable only from StateStealing.
	StateSleeping
	// StateShutdown is terminal: the engine's loop exits.
	StateShutdown
)

func (s EngineState) String() string {
	switch s {
	case StateWorking:
		return "working"
	case StateIdle:
		return "idle"
	case StateStealing:
		return "stealing"
	case StateSleeping:
		return "sleeping"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// notification is an asynchronous hint delivered to an engine. Notifications
// for a sleeping engine are handed over under the scheduler's engine lock so
// the wake-up and the state change are atomic (no lost wakeups).
type notification int32

const (
	notifNone notification = iota
	// notifContext: a specific context was made runnable on a queue the
	// engine can reach.
	notifContext
	// notifContextAdvice: work may be available (e.g. on the shared
	// submission queue); the engine should recheck.
	notifContextAdvice
	// notifWorkstealAdvice: some other engine's queue is non-empty; attempt
	// one steal pass before going back to sleep or work.
	notifWorkstealAdvice
	// notifShutdown: stop the engine loop.
	notifShutdown
)

func (n notification) String() string {
	switch n {
	case notifContext:
		return "context"
	case notifContextAdvice:
		return "context_advice"
	case notifWorkstealAdvice:
		return "worksteal_advice"
	case notifShutdown:
		return "shutdown"
	default:
		return "none"
	}
}
