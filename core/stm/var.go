package stm

import "sync/atomic"

// varState is one committed (value, version) pair. States are immutable:
// commit installs a fresh state rather than mutating the old one, so a
// transaction body can read value and version consistently without a lock.
type varState struct {
	value   any
	version uint64
}

// Var is a transactional variable: a shared cell whose committed value is
// read and replaced only through an Engine's transactions. A Var belongs to
// the Engine that created it and must not be shared across engines.
type Var struct {
	state atomic.Pointer[varState]

	// waiters holds the transactions blocked in retry on this variable.
	// Guarded by the owning engine's lock.
	waiters map[*waiter]struct{}
}

// NewVar allocates a variable holding initial. Allocation happens outside any
// transaction.
func (e *Engine) NewVar(initial any) *Var {
	v := &Var{waiters: make(map[*waiter]struct{})}
	v.state.Store(&varState{value: initial, version: 0})
	return v
}

// wakeAll wakes every transaction blocked on this variable. The caller must
// hold the engine lock. Waking is a broadcast: every waiter revalidates its
// own read set after it resumes, so waking more than strictly necessary
// costs a restart, never correctness.
func (v *Var) wakeAll() {
	for w := range v.waiters {
		w.fire()
	}
}

// waiter is one blocked retry call, registered on every variable in the
// blocked transaction's read set.
type waiter struct {
	ch    chan struct{}
	fired bool // guarded by the engine lock; keeps fire idempotent
}

func (w *waiter) fire() {
	if !w.fired {
		w.fired = true
		close(w.ch)
	}
}
