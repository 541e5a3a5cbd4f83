// Package stm provides software transactional memory: optimistic,
// composable atomic blocks over shared transactional variables. A
// transaction body runs speculatively against a private log; a single engine
// lock is held only around the brief validate+commit (or validate+wait)
// window, so the uncontended path through the body itself is lock-free.
package stm

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/millvm/mill/pkg/telemetry"
)

// ErrRetry is returned by Txn.Retry to request suspend-and-restart. It is
// control flow, not a failure; Atomically never returns it to the caller.
var ErrRetry = errors.New("stm: retry")

// Engine drives transactions over the variables it created. It is an
// explicit handle; there is no package-global state.
type Engine struct {
	mu      sync.Mutex
	logger  *zap.Logger
	metrics *telemetry.STMMetrics
}

// New builds an STM engine. The logger is required; metrics may be nil.
func New(logger *zap.Logger, metrics *telemetry.STMMetrics) *Engine {
	return &Engine{
		logger:  logger.With(zap.String("component", "stm")),
		metrics: metrics,
	}
}

// Atomically runs body as one transaction, restarting it until an attempt
// commits without conflicting with concurrent transactions.
//
// The body reports its outcome through its error result: nil commits,
// ErrRetry (from Txn.Retry) blocks until a variable in the read set changes
// and then restarts, and any other error propagates to the caller, but only
// after revalidation shows the reads were consistent. An error produced by a
// body that had already been invalidated by a conflicting commit is
// suppressed and the transaction silently restarts. Panics get the same
// treatment: one raised by an invalidated attempt restarts the transaction,
// one raised over consistent reads propagates to the caller.
//
// Bodies may run more than once and must be free of side effects.
func (e *Engine) Atomically(body func(tx *Txn) error) error {
	for {
		tx := e.newTxn()
		err, panicked, pv := e.runBody(tx, body)
		if panicked {
			// A body that observed a mutually inconsistent pair of reads (a
			// conflicting transaction committed between them) can fail in
			// arbitrary ways, including panicking. Such a zombie attempt is
			// indistinguishable from a conflict: swallow the panic and
			// restart. Only a panic from a body whose reads were still
			// consistent is real and resurfaces.
			if e.consistent(tx) {
				panic(pv)
			}
			e.metrics.Conflict(context.Background())
			e.logger.Debug("transaction restarting after panic on invalidated reads",
				zap.Int("reads", len(tx.reads)))
			continue
		}
		switch {
		case err == nil:
			if e.commit(tx) {
				e.metrics.Commit(context.Background())
				return nil
			}
			e.metrics.Conflict(context.Background())
		case errors.Is(err, ErrRetry):
			e.waitForChange(tx)
		default:
			if e.consistent(tx) {
				return err
			}
			e.metrics.Conflict(context.Background())
		}
		e.logger.Debug("transaction restarting",
			zap.Int("reads", len(tx.reads)), zap.Int("writes", len(tx.writes)))
	}
}

// runBody executes one attempt, converting a panic into a reported outcome
// so the driver can revalidate the log before deciding whether the panic was
// genuine.
func (e *Engine) runBody(tx *Txn, body func(tx *Txn) error) (err error, panicked bool, pv any) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			pv = r
		}
	}()
	err = body(tx)
	return err, false, nil
}

// ReadCommitted returns v's current committed value, outside any
// transaction. Equivalent to a single-read transaction.
func (e *Engine) ReadCommitted(v *Var) any {
	return v.state.Load().value
}

// commit validates tx and, if the read set is still current, installs every
// tentative write and wakes the transactions waiting on the written
// variables. Validation and the writes form one atomic step with respect to
// every other validate/commit/wait: all of them run under the engine lock.
func (e *Engine) commit(tx *Txn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx.done = true
	if !tx.validate() {
		return false
	}
	for v, val := range tx.writes {
		old := v.state.Load()
		v.state.Store(&varState{value: val, version: old.version + 1})
		v.wakeAll()
	}
	return true
}

// waitForChange implements retry: under the engine lock, revalidate (a
// conflicting commit may already justify an immediate restart), then
// register on the wait list of every variable read so far, release the lock
// and block until one of them is written. On wake the registration is
// removed everywhere and the caller restarts with a fresh log.
func (e *Engine) waitForChange(tx *Txn) {
	e.mu.Lock()
	tx.done = true
	if !tx.validate() {
		e.mu.Unlock()
		return
	}
	if len(tx.reads) == 0 {
		e.mu.Unlock()
		panic("stm: retry with an empty read set would block forever")
	}
	w := &waiter{ch: make(chan struct{})}
	for v := range tx.reads {
		v.waiters[w] = struct{}{}
	}
	e.mu.Unlock()

	e.metrics.Wait(context.Background())
	<-w.ch

	e.mu.Lock()
	for v := range tx.reads {
		delete(v.waiters, w)
	}
	e.mu.Unlock()
}

// consistent reports whether tx's reads were still current, for the
// exception path: a body error is surfaced only when the world it observed
// was real.
func (e *Engine) consistent(tx *Txn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx.done = true
	return tx.validate()
}
