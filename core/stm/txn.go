package stm

// readEntry records the committed value and version observed the first time
// a transaction read a variable. Validation compares the version against the
// variable's current one; comparing versions instead of values means
// uncomparable value types never panic.
type readEntry struct {
	value   any
	version uint64
}

// Txn is the private log of one transaction attempt: the read set and the
// tentative write set. A Txn is created fresh for every attempt and discarded
// on restart; it must only be used by the goroutine running the transaction
// body, and only until that body returns.
type Txn struct {
	eng    *Engine
	reads  map[*Var]readEntry
	writes map[*Var]any
	done   bool
}

func (e *Engine) newTxn() *Txn {
	return &Txn{
		eng:    e,
		reads:  make(map[*Var]readEntry),
		writes: make(map[*Var]any),
	}
}

// Read returns v's value as seen by this transaction. A value tentatively
// written earlier in the same transaction is returned as-is
// (read-your-own-writes); otherwise the first read snapshots the committed
// value into the read set and later reads repeat that snapshot.
func (tx *Txn) Read(v *Var) any {
	tx.check()
	if val, ok := tx.writes[v]; ok {
		return val
	}
	if re, ok := tx.reads[v]; ok {
		return re.value
	}
	s := v.state.Load()
	tx.reads[v] = readEntry{value: s.value, version: s.version}
	return s.value
}

// Write records a tentative write in the log. Shared state is untouched
// until commit.
func (tx *Txn) Write(v *Var, val any) {
	tx.check()
	tx.writes[v] = val
}

// Retry signals that the transaction cannot make progress. The body should
// return the result: the engine blocks the calling goroutine until some
// variable in the read set is committed to, then reruns the body with a
// fresh log.
func (tx *Txn) Retry() error {
	tx.check()
	return ErrRetry
}

// validate reports whether every variable in the read set still holds the
// version recorded at read time. Caller must hold the engine lock for the
// result to be meaningful.
func (tx *Txn) validate() bool {
	for v, re := range tx.reads {
		if v.state.Load().version != re.version {
			return false
		}
	}
	return true
}

// check guards against the log outliving its attempt: using a Txn after its
// body returned is a programming error, not a recoverable condition.
func (tx *Txn) check() {
	if tx.done {
		panic("stm: transaction log used outside its atomic block")
	}
}
