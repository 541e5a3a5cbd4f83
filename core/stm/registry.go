package stm

import (
	"sync"

	"github.com/tidwall/btree"
)

// namedVar pairs a variable with its registry name.
type namedVar struct {
	name string
	v    *Var
}

// Registry is a name-to-variable table, kept ordered so tooling can list
// variables deterministically. The registry only resolves names; reads and
// writes of the variables themselves still go through transactions.
type Registry struct {
	eng  *Engine
	mu   sync.RWMutex
	vars *btree.BTreeG[namedVar]
}

// NewRegistry builds an empty registry over the given engine.
func NewRegistry(eng *Engine) *Registry {
	return &Registry{
		eng: eng,
		vars: btree.NewBTreeG(func(a, b namedVar) bool {
			return a.name < b.name
		}),
	}
}

// Define creates a variable under name, or returns the existing one. The
// initial value is used only on first definition.
func (r *Registry) Define(name string, initial any) *Var {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.vars.Get(namedVar{name: name}); ok {
		return existing.v
	}
	v := r.eng.NewVar(initial)
	r.vars.Set(namedVar{name: name, v: v})
	return v
}

// Lookup resolves a name.
func (r *Registry) Lookup(name string) (*Var, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nv, ok := r.vars.Get(namedVar{name: name})
	if !ok {
		return nil, false
	}
	return nv.v, true
}

// Len reports the number of defined variables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vars.Len()
}

// Range calls fn for each defined variable in name order, stopping early if
// fn returns false.
func (r *Registry) Range(fn func(name string, v *Var) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.vars.Scan(func(nv namedVar) bool {
		return fn(nv.name, nv.v)
	})
}

// Snapshot reads every defined variable's value inside one transaction,
// returning a consistent name-to-value view.
func (r *Registry) Snapshot() (map[string]any, error) {
	out := make(map[string]any)
	err := r.eng.Atomically(func(tx *Txn) error {
		clear(out) // the body may run more than once
		r.Range(func(name string, v *Var) bool {
			out[name] = tx.Read(v)
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
