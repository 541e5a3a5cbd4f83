package stm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRegistry_DefineAndLookup covers name resolution: Define is idempotent
// and Lookup resolves exactly what was defined.
func TestRegistry_DefineAndLookup(t *testing.T) {
	eng := newTestEngine(t)
	reg := NewRegistry(eng)

	v1 := reg.Define("accounts/alice", 100)
	v2 := reg.Define("accounts/alice", 999)
	require.Same(t, v1, v2, "redefining a name must return the existing variable")
	require.Equal(t, 100, eng.ReadCommitted(v1), "the second initial value must be ignored")

	got, ok := reg.Lookup("accounts/alice")
	require.True(t, ok)
	require.Same(t, v1, got)

	_, ok = reg.Lookup("accounts/bob")
	require.False(t, ok)
	require.Equal(t, 1, reg.Len())
}

// TestRegistry_RangeIsOrdered verifies deterministic, name-ordered listing.
func TestRegistry_RangeIsOrdered(t *testing.T) {
	eng := newTestEngine(t)
	reg := NewRegistry(eng)
	reg.Define("c", 3)
	reg.Define("a", 1)
	reg.Define("b", 2)

	var names []string
	reg.Range(func(name string, _ *Var) bool {
		names = append(names, name)
		return true
	})
	require.Equal(t, []string{"a", "b", "c"}, names)
}

// TestRegistry_SnapshotIsConsistent moves value between two variables in
// transactions while snapshotting concurrently: every snapshot must see the
// conserved total, never a half-applied transfer.
func TestRegistry_SnapshotIsConsistent(t *testing.T) {
	const (
		total     = 100
		transfers = 300
		snapshots = 200
	)
	eng := newTestEngine(t)
	reg := NewRegistry(eng)
	from := reg.Define("from", total)
	to := reg.Define("to", 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < transfers; i++ {
			require.NoError(t, eng.Atomically(func(tx *Txn) error {
				f := tx.Read(from).(int)
				if f == 0 {
					return nil
				}
				tx.Write(from, f-1)
				tx.Write(to, tx.Read(to).(int)+1)
				return nil
			}))
		}
	}()

	for i := 0; i < snapshots; i++ {
		snap, err := reg.Snapshot()
		require.NoError(t, err)
		require.Equal(t, total, snap["from"].(int)+snap["to"].(int),
			"snapshot must never observe a half-applied transfer")
	}
	wg.Wait()
}
