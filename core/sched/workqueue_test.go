package sched

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// noopStep is a placeholder body for contexts that only need an identity.
func noopStep() Step { return nil }

// TestWorkQueue_LocalOrderAndStealEnd verifies the two ends of the deque:
// the owner pops the most recently pushed context (LIFO, for locality) while
// a thief takes the oldest one (FIFO, away from the owner's end).
func TestWorkQueue_LocalOrderAndStealEnd(t *testing.T) {
	q := NewWorkQueue(8)
	a := NewContext(noopStep)
	b := NewContext(noopStep)
	c := NewContext(noopStep)
	q.PushLocal(a)
	q.PushLocal(b)
	q.PushLocal(c)

	require.Equal(t, 3, q.Size())
	require.Same(t, c, q.PopLocal(), "owner pop should return the newest context")
	require.Same(t, a, q.Steal(), "steal should return the oldest context")
	require.Same(t, b, q.PopLocal())
	require.Nil(t, q.PopLocal())
	require.Nil(t, q.Steal())
}

// TestWorkQueue_GrowsPastInitialCapacity verifies that pushing beyond the
// initial ring capacity never blocks or drops work.
func TestWorkQueue_GrowsPastInitialCapacity(t *testing.T) {
	const n = 1000
	q := NewWorkQueue(8)
	seen := make(map[*Context]bool, n)
	for i := 0; i < n; i++ {
		c := NewContext(noopStep)
		seen[c] = false
		q.PushLocal(c)
	}
	require.Equal(t, n, q.Size())
	for i := 0; i < n; i++ {
		c := q.PopLocal()
		require.NotNil(t, c)
		require.False(t, seen[c], "context dequeued twice")
		seen[c] = true
	}
	require.Nil(t, q.PopLocal())
}

// TestWorkQueue_SlotReuseUnderContention churns a tiny ring so bottom wraps
// past old top positions many times while a thief keeps reading: the owner's
// writes into reused slots must stay safe against slow concurrent steals,
// with the top CAS discarding any stale value.
func TestWorkQueue_SlotReuseUnderContention(t *testing.T) {
	const rounds = 50000
	q := NewWorkQueue(8)
	var produced, consumed atomic.Int64

	done := make(chan struct{})
	go func() {
		defer close(done)
		for consumed.Load() < rounds {
			if c := q.Steal(); c != nil {
				consumed.Add(1)
			}
		}
	}()

	for produced.Load() < rounds {
		// Keep the queue shallow so indices lap the ring constantly.
		for i := 0; i < 4 && produced.Load() < rounds; i++ {
			q.PushLocal(NewContext(noopStep))
			produced.Add(1)
		}
		if c := q.PopLocal(); c != nil {
			consumed.Add(1)
		}
	}
	<-done
	require.Equal(t, int64(rounds), consumed.Load())
	require.Nil(t, q.PopLocal())
	require.Nil(t, q.Steal())
}

// TestWorkQueue_ConcurrentStealNoLossNoDup is the queue safety property: with
// one owner pushing and popping while several thieves steal, every context is
// dequeued by exactly one caller, exactly once.
func TestWorkQueue_ConcurrentStealNoLossNoDup(t *testing.T) {
	const (
		total   = 20000
		thieves = 4
	)
	q := NewWorkQueue(16)
	taken := make(chan *Context, total)
	var count atomic.Int64

	record := func(c *Context) {
		taken <- c
		count.Add(1)
	}

	var wg sync.WaitGroup
	for i := 0; i < thieves; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for count.Load() < total {
				if c := q.Steal(); c != nil {
					record(c)
				}
			}
		}()
	}

	contexts := make(map[*Context]int, total)
	for i := 0; i < total; i++ {
		c := NewContext(noopStep)
		contexts[c] = 0
		q.PushLocal(c)
		// Interleave owner pops with the thieves.
		if i%3 == 0 {
			if c := q.PopLocal(); c != nil {
				record(c)
			}
		}
	}
	for {
		c := q.PopLocal()
		if c == nil {
			break
		}
		record(c)
	}
	wg.Wait()
	close(taken)

	for c := range taken {
		n, ok := contexts[c]
		require.True(t, ok, "dequeued a context that was never pushed")
		contexts[c] = n + 1
	}
	for _, n := range contexts {
		require.Equal(t, 1, n, "every context must be dequeued exactly once")
	}
}
