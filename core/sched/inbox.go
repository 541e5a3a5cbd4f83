package sched

import "sync"

// inbox is the designated queue for work submitted from outside the engine
// pool. External callers are not owners of any engine queue, so they cannot
// use the lock-free local push; the inbox takes a plain mutex instead, which
// is fine because external submission is rare compared to engine-local
// scheduling.
type inbox struct {
	mu    sync.Mutex
	items []*Context
}

// put appends a context (FIFO order).
func (in *inbox) put(c *Context) {
	in.mu.Lock()
	in.items = append(in.items, c)
	in.mu.Unlock()
}

// take removes and returns the oldest submitted context, or nil.
func (in *inbox) take() *Context {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.items) == 0 {
		return nil
	}
	c := in.items[0]
	in.items[0] = nil
	in.items = in.items[1:]
	return c
}

// size reports the number of pending submissions.
func (in *inbox) size() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}
