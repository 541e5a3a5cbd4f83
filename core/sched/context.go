package sched

import "github.com/google/uuid"

// Step is one slice of a context's computation. A step runs to a suspension
// point and returns the continuation to run next, or nil when the context has
// completed. Encoding the continuation as a returned closure keeps the
// context a plain, movable value: whichever engine dequeues it can resume it.
type Step func() Step

// Context is a lightweight schedulable unit of work (a green thread). A
// context is owned by exactly one work queue slot at a time; it moves between
// queues only by a local push or a steal, never by copying.
type Context struct {
	id   uuid.UUID
	step Step
}

// NewContext wraps the given entry step into a runnable context.
func NewContext(entry Step) *Context {
	return &Context{id: uuid.New(), step: entry}
}

// ID returns the context's unique identity, used for logging.
func (c *Context) ID() uuid.UUID { return c.id }

// runOnce advances the context by one step and reports whether it completed.
// If the context suspended, its continuation is saved for the next run.
func (c *Context) runOnce() bool {
	next := c.step()
	if next == nil {
		return true
	}
	c.step = next
	return false
}
