package sched

import "sync/atomic"

// WorkQueue is a work-stealing deque of runnable contexts. The owning engine
// pushes and pops at the bottom (LIFO, to favor locality); any other engine
// steals from the top (FIFO, to take the oldest work and stay off the owner's
// end). The owner's fast path never locks; thieves synchronize with the owner
// and with each other through a CAS on top. This is the Chase-Lev deque, with
// a growable ring so pushes never block.
type WorkQueue struct {
	top    atomic.Int64
	_      [56]byte // keep top and bottom on separate cache lines
	bottom atomic.Int64
	_      [56]byte
	ring   atomic.Pointer[ring]
}

// ring is a power-of-two circular buffer. Only the owner replaces it (on
// growth); thieves may keep reading a stale ring, which is safe because grow
// copies the live window and the owner never overwrites live slots in place.
// Slots are atomic: after bottom wraps, the owner's put lands in a slot a
// slow thief may still be reading. The thief's CAS on top then fails and the
// value is discarded, but the slot access itself must not be a plain-memory
// race.
type ring struct {
	buf  []atomic.Pointer[Context]
	mask int64
}

func newRing(capacity int64) *ring {
	size := int64(1)
	for size < capacity {
		size <<= 1
	}
	return &ring{buf: make([]atomic.Pointer[Context], size), mask: size - 1}
}

func (r *ring) get(i int64) *Context    { return r.buf[i&r.mask].Load() }
func (r *ring) put(i int64, c *Context) { r.buf[i&r.mask].Store(c) }

// grow returns a ring of twice the size holding the live window [top, bottom).
func (r *ring) grow(top, bottom int64) *ring {
	bigger := &ring{
		buf:  make([]atomic.Pointer[Context], len(r.buf)*2),
		mask: int64(len(r.buf)*2) - 1,
	}
	for i := top; i < bottom; i++ {
		bigger.put(i, r.get(i))
	}
	return bigger
}

// NewWorkQueue allocates a queue with at least the given initial capacity.
func NewWorkQueue(capacity int) *WorkQueue {
	if capacity < 8 {
		capacity = 8
	}
	q := &WorkQueue{}
	q.ring.Store(newRing(int64(capacity)))
	return q
}

// PushLocal appends a context at the owner's end. Only the owning engine may
// call it. It never blocks; a full ring is replaced with a larger one.
func (q *WorkQueue) PushLocal(c *Context) {
	b := q.bottom.Load()
	t := q.top.Load()
	r := q.ring.Load()
	if b-t >= int64(len(r.buf)) {
		r = r.grow(t, b)
		q.ring.Store(r)
	}
	r.put(b, c)
	q.bottom.Store(b + 1)
}

// PopLocal removes and returns the most recently pushed context, or nil if
// the queue is empty. Only the owning engine may call it. The race with
// thieves over the last remaining element is resolved by a CAS on top.
func (q *WorkQueue) PopLocal() *Context {
	b := q.bottom.Load() - 1
	r := q.ring.Load()
	q.bottom.Store(b)
	t := q.top.Load()
	if t > b {
		// Already empty; undo the reservation.
		q.bottom.Store(b + 1)
		return nil
	}
	c := r.get(b)
	if t == b {
		// Last element: contend with thieves for it.
		if !q.top.CompareAndSwap(t, t+1) {
			c = nil // a thief got there first
		}
		q.bottom.Store(b + 1)
	}
	return c
}

// Steal removes and returns the oldest queued context, or nil if the queue is
// empty or the caller lost a race. Safe to call from any engine, concurrently
// with the owner and with other thieves. A lost CAS simply reads as empty;
// the caller moves on to the next victim.
func (q *WorkQueue) Steal() *Context {
	t := q.top.Load()
	b := q.bottom.Load()
	if t >= b {
		return nil
	}
	c := q.ring.Load().get(t)
	if !q.top.CompareAndSwap(t, t+1) {
		return nil
	}
	return c
}

// Size reports the approximate number of queued contexts. It is advisory
// only: concurrent pushes, pops and steals can change it immediately.
func (q *WorkQueue) Size() int {
	n := q.bottom.Load() - q.top.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
