// Package job implements the expiry-sorted job queue shared by the cluster
// and resource state machines. One Queue backs the cluster protocol's job
// set, a second independent Queue backs the resource supervisor's job set;
// each has exactly one Worker goroutine.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies a job kind within one queue. The cluster and resource
// packages each define their own Type constants in their own numeric space;
// Queue itself is agnostic to what the types mean.
type Type int

// Func is the work performed by a job. Arg is whatever the enqueuer passed
// to Enqueue; ownership of Arg passes to Func for the duration of the call,
// and further to whatever the Func re-enqueues (a job that re-arms itself
// typically reuses or replaces its own Arg).
type Func func(arg any)

// entry is one node in the deadline-ordered list.
type entry struct {
	id       uuid.UUID
	typ      Type
	deadline time.Time
	fn       Func
	arg      any
	next     *entry
}

// Queue is a singly-linked list of entries sorted by deadline ascending,
// guarded by a single mutex. It is a leaf lock: code holding a Queue's lock
// must never attempt to acquire a cluster or resource state lock.
type Queue struct {
	mu       sync.Mutex
	head     *entry
	shutdown bool
}

// New returns an empty, running Queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue inserts a new job to run after delay has elapsed, maintaining
// deadline order. It walks to the correct insertion point under the lock;
// queue depth is small (bounded by the number of distinct job types) so this
// is cheap in practice.
func (q *Queue) Enqueue(typ Type, fn Func, arg any, delay time.Duration) uuid.UUID {
	e := &entry{
		id:       uuid.New(),
		typ:      typ,
		deadline: time.Now().Add(delay),
		fn:       fn,
		arg:      arg,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return e.id
	}
	q.insertLocked(e)
	return e.id
}

func (q *Queue) insertLocked(e *entry) {
	if q.head == nil || e.deadline.Before(q.head.deadline) {
		e.next = q.head
		q.head = e
		return
	}
	prev := q.head
	for prev.next != nil && !e.deadline.Before(prev.next.deadline) {
		prev = prev.next
	}
	e.next = prev.next
	prev.next = e
}

// Dequeue pops the head entry if its deadline has passed, otherwise returns
// nil. It never blocks.
func (q *Queue) Dequeue() (typ Type, fn Func, arg any, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown || q.head == nil || q.head.deadline.After(time.Now()) {
		return 0, nil, nil, false
	}
	e := q.head
	q.head = e.next
	return e.typ, e.fn, e.arg, true
}

// Reprioritize finds the first entry matching typ and moves it to run after
// newDelay from now, preserving deadline order. It is a no-op if no entry of
// that type is currently queued — callers that require the job to exist
// should enqueue it first.
func (q *Queue) Reprioritize(typ Type, newDelay time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return false
	}

	var prev *entry
	cur := q.head
	for cur != nil && cur.typ != typ {
		prev = cur
		cur = cur.next
	}
	if cur == nil {
		return false
	}
	if prev == nil {
		q.head = cur.next
	} else {
		prev.next = cur.next
	}
	cur.next = nil
	cur.deadline = time.Now().Add(newDelay)
	q.insertLocked(cur)
	return true
}

// Depth reports the number of pending entries, exported for metrics.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for e := q.head; e != nil; e = e.next {
		n++
	}
	return n
}

// Shutdown empties the queue and latches a terminal flag; subsequent
// Dequeue/Enqueue/Reprioritize calls become no-ops.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.head = nil
	q.shutdown = true
}

// Worker runs the dequeue loop until ctx is cancelled or Shutdown is called.
// Jobs on one Queue therefore execute strictly serially: a job's mutations
// are visible to the very next job dequeued from the same Queue.
func Worker(ctx context.Context, q *Queue) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.mu.Lock()
			stopped := q.shutdown
			q.mu.Unlock()
			if stopped {
				return
			}
			for {
				_, fn, arg, ok := q.Dequeue()
				if !ok {
					break
				}
				fn(arg)
			}
		}
	}
}
