// Package idle defers non-urgent work into the host loop's slack time. The
// host calls RunPending with whatever frame budget is left; tasks whose
// timeout expired run even when there is no slack at all.
package idle

import (
	"log"
	"sync"
	"time"
)

// Priority orders task tiers. Within a tier, tasks run FIFO.
type Priority int

const (
	High Priority = iota
	Medium
	Low
)

// Options configures one scheduled task.
type Options struct {
	Priority Priority
	// Timeout forces the task to run on the next RunPending once elapsed,
	// budget or not. Zero means the task only runs when there is slack.
	Timeout time.Duration
}

type task struct {
	id       string
	fn       func()
	deadline time.Time // zero when no timeout
	seq      uint64
}

// Queue is a prioritized bag of deferred tasks.
type Queue struct {
	now func() time.Time

	mu      sync.Mutex
	tiers   [3][]task
	nextSeq uint64
}

// NewQueue creates an empty queue. A nil now falls back to time.Now.
func NewQueue(now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{now: now}
}

// Schedule queues fn under id. Re-submitting an id replaces the earlier
// task, including its tier and position.
func (q *Queue) Schedule(id string, fn func(), opts Options) {
	if fn == nil {
		return
	}
	tier := opts.Priority
	if tier < High || tier > Low {
		tier = Low
	}
	t := task{id: id, fn: fn}
	if opts.Timeout > 0 {
		t.deadline = q.now().Add(opts.Timeout)
	}

	q.mu.Lock()
	q.removeLocked(id)
	t.seq = q.nextSeq
	q.nextSeq++
	q.tiers[tier] = append(q.tiers[tier], t)
	q.mu.Unlock()
}

// Cancel drops the task with the given id, if queued.
func (q *Queue) Cancel(id string) {
	q.mu.Lock()
	q.removeLocked(id)
	q.mu.Unlock()
}

// Clear drops everything.
func (q *Queue) Clear() {
	q.mu.Lock()
	for i := range q.tiers {
		q.tiers[i] = nil
	}
	q.mu.Unlock()
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for i := range q.tiers {
		n += len(q.tiers[i])
	}
	return n
}

// RunPending executes queued tasks until the budget is spent: expired-timeout
// tasks first (regardless of budget), then by tier, FIFO within a tier.
// Tasks scheduled during this pass wait for the next one. Returns the number
// of tasks run.
func (q *Queue) RunPending(budget time.Duration) int {
	start := q.now()

	q.mu.Lock()
	cutoff := q.nextSeq
	q.mu.Unlock()

	ran := 0
	for {
		now := q.now()
		overBudget := now.Sub(start) >= budget

		t, ok := q.take(now, overBudget, cutoff)
		if !ok {
			break
		}
		runTask(t)
		ran++
	}
	return ran
}

// take pops the next runnable task: an expired one when over budget, any
// task otherwise. Tier order wins over deadline age.
func (q *Queue) take(now time.Time, expiredOnly bool, cutoff uint64) (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for tier := range q.tiers {
		for i, t := range q.tiers[tier] {
			if t.seq >= cutoff {
				continue
			}
			if expiredOnly && (t.deadline.IsZero() || t.deadline.After(now)) {
				continue
			}
			q.tiers[tier] = append(q.tiers[tier][:i], q.tiers[tier][i+1:]...)
			return t, true
		}
	}
	return task{}, false
}

func (q *Queue) removeLocked(id string) {
	for tier := range q.tiers {
		for i, t := range q.tiers[tier] {
			if t.id == id {
				q.tiers[tier] = append(q.tiers[tier][:i], q.tiers[tier][i+1:]...)
				return
			}
		}
	}
}

// runTask isolates task panics; one bad callback never takes down the host
// loop or the rest of the queue.
func runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("idle: task %s panic: %v", t.id, r)
		}
	}()
	t.fn()
}
