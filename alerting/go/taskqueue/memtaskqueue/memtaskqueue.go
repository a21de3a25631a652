// Package memtaskqueue provides an in-process Queue for tests and single
// binary deployments. Tasks are buffered per subscription and run in
// submission order when the queue is drained.
package memtaskqueue

import (
	"context"
	"sync"

	"go.argus-mon.org/infra/alerting/go/taskqueue"
	"go.argus-mon.org/infra/go/skerr"
	"go.argus-mon.org/infra/go/sklog"
)

// MemQueue implements taskqueue.Queue by buffering tasks in memory.
type MemQueue struct {
	mutex   sync.Mutex
	handler taskqueue.Handler

	// pending preserves global submission order, which is stricter than the
	// per-subscription ordering the interface promises.
	pending []*taskqueue.Task
}

// New returns an empty MemQueue delivering to handler on Drain.
func New(handler taskqueue.Handler) *MemQueue {
	return &MemQueue{handler: handler}
}

// Enqueue implements taskqueue.Queue.
func (q *MemQueue) Enqueue(ctx context.Context, task *taskqueue.Task) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	copied := *task
	q.pending = append(q.pending, &copied)
	return nil
}

// Len returns the number of undelivered tasks.
func (q *MemQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.pending)
}

// Drain delivers buffered tasks until none remain, including tasks enqueued
// by the handlers themselves. A handler failure stops the drain with the
// failed task still at the head of the queue, mirroring a nack.
func (q *MemQueue) Drain(ctx context.Context) error {
	for {
		q.mutex.Lock()
		if len(q.pending) == 0 {
			q.mutex.Unlock()
			return nil
		}
		task := q.pending[0]
		q.mutex.Unlock()

		if err := q.handler(ctx, task); err != nil {
			sklog.Errorf("Task %s for subscription %d failed: %s", task.Kind, task.SubscriptionID, err)
			return skerr.Wrap(err)
		}

		q.mutex.Lock()
		q.pending = q.pending[1:]
		q.mutex.Unlock()
	}
}

var _ taskqueue.Queue = (*MemQueue)(nil)
