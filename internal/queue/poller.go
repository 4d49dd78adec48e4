package queue

import (
	"context"
	"sort"
	"time"

	"github.com/calder-ai/rudder/pkg/models"
)

// Handler consumes a dequeued message. It runs on the poller goroutine;
// the poller will not dequeue again until it returns.
type Handler func(msg models.QueuedMessage)

// StartPoller launches the background poller. Each tick attempts one
// dequeue for the given user (empty matches all); the single in-flight
// guard ensures overlapping dequeues cannot happen even if a handler
// outlasts the poll interval. Call Stop or cancel the context to shut
// the poller down.
func (q *FollowupQueue) StartPoller(ctx context.Context, user string, handler Handler) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		ticker := time.NewTicker(q.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-ticker.C:
				q.pollOnce(user, handler)
			}
		}
	}()
}

// pollOnce attempts a single gated dequeue.
func (q *FollowupQueue) pollOnce(user string, handler Handler) {
	// Single in-flight guard: skip the tick if a previous dispatch is
	// still in the handler.
	if !q.polling.TryLock() {
		return
	}
	defer q.polling.Unlock()

	msg, ok := q.Dequeue(user)
	if !ok {
		return
	}
	handler(*msg)
}

// Stop shuts down the poller and waits for it to exit.
func (q *FollowupQueue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()

	q.mu.Lock()
	q.stopCh = make(chan struct{})
	q.mu.Unlock()
}

// sortMessages orders messages most recently queued first.
func sortMessages(msgs []*models.QueuedMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].QueuedAt.After(msgs[j].QueuedAt)
	})
}
