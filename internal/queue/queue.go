// Package queue serializes follow-up user requests submitted while a
// run is active, so mid-flight input is neither lost nor interleaved.
package queue

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calder-ai/rudder/pkg/models"
)

// ErrUnknownMessage is returned when an operation references an id the
// queue has never issued.
var ErrUnknownMessage = errors.New("queue: unknown message id")

// ErrTerminalMessage is returned when complete or cancel is called on a
// message that already reached a terminal status.
var ErrTerminalMessage = errors.New("queue: message already terminal")

// DefaultPollInterval is how often the background poller attempts a
// dequeue.
const DefaultPollInterval = 5 * time.Second

// Store persists queue records. Implementations need only single-row
// atomicity; the queue never requires transactions.
type Store interface {
	// SaveMessage inserts a new record.
	SaveMessage(msg *models.QueuedMessage) error
	// UpdateMessage rewrites an existing record.
	UpdateMessage(msg *models.QueuedMessage) error
}

// FollowupQueue holds queued messages for dispatch between runs.
// Records are never deleted, only marked terminal. State is owned by
// the queue instance; there is no process-global store.
type FollowupQueue struct {
	mu sync.Mutex

	// messages maps message id to its record.
	messages map[string]*models.QueuedMessage
	// store is the optional persistence backend.
	store Store
	// pollInterval is the poller cadence.
	pollInterval time.Duration

	// polling guards against overlapping dequeues: at most one
	// dispatched message is in the handler at a time.
	polling sync.Mutex
	// stopCh stops the poller goroutine.
	stopCh chan struct{}
	// wg tracks the poller goroutine.
	wg sync.WaitGroup
	// started indicates StartPoller has been called.
	started bool
}

// QueueOption configures a FollowupQueue.
type QueueOption func(*FollowupQueue)

// WithStore attaches a persistence backend. Store errors are logged and
// do not fail queue operations; the in-memory view remains the source
// of truth for the process.
func WithStore(store Store) QueueOption {
	return func(q *FollowupQueue) {
		q.store = store
	}
}

// WithPollInterval overrides the poller cadence.
func WithPollInterval(d time.Duration) QueueOption {
	return func(q *FollowupQueue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// New creates an empty FollowupQueue.
func New(opts ...QueueOption) *FollowupQueue {
	q := &FollowupQueue{
		messages:     make(map[string]*models.QueuedMessage),
		pollInterval: DefaultPollInterval,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts a message with status queued and returns its record.
func (q *FollowupQueue) Enqueue(user, project, body string, priority int, metadata map[string]string) *models.QueuedMessage {
	msg := &models.QueuedMessage{
		ID:        uuid.New().String()[:8],
		UserID:    user,
		ProjectID: project,
		Body:      body,
		Priority:  priority,
		Status:    models.MessageQueued,
		Metadata:  metadata,
		QueuedAt:  time.Now(),
	}

	q.mu.Lock()
	q.messages[msg.ID] = msg
	q.mu.Unlock()

	q.persist(msg, true)

	copied := *msg
	return &copied
}

// Restore loads previously persisted messages into the queue, keeping
// only still-queued records. Used at process start to pick up
// follow-ups submitted while no run was active.
func (q *FollowupQueue) Restore(msgs []models.QueuedMessage) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	restored := 0
	for _, m := range msgs {
		if m.Status != models.MessageQueued {
			continue
		}
		if _, exists := q.messages[m.ID]; exists {
			continue
		}
		copied := m
		q.messages[m.ID] = &copied
		restored++
	}
	return restored
}

// Dequeue selects the highest-priority, earliest-queued message still
// in queued status and atomically flips it to processing. An empty user
// matches all users. Returns ok=false when nothing is eligible.
func (q *FollowupQueue) Dequeue(user string) (*models.QueuedMessage, bool) {
	q.mu.Lock()

	var best *models.QueuedMessage
	for _, msg := range q.messages {
		if msg.Status != models.MessageQueued {
			continue
		}
		if user != "" && msg.UserID != user {
			continue
		}
		if best == nil || higherPriority(msg, best) {
			best = msg
		}
	}

	if best == nil {
		q.mu.Unlock()
		return nil, false
	}

	now := time.Now()
	best.Status = models.MessageProcessing
	best.StartedAt = &now
	copied := *best
	q.mu.Unlock()

	q.persist(best, false)

	return &copied, true
}

// higherPriority reports whether a should be dispatched before b:
// higher priority first, then earliest arrival.
func higherPriority(a, b *models.QueuedMessage) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.QueuedAt.Before(b.QueuedAt)
}

// Complete marks a processing message completed.
func (q *FollowupQueue) Complete(id string) error {
	return q.finish(id, models.MessageCompleted)
}

// Cancel marks a message cancelled. Valid on queued and processing
// messages.
func (q *FollowupQueue) Cancel(id string) error {
	return q.finish(id, models.MessageCancelled)
}

// finish applies a terminal status.
func (q *FollowupQueue) finish(id string, status models.MessageStatus) error {
	q.mu.Lock()

	msg, ok := q.messages[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	if msg.Status.Terminal() {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTerminalMessage, id, msg.Status)
	}

	now := time.Now()
	msg.Status = status
	switch status {
	case models.MessageCompleted:
		msg.CompletedAt = &now
	case models.MessageCancelled:
		msg.CancelledAt = &now
	}
	q.mu.Unlock()

	q.persist(msg, false)
	return nil
}

// ClearUserQueue cancels all still-queued (not yet processing) messages
// for a user. Returns the number cancelled.
func (q *FollowupQueue) ClearUserQueue(user string) int {
	q.mu.Lock()

	var cleared []*models.QueuedMessage
	now := time.Now()
	for _, msg := range q.messages {
		if msg.UserID == user && msg.Status == models.MessageQueued {
			msg.Status = models.MessageCancelled
			msg.CancelledAt = &now
			cleared = append(cleared, msg)
		}
	}
	q.mu.Unlock()

	for _, msg := range cleared {
		q.persist(msg, false)
	}
	return len(cleared)
}

// Get returns a copy of the message with the given id.
func (q *FollowupQueue) Get(id string) (*models.QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.messages[id]
	if !ok {
		return nil, false
	}
	copied := *msg
	return &copied, true
}

// List returns copies of all messages for a user (all users when user
// is empty), most recently queued first.
func (q *FollowupQueue) List(user string) []*models.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*models.QueuedMessage
	for _, msg := range q.messages {
		if user != "" && msg.UserID != user {
			continue
		}
		copied := *msg
		out = append(out, &copied)
	}
	sortMessages(out)
	return out
}

// Len returns the number of messages in queued status.
func (q *FollowupQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, msg := range q.messages {
		if msg.Status == models.MessageQueued {
			n++
		}
	}
	return n
}

// persist writes through to the store if one is attached.
func (q *FollowupQueue) persist(msg *models.QueuedMessage, create bool) {
	if q.store == nil {
		return
	}

	copied := *msg
	var err error
	if create {
		err = q.store.SaveMessage(&copied)
	} else {
		err = q.store.UpdateMessage(&copied)
	}
	if err != nil {
		log.Printf("[queue] persisting message %s: %v", msg.ID, err)
	}
}
