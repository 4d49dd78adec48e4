package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/calder-ai/rudder/internal/queue"
	"github.com/calder-ai/rudder/pkg/models"
)

func TestQueueIdle(t *testing.T) {
	q := queue.New()

	if !queueIdle(q, "local") {
		t.Error("empty queue should be idle")
	}

	msg := q.Enqueue("local", "", "follow-up request", 0, nil)
	if queueIdle(q, "local") {
		t.Error("queue with a queued message should not be idle")
	}

	// Dequeue marks the message processing; still mid-dispatch.
	if _, ok := q.Dequeue("local"); !ok {
		t.Fatal("Dequeue returned no message")
	}
	if queueIdle(q, "local") {
		t.Error("queue with a processing message should not be idle")
	}

	if err := q.Complete(msg.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !queueIdle(q, "local") {
		t.Error("queue with only terminal messages should be idle")
	}

	cancelled := q.Enqueue("local", "", "abandoned request", 0, nil)
	if err := q.Cancel(cancelled.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !queueIdle(q, "local") {
		t.Error("cancelled messages should count as terminal")
	}
}

func TestPollerDispatchesUntilIdle(t *testing.T) {
	q := queue.New(queue.WithPollInterval(5 * time.Millisecond))
	q.Enqueue("local", "", "low priority follow-up", 1, nil)
	q.Enqueue("local", "", "high priority follow-up", 5, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var handled []string
	q.StartPoller(ctx, "local", func(msg models.QueuedMessage) {
		mu.Lock()
		handled = append(handled, msg.Body)
		mu.Unlock()
		if err := q.Complete(msg.ID); err != nil {
			t.Errorf("Complete failed: %v", err)
		}
	})
	defer q.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !queueIdle(q, "local") {
		if time.Now().After(deadline) {
			t.Fatal("queue never reached idle")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 2 {
		t.Fatalf("handled %d messages, want 2", len(handled))
	}
	if handled[0] != "high priority follow-up" {
		t.Errorf("handled[0] = %q, want the higher priority message first", handled[0])
	}
}
