package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calder-ai/rudder/pkg/models"
)

func namedTask(name string, priority int, fn models.ToolExecutor) models.ToolTask {
	return models.ToolTask{Name: name, Priority: priority, Run: fn}
}

func TestExecuteParallel_PreservesInputOrder(t *testing.T) {
	d := NewDispatcher(4, time.Second)

	// Priorities deliberately scrambled relative to input order.
	priorities := []int{1, 9, 3, 7, 5, 2, 8}
	tasks := make([]models.ToolTask, len(priorities))
	for i, p := range priorities {
		name := fmt.Sprintf("tool-%d", i)
		tasks[i] = namedTask(name, p, func(ctx context.Context) (any, error) {
			return name, nil
		})
	}

	results := d.ExecuteParallel(context.Background(), tasks)

	if len(results) != len(tasks) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(tasks))
	}
	for i, res := range results {
		want := fmt.Sprintf("tool-%d", i)
		if res.Tool != want {
			t.Errorf("results[%d].Tool = %q, want %q", i, res.Tool, want)
		}
		if res.Data != want {
			t.Errorf("results[%d].Data = %v, want %q", i, res.Data, want)
		}
	}
}

func TestExecuteParallel_BatchesAreSequential(t *testing.T) {
	d := NewDispatcher(4, time.Second)

	var mu sync.Mutex
	var running, maxRunning int

	tasks := make([]models.ToolTask, 5)
	for i := range tasks {
		tasks[i] = namedTask(fmt.Sprintf("t%d", i), 0, func(ctx context.Context) (any, error) {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()

			time.Sleep(50 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			return nil, nil
		})
	}

	start := time.Now()
	results := d.ExecuteParallel(context.Background(), tasks)
	elapsed := time.Since(start)

	if len(results) != 5 {
		t.Fatalf("len(results) = %d, want 5", len(results))
	}
	if maxRunning > 4 {
		t.Errorf("max concurrent = %d, want <= 4", maxRunning)
	}

	// Five tasks at concurrency 4 is exactly two batches: roughly two
	// sleep durations, not five.
	if elapsed < 100*time.Millisecond {
		t.Errorf("elapsed %v too fast for two sequential batches", elapsed)
	}
	if elapsed > 250*time.Millisecond {
		t.Errorf("elapsed %v too slow; batches should run concurrently inside", elapsed)
	}
}

func TestExecuteParallel_HigherPriorityRunsInFirstBatch(t *testing.T) {
	d := NewDispatcher(2, time.Second)

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	tasks := []models.ToolTask{
		namedTask("low-a", 1, func(ctx context.Context) (any, error) { record("low-a"); return nil, nil }),
		namedTask("high", 9, func(ctx context.Context) (any, error) { record("high"); return nil, nil }),
		namedTask("low-b", 1, func(ctx context.Context) (any, error) { record("low-b"); return nil, nil }),
		namedTask("mid", 5, func(ctx context.Context) (any, error) { record("mid"); return nil, nil }),
	}

	results := d.ExecuteParallel(context.Background(), tasks)

	// First batch is the two highest priorities.
	firstBatch := map[string]bool{order[0]: true, order[1]: true}
	if !firstBatch["high"] || !firstBatch["mid"] {
		t.Errorf("first batch = %v, want high and mid", order[:2])
	}

	// Results still in input order.
	wantOrder := []string{"low-a", "high", "low-b", "mid"}
	for i, res := range results {
		if res.Tool != wantOrder[i] {
			t.Errorf("results[%d].Tool = %q, want %q", i, res.Tool, wantOrder[i])
		}
	}
}

func TestExecuteParallel_FailureDoesNotCancelSiblings(t *testing.T) {
	d := NewDispatcher(4, time.Second)

	var completed atomic.Int32
	tasks := []models.ToolTask{
		namedTask("fails", 0, func(ctx context.Context) (any, error) {
			return nil, errors.New("boom")
		}),
		namedTask("ok-1", 0, func(ctx context.Context) (any, error) {
			time.Sleep(20 * time.Millisecond)
			completed.Add(1)
			return "done", nil
		}),
		namedTask("ok-2", 0, func(ctx context.Context) (any, error) {
			time.Sleep(20 * time.Millisecond)
			completed.Add(1)
			return "done", nil
		}),
	}

	results := d.ExecuteParallel(context.Background(), tasks)

	if results[0].Success {
		t.Error("failing task should report failure")
	}
	if !results[1].Success || !results[2].Success {
		t.Errorf("siblings should complete: %v, %v", results[1].Err, results[2].Err)
	}
	if completed.Load() != 2 {
		t.Errorf("completed = %d, want 2", completed.Load())
	}
}

func TestExecuteParallel_TimeoutIsOrdinaryFailure(t *testing.T) {
	d := NewDispatcher(4, 50*time.Millisecond)

	tasks := []models.ToolTask{
		namedTask("hangs", 0, func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		namedTask("fast", 0, func(ctx context.Context) (any, error) {
			return "ok", nil
		}),
	}

	results := d.ExecuteParallel(context.Background(), tasks)

	if !IsTimeout(results[0].Err) {
		t.Errorf("results[0].Err = %v, want timeout", results[0].Err)
	}
	if !results[1].Success {
		t.Errorf("fast sibling failed: %v", results[1].Err)
	}
}

func TestExecuteParallel_EmptyInput(t *testing.T) {
	d := NewDispatcher(4, time.Second)

	results := d.ExecuteParallel(context.Background(), nil)

	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}

func TestExecuteParallel_CancelledContextFailsRemaining(t *testing.T) {
	d := NewDispatcher(1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	tasks := []models.ToolTask{
		namedTask("first", 0, func(ctx context.Context) (any, error) {
			cancel()
			return "ran", nil
		}),
		namedTask("second", 0, func(ctx context.Context) (any, error) {
			t.Error("second task should not start after cancellation")
			return nil, nil
		}),
	}

	results := d.ExecuteParallel(ctx, tasks)

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[1].Err == nil || !errors.Is(results[1].Err, context.Canceled) {
		t.Errorf("results[1].Err = %v, want context.Canceled", results[1].Err)
	}
}

func TestExecuteParallel_ObserverSeesStartAndSettle(t *testing.T) {
	var events []ToolEvent
	var mu sync.Mutex

	d := NewDispatcher(4, time.Second, WithObserver(func(ev ToolEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	tasks := []models.ToolTask{
		namedTask("a", 0, func(ctx context.Context) (any, error) { return nil, nil }),
		namedTask("b", 0, func(ctx context.Context) (any, error) { return nil, errors.New("bad") }),
	}

	d.ExecuteParallel(context.Background(), tasks)

	if len(events) != 4 {
		t.Fatalf("len(events) = %d, want 4 (start+settle per task)", len(events))
	}
	settled := 0
	for _, ev := range events {
		if ev.Done {
			settled++
			if ev.Result == nil {
				t.Error("settled event missing result")
			}
		}
	}
	if settled != 2 {
		t.Errorf("settled events = %d, want 2", settled)
	}
}

func TestDispatcher_BatchCount(t *testing.T) {
	d := NewDispatcher(4, time.Second)

	tests := []struct {
		tasks int
		want  int
	}{
		{0, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{8, 2},
		{9, 3},
	}

	for _, tt := range tests {
		if got := d.BatchCount(tt.tasks); got != tt.want {
			t.Errorf("BatchCount(%d) = %d, want %d", tt.tasks, got, tt.want)
		}
	}
}
