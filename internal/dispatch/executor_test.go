package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/calder-ai/rudder/pkg/models"
)

func TestExecuteWithTimeout_Success(t *testing.T) {
	task := models.ToolTask{
		Name: "echo",
		Run: func(ctx context.Context) (any, error) {
			return "hello", nil
		},
	}

	res := ExecuteWithTimeout(context.Background(), task, time.Second)

	if !res.Success {
		t.Fatalf("Success = false, err = %v", res.Err)
	}
	if res.Data != "hello" {
		t.Errorf("Data = %v, want hello", res.Data)
	}
	if res.Tool != "echo" {
		t.Errorf("Tool = %q, want echo", res.Tool)
	}
}

func TestExecuteWithTimeout_ToolError(t *testing.T) {
	wantErr := errors.New("file not found")
	task := models.ToolTask{
		Name: "read_file",
		Run: func(ctx context.Context) (any, error) {
			return nil, wantErr
		},
	}

	res := ExecuteWithTimeout(context.Background(), task, time.Second)

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if !errors.Is(res.Err, wantErr) {
		t.Errorf("Err = %v, want %v", res.Err, wantErr)
	}
	if IsTimeout(res.Err) {
		t.Error("tool error should not be classified as timeout")
	}
}

func TestExecuteWithTimeout_NeverCompletingExecutor(t *testing.T) {
	task := models.ToolTask{
		Name: "hang",
		Run: func(ctx context.Context) (any, error) {
			<-ctx.Done()
			// Simulate an executor that keeps going after cancellation.
			time.Sleep(50 * time.Millisecond)
			return "late", nil
		},
	}

	start := time.Now()
	res := ExecuteWithTimeout(context.Background(), task, 100*time.Millisecond)
	elapsed := time.Since(start)

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if !IsTimeout(res.Err) {
		t.Fatalf("Err = %v, want TimeoutError", res.Err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("returned after %v, want roughly the 100ms deadline", elapsed)
	}
	// The error names the tool and the limit.
	msg := res.Err.Error()
	if !strings.Contains(msg, "hang") || !strings.Contains(msg, "100ms") {
		t.Errorf("timeout error should name tool and limit: %q", msg)
	}
	// The late result is discarded, never surfaced.
	if res.Data != nil {
		t.Errorf("Data = %v, want nil for timed-out call", res.Data)
	}
}

func TestExecuteWithTimeout_ParentCancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	task := models.ToolTask{
		Name: "slow",
		Run: func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := ExecuteWithTimeout(ctx, task, 10*time.Second)

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if IsTimeout(res.Err) {
		t.Errorf("parent cancellation misreported as timeout: %v", res.Err)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
}

func TestExecuteWithTimeout_ZeroTimeoutUsesDefault(t *testing.T) {
	task := models.ToolTask{
		Name: "quick",
		Run: func(ctx context.Context) (any, error) {
			deadline, ok := ctx.Deadline()
			if !ok {
				t.Error("executor context should carry a deadline")
			}
			if remaining := time.Until(deadline); remaining > DefaultToolTimeout {
				t.Errorf("deadline %v exceeds default timeout", remaining)
			}
			return nil, nil
		},
	}

	res := ExecuteWithTimeout(context.Background(), task, 0)
	if !res.Success {
		t.Fatalf("Success = false, err = %v", res.Err)
	}
}
