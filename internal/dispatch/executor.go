// Package dispatch runs tool tasks under a hard per-tool deadline and
// groups ready calls into bounded concurrent batches.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calder-ai/rudder/pkg/models"
)

// DefaultToolTimeout is the per-tool execution deadline when none is
// configured.
const DefaultToolTimeout = 5 * time.Second

// TimeoutError reports a tool exceeding its deadline. It names the tool
// and the limit so the calling phase can report precisely what was cut
// off.
type TimeoutError struct {
	// Tool is the name of the tool that timed out.
	Tool string
	// Limit is the deadline that was exceeded.
	Limit time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %q exceeded its %s deadline", e.Tool, e.Limit)
}

// IsTimeout reports whether err is a tool timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ExecuteWithTimeout runs one tool task under a hard deadline. The
// deadline is delivered to the executor through context cancellation.
// Cancellation is advisory: an executor that does not poll the context
// keeps running in the background, but its result is discarded here.
// Timeout failures come back as ordinary failed results, not panics or
// run-ending errors.
func ExecuteWithTimeout(ctx context.Context, task models.ToolTask, timeout time.Duration) models.ToolExecutionResult {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}

	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}

	// Buffered so a zombie executor can deliver after the deadline
	// without blocking forever.
	done := make(chan outcome, 1)

	go func() {
		data, err := task.Run(execCtx)
		done <- outcome{data: data, err: err}
	}()

	select {
	case o := <-done:
		result := models.ToolExecutionResult{
			Tool:     task.Name,
			Duration: time.Since(start),
		}
		if o.err != nil {
			result.Err = o.err
		} else {
			result.Success = true
			result.Data = o.data
		}
		return result

	case <-execCtx.Done():
		var err error
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = &TimeoutError{Tool: task.Name, Limit: timeout}
		} else {
			// The parent was cancelled, not the per-tool deadline.
			err = fmt.Errorf("tool %q cancelled: %w", task.Name, ctx.Err())
		}
		return models.ToolExecutionResult{
			Tool:     task.Name,
			Err:      err,
			Duration: time.Since(start),
		}
	}
}
