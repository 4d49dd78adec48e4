package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/calder-ai/rudder/internal/approval"
	"github.com/calder-ai/rudder/internal/budget"
	"github.com/calder-ai/rudder/internal/dispatch"
	"github.com/calder-ai/rudder/internal/history"
	"github.com/calder-ai/rudder/pkg/models"
)

// newTestDriver builds a driver with a roomy budget and fast dispatch.
func newTestDriver(t *testing.T, ceiling int64) (*Driver, *approval.Gate, *EventEmitter) {
	t.Helper()
	tracker := budget.NewTracker(ceiling)
	compressor := history.NewCompressor(0, 0)
	dispatcher := dispatch.NewDispatcher(4, time.Second)
	gate := approval.NewGate()
	emitter := NewEventEmitter(256)
	return NewDriver(tracker, compressor, dispatcher, gate, emitter), gate, emitter
}

func echoTask(name, output string) models.ToolTask {
	return models.ToolTask{
		Name: name,
		Run: func(ctx context.Context) (any, error) {
			return output, nil
		},
	}
}

func TestDriver_RunToolsResultsInInputOrder(t *testing.T) {
	d, _, _ := newTestDriver(t, 1_000_000)
	run := &models.WorkflowRun{ID: "r1", Phase: models.PhaseExecute}

	tasks := []models.ToolTask{
		echoTask("first", "a"),
		echoTask("second", "b"),
		echoTask("third", "c"),
	}
	results, err := d.RunTools(context.Background(), run, tasks)
	if err != nil {
		t.Fatalf("RunTools failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []string{"first", "second", "third"} {
		if results[i].Tool != want {
			t.Errorf("results[%d].Tool = %s, want %s", i, results[i].Tool, want)
		}
	}
}

func TestDriver_BooksTokensAndToolLog(t *testing.T) {
	d, _, _ := newTestDriver(t, 1_000_000)
	run := &models.WorkflowRun{ID: "r2", Phase: models.PhaseExecute}

	_, err := d.RunTools(context.Background(), run, []models.ToolTask{
		echoTask("read_file", strings.Repeat("x", 400)),
	})
	if err != nil {
		t.Fatalf("RunTools failed: %v", err)
	}

	if len(run.ToolLog) != 1 {
		t.Fatalf("ToolLog has %d records, want 1", len(run.ToolLog))
	}
	rec := run.ToolLog[0]
	if rec.Tool != "read_file" || !rec.Success {
		t.Errorf("record = %+v, want successful read_file", rec)
	}
	if rec.Tokens == 0 {
		t.Error("record books no tokens, want chars/4 estimate")
	}
	if run.TokensUsed == 0 {
		t.Error("run.TokensUsed = 0, want tracker total")
	}
}

func TestDriver_BoundsOversizedOutput(t *testing.T) {
	d, _, _ := newTestDriver(t, 1_000_000)
	run := &models.WorkflowRun{ID: "r3", Phase: models.PhaseExecute}

	big := strings.Repeat("line of output\n", 1000)
	results, err := d.RunTools(context.Background(), run, []models.ToolTask{echoTask("grep", big)})
	if err != nil {
		t.Fatalf("RunTools failed: %v", err)
	}

	content, ok := results[0].Data.(string)
	if !ok {
		t.Fatalf("Data is %T, want string", results[0].Data)
	}
	if len(content) >= len(big) {
		t.Error("oversized output was not bounded")
	}
	if !strings.Contains(content, "[output truncated:") {
		t.Error("bounded output is missing the truncation marker")
	}
}

func TestDriver_HonorsConfiguredBoundingFloor(t *testing.T) {
	tracker := budget.NewTracker(1_000_000)
	compressor := history.NewCompressor(0, 0)
	dispatcher := dispatch.NewDispatcher(4, time.Second)
	gate := approval.NewGate()
	emitter := NewEventEmitter(256)
	d := NewDriver(tracker, compressor, dispatcher, gate, emitter,
		WithMaxOutputChars(100), WithMinOutputChars(200))
	run := &models.WorkflowRun{ID: "r-floor", Phase: models.PhaseExecute}

	results, err := d.RunTools(context.Background(), run, []models.ToolTask{
		echoTask("read_file", strings.Repeat("z", 600)),
	})
	if err != nil {
		t.Fatalf("RunTools failed: %v", err)
	}

	content := results[0].Data.(string)
	body := strings.SplitN(content, "\n\n[output truncated", 2)[0]
	if len(body) != 200 {
		t.Errorf("bounded body length = %d, want 200 (the configured floor)", len(body))
	}
}

func TestDriver_FailedToolIsDataNotError(t *testing.T) {
	d, _, _ := newTestDriver(t, 1_000_000)
	run := &models.WorkflowRun{ID: "r4", Phase: models.PhaseTest}

	tasks := []models.ToolTask{
		echoTask("ok", "fine"),
		{
			Name: "broken",
			Run: func(ctx context.Context) (any, error) {
				return nil, errors.New("exit status 1")
			},
		},
	}
	results, err := d.RunTools(context.Background(), run, tasks)
	if err != nil {
		t.Fatalf("RunTools failed: %v", err)
	}
	if !results[0].Success {
		t.Error("sibling of a failed task should succeed")
	}
	if results[1].Success {
		t.Error("broken task reported success")
	}
	if results[1].Err == nil {
		t.Error("broken task carries no error detail")
	}
}

func TestDriver_ApprovedDestructiveToolExecutes(t *testing.T) {
	d, gate, _ := newTestDriver(t, 1_000_000)
	run := &models.WorkflowRun{ID: "r5", Phase: models.PhaseExecute}

	executed := false
	task := models.ToolTask{
		Name: "delete_file",
		Run: func(ctx context.Context) (any, error) {
			executed = true
			return "deleted", nil
		},
	}

	// Decide the request as soon as it shows up.
	go func() {
		deadline := time.After(2 * time.Second)
		for {
			if pending := gate.Pending(); len(pending) > 0 {
				gate.Approve(pending[0].ID)
				return
			}
			select {
			case <-deadline:
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()

	results, err := d.RunTools(context.Background(), run, []models.ToolTask{task})
	if err != nil {
		t.Fatalf("RunTools failed: %v", err)
	}
	if !executed {
		t.Error("approved destructive tool never executed")
	}
	if !results[0].Success {
		t.Errorf("result = %+v, want success", results[0])
	}
}

func TestDriver_RejectionCancelsOperationNotRun(t *testing.T) {
	d, gate, _ := newTestDriver(t, 1_000_000)
	run := &models.WorkflowRun{ID: "r6", Phase: models.PhaseExecute}

	executed := false
	tasks := []models.ToolTask{
		{
			Name: "delete_branch",
			Run: func(ctx context.Context) (any, error) {
				executed = true
				return "gone", nil
			},
		},
		echoTask("list_files", "main.go"),
	}

	go func() {
		deadline := time.After(2 * time.Second)
		for {
			if pending := gate.Pending(); len(pending) > 0 {
				gate.Reject(pending[0].ID, "keep the branch")
				return
			}
			select {
			case <-deadline:
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()

	results, err := d.RunTools(context.Background(), run, tasks)
	if err != nil {
		t.Fatalf("RunTools returned run-level error: %v", err)
	}

	if executed {
		t.Error("rejected tool executed anyway")
	}
	if results[0].Success {
		t.Error("rejected slot reports success")
	}
	if !results[0].RequiresApproval {
		t.Error("rejected slot not flagged as approval-gated")
	}
	if results[0].Err == nil || !strings.Contains(results[0].Err.Error(), "cancelled") {
		t.Errorf("rejected slot error = %v, want cancellation", results[0].Err)
	}
	// The non-destructive sibling still ran.
	if !results[1].Success {
		t.Error("sibling task did not run after a rejection")
	}
}

func TestDriver_RefusesBatchOverCeiling(t *testing.T) {
	d, _, _ := newTestDriver(t, 1_000)
	d.Tracker().RecordExact(0, 1_001)
	run := &models.WorkflowRun{ID: "r7", Phase: models.PhaseExecute}

	_, err := d.RunTools(context.Background(), run, []models.ToolTask{echoTask("noop", "x")})
	if !errors.Is(err, ErrOverBudget) {
		t.Errorf("err = %v, want ErrOverBudget", err)
	}
}

func TestDriver_WarningCompressesHistory(t *testing.T) {
	d, _, emitter := newTestDriver(t, 1_000)
	run := &models.WorkflowRun{ID: "r8", Phase: models.PhaseExecute}

	for i := 0; i < 25; i++ {
		d.AppendTurn("user", "short request")
	}
	// Push usage into the warning band without exceeding the ceiling.
	d.Tracker().RecordExact(0, 850-d.Tracker().Used())

	_, err := d.RunTools(context.Background(), run, []models.ToolTask{echoTask("noop", "x")})
	if err != nil {
		t.Fatalf("RunTools failed: %v", err)
	}

	turns := d.Turns()
	if len(turns) != history.DefaultKeepRecent+1 {
		t.Errorf("history has %d turns, want synopsis + %d recent", len(turns), history.DefaultKeepRecent)
	}
	if turns[0].Role != history.RoleSystem {
		t.Errorf("first turn role = %s, want system synopsis", turns[0].Role)
	}

	emitter.Close()
	var warned, compressed bool
	for ev := range emitter.Events() {
		switch ev.Type {
		case EventBudgetWarning:
			warned = true
		case EventHistoryCompressed:
			compressed = true
		}
	}
	if !warned {
		t.Error("no budget_warning event")
	}
	if !compressed {
		t.Error("no history_compressed event")
	}
}

func TestDriver_StrategyDegradesInEmergency(t *testing.T) {
	d, _, _ := newTestDriver(t, 100_000)

	normal := d.Strategy()
	if normal.TruncateToolResults || normal.SkipThinking {
		t.Errorf("normal strategy = %+v, want no degradation", normal)
	}

	d.Tracker().RecordExact(0, 95_000)
	degraded := d.Strategy()
	if !degraded.TruncateToolResults {
		t.Error("emergency strategy does not force truncation")
	}
	if !degraded.SkipThinking {
		t.Error("deep emergency strategy does not skip thinking")
	}
	if len(degraded.Actions) == 0 {
		t.Error("emergency strategy lists no actions")
	}
}
