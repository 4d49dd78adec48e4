package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calder-ai/rudder/pkg/models"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	path := filepath.Join(nested, "state.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	// A second migration pass must be a no-op.
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var version int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != 3 {
		t.Errorf("schema version = %d, want 3", version)
	}
}

func TestRunRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	started := time.Now().Add(-time.Minute).Truncate(time.Second)
	run := &models.WorkflowRun{
		ID:            "run-1",
		Request:       "add rate limiting to the API",
		Phase:         models.PhaseExecute,
		Status:        models.RunStatusActive,
		Continuations: 2,
		StartedAt:     started,
		TokensUsed:    1234,
		Cost:          0.25,
		ToolLog: []models.ToolRecord{
			{Tool: "read_file", Phase: models.PhaseAssess, Success: true, Tokens: 200, Duration: 40 * time.Millisecond, StartedAt: started},
		},
		State: map[string]any{"plan": "three steps"},
	}

	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil for existing run")
	}
	if got.Request != run.Request {
		t.Errorf("Request = %q, want %q", got.Request, run.Request)
	}
	if got.Phase != models.PhaseExecute {
		t.Errorf("Phase = %q, want %q", got.Phase, models.PhaseExecute)
	}
	if got.TokensUsed != 1234 {
		t.Errorf("TokensUsed = %d, want 1234", got.TokensUsed)
	}
	if len(got.ToolLog) != 1 || got.ToolLog[0].Tool != "read_file" {
		t.Errorf("ToolLog = %+v, want one read_file record", got.ToolLog)
	}
	if got.State["plan"] != "three steps" {
		t.Errorf("State[plan] = %v, want %q", got.State["plan"], "three steps")
	}
}

func TestUpdateRun(t *testing.T) {
	db := setupTestDB(t)

	run := &models.WorkflowRun{
		ID:        "run-2",
		Request:   "fix the flaky test",
		Phase:     models.PhaseAssess,
		Status:    models.RunStatusActive,
		StartedAt: time.Now(),
	}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	completed := time.Now().Truncate(time.Second)
	run.Phase = models.PhaseCommit
	run.Status = models.RunStatusCompleted
	run.CompletedAt = &completed
	run.LastError = ""
	if err := db.UpdateRun(run); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	got, err := db.GetRun("run-2")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != models.RunStatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt = nil, want set")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetRun("missing")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetRun = %+v, want nil for missing run", got)
	}
}

func TestGetActiveRun(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateRun(&models.WorkflowRun{
		ID: "done", Request: "old", Phase: models.PhaseCommit,
		Status: models.RunStatusCompleted, StartedAt: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := db.CreateRun(&models.WorkflowRun{
		ID: "live", Request: "new", Phase: models.PhasePlan,
		Status: models.RunStatusActive, StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := db.GetActiveRun()
	if err != nil {
		t.Fatalf("GetActiveRun failed: %v", err)
	}
	if got == nil || got.ID != "live" {
		t.Errorf("GetActiveRun = %+v, want run live", got)
	}
}

func TestApprovalRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	req := &models.ApprovalRequest{
		ID:        "appr-1",
		RunID:     "run-1",
		Tool:      "delete_file",
		Input:     map[string]any{"path": "main.go"},
		Reason:    "delete_file: destructive operation",
		CreatedAt: time.Now().Truncate(time.Second),
	}
	if err := db.SaveApproval(req); err != nil {
		t.Fatalf("SaveApproval failed: %v", err)
	}

	got, err := db.GetApproval("appr-1")
	if err != nil {
		t.Fatalf("GetApproval failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetApproval returned nil for existing request")
	}
	if !got.Pending() {
		t.Error("request should be pending before a decision is saved")
	}
	if got.Input["path"] != "main.go" {
		t.Errorf("Input[path] = %v, want main.go", got.Input["path"])
	}

	// Saving again with a decision overwrites the row.
	req.Decision = &models.ApprovalDecision{Approved: false, Reason: "too risky", DecidedAt: time.Now()}
	if err := db.SaveApproval(req); err != nil {
		t.Fatalf("SaveApproval with decision failed: %v", err)
	}

	got, err = db.GetApproval("appr-1")
	if err != nil {
		t.Fatalf("GetApproval failed: %v", err)
	}
	if got.Pending() {
		t.Error("request should not be pending after a decision")
	}
	if got.Decision.Approved {
		t.Error("Decision.Approved = true, want false")
	}
	if got.Decision.Reason != "too risky" {
		t.Errorf("Decision.Reason = %q, want %q", got.Decision.Reason, "too risky")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	msg := &models.QueuedMessage{
		ID:       "msg-1",
		UserID:   "alice",
		Body:     "also update the changelog",
		Priority: 5,
		Status:   models.MessageQueued,
		Metadata: map[string]string{"source": "cli"},
		QueuedAt: time.Now().Truncate(time.Second),
	}
	if err := db.SaveMessage(msg); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	started := time.Now().Truncate(time.Second)
	msg.Status = models.MessageProcessing
	msg.StartedAt = &started
	if err := db.UpdateMessage(msg); err != nil {
		t.Fatalf("UpdateMessage failed: %v", err)
	}

	got, err := db.GetMessage("msg-1")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetMessage returned nil for existing message")
	}
	if got.Status != models.MessageProcessing {
		t.Errorf("Status = %q, want processing", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt = nil, want set")
	}
	if got.Metadata["source"] != "cli" {
		t.Errorf("Metadata[source] = %q, want cli", got.Metadata["source"])
	}
}

func TestListMessagesByUser(t *testing.T) {
	db := setupTestDB(t)

	base := time.Now().Add(-time.Minute)
	for i, user := range []string{"alice", "bob", "alice"} {
		msg := &models.QueuedMessage{
			ID:       string(rune('a' + i)),
			UserID:   user,
			Body:     "msg",
			Status:   models.MessageQueued,
			QueuedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := db.SaveMessage(msg); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	got, err := db.ListMessagesByUser("alice")
	if err != nil {
		t.Fatalf("ListMessagesByUser failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if !got[0].QueuedAt.After(got[1].QueuedAt) {
		t.Error("messages not ordered most recent first")
	}
}

func TestPurgeOldRuns(t *testing.T) {
	db := setupTestDB(t)

	old := time.Now().Add(-48 * time.Hour)
	if err := db.CreateRun(&models.WorkflowRun{
		ID: "stale", Request: "old", Phase: models.PhaseCommit,
		Status: models.RunStatusCompleted, StartedAt: old,
	}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := db.CreateRun(&models.WorkflowRun{
		ID: "stale-active", Request: "old but live", Phase: models.PhaseExecute,
		Status: models.RunStatusActive, StartedAt: old,
	}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	count, err := db.PurgeOldRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldRuns failed: %v", err)
	}
	if count != 1 {
		t.Errorf("purged %d runs, want 1", count)
	}

	// Active runs survive purging regardless of age.
	got, err := db.GetRun("stale-active")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil {
		t.Error("active run was purged")
	}
}
