// Package tui provides the terminal view of a running workflow: the
// current phase, the token budget gauge, a scrolling event log, the
// pending approval prompt, and a follow-up input field.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/calder-ai/rudder/internal/workflow"
	"github.com/calder-ai/rudder/pkg/models"
)

// maxLogLines is how many recent events the log panel keeps.
const maxLogLines = 12

// EventMsg wraps a workflow event for the bubbletea loop.
type EventMsg struct {
	Event workflow.Event
}

// EventsClosedMsg signals that the workflow's event channel closed.
type EventsClosedMsg struct{}

// FollowupSubmittedMsg is sent when the user submits a follow-up
// message from the input field.
type FollowupSubmittedMsg struct {
	Body string
}

// ApprovalDecisionMsg is sent when the user decides a pending approval.
type ApprovalDecisionMsg struct {
	ID       string
	Approved bool
}

// Gate is the slice of the approval gate the view needs.
type Gate interface {
	Pending() []*models.ApprovalRequest
	Approve(id string) error
	Reject(id, reason string) error
}

// Enqueuer accepts follow-up messages submitted from the view.
type Enqueuer interface {
	Enqueue(userID, projectID, body string, priority int, metadata map[string]string) *models.QueuedMessage
}

// App is the bubbletea model for the run view.
type App struct {
	events <-chan workflow.Event
	gate   Gate
	queue  Enqueuer
	userID string

	phase      models.Phase
	runID      string
	tokensUsed int64
	ceiling    int64
	cost       float64
	emergency  bool
	done       bool
	failed     bool

	pending *models.ApprovalRequest
	log     []string
	input   textinput.Model
	width   int
}

// NewApp creates the run view. The ceiling is used to scale the budget
// gauge; the gate and queue handle approval keys and follow-up input.
func NewApp(events <-chan workflow.Event, gate Gate, queue Enqueuer, userID string, ceiling int64) *App {
	ti := textinput.New()
	ti.Placeholder = "Type a follow-up and press Enter..."
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 60

	return &App{
		events:  events,
		gate:    gate,
		queue:   queue,
		userID:  userID,
		ceiling: ceiling,
		phase:   models.PhaseAssess,
		input:   ti,
		width:   80,
	}
}

// Init starts listening for workflow events.
func (a *App) Init() tea.Cmd {
	return a.waitForEvent()
}

// waitForEvent blocks on the event channel and reports the next event.
func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-a.events
		if !ok {
			return EventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// Update handles messages for the run view.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.input.Width = msg.Width - 4
		return a, nil

	case tea.KeyMsg:
		return a.updateKeys(msg)

	case EventMsg:
		a.applyEvent(msg.Event)
		return a, a.waitForEvent()

	case EventsClosedMsg:
		a.done = true
		return a, tea.Quit
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

// updateKeys routes key presses: approval decisions take precedence
// over the follow-up input.
func (a *App) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return a, tea.Quit

	case "y", "Y":
		if a.pending != nil {
			id := a.pending.ID
			a.gate.Approve(id)
			a.pending = nil
			a.appendLog(fmt.Sprintf("approved %s", id))
			return a, nil
		}

	case "n", "N":
		if a.pending != nil {
			id := a.pending.ID
			a.gate.Reject(id, "rejected from run view")
			a.pending = nil
			a.appendLog(fmt.Sprintf("rejected %s", id))
			return a, nil
		}

	case "enter":
		if a.pending == nil {
			body := a.input.Value()
			if body != "" && a.queue != nil {
				a.queue.Enqueue(a.userID, "", body, 0, nil)
				a.input.Reset()
				a.appendLog(fmt.Sprintf("queued follow-up: %s", body))
			}
			return a, nil
		}
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

// applyEvent folds one workflow event into the view state.
func (a *App) applyEvent(ev workflow.Event) {
	a.tokensUsed = ev.TokensUsed
	a.cost = ev.Cost
	if ev.RunID != "" {
		a.runID = ev.RunID
	}
	if ev.Phase != "" {
		a.phase = ev.Phase
	}

	switch ev.Type {
	case workflow.EventApprovalRequired:
		if req, ok := a.lookupPending(ev.ApprovalID); ok {
			a.pending = req
		}
	case workflow.EventApprovalResolved:
		if a.pending != nil && a.pending.ID == ev.ApprovalID {
			a.pending = nil
		}
	case workflow.EventEmergencyMode:
		a.emergency = true
	case workflow.EventRunCompleted:
		a.done = true
	case workflow.EventRunFailed:
		a.done = true
		a.failed = true
	}

	a.appendLog(formatEvent(ev))
}

func (a *App) lookupPending(id string) (*models.ApprovalRequest, bool) {
	for _, req := range a.gate.Pending() {
		if req.ID == id {
			return req, true
		}
	}
	return nil, false
}

func (a *App) appendLog(line string) {
	a.log = append(a.log, line)
	if len(a.log) > maxLogLines {
		a.log = a.log[len(a.log)-maxLogLines:]
	}
}

// formatEvent renders one event as a log line.
func formatEvent(ev workflow.Event) string {
	switch ev.Type {
	case workflow.EventPhaseChanged:
		return fmt.Sprintf("→ %s", ev.Phase)
	case workflow.EventToolCalled:
		return fmt.Sprintf("  %s ...", ev.Tool)
	case workflow.EventToolSucceeded:
		return fmt.Sprintf("  %s ok", ev.Tool)
	case workflow.EventToolFailed:
		return fmt.Sprintf("  %s failed: %s", ev.Tool, ev.Message)
	case workflow.EventApprovalRequired:
		return fmt.Sprintf("! approval needed: %s", ev.Message)
	default:
		if ev.Message != "" {
			return fmt.Sprintf("  %s: %s", ev.Type, ev.Message)
		}
		return fmt.Sprintf("  %s", ev.Type)
	}
}
