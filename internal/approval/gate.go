// Package approval intercepts destructive tool calls and suspends them
// pending an explicit human decision.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calder-ai/rudder/pkg/models"
)

// ErrUnknownRequest is returned when a decision references an id the
// gate has never issued or has already purged.
var ErrUnknownRequest = errors.New("approval: unknown request id")

// ErrAlreadyDecided is returned when a second decision is submitted for
// a request that already has a terminal decision. Deciding twice is an
// error, not a no-op: a silent second decision would hide a race
// between two reviewers.
var ErrAlreadyDecided = errors.New("approval: request already decided")

// DefaultRetention is how long requests are kept before Cleanup purges
// them, decided or not. A pending request that ages out silently expires
// and callers must treat it as an implicit rejection.
const DefaultRetention = time.Hour

// expiredReason marks decisions synthesized when a pending request ages
// out of retention.
const expiredReason = "approval request expired"

// Predicate classifies a tool call as destructive from its input.
// Returns the reason when it matches.
type Predicate func(tool string, input map[string]any) (bool, string)

// defaultDestructiveTools are always gated regardless of input.
var defaultDestructiveTools = map[string]string{
	"delete_file":   "deletes a file",
	"delete_branch": "deletes a branch",
	"force_push":    "rewrites remote history",
}

// defaultPredicates catch contextually destructive calls.
var defaultPredicates = []Predicate{
	overwritePredicate,
	shellPredicate,
}

// overwritePredicate gates writes that declare they will clobber an
// existing file.
func overwritePredicate(tool string, input map[string]any) (bool, string) {
	if tool != "write_file" {
		return false, ""
	}
	if v, ok := input["overwrite"].(bool); ok && v {
		return true, "overwrites an existing file"
	}
	return false, ""
}

// shellPredicate gates shell commands with irreversible effects.
func shellPredicate(tool string, input map[string]any) (bool, string) {
	if tool != "shell" && tool != "run_command" {
		return false, ""
	}
	cmd, _ := input["command"].(string)
	for _, pattern := range []string{"rm -rf", "rm -fr", "git push --force", "sudo "} {
		if strings.Contains(cmd, pattern) {
			return true, fmt.Sprintf("shell command contains %q", pattern)
		}
	}
	return false, ""
}

// Gate owns the approval request store for one orchestrator. State is
// explicit and per-instance rather than process-global so runs and
// tests cannot couple through shared maps.
type Gate struct {
	mu sync.RWMutex

	// requests maps request id to its record.
	requests map[string]*models.ApprovalRequest
	// waiters maps request id to the channel a blocked workflow step
	// is waiting on.
	waiters map[string]chan models.ApprovalDecision

	// destructive is the static tool set, name -> reason.
	destructive map[string]string
	// predicates are the contextual classifiers.
	predicates []Predicate
	// retention is how long requests live before cleanup.
	retention time.Duration
	// store, when set, receives a write-through copy of every request
	// and decision so other processes can inspect them.
	store Store
}

// Store persists approval requests. Saving the same id again replaces
// the stored record, which is how decisions reach disk.
type Store interface {
	SaveApproval(r *models.ApprovalRequest) error
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithApprovalStore enables write-through persistence of requests and
// decisions.
func WithApprovalStore(store Store) GateOption {
	return func(g *Gate) {
		g.store = store
	}
}

// WithRetention overrides the request retention window.
func WithRetention(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.retention = d
		}
	}
}

// WithDestructiveTool adds a tool to the static destructive set.
func WithDestructiveTool(name, reason string) GateOption {
	return func(g *Gate) {
		g.destructive[name] = reason
	}
}

// WithPredicate adds a contextual destructive-call classifier.
func WithPredicate(p Predicate) GateOption {
	return func(g *Gate) {
		g.predicates = append(g.predicates, p)
	}
}

// NewGate creates a Gate with the default destructive classification.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{
		requests:    make(map[string]*models.ApprovalRequest),
		waiters:     make(map[string]chan models.ApprovalDecision),
		destructive: make(map[string]string),
		retention:   DefaultRetention,
	}
	for name, reason := range defaultDestructiveTools {
		g.destructive[name] = reason
	}
	g.predicates = append(g.predicates, defaultPredicates...)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequiresApproval classifies a tool call. Returns true with a
// human-readable reason when the call must be gated.
func (g *Gate) RequiresApproval(tool string, input map[string]any) (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if reason, ok := g.destructive[tool]; ok {
		return true, fmt.Sprintf("%s: %s", tool, reason)
	}
	for _, p := range g.predicates {
		if match, reason := p(tool, input); match {
			return true, fmt.Sprintf("%s: %s", tool, reason)
		}
	}
	return false, ""
}

// Request creates a pending approval request and returns it. The
// calling workflow step must not execute the underlying tool until the
// request resolves.
func (g *Gate) Request(runID, tool string, input map[string]any, reason string) *models.ApprovalRequest {
	req := &models.ApprovalRequest{
		ID:        uuid.New().String()[:8],
		RunID:     runID,
		Tool:      tool,
		Input:     snapshotInput(input),
		Reason:    reason,
		CreatedAt: time.Now(),
	}

	g.mu.Lock()
	g.requests[req.ID] = req
	g.mu.Unlock()

	g.persist(req)
	return req
}

// Approve records a terminal approval for the request.
func (g *Gate) Approve(id string) error {
	return g.decide(id, models.ApprovalDecision{Approved: true, DecidedAt: time.Now()})
}

// Reject records a terminal rejection for the request. The reason is
// surfaced to the caller as a cancellation of that operation, not a
// run-ending error.
func (g *Gate) Reject(id, reason string) error {
	return g.decide(id, models.ApprovalDecision{Approved: false, Reason: reason, DecidedAt: time.Now()})
}

// decide applies a terminal decision and wakes any waiter.
func (g *Gate) decide(id string, decision models.ApprovalDecision) error {
	g.mu.Lock()

	req, ok := g.requests[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if req.Decision != nil {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyDecided, id)
	}

	req.Decision = &decision
	waiter := g.waiters[id]
	delete(g.waiters, id)
	g.mu.Unlock()

	if waiter != nil {
		waiter <- decision
	}
	g.persist(req)
	return nil
}

// persist writes the request through to the store, if one is set.
func (g *Gate) persist(req *models.ApprovalRequest) {
	if g.store == nil {
		return
	}
	if err := g.store.SaveApproval(req); err != nil {
		log.Printf("[approval] persist request %s: %v", req.ID, err)
	}
}

// Wait blocks until the request receives a terminal decision, the
// request expires, or the context is cancelled.
func (g *Gate) Wait(ctx context.Context, id string) (models.ApprovalDecision, error) {
	g.mu.Lock()

	req, ok := g.requests[id]
	if !ok {
		g.mu.Unlock()
		return models.ApprovalDecision{}, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if req.Decision != nil {
		decision := *req.Decision
		g.mu.Unlock()
		return decision, nil
	}

	ch := make(chan models.ApprovalDecision, 1)
	g.waiters[id] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		if g.waiters[id] == ch {
			delete(g.waiters, id)
		}
		g.mu.Unlock()
	}()

	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		return models.ApprovalDecision{}, ctx.Err()
	}
}

// Get returns the request with the given id.
func (g *Gate) Get(id string) (*models.ApprovalRequest, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	req, ok := g.requests[id]
	return req, ok
}

// Pending returns all requests with no terminal decision, oldest first.
func (g *Gate) Pending() []*models.ApprovalRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var pending []*models.ApprovalRequest
	for _, req := range g.requests {
		if req.Pending() {
			pending = append(pending, req)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending
}

// Cleanup purges requests older than the retention window, decided or
// not. Still-pending requests that age out receive a synthetic
// rejection so blocked waiters unblock; callers observe it as an
// implicit rejection. Returns the number of purged requests.
func (g *Gate) Cleanup(now time.Time) int {
	g.mu.Lock()

	var expired []chan models.ApprovalDecision
	purged := 0
	cutoff := now.Add(-g.retention)

	for id, req := range g.requests {
		if req.CreatedAt.After(cutoff) {
			continue
		}
		if req.Pending() {
			req.Decision = &models.ApprovalDecision{
				Approved:  false,
				Reason:    expiredReason,
				DecidedAt: now,
			}
			if waiter, ok := g.waiters[id]; ok {
				expired = append(expired, waiter)
				delete(g.waiters, id)
			}
		}
		delete(g.requests, id)
		purged++
	}
	g.mu.Unlock()

	for _, waiter := range expired {
		waiter <- models.ApprovalDecision{Approved: false, Reason: expiredReason, DecidedAt: now}
	}
	return purged
}

// Retention returns the configured retention window.
func (g *Gate) Retention() time.Duration {
	return g.retention
}

// snapshotInput copies the tool input so later mutation by the caller
// cannot change what the reviewer saw.
func snapshotInput(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	snapshot := make(map[string]any, len(input))
	for k, v := range input {
		snapshot[k] = v
	}
	return snapshot
}
