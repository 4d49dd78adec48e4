// Package models contains the shared domain types for rudder.
package models

// Phase represents a stage of the workflow state machine.
type Phase string

const (
	// PhaseAssess is the initial phase where the request is analyzed.
	PhaseAssess Phase = "assess"
	// PhasePlan is where the approach is decided.
	PhasePlan Phase = "plan"
	// PhaseExecute is where tool work happens.
	PhaseExecute Phase = "execute"
	// PhaseTest is where the produced work is exercised.
	PhaseTest Phase = "test"
	// PhaseVerify is where results are checked against the request.
	PhaseVerify Phase = "verify"
	// PhaseConfirm is where the outcome is summarized for the user.
	PhaseConfirm Phase = "confirm"
	// PhaseCommit is the terminal success phase.
	PhaseCommit Phase = "commit"
	// PhaseError is reachable from any phase on timeout or failure.
	PhaseError Phase = "error"
)

// phaseOrder is the forward progression of non-error phases.
var phaseOrder = []Phase{
	PhaseAssess,
	PhasePlan,
	PhaseExecute,
	PhaseTest,
	PhaseVerify,
	PhaseConfirm,
	PhaseCommit,
}

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	if p == PhaseError {
		return true
	}
	for _, ph := range phaseOrder {
		if p == ph {
			return true
		}
	}
	return false
}

// Next returns the phase that follows p in the forward progression.
// Returns ok=false for the terminal commit phase, the error phase,
// and unknown phases.
func (p Phase) Next() (Phase, bool) {
	for i, ph := range phaseOrder {
		if p == ph {
			if i+1 < len(phaseOrder) {
				return phaseOrder[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

// Terminal returns true if the phase ends the run on entry.
func (p Phase) Terminal() bool {
	return p == PhaseCommit
}

// Index returns the position of the phase in the forward progression,
// or -1 for the error phase and unknown phases. Used to enforce that
// transitions are monotonically forward.
func (p Phase) Index() int {
	for i, ph := range phaseOrder {
		if p == ph {
			return i
		}
	}
	return -1
}

// Phases returns the forward progression of phases in order.
func Phases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}
