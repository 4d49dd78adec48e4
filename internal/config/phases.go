package config

import (
	"github.com/calder-ai/rudder/pkg/models"
)

// For returns the budget for the given phase. Unknown phases fall back
// to the execute budget, which has the widest allowance.
func (p PhasesConfig) For(phase models.Phase) PhaseConfig {
	switch phase {
	case models.PhaseAssess:
		return p.Assess
	case models.PhasePlan:
		return p.Plan
	case models.PhaseExecute:
		return p.Execute
	case models.PhaseTest:
		return p.Test
	case models.PhaseVerify:
		return p.Verify
	case models.PhaseConfirm:
		return p.Confirm
	case models.PhaseCommit:
		return p.Commit
	default:
		return p.Execute
	}
}
