package budget

import "fmt"

// DefaultMaxOutputTokens is the output cap applied before any
// emergency tier engages.
const DefaultMaxOutputTokens = 4096

// Strategy is the degradation policy for the next generation step when
// the budget nears exhaustion. It is advice for the caller to apply; it
// does not itself truncate anything.
type Strategy struct {
	// MaxOutputTokens caps the next generation's output.
	MaxOutputTokens int64
	// TruncateToolResults forces tool results through output bounding.
	TruncateToolResults bool
	// SkipThinking drops optional reasoning output from the next step.
	SkipThinking bool
	// Actions lists the degradations applied, for operator visibility.
	Actions []string
}

// EmergencyStrategy computes the degradation policy for the given
// remaining budget. Two escalation tiers: below twice the reserve the
// output cap drops to half the reserve and tool-result truncation is
// forced; below the reserve itself, thinking is skipped and the cap is
// halved again. Pure function of remaining budget.
func EmergencyStrategy(ceiling, current, reserve int64) Strategy {
	if reserve <= 0 {
		reserve = DefaultEmergencyReserve
	}

	remaining := ceiling - current
	if remaining < 0 {
		remaining = 0
	}

	s := Strategy{MaxOutputTokens: DefaultMaxOutputTokens}

	if remaining < 2*reserve {
		s.MaxOutputTokens = reserve / 2
		s.TruncateToolResults = true
		s.Actions = append(s.Actions,
			fmt.Sprintf("capped output to %d tokens", s.MaxOutputTokens),
			"forced tool result truncation")
	}

	if remaining < reserve {
		s.SkipThinking = true
		s.MaxOutputTokens /= 2
		s.Actions = append(s.Actions,
			"skipping optional reasoning output",
			fmt.Sprintf("halved output cap to %d tokens", s.MaxOutputTokens))
	}

	return s
}
