// Package budget tracks token consumption for a conversational run
// against a fixed ceiling and computes degradation policy as the
// ceiling nears exhaustion.
package budget

import (
	"sync"
)

// DefaultWarningThreshold is the default fraction of ceiling at which
// warnings begin.
const DefaultWarningThreshold = 0.80

// DefaultEmergencyThreshold is the default fraction of ceiling at which
// emergency mode engages.
const DefaultEmergencyThreshold = 0.90

// DefaultEmergencyReserve is the default token reserve driving the
// emergency strategy escalation tiers.
const DefaultEmergencyReserve = 20_000

// Check is the result of a speculative limit check.
type Check struct {
	// Allowed is false only if current+incoming would strictly exceed
	// the ceiling. Callers in emergency mode are expected to proceed
	// anyway with a degraded strategy.
	Allowed bool
	// Percentage is (current+incoming)/ceiling * 100. May exceed 100.
	Percentage float64
	// Warning is true at or above the warning threshold.
	Warning bool
	// EmergencyMode is true at or above the emergency threshold.
	EmergencyMode bool
	// TokensAvailable is ceiling - current - incoming, floored at zero.
	TokensAvailable int64
}

// CheckLimit reports whether incoming tokens fit under the ceiling and
// which usage band the total lands in. Pure: no side effects, so it can
// be called speculatively before committing to an operation.
func CheckLimit(ceiling, current, incoming int64, warnFrac, emergencyFrac float64) Check {
	if warnFrac <= 0 {
		warnFrac = DefaultWarningThreshold
	}
	if emergencyFrac <= 0 {
		emergencyFrac = DefaultEmergencyThreshold
	}

	total := current + incoming

	var pct float64
	if ceiling > 0 {
		pct = float64(total) / float64(ceiling) * 100
	}

	available := ceiling - total
	if available < 0 {
		available = 0
	}

	// Emergency is the more severe band, so it always carries the
	// warning flag even when the warning threshold is tuned above the
	// emergency threshold.
	emergency := ceiling > 0 && pct >= emergencyFrac*100

	return Check{
		Allowed:         ceiling <= 0 || total <= ceiling,
		Percentage:      pct,
		Warning:         (ceiling > 0 && pct >= warnFrac*100) || emergency,
		EmergencyMode:   emergency,
		TokensAvailable: available,
	}
}

// Usage represents token consumption split by direction.
type Usage struct {
	// InputTokens is the total input tokens.
	InputTokens int64
	// OutputTokens is the total output tokens.
	OutputTokens int64
	// TotalTokens is InputTokens + OutputTokens.
	TotalTokens int64
}

// Tracker holds the running token count for a run against a fixed
// ceiling. Exact (provider-reported) and estimated counts are kept
// separate so accounting does not silently drift; the combined total
// drives limit checks. The coordinator is the single writer; any
// goroutine may read.
type Tracker struct {
	mu sync.RWMutex

	// ceiling is the maximum conversation size in tokens.
	ceiling int64
	// warnFrac is the warning threshold as a fraction of ceiling.
	warnFrac float64
	// emergencyFrac is the emergency threshold as a fraction of ceiling.
	emergencyFrac float64
	// reserve drives the emergency strategy escalation tiers.
	reserve int64

	// exact holds provider-reported token counts.
	exact Usage
	// estimated holds heuristic counts from content length.
	estimated Usage
	// cost is the cumulative dollar cost.
	cost float64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithWarningThreshold sets the warning threshold fraction (0.0-1.0).
// Invalid values are clamped.
func WithWarningThreshold(frac float64) Option {
	return func(t *Tracker) {
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		t.warnFrac = frac
	}
}

// WithEmergencyThreshold sets the emergency threshold fraction (0.0-1.0).
// Invalid values are clamped.
func WithEmergencyThreshold(frac float64) Option {
	return func(t *Tracker) {
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		t.emergencyFrac = frac
	}
}

// WithEmergencyReserve sets the token reserve for the emergency strategy.
func WithEmergencyReserve(reserve int64) Option {
	return func(t *Tracker) {
		if reserve > 0 {
			t.reserve = reserve
		}
	}
}

// NewTracker creates a Tracker with the given ceiling.
func NewTracker(ceiling int64, opts ...Option) *Tracker {
	t := &Tracker{
		ceiling:       ceiling,
		warnFrac:      DefaultWarningThreshold,
		emergencyFrac: DefaultEmergencyThreshold,
		reserve:       DefaultEmergencyReserve,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordExact adds provider-reported token counts.
func (t *Tracker) RecordExact(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.exact.InputTokens += input
	t.exact.OutputTokens += output
	t.exact.TotalTokens = t.exact.InputTokens + t.exact.OutputTokens
}

// RecordEstimated adds heuristic token counts derived from content length.
func (t *Tracker) RecordEstimated(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.estimated.InputTokens += input
	t.estimated.OutputTokens += output
	t.estimated.TotalTokens = t.estimated.InputTokens + t.estimated.OutputTokens
}

// RecordCost adds to the cumulative dollar cost.
func (t *Tracker) RecordCost(cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cost += cost
}

// Release subtracts tokens reclaimed by history compression from the
// estimated count. The count never goes below zero.
func (t *Tracker) Release(tokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.estimated.TotalTokens -= tokens
	if t.estimated.TotalTokens < 0 {
		t.estimated.TotalTokens = 0
	}
	t.estimated.InputTokens = t.estimated.TotalTokens - t.estimated.OutputTokens
	if t.estimated.InputTokens < 0 {
		t.estimated.InputTokens = 0
	}
}

// Used returns the combined (exact + estimated) token total.
func (t *Tracker) Used() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.exact.TotalTokens + t.estimated.TotalTokens
}

// Ceiling returns the configured ceiling.
func (t *Tracker) Ceiling() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.ceiling
}

// Cost returns the cumulative dollar cost.
func (t *Tracker) Cost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.cost
}

// ExactUsage returns only the provider-reported counts.
func (t *Tracker) ExactUsage() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.exact
}

// EstimatedUsage returns only the heuristic counts.
func (t *Tracker) EstimatedUsage() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.estimated
}

// Confidence returns the fraction of the total count that is
// provider-reported (1.0 when nothing has been recorded).
func (t *Tracker) Confidence() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	exact := t.exact.TotalTokens
	total := exact + t.estimated.TotalTokens
	if total == 0 {
		return 1.0
	}
	return float64(exact) / float64(total)
}

// Check reports whether incoming tokens fit under the ceiling given the
// tracker's current count.
func (t *Tracker) Check(incoming int64) Check {
	t.mu.RLock()
	defer t.mu.RUnlock()

	current := t.exact.TotalTokens + t.estimated.TotalTokens
	return CheckLimit(t.ceiling, current, incoming, t.warnFrac, t.emergencyFrac)
}

// Emergency computes the degradation strategy for the tracker's current
// count.
func (t *Tracker) Emergency() Strategy {
	t.mu.RLock()
	defer t.mu.RUnlock()

	current := t.exact.TotalTokens + t.estimated.TotalTokens
	return EmergencyStrategy(t.ceiling, current, t.reserve)
}

// Reset clears all counters. Useful when starting a new run on a
// reused tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.exact = Usage{}
	t.estimated = Usage{}
	t.cost = 0
}
