package budget

// charsPerToken is the heuristic character-to-token ratio used when the
// provider's real tokenizer is unavailable. An approximation for English
// prose and code; counts derived from it are recorded as estimated, not
// exact.
const charsPerToken = 4

// EstimateTokens estimates the token count of text from its length,
// rounding up. Use provider-reported counts wherever available and
// record those through RecordExact instead.
func EstimateTokens(text string) int64 {
	return EstimateTokensForLength(len(text))
}

// EstimateTokensForLength estimates the token count for a text of n
// characters.
func EstimateTokensForLength(n int) int64 {
	if n <= 0 {
		return 0
	}
	return int64((n + charsPerToken - 1) / charsPerToken)
}

// ModelPricing contains pricing per 1M tokens for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultModelPricing contains pricing for known Claude models.
var DefaultModelPricing = map[string]ModelPricing{
	"claude-opus-4-5-20251101":   {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"claude-sonnet-4-20250514":   {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-sonnet-20241022": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-haiku-20241022":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
}

// CostFor calculates the dollar cost of a token usage for the given
// model. Returns 0 for unknown models.
func CostFor(model string, input, output int64) float64 {
	pricing, ok := DefaultModelPricing[model]
	if !ok {
		return 0
	}

	inputCost := float64(input) / 1_000_000 * pricing.InputPerMillion
	outputCost := float64(output) / 1_000_000 * pricing.OutputPerMillion
	return inputCost + outputCost
}
