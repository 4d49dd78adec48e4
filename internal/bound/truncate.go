// Package bound truncates tool output to a maximum size before it
// re-enters the conversation, preserving natural text boundaries.
package bound

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars is the default truncation limit for a tool result.
const DefaultMaxChars = 5000

// MinChars is the default floor below which a caller-supplied limit is
// clamped.
const MinChars = 500

// Marker is appended to truncated output so downstream consumers,
// including the model itself, know data was cut. Never silent.
const Marker = "\n\n[output truncated: %d of %d chars shown]"

// boundaryFraction is how far back from the limit a newline or word
// boundary is still an acceptable cut point.
const boundaryFraction = 0.7

// Result is the outcome of a truncation pass.
type Result struct {
	// Content is the bounded output, with the marker appended when cut.
	Content string
	// Truncated indicates whether anything was cut.
	Truncated bool
	// OriginalLength is the true serialized length of the input.
	OriginalLength int
	// Saved is the number of characters removed, excluding the marker.
	Saved int
}

// Truncate bounds output to maxChars. Non-string outputs are serialized
// to text for measurement. The cut prefers the last line break within
// 70% of the limit, then the last word boundary within 70%, then a hard
// cut at the limit. Idempotent: running the bounded content through
// again with the same limit reports Truncated=false.
func Truncate(output any, maxChars int) Result {
	return TruncateWithFloor(output, maxChars, MinChars)
}

// TruncateWithFloor is Truncate with a caller-supplied clamp floor.
// A non-positive minChars falls back to MinChars.
func TruncateWithFloor(output any, maxChars, minChars int) Result {
	text := serialize(output)

	if minChars <= 0 {
		minChars = MinChars
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if maxChars < minChars {
		maxChars = minChars
	}

	// Already-bounded output passes through unchanged so repeated
	// passes with the same limit are stable. The marker accounts for
	// the allowance past the limit.
	if len(text) <= maxChars || alreadyBounded(text, maxChars) {
		return Result{
			Content:        text,
			OriginalLength: len(text),
		}
	}

	cut := cutPoint(text, maxChars)
	kept := text[:cut]

	return Result{
		Content:        kept + fmt.Sprintf(Marker, cut, len(text)),
		Truncated:      true,
		OriginalLength: len(text),
		Saved:          len(text) - cut,
	}
}

// markerPattern matches the truncation marker at the end of output.
var markerPattern = regexp.MustCompile(`\n\n\[output truncated: \d+ of \d+ chars shown\]$`)

// alreadyBounded reports whether text is the output of a previous
// Truncate call with the same or smaller limit: it carries the marker
// and its body fits within maxChars.
func alreadyBounded(text string, maxChars int) bool {
	loc := markerPattern.FindStringIndex(text)
	if loc == nil {
		return false
	}
	return loc[0] <= maxChars
}

// cutPoint finds the best cut position within maxChars.
func cutPoint(text string, maxChars int) int {
	limit := text[:maxChars]
	floor := int(float64(maxChars) * boundaryFraction)

	if idx := strings.LastIndexByte(limit, '\n'); idx >= floor {
		return idx
	}
	if idx := strings.LastIndexAny(limit, " \t"); idx >= floor {
		return idx
	}
	// Hard cut. Back up so a multi-byte rune is never split.
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return cut
}

// serialize renders a tool output as text for length measurement.
// Strings pass through; errors use their message; everything else is
// JSON-encoded, falling back to fmt formatting for unencodable values.
func serialize(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case error:
		return v.Error()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
