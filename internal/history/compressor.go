// Package history condenses older conversation turns into a short
// synopsis when token usage crosses the warning band.
package history

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/calder-ai/rudder/internal/budget"
)

// DefaultKeepRecent is the number of most recent turns kept verbatim.
const DefaultKeepRecent = 10

// DefaultMaxGists is the number of role-tagged gists kept in the synopsis.
const DefaultMaxGists = 10

// gistMaxChars bounds a single one-line gist.
const gistMaxChars = 80

// RoleSystem tags the synthetic synopsis entry.
const RoleSystem = "system"

// Turn is one message in the conversation history.
type Turn struct {
	// Role is who produced the turn (user, agent, system, tool).
	Role string
	// Content is the turn's text.
	Content string
}

// Result is the outcome of a compression pass.
type Result struct {
	// Turns is the compressed history: one synopsis entry followed by
	// the preserved recent turns. Equals the input when Compressed is
	// false.
	Turns []Turn
	// Compressed indicates whether anything was replaced.
	Compressed bool
	// RemovedTurns is how many older turns were folded into the synopsis.
	RemovedTurns int
	// SavedTokens is the estimated token savings. A chars-per-token
	// approximation, not the provider's tokenizer.
	SavedTokens int64
}

// Compressor folds an older conversation prefix into a single synopsis
// entry, keeping the most recent turns verbatim. Invoke only when the
// budget tracker reports a warning.
type Compressor struct {
	// keepRecent is the number of trailing turns preserved verbatim.
	keepRecent int
	// maxGists caps the synopsis at the most recent N gists.
	maxGists int
}

// NewCompressor creates a Compressor. Non-positive arguments fall back
// to the defaults.
func NewCompressor(keepRecent, maxGists int) *Compressor {
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}
	if maxGists <= 0 {
		maxGists = DefaultMaxGists
	}
	return &Compressor{keepRecent: keepRecent, maxGists: maxGists}
}

// Compress partitions turns into an older prefix and the most recent
// keepRecent turns, replacing the prefix with one system-level synopsis
// entry. With no older prefix this is a no-op reporting Compressed=false.
func (c *Compressor) Compress(turns []Turn) Result {
	if len(turns) <= c.keepRecent {
		return Result{Turns: turns}
	}

	split := len(turns) - c.keepRecent
	older := turns[:split]
	recent := turns[split:]

	synopsis := c.synopsis(older)

	out := make([]Turn, 0, len(recent)+1)
	out = append(out, Turn{Role: RoleSystem, Content: synopsis})
	out = append(out, recent...)

	var olderChars int
	for _, t := range older {
		olderChars += len(t.Content)
	}

	saved := budget.EstimateTokensForLength(olderChars) - budget.EstimateTokens(synopsis)
	if saved < 0 {
		saved = 0
	}

	return Result{
		Turns:        out,
		Compressed:   true,
		RemovedTurns: len(older),
		SavedTokens:  saved,
	}
}

// synopsis builds the replacement entry for an older prefix: the most
// recent maxGists one-line gists, tagged by role.
func (c *Compressor) synopsis(older []Turn) string {
	gists := make([]string, 0, len(older))
	for _, t := range older {
		gists = append(gists, fmt.Sprintf("%s: %s", t.Role, gist(t.Content)))
	}

	if len(gists) > c.maxGists {
		gists = gists[len(gists)-c.maxGists:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Earlier conversation (%d turns, condensed):\n", len(older))
	for _, g := range gists {
		b.WriteString("- ")
		b.WriteString(g)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// gist extracts a short one-line summary from a turn's content: the
// first non-empty line, cut at gistMaxChars.
func gist(content string) string {
	line := ""
	for _, l := range strings.Split(content, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			line = l
			break
		}
	}

	if len(line) > gistMaxChars {
		cut := gistMaxChars - 3
		// Never split a multi-byte rune at the cut.
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = line[:cut] + "..."
	}
	return line
}
