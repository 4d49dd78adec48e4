package history

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func makeTurns(n int) []Turn {
	turns := make([]Turn, n)
	for i := range turns {
		role := "user"
		if i%2 == 1 {
			role = "agent"
		}
		turns[i] = Turn{
			Role:    role,
			Content: fmt.Sprintf("turn %d content with some padding text to compress", i),
		}
	}
	return turns
}

func TestCompress_NoOlderPrefixIsNoop(t *testing.T) {
	c := NewCompressor(10, 10)

	tests := []struct {
		name  string
		turns []Turn
	}{
		{"empty history", nil},
		{"fewer than keep", makeTurns(5)},
		{"exactly keep", makeTurns(10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := c.Compress(tt.turns)
			if r.Compressed {
				t.Error("Compressed = true, want false")
			}
			if len(r.Turns) != len(tt.turns) {
				t.Errorf("len(Turns) = %d, want %d", len(r.Turns), len(tt.turns))
			}
			if r.SavedTokens != 0 {
				t.Errorf("SavedTokens = %d, want 0", r.SavedTokens)
			}
		})
	}
}

func TestCompress_KeepsRecentVerbatim(t *testing.T) {
	c := NewCompressor(10, 10)
	turns := makeTurns(25)

	r := c.Compress(turns)

	if !r.Compressed {
		t.Fatal("Compressed = false, want true")
	}
	if r.RemovedTurns != 15 {
		t.Errorf("RemovedTurns = %d, want 15", r.RemovedTurns)
	}
	// Synopsis plus ten preserved turns.
	if len(r.Turns) != 11 {
		t.Fatalf("len(Turns) = %d, want 11", len(r.Turns))
	}
	for i := 0; i < 10; i++ {
		want := turns[15+i]
		got := r.Turns[i+1]
		if got != want {
			t.Errorf("recent turn %d = %+v, want %+v", i, got, want)
		}
	}
}

func TestCompress_SynopsisShape(t *testing.T) {
	c := NewCompressor(10, 10)
	turns := makeTurns(30)

	r := c.Compress(turns)

	synopsis := r.Turns[0]
	if synopsis.Role != RoleSystem {
		t.Errorf("synopsis role = %q, want %q", synopsis.Role, RoleSystem)
	}
	if !strings.Contains(synopsis.Content, "20 turns") {
		t.Errorf("synopsis should report 20 removed turns: %q", synopsis.Content)
	}

	// Only the ten most recent gists survive; turn 19 is the last
	// removed turn, turn 10 the earliest gisted one.
	if !strings.Contains(synopsis.Content, "turn 19") {
		t.Error("synopsis missing most recent removed turn")
	}
	if !strings.Contains(synopsis.Content, "turn 10") {
		t.Error("synopsis missing earliest kept gist")
	}
	if strings.Contains(synopsis.Content, "turn 9 ") {
		t.Error("synopsis should drop gists beyond the cap")
	}

	gistLines := 0
	for _, line := range strings.Split(synopsis.Content, "\n") {
		if strings.HasPrefix(line, "- ") {
			gistLines++
		}
	}
	if gistLines != 10 {
		t.Errorf("synopsis carries %d gists, want 10: %q", gistLines, synopsis.Content)
	}
}

func TestCompress_GistsAreRoleTaggedOneLiners(t *testing.T) {
	c := NewCompressor(2, 10)
	turns := []Turn{
		{Role: "user", Content: "first line of a long request\nsecond line ignored"},
		{Role: "agent", Content: strings.Repeat("a very long reply ", 20)},
		{Role: "user", Content: "recent one"},
		{Role: "agent", Content: "recent two"},
	}

	r := c.Compress(turns)

	synopsis := r.Turns[0].Content
	if !strings.Contains(synopsis, "user: first line of a long request") {
		t.Errorf("gist should be the first line tagged by role: %q", synopsis)
	}
	if strings.Contains(synopsis, "second line ignored") {
		t.Error("gist should not include lines past the first")
	}

	for _, line := range strings.Split(synopsis, "\n") {
		if strings.HasPrefix(line, "- ") && len(line) > 100 {
			t.Errorf("gist line too long (%d chars): %q", len(line), line)
		}
	}
}

func TestCompress_ReportsEstimatedSavings(t *testing.T) {
	c := NewCompressor(10, 10)
	turns := makeTurns(100)

	r := c.Compress(turns)

	if r.SavedTokens <= 0 {
		t.Errorf("SavedTokens = %d, want > 0", r.SavedTokens)
	}
}

func TestGist_KeepsRunesWhole(t *testing.T) {
	// Three-byte runes; the cut offset is not a multiple of three, so a
	// byte-offset cut would land mid-rune.
	line := strings.Repeat("語", 100)

	g := gist(line)

	if !utf8.ValidString(g) {
		t.Errorf("gist is not valid UTF-8: %q", g)
	}
	if !strings.HasSuffix(g, "...") {
		t.Errorf("long gist should carry an ellipsis: %q", g)
	}
	if len(g) > gistMaxChars {
		t.Errorf("gist length = %d, want <= %d", len(g), gistMaxChars)
	}
}
