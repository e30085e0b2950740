package store

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prompt string
		want   string
	}{
		{"Please analyze this code for me", "analyze-code"},
		{"Fix the bug", "fix-bug"},
		{"How do I deploy?", "deploy"},
		{"", "conversation"},
		{"the a an of", "conversation"},
		{"Refactor the  payment   service!!", "refactor-payment-service"},
	}
	for _, tt := range tests {
		if got := slugify(tt.prompt); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.prompt, got, tt.want)
		}
	}
}

func TestSlugifyBoundsLength(t *testing.T) {
	t.Parallel()

	prompt := "supercalifragilisticexpialidocious antidisestablishmentarianism floccinaucinihilipilification pneumonoultramicroscopicsilicovolcanoconiosis"
	slug := slugify(prompt)
	if len(slug) > maxSlugLen {
		t.Fatalf("slug length %d exceeds bound %d", len(slug), maxSlugLen)
	}
	if strings.HasSuffix(slug, "-") {
		t.Fatalf("slug %q must not end with a hyphen", slug)
	}
}

func TestSlugifyKeepsAtMostFiveWords(t *testing.T) {
	t.Parallel()

	slug := slugify("one two three four five six seven")
	if got := len(strings.Split(slug, "-")); got > maxSlugWords {
		t.Fatalf("slug %q has %d words, want at most %d", slug, got, maxSlugWords)
	}
}
