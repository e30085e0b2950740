package store

import (
	"strings"
	"unicode"
)

const (
	maxSlugWords = 5
	maxSlugLen   = 40
	slugFallback = "conversation"
)

// stopwords excluded from record keys so slugs keep the words that carry
// meaning.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "for": {},
	"with": {}, "and": {}, "or": {}, "but": {}, "not": {}, "my": {},
	"me": {}, "i": {}, "you": {}, "your": {}, "it": {}, "its": {},
	"do": {}, "does": {}, "did": {}, "can": {}, "could": {}, "would": {},
	"should": {}, "will": {}, "please": {}, "what": {}, "how": {},
	"why": {}, "when": {}, "where": {}, "who": {}, "which": {}, "about": {},
	"from": {}, "into": {}, "some": {}, "any": {}, "have": {}, "has": {},
	"had": {}, "if": {}, "so": {}, "as": {}, "by": {}, "up": {}, "out": {},
}

// slugify derives a human-readable slug from the significant words of a
// prompt: lowercased, stopword-filtered, hyphen-joined, bounded in length.
func slugify(prompt string) string {
	fields := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	words := make([]string, 0, maxSlugWords)
	for _, w := range fields {
		if _, skip := stopwords[w]; skip {
			continue
		}
		words = append(words, w)
		if len(words) == maxSlugWords {
			break
		}
	}
	if len(words) == 0 {
		return slugFallback
	}

	slug := strings.Join(words, "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	return slug
}
