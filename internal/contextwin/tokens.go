package contextwin

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/promptd/promptd/internal/domain"
)

// Per-message overhead following the OpenAI counting convention: role and
// separator tokens around the content.
const messageOverheadTokens = 4

var (
	bpeOnce sync.Once
	bpeEnc  tokenizer.Codec
)

// getEncoder returns a singleton BPE encoder (o200k_base, used by current
// OpenAI models), falling back to cl100k_base.
func getEncoder() tokenizer.Codec {
	bpeOnce.Do(func() {
		var err error
		bpeEnc, err = tokenizer.Get(tokenizer.O200kBase)
		if err != nil {
			bpeEnc, err = tokenizer.Get(tokenizer.Cl100kBase)
			if err != nil {
				panic("failed to initialize tiktoken encoder: " + err.Error())
			}
		}
	})
	return bpeEnc
}

// countTokens returns the number of BPE tokens in the given text.
func countTokens(text string) int {
	ids, _, _ := getEncoder().Encode(text)
	return len(ids)
}

// estimateTurn approximates the token cost of a turn from its text. Used
// when the provider did not report counts for it.
func estimateTurn(t domain.Turn) int {
	n := messageOverheadTokens + countTokens(t.Content)
	for _, ref := range t.Media {
		n += countTokens(ref)
	}
	return n
}

// turnCost returns the token cost of a turn. Providers report counts per
// call rather than per turn, so only the completion count of an assistant
// turn is attributable to the turn itself; everything else is estimated.
func turnCost(t domain.Turn) int {
	if t.Usage != nil && t.Role == domain.RoleAssistant && t.Usage.CompletionTokens > 0 {
		return int(t.Usage.CompletionTokens) + messageOverheadTokens
	}
	return estimateTurn(t)
}
