package contextwin

import (
	"strconv"
	"testing"

	"github.com/promptd/promptd/internal/domain"
)

// costByContent reads the turn cost from its content, so budgets in tests
// are explicit.
func costByContent(t domain.Turn) int {
	n, err := strconv.Atoi(t.Content)
	if err != nil {
		panic("test turn content must be a cost: " + t.Content)
	}
	return n
}

func conversationWithCosts(costs ...int) *domain.Conversation {
	conv := &domain.Conversation{ID: "test", Key: "test-0000"}
	for i, c := range costs {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		conv.Turns = append(conv.Turns, domain.Turn{Role: role, Content: strconv.Itoa(c)})
	}
	return conv
}

func TestSelectHistoryTrimsOldestFirst(t *testing.T) {
	t.Parallel()

	m := New(WithCostFunc(costByContent))
	conv := conversationWithCosts(50, 30, 20, 10)

	got := m.SelectHistory(conv, 55)
	// Newest backward: 10 + 20 fits, adding the 30 would exceed 55, so
	// keep [20, 10].
	if len(got) != 2 {
		t.Fatalf("kept %d turns, want 2", len(got))
	}
	if got[0].Content != "20" || got[1].Content != "10" {
		t.Errorf("kept %q/%q, want 20/10 in chronological order", got[0].Content, got[1].Content)
	}
}

func TestSelectHistoryKeepsMostRecentOverBudget(t *testing.T) {
	t.Parallel()

	m := New(WithCostFunc(costByContent))
	conv := conversationWithCosts(5, 1000)

	got := m.SelectHistory(conv, 10)
	if len(got) != 1 {
		t.Fatalf("kept %d turns, want exactly the most recent", len(got))
	}
	if got[0].Content != "1000" {
		t.Errorf("kept %q, want the most recent turn", got[0].Content)
	}
}

func TestSelectHistoryReturnsContiguousSuffix(t *testing.T) {
	t.Parallel()

	m := New(WithCostFunc(costByContent))
	conv := conversationWithCosts(7, 3, 9, 2, 4, 6, 1)

	for budget := 0; budget <= 40; budget++ {
		got := m.SelectHistory(conv, budget)
		if len(got) == 0 {
			t.Fatalf("budget %d: output must be non-empty for a non-empty conversation", budget)
		}
		offset := len(conv.Turns) - len(got)
		for i, turn := range got {
			if turn.Content != conv.Turns[offset+i].Content {
				t.Fatalf("budget %d: output is not a contiguous suffix", budget)
			}
		}
	}
}

func TestSelectHistoryIsDeterministic(t *testing.T) {
	t.Parallel()

	m := New(WithCostFunc(costByContent))
	conv := conversationWithCosts(8, 8, 8, 8)

	first := m.SelectHistory(conv, 20)
	second := m.SelectHistory(conv, 20)
	if len(first) != len(second) {
		t.Fatalf("selection not deterministic: %d vs %d turns", len(first), len(second))
	}
}

func TestSelectHistoryDoesNotMutateConversation(t *testing.T) {
	t.Parallel()

	m := New(WithCostFunc(costByContent))
	conv := conversationWithCosts(10, 10, 10)

	_ = m.SelectHistory(conv, 5)
	if len(conv.Turns) != 3 {
		t.Fatalf("conversation mutated: %d turns left", len(conv.Turns))
	}
}

func TestSelectHistoryEmptyConversation(t *testing.T) {
	t.Parallel()

	m := New()
	if got := m.SelectHistory(&domain.Conversation{}, 100); got != nil {
		t.Fatalf("expected nil for an empty conversation, got %v", got)
	}
}

func TestDefaultCostPrefersReportedCompletionTokens(t *testing.T) {
	t.Parallel()

	reported := domain.Turn{
		Role:    domain.RoleAssistant,
		Content: "short",
		Usage:   &domain.Usage{PromptTokens: 500, CompletionTokens: 42, TotalTokens: 542},
	}
	if got := turnCost(reported); got != 42+messageOverheadTokens {
		t.Errorf("reported cost = %d, want completion tokens plus overhead", got)
	}

	estimated := domain.Turn{Role: domain.RoleUser, Content: "some text to estimate"}
	if got := turnCost(estimated); got <= messageOverheadTokens {
		t.Errorf("estimated cost = %d, want content tokens above the overhead", got)
	}
}
