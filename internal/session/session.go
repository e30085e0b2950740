// Package session glues the conversation store, the context window and the
// dispatcher into the caller-facing converse operation.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/promptd/promptd/internal/contextwin"
	"github.com/promptd/promptd/internal/dispatch"
	"github.com/promptd/promptd/internal/domain"
	"github.com/promptd/promptd/internal/provider"
	"github.com/promptd/promptd/internal/store"
)

// Request is one converse invocation.
type Request struct {
	// Prompt is the new user content. Required.
	Prompt string
	// Selector resumes an existing conversation when non-empty: a full
	// id/key, a suffix, or a 1-based recency index.
	Selector string
	// Model overrides the conversation's (or the configured default)
	// model identifier.
	Model string
	// Media holds references to attached media parts.
	Media []string
}

// Result is a successful converse invocation.
type Result struct {
	Text            string        `json:"text"`
	Usage           *domain.Usage `json:"usage,omitempty"`
	ConversationID  string        `json:"conversation_id"`
	ConversationKey string        `json:"conversation_key"`
	Model           string        `json:"model"`
	Attempts        int           `json:"attempts"`
	PoolSize        int           `json:"pool_size"`
	Created         bool          `json:"created"`
}

// UnsavedError reports that a response was obtained but could not be
// persisted. This is distinct from "no response obtained": the caller holds
// a valid reply and only the save needs recovery.
type UnsavedError struct {
	Result *Result
	Err    error
}

func (e *UnsavedError) Error() string {
	return fmt.Sprintf("response obtained but not saved: %v", e.Err)
}

func (e *UnsavedError) Unwrap() error {
	return e.Err
}

// Config wires a Service.
type Config struct {
	Repo          store.Repository
	Dispatcher    *dispatch.Dispatcher
	Window        *contextwin.Manager
	Resolve       func(model string) (provider.Client, error)
	DefaultModel  string
	ContextBudget int
	Logger        *slog.Logger
}

// Service processes converse requests synchronously end-to-end.
type Service struct {
	repo         store.Repository
	dispatcher   *dispatch.Dispatcher
	window       *contextwin.Manager
	resolve      func(model string) (provider.Client, error)
	defaultModel string
	budget       int
	logger       *slog.Logger
}

// New creates a session service.
func New(cfg Config) (*Service, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("session: repository is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("session: dispatcher is required")
	}
	if cfg.Resolve == nil {
		return nil, fmt.Errorf("session: model resolver is required")
	}
	if cfg.ContextBudget <= 0 {
		return nil, fmt.Errorf("session: context budget must be > 0")
	}
	window := cfg.Window
	if window == nil {
		window = contextwin.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         cfg.Repo,
		dispatcher:   cfg.Dispatcher,
		window:       window,
		resolve:      cfg.Resolve,
		defaultModel: cfg.DefaultModel,
		budget:       cfg.ContextBudget,
		logger:       logger,
	}, nil
}

// Converse sends a prompt, resuming the selected conversation if any, and
// persists the exchange after a definitive success. A cancelled or failed
// dispatch appends nothing.
func (s *Service) Converse(ctx context.Context, req Request) (*Result, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("prompt is empty")
	}

	var conv *domain.Conversation
	if req.Selector != "" {
		loaded, err := s.repo.Load(ctx, req.Selector)
		if err != nil {
			return nil, err
		}
		conv = loaded
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		if conv != nil && conv.Model != "" {
			model = conv.Model
		} else {
			model = s.defaultModel
		}
	}
	client, err := s.resolve(model)
	if err != nil {
		return nil, fmt.Errorf("resolve model %q: %w", model, err)
	}

	var history []domain.Turn
	preferred := ""
	if conv != nil {
		history = s.window.SelectHistory(conv, s.budget)
		preferred = conv.PreferredCredential
	}

	res, err := s.dispatcher.Send(ctx, client, history, prompt, preferred)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Text:     res.Reply.Content,
		Usage:    res.Reply.Usage,
		Model:    model,
		Attempts: res.Attempts,
		PoolSize: res.PoolSize,
	}

	if conv == nil {
		created, err := s.repo.Create(ctx, prompt, model)
		if err != nil {
			return nil, &UnsavedError{Result: result, Err: err}
		}
		conv = created
		result.Created = true
	}
	result.ConversationID = conv.ID
	result.ConversationKey = conv.Key

	fingerprint := ""
	if res.Credential != "" {
		fingerprint = res.Credential.Fingerprint()
	}
	userTurn := domain.NewUserTurn(prompt, req.Media...)
	if err := s.repo.AppendExchange(ctx, conv.ID, userTurn, res.Reply, fingerprint); err != nil {
		return nil, &UnsavedError{Result: result, Err: err}
	}

	s.logger.Info("exchange complete",
		"conversation", conv.Key,
		"model", model,
		"attempts", res.Attempts,
		"history_turns", len(history),
		"wire_turns", len(client.History()),
	)
	return result, nil
}

// List returns conversation summaries, most-recent-first.
func (s *Service) List(ctx context.Context) ([]domain.ConversationSummary, error) {
	return s.repo.List(ctx)
}

// Get resolves a selector to a full conversation.
func (s *Service) Get(ctx context.Context, selector string) (*domain.Conversation, error) {
	return s.repo.Load(ctx, selector)
}
