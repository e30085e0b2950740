// Package api provides HTTP handlers for the promptd API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/promptd/promptd/internal/dispatch"
	"github.com/promptd/promptd/internal/domain"
	"github.com/promptd/promptd/internal/keypool"
	"github.com/promptd/promptd/internal/provider"
	"github.com/promptd/promptd/internal/session"
	"github.com/promptd/promptd/internal/store"
)

// ChatService is the session capability the handlers need.
type ChatService interface {
	Converse(ctx context.Context, req session.Request) (*session.Result, error)
	List(ctx context.Context) ([]domain.ConversationSummary, error)
	Get(ctx context.Context, selector string) (*domain.Conversation, error)
}

// Handler serves the chat and conversation endpoints.
type Handler struct {
	svc    ChatService
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc ChatService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the API endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.Chat)
	r.Get("/api/conversations", h.ListConversations)
	r.Get("/api/conversations/{selector}", h.GetConversation)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	Prompt string `json:"prompt"`
	// Conversation resumes an existing conversation: full id/key, suffix,
	// or 1-based recency index.
	Conversation string `json:"conversation,omitempty"`
	Model        string `json:"model,omitempty"`
}

// ChatResponse wraps a converse result, with Saved=false when the response
// was obtained but could not be persisted.
type ChatResponse struct {
	*session.Result
	Saved bool `json:"saved"`
}

// Chat handles POST /api/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Prompt == "" {
		Error(w, http.StatusBadRequest, "prompt is required")
		return
	}

	result, err := h.svc.Converse(r.Context(), session.Request{
		Prompt:   req.Prompt,
		Selector: req.Conversation,
		Model:    req.Model,
	})
	if err != nil {
		h.writeConverseError(w, err)
		return
	}
	JSON(w, http.StatusOK, ChatResponse{Result: result, Saved: true})
}

// writeConverseError maps the error taxonomy onto HTTP statuses. A response
// that was obtained but not saved is still returned to the caller: the two
// failure modes need different recovery actions.
func (h *Handler) writeConverseError(w http.ResponseWriter, err error) {
	var unsaved *session.UnsavedError
	if errors.As(err, &unsaved) {
		h.logger.Error("response obtained but not saved", "error", unsaved.Err)
		JSON(w, http.StatusOK, ChatResponse{Result: unsaved.Result, Saved: false})
		return
	}

	var exhausted *dispatch.ExhaustedError
	switch {
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrAmbiguousSelector):
		Error(w, http.StatusBadRequest, "selector matches more than one conversation")
	case errors.Is(err, keypool.ErrNoCredentials):
		Error(w, http.StatusBadRequest, "no API credentials configured")
	case errors.As(err, &exhausted):
		h.logger.Warn("all credentials exhausted", "attempts", exhausted.Attempts, "pool_size", exhausted.PoolSize)
		Error(w, http.StatusServiceUnavailable, exhausted.Error())
	case provider.IsAuthFailure(err):
		Error(w, http.StatusBadGateway, "provider rejected the credential: check your API key")
	default:
		h.logger.Error("chat request failed", "error", err)
		Error(w, http.StatusBadGateway, err.Error())
	}
}

// ListConversations handles GET /api/conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.svc.List(r.Context())
	if err != nil {
		h.logger.Error("list conversations failed", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if summaries == nil {
		summaries = []domain.ConversationSummary{}
	}
	JSON(w, http.StatusOK, summaries)
}

// GetConversation handles GET /api/conversations/{selector}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	selector := chi.URLParam(r, "selector")
	conv, err := h.svc.Get(r.Context(), selector)
	switch {
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrAmbiguousSelector):
		Error(w, http.StatusBadRequest, "selector matches more than one conversation")
	case err != nil:
		h.logger.Error("get conversation failed", "selector", selector, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
	default:
		JSON(w, http.StatusOK, conv)
	}
}
