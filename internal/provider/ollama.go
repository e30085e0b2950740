package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/promptd/promptd/internal/domain"
)

const (
	ollamaName = "ollama"

	// DefaultOllamaBaseURL is the fixed local endpoint of a stock Ollama
	// install.
	DefaultOllamaBaseURL = "http://localhost:11434"
)

// OllamaClient is the local unauthenticated variant. There is no credential
// to rotate, so a connection failure is fatal rather than retryable.
type OllamaClient struct {
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	sent       historyRecorder
}

// OllamaOption configures the client.
type OllamaOption func(*OllamaClient)

// WithOllamaBaseURL overrides the local endpoint.
func WithOllamaBaseURL(url string) OllamaOption {
	return func(c *OllamaClient) { c.baseURL = url }
}

// WithOllamaTimeout bounds each request.
func WithOllamaTimeout(d time.Duration) OllamaOption {
	return func(c *OllamaClient) { c.httpClient.Timeout = d }
}

// WithOllamaLogger sets the request logger.
func WithOllamaLogger(logger *slog.Logger) OllamaOption {
	return func(c *OllamaClient) { c.logger = logger }
}

// NewOllama creates the local unauthenticated client for the given model.
func NewOllama(model string, opts ...OllamaOption) *OllamaClient {
	c := &OllamaClient{
		model:      model,
		baseURL:    DefaultOllamaBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Client.
func (c *OllamaClient) Name() string { return ollamaName }

// Model implements Client.
func (c *OllamaClient) Model() string { return c.model }

// RequiresCredential implements Client.
func (c *OllamaClient) RequiresCredential() bool { return false }

// History implements Client.
func (c *OllamaClient) History() []domain.Turn { return c.sent.snapshot() }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int64         `json:"prompt_eval_count"`
	EvalCount       int64         `json:"eval_count"`
}

// SendTurn implements Client. credential is ignored.
func (c *OllamaClient) SendTurn(ctx context.Context, history []domain.Turn, content string, _ string) (domain.Turn, error) {
	reqBody := ollamaChatRequest{
		Model:  c.model,
		Stream: false,
	}
	for _, t := range history {
		reqBody.Messages = append(reqBody.Messages, ollamaMessage{Role: t.Role, Content: t.Content})
	}
	reqBody.Messages = append(reqBody.Messages, ollamaMessage{Role: domain.RoleUser, Content: content})
	c.sent.record(history, content)

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return domain.Turn{}, &Error{Kind: KindFatal, Provider: ollamaName, Message: "marshal request", Err: err}
	}

	url := c.baseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return domain.Turn{}, &Error{Kind: KindFatal, Provider: ollamaName, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.Turn{}, c.classifyTransport(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close ollama response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Turn{}, &Error{Kind: KindTransient, Provider: ollamaName, Message: "read response body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// No credential to rotate: any error status from the local
		// service is fatal for this dispatch.
		return domain.Turn{}, &Error{
			Kind:       KindFatal,
			Provider:   ollamaName,
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return domain.Turn{}, &Error{Kind: KindFatal, Provider: ollamaName, Message: "decode response", Err: err}
	}

	turn := domain.Turn{
		Role:      domain.RoleAssistant,
		Content:   chatResp.Message.Content,
		CreatedAt: time.Now(),
	}
	if chatResp.PromptEvalCount > 0 || chatResp.EvalCount > 0 {
		turn.Usage = &domain.Usage{
			PromptTokens:     chatResp.PromptEvalCount,
			CompletionTokens: chatResp.EvalCount,
			TotalTokens:      chatResp.PromptEvalCount + chatResp.EvalCount,
		}
	}
	c.logger.Debug("ollama request complete",
		"model", c.model,
		"duration", time.Since(start),
		"history_turns", len(history),
	)
	return turn, nil
}

func (c *OllamaClient) classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &Error{Kind: KindTransient, Provider: ollamaName, Message: "request timed out", Err: err}
	}
	return &Error{
		Kind:     KindFatal,
		Provider: ollamaName,
		Message:  fmt.Sprintf("local service unreachable at %s", c.baseURL),
		Err:      err,
	}
}
