package provider

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/promptd/promptd/internal/domain"
)

const openAIName = "openai"

// OpenAIClient is the remote authenticated variant. It talks to the Chat
// Completions API of OpenAI or any compatible endpoint and requires a
// credential on every call.
type OpenAIClient struct {
	model   string
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
	sent    historyRecorder
}

// OpenAIOption configures the client.
type OpenAIOption func(*OpenAIClient)

// WithOpenAIBaseURL points the client at an OpenAI-compatible endpoint.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) { c.baseURL = url }
}

// WithOpenAITimeout bounds each request. Timeouts classify as transient.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(c *OpenAIClient) { c.timeout = d }
}

// WithOpenAILogger sets the request logger.
func WithOpenAILogger(logger *slog.Logger) OpenAIOption {
	return func(c *OpenAIClient) { c.logger = logger }
}

// NewOpenAI creates the remote authenticated client for the given model.
func NewOpenAI(model string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		model:   model,
		timeout: 60 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Client.
func (c *OpenAIClient) Name() string { return openAIName }

// Model implements Client.
func (c *OpenAIClient) Model() string { return c.model }

// RequiresCredential implements Client.
func (c *OpenAIClient) RequiresCredential() bool { return true }

// History implements Client.
func (c *OpenAIClient) History() []domain.Turn { return c.sent.snapshot() }

// SendTurn implements Client. The SDK's own retry loop is disabled: retry
// and rotation decisions belong to the dispatcher.
func (c *OpenAIClient) SendTurn(ctx context.Context, history []domain.Turn, content string, credential string) (domain.Turn, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(credential),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(c.timeout),
	}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	cli := openai.NewClient(opts...)

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	for _, t := range history {
		switch t.Role {
		case domain.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		default:
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(content))
	c.sent.record(history, content)

	start := time.Now()
	resp, err := cli.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: msgs,
	})
	if err != nil {
		return domain.Turn{}, c.classify(err)
	}
	if len(resp.Choices) == 0 {
		return domain.Turn{}, &Error{
			Kind:     KindFatal,
			Provider: openAIName,
			Message:  "response contained no choices",
		}
	}

	turn := domain.Turn{
		Role:      domain.RoleAssistant,
		Content:   resp.Choices[0].Message.Content,
		CreatedAt: time.Now(),
	}
	if resp.Usage.TotalTokens > 0 {
		turn.Usage = &domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	c.logger.Debug("openai request complete",
		"model", c.model,
		"duration", time.Since(start),
		"history_turns", len(history),
	)
	return turn, nil
}

// classify maps SDK and transport failures onto the shared taxonomy.
func (c *OpenAIClient) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Error{
			Kind:       classifyStatus(apiErr.StatusCode),
			Provider:   openAIName,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &Error{Kind: KindTransient, Provider: openAIName, Message: "request timed out", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindFatal, Provider: openAIName, Message: "request canceled", Err: err}
	}
	// No HTTP status obtained: treat transport problems as transient.
	return &Error{Kind: KindTransient, Provider: openAIName, Message: err.Error(), Err: err}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
