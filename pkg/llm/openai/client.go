package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
	"github.com/Ingenimax/workflow-engine/pkg/llm"
	"github.com/Ingenimax/workflow-engine/pkg/logging"
)

// DefaultModel is used when neither the client nor the call names a model
const DefaultModel = "gpt-4o-mini"

// Client is a ModelClient for OpenAI and OpenAI-compatible chat APIs such as
// Groq or OpenRouter
type Client struct {
	client openai.Client
	model  string
	name   string
	logger logging.Logger
}

// Option configures a Client
type Option func(*settings)

type settings struct {
	model   string
	name    string
	baseURL string
	retries *int
	logger  logging.Logger
}

// WithModel sets the default model
func WithModel(model string) Option {
	return func(s *settings) {
		s.model = model
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint
func WithBaseURL(url string) Option {
	return func(s *settings) {
		s.baseURL = url
	}
}

// WithName overrides the provider name reported by Name
func WithName(name string) Option {
	return func(s *settings) {
		s.name = name
	}
}

// WithMaxRetries sets the SDK's own retry count. The engine retries
// failed nodes, so callers usually keep this low.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		s.retries = &n
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// NewClient creates an OpenAI client
func NewClient(apiKey string, opts ...Option) *Client {
	s := settings{model: DefaultModel, name: "openai", logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(s.baseURL))
	}
	if s.retries != nil {
		clientOpts = append(clientOpts, option.WithMaxRetries(*s.retries))
	}

	return &Client{
		client: openai.NewClient(clientOpts...),
		model:  s.model,
		name:   s.name,
		logger: s.logger,
	}
}

// Name implements ModelClient
func (c *Client) Name() string {
	return c.name
}

// Generate implements ModelClient
func (c *Client) Generate(ctx context.Context, prompt string, options ...interfaces.GenerateOption) (*interfaces.Completion, error) {
	params := interfaces.ApplyGenerateOptions(options...)
	model := c.model
	if params.Model != "" {
		model = params.Model
	}

	req := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: buildMessages(params.SystemMessage, params.History, prompt),
	}
	if params.Temperature != nil {
		req.Temperature = openai.Float(*params.Temperature)
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}
	if params.OrgID != "" {
		req.User = openai.String(params.OrgID)
	}

	c.logger.Debug(ctx, "Sending chat completion request", map[string]interface{}{
		"provider": c.name,
		"model":    model,
		"messages": len(req.Messages),
	})

	resp, err := c.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, classify(c.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no completions returned by %s", c.name)
	}

	return &interfaces.Completion{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

// buildMessages orders the system message, prior turns and the prompt
func buildMessages(system string, history []interfaces.Message, prompt string) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	for _, m := range history {
		switch m.Role {
		case interfaces.MessageRoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case interfaces.MessageRoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case interfaces.MessageRoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		}
	}
	return append(messages, openai.UserMessage(prompt))
}

func classify(provider string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &llm.APIError{Provider: provider, StatusCode: apiErr.StatusCode, Err: err}
	}
	return fmt.Errorf("%s request failed: %w", provider, err)
}
