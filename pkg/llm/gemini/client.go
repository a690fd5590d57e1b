package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
	"github.com/Ingenimax/workflow-engine/pkg/llm"
	"github.com/Ingenimax/workflow-engine/pkg/logging"
)

// DefaultModel is used when neither the client nor the call names a model
const DefaultModel = "gemini-2.5-flash"

// Client is a ModelClient backed by the Gemini API
type Client struct {
	genaiClient *genai.Client
	model       string
	logger      logging.Logger
}

// Option configures a Client
type Option func(*settings)

type settings struct {
	model   string
	baseURL string
	logger  logging.Logger
}

// WithModel sets the default model
func WithModel(model string) Option {
	return func(s *settings) {
		s.model = model
	}
}

// WithBaseURL overrides the API endpoint
func WithBaseURL(url string) Option {
	return func(s *settings) {
		s.baseURL = url
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// NewClient creates a Gemini client
func NewClient(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	s := settings{model: DefaultModel, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if s.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: s.baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{genaiClient: client, model: s.model, logger: s.logger}, nil
}

// Name implements ModelClient
func (c *Client) Name() string {
	return "gemini"
}

// Generate implements ModelClient
func (c *Client) Generate(ctx context.Context, prompt string, options ...interfaces.GenerateOption) (*interfaces.Completion, error) {
	params := interfaces.ApplyGenerateOptions(options...)
	model := c.model
	if params.Model != "" {
		model = params.Model
	}

	config := &genai.GenerateContentConfig{}
	if params.SystemMessage != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(params.SystemMessage)}}
	}
	if params.Temperature != nil {
		t := float32(*params.Temperature)
		config.Temperature = &t
	}
	if params.MaxTokens > 0 {
		config.MaxOutputTokens = int32(params.MaxTokens)
	}

	contents := buildContents(params.History, prompt)

	c.logger.Debug(ctx, "Sending Gemini generate request", map[string]interface{}{
		"model":    model,
		"contents": len(contents),
	})

	result, err := c.genaiClient.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, classify(err)
	}
	if len(result.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates returned by gemini")
	}

	completion := &interfaces.Completion{Text: result.Text(), Model: model}
	if result.ModelVersion != "" {
		completion.Model = result.ModelVersion
	}
	if result.UsageMetadata != nil {
		completion.InputTokens = int(result.UsageMetadata.PromptTokenCount)
		completion.OutputTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}
	return completion, nil
}

const (
	roleUser  = "user"
	roleModel = "model"
)

// buildContents maps history to Gemini turns. System turns have no Gemini
// role outside SystemInstruction and are sent as user text.
func buildContents(history []interfaces.Message, prompt string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := roleUser
		if m.Role == interfaces.MessageRoleAssistant {
			role = roleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(m.Content)},
		})
	}
	return append(contents, &genai.Content{
		Role:  roleUser,
		Parts: []*genai.Part{genai.NewPartFromText(prompt)},
	})
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.APIError{Provider: "gemini", StatusCode: apiErr.Code, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &llm.APIError{Provider: "gemini", StatusCode: apiErrPtr.Code, Err: err}
	}
	return fmt.Errorf("gemini request failed: %w", err)
}
