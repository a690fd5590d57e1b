package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
	"github.com/Ingenimax/workflow-engine/pkg/llm"
	"github.com/Ingenimax/workflow-engine/pkg/logging"
)

const (
	// DefaultModel is an Anthropic model served by Bedrock
	DefaultModel = "anthropic.claude-3-5-haiku-20241022-v1:0"

	anthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens = 1024
)

// Invoker is the part of the Bedrock runtime client the provider uses
type Invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Client is a ModelClient for Anthropic models on AWS Bedrock
type Client struct {
	invoker Invoker
	model   string
	region  string
	logger  logging.Logger
}

// Option configures a Client
type Option func(*Client)

// WithModel sets the default model id
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient loads the default AWS credential chain for region and creates a client
func NewClient(ctx context.Context, region string, opts ...Option) (*Client, error) {
	if region == "" {
		return nil, fmt.Errorf("region is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithInvoker(bedrockruntime.NewFromConfig(cfg), region, opts...), nil
}

// NewWithInvoker creates a client on top of an existing runtime client
func NewWithInvoker(invoker Invoker, region string, opts ...Option) *Client {
	c := &Client{invoker: invoker, model: DefaultModel, region: region, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements ModelClient
func (c *Client) Name() string {
	return "bedrock"
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	System           string    `json:"system,omitempty"`
	Messages         []message `json:"messages"`
	Temperature      *float64  `json:"temperature,omitempty"`
}

type response struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate implements ModelClient
func (c *Client) Generate(ctx context.Context, prompt string, options ...interfaces.GenerateOption) (*interfaces.Completion, error) {
	params := interfaces.ApplyGenerateOptions(options...)
	model := c.model
	if params.Model != "" {
		model = params.Model
	}

	req := buildRequest(params, prompt)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.logger.Debug(ctx, "Invoking Bedrock model", map[string]interface{}{
		"modelID":     model,
		"region":      c.region,
		"requestSize": len(body),
	})

	output, err := c.invoker.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, classify(err)
	}

	var resp response
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse Bedrock response: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	completion := &interfaces.Completion{
		Text:         text.String(),
		Model:        model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	if resp.Model != "" {
		completion.Model = resp.Model
	}
	return completion, nil
}

// buildRequest builds an Anthropic messages body. Anthropic requires turns
// to alternate starting with the user, so consecutive turns of the same role
// are merged and a leading assistant turn is dropped.
func buildRequest(params *interfaces.GenerateOptions, prompt string) request {
	req := request{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        params.MaxTokens,
		System:           params.SystemMessage,
		Temperature:      params.Temperature,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}

	turns := make([]message, 0, len(params.History)+1)
	add := func(role, content string) {
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n\n" + content
			return
		}
		if len(turns) == 0 && role != "user" {
			return
		}
		turns = append(turns, message{Role: role, Content: content})
	}
	for _, m := range params.History {
		switch m.Role {
		case interfaces.MessageRoleUser:
			add("user", m.Content)
		case interfaces.MessageRoleAssistant:
			add("assistant", m.Content)
		}
	}
	add("user", prompt)
	req.Messages = turns
	return req
}

func classify(err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return &llm.APIError{Provider: "bedrock", StatusCode: respErr.HTTPStatusCode(), Err: err}
	}
	return fmt.Errorf("failed to invoke Bedrock model: %w", err)
}
