package interfaces

import "context"

// ModelClient is a provider-agnostic completion capability used by AI nodes
type ModelClient interface {
	// Generate produces a completion for the prompt
	Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Completion, error)

	// Name returns the name of the provider
	Name() string
}

// Completion is the result of a Generate call
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// TotalTokens returns input plus output tokens
func (c *Completion) TotalTokens() int {
	return c.InputTokens + c.OutputTokens
}

// GenerateOption represents options for text generation
type GenerateOption func(options *GenerateOptions)

// GenerateOptions contains configuration for text generation
type GenerateOptions struct {
	Model         string    // Overrides the client's default model when set
	OrgID         string    // For multi-tenancy
	SystemMessage string    // System message for chat models
	Temperature   *float64  // Nil keeps the provider default
	MaxTokens     int       // Zero keeps the provider default
	History       []Message // Prior conversation turns, oldest first
}

// ApplyGenerateOptions folds options into a GenerateOptions value
func ApplyGenerateOptions(options ...GenerateOption) *GenerateOptions {
	o := &GenerateOptions{}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// WithModel creates a GenerateOption to set the model
func WithModel(model string) GenerateOption {
	return func(options *GenerateOptions) {
		options.Model = model
	}
}

// WithOrgID creates a GenerateOption to set the organization
func WithOrgID(orgID string) GenerateOption {
	return func(options *GenerateOptions) {
		options.OrgID = orgID
	}
}

// WithSystemMessage creates a GenerateOption to set the system message
func WithSystemMessage(systemMessage string) GenerateOption {
	return func(options *GenerateOptions) {
		options.SystemMessage = systemMessage
	}
}

// WithTemperature creates a GenerateOption to set the temperature
func WithTemperature(temperature float64) GenerateOption {
	return func(options *GenerateOptions) {
		options.Temperature = &temperature
	}
}

// WithMaxTokens creates a GenerateOption to cap the completion length
func WithMaxTokens(n int) GenerateOption {
	return func(options *GenerateOptions) {
		options.MaxTokens = n
	}
}

// WithHistory creates a GenerateOption to send prior conversation turns
func WithHistory(history []Message) GenerateOption {
	return func(options *GenerateOptions) {
		options.History = history
	}
}
