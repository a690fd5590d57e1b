package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
)

// APIError is a provider failure carrying the HTTP status of the response.
// Client errors are permanent; rate limits and server errors are not.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

// Unwrap returns the underlying error
func (e *APIError) Unwrap() error { return e.Err }

// Permanent reports whether retrying the request cannot succeed
func (e *APIError) Permanent() bool {
	return PermanentStatus(e.StatusCode)
}

// PermanentStatus reports whether a response status means the request itself
// is wrong. 408 and 429 are transient.
func PermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

// Router dispatches Generate calls to one of several providers. A model of the
// form "provider:model" selects the provider and passes the rest as the model;
// anything else goes to the default provider.
type Router struct {
	providers map[string]interfaces.ModelClient
	fallback  string
}

// NewRouter creates a router with the default provider
func NewRouter(defaultProvider string, providers map[string]interfaces.ModelClient) (*Router, error) {
	if _, ok := providers[defaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q is not configured", defaultProvider)
	}
	return &Router{providers: providers, fallback: defaultProvider}, nil
}

// Name implements ModelClient
func (r *Router) Name() string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return "router(" + strings.Join(names, ",") + ")"
}

// Generate implements ModelClient
func (r *Router) Generate(ctx context.Context, prompt string, options ...interfaces.GenerateOption) (*interfaces.Completion, error) {
	params := interfaces.ApplyGenerateOptions(options...)
	client, model, err := r.route(params.Model)
	if err != nil {
		return nil, err
	}
	if model != params.Model {
		options = append(options, interfaces.WithModel(model))
	}
	return client.Generate(ctx, prompt, options...)
}

func (r *Router) route(model string) (interfaces.ModelClient, string, error) {
	if provider, rest, ok := strings.Cut(model, ":"); ok {
		if client, found := r.providers[provider]; found {
			return client, rest, nil
		}
		// Model ids such as "llama3:8b" contain a colon but no provider.
		if _, known := knownProviders[provider]; known {
			return nil, "", fmt.Errorf("provider %q is not configured", provider)
		}
	}
	return r.providers[r.fallback], model, nil
}

var knownProviders = map[string]struct{}{
	"openai":  {},
	"gemini":  {},
	"bedrock": {},
}
