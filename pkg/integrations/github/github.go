package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v45/github"
	"golang.org/x/oauth2"

	"github.com/Ingenimax/workflow-engine/pkg/integrations"
	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
	"github.com/Ingenimax/workflow-engine/pkg/logging"
)

// IssueCreator opens GitHub issues with a token
type IssueCreator struct {
	client *github.Client
	logger logging.Logger
}

// Option configures an IssueCreator
type Option func(*IssueCreator)

// WithBaseURL points the client at GitHub Enterprise or a test server
func WithBaseURL(baseURL string) Option {
	return func(c *IssueCreator) {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		if u, err := url.Parse(baseURL); err == nil {
			c.client.BaseURL = u
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(c *IssueCreator) {
		c.logger = logger
	}
}

// NewIssueCreator creates a client authenticated with a personal or app token
func NewIssueCreator(ctx context.Context, token string, opts ...Option) (*IssueCreator, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	return NewWithClient(github.NewClient(httpClient), opts...), nil
}

// NewWithClient wraps an existing go-github client
func NewWithClient(client *github.Client, opts ...Option) *IssueCreator {
	c := &IssueCreator{client: client, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateIssue implements IssueCreator
func (c *IssueCreator) CreateIssue(ctx context.Context, issue interfaces.Issue) (*interfaces.IssueRef, error) {
	req := &github.IssueRequest{
		Title: github.String(issue.Title),
	}
	if issue.Body != "" {
		req.Body = github.String(issue.Body)
	}
	if len(issue.Labels) > 0 {
		labels := append([]string(nil), issue.Labels...)
		req.Labels = &labels
	}

	created, _, err := c.client.Issues.Create(ctx, issue.Owner, issue.Repo, req)
	if err != nil {
		return nil, classify(err)
	}

	c.logger.Info(ctx, "GitHub issue created", map[string]interface{}{
		"repo":   issue.Owner + "/" + issue.Repo,
		"number": created.GetNumber(),
	})
	return &interfaces.IssueRef{Number: created.GetNumber(), URL: created.GetHTMLURL()}, nil
}

// classify maps go-github errors to StatusError so rate limits stay retryable
func classify(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &integrations.StatusError{Service: "github", StatusCode: http.StatusTooManyRequests, Body: rateErr.Message}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &integrations.StatusError{Service: "github", StatusCode: http.StatusTooManyRequests, Body: abuseErr.Message}
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return &integrations.StatusError{Service: "github", StatusCode: respErr.Response.StatusCode, Body: respErr.Message}
	}
	return fmt.Errorf("failed to create github issue: %w", err)
}
