package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/Ingenimax/workflow-engine/pkg/integrations"
	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
	"github.com/Ingenimax/workflow-engine/pkg/logging"
)

// Notifier posts notifications to a Slack incoming webhook
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     logging.Logger
}

// Option configures a Notifier
type Option func(*Notifier)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		n.client = client
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier creates a webhook notifier
func NewNotifier(webhookURL string, opts ...Option) (*Notifier, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL is required")
	}
	n := &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements Notifier. The recipient is used as the channel override.
func (n *Notifier) Notify(ctx context.Context, note interfaces.Notification) error {
	text := note.Message
	if note.Subject != "" {
		text = "*" + note.Subject + "*\n" + text
	}

	msg := &slackapi.WebhookMessage{Channel: note.Recipient, Text: text}
	if err := slackapi.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg); err != nil {
		return statusError(err)
	}

	n.logger.Debug(ctx, "Slack notification sent", map[string]interface{}{
		"channel": note.Recipient,
	})
	return nil
}

// statusError maps slack-go response errors onto StatusError so the
// connector layer can tell rejections from transient failures
func statusError(err error) error {
	var rateLimited *slackapi.RateLimitedError
	if errors.As(err, &rateLimited) {
		return &integrations.StatusError{Service: "slack", StatusCode: http.StatusTooManyRequests, Body: rateLimited.Error()}
	}
	var status slackapi.StatusCodeError
	if errors.As(err, &status) {
		return &integrations.StatusError{Service: "slack", StatusCode: status.Code, Body: status.Status}
	}
	return fmt.Errorf("failed to post to slack: %w", err)
}
