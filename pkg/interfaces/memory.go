package interfaces

import (
	"context"
	"time"
)

// MessageRole represents the role of a message sender
type MessageRole string

const (
	// MessageRoleUser represents a user message
	MessageRoleUser MessageRole = "user"
	// MessageRoleAssistant represents an assistant message
	MessageRoleAssistant MessageRole = "assistant"
	// MessageRoleSystem represents a system message
	MessageRoleSystem MessageRole = "system"
)

// Message represents a message in a conversation
type Message struct {
	Role      MessageRole            `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Memory stores conversation turns for ai.agent nodes, keyed by session
type Memory interface {
	// AddMessage appends messages to a session. Several messages are
	// written together or not at all.
	AddMessage(ctx context.Context, session SessionKey, messages ...Message) error

	// GetMessages returns messages of a session, oldest first
	GetMessages(ctx context.Context, session SessionKey, options ...GetMessagesOption) ([]Message, error)

	// Clear removes a session
	Clear(ctx context.Context, session SessionKey) error
}

// SessionKey scopes a conversation to an organization and workflow
type SessionKey struct {
	OrgID      string
	WorkflowID string
	Session    string
}

// GetMessagesOptions contains options for retrieving messages
type GetMessagesOptions struct {
	// Limit is the maximum number of most recent messages to retrieve
	Limit int

	// Roles filters messages by role
	Roles []MessageRole
}

// GetMessagesOption represents an option for retrieving messages
type GetMessagesOption func(*GetMessagesOptions)

// WithLimit sets the maximum number of messages to retrieve
func WithLimit(limit int) GetMessagesOption {
	return func(o *GetMessagesOptions) {
		o.Limit = limit
	}
}

// WithRoles filters messages by role
func WithRoles(roles ...MessageRole) GetMessagesOption {
	return func(o *GetMessagesOptions) {
		o.Roles = roles
	}
}
