// Package memory provides conversation memory backends for ai.agent nodes.
package memory

import (
	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
)

const (
	// TypeBuffer is the in-process memory type
	TypeBuffer = "buffer"
	// TypeRedis is the Redis-backed memory type
	TypeRedis = "redis"
)

// sessionID renders a session key as a single string
func sessionID(key interfaces.SessionKey) string {
	return key.OrgID + ":" + key.WorkflowID + ":" + key.Session
}

// filter applies role filtering and the window limit to messages, oldest first
func filter(messages []interfaces.Message, opts *interfaces.GetMessagesOptions) []interfaces.Message {
	if len(opts.Roles) > 0 {
		allowed := make(map[interfaces.MessageRole]bool, len(opts.Roles))
		for _, r := range opts.Roles {
			allowed[r] = true
		}
		kept := make([]interfaces.Message, 0, len(messages))
		for _, m := range messages {
			if allowed[m.Role] {
				kept = append(kept, m)
			}
		}
		messages = kept
	}
	if opts.Limit > 0 && len(messages) > opts.Limit {
		messages = messages[len(messages)-opts.Limit:]
	}
	return messages
}

func applyOptions(options []interfaces.GetMessagesOption) *interfaces.GetMessagesOptions {
	opts := &interfaces.GetMessagesOptions{}
	for _, opt := range options {
		opt(opts)
	}
	return opts
}
