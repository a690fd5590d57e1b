package memory

import (
	"context"
	"sync"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
)

// Buffer keeps conversations in process memory. Each session holds at most
// maxSize messages; older ones are dropped.
type Buffer struct {
	mu       sync.RWMutex
	sessions map[string][]interfaces.Message
	maxSize  int
}

// BufferOption configures a Buffer
type BufferOption func(*Buffer)

// WithMaxSize caps the number of messages kept per session
func WithMaxSize(n int) BufferOption {
	return func(b *Buffer) {
		b.maxSize = n
	}
}

// NewBuffer creates an in-process memory
func NewBuffer(opts ...BufferOption) *Buffer {
	b := &Buffer{sessions: make(map[string][]interfaces.Message), maxSize: 100}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddMessage implements Memory
func (b *Buffer) AddMessage(_ context.Context, session interfaces.SessionKey, messages ...interfaces.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := sessionID(session)
	msgs := append(b.sessions[id], messages...)
	if b.maxSize > 0 && len(msgs) > b.maxSize {
		msgs = msgs[len(msgs)-b.maxSize:]
	}
	b.sessions[id] = msgs
	return nil
}

// GetMessages implements Memory
func (b *Buffer) GetMessages(_ context.Context, session interfaces.SessionKey, options ...interfaces.GetMessagesOption) ([]interfaces.Message, error) {
	b.mu.RLock()
	msgs := b.sessions[sessionID(session)]
	out := make([]interfaces.Message, len(msgs))
	copy(out, msgs)
	b.mu.RUnlock()

	return filter(out, applyOptions(options)), nil
}

// Clear implements Memory
func (b *Buffer) Clear(_ context.Context, session interfaces.SessionKey) error {
	b.mu.Lock()
	delete(b.sessions, sessionID(session))
	b.mu.Unlock()
	return nil
}
