package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
)

// DefaultTTL is how long an idle session is kept
const DefaultTTL = 24 * time.Hour

// Redis stores each session as a list under
// memory:{org}:{workflow}:{session}:messages. Every write refreshes the TTL.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// RedisOption configures a Redis memory
type RedisOption func(*Redis)

// WithTTL sets the session expiry
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// WithKeyPrefix overrides the key prefix
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis creates a Redis memory on top of a client
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{client: client, ttl: DefaultTTL, prefix: "memory"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(session interfaces.SessionKey) string {
	return r.prefix + ":" + sessionID(session) + ":messages"
}

// AddMessage implements Memory. All messages go out in one MULTI/EXEC.
func (r *Redis) AddMessage(ctx context.Context, session interfaces.SessionKey, messages ...interfaces.Message) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(messages))
	for _, message := range messages {
		if message.Timestamp.IsZero() {
			message.Timestamp = time.Now().UTC()
		}
		data, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, data)
	}

	key := r.key(session)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store messages: %w", err)
	}
	return nil
}

// GetMessages implements Memory. Without a role filter the window is applied
// by Redis; with one the whole session is read and filtered.
func (r *Redis) GetMessages(ctx context.Context, session interfaces.SessionKey, options ...interfaces.GetMessagesOption) ([]interfaces.Message, error) {
	opts := applyOptions(options)

	start := int64(0)
	if opts.Limit > 0 && len(opts.Roles) == 0 {
		start = -int64(opts.Limit)
	}
	raw, err := r.client.LRange(ctx, r.key(session), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	messages := make([]interfaces.Message, 0, len(raw))
	for _, item := range raw {
		var m interfaces.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		messages = append(messages, m)
	}
	return filter(messages, opts), nil
}

// Clear implements Memory
func (r *Redis) Clear(ctx context.Context, session interfaces.SessionKey) error {
	if err := r.client.Del(ctx, r.key(session)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
