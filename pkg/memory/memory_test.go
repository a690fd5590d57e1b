package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
)

func newRedis(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, opts...), mr
}

func TestMemoryBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) interfaces.Memory{
		TypeBuffer: func(t *testing.T) interfaces.Memory { return NewBuffer() },
		TypeRedis: func(t *testing.T) interfaces.Memory {
			r, _ := newRedis(t)
			return r
		},
	}

	for name, newMemory := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mem := newMemory(t)
			session := interfaces.SessionKey{OrgID: "org", WorkflowID: "wf", Session: "customer-42"}
			other := interfaces.SessionKey{OrgID: "org", WorkflowID: "wf", Session: "customer-7"}

			for i := 0; i < 5; i++ {
				role := interfaces.MessageRoleUser
				if i%2 == 1 {
					role = interfaces.MessageRoleAssistant
				}
				require.NoError(t, mem.AddMessage(ctx, session, interfaces.Message{Role: role, Content: fmt.Sprintf("m%d", i)}))
			}
			require.NoError(t, mem.AddMessage(ctx, other, interfaces.Message{Role: interfaces.MessageRoleUser, Content: "x"}))

			all, err := mem.GetMessages(ctx, session)
			require.NoError(t, err)
			require.Len(t, all, 5)
			assert.Equal(t, "m0", all[0].Content)

			window, err := mem.GetMessages(ctx, session, interfaces.WithLimit(2))
			require.NoError(t, err)
			require.Len(t, window, 2)
			assert.Equal(t, []string{"m3", "m4"}, []string{window[0].Content, window[1].Content})

			users, err := mem.GetMessages(ctx, session, interfaces.WithRoles(interfaces.MessageRoleUser), interfaces.WithLimit(2))
			require.NoError(t, err)
			require.Len(t, users, 2)
			assert.Equal(t, []string{"m2", "m4"}, []string{users[0].Content, users[1].Content})

			require.NoError(t, mem.Clear(ctx, session))
			all, err = mem.GetMessages(ctx, session)
			require.NoError(t, err)
			assert.Empty(t, all)

			kept, err := mem.GetMessages(ctx, other)
			require.NoError(t, err)
			assert.Len(t, kept, 1)
		})
	}
}

func TestAddMessageBatch(t *testing.T) {
	ctx := context.Background()
	session := interfaces.SessionKey{OrgID: "org", WorkflowID: "wf", Session: "turn"}
	turn := []interfaces.Message{
		{Role: interfaces.MessageRoleUser, Content: "question"},
		{Role: interfaces.MessageRoleAssistant, Content: "answer"},
	}

	r, mr := newRedis(t)
	for name, mem := range map[string]interfaces.Memory{TypeBuffer: NewBuffer(), TypeRedis: r} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, mem.AddMessage(ctx, session, turn...))
			require.NoError(t, mem.AddMessage(ctx, session))

			msgs, err := mem.GetMessages(ctx, session)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, "question", msgs[0].Content)
			assert.Equal(t, "answer", msgs[1].Content)
		})
	}

	t.Run("redis writes nothing when unavailable", func(t *testing.T) {
		mr.Close()
		assert.Error(t, r.AddMessage(ctx, interfaces.SessionKey{Session: "down"}, turn...))
	})
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	mem, mr := newRedis(t, WithTTL(time.Minute))
	session := interfaces.SessionKey{OrgID: "org", WorkflowID: "wf", Session: "s"}

	require.NoError(t, mem.AddMessage(ctx, session, interfaces.Message{Role: interfaces.MessageRoleUser, Content: "hi"}))
	assert.True(t, mr.Exists("memory:org:wf:s:messages"))
	assert.Equal(t, time.Minute, mr.TTL("memory:org:wf:s:messages"))

	mr.FastForward(2 * time.Minute)
	msgs, err := mem.GetMessages(ctx, session)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRedisUnavailable(t *testing.T) {
	mem, mr := newRedis(t)
	mr.Close()

	_, err := mem.GetMessages(context.Background(), interfaces.SessionKey{Session: "s"})
	assert.Error(t, err)
}

func TestBufferMaxSize(t *testing.T) {
	ctx := context.Background()
	b := NewBuffer(WithMaxSize(3))
	session := interfaces.SessionKey{Session: "s"}
	for i := 0; i < 5; i++ {
		require.NoError(t, b.AddMessage(ctx, session, interfaces.Message{Content: fmt.Sprintf("m%d", i)}))
	}
	msgs, err := b.GetMessages(ctx, session)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].Content)
}
