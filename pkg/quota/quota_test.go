package quota

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ingenimax/workflow-engine/pkg/connector"
)

func newLimiter(t *testing.T, opts ...Option) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLimiter(client, opts...), mr
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name      string
		used      int
		estimated int
		wantErr   bool
	}{
		{name: "fresh org", used: 0, estimated: 500, wantErr: false},
		{name: "exact fit with buffer", used: 890, estimated: 100, wantErr: false},
		{name: "buffer pushes over", used: 900, estimated: 100, wantErr: true},
		{name: "already over", used: 1200, estimated: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			l, _ := newLimiter(t, WithDefaultLimit(1000), WithReserveBuffer(0.1))
			if tt.used > 0 {
				require.NoError(t, l.Record(ctx, "org", tt.used))
			}

			err := l.Check(ctx, "org", tt.estimated)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrQuotaExceeded)
			assert.True(t, connector.IsPermanent(err))

			var exceeded *ExceededError
			require.ErrorAs(t, err, &exceeded)
			assert.Equal(t, int64(1000), exceeded.Limit)
		})
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	l, mr := newLimiter(t, WithDefaultLimit(1000))

	require.NoError(t, l.Record(ctx, "org", 250))
	require.NoError(t, l.Record(ctx, "org", 125))
	got, err := mr.Get("tokens:org:used")
	require.NoError(t, err)
	assert.Equal(t, "375", got)

	s, err := l.Status(ctx, "org")
	require.NoError(t, err)
	assert.Equal(t, &Status{OrgID: "org", Used: 375, Limit: 1000, Remaining: 625, PercentageUsed: 37.5}, s)

	require.NoError(t, l.SetLimit(ctx, "org", 300))
	s, err = l.Status(ctx, "org")
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Remaining)

	require.NoError(t, l.Reset(ctx, "org"))
	s, err = l.Status(ctx, "org")
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Used)
	assert.Equal(t, int64(300), s.Remaining)

	// Other organizations keep the default.
	s, err = l.Status(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), s.Limit)
}

func TestRedisUnavailableIsTransient(t *testing.T) {
	l, mr := newLimiter(t)
	mr.Close()

	err := l.Check(context.Background(), "org", 10)
	require.Error(t, err)
	assert.False(t, connector.IsPermanent(err))
}
