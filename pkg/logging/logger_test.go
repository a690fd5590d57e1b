package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLogger(t *testing.T) {
	t.Run("writes fields and context fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(WithOutput(&buf), WithLevel("debug"))

		ctx := WithFields(context.Background(), map[string]interface{}{"run_id": "r-1"})
		logger.Info(ctx, "node finished", map[string]interface{}{"node_id": "n-1"})

		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "info", line["level"])
		assert.Equal(t, "node finished", line["message"])
		assert.Equal(t, "r-1", line["run_id"])
		assert.Equal(t, "n-1", line["node_id"])
	})

	t.Run("respects level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(WithOutput(&buf), WithLevel("warn"))

		logger.Info(context.Background(), "dropped", nil)
		assert.Zero(t, buf.Len())

		logger.Error(context.Background(), "kept", nil)
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("nested WithFields merges", func(t *testing.T) {
		ctx := WithFields(context.Background(), map[string]interface{}{"a": 1})
		ctx = WithFields(ctx, map[string]interface{}{"b": 2})

		fields := FieldsFromContext(ctx)
		assert.Equal(t, 1, fields["a"])
		assert.Equal(t, 2, fields["b"])
	})

	t.Run("nop logger does not panic", func(t *testing.T) {
		NewNop().Error(context.Background(), "ignored", map[string]interface{}{"x": 1})
	})
}
