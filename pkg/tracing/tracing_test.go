package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
)

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Name() string { return "mock" }

func (m *mockModel) Generate(ctx context.Context, prompt string, options ...interfaces.GenerateOption) (*interfaces.Completion, error) {
	args := m.Called(ctx, prompt)
	if c := args.Get(0); c != nil {
		return c.(*interfaces.Completion), args.Error(1)
	}
	return nil, args.Error(1)
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestModelMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Run("success records usage", func(t *testing.T) {
		model := new(mockModel)
		model.On("Generate", mock.Anything, "hello").
			Return(&interfaces.Completion{Text: "hi", Model: "m-1", InputTokens: 5, OutputTokens: 2}, nil)

		mw := NewOTELModelMiddleware(model, WithTracerProvider(tp))
		assert.Equal(t, "mock", mw.Name())

		c, err := mw.Generate(context.Background(), "hello", interfaces.WithModel("m-1"), interfaces.WithOrgID("org"))
		require.NoError(t, err)
		assert.Equal(t, "hi", c.Text)

		spans := recorder.Ended()
		require.NotEmpty(t, spans)
		span := spans[len(spans)-1]
		assert.Equal(t, "llm.generate", span.Name())
		a := attrs(span)
		assert.Equal(t, "mock", a["gen_ai.system"].AsString())
		assert.Equal(t, "m-1", a["gen_ai.request.model"].AsString())
		assert.Equal(t, int64(5), a["gen_ai.usage.input_tokens"].AsInt64())
		assert.Equal(t, int64(2), a["gen_ai.usage.output_tokens"].AsInt64())
		assert.Equal(t, "org", a["org_id"].AsString())
	})

	t.Run("failure marks span", func(t *testing.T) {
		model := new(mockModel)
		model.On("Generate", mock.Anything, "boom").Return(nil, errors.New("provider down"))

		_, err := NewOTELModelMiddleware(model, WithTracerProvider(tp)).Generate(context.Background(), "boom")
		require.Error(t, err)

		spans := recorder.Ended()
		span := spans[len(spans)-1]
		assert.Equal(t, codes.Error, span.Status().Code)
		assert.Equal(t, "provider down", span.Status().Description)
	})
}

func TestSetup(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = Setup(context.Background(), Config{Enabled: true, Protocol: "carrier-pigeon"})
	assert.Error(t, err)
}
