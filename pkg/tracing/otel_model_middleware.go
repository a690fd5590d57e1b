package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ingenimax/workflow-engine/pkg/interfaces"
)

const instrumentationName = "github.com/Ingenimax/workflow-engine/pkg/tracing"

// OTELModelMiddleware wraps a ModelClient and records a span per Generate call
type OTELModelMiddleware struct {
	model  interfaces.ModelClient
	tracer trace.Tracer
}

// MiddlewareOption configures the middleware
type MiddlewareOption func(*OTELModelMiddleware)

// WithTracerProvider uses tp instead of the global provider
func WithTracerProvider(tp trace.TracerProvider) MiddlewareOption {
	return func(m *OTELModelMiddleware) {
		m.tracer = tp.Tracer(instrumentationName)
	}
}

// NewOTELModelMiddleware wraps model with tracing
func NewOTELModelMiddleware(model interfaces.ModelClient, opts ...MiddlewareOption) *OTELModelMiddleware {
	m := &OTELModelMiddleware{model: model, tracer: otel.Tracer(instrumentationName)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name implements ModelClient
func (m *OTELModelMiddleware) Name() string {
	return m.model.Name()
}

// Generate implements ModelClient. Prompts are not recorded, only sizes and usage.
func (m *OTELModelMiddleware) Generate(ctx context.Context, prompt string, options ...interfaces.GenerateOption) (*interfaces.Completion, error) {
	params := interfaces.ApplyGenerateOptions(options...)

	attrs := []attribute.KeyValue{
		attribute.String("gen_ai.system", m.model.Name()),
		attribute.Int("gen_ai.prompt.length", len(prompt)),
		attribute.Int("gen_ai.history.messages", len(params.History)),
	}
	if params.Model != "" {
		attrs = append(attrs, attribute.String("gen_ai.request.model", params.Model))
	}
	if params.OrgID != "" {
		attrs = append(attrs, attribute.String("org_id", params.OrgID))
	}
	if params.Temperature != nil {
		attrs = append(attrs, attribute.Float64("gen_ai.request.temperature", *params.Temperature))
	}

	ctx, span := m.tracer.Start(ctx, "llm.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
	defer span.End()

	completion, err := m.model.Generate(ctx, prompt, options...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", completion.Model),
		attribute.Int("gen_ai.usage.input_tokens", completion.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", completion.OutputTokens),
	)
	return completion, nil
}
