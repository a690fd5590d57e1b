package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logger used across the engine
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, fields map[string]interface{})
}

// ZeroLogger implements Logger on top of zerolog
type ZeroLogger struct {
	logger zerolog.Logger
}

type options struct {
	level   zerolog.Level
	output  io.Writer
	console bool
	service string
}

// Option represents an option for configuring the logger
type Option func(*options)

// WithLevel sets the minimum level ("debug", "info", "warn", "error")
func WithLevel(level string) Option {
	return func(o *options) {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil && level != "" {
			o.level = lvl
		}
	}
}

// WithOutput sets the writer log lines are written to
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.output = w
	}
}

// WithConsole switches to the human readable console format
func WithConsole(enabled bool) Option {
	return func(o *options) {
		o.console = enabled
	}
}

// WithService tags every line with a service name
func WithService(name string) Option {
	return func(o *options) {
		o.service = name
	}
}

// New creates a new zerolog backed logger
func New(opts ...Option) *ZeroLogger {
	o := &options{
		level:  zerolog.InfoLevel,
		output: os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}

	out := o.output
	if o.console {
		out = zerolog.ConsoleWriter{Out: o.output, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).Level(o.level).With().Timestamp().Logger()
	if o.service != "" {
		zl = zl.With().Str("service", o.service).Logger()
	}

	return &ZeroLogger{logger: zl}
}

// NewNop returns a logger that discards everything
func NewNop() *ZeroLogger {
	return &ZeroLogger{logger: zerolog.Nop()}
}

// Debug logs a debug message
func (l *ZeroLogger) Debug(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write(ctx, l.logger.Debug(), msg, fields)
}

// Info logs an info message
func (l *ZeroLogger) Info(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write(ctx, l.logger.Info(), msg, fields)
}

// Warn logs a warning message
func (l *ZeroLogger) Warn(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write(ctx, l.logger.Warn(), msg, fields)
}

// Error logs an error message
func (l *ZeroLogger) Error(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write(ctx, l.logger.Error(), msg, fields)
}

func (l *ZeroLogger) write(ctx context.Context, event *zerolog.Event, msg string, fields map[string]interface{}) {
	if event == nil {
		return
	}
	if ctxFields := FieldsFromContext(ctx); len(ctxFields) > 0 {
		event = event.Fields(ctxFields)
	}
	if len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg(msg)
}

type fieldsKey struct{}

// WithFields returns a context carrying fields that every log call made with it includes
func WithFields(ctx context.Context, fields map[string]interface{}) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	merged := make(map[string]interface{}, len(fields))
	for k, v := range FieldsFromContext(ctx) {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// FieldsFromContext returns the fields attached with WithFields
func FieldsFromContext(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(fieldsKey{}).(map[string]interface{})
	return fields
}
