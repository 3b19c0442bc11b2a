// Package observability wires structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the orchestrator. One Logger/Metrics/Tracer trio
// is created at startup and shared by every component.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format is "json" (production) or "text" (development).
	Format string `yaml:"format"`

	// Output defaults to os.Stdout.
	Output io.Writer `yaml:"-"`

	// AddSource includes file and line in records.
	AddSource bool `yaml:"add_source"`
}

// ContextKey is the type for request-correlation context keys.
type ContextKey string

// Context keys attached by the HTTP middleware and echoed on every record.
const (
	RequestIDKey      ContextKey = "request_id"
	WorkspaceIDKey    ContextKey = "workspace_id"
	ConversationIDKey ContextKey = "conversation_id"
)

// redactPatterns covers credentials that must never reach log storage.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{16,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`(?i)(bearer|token)[\s:]+[a-zA-Z0-9_\-.]{16,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret|password)[\s:=]+["']?[^\s"']{8,}["']?`),
}

// Logger is a slog wrapper that adds request correlation from context and
// redacts credentials from string attributes.
type Logger struct {
	logger *slog.Logger
}

// NewLogger builds a logger from config, applying defaults for empty fields.
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}
	var handler slog.Handler
	if strings.ToLower(config.Format) == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}
	return &Logger{logger: slog.New(handler)}
}

// Slog exposes the underlying slog.Logger for packages that take one.
func (l *Logger) Slog() *slog.Logger { return l.logger }

// Debug logs at debug level with context correlation.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs at info level with context correlation.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs at warn level with context correlation.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at error level with context correlation.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	args = redactArgs(args)
	args = append(args, correlationArgs(ctx)...)
	l.logger.Log(ctx, level, Redact(msg), args...)
}

func correlationArgs(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	var out []any
	for _, key := range []ContextKey{RequestIDKey, WorkspaceIDKey, ConversationIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			out = append(out, string(key), v)
		}
	}
	return out
}

func redactArgs(args []any) []any {
	for i, a := range args {
		if s, ok := a.(string); ok && i%2 == 1 {
			args[i] = Redact(s)
		}
	}
	return args
}

// Redact masks credential-shaped substrings.
func Redact(s string) string {
	for _, re := range redactPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// WithCorrelation returns a context carrying the ids every log record and
// span should be tagged with.
func WithCorrelation(ctx context.Context, requestID, workspaceID, conversationID string) context.Context {
	ctx = context.WithValue(ctx, RequestIDKey, requestID)
	ctx = context.WithValue(ctx, WorkspaceIDKey, workspaceID)
	ctx = context.WithValue(ctx, ConversationIDKey, conversationID)
	return ctx
}
