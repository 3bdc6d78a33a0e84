// Package observability provides logging, metrics, and tracing for the client
// core.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the client.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// SetOutput replaces the global logger's handler. Embedding applications call
// this once at startup if they route logs somewhere other than stderr.
func SetOutput(handler slog.Handler) {
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// HTTPLogger provides structured logging for API client requests.
type HTTPLogger struct {
	logger *Logger
}

// NewHTTPLogger creates a new HTTPLogger.
func NewHTTPLogger() *HTTPLogger {
	return &HTTPLogger{logger: GlobalLogger}
}

// LogFailure logs a failed request with status and body. Callers skip 403
// responses, which are an expected outcome for unauthenticated optional-auth
// views.
func (l *HTTPLogger) LogFailure(ctx context.Context, method, path string, status int, body string) {
	l.logger.ErrorContext(ctx, "request failed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("body", body),
	)
}

// LogTransportError logs a transport-level failure (no HTTP status).
func (l *HTTPLogger) LogTransportError(ctx context.Context, method, path string, err error) {
	l.logger.ErrorContext(ctx, "transport error",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}

// ChannelLogger provides structured logging for chat channel lifecycle events.
type ChannelLogger struct {
	chatID string
	logger *Logger
}

// NewChannelLogger creates a ChannelLogger scoped to one conversation.
func NewChannelLogger(chatID string) *ChannelLogger {
	return &ChannelLogger{chatID: chatID, logger: GlobalLogger}
}

// LogConnect logs a successful websocket connection.
func (l *ChannelLogger) LogConnect(userID string) {
	l.logger.Info("channel connected",
		slog.String("chat_id", l.chatID),
		slog.String("user_id", userID),
	)
}

// LogDisconnect logs a websocket disconnection with its reason.
func (l *ChannelLogger) LogDisconnect(reason string) {
	l.logger.Info("channel disconnected",
		slog.String("chat_id", l.chatID),
		slog.String("reason", reason),
	)
}

// LogError logs a channel error event.
func (l *ChannelLogger) LogError(event string, err error) {
	l.logger.Error("channel error",
		slog.String("chat_id", l.chatID),
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
}

// LogFrame logs a handled inbound frame type.
func (l *ChannelLogger) LogFrame(frameType string) {
	l.logger.Debug("channel frame",
		slog.String("chat_id", l.chatID),
		slog.String("type", frameType),
	)
}
