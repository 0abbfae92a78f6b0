// Package logger provides structured logging with automatic credential redaction.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Session state transitions and negotiation attempts
//   - Tool invocation logging
//   - Automatic API key and ephemeral token redaction
//   - Contextual logging with session and attempt tracing
//   - Level-based verbosity control
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	// logOutput is where the built-in handlers write. Tests swap it for a buffer.
	logOutput io.Writer = os.Stderr

	// customHandler is set by SetLogger; Configure leaves it in place.
	customHandler slog.Handler

	mu sync.Mutex
)

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		level = ParseLevel(envLevel)
	}
	DefaultLogger = slog.New(NewContextHandler(slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: level,
	})))
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	if customHandler != nil {
		return
	}
	DefaultLogger = slog.New(NewContextHandler(slog.NewTextHandler(logOutput, &slog.HandlerOptions{
		Level: level,
	})))
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
// This is a convenience wrapper around SetLevel for command-line verbose flags.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// SetLogger installs a caller-provided handler. Passing nil restores the default text handler.
func SetLogger(handler slog.Handler) {
	mu.Lock()
	customHandler = handler
	mu.Unlock()
	if handler == nil {
		SetLevel(slog.LevelInfo)
		return
	}
	DefaultLogger = slog.New(handler)
}

// Info logs an informational message with structured key-value attributes.
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context and structured attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context and structured attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// StateTransition logs a session state change.
func StateTransition(ctx context.Context, from, to, reason string, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"from", from,
		"to", to,
		"reason", reason,
	)
	allAttrs = append(allAttrs, attrs...)
	InfoContext(ctx, "🔄 Session state", allAttrs...)
}

// Negotiation logs the outcome of a transport negotiation attempt. The
// transport and attempt are carried as context fields, so a context that
// already holds them does not produce duplicate keys.
func Negotiation(ctx context.Context, transport string, attempt int, elapsed time.Duration, err error) {
	ctx = WithLoggingContext(ctx, &LoggingFields{
		Transport: transport,
		Attempt:   strconv.Itoa(attempt),
	})
	if err != nil {
		WarnContext(ctx, "❌ Negotiation failed",
			"elapsed", elapsed,
			"error", RedactSensitiveData(err.Error()))
		return
	}
	InfoContext(ctx, "✅ Negotiation complete", "elapsed", elapsed)
}

// ToolInvocation logs a completed tool call. Arguments are redacted and only logged at debug level.
func ToolInvocation(ctx context.Context, name, callID string, elapsed time.Duration, err error, args string) {
	if DefaultLogger.Enabled(ctx, slog.LevelDebug) && args != "" {
		DebugContext(ctx, "🔧 Tool arguments", "tool", name, "call_id", callID, "args", RedactSensitiveData(args))
	}
	if err != nil {
		WarnContext(ctx, "🔧 Tool call failed", "tool", name, "call_id", callID, "elapsed", elapsed, "error", err)
		return
	}
	InfoContext(ctx, "🔧 Tool call", "tool", name, "call_id", callID, "elapsed", elapsed)
}

var (
	// apiKeyPatterns contains compiled regular expressions for detecting sensitive data.
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`sk-[a-zA-Z0-9_-]{32,}`),   // OpenAI API keys
		regexp.MustCompile(`ek_[a-zA-Z0-9]{16,}`),     // Realtime ephemeral keys
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_.-]+`), // Bearer tokens
	}
)

// RedactSensitiveData removes API keys and other sensitive information from strings.
// It replaces matched patterns with a redacted form that preserves the first few characters
// for debugging while hiding the sensitive portion.
//
// Supported patterns:
//   - OpenAI keys (sk-...): Shows first 4 chars
//   - Ephemeral keys (ek_...): Shows first 4 chars
//   - Bearer tokens: Shows only "Bearer [REDACTED]"
func RedactSensitiveData(input string) string {
	result := input

	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.HasPrefix(match, "Bearer") {
				return "Bearer [REDACTED]"
			}
			if len(match) > 8 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}

	return result
}

// APIRequest logs HTTP request details at debug level with automatic redaction.
// This function is a no-op when debug logging is disabled.
func APIRequest(component, method, url string, headers map[string]string) {
	if !DefaultLogger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	attrs := make([]any, 0, 8)
	attrs = append(attrs,
		"component", component,
		"method", method,
		"url", RedactSensitiveData(url),
	)

	if len(headers) > 0 {
		redactedHeaders := make(map[string]string, len(headers))
		for key, value := range headers {
			redactedHeaders[key] = RedactSensitiveData(value)
		}
		attrs = append(attrs, "headers", redactedHeaders)
	}

	Debug("🔵 API Request", attrs...)
}

// APIResponse logs HTTP response details at debug level with automatic redaction.
// Status codes are logged with emoji indicators: 🟢 (2xx), 🟡 (3xx), 🔴 (4xx/5xx).
func APIResponse(component string, statusCode int, body string, err error) {
	if !DefaultLogger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	attrs := make([]any, 0, 6)
	attrs = append(attrs,
		"component", component,
		"status_code", statusCode,
	)

	if err != nil {
		attrs = append(attrs, "error", RedactSensitiveData(err.Error()))
		Error("🔴 API Response Error", attrs...)
		return
	}

	var emoji string
	switch {
	case statusCode >= 200 && statusCode < 300:
		emoji = "🟢"
	case statusCode >= 400:
		emoji = "🔴"
	default:
		emoji = "🟡"
	}

	if body != "" {
		attrs = append(attrs, "body", RedactSensitiveData(body))
	}

	Debug(emoji+" API Response", attrs...)
}
