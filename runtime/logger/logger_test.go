package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// captureOutput points the built-in handlers at a buffer for the duration of the test.
func captureOutput(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	originalLogger := DefaultLogger
	originalOutput := logOutput
	logOutput = &buf
	SetLevel(level)
	t.Cleanup(func() {
		logOutput = originalOutput
		DefaultLogger = originalLogger
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"TRACE", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetLevel(t *testing.T) {
	buf := captureOutput(t, slog.LevelWarn)

	Info("hidden")
	Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record logged at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestSetVerbose(t *testing.T) {
	buf := captureOutput(t, slog.LevelInfo)

	SetVerbose(true)
	Debug("verbose on")
	SetVerbose(false)
	Debug("verbose off")

	out := buf.String()
	if !strings.Contains(out, "verbose on") {
		t.Error("expected debug output while verbose")
	}
	if strings.Contains(out, "verbose off") {
		t.Error("unexpected debug output after disabling verbose")
	}
}

func TestSetLogger(t *testing.T) {
	originalLogger := DefaultLogger
	defer func() {
		SetLogger(nil)
		DefaultLogger = originalLogger
	}()

	var buf bytes.Buffer
	SetLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Neither SetLevel nor Configure may replace a custom handler.
	SetLevel(slog.LevelError)
	if err := Configure(&LoggingConfigSpec{DefaultLevel: "error"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	Debug("custom handler", "k", "v")

	if !strings.Contains(buf.String(), `"msg":"custom handler"`) {
		t.Errorf("expected record in custom handler, got %q", buf.String())
	}
}

func TestContextVariants(t *testing.T) {
	buf := captureOutput(t, slog.LevelDebug)
	ctx := WithSessionID(context.Background(), "sess-1")

	DebugContext(ctx, "debug ctx")
	InfoContext(ctx, "info ctx")
	WarnContext(ctx, "warn ctx")
	ErrorContext(ctx, "error ctx")
	Error("plain error", "error", errors.New("boom"))

	out := buf.String()
	for _, want := range []string{"debug ctx", "info ctx", "warn ctx", "error ctx", "plain error", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if strings.Count(out, "session_id=sess-1") != 4 {
		t.Errorf("expected session_id on every context record: %s", out)
	}
}

func TestStateTransition(t *testing.T) {
	buf := captureOutput(t, slog.LevelInfo)

	StateTransition(context.Background(), "connecting", "connected", "transport connected", "modality", "voice")

	out := buf.String()
	for _, want := range []string{"from=connecting", "to=connected", `reason="transport connected"`, "modality=voice"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestNegotiation(t *testing.T) {
	buf := captureOutput(t, slog.LevelInfo)
	ctx := WithLoggingContext(context.Background(), &LoggingFields{Transport: "webrtc", Attempt: "1"})

	Negotiation(ctx, "webrtc", 1, 120*time.Millisecond, nil)
	Negotiation(ctx, "webrtc", 2, time.Second, errors.New("answer rejected for Bearer ek_abcdefghijklmnopqrst"))

	out := buf.String()
	if !strings.Contains(out, "Negotiation complete") || !strings.Contains(out, "Negotiation failed") {
		t.Errorf("expected both outcomes: %s", out)
	}
	if strings.Contains(out, "ek_abcdefghijklmnopqrst") {
		t.Errorf("ephemeral key leaked into log: %s", out)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d: %s", len(lines), out)
	}
	for _, line := range lines {
		if n := strings.Count(line, "transport="); n != 1 {
			t.Errorf("transport logged %d times: %s", n, line)
		}
		if n := strings.Count(line, "attempt="); n != 1 {
			t.Errorf("attempt logged %d times: %s", n, line)
		}
	}
	if !strings.Contains(lines[1], "attempt=2") {
		t.Errorf("attempt argument should win over the context: %s", lines[1])
	}
}

func TestNegotiation_WithoutContextFields(t *testing.T) {
	buf := captureOutput(t, slog.LevelInfo)

	Negotiation(context.Background(), "websocket", 3, time.Millisecond, nil)

	out := buf.String()
	for _, want := range []string{"transport=websocket", "attempt=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestToolInvocation(t *testing.T) {
	buf := captureOutput(t, slog.LevelDebug)
	ctx := WithCallID(context.Background(), "call_7")

	ToolInvocation(ctx, "get_weather", "call_7", 5*time.Millisecond, nil, `{"city":"Oslo"}`)
	ToolInvocation(ctx, "get_weather", "call_8", time.Millisecond, errors.New("upstream down"), "")

	out := buf.String()
	if !strings.Contains(out, "Tool arguments") || !strings.Contains(out, "Oslo") {
		t.Errorf("expected debug arguments record: %s", out)
	}
	if !strings.Contains(out, "upstream down") {
		t.Errorf("expected failure record: %s", out)
	}
}

func TestRedactSensitiveData(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		hidden  string
		visible string
	}{
		{
			name:    "openai key",
			input:   "key=sk-proj1234567890abcdefghijklmnopqrstuv",
			hidden:  "1234567890abcdefghijklmnopqrstuv",
			visible: "sk-p...[REDACTED]",
		},
		{
			name:    "ephemeral key",
			input:   "token ek_68af1c2d9e3b4a5f6071 issued",
			hidden:  "68af1c2d9e3b4a5f6071",
			visible: "ek_6...[REDACTED]",
		},
		{
			name:    "bearer",
			input:   "Authorization: Bearer abc.def-123",
			hidden:  "abc.def-123",
			visible: "Bearer [REDACTED]",
		},
		{
			name:    "nothing sensitive",
			input:   "session.update sent",
			visible: "session.update sent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactSensitiveData(tt.input)
			if tt.hidden != "" && strings.Contains(got, tt.hidden) {
				t.Errorf("RedactSensitiveData(%q) = %q still contains secret", tt.input, got)
			}
			if !strings.Contains(got, tt.visible) {
				t.Errorf("RedactSensitiveData(%q) = %q, want it to contain %q", tt.input, got, tt.visible)
			}
		})
	}
}

func TestAPIRequestAndResponse(t *testing.T) {
	buf := captureOutput(t, slog.LevelDebug)

	APIRequest("credentials", "POST", "https://example.test/session", map[string]string{
		"Authorization": "Bearer secret-token",
	})
	APIResponse("credentials", 200, `{"token":"ek_abcdefghijklmnopqrstu"}`, nil)
	APIResponse("credentials", 401, "", nil)
	APIResponse("credentials", 0, "", errors.New("dial tcp: refused"))

	out := buf.String()
	if strings.Contains(out, "secret-token") || strings.Contains(out, "ek_abcdefghijklmnopqrstu") {
		t.Errorf("secret leaked: %s", out)
	}
	for _, want := range []string{"API Request", "🟢 API Response", "🔴 API Response", "API Response Error"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestAPIRequest_DisabledBelowDebug(t *testing.T) {
	buf := captureOutput(t, slog.LevelInfo)

	APIRequest("credentials", "POST", "https://example.test", nil)
	APIResponse("credentials", 200, "ok", nil)

	if buf.Len() != 0 {
		t.Errorf("expected no output at info level, got %q", buf.String())
	}
}
