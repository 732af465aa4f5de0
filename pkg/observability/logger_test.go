package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry: %v", err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		if buf.Len() == 0 {
			t.Fatal("Info message should be logged at Info level")
		}

		entry := decodeEntry(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		if buf.Len() == 0 {
			t.Error("Warn message should be logged at Info level")
		}
	})

	t.Run("error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Error("error message")
		if buf.Len() == 0 {
			t.Error("Error message should be logged at Info level")
		}
	})
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("provider", "creem").Info("message")

	entry := decodeEntry(t, &buf)
	if entry["provider"] != "creem" {
		t.Errorf("Expected field 'provider' to be 'creem', got %v", entry["provider"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"event_id": "evt_123",
		"user_id":  "usr_456",
	}).Info("event applied")

	entry := decodeEntry(t, &buf)
	if entry["event_id"] != "evt_123" {
		t.Errorf("Expected field 'event_id' to be 'evt_123', got %v", entry["event_id"])
	}
	if entry["user_id"] != "usr_456" {
		t.Errorf("Expected field 'user_id' to be 'usr_456', got %v", entry["user_id"])
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("non-nil error", func(t *testing.T) {
		buf.Reset()
		logger.WithError(errors.New("insufficient credits")).Error("apply failed")

		entry := decodeEntry(t, &buf)
		if entry["error"] != "insufficient credits" {
			t.Errorf("Expected error field, got %v", entry["error"])
		}
	})

	t.Run("nil error returns same logger", func(t *testing.T) {
		if logger.WithError(nil) != logger {
			t.Error("WithError(nil) should return the receiver unchanged")
		}
	})
}

func TestLogger_Formatted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.Infof("applied %d credits to %s", 500, "usr_1")

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "applied 500 credits to usr_1" {
		t.Errorf("Unexpected formatted message: %v", entry["msg"])
	}
}

func TestLogger_NilOutputDefaultsToStdout(t *testing.T) {
	logger := NewLogger(InfoLevel, nil)
	if logger == nil {
		t.Fatal("Expected non-nil logger")
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("LogLevel(%d).String() = %s, want %s", tt.level, got, tt.expected)
		}
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	if got := GetRequestID(ctx); got != "" {
		t.Errorf("Expected empty request ID on fresh context, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-abc")
	if got := GetRequestID(ctx); got != "req-abc" {
		t.Errorf("Expected request ID 'req-abc', got %q", got)
	}
}

func TestLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	if got := GetLogger(ctx); got != logger {
		t.Error("GetLogger should return the stored logger")
	}

	t.Run("missing logger returns default", func(t *testing.T) {
		if got := GetLogger(context.Background()); got == nil {
			t.Error("GetLogger should return a default logger when missing")
		}
	})
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-xyz")

	FromContext(ctx).Info("handling webhook")

	entry := decodeEntry(t, &buf)
	if entry["request_id"] != "req-xyz" {
		t.Errorf("Expected request_id 'req-xyz', got %v", entry["request_id"])
	}
}
