package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	if err := InitLogger("invalid"); err == nil {
		t.Error("expected error for invalid log level, got nil")
	}
}

func TestGetLoggerBeforeInit(t *testing.T) {
	// globalLoggerをリセット
	globalLogger = nil
	// デフォルトロガーが返されることを確認
	if got := GetLogger(); got != slog.Default() {
		t.Error("GetLogger() should return slog.Default() when not initialized")
	}
}

func TestInitLoggerTo(t *testing.T) {
	t.Cleanup(func() { globalLogger = nil })

	t.Run("text filters by level", func(t *testing.T) {
		var buf bytes.Buffer
		if err := InitLoggerTo(&buf, "warn", false); err != nil {
			t.Fatal(err)
		}
		GetLogger().Info("hidden")
		GetLogger().Warn("shown", "script", "frame1")
		out := buf.String()
		if strings.Contains(out, "hidden") {
			t.Error("expected info to be filtered at warn level")
		}
		if !strings.Contains(out, "script=frame1") {
			t.Errorf("expected structured key in output, got %q", out)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := InitLoggerTo(&buf, "debug", true); err != nil {
			t.Fatal(err)
		}
		GetLogger().Debug("tick", "frame", 3)
		var rec map[string]any
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("expected a JSON record, got %q: %v", buf.String(), err)
		}
		if rec["msg"] != "tick" || rec["frame"] != float64(3) {
			t.Errorf("unexpected record %v", rec)
		}
	})
}
