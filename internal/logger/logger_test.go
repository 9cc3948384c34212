package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}
	return entry
}

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, "info")

	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	l.Info("test message", slog.String("key", "value"))

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
}

func TestSetup_IncludesLevelField(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, "info")

	l.Warn("warning test")

	entry := decodeEntry(t, &buf)
	if entry["level"] != "WARN" {
		t.Errorf("level = %q, want %q", entry["level"], "WARN")
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
		infoSeen  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"", false, true},
		{"unknown", false, true},
		{"warn", false, false},
		{"ERROR", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := Setup(&buf, tt.level)

			l.Debug("debug-line")
			l.Info("info-line")

			if got := strings.Contains(buf.String(), "debug-line"); got != tt.debugSeen {
				t.Errorf("debug visible = %v, want %v", got, tt.debugSeen)
			}
			if got := strings.Contains(buf.String(), "info-line"); got != tt.infoSeen {
				t.Errorf("info visible = %v, want %v", got, tt.infoSeen)
			}
		})
	}
}

func TestSetup_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, "info")

	l.Info("token exchange",
		slog.String("provider", "truelayer"),
		slog.String("client_secret", "super-secret"),
		slog.String("access_token", "at-123"),
		slog.String("Authorization", "Bearer at-123"),
		slog.String("code", "auth-code"),
		slog.Int("status", 400),
	)

	raw := buf.String()
	for _, leaked := range []string{"super-secret", "at-123", "auth-code"} {
		if strings.Contains(raw, leaked) {
			t.Errorf("log output leaked %q: %s", leaked, raw)
		}
	}

	entry := decodeEntry(t, &buf)
	if entry["client_secret"] != Redacted {
		t.Errorf("client_secret = %v, want %q", entry["client_secret"], Redacted)
	}
	if entry["provider"] != "truelayer" {
		t.Errorf("provider = %v, want truelayer", entry["provider"])
	}
	if entry["status"] != float64(400) {
		t.Errorf("status = %v, want 400", entry["status"])
	}
}

func TestSetup_RedactsInsideGroups(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, "info")

	l.Info("request", slog.Group("oauth", slog.String("refresh_token", "rt-999"), slog.String("scope", "accounts")))

	if strings.Contains(buf.String(), "rt-999") {
		t.Errorf("grouped secret leaked: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "accounts") {
		t.Errorf("non-secret grouped attribute missing: %s", buf.String())
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupDefault(&buf, "info")

	slog.Default().Info("global test", slog.String("test_key", "test_val"))

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "global test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "global test")
	}
	if entry["test_key"] != "test_val" {
		t.Errorf("test_key = %q, want %q", entry["test_key"], "test_val")
	}
}
