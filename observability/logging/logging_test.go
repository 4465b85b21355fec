package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New("inferpayd", "test", Options{Level: "debug", Writer: &buf})
	logger.Debug("unit committed", slog.Uint64("height", 3))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["message"] != "unit committed" || line["severity"] != "DEBUG" {
		t.Fatalf("unexpected line %v", line)
	}
	if line["service"] != "inferpayd" || line["env"] != "test" {
		t.Fatalf("missing service attrs %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp %v", line)
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New("inferpayd", "", Options{Level: "warn", Writer: &buf})
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted at warn level: %s", buf.String())
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unknown level should default to info")
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("requestId", "0xabc"); got.Value.String() != "0xabc" {
		t.Fatalf("allowlisted key redacted: %v", got)
	}
	if got := MaskField("authorization", "Bearer x"); got.Value.String() != RedactedValue {
		t.Fatalf("sensitive key leaked: %v", got)
	}
	if got := MaskField("authorization", ""); got.Value.String() != "" {
		t.Fatalf("empty value should pass through")
	}
}

func TestHandlerMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New("inferpayd", "", Options{Writer: &buf})
	logger.Info("audit opened", slog.String("dsn", "postgres://user:pw@db/audit"), slog.String("Authorization", "Bearer abc"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["dsn"] != RedactedValue || line["Authorization"] != RedactedValue {
		t.Fatalf("sensitive values leaked: %v", line)
	}
}
