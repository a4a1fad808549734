package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})
	logger.Info("movement started", "movement", "plan")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if record["msg"] != "movement started" {
		t.Fatalf("unexpected message: %v", record["msg"])
	}
	if record["movement"] != "plan" {
		t.Fatalf("unexpected movement attr: %v", record["movement"])
	}
}

func TestLogger_SanitizesSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})
	logger.Info("provider call", "key", "sk-ant-"+strings.Repeat("x", 44))

	if strings.Contains(buf.String(), "sk-ant-") {
		t.Fatalf("expected secret to be redacted, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), "[REDACTED]") {
		t.Fatalf("expected redaction marker, got %s", buf.String())
	}
}

func TestLogger_ContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: "json", Output: &buf})
	logger.WithTask("fix-auth").WithMovement("review").Debug("phase complete")

	out := buf.String()
	if !strings.Contains(out, `"task":"fix-auth"`) || !strings.Contains(out, `"movement":"review"`) {
		t.Fatalf("expected task and movement attrs, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"info":    "INFO",
		"warn":    "WARN",
		"error":   "ERROR",
		"unknown": "INFO",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
