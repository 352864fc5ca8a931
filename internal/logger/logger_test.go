package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestFromContext_Default(t *testing.T) {
	l := FromContext(context.Background())
	if l.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestWithLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithLogger(context.Background(), base)
	ctx = WithStr(ctx, "run_id", "abc123")
	ctx = Component(ctx, "splitter")

	l := FromContext(ctx)
	l.Info().Msg("hello")

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	if got["run_id"] != "abc123" {
		t.Errorf("Expected run_id abc123, got %v", got["run_id"])
	}
	if got["component"] != "splitter" {
		t.Errorf("Expected component splitter, got %v", got["component"])
	}
	if got["message"] != "hello" {
		t.Errorf("Expected message hello, got %v", got["message"])
	}
}

func TestInit_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "pdfbudget.log")
	l, err := Init(Options{Level: "debug", File: file, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Close()

	if l.GetLevel() != zerolog.DebugLevel {
		t.Errorf("Expected debug level, got %s", l.GetLevel())
	}
	l.Info().Msg("written")

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("Expected log file to exist: %v", err)
	}
	if !bytes.Contains(data, []byte("written")) {
		t.Errorf("Expected log file to contain message, got %q", data)
	}
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	l, err := Init(Options{Level: "nonsense"})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if l.GetLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info level, got %s", l.GetLevel())
	}
}
