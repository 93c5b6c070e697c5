package console

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"
)

func TestConsoleLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(NewConsoleLogger(ConsoleLoggerParams{JSON: true, Output: &buf}))
	defer logger.Init()

	logger.Info("[Graph] Distilled units", "units", 2)

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", line, err)
	}
	if entry["msg"] != "[Graph] Distilled units" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["units"] != float64(2) {
		t.Fatalf("unexpected units value: %v", entry["units"])
	}
}

func TestConsoleLogger_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{Output: &buf})
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug output to be suppressed, got %q", buf.String())
	}

	buf.Reset()
	l = NewConsoleLogger(ConsoleLoggerParams{Debug: true, Output: &buf})
	l.Debug("shown", "k", "v")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected debug output, got %q", buf.String())
	}
}

func TestLog_PassesKeyvals(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(NewConsoleLogger(ConsoleLoggerParams{Output: &buf}))
	defer logger.Init()

	logger.Log("[Queue] Message", "attempt", 3)
	if !strings.Contains(buf.String(), "attempt=3") {
		t.Fatalf("expected keyvals in output, got %q", buf.String())
	}
}
