// Package logging includes tests for the zap logger helpers.
package logging

import (
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, string(p))
	return len(p), nil
}

// TestTeeWritesEveryEntryToBoth checks the base core and the line writer both
// observe each entry, one write per entry.
func TestTeeWritesEveryEntryToBoth(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	lines := &lineCollector{}
	logger := Tee(zap.New(core), lines, zapcore.InfoLevel).With(zap.String("job_id", "j1"))

	logger.Debug("hidden from sink")
	logger.Info("source done", zap.Int("items", 3))
	logger.Warn("source failed", zap.String("source", "news"))

	if got := logs.Len(); got != 3 {
		t.Fatalf("base core entries = %d, want 3", got)
	}
	if len(lines.lines) != 2 {
		t.Fatalf("sink writes = %d, want 2: %q", len(lines.lines), lines.lines)
	}
	first := lines.lines[0]
	for _, want := range []string{"INFO", "source done", `"items": 3`, `"job_id": "j1"`} {
		if !strings.Contains(first, want) {
			t.Errorf("line %q missing %q", first, want)
		}
	}
	if !strings.HasSuffix(first, "\n") || strings.Count(first, "\n") != 1 {
		t.Errorf("expected a single terminated line, got %q", first)
	}
	if !strings.Contains(lines.lines[1], "WARN") {
		t.Errorf("second line %q missing level", lines.lines[1])
	}
}
