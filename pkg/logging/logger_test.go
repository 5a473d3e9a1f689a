package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// setupTestDir points the package at a temp directory and resets global state.
func setupTestDir(t *testing.T) {
	t.Helper()

	tempDir := t.TempDir()

	origLogDir, origInitErr := logDir, initErr
	origRunID := runID

	logDir = tempDir
	initErr = nil
	initOnce = sync.Once{}
	runID = ""
	runIDOnce = sync.Once{}
	SetLevel(LevelDebug)

	t.Cleanup(func() {
		logDir, initErr = origLogDir, origInitErr
		initOnce = sync.Once{}
		runID = origRunID
		runIDOnce = sync.Once{}
		SetLevel(LevelDebug)
	})
}

func readLog(t *testing.T, l *Logger) string {
	t.Helper()
	content, err := os.ReadFile(l.LogPath())
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	return string(content)
}

func TestNewLogger(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("locator")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.component != "locator" {
		t.Errorf("expected component 'locator', got %q", logger.component)
	}
	if logger.RunID() == "" {
		t.Error("expected non-empty run ID")
	}
	if _, err := os.Stat(logger.LogPath()); os.IsNotExist(err) {
		t.Errorf("log file does not exist at %s", logger.LogPath())
	}
	if !strings.HasSuffix(filepath.Base(logger.LogPath()), "-formforge.log") {
		t.Errorf("unexpected log file name %q", logger.LogPath())
	}
}

func TestLoggerFormatting(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Printf("Test message %d", 123)
	logger.Debugf("Debug message")
	logger.Warnf("Warning message")
	logger.Errorf("Error message")

	content := readLog(t, logger)
	for _, pattern := range []string{
		"[test] [INFO] Test message 123",
		"[test] [DEBUG] Debug message",
		"[test] [WARN] Warning message",
		"[test] [ERROR] Error message",
	} {
		if !strings.Contains(content, pattern) {
			t.Errorf("log content missing %q\ncontent:\n%s", pattern, content)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("strategy")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	SetLevel(LevelWarn)
	logger.Debugf("hidden debug")
	logger.Infof("hidden info")
	logger.Warnf("visible warn")

	content := readLog(t, logger)
	if strings.Contains(content, "hidden") {
		t.Errorf("expected debug/info lines to be filtered:\n%s", content)
	}
	if !strings.Contains(content, "visible warn") {
		t.Errorf("expected warn line:\n%s", content)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARNING": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"chatty":  LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentsShareRunFile(t *testing.T) {
	setupTestDir(t)

	l1, err := NewLogger("classify")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer l1.Close()
	l2, err := NewLogger("recovery")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer l2.Close()

	if l1.LogPath() != l2.LogPath() || l1.RunID() != l2.RunID() {
		t.Fatalf("expected shared run log, got %q and %q", l1.LogPath(), l2.LogPath())
	}

	l1.Infof("from classify")
	l2.Infof("from recovery")
	content := readLog(t, l1)
	if !strings.Contains(content, "[classify]") || !strings.Contains(content, "[recovery]") {
		t.Errorf("expected both components in log:\n%s", content)
	}
}

func TestLoggerCloseIsIdempotent(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("first close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}
