package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// ParseLevel maps a config string to a Level. Unknown values map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes component-tagged lines to the run log under
// ~/.formforge/logs/<run-id>-formforge.log. FORMFORGE_LOG_DIR overrides the
// directory.
type Logger struct {
	runID     string
	component string
	file      *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logPath   string
	closeOnce sync.Once
}

var (
	runID     string
	runIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error

	// minLevel is shared by every component logger.
	minLevel   = LevelDebug
	minLevelMu sync.RWMutex
)

func getRunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		if logDir == "" {
			logDir = os.Getenv("FORMFORGE_LOG_DIR")
		}
		if logDir != "" {
			initErr = os.MkdirAll(logDir, 0750)
			return
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}

		logDir = filepath.Join(homeDir, ".formforge", "logs")
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

// SetLevel changes the minimum level for all loggers.
func SetLevel(level Level) {
	minLevelMu.Lock()
	defer minLevelMu.Unlock()
	minLevel = level
}

func enabled(level Level) bool {
	minLevelMu.RLock()
	defer minLevelMu.RUnlock()
	return level >= minLevel
}

// NewLogger creates a logger for one component. Every component of a run
// appends to the same file. When the file cannot be opened the logger falls
// back to stderr and the error is returned alongside it.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	id := getRunID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-formforge.log", id))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return newFallbackLogger(component, fmt.Errorf("failed to open log file: %w", err)), err
	}

	return &Logger{
		runID:     id,
		component: component,
		file:      file,
		logger:    log.New(file, "", 0),
		logPath:   logPath,
	}, nil
}

func newFallbackLogger(component string, err error) *Logger {
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags)
	logger.Printf("WARNING: Failed to initialize file logging: %v", err)

	return &Logger{
		runID:     getRunID(),
		component: component,
		logger:    logger,
	}
}

func (l *Logger) write(level Level, format string, v ...interface{}) {
	if !enabled(level) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("[%s] [%s] [%s] %s", timestamp, l.component, level, fmt.Sprintf(format, v...))
}

// Printf logs at info level.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.write(LevelInfo, format, v...)
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write(LevelDebug, format, v...)
}

func (l *Logger) Infof(format string, v ...interface{}) {
	l.write(LevelInfo, format, v...)
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write(LevelWarn, format, v...)
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write(LevelError, format, v...)
}

// Writer returns the underlying destination.
func (l *Logger) Writer() io.Writer {
	if l.file != nil {
		return l.file
	}
	return os.Stderr
}

// RunID returns the run identifier stamped on this logger.
func (l *Logger) RunID() string {
	return l.runID
}

// LogPath returns the log file path, or "" for the stderr fallback.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// RunID returns the process-wide run identifier.
func RunID() string {
	return getRunID()
}

// GetLogDirectory returns the directory where run logs are stored.
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}
