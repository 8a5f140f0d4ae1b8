package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"visionrelay/internal/config"

	"github.com/rs/zerolog"
)

// Logger provides leveled logging (debug/info/warning/error) to per-level
// files and stdout/stderr.
type Logger struct {
	log    zerolog.Logger
	logDir string
	mu     *sync.Mutex
}

// levelWriter forwards only the events whose level is in levels.
type levelWriter struct {
	io.Writer
	levels map[zerolog.Level]bool
}

func (w levelWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if !w.levels[l] {
		return len(p), nil
	}
	return w.Write(p)
}

func only(w io.Writer, levels ...zerolog.Level) levelWriter {
	set := make(map[zerolog.Level]bool, len(levels))
	for _, l := range levels {
		set[l] = true
	}
	return levelWriter{Writer: w, levels: set}
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(cfg *config.Config) (*Logger, error) {
	return New(cfg.LogDirectory, cfg.LogLevel)
}

// New creates a Logger writing into logDir at the given minimum level.
func New(logDir, level string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	infoFile, err := openLogFile(filepath.Join(logDir, "info.log"))
	if err != nil {
		return nil, err
	}
	warningFile, err := openLogFile(filepath.Join(logDir, "warning.log"))
	if err != nil {
		return nil, err
	}
	errorFile, err := openLogFile(filepath.Join(logDir, "error.log"))
	if err != nil {
		return nil, err
	}

	stdout := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	stderr := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}

	writer := zerolog.MultiLevelWriter(
		only(stdout, zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel),
		only(stderr, zerolog.ErrorLevel),
		only(infoFile, zerolog.InfoLevel),
		only(warningFile, zerolog.WarnLevel),
		only(errorFile, zerolog.ErrorLevel),
	)

	return &Logger{
		log:    zerolog.New(writer).Level(parseLevel(level)).With().Timestamp().Logger(),
		logDir: logDir,
		mu:     &sync.Mutex{},
	}, nil
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{log: zerolog.Nop(), mu: &sync.Mutex{}}
}

// Named returns a child Logger tagging every entry with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		log:    l.log.With().Str("component", component).Logger(),
		logDir: l.logDir,
		mu:     l.mu,
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// openLogFile opens or creates a log file for appending.
func openLogFile(filename string) (*os.File, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filename, err)
	}
	return file, nil
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Debug().Msgf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Info().Msgf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Warn().Msgf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Error().Msgf(format, v...)
}

// Directory returns the directory holding the per-level log files.
func (l *Logger) Directory() string {
	return l.logDir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return nil
	}
	filePath := filepath.Join(l.logDir, filepath.Base(fileName))
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		l.Error("Error opening file: %v", err)
		return err
	}
	defer file.Close()

	l.Info("File %s has been cleared.", fileName)
	return nil
}
