// Package logging provides structured logging using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents log levels.
type Level = zerolog.Level

// Log levels exposed for convenience.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config holds logger configuration.
type Config struct {
	Level Level
	// Output defaults to os.Stderr.
	Output io.Writer
	// Pretty enables human-readable console output.
	Pretty     bool
	TimeFormat string
	// LogToFile tees JSON logs into datachat-<timestamp>.log under LogDir.
	LogToFile bool
	LogDir    string
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Level:      InfoLevel,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
		LogDir:     "/tmp",
	}
}

// file is the open log file, if any.
var file struct {
	sync.Mutex
	f    *os.File
	path string
}

// Init replaces the global logger. A log file opened by an earlier Init is
// closed first.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	out := cfg.Output
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: cfg.TimeFormat}
	}

	Close()
	if cfg.LogToFile {
		f, err := openFile(cfg.LogDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		} else {
			out = zerolog.MultiLevelWriter(out, f)
		}
	}

	Logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

func openFile(dir string) (*os.File, error) {
	if dir == "" {
		dir = "/tmp"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, "datachat-"+time.Now().Format("20060102-150405")+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	file.Lock()
	file.f, file.path = f, path
	file.Unlock()
	return f, nil
}

// FilePath returns the current log file, or "" when not logging to a file.
func FilePath() string {
	file.Lock()
	defer file.Unlock()
	return file.path
}

// Close closes the log file if one is open.
func Close() {
	file.Lock()
	defer file.Unlock()
	if file.f != nil {
		file.f.Close()
	}
	file.f, file.path = nil, ""
}

// SetLevel changes the level of the global logger in place.
func SetLevel(level Level) {
	Logger = Logger.Level(level)
}

// ParseLevel parses a level name, ignoring case and surrounding space.
// "warning" is accepted for warn. Unknown names give InfoLevel.
func ParseLevel(level string) Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		return WarnLevel
	}
	switch l, err := zerolog.ParseLevel(name); {
	case err != nil, name == "", l > FatalLevel:
		return InfoLevel
	default:
		return l
	}
}

func Debug() *zerolog.Event { return Logger.Debug() }
func Info() *zerolog.Event  { return Logger.Info() }
func Warn() *zerolog.Event  { return Logger.Warn() }
func Error() *zerolog.Event { return Logger.Error() }

// ForSession returns a child logger tagged with the session ID.
func ForSession(sessionID string) zerolog.Logger {
	return Logger.With().Str("session", sessionID).Logger()
}

func init() {
	Init(DefaultConfig())
}
