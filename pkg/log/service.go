package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	config "github.com/mwantia/gamevault/internal/config/server"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerService interface {
	Debug(msg string, args ...any)

	Info(msg string, args ...any)

	Warn(msg string, args ...any)

	Error(msg string, args ...any)

	Fatal(msg string, args ...any)

	Named(name string) LoggerService
}

type LoggerServiceImpl struct {
	LoggerService

	cfg   config.LogServerConfig
	name  string
	level LogLevel
	mutex *sync.Mutex

	terminal io.Writer
	writer   io.Writer
}

type logEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Service   string `json:"service,omitempty"`
	Message   string `json:"message"`
}

func NewLoggerService(name string, cfg config.LogServerConfig) LoggerService {
	impl := newLoggerServiceImpl(name, cfg)
	impl.setupWriter()
	return impl
}

// NewWriterLoggerService logs into w only, ignoring the terminal and file settings.
// Colors are never written.
func NewWriterLoggerService(name string, cfg config.LogServerConfig, w io.Writer) LoggerService {
	cfg.NoColor = true
	impl := newLoggerServiceImpl(name, cfg)
	impl.writer = w
	return impl
}

// NewNopLoggerService discards everything.
func NewNopLoggerService() LoggerService {
	return NewWriterLoggerService("", config.LogServerConfig{Level: "FATAL"}, io.Discard)
}

func newLoggerServiceImpl(name string, cfg config.LogServerConfig) *LoggerServiceImpl {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	return &LoggerServiceImpl{
		cfg:   cfg,
		name:  name,
		level: Parse(cfg.Level),
		mutex: &sync.Mutex{},
	}
}

// setupWriter splits output into the terminal, which may be colored, and the
// rotated log file, which never is.
func (impl *LoggerServiceImpl) setupWriter() {
	if !impl.cfg.NoTerminal {
		impl.terminal = os.Stdout
	}

	if impl.cfg.File != "" {
		impl.writer = &lumberjack.Logger{
			Filename:   impl.cfg.File,
			MaxSize:    impl.cfg.Rotation.MaxSize,
			MaxBackups: impl.cfg.Rotation.MaxBackups,
			MaxAge:     impl.cfg.Rotation.MaxAge,
			Compress:   impl.cfg.Rotation.Compress,
		}
	}

	if impl.terminal == nil && impl.writer == nil {
		impl.terminal = os.Stdout
	}
}

func (impl *LoggerServiceImpl) format(level LogLevel, timestamp, msg string, color bool) []byte {
	if impl.cfg.JSON {
		line, _ := json.Marshal(logEntry{
			Timestamp: timestamp,
			Level:     level.String(),
			Service:   impl.name,
			Message:   msg,
		})
		return append(line, '\n')
	}

	var b strings.Builder
	if color {
		b.WriteString(Color(level))
	}
	fmt.Fprintf(&b, "[%s] %-5s", timestamp, level)
	if impl.name != "" {
		fmt.Fprintf(&b, " [%s]", impl.name)
	}
	b.WriteByte(' ')
	b.WriteString(msg)
	if color {
		b.WriteString(reset)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

func (impl *LoggerServiceImpl) log(level LogLevel, msg string, args ...any) {
	if level < impl.level {
		return
	}

	timestamp := time.Now().Format(impl.cfg.TimeFormat)
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	// Named loggers share their writers across goroutines.
	impl.mutex.Lock()
	if impl.terminal != nil {
		impl.terminal.Write(impl.format(level, timestamp, msg, !impl.cfg.NoColor))
	}
	if impl.writer != nil {
		impl.writer.Write(impl.format(level, timestamp, msg, false))
	}
	impl.mutex.Unlock()

	if level == Fatal {
		os.Exit(1)
	}
}

func (impl *LoggerServiceImpl) Debug(msg string, args ...any) {
	impl.log(Debug, msg, args...)
}

func (impl *LoggerServiceImpl) Info(msg string, args ...any) {
	impl.log(Info, msg, args...)
}

func (impl *LoggerServiceImpl) Warn(msg string, args ...any) {
	impl.log(Warn, msg, args...)
}

func (impl *LoggerServiceImpl) Error(msg string, args ...any) {
	impl.log(Error, msg, args...)
}

func (impl *LoggerServiceImpl) Fatal(msg string, args ...any) {
	impl.log(Fatal, msg, args...)
}

func (impl *LoggerServiceImpl) Named(name string) LoggerService {
	full := name
	if impl.name != "" {
		full = fmt.Sprintf("%s/%s", impl.name, name)
	}
	return &LoggerServiceImpl{
		cfg:      impl.cfg,
		name:     full,
		level:    impl.level,
		mutex:    impl.mutex,
		terminal: impl.terminal,
		writer:   impl.writer,
	}
}
