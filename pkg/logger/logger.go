package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-logfmt/logfmt"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
	LevelFatal: "fatal",
}

func (l Level) String() string {
	return levelNames[l]
}

// ParseLevel maps a config level name to a Level. Unknown names fall back to info.
func ParseLevel(name string) Level {
	for level, n := range levelNames {
		if n == name {
			return level
		}
	}
	return LevelInfo
}

type core struct {
	encoder *logfmt.Encoder
	mu      sync.Mutex
}

type Logger struct {
	core   *core
	output io.Writer
	level  Level
	fields map[string]any
	now    func() time.Time
}

func New(output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		core:   &core{encoder: logfmt.NewEncoder(output)},
		output: output,
		level:  LevelInfo,
		now:    time.Now,
	}
}

func NewDefault() *Logger {
	return New(os.Stdout)
}

// WithLevel returns a copy of the logger that drops records below level.
func (l *Logger) WithLevel(level Level) *Logger {
	c := *l
	c.level = level
	return &c
}

// With returns a copy of the logger that adds fields to every record.
func (l *Logger) With(fields map[string]any) *Logger {
	c := *l
	c.fields = make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		c.fields[k] = v
	}
	for k, v := range fields {
		c.fields[k] = v
	}
	return &c
}

func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

func (l *Logger) log(level Level, msg string, fields map[string]any) {
	if !l.Enabled(level) {
		return
	}

	l.core.mu.Lock()
	defer l.core.mu.Unlock()

	enc := l.core.encoder
	_ = enc.EncodeKeyval("time", l.now().Format(time.RFC3339))
	_ = enc.EncodeKeyval("level", level.String())
	_ = enc.EncodeKeyval("msg", msg)

	for k, v := range l.fields {
		if _, ok := fields[k]; ok {
			continue
		}
		_ = enc.EncodeKeyval(k, v)
	}
	for k, v := range fields {
		_ = enc.EncodeKeyval(k, v)
	}

	_ = enc.EndRecord()
}

func (l *Logger) Debug(msg string, fields map[string]any) {
	l.log(LevelDebug, msg, fields)
}

func (l *Logger) Info(msg string, fields map[string]any) {
	l.log(LevelInfo, msg, fields)
}

func (l *Logger) Error(msg string, err error, fields map[string]any) {
	merged := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	if err != nil {
		merged["error"] = err.Error()
	}
	l.log(LevelError, msg, merged)
}

func (l *Logger) Warn(msg string, fields map[string]any) {
	l.log(LevelWarn, msg, fields)
}

func (l *Logger) Fatal(msg string, fields map[string]any) {
	l.log(LevelFatal, msg, fields)
	os.Exit(1)
}

var defaultLogger = NewDefault()

// SetDefault replaces the logger used by the package-level functions.
func SetDefault(l *Logger) {
	defaultLogger = l
}

func Default() *Logger {
	return defaultLogger
}

func Info(msg string, fields map[string]any) {
	defaultLogger.Info(msg, fields)
}

func Error(msg string, err error, fields map[string]any) {
	defaultLogger.Error(msg, err, fields)
}
