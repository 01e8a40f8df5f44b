package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// RunLog is the date-stamped, append-only log file of one day's runs.
type RunLog struct {
	Path string
	Name string
	file *os.File
}

// RunLogName returns "<prefix>_YYYYMMDD.log" for the given day.
func RunLogName(prefix string, day time.Time) string {
	return fmt.Sprintf("%s_%s.log", prefix, day.Format("20060102"))
}

// OpenRunLog opens (or creates) today's log file under dir for appending.
func OpenRunLog(dir, prefix string, day time.Time) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	name := RunLogName(prefix, day)
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &RunLog{Path: path, Name: name, file: file}, nil
}

// Tee returns a logger writing every record both to the run log and to console.
func (r *RunLog) Tee(console io.Writer, level Level) *Logger {
	if console == nil {
		console = os.Stdout
	}
	return New(io.MultiWriter(r.file, console)).WithLevel(level)
}

// Sync flushes the file so it can be shipped while still open.
func (r *RunLog) Sync() error {
	return r.file.Sync()
}

func (r *RunLog) Close() error {
	return r.file.Close()
}
