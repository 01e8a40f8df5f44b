package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC)
}

func TestLoggerWritesLogfmtRecords(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.now = fixedClock

	l.Info("copied file", map[string]any{"path": "/a/b c.txt"})

	assert.Equal(t, `time=2026-10-17T08:30:00Z level=info msg="copied file" path="/a/b c.txt"`+"\n", buf.String())
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf).WithLevel(LevelWarn)

	l.Debug("hidden", nil)
	l.Info("hidden", nil)
	l.Warn("shown", nil)
	l.Error("shown too", errors.New("boom"), nil)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "error=boom")
}

func TestLoggerWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf).With(map[string]any{"run_id": "r1"})

	l.Info("start", nil)
	l.Info("override", map[string]any{"run_id": "r2"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "run_id=r1")
	assert.Contains(t, lines[1], "run_id=r2")
	assert.NotContains(t, lines[1], "run_id=r1")
}

func TestLoggerErrorDoesNotMutateFields(t *testing.T) {
	var buf bytes.Buffer
	fields := map[string]any{"path": "x"}

	New(&buf).Error("failed", errors.New("boom"), fields)

	assert.NotContains(t, fields, "error")
}

func TestPackageFunctionsUseDefault(t *testing.T) {
	previous := Default()
	t.Cleanup(func() { SetDefault(previous) })

	var buf bytes.Buffer
	l := New(&buf)
	l.now = fixedClock
	SetDefault(l)

	Info("queued", map[string]any{"task_id": "t1"})
	Error("enqueue failed", errors.New("refused"), nil)

	assert.Equal(t, "time=2026-10-17T08:30:00Z level=info msg=queued task_id=t1\n"+
		"time=2026-10-17T08:30:00Z level=error msg=\"enqueue failed\" error=refused\n", buf.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestRunLogAppendsAndTees(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	day := fixedClock()

	for i := 0; i < 2; i++ {
		rl, err := OpenRunLog(dir, "sftp_mirror", day)
		require.NoError(t, err)
		assert.Equal(t, "sftp_mirror_20261017.log", rl.Name)

		var console bytes.Buffer
		rl.Tee(&console, LevelInfo).Info("run", map[string]any{"n": i})
		require.NoError(t, rl.Close())
		assert.Contains(t, console.String(), "msg=run")
	}

	data, err := os.ReadFile(filepath.Join(dir, "sftp_mirror_20261017.log"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "msg=run"))
}
