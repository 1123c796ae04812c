package detectlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteEvent_NoopWithEmptyPath(t *testing.T) {
	l, err := New(false, "")
	require.NoError(t, err)
	require.NoError(t, l.WriteEvent(time.Now(), 50, "123", 1.3, nil))
}

func TestWriteEvent_SingleFileModeWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "detections.log")

	l, err := New(false, path)
	require.NoError(t, err)
	require.NoError(t, l.WriteEvent(time.Unix(1000, 0), 42.5, "130", 1.3, nil))
	require.NoError(t, l.WriteEvent(time.Unix(1001, 0), 60.0, "222", 1.1, nil))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3) // header + 2 rows
	assert.Equal(t, "utime,isotime,duty_percent,sequence,lead_time_s,dispatch_error", lines[0])
	assert.Contains(t, lines[1], "42.50")
	assert.Contains(t, lines[1], "130")
}

func TestWriteEvent_DailyModeCreatesDirectoryAndNamedFile(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")

	l, err := New(true, logDir)
	require.NoError(t, err)
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, l.WriteEvent(now, 10, "001", 1.3, nil))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(logDir, "2026-03-05.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "001")
}

func TestWriteEvent_RecordsDispatchError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "detections.log")

	l, err := New(false, path)
	require.NoError(t, err)
	require.NoError(t, l.WriteEvent(time.Unix(1000, 0), 42.5, "130", 1.3, assert.AnError))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), assert.AnError.Error())
}
