// Package detectlog saves decoded beep-sequence events to a CSV file
// for later review, the same "plain CSV, not a database" choice spec
// §4.3's calibration and detection workflow favours for operators who
// just want to eyeball or spreadsheet-import their print history.
package detectlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Logger writes one CSV row per decoded beep sequence. It supports
// two modes, grounded on log_init/log_write in the teacher's
// src/log.go: daily-rotated file names under a directory, or a single
// append-only file (intended to be rotated externally, e.g. by
// logrotate).
type Logger struct {
	dailyNames bool
	path       string // directory (daily mode) or full file path (single-file mode)

	fp       *os.File
	openName string
}

const header = "utime,isotime,duty_percent,sequence,lead_time_s,dispatch_error\n"

// New prepares a Logger. If path is empty, logging is a no-op. In
// daily mode, path must be a directory (created if missing); daily
// log files are named YYYY-MM-DD.log within it.
func New(dailyNames bool, path string) (*Logger, error) {
	l := &Logger{dailyNames: dailyNames, path: path}
	if path == "" {
		return l, nil
	}

	if dailyNames {
		stat, err := os.Stat(path)
		switch {
		case err == nil && stat.IsDir():
			// Directory already exists, use it as-is.
		case err == nil:
			return nil, fmt.Errorf("log location %q is not a directory", path)
		default:
			if mkErr := os.Mkdir(path, 0755); mkErr != nil {
				return nil, fmt.Errorf("creating log directory %q: %w", path, mkErr)
			}
		}
	}
	return l, nil
}

// WriteEvent appends one row describing a decoded sequence. dispatchErr
// may be nil; its message, if any, is recorded in the last column.
func (l *Logger) WriteEvent(t time.Time, duty float64, sequence string, leadTime float64, dispatchErr error) error {
	if l.path == "" {
		return nil
	}
	if err := l.ensureOpen(t); err != nil {
		return err
	}

	errText := ""
	if dispatchErr != nil {
		errText = dispatchErr.Error()
	}

	w := csv.NewWriter(l.fp)
	w.Write([]string{
		strconv.FormatInt(t.Unix(), 10),
		t.UTC().Format("2006-01-02T15:04:05Z"),
		strconv.FormatFloat(duty, 'f', 2, 64),
		sequence,
		strconv.FormatFloat(leadTime, 'f', 3, 64),
		errText,
	})
	w.Flush()
	return w.Error()
}

func (l *Logger) ensureOpen(t time.Time) error {
	if l.path == "" {
		return nil
	}

	if !l.dailyNames {
		if l.fp != nil {
			return nil
		}
		return l.openFile(l.path)
	}

	name := t.UTC().Format("2006-01-02.log")
	if l.fp != nil && name != l.openName {
		l.Close()
	}
	if l.fp == nil {
		if err := l.openFile(filepath.Join(l.path, name)); err != nil {
			return err
		}
		l.openName = name
	}
	return nil
}

func (l *Logger) openFile(fullPath string) error {
	_, statErr := os.Stat(fullPath)
	alreadyThere := statErr == nil

	f, err := os.OpenFile(fullPath, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("opening log file %q: %w", fullPath, err)
	}
	l.fp = f

	if !alreadyThere {
		if _, err := f.WriteString(header); err != nil {
			return fmt.Errorf("writing log header to %q: %w", fullPath, err)
		}
	}
	return nil
}

// Close closes the currently open log file, if any.
func (l *Logger) Close() error {
	if l.fp == nil {
		return nil
	}
	err := l.fp.Close()
	l.fp = nil
	l.openName = ""
	return err
}
