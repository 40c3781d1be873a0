// Package auditlog appends timestamped lines to flat, write-only text
// files. Each write opens the file in append mode, writes one line, and
// closes it again so the files can be rotated or tailed externally.
package auditlog

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// TimeLayout is the timestamp prefix format ("YYYY-MM-DD HH:MM:SS").
const TimeLayout = "2006-01-02 15:04:05"

// File is an append-only log file. The zero value is not usable; create
// one with [New]. A File with an empty path discards every line.
type File struct {
	path string
}

// New returns a File that appends to path.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the file path lines are appended to.
func (f *File) Path() string {
	return f.path
}

// Append writes "<timestamp> | <msg>\n" to the file, creating it if it
// does not exist. Embedded newlines in msg are replaced with spaces so
// every call produces exactly one line.
func (f *File) Append(at time.Time, msg string) error {
	if f == nil || f.path == "" {
		return nil
	}

	line := at.Format(TimeLayout) + " | " + strings.ReplaceAll(msg, "\n", " ") + "\n"

	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.path, err)
	}
	if _, err := fh.WriteString(line); err != nil {
		_ = fh.Close()
		return fmt.Errorf("append to %s: %w", f.path, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.path, err)
	}
	return nil
}
