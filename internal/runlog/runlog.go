// Package runlog records the outcome of each run in an append-only history file.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Status is the final classification of a run.
type Status string

// Run statuses written to the history file.
const (
	StatusSuccess     Status = "SUCCESS"
	StatusInterrupted Status = "USER_INTERRUPTED"
)

const timestampLayout = "2006-01-02 15:04:05.000000"

// Classify maps the run error to a Status. Cancellation counts as an
// operator interrupt.
func Classify(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, context.Canceled):
		return StatusInterrupted
	default:
		return Status("ERROR: " + err.Error())
	}
}

// IsError reports whether s describes a failed run.
func (s Status) IsError() bool {
	return strings.HasPrefix(string(s), "ERROR")
}

// Line formats one history entry without the trailing newline.
func Line(at time.Time, elapsed time.Duration, status Status) string {
	return fmt.Sprintf("[%s] | %.2fs | %s", at.Format(timestampLayout), elapsed.Seconds(), status)
}

// Append adds one line to the history file, creating it when needed.
func Append(path string, at time.Time, elapsed time.Duration, status Status) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) // #nosec G304 -- path comes from config
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	if _, err := fmt.Fprintln(f, Line(at, elapsed, status)); err != nil {
		_ = f.Close()
		return fmt.Errorf("write history file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close history file: %w", err)
	}
	return nil
}

// Banner prints the end-of-run summary block.
func Banner(w io.Writer, elapsed time.Duration, status Status) {
	rule := strings.Repeat("=", 50)
	fmt.Fprintf(w, "\n%s\nTIME: %.2fs\nSTATUS: %s\n%s\n", rule, elapsed.Seconds(), status, rule)
}
