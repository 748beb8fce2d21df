package output

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WriteReportFile renders r into path while holding an advisory lock on
// path+".lock", so concurrent runs sharing a report file do not interleave.
func WriteReportFile(path string, r Report, format Format) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report dir: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := Write(&buf, r, format); err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock report file: %w", err)
	}
	defer lock.Unlock()

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	return nil
}

// FormatForPath picks a format from the file extension, falling back to def.
func FormatForPath(path string, def Format) Format {
	switch filepath.Ext(path) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".txt":
		return FormatText
	}
	return def
}
