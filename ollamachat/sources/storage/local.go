package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ExportFilename names an export file after the time it was made.
func ExportFilename(t time.Time) string {
	return fmt.Sprintf("chat_export_%s.json", t.Format("20060102_150405"))
}

// LocalExporter stages export files in a working directory until they
// have been served.
type LocalExporter struct {
	Dir string
}

func NewLocalExporter(dir string) (*LocalExporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &LocalExporter{Dir: dir}, nil
}

// Write stores data under name and returns the file's path.
func (e *LocalExporter) Write(name string, data []byte) (string, error) {
	path := filepath.Join(e.Dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

// Remove deletes a file written by Write.
func (e *LocalExporter) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove export: %w", err)
	}
	return nil
}
