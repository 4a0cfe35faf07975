package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"faultline/internal/models"
)

var ErrNoForensicDir = errors.New("forensic directory not configured")

// FileWriter writes one plain-text file per record, named <id>.txt.
type FileWriter struct {
	dir string
}

// NewFileWriter creates the directory if needed.
func NewFileWriter(dir string) (*FileWriter, error) {
	if dir == "" {
		return nil, ErrNoForensicDir
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create forensic dir: %w", err)
	}
	return &FileWriter{dir: dir}, nil
}

// Dir returns the forensic directory
func (w *FileWriter) Dir() string { return w.dir }

// Write creates the file for rec and returns its path. Existing files are
// never overwritten.
func (w *FileWriter) Write(rec *models.ImportFailureRecord) (string, error) {
	path := filepath.Join(w.dir, rec.ID.String()+".txt")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create forensic file: %w", err)
	}
	if _, err := f.WriteString(FormatRecord(rec)); err != nil {
		f.Close()
		return "", fmt.Errorf("write forensic file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close forensic file: %w", err)
	}
	return path, nil
}

// FormatRecord renders rec for a human reader. The layout is not stable.
func FormatRecord(rec *models.ImportFailureRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Import failure %s\n", rec.ID)
	fmt.Fprintf(&b, "Written at: %s\n", rec.WrittenAt.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "Intake path: %s\n", rec.Path)
	if rec.InputAddress != "" {
		fmt.Fprintf(&b, "Input address: %s\n", rec.InputAddress)
	}
	fmt.Fprintf(&b, "Payload bytes: %d\n", len(rec.RawPayload))

	if len(rec.Headers) > 0 {
		names := make([]string, 0, len(rec.Headers))
		for k := range rec.Headers {
			names = append(names, k)
		}
		sort.Strings(names)
		b.WriteString("\nHeaders:\n")
		for _, k := range names {
			fmt.Fprintf(&b, "  %s: %s\n", k, rec.Headers[k])
		}
	}

	b.WriteString("\nException:\n")
	b.WriteString(rec.ExceptionText)
	b.WriteString("\n")
	return b.String()
}
