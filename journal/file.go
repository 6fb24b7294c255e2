package journal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/c360studio/discoverer/description"
)

// FileLog appends journal lines to a local file.
type FileLog struct {
	path       string
	syncWrites bool

	mu sync.Mutex
}

// NewFileLog returns a journal stored at path. The parent directory is
// created on first append. With syncWrites set every append is fsynced.
func NewFileLog(path string, syncWrites bool) *FileLog {
	return &FileLog{path: path, syncWrites: syncWrites}
}

// Path returns the journal file path.
func (f *FileLog) Path() string {
	return f.path
}

// Append implements Log.
func (f *FileLog) Append(_ context.Context, op Op, d *description.ComponentDescription) error {
	line, err := FormatEntry(op, d)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := file.WriteString(line + "\n"); err != nil {
		file.Close()
		return fmt.Errorf("write journal: %w", err)
	}
	if f.syncWrites {
		if err := file.Sync(); err != nil {
			file.Close()
			return fmt.Errorf("sync journal: %w", err)
		}
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}

// ReadAll implements Log. A missing file reads as empty.
func (f *FileLog) ReadAll(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read journal: %w", err)
	}
	return string(data), nil
}

// Truncate implements Log.
func (f *FileLog) Truncate(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Truncate(f.path, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	return nil
}
