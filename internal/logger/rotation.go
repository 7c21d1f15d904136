package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// RotatingWriter appends to a file and renames it aside once it grows past
// the size limit. Writes are serialized.
type RotatingWriter struct {
	mu        sync.Mutex
	path      string
	limit     int64
	maxBackup int
	file      *os.File
	size      int64
}

// NewRotatingWriter opens path for appending. maxSizeMB <= 0 disables rotation.
func NewRotatingWriter(path string, maxSizeMB, maxBackup int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w := &RotatingWriter{
		path:      path,
		limit:     int64(maxSizeMB) * 1024 * 1024,
		maxBackup: maxBackup,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", w.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat %s: %w", w.path, err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.limit > 0 && w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the active file. Further writes fail with os.ErrClosed.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	backup := fmt.Sprintf("%s.%s", w.path, time.Now().Format("20060102-150405.000000"))
	if err := os.Rename(w.path, backup); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	w.prune()
	return w.open()
}

// prune removes the oldest backups beyond maxBackup.
func (w *RotatingWriter) prune() {
	if w.maxBackup <= 0 {
		return
	}
	backups, err := filepath.Glob(w.path + ".*")
	if err != nil || len(backups) <= w.maxBackup {
		return
	}
	// Timestamp suffixes sort chronologically.
	sort.Strings(backups)
	for _, old := range backups[:len(backups)-w.maxBackup] {
		_ = os.Remove(old)
	}
}
