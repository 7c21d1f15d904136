package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	line := []byte(strings.Repeat("x", 400*1024) + "\n")
	for i := 0; i < 8; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	backups, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.NotEmpty(t, backups)
	assert.LessOrEqual(t, len(backups), 2)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(1024*1024))
}

func TestRotatingWriterDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	w, err := NewRotatingWriter(path, 0, 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := w.Write([]byte("line\n"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	backups, _ := filepath.Glob(path + ".*")
	assert.Empty(t, backups)
}

func TestRotatingWriterClosed(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "app.log"), 1, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
