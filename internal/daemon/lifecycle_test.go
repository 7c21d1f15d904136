package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	cfg := testConfig(t)
	d := createTestDaemon(t, cfg, Options{})

	lm := NewLifecycleManager(d)
	assert.Equal(t, d, lm.daemon)
	assert.Equal(t, filepath.Join(cfg.DataDir, "stepwise.pid"), lm.PIDFile())
}

func TestLifecycleManagerStartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataDir = filepath.Join(cfg.DataDir, "nested")
	d := createTestDaemon(t, cfg, Options{})
	lm := NewLifecycleManager(d)

	require.NoError(t, lm.Start())

	pid, err := ReadPIDFile(lm.PIDFile())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// restarting in the same process is allowed
	require.NoError(t, lm.Start())

	require.NoError(t, lm.Stop())
	_, err = os.Stat(lm.PIDFile())
	assert.True(t, os.IsNotExist(err))

	// stopping twice is harmless
	assert.NoError(t, lm.Stop())
}

func TestLifecycleManagerRejectsLiveOwner(t *testing.T) {
	cfg := testConfig(t)
	d := createTestDaemon(t, cfg, Options{})
	lm := NewLifecycleManager(d)

	// the parent process is alive and is not us
	require.NoError(t, os.WriteFile(lm.PIDFile(), []byte(strconv.Itoa(os.Getppid())), 0o644))
	assert.ErrorIs(t, lm.Start(), ErrAlreadyRunning)
}

func TestLifecycleManagerReplacesStalePID(t *testing.T) {
	cfg := testConfig(t)
	d := createTestDaemon(t, cfg, Options{})
	lm := NewLifecycleManager(d)

	require.NoError(t, os.WriteFile(lm.PIDFile(), []byte("999999999"), 0o644))
	require.NoError(t, lm.Start())
	defer lm.Stop()

	pid, err := ReadPIDFile(lm.PIDFile())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPIDFile(filepath.Join(dir, "none.pid"))
	assert.True(t, os.IsNotExist(err))

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("abc"), 0o644))
	_, err = ReadPIDFile(bad)
	assert.Error(t, err)

	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte("42\n"), 0o644))
	pid, err := ReadPIDFile(good)
	require.NoError(t, err)
	assert.Equal(t, 42, pid)
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(0))
	assert.False(t, ProcessAlive(-1))
}
