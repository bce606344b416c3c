package scheduler

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zesty-backup/internal/errors"
)

func TestPIDFile_WriteReadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "zesty-backup.pid")

	require.NoError(t, WritePIDFile(path))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// rewriting our own file is allowed
	require.NoError(t, WritePIDFile(path))

	require.NoError(t, RemovePIDFile(path))
	assert.NoFileExists(t, path)
	require.NoError(t, RemovePIDFile(path), "a missing file is not an error")
}

func TestPIDFile_RefusesRunningDaemon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zesty-backup.pid")
	other := os.Getppid()
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(other)+"\n"), 0o644))

	err := WritePIDFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon already running with PID "+strconv.Itoa(other))
	assert.Equal(t, 2, errors.ExitCode(err))

	require.NoError(t, RemovePIDFile(path))
	assert.FileExists(t, path, "another process's PID file is left alone")
}

func TestPIDFile_StaleFileIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zesty-backup.pid")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	_, err := ReadPIDFile(path)
	assert.Error(t, err)

	require.NoError(t, WritePIDFile(path))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestProcessRunning(t *testing.T) {
	assert.True(t, ProcessRunning(os.Getpid()))
	assert.False(t, ProcessRunning(0))
	assert.False(t, ProcessRunning(-1))
}
