package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "nested", "extinit.pid")
	l, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	pid, ok := ReadPID(lockPath)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
	assert.Equal(t, lockPath, l.Path())
}

func TestAcquirePIDLockIsExclusive(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "extinit.pid")
	first, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)

	_, err = AcquirePIDLock(lockPath)
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "pid")

	require.NoError(t, first.Release())
	second, err := AcquirePIDLock(lockPath)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	l, err := AcquirePIDLock(filepath.Join(t.TempDir(), "extinit.pid"))
	require.NoError(t, err)
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())

	var nilLock *PIDLock
	assert.NoError(t, nilLock.Release())
}

func TestAcquirePIDLockRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := AcquirePIDLock("")
	assert.EqualError(t, err, "lock path is empty")
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "extinit.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))
	_, ok := ReadPID(path)
	assert.False(t, ok)

	_, ok = ReadPID(filepath.Join(t.TempDir(), "missing"))
	assert.False(t, ok)
}
