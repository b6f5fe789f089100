package loader

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/extinit/internal/integrity"
	internallog "github.com/mattjoyce/extinit/internal/log"
	"github.com/mattjoyce/extinit/pkg/entrypoint"
)

func quietExecutable(timeout time.Duration) *Executable {
	var buf bytes.Buffer
	return NewExecutable(ExecOptions{
		Timeout:     timeout,
		GracePeriod: 100 * time.Millisecond,
		Logger:      internallog.New(&buf, "debug", "json"),
	})
}

func distEntry(t *testing.T, script string, mode os.FileMode) (entrypoint.EntryPoint, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bin", "setup.sh")
	writeFile(t, path, script, mode)
	e := ep("bin/setup.sh:init")
	e.Dist = &entrypoint.Distribution{Name: "demo", Version: "1.0.0", Dir: dir}
	return e, path
}

func TestExecutableOK(t *testing.T) {
	dir := t.TempDir()
	reqPath := filepath.Join(dir, "request.json")
	script := "#!/bin/sh\ncat > " + reqPath + "\necho '{\"status\":\"ok\",\"logs\":[{\"level\":\"info\",\"message\":\"ready\"}]}'\n"
	e, _ := distEntry(t, script, 0o755)

	ctx := WithRunID(context.Background(), "run-42")
	fn, err := quietExecutable(5*time.Second).Resolve(ctx, e)
	require.NoError(t, err)
	require.NoError(t, fn())

	data, err := os.ReadFile(reqPath)
	require.NoError(t, err)
	req := string(data)
	assert.Contains(t, req, `"command":"init"`)
	assert.Contains(t, req, `"run_id":"run-42"`)
	assert.Contains(t, req, `"entry":"bin/setup.sh:init"`)
	assert.Contains(t, req, `"dist":"demo"`)
}

func TestExecutableDefaultsCommandToInit(t *testing.T) {
	dir := t.TempDir()
	reqPath := filepath.Join(dir, "request.json")
	script := "#!/bin/sh\ncat > " + reqPath + "\necho '{\"status\":\"ok\"}'\n"
	e, _ := distEntry(t, script, 0o755)
	e.Value = "bin/setup.sh"

	fn, err := quietExecutable(5*time.Second).Resolve(context.Background(), e)
	require.NoError(t, err)
	require.NoError(t, fn())

	data, err := os.ReadFile(reqPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"command":"init"`)
}

func TestExecutableErrorStatus(t *testing.T) {
	script := "#!/bin/sh\ncat >/dev/null\necho '{\"status\":\"error\",\"error\":\"missing codec\"}'\n"
	e, path := distEntry(t, script, 0o755)

	fn, err := quietExecutable(5*time.Second).Resolve(context.Background(), e)
	require.NoError(t, err)

	err = fn()
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "missing codec", execErr.Reason)
	assert.Equal(t, path, execErr.Path)
}

func TestExecutableBadOutput(t *testing.T) {
	script := "#!/bin/sh\ncat >/dev/null\necho 'not json' \necho 'oops' >&2\nexit 3\n"
	e, _ := distEntry(t, script, 0o755)

	fn, err := quietExecutable(5*time.Second).Resolve(context.Background(), e)
	require.NoError(t, err)

	err = fn()
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Stderr, "oops")
	assert.Contains(t, err.Error(), "decode response")
}

func TestExecutableTimeout(t *testing.T) {
	script := "#!/bin/sh\nexec sleep 10\n"
	e, _ := distEntry(t, script, 0o755)

	fn, err := quietExecutable(200*time.Millisecond).Resolve(context.Background(), e)
	require.NoError(t, err)

	start := time.Now()
	err = fn()
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestExecutableNotExecutable(t *testing.T) {
	e, _ := distEntry(t, "#!/bin/sh\n", 0o644)

	_, err := quietExecutable(time.Second).Resolve(context.Background(), e)
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.True(t, strings.Contains(err.Error(), "not executable"), err.Error())
}

func TestExecutableChecksumMismatch(t *testing.T) {
	e, path := distEntry(t, "#!/bin/sh\ncat >/dev/null\necho '{\"status\":\"ok\"}'\n", 0o755)
	good, err := integrity.ComputeBlake3Hash(path)
	require.NoError(t, err)

	e.Dist.Checksums = map[string]string{"bin/setup.sh": good}
	_, err = quietExecutable(time.Second).Resolve(context.Background(), e)
	require.NoError(t, err)

	e.Dist.Checksums["bin/setup.sh"] = strings.Repeat("0", 64)
	_, err = quietExecutable(time.Second).Resolve(context.Background(), e)
	var integErr *IntegrityError
	assert.ErrorAs(t, err, &integErr)
}

func TestExecutableUnhandled(t *testing.T) {
	x := quietExecutable(time.Second)

	_, err := x.Resolve(context.Background(), ep("pkgA:setup"))
	assert.ErrorIs(t, err, ErrUnhandled, "no distribution")

	e := ep("bin/missing.sh:init")
	e.Dist = &entrypoint.Distribution{Dir: t.TempDir()}
	_, err = x.Resolve(context.Background(), e)
	assert.ErrorIs(t, err, ErrUnhandled, "missing file")

	so := ep("lib/ext.so:Init")
	so.Dist = e.Dist
	_, err = x.Resolve(context.Background(), so)
	assert.ErrorIs(t, err, ErrUnhandled, "shared objects belong to SharedObject")
}

func TestTruncateStderr(t *testing.T) {
	long := strings.Repeat("x", maxStderrBytes+10)
	assert.Len(t, truncateStderr(long), maxStderrBytes)
	assert.Equal(t, "short", truncateStderr("short"))
}
