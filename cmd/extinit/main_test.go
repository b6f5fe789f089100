package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/extinit/internal/doctor"
	"github.com/mattjoyce/extinit/internal/inspect"
	"github.com/mattjoyce/extinit/internal/storage"
	"github.com/mattjoyce/extinit/pkg/entrypoint"
	"github.com/mattjoyce/extinit/pkg/extinit"
	"github.com/mattjoyce/extinit/pkg/loader"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	stderrR, stderrW, err := os.Pipe()
	require.NoError(t, err)

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

// runCaptured runs the CLI as a fresh process would, with the process-wide
// Initializer back at Uninitialized.
func runCaptured(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	extinit.Default().Reset()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion, origCommit, origBuildDate := version, gitCommit, buildDate
	version, gitCommit, buildDate = v, commit, built
	t.Cleanup(func() {
		version, gitCommit, buildDate = origVersion, origCommit, origBuildDate
	})
}

// workspace is a config file plus a plugin root holding two distributions:
// "tools" ships an executable hook that records each call, "broken" names an
// in-process module this binary never registers.
type workspace struct {
	dir    string
	config string
	marker string
}

func newWorkspace(t *testing.T, extraConfig string) workspace {
	t.Helper()
	dir := t.TempDir()
	marker := filepath.Join(dir, "calls.log")

	tools := filepath.Join(dir, "plugins", "tools")
	require.NoError(t, os.MkdirAll(filepath.Join(tools, "bin"), 0o755))
	script := "#!/bin/sh\ncat >/dev/null\necho called >> " + marker + "\necho '{\"status\":\"ok\"}'\n"
	require.NoError(t, os.WriteFile(filepath.Join(tools, "bin", "setup.sh"), []byte(script), 0o755))
	writeFile(t, filepath.Join(tools, "manifest.yaml"), `manifest_spec: extinit.dist
manifest_version: 1
name: tools
version: 2.0.0
entry_points:
  extinit_extensions:
    init: bin/setup.sh
`)

	broken := filepath.Join(dir, "plugins", "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	writeFile(t, filepath.Join(broken, "manifest.yaml"), `manifest_spec: extinit.dist
manifest_version: 1
name: broken
version: 0.1.0
entry_points:
  extinit_extensions:
    init: missing_pkg:setup
  other_group:
    init: never:called
`)

	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, "plugin_roots: [./plugins]\ncatalog:\n  path: ./data/catalog.db\n"+extraConfig)
	return workspace{dir: dir, config: cfgPath, marker: marker}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (w workspace) calls(t *testing.T) int {
	t.Helper()
	data, err := os.ReadFile(w.marker)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "called")
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.4.0", "0123456789abcdef0123", "2026-03-01T10:20:30+10:00")

	code, stdout, stderr := runCaptured(t, "version", "--json")
	require.Equal(t, 0, code, stderr)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "0123456789ab", info.Commit)
	assert.Equal(t, "2026-03-01T00:20:30Z", info.BuildTime)
}

func TestRunVersionRejectsArgs(t *testing.T) {
	code, _, stderr := runCaptured(t, "version", "extra")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: extinit version")
}

func TestRunCLIDispatch(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		stdout   string
		stderr   string
	}{
		{name: "no args", args: nil, wantCode: 1, stdout: "Usage:"},
		{name: "help", args: []string{"help"}, wantCode: 0, stdout: "entrypoints list"},
		{name: "unknown", args: []string{"bogus"}, wantCode: 1, stderr: "Unknown command: bogus"},
		{name: "config noun help", args: []string{"config", "help"}, wantCode: 0, stdout: "lock, check, get, show"},
		{name: "catalog missing action", args: []string{"catalog"}, wantCode: 1, stderr: "sync, status"},
		{name: "unknown entrypoints action", args: []string{"entrypoints", "drop"}, wantCode: 1, stderr: "Unknown entrypoints action"},
		{name: "init help", args: []string{"init", "--help"}, wantCode: 0, stdout: "--strict"},
		{name: "bad flag", args: []string{"init", "--nope"}, wantCode: 1, stderr: "Flag error"},
		{name: "watch help", args: []string{"watch", "--help"}, wantCode: 0, stdout: "--api-url"},
		{name: "watch bad flag", args: []string{"watch", "--nope"}, wantCode: 1, stderr: "Flag error"},
		{name: "watch stray arg", args: []string{"watch", "extra"}, wantCode: 1, stderr: "Usage: extinit watch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCaptured(t, tt.args...)
			assert.Equal(t, tt.wantCode, code)
			if tt.stdout != "" {
				assert.Contains(t, stdout, tt.stdout)
			}
			if tt.stderr != "" {
				assert.Contains(t, stderr, tt.stderr)
			}
		})
	}
}

func TestEntryPointsListJSON(t *testing.T) {
	ws := newWorkspace(t, "")

	code, stdout, stderr := runCaptured(t, "entrypoints", "list", "--config", ws.config, "--json")
	require.Equal(t, 0, code, stderr)

	var report inspect.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, entrypoint.DefaultGroup, report.Group)
	require.Len(t, report.Entries, 2)

	byValue := map[string]inspect.Entry{}
	for _, e := range report.Entries {
		byValue[e.Value] = e
	}
	assert.Equal(t, inspect.KindExecutable, byValue["bin/setup.sh"].Kind)
	assert.Equal(t, "tools", byValue["bin/setup.sh"].Dist)
	assert.Equal(t, inspect.KindInProcess, byValue["missing_pkg:setup"].Kind)
	assert.Zero(t, ws.calls(t), "listing must not run anything")

	code, stdout, _ = runCaptured(t, "entrypoints", "list", "--config", ws.config, "--group", "other_group")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "never:called")
}

func TestInitRunsExtensionsAndReportsFailures(t *testing.T) {
	ws := newWorkspace(t, "")

	code, stdout, stderr := runCaptured(t, "init", "--config", ws.config, "--json")
	require.Equal(t, 0, code, stderr)

	var res extinit.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, []string{"bin/setup.sh"}, res.Loaded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "missing_pkg:setup", res.Failed[0].Value)
	assert.Equal(t, "NotFoundError", res.Failed[0].Kind)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, ws.calls(t))
	assert.Contains(t, stderr, "Extension 'missing_pkg:setup' failed to load")

	code, _, _ = runCaptured(t, "init", "--config", ws.config, "--strict")
	assert.Equal(t, 2, code)
	assert.Equal(t, 2, ws.calls(t))
}

var reentryCalls atomic.Int32

func init() {
	_ = loader.Register("clireentry:setup", func(ctx context.Context) error {
		reentryCalls.Add(1)
		res, err := extinit.InitAll(ctx)
		if err != nil {
			return err
		}
		if !res.Skipped {
			return errors.New("nested InitAll ran extensions again")
		}
		return nil
	})
	_ = extinit.Registry.Register("cli_reentry", entrypoint.InitName, "clireentry:setup")
}

func TestInitIsReentrantFromExtension(t *testing.T) {
	ws := newWorkspace(t, "extensions:\n  group: cli_reentry\n")
	reentryCalls.Store(0)

	code, stdout, stderr := runCaptured(t, "init", "--config", ws.config, "--json")
	require.Equal(t, 0, code, stderr)

	var res extinit.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, []string{"clireentry:setup"}, res.Loaded)
	assert.Empty(t, res.Failed)
	assert.Equal(t, int32(1), reentryCalls.Load())
	assert.Equal(t, extinit.Initialized, extinit.Default().State())
}

func TestInitRefusedOnceProcessInitialized(t *testing.T) {
	ws := newWorkspace(t, "")

	code, _, stderr := runCaptured(t, "init", "--config", ws.config)
	require.Equal(t, 0, code, stderr)

	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"init", "--config", ws.config})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "already initialized")
	assert.Equal(t, 1, ws.calls(t))
}

func TestInitTableOutput(t *testing.T) {
	ws := newWorkspace(t, "extensions:\n  sorted: true\n")

	code, stdout, stderr := runCaptured(t, "init", "--config", ws.config)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Initialized 1/2 extension(s)")
	assert.Contains(t, stdout, "NotFoundError")
}

func TestCatalogSyncThenServeFromCatalog(t *testing.T) {
	ws := newWorkspace(t, "  enabled: true\n")

	code, stdout, stderr := runCaptured(t, "catalog", "sync", "--config", ws.config, "--json")
	require.Equal(t, 0, code, stderr)
	var stats storage.SyncStats
	require.NoError(t, json.Unmarshal([]byte(stdout), &stats))
	assert.Equal(t, storage.SyncStats{Distributions: 2, EntryPoints: 3}, stats)

	code, stdout, _ = runCaptured(t, "catalog", "status", "--config", ws.config)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Entry points: 3")

	// New distributions are invisible until the next sync.
	extra := filepath.Join(ws.dir, "plugins", "late")
	require.NoError(t, os.MkdirAll(extra, 0o755))
	writeFile(t, filepath.Join(extra, "manifest.yaml"),
		"manifest_spec: extinit.dist\nmanifest_version: 1\nname: late\nentry_points:\n  extinit_extensions:\n    init: late:setup\n")

	code, stdout, _ = runCaptured(t, "entrypoints", "list", "--config", ws.config, "--json")
	require.Equal(t, 0, code)
	var report inspect.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Len(t, report.Entries, 2)
}

func TestCatalogStatusWithoutSync(t *testing.T) {
	ws := newWorkspace(t, "")
	code, _, stderr := runCaptured(t, "catalog", "status", "--config", ws.config)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "run 'extinit catalog sync'")
}

func TestConfigGetAndShowRedactToken(t *testing.T) {
	t.Setenv("EXTINIT_TEST_CLI_TOKEN", "hunter2")
	ws := newWorkspace(t, "api:\n  token: ${EXTINIT_TEST_CLI_TOKEN}\n")

	code, stdout, stderr := runCaptured(t, "config", "get", "extensions.group", "--config", ws.config)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "extinit_extensions\n", stdout)

	code, stdout, _ = runCaptured(t, "config", "get", "--config", ws.config, "api.token")
	require.Equal(t, 0, code)
	assert.Equal(t, redacted+"\n", stdout)

	code, stdout, _ = runCaptured(t, "config", "show", "--config", ws.config)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "# source: "+ws.config)
	assert.NotContains(t, stdout, "hunter2")

	code, _, stderr = runCaptured(t, "config", "get", "--config", ws.config)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: extinit config get")
}

func TestConfigLockDryRunWritesNothing(t *testing.T) {
	ws := newWorkspace(t, "")

	code, stdout, stderr := runCaptured(t, "config", "lock", "--config", ws.config, "--dry-run")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Would lock 1 file(s)")
	_, err := os.Stat(filepath.Join(ws.dir, ".checksums"))
	assert.True(t, os.IsNotExist(err))

	code, stdout, _ = runCaptured(t, "config", "lock", "--config", ws.config)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Locked 1 file(s)")

	// A locked config still loads; an edited one does not.
	code, _, _ = runCaptured(t, "config", "get", "extensions.name", "--config", ws.config)
	require.Equal(t, 0, code)
	writeFile(t, ws.config, "plugin_roots: [./elsewhere]\n")
	code, _, stderr = runCaptured(t, "config", "get", "extensions.name", "--config", ws.config)
	assert.Equal(t, 1, code)
	assert.NotEmpty(t, stderr)
}

func TestDoctorReportsProblems(t *testing.T) {
	ws := newWorkspace(t, "")

	code, stdout, stderr := runCaptured(t, "doctor", "--config", ws.config, "--json")
	require.Equal(t, 0, code, stderr)
	var result doctor.Result
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.True(t, result.Valid)
	assert.Equal(t, 2, result.Distributions)
	assert.Equal(t, 2, result.EntryPoints)
	require.NotEmpty(t, result.Warnings)

	require.NoError(t, os.Chmod(filepath.Join(ws.dir, "plugins", "tools", "bin", "setup.sh"), 0o644))
	code, stdout, _ = runCaptured(t, "config", "check", "--config", ws.config)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "is not executable")
}

func TestDoctorInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, "service:\n  log_level: loud\n")

	code, stdout, _ := runCaptured(t, "doctor", "--config", cfgPath, "--json")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, `"category": "config"`)
}
