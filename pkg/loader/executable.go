package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/extinit/internal/log"
	"github.com/mattjoyce/extinit/internal/protocol"
	"github.com/mattjoyce/extinit/pkg/entrypoint"
)

const (
	// DefaultInitTimeout bounds a single executable entrypoint.
	DefaultInitTimeout = 30 * time.Second

	// maxStderrBytes caps the amount of stderr captured from an extension.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// ExecOptions configures the executable resolver.
type ExecOptions struct {
	Timeout     time.Duration
	GracePeriod time.Duration
	Logger      *slog.Logger
}

// Executable resolves "bin/tool:command" references to executables shipped
// inside a distribution. The returned Func spawns the executable, sends a
// protocol request naming the command (init by default) and waits for an ok
// response.
type Executable struct {
	timeout time.Duration
	grace   time.Duration
	logger  *slog.Logger
}

// NewExecutable creates an executable resolver.
func NewExecutable(opts ExecOptions) *Executable {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultInitTimeout
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = terminationGracePeriod
	}
	if opts.Logger == nil {
		opts.Logger = log.WithComponent("loader")
	}
	return &Executable{timeout: opts.Timeout, grace: opts.GracePeriod, logger: opts.Logger}
}

// Resolve implements Resolver. Only entries published by a distribution are
// considered, and only when the module names an existing regular file.
func (x *Executable) Resolve(ctx context.Context, ep entrypoint.EntryPoint) (Func, error) {
	if ep.Dist == nil || ep.Dist.Dir == "" || strings.HasSuffix(ep.Module(), ".so") {
		return nil, ErrUnhandled
	}
	path, err := modulePath(ep)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, ErrUnhandled
	}
	if err := validateTrust(path, ep.Dist.Dir); err != nil {
		return nil, &ExecError{Path: path, Reason: "trust validation failed", Err: err}
	}
	if err := verifyDeclared(ep, path); err != nil {
		return nil, err
	}

	command := ep.Attr()
	if command == "" {
		command = entrypoint.InitName
	}

	return func() error {
		return x.run(ctx, path, command, ep)
	}, nil
}

func (x *Executable) run(ctx context.Context, path, command string, ep entrypoint.EntryPoint) error {
	logger := log.WithExtension(x.logger, ep.Value).With("command", command)

	req := &protocol.Request{
		Protocol:   protocol.Version,
		RunID:      RunID(ctx),
		Command:    command,
		Group:      ep.Group,
		Entry:      ep.Value,
		Dist:       ep.Dist.Name,
		DistDir:    ep.Dist.Dir,
		DeadlineAt: time.Now().Add(x.timeout),
	}

	resp, stderr, err := x.spawn(ctx, path, req, logger)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &ExecError{Path: path, Reason: fmt.Sprintf("timed out after %v", x.timeout), Stderr: stderr, Err: err}
		}
		return &ExecError{Path: path, Reason: "execution failed", Stderr: stderr, Err: err}
	}

	for _, entry := range resp.Logs {
		logger.Info("extension log", "level", entry.Level, "message", entry.Message)
	}

	if !resp.OK() {
		return &ExecError{Path: path, Reason: resp.Error, Stderr: stderr}
	}
	return nil
}

// spawn starts the executable, writes the request to stdin and reads the
// response from stdout. It returns the response, captured stderr and any error.
func (x *Executable) spawn(
	ctx context.Context,
	path string,
	req *protocol.Request,
	logger *slog.Logger,
) (*protocol.Response, string, error) {
	timeoutTimer := time.NewTimer(x.timeout)
	defer timeoutTimer.Stop()

	// Termination is managed below rather than through CommandContext.
	cmd := exec.Command(path)
	cmd.Dir = filepath.Dir(path)
	cmd.WaitDelay = x.grace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning extension", "path", path, "timeout", x.timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var cancelled <-chan struct{}
	if ctx != nil {
		cancelled = ctx.Done()
	}

	select {
	case <-timeoutTimer.C:
		x.terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), context.DeadlineExceeded

	case <-cancelled:
		x.terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), ctx.Err()

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		if werr := <-writeErr; werr != nil {
			return nil, stderrStr, werr
		}

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				logger.Warn("extension exited with non-zero status", "exit_code", exitErr.ExitCode())
			} else {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
		}

		resp, rawBytes, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Debug("failed to decode extension response", "error", err, "stdout", string(rawBytes))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}
		return resp, stderrStr, nil
	}
}

// terminate sends SIGTERM, waits for the grace period, then SIGKILL.
func (x *Executable) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	logger.Warn("extension did not finish in time, sending SIGTERM")
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(x.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("extension exited after SIGTERM")
	case <-grace.C:
		logger.Warn("extension did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

// validateTrust requires the executable to live under its distribution
// directory after symlink resolution, to be executable, and the directory not
// to be world-writable.
func validateTrust(entrypointPath, distDir string) error {
	resolvedEntrypoint, err := filepath.EvalSymlinks(entrypointPath)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}
	resolvedDir, err := filepath.EvalSymlinks(distDir)
	if err != nil {
		return fmt.Errorf("failed to resolve distribution dir symlink: %w", err)
	}

	if !strings.HasPrefix(resolvedEntrypoint, resolvedDir+string(os.PathSeparator)) {
		return fmt.Errorf("entrypoint %s is not under distribution directory %s", resolvedEntrypoint, resolvedDir)
	}

	info, err := os.Stat(resolvedEntrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", resolvedEntrypoint)
	}

	dirInfo, err := os.Stat(resolvedDir)
	if err != nil {
		return fmt.Errorf("distribution directory not found: %w", err)
	}
	if dirInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("distribution directory is world-writable: %s", resolvedDir)
	}
	return nil
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
