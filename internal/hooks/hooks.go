// Package hooks runs the optional lifecycle scripts kept at the root of a
// backup volume: pre-host, post-host, pre-filesystem and post-filesystem.
package hooks

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"snapback/internal/snap"
)

// Hook names, which are also the script file names.
const (
	PreHost        = "pre-host"
	PostHost       = "post-host"
	PreFilesystem  = "pre-filesystem"
	PostFilesystem = "post-filesystem"
)

// ExecRunner runs hooks found in dir. A hook that is missing, is not a
// regular file or is not executable counts as a success.
type ExecRunner struct {
	dir    string
	stdout io.Writer
	stderr io.Writer
	logger snap.Logger
}

var _ snap.HookRunner = (*ExecRunner)(nil)

// NewExecRunner creates a runner for the hooks in dir. Hook output goes to
// stdout and stderr.
func NewExecRunner(dir string, stdout, stderr io.Writer, logger snap.Logger) *ExecRunner {
	return &ExecRunner{dir: dir, stdout: stdout, stderr: stderr, logger: logger}
}

// Lookup returns the resolved path of hook name if it would run.
func (r *ExecRunner) Lookup(name string) (string, bool) {
	path, err := filepath.EvalSymlinks(filepath.Join(r.dir, name))
	if err != nil {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	if unix.Access(path, unix.X_OK) != nil {
		return "", false
	}
	return path, true
}

func (r *ExecRunner) PreHost(ctx context.Context, login, volume string) (int, error) {
	return r.run(ctx, PreHost, login, volume)
}

func (r *ExecRunner) PostHost(ctx context.Context, login, volume string) (int, error) {
	return r.run(ctx, PostHost, login, volume)
}

func (r *ExecRunner) PreFilesystem(ctx context.Context, login, volume, spec string, update bool) (int, error) {
	return r.run(ctx, PreFilesystem, login, volume, spec, snap.YesNo(update))
}

func (r *ExecRunner) PostFilesystem(ctx context.Context, login, volume, spec string, update bool, destination string) (int, error) {
	return r.run(ctx, PostFilesystem, login, volume, spec, snap.YesNo(update), destination)
}

func (r *ExecRunner) run(ctx context.Context, name string, args ...string) (int, error) {
	path, ok := r.Lookup(name)
	if !ok {
		return 0, nil
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	status, err := snap.ExitStatus(cmd.Run())
	if err != nil {
		r.logger.Error("hook could not be run", "hook", name, "path", path, "error", err)
		return 1, err
	}
	if status != 0 {
		r.logger.Warn("hook failed", "hook", name, "args", args, "status", status)
	} else {
		r.logger.Debug("hook ran", "hook", name, "args", args)
	}
	return status, nil
}
