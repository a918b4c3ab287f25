package remote

import (
	"context"
	"errors"
	"fmt"

	"snapback/internal/snap"
)

// TempDirSuffix marks the per-run directories this tool creates on clients.
const TempDirSuffix = ".backup"

// SSHMounter bind-mounts client filesystems below a per-run temporary
// directory, so each is copied without crossing into other mounts.
type SSHMounter struct {
	runner *Runner
}

var _ snap.Mounter = (*SSHMounter)(nil)

func NewSSHMounter(runner *Runner) *SSHMounter {
	return &SSHMounter{runner: runner}
}

func (m *SSHMounter) TempDir(ctx context.Context, login string) (string, error) {
	dir, status, err := m.runner.Output(ctx, login, "mktemp", "-d", "--suffix="+TempDirSuffix)
	if err != nil {
		return "", err
	}
	if status != 0 {
		return "", fmt.Errorf("mktemp on %s exited with status %d", login, status)
	}
	if dir == "" {
		return "", fmt.Errorf("mktemp on %s printed no directory", login)
	}
	return dir, nil
}

func (m *SSHMounter) Bind(ctx context.Context, login, source, mountpoint string) (int, error) {
	if status, err := m.runner.Run(ctx, login, "mkdir", "-p", mountpoint); err != nil || status != 0 {
		return status, err
	}
	status, err := m.runner.Run(ctx, login, "mount", "--bind", source, mountpoint)
	if err != nil || status != 0 {
		m.runner.Run(ctx, login, "rmdir", mountpoint)
		return status, err
	}
	return 0, nil
}

func (m *SSHMounter) Unbind(ctx context.Context, login, mountpoint string) error {
	var errs []error
	for _, args := range [][]string{{"umount", mountpoint}, {"rmdir", mountpoint}} {
		status, err := m.runner.Run(ctx, login, args...)
		if err == nil && status != 0 {
			err = fmt.Errorf("%s on %s exited with status %d", args[0], login, status)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *SSHMounter) RemoveDir(ctx context.Context, login, dir string) (int, error) {
	return m.runner.Run(ctx, login, "rmdir", dir)
}
