// Package remote runs commands on backup clients over ssh and implements
// the bind-mount staging used while their filesystems are copied.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"snapback/internal/snap"
)

// DefaultBinary is the ssh client used when none is configured.
const DefaultBinary = "ssh"

// Runner executes commands on a remote login through an ssh client.
type Runner struct {
	binary  string
	options []string
	stderr  io.Writer
	logger  snap.Logger
}

// NewRunner creates a Runner. options are passed to the client before the
// login, e.g. "-o", "BatchMode=yes". Remote stderr goes to stderr.
func NewRunner(binary string, options []string, stderr io.Writer, logger snap.Logger) *Runner {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Runner{binary: binary, options: options, stderr: stderr, logger: logger}
}

// Shell returns the client invocation for tools that take a remote shell
// command, such as rsync's --rsh.
func (r *Runner) Shell() string {
	return strings.Join(append([]string{r.binary}, r.options...), " ")
}

func (r *Runner) command(ctx context.Context, login string, args []string) (*exec.Cmd, error) {
	if login == "" || strings.HasPrefix(login, "-") {
		return nil, fmt.Errorf("invalid remote login %q", login)
	}
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	argv := append(append([]string(nil), r.options...), login, strings.Join(quoted, " "))
	return exec.CommandContext(ctx, r.binary, argv...), nil
}

// Run executes args on login and returns the remote exit status. The error
// is non-nil only when the client could not be started.
func (r *Runner) Run(ctx context.Context, login string, args ...string) (int, error) {
	cmd, err := r.command(ctx, login, args)
	if err != nil {
		return 0, err
	}
	cmd.Stdout = r.stderr
	cmd.Stderr = r.stderr
	status, err := snap.ExitStatus(cmd.Run())
	r.logger.Debug("remote command", "login", login, "args", args, "status", status)
	return status, err
}

// Output executes args on login and returns its trimmed standard output.
func (r *Runner) Output(ctx context.Context, login string, args ...string) (string, int, error) {
	cmd, err := r.command(ctx, login, args)
	if err != nil {
		return "", 0, err
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = r.stderr
	status, err := snap.ExitStatus(cmd.Run())
	r.logger.Debug("remote command", "login", login, "args", args, "status", status)
	return strings.TrimSpace(stdout.String()), status, err
}

// shellQuote quotes v for the remote login shell, which re-parses the
// command line ssh sends it.
func shellQuote(v string) string {
	if v != "" && strings.IndexFunc(v, needsQuote) < 0 {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", `'"'"'`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:@,+", r)
}
