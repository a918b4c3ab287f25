// Package transfer copies a client filesystem into a snapshot with rsync,
// hard-linking unchanged files against the previous snapshot.
package transfer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"snapback/internal/snap"
)

// DefaultBinary is the rsync executable used when none is configured.
const DefaultBinary = "rsync"

// DefaultArgs preserve everything a restore needs and stay on one filesystem.
var DefaultArgs = []string{
	"--acls",
	"--archive",
	"--compress",
	"--human-readable",
	"--inplace",
	"--numeric-ids",
	"--one-file-system",
	"--quiet",
	"--sparse",
	"--stats",
	"--xattrs",
	"-F",
}

var statusText = map[int]string{
	0:  "Success",
	23: "Partial transfer due to error",
	24: "Partial transfer due to vanished source files",
}

// Describe returns a human readable meaning of an rsync exit status.
func Describe(status int) string {
	if text, ok := statusText[status]; ok {
		return text
	}
	return fmt.Sprintf("rsync exited with status %d", status)
}

// Options configures the rsync invocation.
type Options struct {
	Binary  string
	Args    []string // replaces DefaultArgs when non-empty
	Exclude []string // passed as --exclude patterns
	Shell   string   // remote shell for --rsh, "" for rsync's default
}

// Rsync is a snap.TransferAgent running one rsync process per filesystem.
type Rsync struct {
	opts   Options
	logger snap.Logger
}

var _ snap.TransferAgent = (*Rsync)(nil)

func NewRsync(opts Options, logger snap.Logger) *Rsync {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if len(opts.Args) == 0 {
		opts.Args = DefaultArgs
	}
	return &Rsync{opts: opts, logger: logger}
}

// Args returns the rsync arguments for req, without the binary.
func (r *Rsync) Args(req snap.TransferRequest) []string {
	args := append([]string(nil), r.opts.Args...)
	if r.opts.Shell != "" {
		args = append(args, "--rsh="+r.opts.Shell)
	}
	for _, pattern := range r.opts.Exclude {
		args = append(args, "--exclude="+pattern)
	}
	if req.LinkDest != "" {
		args = append(args, "--link-dest="+req.LinkDest)
	}
	if req.Delete {
		args = append(args, "--del")
	}
	source := strings.TrimSuffix(req.Source, "/") + "/"
	if req.Login != "" {
		source = req.Login + ":" + source
	}
	return append(args, "--", source, strings.TrimSuffix(req.Destination, "/")+"/")
}

// Transfer runs rsync for req. Its output is collected and logged once the
// process exits so concurrent transfers do not interleave on the terminal.
func (r *Rsync) Transfer(ctx context.Context, req snap.TransferRequest) (int, error) {
	if err := os.MkdirAll(req.Destination, 0755); err != nil {
		return 0, fmt.Errorf("creating destination: %w", err)
	}

	args := r.Args(req)
	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, r.opts.Binary, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output

	status, err := snap.ExitStatus(cmd.Run())
	if err != nil {
		return 0, fmt.Errorf("running %s: %w", r.opts.Binary, err)
	}
	out := strings.TrimSpace(output.String())
	if status != 0 {
		r.logger.Error("transfer failed", "destination", req.Destination, "status", status, "reason", Describe(status), "output", out)
	} else {
		r.logger.Info("transfer complete", "destination", req.Destination, "output", out)
	}
	return status, nil
}
