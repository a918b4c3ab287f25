// Package prune removes the snapshots of a host that the retention policy
// no longer keeps.
package prune

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"snapback/internal/retention"
	"snapback/internal/snap"
)

// SnapshotStore is the part of the snapshot store pruning needs.
type SnapshotStore interface {
	HostDir(host string) (string, error)
	List(hostDir string) ([]string, error)
	Remove(hostDir, name string) error
}

// Recorder persists which snapshots a purge removed.
type Recorder interface {
	RecordPrune(host string, removed []string, at time.Time) error
}

// Result is what a purge planned and did.
type Result struct {
	Host     string
	Plan     *retention.Plan
	Removed  []string
	Declined bool
}

// Executor plans and carries out purges, talking to the operator on in/out.
type Executor struct {
	store    SnapshotStore
	clock    snap.Clock
	logger   snap.Logger
	in       io.Reader
	out      io.Writer
	recorder Recorder
}

func NewExecutor(store SnapshotStore, clock snap.Clock, logger snap.Logger, in io.Reader, out io.Writer) *Executor {
	return &Executor{store: store, clock: clock, logger: logger, in: in, out: out}
}

// WithRecorder attaches a recorder for removed snapshots.
func (e *Executor) WithRecorder(r Recorder) *Executor {
	e.recorder = r
	return e
}

// Purge applies the retention policy to host, shows the plan and, once
// confirmed, removes what the policy does not keep. A snapshot that cannot be
// removed does not stop the others; all removal errors are returned joined.
func (e *Executor) Purge(host string, opts Options) (*Result, error) {
	hostDir, err := e.store.HostDir(host)
	if err != nil {
		return nil, err
	}
	names, err := e.store.List(hostDir)
	if err != nil {
		return nil, err
	}
	plan, err := retention.Apply(names, e.clock.Now())
	if err != nil {
		return nil, err
	}
	result := &Result{Host: host, Plan: plan}

	fmt.Fprintf(e.out, "Want to remove %d out of %d backups\n", len(plan.Remove), plan.Total)
	fmt.Fprintln(e.out, "Keeping: ")
	for _, name := range plan.Keep {
		fmt.Fprintf(e.out, "    %s\n", name)
	}

	if len(plan.Remove) == 0 {
		fmt.Fprintln(e.out, "Nothing to purge.")
		return result, nil
	}
	if opts.DryRun {
		fmt.Fprintln(e.out, "Dry run, nothing removed.")
		return result, nil
	}
	ok, err := Confirm(opts, e.in, e.out, "\nOK?")
	if err != nil {
		return result, fmt.Errorf("reading confirmation: %w", err)
	}
	if !ok {
		result.Declined = true
		fmt.Fprintln(e.out, "Fair enough.")
		return result, nil
	}

	var errs []error
	for _, name := range plan.Remove {
		fmt.Fprintf(e.out, "Removing %s ", filepath.Join(hostDir, name))
		if err := e.store.Remove(hostDir, name); err != nil {
			fmt.Fprintln(e.out, "failed")
			e.logger.Error("removing snapshot failed", "host", host, "snapshot", name, "error", err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintln(e.out, "done")
		e.logger.Info("snapshot removed", "host", host, "snapshot", name)
		result.Removed = append(result.Removed, name)
	}

	if e.recorder != nil && len(result.Removed) > 0 {
		if err := e.recorder.RecordPrune(host, result.Removed, e.clock.Now()); err != nil {
			e.logger.Warn("recording purge failed", "host", host, "error", err)
		}
	}
	return result, errors.Join(errs...)
}
