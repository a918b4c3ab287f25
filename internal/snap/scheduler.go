package snap

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultJobs is the worker pool size when none is configured.
const DefaultJobs = 1

// RunOptions controls one host's backup run.
type RunOptions struct {
	Update bool   // update the last snapshot in place instead of staging a new one
	Jobs   int    // worker pool size
	Random bool   // shuffle filesystem order
	Link   string // extra reference name pointing at the promoted snapshot
}

// RunReport is the result of one host's run.
type RunReport struct {
	ID         string
	Host       string
	Update     bool
	Target     string // directory written into: StagingName or the last snapshot
	Snapshot   string // promoted timestamp, "" if the run never got that far
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome // indexed by FilesystemEntry.ID
	Status     int       // worst exit status of the run
	Err        error     // host-level failure, if any
}

// Scheduler drives a host's filesystems through their lifecycle on a
// bounded worker pool, then promotes the result.
type Scheduler struct {
	store    SnapshotStore
	hooks    HookRunner
	mounter  Mounter
	transfer TransferAgent
	recorder RunRecorder
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	out      io.Writer
	inline   bool
	shuffle  func([]FilesystemEntry)
}

// NewScheduler creates a Scheduler with the provided dependencies. Status
// tables are drawn on out; inline selects in-place redraw for terminals.
func NewScheduler(store SnapshotStore, hooks HookRunner, mounter Mounter, transfer TransferAgent, logger Logger, clock Clock, idgen IDGenerator, out io.Writer, inline bool) *Scheduler {
	return &Scheduler{
		store:    store,
		hooks:    hooks,
		mounter:  mounter,
		transfer: transfer,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		out:      out,
		inline:   inline,
		shuffle: func(entries []FilesystemEntry) {
			rand.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
		},
	}
}

// WithRecorder attaches a recorder that receives every finished report.
func (s *Scheduler) WithRecorder(r RunRecorder) *Scheduler {
	s.recorder = r
	return s
}

// run carries the per-run context shared read-only by all workers.
type run struct {
	host    Host
	hostDir string
	target  string
	last    string
	update  bool
	tempDir string
	board   *StatusBoard
}

// Run backs up every filesystem of host. Filesystem failures are isolated
// and reported in the returned report; the error is non-nil only for
// host-level failures (hooks, preconditions, promotion).
func (s *Scheduler) Run(ctx context.Context, host Host, opts RunOptions) (*RunReport, error) {
	report := &RunReport{
		ID:        s.idgen.New(),
		Host:      host.Name,
		Update:    opts.Update,
		StartedAt: s.clock.Now(),
	}
	err := s.run(ctx, host, opts, report)
	report.FinishedAt = s.clock.Now()
	if err != nil {
		report.Err = err
		report.Status = max(report.Status, StatusOf(err))
		s.logger.Error("backup run failed", "host", host.Name, "run", report.ID, "error", err)
	} else {
		s.logger.Info("backup run finished", "host", host.Name, "run", report.ID, "snapshot", report.Snapshot, "status", report.Status)
	}
	if s.recorder != nil {
		if rerr := s.recorder.RecordRun(report); rerr != nil {
			s.logger.Warn("recording run failed", "run", report.ID, "error", rerr)
		}
	}
	return report, err
}

func (s *Scheduler) run(ctx context.Context, host Host, opts RunOptions, report *RunReport) error {
	if err := host.Validate(); err != nil {
		return err
	}

	hostDir, err := s.store.EnsureHostDir(host.Name)
	if err != nil {
		return fmt.Errorf("preparing host directory: %w", err)
	}

	status, err := s.hooks.PreHost(ctx, host.Login, host.Volume)
	if err := hookError("pre-host", status, err); err != nil {
		return err
	}

	tempDir, err := s.mounter.TempDir(ctx, host.Login)
	if err != nil {
		return fmt.Errorf("creating remote temporary directory: %w", err)
	}

	last, _, err := s.store.ResolveLast(hostDir)
	if err != nil {
		s.removeTempDir(ctx, host, tempDir)
		return fmt.Errorf("resolving last snapshot: %w", err)
	}
	target, err := s.store.ResolveTarget(hostDir, opts.Update, last)
	if err != nil {
		s.removeTempDir(ctx, host, tempDir)
		return err
	}
	report.Target = target
	s.logger.Info("backup run started", "host", host.Name, "run", report.ID, "target", target, "last", last, "update", opts.Update)

	r := &run{
		host:    host,
		hostDir: hostDir,
		target:  target,
		last:    last,
		update:  opts.Update,
		tempDir: tempDir,
		board:   NewStatusBoard(s.out, host.Filesystems, s.inline),
	}
	report.Outcomes = s.fanOut(ctx, r, opts)
	for _, o := range report.Outcomes {
		report.Status = max(report.Status, o.Status)
	}
	report.Status = max(report.Status, s.removeTempDir(ctx, host, tempDir))

	timestamp := FormatTimestamp(s.clock.Now())
	if target != timestamp && last != "" && timestamp <= last {
		return fmt.Errorf("snapshot %s would not be newer than last snapshot %s", timestamp, last)
	}
	if err := s.store.Promote(hostDir, target, timestamp); err != nil {
		return fmt.Errorf("promoting %s to %s: %w", target, timestamp, err)
	}
	report.Snapshot = timestamp
	if err := s.store.RelinkLatest(hostDir, timestamp); err != nil {
		return fmt.Errorf("linking latest: %w", err)
	}
	if opts.Link != "" {
		if err := s.store.Link(hostDir, opts.Link, timestamp); err != nil {
			return fmt.Errorf("linking %s: %w", opts.Link, err)
		}
	}

	status, err = s.hooks.PostHost(ctx, host.Login, host.Volume)
	return hookError("post-host", status, err)
}

// fanOut runs every filesystem on a pool of opts.Jobs workers. Workers never
// return an error to the group, so one failure does not cancel its siblings.
func (s *Scheduler) fanOut(ctx context.Context, r *run, opts RunOptions) []Outcome {
	entries := append([]FilesystemEntry(nil), r.host.Filesystems...)
	if opts.Random {
		s.shuffle(entries)
	}
	jobs := opts.Jobs
	if jobs < 1 {
		jobs = DefaultJobs
	}

	outcomes := make([]Outcome, len(entries))
	r.board.Start()

	var g errgroup.Group
	g.SetLimit(jobs)
	for _, entry := range entries {
		g.Go(func() error {
			outcomes[entry.ID] = s.backupFilesystem(ctx, r, entry)
			return nil
		})
	}
	g.Wait()
	r.board.Close()

	return outcomes
}

// backupFilesystem takes one filesystem from Waiting to a terminal state.
func (s *Scheduler) backupFilesystem(ctx context.Context, r *run, entry FilesystemEntry) Outcome {
	host := r.host
	status, err := s.hooks.PreFilesystem(ctx, host.Login, host.Volume, entry.Spec, r.update)
	if herr := hookError("pre-filesystem", status, err); herr != nil {
		r.board.Update(entry, StateSkipped)
		s.logger.Info("filesystem skipped", "host", host.Name, "filesystem", entry.Spec, "status", StatusOf(herr))
		return Outcome{Entry: entry, State: StateSkipped, Status: StatusOf(herr), Err: herr}
	}

	r.board.Update(entry, StateRunning)
	fail := func(err error) Outcome {
		r.board.Update(entry, StateFailed)
		s.logger.Error("filesystem failed", "host", host.Name, "filesystem", entry.Spec, "error", err)
		return Outcome{Entry: entry, State: StateFailed, Status: StatusOf(err), Err: err}
	}

	// The label also names the remote mountpoint, so it is checked before
	// anything is mounted.
	destination, err := s.store.Destination(r.hostDir, r.target, entry.Label)
	if err != nil {
		return fail(err)
	}

	mountpoint := path.Join(r.tempDir, entry.Label)
	status, err = s.mounter.Bind(ctx, host.Login, entry.Source, mountpoint)
	if err != nil || status != 0 {
		return fail(&Error{Kind: KindMountFailure, Scope: entry.Source, Status: status, Err: err})
	}
	unbind := func() {
		if err := s.mounter.Unbind(ctx, host.Login, mountpoint); err != nil {
			s.logger.Warn("unmounting failed", "host", host.Name, "mountpoint", mountpoint, "error", err)
		}
	}

	req := TransferRequest{
		Login:       host.Login,
		Source:      mountpoint,
		Destination: destination,
		Delete:      r.update,
	}
	if r.last != "" {
		req.LinkDest = filepath.Join(r.hostDir, r.last, entry.Label)
	}
	status, err = s.transfer.Transfer(ctx, req)
	unbind()
	if err != nil || status != 0 {
		o := fail(&Error{Kind: KindTransferFailure, Scope: entry.Label, Status: status, Err: err})
		o.Destination = destination
		return o
	}

	r.board.Update(entry, StateComplete)
	status, err = s.hooks.PostFilesystem(ctx, host.Login, host.Volume, entry.Spec, r.update, destination)
	if herr := hookError("post-filesystem", status, err); herr != nil {
		return Outcome{Entry: entry, State: StateComplete, Status: StatusOf(herr), Destination: destination, Err: herr}
	}
	return Outcome{Entry: entry, State: StateComplete, Destination: destination}
}

func (s *Scheduler) removeTempDir(ctx context.Context, host Host, dir string) int {
	status, err := s.mounter.RemoveDir(ctx, host.Login, dir)
	if err != nil {
		s.logger.Warn("removing remote temporary directory failed", "host", host.Name, "dir", dir, "error", err)
		return 1
	}
	if status != 0 {
		s.logger.Warn("removing remote temporary directory failed", "host", host.Name, "dir", dir, "status", status)
	}
	return status
}

// hookError turns a hook result into a HookFailure, or nil on success.
func hookError(name string, status int, err error) error {
	if err == nil && status == 0 {
		return nil
	}
	if status == 0 {
		status = 1
	}
	return &Error{Kind: KindHookFailure, Scope: name, Status: status, Err: err}
}
