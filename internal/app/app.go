package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"snapback/internal/config"
	"snapback/internal/database"
	"snapback/internal/encryption"
	"snapback/internal/fs"
	"snapback/internal/hooks"
	"snapback/internal/metrics"
	"snapback/internal/model"
	"snapback/internal/offline"
	"snapback/internal/prune"
	"snapback/internal/remote"
	"snapback/internal/snap"
	"snapback/internal/store"
	"snapback/internal/transfer"
	"snapback/internal/vault"
)

// Streams are the terminal the CLI talks to.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// StdStreams returns the process's standard streams.
func StdStreams() Streams {
	return Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// App is the application layer between the CLI and the snapshot packages.
// It constructs all dependencies from config, exposes the CLI operations,
// and closes the history database and log file on Close.
type App struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	store   *store.Store
	metrics *metrics.Textfile
	logger  snap.Logger
	logFile *os.File
	clock   snap.Clock
	idgen   snap.IDGenerator
	streams Streams
	op      *Operation
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Backup", "Purge").
// The caller must call Close when done.
func NewApp(cfg *config.Config, operation string, parameters []string, streams Streams) (*App, error) {
	st, err := store.New(cfg.Volume)
	if err != nil {
		return nil, fmt.Errorf("opening backup volume: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	clock := snap.RealClock{}
	opID := clock.Now().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, streams.Err)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &App{
		cfg:     cfg,
		db:      db,
		store:   st,
		logger:  &slogAdapter{l: logger},
		logFile: logFile,
		clock:   clock,
		idgen:   snap.UUIDGenerator{},
		streams: streams,
		op:      NewOperation(opID, operation, strings.Join(parameters, " ")),
	}
	if cfg.Metrics.TextfilePath != "" {
		a.metrics = metrics.NewTextfile(cfg.Metrics.TextfilePath)
	}
	a.logger.Info("operation started", "operation", operation, "parameters", a.op.Parameters, "volume", st.Volume())
	return a, nil
}

// Status returns the worst exit status observed so far.
func (a *App) Status() int {
	return a.op.Status
}

// BackupOptions are the per-invocation settings of a backup.
type BackupOptions struct {
	Update bool
	Jobs   int
	Random bool
	Link   string
	User   string
}

// Backup runs one backup per host, in order. A failing host does not stop
// the hosts after it; every host-level error is returned joined.
func (a *App) Backup(ctx context.Context, hosts []string, opts BackupOptions) error {
	runner := remote.NewRunner(a.cfg.SSH.Binary, a.cfg.SSH.Options, a.streams.Err, a.logger)
	rsync := transfer.NewRsync(transfer.Options{
		Binary:  a.cfg.Rsync.Binary,
		Args:    a.cfg.Rsync.Args,
		Exclude: a.cfg.Rsync.Exclude,
		Shell:   runner.Shell(),
	}, a.logger)
	hookRunner := hooks.NewExecRunner(a.store.Volume(), a.streams.Out, a.streams.Err, a.logger)

	sched := snap.NewScheduler(a.store, hookRunner, remote.NewSSHMounter(runner), rsync,
		a.logger, a.clock, a.idgen, a.streams.Out, a.interactive()).
		WithRecorder(a.db)

	runOpts := snap.RunOptions{Update: opts.Update, Jobs: opts.Jobs, Random: opts.Random, Link: opts.Link}

	var errs []error
	for i, name := range hosts {
		if i > 0 {
			fmt.Fprintln(a.streams.Out)
		}
		fmt.Fprintln(a.streams.Out, name)

		host, err := a.loadHost(name, opts.User)
		if err != nil {
			a.op.Observe(1)
			a.logger.Error("loading host failed", "host", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		report, err := sched.Run(ctx, host, runOpts)
		a.op.Observe(report.Status)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	fmt.Fprintln(a.streams.Out, "done")

	a.writeMetrics()
	return errors.Join(errs...)
}

func (a *App) loadHost(name, user string) (snap.Host, error) {
	hostDir, err := a.store.EnsureHostDir(name)
	if err != nil {
		return snap.Host{}, err
	}
	entries, err := a.store.ReadFilesystems(hostDir)
	if err != nil {
		return snap.Host{}, err
	}
	if len(entries) == 0 {
		return snap.Host{}, fmt.Errorf("no filesystems listed in %s/%s", hostDir, store.FilesystemsFile)
	}
	return snap.NewHost(name, user, a.store.Volume(), entries), nil
}

// Purge removes the snapshots of host that retention no longer keeps.
func (a *App) Purge(host string, opts prune.Options) error {
	if !opts.Yes && !opts.DryRun && !a.canPrompt() {
		a.op.Observe(1)
		return fmt.Errorf("refusing to purge %s without a terminal to confirm on; use --yes", host)
	}

	exec := prune.NewExecutor(a.store, a.clock, a.logger, a.streams.In, a.streams.Out).
		WithRecorder(a.db)

	_, err := exec.Purge(host, opts)
	if err != nil {
		a.op.Observe(1)
	}
	a.writeMetrics()
	return err
}

// Offline exports the latest snapshot of every host to the named vault.
func (a *App) Offline(ctx context.Context, vaultName string) error {
	vcfg, err := a.cfg.Vault(vaultName)
	if err != nil {
		a.op.Observe(1)
		return err
	}
	v, err := vault.NewVaultFromConfig(ctx, vcfg)
	if err != nil {
		a.op.Observe(1)
		return fmt.Errorf("creating vault: %w", err)
	}
	if err := v.ValidateSetup(ctx); err != nil {
		a.op.Observe(1)
		return fmt.Errorf("vault %s: %w", vaultName, err)
	}

	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		a.op.Observe(1)
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if !enc.IsConfigured() {
		a.op.Observe(1)
		return fmt.Errorf("encryption keys not found; run `snapback config keygen` first")
	}

	exporter := offline.NewExporter(a.store, v, enc, a.clock, a.logger, a.streams.Out).
		WithExclude(fs.NewExcludeMatcher(a.cfg.Offline.Exclude)).
		WithRecorder(a.db)

	if _, err := exporter.Export(ctx); err != nil {
		a.op.Observe(1)
		return err
	}
	return nil
}

// History returns the most recent backup runs, newest first.
func (a *App) History(host string, limit int) ([]*model.Run, error) {
	return a.db.ListRuns(host, limit)
}

// RunDetails returns the per-filesystem results of a run.
func (a *App) RunDetails(runID string) ([]*model.FilesystemResult, error) {
	return a.db.FindFilesystemResults(runID)
}

// Close logs the outcome of the operation and releases the database and log file.
func (a *App) Close() error {
	a.logger.Info("operation finished", "operation", a.op.Operation, "status", a.op.Status)

	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// writeMetrics rewrites the textfile from the history database, so hosts
// not touched by this operation keep their series.
func (a *App) writeMetrics() {
	if a.metrics == nil {
		return
	}
	hosts, err := a.db.HostSummaries()
	if err != nil {
		a.logger.Warn("loading metrics from history failed", "error", err)
		return
	}
	a.metrics.Load(hosts)
	if err := a.metrics.Write(); err != nil {
		a.logger.Warn("writing metrics failed", "path", a.cfg.Metrics.TextfilePath, "error", err)
	}
}

// interactive reports whether the status table can redraw in place.
func (a *App) interactive() bool {
	f, ok := a.streams.Out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// canPrompt reports whether a confirmation can be read. Readers that are
// not files (tests, pipes set up by callers) are trusted to answer.
func (a *App) canPrompt() bool {
	f, ok := a.streams.In.(*os.File)
	return !ok || term.IsTerminal(int(f.Fd()))
}

// Keygen generates the age key pair for offline archives and returns the
// public key.
func Keygen(cfg config.EncryptionConfig, passphrase string) (string, error) {
	e := encryption.NewAgeEncryptor(cfg)
	if err := e.Setup(passphrase); err != nil {
		return "", err
	}
	return e.Recipient()
}
