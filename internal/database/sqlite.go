package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"snapback/internal/database/migrations"
	"snapback/internal/model"
	"snapback/internal/snap"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase stores run history in SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens the database at path and migrates it to the
// latest schema. path can be a file path or ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// The pool is limited to one connection: PRAGMAs are per connection, and an
// in-memory database exists only on the connection that created it.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// Run history

// RecordRun stores a finished run and its filesystem outcomes in one transaction.
func (s *SQLiteDatabase) RecordRun(report *snap.RunReport) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, host, is_update, target, snapshot, started_at, finished_at, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.Host, report.Update, report.Target, report.Snapshot,
		report.StartedAt.UTC(), report.FinishedAt.UTC(), report.Status, errorText(report.Err))
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, o := range report.Outcomes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO filesystem_results (run_id, position, spec, label, state, status, destination, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			report.ID, o.Entry.ID, o.Entry.Spec, o.Entry.Label, o.State.String(), o.Status, o.Destination, errorText(o.Err))
		if err != nil {
			return fmt.Errorf("inserting result for %s: %w", o.Entry.Label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. An empty host lists
// runs of every host.
func (s *SQLiteDatabase) ListRuns(host string, limit int) ([]*model.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, host, is_update, target, snapshot, started_at, finished_at, status, error
		FROM runs
		WHERE ? = '' OR host = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, host, host, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.Host, &r.Update, &r.Target, &r.Snapshot, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// FindFilesystemResults returns the outcomes of a run in list order.
func (s *SQLiteDatabase) FindFilesystemResults(runID string) ([]*model.FilesystemResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, position, spec, label, state, status, destination, error
		FROM filesystem_results
		WHERE run_id = ?
		ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("finding filesystem results: %w", err)
	}
	defer rows.Close()

	var results []*model.FilesystemResult
	for rows.Next() {
		var r model.FilesystemResult
		if err := rows.Scan(&r.RunID, &r.Position, &r.Spec, &r.Label, &r.State, &r.Status, &r.Destination, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning filesystem result: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finding filesystem results: %w", err)
	}
	return results, nil
}

// LastSuccess returns when host last finished a run with status 0, and
// false if it never has.
func (s *SQLiteDatabase) LastSuccess(host string) (time.Time, bool, error) {
	var finished time.Time
	err := s.db.QueryRow(`
		SELECT finished_at FROM runs
		WHERE host = ? AND status = 0
		ORDER BY finished_at DESC
		LIMIT 1`, host).Scan(&finished)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("finding last success: %w", err)
	}
	return finished, true, nil
}

// HostSummaries returns the latest recorded state of every host with a run
// or a purge, ordered by host.
func (s *SQLiteDatabase) HostSummaries() ([]*model.HostSummary, error) {
	rows, err := s.db.Query(`
		SELECT host FROM runs
		UNION
		SELECT host FROM pruned_snapshots
		ORDER BY host`)
	if err != nil {
		return nil, fmt.Errorf("listing hosts: %w", err)
	}
	var hosts []string
	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning host: %w", err)
		}
		hosts = append(hosts, host)
	}
	// The pool has one connection; release it before the per-host queries.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing hosts: %w", err)
	}

	summaries := make([]*model.HostSummary, 0, len(hosts))
	for _, host := range hosts {
		sum, err := s.hostSummary(host)
		if err != nil {
			return nil, fmt.Errorf("summarizing %s: %w", host, err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

func (s *SQLiteDatabase) hostSummary(host string) (*model.HostSummary, error) {
	sum := &model.HostSummary{Host: host, Filesystems: make(map[string]int)}

	runs, err := s.ListRuns(host, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 1 {
		sum.LastRun = runs[0]
		if err := s.countStates(runs[0].ID, sum.Filesystems); err != nil {
			return nil, err
		}
	}

	at, ok, err := s.LastSuccess(host)
	if err != nil {
		return nil, err
	}
	if ok {
		sum.LastSuccess = at
	}

	err = s.db.QueryRow(`
		SELECT removed_at, COUNT(*) FROM pruned_snapshots
		WHERE host = ?
		GROUP BY removed_at
		ORDER BY removed_at DESC
		LIMIT 1`, host).Scan(&sum.LastPruneAt, &sum.LastPruned)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("finding last purge: %w", err)
	}
	return sum, nil
}

func (s *SQLiteDatabase) countStates(runID string, counts map[string]int) error {
	rows, err := s.db.Query(`
		SELECT state, COUNT(*) FROM filesystem_results
		WHERE run_id = ?
		GROUP BY state`, runID)
	if err != nil {
		return fmt.Errorf("counting filesystem states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return fmt.Errorf("scanning filesystem state: %w", err)
		}
		counts[state] = n
	}
	return rows.Err()
}

// Purges

// RecordPrune stores the snapshots a purge removed.
func (s *SQLiteDatabase) RecordPrune(host string, removed []string, at time.Time) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, name := range removed {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO pruned_snapshots (host, snapshot, removed_at)
			VALUES (?, ?, ?)`, host, name, at.UTC())
		if err != nil {
			return fmt.Errorf("inserting pruned snapshot %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListPrunes returns the snapshots removed from host, most recent first.
func (s *SQLiteDatabase) ListPrunes(host string) ([]*model.PrunedSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT host, snapshot, removed_at FROM pruned_snapshots
		WHERE host = ?
		ORDER BY removed_at DESC, snapshot DESC`, host)
	if err != nil {
		return nil, fmt.Errorf("listing prunes: %w", err)
	}
	defer rows.Close()

	var pruned []*model.PrunedSnapshot
	for rows.Next() {
		var p model.PrunedSnapshot
		if err := rows.Scan(&p.Host, &p.Snapshot, &p.RemovedAt); err != nil {
			return nil, fmt.Errorf("scanning pruned snapshot: %w", err)
		}
		pruned = append(pruned, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing prunes: %w", err)
	}
	return pruned, nil
}

// Offline exports

// RecordExport stores an archive written to a vault.
func (s *SQLiteDatabase) RecordExport(e *model.Export) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO exports (host, snapshot, vault, key, size, exported_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Host, e.Snapshot, e.Vault, e.Key, e.Size, e.ExportedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording export: %w", err)
	}
	return nil
}

// ListExports returns the archives written to vault, most recent first.
func (s *SQLiteDatabase) ListExports(vault string) ([]*model.Export, error) {
	rows, err := s.db.Query(`
		SELECT host, snapshot, vault, key, size, exported_at FROM exports
		WHERE vault = ?
		ORDER BY exported_at DESC, key`, vault)
	if err != nil {
		return nil, fmt.Errorf("listing exports: %w", err)
	}
	defer rows.Close()

	var exports []*model.Export
	for rows.Next() {
		var e model.Export
		if err := rows.Scan(&e.Host, &e.Snapshot, &e.Vault, &e.Key, &e.Size, &e.ExportedAt); err != nil {
			return nil, fmt.Errorf("scanning export: %w", err)
		}
		exports = append(exports, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing exports: %w", err)
	}
	return exports, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ snap.RunRecorder = (*SQLiteDatabase)(nil)
