package model

import "time"

// Run is one host's backup run as recorded in the history database.
type Run struct {
	ID         string // UUID
	Host       string
	Update     bool
	Target     string // directory written into: "0" or the updated snapshot
	Snapshot   string // promoted timestamp, empty if the run never promoted
	StartedAt  time.Time
	FinishedAt time.Time
	Status     int    // worst exit status of the run
	Error      string // host-level failure, empty on success
}

// FilesystemResult is the terminal outcome of one filesystem within a run.
type FilesystemResult struct {
	RunID       string // Foreign key to Run
	Position    int    // index in the host's filesystem list
	Spec        string // raw filesystem list line
	Label       string
	State       string // complete, failed or skipped
	Status      int
	Destination string
	Error       string
}

// PrunedSnapshot records a snapshot removed by a purge.
type PrunedSnapshot struct {
	Host      string
	Snapshot  string
	RemovedAt time.Time
}

// Export records a snapshot archived to an offline vault.
type Export struct {
	Host       string
	Snapshot   string
	Vault      string
	Key        string
	Size       int64 // archive size in bytes
	ExportedAt time.Time
}

// HostSummary is the latest recorded state of one host.
type HostSummary struct {
	Host        string
	LastRun     *Run           // nil if the host was never backed up
	Filesystems map[string]int // final state -> count in LastRun
	LastSuccess time.Time      // zero if no run ever succeeded
	LastPruneAt time.Time      // zero if the host was never purged
	LastPruned  int            // snapshots removed by the purge at LastPruneAt
}
