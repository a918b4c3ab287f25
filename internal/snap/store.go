package snap

// SnapshotStore is the scheduler's view of a host's snapshot directory.
type SnapshotStore interface {
	// EnsureHostDir returns the host's snapshot directory, creating it if needed.
	EnsureHostDir(host string) (string, error)

	// ResolveLast returns the newest promoted snapshot, if any.
	ResolveLast(hostDir string) (string, bool, error)

	// ResolveTarget returns the directory name the run writes into: last for
	// updates, otherwise a freshly created staging directory.
	ResolveTarget(hostDir string, update bool, last string) (string, error)

	// Destination returns the path for label inside target, rejecting any
	// label that would leave the target directory.
	Destination(hostDir, target, label string) (string, error)

	// Promote renames target to timestamp in a single rename.
	Promote(hostDir, target, timestamp string) error

	// RelinkLatest points the latest reference at timestamp.
	RelinkLatest(hostDir, timestamp string) error

	// Link points an additional named reference at timestamp.
	Link(hostDir, name, timestamp string) error
}

// RunRecorder persists the report of a finished run.
type RunRecorder interface {
	RecordRun(report *RunReport) error
}
