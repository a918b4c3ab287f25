package snap

// FilesystemState is the transient status of one filesystem during a run.
// Waiting → Running → {Complete | Failed | Skipped}.
type FilesystemState int

const (
	StateWaiting FilesystemState = iota
	StateRunning
	StateComplete
	StateFailed
	StateSkipped
)

func (s FilesystemState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can follow s.
func (s FilesystemState) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateSkipped
}

// Symbol is the glyph drawn for s in the status table.
func (s FilesystemState) Symbol() string {
	switch s {
	case StateRunning:
		return "\U0001f536"
	case StateComplete:
		return "\U000026aa"
	case StateFailed:
		return "\U0001f534"
	case StateSkipped:
		return "\U0001f535"
	default:
		return "\U000026ab"
	}
}

// Outcome is what a worker hands back to the scheduler for one filesystem.
type Outcome struct {
	Entry       FilesystemEntry
	State       FilesystemState
	Status      int    // exit status attributed to this filesystem, 0 on success
	Destination string // set once the destination passed the containment check
	Err         error
}
