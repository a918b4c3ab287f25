package snap

import "context"

// Mounter prepares the remote side of a transfer: a per-run temporary
// directory and one bind mount of each source below it.
type Mounter interface {
	// TempDir creates the per-run temporary directory on the remote host.
	TempDir(ctx context.Context, login string) (string, error)

	// Bind creates mountpoint and bind-mounts source onto it. A non-zero
	// status means nothing is left mounted.
	Bind(ctx context.Context, login, source, mountpoint string) (int, error)

	// Unbind unmounts and removes mountpoint.
	Unbind(ctx context.Context, login, mountpoint string) error

	// RemoveDir removes the (empty) per-run temporary directory.
	RemoveDir(ctx context.Context, login, dir string) (int, error)
}

// TransferRequest describes one incremental copy.
type TransferRequest struct {
	Login       string // remote login the source is read through
	Source      string // remote path, normally the bind mountpoint
	Destination string // local snapshot path
	LinkDest    string // previous snapshot's copy of this label, "" for none
	Delete      bool   // remove extraneous files (update runs)
}

// TransferAgent performs the byte-level copy and reports the tool's exit
// status. A non-nil error means the tool could not be started.
type TransferAgent interface {
	Transfer(ctx context.Context, req TransferRequest) (int, error)
}
