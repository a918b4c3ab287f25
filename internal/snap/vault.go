package snap

import (
	"context"
	"io"
)

// Vault is an offsite store for snapshot archives.
// Archives are streamed, never held in memory by callers.
type Vault interface {
	// Name is the vault's name from the configuration.
	Name() string

	// HasArchive reports whether an archive is stored under key.
	HasArchive(ctx context.Context, key string) (bool, error)

	// PutArchive stores everything read from r under key and returns the
	// number of bytes stored. A failed put leaves nothing visible under key.
	PutArchive(ctx context.Context, key string, r io.Reader) (int64, error)

	// GetArchive writes the archive stored under key to w.
	GetArchive(ctx context.Context, key string, w io.Writer) error

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
