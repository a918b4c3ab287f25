package vault

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"snapback/internal/snap"
)

// FileSystemVault is a filesystem-based implementation of the Vault interface.
// It stores archives as files below its root, one directory per host:
//
//	<root>/
//	  <host>/
//	    <timestamp>.tar.zst[.age]
type FileSystemVault struct {
	name string
	root string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}

	return &FileSystemVault{
		name: name,
		root: root,
	}, nil
}

func (v *FileSystemVault) Name() string {
	return v.name
}

func (v *FileSystemVault) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(v.root, filepath.FromSlash(key)), nil
}

// HasArchive reports whether a file exists for key.
func (v *FileSystemVault) HasArchive(ctx context.Context, key string) (bool, error) {
	p, err := v.path(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking archive: %w", err)
}

// PutArchive writes the archive using atomic write (temp file + rename).
func (v *FileSystemVault) PutArchive(ctx context.Context, key string, r io.Reader) (int64, error) {
	p, err := v.path(key)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return 0, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return v.writeFile(p, r)
}

// GetArchive writes the archive stored under key to w.
func (v *FileSystemVault) GetArchive(ctx context.Context, key string, w io.Writer) error {
	p, err := v.path(key)
	if err != nil {
		return err
	}
	return v.readFile(p, w, fmt.Sprintf("archive not found: %s", key))
}

// ValidateSetup verifies that the vault root is an accessible directory.
func (v *FileSystemVault) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}
	return nil
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func (v *FileSystemVault) writeFile(destPath string, r io.Reader) (int64, error) {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return written, nil
}

// readFile reads from the specified path and writes to w.
func (v *FileSystemVault) readFile(srcPath string, w io.Writer, notFoundMsg string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s", notFoundMsg)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	return nil
}

// Compile-time check that FileSystemVault implements snap.Vault interface
var _ snap.Vault = (*FileSystemVault)(nil)
