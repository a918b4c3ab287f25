// Package store implements the on-disk snapshot layout of a backup volume:
//
//	<volume>/<host>/filesystems      filesystem list
//	<volume>/<host>/0/               staging snapshot
//	<volume>/<host>/<YYYYMMDD.HHMM>/ promoted snapshots
//	<volume>/<host>/latest           symlink to the newest promoted snapshot
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"snapback/internal/fs"
	"snapback/internal/snap"
)

const (
	// StagingName is the reserved name of the in-progress snapshot.
	StagingName = "0"
	// LatestName is the reference to the most recently promoted snapshot.
	LatestName = "latest"
	// FilesystemsFile lists what to back up for a host.
	FilesystemsFile = "filesystems"
)

// Store manages snapshot directories below one backup volume.
type Store struct {
	volume string
}

// New creates a Store rooted at volume. The volume is resolved to an
// absolute path with symlinks evaluated so containment checks compare real paths.
func New(volume string) (*Store, error) {
	abs, err := filepath.Abs(volume)
	if err != nil {
		return nil, fmt.Errorf("resolving volume: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("resolving volume: %w", err)
	}
	return &Store{volume: abs}, nil
}

// Volume returns the resolved volume root.
func (s *Store) Volume() string {
	return s.volume
}

// HostDir returns the snapshot directory for host without touching the disk.
func (s *Store) HostDir(host string) (string, error) {
	if host == "" || host == "." || host == ".." || strings.ContainsRune(host, filepath.Separator) {
		return "", &snap.Error{Kind: snap.KindPathTraversal, Scope: host, Err: errors.New("invalid host name")}
	}
	return filepath.Join(s.volume, host), nil
}

// EnsureHostDir returns the host's snapshot directory, creating it if absent.
func (s *Store) EnsureHostDir(host string) (string, error) {
	dir, err := s.HostDir(host)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating host directory: %w", err)
	}
	return dir, nil
}

// ReadFilesystems parses the host's filesystem list.
func (s *Store) ReadFilesystems(hostDir string) ([]snap.FilesystemEntry, error) {
	specs, err := fs.ReadListFile(filepath.Join(hostDir, FilesystemsFile))
	if err != nil {
		return nil, fmt.Errorf("reading filesystem list: %w", err)
	}
	return snap.ParseFilesystemEntries(specs), nil
}

// List returns the names of all promoted snapshots in hostDir in ascending
// order. Staging, latest, aliases and anything else not named like a
// timestamp are ignored.
func (s *Store) List(hostDir string) ([]string, error) {
	entries, err := os.ReadDir(hostDir)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	var names []string
	for _, e := range entries {
		// DirEntry types come from Lstat, so symlinks are not dirs here.
		if !e.IsDir() || !snap.IsTimestampName(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ResolveLast returns the newest promoted snapshot.
func (s *Store) ResolveLast(hostDir string) (string, bool, error) {
	names, err := s.List(hostDir)
	if err != nil {
		return "", false, err
	}
	if len(names) == 0 {
		return "", false, nil
	}
	return names[len(names)-1], true, nil
}

// ResolveTarget returns the directory name a run writes into. Updates write
// into last in place; otherwise a new staging directory is created, and an
// existing one is an error.
func (s *Store) ResolveTarget(hostDir string, update bool, last string) (string, error) {
	if update {
		if last == "" {
			return "", &snap.Error{Kind: snap.KindNoUpdateTarget, Scope: hostDir, Err: errors.New("no snapshot to update")}
		}
		return last, nil
	}

	staging := filepath.Join(hostDir, StagingName)
	if err := os.Mkdir(staging, 0755); err != nil {
		if os.IsExist(err) {
			return "", &snap.Error{Kind: snap.KindTargetAlreadyExists, Scope: staging}
		}
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	return StagingName, nil
}

// Destination returns hostDir/target/label after verifying that it lies
// strictly inside the target directory, and therefore inside the volume.
func (s *Store) Destination(hostDir, target, label string) (string, error) {
	targetDir := filepath.Join(hostDir, target)
	dest := filepath.Join(targetDir, label)
	if !within(s.volume, targetDir) || !within(targetDir, dest) {
		return "", &snap.Error{Kind: snap.KindPathTraversal, Scope: dest, Err: fmt.Errorf("refusing to back up outside of %s", targetDir)}
	}
	return dest, nil
}

// Promote renames target to timestamp. A single rename keeps the snapshot
// either fully staged or fully promoted. An existing timestamp is never
// overwritten.
func (s *Store) Promote(hostDir, target, timestamp string) error {
	if target == timestamp {
		return nil
	}
	if !snap.IsTimestampName(timestamp) {
		return fmt.Errorf("invalid snapshot name: %q", timestamp)
	}
	dest := filepath.Join(hostDir, timestamp)
	if _, err := os.Lstat(dest); err == nil {
		return fmt.Errorf("snapshot already exists: %s", dest)
	}
	if err := os.Rename(filepath.Join(hostDir, target), dest); err != nil {
		return fmt.Errorf("renaming snapshot: %w", err)
	}
	return nil
}

// RelinkLatest points latest at timestamp. Any previous file, symlink or
// broken symlink named latest is replaced.
func (s *Store) RelinkLatest(hostDir, timestamp string) error {
	return s.Link(hostDir, LatestName, timestamp)
}

// Link points hostDir/name at timestamp. The new link is created under a
// temporary name and renamed over the old one, so readers see either the old
// or the new target.
func (s *Store) Link(hostDir, name, timestamp string) error {
	if name == "" || name == "." || name == ".." || name == StagingName ||
		strings.ContainsRune(name, filepath.Separator) || snap.IsTimestampName(name) {
		return fmt.Errorf("invalid link name: %q", name)
	}
	if _, err := os.Stat(filepath.Join(hostDir, timestamp)); err != nil {
		return fmt.Errorf("link target: %w", err)
	}

	link := filepath.Join(hostDir, name)
	if info, err := os.Lstat(link); err == nil && info.IsDir() {
		return fmt.Errorf("refusing to replace directory %s with a link", link)
	}

	tmp := filepath.Join(hostDir, "."+name+".tmp")
	os.Remove(tmp)
	if err := os.Symlink(timestamp, tmp); err != nil {
		return fmt.Errorf("creating link: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing link: %w", err)
	}
	return nil
}

// Remove deletes a promoted snapshot recursively. Only timestamp-named
// directories can be removed.
func (s *Store) Remove(hostDir, name string) error {
	if !snap.IsTimestampName(name) {
		return fmt.Errorf("refusing to remove %q: not a snapshot", name)
	}
	if err := os.RemoveAll(filepath.Join(hostDir, name)); err != nil {
		return fmt.Errorf("removing snapshot %s: %w", name, err)
	}
	return nil
}

// within reports whether path is strictly below dir.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// Compile-time check that Store implements snap.SnapshotStore
var _ snap.SnapshotStore = (*Store)(nil)
