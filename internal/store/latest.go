package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"snapback/internal/snap"
)

// HostSnapshot names one host's latest promoted snapshot.
type HostSnapshot struct {
	Host     string
	Snapshot string
	Path     string
}

// LatestSnapshots returns, for every host directory in the volume that has a
// latest link to an existing snapshot, the snapshot it points to. Hosts are sorted by name.
func (s *Store) LatestSnapshots() ([]HostSnapshot, error) {
	entries, err := os.ReadDir(s.volume)
	if err != nil {
		return nil, fmt.Errorf("listing volume: %w", err)
	}

	var out []HostSnapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		hostDir := filepath.Join(s.volume, e.Name())
		link := filepath.Join(hostDir, LatestName)
		info, err := os.Lstat(link)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		dest, err := os.Readlink(link)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", link, err)
		}
		name := filepath.Base(dest)
		if !snap.IsTimestampName(name) {
			continue
		}
		path := filepath.Join(hostDir, name)
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			// dangling latest
			continue
		}
		out = append(out, HostSnapshot{
			Host:     e.Name(),
			Snapshot: name,
			Path:     path,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out, nil
}
