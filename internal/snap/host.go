package snap

import (
	"fmt"
	"strings"
)

// DefaultLabel is used when a filesystem path has no usable basename ("/").
const DefaultLabel = "root"

// Host is one machine being backed up: where its snapshots live and which
// filesystems to copy. The filesystem list is read once per run and is not
// modified while the run is in progress.
type Host struct {
	Name        string // hostname as given on the command line
	Login       string // remote login, "user@name" or just "name"
	Volume      string // backup volume root
	Filesystems []FilesystemEntry
}

// NewHost builds a Host. When user is empty the login is the bare hostname.
func NewHost(name, user, volume string, filesystems []FilesystemEntry) Host {
	login := name
	if user != "" {
		login = user + "@" + name
	}
	return Host{Name: name, Login: login, Volume: volume, Filesystems: filesystems}
}

// Validate reports filesystems that would share a destination. Each label
// names both the remote mountpoint and the snapshot subdirectory, so two
// entries with one label would mount and copy over each other.
func (h Host) Validate() error {
	seen := make(map[string]FilesystemEntry, len(h.Filesystems))
	for _, e := range h.Filesystems {
		if prev, ok := seen[e.Label]; ok {
			return fmt.Errorf("filesystems %q and %q share label %q", prev.Spec, e.Spec, e.Label)
		}
		seen[e.Label] = e
	}
	return nil
}

// FilesystemEntry is one line of a host's filesystem list: what to copy
// (Source) and the directory name to store it under (Label).
type FilesystemEntry struct {
	ID     int    // position in the host's filesystem list
	Spec   string // raw "path" or "path:label" line
	Source string
	Label  string
}

// ParseFilesystemEntry splits a "path" or "path:label" spec.
//
// Without an explicit label the label is the last element of path, or
// DefaultLabel when that is empty. An explicit label is kept verbatim so that
// escaping labels such as "../../etc" are caught by the destination
// containment check rather than silently rewritten.
func ParseFilesystemEntry(id int, spec string) FilesystemEntry {
	source, label, explicit := strings.Cut(spec, ":")
	if explicit && strings.TrimSpace(label) != "" {
		label = strings.TrimSpace(label)
	} else {
		label = basename(source)
		if label == "" {
			label = DefaultLabel
		}
		label = strings.TrimSpace(label)
	}
	return FilesystemEntry{
		ID:     id,
		Spec:   spec,
		Source: strings.TrimSpace(source),
		Label:  label,
	}
}

// ParseFilesystemEntries numbers and parses a list of specs.
func ParseFilesystemEntries(specs []string) []FilesystemEntry {
	entries := make([]FilesystemEntry, len(specs))
	for i, spec := range specs {
		entries[i] = ParseFilesystemEntry(i, spec)
	}
	return entries
}

// basename returns everything after the final slash. Unlike path.Base a
// trailing slash yields "", so "/" and "/home/" both fall back to DefaultLabel.
func basename(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
