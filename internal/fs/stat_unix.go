//go:build unix

package fs

import (
	"io/fs"
	"syscall"
)

// FileKey identifies a file by device and inode.
type FileKey struct {
	Dev uint64
	Ino uint64
}

// HardLinkKey returns the identity of a regular file that has more than one
// link, and false for everything else.
func HardLinkKey(info fs.FileInfo) (FileKey, bool) {
	if !info.Mode().IsRegular() {
		return FileKey{}, false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok || uint64(stat.Nlink) < 2 {
		return FileKey{}, false
	}
	return FileKey{Dev: uint64(stat.Dev), Ino: uint64(stat.Ino)}, true
}
