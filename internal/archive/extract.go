package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"snapback/internal/snap"
)

// Extract unpacks the zstd-compressed tar archive read from r into dest,
// which must be missing or empty. Entries that would land outside dest are
// refused. Symlinks are created after every other entry, so nothing is
// written through a link taken from the archive.
func Extract(ctx context.Context, r io.Reader, dest string, logger snap.Logger) (Stats, error) {
	var stats Stats
	if err := prepareDest(dest); err != nil {
		return stats, err
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	var symlinks []*tar.Header
	tr := tar.NewReader(zr)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("reading tar archive: %w", err)
		}

		target, err := localPath(dest, hdr.Name)
		if err != nil {
			return stats, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()|0o700); err != nil {
				return stats, fmt.Errorf("creating %s: %w", target, err)
			}
			stats.Dirs++
		case tar.TypeReg:
			n, err := extractFile(tr, target, hdr)
			if err != nil {
				return stats, err
			}
			stats.Files++
			stats.Bytes += n
		case tar.TypeLink:
			first, err := localPath(dest, hdr.Linkname)
			if err != nil {
				return stats, err
			}
			if err := os.Link(first, target); err != nil {
				return stats, fmt.Errorf("linking %s: %w", hdr.Name, err)
			}
			stats.Links++
		case tar.TypeSymlink:
			symlinks = append(symlinks, hdr)
		default:
			logger.Debug("skipping archive entry", "name", hdr.Name, "type", string(hdr.Typeflag))
		}
	}

	for _, hdr := range symlinks {
		target, _ := localPath(dest, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return stats, fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
		}
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return stats, fmt.Errorf("creating symlink %s: %w", hdr.Name, err)
		}
		stats.Symlinks++
	}

	// Consume the rest of the stream so the producer sees EOF.
	if _, err := io.Copy(io.Discard, zr); err != nil {
		return stats, fmt.Errorf("reading zstd stream: %w", err)
	}
	return stats, nil
}

func prepareDest(dest string) error {
	entries, err := os.ReadDir(dest)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(dest, 0o755)
	}
	if err != nil {
		return fmt.Errorf("reading destination: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("destination %s is not empty", dest)
	}
	return nil
}

// localPath joins an archive name to dest, refusing names that leave it.
func localPath(dest, name string) (string, error) {
	rel := filepath.FromSlash(strings.TrimSuffix(name, "/"))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("archive entry %q escapes the destination", name)
	}
	return filepath.Join(dest, rel), nil
}

func extractFile(r io.Reader, target string, hdr *tar.Header) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, hdr.FileInfo().Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", target, err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return n, fmt.Errorf("writing %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("writing %s: %w", target, err)
	}
	if err := os.Chtimes(target, hdr.ModTime, hdr.ModTime); err != nil {
		return n, fmt.Errorf("setting times of %s: %w", target, err)
	}
	return n, nil
}
