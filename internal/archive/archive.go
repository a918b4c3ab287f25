// Package archive streams a snapshot tree as a zstd-compressed tar archive,
// optionally encrypted, for export to an offline vault, and unpacks such
// archives on restore.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"snapback/internal/fs"
	"snapback/internal/snap"
)

// Extension is the suffix of an unencrypted archive key.
const Extension = ".tar.zst"

// Options control what goes into an archive and how it is sealed.
type Options struct {
	// Exclude leaves matching entries (and directories below them) out.
	Exclude *fs.ExcludeMatcher
	// Encryptor encrypts the compressed stream. nil writes plaintext.
	Encryptor snap.Encryptor
}

// Stats counts what a Writer put into an archive.
type Stats struct {
	Files    int
	Dirs     int
	Links    int // hard links written as link entries
	Symlinks int
	Excluded int
	Bytes    int64 // uncompressed file content
}

// Writer archives one directory tree.
type Writer struct {
	root   string
	opts   Options
	logger snap.Logger
	stats  Stats
}

// NewWriter creates a Writer for the tree rooted at root.
func NewWriter(root string, opts Options, logger snap.Logger) *Writer {
	return &Writer{root: root, opts: opts, logger: logger}
}

// Stats returns the counts of the last completed write.
func (w *Writer) Stats() Stats {
	return w.stats
}

// Stream returns a reader producing the archive. Archiving runs in a
// goroutine; any failure surfaces as the reader's error. The caller must
// read to EOF or Close the reader.
func (w *Writer) Stream(ctx context.Context) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(w.Write(ctx, pw))
	}()
	return pr
}

// Write writes the archive to out.
func (w *Writer) Write(ctx context.Context, out io.Writer) error {
	if w.opts.Encryptor == nil {
		return w.compress(ctx, out)
	}

	pr, pw := io.Pipe()
	encErr := make(chan error, 1)
	go func() {
		err := w.opts.Encryptor.Encrypt(pr, out)
		// Unblock the compressor if encryption stopped reading early.
		pr.CloseWithError(err)
		encErr <- err
	}()

	compressErr := w.compress(ctx, pw)
	pw.CloseWithError(compressErr)
	err := <-encErr

	if compressErr != nil {
		return compressErr
	}
	if err != nil {
		return fmt.Errorf("encrypting archive: %w", err)
	}
	return nil
}

func (w *Writer) compress(ctx context.Context, out io.Writer) error {
	zw, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	tw := tar.NewWriter(zw)
	if err := w.writeTree(ctx, tw); err != nil {
		zw.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return fmt.Errorf("finalizing tar archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing zstd stream: %w", err)
	}
	return nil
}

func (w *Writer) writeTree(ctx context.Context, tw *tar.Writer) error {
	w.stats = Stats{}
	seen := make(map[fs.FileKey]string)

	return filepath.WalkDir(w.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		if w.opts.Exclude.Match(name) {
			w.stats.Excluded++
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSocket != 0 {
			w.logger.Debug("skipping socket", "path", path)
			return nil
		}

		return w.writeEntry(tw, path, name, info, seen)
	})
}

func (w *Writer) writeEntry(tw *tar.Writer, path, name string, info iofs.FileInfo, seen map[fs.FileKey]string) error {
	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return fmt.Errorf("reading symlink %s: %w", path, err)
		}
		link = target
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("creating tar header for %s: %w", path, err)
	}
	hdr.Name = name
	hdr.Format = tar.FormatPAX

	if key, ok := fs.HardLinkKey(info); ok {
		if first, dup := seen[key]; dup {
			hdr.Typeflag = tar.TypeLink
			hdr.Linkname = first
			hdr.Size = 0
			w.stats.Links++
			return tw.WriteHeader(hdr)
		}
		seen[key] = name
	}

	switch {
	case info.IsDir():
		hdr.Name += "/"
		w.stats.Dirs++
	case link != "":
		w.stats.Symlinks++
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	n, err := io.Copy(tw, f)
	if err != nil {
		return fmt.Errorf("archiving %s: %w", path, err)
	}
	w.stats.Files++
	w.stats.Bytes += n
	return nil
}

// Key returns the vault key of a host's snapshot archive.
func Key(host, snapshot string, enc snap.Encryptor) string {
	key := host + "/" + snapshot + Extension
	if enc != nil {
		key += enc.Extension()
	}
	return key
}
