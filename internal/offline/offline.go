// Package offline exports the latest snapshot of every host into a vault.
package offline

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"snapback/internal/archive"
	"snapback/internal/fs"
	"snapback/internal/model"
	"snapback/internal/snap"
	"snapback/internal/store"
)

// SnapshotSource lists the snapshots to export.
type SnapshotSource interface {
	LatestSnapshots() ([]store.HostSnapshot, error)
}

// Recorder stores completed exports.
type Recorder interface {
	RecordExport(e *model.Export) error
}

// Result summarizes one export pass.
type Result struct {
	Exported []model.Export
	Skipped  []string // keys that were already in the vault
	Failed   string   // key of the export that stopped the pass
}

// Exporter streams snapshot archives into a vault.
type Exporter struct {
	source    SnapshotSource
	vault     snap.Vault
	encryptor snap.Encryptor
	exclude   *fs.ExcludeMatcher
	recorder  Recorder
	clock     snap.Clock
	logger    snap.Logger
	out       io.Writer
}

// NewExporter creates an Exporter. A nil encryptor writes plaintext archives.
func NewExporter(source SnapshotSource, vault snap.Vault, encryptor snap.Encryptor, clock snap.Clock, logger snap.Logger, out io.Writer) *Exporter {
	return &Exporter{
		source:    source,
		vault:     vault,
		encryptor: encryptor,
		clock:     clock,
		logger:    logger,
		out:       out,
	}
}

// WithExclude leaves entries matching m out of every archive.
func (e *Exporter) WithExclude(m *fs.ExcludeMatcher) *Exporter {
	e.exclude = m
	return e
}

// WithRecorder records every completed export.
func (e *Exporter) WithRecorder(r Recorder) *Exporter {
	e.recorder = r
	return e
}

// Export archives each host's latest snapshot that the vault does not have
// yet. Hosts are processed in name order and the pass stops at the first
// failure.
func (e *Exporter) Export(ctx context.Context) (*Result, error) {
	snapshots, err := e.source.LatestSnapshots()
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, s := range snapshots {
		key := archive.Key(s.Host, s.Snapshot, e.encryptor)
		dest := e.vault.Name() + ":" + key

		exists, err := e.vault.HasArchive(ctx, key)
		if err != nil {
			result.Failed = key
			return result, fmt.Errorf("checking %s: %w", dest, err)
		}
		if exists {
			fmt.Fprintf(e.out, "%s already exists.  Skipping.\n", dest)
			result.Skipped = append(result.Skipped, key)
			continue
		}

		fmt.Fprintf(e.out, "Exporting %s to %s ", s.Path, dest)
		size, err := e.put(ctx, s.Path, key)
		if err != nil {
			fmt.Fprintln(e.out, "failed")
			e.logger.Error("export failed", "host", s.Host, "snapshot", s.Snapshot, "vault", e.vault.Name(), "error", err)
			result.Failed = key
			return result, fmt.Errorf("exporting %s: %w", s.Path, err)
		}
		fmt.Fprintf(e.out, "done (%s)\n", humanize.Bytes(uint64(size)))

		exp := model.Export{
			Host:       s.Host,
			Snapshot:   s.Snapshot,
			Vault:      e.vault.Name(),
			Key:        key,
			Size:       size,
			ExportedAt: e.clock.Now(),
		}
		e.logger.Info("snapshot exported", "host", s.Host, "snapshot", s.Snapshot, "vault", exp.Vault, "key", key, "size", size)
		if e.recorder != nil {
			if err := e.recorder.RecordExport(&exp); err != nil {
				e.logger.Warn("recording export failed", "key", key, "error", err)
			}
		}
		result.Exported = append(result.Exported, exp)
	}
	return result, nil
}

func (e *Exporter) put(ctx context.Context, path, key string) (int64, error) {
	w := archive.NewWriter(path, archive.Options{Exclude: e.exclude, Encryptor: e.encryptor}, e.logger)
	r := w.Stream(ctx)
	defer r.Close()

	n, err := e.vault.PutArchive(ctx, key, r)
	if err != nil {
		return 0, err
	}
	stats := w.Stats()
	e.logger.Debug("archive written", "key", key, "files", stats.Files, "links", stats.Links, "excluded", stats.Excluded, "bytes", stats.Bytes)
	return n, nil
}
