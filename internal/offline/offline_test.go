package offline_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"snapback/internal/model"
	"snapback/internal/offline"
	"snapback/internal/snap"
	"snapback/internal/store"
	"snapback/internal/testutil"
	"snapback/internal/vault"
)

// newVolume creates hosts with a promoted latest snapshot each.
func newVolume(t *testing.T, latest map[string]string) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for host, ts := range latest {
		dir, err := s.EnsureHostDir(host)
		if err != nil {
			t.Fatal(err)
		}
		snapDir := filepath.Join(dir, ts, "home")
		if err := os.MkdirAll(snapDir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(snapDir, "file.txt"), []byte(host), 0644); err != nil {
			t.Fatal(err)
		}
		if err := s.RelinkLatest(dir, ts); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

type recorder struct {
	exports []*model.Export
}

func (r *recorder) RecordExport(e *model.Export) error {
	r.exports = append(r.exports, e)
	return nil
}

// failingVault refuses to store one key.
type failingVault struct {
	*vault.MemoryVault
	failKey string
}

func (v *failingVault) PutArchive(ctx context.Context, key string, r io.Reader) (int64, error) {
	if key == v.failKey {
		return 0, errors.New("disk full")
	}
	return v.MemoryVault.PutArchive(ctx, key, r)
}

func TestExporter_Export(t *testing.T) {
	ctx := context.Background()

	t.Run("exports every host in name order", func(t *testing.T) {
		s := newVolume(t, map[string]string{"web01": "20240115.0900", "db01": "20240115.0800"})
		v := vault.NewMemoryVault("offsite")
		rec := &recorder{}
		var out bytes.Buffer

		res, err := offline.NewExporter(s, v, nil, testutil.FixedClock(), snap.NewNopLogger(), &out).
			WithRecorder(rec).
			Export(ctx)
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}

		want := "db01/20240115.0800.tar.zst,web01/20240115.0900.tar.zst"
		if got := strings.Join(v.Keys(), ","); got != want {
			t.Errorf("vault keys = %s, want %s", got, want)
		}
		if len(res.Exported) != 2 || res.Exported[0].Host != "db01" {
			t.Errorf("Exported = %+v", res.Exported)
		}
		if len(rec.exports) != 2 {
			t.Fatalf("recorded %d exports, want 2", len(rec.exports))
		}
		if rec.exports[0].Size <= 0 || rec.exports[0].Vault != "offsite" {
			t.Errorf("recorded export = %+v", rec.exports[0])
		}
		if !rec.exports[0].ExportedAt.Equal(testutil.FixedClock().Now()) {
			t.Errorf("ExportedAt = %v", rec.exports[0].ExportedAt)
		}
		if !strings.Contains(out.String(), "Exporting ") || !strings.Contains(out.String(), "done (") {
			t.Errorf("output = %q", out.String())
		}
	})

	t.Run("skips archives already in the vault", func(t *testing.T) {
		s := newVolume(t, map[string]string{"db01": "20240115.0800", "web01": "20240115.0900"})
		v := vault.NewMemoryVault("offsite")
		if _, err := v.PutArchive(ctx, "db01/20240115.0800.tar.zst", strings.NewReader("old")); err != nil {
			t.Fatal(err)
		}
		var out bytes.Buffer

		res, err := offline.NewExporter(s, v, nil, testutil.FixedClock(), snap.NewNopLogger(), &out).Export(ctx)
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}

		if len(res.Skipped) != 1 || res.Skipped[0] != "db01/20240115.0800.tar.zst" {
			t.Errorf("Skipped = %v", res.Skipped)
		}
		if len(res.Exported) != 1 || res.Exported[0].Host != "web01" {
			t.Errorf("Exported = %+v", res.Exported)
		}
		if !strings.Contains(out.String(), "offsite:db01/20240115.0800.tar.zst already exists.  Skipping.") {
			t.Errorf("output = %q", out.String())
		}

		var buf bytes.Buffer
		if err := v.GetArchive(ctx, "db01/20240115.0800.tar.zst", &buf); err != nil || buf.String() != "old" {
			t.Errorf("existing archive overwritten: %q, %v", buf.String(), err)
		}
	})

	t.Run("stops at first failure", func(t *testing.T) {
		s := newVolume(t, map[string]string{"a01": "20240115.0800", "b01": "20240115.0800", "c01": "20240115.0800"})
		v := &failingVault{MemoryVault: vault.NewMemoryVault("offsite"), failKey: "b01/20240115.0800.tar.zst"}
		var out bytes.Buffer

		res, err := offline.NewExporter(s, v, nil, testutil.FixedClock(), snap.NewNopLogger(), &out).Export(ctx)
		if err == nil {
			t.Fatal("Export() expected error")
		}
		if res.Failed != "b01/20240115.0800.tar.zst" {
			t.Errorf("Failed = %q", res.Failed)
		}
		if got := strings.Join(v.Keys(), ","); got != "a01/20240115.0800.tar.zst" {
			t.Errorf("vault keys = %s, want only a01", got)
		}
		if !strings.Contains(out.String(), "failed") {
			t.Errorf("output = %q", out.String())
		}
	})

	t.Run("no hosts", func(t *testing.T) {
		s := newVolume(t, nil)
		v := vault.NewMemoryVault("offsite")

		res, err := offline.NewExporter(s, v, nil, testutil.FixedClock(), snap.NewNopLogger(), io.Discard).Export(ctx)
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		if len(res.Exported) != 0 || len(res.Skipped) != 0 {
			t.Errorf("result = %+v", res)
		}
	})
}
