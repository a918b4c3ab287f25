package prune_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"snapback/internal/prune"
	"snapback/internal/snap"
	"snapback/internal/store"
	"snapback/internal/testutil"
)

// Against FixedClock (2024-01-15 10:30) the policy keeps 20240115.0900
// (recent) and 20240110.2000 (latest of that day), and drops 20240110.0800.
var snapshots = []string{"20240110.0800", "20240110.2000", "20240115.0900"}

func setup(t *testing.T, names ...string) (*store.Store, string) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	hostDir, err := st.EnsureHostDir("host1")
	if err != nil {
		t.Fatalf("EnsureHostDir() error = %v", err)
	}
	for _, name := range names {
		if err := os.MkdirAll(filepath.Join(hostDir, name, "home"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return st, hostDir
}

type recorder struct {
	host    string
	removed []string
}

func (r *recorder) RecordPrune(host string, removed []string, _ time.Time) error {
	r.host = host
	r.removed = removed
	return nil
}

func TestExecutor_Purge(t *testing.T) {
	t.Run("removes after confirmation", func(t *testing.T) {
		t.Parallel()
		st, hostDir := setup(t, snapshots...)
		var out bytes.Buffer
		rec := &recorder{}
		ex := prune.NewExecutor(st, testutil.FixedClock(), snap.NewNopLogger(), strings.NewReader("y\n"), &out).WithRecorder(rec)

		result, err := ex.Purge("host1", prune.Options{})
		if err != nil {
			t.Fatalf("Purge() error = %v", err)
		}
		if want := []string{"20240110.0800"}; !reflect.DeepEqual(result.Removed, want) {
			t.Errorf("Removed = %v, want %v", result.Removed, want)
		}
		if _, err := os.Stat(filepath.Join(hostDir, "20240110.0800")); !os.IsNotExist(err) {
			t.Error("purged snapshot still on disk")
		}
		for _, name := range []string{"20240110.2000", "20240115.0900"} {
			if _, err := os.Stat(filepath.Join(hostDir, name)); err != nil {
				t.Errorf("kept snapshot %s missing: %v", name, err)
			}
		}

		text := out.String()
		for _, want := range []string{
			"Want to remove 1 out of 3 backups\n",
			"Keeping: \n    20240110.2000\n    20240115.0900\n",
			"OK? [y/N] ",
			"Removing " + filepath.Join(hostDir, "20240110.0800") + " done\n",
		} {
			if !strings.Contains(text, want) {
				t.Errorf("output missing %q:\n%s", want, text)
			}
		}
		if rec.host != "host1" || !reflect.DeepEqual(rec.removed, result.Removed) {
			t.Errorf("recorder got %q %v", rec.host, rec.removed)
		}
	})

	t.Run("declining keeps everything", func(t *testing.T) {
		t.Parallel()
		st, hostDir := setup(t, snapshots...)
		var out bytes.Buffer
		ex := prune.NewExecutor(st, testutil.FixedClock(), snap.NewNopLogger(), strings.NewReader("n\n"), &out)

		result, err := ex.Purge("host1", prune.Options{})
		if err != nil {
			t.Fatalf("Purge() error = %v", err)
		}
		if !result.Declined || len(result.Removed) != 0 {
			t.Errorf("result = %+v, want declined with nothing removed", result)
		}
		if !strings.Contains(out.String(), "Fair enough.") {
			t.Errorf("output = %q, want decline message", out.String())
		}
		if _, err := os.Stat(filepath.Join(hostDir, "20240110.0800")); err != nil {
			t.Error("snapshot removed without confirmation")
		}
	})

	t.Run("empty input declines", func(t *testing.T) {
		t.Parallel()
		st, _ := setup(t, snapshots...)
		ex := prune.NewExecutor(st, testutil.FixedClock(), snap.NewNopLogger(), strings.NewReader(""), &bytes.Buffer{})

		result, err := ex.Purge("host1", prune.Options{})
		if err != nil {
			t.Fatalf("Purge() error = %v", err)
		}
		if !result.Declined {
			t.Error("EOF on input should decline")
		}
	})

	t.Run("yes skips the prompt", func(t *testing.T) {
		t.Parallel()
		st, _ := setup(t, snapshots...)
		var out bytes.Buffer
		ex := prune.NewExecutor(st, testutil.FixedClock(), snap.NewNopLogger(), strings.NewReader(""), &out)

		result, err := ex.Purge("host1", prune.Options{Yes: true})
		if err != nil {
			t.Fatalf("Purge() error = %v", err)
		}
		if len(result.Removed) != 1 {
			t.Errorf("Removed = %v, want one snapshot", result.Removed)
		}
		if strings.Contains(out.String(), "[y/N]") {
			t.Error("prompted despite Yes")
		}
	})

	t.Run("dry run removes nothing", func(t *testing.T) {
		t.Parallel()
		st, hostDir := setup(t, snapshots...)
		ex := prune.NewExecutor(st, testutil.FixedClock(), snap.NewNopLogger(), strings.NewReader("y\n"), &bytes.Buffer{})

		result, err := ex.Purge("host1", prune.Options{DryRun: true, Yes: true})
		if err != nil {
			t.Fatalf("Purge() error = %v", err)
		}
		if len(result.Plan.Remove) != 1 || len(result.Removed) != 0 {
			t.Errorf("result = %+v, want a plan and no removals", result)
		}
		if _, err := os.Stat(filepath.Join(hostDir, "20240110.0800")); err != nil {
			t.Error("dry run removed a snapshot")
		}
	})

	t.Run("nothing to purge", func(t *testing.T) {
		t.Parallel()
		st, _ := setup(t, "20240115.0900")
		var out bytes.Buffer
		ex := prune.NewExecutor(st, testutil.FixedClock(), snap.NewNopLogger(), strings.NewReader(""), &out)

		if _, err := ex.Purge("host1", prune.Options{}); err != nil {
			t.Fatalf("Purge() error = %v", err)
		}
		if !strings.HasSuffix(out.String(), "Nothing to purge.\n") {
			t.Errorf("output = %q", out.String())
		}
	})

	t.Run("invalid snapshot date fails the purge", func(t *testing.T) {
		t.Parallel()
		st, hostDir := setup(t, "20240110.0800", "20241399.1200")
		ex := prune.NewExecutor(st, testutil.FixedClock(), snap.NewNopLogger(), strings.NewReader("y\n"), &bytes.Buffer{})

		_, err := ex.Purge("host1", prune.Options{Yes: true})
		if !errors.Is(err, snap.ErrRetentionParse) {
			t.Fatalf("Purge() error = %v, want ErrRetentionParse", err)
		}
		if _, err := os.Stat(filepath.Join(hostDir, "20240110.0800")); err != nil {
			t.Error("snapshot removed despite parse failure")
		}
	})

	t.Run("continues past a failed removal", func(t *testing.T) {
		t.Parallel()
		fs := &failingStore{
			names:  []string{"20240108.0800", "20240108.0900", "20240109.0800", "20240109.0900", "20240115.0900"},
			failOn: "20240108.0800",
		}
		var out bytes.Buffer
		ex := prune.NewExecutor(fs, testutil.FixedClock(), snap.NewNopLogger(), strings.NewReader(""), &out)

		result, err := ex.Purge("host1", prune.Options{Yes: true})
		if err == nil {
			t.Fatal("Purge() expected error for the failed removal")
		}
		if want := []string{"20240109.0800"}; !reflect.DeepEqual(result.Removed, want) {
			t.Errorf("Removed = %v, want %v", result.Removed, want)
		}
		if !strings.Contains(out.String(), "failed\n") {
			t.Errorf("output does not report the failure: %q", out.String())
		}
	})
}

type failingStore struct {
	names  []string
	failOn string
}

func (f *failingStore) HostDir(host string) (string, error) { return "/backup/" + host, nil }
func (f *failingStore) List(string) ([]string, error)      { return f.names, nil }

func (f *failingStore) Remove(_ string, name string) error {
	if name == f.failOn {
		return errors.New("permission denied")
	}
	return nil
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		opts  prune.Options
		input string
		want  bool
	}{
		{name: "y", input: "y\n", want: true},
		{name: "yes uppercase", input: "YES\n", want: true},
		{name: "no", input: "n\n", want: false},
		{name: "empty", input: "\n", want: false},
		{name: "eof without newline", input: "y", want: true},
		{name: "assume yes", opts: prune.Options{Yes: true}, want: true},
		{name: "dry run wins", opts: prune.Options{Yes: true, DryRun: true}, input: "y\n", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := prune.Confirm(tt.opts, strings.NewReader(tt.input), &bytes.Buffer{}, "OK?")
			if err != nil {
				t.Fatalf("Confirm() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Confirm() = %v, want %v", got, tt.want)
			}
		})
	}
}
