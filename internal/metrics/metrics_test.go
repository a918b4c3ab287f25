package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"snapback/internal/model"
)

func readTextfile(t *testing.T, tf *Textfile, path string) string {
	t.Helper()
	if err := tf.Write(); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading textfile: %v", err)
	}
	return string(data)
}

func TestTextfile_Load(t *testing.T) {
	started := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		hosts  []*model.HostSummary
		want   []string
		absent []string
	}{
		{
			name: "successful run",
			hosts: []*model.HostSummary{{
				Host:        "host1",
				LastRun:     &model.Run{Host: "host1", StartedAt: started, FinishedAt: started.Add(90 * time.Second)},
				Filesystems: map[string]int{"complete": 2, "skipped": 1},
				LastSuccess: started.Add(90 * time.Second),
			}},
			want: []string{
				`snapback_run_status{host="host1"} 0`,
				`snapback_run_duration_seconds{host="host1"} 90`,
				`snapback_last_success_timestamp_seconds{host="host1"} `,
				`snapback_filesystems{host="host1",state="complete"} 2`,
				`snapback_filesystems{host="host1",state="skipped"} 1`,
				`snapback_filesystems{host="host1",state="failed"} 0`,
			},
			absent: []string{"snapback_prune_removed{"},
		},
		{
			name: "failing host that never succeeded",
			hosts: []*model.HostSummary{{
				Host:        "host2",
				LastRun:     &model.Run{Host: "host2", StartedAt: started, FinishedAt: started.Add(time.Minute), Status: 23},
				Filesystems: map[string]int{"failed": 1},
			}},
			want: []string{
				`snapback_run_status{host="host2"} 23`,
				`snapback_filesystems{host="host2",state="failed"} 1`,
			},
			absent: []string{"snapback_last_success_timestamp_seconds{"},
		},
		{
			name: "purged host without runs",
			hosts: []*model.HostSummary{{
				Host:        "host3",
				LastPruneAt: started,
				LastPruned:  3,
			}},
			want:   []string{`snapback_prune_removed{host="host3"} 3`},
			absent: []string{"snapback_run_status{", "snapback_filesystems{"},
		},
		{
			name: "several hosts",
			hosts: []*model.HostSummary{
				{Host: "a", LastRun: &model.Run{Host: "a", StartedAt: started, FinishedAt: started}},
				{Host: "b", LastPruneAt: started, LastPruned: 0},
			},
			want: []string{
				`snapback_run_status{host="a"} 0`,
				`snapback_prune_removed{host="b"} 0`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snapback.prom")
			tf := NewTextfile(path)
			tf.Load(tt.hosts)

			got := readTextfile(t, tf, path)
			for _, line := range tt.want {
				if !strings.Contains(got, line) {
					t.Errorf("textfile missing %q:\n%s", line, got)
				}
			}
			for _, s := range tt.absent {
				if strings.Contains(got, s) {
					t.Errorf("textfile should not contain %q:\n%s", s, got)
				}
			}
		})
	}
}

func TestTextfile_LoadReplacesSeries(t *testing.T) {
	started := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "snapback.prom")
	tf := NewTextfile(path)

	tf.Load([]*model.HostSummary{{Host: "old", LastRun: &model.Run{Host: "old", StartedAt: started, FinishedAt: started}}})
	tf.Load([]*model.HostSummary{{Host: "new", LastRun: &model.Run{Host: "new", StartedAt: started, FinishedAt: started}}})

	got := readTextfile(t, tf, path)
	if strings.Contains(got, `host="old"`) {
		t.Errorf("series of a host no longer loaded survived:\n%s", got)
	}
	if !strings.Contains(got, `snapback_run_status{host="new"} 0`) {
		t.Errorf("textfile missing new host:\n%s", got)
	}
}

func TestTextfile_WriteBadPath(t *testing.T) {
	tf := NewTextfile(filepath.Join(t.TempDir(), "missing", "snapback.prom"))
	if err := tf.Write(); err == nil {
		t.Error("Write() expected error for missing directory")
	}
}
