package transfer

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"snapback/internal/snap"
)

func TestRsync_Args(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		req  snap.TransferRequest
		want []string
	}{
		{
			name: "first snapshot",
			req:  snap.TransferRequest{Login: "root@host1", Source: "/tmp/t.backup/home", Destination: "/backup/host1/0/home"},
			want: append(append([]string(nil), DefaultArgs...),
				"--", "root@host1:/tmp/t.backup/home/", "/backup/host1/0/home/"),
		},
		{
			name: "incremental",
			req: snap.TransferRequest{
				Login: "host1", Source: "/tmp/t.backup/home", Destination: "/backup/host1/0/home",
				LinkDest: "/backup/host1/20240114.0900/home",
			},
			want: append(append([]string(nil), DefaultArgs...),
				"--link-dest=/backup/host1/20240114.0900/home",
				"--", "host1:/tmp/t.backup/home/", "/backup/host1/0/home/"),
		},
		{
			name: "update with custom options",
			opts: Options{Args: []string{"-a"}, Exclude: []string{"*.tmp", "/cache"}, Shell: "ssh -p 2222"},
			req: snap.TransferRequest{
				Login: "host1", Source: "/tmp/t.backup/home/", Destination: "/backup/host1/20240114.0900/home",
				LinkDest: "/backup/host1/20240114.0900/home", Delete: true,
			},
			want: []string{
				"-a", "--rsh=ssh -p 2222", "--exclude=*.tmp", "--exclude=/cache",
				"--link-dest=/backup/host1/20240114.0900/home", "--del",
				"--", "host1:/tmp/t.backup/home/", "/backup/host1/20240114.0900/home/",
			},
		},
		{
			name: "local source",
			req:  snap.TransferRequest{Source: "/srv", Destination: "/backup/local/0/srv"},
			want: append(append([]string(nil), DefaultArgs...), "--", "/srv/", "/backup/local/0/srv/"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewRsync(tt.opts, snap.NewNopLogger()).Args(tt.req)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Args() =\n%v\nwant\n%v", got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(24); got != "Partial transfer due to vanished source files" {
		t.Errorf("Describe(24) = %q", got)
	}
	if got := Describe(12); !strings.Contains(got, "12") {
		t.Errorf("Describe(12) = %q", got)
	}
}

func TestRsync_Transfer(t *testing.T) {
	dir := t.TempDir()
	log := filepath.Join(dir, "args")
	binary := filepath.Join(dir, "rsync")
	script := "#!/bin/sh\necho \"$@\" > " + log + "\nexit ${RSYNC_FAKE_STATUS:-0}\n"
	if err := os.WriteFile(binary, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "host1", "0", "home")
	r := NewRsync(Options{Binary: binary, Args: []string{"-a"}}, snap.NewNopLogger())

	t.Run("creates the destination and runs rsync", func(t *testing.T) {
		status, err := r.Transfer(context.Background(), snap.TransferRequest{Login: "host1", Source: "/m/home", Destination: dest})
		if err != nil || status != 0 {
			t.Fatalf("Transfer() = %d, %v", status, err)
		}
		if info, err := os.Stat(dest); err != nil || !info.IsDir() {
			t.Errorf("destination not created: %v", err)
		}
		data, err := os.ReadFile(log)
		if err != nil {
			t.Fatal(err)
		}
		if got := strings.TrimSpace(string(data)); got != "-a -- host1:/m/home/ "+dest+"/" {
			t.Errorf("args = %q", got)
		}
	})

	t.Run("reports the exit status", func(t *testing.T) {
		t.Setenv("RSYNC_FAKE_STATUS", "23")
		status, err := r.Transfer(context.Background(), snap.TransferRequest{Source: "/m/home", Destination: dest})
		if err != nil {
			t.Fatalf("Transfer() error = %v", err)
		}
		if status != 23 {
			t.Errorf("status = %d, want 23", status)
		}
	})

	t.Run("missing binary is an error", func(t *testing.T) {
		r := NewRsync(Options{Binary: filepath.Join(dir, "missing")}, snap.NewNopLogger())
		if _, err := r.Transfer(context.Background(), snap.TransferRequest{Source: "/m", Destination: dest}); err == nil {
			t.Error("Transfer() expected error")
		}
	})
}
