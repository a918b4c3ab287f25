package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"snapback/internal/snap"
)

// TestTempDir is the remote temporary directory RecordingMounter hands out.
const TestTempDir = "/tmp/tmp.test.backup"

// RecordingMounter is a snap.Mounter that tracks which mountpoints are
// bound without touching the remote side. Safe for concurrent use.
type RecordingMounter struct {
	// BindStatus is keyed by source; missing sources bind successfully.
	BindStatus map[string]int
	TempDirErr error

	mu      sync.Mutex
	mounted map[string]bool
	binds   []string
	removed []string
}

func NewRecordingMounter() *RecordingMounter {
	return &RecordingMounter{
		BindStatus: make(map[string]int),
		mounted:    make(map[string]bool),
	}
}

func (m *RecordingMounter) TempDir(context.Context, string) (string, error) {
	if m.TempDirErr != nil {
		return "", m.TempDirErr
	}
	return TestTempDir, nil
}

func (m *RecordingMounter) Bind(_ context.Context, _, source, mountpoint string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status := m.BindStatus[source]; status != 0 {
		return status, nil
	}
	m.mounted[mountpoint] = true
	m.binds = append(m.binds, mountpoint)
	return 0, nil
}

func (m *RecordingMounter) Unbind(_ context.Context, _, mountpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mounted, mountpoint)
	return nil
}

func (m *RecordingMounter) RemoveDir(_ context.Context, _, dir string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, dir)
	return 0, nil
}

// Mounted returns the number of mountpoints still bound.
func (m *RecordingMounter) Mounted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mounted)
}

// Removed returns the temporary directories removed so far.
func (m *RecordingMounter) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

// RecordingTransfer is a snap.TransferAgent that creates the destination
// directory with a single marker file instead of copying anything. It
// records requests and the peak number of concurrent transfers.
type RecordingTransfer struct {
	// Status is keyed by the base name of the destination; missing labels succeed.
	Status map[string]int
	Delay  time.Duration

	mu       sync.Mutex
	requests []snap.TransferRequest
	inFlight int
	peak     int
}

func NewRecordingTransfer() *RecordingTransfer {
	return &RecordingTransfer{Status: make(map[string]int)}
}

func (t *RecordingTransfer) Transfer(ctx context.Context, req snap.TransferRequest) (int, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	t.inFlight++
	t.peak = max(t.peak, t.inFlight)
	status := t.Status[filepath.Base(req.Destination)]
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inFlight--
		t.mu.Unlock()
	}()

	if t.Delay > 0 {
		select {
		case <-time.After(t.Delay):
		case <-ctx.Done():
			return 1, ctx.Err()
		}
	}
	if status != 0 {
		return status, nil
	}
	if err := os.MkdirAll(req.Destination, 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(filepath.Join(req.Destination, "marker"), []byte(req.Source), 0o644); err != nil {
		return 0, err
	}
	return 0, nil
}

// Requests returns the transfer requests received so far.
func (t *RecordingTransfer) Requests() []snap.TransferRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]snap.TransferRequest(nil), t.requests...)
}

// Peak returns the highest number of transfers that ran at once.
func (t *RecordingTransfer) Peak() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}
