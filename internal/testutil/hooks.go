package testutil

import (
	"context"
	"fmt"
	"sync"
)

// RecordingHooks is a snap.HookRunner that records every call and returns
// preconfigured exit statuses. Safe for concurrent use.
type RecordingHooks struct {
	PreHostStatus  int
	PostHostStatus int
	// Keyed by filesystem spec; missing specs succeed.
	PreFilesystemStatus  map[string]int
	PostFilesystemStatus map[string]int

	mu    sync.Mutex
	calls []string
}

// NewRecordingHooks returns hooks that all succeed.
func NewRecordingHooks() *RecordingHooks {
	return &RecordingHooks{
		PreFilesystemStatus:  make(map[string]int),
		PostFilesystemStatus: make(map[string]int),
	}
}

func (h *RecordingHooks) record(format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls in order, e.g. "pre-host host1".
func (h *RecordingHooks) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *RecordingHooks) PreHost(_ context.Context, login, _ string) (int, error) {
	h.record("pre-host %s", login)
	return h.PreHostStatus, nil
}

func (h *RecordingHooks) PostHost(_ context.Context, login, _ string) (int, error) {
	h.record("post-host %s", login)
	return h.PostHostStatus, nil
}

func (h *RecordingHooks) PreFilesystem(_ context.Context, login, _, spec string, _ bool) (int, error) {
	h.record("pre-filesystem %s %s", login, spec)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.PreFilesystemStatus[spec], nil
}

func (h *RecordingHooks) PostFilesystem(_ context.Context, login, _, spec string, _ bool, destination string) (int, error) {
	h.record("post-filesystem %s %s %s", login, spec, destination)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.PostFilesystemStatus[spec], nil
}
