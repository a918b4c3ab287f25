// Package metrics writes run and purge gauges to a node-exporter textfile.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"snapback/internal/model"
	"snapback/internal/snap"
)

// Textfile collects gauges in a private registry and writes them to path.
// Every write replaces the whole file, so callers Load the state of all
// hosts first.
type Textfile struct {
	path     string
	registry *prometheus.Registry

	runStatus    *prometheus.GaugeVec
	runDuration  *prometheus.GaugeVec
	lastSuccess  *prometheus.GaugeVec
	filesystems  *prometheus.GaugeVec
	pruneRemoved *prometheus.GaugeVec
}

// NewTextfile creates a Textfile that writes to path.
func NewTextfile(path string) *Textfile {
	t := &Textfile{
		path:     path,
		registry: prometheus.NewRegistry(),
		runStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "snapback",
			Name:      "run_status",
			Help:      "Exit status of the last backup run.",
		}, []string{"host"}),
		runDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "snapback",
			Name:      "run_duration_seconds",
			Help:      "Duration of the last backup run.",
		}, []string{"host"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "snapback",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last successful backup run finished.",
		}, []string{"host"}),
		filesystems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "snapback",
			Name:      "filesystems",
			Help:      "Filesystems of the last backup run by final state.",
		}, []string{"host", "state"}),
		pruneRemoved: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "snapback",
			Name:      "prune_removed",
			Help:      "Snapshots removed by the last purge that removed any.",
		}, []string{"host"}),
	}
	t.registry.MustRegister(t.runStatus, t.runDuration, t.lastSuccess, t.filesystems, t.pruneRemoved)
	return t
}

// Load replaces every gauge with the recorded state of hosts. Series of
// hosts missing from hosts are dropped.
func (t *Textfile) Load(hosts []*model.HostSummary) {
	for _, v := range []*prometheus.GaugeVec{t.runStatus, t.runDuration, t.lastSuccess, t.filesystems, t.pruneRemoved} {
		v.Reset()
	}

	for _, h := range hosts {
		if r := h.LastRun; r != nil {
			t.runStatus.WithLabelValues(h.Host).Set(float64(r.Status))
			t.runDuration.WithLabelValues(h.Host).Set(r.FinishedAt.Sub(r.StartedAt).Seconds())
			for _, state := range []snap.FilesystemState{snap.StateComplete, snap.StateFailed, snap.StateSkipped} {
				t.filesystems.WithLabelValues(h.Host, state.String()).Set(float64(h.Filesystems[state.String()]))
			}
		}
		if !h.LastSuccess.IsZero() {
			t.lastSuccess.WithLabelValues(h.Host).Set(float64(h.LastSuccess.Unix()))
		}
		if !h.LastPruneAt.IsZero() {
			t.pruneRemoved.WithLabelValues(h.Host).Set(float64(h.LastPruned))
		}
	}
}

// Write replaces the textfile with the current gauges.
func (t *Textfile) Write() error {
	if err := prometheus.WriteToTextfile(t.path, t.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
