package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	signups         atomic.Uint64
	logins          atomic.Uint64
	messages        atomic.Uint64
	uploads         atomic.Uint64
	quotaRejections atomic.Uint64
	warnings        atomic.Uint64
	archived        atomic.Uint64
	skippedSweeps   atomic.Uint64
	droppedWrites   atomic.Uint64
	activeConns     atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncSignup() {
	m.signups.Add(1)
}

func (m *Metrics) IncLogin() {
	m.logins.Add(1)
}

func (m *Metrics) IncMessage() {
	m.messages.Add(1)
}

func (m *Metrics) IncUpload() {
	m.uploads.Add(1)
}

func (m *Metrics) IncQuotaRejection() {
	m.quotaRejections.Add(1)
}

func (m *Metrics) IncWarning() {
	m.warnings.Add(1)
}

func (m *Metrics) IncArchived() {
	m.archived.Add(1)
}

func (m *Metrics) IncSkippedSweep() {
	m.skippedSweeps.Add(1)
}

func (m *Metrics) IncDroppedWrite() {
	m.droppedWrites.Add(1)
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

// Snapshot returns the counters keyed by their exported names.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"signups_total":          m.signups.Load(),
		"logins_total":           m.logins.Load(),
		"messages_total":         m.messages.Load(),
		"uploads_total":          m.uploads.Load(),
		"quota_rejections_total": m.quotaRejections.Load(),
		"warnings_total":         m.warnings.Load(),
		"rooms_archived_total":   m.archived.Load(),
		"sweeps_skipped_total":   m.skippedSweeps.Load(),
		"writes_dropped_total":   m.droppedWrites.Load(),
		"active_connections":     m.activeConns.Load(),
	}
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
