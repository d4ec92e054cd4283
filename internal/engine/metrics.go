package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are shared by every engine in a process.
// Create once per registry; registering twice panics.
type Metrics struct {
	Reconciliations   *prometheus.CounterVec
	ReconcileDuration *prometheus.HistogramVec
	CoalescedEdits    prometheus.Counter
	PushEvents        *prometheus.CounterVec
	CrossTab          *prometheus.CounterVec
	MalformedLines    *prometheus.CounterVec
	Refetches         *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg.
// A nil reg yields working collectors that are not exported anywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cartsync_reconciliations_total",
			Help: "Reconciliations by result (ok, noop, failed, aborted)",
		}, []string{"result"}),
		ReconcileDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cartsync_reconcile_duration_seconds",
			Help:    "Duration of add/remove calls issued by reconciliation",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		CoalescedEdits: f.NewCounter(prometheus.CounterOpts{
			Name: "cartsync_coalesced_edits_total",
			Help: "Edits that replaced a not yet fired debounce task",
		}),
		PushEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cartsync_push_events_total",
			Help: "Server push events by merge mode (adopt, merge)",
		}, []string{"mode"}),
		CrossTab: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cartsync_crosstab_lines_total",
			Help: "Cross-tab lines by outcome (adopted, kept) and broadcasts dropped by full tab queues",
		}, []string{"outcome"}),
		MalformedLines: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cartsync_malformed_lines_total",
			Help: "External lines skipped for lacking a variant ID",
		}, []string{"source"}),
		Refetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cartsync_refetches_total",
			Help: "Authoritative cart fetches by result (ok, failed)",
		}, []string{"result"}),
	}
}
