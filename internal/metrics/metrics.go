// Package metrics holds the Prometheus collectors for plancal.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "plancal"

// Metrics exposes counters for expansion, classification, refreshes and the
// HTTP surface. A nil *Metrics is valid and records nothing.
type Metrics struct {
	occurrences     prometheus.Counter
	truncated       prometheus.Counter
	unexpanded      prometheus.Counter
	classifyErrors  prometheus.Counter
	invalidRecords  prometheus.Counter
	refreshes       *prometheus.CounterVec
	snapshotRecords prometheus.Gauge
	cacheLookups    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reschedules     *prometheus.CounterVec
}

// MustNewMetrics registers the collectors with reg and panics on conflicts.
// Tests pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		occurrences: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recur",
			Name: "occurrences_total",
			Help: "Occurrences produced by recurrence expansion.",
		}),
		truncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recur",
			Name: "truncated_total",
			Help: "Records whose expansion hit the per-record occurrence cap.",
		}),
		unexpanded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recur",
			Name: "unexpanded_total",
			Help: "Recurring records returned unexpanded for lack of date data.",
		}),
		classifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "classify",
			Name: "errors_total",
			Help: "Occurrences skipped because classification failed.",
		}),
		invalidRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "refresh",
			Name: "invalid_records_total",
			Help: "Upstream records rejected at the JSON boundary.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "refresh",
			Name: "runs_total",
			Help: "Snapshot refreshes by result (ok, cached, error).",
		}, []string{"result"}),
		snapshotRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "refresh",
			Name: "snapshot_records",
			Help: "Records in the current snapshot.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "web",
			Name: "response_cache_total",
			Help: "Response cache lookups by result (hit, miss).",
		}, []string{"result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "web",
			Name:    "request_duration_seconds",
			Help:    "HTTP request latency by route and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
		reschedules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reschedule",
			Name: "requests_total",
			Help: "Reschedule requests by operation (create, update) and result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(
		m.occurrences, m.truncated, m.unexpanded, m.classifyErrors, m.invalidRecords,
		m.refreshes, m.snapshotRecords, m.cacheLookups, m.requestDuration, m.reschedules,
	)
	return m
}

func (m *Metrics) ObserveExpansion(occurrences, truncated, unexpanded int) {
	if m == nil {
		return
	}
	m.occurrences.Add(float64(occurrences))
	m.truncated.Add(float64(truncated))
	m.unexpanded.Add(float64(unexpanded))
}

func (m *Metrics) AddClassifyErrors(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.classifyErrors.Add(float64(n))
}

// ObserveRefresh records one refresh attempt. records is ignored on error.
func (m *Metrics) ObserveRefresh(result string, records, invalid int) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
	if result == "error" {
		return
	}
	m.snapshotRecords.Set(float64(records))
	if invalid > 0 {
		m.invalidRecords.Add(float64(invalid))
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRequest(route, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(route, code).Observe(d.Seconds())
}

func (m *Metrics) ObserveReschedule(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reschedules.WithLabelValues(op, result).Inc()
}
