// ============================================================================
// Ledger-Scheduler Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Function: collects and exposes scheduler and settlement metrics
//
// Metric families:
//
//   1. Counters:
//      - scheduler_jobs_submitted_total
//      - scheduler_nodes_registered_total
//      - scheduler_assignments_total{outcome="success|ledger_error|unavailable"}
//      - scheduler_results_submitted_total
//      - scheduler_settlements_total{outcome="released|failed"}
//
//   2. Histogram:
//      - scheduler_ledger_call_seconds{method, outcome}
//
//   3. Gauges (refreshed from the store after every transition):
//      - scheduler_jobs{status}
//      - scheduler_nodes{status}
//      - scheduler_settlements_pending
//
// Queries:
//
//   # assignment failure ratio
//   sum(rate(scheduler_assignments_total{outcome!="success"}[5m]))
//     / sum(rate(scheduler_assignments_total[5m]))
//
//   # p95 ledger confirmation latency per method
//   histogram_quantile(0.95, sum by (le, method) (rate(scheduler_ledger_call_seconds_bucket[5m])))
//
// A nil *Collector is valid and records nothing.
//
// ============================================================================

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Assignment outcomes
const (
	OutcomeSuccess     = "success"
	OutcomeLedgerError = "ledger_error"
	OutcomeUnavailable = "unavailable"
	OutcomeReleased    = "released"
	OutcomeFailed      = "failed"
	OutcomeError       = "error"
)

// Collector holds every metric the scheduler exports
type Collector struct {
	jobsSubmitted   prometheus.Counter
	nodesRegistered prometheus.Counter
	assignments     *prometheus.CounterVec
	results         prometheus.Counter
	settlements     *prometheus.CounterVec

	ledgerLatency *prometheus.HistogramVec

	jobs               *prometheus.GaugeVec
	nodes              *prometheus.GaugeVec
	settlementsPending prometheus.Gauge
}

// NewCollector creates the metrics and registers them with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_jobs_submitted_total",
			Help: "Total number of jobs submitted",
		}),
		nodesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_nodes_registered_total",
			Help: "Total number of nodes registered",
		}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_assignments_total",
			Help: "Provider assignment attempts by outcome",
		}, []string{"outcome"}),
		results: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_results_submitted_total",
			Help: "Total number of job results accepted",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_settlements_total",
			Help: "Finished settlements by outcome",
		}, []string{"outcome"}),
		ledgerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scheduler_ledger_call_seconds",
			Help:    "Ledger call latency including confirmation",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"method", "outcome"}),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_jobs",
			Help: "Current number of jobs by status",
		}, []string{"status"}),
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_nodes",
			Help: "Current number of nodes by status",
		}, []string{"status"}),
		settlementsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_settlements_pending",
			Help: "Settlements with ledger work outstanding",
		}),
	}

	reg.MustRegister(
		c.jobsSubmitted,
		c.nodesRegistered,
		c.assignments,
		c.results,
		c.settlements,
		c.ledgerLatency,
		c.jobs,
		c.nodes,
		c.settlementsPending,
	)
	return c
}

// RecordJobSubmitted counts an accepted job
func (c *Collector) RecordJobSubmitted() {
	if c == nil {
		return
	}
	c.jobsSubmitted.Inc()
}

// RecordNodeRegistered counts a registered node
func (c *Collector) RecordNodeRegistered() {
	if c == nil {
		return
	}
	c.nodesRegistered.Inc()
}

// RecordAssignment counts an assignment attempt by outcome
func (c *Collector) RecordAssignment(outcome string) {
	if c == nil {
		return
	}
	c.assignments.WithLabelValues(outcome).Inc()
}

// RecordResult counts an accepted result
func (c *Collector) RecordResult() {
	if c == nil {
		return
	}
	c.results.Inc()
}

// RecordSettlement counts a finished settlement
func (c *Collector) RecordSettlement(outcome string) {
	if c == nil {
		return
	}
	c.settlements.WithLabelValues(outcome).Inc()
}

// ObserveLedgerCall records the latency of one ledger call
func (c *Collector) ObserveLedgerCall(method string, err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	c.ledgerLatency.WithLabelValues(method, outcome).Observe(elapsed.Seconds())
}

// UpdateStats refreshes the status gauges. Missing statuses are set to 0.
func (c *Collector) UpdateStats(jobsByStatus, nodesByStatus map[string]int, pendingSettlements int) {
	if c == nil {
		return
	}
	for _, s := range []string{"pending", "assigned", "completed"} {
		c.jobs.WithLabelValues(s).Set(float64(jobsByStatus[s]))
	}
	for _, s := range []string{"idle", "reserved", "busy"} {
		c.nodes.WithLabelValues(s).Set(float64(nodesByStatus[s]))
	}
	c.settlementsPending.Set(float64(pendingSettlements))
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
