// Package observability — metrics.go
//
// Prometheus metrics for AstraGuard.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only by default — no external exposure.
//
// Metric naming convention: astraguard_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - anomaly_type and escalation_level are closed label sets.
//   - satellite_id is NOT used as a label (unbounded cardinality); per
//     satellite figures are surfaced through the HIL latency/accuracy
//     reports instead.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/astraguard/astraguard/internal/policy"
)

// Metrics holds all Prometheus metric descriptors for AstraGuard.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Anomaly detector ─────────────────────────────────────────────────

	// DetectorLatencySeconds records native-model classification latency.
	DetectorLatencySeconds prometheus.Histogram

	// DetectorFallbackActivationsTotal counts heuristic-fallback
	// activations, by reason (timeout, circuit_open, model_error).
	DetectorFallbackActivationsTotal *prometheus.CounterVec

	// DetectorCircuitState is the current circuit breaker state
	// (0=closed, 1=half_open, 2=open) for the native detector call path.
	DetectorCircuitState prometheus.Gauge

	// ─── Decisions ────────────────────────────────────────────────────────

	// DecisionsTotal counts handled anomaly decisions, by anomaly_type and
	// escalation_level.
	DecisionsTotal *prometheus.CounterVec

	// ─── Escalation ───────────────────────────────────────────────────────

	// PhaseTransitionsTotal counts mission phase transitions.
	PhaseTransitionsTotal *prometheus.CounterVec

	// CurrentPhase exposes the active mission phase as a gauge per phase
	// label, 1 for the active phase and 0 for the rest.
	CurrentPhase *prometheus.GaugeVec

	// ─── History / recurrence ─────────────────────────────────────────────

	// HistorySize is the current number of entries in the bounded decision
	// history ring buffer.
	HistorySize prometheus.Gauge

	// RecurrenceWindowTypes is the current number of distinct anomaly
	// types tracked by the recurrence index.
	RecurrenceWindowTypes prometheus.Gauge

	// ─── HIL metrics ──────────────────────────────────────────────────────

	// HILLatencyP95Seconds is the most recently computed p95 latency from
	// the active HIL run, by metric_type.
	HILLatencyP95Seconds *prometheus.GaugeVec

	// HILAccuracyF1 is the most recently computed F1 score per fault
	// type from the active HIL run.
	HILAccuracyF1 *prometheus.GaugeVec

	// ─── Storage ──────────────────────────────────────────────────────────

	// StorageWriteLatency records BoltDB write transaction latency.
	StorageWriteLatency prometheus.Histogram

	// StorageLedgerEntries is the current number of audit ledger entries.
	StorageLedgerEntries prometheus.Gauge

	// ─── Agent ──────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since the service started.
	AgentUptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all AstraGuard Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		DetectorLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "astraguard",
			Subsystem: "detector",
			Name:      "classify_latency_seconds",
			Help:      "Latency of a single anomaly classification call.",
			Buckets:   prometheus.DefBuckets,
		}),

		DetectorFallbackActivationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "astraguard",
			Subsystem: "detector",
			Name:      "fallback_activations_total",
			Help:      "Total heuristic-fallback activations, by reason.",
		}, []string{"reason"}),

		DetectorCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "astraguard",
			Subsystem: "detector",
			Name:      "circuit_state",
			Help:      "Native detector circuit breaker state: 0=closed, 1=half_open, 2=open.",
		}),

		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "astraguard",
			Subsystem: "decisions",
			Name:      "total",
			Help:      "Total anomaly decisions handled, by anomaly_type and escalation_level.",
		}, []string{"anomaly_type", "escalation_level"}),

		PhaseTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "astraguard",
			Subsystem: "escalation",
			Name:      "phase_transitions_total",
			Help:      "Total mission phase transitions, by from_phase and to_phase.",
		}, []string{"from_phase", "to_phase"}),

		CurrentPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "astraguard",
			Subsystem: "escalation",
			Name:      "current_phase",
			Help:      "1 for the currently active mission phase, 0 for all others.",
		}, []string{"phase"}),

		HistorySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "astraguard",
			Subsystem: "history",
			Name:      "size",
			Help:      "Current number of entries in the bounded decision history.",
		}),

		RecurrenceWindowTypes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "astraguard",
			Subsystem: "recurrence",
			Name:      "tracked_types",
			Help:      "Current number of distinct anomaly types tracked by the recurrence index.",
		}),

		HILLatencyP95Seconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "astraguard",
			Subsystem: "hil",
			Name:      "latency_p95_seconds",
			Help:      "p95 latency of the most recently completed HIL run, by metric_type.",
		}, []string{"metric_type"}),

		HILAccuracyF1: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "astraguard",
			Subsystem: "hil",
			Name:      "accuracy_f1",
			Help:      "F1 score of the most recently completed HIL run, by fault_type.",
		}, []string{"fault_type"}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "astraguard",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "BoltDB write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		StorageLedgerEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "astraguard",
			Subsystem: "storage",
			Name:      "ledger_entries",
			Help:      "Current number of audit ledger entries in BoltDB.",
		}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "astraguard",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the service started.",
		}),
	}

	reg.MustRegister(
		m.DetectorLatencySeconds,
		m.DetectorFallbackActivationsTotal,
		m.DetectorCircuitState,
		m.DecisionsTotal,
		m.PhaseTransitionsTotal,
		m.CurrentPhase,
		m.HistorySize,
		m.RecurrenceWindowTypes,
		m.HILLatencyP95Seconds,
		m.HILAccuracyF1,
		m.StorageWriteLatency,
		m.StorageLedgerEntries,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// RecordDecision implements handler.MetricsSink.
func (m *Metrics) RecordDecision(anomalyType string, _ policy.Severity, level policy.EscalationLevel) {
	m.DecisionsTotal.WithLabelValues(anomalyType, string(level)).Inc()
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
