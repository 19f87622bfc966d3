// Package metrics exposes bigjsond's Prometheus instrumentation: per-patch
// throughput, journal durability latency, compaction cadence, and live
// subscription/connection gauges.
//
// Unlike the teacher's metrics.go, which registers a fixed set of package
// level collectors against the global Prometheus registry in an init()
// function, Metrics here is a struct built by New against a caller-supplied
// prometheus.Registerer. A package-level registry would panic the second
// time a test in this package called New; threading the registerer through
// also lets cmd/bigjsond register against prometheus.NewRegistry() instead of
// the process-global default, same effect, more testable.
package metrics

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Metrics holds every collector bigjsond reports.
type Metrics struct {
	PatchesApplied   *prometheus.CounterVec
	PatchErrors      prometheus.Counter
	JournalAppends   prometheus.Counter
	JournalAppendDur prometheus.Histogram
	JournalErrors    prometheus.Counter
	CompactionRuns   prometheus.Counter
	CompactionDur    prometheus.Histogram
	CompactionSkips  prometheus.Counter

	SubscriptionsActive prometheus.Gauge
	TopicsActive        prometheus.Gauge
	SlowConsumerEvicts  prometheus.Counter

	WSConnectionsTotal  prometheus.Counter
	WSConnectionsActive prometheus.Gauge
	WSMessagesSent      prometheus.Counter
	WSMessagesReceived  prometheus.Counter

	HTTPRequests *prometheus.CounterVec

	ProcessMemoryBytes prometheus.Gauge
	ProcessCPUPercent  prometheus.Gauge
}

// New builds and registers bigjsond's collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PatchesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bigjson_patches_applied_total",
			Help: "Patch operations applied to the document, by op type.",
		}, []string{"op"}),
		PatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bigjson_patch_errors_total",
			Help: "Patch operations rejected by the patch engine.",
		}),
		JournalAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bigjson_journal_appends_total",
			Help: "Records durably appended to the journal.",
		}),
		JournalAppendDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bigjson_journal_append_duration_seconds",
			Help:    "Latency of a single journal block append, including fsync.",
			Buckets: prometheus.DefBuckets,
		}),
		JournalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bigjson_journal_errors_total",
			Help: "Journal append attempts that failed and were retried.",
		}),
		CompactionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bigjson_compaction_runs_total",
			Help: "Compaction passes that actually merged blocks into a snapshot.",
		}),
		CompactionDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bigjson_compaction_duration_seconds",
			Help:    "Wall time of a compaction pass.",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 300},
		}),
		CompactionSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bigjson_compaction_skips_total",
			Help: "Compact calls that were no-ops, below the block threshold or already in flight.",
		}),
		SubscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bigjson_subscriptions_active",
			Help: "Currently open path subscriptions across all connections.",
		}),
		TopicsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bigjson_topics_active",
			Help: "Distinct subscription paths with at least one subscriber.",
		}),
		SlowConsumerEvicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bigjson_slow_consumer_evictions_total",
			Help: "Subscribers evicted for failing to drain their patch queue.",
		}),
		WSConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bigjson_ws_connections_total",
			Help: "WebSocket connections accepted.",
		}),
		WSConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bigjson_ws_connections_active",
			Help: "Currently open WebSocket connections.",
		}),
		WSMessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bigjson_ws_messages_sent_total",
			Help: "Server-to-client WebSocket messages sent.",
		}),
		WSMessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bigjson_ws_messages_received_total",
			Help: "Client-to-server WebSocket messages received.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bigjson_http_requests_total",
			Help: "HTTP requests handled, by route and status class.",
		}, []string{"route", "status"}),
		ProcessMemoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bigjson_process_memory_bytes",
			Help: "Resident set size of the bigjsond process.",
		}),
		ProcessCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bigjson_process_cpu_percent",
			Help: "CPU usage of the bigjsond process, percent of one core.",
		}),
	}

	reg.MustRegister(
		m.PatchesApplied, m.PatchErrors,
		m.JournalAppends, m.JournalAppendDur, m.JournalErrors,
		m.CompactionRuns, m.CompactionDur, m.CompactionSkips,
		m.SubscriptionsActive, m.TopicsActive, m.SlowConsumerEvicts,
		m.WSConnectionsTotal, m.WSConnectionsActive,
		m.WSMessagesSent, m.WSMessagesReceived,
		m.HTTPRequests,
		m.ProcessMemoryBytes, m.ProcessCPUPercent,
	)
	return m
}

// ObserveJournalAppend records the duration of one append attempt, whether
// or not it eventually succeeded.
func (m *Metrics) ObserveJournalAppend(start time.Time) {
	m.JournalAppendDur.Observe(time.Since(start).Seconds())
}

// ObserveCompaction records the duration of a completed compaction pass.
func (m *Metrics) ObserveCompaction(start time.Time) {
	m.CompactionRuns.Inc()
	m.CompactionDur.Observe(time.Since(start).Seconds())
}

// SampleResources periodically refreshes ProcessMemoryBytes and
// ProcessCPUPercent until ctx is done, grounded on the teacher's
// Server.collectMetrics: resident memory from the process's own
// MemoryInfo, falling back to system-wide virtual memory if the process
// handle can't be obtained, plus a self CPU percent sample per tick.
func (m *Metrics) SampleResources(ctx context.Context, interval time.Duration) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce(proc)
		}
	}
}

func (m *Metrics) sampleOnce(proc *process.Process) {
	if proc != nil {
		if memInfo, err := proc.MemoryInfo(); err == nil {
			m.ProcessMemoryBytes.Set(float64(memInfo.RSS))
		}
		if pct, err := proc.CPUPercent(); err == nil {
			m.ProcessCPUPercent.Set(pct)
		}
		return
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		m.ProcessMemoryBytes.Set(float64(vmem.Used))
	}
}
