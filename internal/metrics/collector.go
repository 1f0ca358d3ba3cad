package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iotrace/iotrace/internal/histogram"
	"github.com/iotrace/iotrace/pkg/types"
)

// Collector exports tracer snapshots and archive activity to Prometheus
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	source   types.SnapshotSource

	// Archive metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec

	// Internal tracking
	operations map[string]*OperationMetrics
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// DefaultConfig returns the default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Namespace: "iotrace",
		Labels:    make(map[string]string),
	}
}

// NewCollector creates a new metrics collector over source. source may be
// nil when only archive metrics are wanted.
func NewCollector(config *Config, source types.SnapshotSource) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		source:     source,
		operations: make(map[string]*OperationMetrics),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, err
	}

	return collector, nil
}

// Registry returns the private registry holding every iotrace metric
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the /metrics handler, or nil when metrics are disabled
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return nil
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordOperation records an archive operation against a sink
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	metrics, exists := c.operations[operation]
	if !exists {
		metrics = &OperationMetrics{}
		c.operations[operation] = metrics
	}
	metrics.Count++
	metrics.TotalDuration += duration
	metrics.TotalSize += size
	if !success {
		metrics.Errors++
	}
	metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
	c.mu.Unlock()

	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    status,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())

	if size > 0 {
		c.operationSize.With(prometheus.Labels{
			"operation": operation,
		}).Observe(float64(size))
	}
}

// RecordError records an error
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}

	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      classifyError(err),
	}).Inc()
}

// GetOperations returns a copy of the per-operation totals
func (c *Collector) GetOperations() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		operations[k] = *v
	}
	return operations
}

// Helper methods

func (c *Collector) initMetrics() {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "archive_operations_total",
			Help:        "Total number of archive operations",
			ConstLabels: c.config.Labels,
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "archive_operation_duration_seconds",
			Help:        "Duration of archive operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			ConstLabels: c.config.Labels,
		},
		[]string{"operation"},
	)

	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "archive_operation_size_bytes",
			Help:        "Size of archived snapshots in bytes",
			Buckets:     prometheus.ExponentialBuckets(1024, 2, 16), // 1KB to ~32MB
			ConstLabels: c.config.Labels,
		},
		[]string{"operation"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "errors_total",
			Help:        "Total number of errors",
			ConstLabels: c.config.Labels,
		},
		[]string{"operation", "type"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.errorCounter,
	}
	if c.source != nil {
		metrics = append(metrics, newSnapshotCollector(c.config, c.source))
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func classifyError(err error) string {
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline"):
		return "timeout"
	case strings.Contains(errStr, "connection"):
		return "connection"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "nosuchbucket"):
		return "not_found"
	case strings.Contains(errStr, "denied"), strings.Contains(errStr, "permission"):
		return "permission"
	case strings.Contains(errStr, "circuit"):
		return "circuit_open"
	default:
		return "other"
	}
}

// snapshotCollector turns one tracer snapshot per scrape into const metrics
type snapshotCollector struct {
	source types.SnapshotSource

	nfsOps     *prometheus.Desc
	nfsBytes   *prometheus.Desc
	nfsLatency *prometheus.Desc
	rttUsecs   *prometheus.Desc
	rttMsecs   *prometheus.Desc
	dropped    *prometheus.Desc
	ledgerLen  *prometheus.Desc
	ledgerCap  *prometheus.Desc
}

func newSnapshotCollector(config *Config, source types.SnapshotSource) *snapshotCollector {
	name := func(n string) string {
		return prometheus.BuildFQName(config.Namespace, config.Subsystem, n)
	}
	resource := []string{"direction", "dev", "fileid"}

	return &snapshotCollector{
		source: source,
		nfsOps: prometheus.NewDesc(name("nfs_ops_total"),
			"Completed NFS operations per file", resource, config.Labels),
		nfsBytes: prometheus.NewDesc(name("nfs_bytes_total"),
			"Bytes moved by completed NFS operations per file", resource, config.Labels),
		nfsLatency: prometheus.NewDesc(name("nfs_latency_seconds_total"),
			"Accumulated NFS operation latency per file", resource, config.Labels),
		rttUsecs: prometheus.NewDesc(name("tcp_rtt_microseconds"),
			"TCP smoothed round trip time", []string{"addr"}, config.Labels),
		rttMsecs: prometheus.NewDesc(name("tcp_rtt_milliseconds"),
			"TCP smoothed round trip time", []string{"addr"}, config.Labels),
		dropped: prometheus.NewDesc(name("dropped_samples_total"),
			"Samples that were not fully accounted", []string{"reason"}, config.Labels),
		ledgerLen: prometheus.NewDesc(name("ledger_entries"),
			"Entries held by each correlation store", []string{"store"}, config.Labels),
		ledgerCap: prometheus.NewDesc(name("ledger_capacity"),
			"Capacity of each correlation store", nil, config.Labels),
	}
}

// Describe implements prometheus.Collector
func (s *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.nfsOps
	ch <- s.nfsBytes
	ch <- s.nfsLatency
	ch <- s.rttUsecs
	ch <- s.rttMsecs
	ch <- s.dropped
	ch <- s.ledgerLen
	ch <- s.ledgerCap
}

// Collect implements prometheus.Collector
func (s *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := s.source.Snapshot()

	for _, stats := range [][]types.ResourceStat{snap.Reads, snap.Writes} {
		for _, stat := range stats {
			labels := []string{stat.Direction, stat.DevName, strconv.FormatUint(stat.FileID, 10)}
			ch <- prometheus.MustNewConstMetric(s.nfsOps, prometheus.CounterValue, float64(stat.Count), labels...)
			ch <- prometheus.MustNewConstMetric(s.nfsBytes, prometheus.CounterValue, float64(stat.Bytes), labels...)
			ch <- prometheus.MustNewConstMetric(s.nfsLatency, prometheus.CounterValue, float64(stat.LatencyNs)/1e9, labels...)
		}
	}

	for _, hist := range snap.Histograms {
		desc := s.rttUsecs
		if hist.Unit == "msecs" {
			desc = s.rttMsecs
		}
		addr := hist.Addr
		if addr == "" {
			addr = "all"
		}
		count, sum, buckets := histogramBuckets(hist)
		ch <- prometheus.MustNewConstHistogram(desc, count, sum, buckets, addr)
	}

	drops := map[string]uint64{
		"correlation_miss": snap.Drops.CorrelationMiss,
		"ledger_full":      snap.Drops.LedgerFull,
		"metrics_full":     snap.Drops.MetricsFull,
		"histogram_full":   snap.Drops.HistogramFull,
		"filtered":         snap.Drops.Filtered,
	}
	for reason, n := range drops {
		ch <- prometheus.MustNewConstMetric(s.dropped, prometheus.CounterValue, float64(n), reason)
	}

	ch <- prometheus.MustNewConstMetric(s.ledgerLen, prometheus.GaugeValue, float64(snap.Ledger.PendingByCaller), "pending_by_caller")
	ch <- prometheus.MustNewConstMetric(s.ledgerLen, prometheus.GaugeValue, float64(snap.Ledger.PendingByTask), "pending_by_task")
	ch <- prometheus.MustNewConstMetric(s.ledgerLen, prometheus.GaugeValue, float64(snap.Ledger.ReadyByCaller), "ready_by_caller")
	ch <- prometheus.MustNewConstMetric(s.ledgerCap, prometheus.GaugeValue, float64(snap.Ledger.MaxEntries))
}

// histogramBuckets converts log2 slots into cumulative Prometheus buckets
// keyed by each slot's inclusive upper bound. The last slot also holds every
// clamped sample, so it only counts toward +Inf. The sum is the recorded
// latency in extended mode and a midpoint estimate otherwise.
func histogramBuckets(hist types.HistogramStat) (uint64, float64, map[float64]uint64) {
	buckets := make(map[float64]uint64, len(hist.Slots))
	var cumul uint64
	var estimate float64
	for i, n := range hist.Slots {
		low, high := types.SlotRange(i)
		cumul += n
		if i < histogram.MaxSlots-1 {
			buckets[float64(high)] = cumul
		}
		estimate += float64(n) * float64(low+high) / 2
	}

	sum := estimate
	if hist.Extended {
		sum = float64(hist.Latency)
	}
	return cumul, sum, buckets
}
