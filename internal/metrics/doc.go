/*
Package metrics exports iotrace state to Prometheus.

# Overview

A Collector owns a private prometheus.Registry. When it is built over a
types.SnapshotSource (normally the tracer) every scrape takes one snapshot and
turns it into const metrics, so the exported values are always consistent with
each other and nothing is double counted between scrapes.

	collector, err := metrics.NewCollector(metrics.DefaultConfig(), tr)
	if err != nil {
		return err
	}
	http.Handle("/metrics", collector.Handler())

# Exported Metrics

Per file, labelled by direction, dev ("major:minor") and fileid:

	iotrace_nfs_ops_total
	iotrace_nfs_bytes_total
	iotrace_nfs_latency_seconds_total

Per RTT histogram, labelled by addr ("all" when samples are not grouped):

	iotrace_tcp_rtt_microseconds   (or iotrace_tcp_rtt_milliseconds)

Each log2 slot becomes a cumulative bucket whose upper bound is the largest
value the slot holds (1, 3, 7, 15, ...). The histogram sum is the recorded
latency in extended mode and a midpoint estimate otherwise.

Engine health:

	iotrace_dropped_samples_total{reason}
	iotrace_ledger_entries{store}
	iotrace_ledger_capacity

Archive activity, recorded by the archiver:

	iotrace_archive_operations_total{operation,status}
	iotrace_archive_operation_duration_seconds{operation}
	iotrace_archive_operation_size_bytes{operation}
	iotrace_errors_total{operation,type}
*/
package metrics
