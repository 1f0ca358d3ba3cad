/*
Package config loads, validates and saves iotrace configuration.

Configuration is layered: NewDefault provides defaults, LoadFromFile overlays a
YAML file, and LoadFromEnv overlays IOTRACE_* environment variables. Validate
must pass before the configuration is used to build a tracer.

# Example configuration

	global:
	  log_level: INFO
	  log_format: text

	stores:
	  ledger_max_entries: 1024
	  metrics_max_entries: 1024
	  histogram_max_entries: 10240

	ledger:
	  eviction_ttl: 0s        # 0 keeps entries for the whole session
	  sweep_interval: 10s

	histogram:
	  group_by_remote_addr: true
	  dest_port: 2049
	  extended_stats: true
	  milliseconds: false

	report:
	  enabled: true
	  interval: 1s

	api:
	  enabled: true
	  address: ":9435"
	  enable_metrics: true

	archive:
	  enabled: true
	  backend: s3             # s3, minio or redis
	  interval: 1m
	  s3:
	    bucket: trace-archive
	    region: us-west-2

The histogram section is fixed for the life of a tracer. Addresses are dotted
IPv4 strings and an empty string or zero port disables that filter. When both
group-by toggles are set the local address wins.
*/
package config
