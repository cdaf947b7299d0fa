/*
Package metrics provides Prometheus metrics collection and exposition for
Clockwork's master and agent processes.

The metrics package defines and registers all Clockwork metrics using the
Prometheus client library, giving observability into session throughput,
policy compile health, per-resource enforcement outcomes, and report store
latency. Metrics are exposed via an HTTP endpoint for scraping.

# Metrics Catalog

clockwork_hosts_total:
  - Type: Gauge
  - Description: Total number of known hosts (master only; sampled from the report store by a Collector)

clockwork_sessions_total{outcome}:
  - Type: Counter
  - Description: Completed sessions by outcome (ok, error)

clockwork_session_duration_seconds{policy}:
  - Type: Histogram
  - Description: Duration of a full HELLO-to-BYE session

clockwork_compile_duration_seconds:
  - Type: Histogram
  - Description: Time taken to compile a manifest into a policy

clockwork_compile_errors_total{kind}:
  - Type: Counter
  - Description: Policy compile failures by error kind (unknown_resource_kind,
    unknown_attribute, unresolved_dependency, cyclic_dependency,
    unknown_fact, unknown_policy, duplicate_resource, other)

clockwork_resources_checked_total{kind}:
  - Type: Counter
  - Description: Resources Stat'd during enforcement, by kind

clockwork_resources_changed_total{kind}:
  - Type: Counter
  - Description: Resources found out of compliance and fixed, by kind

clockwork_resources_failed_total{kind}:
  - Type: Counter
  - Description: Resources that failed remediation, by kind

clockwork_fixup_duration_seconds{kind}:
  - Type: Histogram
  - Description: Time taken to fix up one resource, by kind

clockwork_reportstore_insert_duration_seconds:
  - Type: Histogram
  - Description: Time taken to insert one job's report into the store

clockwork_cert_rotations_total:
  - Type: Counter
  - Description: Agent certificates rotated

# Usage

	import "github.com/jameshunt/clockwork/pkg/metrics"

	metrics.ResourcesCheckedTotal.WithLabelValues("file").Inc()

	timer := metrics.NewTimer()
	// ... fix up a resource ...
	timer.ObserveDurationVec(metrics.FixupDuration, "file")

	http.Handle("/metrics", metrics.Handler())

# Collector

Collector samples state that isn't naturally updated inline with a request
(the total host count) on a fixed interval, reading it from the report
store rather than holding its own counters.

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
