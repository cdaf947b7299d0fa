package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HostsTotal is the number of distinct hosts the master has ever
	// recorded a job report for.
	HostsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clockwork_hosts_total",
			Help: "Total number of known hosts",
		},
	)

	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockwork_sessions_total",
			Help: "Total number of completed sessions by outcome",
		},
		[]string{"outcome"},
	)

	SessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clockwork_session_duration_seconds",
			Help:    "Duration of a full HELLO-to-BYE session, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"policy"},
	)

	CompileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clockwork_compile_duration_seconds",
			Help:    "Time taken to compile a manifest into a policy",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockwork_compile_errors_total",
			Help: "Total number of policy compile failures by error kind",
		},
		[]string{"kind"},
	)

	ResourcesCheckedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockwork_resources_checked_total",
			Help: "Total number of resources Stat'd, by kind",
		},
		[]string{"kind"},
	)

	ResourcesChangedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockwork_resources_changed_total",
			Help: "Total number of resources found out of compliance and fixed, by kind",
		},
		[]string{"kind"},
	)

	ResourcesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockwork_resources_failed_total",
			Help: "Total number of resources that failed remediation, by kind",
		},
		[]string{"kind"},
	)

	FixupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clockwork_fixup_duration_seconds",
			Help:    "Time taken to fix up one resource, by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ReportStoreInsertDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clockwork_reportstore_insert_duration_seconds",
			Help:    "Time taken to insert one job's report into the store",
			Buckets: prometheus.DefBuckets,
		},
	)

	CertRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clockwork_cert_rotations_total",
			Help: "Total number of agent certificates rotated",
		},
	)
)

func init() {
	prometheus.MustRegister(HostsTotal)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(SessionDuration)
	prometheus.MustRegister(CompileDuration)
	prometheus.MustRegister(CompileErrorsTotal)
	prometheus.MustRegister(ResourcesCheckedTotal)
	prometheus.MustRegister(ResourcesChangedTotal)
	prometheus.MustRegister(ResourcesFailedTotal)
	prometheus.MustRegister(FixupDuration)
	prometheus.MustRegister(ReportStoreInsertDuration)
	prometheus.MustRegister(CertRotationsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
