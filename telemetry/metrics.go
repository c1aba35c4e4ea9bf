// Package telemetry provides Prometheus metrics, tracing, log setup and correlation-id
// aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/onnwee/arkpop/apperr"
)

var (
	once sync.Once

	// Counters
	Sweeps              prometheus.Counter
	SweepsSkipped       prometheus.Counter
	ResolveErrors       *prometheus.CounterVec
	SamplesRecorded     prometheus.Counter
	NotificationsSent   prometheus.Counter
	NotificationsFailed *prometheus.CounterVec
	MonitorsAutoRemoved prometheus.Counter
	Commands            *prometheus.CounterVec
	ChartRenders        *prometheus.CounterVec

	// Histograms (seconds)
	SweepDuration   prometheus.Observer
	ResolveDuration prometheus.Observer

	// Gauges
	MonitoredServers prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		Sweeps = promauto.NewCounter(prometheus.CounterOpts{Name: "arkpop_sweeps_total", Help: "Status sweeps completed"})
		SweepsSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "arkpop_sweeps_skipped_total", Help: "Sweeps skipped because one was already in flight"})
		ResolveErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "arkpop_resolve_errors_total", Help: "Failed server status lookups by error kind"}, []string{"kind"})
		SamplesRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "arkpop_samples_recorded_total", Help: "Population samples written"})
		NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "arkpop_notifications_sent_total", Help: "Server-up notifications delivered"})
		NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "arkpop_notifications_failed_total", Help: "Server-up notifications that could not be delivered"}, []string{"kind"})
		MonitorsAutoRemoved = promauto.NewCounter(prometheus.CounterOpts{Name: "arkpop_monitors_auto_removed_total", Help: "Monitors removed because the recipient was unreachable"})
		Commands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "arkpop_commands_total", Help: "Chat commands handled"}, []string{"command", "outcome"})
		ChartRenders = promauto.NewCounterVec(prometheus.CounterOpts{Name: "arkpop_chart_renders_total", Help: "Chart images rendered"}, []string{"window"})
		SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "arkpop_sweep_duration_seconds", Help: "Duration of one status sweep", Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120}})
		ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "arkpop_resolve_duration_seconds", Help: "BattleMetrics lookup latency", Buckets: prometheus.DefBuckets})
		MonitoredServers = promauto.NewGauge(prometheus.GaugeOpts{Name: "arkpop_monitored_servers", Help: "Servers currently registered for notifications"})
	})
}

// ObserveResolve records one lookup's latency and, on failure, its error kind.
func ObserveResolve(d time.Duration, err error) {
	if ResolveDuration != nil {
		ResolveDuration.Observe(d.Seconds())
	}
	if err != nil && ResolveErrors != nil {
		ResolveErrors.WithLabelValues(apperr.KindOf(err).String()).Inc()
	}
}

// SetMonitored records the registry size.
func SetMonitored(n int) {
	if MonitoredServers != nil {
		MonitoredServers.Set(float64(n))
	}
}

// IncCommand counts a handled chat command.
func IncCommand(command, outcome string) {
	if Commands != nil {
		Commands.WithLabelValues(command, outcome).Inc()
	}
}

// Inc increments c when metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncVec increments the labeled child of v when metrics are initialized.
func IncVec(v *prometheus.CounterVec, labels ...string) {
	if v != nil {
		v.WithLabelValues(labels...).Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
