package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mcpreg/internal/domain"
)

type RegistryMetrics struct {
	mountAttempts   *prometheus.CounterVec
	unmounts        *prometheus.CounterVec
	activeMounts    *prometheus.GaugeVec
	dispatchLatency *prometheus.HistogramVec
	refreshRuns     *prometheus.CounterVec
	refreshLatency  *prometheus.HistogramVec
	registryEntries *prometheus.GaugeVec
}

func NewRegistryMetrics(registerer prometheus.Registerer) *RegistryMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &RegistryMetrics{
		mountAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpreg_mount_attempts_total",
				Help: "Total number of mount activation attempts",
			},
			[]string{"launch_method", "status"},
		),
		unmounts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpreg_unmounts_total",
				Help: "Total number of mount teardowns",
			},
			[]string{"launch_method", "status"},
		),
		activeMounts: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mcpreg_active_mounts",
				Help: "Current number of active mounts",
			},
			[]string{"launch_method"},
		),
		dispatchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpreg_tool_dispatch_duration_seconds",
				Help:    "Duration of dispatched tool calls in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"prefix", "status"},
		),
		refreshRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpreg_refresh_runs_total",
				Help: "Total number of source refresh executions",
			},
			[]string{"source", "status"},
		),
		refreshLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpreg_refresh_duration_seconds",
				Help:    "Duration of source refresh executions in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"source"},
		),
		registryEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mcpreg_registry_entries",
				Help: "Current number of registry entries per source",
			},
			[]string{"source"},
		),
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *RegistryMetrics) ObserveMount(launch domain.LaunchMethod, duration time.Duration, err error) {
	m.mountAttempts.WithLabelValues(string(launch), statusLabel(err)).Inc()
}

func (m *RegistryMetrics) ObserveUnmount(launch domain.LaunchMethod, err error) {
	m.unmounts.WithLabelValues(string(launch), statusLabel(err)).Inc()
}

func (m *RegistryMetrics) ObserveDispatch(prefix string, duration time.Duration, err error) {
	m.dispatchLatency.WithLabelValues(prefix, statusLabel(err)).Observe(duration.Seconds())
}

func (m *RegistryMetrics) ObserveRefresh(source domain.SourceType, duration time.Duration, err error) {
	m.refreshRuns.WithLabelValues(string(source), statusLabel(err)).Inc()
	m.refreshLatency.WithLabelValues(string(source)).Observe(duration.Seconds())
}

func (m *RegistryMetrics) SetActiveMounts(launch domain.LaunchMethod, count int) {
	m.activeMounts.WithLabelValues(string(launch)).Set(float64(count))
}

func (m *RegistryMetrics) SetEntryCount(source domain.SourceType, count int) {
	m.registryEntries.WithLabelValues(string(source)).Set(float64(count))
}

var _ domain.Metrics = (*RegistryMetrics)(nil)
