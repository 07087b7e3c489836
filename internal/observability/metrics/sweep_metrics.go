package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SweepMetrics tracks the hold reconciliation sweep. Open holds that outlive
// their job are the main leak the sweep exists to catch, so backlog and
// release counts are first-class signals.
type SweepMetrics struct {
	holdsReleased  *prometheus.CounterVec
	sweepRuns      *prometheus.CounterVec
	openHolds      prometheus.Gauge
	oldestOpenHold prometheus.Gauge
}

var (
	sweepMetricsOnce sync.Once
	sweepMetrics     *SweepMetrics
)

func Sweep() *SweepMetrics {
	return SweepWithConfig(Config{})
}

func SweepWithConfig(cfg Config) *SweepMetrics {
	sweepMetricsOnce.Do(func() {
		sweepMetrics = newSweepMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return sweepMetrics
}

func ResetSweepMetricsForTest() {
	sweepMetricsOnce = sync.Once{}
	sweepMetrics = nil
}

func newSweepMetrics(registerer prometheus.Registerer, cfg Config) *SweepMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "creditcore"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	holdsReleased := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "creditcore_stale_holds_released_total",
			Help:        "Holds released by the reconciliation sweep.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // released | skipped | failed
	)

	sweepRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "creditcore_hold_sweep_runs_total",
			Help:        "Total reconciliation sweep executions.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // success | error
	)

	openHolds := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "creditcore_open_holds_total",
			Help:        "Number of currently open credit holds.",
			ConstLabels: constLabels,
		},
	)

	oldestOpenHold := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "creditcore_oldest_open_hold_seconds",
			Help:        "Age of the oldest open credit hold.",
			ConstLabels: constLabels,
		},
	)

	registerer.MustRegister(
		holdsReleased,
		sweepRuns,
		openHolds,
		oldestOpenHold,
	)

	return &SweepMetrics{
		holdsReleased:  holdsReleased,
		sweepRuns:      sweepRuns,
		openHolds:      openHolds,
		oldestOpenHold: oldestOpenHold,
	}
}

func (m *SweepMetrics) IncHoldsReleased(result string) {
	if m == nil {
		return
	}
	m.holdsReleased.WithLabelValues(result).Inc()
}

func (m *SweepMetrics) IncSweepRun(result string) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
}

func (m *SweepMetrics) SetOpenHolds(value int) {
	if m == nil {
		return
	}
	m.openHolds.Set(float64(value))
}

func (m *SweepMetrics) SetOldestOpenHold(age time.Duration) {
	if m == nil {
		return
	}

	seconds := age.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.oldestOpenHold.Set(seconds)
}
