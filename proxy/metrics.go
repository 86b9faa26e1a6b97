package proxy

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lastCycleTimestamp is a Gauge that captures the timestamp of the last
	// successful cycle
	lastCycleTimestamp prometheus.Gauge
	// cycleCount is a Counter vector of cycles
	cycleCount *prometheus.CounterVec
	// cycleLatency is a Histogram that keeps track of cycle durations
	cycleLatency prometheus.Histogram
	// cycleFailures is a Counter vector of failed cycles by failing step
	cycleFailures *prometheus.CounterVec
)

// EnableMetrics will enable metrics collection for proxy cycles.
// Available metrics are...
//   - last_cycle_timestamp
//     A Gauge that captures the Timestamp of the last successful cycle.
//   - cycle_count - (tags: success)
//     A Counter for each cycle, incremented with each attempt and tagged with the result (success=true|false)
//   - cycle_latency_seconds
//     A Histogram that keeps track of the cycle latency.
//   - cycle_failures - (tags: step)
//     A Counter of failed cycles tagged with the step that failed.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	factory := promauto.With(registerer)

	lastCycleTimestamp = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "last_cycle_timestamp",
		Help:      "Timestamp of the last successful proxy cycle",
	})

	cycleCount = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cycle_count",
		Help:      "Count of proxy cycles",
	},
		[]string{
			// Whether the cycle was successful or not
			"success",
		},
	)

	cycleLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "cycle_latency_seconds",
		Help:      "Latency for proxy cycle",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 90, 120, 150, 300, 600, 1800},
	})

	cycleFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cycle_failures",
		Help:      "Count of failed proxy cycles by step",
	},
		[]string{
			// step of the cycle which failed
			"step",
		},
	)
}

// recordCycle records a cycle attempt by updating all the relevant metrics
func recordCycle(start time.Time, err error) {
	// if metrics not enabled return
	if lastCycleTimestamp == nil || cycleCount == nil || cycleLatency == nil || cycleFailures == nil {
		return
	}
	success := err == nil
	if success {
		lastCycleTimestamp.SetToCurrentTime()
	} else {
		step := "unknown"
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			step = stepErr.Step
		}
		cycleFailures.WithLabelValues(step).Inc()
	}
	cycleCount.WithLabelValues(strconv.FormatBool(success)).Inc()
	cycleLatency.Observe(time.Since(start).Seconds())
}
