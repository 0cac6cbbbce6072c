package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "candlewire"

// Control call outcomes.
const (
	OutcomeOK         = "ok"
	OutcomeRejected   = "rejected"
	OutcomeTimeout    = "timeout"
	OutcomeConnection = "connection"
	OutcomeError      = "error"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	controlCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "calls_total",
			Help:      "Control channel calls by tag and outcome.",
		},
		[]string{"tag", "outcome"},
	)
	controlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "call_duration_seconds",
			Help:      "Control channel round trip duration in seconds.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"tag", "outcome"},
	)
	streamFrames = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames",
			Help:      "Cumulative stream frames per endpoint by state (published, sent, dropped, failed).",
		},
		[]string{"endpoint", "state"},
	)
	runtimeCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "commands_total",
			Help:      "Control commands handled by the runtime by tag and result.",
		},
		[]string{"tag", "result"},
	)
	runtimeStates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "states_total",
			Help:      "State updates received by the runtime by result.",
		},
		[]string{"result"},
	)
	runtimeRecording = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "recording",
			Help:      "1 while a recording is active.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			controlCalls, controlDuration,
			streamFrames,
			runtimeCommands, runtimeStates, runtimeRecording,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordControlCall(tag, outcome string, duration time.Duration) {
	RegisterMetrics()
	controlCalls.WithLabelValues(tag, outcome).Inc()
	controlDuration.WithLabelValues(tag, outcome).Observe(duration.Seconds())
}

// StreamCounts mirrors session.StreamStats without importing it.
type StreamCounts struct {
	Published uint64
	Sent      uint64
	Dropped   uint64
	Failed    uint64
}

func RecordStreamCounts(endpoint string, c StreamCounts) {
	RegisterMetrics()
	streamFrames.WithLabelValues(endpoint, "published").Set(float64(c.Published))
	streamFrames.WithLabelValues(endpoint, "sent").Set(float64(c.Sent))
	streamFrames.WithLabelValues(endpoint, "dropped").Set(float64(c.Dropped))
	streamFrames.WithLabelValues(endpoint, "failed").Set(float64(c.Failed))
}

func RecordRuntimeCommand(tag, result string) {
	RegisterMetrics()
	runtimeCommands.WithLabelValues(tag, result).Inc()
}

func RecordRuntimeState(result string) {
	RegisterMetrics()
	runtimeStates.WithLabelValues(result).Inc()
}

func SetRuntimeRecording(active bool) {
	RegisterMetrics()
	v := 0.0
	if active {
		v = 1
	}
	runtimeRecording.Set(v)
}
