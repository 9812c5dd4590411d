package ratelimit

// Metric names passed to a MetricsRecorder. Counters are recorded with Add,
// the backend latency with Observe (seconds). Every record carries a
// "limiter" tag with the limiter's name.
const (
	MetricAllowed        = "ratelimit.allowed"
	MetricLimited        = "ratelimit.limited"
	MetricSkipped        = "ratelimit.skipped"
	MetricFailOpen       = "ratelimit.failopen"
	MetricBackendLatency = "ratelimit.backend.latency"
)

// MetricsRecorder receives counters and timings from a limiter. Implementors
// bridge to whatever metrics system the application runs; see cmd/exampleweb
// for a prometheus bridge.
type MetricsRecorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// NoOpMetricsRecorder is a placeholder that does nothing. It ensures the hot
// path never has to nil-check the recorder.
type NoOpMetricsRecorder struct{}

func (NoOpMetricsRecorder) Add(name string, value float64, tags map[string]string)     {}
func (NoOpMetricsRecorder) Observe(name string, value float64, tags map[string]string) {}
