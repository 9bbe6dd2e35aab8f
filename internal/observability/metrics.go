package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the engine, plus a
// rolling in-process latency window for the perf endpoint.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	TransportMessages *prometheus.CounterVec
	TransportErrors   *prometheus.CounterVec
	ToolCalls         *prometheus.CounterVec
	ToolCallLatency   prometheus.Histogram
	FirstAudioLatency prometheus.Histogram
	BargeInFlush      prometheus.Histogram
	PlaybackDepth     prometheus.Gauge
	CaptureDropped    prometheus.Counter

	turnWindow *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active realtime voice sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		TransportMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_messages_total",
			Help:      "Transport messages by kind, direction and type.",
		}, []string{"transport", "direction", "type"}),
		TransportErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Transport errors by kind and code.",
		}, []string{"transport", "code"}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Model-requested tool calls by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolCallLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_latency_ms",
			Help:      "Executor round-trip latency per tool call in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 800, 1500, 3000, 6000},
		}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency to first assistant audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		BargeInFlush: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "barge_in_flush_ms",
			Help:      "Time from speech-started to playback buffer clear in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 75, 100, 200},
		}),
		PlaybackDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_buffer_samples",
			Help:      "Samples currently buffered for playback.",
		}),
		CaptureDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_dropped_total",
			Help:      "Microphone frames dropped because the sender fell behind.",
		}),
		turnWindow: newTurnStageWindow(256),
	}
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
	m.ObserveTurnStage("ready_to_first_audio", d)
}

func (m *Metrics) ObserveBargeInFlush(d time.Duration) {
	m.BargeInFlush.Observe(float64(d.Milliseconds()))
	m.ObserveTurnStage("speech_started_to_flush", d)
}

func (m *Metrics) ObserveToolCall(tool, outcome string, d time.Duration) {
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	m.ToolCallLatency.Observe(float64(d.Milliseconds()))
	m.ObserveTurnStage("tool_announce_to_output", d)
}

func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	if m == nil || m.turnWindow == nil {
		return
	}
	m.turnWindow.Observe(stage, float64(d.Nanoseconds())/1e6)
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.turnWindow.ObserveIndicator(name)
}

func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	return m.turnWindow.Snapshot()
}

func (m *Metrics) ResetTurnStages() {
	m.turnWindow.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
