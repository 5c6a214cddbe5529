package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framingResyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ewbridge",
			Subsystem: "frame",
			Name:      "resyncs_total",
			Help:      "Framing violations that forced a re-sync.",
		},
		[]string{"reason"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ewbridge",
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "Assembled messages by classification.",
		},
		[]string{"variant", "kind"},
	)
	protocolDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ewbridge",
			Subsystem: "session",
			Name:      "dropped_total",
			Help:      "Messages dropped by the dispatcher.",
		},
		[]string{"reason"},
	)
	outbound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ewbridge",
			Subsystem: "session",
			Name:      "outbound_total",
			Help:      "Messages written to the export (heartbeats and acks).",
		},
		[]string{"kind", "success"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ewbridge",
			Subsystem: "tracebuf",
			Name:      "decode_errors_total",
			Help:      "Payloads rejected by the trace decoder.",
		},
		[]string{"reason"},
	)
	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ewbridge",
			Subsystem: "tracebuf",
			Name:      "packets_total",
			Help:      "Waveform packets delivered to the sink.",
		},
		[]string{"swapped"},
	)
	samples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ewbridge",
			Subsystem: "tracebuf",
			Name:      "samples_total",
			Help:      "Samples delivered to the sink.",
		},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ewbridge",
			Subsystem: "link",
			Name:      "reconnects_total",
			Help:      "Connection teardowns followed by re-acquisition.",
		},
		[]string{"topology", "reason"},
	)
	connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ewbridge",
			Subsystem: "link",
			Name:      "state",
			Help:      "1 for the current connection state, 0 otherwise.",
		},
		[]string{"state"},
	)
	sinkDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ewbridge",
			Subsystem: "sink",
			Name:      "deliveries_total",
			Help:      "Sample batches handed to downstream sinks.",
		},
		[]string{"sink", "result"},
	)
	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ewbridge",
			Subsystem: "sink",
			Name:      "websocket_clients",
			Help:      "Connected websocket stream clients.",
		},
	)
	connectedDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ewbridge",
			Subsystem: "link",
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of upstream connections.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framingResyncs,
			messages,
			protocolDrops,
			outbound,
			decodeErrors,
			packets,
			samples,
			reconnects,
			connectionState,
			connectedDuration,
			sinkDeliveries,
			wsClients,
			adminRequests,
		)
	})
}

func RecordResync(reason string) {
	RegisterMetrics()
	framingResyncs.WithLabelValues(reason).Inc()
}

func RecordMessage(variant, kind string) {
	RegisterMetrics()
	messages.WithLabelValues(variant, kind).Inc()
}

func RecordDrop(reason string) {
	RegisterMetrics()
	protocolDrops.WithLabelValues(reason).Inc()
}

func RecordOutbound(kind string, success bool) {
	RegisterMetrics()
	outbound.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

func RecordDecodeError(reason string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(reason).Inc()
}

func RecordPacket(swapped bool, count int) {
	RegisterMetrics()
	packets.WithLabelValues(strconv.FormatBool(swapped)).Inc()
	samples.Add(float64(count))
}

func RecordReconnect(topology, reason string) {
	RegisterMetrics()
	reconnects.WithLabelValues(topology, reason).Inc()
}

// RecordState marks current as the only active connection state among all.
func RecordState(current string, all []string) {
	RegisterMetrics()
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

func RecordConnectionClosed(lifetime time.Duration) {
	RegisterMetrics()
	connectedDuration.Observe(lifetime.Seconds())
}

// RecordSinkDelivery counts one batch for sink with result "ok", "error" or
// "dropped".
func RecordSinkDelivery(sink, result string) {
	RegisterMetrics()
	sinkDeliveries.WithLabelValues(sink, result).Inc()
}

func SetWebSocketClients(n int) {
	RegisterMetrics()
	wsClients.Set(float64(n))
}
