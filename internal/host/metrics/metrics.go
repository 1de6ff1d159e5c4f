// Package metrics exposes Prometheus instrumentation for a multipath
// host, following the teacher's promauto-based collector layout.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters and gauges a host drive loop updates on
// every Send/OnInbound/Tick cycle.
type Metrics struct {
	PayloadsSent     *prometheus.CounterVec
	PayloadsDelivered prometheus.Counter
	BytesSent        *prometheus.CounterVec
	AcksReceived     *prometheus.CounterVec
	Reassignments    prometheus.Counter
	NoSocketsLeft    prometheus.Counter
	ChannelWeight    *prometheus.GaugeVec
	ChannelCredit    *prometheus.GaugeVec
	ChannelRTT       *prometheus.GaugeVec
	ActiveChannels   prometheus.Gauge
	FECParityFrames  prometheus.Counter
	FECRecovered     prometheus.Counter
	FECFailed        prometheus.Counter
	TickDuration     prometheus.Histogram
}

// New creates a Metrics collector and registers it against the default
// Prometheus registry, namespaced under "qmux".
func New() *Metrics {
	const namespace = "qmux"
	const subsystem = "host"

	return &Metrics{
		PayloadsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payloads_sent_total",
				Help:      "Total number of payload frames sent, by channel.",
			},
			[]string{"channel"},
		),
		PayloadsDelivered: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payloads_delivered_total",
				Help:      "Total number of payloads delivered in order to the application.",
			},
		),
		BytesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "bytes_sent_total",
				Help:      "Total bytes sent, by channel.",
			},
			[]string{"channel"},
		),
		AcksReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "acks_received_total",
				Help:      "Total acknowledgments received, by ack space.",
			},
			[]string{"space"},
		),
		Reassignments: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reassignments_total",
				Help:      "Total number of payloads reassigned away from a discredited channel.",
			},
		),
		NoSocketsLeft: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "no_sockets_left_total",
				Help:      "Total number of times reassignment failed with no credible channel left.",
			},
		),
		ChannelWeight: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "channel_weight",
				Help:      "Current scheduler weight of a channel.",
			},
			[]string{"channel"},
		),
		ChannelCredit: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "channel_credit",
				Help:      "Current credit state of a channel (0=bad, 1=good).",
			},
			[]string{"channel"},
		),
		ChannelRTT: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "channel_rtt_seconds",
				Help:      "Last observed round-trip time of a channel.",
			},
			[]string{"channel"},
		),
		ActiveChannels: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_channels",
				Help:      "Number of channels currently registered with the engine.",
			},
		),
		FECParityFrames: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "fec_parity_frames_total",
				Help:      "Total number of FEC parity frames generated.",
			},
		),
		FECRecovered: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "fec_recovered_total",
				Help:      "Total number of FEC groups whose lost payloads were reconstructed.",
			},
		),
		FECFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "fec_failed_total",
				Help:      "Total number of FEC groups that failed to reconstruct.",
			},
		),
		TickDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tick_duration_seconds",
				Help:      "Wall-clock duration of each drive-loop tick.",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
			},
		),
	}
}
