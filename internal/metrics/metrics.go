// Package metrics provides Prometheus metrics for the SSP carrier.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "moshrelay"

// Metrics contains all Prometheus metrics for a running session.
type Metrics struct {
	// Instruction traffic
	InstructionsSent     prometheus.Counter
	InstructionsReceived prometheus.Counter
	Retransmits          prometheus.Counter
	Heartbeats           prometheus.Counter
	DuplicatesDropped    prometheus.Counter

	// Fragment traffic
	FragmentsSent     prometheus.Counter
	FragmentsReceived prometheus.Counter
	AssemblyResets     prometheus.Counter

	// Ingress errors (swallowed at the facade per spec §7, counted here)
	DecryptFailures  prometheus.Counter
	MalformedDropped *prometheus.CounterVec

	// Data transfer
	BytesSent     prometheus.Counter
	BytesReceived prometheus.Counter

	// RTT/RTO observability
	SRTTMillis prometheus.Gauge
	RTOMillis  prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance, registered against the
// global Prometheus registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against
// prometheus.DefaultRegisterer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom
// registry, so tests and multiple concurrent sessions avoid colliding on
// the global default.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		InstructionsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instructions_sent_total",
			Help:      "Total Instructions transmitted, including retransmissions.",
		}),
		InstructionsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instructions_received_total",
			Help:      "Total Instructions successfully decoded from reassembled fragments.",
		}),
		Retransmits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmits_total",
			Help:      "Total RTO-driven retransmissions.",
		}),
		Heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Total heartbeat (pure-ACK) Instructions sent.",
		}),
		DuplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_dropped_total",
			Help:      "Total inbound Instructions ignored as duplicate or stale.",
		}),
		FragmentsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_sent_total",
			Help:      "Total fragment datagrams transmitted.",
		}),
		FragmentsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_received_total",
			Help:      "Total fragment datagrams received.",
		}),
		AssemblyResets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assembly_resets_total",
			Help:      "Total times fragment reassembly discarded partial state for a newer instruction id.",
		}),
		DecryptFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decrypt_failures_total",
			Help:      "Total inbound packets that failed AEAD authentication.",
		}),
		MalformedDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_dropped_total",
			Help:      "Total inbound packets dropped for a reason other than decryption failure.",
		}, []string{"reason"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total application bytes written to the stream channel.",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total application bytes delivered from the stream channel.",
		}),
		SRTTMillis: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "srtt_milliseconds",
			Help:      "Current smoothed round-trip time estimate.",
		}),
		RTOMillis: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rto_milliseconds",
			Help:      "Current retransmission timeout.",
		}),
	}
}

// RecordSend records one transmitted Instruction, distinguishing a fresh
// send from a retransmission.
func (m *Metrics) RecordSend(isRetransmit bool) {
	m.InstructionsSent.Inc()
	if isRetransmit {
		m.Retransmits.Inc()
	}
}

// RecordHeartbeat records one heartbeat Instruction sent.
func (m *Metrics) RecordHeartbeat() {
	m.Heartbeats.Inc()
}

// RecordReceive records one Instruction successfully decoded.
func (m *Metrics) RecordReceive(delivered bool) {
	m.InstructionsReceived.Inc()
	if !delivered {
		m.DuplicatesDropped.Inc()
	}
}

// RecordFragmentSent records one fragment datagram transmitted.
func (m *Metrics) RecordFragmentSent() {
	m.FragmentsSent.Inc()
}

// RecordFragmentReceived records one fragment datagram received.
func (m *Metrics) RecordFragmentReceived() {
	m.FragmentsReceived.Inc()
}

// RecordAssemblyReset records reassembly state being discarded for a
// newer instruction id.
func (m *Metrics) RecordAssemblyReset() {
	m.AssemblyResets.Inc()
}

// RecordDecryptFailure records one inbound packet that failed AEAD
// authentication.
func (m *Metrics) RecordDecryptFailure() {
	m.DecryptFailures.Inc()
}

// RecordMalformedDrop records one inbound packet dropped for the given
// reason (e.g. "fragment_header", "decode_failed").
func (m *Metrics) RecordMalformedDrop(reason string) {
	m.MalformedDropped.WithLabelValues(reason).Inc()
}

// RecordBytesSent adds n application bytes to the sent counter.
func (m *Metrics) RecordBytesSent(n int) {
	m.BytesSent.Add(float64(n))
}

// RecordBytesReceived adds n application bytes to the received counter.
func (m *Metrics) RecordBytesReceived(n int) {
	m.BytesReceived.Add(float64(n))
}

// SetRTT updates the RTT/RTO gauges from current session stats.
func (m *Metrics) SetRTT(srttMs, rtoMs float64) {
	m.SRTTMillis.Set(srttMs)
	m.RTOMillis.Set(rtoMs)
}
