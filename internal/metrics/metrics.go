// Package metrics exposes Prometheus instrumentation for the streaming
// pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vitalink"

// Metrics groups the pipeline collectors.
type Metrics struct {
	notifications   prometheus.Counter
	dropped         prometheus.Counter
	deliveryLatency prometheus.Histogram
	connected       prometheus.Gauge
	disconnects     *prometheus.CounterVec

	packets       prometheus.Counter
	decodeErrors  *prometheus.CounterVec
	waveformFill  prometheus.Gauge
	recordedRows  prometheus.Counter
	recordingsOut *prometheus.CounterVec
	recording     prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications received from the peripheral.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications evicted from the delivery queue before processing.",
		}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_latency_seconds",
			Help:      "Time from notification arrival to handler completion.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a peripheral connection is live.",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Connection terminations by reason.",
		}, []string{"reason"}),
		packets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_processed_total",
			Help:      "Packets handled by the streaming session.",
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Packets that failed to decode, by kind (panic or in-band).",
		}, []string{"kind"}),
		waveformFill: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waveform_samples",
			Help:      "Samples currently held in the waveform buffer.",
		}),
		recordedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_rows_total",
			Help:      "Rows appended to recordings.",
		}),
		recordingsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_saved_total",
			Help:      "Recording save attempts by result.",
		}, []string{"result"}),
		recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording_active",
			Help:      "1 while a recording is in progress.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.notifications, m.dropped, m.deliveryLatency, m.connected, m.disconnects,
			m.packets, m.decodeErrors, m.waveformFill, m.recordedRows, m.recordingsOut, m.recording,
		)
	}
	return m
}

func boolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

func (m *Metrics) NotificationReceived() {
	if m != nil {
		m.notifications.Inc()
	}
}

func (m *Metrics) NotificationsDropped(n int) {
	if m != nil && n > 0 {
		m.dropped.Add(float64(n))
	}
}

// ObserveDelivery records the queue-to-handler latency in seconds.
func (m *Metrics) ObserveDelivery(seconds float64) {
	if m != nil {
		m.deliveryLatency.Observe(seconds)
	}
}

func (m *Metrics) SetConnected(v bool) {
	if m != nil {
		boolGauge(m.connected, v)
	}
}

func (m *Metrics) Disconnected(reason string) {
	if m != nil {
		m.disconnects.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) PacketProcessed() {
	if m != nil {
		m.packets.Inc()
	}
}

// DecodeFailed counts a failed decode; kind is "panic" or "inband".
func (m *Metrics) DecodeFailed(kind string) {
	if m != nil {
		m.decodeErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SetWaveformFill(n int) {
	if m != nil {
		m.waveformFill.Set(float64(n))
	}
}

func (m *Metrics) RowRecorded() {
	if m != nil {
		m.recordedRows.Inc()
	}
}

func (m *Metrics) RecordingSaved(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.recordingsOut.WithLabelValues("error").Inc()
		return
	}
	m.recordingsOut.WithLabelValues("ok").Inc()
}

func (m *Metrics) SetRecording(v bool) {
	if m != nil {
		boolGauge(m.recording, v)
	}
}
