package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.NotificationReceived()
	m.NotificationReceived()
	m.NotificationsDropped(3)
	m.NotificationsDropped(0)
	m.SetConnected(true)
	m.Disconnected("remote")
	m.PacketProcessed()
	m.DecodeFailed("panic")
	m.SetWaveformFill(42)
	m.RowRecorded()
	m.RecordingSaved(nil)
	m.RecordingSaved(errors.New("disk full"))
	m.SetRecording(true)
	m.SetRecording(false)
	m.ObserveDelivery(0.002)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.notifications))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.dropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.disconnects.WithLabelValues("remote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.packets))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeErrors.WithLabelValues("panic")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.waveformFill))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordedRows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordingsOut.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordingsOut.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.recording))
	assert.Equal(t, 1, testutil.CollectAndCount(m.deliveryLatency))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.NotificationReceived()
		m.NotificationsDropped(1)
		m.ObserveDelivery(1)
		m.SetConnected(true)
		m.Disconnected("manual")
		m.PacketProcessed()
		m.DecodeFailed("inband")
		m.SetWaveformFill(1)
		m.RowRecorded()
		m.RecordingSaved(nil)
		m.SetRecording(true)
	})
}
