package simulated

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitalink/internal/device"
	"github.com/srg/vitalink/pkg/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestSignals(t *testing.T) {
	assert.Equal(t, uint16(950), ECGSample(0), "ECG MUST spike on every 50th sample")
	assert.Equal(t, uint16(950), ECGSample(50))
	assert.Equal(t, uint16(501), ECGSample(1))
	assert.Equal(t, uint16(600), PPGSample(0))

	for n := 0; n < 1000; n++ {
		assert.LessOrEqual(t, ECGSample(n), uint16(1023))
		assert.LessOrEqual(t, PPGSample(n), uint16(1023))
		assert.GreaterOrEqual(t, PPGSample(n), uint16(449))
	}

	assert.Equal(t, uint16(500), DummyValue(0))
}

func TestDummyGeneratorProducesValidPackets(t *testing.T) {
	p := dummyGenerator(300, 0x01020304)

	require.Len(t, p, parser.DummyPacketLen)
	assert.Equal(t, byte(300&0xff), p[2], "seq MUST wrap at one byte")
	assert.Equal(t, parser.Checksum(p), p[9])

	s := parser.Resolve(parser.DummyV1ID)(p)
	magic, _ := s.Get(parser.FieldMagic)
	ts, _ := s.Get(parser.FieldTS)
	assert.Equal(t, true, magic)
	assert.Equal(t, uint32(0x01020304), ts)
}

func TestScanReportsAllPeripherals(t *testing.T) {
	tr := New(WithScanDelay(5*time.Millisecond), WithLogger(quietLogger()))

	var found []device.Descriptor
	require.NoError(t, tr.Scan(context.Background(), func(d device.Descriptor) { found = append(found, d) }))

	require.Len(t, found, 4)
	assert.Equal(t, "VitalLink Dummy", found[0].Name)
	assert.Equal(t, "VitalSensor_B", found[3].Name)
}

func TestScanHonoursCancellation(t *testing.T) {
	tr := New(WithScanDelay(time.Hour), WithLogger(quietLogger()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	called := false
	require.NoError(t, tr.Scan(ctx, func(device.Descriptor) { called = true }))

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, called)
}

func TestDial(t *testing.T) {
	tr := New(WithLogger(quietLogger()))

	l, err := tr.Dial(context.Background(), device.Descriptor{ID: "ecg-001"}, device.DialOptions{MTU: 512})
	require.NoError(t, err)
	assert.Equal(t, maxMTU, l.MTU(), "MTU MUST be capped")
	assert.Equal(t, "VitalLink ECG", l.Descriptor().Name)
	require.NoError(t, l.Close())

	_, err = tr.Dial(context.Background(), device.Descriptor{ID: "nope"}, device.DialOptions{})
	assert.ErrorIs(t, err, device.ErrUnreachable)
}

func TestDialTimeout(t *testing.T) {
	tr := New(WithDialDelay(time.Hour), WithLogger(quietLogger()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Dial(ctx, device.Descriptor{ID: "ppg-001"}, device.DialOptions{})

	assert.ErrorIs(t, err, device.ErrConnectTimeout)
}

func TestLinkStreamsAndDrops(t *testing.T) {
	// GOAL: Verify the simulated link streams packets and then drops remotely
	//
	// TEST SCENARIO: DropAfter 5 → exactly 5 ECG packets → Disconnected closed
	tr := New(WithTick(time.Millisecond), WithDropAfter(5), WithLogger(quietLogger()))
	l, err := tr.Dial(context.Background(), device.Descriptor{ID: "ecg-001"}, device.DialOptions{})
	require.NoError(t, err)

	var mu sync.Mutex
	var got [][]byte
	require.NoError(t, l.Subscribe(func(b []byte) {
		mu.Lock()
		got = append(got, b)
		mu.Unlock()
	}))

	select {
	case <-l.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("link MUST drop after the configured packet count")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 5)
	assert.Equal(t, parser.EncodeWaveform(950), got[0])
	assert.NoError(t, l.Close())
	assert.ErrorIs(t, l.Subscribe(func([]byte) {}), device.ErrNotConnected)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	tr := New(WithTick(time.Millisecond), WithLogger(quietLogger()))
	l, err := tr.Dial(context.Background(), device.Descriptor{ID: "dummy-001"}, device.DialOptions{})
	require.NoError(t, err)
	defer l.Close()

	var mu sync.Mutex
	count := 0
	require.NoError(t, l.Subscribe(func([]byte) {
		mu.Lock()
		count++
		mu.Unlock()
	}))
	assert.Error(t, l.Subscribe(func([]byte) {}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count > 0
	}, time.Second, time.Millisecond)

	require.NoError(t, l.Unsubscribe())
	require.NoError(t, l.Unsubscribe())

	mu.Lock()
	after := count
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, after, count, "no packet MUST arrive after Unsubscribe returns")
}
