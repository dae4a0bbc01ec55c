// Package simulated provides a device.Transport backed by synthetic
// peripherals. It streams ECG-like, PPG-like and structured packets at the
// same cadence as the real sensors and can simulate a remote disconnect.
package simulated

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitalink/internal/device"
	"github.com/srg/vitalink/internal/groutine"
)

const (
	defaultTick      = 10 * time.Millisecond
	defaultScanDelay = 600 * time.Millisecond
	maxMTU           = 247
)

// Peripherals advertised by default. The last one is never whitelisted.
var defaultPeripherals = []device.Descriptor{
	{ID: "dummy-001", Name: "VitalLink Dummy", RSSI: -48},
	{ID: "ecg-001", Name: "VitalLink ECG", RSSI: -55},
	{ID: "ppg-001", Name: "VitalLink PPG", RSSI: -61},
	{ID: "mock-2", Name: "VitalSensor_B", RSSI: -70},
}

// Transport is a simulated radio.
type Transport struct {
	peripherals []device.Descriptor
	tick        time.Duration
	scanDelay   time.Duration
	dialDelay   time.Duration
	dropAfter   int
	now         func() time.Time
	logger      *logrus.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithPeripherals replaces the advertised peripherals.
func WithPeripherals(p ...device.Descriptor) Option {
	return func(t *Transport) { t.peripherals = append([]device.Descriptor(nil), p...) }
}

// WithTick sets the notification interval.
func WithTick(d time.Duration) Option {
	return func(t *Transport) { t.tick = d }
}

// WithScanDelay sets how long a scan waits before reporting peripherals.
func WithScanDelay(d time.Duration) Option {
	return func(t *Transport) { t.scanDelay = d }
}

// WithDialDelay makes Dial take d (cancellable).
func WithDialDelay(d time.Duration) Option {
	return func(t *Transport) { t.dialDelay = d }
}

// WithDropAfter makes every link drop remotely after n notifications.
func WithDropAfter(n int) Option {
	return func(t *Transport) { t.dropAfter = n }
}

// WithClock overrides the clock used for packet timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New creates a simulated transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		peripherals: defaultPeripherals,
		tick:        defaultTick,
		scanDelay:   defaultScanDelay,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logrus.New()
	}
	return t
}

// Scan waits for the scan delay and reports all peripherals.
func (t *Transport) Scan(ctx context.Context, handler func(device.Descriptor)) error {
	timer := time.NewTimer(t.scanDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}
	for _, p := range t.peripherals {
		handler(p)
	}
	return nil
}

// Dial connects to a known peripheral.
func (t *Transport) Dial(ctx context.Context, d device.Descriptor, opts device.DialOptions) (device.Link, error) {
	known, ok := t.lookup(d)
	if !ok {
		return nil, device.NewConnectionError(device.Unreachable, fmt.Sprintf("no simulated peripheral %q", d.ID), nil)
	}

	if t.dialDelay > 0 {
		timer := time.NewTimer(t.dialDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, device.ClassifyDialError(ctx, ctx.Err())
		case <-timer.C:
		}
	}

	mtu := device.DefaultMTU
	if opts.MTU > 0 {
		mtu = min(opts.MTU, maxMTU)
	}

	t.logger.WithFields(logrus.Fields{
		"address": known.ID,
		"name":    known.Name,
		"mtu":     mtu,
	}).Info("Simulated device connected")

	return &link{
		desc:      known,
		mtu:       mtu,
		gen:       generatorFor(known.Name),
		tick:      t.tick,
		dropAfter: t.dropAfter,
		now:       t.now,
		logger:    t.logger,
		done:      make(chan struct{}),
	}, nil
}

func (t *Transport) lookup(d device.Descriptor) (device.Descriptor, bool) {
	for _, p := range t.peripherals {
		if p.ID == d.ID {
			return p, true
		}
	}
	return device.Descriptor{}, false
}

func generatorFor(name string) Generator {
	switch {
	case strings.Contains(name, "ECG"):
		return ecgGenerator
	case strings.Contains(name, "PPG"):
		return ppgGenerator
	default:
		return dummyGenerator
	}
}

type link struct {
	desc      device.Descriptor
	mtu       int
	gen       Generator
	tick      time.Duration
	dropAfter int
	now       func() time.Time
	logger    *logrus.Logger

	mu     sync.Mutex
	stop   chan struct{}
	exited chan struct{}

	done     chan struct{}
	doneOnce sync.Once
}

func (l *link) Descriptor() device.Descriptor { return l.desc }
func (l *link) MTU() int                      { return l.mtu }
func (l *link) Disconnected() <-chan struct{} { return l.done }

func (l *link) Subscribe(handler func([]byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.done:
		return device.ErrNotConnected
	default:
	}
	if l.stop != nil {
		return fmt.Errorf("simulated %s: already subscribed", l.desc.ID)
	}

	stop := make(chan struct{})
	exited := make(chan struct{})
	l.stop, l.exited = stop, exited

	groutine.Go(context.Background(), "sim-notify-"+l.desc.ID, func(ctx context.Context) {
		defer close(exited)
		ticker := time.NewTicker(l.tick)
		defer ticker.Stop()

		for n := 0; ; n++ {
			select {
			case <-stop:
				return
			case <-l.done:
				return
			case <-ticker.C:
			}
			if l.dropAfter > 0 && n >= l.dropAfter {
				l.logger.WithField("address", l.desc.ID).Warn("Simulated peripheral dropped the connection")
				l.markDone()
				return
			}
			handler(l.gen(n, uint32(l.now().UnixMilli())))
		}
	})
	return nil
}

func (l *link) Unsubscribe() error {
	l.mu.Lock()
	stop, exited := l.stop, l.exited
	l.stop, l.exited = nil, nil
	l.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-exited
	return nil
}

func (l *link) Close() error {
	err := l.Unsubscribe()
	l.markDone()
	return err
}

func (l *link) markDone() {
	l.doneOnce.Do(func() { close(l.done) })
}
