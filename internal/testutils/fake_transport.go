package testutils

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/vitalink/internal/device"
)

// FakeTransport is a scripted device.Transport for tests. Configure the
// exported fields before handing it to a client.
type FakeTransport struct {
	// Advertisements are reported in order at the start of every scan.
	Advertisements []device.Descriptor
	// ScanErr is returned right after the advertisements.
	ScanErr error
	// IgnoreScanCancel keeps Scan blocked after its context ends, until
	// ReleaseScan is called.
	IgnoreScanCancel bool

	// DialErr fails every dial.
	DialErr error
	// BlockDial makes Dial wait for its context to end.
	BlockDial bool
	// DialDelay delays successful dials.
	DialDelay time.Duration
	// IgnoreDialCancel makes DialDelay run to completion regardless of ctx,
	// like a GATT exchange that takes no context.
	IgnoreDialCancel bool
	// MTU reported by links; zero means device.DefaultMTU.
	MTU int
	// SubscribeErr is copied into every new link.
	SubscribeErr error

	scanRelease chan struct{}
	releaseOnce sync.Once

	mu    sync.Mutex
	links []*FakeLink
	dials atomic.Int32
	scans atomic.Int32
}

var _ device.Transport = (*FakeTransport)(nil)

// NewFakeTransport creates a transport reporting ads.
func NewFakeTransport(ads ...device.Descriptor) *FakeTransport {
	return &FakeTransport{
		Advertisements: ads,
		scanRelease:    make(chan struct{}),
	}
}

func (t *FakeTransport) Scan(ctx context.Context, handler func(device.Descriptor)) error {
	t.scans.Add(1)
	for _, ad := range t.Advertisements {
		handler(ad)
	}
	if t.ScanErr != nil {
		return t.ScanErr
	}
	if t.IgnoreScanCancel {
		<-t.scanRelease
		return nil
	}
	<-ctx.Done()
	return nil
}

// ReleaseScan unblocks scans started with IgnoreScanCancel.
func (t *FakeTransport) ReleaseScan() {
	t.releaseOnce.Do(func() { close(t.scanRelease) })
}

func (t *FakeTransport) Dial(ctx context.Context, d device.Descriptor, opts device.DialOptions) (device.Link, error) {
	t.dials.Add(1)
	if t.BlockDial {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if t.DialDelay > 0 && t.IgnoreDialCancel {
		time.Sleep(t.DialDelay)
	} else if t.DialDelay > 0 {
		select {
		case <-time.After(t.DialDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.DialErr != nil {
		return nil, t.DialErr
	}

	mtu := t.MTU
	if mtu == 0 {
		mtu = device.DefaultMTU
	}
	l := NewFakeLink(d, mtu)
	l.SubscribeErr = t.SubscribeErr

	t.mu.Lock()
	t.links = append(t.links, l)
	t.mu.Unlock()
	return l, nil
}

// Dials counts Dial calls.
func (t *FakeTransport) Dials() int { return int(t.dials.Load()) }

// Scans counts Scan calls.
func (t *FakeTransport) Scans() int { return int(t.scans.Load()) }

// LastLink returns the most recently dialed link, or nil.
func (t *FakeTransport) LastLink() *FakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.links) == 0 {
		return nil
	}
	return t.links[len(t.links)-1]
}

// FakeLink is a device.Link whose notifications are driven by Emit.
type FakeLink struct {
	SubscribeErr error
	CloseErr     error

	desc device.Descriptor
	mtu  int

	mu           sync.Mutex
	handler      func([]byte)
	subscribes   int
	unsubscribes int
	closes       int

	done     chan struct{}
	dropOnce sync.Once
}

var _ device.Link = (*FakeLink)(nil)

func NewFakeLink(d device.Descriptor, mtu int) *FakeLink {
	return &FakeLink{desc: d, mtu: mtu, done: make(chan struct{})}
}

func (l *FakeLink) Descriptor() device.Descriptor { return l.desc }
func (l *FakeLink) MTU() int                      { return l.mtu }

func (l *FakeLink) Subscribe(handler func([]byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribes++
	if l.SubscribeErr != nil {
		return l.SubscribeErr
	}
	l.handler = handler
	return nil
}

func (l *FakeLink) Unsubscribe() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unsubscribes++
	l.handler = nil
	return nil
}

func (l *FakeLink) Disconnected() <-chan struct{} { return l.done }

func (l *FakeLink) Close() error {
	l.mu.Lock()
	l.closes++
	l.handler = nil
	err := l.CloseErr
	l.mu.Unlock()
	l.Drop()
	return err
}

// Emit delivers a notification the way a radio callback would. It reports
// false when nobody is subscribed.
func (l *FakeLink) Emit(data []byte) bool {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Drop simulates the peripheral going away.
func (l *FakeLink) Drop() {
	l.dropOnce.Do(func() { close(l.done) })
}

func (l *FakeLink) Subscribed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler != nil
}

// Counts returns how many times Subscribe, Unsubscribe and Close were called.
func (l *FakeLink) Counts() (subscribes, unsubscribes, closes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscribes, l.unsubscribes, l.closes
}
