// Package client manages the connection to a single sensor peripheral.
//
// A Client scans, connects, subscribes to the peripheral's notification
// stream and reports lifecycle changes to typed observers. Notifications are
// queued by the radio callback and delivered one at a time, in arrival order,
// on a dedicated goroutine per subscription, so handlers never run
// concurrently with each other.
package client

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitalink/internal/device"
	"github.com/srg/vitalink/internal/metrics"
	"github.com/srg/vitalink/internal/ringchan"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultQueueSize      = 1024

	discoveryBuffer = 64
)

// State is the client lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
)

// Reason explains why a connection ended.
type Reason string

const (
	ReasonManual Reason = "manual"
	ReasonRemote Reason = "remote"
)

// DisconnectEvent is emitted whenever a connection ends.
type DisconnectEvent struct {
	Reason Reason
	Device device.Descriptor
}

// ErrBusy is returned when an operation needs an idle client.
var ErrBusy = errors.New("client is busy")

// Connection is a live link handle returned by Connect.
type Connection struct {
	desc device.Descriptor
	mtu  int
	link device.Link
}

func (c *Connection) Descriptor() device.Descriptor { return c.desc }
func (c *Connection) MTU() int                      { return c.mtu }

// ConnectOptions tune Connect.
type ConnectOptions struct {
	// MTU to request; zero skips negotiation.
	MTU int
	// Timeout bounds the whole connect; zero means DefaultConnectTimeout.
	Timeout time.Duration
	// Service and Characteristic optionally pin the notification source.
	Service        string
	Characteristic string
}

// Client is safe for concurrent use.
type Client struct {
	transport device.Transport
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	queueSize uint32

	connMutex      sync.Mutex
	state          State
	conn           *Connection
	sub            *subscription
	connectCancel  func(error)
	connectAttempt uint64

	discoveries  *ringchan.RingChannel[device.Descriptor]
	dataObs      *observers[[]byte]
	disconnectOb *observers[DisconnectEvent]
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithQueueSize sets the per-subscription delivery queue capacity. When the
// queue is full the oldest notification is evicted.
func WithQueueSize(n uint32) Option {
	return func(c *Client) { c.queueSize = n }
}

// New creates a client using transport for all radio operations.
func New(transport device.Transport, opts ...Option) *Client {
	c := &Client{
		transport:   transport,
		queueSize:   DefaultQueueSize,
		state:       StateIdle,
		discoveries: ringchan.New[device.Descriptor](discoveryBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.New()
	}
	if c.queueSize == 0 {
		c.queueSize = DefaultQueueSize
	}
	c.dataObs = newObservers[[]byte]("data", c.logger)
	c.disconnectOb = newObservers[DisconnectEvent]("disconnect", c.logger)
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	return c.state
}

// Connection returns the live connection, or nil.
func (c *Client) Connection() *Connection {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	return c.conn
}

// Discoveries streams newly found peripherals during scans. The feed keeps
// only the most recent entries when nobody reads it.
func (c *Client) Discoveries() <-chan device.Descriptor {
	return c.discoveries.C()
}

// OnData registers a listener for every delivered notification. Listeners
// run on the delivery goroutine. The returned func unregisters it.
func (c *Client) OnData(fn func([]byte)) func() {
	return c.dataObs.add(fn)
}

// OnDisconnect registers a listener for connection termination.
func (c *Client) OnDisconnect(fn func(DisconnectEvent)) func() {
	return c.disconnectOb.add(fn)
}
