//go:build test

package client_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/vitalink/internal/device"
	"github.com/srg/vitalink/internal/testutils"
	"github.com/srg/vitalink/pkg/client"
	"github.com/stretchr/testify/suite"
)

var sensor = device.Descriptor{ID: "dummy-001", Name: "VitalLink Dummy"}

type ClientTestSuite struct {
	suite.Suite
	helper    *testutils.TestHelper
	transport *testutils.FakeTransport
	client    *client.Client

	evMu   sync.Mutex
	events []client.DisconnectEvent
}

func (suite *ClientTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.transport = testutils.NewFakeTransport(sensor)
	suite.transport.MTU = 185
	suite.client = client.New(suite.transport, client.WithLogger(suite.helper.Logger))
	suite.events = nil
	suite.client.OnDisconnect(func(ev client.DisconnectEvent) {
		suite.evMu.Lock()
		suite.events = append(suite.events, ev)
		suite.evMu.Unlock()
	})
}

func (suite *ClientTestSuite) TearDownTest() {
	_ = suite.client.Disconnect()
}

func (suite *ClientTestSuite) disconnectEvents() []client.DisconnectEvent {
	suite.evMu.Lock()
	defer suite.evMu.Unlock()
	return append([]client.DisconnectEvent(nil), suite.events...)
}

func (suite *ClientTestSuite) connect() *client.Connection {
	conn, err := suite.client.Connect(context.Background(), sensor, client.ConnectOptions{MTU: 185})
	suite.Require().NoError(err, "MUST connect to the fake peripheral")
	return conn
}

// collector records payloads delivered to a subscription.
type collector struct {
	mu  sync.Mutex
	got [][]byte
}

func (c *collector) add(p []byte) {
	c.mu.Lock()
	c.got = append(c.got, p)
	c.mu.Unlock()
}

func (c *collector) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.got...)
}

func (suite *ClientTestSuite) TestConnect() {
	// GOAL: Verify Connect establishes a link and reports connection failures by kind
	//
	// TEST SCENARIO: Successful dial, duplicate connect, timeout, rejection and unreachable peripheral

	suite.Run("connects and reports negotiated MTU", func() {
		conn := suite.connect()

		suite.Assert().Equal(185, conn.MTU(), "MTU MUST be the negotiated value")
		suite.Assert().Equal(sensor, conn.Descriptor())
		suite.Assert().Equal(client.StateConnected, suite.client.State())
		suite.Assert().Same(conn, suite.client.Connection())
	})

	suite.Run("second connect fails with already connected", func() {
		_, err := suite.client.Connect(context.Background(), sensor, client.ConnectOptions{})

		suite.Assert().ErrorIs(err, device.ErrAlreadyConnected, "MUST reject a second connection")
		suite.Assert().Equal(1, suite.transport.Dials(), "MUST NOT dial again")
	})
}

func (suite *ClientTestSuite) TestConnectFailures() {
	tests := []struct {
		name    string
		setup   func(ft *testutils.FakeTransport)
		timeout time.Duration
		state   device.ConnectionState
	}{
		{
			name:    "unresponsive peripheral times out",
			setup:   func(ft *testutils.FakeTransport) { ft.BlockDial = true },
			timeout: 30 * time.Millisecond,
			state:   device.TimedOut,
		},
		{
			name:  "refused connection is rejected",
			setup: func(ft *testutils.FakeTransport) { ft.DialErr = errors.New("connection refused by peer") },
			state: device.Rejected,
		},
		{
			name:  "other failures are unreachable",
			setup: func(ft *testutils.FakeTransport) { ft.DialErr = errors.New("no such device") },
			state: device.Unreachable,
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			ft := testutils.NewFakeTransport()
			tt.setup(ft)
			c := client.New(ft, client.WithLogger(suite.helper.Logger))

			conn, err := c.Connect(context.Background(), sensor, client.ConnectOptions{Timeout: tt.timeout})

			suite.Assert().Nil(conn)
			suite.Assert().True(device.IsConnectionState(err, tt.state), "error MUST be %s, got %v", tt.state, err)
			suite.Assert().Equal(client.StateIdle, c.State(), "failed connect MUST leave the client idle")
		})
	}
}

func (suite *ClientTestSuite) TestConnectTimeoutWithUncooperativeTransport() {
	// GOAL: Verify the connect timeout holds even when the transport ignores its context
	//
	// TEST SCENARIO: Dial sleeps 300ms ignoring ctx → Connect(timeout 50ms) → timeout error promptly → late link closed

	suite.transport.DialDelay = 300 * time.Millisecond
	suite.transport.IgnoreDialCancel = true

	start := time.Now()
	conn, err := suite.client.Connect(context.Background(), sensor, client.ConnectOptions{Timeout: 50 * time.Millisecond})
	elapsed := time.Since(start)

	suite.Assert().Nil(conn)
	suite.Assert().True(device.IsConnectionState(err, device.TimedOut), "error MUST be timeout, got %v", err)
	suite.Assert().Less(elapsed, 250*time.Millisecond, "Connect MUST return by its deadline")
	suite.Assert().Equal(client.StateIdle, suite.client.State())

	suite.Require().True(testutils.WaitFor(time.Second, func() bool {
		link := suite.transport.LastLink()
		if link == nil {
			return false
		}
		_, _, closes := link.Counts()
		return closes == 1
	}), "a link completing after the deadline MUST be closed")
	suite.Assert().Nil(suite.client.Connection(), "a late link MUST NOT surface as a connection")
}

func (suite *ClientTestSuite) TestDisconnectAbortsPendingConnect() {
	// GOAL: Verify Disconnect cancels an in-flight connect
	//
	// TEST SCENARIO: Dial blocks → Disconnect → Connect returns canceled → manual event emitted

	suite.transport.BlockDial = true

	errCh := make(chan error, 1)
	go func() {
		_, err := suite.client.Connect(context.Background(), sensor, client.ConnectOptions{Timeout: 5 * time.Second})
		errCh <- err
	}()
	suite.Require().True(testutils.WaitFor(time.Second, func() bool {
		return suite.client.State() == client.StateConnecting && suite.transport.Dials() == 1
	}), "connect MUST be in flight")

	suite.Assert().NoError(suite.client.Disconnect())

	select {
	case err := <-errCh:
		suite.Assert().True(device.IsConnectionState(err, device.Canceled), "aborted connect MUST report canceled, got %v", err)
	case <-time.After(time.Second):
		suite.Fail("Connect MUST return promptly after Disconnect")
	}
	suite.Assert().Equal(client.StateIdle, suite.client.State())
	events := suite.disconnectEvents()
	suite.Require().Len(events, 1)
	suite.Assert().Equal(client.ReasonManual, events[0].Reason)
}

func (suite *ClientTestSuite) TestSubscribe() {
	// GOAL: Verify notifications reach the handler sequentially and in arrival order
	//
	// TEST SCENARIO: Emit many packets from the radio side → handler sees all of them in order

	conn := suite.connect()
	link := suite.transport.LastLink()
	got := &collector{}

	unsub, err := suite.client.Subscribe(conn, got.add)
	suite.Require().NoError(err)

	const n = 300
	buf := make([]byte, 2)
	for i := 0; i < n; i++ {
		buf[0], buf[1] = byte(i), byte(i>>8)
		suite.Require().True(link.Emit(buf), "link MUST be subscribed")
	}
	suite.Require().True(testutils.WaitFor(2*time.Second, func() bool { return len(got.snapshot()) == n }),
		"all notifications MUST be delivered")

	for i, p := range got.snapshot() {
		suite.Assert().Equal([]byte{byte(i), byte(i >> 8)}, p, "packet %d MUST arrive in order and as an owned copy", i)
	}

	suite.Run("second subscription is refused", func() {
		_, err := suite.client.Subscribe(conn, nil)
		suite.Assert().Error(err)
	})

	suite.Run("unsubscribe is idempotent and final", func() {
		suite.Assert().NoError(unsub())
		suite.Assert().NoError(unsub(), "second unsubscribe MUST be a no-op")

		before := len(got.snapshot())
		suite.Assert().False(link.Emit([]byte{1, 2}), "link MUST no longer be subscribed")
		time.Sleep(20 * time.Millisecond)
		suite.Assert().Equal(before, len(got.snapshot()), "no callback MUST run after unsubscribe returns")

		_, unsubs, _ := link.Counts()
		suite.Assert().Equal(1, unsubs, "link MUST be unsubscribed exactly once")
	})

	suite.Run("resubscribe after unsubscribe", func() {
		again := &collector{}
		unsub, err := suite.client.Subscribe(conn, again.add)
		suite.Require().NoError(err)
		defer func() { _ = unsub() }()

		link.Emit([]byte{9})
		suite.Assert().True(testutils.WaitFor(time.Second, func() bool { return len(again.snapshot()) == 1 }))
	})
}

func (suite *ClientTestSuite) TestSubscribeErrors() {
	suite.Run("stale connection", func() {
		conn := suite.connect()
		suite.Require().NoError(suite.client.Disconnect())

		_, err := suite.client.Subscribe(conn, nil)

		suite.Assert().ErrorIs(err, device.ErrNotConnected)
	})

	suite.Run("link refuses notifications", func() {
		suite.transport.SubscribeErr = errors.New("notify not permitted")
		conn := suite.connect()

		_, err := suite.client.Subscribe(conn, nil)

		suite.Assert().ErrorContains(err, "notify not permitted")
		suite.transport.SubscribeErr = nil
		_, err = suite.client.Subscribe(conn, nil)
		suite.Assert().Error(err, "link still refuses, but the client MUST have cleared the failed subscription")
		suite.Assert().NotContains(err.Error(), "already subscribed")
	})
}

func (suite *ClientTestSuite) TestHandlerPanicIsContained() {
	conn := suite.connect()
	link := suite.transport.LastLink()
	got := &collector{}
	first := true

	unsub, err := suite.client.Subscribe(conn, func(p []byte) {
		if first {
			first = false
			panic("boom")
		}
		got.add(p)
	})
	suite.Require().NoError(err)
	defer func() { _ = unsub() }()

	link.Emit([]byte{1})
	link.Emit([]byte{2})

	suite.Assert().True(testutils.WaitFor(time.Second, func() bool { return len(got.snapshot()) == 1 }),
		"delivery MUST continue after a handler panic")
	suite.Assert().Equal([]byte{2}, got.snapshot()[0])
}

func (suite *ClientTestSuite) TestQueueOverflowEvictsOldest() {
	// GOAL: Verify a slow consumer loses the oldest notifications, never the newest
	//
	// TEST SCENARIO: Handler blocks on the first packet → burst overflows the queue → newest packet still delivered

	c := client.New(suite.transport, client.WithLogger(suite.helper.Logger), client.WithQueueSize(4))
	defer func() { _ = c.Disconnect() }()
	conn, err := c.Connect(context.Background(), sensor, client.ConnectOptions{})
	suite.Require().NoError(err)
	link := suite.transport.LastLink()

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	got := &collector{}
	unsub, err := c.Subscribe(conn, func(p []byte) {
		if p[0] == 0 {
			entered <- struct{}{}
			<-gate
		}
		got.add(p)
	})
	suite.Require().NoError(err)
	defer func() { _ = unsub() }()

	link.Emit([]byte{0})
	<-entered
	const burst = 50
	for i := 1; i <= burst; i++ {
		link.Emit([]byte{byte(i)})
	}
	close(gate)

	suite.Require().True(testutils.WaitFor(time.Second, func() bool {
		s := got.snapshot()
		return len(s) > 0 && s[len(s)-1][0] == burst
	}), "newest notification MUST be delivered")

	s := got.snapshot()
	suite.Assert().Less(len(s), burst+1, "overflow MUST evict notifications")
	for i := 1; i < len(s); i++ {
		suite.Assert().Greater(s[i][0], s[i-1][0], "surviving notifications MUST stay in order")
	}
}

func (suite *ClientTestSuite) TestOnDataListeners() {
	conn := suite.connect()
	link := suite.transport.LastLink()
	first, second := &collector{}, &collector{}

	stopFirst := suite.client.OnData(first.add)
	stopSecond := suite.client.OnData(second.add)
	defer stopSecond()

	unsub, err := suite.client.Subscribe(conn, nil)
	suite.Require().NoError(err)
	defer func() { _ = unsub() }()

	link.Emit([]byte{1})
	suite.Require().True(testutils.WaitFor(time.Second, func() bool {
		return len(first.snapshot()) == 1 && len(second.snapshot()) == 1
	}), "every listener MUST receive the notification")

	stopFirst()
	stopFirst()
	link.Emit([]byte{2})
	suite.Require().True(testutils.WaitFor(time.Second, func() bool { return len(second.snapshot()) == 2 }))
	suite.Assert().Len(first.snapshot(), 1, "unregistered listener MUST NOT be called")
}

func (suite *ClientTestSuite) TestDisconnectEvents() {
	// GOAL: Verify manual and remote disconnects are reported with the right reason
	//
	// TEST SCENARIO: Manual Disconnect → manual event; link drop → remote event; each exactly once

	suite.Run("manual", func() {
		conn := suite.connect()
		link := suite.transport.LastLink()
		unsub, err := suite.client.Subscribe(conn, nil)
		suite.Require().NoError(err)

		suite.Assert().NoError(suite.client.Disconnect())
		suite.Assert().NoError(unsub(), "unsubscribe after disconnect MUST be a no-op")

		events := suite.disconnectEvents()
		suite.Require().Len(events, 1)
		suite.Assert().Equal(client.DisconnectEvent{Reason: client.ReasonManual, Device: sensor}, events[0])
		_, unsubs, closes := link.Counts()
		suite.Assert().Equal(1, unsubs, "manual teardown MUST unsubscribe")
		suite.Assert().Equal(1, closes, "manual teardown MUST close the link")
		suite.Assert().Nil(suite.client.Connection())

		time.Sleep(20 * time.Millisecond)
		suite.Assert().Len(suite.disconnectEvents(), 1, "closing the link MUST NOT add a remote event")
	})

	suite.Run("remote", func() {
		suite.evMu.Lock()
		suite.events = nil
		suite.evMu.Unlock()
		conn := suite.connect()
		link := suite.transport.LastLink()
		_, err := suite.client.Subscribe(conn, nil)
		suite.Require().NoError(err)

		link.Drop()

		suite.Require().True(testutils.WaitFor(time.Second, func() bool { return len(suite.disconnectEvents()) == 1 }))
		ev := suite.disconnectEvents()[0]
		suite.Assert().Equal(client.ReasonRemote, ev.Reason)
		suite.Assert().Equal(sensor, ev.Device)
		suite.Assert().Equal(client.StateIdle, suite.client.State())
		suite.Assert().False(link.Emit([]byte{1}), "lost link MUST be released")

		conn2, err := suite.client.Connect(context.Background(), sensor, client.ConnectOptions{})
		suite.Assert().NoError(err, "client MUST accept a new connection after a remote loss")
		suite.Assert().NotNil(conn2)
	})

	suite.Run("idle disconnect still notifies", func() {
		suite.Require().NoError(suite.client.Disconnect())
		suite.evMu.Lock()
		suite.events = nil
		suite.evMu.Unlock()

		suite.Assert().NoError(suite.client.Disconnect())

		events := suite.disconnectEvents()
		suite.Require().Len(events, 1)
		suite.Assert().Equal(client.ReasonManual, events[0].Reason)
		suite.Assert().Empty(events[0].Device.ID)
	})
}

func (suite *ClientTestSuite) TestDisconnectListenerUnregister() {
	count := 0
	var mu sync.Mutex
	stop := suite.client.OnDisconnect(func(client.DisconnectEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	suite.Require().NoError(suite.client.Disconnect())
	stop()
	suite.Require().NoError(suite.client.Disconnect())

	mu.Lock()
	defer mu.Unlock()
	suite.Assert().Equal(1, count, "unregistered listener MUST NOT be notified")
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
