package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitalink/internal/device"
	"github.com/srg/vitalink/internal/groutine"
)

var errDisconnectRequested = errors.New("disconnect requested")

// Connect dials the peripheral and negotiates the MTU (best effort). Failure
// kinds are reported as *device.ConnectionError: unreachable, rejected,
// timeout, canceled and already_connected. A Disconnect issued while the
// connect is in flight aborts it.
func (c *Client) Connect(ctx context.Context, d device.Descriptor, opts ConnectOptions) (*Connection, error) {
	c.connMutex.Lock()
	switch c.state {
	case StateConnected:
		c.connMutex.Unlock()
		return nil, device.ErrAlreadyConnected
	case StateConnecting:
		c.connMutex.Unlock()
		return nil, device.NewConnectionError(device.AlreadyConnected, "connect already in progress", nil)
	case StateScanning:
		c.connMutex.Unlock()
		return nil, fmt.Errorf("connect: %w (scanning)", ErrBusy)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	attemptCtx, abort := context.WithCancelCause(ctx)
	dialCtx, cancelDial := context.WithTimeout(attemptCtx, timeout)
	defer cancelDial()
	defer abort(nil)

	c.state = StateConnecting
	c.connectAttempt++
	attempt := c.connectAttempt
	c.connectCancel = abort
	c.connMutex.Unlock()

	c.logger.WithFields(logrus.Fields{
		"address": d.ID,
		"name":    d.Name,
		"mtu":     opts.MTU,
		"timeout": timeout,
	}).Info("Connecting to device...")

	link, err := c.dial(dialCtx, d, device.DialOptions{
		MTU:            opts.MTU,
		Service:        opts.Service,
		Characteristic: opts.Characteristic,
	})
	if err != nil {
		err = device.ClassifyDialError(dialCtx, err)
	}

	c.connMutex.Lock()
	aborted := c.connectAttempt != attempt || c.connectCancel == nil
	if !aborted {
		c.connectCancel = nil
	}

	if err != nil {
		if !aborted {
			c.state = StateIdle
		}
		c.connMutex.Unlock()
		c.logger.WithFields(logrus.Fields{
			"address": d.ID,
			"error":   err,
		}).Error("Failed to connect")
		return nil, err
	}

	if aborted {
		c.connMutex.Unlock()
		if closeErr := link.Close(); closeErr != nil {
			c.logger.WithError(closeErr).Warn("Failed to close link of an aborted connect")
		}
		return nil, device.NewConnectionError(device.Canceled, "connect aborted", errDisconnectRequested)
	}

	conn := &Connection{desc: link.Descriptor(), mtu: link.MTU(), link: link}
	if conn.desc.ID == "" {
		conn.desc = d
	}
	c.conn = conn
	c.state = StateConnected
	c.connMutex.Unlock()

	c.metrics.SetConnected(true)
	groutine.Go(context.Background(), "link-monitor", func(context.Context) {
		<-link.Disconnected()
		c.handleLinkLoss(conn)
	})

	c.logger.WithFields(logrus.Fields{
		"address": conn.desc.ID,
		"mtu":     conn.mtu,
	}).Info("Device connected")
	return conn, nil
}

type dialResult struct {
	link device.Link
	err  error
}

// dial returns when the transport does or when ctx ends, whichever is first.
// Transports may block past ctx (GATT discovery takes no context), so a link
// that completes after the deadline is closed in the background.
func (c *Client) dial(ctx context.Context, d device.Descriptor, opts device.DialOptions) (device.Link, error) {
	results := make(chan dialResult, 1)
	groutine.Go(context.Background(), "ble-dial", func(context.Context) {
		link, err := c.transport.Dial(ctx, d, opts)
		results <- dialResult{link: link, err: err}
	})

	select {
	case r := <-results:
		return r.link, r.err
	case <-ctx.Done():
	}

	groutine.Go(context.Background(), "ble-dial-reaper", func(context.Context) {
		r := <-results
		if r.link == nil {
			return
		}
		c.logger.WithField("address", d.ID).Warn("Closing link that completed after connect gave up")
		if err := r.link.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close late link")
		}
	})
	return nil, context.Cause(ctx)
}

// Disconnect tears down the connection (or aborts a pending connect) and
// always emits a manual DisconnectEvent. The returned error reports a link
// close failure for information only; the client is idle either way.
func (c *Client) Disconnect() error {
	c.connMutex.Lock()
	abort := c.connectCancel
	c.connectCancel = nil
	conn := c.conn
	c.conn = nil
	sub := c.sub
	c.sub = nil
	if c.state != StateScanning {
		c.state = StateIdle
	}
	c.connMutex.Unlock()

	if abort != nil {
		abort(errDisconnectRequested)
	}

	var desc device.Descriptor
	var closeErr error
	if sub != nil {
		if err := sub.shutdown(true); err != nil {
			c.logger.WithError(err).Warn("Failed to unsubscribe during disconnect")
		}
	}
	if conn != nil {
		desc = conn.desc
		if closeErr = conn.link.Close(); closeErr != nil {
			c.logger.WithError(closeErr).Warn("Device disconnected with errors")
		} else {
			c.logger.WithField("address", desc.ID).Info("Device disconnected")
		}
		c.metrics.SetConnected(false)
	}

	c.metrics.Disconnected(string(ReasonManual))
	c.disconnectOb.emit(DisconnectEvent{Reason: ReasonManual, Device: desc})
	return closeErr
}

// handleLinkLoss runs when a link's Disconnected channel closes. Manual
// teardown clears c.conn first, so only unexpected drops get here with the
// connection still current.
func (c *Client) handleLinkLoss(conn *Connection) {
	c.connMutex.Lock()
	if c.conn != conn {
		c.connMutex.Unlock()
		return
	}
	c.conn = nil
	sub := c.sub
	c.sub = nil
	c.state = StateIdle
	c.connMutex.Unlock()

	c.logger.WithField("address", conn.desc.ID).Warn("Connection lost")

	if sub != nil {
		if err := sub.shutdown(false); err != nil {
			c.logger.WithError(err).Debug("Unsubscribe after connection loss failed")
		}
	}
	if err := conn.link.Close(); err != nil {
		c.logger.WithError(err).Debug("Closing a lost link failed")
	}

	c.metrics.SetConnected(false)
	c.metrics.Disconnected(string(ReasonRemote))
	c.disconnectOb.emit(DisconnectEvent{Reason: ReasonRemote, Device: conn.desc})
}
