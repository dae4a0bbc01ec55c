package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/vitalink/internal/device"
	"github.com/srg/vitalink/internal/groutine"
)

// Scan discovers nearby peripherals for at most timeout. A zero or negative
// budget returns immediately with no results. Results are unique by id, in
// discovery order, and include peripherals that are not whitelisted. The
// call returns by the deadline even if the transport keeps scanning; later
// advertisements are discarded. A transport failure yields *device.ScanError
// together with whatever was found before it.
func (c *Client) Scan(ctx context.Context, timeout time.Duration) ([]device.Descriptor, error) {
	c.connMutex.Lock()
	if c.state != StateIdle {
		state := c.state
		c.connMutex.Unlock()
		return nil, fmt.Errorf("scan: %w (%s)", ErrBusy, state)
	}
	c.state = StateScanning
	c.connMutex.Unlock()

	defer func() {
		c.connMutex.Lock()
		if c.state == StateScanning {
			c.state = StateIdle
		}
		c.connMutex.Unlock()
	}()

	if timeout <= 0 {
		c.logger.Debug("Scan budget exhausted before start")
		return []device.Descriptor{}, nil
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logger.WithField("duration", timeout).Info("Starting BLE scan...")

	col := newCollector(func(d device.Descriptor) {
		c.logger.WithFields(logrus.Fields{
			"device":  d.Name,
			"address": d.ID,
			"rssi":    d.RSSI,
		}).Debug("Discovered new device")
		c.discoveries.Send(d)
	})

	errCh := make(chan error, 1)
	groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		errCh <- c.transport.Scan(ctx, col.add)
	})

	var scanErr error
	select {
	case scanErr = <-errCh:
	case <-scanCtx.Done():
	}
	found := col.close()

	if scanErr != nil && scanCtx.Err() == nil {
		c.logger.WithError(scanErr).Error("BLE scan failed")
		return found, &device.ScanError{Err: scanErr}
	}

	c.logger.WithField("device_count", len(found)).Info("BLE scan completed")
	return found, nil
}

type sighting struct {
	mu sync.Mutex
	d  device.Descriptor
}

// merge keeps the first non-empty name and the latest signal strength.
func (s *sighting) merge(d device.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d.Name == "" && d.Name != "" {
		s.d.Name = d.Name
	}
	s.d.RSSI = d.RSSI
}

func (s *sighting) snapshot() device.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d
}

// collector deduplicates advertisements by id. The seen set is lock-free so
// repeated advertisements from a busy radio only touch the hash map.
type collector struct {
	seen  *hashmap.Map[string, *sighting]
	onNew func(device.Descriptor)

	mu     sync.Mutex
	order  []*sighting
	closed bool
}

func newCollector(onNew func(device.Descriptor)) *collector {
	return &collector{
		seen:  hashmap.New[string, *sighting](),
		onNew: onNew,
	}
}

func (c *collector) add(d device.Descriptor) {
	if d.ID == "" {
		return
	}
	s, loaded := c.seen.GetOrInsert(d.ID, &sighting{d: d})
	if loaded {
		s.merge(d)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.order = append(c.order, s)
	c.mu.Unlock()

	if c.onNew != nil {
		c.onNew(d)
	}
}

// close stops accepting new peripherals and returns the results.
func (c *collector) close() []device.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	out := make([]device.Descriptor, 0, len(c.order))
	for _, s := range c.order {
		out = append(out, s.snapshot())
	}
	return out
}
