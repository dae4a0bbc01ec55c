// Package goble implements device.Transport on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/vitalink/internal/device"
)

// DeviceFactory creates the host radio device.
type DeviceFactory func() (ble.Device, error)

// Transport is the real-radio device.Transport. The host device is created
// lazily on first use and shared by scans and connections.
type Transport struct {
	factory DeviceFactory
	logger  *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// New creates a transport for the host platform. A nil factory selects the
// platform default.
func New(factory DeviceFactory, logger *logrus.Logger) *Transport {
	if factory == nil {
		factory = newPlatformDevice
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{factory: factory, logger: logger}
}

func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := t.factory()
	if err != nil {
		t.logger.WithError(err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	t.dev = dev
	return dev, nil
}

// Scan reports every advertisement until ctx is done. Context expiry is the
// normal way a scan ends and is not reported as an error.
func (t *Transport) Scan(ctx context.Context, handler func(device.Descriptor)) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	err = dev.Scan(ctx, true, func(adv ble.Advertisement) {
		handler(device.Descriptor{
			ID:   adv.Addr().String(),
			Name: adv.LocalName(),
			RSSI: adv.RSSI(),
		})
	})
	if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}
	return nil
}

// Dial connects, negotiates the MTU, discovers the profile and resolves the
// notification characteristic.
func (t *Transport) Dial(ctx context.Context, d device.Descriptor, opts device.DialOptions) (device.Link, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	t.logger.WithFields(logrus.Fields{
		"address": d.ID,
		"name":    d.Name,
	}).Debug("Dialing BLE device...")

	cln, err := dev.Dial(ctx, ble.NewAddr(d.ID))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": d.ID,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, device.ClassifyDialError(ctx, NormalizeError(err))
	}

	l, err := setupLink(ctx, cln, d, opts, t.logger)
	if err != nil {
		if cancelErr := cln.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection after setup failure")
		}
		return nil, err
	}
	return l, nil
}

// Close stops the host device.
func (t *Transport) Close() error {
	t.mu.Lock()
	dev := t.dev
	t.dev = nil
	t.mu.Unlock()
	if dev == nil {
		return nil
	}
	return NormalizeError(dev.Stop())
}

// gattClient is the subset of ble.Client a link needs.
type gattClient interface {
	ExchangeMTU(rxMTU int) (txMTU int, err error)
	DiscoverProfile(force bool) (*ble.Profile, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

func setupLink(ctx context.Context, cln gattClient, d device.Descriptor, opts device.DialOptions, logger *logrus.Logger) (*link, error) {
	mtu := device.DefaultMTU
	if opts.MTU > 0 {
		got, err := cln.ExchangeMTU(opts.MTU)
		switch {
		case err != nil:
			logger.WithFields(logrus.Fields{
				"address": d.ID,
				"mtu":     opts.MTU,
				"error":   err,
			}).Warn("MTU negotiation failed, continuing with default")
		case got > 0:
			mtu = got
		}
	}

	profile, err := cln.DiscoverProfile(true)
	if err != nil {
		if ctx.Err() != nil {
			return nil, device.ClassifyDialError(ctx, err)
		}
		return nil, device.NewConnectionError(device.Rejected, "profile discovery failed", NormalizeError(err))
	}

	char, err := findNotifyCharacteristic(profile, opts.Service, opts.Characteristic)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"address":   d.ID,
		"mtu":       mtu,
		"char_uuid": char.UUID.String(),
	}).Info("BLE device connected successfully")

	return newLink(cln, d, char, mtu, logger), nil
}

// findNotifyCharacteristic picks the requested characteristic, or the first
// one that can notify or indicate.
func findNotifyCharacteristic(p *ble.Profile, service, characteristic string) (*ble.Characteristic, error) {
	if p == nil {
		return nil, &device.NotFoundError{Resource: "service"}
	}
	canStream := func(c *ble.Characteristic) bool {
		return c.Property&(ble.CharNotify|ble.CharIndicate) != 0
	}

	var serviceSeen bool
	for _, s := range p.Services {
		if service != "" && !device.SameUUID(s.UUID.String(), service) {
			continue
		}
		serviceSeen = true
		for _, c := range s.Characteristics {
			if characteristic != "" {
				if device.SameUUID(c.UUID.String(), characteristic) {
					return c, nil
				}
				continue
			}
			if canStream(c) {
				return c, nil
			}
		}
	}

	switch {
	case service != "" && !serviceSeen:
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	case characteristic != "" && service != "":
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	case characteristic != "":
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{characteristic}}
	default:
		return nil, &device.NotFoundError{Resource: "notifiable characteristic"}
	}
}
