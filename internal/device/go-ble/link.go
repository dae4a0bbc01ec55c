package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/vitalink/internal/device"
	"github.com/srg/vitalink/internal/groutine"
)

// link is a live go-ble connection with a single notification source.
type link struct {
	client gattClient
	desc   device.Descriptor
	char   *ble.Characteristic
	mtu    int
	logger *logrus.Logger

	connMutex  sync.Mutex
	subscribed bool
	indicate   bool

	done      chan struct{}
	closeOnce sync.Once
}

func newLink(cln gattClient, d device.Descriptor, char *ble.Characteristic, mtu int, logger *logrus.Logger) *link {
	l := &link{
		client:   cln,
		desc:     d,
		char:     char,
		mtu:      mtu,
		logger:   logger,
		indicate: char.Property&ble.CharNotify == 0 && char.Property&ble.CharIndicate != 0,
		done:     make(chan struct{}),
	}

	// Monitor the go-ble client Disconnected() channel
	if notifier, ok := cln.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-link-monitor", func(ctx context.Context) {
			select {
			case <-notifier.Disconnected():
				logger.WithField("address", d.ID).Warn("BLE stack reported disconnection")
				l.markDone()
			case <-l.done:
			}
		})
	} else {
		logger.Debug("Client does not support Disconnected() channel")
	}
	return l
}

func (l *link) Descriptor() device.Descriptor { return l.desc }
func (l *link) MTU() int                      { return l.mtu }
func (l *link) Disconnected() <-chan struct{} { return l.done }

func (l *link) markDone() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *link) isDone() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Subscribe enables notifications on the resolved characteristic.
func (l *link) Subscribe(handler func([]byte)) error {
	l.connMutex.Lock()
	defer l.connMutex.Unlock()

	if l.isDone() {
		return device.ErrNotConnected
	}
	if l.subscribed {
		return fmt.Errorf("characteristic %s: already subscribed", l.char.UUID)
	}

	err := l.client.Subscribe(l.char, l.indicate, func(data []byte) {
		defer func() {
			if r := recover(); r != nil {
				l.logger.WithFields(logrus.Fields{
					"address": l.desc.ID,
					"panic":   r,
				}).Error("Notification handler panicked")
			}
		}()
		handler(data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", l.char.UUID, NormalizeError(err))
	}
	l.subscribed = true
	return nil
}

// Unsubscribe disables notifications. It is a no-op when not subscribed.
func (l *link) Unsubscribe() error {
	l.connMutex.Lock()
	defer l.connMutex.Unlock()
	return l.unsubscribeLocked()
}

func (l *link) unsubscribeLocked() error {
	if !l.subscribed {
		return nil
	}
	l.subscribed = false
	if err := l.client.Unsubscribe(l.char, l.indicate); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", l.char.UUID, NormalizeError(err))
	}
	return nil
}

// Close unsubscribes and cancels the connection. Repeated calls return nil.
func (l *link) Close() error {
	l.connMutex.Lock()
	if l.isDone() && !l.subscribed {
		l.connMutex.Unlock()
		return nil
	}
	unsubErr := l.unsubscribeLocked()
	l.connMutex.Unlock()

	if unsubErr != nil {
		l.logger.WithError(unsubErr).Warn("Failed to unsubscribe during disconnect")
	}

	var err error
	if !l.isDone() {
		err = NormalizeError(l.client.CancelConnection())
	}
	l.markDone()

	if err != nil {
		l.logger.WithError(err).Warn("BLE device disconnected with errors")
		return err
	}
	l.logger.WithField("address", l.desc.ID).Info("BLE device disconnected successfully")
	return nil
}
