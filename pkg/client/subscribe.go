package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/vitalink/internal/device"
	"github.com/srg/vitalink/internal/groutine"
)

// Unsubscribe stops a subscription. It is idempotent. Once it returns no
// further notification handler call will start, except when it is invoked
// from inside a handler, where it cannot wait for the handler to finish.
type Unsubscribe func() error

type packet struct {
	data []byte
	at   time.Time
}

type subscription struct {
	c      *Client
	conn   *Connection
	onData func([]byte)

	queue mpmc.RichOverlappedRingBuffer[packet]
	wake  chan struct{}
	stop  chan struct{}
	done  <-chan struct{}

	gid     atomic.Uint64
	stopped atomic.Bool
	once    sync.Once
}

// Subscribe enables notifications on conn and delivers each payload to
// onData (which may be nil when only OnData listeners are used). Payloads
// are copies owned by the callee. Only one subscription per connection is
// supported.
func (c *Client) Subscribe(conn *Connection, onData func([]byte)) (Unsubscribe, error) {
	c.connMutex.Lock()
	if conn == nil || c.conn != conn {
		c.connMutex.Unlock()
		return nil, device.ErrNotConnected
	}
	if c.sub != nil {
		c.connMutex.Unlock()
		return nil, fmt.Errorf("connection %s: already subscribed", conn.desc.ID)
	}
	s := &subscription{
		c:      c,
		conn:   conn,
		onData: onData,
		queue:  mpmc.NewOverlappedRingBuffer[packet](c.queueSize),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	s.done = groutine.Go(context.Background(), "notify-delivery", s.run)
	c.sub = s
	c.connMutex.Unlock()

	if err := conn.link.Subscribe(s.push); err != nil {
		c.connMutex.Lock()
		if c.sub == s {
			c.sub = nil
		}
		c.connMutex.Unlock()
		_ = s.shutdown(false)
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"address": conn.desc.ID,
		"queue":   c.queueSize,
	}).Debug("Subscribed to notifications")

	return func() error {
		c.connMutex.Lock()
		if c.sub == s {
			c.sub = nil
		}
		c.connMutex.Unlock()
		return s.shutdown(true)
	}, nil
}

// push runs on the radio stack's goroutine and must not block.
func (s *subscription) push(data []byte) {
	if s.stopped.Load() {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	overwrites, err := s.queue.EnqueueM(packet{data: cp, at: time.Now()})
	if err != nil {
		s.c.logger.WithError(err).Error("Unexpected delivery queue error")
		return
	}
	s.c.metrics.NotificationReceived()
	if overwrites > 0 {
		s.c.metrics.NotificationsDropped(int(overwrites))
		s.c.logger.WithField("dropped", overwrites).Debug("Delivery queue overflow, oldest notifications evicted")
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run(ctx context.Context) {
	s.gid.Store(groutine.ID())
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
		for !s.queue.IsEmpty() {
			if s.stopped.Load() {
				return
			}
			p, err := s.queue.Dequeue()
			if err != nil {
				break
			}
			s.deliver(p)
		}
	}
}

func (s *subscription) deliver(p packet) {
	defer func() {
		if r := recover(); r != nil {
			s.c.logger.WithFields(logrus.Fields{
				"address": s.conn.desc.ID,
				"panic":   r,
			}).Error("Notification handler panicked")
		}
	}()
	if s.onData != nil {
		s.onData(p.data)
	}
	if s.stopped.Load() {
		return
	}
	s.c.dataObs.emit(p.data)
	s.c.metrics.ObserveDelivery(time.Since(p.at).Seconds())
}

// shutdown stops local delivery and, when remote is set, disables
// notifications on the link. Only the first call has an effect, but every
// call waits for the delivery goroutine unless made from it.
func (s *subscription) shutdown(remote bool) error {
	var err error
	s.once.Do(func() {
		s.stopped.Store(true)
		close(s.stop)
		if remote {
			err = s.conn.link.Unsubscribe()
		}
	})
	if s.done != nil && s.gid.Load() != groutine.ID() {
		<-s.done
	}
	return err
}
