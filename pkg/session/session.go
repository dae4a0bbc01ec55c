// Package session drives one streaming session: it connects to a
// whitelisted sensor, decodes every notification, keeps the display buffers
// current and optionally records samples to CSV.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/vitalink/internal/device"
	"github.com/srg/vitalink/internal/metrics"
	"github.com/srg/vitalink/pkg/client"
	"github.com/srg/vitalink/pkg/parser"
	"github.com/srg/vitalink/pkg/whitelist"
)

// Status is the user-visible session state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusStreaming    Status = "streaming"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

const (
	DefaultYMin = 0
	DefaultYMax = 1023
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotRecording   = errors.New("not recording")
	ErrNothingToSave  = errors.New("no recorded rows to save")
)

// Renderer draws a waveform snapshot within [min, max].
type Renderer interface {
	Render(samples []float64, min, max float64)
}

// Alerter is told when the peripheral drops the connection. It is the place
// to show an alert and leave the streaming view.
type Alerter interface {
	ConnectionLost(ev client.DisconnectEvent)
}

// Stats is a point-in-time view of the session.
type Stats struct {
	Status       Status
	Device       device.Descriptor
	MTU          int
	Packets      uint64
	DecodeErrors uint64
	LastHex      string
	LastSample   *parser.Sample
	Recording    bool
	RecordedRows int
	LastSaved    string
	Err          error
}

// Session is safe for concurrent use.
type Session struct {
	client   *client.Client
	entry    whitelist.Entry
	decoder  parser.Decoder
	store    Store
	alerter  Alerter
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	yMin     float64
	yMax     float64
	timeout  time.Duration
	waveform *WaveformBuffer
	trace    *HexTrace

	packets        atomic.Uint64
	decodeFailures atomic.Uint64
	recording      atomic.Bool
	rec            Recording

	mu             sync.RWMutex
	status         Status
	err            error
	conn           *client.Connection
	lastHex        string
	lastSample     *parser.Sample
	started        bool
	unsub          client.Unsubscribe
	stopDisconnect func()

	// recMu serializes StartRecording, StopRecording and SetDestination.
	recMu     sync.Mutex
	recName   string
	dest      Destination
	lastSaved string

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l *logrus.Logger) Option { return func(s *Session) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }

// WithStore sets the persistence boundary; the default is a FileStore in
// the working directory.
func WithStore(st Store) Option { return func(s *Session) { s.store = st } }

func WithAlerter(a Alerter) Option { return func(s *Session) { s.alerter = a } }

// WithRegistry resolves the parser from r instead of parser.Default.
func WithRegistry(r *parser.Registry) Option {
	return func(s *Session) { s.decoder = r.Resolve(s.entry.ParserID) }
}

func WithWaveformCapacity(n int) Option {
	return func(s *Session) { s.waveform = NewWaveformBuffer(n) }
}

func WithHexTraceSize(n int) Option { return func(s *Session) { s.trace = NewHexTrace(n) } }

// WithRange sets the y-axis range handed to the renderer.
func WithRange(min, max float64) Option {
	return func(s *Session) { s.yMin, s.yMax = min, max }
}

func WithConnectTimeout(d time.Duration) Option { return func(s *Session) { s.timeout = d } }

// WithClock overrides the clock used for recording timestamps.
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// New creates a session streaming from the peripheral described by entry.
func New(c *client.Client, entry whitelist.Entry, opts ...Option) *Session {
	s := &Session{
		client:  c,
		entry:   entry,
		decoder: parser.Resolve(entry.ParserID),
		now:     time.Now,
		yMin:    DefaultYMin,
		yMax:    DefaultYMax,
		status:  StatusIdle,
		dest:    Destination{Kind: AppStorage},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
	}
	if s.store == nil {
		s.store = &FileStore{BaseDir: "."}
	}
	if s.waveform == nil {
		s.waveform = NewWaveformBuffer(DefaultWaveformCapacity)
	}
	if s.trace == nil {
		s.trace = NewHexTrace(DefaultHexTraceSize)
	}
	return s
}

// Descriptor is the peripheral this session streams from.
func (s *Session) Descriptor() device.Descriptor {
	return device.Descriptor{ID: s.entry.ID, Name: s.entry.Name}
}

// Start connects, subscribes and begins streaming. On failure the status
// becomes error and everything acquired so far is released.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.status = StatusConnecting
	s.mu.Unlock()

	log := s.logger.WithFields(logrus.Fields{
		"device": s.entry.Name,
		"id":     s.entry.ID,
		"parser": s.entry.ParserID,
	})
	log.Info("Starting streaming session")

	conn, err := s.client.Connect(ctx, s.Descriptor(), client.ConnectOptions{
		MTU:            s.entry.DesiredMTU,
		Timeout:        s.timeout,
		Service:        s.entry.Service,
		Characteristic: s.entry.NotifyCharacteristic,
	})
	if err != nil {
		return s.fail(fmt.Errorf("connect %s: %w", s.entry.Name, err))
	}

	stop := s.client.OnDisconnect(s.handleDisconnect)
	s.mu.Lock()
	s.conn = conn
	s.stopDisconnect = stop
	s.mu.Unlock()

	unsub, err := s.client.Subscribe(conn, s.handlePacket)
	if err != nil {
		return s.fail(fmt.Errorf("subscribe %s: %w", s.entry.Name, err))
	}

	s.mu.Lock()
	s.unsub = unsub
	if s.status == StatusConnecting {
		s.status = StatusStreaming
	}
	status := s.status
	s.mu.Unlock()

	if status != StatusStreaming {
		return fmt.Errorf("connect %s: %w", s.entry.Name, device.ErrNotConnected)
	}
	log.WithField("mtu", conn.MTU()).Info("Streaming")
	return nil
}

// fail records err and releases whatever Start acquired.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.status = StatusError
	s.err = err
	stop := s.stopDisconnect
	s.stopDisconnect = nil
	connected := s.conn != nil
	s.conn = nil
	s.mu.Unlock()

	s.logger.WithError(err).Error("Streaming session failed to start")
	if stop != nil {
		stop()
	}
	if connected {
		if derr := s.client.Disconnect(); derr != nil {
			s.logger.WithError(derr).Warn("Disconnect after failed start reported an error")
		}
	}
	s.finish()
	return err
}

// handlePacket runs on the client's delivery goroutine, one packet at a time.
func (s *Session) handlePacket(data []byte) {
	// counted on exit so Stats never reports a packet still being handled
	defer s.packets.Add(1)
	s.metrics.PacketProcessed()

	hex := parser.HexString(data)
	s.trace.Add(hex)

	s.mu.Lock()
	s.lastHex = hex
	s.mu.Unlock()

	// A faulted decode leaves the display and the recording untouched.
	sample, err := parser.Decode(s.decoder, data)
	if err != nil {
		s.decodeFailures.Add(1)
		s.metrics.DecodeFailed("panic")
		s.logger.WithError(err).WithField("length", len(data)).Warn("Decoder failed, packet skipped")
		return
	}
	if sample == nil {
		return
	}
	if sample.IsError() {
		s.metrics.DecodeFailed("in_band")
	}

	s.mu.Lock()
	s.lastSample = sample
	s.mu.Unlock()

	if v, ok := sample.Value(); ok {
		s.waveform.Append(v)
		s.metrics.SetWaveformFill(s.waveform.Len())
	}

	if s.recording.Load() {
		s.rec.Append(s.now(), sample)
		s.metrics.RowRecorded()
	}
}

// StartRecording discards any unsaved rows and starts capturing under name
// (sanitized; empty uses DefaultRecordingName). It returns the file name.
func (s *Session) StartRecording(name string, dest Destination) (string, error) {
	s.recMu.Lock()
	defer s.recMu.Unlock()

	if dest.Kind == "" {
		dest.Kind = AppStorage
	}
	if dest.Kind == Folder && dest.Dir == "" {
		return "", ErrNoFolder
	}
	s.recName = SanitizeName(name, DefaultRecordingName(s.entry.Name, s.now()))
	s.dest = dest
	s.lastSaved = ""
	s.rec.Reset()
	s.recording.Store(true)
	s.metrics.SetRecording(true)

	s.logger.WithFields(logrus.Fields{
		"file": s.recName,
		"dest": dest.String(),
	}).Info("Recording started")
	return s.recName, nil
}

// SetDestination changes where the next save goes, e.g. to retry a failed
// save somewhere else.
func (s *Session) SetDestination(dest Destination) error {
	if dest.Kind == Folder && dest.Dir == "" {
		return ErrNoFolder
	}
	s.recMu.Lock()
	defer s.recMu.Unlock()
	s.dest = dest
	return nil
}

// StopRecording stops capturing and saves the rows in one write. It is also
// the retry path after a failed save: rows are only cleared on success.
func (s *Session) StopRecording() (string, error) {
	s.recMu.Lock()
	defer s.recMu.Unlock()

	wasRecording := s.recording.Swap(false)
	s.metrics.SetRecording(false)
	if s.recName == "" {
		return "", ErrNotRecording
	}
	content := s.rec.Bytes()
	if content == nil && !wasRecording {
		return "", ErrNothingToSave
	}

	path, err := s.store.Save(s.dest, s.recName, content)
	s.metrics.RecordingSaved(err)
	if err != nil {
		perr := &PersistenceError{Dest: s.dest, Filename: s.recName, Err: err}
		s.logger.WithError(err).WithField("file", s.recName).Error("Failed to save recording")
		return "", perr
	}

	s.logger.WithFields(logrus.Fields{
		"path": path,
		"rows": s.rec.Rows(),
	}).Info("Recording saved")
	s.rec.Reset()
	s.recName = ""
	s.lastSaved = path
	return path, nil
}

func (s *Session) handleDisconnect(ev client.DisconnectEvent) {
	if s.recording.Load() {
		if _, err := s.StopRecording(); err != nil {
			s.logger.WithError(err).Error("Recording could not be saved on disconnect")
		}
	}

	s.mu.Lock()
	if s.status == StatusError {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.mu.Unlock()

	if ev.Reason != client.ReasonManual {
		s.logger.WithField("device", ev.Device.DisplayName()).Warn("Connection lost")
		if s.alerter != nil {
			s.alerter.ConnectionLost(ev)
		}
	}

	s.mu.Lock()
	s.status = StatusDisconnected
	s.mu.Unlock()
	s.finish()
}

// Done is closed when the session stops streaming for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Close tears the session down. It is idempotent and safe on every exit
// path; teardown errors are logged and absorbed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		unsub := s.unsub
		s.unsub = nil
		connected := s.conn != nil
		s.mu.Unlock()

		if unsub != nil {
			if err := unsub(); err != nil {
				s.logger.WithError(err).Warn("Unsubscribe failed during close")
			}
		}
		if connected {
			if err := s.client.Disconnect(); err != nil {
				s.logger.WithError(err).Warn("Disconnect failed during close")
			}
		} else if s.recording.Load() {
			if _, err := s.StopRecording(); err != nil {
				s.logger.WithError(err).Error("Recording could not be saved on close")
			}
		}

		s.mu.Lock()
		stop := s.stopDisconnect
		s.stopDisconnect = nil
		if s.status == StatusStreaming || s.status == StatusConnecting {
			s.status = StatusDisconnected
		}
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		s.finish()
	})
}

// Waveform returns a snapshot of the display buffer.
func (s *Session) Waveform() []float64 { return s.waveform.Snapshot() }

// Render hands the current waveform and y-range to r.
func (s *Session) Render(r Renderer) {
	r.Render(s.waveform.Snapshot(), s.yMin, s.yMax)
}

// HexTrace returns the recent raw packets, oldest first.
func (s *Session) HexTrace() []string { return s.trace.Lines() }

func (s *Session) Stats() Stats {
	s.recMu.Lock()
	lastSaved := s.lastSaved
	s.recMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Status:       s.status,
		Device:       s.Descriptor(),
		Packets:      s.packets.Load(),
		DecodeErrors: s.decodeFailures.Load(),
		LastHex:      s.lastHex,
		LastSample:   s.lastSample,
		Recording:    s.recording.Load(),
		RecordedRows: s.rec.Rows(),
		LastSaved:    lastSaved,
		Err:          s.err,
	}
	if s.conn != nil {
		st.MTU = s.conn.MTU()
	}
	return st
}
