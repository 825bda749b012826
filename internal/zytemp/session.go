package zytemp

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"zytemp-mqtt/internal/metrics"
)

// ErrDeviceClosed is returned by Run when the device stops delivering
// reports (zero-length read or EOF).
var ErrDeviceClosed = errors.New("zytemp: device closed")

// DefaultPumpTimeout bounds the per-report publisher pump.
const DefaultPumpTimeout = 100 * time.Millisecond

// Device is an opened sensor.
//
// Read blocks until one report is available. Close must unblock a pending
// Read.
type Device interface {
	SendFeatureReport(report []byte) error
	Read(p []byte) (int, error)
	Close() error
}

// Publisher receives complete snapshots.
//
// Pump gives the transport a bounded slice of time to flush outstanding
// work; it is called once per report read.
type Publisher interface {
	PublishState(s Snapshot) error
	Pump(timeout time.Duration)
}

type State int32

const (
	StateInit State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type Option func(*Session)

func WithKey(k Key) Option {
	return func(s *Session) { s.key = k }
}

// WithCalibrationReadings sets how many initial CO2 readings are dropped.
func WithCalibrationReadings(n int) Option {
	return func(s *Session) { s.calibration = n }
}

func WithPumpTimeout(d time.Duration) Option {
	return func(s *Session) { s.pumpTimeout = d }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) { s.log = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Session) { s.metrics = m }
}

// Session reads one device until it fails. It is not reusable: after Run
// returns, start a new Session on a freshly opened device.
//
// Run is single threaded. Close is the only method that may be called from
// another goroutine.
type Session struct {
	dev Device
	pub Publisher

	key         Key
	calibration int
	pumpTimeout time.Duration
	log         logrus.FieldLogger
	metrics     *metrics.Collector

	gate  *CalibrationGate
	cache *SnapshotCache

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// NewSession performs the device handshake and prepares per-session state.
// On error the device has already been closed.
func NewSession(dev Device, pub Publisher, opts ...Option) (*Session, error) {
	if dev == nil {
		return nil, errors.New("zytemp: device is nil")
	}
	s := &Session{
		dev:         dev,
		pub:         pub,
		key:         DefaultKey,
		calibration: DefaultCalibrationReadings,
		pumpTimeout: DefaultPumpTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.pub == nil {
		_ = s.Close()
		return nil, errors.New("zytemp: publisher is nil")
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}

	if err := s.dev.SendFeatureReport(s.key[:]); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("zytemp: send key: %w", err)
	}

	s.gate = NewCalibrationGate(s.calibration)
	s.cache = NewSnapshotCache()
	s.metrics.SessionStarted(s.gate.Remaining())
	return s, nil
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Close releases the device. It is safe to call more than once and from
// another goroutine; the device is closed exactly once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateTerminated))
		s.closeErr = s.dev.Close()
	})
	return s.closeErr
}

// Run reads and processes reports until the device fails or is closed. It
// always returns a non-nil error describing why the session ended.
func (s *Session) Run() (err error) {
	defer func() {
		if cerr := s.Close(); cerr != nil {
			s.log.WithError(cerr).Warn("device close failed")
		}
		s.metrics.SessionEnded()
	}()
	// A concurrent Close must not be overwritten by the transition to running.
	if !s.state.CompareAndSwap(int32(StateInit), int32(StateRunning)) {
		return ErrDeviceClosed
	}

	buf := make([]byte, FrameSize)
	for {
		n, err := s.dev.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Error("device closed")
				return ErrDeviceClosed
			}
			if s.State() == StateTerminated {
				return ErrDeviceClosed
			}
			s.log.WithError(err).Error("device read failed")
			return fmt.Errorf("zytemp: read: %w", err)
		}
		if n == 0 {
			s.log.Error("device returned an empty report")
			return ErrDeviceClosed
		}
		s.metrics.IncReportsRead()

		if n < FrameSize {
			s.metrics.IncShortReads()
			s.log.WithField("len", n).Warn("short report dropped")
		} else {
			var raw Frame
			copy(raw[:], buf)
			s.handle(raw)
		}
		s.pub.Pump(s.pumpTimeout)
	}
}

func (s *Session) handle(raw Frame) {
	if !raw.Plaintext() {
		s.log.Debug("encrypted data from device")
	}
	f, err := Validate(raw, s.key)
	if err != nil {
		s.metrics.IncChecksumErrors()
		s.log.WithError(err).Warn("frame dropped")
		return
	}

	r, err := Decode(f)
	if err != nil {
		s.metrics.IncUnknownType(fmt.Sprintf("0x%02x", f[0]))
		s.log.Debugf("unknown key %02x", f[0])
		return
	}

	if !s.gate.Admit(r.Kind) {
		s.metrics.IncIgnored(r.Kind.Name())
		s.metrics.SetCalibrationRemaining(s.gate.Remaining())
		s.log.Debugf("%s (ignored)", r)
		return
	}
	s.log.Debug(r.String())
	s.metrics.ObserveReading(r.Kind.Name(), r.Kind.Unit(), r.Value)

	snap, ok := s.cache.Update(r.Kind, r.Value)
	if !ok {
		return
	}
	if err := s.pub.PublishState(snap); err != nil {
		s.metrics.IncPublishErrors()
		s.log.WithError(err).Error("publish failed")
		return
	}
	s.metrics.IncSnapshotsSent()
}
