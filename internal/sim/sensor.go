// Package sim provides a simulated CO2 monitor for running the service
// without hardware.
package sim

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"zytemp-mqtt/internal/zytemp"
)

var afterFn = time.After
var nowFn = time.Now

// unknownTag mimics the extra report types a real monitor interleaves with
// its measurements.
const unknownTag = 0x6d

type Config struct {
	// Interval between reports.
	Interval time.Duration
	TempC    float64
	CO2PPM   int
	// Period of the slow sinusoidal drift applied to both values.
	Period time.Duration
}

// Sensor behaves like an opened monitor: it expects the key as a feature
// report and then emits obfuscated reports, cycling CO2, Temperature and an
// unrelated report type.
type Sensor struct {
	cfg   Config
	start time.Time

	mu   sync.Mutex
	key  zytemp.Key
	keyd bool
	seq  int

	closeOnce sync.Once
	closed    chan struct{}
}

func NewSensor(cfg Config) *Sensor {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.TempC == 0 {
		cfg.TempC = 21.5
	}
	if cfg.CO2PPM <= 0 {
		cfg.CO2PPM = 600
	}
	if cfg.Period <= 0 {
		cfg.Period = 10 * time.Minute
	}
	return &Sensor{cfg: cfg, start: nowFn(), closed: make(chan struct{})}
}

func (s *Sensor) SendFeatureReport(report []byte) error {
	if len(report) != zytemp.FrameSize {
		return fmt.Errorf("sim: feature report len=%d want %d", len(report), zytemp.FrameSize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.key[:], report)
	s.keyd = true
	return nil
}

func (s *Sensor) Read(p []byte) (int, error) {
	select {
	case <-afterFn(s.cfg.Interval):
	case <-s.closed:
		return 0, os.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.keyd {
		return 0, errors.New("sim: no key received")
	}
	f := s.frameLocked(nowFn())
	s.seq++
	out := zytemp.Encrypt(s.key, f)
	return copy(p, out[:]), nil
}

func (s *Sensor) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Values returns the simulated temperature and CO2 at now.
func (s *Sensor) Values(now time.Time) (tempC float64, co2 int) {
	phase := float64(now.Sub(s.start)%s.cfg.Period) / float64(s.cfg.Period)
	w := math.Sin(2 * math.Pi * phase)
	tempC = s.cfg.TempC + 0.5*w
	co2 = s.cfg.CO2PPM + int(math.Round(150*w))
	if co2 < 0 {
		co2 = 0
	}
	if co2 > math.MaxUint16 {
		co2 = math.MaxUint16
	}
	return tempC, co2
}

func (s *Sensor) frameLocked(now time.Time) zytemp.Frame {
	tempC, co2 := s.Values(now)
	var tag byte
	var raw uint16
	switch s.seq % 3 {
	case 0:
		tag, raw = byte(zytemp.CO2), uint16(co2)
	case 1:
		tag, raw = byte(zytemp.Temperature), uint16(math.Round((tempC+273.15)*16))
	default:
		tag, raw = unknownTag, uint16(s.seq)
	}
	f := zytemp.Frame{tag, byte(raw >> 8), byte(raw), 0, 0x0d}
	f[3] = zytemp.Checksum(f)
	return f
}
