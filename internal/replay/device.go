package replay

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"zytemp-mqtt/internal/zytemp"
)

var afterFn = time.After

// defaultGap separates reports across a START marker or a loop wrap until a
// real inter-report gap has been seen.
const defaultGap = time.Second

// Device plays recorded reports back with their original spacing, scaled
// by speed. It returns io.EOF after the last report unless looping.
//
// The first report after a START marker or a loop wrap follows the previous
// one by the last measured gap.
type Device struct {
	recs  []Record
	speed float64
	loop  bool

	idx     int
	lastAt  time.Duration
	have    bool
	origin  time.Duration
	emitted bool
	gap     time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func NewDevice(recs []Record, speed float64, loop bool) (*Device, error) {
	if speed <= 0 {
		return nil, errors.New("replay: speed must be > 0")
	}
	n := 0
	for _, r := range recs {
		if r.Report != nil {
			n++
		}
	}
	if n == 0 {
		return nil, errors.New("replay: no reports")
	}
	return &Device{recs: recs, speed: speed, loop: loop, closed: make(chan struct{})}, nil
}

// SendFeatureReport accepts the handshake; a recording needs no key.
func (d *Device) SendFeatureReport(report []byte) error {
	select {
	case <-d.closed:
		return os.ErrClosed
	default:
		return nil
	}
}

func (d *Device) Read(p []byte) (int, error) {
	for {
		select {
		case <-d.closed:
			return 0, os.ErrClosed
		default:
		}

		if d.idx >= len(d.recs) {
			if !d.loop {
				return 0, io.EOF
			}
			d.idx = 0
			d.have = false
			d.origin = 0
		}
		r := d.recs[d.idx]
		d.idx++
		if r.Report == nil {
			d.origin = r.At
			d.have = false
			continue
		}

		at := r.At - d.origin
		if at < 0 {
			at = 0
		}
		var gap time.Duration
		switch {
		case d.have:
			gap = at - d.lastAt
			if gap > 0 {
				d.gap = gap
			}
		case d.emitted:
			gap = d.gap
			if gap <= 0 {
				gap = defaultGap
			}
		}
		if wait := time.Duration(float64(gap) / d.speed); wait > 0 {
			select {
			case <-afterFn(wait):
			case <-d.closed:
				return 0, os.ErrClosed
			}
		}
		d.lastAt = at
		d.have = true
		d.emitted = true
		return copy(p, r.Report), nil
	}
}

func (d *Device) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

// RecordingDevice logs every report read from the wrapped device.
type RecordingDevice struct {
	zytemp.Device
	w   *Writer
	now func() time.Time

	// OnError is called when a report cannot be logged. Reading continues.
	OnError func(error)
}

func NewRecordingDevice(dev zytemp.Device, w *Writer) *RecordingDevice {
	return &RecordingDevice{Device: dev, w: w, now: time.Now}
}

func (d *RecordingDevice) Read(p []byte) (int, error) {
	n, err := d.Device.Read(p)
	if n > 0 {
		if werr := d.w.WriteReport(d.now(), p[:n]); werr != nil && d.OnError != nil {
			d.OnError(werr)
		}
	}
	return n, err
}
