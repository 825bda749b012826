package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"zytemp-mqtt/internal/config"
	"zytemp-mqtt/internal/hidraw"
	"zytemp-mqtt/internal/metrics"
	"zytemp-mqtt/internal/replay"
	"zytemp-mqtt/internal/sim"
	"zytemp-mqtt/internal/web"
	"zytemp-mqtt/internal/zytemp"
)

// opener acquires a device for one session and names it for logs/status.
type opener func() (dev zytemp.Device, name string, err error)

// supervisor owns the session lifecycle: acquire a device, run one session,
// back off, repeat.
type supervisor struct {
	cfg     config.Config
	log     logrus.FieldLogger
	status  *web.Status
	metrics *metrics.Collector
	pub     zytemp.Publisher
	rec     *replay.Writer

	open  opener
	after func(time.Duration) <-chan time.Time
}

func newSupervisor(cfg config.Config, log logrus.FieldLogger, status *web.Status, m *metrics.Collector, pub zytemp.Publisher, rec *replay.Writer) *supervisor {
	s := &supervisor{
		cfg:     cfg,
		log:     log,
		status:  status,
		metrics: m,
		pub:     pub,
		rec:     rec,
		after:   time.After,
	}
	s.open = func() (zytemp.Device, string, error) { return openDevice(s.cfg, s.log) }
	return s
}

// run blocks until ctx is cancelled, or until a non-looping replay has been
// played once.
func (s *supervisor) run(ctx context.Context) error {
	backoff := s.cfg.Device.RetryInitial
	for {
		if ctx.Err() != nil {
			return nil
		}

		started, err := s.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if s.cfg.Device.Source == config.SourceReplay && !s.cfg.Replay.Loop {
			if errors.Is(err, zytemp.ErrDeviceClosed) {
				s.log.Info("replay finished")
				return nil
			}
			return err
		}

		switch {
		case errors.Is(err, hidraw.ErrNotFound):
			s.log.WithError(err).Warn("sensor not found")
		case err != nil:
			s.log.WithError(err).Error("session ended")
		}
		if started {
			backoff = s.cfg.Device.RetryInitial
		}

		s.log.WithField("retry_in", backoff).Info("restarting session")
		select {
		case <-ctx.Done():
			return nil
		case <-s.after(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.Device.RetryMax {
			backoff = s.cfg.Device.RetryMax
		}
	}
}

// runSession reports whether the handshake succeeded along with the reason
// the session ended.
func (s *supervisor) runSession(ctx context.Context) (bool, error) {
	dev, name, err := s.open()
	if err != nil {
		s.status.SetError(time.Time{}, err.Error())
		return false, err
	}
	if s.rec != nil {
		rd := replay.NewRecordingDevice(dev, s.rec)
		rd.OnError = func(err error) { s.log.WithError(err).Warn("record write failed") }
		dev = rd
	}

	log := s.log.WithFields(logrus.Fields{"component": "session", "device": name})
	sess, err := zytemp.NewSession(dev, s.pub,
		zytemp.WithCalibrationReadings(*s.cfg.Device.CalibrationReadings),
		zytemp.WithPumpTimeout(s.cfg.MQTT.PumpTimeout),
		zytemp.WithLogger(log),
		zytemp.WithMetrics(s.metrics),
	)
	if err != nil {
		s.status.SetError(time.Time{}, err.Error())
		return false, err
	}
	s.status.SessionStarted(name)
	log.Info("session started")

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			_ = sess.Close()
		case <-stop:
		}
	}()

	err = sess.Run()
	close(stop)
	<-done

	s.status.SessionEnded(time.Time{}, err)
	return true, err
}

func openDevice(cfg config.Config, log logrus.FieldLogger) (zytemp.Device, string, error) {
	switch cfg.Device.Source {
	case config.SourceSim:
		return sim.NewSensor(sim.Config{
			Interval: cfg.Sim.Interval,
			TempC:    cfg.Sim.TempC,
			CO2PPM:   cfg.Sim.CO2PPM,
		}), "sim", nil

	case config.SourceReplay:
		recs, err := replay.ReadFile(cfg.Replay.Path)
		if err != nil {
			return nil, "", err
		}
		d, err := replay.NewDevice(recs, cfg.Replay.Speed, cfg.Replay.Loop)
		if err != nil {
			return nil, "", err
		}
		return d, "replay:" + cfg.Replay.Path, nil

	case config.SourceHIDRaw:
		path := cfg.Device.Path
		if path == "" {
			found, err := hidraw.Find(cfg.Device.Manufacturer, cfg.Device.Product)
			if err != nil {
				return nil, "", err
			}
			if len(found) > 1 {
				log.WithField("count", len(found)).Warn("several sensors found, using the first")
			}
			log.WithField("device", found[0].String()).Info("sensor found")
			path = found[0].Path
		}
		d, err := hidraw.Open(path)
		if err != nil {
			return nil, "", err
		}
		return d, path, nil
	}
	return nil, "", fmt.Errorf("unknown device source %q", cfg.Device.Source)
}

// statusPublisher mirrors every published snapshot into the status page.
type statusPublisher struct {
	zytemp.Publisher
	status *web.Status
}

func (p *statusPublisher) PublishState(snap zytemp.Snapshot) error {
	if err := p.Publisher.PublishState(snap); err != nil {
		return err
	}
	p.status.SetValues(time.Time{}, snap)
	return nil
}
