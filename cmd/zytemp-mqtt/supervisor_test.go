package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"zytemp-mqtt/internal/config"
	"zytemp-mqtt/internal/hidraw"
	"zytemp-mqtt/internal/replay"
	"zytemp-mqtt/internal/web"
	"zytemp-mqtt/internal/zytemp"
)

var (
	plainTemp = []byte{0x42, 0x11, 0x94, 0xe7, 0x0d, 0x00, 0x00, 0x00}
	plainCO2  = []byte{0x50, 0x02, 0x58, 0xaa, 0x0d, 0x00, 0x00, 0x00}
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig(t *testing.T, yaml string) config.Config {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(p)
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	return cfg
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []zytemp.Snapshot
}

func (p *recordingPublisher) PublishState(s zytemp.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, s)
	return nil
}

func (p *recordingPublisher) Pump(time.Duration) {}

func (p *recordingPublisher) snapshots() []zytemp.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]zytemp.Snapshot(nil), p.published...)
}

// scriptedDevice returns its reports once, then blocks until closed.
type scriptedDevice struct {
	mu      sync.Mutex
	reports [][]byte
	closed  chan struct{}
	once    sync.Once
}

func newScriptedDevice(reports ...[]byte) *scriptedDevice {
	return &scriptedDevice{reports: reports, closed: make(chan struct{})}
}

func (d *scriptedDevice) SendFeatureReport([]byte) error { return nil }

func (d *scriptedDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	if len(d.reports) > 0 {
		r := d.reports[0]
		d.reports = d.reports[1:]
		d.mu.Unlock()
		return copy(p, r), nil
	}
	d.mu.Unlock()
	<-d.closed
	return 0, os.ErrClosed
}

func (d *scriptedDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func TestSupervisor_ReplayWithoutLoopExits(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "reports.log")
	contents := "START\n0,421194e70d000000\n1000,500258aa0d000000\n"
	if err := os.WriteFile(logPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	cfg := testConfig(t, "device:\n  source: replay\n  calibration_readings: 0\nmqtt:\n  topic: home/co2\nreplay:\n  path: "+logPath+"\n")

	status := web.NewStatus()
	pub := &recordingPublisher{}
	sup := newSupervisor(cfg, quietLogger(), status, nil, &statusPublisher{Publisher: pub, status: status}, nil)

	if err := sup.run(context.Background()); err != nil {
		t.Fatalf("run() error: %v", err)
	}

	want := []zytemp.Snapshot{{"Temperature": zytemp.Temperature.Convert(0x1194), "CO2": 600}}
	if diff := cmp.Diff(want, pub.snapshots()); diff != "" {
		t.Fatalf("published mismatch (-want +got):\n%s", diff)
	}
	snap := status.Snapshot(time.Time{})
	if snap.State != "terminated" || snap.Sessions != 1 {
		t.Fatalf("state=%q sessions=%d", snap.State, snap.Sessions)
	}
	if len(snap.Measurements) != 2 {
		t.Fatalf("measurements=%v want 2 entries", snap.Measurements)
	}
	if snap.Device != "replay:"+logPath {
		t.Fatalf("device=%q", snap.Device)
	}
}

func TestSupervisor_ReplayMissingFile(t *testing.T) {
	cfg := testConfig(t, "device:\n  source: replay\nmqtt:\n  topic: t\nreplay:\n  path: /nonexistent/reports.log\n")
	sup := newSupervisor(cfg, quietLogger(), web.NewStatus(), nil, &recordingPublisher{}, nil)
	if err := sup.run(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("run()=%v want ErrNotExist", err)
	}
}

func TestSupervisor_BackoffDoublesToMax(t *testing.T) {
	cfg := testConfig(t, "device:\n  retry_initial: 1s\n  retry_max: 4s\nmqtt:\n  topic: t\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	status := web.NewStatus()
	sup := newSupervisor(cfg, quietLogger(), status, nil, &recordingPublisher{}, nil)
	opens := 0
	sup.open = func() (zytemp.Device, string, error) {
		opens++
		return nil, "", hidraw.ErrNotFound
	}
	var waits []time.Duration
	sup.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		if len(waits) == 5 {
			cancel()
		}
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	if err := sup.run(ctx); err != nil {
		t.Fatalf("run() error: %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second}
	if diff := cmp.Diff(want, waits); diff != "" {
		t.Fatalf("waits mismatch (-want +got):\n%s", diff)
	}
	if opens != 5 {
		t.Fatalf("opens=%d want 5", opens)
	}
	if snap := status.Snapshot(time.Time{}); snap.LastError == "" {
		t.Fatalf("expected last error to be recorded")
	}
}

func TestSupervisor_BackoffResetsAfterSession(t *testing.T) {
	cfg := testConfig(t, "device:\n  retry_initial: 1s\n  retry_max: 8s\nmqtt:\n  topic: t\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := newSupervisor(cfg, quietLogger(), web.NewStatus(), nil, &recordingPublisher{}, nil)
	opens := 0
	sup.open = func() (zytemp.Device, string, error) {
		opens++
		if opens == 3 {
			d := newScriptedDevice()
			_ = d.Close()
			return d, "fake", nil
		}
		return nil, "", hidraw.ErrNotFound
	}
	var waits []time.Duration
	sup.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		if len(waits) == 4 {
			cancel()
		}
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	_ = sup.run(ctx)
	want := []time.Duration{time.Second, 2 * time.Second, time.Second, 2 * time.Second}
	if diff := cmp.Diff(want, waits); diff != "" {
		t.Fatalf("waits mismatch (-want +got):\n%s", diff)
	}
}

func TestSupervisor_CancelClosesSession(t *testing.T) {
	cfg := testConfig(t, "device:\n  calibration_readings: 0\nmqtt:\n  topic: t\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := newScriptedDevice(plainTemp, plainCO2)
	pub := &recordingPublisher{}
	sup := newSupervisor(cfg, quietLogger(), web.NewStatus(), nil, pub, nil)
	sup.open = func() (zytemp.Device, string, error) { return dev, "fake", nil }

	done := make(chan error, 1)
	go func() { done <- sup.run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for len(pub.snapshots()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not return after cancel")
	}
	if n := len(pub.snapshots()); n != 1 {
		t.Fatalf("published=%d want 1", n)
	}
	select {
	case <-dev.closed:
	default:
		t.Fatalf("device was not closed")
	}
}

func TestSupervisor_RecordsReports(t *testing.T) {
	cfg := testConfig(t, "device:\n  calibration_readings: 0\nmqtt:\n  topic: t\n")
	recPath := filepath.Join(t.TempDir(), "rec.log")
	w, err := replay.CreateWriter(recPath)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}

	dev := newScriptedDevice(plainTemp, plainCO2)
	sup := newSupervisor(cfg, quietLogger(), web.NewStatus(), nil, &recordingPublisher{}, w)
	sup.open = func() (zytemp.Device, string, error) { return dev, "fake", nil }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			dev.mu.Lock()
			n := len(dev.reports)
			dev.mu.Unlock()
			if n == 0 {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	if _, err := sup.runSession(ctx); err == nil {
		t.Fatalf("runSession() returned nil error")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	recs, err := replay.ReadFile(recPath)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	var got [][]byte
	for _, r := range recs {
		if r.Report != nil {
			got = append(got, r.Report)
		}
	}
	if diff := cmp.Diff([][]byte{plainTemp, plainCO2}, got); diff != "" {
		t.Fatalf("recorded mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusPublisher_MirrorsValues(t *testing.T) {
	status := web.NewStatus()
	inner := &recordingPublisher{}
	p := &statusPublisher{Publisher: inner, status: status}

	if err := p.PublishState(zytemp.Snapshot{"Temperature": 20, "CO2": 500}); err != nil {
		t.Fatalf("PublishState() error: %v", err)
	}
	if len(inner.snapshots()) != 1 {
		t.Fatalf("inner publisher not called")
	}
	snap := status.Snapshot(time.Time{})
	if len(snap.Measurements) != 2 || snap.LastPublish == "" {
		t.Fatalf("status not updated: %+v", snap)
	}
}
