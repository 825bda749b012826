package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_RequiresTopic(t *testing.T) {
	path := writeTempConfig(t, "mqtt: {}\n")
	_, err := Load(path)
	requireErrEq(t, err, "mqtt.topic is required")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "mqtt:\n  topic: 'home/co2'\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Device.Source != SourceHIDRaw {
		t.Fatalf("source=%q want hidraw", cfg.Device.Source)
	}
	if cfg.Device.Manufacturer != "Holtek" || cfg.Device.Product != "USB-zyTemp" {
		t.Fatalf("device=%q/%q", cfg.Device.Manufacturer, cfg.Device.Product)
	}
	if cfg.Device.CalibrationReadings == nil || *cfg.Device.CalibrationReadings != 5 {
		t.Fatalf("calibration_readings=%v want 5", cfg.Device.CalibrationReadings)
	}
	if cfg.MQTT.PumpTimeout != 100*time.Millisecond {
		t.Fatalf("pump_timeout=%s want 100ms", cfg.MQTT.PumpTimeout)
	}
	if cfg.MQTT.Broker != "tcp://127.0.0.1:1883" {
		t.Fatalf("broker=%q", cfg.MQTT.Broker)
	}
	if cfg.MQTT.DiscoveryPrefix != "" {
		t.Fatalf("discovery should default to disabled")
	}
	if cfg.FriendlyName == "" || cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("expected friendly name and log defaults")
	}
	if cfg.Device.RetryInitial != time.Second || cfg.Device.RetryMax != 30*time.Second {
		t.Fatalf("retry=%s..%s", cfg.Device.RetryInitial, cfg.Device.RetryMax)
	}
}

func TestLoad_ExplicitZeroCalibration(t *testing.T) {
	path := writeTempConfig(t, "mqtt:\n  topic: t\ndevice:\n  calibration_readings: 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if *cfg.Device.CalibrationReadings != 0 {
		t.Fatalf("calibration_readings=%d want 0", *cfg.Device.CalibrationReadings)
	}
}

func TestLoad_FullFile(t *testing.T) {
	path := writeTempConfig(t, `
friendly_name: Office
device:
  source: HIDRAW
  path: /dev/hidraw3
mqtt:
  broker: tcp://broker:1883
  topic: office/co2
  discovery_prefix: homeassistant
  qos: 1
  pump_timeout: 50ms
http:
  listen: ":9105"
log:
  level: DEBUG
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.FriendlyName != "Office" || cfg.Device.Source != SourceHIDRaw || cfg.Device.Path != "/dev/hidraw3" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.MQTT.QoS != 1 || cfg.MQTT.PumpTimeout != 50*time.Millisecond || cfg.MQTT.DiscoveryPrefix != "homeassistant" {
		t.Fatalf("mqtt=%+v", cfg.MQTT)
	}
	if cfg.HTTP.Listen != ":9105" || cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("http=%+v log=%+v", cfg.HTTP, cfg.Log)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name  string
		extra string
		want  string
	}{
		{
			name:  "UnknownSource",
			extra: "device:\n  source: serial\n",
			want:  "device.source must be one of hidraw, replay, sim",
		},
		{
			name:  "NegativeCalibration",
			extra: "device:\n  calibration_readings: -1\n",
			want:  "device.calibration_readings must be >= 0",
		},
		{
			name:  "RetryOrder",
			extra: "device:\n  retry_initial: 10s\n  retry_max: 1s\n",
			want:  "device.retry_max must be >= device.retry_initial",
		},
		{
			name:  "QoSRange",
			extra: "mqtt:\n  topic: t\n  qos: 3\n",
			want:  "mqtt.qos must be 0, 1 or 2",
		},
		{
			name:  "RecordNeedsPath",
			extra: "record:\n  enable: true\n",
			want:  "record.path is required when record.enable is true",
		},
		{
			name:  "RecordWithReplay",
			extra: "device:\n  source: replay\nrecord:\n  enable: true\n  path: /tmp/x\nreplay:\n  path: /tmp/y\n",
			want:  "record cannot be used with device.source=replay",
		},
		{
			name:  "ReplayNeedsPath",
			extra: "device:\n  source: replay\n",
			want:  "replay.path is required when device.source is 'replay'",
		},
		{
			name:  "ReplaySpeed",
			extra: "device:\n  source: replay\nreplay:\n  path: /tmp/y\n  speed: -2\n",
			want:  "replay.speed must be > 0",
		},
		{
			name:  "LogFormat",
			extra: "log:\n  format: xml\n",
			want:  "log.format must be 'text' or 'json'",
		},
		{
			name:  "SimCO2Range",
			extra: "sim:\n  co2_ppm: 70000\n",
			want:  "sim.co2_ppm must be <= 65535",
		},
		{
			name:  "LogLevel",
			extra: "log:\n  level: chatty\n",
			want:  `log.level "chatty" is not a valid level`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			contents := tc.extra
			if !strings.HasPrefix(contents, "mqtt:") {
				contents = "mqtt:\n  topic: t\n" + contents
			}
			path := writeTempConfig(t, contents)
			_, err := Load(path)
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_ReplayDefaults(t *testing.T) {
	path := writeTempConfig(t, "mqtt:\n  topic: t\ndevice:\n  source: replay\nreplay:\n  path: /tmp/frames.log\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Replay.Speed != 1 {
		t.Fatalf("speed=%v want 1", cfg.Replay.Speed)
	}
}

func TestDefaultAndValidate_Nil(t *testing.T) {
	requireErrEq(t, DefaultAndValidate(nil), "config is nil")
}
