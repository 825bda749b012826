package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	FriendlyName string       `yaml:"friendly_name"`
	Device       DeviceConfig `yaml:"device"`
	MQTT         MQTTConfig   `yaml:"mqtt"`
	Record       RecordConfig `yaml:"record"`
	Replay       ReplayConfig `yaml:"replay"`
	Sim          SimConfig    `yaml:"sim"`
	HTTP         HTTPConfig   `yaml:"http"`
	Log          LogConfig    `yaml:"log"`
}

type DeviceConfig struct {
	// Source is "hidraw" (default), "replay" or "sim".
	Source string `yaml:"source"`
	// Path pins a hidraw node; empty means find by manufacturer/product.
	Path         string `yaml:"path"`
	Manufacturer string `yaml:"manufacturer"`
	Product      string `yaml:"product"`

	// CalibrationReadings is how many CO2 readings to drop after each
	// session start. Nil means the default of 5; 0 disables the window.
	CalibrationReadings *int `yaml:"calibration_readings"`

	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryMax     time.Duration `yaml:"retry_max"`
}

type MQTTConfig struct {
	Broker          string        `yaml:"broker"`
	ClientID        string        `yaml:"client_id"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Topic           string        `yaml:"topic"`
	DiscoveryPrefix string        `yaml:"discovery_prefix"`
	QoS             int           `yaml:"qos"`
	PumpTimeout     time.Duration `yaml:"pump_timeout"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type SimConfig struct {
	Interval time.Duration `yaml:"interval"`
	TempC    float64       `yaml:"temp_c"`
	CO2PPM   int           `yaml:"co2_ppm"`
}

type HTTPConfig struct {
	// Listen is the metrics/status address; empty disables the server.
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	SourceHIDRaw = "hidraw"
	SourceReplay = "replay"
	SourceSim    = "sim"
)

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills in defaults and rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.FriendlyName == "" {
		cfg.FriendlyName = "CO2 Monitor"
	}

	cfg.Device.Source = strings.ToLower(strings.TrimSpace(cfg.Device.Source))
	if cfg.Device.Source == "" {
		cfg.Device.Source = SourceHIDRaw
	}
	switch cfg.Device.Source {
	case SourceHIDRaw, SourceReplay, SourceSim:
	default:
		return fmt.Errorf("device.source must be one of hidraw, replay, sim")
	}
	if cfg.Device.Manufacturer == "" {
		cfg.Device.Manufacturer = "Holtek"
	}
	if cfg.Device.Product == "" {
		cfg.Device.Product = "USB-zyTemp"
	}
	if cfg.Device.CalibrationReadings == nil {
		n := 5
		cfg.Device.CalibrationReadings = &n
	}
	if *cfg.Device.CalibrationReadings < 0 {
		return fmt.Errorf("device.calibration_readings must be >= 0")
	}
	if cfg.Device.RetryInitial <= 0 {
		cfg.Device.RetryInitial = 1 * time.Second
	}
	if cfg.Device.RetryMax <= 0 {
		cfg.Device.RetryMax = 30 * time.Second
	}
	if cfg.Device.RetryMax < cfg.Device.RetryInitial {
		return fmt.Errorf("device.retry_max must be >= device.retry_initial")
	}

	cfg.MQTT.Topic = strings.TrimSpace(cfg.MQTT.Topic)
	if cfg.MQTT.Topic == "" {
		return fmt.Errorf("mqtt.topic is required")
	}
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://127.0.0.1:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "zytemp-mqtt"
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.MQTT.PumpTimeout <= 0 {
		cfg.MQTT.PumpTimeout = 100 * time.Millisecond
	}
	if cfg.MQTT.ConnectTimeout <= 0 {
		cfg.MQTT.ConnectTimeout = 10 * time.Second
	}

	if cfg.Record.Enable {
		if cfg.Device.Source == SourceReplay {
			return fmt.Errorf("record cannot be used with device.source=replay")
		}
		if cfg.Record.Path == "" {
			return fmt.Errorf("record.path is required when record.enable is true")
		}
	}

	if cfg.Device.Source == SourceReplay {
		if cfg.Replay.Path == "" {
			return fmt.Errorf("replay.path is required when device.source is 'replay'")
		}
		if cfg.Replay.Speed == 0 {
			cfg.Replay.Speed = 1
		}
		if cfg.Replay.Speed < 0 {
			return fmt.Errorf("replay.speed must be > 0")
		}
	}

	// Simulator defaults (safe even if unused).
	if cfg.Sim.Interval <= 0 {
		cfg.Sim.Interval = 2 * time.Second
	}
	if cfg.Sim.TempC == 0 {
		cfg.Sim.TempC = 21.5
	}
	if cfg.Sim.CO2PPM <= 0 {
		cfg.Sim.CO2PPM = 600
	}
	if cfg.Sim.CO2PPM > math.MaxUint16 {
		return fmt.Errorf("sim.co2_ppm must be <= 65535")
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level %q is not a valid level", cfg.Log.Level)
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}

	return nil
}
