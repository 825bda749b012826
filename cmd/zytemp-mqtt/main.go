package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"zytemp-mqtt/internal/config"
	"zytemp-mqtt/internal/hidraw"
	"zytemp-mqtt/internal/metrics"
	"zytemp-mqtt/internal/mqtt"
	"zytemp-mqtt/internal/replay"
	"zytemp-mqtt/internal/web"
	"zytemp-mqtt/internal/zytemp"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("config load failed: %v", err)
	}

	logs := web.NewLogBuffer(2000)
	log := setupLogger(cfg.Log, io.MultiWriter(os.Stderr, logs))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(reg)

	status := web.NewStatus()
	status.SetStatic(cfg.FriendlyName, cfg.Device.Source, cfg.MQTT.Topic)
	status.SetSensor(web.SensorInfo{
		Manufacturer:        cfg.Device.Manufacturer,
		Product:             cfg.Device.Product,
		Key:                 zytemp.DefaultKey,
		CalibrationReadings: *cfg.Device.CalibrationReadings,
	})

	log.WithFields(logrus.Fields{
		"config": configPath,
		"source": cfg.Device.Source,
		"topic":  cfg.MQTT.Topic,
	}).Info("zytemp-mqtt starting")

	if cfg.HTTP.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           web.Handler(status, logs, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.WithField("listen", cfg.HTTP.Listen).Info("http listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("http server stopped")
			}
		}()
		defer func() {
			shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
			defer c()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	pub, err := mqtt.Connect(mqtt.Config{
		Broker:          cfg.MQTT.Broker,
		ClientID:        cfg.MQTT.ClientID,
		Username:        cfg.MQTT.Username,
		Password:        cfg.MQTT.Password,
		Topic:           cfg.MQTT.Topic,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		QoS:             byte(cfg.MQTT.QoS),
		ConnectTimeout:  cfg.MQTT.ConnectTimeout,
	}, log.WithField("component", "mqtt"))
	if err != nil {
		log.Fatalf("mqtt init failed: %v", err)
	}
	defer pub.Close()

	announce(pub, mqtt.DeviceInfo{
		Manufacturer: hidraw.DefaultManufacturer,
		Model:        hidraw.DefaultProduct,
		Name:         cfg.FriendlyName,
	}, cfg.MQTT.PumpTimeout, log)

	var rec *replay.Writer
	if cfg.Record.Enable {
		rec, err = replay.CreateWriter(cfg.Record.Path)
		if err != nil {
			log.Fatalf("record init failed: %v", err)
		}
		defer rec.Close()
		log.WithField("path", cfg.Record.Path).Info("recording reports")
	}

	sup := newSupervisor(cfg, log, status, m, &statusPublisher{Publisher: pub, status: status}, rec)
	if err := sup.run(ctx); err != nil {
		log.WithError(err).Error("zytemp-mqtt stopped")
		return
	}
	log.Info("zytemp-mqtt stopping")
}

type discoveryPublisher interface {
	PublishDiscovery(dev mqtt.DeviceInfo) error
	Pump(timeout time.Duration)
}

// announce publishes the retained discovery documents and gives them one
// pump so they leave before the first device report.
func announce(pub discoveryPublisher, dev mqtt.DeviceInfo, pumpTimeout time.Duration, log logrus.FieldLogger) {
	if err := pub.PublishDiscovery(dev); err != nil {
		log.WithError(err).Warn("discovery publish failed")
	}
	pub.Pump(pumpTimeout)
}

func setupLogger(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
