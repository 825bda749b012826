// Package metrics exposes Prometheus counters for the sensor pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zytemp"

// Collector groups the pipeline metrics. A nil *Collector is valid and
// records nothing, so packages can take one unconditionally.
type Collector struct {
	ReportsRead       prometheus.Counter
	ShortReads        prometheus.Counter
	ChecksumErrors    prometheus.Counter
	UnknownTypes      *prometheus.CounterVec
	ReadingsIgnored   *prometheus.CounterVec
	Readings          *prometheus.CounterVec
	SnapshotsSent     prometheus.Counter
	PublishErrors     prometheus.Counter
	SessionsStarted   prometheus.Counter
	SessionsEnded     prometheus.Counter
	LastValue         *prometheus.GaugeVec
	CalibrationRemain prometheus.Gauge
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ReportsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_read_total",
			Help:      "Raw HID reports read from the device.",
		}),
		ShortReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "short_reads_total",
			Help:      "Reports shorter than a full frame.",
		}),
		ChecksumErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_errors_total",
			Help:      "Frames dropped because of a checksum mismatch.",
		}),
		UnknownTypes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_types_total",
			Help:      "Frames dropped because of an unknown type tag.",
		}, []string{"tag"}),
		ReadingsIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ignored_total",
			Help:      "Readings dropped during the calibration window.",
		}, []string{"kind"}),
		Readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Readings admitted to the snapshot cache.",
		}, []string{"kind"}),
		SnapshotsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Complete snapshots handed to the publisher.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Snapshots the publisher failed to send.",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Device sessions started.",
		}),
		SessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Device sessions terminated.",
		}),
		LastValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "value",
			Help:      "Latest admitted value per measurement kind.",
		}, []string{"kind", "unit"}),
		CalibrationRemain: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calibration_readings_remaining",
			Help:      "CO2 readings left in the current calibration window.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			c.ReportsRead,
			c.ShortReads,
			c.ChecksumErrors,
			c.UnknownTypes,
			c.ReadingsIgnored,
			c.Readings,
			c.SnapshotsSent,
			c.PublishErrors,
			c.SessionsStarted,
			c.SessionsEnded,
			c.LastValue,
			c.CalibrationRemain,
		)
	}
	return c
}

func (c *Collector) IncReportsRead() {
	if c == nil {
		return
	}
	c.ReportsRead.Inc()
}

func (c *Collector) IncShortReads() {
	if c == nil {
		return
	}
	c.ShortReads.Inc()
}

func (c *Collector) IncChecksumErrors() {
	if c == nil {
		return
	}
	c.ChecksumErrors.Inc()
}

func (c *Collector) IncUnknownType(tag string) {
	if c == nil {
		return
	}
	c.UnknownTypes.WithLabelValues(tag).Inc()
}

func (c *Collector) IncIgnored(kind string) {
	if c == nil {
		return
	}
	c.ReadingsIgnored.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveReading(kind, unit string, v float64) {
	if c == nil {
		return
	}
	c.Readings.WithLabelValues(kind).Inc()
	c.LastValue.WithLabelValues(kind, unit).Set(v)
}

func (c *Collector) IncSnapshotsSent() {
	if c == nil {
		return
	}
	c.SnapshotsSent.Inc()
}

func (c *Collector) IncPublishErrors() {
	if c == nil {
		return
	}
	c.PublishErrors.Inc()
}

func (c *Collector) SessionStarted(calibration int) {
	if c == nil {
		return
	}
	c.SessionsStarted.Inc()
	c.CalibrationRemain.Set(float64(calibration))
}

func (c *Collector) SessionEnded() {
	if c == nil {
		return
	}
	c.SessionsEnded.Inc()
}

func (c *Collector) SetCalibrationRemaining(n int) {
	if c == nil {
		return
	}
	c.CalibrationRemain.Set(float64(n))
}
