// Package mqtt publishes sensor snapshots and Home Assistant discovery
// documents to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"zytemp-mqtt/internal/zytemp"
)

// maxPending bounds publishes waiting for acknowledgement between pumps.
const maxPending = 64

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// Topic receives every snapshot as a JSON object.
	Topic string
	// DiscoveryPrefix enables Home Assistant discovery when non-empty.
	DiscoveryPrefix string
	QoS             byte

	ConnectTimeout time.Duration
}

// DeviceInfo tags discovery documents.
type DeviceInfo struct {
	Manufacturer string
	Model        string
	Name         string
}

// client is the subset of paho.Client we use.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

type pendingPublish struct {
	topic string
	tok   paho.Token
}

// Publisher is not safe for concurrent use; the session loop owns it.
type Publisher struct {
	cfg     Config
	c       client
	log     logrus.FieldLogger
	pending []pendingPublish
}

var newClient = func(opts *paho.ClientOptions) paho.Client { return paho.NewClient(opts) }

// Connect dials the broker. The underlying client reconnects on its own
// after the first successful connection.
func Connect(cfg Config, log logrus.FieldLogger) (*Publisher, error) {
	cfg.Broker = strings.TrimSpace(cfg.Broker)
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqtt: topic is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(func(paho.Client) {
			log.WithField("broker", cfg.Broker).Info("mqtt connected")
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.WithError(err).Warn("mqtt connection lost")
		})

	c := newClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(cfg.ConnectTimeout) {
		// SetConnectRetry keeps trying in the background; publishes queue
		// until the broker answers.
		log.WithField("broker", cfg.Broker).Warn("mqtt connect still pending")
	} else if err := tok.Error(); err != nil {
		c.Disconnect(0)
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
	}
	return newPublisher(cfg, c, log), nil
}

func newPublisher(cfg Config, c client, log logrus.FieldLogger) *Publisher {
	return &Publisher{cfg: cfg, c: c, log: log}
}

// PublishState sends a snapshot to the state topic.
func (p *Publisher) PublishState(s zytemp.Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("mqtt: marshal snapshot: %w", err)
	}
	return p.publish(p.cfg.Topic, false, b)
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	Name         string   `json:"name"`
}

type discoveryConfig struct {
	Device            discoveryDevice `json:"device"`
	EnabledByDefault  bool            `json:"enabled_by_default"`
	StateClass        string          `json:"state_class"`
	DeviceClass       string          `json:"device_class"`
	Name              string          `json:"name"`
	StateTopic        string          `json:"state_topic"`
	UniqueID          string          `json:"unique_id"`
	UnitOfMeasurement string          `json:"unit_of_measurement"`
	ValueTemplate     string          `json:"value_template"`
	Icon              string          `json:"icon"`
}

func discoveryDocument(cfg Config, dev DeviceInfo, k zytemp.Kind) (topic string, doc discoveryConfig) {
	id := path.Base(cfg.Topic)
	doc = discoveryConfig{
		Device: discoveryDevice{
			Identifiers:  []string{id},
			Manufacturer: dev.Manufacturer,
			Model:        dev.Model,
			Name:         dev.Name,
		},
		EnabledByDefault:  true,
		StateClass:        "measurement",
		DeviceClass:       k.DeviceClass(),
		Name:              dev.Name + " " + k.Name(),
		StateTopic:        cfg.Topic,
		UniqueID:          id + "_" + k.Name(),
		UnitOfMeasurement: k.Unit(),
		ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", k.Name()),
		Icon:              k.Icon(),
	}
	return path.Join(cfg.DiscoveryPrefix, "sensor", doc.UniqueID, "config"), doc
}

// PublishDiscovery announces every measurement kind as a retained Home
// Assistant sensor config. It does nothing when no prefix is configured.
func (p *Publisher) PublishDiscovery(dev DeviceInfo) error {
	if p.cfg.DiscoveryPrefix == "" {
		return nil
	}
	for _, k := range zytemp.Kinds() {
		topic, doc := discoveryDocument(p.cfg, dev, k)
		b, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("mqtt: marshal discovery: %w", err)
		}
		if err := p.publish(topic, true, b); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publish(topic string, retain bool, payload []byte) error {
	tok := p.c.Publish(topic, p.cfg.QoS, retain, payload)
	// Fail fast when the client rejects the publish outright.
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt: publish %s: %w", topic, err)
		}
		return nil
	default:
	}
	if len(p.pending) >= maxPending {
		p.log.WithField("topic", p.pending[0].topic).Warn("mqtt publish not acknowledged, dropping")
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, pendingPublish{topic: topic, tok: tok})
	return nil
}

// Pump waits up to timeout for outstanding publishes and logs failures.
// Unfinished publishes stay queued for the next call.
func (p *Publisher) Pump(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	keep := p.pending[:0]
	for _, pp := range p.pending {
		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}
		if !pp.tok.WaitTimeout(wait) {
			keep = append(keep, pp)
			continue
		}
		if err := pp.tok.Error(); err != nil {
			p.log.WithError(err).WithField("topic", pp.topic).Error("mqtt publish failed")
		}
	}
	for i := len(keep); i < len(p.pending); i++ {
		p.pending[i] = pendingPublish{}
	}
	p.pending = keep
}

// Pending is the number of unacknowledged publishes.
func (p *Publisher) Pending() int { return len(p.pending) }

// Close flushes outstanding publishes for up to a second and disconnects.
func (p *Publisher) Close() {
	if p == nil || p.c == nil {
		return
	}
	p.Pump(time.Second)
	p.c.Disconnect(250)
}
