package web

import (
	"sync"
	"time"

	"zytemp-mqtt/internal/zytemp"
)

// Status is the process-wide view served by /api/status. Setters are safe
// for concurrent use.
type Status struct {
	mu sync.RWMutex

	start    time.Time
	device   string
	source   string
	state    string
	sessions uint64

	values       zytemp.Snapshot
	lastPublish  time.Time
	lastError    string
	lastErrorAt  time.Time
	mqttTopic    string
	friendlyName string
	sensor       SensorInfo
}

func NewStatus() *Status {
	return &Status{start: time.Now().UTC(), state: "idle"}
}

func (s *Status) SetStatic(friendlyName, source, mqttTopic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friendlyName = friendlyName
	s.source = source
	s.mqttTopic = mqttTopic
}

// SessionStarted records a new session on device.
func (s *Status) SessionStarted(device string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = device
	s.state = zytemp.StateRunning.String()
	s.sessions++
}

// SessionEnded records why the current session stopped.
func (s *Status) SessionEnded(nowUTC time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = zytemp.StateTerminated.String()
	if err != nil {
		s.setErrLocked(nowUTC, err.Error())
	}
}

func (s *Status) SetError(nowUTC time.Time, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrLocked(nowUTC, msg)
}

func (s *Status) setErrLocked(nowUTC time.Time, msg string) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.lastError = msg
	s.lastErrorAt = nowUTC
}

// SetValues stores the last published snapshot.
func (s *Status) SetValues(nowUTC time.Time, snap zytemp.Snapshot) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	cp := make(zytemp.Snapshot, len(snap))
	for k, v := range snap {
		cp[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = cp
	s.lastPublish = nowUTC
}

type Measurement struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

type StatusSnapshot struct {
	Service      string        `json:"service"`
	FriendlyName string        `json:"friendly_name,omitempty"`
	NowUTC       string        `json:"now_utc"`
	UptimeSec    int64         `json:"uptime_sec"`
	Source       string        `json:"source,omitempty"`
	Device       string        `json:"device,omitempty"`
	State        string        `json:"state"`
	Sessions     uint64        `json:"sessions"`
	MQTTTopic    string        `json:"mqtt_topic,omitempty"`
	Measurements []Measurement `json:"measurements"`
	LastPublish  string        `json:"last_publish_utc,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	LastErrorAt  string        `json:"last_error_utc,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StatusSnapshot{
		Service:      "zytemp-mqtt",
		FriendlyName: s.friendlyName,
		NowUTC:       nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:    int64(nowUTC.Sub(s.start).Seconds()),
		Source:       s.source,
		Device:       s.device,
		State:        s.state,
		Sessions:     s.sessions,
		MQTTTopic:    s.mqttTopic,
		Measurements: []Measurement{},
		LastError:    s.lastError,
	}
	for _, k := range zytemp.Kinds() {
		if v, ok := s.values[k.Name()]; ok {
			snap.Measurements = append(snap.Measurements, Measurement{Name: k.Name(), Value: v, Unit: k.Unit()})
		}
	}
	if !s.lastPublish.IsZero() {
		snap.LastPublish = s.lastPublish.UTC().Format(time.RFC3339Nano)
	}
	if !s.lastErrorAt.IsZero() {
		snap.LastErrorAt = s.lastErrorAt.UTC().Format(time.RFC3339Nano)
	}
	return snap
}
