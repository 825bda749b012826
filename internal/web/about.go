package web

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"zytemp-mqtt/internal/zytemp"
)

// SensorInfo is the static description of the monitor this process reads.
type SensorInfo struct {
	Manufacturer        string
	Product             string
	Key                 zytemp.Key
	CalibrationReadings int
}

type aboutKind struct {
	Tag         string `json:"tag"`
	Name        string `json:"name"`
	Unit        string `json:"unit"`
	DeviceClass string `json:"device_class"`
}

type aboutSensor struct {
	Manufacturer        string      `json:"manufacturer"`
	Product             string      `json:"product"`
	Key                 string      `json:"key"`
	FrameSize           int         `json:"frame_size"`
	CalibrationReadings int         `json:"calibration_readings"`
	Kinds               []aboutKind `json:"kinds"`
}

type AboutResponse struct {
	Service   string      `json:"service"`
	NowUTC    string      `json:"now_utc"`
	GoVersion string      `json:"go_version"`
	Version   string      `json:"version,omitempty"`
	Commit    string      `json:"commit,omitempty"`
	Sensor    aboutSensor `json:"sensor"`
}

// SetSensor records what /api/about reports about the monitor.
func (s *Status) SetSensor(info SensorInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensor = info
}

func (s *Status) about(nowUTC time.Time) AboutResponse {
	s.mu.RLock()
	info := s.sensor
	s.mu.RUnlock()

	resp := AboutResponse{
		Service:   "zytemp-mqtt",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		GoVersion: runtime.Version(),
		Sensor: aboutSensor{
			Manufacturer:        info.Manufacturer,
			Product:             info.Product,
			Key:                 hex.EncodeToString(info.Key[:]),
			FrameSize:           zytemp.FrameSize,
			CalibrationReadings: info.CalibrationReadings,
		},
	}
	for _, k := range zytemp.Kinds() {
		resp.Sensor.Kinds = append(resp.Sensor.Kinds, aboutKind{
			Tag:         fmt.Sprintf("0x%02x", byte(k)),
			Name:        k.Name(),
			Unit:        k.Unit(),
			DeviceClass: k.DeviceClass(),
		})
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		resp.Version = bi.Main.Version
		for _, kv := range bi.Settings {
			if kv.Key == "vcs.revision" {
				resp.Commit = kv.Value
			}
		}
	}
	return resp
}

func aboutHandler(status *Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, status.about(time.Now().UTC()))
	})
}
