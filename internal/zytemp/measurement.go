package zytemp

import (
	"encoding/binary"
	"fmt"
)

// Kind is a measurement type, identified on the wire by its tag byte.
type Kind byte

const (
	Temperature Kind = 0x42
	CO2         Kind = 0x50
)

var kinds = [...]Kind{Temperature, CO2}

// Kinds returns every measurement kind the device reports, in publish order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds[:])
	return out
}

// LookupKind maps a frame tag byte to its Kind.
func LookupKind(tag byte) (Kind, bool) {
	switch k := Kind(tag); k {
	case Temperature, CO2:
		return k, true
	}
	return 0, false
}

func (k Kind) Name() string {
	switch k {
	case Temperature:
		return "Temperature"
	case CO2:
		return "CO2"
	}
	return fmt.Sprintf("Kind(0x%02X)", byte(k))
}

func (k Kind) String() string { return k.Name() }

func (k Kind) Unit() string {
	switch k {
	case Temperature:
		return "°C"
	case CO2:
		return "ppm"
	}
	return ""
}

// DeviceClass is the Home Assistant sensor device class.
func (k Kind) DeviceClass() string {
	switch k {
	case Temperature:
		return "temperature"
	case CO2:
		return "carbon_dioxide"
	}
	return ""
}

func (k Kind) Icon() string {
	switch k {
	case Temperature:
		return "mdi:thermometer"
	case CO2:
		return "mdi:molecule-co2"
	}
	return ""
}

// Convert turns a raw 16-bit reading into its physical value. Temperature
// is reported in 1/16 K, CO2 directly in ppm.
func (k Kind) Convert(raw uint16) float64 {
	switch k {
	case Temperature:
		return float64(raw)/16 - 273.15
	default:
		return float64(raw)
	}
}

// index is the kind's slot in kinds.
func (k Kind) index() int {
	for i, kk := range kinds {
		if kk == k {
			return i
		}
	}
	return -1
}

// UnknownTypeError reports a frame whose tag byte is not a known Kind. The
// device emits several of these; they are dropped.
type UnknownTypeError struct {
	Tag byte
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown measurement type 0x%02X", e.Tag)
}

// Reading is one decoded measurement.
type Reading struct {
	Kind  Kind
	Raw   uint16
	Value float64
}

func (r Reading) String() string {
	return fmt.Sprintf("%s: %g %s", r.Kind.Name(), r.Value, r.Kind.Unit())
}

// Decode maps a validated frame to a Reading.
func Decode(f Frame) (Reading, error) {
	k, ok := LookupKind(f[0])
	if !ok {
		return Reading{}, &UnknownTypeError{Tag: f[0]}
	}
	raw := binary.BigEndian.Uint16(f[1:3])
	return Reading{Kind: k, Raw: raw, Value: k.Convert(raw)}, nil
}
