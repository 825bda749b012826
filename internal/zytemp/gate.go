package zytemp

// DefaultCalibrationReadings is how many CO2 readings the sensor needs to
// settle after power-up.
const DefaultCalibrationReadings = 5

// CalibrationGate holds back readings while the sensor self-calibrates.
//
// The window is counted in CO2 readings but applies to every kind: a
// Temperature reading seen inside the window is dropped, not deferred.
type CalibrationGate struct {
	remaining int
}

func NewCalibrationGate(n int) *CalibrationGate {
	if n < 0 {
		n = 0
	}
	return &CalibrationGate{remaining: n}
}

// Admit reports whether a reading of kind k may be cached.
func (g *CalibrationGate) Admit(k Kind) bool {
	if g.remaining == 0 {
		return true
	}
	if k == CO2 {
		g.remaining--
	}
	return false
}

func (g *CalibrationGate) Remaining() int { return g.remaining }
