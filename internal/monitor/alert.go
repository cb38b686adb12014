package monitor

import "github.com/rewired-gh/crowdpulse/internal/models"

// Thresholds is the alert predicate and its hysteresis depth.
type Thresholds struct {
	Score            float64 `json:"score"`
	Share            float64 `json:"share"`
	Z                float64 `json:"z"`
	HysteresisCycles int     `json:"hysteresis_cycles"`
}

// DefaultThresholds alert on score ≥ 76, share ≥ 0.25 and cityZ ≥ 1 held for
// two consecutive cycles.
var DefaultThresholds = Thresholds{Score: 76, Share: 0.25, Z: 1, HysteresisCycles: 2}

// Qualifies evaluates the alert predicate on one city point. The predicate is
// memoryless; live alerts add hysteresis through Streak.
func (t Thresholds) Qualifies(p models.CityHistoryPoint) bool {
	return p.Score >= t.Score && p.AnomalousShare >= t.Share && p.CityZ >= t.Z
}

// Streak counts consecutive qualifying cycles.
type Streak struct {
	count int
}

// Observe records one cycle and reports whether the alert is raised: the
// counter resets on the first failing cycle and alerts once it reaches need.
func (s *Streak) Observe(qualifies bool, need int) bool {
	if !qualifies {
		s.count = 0
		return false
	}
	s.count++
	if need < 1 {
		need = 1
	}
	return s.count >= need
}

// Count returns the current number of consecutive qualifying cycles.
func (s *Streak) Count() int {
	return s.count
}
