package monitor

import (
	"sort"
	"time"

	"github.com/rewired-gh/crowdpulse/internal/models"
	"github.com/rewired-gh/crowdpulse/internal/stats"
)

// Backtest bounds.
const (
	MinLookbackHours     = 6
	MaxLookbackHours     = 336
	DefaultLookbackHours = 24
	backtestRows         = 12
)

// BacktestRow is one replayed city point.
type BacktestRow struct {
	Timestamp  time.Time `json:"ts"`
	Score      float64   `json:"score"`
	WouldAlert bool      `json:"would_alert"`
}

// BacktestReport summarizes a replay of the alert predicate.
type BacktestReport struct {
	LookbackHours int           `json:"lookback_hours"`
	Since         time.Time     `json:"since"`
	Flagged       int           `json:"flagged"`
	Total         int           `json:"total"`
	Rows          []BacktestRow `json:"rows"` // newest first, at most 12
}

// Backtest replays the alert predicate over the city points of the last
// lookbackHours, clamped to 6–336. Each point is judged on its own: no
// hysteresis state is carried between points or from the live detector.
func Backtest(city []models.CityHistoryPoint, lookbackHours int, now time.Time, t Thresholds) BacktestReport {
	hours := stats.ClampInt(lookbackHours, MinLookbackHours, MaxLookbackHours)
	since := now.Add(-time.Duration(hours) * time.Hour)

	var window []models.CityHistoryPoint
	for _, p := range city {
		if !p.Timestamp.Before(since) {
			window = append(window, p)
		}
	}
	sort.SliceStable(window, func(i, j int) bool {
		return window[i].Timestamp.Before(window[j].Timestamp)
	})

	report := BacktestReport{
		LookbackHours: hours,
		Since:         since,
		Total:         len(window),
		Rows:          []BacktestRow{},
	}
	for _, p := range window {
		if t.Qualifies(p) {
			report.Flagged++
		}
	}

	for i := len(window) - 1; i >= 0 && len(report.Rows) < backtestRows; i-- {
		p := window[i]
		report.Rows = append(report.Rows, BacktestRow{
			Timestamp:  p.Timestamp,
			Score:      p.Score,
			WouldAlert: t.Qualifies(p),
		})
	}
	return report
}
