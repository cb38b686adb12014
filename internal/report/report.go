// Package report turns detection results into the summaries shown to people:
// status labels, "why now" text, zone cards, the weekly signature and the
// comparison tables.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/crowdpulse/internal/models"
	"github.com/rewired-gh/crowdpulse/internal/monitor"
	"github.com/rewired-gh/crowdpulse/internal/stats"
)

// Status labels, most severe first.
const (
	StatusAlert    = "ALERT: sustained anomaly"
	StatusMajor    = "High likelihood: major event"
	StatusRising   = "Rising anomaly pressure"
	StatusMild     = "Mildly elevated"
	StatusBaseline = "Calm baseline"
)

// HotZonePressure is the mean load at which a zone card is marked hot.
const HotZonePressure = 70.0

// StatusLabel summarizes a city snapshot in a few words.
func StatusLabel(city models.CitySnapshot) string {
	switch {
	case city.Alerted:
		return StatusAlert
	case city.Score >= 85:
		return StatusMajor
	case city.Score >= 72:
		return StatusRising
	case city.Score >= 58:
		return StatusMild
	default:
		return StatusBaseline
	}
}

// ShortName keeps the first two words of a business name.
func ShortName(name string) string {
	fields := strings.Fields(name)
	if len(fields) > 2 {
		fields = fields[:2]
	}
	return strings.Join(fields, " ")
}

// Signed formats v with one decimal and an explicit plus sign.
func Signed(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+%.1f", v)
	}
	return fmt.Sprintf("%.1f", v)
}

// WhyNow explains a snapshot by its anomalous share and top three drivers.
func WhyNow(snap monitor.Snapshot) string {
	var drivers []string
	for _, e := range snap.Entities[:min(3, len(snap.Entities))] {
		drivers = append(drivers, fmt.Sprintf("%s %s", ShortName(e.Name), Signed(e.DeltaWeekly)))
	}
	return fmt.Sprintf("%d%% counters elevated; main drivers: %s.",
		int(math.Round(snap.City.AnomalousShare*100)), strings.Join(drivers, ", "))
}

// ZoneStat is one quadrant card.
type ZoneStat struct {
	Zone     models.Zone `json:"zone"`
	Pressure float64     `json:"pressure"`
	Rush     float64     `json:"rush"` // share of the zone's entities at z ≥ 1.5
	Size     int         `json:"size"`
	Hot      bool        `json:"hot"`
}

// ZoneStats aggregates entities per quadrant, in display order. Empty zones
// report zero pressure and rush.
func ZoneStats(entities []models.EntitySnapshot) []ZoneStat {
	out := make([]ZoneStat, 0, len(models.Zones))
	for _, zone := range models.Zones {
		var loads []float64
		rush := 0
		for _, e := range entities {
			if e.Zone != zone {
				continue
			}
			loads = append(loads, e.ProxyLoad)
			if e.ZScore >= monitor.AnomalyZ {
				rush++
			}
		}
		stat := ZoneStat{Zone: zone, Size: len(loads)}
		if len(loads) > 0 {
			stat.Pressure = stats.Round(stats.Mean(loads), 1)
			stat.Rush = stats.Round(float64(rush)/float64(len(loads)), 2)
		}
		stat.Hot = stat.Pressure >= HotZonePressure
		out = append(out, stat)
	}
	return out
}

// TopByZ returns up to n entities in z order. Snapshot entities are already
// sorted that way; this only copies and truncates.
func TopByZ(entities []models.EntitySnapshot, n int) []models.EntitySnapshot {
	out := append([]models.EntitySnapshot(nil), entities...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ZScore > out[j].ZScore })
	return out[:min(n, len(out))]
}

// TopByWeeklyDelta returns up to n entities with the largest absolute
// deviation from their weekly baseline.
func TopByWeeklyDelta(entities []models.EntitySnapshot, n int) []models.EntitySnapshot {
	out := append([]models.EntitySnapshot(nil), entities...)
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].DeltaWeekly) > math.Abs(out[j].DeltaWeekly)
	})
	return out[:min(n, len(out))]
}

// Signature is city pressure per hour of day: the typical week (median over
// all history) against today (mean since local midnight). Hours without data
// are nil.
type Signature struct {
	Typical [24]*float64 `json:"typical"`
	Today   [24]*float64 `json:"today"`
}

// WeeklySignature builds the signature of city history at now in loc.
func WeeklySignature(city []models.CityHistoryPoint, now time.Time, loc *time.Location) Signature {
	if loc == nil {
		loc = now.Location()
	}
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var all, today [24][]float64
	for _, p := range city {
		if p.Hour < 0 || p.Hour > 23 {
			continue
		}
		all[p.Hour] = append(all[p.Hour], p.CityPressure)
		if !p.Timestamp.Before(dayStart) {
			today[p.Hour] = append(today[p.Hour], p.CityPressure)
		}
	}

	var sig Signature
	for h := 0; h < 24; h++ {
		if len(all[h]) > 0 {
			v := stats.Round(stats.Median(all[h]), 1)
			sig.Typical[h] = &v
		}
		if len(today[h]) > 0 {
			v := stats.Round(stats.Mean(today[h]), 1)
			sig.Today[h] = &v
		}
	}
	return sig
}

// TimelinePoint is one score on the recent timeline.
type TimelinePoint struct {
	Timestamp time.Time `json:"ts"`
	Score     float64   `json:"score"`
	Alerted   bool      `json:"alerted"`
}

// Timeline returns the last n city scores, oldest first.
func Timeline(city []models.CityHistoryPoint, n int) []TimelinePoint {
	if n > 0 && len(city) > n {
		city = city[len(city)-n:]
	}
	out := make([]TimelinePoint, len(city))
	for i, p := range city {
		out[i] = TimelinePoint{Timestamp: p.Timestamp, Score: p.Score, Alerted: p.Alerted}
	}
	return out
}

// ShareSummary is the one-line summary used when sharing a snapshot.
func ShareSummary(area string, city models.CitySnapshot, loc *time.Location) string {
	ts := city.Timestamp
	if loc != nil {
		ts = ts.In(loc)
	}
	return fmt.Sprintf("%s | Score %d | Pressure %.1f | Rush %d%% | %s",
		area,
		int(math.Round(city.Score)),
		city.CityPressure,
		int(math.Round(city.AnomalousShare*100)),
		ts.Format("2006-01-02 15:04"),
	)
}

// BacktestSummary is the one-line summary of a replay.
func BacktestSummary(r monitor.BacktestReport) string {
	return fmt.Sprintf("Replay %dh: %d alert windows out of %d snapshots.", r.LookbackHours, r.Flagged, r.Total)
}
