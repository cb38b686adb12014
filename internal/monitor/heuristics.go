package monitor

import (
	"fmt"
	"math"

	"github.com/rewired-gh/crowdpulse/internal/models"
	"github.com/rewired-gh/crowdpulse/internal/stats"
)

// Confidence is a 20–98 estimate of how much to trust a snapshot.
type Confidence struct {
	Value  int    `json:"value"`
	Reason string `json:"reason"`
}

const (
	confidenceBase        = 35.0
	confidencePanelMax    = 20.0
	confidencePerEntity   = 0.6
	confidenceCoverageMax = 25.0
	confidencePerPoint    = 1.2
	confidenceDemo        = -20.0
	confidenceLive        = 12.0
	confidenceCityZ       = 6.0
	confidenceMin         = 20.0
	confidenceMax         = 98.0
)

// ComputeConfidence scores a snapshot by panel size, same-hour coverage of
// city history, the source kind and whether the city deviates clearly.
func ComputeConfidence(snap Snapshot, city []models.CityHistoryPoint, fallback bool) Confidence {
	sameHour := 0
	for _, p := range city {
		if p.Hour == snap.City.Hour {
			sameHour++
		}
	}

	score := confidenceBase
	score += math.Min(confidencePanelMax, float64(len(snap.Entities))*confidencePerEntity)
	score += math.Min(confidenceCoverageMax, float64(sameHour)*confidencePerPoint)
	if fallback {
		score += confidenceDemo
	} else {
		score += confidenceLive
	}
	if snap.City.CityZ > 1 {
		score += confidenceCityZ
	}

	reason := "Live Places data with weekly baseline coverage."
	if fallback {
		reason = "Demo source lowers confidence; still useful for pattern testing."
	}
	return Confidence{
		Value:  int(math.Round(stats.Clamp(score, confidenceMin, confidenceMax))),
		Reason: reason,
	}
}

// Archetype labels the situation a snapshot most likely reflects.
type Archetype struct {
	Label string      `json:"label"`
	Hint  string      `json:"hint"`
	Zone  models.Zone `json:"zone,omitempty"` // set for localized events
}

// Archetype labels.
const (
	ArchetypeNightlife   = "Nightlife surge"
	ArchetypeCommute     = "Commute spike"
	ArchetypeLunch       = "Lunch crunch"
	ArchetypeLocalized   = "Localized zone event"
	ArchetypeDistributed = "Distributed urban pulse"
)

// LocalizedShare is the fraction of anomalous entities one zone must hold
// for an event to count as localized.
const LocalizedShare = 0.45

// InferArchetype applies time-of-day rules first, then zone dominance.
func InferArchetype(snap Snapshot) Archetype {
	hour := snap.City.Hour
	switch {
	case hour >= 22 || hour <= 2:
		return Archetype{Label: ArchetypeNightlife, Hint: "Late-hour pressure is above typical pattern."}
	case hour >= 7 && hour <= 10:
		return Archetype{Label: ArchetypeCommute, Hint: "Morning counters rising around transit windows."}
	case hour >= 11 && hour <= 14:
		return Archetype{Label: ArchetypeLunch, Hint: "Midday demand concentration above weekly baseline."}
	}

	zone, share := DominantZone(snap.Entities)
	if share >= LocalizedShare {
		return Archetype{
			Label: ArchetypeLocalized,
			Hint:  fmt.Sprintf("%s drives most anomalous counters.", zone),
			Zone:  zone,
		}
	}
	return Archetype{Label: ArchetypeDistributed, Hint: "Signal spread across multiple zones."}
}

// DominantZone returns the zone holding the most anomalous entities and its
// share of them. Ties go to the earlier zone in models.Zones; with no
// anomalous entity the share is 0.
func DominantZone(entities []models.EntitySnapshot) (models.Zone, float64) {
	counts := make(map[models.Zone]int, len(models.Zones))
	total := 0
	for _, e := range entities {
		if e.ZScore >= AnomalyZ {
			counts[e.Zone]++
			total++
		}
	}

	best := models.Zones[0]
	for _, z := range models.Zones[1:] {
		if counts[z] > counts[best] {
			best = z
		}
	}
	return best, float64(counts[best]) / float64(max(total, 1))
}
