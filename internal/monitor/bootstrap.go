package monitor

import (
	"math"
	"time"

	"github.com/rewired-gh/crowdpulse/internal/bucket"
	"github.com/rewired-gh/crowdpulse/internal/history"
	"github.com/rewired-gh/crowdpulse/internal/loadmodel"
	"github.com/rewired-gh/crowdpulse/internal/logger"
	"github.com/rewired-gh/crowdpulse/internal/models"
	"github.com/rewired-gh/crowdpulse/internal/stats"
)

// Bootstrap defaults.
const (
	DefaultBootstrapStep      = 3 * time.Hour
	DefaultBootstrapMinPoints = 40
)

const (
	bootstrapSpread        = 13.0 // deviation from the step mean counted as anomalous
	bootstrapPressureScore = 0.5
	bootstrapShareScore    = 22.0
)

// Bootstrapper seeds a thin history with synthetic backward-dated points so
// the first live cycles have a baseline to compare against.
type Bootstrapper struct {
	model     *loadmodel.Model
	loc       *time.Location
	step      time.Duration
	minPoints int
}

// NewBootstrapper creates a bootstrapper. Non-positive step or minPoints take
// the defaults.
func NewBootstrapper(model *loadmodel.Model, loc *time.Location, step time.Duration, minPoints int) *Bootstrapper {
	if step <= 0 {
		step = DefaultBootstrapStep
	}
	if minPoints <= 0 {
		minPoints = DefaultBootstrapMinPoints
	}
	return &Bootstrapper{model: model, loc: loc, step: step, minPoints: minPoints}
}

// Steps returns how many points a full bootstrap generates for window.
func (b *Bootstrapper) Steps(window time.Duration) int {
	return int(math.Ceil(float64(window) / float64(b.step)))
}

// Ensure bootstraps store when it holds fewer than the minimum city points
// inside its window. It returns the number of city points merged; zero
// means history was already sufficient or every timestamp collided.
//
// Synthetic city points carry cityZ = 0 and are never alerted, so they can
// serve as baseline material without ever satisfying the alert predicate.
func (b *Bootstrapper) Ensure(store *history.Store, observations []models.EntityObservation, now time.Time) int {
	start := now.Add(-store.Window())
	if store.CityCountSince(start) >= b.minPoints {
		return 0
	}

	city, entities := b.generate(observations, start, now)
	added := store.Merge(city, entities, now)
	logger.Info("Bootstrapped history: %d synthetic city points (%d generated, %d entities)",
		added, len(city), len(entities))
	return added
}

func (b *Bootstrapper) generate(observations []models.EntityObservation, start, now time.Time) ([]models.CityHistoryPoint, map[string][]models.EntityHistoryPoint) {
	var city []models.CityHistoryPoint
	entities := make(map[string][]models.EntityHistoryPoint, len(observations))

	for ts := start; ts.Before(now); ts = ts.Add(b.step) {
		key := bucket.KeyOf(ts, b.loc)
		open := loadmodel.LikelyOpen(key.Hour)

		loads := make([]float64, 0, len(observations))
		for _, obs := range observations {
			load := stats.Round(b.model.Synthesize(obs, key, open).ProxyLoad, 1)
			loads = append(loads, load)

			id := obs.Key()
			entities[id] = append(entities[id], models.EntityHistoryPoint{
				Timestamp:   ts,
				Weekday:     key.Weekday,
				Hour:        key.Hour,
				ProxyLoad:   load,
				RatingCount: obs.RatingCount,
				OpenNow:     open,
			})
		}

		pressure := stats.Mean(loads)
		spread := 0
		for _, l := range loads {
			if math.Abs(l-pressure) > bootstrapSpread {
				spread++
			}
		}
		share := float64(spread) / float64(max(len(loads), 1))

		city = append(city, models.CityHistoryPoint{
			Timestamp:      ts,
			Weekday:        key.Weekday,
			Hour:           key.Hour,
			Score:          stats.Round(stats.Clamp(pressure*bootstrapPressureScore+share*bootstrapShareScore, 0, 100), 1),
			CityPressure:   stats.Round(pressure, 1),
			AnomalousShare: stats.Round(share, 2),
			BusinessCount:  len(loads),
		})
	}
	return city, entities
}
