package monitor

import (
	"sort"
	"time"

	"github.com/rewired-gh/crowdpulse/internal/baseline"
	"github.com/rewired-gh/crowdpulse/internal/bucket"
	"github.com/rewired-gh/crowdpulse/internal/history"
	"github.com/rewired-gh/crowdpulse/internal/loadmodel"
	"github.com/rewired-gh/crowdpulse/internal/models"
	"github.com/rewired-gh/crowdpulse/internal/stats"
)

// Entity z-score cut-offs. AnomalyZ also decides whether an entity counts
// towards the anomalous share.
const (
	ExtremeZ = 3.2
	StrongZ  = 2.2
	AnomalyZ = 1.5
)

const unnamed = "Unnamed"

// City score weights.
const (
	pressureWeight = 0.42
	cityZWeight    = 34.0
	shareWeight    = 24.0
)

// Classify maps an entity z-score to its signal.
func Classify(z float64) models.Signal {
	switch {
	case z >= ExtremeZ:
		return models.SignalExtreme
	case z >= StrongZ:
		return models.SignalStrong
	case z >= AnomalyZ:
		return models.SignalElevated
	default:
		return models.SignalNormal
	}
}

// CityScore combines pressure, city z and anomalous share into a 0–100
// score. Only the positive part of cityZ contributes, so a quieter than usual
// city never scores higher for it.
func CityScore(pressure, cityZ, share float64) float64 {
	if cityZ < 0 {
		cityZ = 0
	}
	return stats.Clamp(pressure*pressureWeight+stats.Sigmoid(cityZ)*cityZWeight+share*shareWeight, 0, 100)
}

// Snapshot is the scored outcome of one cycle, before hysteresis. Entities
// are sorted by z-score, most anomalous first.
type Snapshot struct {
	City     models.CitySnapshot     `json:"city"`
	Entities []models.EntitySnapshot `json:"entities"`
}

// HistoryPoints returns the per-entity points to append for this snapshot.
func (s Snapshot) HistoryPoints() map[string]models.EntityHistoryPoint {
	out := make(map[string]models.EntityHistoryPoint, len(s.Entities))
	for _, e := range s.Entities {
		out[e.ID] = e.HistoryPoint
	}
	return out
}

// Builder scores a panel against the history store.
type Builder struct {
	model *loadmodel.Model
	area  models.Area
	loc   *time.Location
}

// NewBuilder creates a builder. loc is the wall clock buckets are taken in.
func NewBuilder(model *loadmodel.Model, area models.Area, loc *time.Location) *Builder {
	return &Builder{model: model, area: area, loc: loc}
}

// Build scores every observation at now. It only reads the store; the caller
// decides the alert flag and appends the result. observations must be
// non-empty and keyed uniquely. Baselines look back over the store's window.
func (b *Builder) Build(store *history.Store, observations []models.EntityObservation, now time.Time, fallback bool) Snapshot {
	key := bucket.KeyOf(now, b.loc)
	template := b.model.Template().ExpectedAt(key)

	entityParams, cityParams := baseline.EntityParams, baseline.CityParams
	entityParams.Window = store.Window()
	cityParams.Window = store.Window()

	entities := make([]models.EntitySnapshot, 0, len(observations))
	for _, obs := range observations {
		entities = append(entities, b.scoreEntity(store, obs, key, template, now, fallback, entityParams))
	}

	loads := make([]float64, len(entities))
	anomalous := 0
	for i, e := range entities {
		loads[i] = e.ProxyLoad
		if e.ZScore >= AnomalyZ {
			anomalous++
		}
	}
	pressure := stats.Mean(loads)
	share := float64(anomalous) / float64(len(entities))

	cityBase := baseline.Estimate(baseline.CitySamples(store.City()), key, template, now, cityParams)
	cityZ := cityBase.Z(pressure)

	city := models.CitySnapshot{
		Timestamp:      now,
		Weekday:        key.Weekday,
		Hour:           key.Hour,
		Score:          stats.Round(CityScore(pressure, cityZ, share), 1),
		CityPressure:   stats.Round(pressure, 1),
		AnomalousShare: stats.Round(share, 2),
		CityZ:          stats.Round(cityZ, 2),
		BusinessCount:  len(entities),
	}

	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].ZScore > entities[j].ZScore
	})
	return Snapshot{City: city, Entities: entities}
}

func (b *Builder) scoreEntity(store *history.Store, obs models.EntityObservation, key bucket.Key, template float64, now time.Time, fallback bool, params baseline.Params) models.EntitySnapshot {
	id := obs.Key()
	points := store.Entity(id)

	var prior *models.EntityHistoryPoint
	if len(points) > 0 {
		prior = &points[len(points)-1]
	}

	load := b.model.Evaluate(loadmodel.Input{
		Observation: obs,
		Prior:       prior,
		Key:         key,
		Now:         now,
		Fallback:    fallback,
	}).ProxyLoad

	base := baseline.Estimate(baseline.EntitySamples(points), key, template, now, params)
	z := base.Z(load)

	var deltaPrev, deltaPrevPct float64
	if prior != nil {
		deltaPrev = load - prior.ProxyLoad
		deltaPrevPct = deltaPrev / max(prior.ProxyLoad, 1) * 100
	}

	name := obs.Name
	if name == "" {
		name = unnamed
	}
	lat, lng := obs.Lat, obs.Lng
	if lat == 0 && lng == 0 {
		lat, lng = b.area.Lat, b.area.Lng
	}

	deltaWeekly := load - base.Expected
	load = stats.Round(load, 1)
	return models.EntitySnapshot{
		ID:           id,
		Name:         name,
		Lat:          lat,
		Lng:          lng,
		Zone:         b.area.ZoneOf(lat, lng),
		ProxyLoad:    load,
		ZScore:       stats.Round(z, 2),
		Signal:       Classify(z),
		DeltaPrev:    stats.Round(deltaPrev, 1),
		DeltaPrevPct: stats.Round(deltaPrevPct, 1),
		DeltaWeekly:  stats.Round(deltaWeekly, 1),
		HistoryPoint: models.EntityHistoryPoint{
			Timestamp:   now,
			Weekday:     key.Weekday,
			Hour:        key.Hour,
			ProxyLoad:   load,
			RatingCount: obs.RatingCount,
			OpenNow:     obs.OpenNow,
		},
	}
}
