// Package loadmodel converts one entity's raw signal into a 0–100 proxy load.
//
// The model mixes a slow structural signal (rating, popularity, diurnal
// template, open status) with a fast one (review velocity inferred from the
// rating counter between polls), so the detector reacts to sudden behavioural
// change rather than to static popularity alone.
//
//	proxyLoad = clamp(template×w + open + rating×0.24 + crowd×c + velocity + noise, 0, 100)
//
// Live snapshots and synthetic bootstrap history use the same model with
// different weights and noise widths.
package loadmodel

import (
	"math"
	"time"

	"github.com/rewired-gh/crowdpulse/internal/bucket"
	"github.com/rewired-gh/crowdpulse/internal/models"
	"github.com/rewired-gh/crowdpulse/internal/stats"
)

// Rand is the randomness the model draws noise and jitter from.
// *math/rand.Rand satisfies it; tests inject fixed sources.
type Rand interface {
	Float64() float64
}

// Params weights the components of one model variant.
type Params struct {
	TemplateWeight float64
	CrowdWeight    float64
	NoiseAmplitude float64 // noise is uniform in ±NoiseAmplitude
	UseVelocity    bool
}

// Live is the variant used for polled snapshots.
var Live = Params{TemplateWeight: 0.34, CrowdWeight: 0.22, NoiseAmplitude: 4.2, UseVelocity: true}

// Bootstrap is the variant used for synthetic history. It has no velocity
// and no real anchor, so the template weighs more and noise is wider.
var Bootstrap = Params{TemplateWeight: 0.36, CrowdWeight: 0.20, NoiseAmplitude: 6.0, UseVelocity: false}

const (
	openLoad          = 18.0
	closedLoad        = 5.0
	ratingMultiplier  = 8.5
	ratingMin         = 18.0
	ratingMax         = 42.0
	ratingWeight      = 0.24
	crowdMultiplier   = 14.0
	crowdMin          = 8.0
	crowdMax          = 44.0
	velocityWeight    = 11.0
	velocityMax       = 24.0
	fallbackJitterMax = 1.3
	minElapsedHours   = 0.03
)

// Input is everything the model needs for one entity at one instant.
type Input struct {
	Observation models.EntityObservation
	Prior       *models.EntityHistoryPoint // most recent history point, if any
	Key         bucket.Key
	Now         time.Time
	Fallback    bool // the observation came from the static demo panel
}

// Components breaks a proxy load down for reporting and tests.
type Components struct {
	Template  float64 `json:"template"`
	Open      float64 `json:"open"`
	Rating    float64 `json:"rating"`
	Crowd     float64 `json:"crowd"`
	Velocity  float64 `json:"velocity"`
	ReviewsPH float64 `json:"reviews_per_hour"`
	Noise     float64 `json:"noise"`
	ProxyLoad float64 `json:"proxy_load"`
}

// Model evaluates proxy loads against a template.
type Model struct {
	template bucket.Template
	rng      Rand
}

// New creates a model. rng must not be nil.
func New(template bucket.Template, rng Rand) *Model {
	return &Model{template: template, rng: rng}
}

// Template returns the diurnal template the model uses.
func (m *Model) Template() bucket.Template {
	return m.template
}

// Evaluate computes the live proxy load of one entity.
func (m *Model) Evaluate(in Input) Components {
	velocity := 0.0
	if in.Prior != nil {
		elapsed := math.Max(in.Now.Sub(in.Prior.Timestamp).Hours(), minElapsedHours)
		velocity = float64(in.Observation.RatingCount-in.Prior.RatingCount) / elapsed
	}
	if in.Fallback {
		velocity += m.uniform(0, fallbackJitterMax)
	}
	return m.compute(Live, in.Observation, in.Observation.OpenNow, in.Key, velocity)
}

// Synthesize computes a bootstrap proxy load for an entity at a past bucket
// with the given open status.
func (m *Model) Synthesize(obs models.EntityObservation, key bucket.Key, openNow bool) Components {
	return m.compute(Bootstrap, obs, openNow, key, 0)
}

func (m *Model) compute(p Params, obs models.EntityObservation, openNow bool, key bucket.Key, reviewVelocity float64) Components {
	c := Components{
		Template:  m.template.ExpectedAt(key),
		Open:      closedLoad,
		Rating:    stats.Clamp(obs.EffectiveRating()*ratingMultiplier, ratingMin, ratingMax),
		Crowd:     stats.Clamp(math.Log10(float64(obs.RatingCount)+10)*crowdMultiplier, crowdMin, crowdMax),
		ReviewsPH: reviewVelocity,
	}
	if openNow {
		c.Open = openLoad
	}
	if p.UseVelocity {
		c.Velocity = stats.Clamp(reviewVelocity*velocityWeight, 0, velocityMax)
	}
	c.Noise = m.uniform(-p.NoiseAmplitude, p.NoiseAmplitude)

	c.ProxyLoad = stats.Clamp(
		c.Template*p.TemplateWeight+c.Open+c.Rating*ratingWeight+c.Crowd*p.CrowdWeight+c.Velocity+c.Noise,
		0, 100,
	)
	return c
}

func (m *Model) uniform(lo, hi float64) float64 {
	return lo + m.rng.Float64()*(hi-lo)
}

// LikelyOpen is the open-status heuristic used for synthetic history.
func LikelyOpen(hour int) bool {
	return hour >= 10 && hour <= 23
}
