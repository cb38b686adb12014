// Package models defines the core domain entities for crowdpulse.
// These models represent raw business observations from a places directory,
// the rolling history kept per business and per city, and the derived
// snapshots emitted on every detection cycle.
//
// Terminology:
//   - Entity: a single business (a "counter") in the tracked panel.
//   - Proxy load: a synthesized 0–100 stand-in for footfall at an entity.
//   - City: the aggregate over all entities of one polling cycle.
package models

import (
	"errors"
	"time"
)

// EntityObservation is one business as returned by a source adapter.
// It is transient and never persisted.
type EntityObservation struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Rating      float64  `json:"rating"`       // 0–5, 0 when unknown
	RatingCount int      `json:"rating_count"` // total reviews, non-negative
	OpenNow     bool     `json:"open_now"`
	Types       []string `json:"types,omitempty"`
}

// DefaultRating is used when a source reports no rating.
const DefaultRating = 3.8

// Key returns the identifier used for history lookups: the ID, or the name
// when the source did not provide one.
func (o *EntityObservation) Key() string {
	if o.ID != "" {
		return o.ID
	}
	return o.Name
}

// EffectiveRating returns the rating, substituting DefaultRating when unset.
func (o *EntityObservation) EffectiveRating() float64 {
	if o.Rating <= 0 {
		return DefaultRating
	}
	return o.Rating
}

// Validate checks that all observation fields are valid.
func (o *EntityObservation) Validate() error {
	if o.Key() == "" {
		return errors.New("observation must have an ID or a name")
	}
	if o.Rating < 0 || o.Rating > 5 {
		return errors.New("rating must be between 0 and 5")
	}
	if o.RatingCount < 0 {
		return errors.New("rating count must not be negative")
	}
	if o.Lat < -90 || o.Lat > 90 || o.Lng < -180 || o.Lng > 180 {
		return errors.New("coordinates out of range")
	}
	return nil
}

// EntityHistoryPoint is one entity's proxy load at one polling cycle.
// Points are immutable once created.
type EntityHistoryPoint struct {
	Timestamp   time.Time    `json:"ts"`
	Weekday     time.Weekday `json:"dow"`
	Hour        int          `json:"hour"`
	ProxyLoad   float64      `json:"proxy_load"`
	RatingCount int          `json:"rating_count"`
	OpenNow     bool         `json:"open_now"`
}

// Validate checks that all history point fields are valid.
func (p *EntityHistoryPoint) Validate() error {
	if p.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	if p.Weekday < time.Sunday || p.Weekday > time.Saturday {
		return errors.New("day of week must be between 0 and 6")
	}
	if p.Hour < 0 || p.Hour > 23 {
		return errors.New("hour must be between 0 and 23")
	}
	if p.ProxyLoad < 0 || p.ProxyLoad > 100 {
		return errors.New("proxy load must be between 0 and 100")
	}
	if p.RatingCount < 0 {
		return errors.New("rating count must not be negative")
	}
	return nil
}
