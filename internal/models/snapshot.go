package models

import (
	"errors"
	"time"
)

// Signal classifies how far an entity's load sits above its baseline.
type Signal string

const (
	SignalNormal   Signal = "Normal"
	SignalElevated Signal = "Elevated"
	SignalStrong   Signal = "Strong surge"
	SignalExtreme  Signal = "Extreme surge"
)

// Zone is a geographic quadrant relative to the area center.
type Zone string

const (
	ZoneNW Zone = "NW"
	ZoneNE Zone = "NE"
	ZoneSW Zone = "SW"
	ZoneSE Zone = "SE"
)

// Zones lists the quadrants in display order.
var Zones = []Zone{ZoneNW, ZoneNE, ZoneSW, ZoneSE}

// EntitySnapshot is the scored state of one entity for a single cycle.
type EntitySnapshot struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Lat          float64            `json:"lat"`
	Lng          float64            `json:"lng"`
	Zone         Zone               `json:"zone"`
	ProxyLoad    float64            `json:"proxy_load"`
	ZScore       float64            `json:"z_score"`
	Signal       Signal             `json:"signal"`
	DeltaPrev    float64            `json:"delta_prev"`
	DeltaPrevPct float64            `json:"delta_prev_pct"`
	DeltaWeekly  float64            `json:"delta_weekly"`
	HistoryPoint EntityHistoryPoint `json:"-"`
}

// CitySnapshot is the city-level composite of one cycle.
type CitySnapshot struct {
	Timestamp      time.Time    `json:"ts"`
	Weekday        time.Weekday `json:"dow"`
	Hour           int          `json:"hour"`
	Score          float64      `json:"score"`
	CityPressure   float64      `json:"city_pressure"`
	AnomalousShare float64      `json:"anomalous_share"`
	CityZ          float64      `json:"city_z"`
	BusinessCount  int          `json:"business_count"`
	Alerted        bool         `json:"alerted"`
}

// HistoryPoint converts the snapshot into the point stored in city history.
func (c CitySnapshot) HistoryPoint() CityHistoryPoint {
	return CityHistoryPoint(c)
}

// CityHistoryPoint is one cycle of the city-level sequence.
type CityHistoryPoint struct {
	Timestamp      time.Time    `json:"ts"`
	Weekday        time.Weekday `json:"dow"`
	Hour           int          `json:"hour"`
	Score          float64      `json:"score"`
	CityPressure   float64      `json:"city_pressure"`
	AnomalousShare float64      `json:"anomalous_share"`
	CityZ          float64      `json:"city_z"`
	BusinessCount  int          `json:"business_count"`
	Alerted        bool         `json:"alerted"`
}

// Validate checks that all city point fields are valid.
func (p *CityHistoryPoint) Validate() error {
	if p.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	if p.Weekday < time.Sunday || p.Weekday > time.Saturday {
		return errors.New("day of week must be between 0 and 6")
	}
	if p.Hour < 0 || p.Hour > 23 {
		return errors.New("hour must be between 0 and 23")
	}
	if p.Score < 0 || p.Score > 100 {
		return errors.New("score must be between 0 and 100")
	}
	if p.CityPressure < 0 || p.CityPressure > 100 {
		return errors.New("city pressure must be between 0 and 100")
	}
	if p.AnomalousShare < 0 || p.AnomalousShare > 1 {
		return errors.New("anomalous share must be between 0 and 1")
	}
	if p.BusinessCount < 0 {
		return errors.New("business count must not be negative")
	}
	return nil
}

// HistoryDocumentVersion must be bumped whenever the persisted shape changes.
const HistoryDocumentVersion = 3

// HistoryDocument is the persisted representation of the rolling history.
type HistoryDocument struct {
	Version    int                             `json:"version"`
	SavedAt    time.Time                       `json:"saved_at"`
	City       []CityHistoryPoint              `json:"city"`
	Businesses map[string][]EntityHistoryPoint `json:"businesses"`
}

// NewHistoryDocument returns an empty document at the current version.
func NewHistoryDocument() HistoryDocument {
	return HistoryDocument{
		Version:    HistoryDocumentVersion,
		City:       []CityHistoryPoint{},
		Businesses: map[string][]EntityHistoryPoint{},
	}
}

// Validate checks the document shape.
func (d *HistoryDocument) Validate() error {
	if d.Version != HistoryDocumentVersion {
		return errors.New("unsupported history document version")
	}
	if d.City == nil {
		return errors.New("city history must be present")
	}
	if d.Businesses == nil {
		return errors.New("business history must be present")
	}
	return nil
}
