// Package baseline estimates the expected value and robust scale of a series
// at a given weekly bucket.
//
// The estimation window is, in order of preference: samples from the same
// (weekday, hour) bucket when there are enough of them, the most recent
// samples regardless of bucket, or a fixed prior. The expected value is the
// window median and the scale is MAD×1.4826 with a floor, so the z-scores
// computed against it stay finite.
package baseline

import (
	"time"

	"github.com/rewired-gh/crowdpulse/internal/bucket"
	"github.com/rewired-gh/crowdpulse/internal/models"
	"github.com/rewired-gh/crowdpulse/internal/stats"
)

// Source reports which window a baseline was computed from.
type Source string

const (
	SourceSameBucket Source = "same_bucket"
	SourceRecent     Source = "recent"
	SourcePrior      Source = "prior"
)

// Params tunes the estimator for one kind of series.
type Params struct {
	Window        time.Duration // samples older than now-Window are ignored
	MinSameBucket int           // same-bucket samples needed to use them
	RecentLimit   int           // size of the recent-sample fallback
	DefaultScale  float64       // scale returned with the prior
	ScaleFloor    float64
}

// EntityParams are used for per-entity baselines.
var EntityParams = Params{
	Window:        7 * 24 * time.Hour,
	MinSameBucket: 6,
	RecentLimit:   50,
	DefaultScale:  8.5,
	ScaleFloor:    6.8,
}

// CityParams are used for the city-level baseline.
var CityParams = Params{
	Window:        7 * 24 * time.Hour,
	MinSameBucket: 6,
	RecentLimit:   120,
	DefaultScale:  9.0,
	ScaleFloor:    7.5,
}

// Baseline is an expected value and a strictly positive scale.
type Baseline struct {
	Expected float64 `json:"expected"`
	Scale    float64 `json:"scale"`
	Source   Source  `json:"source"`
	Samples  int     `json:"samples"`
}

// Z returns the standardized deviation of value from the baseline.
func (b Baseline) Z(value float64) float64 {
	return (value - b.Expected) / b.Scale
}

// Sample is one observation of a series, ordered oldest first in a slice.
type Sample struct {
	Timestamp time.Time
	Key       bucket.Key
	Value     float64
}

// Estimate computes the baseline of samples for key at now. fallbackExpected
// is returned, with the default scale, when no sample is inside the window.
func Estimate(samples []Sample, key bucket.Key, fallbackExpected float64, now time.Time, p Params) Baseline {
	cutoff := now.Add(-p.Window)

	var recent []float64
	var same []float64
	for _, s := range samples {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		recent = append(recent, s.Value)
		if s.Key == key {
			same = append(same, s.Value)
		}
	}

	window := same
	source := SourceSameBucket
	if len(same) < p.MinSameBucket {
		source = SourceRecent
		window = recent
		if len(window) > p.RecentLimit {
			window = window[len(window)-p.RecentLimit:]
		}
	}

	if len(window) == 0 {
		return Baseline{Expected: fallbackExpected, Scale: p.DefaultScale, Source: SourcePrior}
	}

	return Baseline{
		Expected: stats.Median(window),
		Scale:    stats.Scale(window, p.ScaleFloor),
		Source:   source,
		Samples:  len(window),
	}
}

// EntitySamples adapts an entity history to estimator samples.
func EntitySamples(points []models.EntityHistoryPoint) []Sample {
	out := make([]Sample, len(points))
	for i, p := range points {
		out[i] = Sample{
			Timestamp: p.Timestamp,
			Key:       bucket.Key{Weekday: p.Weekday, Hour: p.Hour},
			Value:     p.ProxyLoad,
		}
	}
	return out
}

// CitySamples adapts city history to estimator samples of city pressure.
func CitySamples(points []models.CityHistoryPoint) []Sample {
	out := make([]Sample, len(points))
	for i, p := range points {
		out[i] = Sample{
			Timestamp: p.Timestamp,
			Key:       bucket.Key{Weekday: p.Weekday, Hour: p.Hour},
			Value:     p.CityPressure,
		}
	}
	return out
}
