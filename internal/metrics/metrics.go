// Package metrics exposes detection cycle outcomes as Prometheus metrics.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rewired-gh/crowdpulse/internal/monitor"
	"github.com/rewired-gh/crowdpulse/internal/places"
)

const namespace = "crowdpulse"

// Metrics holds the collectors for one detection session.
type Metrics struct {
	cyclesTotal     *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	cityScore       prometheus.Gauge
	cityPressure    prometheus.Gauge
	anomalousShare  prometheus.Gauge
	cityZ           prometheus.Gauge
	alerted         prometheus.Gauge
	fallback        prometheus.Gauge
	businesses      prometheus.Gauge
	bootstrapPoints prometheus.Counter
	entityZ         *prometheus.GaugeVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Detection cycles by outcome (ok, empty, source_error, error).",
		}, []string{"outcome"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of successful detection cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		cityScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "city_score",
			Help:      "Latest city anomaly score (0-100).",
		}),
		cityPressure: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "city_pressure",
			Help:      "Latest mean proxy load across the panel.",
		}),
		anomalousShare: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomalous_share",
			Help:      "Latest share of businesses at z >= 1.5.",
		}),
		cityZ: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "city_z",
			Help:      "Latest robust z-score of city pressure.",
		}),
		alerted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerted",
			Help:      "1 while a sustained anomaly is alerted.",
		}),
		fallback: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "demo_panel",
			Help:      "1 when the latest cycle used the static demo panel.",
		}),
		businesses: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "businesses",
			Help:      "Businesses scored in the latest cycle.",
		}),
		bootstrapPoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bootstrap_points_total",
			Help:      "Synthetic city points seeded into history.",
		}),
		entityZ: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "business_z",
			Help:      "Latest z-score per business.",
		}, []string{"id"}),
	}
}

// Observe records one cycle outcome.
func (m *Metrics) Observe(res *monitor.Result, err error) {
	if err != nil {
		m.cyclesTotal.WithLabelValues(outcome(err)).Inc()
		return
	}
	m.cyclesTotal.WithLabelValues("ok").Inc()
	m.cycleDuration.Observe(res.Took.Seconds())

	city := res.City
	m.cityScore.Set(city.Score)
	m.cityPressure.Set(city.CityPressure)
	m.anomalousShare.Set(city.AnomalousShare)
	m.cityZ.Set(city.CityZ)
	m.alerted.Set(boolGauge(city.Alerted))
	m.fallback.Set(boolGauge(res.Fallback))
	m.businesses.Set(float64(city.BusinessCount))
	m.bootstrapPoints.Add(float64(res.Bootstrapped))

	m.entityZ.Reset()
	for _, e := range res.Entities {
		m.entityZ.WithLabelValues(e.ID).Set(e.ZScore)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, monitor.ErrEmptyResult):
		return "empty"
	case errors.Is(err, places.ErrSourceUnavailable):
		return "source_error"
	default:
		return "error"
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
