// Package monitor detects city-wide crowd anomalies from a panel of
// businesses.
//
// Every cycle fetches the panel, seeds history when it is too thin, scores
// each business against its own robust weekly baseline and aggregates the
// panel into a city composite:
//
//	score = clamp(pressure×0.42 + sigmoid(max(0, cityZ))×34 + anomalousShare×24, 0, 100)
//
// The city alerts once the predicate (score, share and cityZ over their
// thresholds) has held for consecutive cycles. A Monitor owns all per-session
// state, so independent detectors (one per city, or one per test) never
// share anything.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/crowdpulse/internal/history"
	"github.com/rewired-gh/crowdpulse/internal/loadmodel"
	"github.com/rewired-gh/crowdpulse/internal/logger"
	"github.com/rewired-gh/crowdpulse/internal/models"
	"github.com/rewired-gh/crowdpulse/internal/places"
)

// ErrEmptyResult is returned when a cycle has no usable business to score.
// History is left untouched.
var ErrEmptyResult = errors.New("no businesses available for this snapshot")

// Options tunes a Monitor.
type Options struct {
	Area               models.Area
	Location           *time.Location
	Request            places.Request
	Thresholds         Thresholds
	BootstrapStep      time.Duration
	BootstrapMinPoints int
}

// Result is everything one successful cycle produced.
type Result struct {
	ID string `json:"id"`
	Snapshot
	Confidence   Confidence    `json:"confidence"`
	Archetype    Archetype     `json:"archetype"`
	Provider     string        `json:"provider"`
	Fallback     bool          `json:"fallback"`
	Bootstrapped int           `json:"bootstrapped"`
	CityPoints   int           `json:"city_points"`
	Took         time.Duration `json:"took_ns"`
}

// Outcome is one cycle as delivered by Run.
type Outcome struct {
	At     time.Time
	Result *Result
	Err    error
}

// Monitor is one detection session.
type Monitor struct {
	mu        sync.Mutex // serializes cycles
	store     *history.Store
	source    places.Source
	builder   *Builder
	bootstrap *Bootstrapper
	opts      Options
	streak    Streak

	lastMu sync.RWMutex
	last   *Result

	now func() time.Time
}

// New creates a monitor over store, reading the panel from source.
func New(store *history.Store, source places.Source, model *loadmodel.Model, opts Options) *Monitor {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds
	}
	if opts.Thresholds.HysteresisCycles <= 0 {
		opts.Thresholds.HysteresisCycles = DefaultThresholds.HysteresisCycles
	}
	if opts.Request.Center == (models.Area{}) {
		opts.Request.Center = opts.Area
	}
	return &Monitor{
		store:     store,
		source:    source,
		builder:   NewBuilder(model, opts.Area, opts.Location),
		bootstrap: NewBootstrapper(model, opts.Location, opts.BootstrapStep, opts.BootstrapMinPoints),
		opts:      opts,
		now:       time.Now,
	}
}

// Store returns the history the monitor reads and writes.
func (m *Monitor) Store() *history.Store {
	return m.store
}

// Options returns the effective options.
func (m *Monitor) Options() Options {
	return m.opts
}

// Last returns the most recent successful result.
func (m *Monitor) Last() (*Result, bool) {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.last, m.last != nil
}

// Backtest replays the alert predicate over stored city history.
func (m *Monitor) Backtest(lookbackHours int, now time.Time) BacktestReport {
	return Backtest(m.store.City(), lookbackHours, now, m.opts.Thresholds)
}

// RunCycle performs one detection cycle at now. Source failures and empty
// panels abort the cycle before history is mutated; a panic inside the cycle
// is converted to an error so the caller's loop keeps running.
func (m *Monitor) RunCycle(ctx context.Context, now time.Time) (res *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("detection cycle panicked: %v", r)
		}
	}()

	startTime := time.Now()
	logger.Debug("Fetching panel (radius: %dm, max: %d)", m.opts.Request.RadiusMeters, m.opts.Request.MaxEntities)

	batch, err := m.source.Fetch(ctx, m.opts.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch businesses: %w", err)
	}
	observations := usable(batch.Entities)
	if len(observations) == 0 {
		return nil, ErrEmptyResult
	}
	logger.Info("Fetched %d businesses from %s", len(observations), batch.Provider)

	bootstrapped := m.bootstrap.Ensure(m.store, observations, now)

	snap := m.builder.Build(m.store, observations, now, batch.Fallback)
	qualifies := m.opts.Thresholds.Qualifies(snap.City.HistoryPoint())
	snap.City.Alerted = m.streak.Observe(qualifies, m.opts.Thresholds.HysteresisCycles)

	m.store.AppendCycle(snap.City.HistoryPoint(), snap.HistoryPoints())
	if err := m.store.Save(ctx); err != nil {
		logger.Warn("History kept in memory only: %v", err)
	}

	city := m.store.City()
	res = &Result{
		ID:           uuid.New().String(),
		Snapshot:     snap,
		Confidence:   ComputeConfidence(snap, city, batch.Fallback),
		Archetype:    InferArchetype(snap),
		Provider:     batch.Provider,
		Fallback:     batch.Fallback,
		Bootstrapped: bootstrapped,
		CityPoints:   len(city),
		Took:         time.Since(startTime),
	}

	m.lastMu.Lock()
	m.last = res
	m.lastMu.Unlock()

	logger.Info("Cycle complete: score %.1f, pressure %.1f, share %.2f, z %.2f, alerted %v (streak %d)",
		snap.City.Score, snap.City.CityPressure, snap.City.AnomalousShare, snap.City.CityZ,
		snap.City.Alerted, m.streak.Count())
	return res, nil
}

// Run starts a polling loop: one cycle immediately, then one per interval.
// Cycles never overlap; a failed cycle is reported on the channel and the
// loop carries on. The channel is closed once ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) <-chan Outcome {
	out := make(chan Outcome, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			at := m.now()
			res, err := m.RunCycle(ctx, at)
			select {
			case out <- Outcome{At: at, Result: res, Err: err}:
			case <-ctx.Done():
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

// usable drops invalid observations and duplicate keys, keeping the first.
func usable(observations []models.EntityObservation) []models.EntityObservation {
	seen := make(map[string]struct{}, len(observations))
	out := make([]models.EntityObservation, 0, len(observations))
	for _, obs := range observations {
		if err := obs.Validate(); err != nil {
			logger.Warn("Skipping business %q: %v", obs.Key(), err)
			continue
		}
		if _, dup := seen[obs.Key()]; dup {
			continue
		}
		seen[obs.Key()] = struct{}{}
		out = append(out, obs)
	}
	return out
}
