package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/crowdpulse/internal/bucket"
	"github.com/rewired-gh/crowdpulse/internal/history"
	"github.com/rewired-gh/crowdpulse/internal/loadmodel"
	"github.com/rewired-gh/crowdpulse/internal/models"
	"github.com/rewired-gh/crowdpulse/internal/places"
	"github.com/rewired-gh/crowdpulse/internal/storage"
)

// fixedRand makes every noise draw zero.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

// Wednesday 13:30 UTC.
var now = time.Date(2026, 10, 14, 13, 30, 0, 0, time.UTC)

func newModel() *loadmodel.Model {
	return loadmodel.New(bucket.DefaultTemplate, fixedRand(0.5))
}

type stubSource struct {
	batches []places.Batch
	err     error
	calls   int
}

func (s *stubSource) Fetch(context.Context, places.Request) (places.Batch, error) {
	if s.err != nil {
		return places.Batch{}, s.err
	}
	b := s.batches[min(s.calls, len(s.batches)-1)]
	s.calls++
	return b, nil
}

// panel returns n identical popular, open businesses; each scores 63.4 at
// 13:00 on a weekday with zero noise.
func panel(prefix string, n int) []models.EntityObservation {
	out := make([]models.EntityObservation, n)
	for i := range out {
		out[i] = models.EntityObservation{
			ID:          fmt.Sprintf("%s_%d", prefix, i),
			Name:        fmt.Sprintf("%s Counter %d", prefix, i),
			Lat:         models.TelAviv.Lat + 0.001*float64(i%2),
			Lng:         models.TelAviv.Lng + 0.001*float64(i%3),
			Rating:      4.5,
			RatingCount: 500,
			OpenNow:     true,
		}
	}
	return out
}

func cityPoint(ts time.Time, score, share, z float64) models.CityHistoryPoint {
	return models.CityHistoryPoint{
		Timestamp:      ts,
		Weekday:        ts.Weekday(),
		Hour:           ts.Hour(),
		Score:          score,
		CityPressure:   50,
		AnomalousShare: share,
		CityZ:          z,
		BusinessCount:  10,
	}
}

// ─── Classification and scoring ─────────────────────────────────────────────

func TestClassify(t *testing.T) {
	tests := []struct {
		z    float64
		want models.Signal
	}{
		{-2, models.SignalNormal},
		{1.49, models.SignalNormal},
		{1.5, models.SignalElevated},
		{2.19, models.SignalElevated},
		{2.2, models.SignalStrong},
		{3.2, models.SignalExtreme},
		{10, models.SignalExtreme},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.z), "z=%v", tt.z)
	}
}

func TestCityScore(t *testing.T) {
	// Negative deviations contribute exactly like cityZ = 0.
	assert.Equal(t, CityScore(60, 0, 0.3), CityScore(60, -4, 0.3))
	assert.InDelta(t, 60*0.42+17+0.3*24, CityScore(60, 0, 0.3), 1e-9)
	assert.Equal(t, 100.0, CityScore(100, 50, 1))
	assert.GreaterOrEqual(t, CityScore(0, -10, 0), 0.0)
}

// ─── Alert predicate and hysteresis ─────────────────────────────────────────

func TestThresholds_Qualifies(t *testing.T) {
	th := DefaultThresholds
	tests := []struct {
		name string
		p    models.CityHistoryPoint
		want bool
	}{
		{"all at threshold", cityPoint(now, 76, 0.25, 1), true},
		{"score short", cityPoint(now, 75.9, 0.9, 3), false},
		{"share short", cityPoint(now, 90, 0.24, 3), false},
		{"z short", cityPoint(now, 90, 0.9, 0.99), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, th.Qualifies(tt.p))
		})
	}
}

func TestStreak_Hysteresis(t *testing.T) {
	var s Streak

	assert.False(t, s.Observe(true, 2), "a single qualifying cycle never alerts")
	assert.True(t, s.Observe(true, 2), "two consecutive qualifying cycles alert")
	assert.True(t, s.Observe(true, 2))
	assert.Equal(t, 3, s.Count())

	assert.False(t, s.Observe(false, 2))
	assert.Equal(t, 0, s.Count(), "a failing cycle resets the counter")

	assert.False(t, s.Observe(true, 2), "the counter restarts at 1")
	assert.Equal(t, 1, s.Count())
	assert.True(t, s.Observe(true, 2))
}

// ─── Backtest ───────────────────────────────────────────────────────────────

func TestBacktest_CountsQualifyingPointsIndependently(t *testing.T) {
	var city []models.CityHistoryPoint
	for i := 0; i < 24; i++ {
		ts := now.Add(-time.Duration(24-i) * time.Hour)
		p := cityPoint(ts, 60, 0.1, 0.2)
		// Two adjacent hits and one isolated one.
		if i == 3 || i == 4 || i == 20 {
			p = cityPoint(ts, 80, 0.4, 1.5)
		}
		city = append(city, p)
	}
	// Out-of-order input must not matter.
	city[0], city[23] = city[23], city[0]

	r := Backtest(city, 24, now, DefaultThresholds)
	assert.Equal(t, 3, r.Flagged)
	assert.Equal(t, 24, r.Total)
	assert.Equal(t, 24, r.LookbackHours)

	require.Len(t, r.Rows, 12)
	assert.True(t, r.Rows[0].Timestamp.Equal(now.Add(-time.Hour)), "rows are newest first")
	for i := 1; i < len(r.Rows); i++ {
		assert.True(t, r.Rows[i].Timestamp.Before(r.Rows[i-1].Timestamp))
	}
	// i == 20 is 4h ago, the 4th newest row.
	assert.True(t, r.Rows[3].WouldAlert)
	assert.Equal(t, 80.0, r.Rows[3].Score)
}

func TestBacktest_LookbackClamp(t *testing.T) {
	var city []models.CityHistoryPoint
	for h := 1; h <= 400; h++ {
		city = append(city, cityPoint(now.Add(-time.Duration(h)*time.Hour+time.Minute), 50, 0, 0))
	}

	tests := []struct {
		in, hours, total int
	}{
		{1, 6, 6},
		{-5, 6, 6},
		{48, 48, 48},
		{10000, 336, 336},
	}
	for _, tt := range tests {
		r := Backtest(city, tt.in, now, DefaultThresholds)
		assert.Equal(t, tt.hours, r.LookbackHours, "lookback %d", tt.in)
		assert.Equal(t, tt.total, r.Total, "lookback %d", tt.in)
	}
}

func TestBacktest_Empty(t *testing.T) {
	r := Backtest(nil, 24, now, DefaultThresholds)
	assert.Equal(t, 0, r.Total)
	assert.NotNil(t, r.Rows)
	assert.Empty(t, r.Rows)
}

// ─── Bootstrap ──────────────────────────────────────────────────────────────

func seededStore(t *testing.T, offsets []time.Duration) *history.Store {
	t.Helper()
	s := history.New(history.DefaultWindow, nil)
	var city []models.CityHistoryPoint
	for _, off := range offsets {
		city = append(city, cityPoint(now.Add(off), 50, 0, 0))
	}
	s.Merge(city, nil, now)
	require.Len(t, s.City(), len(offsets))
	return s
}

func TestBootstrap_AddsFullGridWithoutCollisions(t *testing.T) {
	start := -history.DefaultWindow
	var offsets []time.Duration
	for k := 0; k < 39; k++ {
		offsets = append(offsets, start+time.Duration(k)*DefaultBootstrapStep+90*time.Minute)
	}
	s := seededStore(t, offsets)
	b := NewBootstrapper(newModel(), time.UTC, 0, 0)

	added := b.Ensure(s, panel("demo", 12), now)

	assert.Equal(t, 56, b.Steps(history.DefaultWindow))
	assert.Equal(t, 56, added)
	assert.Equal(t, 95, len(s.City()))
	assert.GreaterOrEqual(t, s.CityCountSince(now.Add(-history.DefaultWindow)), 40)
	assert.Len(t, s.Entity("demo_0"), 56)
}

func TestBootstrap_SkipsCollidingTimestamps(t *testing.T) {
	start := -history.DefaultWindow
	var offsets []time.Duration
	for k := 0; k < 5; k++ {
		offsets = append(offsets, start+time.Duration(k)*DefaultBootstrapStep)
	}
	for k := 0; k < 34; k++ {
		offsets = append(offsets, start+time.Duration(k)*DefaultBootstrapStep+time.Hour)
	}
	s := seededStore(t, offsets)

	added := NewBootstrapper(newModel(), time.UTC, 0, 0).Ensure(s, panel("demo", 3), now)

	assert.Equal(t, 56-5, added)
	assert.Equal(t, 39+51, len(s.City()))

	city := s.City()
	for i := 1; i < len(city); i++ {
		assert.False(t, city[i].Timestamp.Before(city[i-1].Timestamp), "merged history must stay ordered")
	}
}

func TestBootstrap_NoopWhenSufficient(t *testing.T) {
	var offsets []time.Duration
	for k := 0; k < 40; k++ {
		offsets = append(offsets, -time.Duration(k+1)*time.Hour)
	}
	s := seededStore(t, offsets)

	added := NewBootstrapper(newModel(), time.UTC, 0, 0).Ensure(s, panel("demo", 3), now)
	assert.Equal(t, 0, added)
	assert.Len(t, s.City(), 40)
	assert.Equal(t, 0, s.EntityCount())
}

func TestBootstrap_PointsNeverQualify(t *testing.T) {
	s := history.New(history.DefaultWindow, nil)
	NewBootstrapper(newModel(), time.UTC, 0, 0).Ensure(s, panel("demo", 12), now)

	city := s.City()
	require.Len(t, city, 56)
	assert.True(t, city[0].Timestamp.Equal(now.Add(-history.DefaultWindow)))
	for _, p := range city {
		assert.Equal(t, 0.0, p.CityZ)
		assert.False(t, p.Alerted)
		assert.False(t, DefaultThresholds.Qualifies(p))
		assert.NoError(t, p.Validate())
		assert.Equal(t, 12, p.BusinessCount)
	}

	// Identical entities with zero noise never deviate from the mean.
	assert.Equal(t, 0.0, city[0].AnomalousShare)
	assert.InDelta(t, city[0].CityPressure*0.5, city[0].Score, 0.051)

	for _, p := range s.Entity("demo_0") {
		assert.Equal(t, loadmodel.LikelyOpen(p.Hour), p.OpenNow)
	}
}

// ─── Confidence and archetype ───────────────────────────────────────────────

func snapshotWith(hour int, cityZ float64, entities []models.EntitySnapshot) Snapshot {
	return Snapshot{
		City:     models.CitySnapshot{Timestamp: now, Hour: hour, CityZ: cityZ, BusinessCount: len(entities)},
		Entities: entities,
	}
}

func entities(n int, zone models.Zone, z float64) []models.EntitySnapshot {
	out := make([]models.EntitySnapshot, n)
	for i := range out {
		out[i] = models.EntitySnapshot{ID: fmt.Sprintf("%s%d", zone, i), Zone: zone, ZScore: z}
	}
	return out
}

func TestComputeConfidence(t *testing.T) {
	var sameHour []models.CityHistoryPoint
	for i := 0; i < 10; i++ {
		sameHour = append(sameHour, models.CityHistoryPoint{Hour: 13})
		sameHour = append(sameHour, models.CityHistoryPoint{Hour: 9})
	}

	tests := []struct {
		name     string
		snap     Snapshot
		city     []models.CityHistoryPoint
		fallback bool
		want     int
	}{
		{"live, full panel, deviating", snapshotWith(13, 1.5, entities(30, models.ZoneNE, 0)), sameHour, false, 83},
		{"demo panel, no history", snapshotWith(13, 0, entities(12, models.ZoneNE, 0)), nil, true, 22},
		{"floor", snapshotWith(13, 0, nil), nil, true, 20},
		{"ceiling", snapshotWith(13, 2, entities(100, models.ZoneNE, 0)), append(append(sameHour, sameHour...), sameHour...), false, 98},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ComputeConfidence(tt.snap, tt.city, tt.fallback)
			assert.Equal(t, tt.want, c.Value)
			assert.NotEmpty(t, c.Reason)
		})
	}

	live := ComputeConfidence(snapshotWith(13, 0, nil), nil, false)
	demo := ComputeConfidence(snapshotWith(13, 0, nil), nil, true)
	assert.NotEqual(t, live.Reason, demo.Reason)
}

func TestInferArchetype(t *testing.T) {
	localized := append(entities(5, models.ZoneSW, 2), entities(4, models.ZoneNE, 2)...)
	spread := append(append(entities(3, models.ZoneSW, 2), entities(3, models.ZoneNE, 2)...), entities(3, models.ZoneNW, 2)...)

	tests := []struct {
		name string
		snap Snapshot
		want string
		zone models.Zone
	}{
		{"late night", snapshotWith(23, 0, localized), ArchetypeNightlife, ""},
		{"after midnight", snapshotWith(2, 0, localized), ArchetypeNightlife, ""},
		{"commute", snapshotWith(8, 0, localized), ArchetypeCommute, ""},
		{"lunch", snapshotWith(13, 0, localized), ArchetypeLunch, ""},
		{"localized", snapshotWith(16, 0, localized), ArchetypeLocalized, models.ZoneSW},
		{"distributed", snapshotWith(16, 0, spread), ArchetypeDistributed, ""},
		{"no anomalies", snapshotWith(16, 0, entities(5, models.ZoneSE, 0)), ArchetypeDistributed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := InferArchetype(tt.snap)
			assert.Equal(t, tt.want, a.Label)
			assert.Equal(t, tt.zone, a.Zone)
			assert.NotEmpty(t, a.Hint)
		})
	}
}

func TestDominantZone_TiesPreferDisplayOrder(t *testing.T) {
	tied := append(entities(2, models.ZoneSE, 2), entities(2, models.ZoneNE, 2)...)
	zone, share := DominantZone(tied)
	assert.Equal(t, models.ZoneNE, zone)
	assert.Equal(t, 0.5, share)

	zone, share = DominantZone(nil)
	assert.Equal(t, models.ZoneNW, zone)
	assert.Equal(t, 0.0, share)
}

// ─── Snapshot builder ───────────────────────────────────────────────────────

func TestBuilder_ScoresAgainstPriorAndSortsByZ(t *testing.T) {
	s := history.New(history.DefaultWindow, nil)
	// b_0 has a same-bucket history far below today's load; b_1 has none.
	var seed []models.EntityHistoryPoint
	for i := 0; i < 6; i++ {
		ts := now.Add(-time.Duration(30-i*4) * time.Minute)
		seed = append(seed, models.EntityHistoryPoint{Timestamp: ts, Weekday: ts.Weekday(), Hour: 13, ProxyLoad: 40, RatingCount: 500})
	}
	s.Merge(nil, map[string][]models.EntityHistoryPoint{"b_0": seed}, now)

	b := NewBuilder(newModel(), models.TelAviv, time.UTC)
	obs := panel("b", 2)
	obs[0], obs[1] = obs[1], obs[0]
	snap := b.Build(s, obs, now, false)

	require.Len(t, snap.Entities, 2)
	top := snap.Entities[0]
	assert.Equal(t, "b_0", top.ID, "most anomalous first")
	assert.Equal(t, 63.4, top.ProxyLoad)
	assert.InDelta(t, (63.4-40)/6.8, top.ZScore, 0.01)
	assert.Equal(t, models.SignalExtreme, top.Signal)
	assert.Equal(t, 23.4, top.DeltaPrev)
	assert.Equal(t, 58.5, top.DeltaPrevPct)
	assert.Equal(t, 23.4, top.DeltaWeekly)

	other := snap.Entities[1]
	assert.Equal(t, 0.0, other.DeltaPrev, "no prior point")
	assert.Equal(t, -18.6, other.DeltaWeekly, "prior expected is the template")
	assert.Equal(t, models.SignalNormal, other.Signal)

	city := snap.City
	assert.Equal(t, 63.4, city.CityPressure)
	assert.Equal(t, 0.5, city.AnomalousShare)
	assert.Equal(t, 2, city.BusinessCount)
	assert.Equal(t, time.Wednesday, city.Weekday)
	assert.Equal(t, 13, city.Hour)
	assert.False(t, city.Alerted, "the builder never alerts on its own")

	for id, p := range snap.HistoryPoints() {
		assert.True(t, p.Timestamp.Equal(now), "entity %s shares the cycle timestamp", id)
		assert.NoError(t, p.Validate())
	}
}

func TestBuilder_DefaultsMissingFields(t *testing.T) {
	s := history.New(history.DefaultWindow, nil)
	snap := NewBuilder(newModel(), models.TelAviv, time.UTC).Build(s, []models.EntityObservation{{Name: "Nameless ID"}}, now, false)

	e := snap.Entities[0]
	assert.Equal(t, "Nameless ID", e.ID, "name stands in for a missing id")
	assert.Equal(t, models.TelAviv.Lat, e.Lat)
	assert.Equal(t, models.ZoneNE, e.Zone)
}

func TestBuilder_WeeklyDeltaUsesUnroundedLoad(t *testing.T) {
	s := history.New(history.DefaultWindow, nil)
	var seed []models.EntityHistoryPoint
	for i := 0; i < 6; i++ {
		ts := now.Add(-time.Duration(30-i*4) * time.Minute)
		seed = append(seed, models.EntityHistoryPoint{Timestamp: ts, Weekday: ts.Weekday(), Hour: 13, ProxyLoad: 40.04, RatingCount: 500})
	}
	s.Merge(nil, map[string][]models.EntityHistoryPoint{"r_0": seed}, now)

	obs := panel("r", 1)
	obs[0].Rating = 4.0 // raw load 62.379
	snap := NewBuilder(newModel(), models.TelAviv, time.UTC).Build(s, obs, now, false)

	e := snap.Entities[0]
	assert.Equal(t, 62.4, e.ProxyLoad)
	assert.Equal(t, 22.3, e.DeltaWeekly, "62.379-40.04, not 62.4-40.04")
}

func TestBuilder_BaselinesFollowStoreWindow(t *testing.T) {
	s := history.New(14*24*time.Hour, nil)
	var city []models.CityHistoryPoint
	entities := map[string][]models.EntityHistoryPoint{}
	for i := 0; i < 40; i++ {
		ts := now.Add(-8*24*time.Hour - time.Duration(i)*36*time.Minute)
		city = append(city, models.CityHistoryPoint{Timestamp: ts, Weekday: ts.Weekday(), Hour: ts.Hour(), CityPressure: 20, Score: 20, BusinessCount: 12})
		entities["b_0"] = append(entities["b_0"], models.EntityHistoryPoint{Timestamp: ts, Weekday: ts.Weekday(), Hour: ts.Hour(), ProxyLoad: 40, RatingCount: 500})
	}
	s.Merge(city, entities, now)
	require.Len(t, s.City(), 40, "points older than 7 days stay inside a 14 day window")

	snap := NewBuilder(newModel(), models.TelAviv, time.UTC).Build(s, panel("b", 12), now, false)

	assert.InDelta(t, (63.4-20)/7.5, snap.City.CityZ, 0.01, "city baseline uses the retained history, not the template")
	for _, e := range snap.Entities {
		if e.ID == "b_0" {
			assert.InDelta(t, (63.4-40)/6.8, e.ZScore, 0.01)
			assert.Equal(t, 23.4, e.DeltaWeekly)
		}
	}
}

// ─── Monitor session ────────────────────────────────────────────────────────

func loudHistory(t *testing.T, s *history.Store, ids []models.EntityObservation) {
	t.Helper()
	var city []models.CityHistoryPoint
	entities := map[string][]models.EntityHistoryPoint{}
	for i := 0; i < 6; i++ {
		ts := time.Date(2026, 10, 14, 13, i*4, 0, 0, time.UTC)
		city = append(city, models.CityHistoryPoint{Timestamp: ts, Weekday: ts.Weekday(), Hour: 13, CityPressure: 20, Score: 20, BusinessCount: len(ids)})
		for _, o := range ids {
			entities[o.ID] = append(entities[o.ID], models.EntityHistoryPoint{Timestamp: ts, Weekday: ts.Weekday(), Hour: 13, ProxyLoad: 20, RatingCount: o.RatingCount})
		}
	}
	s.Merge(city, entities, now)
}

func TestMonitor_HysteresisAcrossCycles(t *testing.T) {
	loud := panel("loud", 8)
	quiet := panel("quiet", 8)
	src := &stubSource{batches: []places.Batch{
		{Entities: loud, Provider: places.ProviderGoogle},
		{Entities: loud, Provider: places.ProviderGoogle},
		{Entities: quiet, Provider: places.ProviderGoogle},
		{Entities: loud, Provider: places.ProviderGoogle},
		{Entities: loud, Provider: places.ProviderGoogle},
	}}

	s := history.New(history.DefaultWindow, nil)
	loudHistory(t, s, loud)
	m := New(s, src, newModel(), Options{Area: models.TelAviv, Location: time.UTC, BootstrapMinPoints: 1})

	want := []bool{false, true, false, false, true}
	for i, alerted := range want {
		res, err := m.RunCycle(context.Background(), now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err, "cycle %d", i)
		assert.Equal(t, alerted, res.City.Alerted, "cycle %d (score %.1f share %.2f z %.2f)",
			i, res.City.Score, res.City.AnomalousShare, res.City.CityZ)
	}

	// Backtest ignores hysteresis: all four loud cycles qualify on their own.
	r := m.Backtest(6, now.Add(5*time.Minute))
	assert.Equal(t, 4, r.Flagged)
}

func TestMonitor_PartialThresholdsKeepHysteresis(t *testing.T) {
	loud := panel("loud", 8)
	src := &stubSource{batches: []places.Batch{{Entities: loud, Provider: places.ProviderGoogle}}}

	s := history.New(history.DefaultWindow, nil)
	loudHistory(t, s, loud)
	m := New(s, src, newModel(), Options{
		Area:               models.TelAviv,
		Location:           time.UTC,
		BootstrapMinPoints: 1,
		Thresholds:         Thresholds{Score: 76, Share: 0.25, Z: 1},
	})
	assert.Equal(t, DefaultThresholds.HysteresisCycles, m.Options().Thresholds.HysteresisCycles)

	for i, alerted := range []bool{false, true} {
		res, err := m.RunCycle(context.Background(), now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, alerted, res.City.Alerted, "cycle %d", i)
	}
}

func TestMonitor_EmptyResultLeavesHistoryUntouched(t *testing.T) {
	s := history.New(history.DefaultWindow, nil)
	m := New(s, &stubSource{batches: []places.Batch{{Provider: places.ProviderGoogle}}}, newModel(), Options{Area: models.TelAviv, Location: time.UTC})

	_, err := m.RunCycle(context.Background(), now)
	assert.ErrorIs(t, err, ErrEmptyResult)
	assert.Empty(t, s.City(), "no bootstrap and no append on an empty panel")
	_, ok := m.Last()
	assert.False(t, ok)

	// Invalid observations do not count as usable.
	m = New(s, &stubSource{batches: []places.Batch{{Entities: []models.EntityObservation{{Rating: 9}}}}}, newModel(), Options{Location: time.UTC})
	_, err = m.RunCycle(context.Background(), now)
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestMonitor_SourceErrorIsACycleFailure(t *testing.T) {
	s := history.New(history.DefaultWindow, nil)
	m := New(s, &stubSource{err: places.ErrSourceUnavailable}, newModel(), Options{Location: time.UTC})

	_, err := m.RunCycle(context.Background(), now)
	assert.True(t, errors.Is(err, places.ErrSourceUnavailable))
	assert.Empty(t, s.City())
}

func TestMonitor_FirstCycleBootstrapsAndPersists(t *testing.T) {
	persist := storage.NewMemoryStore()
	s := history.New(history.DefaultWindow, persist)
	src := &stubSource{batches: []places.Batch{{Entities: panel("demo", 12), Provider: places.ProviderDemo, Fallback: true}}}
	m := New(s, src, newModel(), Options{Area: models.TelAviv, Location: time.UTC})

	res, err := m.RunCycle(context.Background(), now)
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 56, res.Bootstrapped)
	assert.Equal(t, 57, res.CityPoints)
	assert.True(t, res.Fallback)
	assert.Equal(t, places.ProviderDemo, res.Provider)
	assert.Len(t, res.Entities, 12)
	assert.Equal(t, ArchetypeLunch, res.Archetype.Label)
	assert.Less(t, res.Confidence.Value, 60, "demo data lowers confidence")

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, res.ID, last.ID)

	doc, err := persist.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, doc.City, 57)
	assert.Len(t, doc.Businesses["demo_0"], 57)

	// A second cycle has enough history and does not bootstrap again. The
	// oldest synthetic point has slid out of the window.
	res, err = m.RunCycle(context.Background(), now.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Bootstrapped)
	assert.Equal(t, 57, res.CityPoints)
}

type panicSource struct{}

func (panicSource) Fetch(context.Context, places.Request) (places.Batch, error) {
	panic("directory exploded")
}

func TestMonitor_PanicBecomesError(t *testing.T) {
	m := New(history.New(0, nil), panicSource{}, newModel(), Options{Location: time.UTC})
	_, err := m.RunCycle(context.Background(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory exploded")
}

func TestMonitor_RunDeliversOutcomesUntilCancelled(t *testing.T) {
	src := &stubSource{batches: []places.Batch{{Entities: panel("demo", 3), Provider: places.ProviderDemo, Fallback: true}}}
	m := New(history.New(0, nil), src, newModel(), Options{Area: models.TelAviv, Location: time.UTC})
	m.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	out := m.Run(ctx, time.Hour)

	select {
	case o := <-out:
		require.NoError(t, o.Err)
		require.NotNil(t, o.Result)
		assert.True(t, o.At.Equal(now))
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle was not delivered immediately")
	}

	cancel()
	for range out {
	}
}
