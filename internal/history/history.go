// Package history holds the rolling window of city and per-entity points the
// detector builds its baselines from.
//
// The store is append-only until pruned: every mutation is followed by a
// prune relative to the latest known "now", so it never holds points older
// than the window. Reads return copies, so callers can never mutate history.
// A single mutex serializes writers; the HTTP API may read concurrently with
// a detection cycle.
package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/crowdpulse/internal/logger"
	"github.com/rewired-gh/crowdpulse/internal/models"
)

// DefaultWindow is the rolling window length.
const DefaultWindow = 7 * 24 * time.Hour

// Persister is the durable boundary for history. Load returns an empty
// document when nothing is stored.
type Persister interface {
	Load(ctx context.Context) (models.HistoryDocument, error)
	Save(ctx context.Context, doc models.HistoryDocument) error
}

// Store is the in-memory rolling history.
type Store struct {
	mu        sync.RWMutex
	window    time.Duration
	city      []models.CityHistoryPoint
	entities  map[string][]models.EntityHistoryPoint
	latest    time.Time
	persister Persister
}

// New creates an empty store. A nil persister keeps history in memory only.
func New(window time.Duration, p Persister) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window:    window,
		city:      []models.CityHistoryPoint{},
		entities:  make(map[string][]models.EntityHistoryPoint),
		persister: p,
	}
}

// Window returns the rolling window length.
func (s *Store) Window() time.Duration {
	return s.window
}

// Load restores history from the persister and prunes it against now.
// Unreadable or corrupt history is never fatal: the store is reset to empty
// and the failure is only logged.
func (s *Store) Load(ctx context.Context, now time.Time) {
	if s.persister == nil {
		return
	}

	doc, err := s.persister.Load(ctx)
	if err == nil {
		err = doc.Validate()
	}
	if err != nil {
		logger.Warn("Discarding stored history, starting empty: %v", err)
		doc = models.NewHistoryDocument()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.city = doc.City
	s.entities = doc.Businesses
	sortCity(s.city)
	for id := range s.entities {
		sortEntity(s.entities[id])
	}
	s.pruneLocked(now)
	logger.Info("Loaded history: %d city points, %d entities", len(s.city), len(s.entities))
}

// Save writes the current history through the persister.
func (s *Store) Save(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	doc := s.Document()
	doc.SavedAt = time.Now()
	if err := s.persister.Save(ctx, doc); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// Document returns a deep copy of the history as a persistable document.
func (s *Store) Document() models.HistoryDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := models.NewHistoryDocument()
	doc.City = append(doc.City, s.city...)
	for id, points := range s.entities {
		doc.Businesses[id] = append([]models.EntityHistoryPoint(nil), points...)
	}
	return doc
}

// AppendCycle records one polling cycle: one city point and one point per
// entity, all sharing the city point's timestamp. History is pruned against
// that timestamp afterwards.
func (s *Store) AppendCycle(city models.CityHistoryPoint, entities map[string]models.EntityHistoryPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.city = append(s.city, city)
	for id, p := range entities {
		p.Timestamp = city.Timestamp
		s.entities[id] = append(s.entities[id], p)
	}
	s.pruneLocked(city.Timestamp)
}

// Merge adds generated points, skipping any whose timestamp already exists in
// the target sequence, then re-sorts and prunes against now. It returns the
// number of city points added.
func (s *Store) Merge(city []models.CityHistoryPoint, entities map[string][]models.EntityHistoryPoint, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]struct{}, len(s.city))
	for _, p := range s.city {
		seen[p.Timestamp.UnixNano()] = struct{}{}
	}
	added := 0
	for _, p := range city {
		key := p.Timestamp.UnixNano()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		s.city = append(s.city, p)
		added++
	}
	sortCity(s.city)

	for id, points := range entities {
		existing := s.entities[id]
		have := make(map[int64]struct{}, len(existing))
		for _, p := range existing {
			have[p.Timestamp.UnixNano()] = struct{}{}
		}
		for _, p := range points {
			key := p.Timestamp.UnixNano()
			if _, dup := have[key]; dup {
				continue
			}
			have[key] = struct{}{}
			existing = append(existing, p)
		}
		sortEntity(existing)
		s.entities[id] = existing
	}

	s.pruneLocked(now)
	return added
}

// Prune drops every point older than now minus the window and returns how
// many points were removed. Entities left without points are forgotten.
func (s *Store) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(now)
}

func (s *Store) pruneLocked(now time.Time) int {
	if now.After(s.latest) {
		s.latest = now
	}
	cutoff := s.latest.Add(-s.window)
	removed := 0

	kept := s.city[:0]
	for _, p := range s.city {
		if p.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	s.city = kept

	for id, points := range s.entities {
		recent := points[:0]
		for _, p := range points {
			if p.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			recent = append(recent, p)
		}
		if len(recent) == 0 {
			delete(s.entities, id)
			continue
		}
		s.entities[id] = recent
	}
	return removed
}

// City returns a copy of the city sequence, oldest first.
func (s *Store) City() []models.CityHistoryPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.CityHistoryPoint(nil), s.city...)
}

// Entity returns a copy of one entity's sequence, oldest first.
func (s *Store) Entity(id string) []models.EntityHistoryPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.EntityHistoryPoint(nil), s.entities[id]...)
}

// LatestEntity returns the most recent point of an entity, if any.
func (s *Store) LatestEntity(id string) (models.EntityHistoryPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	points := s.entities[id]
	if len(points) == 0 {
		return models.EntityHistoryPoint{}, false
	}
	return points[len(points)-1], true
}

// CityCountSince returns the number of city points at or after since.
func (s *Store) CityCountSince(since time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.city {
		if !p.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

// EntityCount returns the number of entities with history.
func (s *Store) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

func sortCity(points []models.CityHistoryPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
}

func sortEntity(points []models.EntityHistoryPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
}
