// Package places fetches the panel of tracked businesses around an area
// center from a places directory.
//
// Three providers share one shape: the Google Places Nearby Search HTTP API,
// OpenStreetMap through the Overpass API, and a static demo panel. Fallback
// wraps a live provider and substitutes the demo panel when it fails.
package places

import (
	"context"
	"errors"

	"github.com/rewired-gh/crowdpulse/internal/models"
)

// ErrSourceUnavailable is returned when a provider cannot be reached or
// answers with a non-OK status.
var ErrSourceUnavailable = errors.New("places source unavailable")

// Request describes one panel search.
type Request struct {
	Center       models.Area
	RadiusMeters int
	MaxEntities  int
	Keyword      string
	Type         string
}

// DefaultRequest is the Tel Aviv fast food panel.
var DefaultRequest = Request{
	Center:       models.TelAviv,
	RadiusMeters: 1400,
	MaxEntities:  30,
	Keyword:      "fast food",
	Type:         "restaurant",
}

// Batch is the outcome of one fetch.
type Batch struct {
	Entities []models.EntityObservation
	Provider string
	Fallback bool // entities come from the static demo panel
}

// Source is implemented by every provider.
type Source interface {
	Fetch(ctx context.Context, req Request) (Batch, error)
}

// FastFoodTypes are the directory types kept in a panel.
var FastFoodTypes = []string{"restaurant", "meal_takeaway"}

func hasAnyType(types []string, want []string) bool {
	for _, t := range types {
		for _, w := range want {
			if t == w {
				return true
			}
		}
	}
	return false
}

func capEntities(entities []models.EntityObservation, max int) []models.EntityObservation {
	if max > 0 && len(entities) > max {
		return entities[:max]
	}
	return entities
}
