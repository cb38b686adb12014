package places

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/serjvanilla/go-overpass"

	"github.com/rewired-gh/crowdpulse/internal/models"
)

// ProviderOverpass names the OpenStreetMap provider.
const ProviderOverpass = "overpass"

// DefaultOverpassURL is the public Overpass interpreter.
const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// querier is the part of the Overpass client we use.
type querier interface {
	Query(query string) (overpass.Result, error)
}

// OverpassClient builds a panel from OpenStreetMap fast food amenities.
// OSM carries no ratings or review counters, so observations have a zero
// rating (the default applies) and a zero count. Open status follows the
// opening_hours tag when it is "24/7", else the local-hour heuristic.
type OverpassClient struct {
	client  querier
	timeout time.Duration
	loc     *time.Location
	now     func() time.Time
}

// NewOverpassClient creates a client for endpoint. loc is the area's wall clock.
func NewOverpassClient(endpoint string, timeout time.Duration, loc *time.Location) *OverpassClient {
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if loc == nil {
		loc = time.Local
	}
	c := overpass.NewWithSettings(endpoint, 2, &http.Client{Timeout: timeout})
	return &OverpassClient{client: &c, timeout: timeout, loc: loc, now: time.Now}
}

func buildOverpassQuery(req Request) string {
	around := fmt.Sprintf("(around:%d,%f,%f)", req.RadiusMeters, req.Center.Lat, req.Center.Lng)
	return fmt.Sprintf(`
		[out:json];
		(
			node["amenity"="fast_food"]%s;
			way["amenity"="fast_food"]%s;
		);
		out body;
		>;
		out skel qt;
	`, around, around)
}

// Fetch runs the around query and converts named amenities to observations.
func (c *OverpassClient) Fetch(ctx context.Context, req Request) (Batch, error) {
	batch := Batch{Provider: ProviderOverpass}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		result overpass.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.client.Query(buildOverpassQuery(req))
		done <- outcome{res, err}
	}()

	var res overpass.Result
	select {
	case <-ctx.Done():
		return batch, fmt.Errorf("%w: overpass query: %v", ErrSourceUnavailable, ctx.Err())
	case out := <-done:
		if out.err != nil {
			return batch, fmt.Errorf("%w: overpass query failed: %v", ErrSourceUnavailable, out.err)
		}
		res = out.result
	}

	batch.Entities = capEntities(c.convert(res), req.MaxEntities)
	return batch, nil
}

func (c *OverpassClient) convert(res overpass.Result) []models.EntityObservation {
	hour := c.now().In(c.loc).Hour()
	likelyOpen := hour >= 10 && hour <= 23

	var out []models.EntityObservation
	add := func(kind string, id int64, tags map[string]string, lat, lng float64) {
		name := strings.TrimSpace(tags["name"])
		if name == "" || tags["amenity"] != "fast_food" {
			return
		}
		open := likelyOpen
		if tags["opening_hours"] == "24/7" {
			open = true
		}
		out = append(out, models.EntityObservation{
			ID:      fmt.Sprintf("osm:%s/%d", kind, id),
			Name:    name,
			Lat:     lat,
			Lng:     lng,
			OpenNow: open,
			Types:   []string{"meal_takeaway"},
		})
	}

	for _, node := range res.Nodes {
		add(string(overpass.ElementTypeNode), node.ID, node.Tags, node.Lat, node.Lon)
	}
	for _, way := range res.Ways {
		if len(way.Nodes) == 0 {
			continue
		}
		var lat, lng float64
		for _, n := range way.Nodes {
			lat += n.Lat
			lng += n.Lon
		}
		n := float64(len(way.Nodes))
		add(string(overpass.ElementTypeWay), way.ID, way.Tags, lat/n, lng/n)
	}

	// Results arrive as maps; order by ID so capping is deterministic.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
