package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rewired-gh/crowdpulse/internal/logger"
	"github.com/rewired-gh/crowdpulse/internal/models"
)

// ProviderGoogle names the Google Places provider.
const ProviderGoogle = "google"

// DefaultGoogleBaseURL is the Places API root.
const DefaultGoogleBaseURL = "https://maps.googleapis.com/maps/api/place"

// GoogleClient queries the Places Nearby Search endpoint.
type GoogleClient struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
	pageDelay      time.Duration
}

// GoogleOptions configures a GoogleClient. Zero values take defaults.
type GoogleOptions struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
	PageDelay      time.Duration // wait before following next_page_token
}

// NewGoogleClient creates a new Places client.
func NewGoogleClient(opts GoogleOptions) *GoogleClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultGoogleBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelayBase <= 0 {
		opts.RetryDelayBase = time.Second
	}
	if opts.PageDelay < 0 {
		opts.PageDelay = 0
	}
	return &GoogleClient{
		baseURL:        opts.BaseURL,
		apiKey:         opts.APIKey,
		httpClient:     &http.Client{Timeout: opts.Timeout},
		maxRetries:     opts.MaxRetries,
		retryDelayBase: opts.RetryDelayBase,
		pageDelay:      opts.PageDelay,
	}
}

// nearbyResponse is the subset of the Nearby Search response we read.
type nearbyResponse struct {
	Status        string        `json:"status"`
	ErrorMessage  string        `json:"error_message"`
	NextPageToken string        `json:"next_page_token"`
	Results       []googlePlace `json:"results"`
}

type googlePlace struct {
	PlaceID  string `json:"place_id"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	Rating           float64 `json:"rating"`
	UserRatingsTotal int     `json:"user_ratings_total"`
	OpeningHours     *struct {
		OpenNow bool `json:"open_now"`
	} `json:"opening_hours"`
	Types []string `json:"types"`
}

func (p googlePlace) observation() models.EntityObservation {
	id := p.PlaceID
	if id == "" {
		id = p.ID
	}
	name := p.Name
	if name == "" {
		name = "Unnamed"
	}
	obs := models.EntityObservation{
		ID:          id,
		Name:        name,
		Lat:         p.Geometry.Location.Lat,
		Lng:         p.Geometry.Location.Lng,
		Rating:      p.Rating,
		RatingCount: p.UserRatingsTotal,
		Types:       p.Types,
	}
	if p.OpeningHours != nil {
		obs.OpenNow = p.OpeningHours.OpenNow
	}
	return obs
}

// Fetch collects up to req.MaxEntities fast food places, following pagination.
// A failure on the first page is ErrSourceUnavailable; a failure on a later
// page returns what was collected so far.
func (c *GoogleClient) Fetch(ctx context.Context, req Request) (Batch, error) {
	batch := Batch{Provider: ProviderGoogle}

	params := url.Values{}
	params.Set("location", fmt.Sprintf("%f,%f", req.Center.Lat, req.Center.Lng))
	params.Set("radius", strconv.Itoa(req.RadiusMeters))
	if req.Keyword != "" {
		params.Set("keyword", req.Keyword)
	}
	if req.Type != "" {
		params.Set("type", req.Type)
	}

	for page := 0; ; page++ {
		resp, err := c.nearby(ctx, params)
		if err != nil {
			if page == 0 {
				return batch, err
			}
			logger.Warn("Places pagination stopped after %d page(s): %v", page, err)
			return batch, nil
		}

		for _, p := range resp.Results {
			if !hasAnyType(p.Types, FastFoodTypes) {
				continue
			}
			batch.Entities = append(batch.Entities, p.observation())
			if req.MaxEntities > 0 && len(batch.Entities) >= req.MaxEntities {
				return batch, nil
			}
		}

		if resp.NextPageToken == "" {
			return batch, nil
		}

		// The next page token only becomes valid after a short delay.
		select {
		case <-ctx.Done():
			return batch, ctx.Err()
		case <-time.After(c.pageDelay):
		}
		params = url.Values{}
		params.Set("pagetoken", resp.NextPageToken)
	}
}

func (c *GoogleClient) nearby(ctx context.Context, params url.Values) (*nearbyResponse, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	endpoint := fmt.Sprintf("%s/nearbysearch/json?%s", c.baseURL, q.Encode())

	httpResp, err := c.doRequest(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer httpResp.Body.Close()

	var resp nearbyResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode nearby search: %v", ErrSourceUnavailable, err)
	}

	switch resp.Status {
	case "OK", "ZERO_RESULTS":
		return &resp, nil
	default:
		if resp.ErrorMessage != "" {
			return nil, fmt.Errorf("%w: status %s: %s", ErrSourceUnavailable, resp.Status, resp.ErrorMessage)
		}
		return nil, fmt.Errorf("%w: status %s", ErrSourceUnavailable, resp.Status)
	}
}

// doRequest performs an HTTP GET with retry logic.
func (c *GoogleClient) doRequest(ctx context.Context, endpoint string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			delay := c.retryDelayBase * time.Duration(i)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
