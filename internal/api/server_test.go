package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/crowdpulse/internal/bucket"
	"github.com/rewired-gh/crowdpulse/internal/history"
	"github.com/rewired-gh/crowdpulse/internal/loadmodel"
	"github.com/rewired-gh/crowdpulse/internal/metrics"
	"github.com/rewired-gh/crowdpulse/internal/models"
	"github.com/rewired-gh/crowdpulse/internal/monitor"
	"github.com/rewired-gh/crowdpulse/internal/places"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

var now = time.Date(2026, 10, 14, 13, 30, 0, 0, time.UTC)

func newMonitor() *monitor.Monitor {
	model := loadmodel.New(bucket.DefaultTemplate, fixedRand(0.5))
	return monitor.New(history.New(history.DefaultWindow, nil), places.Demo{}, model, monitor.Options{
		Area:     models.TelAviv,
		Location: time.UTC,
		Request:  places.DefaultRequest,
	})
}

func newTestServer(t *testing.T, mon *monitor.Monitor, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := New(mon, opts)
	s.now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	go s.hub.Run(ctx)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return s, ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestBeforeFirstCycle(t *testing.T) {
	_, ts := newTestServer(t, newMonitor(), Options{})

	var health map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &health))
	assert.Equal(t, "ok", health["status"])
	assert.NotContains(t, health, "last_cycle")

	for _, path := range []string{"/api/v1/snapshot", "/api/v1/zones", "/api/v1/compare"} {
		assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+path, nil), path)
	}
}

func TestEndpoints(t *testing.T) {
	mon := newMonitor()
	_, err := mon.RunCycle(context.Background(), now)
	require.NoError(t, err)

	_, ts := newTestServer(t, mon, Options{})

	t.Run("snapshot", func(t *testing.T) {
		var body struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			WhyNow string `json:"why_now"`
			City   struct {
				BusinessCount int `json:"business_count"`
			} `json:"city"`
			Entities []json.RawMessage `json:"entities"`
			Provider string            `json:"provider"`
		}
		require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/snapshot", &body))
		assert.NotEmpty(t, body.ID)
		assert.NotEmpty(t, body.Status)
		assert.Contains(t, body.WhyNow, "counters elevated")
		assert.Equal(t, 12, body.City.BusinessCount)
		assert.Len(t, body.Entities, 12)
		assert.Equal(t, places.ProviderDemo, body.Provider)
	})

	t.Run("zones", func(t *testing.T) {
		var zones []map[string]any
		require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/zones", &zones))
		require.Len(t, zones, 4)
		assert.Equal(t, "NW", zones[0]["zone"])
	})

	t.Run("compare", func(t *testing.T) {
		var body map[string][]json.RawMessage
		require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/compare?limit=3", &body))
		assert.Len(t, body["weekly"], 3)
		assert.Len(t, body["anomalies"], 3)
		assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/compare?limit=x", nil))
	})

	t.Run("city history", func(t *testing.T) {
		var points []map[string]any
		require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/history/city?limit=5", &points))
		assert.Len(t, points, 5)
		assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/history/city?limit=0", nil))
	})

	t.Run("business history", func(t *testing.T) {
		var points []map[string]any
		require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/history/businesses/demo_1", &points))
		assert.NotEmpty(t, points)
		assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/history/businesses/nope", nil))
	})

	t.Run("signature", func(t *testing.T) {
		var sig struct {
			Typical []*float64 `json:"typical"`
			Today   []*float64 `json:"today"`
		}
		require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/signature", &sig))
		assert.Len(t, sig.Typical, 24)
		assert.NotNil(t, sig.Today[13], "the live cycle ran at 13:30 today")
	})

	t.Run("backtest", func(t *testing.T) {
		var body struct {
			Report  monitor.BacktestReport `json:"report"`
			Summary string                 `json:"summary"`
		}
		require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/backtest?hours=1000", &body))
		assert.Equal(t, monitor.MaxLookbackHours, body.Report.LookbackHours)
		assert.Equal(t, 57, body.Report.Total)
		assert.True(t, strings.HasPrefix(body.Summary, "Replay 336h"))
		assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/backtest?hours=abc", nil))
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/snapshot", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	mon := newMonitor()
	res, err := mon.RunCycle(context.Background(), now)
	require.NoError(t, err)
	m.Observe(res, nil)

	_, ts := newTestServer(t, mon, Options{Gatherer: reg})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `crowdpulse_cycles_total{outcome="ok"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	_, ts := newTestServer(t, newMonitor(), Options{})
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/metrics", nil))
}

func TestCORS(t *testing.T) {
	_, ts := newTestServer(t, newMonitor(), Options{AllowedOrigins: []string{"https://dash.example"}})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://dash.example", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStream(t *testing.T) {
	mon := newMonitor()
	first, err := mon.RunCycle(context.Background(), now)
	require.NoError(t, err)

	s, ts := newTestServer(t, mon, Options{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() (string, string) {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg struct {
			Type string `json:"type"`
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		return msg.Type, msg.Data.ID
	}

	typ, id := read()
	assert.Equal(t, "snapshot", typ)
	assert.Equal(t, first.ID, id, "new subscribers receive the current snapshot")

	second, err := mon.RunCycle(context.Background(), now.Add(15*time.Minute))
	require.NoError(t, err)
	s.Publish(second)

	typ, id = read()
	assert.Equal(t, "snapshot", typ)
	assert.Equal(t, second.ID, id)
	assert.Equal(t, 1, s.Hub().Clients())
}

func TestSubscribeQueuesCurrentSnapshot(t *testing.T) {
	mon := newMonitor()
	res, err := mon.RunCycle(context.Background(), now)
	require.NoError(t, err)

	s, _ := newTestServer(t, mon, Options{})

	const subscribers = 200
	for i := 0; i < subscribers; i++ {
		c := &client{hub: s.hub, send: make(chan []byte, 8)}
		require.True(t, s.subscribe(c))
		require.Len(t, c.send, 1, "subscriber %d", i)

		var msg struct {
			Type string `json:"type"`
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(<-c.send, &msg))
		assert.Equal(t, "snapshot", msg.Type)
		assert.Equal(t, res.ID, msg.Data.ID)
	}
	assert.Eventually(t, func() bool { return s.Hub().Clients() == subscribers }, time.Second, 10*time.Millisecond)
}

func TestSubscribeBeforeFirstCycle(t *testing.T) {
	s, _ := newTestServer(t, newMonitor(), Options{})

	c := &client{hub: s.hub, send: make(chan []byte, 8)}
	require.True(t, s.subscribe(c))
	assert.Empty(t, c.send, "nothing to replay yet")
}

func TestCheckOrigin(t *testing.T) {
	s := New(newMonitor(), Options{AllowedOrigins: []string{"https://dash.example"}})

	r := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil)
	assert.True(t, s.checkOrigin(r), "same-origin requests carry no Origin header")

	r.Header.Set("Origin", "https://dash.example")
	assert.True(t, s.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, s.checkOrigin(r))
}
