// Package api serves the dashboard: the latest snapshot, history series,
// zone cards, replay, a websocket stream of cycle results and Prometheus
// metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rewired-gh/crowdpulse/internal/logger"
	"github.com/rewired-gh/crowdpulse/internal/monitor"
	"github.com/rewired-gh/crowdpulse/internal/report"
)

// DefaultTimelinePoints is the timeline length when ?limit is absent.
const DefaultTimelinePoints = 48

// Options configures a Server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer // nil disables /metrics
}

// Server is the dashboard HTTP server.
type Server struct {
	mon      *monitor.Monitor
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader
	now      func() time.Time
}

// New creates a server reading from mon.
func New(mon *monitor.Monitor, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		mon:  mon,
		hub:  NewHub(),
		opts: opts,
		now:  time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Hub returns the stream hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Publish pushes a cycle result to stream subscribers.
func (s *Server) Publish(res *monitor.Result) {
	if err := s.hub.Broadcast("snapshot", res); err != nil {
		logger.Warn("Failed to encode stream message: %v", err)
	}
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	v1.HandleFunc("/zones", s.handleZones).Methods(http.MethodGet)
	v1.HandleFunc("/compare", s.handleCompare).Methods(http.MethodGet)
	v1.HandleFunc("/history/city", s.handleCityHistory).Methods(http.MethodGet)
	v1.HandleFunc("/history/businesses/{id}", s.handleEntityHistory).Methods(http.MethodGet)
	v1.HandleFunc("/signature", s.handleSignature).Methods(http.MethodGet)
	v1.HandleFunc("/backtest", s.handleBacktest).Methods(http.MethodGet)
	v1.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)

	r.Use(loggingMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

// ListenAndServe runs the hub and the HTTP server until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening on %s", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

type snapshotResponse struct {
	*monitor.Result
	Status  string `json:"status"`
	WhyNow  string `json:"why_now"`
	Summary string `json:"summary"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if res, ok := s.mon.Last(); ok {
		body["last_cycle"] = res.City.Timestamp
		body["provider"] = res.Provider
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.mon.Last()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	opts := s.mon.Options()
	writeJSON(w, http.StatusOK, snapshotResponse{
		Result:  res,
		Status:  report.StatusLabel(res.City),
		WhyNow:  report.WhyNow(res.Snapshot),
		Summary: report.ShareSummary(opts.Area.Name, res.City, opts.Location),
	})
}

func (s *Server) handleZones(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.mon.Last()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, report.ZoneStats(res.Entities))
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	res, ok := s.mon.Last()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no snapshot yet")
		return
	}
	n, err := intParam(r, "limit", 10)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"weekly":    report.TopByWeeklyDelta(res.Entities, n),
		"anomalies": report.TopByZ(res.Entities, n),
	})
}

func (s *Server) handleCityHistory(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "limit", DefaultTimelinePoints)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	writeJSON(w, http.StatusOK, report.Timeline(s.mon.Store().City(), n))
}

func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	points := s.mon.Store().Entity(id)
	if len(points) == 0 {
		writeError(w, http.StatusNotFound, "unknown business")
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleSignature(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report.WeeklySignature(s.mon.Store().City(), s.now(), s.mon.Options().Location))
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", monitor.DefaultLookbackHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "hours must be an integer")
		return
	}
	rep := s.mon.Backtest(hours, s.now())
	writeJSON(w, http.StatusOK, map[string]any{
		"report":  rep,
		"summary": report.BacktestSummary(rep),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, 8)}
	if !s.subscribe(c) {
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// subscribe primes c with the current snapshot, so late subscribers start
// from the current state, then registers it with the hub. The snapshot is
// queued before registration so no broadcast can overtake it.
func (s *Server) subscribe(c *client) bool {
	if res, ok := s.mon.Last(); ok {
		data, err := encodeMessage("snapshot", res)
		if err != nil {
			logger.Warn("Failed to encode stream message: %v", err)
		} else {
			c.send <- data
		}
	}
	return s.hub.add(c)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("%s %s (%v)", r.Method, r.URL.Path, time.Since(start))
	})
}
