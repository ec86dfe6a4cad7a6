package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"timelinecal/internal/config"
	"timelinecal/internal/engine"
	appLog "timelinecal/internal/log"
	"timelinecal/internal/model"
)

// RefreshFunc runs one update cycle on demand.
type RefreshFunc func(ctx context.Context) (engine.UpdateResult, error)

// Server exposes a read-only JSON view of a Cache, plus an endpoint that
// triggers a refresh cycle.
type Server struct {
	cfg     *config.Config
	cache   *engine.Cache
	refresh RefreshFunc
	mux     *http.ServeMux
}

// NewServer constructs a new Server. refresh may be nil, in which case
// POST /api/refresh answers 503.
func NewServer(cfg *config.Config, cache *engine.Cache, refresh RefreshFunc) *Server {
	s := &Server{
		cfg:     cfg,
		cache:   cache,
		refresh: refresh,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials count as disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="timelinecal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/days", s.handleDays)
	s.mux.HandleFunc("GET /api/day", s.handleDay)
	s.mux.HandleFunc("GET /api/hit", s.handleHit)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// dayResponse is the JSON response shape for /api/day.
type dayResponse struct {
	Day         model.DayKey          `json:"day"`
	Segments    []model.PackedSegment `json:"segments"`
	WindowStart time.Time             `json:"window_start"`
	WindowEnd   time.Time             `json:"window_end"`
}

// handleDays lists the days that hold at least one segment.
func (s *Server) handleDays(w http.ResponseWriter, _ *http.Request) {
	days := s.cache.Days()
	if days == nil {
		days = []model.DayKey{}
	}
	writeJSON(w, http.StatusOK, days)
}

// handleDay returns the laid-out segments of one day.
//
// GET /api/day?date=2006-01-02
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	day, err := model.ParseDayKey(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	segs := s.cache.OccurrencesOnDay(day)
	if segs == nil {
		segs = []model.PackedSegment{}
	}
	start, end := s.cache.Window()
	writeJSON(w, http.StatusOK, dayResponse{
		Day:         day,
		Segments:    segs,
		WindowStart: start,
		WindowEnd:   end,
	})
}

// handleHit returns the segments under a point of the day view.
//
// GET /api/hit?at=<RFC3339>&x=<percent>
//   - at: required instant
//   - x:  optional horizontal position (0-100); without it every segment
//     covering the instant is returned
func (s *Server) handleHit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	at, err := time.Parse(time.RFC3339, q.Get("at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "at must be an RFC3339 instant")
		return
	}

	var segs []model.PackedSegment
	if xs := q.Get("x"); xs != "" {
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil || x < 0 || x > 100 {
			writeError(w, http.StatusBadRequest, "x must be a percentage between 0 and 100")
			return
		}
		segs = s.cache.HitTest(at, x)
	} else {
		segs = s.cache.OccurrencesCoveringInstant(at)
	}
	if segs == nil {
		segs = []model.PackedSegment{}
	}
	writeJSON(w, http.StatusOK, segs)
}

// statsResponse is the JSON response shape for /api/stats.
type statsResponse struct {
	engine.Stats
	Days        int       `json:"days"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	start, end := s.cache.Window()
	writeJSON(w, http.StatusOK, statsResponse{
		Stats:       s.cache.Stats(),
		Days:        len(s.cache.Days()),
		WindowStart: start,
		WindowEnd:   end,
	})
}

// refreshResponse summarizes one update cycle.
type refreshResponse struct {
	Added          int            `json:"added"`
	Updated        int            `json:"updated"`
	Deleted        int            `json:"deleted"`
	Unchanged      int            `json:"unchanged"`
	ShortCircuited bool           `json:"short_circuited"`
	Rebuilt        bool           `json:"rebuilt"`
	ChangedDays    []model.DayKey `json:"changed_days"`
	Diagnostics    []string       `json:"diagnostics"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh is not available")
		return
	}

	res, err := s.refresh(r.Context())
	if err != nil {
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}

	resp := refreshResponse{
		Added:          len(res.Added),
		Updated:        len(res.Updated),
		Deleted:        len(res.Deleted),
		Unchanged:      len(res.Unchanged),
		ShortCircuited: res.ShortCircuited,
		Rebuilt:        res.Rebuilt,
		ChangedDays:    res.ChangedDays,
		Diagnostics:    make([]string, 0, len(res.Diagnostics)),
	}
	if resp.ChangedDays == nil {
		resp.ChangedDays = []model.DayKey{}
	}
	for _, d := range res.Diagnostics {
		resp.Diagnostics = append(resp.Diagnostics, d.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
