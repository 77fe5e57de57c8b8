package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"plancal/internal/classify"
	"plancal/internal/config"
	"plancal/internal/datetime"
	appLog "plancal/internal/log"
	"plancal/internal/metrics"
	"plancal/internal/model"
	"plancal/internal/recur"
	"plancal/internal/refresh"
	"plancal/internal/reschedule"
)

// Writer forwards reschedule payloads to the planner API.
type Writer interface {
	Apply(ctx context.Context, p reschedule.Payload) (model.Objective, error)
}

// Deps wires a Server. Writer, Refresher, Metrics and Gatherer are optional.
type Deps struct {
	Config    *config.Config
	Store     *refresh.Store
	Refresher *refresh.Refresher
	Writer    Writer
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Clock     datetime.Clock
}

// Server provides the HTTP API over the current record snapshot.
type Server struct {
	cfg       *config.Config
	store     *refresh.Store
	refresher *refresh.Refresher
	writer    Writer
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	clock     datetime.Clock
	mux       *http.ServeMux

	classifier classify.Classifier
	expandOpts recur.Options

	// Rendered responses keyed by route, window and snapshot version, so a
	// refresh naturally invalidates older entries.
	cache    *lru.Cache[string, cachedResponse]
	cacheTTL time.Duration
}

type cachedResponse struct {
	body        []byte
	contentType string
	storedAt    time.Time
}

// NewServer constructs a new Server.
func NewServer(d Deps) (*Server, error) {
	if d.Config == nil {
		return nil, errors.New("web: config is nil")
	}
	if d.Store == nil {
		return nil, errors.New("web: store is nil")
	}
	if d.Clock == nil {
		d.Clock = datetime.SystemClock{}
	}
	cal := d.Config.Calendar
	cache, err := lru.New[string, cachedResponse](max(cal.ResponseCacheSize, 1))
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        d.Config,
		store:      d.Store,
		refresher:  d.Refresher,
		writer:     d.Writer,
		metrics:    d.Metrics,
		gatherer:   d.Gatherer,
		clock:      d.Clock,
		mux:        http.NewServeMux(),
		classifier: classify.Classifier{MinTimedDuration: cal.MinTimedDuration.Std()},
		expandOpts: recur.Options{MaxOccurrences: cal.MaxOccurrences},
		cache:      cache,
		cacheTTL:   cal.ResponseCacheTTL.Std(),
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := s.instrument(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials disable it.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg.BasicAuth == nil {
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
			w.Header().Set("WWW-Authenticate", `Basic realm="plancal", charset="UTF-8"`)
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

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records latency per matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(route, strconv.Itoa(rec.code), time.Since(start))
	})
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
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
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/occurrences", s.handleOccurrences)
	s.mux.HandleFunc("GET /api/gantt", s.handleGantt)
	s.mux.HandleFunc("POST /api/reschedule", s.handleReschedule)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /calendar.ics", s.handleICS)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// cached serves key from the response cache, or renders, stores and serves
// it.
func (s *Server) cached(w http.ResponseWriter, key string, render func() ([]byte, string, error)) {
	now := s.clock.Now()
	if e, ok := s.cache.Get(key); ok && now.Sub(e.storedAt) < s.cacheTTL {
		s.metrics.CacheLookup(true)
		writeRaw(w, http.StatusOK, e.contentType, e.body)
		return
	}
	s.metrics.CacheLookup(false)

	body, ct, err := render()
	if err != nil {
		appLog.Error("render failed", err, "key", key)
		writeError(w, http.StatusInternalServerError, "failed to render response")
		return
	}
	s.cache.Add(key, cachedResponse{body: body, contentType: ct, storedAt: now})
	writeRaw(w, http.StatusOK, ct, body)
}

// statusFor maps domain errors to HTTP status codes. Anything unknown is
// treated as an upstream failure.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, reschedule.ErrInvalidRange),
		errors.Is(err, model.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

var errNotFound = errors.New("not found")

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

func writeRaw(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		appLog.Error("failed to write response", err)
	}
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
