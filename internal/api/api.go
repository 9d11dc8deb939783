// Package api binds the core pipeline to its thin request/response
// contract. The wider transport surface (auth, GraphQL, dashboard) is an
// external collaborator; this package implements only the handlers whose
// request/response shapes the core fixes, routed with go-chi/chi:
// struct-method handlers registered against a *chi.Mux, JSON responses
// written by a small helper.
package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/cuemby/worldpam/internal/audit"
	"github.com/cuemby/worldpam/internal/config"
	"github.com/cuemby/worldpam/internal/errs"
	"github.com/cuemby/worldpam/internal/hypothesis"
	"github.com/cuemby/worldpam/internal/metrics"
	"github.com/cuemby/worldpam/internal/ratelimit"
	"github.com/cuemby/worldpam/internal/signal"
	"github.com/cuemby/worldpam/internal/store"
	"github.com/cuemby/worldpam/internal/stream"
)

// Server binds the evaluator, signal computer, store, metrics, and rate
// limiter to HTTP handlers.
type Server struct {
	cfg       *config.Config
	evaluator *hypothesis.Evaluator
	computer  *signal.Computer
	store     store.Store
	metrics   *metrics.Collector
	limiter   *ratelimit.Limiter
	audit     *audit.Log
	streamMgr *stream.Manager
	upgrader  *stream.Upgrader
	log       zerolog.Logger
}

// NewServer constructs a Server. streamMgr/upgrader may be nil to disable
// the /stream endpoint.
func NewServer(
	cfg *config.Config,
	evaluator *hypothesis.Evaluator,
	computer *signal.Computer,
	st store.Store,
	coll *metrics.Collector,
	limiter *ratelimit.Limiter,
	auditLog *audit.Log,
	streamMgr *stream.Manager,
	upgrader *stream.Upgrader,
	log zerolog.Logger,
) *Server {
	return &Server{
		cfg: cfg, evaluator: evaluator, computer: computer, store: st,
		metrics: coll, limiter: limiter, audit: auditLog,
		streamMgr: streamMgr, upgrader: upgrader, log: log,
	}
}

// Router builds the *chi.Mux exposing the request/response API.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(s.rateLimitMiddleware)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/health", s.handleHealth)
	r.Get("/scenarios", s.handleScenarios)
	r.Get("/evaluate/{scenario}", s.handleEvaluate)
	r.Get("/history/{scenario}", s.handleHistory)
	r.Get("/signals", s.handleSignals)
	r.Get("/signals/{name}/history", s.handleSignalHistory)
	if s.streamMgr != nil && s.upgrader != nil {
		r.Get("/stream", s.handleStream)
	}
	return r
}

// principal resolves the caller identity for rate limiting and audit:
// inbound key header, then bearer subject, then client IP. Bearer subject
// extraction is left to the auth layer; this core-facing handler only
// reads the two headers it owns.
func principal(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if sub := r.Header.Get("X-Principal-Id"); sub != "" {
		return sub
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		p := principal(r)
		decision := s.limiter.Allow(p, time.Now())
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			perr := &errs.PermissionError{Reason: "rate limit exceeded"}
			if s.audit != nil {
				s.audit.Record("rate_limit", p, r.Method, r.URL.Path, store.AuditDenied, nil, r.RemoteAddr, r.UserAgent())
			}
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": perr.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Health())
}

type scenarioSummary struct {
	Name    string   `json:"name"`
	Prior   float64  `json:"prior"`
	Signals []string `json:"signals"`
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]scenarioSummary, 0, len(s.cfg.Hypotheses))
	for _, h := range s.cfg.Hypotheses {
		out = append(out, scenarioSummary{Name: h.Name, Prior: h.Prior, Signals: h.Signals})
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": out})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "scenario")
	if _, ok := s.cfg.HypothesisByName()[name]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "scenario not found"})
		return
	}

	country := r.URL.Query().Get("country")
	simulate := 0
	if raw := r.URL.Query().Get("simulate"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n <= 10000 {
			simulate = n
		}
	}

	result, err := s.evaluator.Evaluate(r.Context(), name, country, simulate)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	resp := map[string]any{
		"scenario":    name,
		"probability": result.Probability,
	}
	if country != "" {
		resp["country"] = country
	}
	signals := make([]map[string]any, 0, len(result.Contributions))
	for _, c := range result.Contributions {
		signals = append(signals, map[string]any{"name": c.SignalName, "value": c.Value, "weight": c.Weight})
	}
	resp["signals"] = signals
	if result.MCMean != nil {
		resp["monte_carlo"] = map[string]any{
			"mean":                *result.MCMean,
			"confidence_interval": map[string]float64{"low": *result.MCLo, "high": *result.MCHi},
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "scenario")
	if _, ok := s.cfg.HypothesisByName()[name]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "scenario not found"})
		return
	}
	days := intParam(r, "days", 30, 1, 365)
	country := r.URL.Query().Get("country")

	history, err := s.store.GetHypothesisHistory(name, days, country)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	resp := map[string]any{"scenario": name, "days": days, "history": history}
	if country != "" {
		resp["country"] = country
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	out := make([]map[string]any, 0, len(s.cfg.Signals))
	for _, sd := range s.cfg.Signals {
		out = append(out, map[string]any{
			"name": sd.Name, "weight": sd.Weight, "aggregation": sd.Aggregation,
			"cap": sd.Cap, "description": sd.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": out})
}

func (s *Server) handleSignalHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.cfg.SignalByName()[name]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "signal not found"})
		return
	}
	days := intParam(r, "days", 30, 1, 365)
	country := r.URL.Query().Get("country")

	history, err := s.store.GetSignalHistory(name, days, country)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "days": days, "history": history})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if err := s.upgrader.Upgrade(s.streamMgr, w, r); err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
	}
}

func intParam(r *http.Request, key string, def, min, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
