package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/worldpam/internal/config"
	"github.com/cuemby/worldpam/internal/fetch"
	"github.com/cuemby/worldpam/internal/hypothesis"
	"github.com/cuemby/worldpam/internal/metrics"
	"github.com/cuemby/worldpam/internal/ratelimit"
	"github.com/cuemby/worldpam/internal/signal"
	"github.com/cuemby/worldpam/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() *config.Config {
	return &config.Config{
		Sources: []config.Source{{Name: "reuters_world", URL: "http://example.com/rss", Kind: "rss", Timeout: 5}},
		Signals: []config.SignalDef{{Name: "mobilization_indicators", Aggregation: "sum", Cap: 1.0}},
		KeywordSets: map[string][]string{
			"mobilization": {"mobiliz"},
		},
		SignalBindings: map[string]config.SignalBinding{
			"mobilization_indicators": {Sources: []string{"reuters_world"}, KeywordSets: []string{"mobilization"}, WindowDays: 30},
		},
		Hypotheses: []config.HypothesisDef{
			{Name: "global_war_risk", Prior: 0.05, Signals: []string{"mobilization_indicators"}},
		},
	}
}

func testServer(t *testing.T, limiter *ratelimit.Limiter) (*Server, store.Store) {
	t.Helper()
	cfg := testConfig()
	st := store.NewMem()
	coll := metrics.New()
	fetcher := fetch.New(cfg.AllowedHosts(), coll, testLogger())
	computer := signal.New(cfg, fetcher, st)
	evaluator := hypothesis.New(cfg, computer, st, nil)

	return NewServer(cfg, evaluator, computer, st, coll, limiter, nil, nil, nil, testLogger()), st
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHandleHealthReturnsStatus(t *testing.T) {
	s, _ := testServer(t, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Contains(t, body, "status")
}

func TestHandleScenariosListsConfiguredHypotheses(t *testing.T) {
	s, _ := testServer(t, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/scenarios")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string][]map[string]any
	decodeBody(t, resp, &body)
	require.Len(t, body["scenarios"], 1)
	assert.Equal(t, "global_war_risk", body["scenarios"][0]["name"])
}

func TestHandleEvaluateUnknownScenario404s(t *testing.T) {
	s, _ := testServer(t, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/evaluate/no_such_scenario")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleEvaluateKnownScenario(t *testing.T) {
	s, _ := testServer(t, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/evaluate/global_war_risk")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, "global_war_risk", body["scenario"])
	assert.Contains(t, body, "probability")
}

func TestHandleSignalsListsConfiguredSignals(t *testing.T) {
	s, _ := testServer(t, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/signals")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string][]map[string]any
	decodeBody(t, resp, &body)
	require.Len(t, body["signals"], 1)
	assert.Equal(t, "mobilization_indicators", body["signals"][0]["name"])
}

func TestHandleSignalHistoryUnknownSignal404s(t *testing.T) {
	s, _ := testServer(t, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/signals/no_such_signal/history")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimitMiddlewareDeniesOverQuota(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{PerMinute: 1, PerHour: 100})
	s, _ := testServer(t, limiter)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	first, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	first.Body.Close()

	second, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	second.Body.Close()
}

func TestStreamRouteAbsentWithoutManager(t *testing.T) {
	s, _ := testServer(t, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
