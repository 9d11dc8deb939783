package registry

import (
	"io"
	"testing"
	"time"

	"github.com/cuemby/worldpam/internal/config"
	"github.com/cuemby/worldpam/internal/eventbus"
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

func TestNewWiresEveryComponent(t *testing.T) {
	r := New(Options{
		Config:  testConfig(),
		Store:   store.NewMem(),
		Log:     testLogger(),
		RNGSeed: 42,
	})

	assert.NotNil(t, r.Fetcher)
	assert.NotNil(t, r.Computer)
	assert.NotNil(t, r.Evaluator)
	assert.NotNil(t, r.Bus)
	assert.NotNil(t, r.Detector)
	assert.NotNil(t, r.Alerts)
	assert.NotNil(t, r.Scheduler)
	assert.NotNil(t, r.Limiter)
	assert.NotNil(t, r.Audit)
	assert.NotNil(t, r.Stream)
}

func TestStartStopClosesStoreAndStopsScheduler(t *testing.T) {
	r := New(Options{
		Config: testConfig(),
		Store:  store.NewMem(),
		Log:    testLogger(),
	})
	r.Start()
	r.ScheduleIngestion(time.Hour)

	require.NoError(t, r.Stop())

	_, ok := r.Scheduler.JobStatus("ingest:global_war_risk")
	assert.False(t, ok, "StopAll must clear scheduled jobs")
}

func TestScheduleIngestionEvaluatesImmediatelyAndPublishes(t *testing.T) {
	r := New(Options{
		Config: testConfig(),
		Store:  store.NewMem(),
		Log:    testLogger(),
	})
	r.Start()
	defer r.Stop()

	received := make(chan eventbus.Event, 1)
	r.Bus.Subscribe(eventbus.KindEvaluationUpdate, func(ev eventbus.Event) error {
		received <- ev
		return nil
	})

	r.ScheduleIngestion(time.Hour)

	select {
	case ev := <-received:
		require.NotNil(t, ev.Eval)
		assert.Equal(t, "global_war_risk", ev.Eval.HypothesisName)
	case <-time.After(time.Second):
		t.Fatal("expected an immediate evaluation_update on ScheduleIngestion")
	}
}
