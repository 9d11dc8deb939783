package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Sources: []Source{
			{Name: "reuters_world", URL: "https://feeds.reuters.com/reuters/worldNews", Kind: "rss", Timeout: 10},
		},
		Signals: []SignalDef{
			{Name: "border_clashes", Weight: 2.4, Aggregation: "sum", Cap: 1.0},
		},
		Hypotheses: []HypothesisDef{
			{Name: "global_war_risk", Prior: 0.05, Signals: []string{"border_clashes"}},
		},
		KeywordSets: map[string][]string{
			"border": {"border clash", "shelling"},
		},
		SignalBindings: map[string]SignalBinding{
			"border_clashes": {Sources: []string{"reuters_world"}, KeywordSets: []string{"border"}, WindowDays: 7},
		},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidateReportsEveryViolation(t *testing.T) {
	cfg := validConfig()
	cfg.Sources = append(cfg.Sources,
		Source{Name: "reuters_world", URL: "", Kind: "carrier_pigeon", Timeout: 0},
	)
	cfg.Signals = append(cfg.Signals,
		SignalDef{Name: "bad_signal", Aggregation: "median", Cap: -1},
	)
	cfg.Hypotheses = append(cfg.Hypotheses,
		HypothesisDef{Name: "bad_hyp", Prior: 1.5, Signals: []string{"no_such_signal"}},
	)

	err := Validate(cfg)
	require.Error(t, err)

	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	// duplicate source name, empty url, bad kind, bad timeout, bad
	// aggregation, bad cap, bad prior, unknown signal reference.
	assert.GreaterOrEqual(t, len(verr.Violations), 8)
	assert.Contains(t, err.Error(), "duplicate source name")
	assert.Contains(t, err.Error(), "unknown signal")
}

func TestValidateRejectsBadBindings(t *testing.T) {
	cfg := validConfig()
	cfg.SignalBindings["border_clashes"] = SignalBinding{
		Sources:     []string{"no_such_source"},
		KeywordSets: []string{"no_such_set"},
		WindowDays:  0,
	}
	cfg.SignalBindings["no_such_signal"] = SignalBinding{WindowDays: 7}

	err := Validate(cfg)
	require.Error(t, err)
	verr := err.(*ValidationError)
	assert.GreaterOrEqual(t, len(verr.Violations), 4)
}

func TestAllowedHostsIncludesWWWStrippedVariant(t *testing.T) {
	cfg := &Config{Sources: []Source{
		{Name: "iaea_news", URL: "https://www.iaea.org/rss/news", Kind: "rss", Timeout: 10},
	}}
	hosts := cfg.AllowedHosts()
	assert.True(t, hosts["www.iaea.org"])
	assert.True(t, hosts["iaea.org"])
}

func TestLoaderRoundTripAndCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worldpam.json")
	require.NoError(t, WriteDefault(path))

	l := NewLoader()
	first, err := l.Load(path)
	require.NoError(t, err)
	require.NotEmpty(t, first.Sources)

	second, err := l.Load(path)
	require.NoError(t, err)
	assert.Same(t, first, second, "unchanged file must be served from cache")
}

func TestLoaderReloadsWhenFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worldpam.json")
	require.NoError(t, WriteDefault(path))

	l := NewLoader()
	first, err := l.Load(path)
	require.NoError(t, err)

	// Rewrite with a future mtime so the cache key changes even on
	// coarse-grained filesystems.
	require.NoError(t, WriteDefault(path))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	second, err := l.Load(path)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestLoaderRejectsMissingAndMalformedFiles(t *testing.T) {
	l := NewLoader()
	_, err := l.Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = l.Load(bad)
	assert.Error(t, err)
}

func TestLoaderRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sources":[{"name":"x","url":"","type":"rss","timeout":0}]}`), 0o644))

	_, err := NewLoader().Load(path)
	assert.Error(t, err)
}
