// Package config loads and validates the declarative source/signal/
// hypothesis graph that drives the rest of the pipeline. The loaded graph is
// immutable after load; a reload replaces the pointer atomically so
// in-flight evaluations keep using the snapshot they started with.
package config

// Source is a named RSS or Atom feed endpoint. Config-only, not persisted.
type Source struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Kind    string `json:"type"`
	Timeout int    `json:"timeout"` // seconds
}

// SignalDef describes how a signal's raw score aggregates and clamps.
type SignalDef struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Aggregation string  `json:"aggregation"` // "sum" or "max"
	Cap         float64 `json:"cap"`
	Description string  `json:"description,omitempty"`
}

// HypothesisDef describes a named probability composed from signals.
type HypothesisDef struct {
	Name    string   `json:"name"`
	Prior   float64  `json:"prior"`
	Signals []string `json:"signals"`
}

// SignalBinding maps a signal name to the sources, keyword sets, and time
// window that compute it.
type SignalBinding struct {
	Sources     []string `json:"sources"`
	KeywordSets []string `json:"keyword_sets"`
	WindowDays  int      `json:"window_days"`
}

// Config is the full declarative graph loaded from the JSON config file.
type Config struct {
	Sources        []Source                 `json:"sources"`
	Signals        []SignalDef              `json:"signals"`
	Hypotheses     []HypothesisDef          `json:"hypotheses"`
	KeywordSets    map[string][]string      `json:"keyword_sets"`
	SignalBindings map[string]SignalBinding `json:"signal_bindings"`

	// StrictDates, when true, rejects items with unparseable publish dates
	// and no year/month hint instead of admitting them. Defaults to false
	// (permissive).
	StrictDates bool `json:"strict_dates,omitempty"`
}

// Indexed views used by the rest of the pipeline. Each call builds a fresh
// map from the underlying slices; nothing is cached.

// SourceByName returns the source map.
func (c *Config) SourceByName() map[string]Source {
	m := make(map[string]Source, len(c.Sources))
	for _, s := range c.Sources {
		m[s.Name] = s
	}
	return m
}

// SignalByName returns the signal definition map.
func (c *Config) SignalByName() map[string]SignalDef {
	m := make(map[string]SignalDef, len(c.Signals))
	for _, s := range c.Signals {
		m[s.Name] = s
	}
	return m
}

// HypothesisByName returns the hypothesis definition map.
func (c *Config) HypothesisByName() map[string]HypothesisDef {
	m := make(map[string]HypothesisDef, len(c.Hypotheses))
	for _, h := range c.Hypotheses {
		m[h.Name] = h
	}
	return m
}

// AllowedHosts derives the SSRF whitelist from the configured sources: each
// source hostname plus its www.-stripped variant.
func (c *Config) AllowedHosts() map[string]bool {
	hosts := make(map[string]bool)
	for _, s := range c.Sources {
		h := hostnameOf(s.URL)
		if h == "" {
			continue
		}
		hosts[h] = true
		if stripped, ok := stripWWW(h); ok {
			hosts[stripped] = true
		}
	}
	return hosts
}
