package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError collects every violation found during validation rather
// than failing on the first, so one load reports the full set of problems.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed with %d error(s):\n  - %s",
		len(e.Violations), strings.Join(e.Violations, "\n  - "))
}

// Validate cross-checks the loaded graph (name uniqueness, reference
// integrity, value ranges) and returns a *ValidationError naming every
// violation found, or nil if the document is valid.
func Validate(c *Config) error {
	var errsList []string

	sourceNames := make(map[string]bool)
	for _, s := range c.Sources {
		if s.Name == "" {
			errsList = append(errsList, "source missing name")
		} else if sourceNames[s.Name] {
			errsList = append(errsList, fmt.Sprintf("duplicate source name: %s", s.Name))
		} else {
			sourceNames[s.Name] = true
		}

		if s.URL == "" {
			errsList = append(errsList, fmt.Sprintf("source %q missing url", s.Name))
		}
		if s.Kind != "rss" && s.Kind != "atom" {
			errsList = append(errsList, fmt.Sprintf("source %q has invalid kind: %q", s.Name, s.Kind))
		}
		if s.Timeout <= 0 {
			errsList = append(errsList, fmt.Sprintf("source %q has invalid timeout: %d", s.Name, s.Timeout))
		}
	}

	signalNames := make(map[string]bool)
	for _, sig := range c.Signals {
		if sig.Name == "" {
			errsList = append(errsList, "signal missing name")
		} else if signalNames[sig.Name] {
			errsList = append(errsList, fmt.Sprintf("duplicate signal name: %s", sig.Name))
		} else {
			signalNames[sig.Name] = true
		}

		if sig.Aggregation != "sum" && sig.Aggregation != "max" {
			errsList = append(errsList, fmt.Sprintf("signal %q has invalid aggregation: %q", sig.Name, sig.Aggregation))
		}
		if sig.Cap <= 0 {
			errsList = append(errsList, fmt.Sprintf("signal %q has invalid cap: %v", sig.Name, sig.Cap))
		}
	}

	hypothesisNames := make(map[string]bool)
	for _, h := range c.Hypotheses {
		if h.Name == "" {
			errsList = append(errsList, "hypothesis missing name")
		} else if hypothesisNames[h.Name] {
			errsList = append(errsList, fmt.Sprintf("duplicate hypothesis name: %s", h.Name))
		} else {
			hypothesisNames[h.Name] = true
		}

		if h.Prior < 0 || h.Prior > 1 {
			errsList = append(errsList, fmt.Sprintf("hypothesis %q has invalid prior: %v", h.Name, h.Prior))
		}
		for _, sigName := range h.Signals {
			if !signalNames[sigName] {
				errsList = append(errsList, fmt.Sprintf("hypothesis %q references unknown signal: %s", h.Name, sigName))
			}
		}
	}

	keywordSetNames := make(map[string]bool, len(c.KeywordSets))
	for name := range c.KeywordSets {
		keywordSetNames[name] = true
	}

	for sigName, binding := range c.SignalBindings {
		if !signalNames[sigName] {
			errsList = append(errsList, fmt.Sprintf("signal binding for unknown signal: %s", sigName))
		}
		for _, srcName := range binding.Sources {
			if !sourceNames[srcName] {
				errsList = append(errsList, fmt.Sprintf("signal binding %q references unknown source: %s", sigName, srcName))
			}
		}
		for _, ksName := range binding.KeywordSets {
			if !keywordSetNames[ksName] {
				errsList = append(errsList, fmt.Sprintf("signal binding %q references unknown keyword set: %s", sigName, ksName))
			}
		}
		if binding.WindowDays <= 0 {
			errsList = append(errsList, fmt.Sprintf("signal binding %q has invalid window_days: %d", sigName, binding.WindowDays))
		}
	}

	if len(errsList) > 0 {
		return &ValidationError{Violations: errsList}
	}
	return nil
}

// hostnameOf returns the lowercased hostname of rawURL, or "" if it cannot
// be parsed or has none.
func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// stripWWW returns the host with a leading "www." removed, and whether one
// was present.
func stripWWW(host string) (string, bool) {
	const prefix = "www."
	if strings.HasPrefix(host, prefix) {
		return strings.TrimPrefix(host, prefix), true
	}
	return host, false
}
