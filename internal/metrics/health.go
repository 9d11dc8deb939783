package metrics

import "time"

// Verdict is the derived health status.
type Verdict string

const (
	Healthy   Verdict = "healthy"
	Degraded  Verdict = "degraded"
	Unhealthy Verdict = "unhealthy"
)

// Health is the JSON shape served at GET /health.
type Health struct {
	Status    Verdict   `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	ErrorRate float64   `json:"http_error_rate"`
	Message   string    `json:"message,omitempty"`
}

// Health derives a verdict from the trailing 5-minute window of http_success
// / http_errors counts and the mean feed_fetch duration, per the thresholds:
// unhealthy above 0.5 error rate, degraded in (0.2, 0.5] or mean fetch
// duration over 30s, healthy otherwise.
func (c *Collector) Health() Health {
	counts := c.windowCounts("http_success", "http_errors")
	success := counts["http_success"]
	errs := counts["http_errors"]
	total := success + errs

	var errorRate float64
	if total > 0 {
		errorRate = float64(errs) / float64(total)
	}

	meanFetch := c.windowMean("feed_fetch")

	status := Healthy
	message := ""
	switch {
	case errorRate > 0.5:
		status = Unhealthy
		message = "fetch error rate above 50% in the last 5 minutes"
	case errorRate > 0.2:
		status = Degraded
		message = "fetch error rate above 20% in the last 5 minutes"
	case meanFetch > 30*time.Second:
		status = Degraded
		message = "mean feed fetch duration above 30s in the last 5 minutes"
	}

	return Health{
		Status:    status,
		Timestamp: time.Now().UTC(),
		ErrorRate: errorRate,
		Message:   message,
	}
}
