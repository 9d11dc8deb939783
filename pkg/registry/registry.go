// Package registry is the explicit service registry constructed at process
// startup and threaded through every long-lived component: all wiring in
// one place, no ambient package-level singletons. Tests construct their own
// Registry.
package registry

import (
	"context"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cuemby/worldpam/internal/alert"
	"github.com/cuemby/worldpam/internal/audit"
	"github.com/cuemby/worldpam/internal/changedetect"
	"github.com/cuemby/worldpam/internal/config"
	"github.com/cuemby/worldpam/internal/eventbus"
	"github.com/cuemby/worldpam/internal/fetch"
	"github.com/cuemby/worldpam/internal/hypothesis"
	"github.com/cuemby/worldpam/internal/metrics"
	"github.com/cuemby/worldpam/internal/ratelimit"
	"github.com/cuemby/worldpam/internal/scheduler"
	"github.com/cuemby/worldpam/internal/signal"
	"github.com/cuemby/worldpam/internal/store"
	"github.com/cuemby/worldpam/internal/stream"
)

// Registry owns one instance of every long-lived service, wired together at
// construction time. Every field is safe for concurrent use.
type Registry struct {
	Config    *config.Config
	Store     store.Store
	Metrics   *metrics.Collector
	Fetcher   *fetch.Fetcher
	Computer  *signal.Computer
	Evaluator *hypothesis.Evaluator
	Bus       *eventbus.Bus
	Detector  *changedetect.Detector
	Alerts    *alert.Engine
	Scheduler *scheduler.Scheduler
	Limiter   *ratelimit.Limiter
	Audit     *audit.Log
	Stream    *stream.Manager
	Log       zerolog.Logger
}

// Options controls construction.
type Options struct {
	Config       *config.Config
	Store        store.Store
	Log          zerolog.Logger
	RNGSeed      uint64 // 0 picks a process-random seed
	AlertRingCap int
	RateLimit    ratelimit.Config
}

// New constructs a fully wired Registry. No background loops are started;
// call Start to begin the scheduler and event bus dispatch.
func New(opts Options) *Registry {
	metrics.MustRegister(prometheus.DefaultRegisterer)

	coll := metrics.New()
	allowedHosts := opts.Config.AllowedHosts()
	fetcher := fetch.New(allowedHosts, coll, opts.Log)
	computer := signal.New(opts.Config, fetcher, opts.Store)

	var rng *rand.Rand
	if opts.RNGSeed != 0 {
		rng = rand.New(rand.NewSource(int64(opts.RNGSeed)))
	}
	evaluator := hypothesis.New(opts.Config, computer, opts.Store, rng)

	bus := eventbus.New(opts.Log)
	detector := changedetect.New(bus)
	computer.SetDetector(detector)
	alertEngine := alert.New(opts.Log, opts.AlertRingCap)
	streamMgr := stream.NewManager(opts.Log)

	return &Registry{
		Config:    opts.Config,
		Store:     opts.Store,
		Metrics:   coll,
		Fetcher:   fetcher,
		Computer:  computer,
		Evaluator: evaluator,
		Bus:       bus,
		Detector:  detector,
		Alerts:    alertEngine,
		Scheduler: scheduler.New(opts.Log),
		Limiter:   ratelimit.New(opts.RateLimit),
		Audit:     audit.New(opts.Store),
		Stream:    streamMgr,
		Log:       opts.Log,
	}
}

// Start begins the event bus dispatch loop and subscribes the alert engine
// and stream manager to it. The scheduler is driven separately via
// ScheduleIngestion/ScheduleMaintenance so callers can choose which jobs to
// run (the CLI's one-shot evaluation mode needs neither).
func (r *Registry) Start() {
	r.Bus.Start()
	r.Alerts.Subscribe(r.Bus)
	r.Stream.Subscribe(r.Bus)
}

// Stop halts the event bus and every scheduled job, then closes the store.
func (r *Registry) Stop() error {
	r.Scheduler.StopAll()
	r.Bus.Stop()
	return r.Store.Close()
}

// ScheduleIngestion registers one periodic re-ingestion job per configured
// hypothesis, each computing every signal the hypothesis depends on (which
// has the side effect of refreshing FeedItem/SignalValue/SourceStatus rows)
// and publishing a signal_update/evaluation_update event for every
// observation, driving both the alert engine and the stream fan-out.
func (r *Registry) ScheduleIngestion(interval time.Duration) {
	for _, h := range r.Config.Hypotheses {
		hypName := h.Name
		r.Scheduler.ScheduleEvery("ingest:"+hypName, interval, func(ctx context.Context) error {
			result, err := r.Evaluator.Evaluate(ctx, hypName, "", 0)
			if err != nil {
				return err
			}
			for _, c := range result.Contributions {
				r.Bus.Publish(eventbus.Event{
					Kind:     eventbus.KindSignalUpdate,
					Scenario: hypName,
					Signal:   &eventbus.SignalUpdate{SignalName: c.SignalName, Value: c.Value},
				})
			}
			r.Bus.Publish(eventbus.Event{
				Kind:     eventbus.KindEvaluationUpdate,
				Scenario: hypName,
				Eval:     &eventbus.EvaluationUpdate{HypothesisName: hypName, Probability: result.Probability},
			})
			return nil
		}, true)
	}
}

// ScheduleMaintenance registers the retention-cleanup and backup job
// derivatives built on top of the scheduler primitive.
func (r *Registry) ScheduleMaintenance(retentionDays int, retentionInterval time.Duration, dbPath, backupDir string, backupInterval time.Duration, keepBackups int) {
	r.Scheduler.ScheduleEvery("retention", retentionInterval, scheduler.NewRetentionJob(r.Store, retentionDays), false)
	if dbPath != "" && backupDir != "" {
		r.Scheduler.ScheduleEvery("backup", backupInterval, scheduler.NewBackupJob(dbPath, backupDir, keepBackups), false)
	}
}
