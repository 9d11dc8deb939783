// Command worldpam is the single-binary CLI for the geopolitical risk
// scoring engine: it evaluates hypotheses against live feed signals, prints
// history and health, manages the embedded store, and can optionally serve
// the request/response API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/worldpam/internal/api"
	"github.com/cuemby/worldpam/internal/config"
	"github.com/cuemby/worldpam/internal/errs"
	"github.com/cuemby/worldpam/internal/logging"
	"github.com/cuemby/worldpam/internal/store"
	"github.com/cuemby/worldpam/internal/stream"
	"github.com/cuemby/worldpam/pkg/registry"
)

// Version is set via ldflags at build time.
var Version = "dev"

type flags struct {
	configPath string
	init       bool
	list       bool
	scenario   string
	country    string
	simulate   int
	explain    bool
	runAll     bool
	health     bool
	dbPath     string
	export     string
	history    string
	stats      bool
	cleanup    int
	verbose    bool
	quiet      bool
	logFile    string
	serve      bool
	addr       string
}

func main() {
	f := &flags{}
	root := &cobra.Command{
		Use:     "worldpam",
		Short:   "Geopolitical risk scoring engine",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}

	root.Flags().StringVar(&f.configPath, "config", "worldpam.json", "path to the declarative config file")
	root.Flags().BoolVar(&f.init, "init", false, "write a default config to --config and exit")
	root.Flags().BoolVar(&f.list, "list", false, "print hypothesis names and exit")
	root.Flags().StringVar(&f.scenario, "scenario", "", "hypothesis name to evaluate")
	root.Flags().StringVar(&f.country, "country", "", "country keyword to append to the signal computation")
	root.Flags().IntVar(&f.simulate, "simulate", 0, "Monte Carlo trial count (0 = deterministic)")
	root.Flags().BoolVar(&f.explain, "explain", false, "print per-signal contributions")
	root.Flags().BoolVar(&f.runAll, "run-all", false, "evaluate every configured hypothesis")
	root.Flags().BoolVar(&f.health, "health", false, "print the health verdict JSON and exit")
	root.Flags().StringVar(&f.dbPath, "db-path", "worldpam.db", "path to the embedded database file")
	root.Flags().StringVar(&f.export, "export", "", "export feed items + source status to this JSON path and exit")
	root.Flags().StringVar(&f.history, "history", "", "print stored history for this hypothesis name and exit")
	root.Flags().BoolVar(&f.stats, "stats", false, "print metrics summary JSON and exit")
	root.Flags().IntVar(&f.cleanup, "cleanup", -1, "delete rows older than this many days and exit")
	root.Flags().BoolVar(&f.verbose, "verbose", false, "debug-level logging")
	root.Flags().BoolVar(&f.quiet, "quiet", false, "error-level logging only")
	root.Flags().StringVar(&f.logFile, "log-file", "", "write logs to this file instead of stdout")
	root.Flags().BoolVar(&f.serve, "serve", false, "serve the request/response API instead of running one-shot")
	root.Flags().StringVar(&f.addr, "addr", ":8080", "listen address when --serve is set")

	cobra.OnInitialize(func() { initLogging(f) })

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := err.(usageError); ok {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// usageError marks the "no scenario given" case, exit code 2; every other
// failure path (config load/validation, store, internal) exits 1.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func initLogging(f *flags) {
	level := logging.InfoLevel
	if f.verbose {
		level = logging.DebugLevel
	}
	if f.quiet {
		level = logging.ErrorLevel
	}

	out := os.Stdout
	if f.logFile != "" {
		file, err := os.OpenFile(f.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			out = file
		}
	}
	logging.Init(logging.Config{Level: level, JSONOutput: f.logFile != "", Output: out})
}

func run(f *flags) error {
	log := logging.WithComponent("cli")

	if f.init {
		if err := config.WriteDefault(f.configPath); err != nil {
			return err
		}
		fmt.Printf("wrote default config to %s\n", f.configPath)
		return nil
	}

	cfg, err := config.NewLoader().Load(f.configPath)
	if err != nil {
		return err
	}

	if f.list {
		for _, h := range cfg.Hypotheses {
			fmt.Println(h.Name)
		}
		return nil
	}

	st, err := store.Open(f.dbPath)
	if err != nil {
		return &errs.StoreError{Op: "open", Err: err}
	}
	defer st.Close()

	reg := registry.New(registry.Options{Config: cfg, Store: st, Log: log})
	reg.Start()
	defer reg.Stop()

	switch {
	case f.export != "":
		return st.ExportToJSON(f.export, 30)

	case f.cleanup >= 0:
		counts, err := st.CleanupOldData(f.cleanup)
		if err != nil {
			return &errs.StoreError{Op: "cleanup", Err: err}
		}
		return printJSON(counts)

	case f.history != "":
		hist, err := st.GetHypothesisHistory(f.history, 30, f.country)
		if err != nil {
			return &errs.StoreError{Op: "history", Err: err}
		}
		return printJSON(hist)

	case f.health:
		return printJSON(reg.Metrics.Health())

	case f.stats:
		return printJSON(map[string]any{
			"metrics":    reg.Metrics.Snapshot(),
			"cache_size": reg.Fetcher.CacheSize(),
		})

	case f.serve:
		return serve(f, reg, log)

	case f.runAll:
		for _, h := range cfg.Hypotheses {
			if err := evaluateAndPrint(f, reg, h.Name); err != nil {
				return err
			}
		}
		return nil

	case f.scenario != "":
		return evaluateAndPrint(f, reg, f.scenario)

	default:
		return usageError{msg: "no scenario given: pass --scenario, --run-all, --list, --init, --health, --stats, --history, --export, --cleanup, or --serve"}
	}
}

func evaluateAndPrint(f *flags, reg *registry.Registry, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := reg.Evaluator.Evaluate(ctx, name, f.country, f.simulate)
	if err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return &errs.InternalError{Err: err}
	}

	out := map[string]any{"scenario": name, "probability": result.Probability}
	if f.country != "" {
		out["country"] = f.country
	}
	if f.explain {
		contributions := make([]map[string]any, 0, len(result.Contributions))
		for _, c := range result.Contributions {
			contributions = append(contributions, map[string]any{
				"signal": c.SignalName, "value": c.Value, "weight": c.Weight, "contribution": c.Weight * c.Value,
			})
		}
		out["contributions"] = contributions
	}
	if result.MCMean != nil {
		out["monte_carlo"] = map[string]any{"mean": *result.MCMean, "ci_low": *result.MCLo, "ci_high": *result.MCHi}
	}
	return printJSON(out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serve(f *flags, reg *registry.Registry, log zerolog.Logger) error {
	reg.ScheduleIngestion(15 * time.Minute)
	reg.ScheduleMaintenance(90, 24*time.Hour, f.dbPath, f.dbPath+".backups", 24*time.Hour, 7)

	srv := api.NewServer(reg.Config, reg.Evaluator, reg.Computer, reg.Store, reg.Metrics, reg.Limiter, reg.Audit, reg.Stream, stream.NewUpgrader(), log)
	httpSrv := &http.Server{Addr: f.addr, Handler: srv.Router()}

	go func() {
		log.Info().Str("addr", f.addr).Msg("serving worldpam API")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}
