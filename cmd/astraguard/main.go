// Package main — cmd/astraguard/main.go
//
// AstraGuard service entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/astraguard/config.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Open BoltDB storage, prune stale ledger entries, and start the
//     ledger retention goroutine.
//  4. Load the mission-phase policy document into the policy engine.
//  5. Construct the health monitor, anomaly detector (loading any
//     baselines from the seed file) and state machine.
//  6. Start the Prometheus metrics server (127.0.0.1:9091 by default).
//  7. Construct the history, recurrence index and feedback journal.
//  8. Wire the Phase-Aware Handler over all of the above.
//  9. Start the HTTP API server.
// 10. Register SIGHUP handler for mission-phase policy hot-reload.
// 11. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel the root context (propagates to all goroutines).
//  2. Close BoltDB.
//  3. Flush the logger.
//  4. Exit 0.
//
// On config validation failure or BoltDB open failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/astraguard/astraguard/internal/anomaly"
	"github.com/astraguard/astraguard/internal/api"
	"github.com/astraguard/astraguard/internal/config"
	"github.com/astraguard/astraguard/internal/escalation"
	"github.com/astraguard/astraguard/internal/feedback"
	"github.com/astraguard/astraguard/internal/governance"
	"github.com/astraguard/astraguard/internal/handler"
	"github.com/astraguard/astraguard/internal/history"
	"github.com/astraguard/astraguard/internal/observability"
	"github.com/astraguard/astraguard/internal/policy"
	"github.com/astraguard/astraguard/internal/reliability"
	"github.com/astraguard/astraguard/internal/storage"
)

func main() {
	configPath := flag.String("config", "/etc/astraguard/config.yaml", "Path to config.yaml")
	printVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("astraguard %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("AstraGuard starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(cfg.Storage.DBPath, cfg.Storage.RetentionWindow)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err), zap.String("path", cfg.Storage.DBPath))
	}
	defer db.Close() //nolint:errcheck
	log.Info("BoltDB opened", zap.String("path", cfg.Storage.DBPath))

	if pruned, err := db.PruneOldLedgerEntries(); err != nil {
		log.Warn("ledger pruning failed", zap.Error(err))
	} else {
		log.Info("ledger pruned", zap.Int("deleted", pruned))
	}
	go db.RunRetentionLoop(ctx, 0)

	initialPolicy, err := policy.LoadPhasePolicy(cfg.Policy.PolicyFile)
	if err != nil {
		log.Fatal("mission phase policy load failed", zap.Error(err), zap.String("path", cfg.Policy.PolicyFile))
	}
	policyEngine := policy.NewEngine(initialPolicy)
	log.Info("mission phase policy loaded", zap.String("path", cfg.Policy.PolicyFile), zap.Int("phases", len(initialPolicy.Phases)))

	health := reliability.NewHealthMonitor()
	detector := anomaly.NewDetector(log, health)
	if cfg.Detector.BaselineFile != "" {
		loadBaselinesFromFile(detector, db, cfg.Detector.BaselineFile, log)
	}

	stateMachine := escalation.NewStateMachine()

	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	hist := history.New(cfg.History.Capacity)
	recurrence := handler.NewRecurrenceIndex(cfg.History.RecurrenceWindow)
	journal := feedback.Open(cfg.Feedback.JournalPath, log)

	h := handler.New(stateMachine, policyEngine, recurrence, hist, journal, metrics, log)
	h.SetAuditLedger(governance.NewGuard(log, false), db)

	apiSrv := api.New(detector, h, stateMachine, hist, health, cfg.API.APIKey, cfg.API.MaxBatchSize, log)
	go func() {
		if err := apiSrv.ListenAndServe(ctx, cfg.API.ListenAddr); err != nil {
			log.Error("api server error", zap.Error(err))
		}
	}()
	log.Info("api server started", zap.String("addr", cfg.API.ListenAddr))

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading mission phase policy")
			candidate, err := policy.LoadPhasePolicy(cfg.Policy.PolicyFile)
			if err != nil {
				log.Error("policy hot-reload failed — retaining old policy", zap.Error(err))
				continue
			}
			if err := policyEngine.Reload(candidate); err != nil {
				log.Error("policy hot-reload validation failed — retaining old policy", zap.Error(err))
				continue
			}
			log.Info("policy hot-reload successful", zap.Int("phases", len(candidate.Phases)))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	log.Info("AstraGuard shutdown complete")
}

// loadBaselinesFromFile reads a JSON array of storage.BaselineRecord from
// path, installs each into both the detector (in-memory) and the BoltDB
// baselines bucket (durable), per §4.8.
func loadBaselinesFromFile(detector *anomaly.Detector, db *storage.DB, path string, log *zap.Logger) {
	recs, err := storage.ReadBaselineSeedFile(path)
	switch {
	case err != nil && len(recs) == 0:
		log.Warn("baseline seed file load failed, starting with no native baselines", zap.Error(err), zap.String("path", path))
		return
	case err != nil:
		log.Warn("baseline seed file had rejected records (schema_version mismatch), loading the remaining valid ones", zap.Error(err), zap.String("path", path))
	}
	for _, rec := range recs {
		baseline := anomaly.Baseline{
			SatelliteID:      rec.SatelliteID,
			MeanVector:       rec.MeanVector,
			CovarianceMatrix: rec.CovarianceMatrix,
			SampleCount:      rec.SampleCount,
		}
		detector.LoadBaseline(&baseline)
		if err := db.PutBaseline(rec); err != nil {
			log.Warn("baseline durable write failed", zap.Error(err), zap.String("satellite_id", rec.SatelliteID))
		}
	}
	log.Info("native baselines loaded", zap.Int("count", len(recs)))
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return zcfg.Build()
}
