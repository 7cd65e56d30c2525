// Package main provides the sync binary, which appends raw crawl CSV files
// to storage without duplicating stored rows.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pm25forecast/pm25forecast/internal/config"
	"github.com/pm25forecast/pm25forecast/internal/datasync"
	"github.com/pm25forecast/pm25forecast/internal/logging"
	"github.com/pm25forecast/pm25forecast/internal/storage"
	"github.com/pm25forecast/pm25forecast/internal/telemetry"
)

// Version is set at compile time via ldflags.
var Version = "dev"

func main() {
	target := flag.String("target", "both", "what to sync: realtime, history or both")
	dryRun := flag.Bool("dry-run", false, "report new rows without inserting them")
	flag.Parse()

	switch *target {
	case "realtime", "history", "both":
	default:
		fmt.Fprintf(os.Stderr, "unknown target %q\n", *target)
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*target, *dryRun); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(target string, dryRun bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closer, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Dir:     cfg.Log.Dir,
		Service: "pm25forecast-sync",
		Version: Version,
	}, "sync_to_db")
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Database, log, metrics)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	syncer := datasync.New(datasync.Config{
		Store:   store,
		Logger:  log,
		Metrics: metrics,
		DryRun:  dryRun,
	})

	var targets []datasync.Target
	if target == "realtime" || target == "both" {
		targets = append(targets, datasync.RealtimeTarget(cfg.Paths.NewRawDir))
	}
	if target == "history" || target == "both" {
		targets = append(targets, datasync.HistoryTarget(cfg.Paths.RawDir))
	}

	failed := 0
	for _, t := range targets {
		report, err := syncer.Sync(ctx, t)
		if err != nil {
			log.Error().Err(err).Str("target", t.Name).Msg("sync failed")
			failed++
			continue
		}
		fmt.Printf("%s -> %s: %d files, %d rows, %d new, %d inserted, %d skipped\n",
			report.Target, report.Table, len(report.Files), report.Rows, report.New, report.Inserted, report.Skipped)
		failed += report.Failed()
	}

	if failed > 0 {
		return fmt.Errorf("%d file(s) or target(s) failed to sync", failed)
	}
	return nil
}
