// Package main provides the offline pipeline binary: cleaning, feature
// engineering and the forecasting dataset.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pm25forecast/pm25forecast/internal/airquality"
	"github.com/pm25forecast/pm25forecast/internal/cleaning"
	"github.com/pm25forecast/pm25forecast/internal/config"
	"github.com/pm25forecast/pm25forecast/internal/features"
	"github.com/pm25forecast/pm25forecast/internal/logging"
	"github.com/pm25forecast/pm25forecast/internal/sequence"
	"github.com/pm25forecast/pm25forecast/internal/storage"
	"github.com/pm25forecast/pm25forecast/internal/table"
	"github.com/pm25forecast/pm25forecast/internal/telemetry"
)

// Version is set at compile time via ldflags.
var Version = "dev"

const usage = "usage: pipeline {clean|features|dataset} [flags]"

// featuresTable receives the featured history when saving to the database.
const featuresTable = "history_features"

type options struct {
	saveToDB   bool
	individual bool
	lstm       bool
	city       string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	stage := os.Args[1]

	fs := flag.NewFlagSet(stage, flag.ExitOnError)
	var opts options
	fs.BoolVar(&opts.saveToDB, "db", false, "also write outputs to the database")
	fs.BoolVar(&opts.individual, "individual", false, "clean: also write per-file processed outputs")
	fs.BoolVar(&opts.lstm, "lstm", true, "clean: export cleaned data for the forecasting model")
	fs.StringVar(&opts.city, "city", "", "dataset: city to build (default: first city)")
	_ = fs.Parse(os.Args[2:])

	switch stage {
	case "clean", "features", "dataset":
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(stage, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(stage string, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closer, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Dir:     cfg.Log.Dir,
		Service: "pm25forecast-pipeline",
		Version: Version,
	}, stage)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *storage.Store
	if opts.saveToDB {
		metrics, err := telemetry.NewPipelineMetrics()
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		store, err = storage.Open(ctx, cfg.Database, log, metrics)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()
	}

	switch stage {
	case "clean":
		return clean(ctx, cfg, opts, store, log)
	case "features":
		return buildFeatures(ctx, cfg, store, log)
	default:
		return buildDataset(cfg, opts.city, log)
	}
}

func clean(ctx context.Context, cfg *config.Config, opts options, store *storage.Store, log zerolog.Logger) error {
	rc := cleaning.RunnerConfig{
		OutputDir:      cfg.Paths.ProcessedDir,
		SaveIndividual: opts.individual,
		Logger:         log,
	}
	if store != nil {
		rc.Store = store
	}
	runner := cleaning.NewRunner(rc)

	dirs := []struct {
		kind airquality.Kind
		dir  string
	}{
		{airquality.KindHistory, cfg.Paths.RawDir},
		{airquality.KindRealtime, cfg.Paths.NewRawDir},
	}

	cleaned := 0
	for _, d := range dirs {
		report, err := runner.CleanDirectory(ctx, d.kind, d.dir)
		if err != nil {
			log.Warn().Err(err).Str("kind", string(d.kind)).Msg("directory not cleaned")
			continue
		}
		cleaned++
		fmt.Printf("%s: %d files (%d failed), %d merged, %d duplicates removed -> %s\n",
			d.kind, len(report.Files), report.Failed(), report.Merged, report.Eliminated, report.MergedPath)
	}
	if cleaned == 0 {
		return fmt.Errorf("nothing cleaned: %w", cleaning.ErrNoInput)
	}

	if opts.lstm {
		path, n, err := cleaning.ExportLSTM(cfg.Paths.ProcessedDir, cfg.Paths.LSTMDir, time.Now())
		if err != nil {
			return fmt.Errorf("export lstm data: %w", err)
		}
		log.Info().Str("file", path).Int("rows", n).Msg("lstm data exported")
	}
	return nil
}

func buildFeatures(ctx context.Context, cfg *config.Config, store *storage.Store, log zerolog.Logger) error {
	records, path, err := cleaning.LoadMerged(cfg.Paths.ProcessedDir, airquality.KindHistory)
	if err != nil {
		return err
	}
	observations, dropped := features.FromCleaned(records)
	log.Info().Str("file", path).Int("observations", len(observations)).Int("dropped", dropped).Msg("history loaded")

	fc := features.DefaultConfig()
	fc.Logger = log
	result := features.NewEngine(fc).Run(observations)

	featured := result.Table()
	outputs := []struct {
		name string
		t    *table.Table
	}{
		{"pm25_with_features.csv", featured},
		{"policy_effects_analysis.csv", result.PolicyEffectsTable()},
	}
	for _, o := range outputs {
		out := filepath.Join(cfg.Paths.FeaturesDir, o.name)
		if err := table.WriteCSVFile(out, o.t, false); err != nil {
			return fmt.Errorf("write %s: %w", o.name, err)
		}
		log.Info().Str("file", out).Int("rows", o.t.Len()).Msg("features written")
	}

	if store != nil {
		n, err := store.Save(ctx, featuresTable, featured)
		if err != nil {
			log.Error().Err(err).Str("table", featuresTable).Int("inserted", n).Msg("failed to save features")
		}
	}

	fmt.Printf("%d records, %d cities, %d pollution events\n", len(result.Records), len(result.Cities), result.Events)
	return nil
}

func buildDataset(cfg *config.Config, city string, log zerolog.Logger) error {
	records, path, err := cleaning.LoadMerged(cfg.Paths.ProcessedDir, airquality.KindHistory)
	if err != nil {
		return err
	}
	if city == "" {
		names := sequence.Cities(records)
		if len(names) == 0 {
			return fmt.Errorf("%s: no cities", path)
		}
		city = names[0]
	}

	frame, err := sequence.CityFrame(records, city)
	if err != nil {
		return err
	}

	builder := sequence.NewBuilder(sequence.BuilderConfig{
		Lookback: cfg.Dataset.Lookback,
		Ratios: sequence.Ratios{
			Train: cfg.Dataset.TrainRatio,
			Val:   cfg.Dataset.ValRatio,
			Test:  cfg.Dataset.TestRatio,
		},
		Dir:    cfg.Paths.DatasetDir,
		Logger: log,
	})
	dataset, err := builder.Build(frame)
	if err != nil {
		return fmt.Errorf("build dataset for %s: %w", city, err)
	}

	paths, err := dataset.WriteSamples(cfg.Paths.DatasetDir)
	if err != nil {
		return err
	}
	log.Info().Str("city", city).Strs("files", paths).Str("summary", dataset.Summary()).Msg("dataset written")
	fmt.Printf("%s: %s (lookback %d)\n", city, dataset.Summary(), dataset.Lookback)
	return nil
}
