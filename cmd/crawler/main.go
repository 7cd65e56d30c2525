// Package main provides the crawler binary: a one-off history crawl, a
// one-off realtime crawl, or the scheduled realtime loop.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pm25forecast/pm25forecast/internal/airquality/cnemc"
	"github.com/pm25forecast/pm25forecast/internal/airquality/tianqihoubao"
	"github.com/pm25forecast/pm25forecast/internal/cities"
	"github.com/pm25forecast/pm25forecast/internal/config"
	"github.com/pm25forecast/pm25forecast/internal/crawl"
	"github.com/pm25forecast/pm25forecast/internal/logging"
	"github.com/pm25forecast/pm25forecast/internal/provider/resilience"
	"github.com/pm25forecast/pm25forecast/internal/storage"
	"github.com/pm25forecast/pm25forecast/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const usage = "usage: crawler {history|realtime|schedule}"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	mode := os.Args[1]
	switch mode {
	case "history", "realtime", "schedule":
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(mode); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(mode string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	subsystem := mode + "_crawler"
	if mode == "schedule" {
		subsystem = "realtime_crawler"
	}
	log, closer, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Dir:     cfg.Log.Dir,
		Service: "pm25forecast-crawler",
		Version: Version,
	}, subsystem)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closer.Close()

	log.Info().Str("mode", mode).Str("build_time", BuildTime).Msg("starting crawler")

	// SIGINT/SIGTERM stop the run between units; the final flush still runs.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	metrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	directory, err := cities.Load(cfg.Paths.CitiesFile, cfg.Paths.CityCodesFile)
	if err != nil {
		return fmt.Errorf("load cities: %w", err)
	}
	log.Info().Int("cities", directory.Count()).Msg("city data loaded")

	var saver crawl.Saver
	if cfg.Crawl.SaveToDB {
		store, err := storage.Open(ctx, cfg.Database, log, metrics)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()
		saver = store
	}

	registry := resilience.NewRegistry()
	newFetcher := func(name string) (*resilience.Client, error) {
		return newFetchClient(cfg, name, registry, log, metrics)
	}

	var runErr error
	switch mode {
	case "history":
		fetcher, err := newFetcher(tianqihoubao.SourceName)
		if err != nil {
			return err
		}
		crawler := crawl.NewHistoryCrawler(crawl.HistoryCrawlerConfig{
			Config:     historyConfig(cfg),
			Source:     tianqihoubao.NewClient(tianqihoubao.ClientConfig{Fetcher: fetcher}),
			SourceName: tianqihoubao.SourceName,
			Provinces:  directory.Provinces(),
			Store:      saver,
			Logger:     log,
			Metrics:    metrics,
		})
		_, runErr = crawler.Run(ctx)

	case "realtime", "schedule":
		fetcher, err := newFetcher(cnemc.SourceName)
		if err != nil {
			return err
		}
		crawler := crawl.NewRealtimeCrawler(crawl.RealtimeCrawlerConfig{
			Config:     realtimeConfig(cfg),
			Source:     cnemc.NewClient(cnemc.ClientConfig{Fetcher: fetcher}),
			SourceName: cnemc.SourceName,
			Cities:     directory.CodedCities(),
			Store:      saver,
			Logger:     log,
			Metrics:    metrics,
		})
		if mode == "realtime" {
			_, runErr = crawler.Run(ctx)
			break
		}
		scheduler := crawl.NewScheduler(crawl.SchedulerConfig{
			Job:      crawler,
			Interval: cfg.Crawl.RealtimeInterval,
			Logger:   log,
		})
		runErr = scheduler.Run(ctx)
		log.Info().Int("cycles", scheduler.Cycles()).Msg("scheduler stopped")
	}

	logSourceHealth(log, registry)

	if errors.Is(runErr, context.Canceled) {
		log.Warn().Msg("crawl interrupted, collected data was flushed")
		return nil
	}
	return runErr
}

func historyConfig(cfg *config.Config) crawl.HistoryConfig {
	hc := crawl.DefaultHistoryConfig(cfg.Crawl.RequestInterval)
	hc.StartYear = cfg.Crawl.StartYear
	hc.EndYear = cfg.Crawl.EndYear
	hc.BatchSize = cfg.Crawl.HistoryBatchSize
	hc.OutputDir = cfg.Paths.RawDir
	hc.SaveToDB = cfg.Crawl.SaveToDB
	return hc
}

func realtimeConfig(cfg *config.Config) crawl.RealtimeConfig {
	rc := crawl.DefaultRealtimeConfig()
	rc.BatchSize = cfg.Crawl.RealtimeBatchSize
	rc.OutputDir = cfg.Paths.NewRawDir
	rc.Region = cfg.Crawl.Region
	rc.SaveToDB = cfg.Crawl.SaveToDB
	return rc
}

// newFetchClient builds the resilient client of one source from the fetch
// settings, including the optional proxy pool and tunnel.
func newFetchClient(cfg *config.Config, name string, registry *resilience.Registry, log zerolog.Logger, metrics *telemetry.PipelineMetrics) (*resilience.Client, error) {
	cc := resilience.DefaultClientConfig(name)
	cc.Timeout = cfg.Fetch.Timeout
	cc.MaxAttempts = cfg.Fetch.MaxAttempts
	cc.Registry = registry
	cc.Logger = log
	cc.Metrics = metrics

	if cfg.Fetch.UseProxy && len(cfg.Fetch.ProxyPool) > 0 {
		pool, err := resilience.NewProxyPool(resilience.ProxyPoolConfig{
			Candidates: cfg.Fetch.ProxyPool,
			TestURL:    cfg.Fetch.ProxyTestURL,
			Timeout:    cfg.Fetch.ProxyTimeout,
			Logger:     log,
		})
		if err != nil {
			return nil, err
		}
		cc.Proxies = pool
		log.Info().Int("proxies", pool.Size()).Msg("proxy pool enabled")
	}
	if cfg.Fetch.UseProxy && cfg.Fetch.TunnelHost != "" {
		tunnel, err := resilience.TunnelProxy(cfg.Fetch.TunnelHost, cfg.Fetch.TunnelUser, cfg.Fetch.TunnelPass)
		if err != nil {
			return nil, err
		}
		cc.Tunnel = tunnel
	}
	return resilience.NewClient(cc), nil
}

func logSourceHealth(log zerolog.Logger, registry *resilience.Registry) {
	for _, h := range registry.AllHealth() {
		event := log.Info()
		if !h.IsHealthy() {
			event = log.Warn()
		}
		event.
			Str("source", h.Name).
			Str("circuit", h.CircuitState.String()).
			Int64("successes", h.Successes).
			Int64("failures", h.Failures).
			Str("last_error", h.LastError).
			Msg("source health")
	}
}
