package crawl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/pm25forecast/pm25forecast/internal/airquality"
	"github.com/pm25forecast/pm25forecast/internal/cities"
	"github.com/pm25forecast/pm25forecast/internal/table"
	"github.com/pm25forecast/pm25forecast/internal/telemetry"
)

// ErrNoCityCode is recorded for cities the realtime API cannot be asked about.
var ErrNoCityCode = errors.New("city has no realtime code")

// CityFetcher fetches the latest hourly readings of one city. The int result
// counts records dropped for an unparseable time point.
type CityFetcher interface {
	FetchCity(ctx context.Context, city cities.City) (*table.Table, int, error)
}

// RealtimeCrawler crawls the hourly readings of every coded city.
type RealtimeCrawler struct {
	crawler
	config RealtimeConfig
	api    CityFetcher
	cities []cities.City
}

// RealtimeCrawlerConfig holds configuration for creating a RealtimeCrawler.
type RealtimeCrawlerConfig struct {
	Config     RealtimeConfig
	Source     CityFetcher
	SourceName string

	// Cities are crawled in slice order, normally the codes file order.
	Cities  []cities.City
	Store   Saver
	Logger  zerolog.Logger
	Metrics *telemetry.PipelineMetrics
	Clock   clockwork.Clock
	Rand    func() float64
}

// NewRealtimeCrawler creates a realtime crawler.
func NewRealtimeCrawler(cfg RealtimeCrawlerConfig) *RealtimeCrawler {
	config := cfg.Config
	if config.Table == "" {
		config.Table = RealtimeTable
	}
	if config.Region == "" {
		config.Region = DefaultRealtimeConfig().Region
	}
	name := cfg.SourceName
	if name == "" {
		name = string(airquality.KindRealtime)
	}

	return &RealtimeCrawler{
		crawler: newCrawler(name, cfg.Store, cfg.Logger, cfg.Metrics, cfg.Clock, cfg.Rand),
		config:  config,
		api:     cfg.Source,
		cities:  cfg.Cities,
	}
}

// Run fetches every city once. Cities without a code are discarded without
// a request.
func (r *RealtimeCrawler) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		RunID:     uuid.NewString(),
		Source:    r.source,
		StartTime: r.clock.Now(),
	}
	bucket := result.StartTime.Format("2006010215")

	r.logger.Info().
		Str("run_id", result.RunID).
		Int("cities", len(r.cities)).
		Int("batch_size", r.config.BatchSize).
		Msg("starting realtime crawl")

	var (
		pending   []*table.Table
		requested bool
		runErr    error
	)

	for _, city := range r.cities {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		if city.Code != "" && requested {
			if runErr = r.pause(ctx, r.config.BetweenCities); runErr != nil {
				break
			}
		}
		if city.Code != "" {
			requested = true
		}

		if t := r.crawlCity(ctx, city, bucket, result); t != nil {
			pending = append(pending, t)
		}
		result.Cities++

		if r.config.BatchSize > 0 && result.Cities%r.config.BatchSize == 0 {
			r.flush(ctx, pending, result)
			pending = nil
		}
	}

	if len(pending) > 0 {
		r.flush(context.WithoutCancel(ctx), pending, result)
	}
	r.finish(result)

	if runErr != nil {
		return result, fmt.Errorf("realtime crawl interrupted: %w", runErr)
	}
	return result, nil
}

func (r *RealtimeCrawler) crawlCity(ctx context.Context, city cities.City, bucket string, result *RunResult) *table.Table {
	u := Unit{City: city.Name, Bucket: bucket, State: StatePending}
	ctx, span := r.startUnit(ctx, u.City, u.Bucket)

	var t *table.Table
	if city.Code == "" {
		u.State, u.Err = StateDiscarded, fmt.Errorf("%s: %w", city.Name, ErrNoCityCode)
	} else {
		var (
			skipped int
			err     error
		)
		t, skipped, err = r.api.FetchCity(ctx, city)
		if skipped > 0 {
			r.logger.Warn().Str("city", city.Name).Int("skipped", skipped).Msg("records with unparseable time point dropped")
		}
		switch {
		case err != nil:
			u.State, u.Err = StateDiscarded, err
		case t.Len() == 0:
			u.State = StateDiscarded
		default:
			u.State, u.Rows = StateAccumulated, t.Len()
		}
	}
	r.endUnit(ctx, span, u, result)

	if u.State != StateAccumulated {
		return nil
	}
	return t
}

// flush writes one timestamped CSV per flush and saves the rows to storage.
// Flushes within the same minute append to the same file.
func (r *RealtimeCrawler) flush(ctx context.Context, pending []*table.Table, result *RunResult) {
	combined := concat(pending)
	if combined.Len() == 0 {
		return
	}
	result.Flushes++

	name := fmt.Sprintf("realtime_%s_%s.csv", r.config.Region, r.clock.Now().Format("20060102_1504"))
	r.writeCSV(filepath.Join(r.config.OutputDir, name), combined, true, result)
	r.save(ctx, r.config.Table, combined, r.config.SaveToDB, result)
}
