package crawl

import (
	"context"
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

// MonthFetcher fetches the daily rows of one city-month.
type MonthFetcher interface {
	FetchMonth(ctx context.Context, city cities.City, month airquality.YearMonth) (*table.Table, error)
}

// HistoryCrawler crawls every (city, month) page of the configured years.
type HistoryCrawler struct {
	crawler
	config    HistoryConfig
	pages     MonthFetcher
	provinces []cities.Province
}

// HistoryCrawlerConfig holds configuration for creating a HistoryCrawler.
type HistoryCrawlerConfig struct {
	Config     HistoryConfig
	Source     MonthFetcher
	SourceName string
	Provinces  []cities.Province
	Store      Saver
	Logger     zerolog.Logger
	Metrics    *telemetry.PipelineMetrics
	Clock      clockwork.Clock

	// Rand draws the uniform part of each pause. Defaults to math/rand/v2.
	Rand func() float64
}

// NewHistoryCrawler creates a history crawler.
func NewHistoryCrawler(cfg HistoryCrawlerConfig) *HistoryCrawler {
	config := cfg.Config
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}
	if config.Table == "" {
		config.Table = HistoryTable
	}
	name := cfg.SourceName
	if name == "" {
		name = string(airquality.KindHistory)
	}

	return &HistoryCrawler{
		crawler:   newCrawler(name, cfg.Store, cfg.Logger, cfg.Metrics, cfg.Clock, cfg.Rand),
		config:    config,
		pages:     cfg.Source,
		provinces: cfg.Provinces,
	}
}

// Run crawls provinces, cities and months in order. Accumulated rows are
// flushed every BatchSize cities and once more at the end, also when the
// context is cancelled mid-run.
func (h *HistoryCrawler) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		RunID:     uuid.NewString(),
		Source:    h.source,
		StartTime: h.clock.Now(),
	}
	months := airquality.MonthsInRange(h.config.StartYear, h.config.EndYear, result.StartTime)

	var list []cities.City
	for _, p := range h.provinces {
		list = append(list, p.Cities...)
	}

	h.logger.Info().
		Str("run_id", result.RunID).
		Int("cities", len(list)).
		Int("months", len(months)).
		Int("batch_size", h.config.BatchSize).
		Msg("starting history crawl")

	var (
		pending []*table.Table
		runErr  error
	)

loop:
	for ci, city := range list {
		for mi, month := range months {
			if mi > 0 {
				if runErr = h.pause(ctx, h.config.BetweenMonths); runErr != nil {
					break loop
				}
			}
			if runErr = ctx.Err(); runErr != nil {
				break loop
			}
			if t := h.crawlMonth(ctx, city, month, result); t != nil {
				pending = append(pending, t)
			}
		}
		result.Cities++

		last := ci == len(list)-1
		if result.Cities%h.config.BatchSize == 0 {
			h.flush(ctx, pending, result)
			pending = nil
			if !last {
				if runErr = h.pause(ctx, h.config.BetweenBatches); runErr != nil {
					break
				}
			}
			continue
		}
		if !last {
			if runErr = h.pause(ctx, h.config.BetweenCities); runErr != nil {
				break
			}
		}
	}

	if len(pending) > 0 {
		h.flush(context.WithoutCancel(ctx), pending, result)
	}
	h.finish(result)

	if runErr != nil {
		return result, fmt.Errorf("history crawl interrupted: %w", runErr)
	}
	return result, nil
}

func (h *HistoryCrawler) crawlMonth(ctx context.Context, city cities.City, month airquality.YearMonth, result *RunResult) *table.Table {
	u := Unit{City: city.Name, Bucket: month.String(), State: StatePending}
	ctx, span := h.startUnit(ctx, u.City, u.Bucket)

	t, err := h.pages.FetchMonth(ctx, city, month)
	switch {
	case err != nil:
		u.State, u.Err = StateDiscarded, err
	case t.Len() == 0:
		u.State = StateDiscarded
	default:
		u.State, u.Rows = StateAccumulated, t.Len()
	}
	h.endUnit(ctx, span, u, result)

	if u.State != StateAccumulated {
		return nil
	}
	return t
}

// flush groups the accumulated rows by (year, city) into append-mode CSV
// files, then saves them to storage in the same order.
func (h *HistoryCrawler) flush(ctx context.Context, pending []*table.Table, result *RunResult) {
	combined := concat(pending)
	if combined.Len() == 0 {
		return
	}
	result.Flushes++

	for _, g := range combined.GroupBy(airquality.ColYear, airquality.ColCity) {
		name := fmt.Sprintf("%s_%s_history.csv", table.FormatCell(g.Values[0]), table.FormatCell(g.Values[1]))
		h.writeCSV(filepath.Join(h.config.OutputDir, name), g.Table, true, result)
	}
	h.save(ctx, h.config.Table, combined, h.config.SaveToDB, result)
}
