package crawl

import (
	"context"
	"math/rand/v2"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pm25forecast/pm25forecast/internal/table"
	"github.com/pm25forecast/pm25forecast/internal/telemetry"
)

// Saver persists a table under a name and returns the rows written.
type Saver interface {
	Save(ctx context.Context, name string, t *table.Table) (int, error)
}

// crawler holds what the history and realtime crawlers share: the flush
// sinks, the politeness clock and the unit bookkeeping.
type crawler struct {
	source  string
	store   Saver
	logger  zerolog.Logger
	metrics *telemetry.PipelineMetrics
	clock   clockwork.Clock
	rand    func() float64
}

func newCrawler(source string, store Saver, logger zerolog.Logger, metrics *telemetry.PipelineMetrics, clock clockwork.Clock, rnd func() float64) crawler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	return crawler{
		source:  source,
		store:   store,
		logger:  logger,
		metrics: metrics,
		clock:   clock,
		rand:    rnd,
	}
}

// pause waits out p unless the context ends first.
func (c *crawler) pause(ctx context.Context, p Pause) error {
	if p.IsZero() {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(p.Duration(c.rand())):
		return nil
	}
}

func (c *crawler) startUnit(ctx context.Context, city, bucket string) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, "crawl.unit", trace.WithAttributes(
		attribute.String("source", c.source),
		attribute.String("city", city),
		attribute.String("bucket", bucket),
	))
}

// endUnit records the terminal state of a unit on its span, the pipeline
// metrics, the log and the run result.
func (c *crawler) endUnit(ctx context.Context, span trace.Span, u Unit, result *RunResult) {
	defer span.End()

	span.SetAttributes(attribute.String("state", u.State.String()), attribute.Int("rows", u.Rows))
	if u.Err != nil {
		span.RecordError(u.Err)
		span.SetStatus(codes.Error, u.Err.Error())
	}
	c.metrics.RecordUnit(ctx, c.source, u.State.String())
	result.record(u)

	if u.State == StateDiscarded {
		c.logger.Warn().
			Err(u.Err).
			Str("city", u.City).
			Str("bucket", u.Bucket).
			Msg("unit discarded")
		return
	}
	c.logger.Debug().
		Str("city", u.City).
		Str("bucket", u.Bucket).
		Int("rows", u.Rows).
		Msg("unit accumulated")
}

// writeCSV writes one flush file. A failure is logged and reported; the
// storage write of the same flush still runs.
func (c *crawler) writeCSV(path string, t *table.Table, appendMode bool, result *RunResult) {
	if err := table.WriteCSVFile(path, t, appendMode); err != nil {
		c.logger.Error().Err(err).Str("path", path).Msg("failed to write crawl output")
		result.Errors = append(result.Errors, UnitError{Bucket: path, Error: err.Error()})
		return
	}
	result.addFile(path)
	c.logger.Info().Str("path", path).Int("rows", t.Len()).Msg("crawl output written")
}

// save appends the flushed rows to storage. The CSV files already hold the
// rows, so a storage error is only logged.
func (c *crawler) save(ctx context.Context, name string, t *table.Table, enabled bool, result *RunResult) {
	if !enabled || c.store == nil || t.Len() == 0 {
		return
	}
	n, err := c.store.Save(ctx, name, t)
	result.Inserted += n
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("table", name).
			Int("inserted", n).
			Msg("storage write failed, rows kept in csv")
		return
	}
	c.logger.Info().Str("table", name).Int("inserted", n).Msg("rows saved to storage")
}

func concat(tables []*table.Table) *table.Table {
	out := table.New()
	for _, t := range tables {
		out.Concat(t)
	}
	return out
}

func (c *crawler) finish(result *RunResult) {
	result.EndTime = c.clock.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	c.logger.Info().
		Str("run_id", result.RunID).
		Dur("duration", result.Duration).
		Int("cities", result.Cities).
		Int("units", result.Units).
		Int("accumulated", result.Accumulated).
		Int("discarded", result.Discarded).
		Int("rows", result.Rows).
		Int("flushes", result.Flushes).
		Int("inserted", result.Inserted).
		Msg("crawl run completed")
}
