// Package datasync appends raw crawl CSV files to their storage tables,
// skipping rows whose key is already stored.
package datasync

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pm25forecast/pm25forecast/internal/airquality"
	"github.com/pm25forecast/pm25forecast/internal/crawl"
	"github.com/pm25forecast/pm25forecast/internal/table"
	"github.com/pm25forecast/pm25forecast/internal/telemetry"
)

// Store is the storage surface sync needs.
type Store interface {
	Save(ctx context.Context, name string, t *table.Table) (int, error)
	TableExists(ctx context.Context, name string) (bool, error)
	Columns(ctx context.Context, name string) ([]string, error)
	DistinctKeys(ctx context.Context, name string, columns []string) (map[string]struct{}, error)
}

// Target pairs a directory of CSV files with the table it feeds.
type Target struct {
	Name  string
	Dir   string
	Table string

	// Keys are the preferred key columns. The ones present in a file form
	// its key; a file with none of them is keyed by the whole row.
	Keys []string
}

// RealtimeTarget returns the realtime target reading dir.
func RealtimeTarget(dir string) Target {
	return Target{
		Name:  string(airquality.KindRealtime),
		Dir:   dir,
		Table: crawl.RealtimeTable,
		Keys:  []string{airquality.ColCity, airquality.ColDate, airquality.ColHour, airquality.ColStation},
	}
}

// HistoryTarget returns the history target reading dir.
func HistoryTarget(dir string) Target {
	return Target{
		Name:  string(airquality.KindHistory),
		Dir:   dir,
		Table: crawl.HistoryTable,
		Keys:  []string{airquality.ColCity, airquality.ColYear, airquality.ColMonth},
	}
}

// Config configures a Syncer.
type Config struct {
	Store   Store
	Logger  zerolog.Logger
	Metrics *telemetry.PipelineMetrics

	// DryRun computes and logs everything without writing.
	DryRun bool
}

// Syncer runs sync targets.
type Syncer struct {
	store   Store
	logger  zerolog.Logger
	metrics *telemetry.PipelineMetrics
	dryRun  bool
}

// New creates a Syncer.
func New(cfg Config) *Syncer {
	return &Syncer{
		store:   cfg.Store,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		dryRun:  cfg.DryRun,
	}
}

// FileReport is the outcome of one file.
type FileReport struct {
	File     string
	Rows     int
	New      int
	Inserted int
	Err      error
}

// Report is the outcome of one target.
type Report struct {
	Target string
	Table  string
	DryRun bool
	Files  []FileReport

	Rows     int
	New      int
	Inserted int
	Skipped  int
}

// Failed returns the number of files that did not sync completely.
func (r *Report) Failed() int {
	n := 0
	for _, f := range r.Files {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// Sync processes the target's CSV files in name order. Per-file failures are
// logged and recorded in the report; only a failure to list the directory
// is returned as an error.
func (s *Syncer) Sync(ctx context.Context, target Target) (*Report, error) {
	files, err := table.ListCSV(target.Dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", target.Dir, err)
	}

	logger := s.logger.With().Str("target", target.Name).Str("table", target.Table).Bool("dry_run", s.dryRun).Logger()
	logger.Info().Int("files", len(files)).Str("dir", target.Dir).Msg("starting sync")

	report := &Report{Target: target.Name, Table: target.Table, DryRun: s.dryRun}
	index := newKeyIndex(s.store, target.Table)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fr := s.syncFile(ctx, logger, target, index, path)
		report.Files = append(report.Files, fr)
		report.Rows += fr.Rows
		report.New += fr.New
		report.Inserted += fr.Inserted
		report.Skipped += fr.Rows - fr.New
	}

	logger.Info().
		Int("files", len(report.Files)).
		Int("failed", report.Failed()).
		Int("rows", report.Rows).
		Int("new", report.New).
		Int("inserted", report.Inserted).
		Int("skipped", report.Skipped).
		Msg("sync completed")
	return report, nil
}

func (s *Syncer) syncFile(ctx context.Context, logger zerolog.Logger, target Target, index *keyIndex, path string) FileReport {
	fr := FileReport{File: filepath.Base(path)}
	ctx, span := telemetry.Tracer().Start(ctx, "sync.file")
	span.SetAttributes(attribute.String("table", target.Table), attribute.String("file", fr.File))
	defer func() {
		span.SetAttributes(attribute.Int("rows", fr.Rows), attribute.Int("new", fr.New), attribute.Int("inserted", fr.Inserted))
		if fr.Err != nil {
			span.RecordError(fr.Err)
			span.SetStatus(codes.Error, fr.Err.Error())
			logger.Error().Err(fr.Err).Str("file", fr.File).Msg("file sync failed")
		}
		span.End()
	}()

	t, err := table.ReadCSVFile(path)
	if err != nil {
		fr.Err = err
		return fr
	}
	fr.Rows = t.Len()

	columns := keyColumns(t, target.Keys)
	existing, err := index.set(ctx, columns)
	if err != nil {
		fr.Err = err
		return fr
	}

	fresh := newRows(t, columns, existing)
	fr.New = fresh.Len()
	s.metrics.RecordRowsSkipped(ctx, target.Table, fr.Rows-fr.New)

	event := logger.Info().
		Str("file", fr.File).
		Str("key", strings.Join(columns, ",")).
		Int("rows", fr.Rows).
		Int("new", fr.New)
	if fr.New == 0 {
		event.Msg("no new rows")
		return fr
	}
	if s.dryRun {
		index.add(fresh, true)
		event.Msg("dry run, rows not inserted")
		return fr
	}

	n, err := s.store.Save(ctx, target.Table, fresh)
	fr.Inserted = n
	index.add(fresh.Slice(0, n), false)
	if err != nil {
		fr.Err = fmt.Errorf("save %s: %w", fr.File, err)
		return fr
	}
	event.Int("inserted", n).Msg("rows inserted")
	return fr
}

// keyColumns returns the preferred keys present in t, or every column of t.
func keyColumns(t *table.Table, preferred []string) []string {
	var cols []string
	for _, k := range preferred {
		if t.Has(k) {
			cols = append(cols, k)
		}
	}
	if len(cols) == 0 {
		return append([]string(nil), t.Columns...)
	}
	return cols
}

// newRows returns the rows of t whose key is not already stored. Rows of the
// same file may share a key (a history file has one row per day under each
// city-month key), so only the stored and earlier-file keys filter.
func newRows(t *table.Table, columns []string, existing map[string]struct{}) *table.Table {
	positions := make([]int, len(columns))
	for i, c := range columns {
		positions[i] = t.Index(c)
	}

	out := table.New(t.Columns...)
	for _, row := range t.Rows {
		if _, ok := existing[table.RowKey(row, positions)]; ok {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}
