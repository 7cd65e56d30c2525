package cleaning

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/pm25forecast/pm25forecast/internal/airquality"
	"github.com/pm25forecast/pm25forecast/internal/table"
)

// TimestampLayout prefixes every output file name.
const TimestampLayout = "20060102_150405"

// ErrNoInput is returned when a directory holds no CSV files.
var ErrNoInput = errors.New("no csv files to process")

// Saver persists a table. *storage.Store satisfies it.
type Saver interface {
	Save(ctx context.Context, name string, t *table.Table) (int, error)
}

// RunnerConfig holds configuration for creating a Runner.
type RunnerConfig struct {
	// Store receives the merged and per-file outputs. Nil skips the database.
	Store Saver

	// OutputDir receives the timestamped CSV outputs.
	OutputDir string

	// SaveIndividual also writes each file's cleaned rows to the
	// {kind}_processed outputs.
	SaveIndividual bool

	Logger zerolog.Logger
	Clock  clockwork.Clock
}

// Runner cleans whole directories of raw CSV files in merge mode.
type Runner struct {
	store          Saver
	outputDir      string
	saveIndividual bool
	logger         zerolog.Logger
	clock          clockwork.Clock
}

// NewRunner creates a directory cleaner.
func NewRunner(cfg RunnerConfig) *Runner {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Runner{
		store:          cfg.Store,
		outputDir:      cfg.OutputDir,
		saveIndividual: cfg.SaveIndividual,
		logger:         cfg.Logger.With().Str("component", "cleaning").Logger(),
		clock:          clock,
	}
}

// FileResult is the outcome of cleaning one raw file.
type FileResult struct {
	File    string
	Rows    int
	Cleaned int
	Err     error
}

// Report summarises a directory run.
type Report struct {
	Kind        airquality.Kind
	Files       []FileResult
	Merged      int
	Eliminated  int
	MergedPath  string
	MergedTable string
	Records     []airquality.CleanedRecord
}

// Failed returns the number of files that could not be cleaned.
func (r *Report) Failed() int {
	n := 0
	for _, f := range r.Files {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// CleanDirectory cleans every CSV in dir in file-name order, merging the
// results and re-deduplicating after each file. Unreadable files are logged
// and skipped.
func (r *Runner) CleanDirectory(ctx context.Context, kind airquality.Kind, dir string) (*Report, error) {
	files, err := table.ListCSV(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoInput)
	}

	ts := r.clock.Now().Format(TimestampLayout)
	report := &Report{Kind: kind, MergedTable: string(kind) + "_merged"}
	logger := r.logger.With().Str("kind", string(kind)).Str("dir", dir).Logger()
	logger.Info().Int("files", len(files)).Msg("cleaning directory")

	var merged []airquality.CleanedRecord
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res := FileResult{File: filepath.Base(path)}
		raw, err := table.ReadCSVFile(path)
		if err != nil {
			res.Err = err
			report.Files = append(report.Files, res)
			logger.Error().Err(err).Str("file", res.File).Msg("failed to read raw file")
			continue
		}

		cleaned := Clean(kind, raw)
		res.Rows, res.Cleaned = raw.Len(), len(cleaned)
		report.Files = append(report.Files, res)

		if r.saveIndividual && len(cleaned) > 0 {
			r.persist(ctx, ToTable(cleaned), fmt.Sprintf("%s_%s_processed.csv", ts, kind), string(kind)+"_processed", true)
		}

		var removed int
		merged, removed = Dedup(kind, append(merged, cleaned...))
		report.Eliminated += removed

		logger.Info().
			Str("file", res.File).
			Int("rows", res.Rows).
			Int("cleaned", res.Cleaned).
			Int("merged", len(merged)).
			Int("eliminated", removed).
			Msg("file cleaned")
	}

	report.Merged = len(merged)
	report.Records = merged
	if len(merged) == 0 {
		logger.Warn().Msg("no records left after cleaning")
		return report, nil
	}

	report.MergedPath = r.persist(ctx, ToTable(merged), fmt.Sprintf("%s_%s_merged.csv", ts, kind), report.MergedTable, false)

	logger.Info().
		Int("files", len(report.Files)).
		Int("failed", report.Failed()).
		Int("merged", report.Merged).
		Int("eliminated", report.Eliminated).
		Msg("directory cleaned")
	return report, nil
}

// persist writes the CSV output and, when a store is configured, the table.
// A database failure is logged and does not discard the CSV.
func (r *Runner) persist(ctx context.Context, t *table.Table, fileName, tableName string, appendMode bool) string {
	path := filepath.Join(r.outputDir, fileName)
	if err := table.WriteCSVFile(path, t, appendMode); err != nil {
		r.logger.Error().Err(err).Str("file", path).Msg("failed to write cleaned csv")
		path = ""
	}

	if r.store != nil {
		n, err := r.store.Save(ctx, tableName, t)
		if err != nil {
			r.logger.Error().Err(err).Str("table", tableName).Int("inserted", n).Msg("failed to save cleaned rows")
		} else {
			r.logger.Info().Str("table", tableName).Int("inserted", n).Msg("cleaned rows saved")
		}
	}
	return path
}

// ExportLSTM concatenates every cleaned CSV in srcDir into a single
// {ts}_LstmData.csv under dstDir and returns its path and row count.
func ExportLSTM(srcDir, dstDir string, now time.Time) (string, int, error) {
	files, err := table.ListCSV(srcDir)
	if err != nil {
		return "", 0, fmt.Errorf("list %s: %w", srcDir, err)
	}
	if len(files) == 0 {
		return "", 0, fmt.Errorf("%s: %w", srcDir, ErrNoInput)
	}

	var combined *table.Table
	for _, path := range files {
		t, err := table.ReadCSVFile(path)
		if err != nil {
			return "", 0, err
		}
		if combined == nil {
			combined = t
			continue
		}
		combined.Concat(t)
	}

	path := filepath.Join(dstDir, now.Format(TimestampLayout)+"_LstmData.csv")
	if err := table.WriteCSVFile(path, combined, false); err != nil {
		return "", 0, err
	}
	return path, combined.Len(), nil
}

// LatestMerged returns the newest {ts}_{kind}_merged.csv in dir. The
// timestamp prefix makes name order chronological.
func LatestMerged(dir string, kind airquality.Kind) (string, error) {
	files, err := table.ListCSV(dir)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", dir, err)
	}
	suffix := "_" + string(kind) + "_merged.csv"
	for i := len(files) - 1; i >= 0; i-- {
		if strings.HasSuffix(filepath.Base(files[i]), suffix) {
			return files[i], nil
		}
	}
	return "", fmt.Errorf("%s: no %s merged file: %w", dir, kind, ErrNoInput)
}

// LoadMerged reads the newest merged file of kind back into records.
func LoadMerged(dir string, kind airquality.Kind) ([]airquality.CleanedRecord, string, error) {
	path, err := LatestMerged(dir, kind)
	if err != nil {
		return nil, "", err
	}
	t, err := table.ReadCSVFile(path)
	if err != nil {
		return nil, path, err
	}
	return FromTable(t), path, nil
}
