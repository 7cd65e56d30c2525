// Package storage persists tables into the relational store. Tables are
// created on first write with a schema inferred from that first batch and
// only ever appended to afterwards.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pm25forecast/pm25forecast/internal/database"
	"github.com/pm25forecast/pm25forecast/internal/table"
	"github.com/pm25forecast/pm25forecast/internal/telemetry"
)

// DefaultChunkSize is the number of rows inserted per transaction.
const DefaultChunkSize = 500

// ErrEmptyTable is returned when saving a table without columns.
var ErrEmptyTable = errors.New("table has no columns")

// Config configures a Store.
type Config struct {
	DB        *sql.DB
	Driver    database.Driver
	Logger    zerolog.Logger
	ChunkSize int
	Metrics   *telemetry.PipelineMetrics
}

// Store appends tables to a SQL database and answers ad-hoc queries.
type Store struct {
	db        *sql.DB
	driver    database.Driver
	logger    zerolog.Logger
	chunkSize int
	metrics   *telemetry.PipelineMetrics

	// writeMu serializes writers; SQLite allows a single writer.
	writeMu sync.Mutex
}

// New creates a Store over an open database handle.
func New(cfg Config) *Store {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Driver == "" {
		cfg.Driver = database.DriverSQLite
	}
	return &Store{
		db:        cfg.DB,
		driver:    cfg.Driver,
		logger:    cfg.Logger,
		chunkSize: cfg.ChunkSize,
		metrics:   cfg.Metrics,
	}
}

// Open connects to the configured database and wraps it in a Store.
func Open(ctx context.Context, dbCfg database.Config, logger zerolog.Logger, metrics *telemetry.PipelineMetrics) (*Store, error) {
	db, err := database.Connect(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	return New(Config{DB: db, Driver: dbCfg.Driver, Logger: logger, Metrics: metrics}), nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save appends every row of t to the named table, creating it first when it
// does not exist. Rows are inserted in chunks, each in its own transaction; a
// failing chunk ends the save and the rows committed so far are returned with
// the error.
func (s *Store) Save(ctx context.Context, name string, t *table.Table) (int, error) {
	if t == nil || t.Len() == 0 {
		return 0, nil
	}
	if len(t.Columns) == 0 {
		return 0, ErrEmptyTable
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.ensureTable(ctx, name, t); err != nil {
		return 0, err
	}

	stmt := s.insertStatement(name, t.Columns)
	inserted := 0
	for start := 0; start < t.Len(); start += s.chunkSize {
		end := min(start+s.chunkSize, t.Len())
		if err := s.insertChunk(ctx, stmt, t.Rows[start:end]); err != nil {
			s.metrics.RecordRowsInserted(ctx, name, inserted)
			return inserted, fmt.Errorf("insert into %s rows %d-%d: %w", name, start, end-1, err)
		}
		inserted += end - start
	}

	s.metrics.RecordRowsInserted(ctx, name, inserted)
	s.logger.Debug().
		Str("table", name).
		Int("rows", inserted).
		Msg("rows saved")

	return inserted, nil
}

func (s *Store) insertChunk(ctx context.Context, stmt string, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer prepared.Close()

	args := make([]any, 0)
	for _, row := range rows {
		args = args[:0]
		for _, v := range row {
			args = append(args, bindValue(v))
		}
		if _, err := prepared.ExecContext(ctx, args...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func bindValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(x)
	default:
		return v
	}
}

func (s *Store) ensureTable(ctx context.Context, name string, t *table.Table) error {
	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	ddl := s.createStatement(name, t)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}

	s.logger.Info().
		Str("table", name).
		Strs("columns", t.Columns).
		Msg("table created")
	return nil
}

func (s *Store) createStatement(name string, t *table.Table) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(quoteIdent(name))
	b.WriteString(" (")
	if s.driver == database.DriverPostgres {
		b.WriteString("id BIGSERIAL PRIMARY KEY")
	} else {
		b.WriteString("id INTEGER PRIMARY KEY AUTOINCREMENT")
	}
	for _, col := range t.Columns {
		b.WriteString(", ")
		b.WriteString(quoteIdent(col))
		b.WriteByte(' ')
		b.WriteString(s.columnType(table.InferKind(t.Column(col))))
	}
	b.WriteByte(')')
	return b.String()
}

func (s *Store) columnType(kind table.Kind) string {
	postgres := s.driver == database.DriverPostgres
	switch kind {
	case table.KindInteger:
		if postgres {
			return "BIGINT"
		}
		return "INTEGER"
	case table.KindReal:
		if postgres {
			return "DOUBLE PRECISION"
		}
		return "REAL"
	default:
		return "TEXT"
	}
}

func (s *Store) insertStatement(name string, columns []string) string {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		marks[i] = s.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(name), strings.Join(quoted, ", "), strings.Join(marks, ", "))
}

func (s *Store) placeholder(n int) string {
	if s.driver == database.DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// quoteIdent quotes an identifier for both SQLite and PostgreSQL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Query runs a statement and materializes the result as a table.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*table.Table, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	out := table.New(columns...)
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]any, len(columns))
		for i, v := range values {
			row[i] = normalizeValue(v)
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case float32:
		return float64(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return v
	}
}

// DistinctKeys returns the set of Key values over the given columns of a table.
func (s *Store) DistinctKeys(ctx context.Context, name string, columns []string) (map[string]struct{}, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	t, err := s.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), quoteIdent(name)))
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, t.Len())
	for _, row := range t.Rows {
		keys[table.Key(row)] = struct{}{}
	}
	return keys, nil
}
