package storage

import (
	"context"
	"fmt"

	"github.com/pm25forecast/pm25forecast/internal/database"
	"github.com/pm25forecast/pm25forecast/internal/table"
)

// ColumnInfo describes one column of a stored table.
type ColumnInfo struct {
	Position   int    `json:"position"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null"`
	PrimaryKey bool   `json:"primary_key"`
}

// ListTables returns user table names in alphabetical order.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	query := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	if s.driver == database.DriverPostgres {
		query = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
			ORDER BY table_name`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableExists reports whether the named table exists.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	if s.driver == database.DriverPostgres {
		query = `SELECT COUNT(*) FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1`
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, name).Scan(&n); err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

// TableInfo returns the column layout of a table. A missing table yields an
// empty slice.
func (s *Store) TableInfo(ctx context.Context, name string) ([]ColumnInfo, error) {
	if s.driver == database.DriverPostgres {
		return s.postgresTableInfo(ctx, name)
	}

	t, err := s.Query(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", name, err)
	}

	cols := make([]ColumnInfo, 0, t.Len())
	for i := range t.Rows {
		pos, _ := table.Int(t.Get(i, "cid"))
		notNull, _ := table.Int(t.Get(i, "notnull"))
		pk, _ := table.Int(t.Get(i, "pk"))
		cols = append(cols, ColumnInfo{
			Position:   int(pos),
			Name:       table.FormatCell(t.Get(i, "name")),
			Type:       table.FormatCell(t.Get(i, "type")),
			NotNull:    notNull == 1,
			PrimaryKey: pk > 0,
		})
	}
	return cols, nil
}

func (s *Store) postgresTableInfo(ctx context.Context, name string) ([]ColumnInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.ordinal_position - 1, c.column_name, UPPER(c.data_type), c.is_nullable = 'NO',
			EXISTS (
				SELECT 1 FROM information_schema.key_column_usage k
				JOIN information_schema.table_constraints tc
					ON tc.constraint_name = k.constraint_name AND tc.constraint_type = 'PRIMARY KEY'
				WHERE k.table_name = c.table_name AND k.column_name = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema() AND c.table_name = $1
		ORDER BY c.ordinal_position`, name)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", name, err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.Position, &c.Name, &c.Type, &c.NotNull, &c.PrimaryKey); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// Columns returns the column names of a table in position order.
func (s *Store) Columns(ctx context.Context, name string) ([]string, error) {
	info, err := s.TableInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(info))
	for i, c := range info {
		names[i] = c.Name
	}
	return names, nil
}
