package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pm25forecast/pm25forecast/internal/table"
)

// DefaultPageSize is the page size used when none is given.
const DefaultPageSize = 20

// MaxPageSize bounds the rows returned by one page.
const MaxPageSize = 1000

// ErrNotReadOnly is returned for statements other than a single SELECT.
var ErrNotReadOnly = errors.New("only a single SELECT or WITH statement is allowed")

// ReadOnly checks that query is a single SELECT (or WITH ... SELECT)
// statement. A trailing semicolon is accepted.
func ReadOnly(query string) (string, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	if q == "" || strings.Contains(q, ";") {
		return "", ErrNotReadOnly
	}

	keyword := strings.ToUpper(strings.Fields(q)[0])
	if keyword != "SELECT" && keyword != "WITH" {
		return "", ErrNotReadOnly
	}
	return q, nil
}

// Page is one page of a query result. Pages are numbered from 1.
type Page struct {
	Table *table.Table
	Page  int
	Size  int
	Total int
	Pages int
}

// QueryPage runs a read-only query and returns the requested page along
// with the total row count.
func (s *Store) QueryPage(ctx context.Context, query string, page, size int) (*Page, error) {
	q, err := ReadOnly(query)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	size = min(size, MaxPageSize)

	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS q", q)).Scan(&total); err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}

	t, err := s.Query(ctx, fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d OFFSET %d", q, size, (page-1)*size))
	if err != nil {
		return nil, err
	}

	return &Page{
		Table: t,
		Page:  page,
		Size:  size,
		Total: total,
		Pages: (total + size - 1) / size,
	}, nil
}

// QueryReadOnly runs a read-only query and returns every row.
func (s *Store) QueryReadOnly(ctx context.Context, query string) (*table.Table, error) {
	q, err := ReadOnly(query)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, q)
}

// TableSummary is a stored table with its row count.
type TableSummary struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
}

// Summaries lists every table with its row count.
func (s *Store) Summaries(ctx context.Context) ([]TableSummary, error) {
	names, err := s.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TableSummary, 0, len(names))
	for _, name := range names {
		n, err := s.Count(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, TableSummary{Name: name, Rows: n})
	}
	return out, nil
}

// Count returns the number of rows of a table.
func (s *Store) Count(ctx context.Context, name string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", name, err)
	}
	return n, nil
}
