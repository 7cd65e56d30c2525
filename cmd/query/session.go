package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/pm25forecast/pm25forecast/internal/storage"
	"github.com/pm25forecast/pm25forecast/internal/table"
)

const help = `commands:
  list                              tables with row counts
  info <table>                      columns of a table
  sql <SQL>                         run a read-only statement, all rows
  show <SQL> [--page n] [--size n]  run a read-only statement, one page
  next | prev | page <n> | size <n> move through the last show
  export <SQL> <path>               write a statement's rows to CSV
  help | quit`

// errNoQuery is returned by the paging verbs before any show.
var errNoQuery = errors.New("no query to page through, run show first")

// session keeps the last paged statement so the paging verbs can move
// through it.
type session struct {
	store *storage.Store
	out   io.Writer

	query string
	page  int
	size  int
	pages int
}

func newSession(store *storage.Store, out io.Writer) *session {
	return &session{store: store, out: out, page: 1, size: storage.DefaultPageSize}
}

// exec runs one command line and reports whether the session should end.
func (s *session) exec(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(s.out, help)
		return false, nil
	case "list":
		return false, s.list(ctx)
	case "info":
		if rest == "" {
			return false, errors.New("usage: info <table>")
		}
		return false, s.info(ctx, rest)
	case "sql":
		if rest == "" {
			return false, errors.New("usage: sql <SQL>")
		}
		t, err := s.store.QueryReadOnly(ctx, rest)
		if err != nil {
			return false, err
		}
		printTable(s.out, t)
		fmt.Fprintf(s.out, "(%d rows)\n", t.Len())
		return false, nil
	case "show":
		query, page, size, err := parseShow(rest)
		if err != nil {
			return false, err
		}
		s.query = query
		if size > 0 {
			s.size = size
		}
		return false, s.show(ctx, max(page, 1))
	case "next":
		return false, s.move(ctx, s.page+1)
	case "prev":
		return false, s.move(ctx, s.page-1)
	case "page":
		n, err := positive(rest)
		if err != nil {
			return false, fmt.Errorf("usage: page <n>: %w", err)
		}
		return false, s.move(ctx, n)
	case "size":
		n, err := positive(rest)
		if err != nil {
			return false, fmt.Errorf("usage: size <n>: %w", err)
		}
		s.size = n
		if s.query == "" {
			return false, nil
		}
		return false, s.show(ctx, 1)
	case "export":
		i := strings.LastIndex(rest, " ")
		if i < 0 {
			return false, errors.New("usage: export <SQL> <path>")
		}
		query, path := strings.TrimSpace(rest[:i]), rest[i+1:]
		t, err := s.store.QueryReadOnly(ctx, query)
		if err != nil {
			return false, err
		}
		if err := table.WriteCSVFile(path, t, false); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "exported %d rows to %s\n", t.Len(), path)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %q, type help", verb)
	}
}

func (s *session) move(ctx context.Context, page int) error {
	if s.query == "" {
		return errNoQuery
	}
	if page < 1 || (s.pages > 0 && page > s.pages) {
		return fmt.Errorf("page %d out of range 1..%d", page, max(s.pages, 1))
	}
	return s.show(ctx, page)
}

func (s *session) show(ctx context.Context, page int) error {
	result, err := s.store.QueryPage(ctx, s.query, page, s.size)
	if err != nil {
		return err
	}
	s.page, s.size, s.pages = result.Page, result.Size, result.Pages
	printTable(s.out, result.Table)
	fmt.Fprintf(s.out, "page %d/%d, %d rows total\n", result.Page, max(result.Pages, 1), result.Total)
	return nil
}

func (s *session) list(ctx context.Context) error {
	summaries, err := s.store.Summaries(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tROWS")
	for _, sum := range summaries {
		fmt.Fprintf(tw, "%s\t%d\n", sum.Name, sum.Rows)
	}
	return tw.Flush()
}

func (s *session) info(ctx context.Context, name string) error {
	exists, err := s.store.TableExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("table %s does not exist", name)
	}
	columns, err := s.store.TableInfo(ctx, name)
	if err != nil {
		return err
	}
	rows, err := s.store.Count(ctx, name)
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "%s (%d rows)\n", name, rows)
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tCOLUMN\tTYPE\tNOT NULL\tPK")
	for _, c := range columns {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%t\n", c.Position, c.Name, c.Type, c.NotNull, c.PrimaryKey)
	}
	return tw.Flush()
}

// parseShow splits trailing --page/--size flags off the statement. Zero
// means the flag was not given.
func parseShow(rest string) (query string, page, size int, err error) {
	fields := strings.Fields(rest)
	for len(fields) >= 2 {
		flag, value := fields[len(fields)-2], fields[len(fields)-1]
		if flag != "--page" && flag != "--size" {
			break
		}
		n, perr := positive(value)
		if perr != nil {
			return "", 0, 0, fmt.Errorf("%s: %w", flag, perr)
		}
		if flag == "--page" {
			page = n
		} else {
			size = n
		}
		fields = fields[:len(fields)-2]
	}
	if len(fields) == 0 {
		return "", 0, 0, errors.New("usage: show <SQL> [--page n] [--size n]")
	}
	return strings.Join(fields, " "), page, size, nil
}

func positive(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("%d is not positive", n)
	}
	return n, nil
}

func printTable(w io.Writer, t *table.Table) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Columns, "\t"))
	cells := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			cells[i] = table.FormatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
}
