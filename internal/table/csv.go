package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// bom is the UTF-8 byte order mark written at the start of new CSV files so
// spreadsheet tools detect the encoding of the Chinese headers.
var bom = []byte{0xEF, 0xBB, 0xBF}

// ErrHeaderMismatch is returned when appending columns a CSV file does not have.
var ErrHeaderMismatch = errors.New("csv header mismatch")

// ReadCSV parses CSV with a header row. Column types are inferred per column:
// integer when every non-missing cell parses as one, then float, else text.
func ReadCSV(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(bom)); err == nil && bytes.Equal(head, bom) {
		_, _ = br.Discard(len(bom))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return New(), nil
	}

	t := New(records[0]...)
	width := len(t.Columns)
	raw := records[1:]
	for _, rec := range raw {
		row := make([]any, width)
		for i := 0; i < width && i < len(rec); i++ {
			row[i] = rec[i]
		}
		t.Rows = append(t.Rows, row)
	}

	for col := 0; col < width; col++ {
		inferColumn(t.Rows, col)
	}
	return t, nil
}

func inferColumn(rows [][]any, col int) {
	allInt, allFloat := true, true
	for _, row := range rows {
		s, _ := row[col].(string)
		if IsMissingToken(s) {
			continue
		}
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			allInt = false
		}
		if f, err := strconv.ParseFloat(s, 64); err != nil || math.IsNaN(f) {
			allFloat = false
		}
		if !allInt && !allFloat {
			break
		}
	}

	for _, row := range rows {
		s, _ := row[col].(string)
		if IsMissingToken(s) {
			row[col] = nil
			continue
		}
		switch {
		case allInt:
			row[col], _ = strconv.ParseInt(s, 10, 64)
		case allFloat:
			row[col], _ = strconv.ParseFloat(s, 64)
		default:
			row[col] = s
		}
	}
}

// ReadCSVFile reads a CSV file from disk.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteCSV writes the header followed by every row.
func WriteCSV(w io.Writer, t *Table) error {
	return writeRecords(w, t.Columns, t, true)
}

func writeRecords(w io.Writer, header []string, t *Table, withHeader bool) error {
	cw := csv.NewWriter(w)
	if withHeader {
		if err := cw.Write(header); err != nil {
			return err
		}
	}

	positions := make([]int, len(header))
	for i, c := range header {
		positions[i] = t.Index(c)
	}
	rec := make([]string, len(header))
	for _, row := range t.Rows {
		for i, p := range positions {
			if p < 0 {
				rec[i] = ""
				continue
			}
			rec[i] = FormatCell(row[p])
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes t to path. In append mode an existing non-empty file
// keeps its header and rows are aligned to it; a new file gets the BOM and
// header. Parent directories are created as needed.
func WriteCSVFile(path string, t *Table, appendMode bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if appendMode {
		header, err := readHeader(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if len(header) > 0 {
			for _, c := range t.Columns {
				if !contains(header, c) {
					return fmt.Errorf("%s: column %q: %w", path, c, ErrHeaderMismatch)
				}
			}
			f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return err
			}
			defer f.Close()
			return writeRecords(f, header, t, false)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(bom); err != nil {
		return err
	}
	return writeRecords(f, t.Columns, t, true)
}

func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if head, err := br.Peek(len(bom)); err == nil && bytes.Equal(head, bom) {
		_, _ = br.Discard(len(bom))
	}
	header, err := csv.NewReader(br).Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return header, err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ListCSV returns the .csv files directly inside dir in name order.
func ListCSV(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
