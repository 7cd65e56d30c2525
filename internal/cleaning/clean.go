// Package cleaning maps heterogeneous raw tables onto the canonical
// observation schema, deduplicates them and imputes missing values.
package cleaning

import (
	"sort"
	"strings"
	"time"

	"github.com/pm25forecast/pm25forecast/internal/airquality"
	"github.com/pm25forecast/pm25forecast/internal/table"
)

// Candidate source columns, probed in order.
var (
	realtimeCity  = []string{"城市", "city", "city_name"}
	realtimeDate  = []string{"日期", "date"}
	realtimeHour  = []string{"小时", "hour"}
	realtimeAQI   = []string{"AQI", "aqi", "指数"}
	realtimeLevel = []string{"空气质量等级", "质量等级", "等级", "quality"}
	pm25Columns   = []string{"PM2.5", "PM2_5", "pm25"}

	historyDate  = []string{"日期", "date", "day", "时间"}
	historyAQI   = []string{"AQI指数", "AQI", "aqi", "指数"}
	historyLevel = []string{"质量等级", "空气质量等级", "等级", "quality"}
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-1-2",
	"2006/01/02",
	"2006/1/2",
	"2006年01月02日",
	"2006年1月2日",
	"20060102",
	"2006-01-02 15:04:05",
}

// column reads one canonical field from whichever candidate is present.
type column struct {
	idx int
}

func pick(t *table.Table, candidates []string) column {
	name, ok := t.FirstPresent(candidates...)
	if !ok {
		return column{idx: -1}
	}
	return column{idx: t.Index(name)}
}

func (c column) cell(row []any) any {
	if c.idx < 0 {
		return nil
	}
	return row[c.idx]
}

func (c column) text(row []any) string {
	return strings.TrimSpace(table.FormatCell(c.cell(row)))
}

func (c column) number(row []any) *float64 {
	f, ok := table.Float(c.cell(row))
	if !ok || !airquality.InRange(f, airquality.MaxCleanValue) {
		return nil
	}
	return &f
}

func (c column) hour(row []any) *int64 {
	h, ok := table.Int(c.cell(row))
	if !ok {
		return nil
	}
	return &h
}

// CleanRealtime converts raw hourly rows to canonical records.
func CleanRealtime(t *table.Table) []airquality.CleanedRecord {
	if t.Len() == 0 {
		return nil
	}
	city := pick(t, realtimeCity)
	date := pick(t, realtimeDate)
	hour := pick(t, realtimeHour)
	aqi := pick(t, realtimeAQI)
	level := pick(t, realtimeLevel)
	pm25 := pick(t, pm25Columns)
	station := pick(t, []string{airquality.ColStation})

	out := make([]airquality.CleanedRecord, 0, t.Len())
	for _, row := range t.Rows {
		out = append(out, airquality.CleanedRecord{
			City:    city.text(row),
			Date:    NormalizeDate(date.text(row)),
			Hour:    hour.hour(row),
			AQI:     aqi.number(row),
			Level:   level.text(row),
			PM25:    pm25.number(row),
			Station: station.text(row),
		})
	}

	out, _ = Dedup(airquality.KindRealtime, out)
	ImputeMedian(out)
	return out
}

// CleanHistory converts raw daily rows to canonical records. Hour is always nil.
func CleanHistory(t *table.Table) []airquality.CleanedRecord {
	if t.Len() == 0 {
		return nil
	}
	city := pick(t, realtimeCity)
	date := pick(t, historyDate)
	aqi := pick(t, historyAQI)
	level := pick(t, historyLevel)
	pm25 := pick(t, pm25Columns)

	out := make([]airquality.CleanedRecord, 0, t.Len())
	for _, row := range t.Rows {
		out = append(out, airquality.CleanedRecord{
			City:  city.text(row),
			Date:  NormalizeDate(date.text(row)),
			AQI:   aqi.number(row),
			Level: level.text(row),
			PM25:  pm25.number(row),
		})
	}

	out, _ = Dedup(airquality.KindHistory, out)
	ImputeMedian(out)
	return out
}

// Clean dispatches on kind.
func Clean(kind airquality.Kind, t *table.Table) []airquality.CleanedRecord {
	if kind == airquality.KindRealtime {
		return CleanRealtime(t)
	}
	return CleanHistory(t)
}

// NormalizeDate rewrites recognised date layouts as YYYY-MM-DD. Unrecognised
// text is returned unchanged.
func NormalizeDate(s string) string {
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format(time.DateOnly)
		}
	}
	return s
}

// DedupKey returns the identity of a record: (city, date) for history and
// (city, date, hour, station) for realtime.
func DedupKey(kind airquality.Kind, r airquality.CleanedRecord) string {
	if kind == airquality.KindHistory {
		return table.Key([]any{r.City, r.Date})
	}
	var hour any
	if r.Hour != nil {
		hour = *r.Hour
	}
	return table.Key([]any{r.City, r.Date, hour, r.Station})
}

// Dedup keeps the first record per key and reports how many were removed.
func Dedup(kind airquality.Kind, records []airquality.CleanedRecord) ([]airquality.CleanedRecord, int) {
	seen := make(map[string]struct{}, len(records))
	out := make([]airquality.CleanedRecord, 0, len(records))
	for _, r := range records {
		k := DedupKey(kind, r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out, len(records) - len(out)
}

// ImputeMedian fills nil AQI and PM2.5 values with the median of the
// non-nil values of the same field. A field with no values stays nil.
func ImputeMedian(records []airquality.CleanedRecord) {
	fill := func(get func(*airquality.CleanedRecord) **float64) {
		var values []float64
		for i := range records {
			if v := *get(&records[i]); v != nil {
				values = append(values, *v)
			}
		}
		m, ok := median(values)
		if !ok {
			return
		}
		for i := range records {
			if p := get(&records[i]); *p == nil {
				*p = airquality.Float(m)
			}
		}
	}
	fill(func(r *airquality.CleanedRecord) **float64 { return &r.AQI })
	fill(func(r *airquality.CleanedRecord) **float64 { return &r.PM25 })
}

func median(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2, true
}

// outputColumns is the canonical column order.
var outputColumns = []string{
	airquality.ColCity,
	airquality.ColDate,
	airquality.ColHour,
	airquality.ColAQI,
	airquality.ColLevel,
	airquality.ColPM25,
}

// ToTable renders records in the canonical layout. The station column is
// appended only when some record carries one.
func ToTable(records []airquality.CleanedRecord) *table.Table {
	withStation := false
	for _, r := range records {
		if r.Station != "" {
			withStation = true
			break
		}
	}

	cols := outputColumns
	if withStation {
		cols = append(append([]string(nil), outputColumns...), airquality.ColStation)
	}
	t := table.New(cols...)
	for _, r := range records {
		row := []any{r.City, r.Date, nil, floatCell(r.AQI), textCell(r.Level), floatCell(r.PM25)}
		if r.Hour != nil {
			row[2] = *r.Hour
		}
		if withStation {
			row = append(row, textCell(r.Station))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// FromTable reads canonical records back from a cleaned table.
func FromTable(t *table.Table) []airquality.CleanedRecord {
	city := pick(t, []string{airquality.ColCity})
	date := pick(t, []string{airquality.ColDate})
	hour := pick(t, []string{airquality.ColHour})
	aqi := pick(t, []string{airquality.ColAQI})
	level := pick(t, []string{airquality.ColLevel})
	pm25 := pick(t, []string{airquality.ColPM25})
	station := pick(t, []string{airquality.ColStation})

	out := make([]airquality.CleanedRecord, 0, t.Len())
	for _, row := range t.Rows {
		r := airquality.CleanedRecord{
			City:    city.text(row),
			Date:    NormalizeDate(date.text(row)),
			Hour:    hour.hour(row),
			Level:   level.text(row),
			Station: station.text(row),
		}
		if f, ok := table.Float(aqi.cell(row)); ok {
			r.AQI = airquality.Float(f)
		}
		if f, ok := table.Float(pm25.cell(row)); ok {
			r.PM25 = airquality.Float(f)
		}
		out = append(out, r)
	}
	return out
}

func floatCell(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func textCell(s string) any {
	if s == "" {
		return nil
	}
	return s
}
