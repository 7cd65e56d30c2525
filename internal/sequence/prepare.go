package sequence

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pm25forecast/pm25forecast/internal/airquality"
	"github.com/pm25forecast/pm25forecast/internal/table"
)

// ErrUnknownCity is returned when no record matches the requested city.
var ErrUnknownCity = errors.New("city has no records")

// SupervisedFeatures is the model input layout built by CityFrame.
var SupervisedFeatures = []string{
	"AQI", "PM2.5", "year", "month", "day", "weekday",
	"pm25_lag_1", "pm25_lag_3", "pm25_roll_7_mean",
}

// TargetColumn is the forecast target.
const TargetColumn = "PM2.5"

func bareCity(name string) string {
	return strings.TrimSuffix(strings.TrimSpace(name), "市")
}

// Cities lists distinct city names in first-seen order.
func Cities(records []airquality.CleanedRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		c := bareCity(r.City)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

type dailyRow struct {
	date time.Time
	aqi  *float64
	pm25 *float64
}

// CityFrame builds the supervised frame for one city from cleaned daily
// records. City names match with or without the 市 suffix. Rows are
// deduplicated by date (first wins) and sorted; lag and rolling features
// look back over earlier rows only. Rows with any missing value are dropped.
func CityFrame(records []airquality.CleanedRecord, city string) (*Frame, error) {
	want := bareCity(city)
	seen := make(map[time.Time]struct{})
	var rows []dailyRow
	for _, r := range records {
		if bareCity(r.City) != want {
			continue
		}
		d, err := time.Parse(time.DateOnly, r.Date)
		if err != nil {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		rows = append(rows, dailyRow{date: d, aqi: r.AQI, pm25: r.PM25})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", city, ErrUnknownCity)
	}

	sort.SliceStable(rows, func(a, b int) bool { return rows[a].date.Before(rows[b].date) })

	pm := make([]*float64, len(rows))
	for i, r := range rows {
		pm[i] = r.pm25
	}

	out := &Frame{FeatureNames: SupervisedFeatures}
	for i, r := range rows {
		d := r.date
		lag1, lag3 := lag(pm, i, 1), lag(pm, i, 3)
		roll := trailingMean(pm, i, 7)
		if r.aqi == nil || r.pm25 == nil || lag1 == nil || lag3 == nil || roll == nil {
			continue
		}
		out.Dates = append(out.Dates, d)
		out.Features = append(out.Features, []float64{
			*r.aqi, *r.pm25,
			float64(d.Year()), float64(d.Month()), float64(d.Day()),
			float64((int(d.Weekday()) + 6) % 7),
			*lag1, *lag3, *roll,
		})
		out.Target = append(out.Target, *r.pm25)
	}
	return out, nil
}

func lag(values []*float64, i, k int) *float64 {
	if i-k < 0 {
		return nil
	}
	return values[i-k]
}

// trailingMean is the mean of rows (i-window, i], nil unless all are present.
func trailingMean(values []*float64, i, window int) *float64 {
	if i+1 < window {
		return nil
	}
	var sum float64
	for k := i - window + 1; k <= i; k++ {
		if values[k] == nil {
			return nil
		}
		sum += *values[k]
	}
	m := sum / float64(window)
	return &m
}

// SamplesTable flattens windows into one row per (sample, step).
func SamplesTable(p Partition, featureNames []string) *table.Table {
	cols := append([]string{"sample", "step", "label_date", "label"}, featureNames...)
	t := table.New(cols...)
	for i, s := range p.Samples {
		for step, x := range s.X {
			row := make([]any, 0, len(cols))
			row = append(row, int64(i), int64(step), s.Date.Format(time.DateOnly), s.Y)
			for _, v := range x {
				row = append(row, v)
			}
			t.Rows = append(t.Rows, row)
		}
	}
	return t
}

// WriteSamples writes {name}_samples.csv for every partition into dir.
func (d *Dataset) WriteSamples(dir string) ([]string, error) {
	var paths []string
	for _, p := range []Partition{d.Train, d.Val, d.Test} {
		path := filepath.Join(dir, p.Name+"_samples.csv")
		if err := table.WriteCSVFile(path, SamplesTable(p, d.FeatureNames), false); err != nil {
			return paths, fmt.Errorf("write %s samples: %w", p.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Summary describes partition sizes.
func (d *Dataset) Summary() string {
	return "train=" + strconv.Itoa(len(d.Train.Samples)) +
		" val=" + strconv.Itoa(len(d.Val.Samples)) +
		" test=" + strconv.Itoa(len(d.Test.Samples))
}
