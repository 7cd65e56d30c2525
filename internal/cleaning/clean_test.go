package cleaning_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pm25forecast/pm25forecast/internal/airquality"
	"github.com/pm25forecast/pm25forecast/internal/cleaning"
	"github.com/pm25forecast/pm25forecast/internal/table"
)

func historyTable() *table.Table {
	t := table.New("日期", "质量等级", "AQI指数", "当天AQI排名", "PM2.5", "城市", "年份", "月份")
	t.Rows = [][]any{
		{"2024-01-01", "良", 80.0, 120.0, 55.0, "北京", int64(2024), int64(1)},
		{"2024-01-02", "优", 40.0, 20.0, nil, "北京", int64(2024), int64(1)},
		{"2024-01-02", "优", 41.0, 21.0, 25.0, "北京", int64(2024), int64(1)},
		{"2024-01-03", "轻度污染", "-", 200.0, 700.0, "北京", int64(2024), int64(1)},
		{"2024-01-04", "良", 60.0, 90.0, 35.0, "北京", int64(2024), int64(1)},
	}
	return t
}

func TestCleanHistory_CanonicalSchema(t *testing.T) {
	records := cleaning.CleanHistory(historyTable())

	require.Len(t, records, 4, "duplicate (city, date) keeps the first")
	first := records[0]
	assert.Equal(t, "北京", first.City)
	assert.Equal(t, "2024-01-01", first.Date)
	assert.Nil(t, first.Hour)
	assert.Equal(t, "良", first.Level)
	require.NotNil(t, first.AQI)
	assert.Equal(t, 80.0, *first.AQI, "AQI指数 wins over AQI")
}

func TestCleanHistory_KeepFirstThenImpute(t *testing.T) {
	records := cleaning.CleanHistory(historyTable())

	// PM2.5 values after dedup: 55, nil, nil (700 out of range), 35 -> median 45.
	second := records[1]
	assert.Equal(t, "2024-01-02", second.Date)
	require.NotNil(t, second.AQI)
	assert.Equal(t, 40.0, *second.AQI)
	require.NotNil(t, second.PM25)
	assert.Equal(t, 45.0, *second.PM25)

	third := records[2]
	require.NotNil(t, third.PM25)
	assert.Equal(t, 45.0, *third.PM25, "out-of-range value is nulled then imputed")
	require.NotNil(t, third.AQI)
	assert.Equal(t, 60.0, *third.AQI, "AQI median of 80, 40, 60")
}

func TestClean_NoNullsAfterImputation(t *testing.T) {
	raw := table.New("city", "date", "hour", "aqi", "pm25")
	raw.Rows = [][]any{
		{"天津", "2024-03-01", int64(1), nil, 10.0},
		{"天津", "2024-03-02", int64(2), 50.0, nil},
		{"天津", "2024-03-03", int64(3), "abc", "n/a"},
	}

	for _, records := range [][]airquality.CleanedRecord{cleaning.CleanRealtime(raw), cleaning.CleanHistory(raw)} {
		for _, r := range records {
			assert.NotNil(t, r.AQI)
			assert.NotNil(t, r.PM25)
		}
	}
}

func TestClean_AllMissingColumnStaysNil(t *testing.T) {
	raw := table.New("城市", "日期", "PM2.5")
	raw.Rows = [][]any{{"保定", "2024-01-01", nil}}

	records := cleaning.CleanHistory(raw)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].PM25)
	assert.Nil(t, records[0].AQI, "missing AQI column yields nil")
}

func TestCleanRealtime_StationInKey(t *testing.T) {
	raw := table.New("城市", "日期", "小时", "AQI", "空气质量等级", "PM2.5", "监测站点")
	raw.Rows = [][]any{
		{"北京", "2024-05-01", int64(10), 50.0, "优", 20.0, "东城"},
		{"北京", "2024-05-01", int64(10), 60.0, "良", 40.0, "西城"},
		{"北京", "2024-05-01", int64(10), 70.0, "良", 45.0, "东城"},
		{"北京", "2024-05-01", int64(11), 55.0, "良", 30.0, "东城"},
	}

	records := cleaning.CleanRealtime(raw)
	require.Len(t, records, 3)
	assert.Equal(t, "西城", records[1].Station)
	require.NotNil(t, records[2].Hour)
	assert.Equal(t, int64(11), *records[2].Hour)

	out := cleaning.ToTable(records)
	assert.Equal(t, []string{"城市", "日期", "小时", "AQI", "空气质量等级", "PM2.5", "监测站点"}, out.Columns)
}

func TestToTable_FromTable(t *testing.T) {
	records := cleaning.CleanHistory(historyTable())
	out := cleaning.ToTable(records)

	assert.Equal(t, []string{"城市", "日期", "小时", "AQI", "空气质量等级", "PM2.5"}, out.Columns)
	back := cleaning.FromTable(out)
	assert.Equal(t, records, back)
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct{ in, want string }{
		{"2024-01-05", "2024-01-05"},
		{"2024/1/5", "2024-01-05"},
		{"2024年01月05日", "2024-01-05"},
		{"20240105", "2024-01-05"},
		{"不是日期", "不是日期"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleaning.NormalizeDate(tt.in), tt.in)
	}
}

func writeRaw(t *testing.T, dir, name string, raw *table.Table) {
	t.Helper()
	require.NoError(t, table.WriteCSVFile(filepath.Join(dir, name), raw, false))
}

type recordingSaver struct {
	tables map[string]int
}

func (s *recordingSaver) Save(_ context.Context, name string, t *table.Table) (int, error) {
	if s.tables == nil {
		s.tables = make(map[string]int)
	}
	s.tables[name] += t.Len()
	return t.Len(), nil
}

func TestRunner_CleanDirectoryMerges(t *testing.T) {
	raw := t.TempDir()
	out := t.TempDir()

	a := table.New("日期", "AQI指数", "PM2.5", "城市")
	a.Rows = [][]any{
		{"2024-01-01", 80.0, 55.0, "北京"},
		{"2024-01-02", 60.0, 40.0, "北京"},
	}
	b := table.New("日期", "AQI指数", "PM2.5", "城市")
	b.Rows = [][]any{
		{"2024-01-02", 99.0, 99.0, "北京"},
		{"2024-01-03", 70.0, 50.0, "北京"},
	}
	writeRaw(t, raw, "2024_北京_history.csv", a)
	writeRaw(t, raw, "2024_北京_history_b.csv", b)
	require.NoError(t, os.WriteFile(filepath.Join(raw, "notes.txt"), []byte("skip"), 0o644))

	saver := &recordingSaver{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC))
	runner := cleaning.NewRunner(cleaning.RunnerConfig{
		Store:          saver,
		OutputDir:      out,
		SaveIndividual: true,
		Logger:         zerolog.Nop(),
		Clock:          clock,
	})

	report, err := runner.CleanDirectory(context.Background(), airquality.KindHistory, raw)
	require.NoError(t, err)

	assert.Len(t, report.Files, 2)
	assert.Equal(t, 3, report.Merged)
	assert.Equal(t, 1, report.Eliminated)
	assert.Equal(t, filepath.Join(out, "20261014_093000_history_merged.csv"), report.MergedPath)
	assert.Equal(t, 3, saver.tables["history_merged"])
	assert.Equal(t, 4, saver.tables["history_processed"])

	merged, err := table.ReadCSVFile(report.MergedPath)
	require.NoError(t, err)
	require.Equal(t, 3, merged.Len())
	assert.Equal(t, int64(60), merged.Get(1, "AQI"), "earlier file wins the duplicate key")

	processed, err := table.ReadCSVFile(filepath.Join(out, "20261014_093000_history_processed.csv"))
	require.NoError(t, err)
	assert.Equal(t, 4, processed.Len())
}

func TestRunner_EmptyDirectory(t *testing.T) {
	runner := cleaning.NewRunner(cleaning.RunnerConfig{Logger: zerolog.Nop(), OutputDir: t.TempDir()})

	_, err := runner.CleanDirectory(context.Background(), airquality.KindRealtime, t.TempDir())
	assert.ErrorIs(t, err, cleaning.ErrNoInput)
}

func TestExportLSTM(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	a := table.New("城市", "日期", "PM2.5")
	a.Rows = [][]any{{"北京", "2024-01-01", 10.0}}
	b := table.New("城市", "日期", "AQI")
	b.Rows = [][]any{{"天津", "2024-01-01", 30.0}, {"天津", "2024-01-02", 40.0}}
	writeRaw(t, src, "a.csv", a)
	writeRaw(t, src, "b.csv", b)

	path, n, err := cleaning.ExportLSTM(src, dst, time.Date(2026, 1, 19, 15, 0, 28, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dst, "20260119_150028_LstmData.csv"), path)
	assert.Equal(t, 3, n)

	combined, err := table.ReadCSVFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"城市", "日期", "PM2.5", "AQI"}, combined.Columns)
}

func TestLoadMerged_PicksNewest(t *testing.T) {
	raw := t.TempDir()
	out := t.TempDir()
	a := table.New("日期", "AQI指数", "PM2.5", "城市")
	a.Rows = [][]any{{"2024-01-01", 80.0, 55.0, "北京"}}
	writeRaw(t, raw, "2024_北京_history.csv", a)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC))
	runner := cleaning.NewRunner(cleaning.RunnerConfig{OutputDir: out, Logger: zerolog.Nop(), Clock: clock})
	_, err := runner.CleanDirectory(context.Background(), airquality.KindHistory, raw)
	require.NoError(t, err)

	a.Rows = append(a.Rows, []any{"2024-01-02", 60.0, 40.0, "北京"})
	writeRaw(t, raw, "2024_北京_history.csv", a)
	clock.Advance(time.Hour)
	_, err = runner.CleanDirectory(context.Background(), airquality.KindHistory, raw)
	require.NoError(t, err)

	records, path, err := cleaning.LoadMerged(out, airquality.KindHistory)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "20261014_103000_history_merged.csv"), path)
	assert.Len(t, records, 2)

	_, _, err = cleaning.LoadMerged(out, airquality.KindRealtime)
	assert.ErrorIs(t, err, cleaning.ErrNoInput)
}
