package sequence_test

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pm25forecast/pm25forecast/internal/airquality"
	"github.com/pm25forecast/pm25forecast/internal/sequence"
	"github.com/pm25forecast/pm25forecast/internal/table"
)

func day(i int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

// trendingFrame has a feature and target that rise over time so partition
// statistics differ from the whole.
func trendingFrame(n int) *sequence.Frame {
	f := &sequence.Frame{FeatureNames: []string{"a", "b"}}
	for i := 0; i < n; i++ {
		f.Dates = append(f.Dates, day(i))
		f.Features = append(f.Features, []float64{float64(i), float64(i%5) * 3})
		f.Target = append(f.Target, 10+float64(i)*2)
	}
	return f
}

func TestSplit_ChronologicalInvariance(t *testing.T) {
	ratios := []sequence.Ratios{
		{Train: 0.7, Val: 0.15, Test: 0.15},
		{Train: 0.5, Val: 0.25, Test: 0.25},
		{Train: 0.8, Val: 0.2, Test: 0},
		{Train: 1, Val: 0, Test: 0},
		{Train: 0.34, Val: 0.33, Test: 0.33},
	}
	for _, n := range []int{1, 2, 7, 10, 37, 100} {
		for _, r := range ratios {
			t.Run(fmt.Sprintf("n=%d/%v", n, r), func(t *testing.T) {
				f := trendingFrame(n)
				// reverse so Split has to sort
				for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
					f.Dates[i], f.Dates[j] = f.Dates[j], f.Dates[i]
					f.Features[i], f.Features[j] = f.Features[j], f.Features[i]
					f.Target[i], f.Target[j] = f.Target[j], f.Target[i]
				}

				train, val, test, err := sequence.Split(f, r)
				require.NoError(t, err)
				assert.Equal(t, n, train.Len()+val.Len()+test.Len())

				parts := []*sequence.Frame{train, val, test}
				var prev time.Time
				for _, p := range parts {
					for _, d := range p.Dates {
						assert.False(t, d.Before(prev), "dates must not go backwards across partitions")
						prev = d
					}
				}
			})
		}
	}
}

func TestSplit_Positions(t *testing.T) {
	trainEnd, valEnd, err := sequence.SplitPoints(100, sequence.DefaultRatios())
	require.NoError(t, err)
	assert.Equal(t, 70, trainEnd)
	assert.Equal(t, 85, valEnd)

	_, _, err = sequence.SplitPoints(10, sequence.Ratios{Train: 0.5, Val: 0.5, Test: 0.5})
	assert.ErrorIs(t, err, sequence.ErrInvalidRatios)
	_, _, err = sequence.SplitPoints(10, sequence.Ratios{Train: 1.2, Val: -0.2})
	assert.ErrorIs(t, err, sequence.ErrInvalidRatios)
}

func TestWindows_Correctness(t *testing.T) {
	for _, n := range []int{0, 3, 7, 8, 20} {
		for _, lookback := range []int{1, 3, 7} {
			x := make([][]float64, n)
			y := make([]float64, n)
			for i := range x {
				x[i] = []float64{float64(i)}
				y[i] = float64(i) * 10
			}

			samples := sequence.Windows(x, y, nil, lookback)
			if n <= lookback {
				assert.Empty(t, samples)
				continue
			}
			require.Len(t, samples, n-lookback)
			for i, s := range samples {
				assert.Equal(t, y[i+lookback], s.Y)
				require.Len(t, s.X, lookback)
				assert.Equal(t, float64(i), s.X[0][0])
				assert.Equal(t, float64(i+lookback-1), s.X[lookback-1][0])
			}
		}
	}
}

func TestScaler_PopulationStdAndZeroVariance(t *testing.T) {
	s := &sequence.StandardScaler{}
	require.NoError(t, s.Fit([][]float64{{1, 5}, {3, 5}}))

	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Scale)

	out, err := s.Transform([][]float64{{1, 5}, {3, 7}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{-1, 0}, {1, 2}}, out)
}

func TestScaler_NotFitted(t *testing.T) {
	_, err := (&sequence.StandardScaler{}).Transform([][]float64{{1}})
	assert.ErrorIs(t, err, sequence.ErrNotFitted)
}

func TestBuilder_ScalerFitOnTrainOnly(t *testing.T) {
	dir := t.TempDir()
	f := trendingFrame(100)

	builder := sequence.NewBuilder(sequence.BuilderConfig{Lookback: 7, Dir: dir, Logger: zerolog.Nop()})
	ds, err := builder.Build(f)
	require.NoError(t, err)

	full := &sequence.StandardScaler{}
	require.NoError(t, full.Fit(trendingFrame(100).Features))
	assert.NotEqual(t, full.Mean, ds.FeatureScaler.Mean)
	assert.NotEqual(t, full.Scale, ds.FeatureScaler.Scale)
	assert.InDelta(t, 34.5, ds.FeatureScaler.Mean[0], 1e-9, "mean of rows 0..69")

	assert.Equal(t, 70, ds.Train.Rows)
	assert.Equal(t, 15, ds.Val.Rows)
	assert.Equal(t, 15, ds.Test.Rows)
	assert.Len(t, ds.Train.Samples, 63)
	assert.Len(t, ds.Val.Samples, 8)
	assert.Len(t, ds.Test.Samples, 8)
	assert.Equal(t, day(77), ds.Val.Samples[0].Date)

	loaded, err := sequence.LoadScaler(filepath.Join(dir, sequence.FeatureScalerFile))
	require.NoError(t, err)
	assert.Equal(t, ds.FeatureScaler, loaded)
	_, err = sequence.LoadScaler(filepath.Join(dir, sequence.TargetScalerFile))
	require.NoError(t, err)
}

func TestBuilder_TargetRoundTrip(t *testing.T) {
	f := trendingFrame(40)
	original := append([]float64(nil), f.Target...)

	ds, err := sequence.NewBuilder(sequence.BuilderConfig{Logger: zerolog.Nop()}).Build(f)
	require.NoError(t, err)

	scaled := make([]float64, 0, len(ds.Train.Samples))
	want := make([]float64, 0, len(ds.Train.Samples))
	for i, s := range ds.Train.Samples {
		scaled = append(scaled, s.Y)
		want = append(want, original[i+ds.Lookback])
	}
	back, err := ds.InverseTarget(scaled)
	require.NoError(t, err)
	require.Len(t, back, len(want))
	for i := range want {
		assert.InDelta(t, want[i], back[i], 1e-9)
	}
}

func TestBuilder_Empty(t *testing.T) {
	_, err := sequence.NewBuilder(sequence.BuilderConfig{}).Build(&sequence.Frame{})
	assert.ErrorIs(t, err, sequence.ErrEmptyFrame)
}

func cleaned(city string, values ...float64) []airquality.CleanedRecord {
	out := make([]airquality.CleanedRecord, len(values))
	for i, v := range values {
		out[i] = airquality.CleanedRecord{City: city, Date: day(i).Format(time.DateOnly)}
		if !math.IsNaN(v) {
			out[i].PM25 = airquality.Float(v)
			out[i].AQI = airquality.Float(v * 1.5)
		}
	}
	return out
}

func TestCityFrame_LagsAndDrops(t *testing.T) {
	records := append(cleaned("北京市", 10, 20, 30, 40, 50, 60, 70, 80, 90), cleaned("天津", 1, 2)...)

	f, err := sequence.CityFrame(records, "北京")
	require.NoError(t, err)
	require.Equal(t, 3, f.Len(), "first six rows lack a full seven-day window")

	assert.Equal(t, sequence.SupervisedFeatures, f.FeatureNames)
	first := f.Features[0]
	assert.Equal(t, 105.0, first[0])
	assert.Equal(t, 70.0, first[1])
	assert.Equal(t, 2024.0, first[2])
	assert.Equal(t, 60.0, first[6], "lag 1")
	assert.Equal(t, 40.0, first[7], "lag 3")
	assert.InDelta(t, 40.0, first[8], 1e-9, "mean of 10..70")
	assert.Equal(t, 70.0, f.Target[0])
	assert.Equal(t, day(6), f.Dates[0])

	_, err = sequence.CityFrame(records, "石家庄")
	assert.ErrorIs(t, err, sequence.ErrUnknownCity)
	assert.Equal(t, []string{"北京", "天津"}, sequence.Cities(records))
}

func TestCityFrame_GapDropsDependentRows(t *testing.T) {
	records := cleaned("北京", 10, 20, 30, 40, 50, 60, 70, 80, math.NaN(), 100, 110)

	f, err := sequence.CityFrame(records, "北京市")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(6), day(7)}, f.Dates)
}

func TestDataset_WriteSamples(t *testing.T) {
	dir := t.TempDir()
	ds, err := sequence.NewBuilder(sequence.BuilderConfig{Lookback: 3}).Build(trendingFrame(30))
	require.NoError(t, err)

	paths, err := ds.WriteSamples(dir)
	require.NoError(t, err)
	require.Len(t, paths, 3)

	train, err := table.ReadCSVFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"sample", "step", "label_date", "label", "a", "b"}, train.Columns)
	assert.Equal(t, len(ds.Train.Samples)*3, train.Len())
	assert.Contains(t, ds.Summary(), "train=18")
}
