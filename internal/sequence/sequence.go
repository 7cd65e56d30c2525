// Package sequence builds causal sliding-window datasets for next-day
// PM2.5 forecasting.
package sequence

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Scaler file names written under the dataset directory.
const (
	FeatureScalerFile = "feature_scaler.json"
	TargetScalerFile  = "target_scaler.json"
)

var (
	ErrInvalidRatios = errors.New("split ratios must be non-negative and sum to 1")
	ErrEmptyFrame    = errors.New("frame has no rows")
)

// Frame is a date-indexed feature matrix with its target column.
type Frame struct {
	FeatureNames []string
	Dates        []time.Time
	Features     [][]float64
	Target       []float64
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Dates)
}

// slice returns rows [start, end).
func (f *Frame) slice(start, end int) *Frame {
	return &Frame{
		FeatureNames: f.FeatureNames,
		Dates:        f.Dates[start:end],
		Features:     f.Features[start:end],
		Target:       f.Target[start:end],
	}
}

// sortByDate orders rows chronologically, keeping the order of equal dates.
func (f *Frame) sortByDate() {
	idx := make([]int, f.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return f.Dates[idx[a]].Before(f.Dates[idx[b]]) })

	dates := make([]time.Time, len(idx))
	features := make([][]float64, len(idx))
	target := make([]float64, len(idx))
	for i, j := range idx {
		dates[i], features[i], target[i] = f.Dates[j], f.Features[j], f.Target[j]
	}
	f.Dates, f.Features, f.Target = dates, features, target
}

// Ratios are the train/validation/test shares.
type Ratios struct {
	Train float64
	Val   float64
	Test  float64
}

// DefaultRatios returns the 70/15/15 split.
func DefaultRatios() Ratios {
	return Ratios{Train: 0.7, Val: 0.15, Test: 0.15}
}

// Validate checks the ratios are non-negative and sum to 1.
func (r Ratios) Validate() error {
	if r.Train < 0 || r.Val < 0 || r.Test < 0 || math.Abs(r.Train+r.Val+r.Test-1) > 1e-6 {
		return ErrInvalidRatios
	}
	return nil
}

// SplitPoints returns the end positions of the train and validation
// partitions for n rows. The test partition takes the remainder.
func SplitPoints(n int, r Ratios) (trainEnd, valEnd int, err error) {
	if err := r.Validate(); err != nil {
		return 0, 0, err
	}
	trainEnd = int(float64(n) * r.Train)
	valEnd = trainEnd + int(float64(n)*r.Val)
	if valEnd > n {
		valEnd = n
	}
	return trainEnd, valEnd, nil
}

// Split sorts the frame by date and cuts it into train, validation and test
// partitions by position. Rows are never shuffled.
func Split(f *Frame, r Ratios) (train, val, test *Frame, err error) {
	trainEnd, valEnd, err := SplitPoints(f.Len(), r)
	if err != nil {
		return nil, nil, nil, err
	}
	f.sortByDate()
	return f.slice(0, trainEnd), f.slice(trainEnd, valEnd), f.slice(valEnd, f.Len()), nil
}

// Sample is one lookback window and the target of the following row.
type Sample struct {
	X    [][]float64
	Y    float64
	Date time.Time // date of the labelled row
}

// Windows yields len(x)-lookback samples; sample i covers rows [i, i+lookback)
// and is labelled with y[i+lookback]. It yields none when len(x) <= lookback.
func Windows(x [][]float64, y []float64, dates []time.Time, lookback int) []Sample {
	n := len(x) - lookback
	if lookback < 1 || n <= 0 {
		return nil
	}
	samples := make([]Sample, n)
	for i := 0; i < n; i++ {
		samples[i] = Sample{X: x[i : i+lookback], Y: y[i+lookback]}
		if len(dates) > i+lookback {
			samples[i].Date = dates[i+lookback]
		}
	}
	return samples
}

// Partition is one split with its windows.
type Partition struct {
	Name    string
	Rows    int
	Samples []Sample
}

// Dataset is the standardized, windowed output of a Builder.
type Dataset struct {
	FeatureNames  []string
	Lookback      int
	Train         Partition
	Val           Partition
	Test          Partition
	FeatureScaler *StandardScaler
	TargetScaler  *StandardScaler
}

// BuilderConfig holds configuration for creating a Builder.
type BuilderConfig struct {
	// Lookback is the window length. Default: 7
	Lookback int

	Ratios Ratios

	// Dir receives the scaler files. Empty skips persistence.
	Dir string

	Logger zerolog.Logger
}

// Builder produces datasets from frames.
type Builder struct {
	lookback int
	ratios   Ratios
	dir      string
	logger   zerolog.Logger
}

// NewBuilder creates a dataset builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 7
	}
	if cfg.Ratios == (Ratios{}) {
		cfg.Ratios = DefaultRatios()
	}
	return &Builder{
		lookback: cfg.Lookback,
		ratios:   cfg.Ratios,
		dir:      cfg.Dir,
		logger:   cfg.Logger,
	}
}

// Build splits the frame, fits both scalers on the training rows only,
// transforms every partition with them and windows each partition on its own.
func (b *Builder) Build(f *Frame) (*Dataset, error) {
	if f.Len() == 0 {
		return nil, ErrEmptyFrame
	}
	train, val, test, err := Split(f, b.ratios)
	if err != nil {
		return nil, err
	}
	if train.Len() == 0 {
		return nil, fmt.Errorf("training partition is empty for %d rows", f.Len())
	}

	featureScaler := &StandardScaler{}
	if err := featureScaler.Fit(train.Features); err != nil {
		return nil, fmt.Errorf("fit feature scaler: %w", err)
	}
	targetScaler := &StandardScaler{}
	if err := targetScaler.Fit(column(train.Target)); err != nil {
		return nil, fmt.Errorf("fit target scaler: %w", err)
	}

	ds := &Dataset{
		FeatureNames:  f.FeatureNames,
		Lookback:      b.lookback,
		FeatureScaler: featureScaler,
		TargetScaler:  targetScaler,
	}
	for _, p := range []struct {
		name  string
		frame *Frame
		dst   *Partition
	}{
		{"train", train, &ds.Train},
		{"val", val, &ds.Val},
		{"test", test, &ds.Test},
	} {
		x, err := featureScaler.Transform(p.frame.Features)
		if err != nil {
			return nil, fmt.Errorf("transform %s features: %w", p.name, err)
		}
		y, err := targetScaler.Transform(column(p.frame.Target))
		if err != nil {
			return nil, fmt.Errorf("transform %s target: %w", p.name, err)
		}
		*p.dst = Partition{
			Name:    p.name,
			Rows:    p.frame.Len(),
			Samples: Windows(x, flatten(y), p.frame.Dates, b.lookback),
		}
	}

	if b.dir != "" {
		if err := featureScaler.Save(filepath.Join(b.dir, FeatureScalerFile)); err != nil {
			return nil, fmt.Errorf("save feature scaler: %w", err)
		}
		if err := targetScaler.Save(filepath.Join(b.dir, TargetScalerFile)); err != nil {
			return nil, fmt.Errorf("save target scaler: %w", err)
		}
	}

	b.logger.Info().
		Int("rows", f.Len()).
		Int("lookback", b.lookback).
		Int("train_samples", len(ds.Train.Samples)).
		Int("val_samples", len(ds.Val.Samples)).
		Int("test_samples", len(ds.Test.Samples)).
		Msg("dataset built")
	return ds, nil
}

// InverseTarget maps standardized target values back to µg/m³.
func (d *Dataset) InverseTarget(values []float64) ([]float64, error) {
	rows, err := d.TargetScaler.InverseTransform(column(values))
	if err != nil {
		return nil, err
	}
	return flatten(rows), nil
}
