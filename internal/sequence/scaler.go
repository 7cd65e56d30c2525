package sequence

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// ErrNotFitted is returned when a scaler is used before Fit.
var ErrNotFitted = errors.New("scaler is not fitted")

// StandardScaler standardizes columns to zero mean and unit variance using
// the population standard deviation. A zero deviation scales by 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fit computes per-column statistics over rows.
func (s *StandardScaler) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return errors.New("fit scaler: no rows")
	}
	width := len(rows[0])
	mean := make([]float64, width)
	for _, row := range rows {
		if len(row) != width {
			return fmt.Errorf("fit scaler: ragged row of %d columns, want %d", len(row), width)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(rows))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, width)
	for _, row := range rows {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}

	s.Mean, s.Scale = mean, scale
	return nil
}

// Transform returns standardized copies of rows.
func (s *StandardScaler) Transform(rows [][]float64) ([][]float64, error) {
	return s.apply(rows, func(v, mean, scale float64) float64 { return (v - mean) / scale })
}

// InverseTransform maps standardized rows back to the original units.
func (s *StandardScaler) InverseTransform(rows [][]float64) ([][]float64, error) {
	return s.apply(rows, func(v, mean, scale float64) float64 { return v*scale + mean })
}

func (s *StandardScaler) apply(rows [][]float64, f func(v, mean, scale float64) float64) ([][]float64, error) {
	if len(s.Mean) == 0 {
		return nil, ErrNotFitted
	}
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("row %d has %d columns, scaler has %d", i, len(row), len(s.Mean))
		}
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = f(v, s.Mean[j], s.Scale[j])
		}
	}
	return out, nil
}

// Save writes the scaler as JSON.
func (s *StandardScaler) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create scaler directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadScaler reads a scaler written by Save.
func LoadScaler(path string) (*StandardScaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s StandardScaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scaler %s: %w", path, err)
	}
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Scale) {
		return nil, fmt.Errorf("decode scaler %s: %w", path, ErrNotFitted)
	}
	return &s, nil
}

func column(values []float64) [][]float64 {
	out := make([][]float64, len(values))
	for i, v := range values {
		out[i] = []float64{v}
	}
	return out
}

func flatten(rows [][]float64) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		out[i] = row[0]
	}
	return out
}
