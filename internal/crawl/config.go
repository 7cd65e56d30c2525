// Package crawl drives the history and realtime sources city by city,
// accumulates the fetched tables and flushes them to CSV files and storage.
package crawl

import (
	"time"
)

// Default table names written by the crawlers.
const (
	HistoryTable  = "history_data"
	RealtimeTable = "realtime_data"
)

// Pause is a randomized delay of Base plus a uniform draw from [Min, Max).
// The zero Pause disables the delay.
type Pause struct {
	Base time.Duration
	Min  time.Duration
	Max  time.Duration
}

// Duration returns the delay for a uniform draw u in [0, 1).
func (p Pause) Duration(u float64) time.Duration {
	spread := p.Max - p.Min
	if spread < 0 {
		spread = 0
	}
	return p.Base + p.Min + time.Duration(u*float64(spread))
}

// IsZero reports whether the pause never waits.
func (p Pause) IsZero() bool {
	return p.Base <= 0 && p.Min <= 0 && p.Max <= 0
}

// HistoryConfig holds configuration for the history crawl.
type HistoryConfig struct {
	// StartYear and EndYear bound the crawled months. Months after the
	// current month are never requested.
	StartYear int
	EndYear   int

	// BatchSize is the number of cities processed between flushes.
	// Default: 1
	BatchSize int

	// OutputDir receives the {year}_{city}_history.csv files.
	OutputDir string

	// Table is the storage table name.
	// Default: history_data
	Table string

	// SaveToDB enables the storage write of each flush.
	SaveToDB bool

	// BetweenMonths, BetweenCities and BetweenBatches are the politeness
	// delays of the history source.
	BetweenMonths  Pause
	BetweenCities  Pause
	BetweenBatches Pause
}

// DefaultHistoryConfig returns the history configuration for a base request
// interval.
func DefaultHistoryConfig(interval time.Duration) HistoryConfig {
	return HistoryConfig{
		StartYear:      2013,
		EndYear:        time.Now().Year(),
		BatchSize:      1,
		Table:          HistoryTable,
		SaveToDB:       true,
		BetweenMonths:  Pause{Base: interval, Min: 500 * time.Millisecond, Max: 1500 * time.Millisecond},
		BetweenCities:  Pause{Base: 2 * interval, Min: time.Second, Max: 3 * time.Second},
		BetweenBatches: Pause{Min: 5 * time.Second, Max: 10 * time.Second},
	}
}

// RealtimeConfig holds configuration for the realtime crawl.
type RealtimeConfig struct {
	// BatchSize is the number of cities processed between flushes.
	// Zero flushes once at the end of the run.
	BatchSize int

	// OutputDir receives the realtime_{region}_{YYYYMMDD_HHMM}.csv files.
	OutputDir string

	// Region names the crawled area in output file names.
	Region string

	// Table is the storage table name.
	// Default: realtime_data
	Table string

	// SaveToDB enables the storage write of each flush.
	SaveToDB bool

	// BetweenCities is the politeness delay of the realtime source.
	BetweenCities Pause
}

// DefaultRealtimeConfig returns the default realtime configuration.
func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		Region:        "京津冀",
		Table:         RealtimeTable,
		SaveToDB:      true,
		BetweenCities: Pause{Min: 1500 * time.Millisecond, Max: 3500 * time.Millisecond},
	}
}
