// Package features derives the temporal, event, spatial, policy and health
// feature families from a full history of daily city observations.
//
// Every run recomputes the whole history. Records are grouped into one
// contiguous arena per city, sorted by date, and each family walks the
// arenas with explicit indices.
package features

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pm25forecast/pm25forecast/internal/airquality"
)

// Observation is one daily city reading fed to the engine.
type Observation struct {
	City  string
	Date  time.Time
	AQI   *float64
	PM25  *float64
	Level string
}

// Record is an observation with every derived field.
type Record struct {
	Observation

	// Temporal
	Year         int
	Month        int
	Day          int
	Weekday      int // Monday = 0
	Quarter      int
	IsWeekend    bool
	Season       int // 1 spring, 2 summer, 3 autumn, 4 winter
	RollingAvg7  *float64
	RollingAvg30 *float64
	Trend30      *float64
	YearOverYear *float64

	// Event
	EventID       string
	EventDuration int
	PeakIntensity float64
	SeverityIndex float64

	// Spatial
	RegionalAvg  *float64
	Deviation    *float64
	RegionalRank *int
	Hotspot      bool

	// Policy
	PolicyPeriod string
	SpecialEvent bool

	// Health
	AQICategory string
	Exceed35    bool
	Exceed75    bool
	Exposure7   int
	Exposure30  int
	Exposure365 int
	Burden365   float64
}

// Config holds the engine thresholds and reference tables.
type Config struct {
	// EventThreshold marks a day as polluted when PM2.5 exceeds it.
	// Default: 75
	EventThreshold float64

	// MinEventDuration is the number of polluted days an event needs to be
	// kept. Default: 3
	MinEventDuration int

	// MaxBreak is how many days ahead a dip may look for the next polluted
	// day before the event closes. Default: 2
	MaxBreak int

	// HotspotRank, HotspotDeviation and HotspotDays define a hotspot run.
	// Defaults: rank 5, deviation 30%, 3 days
	HotspotRank      int
	HotspotDeviation float64
	HotspotDays      int

	// ValidMax bounds PM2.5; values outside [0, ValidMax] are missing.
	// Default: 1000
	ValidMax float64

	PolicyPeriods []Period
	SpecialEvents []Period

	Logger zerolog.Logger
}

// DefaultConfig returns the default thresholds and reference tables.
func DefaultConfig() Config {
	return Config{
		EventThreshold:   airquality.PM25Polluted,
		MinEventDuration: 3,
		MaxBreak:         2,
		HotspotRank:      5,
		HotspotDeviation: 30,
		HotspotDays:      3,
		ValidMax:         airquality.MaxFeatureValue,
		PolicyPeriods:    DefaultPolicyPeriods(),
		SpecialEvents:    DefaultSpecialEvents(),
		Logger:           zerolog.Nop(),
	}
}

// Engine computes features over a full history.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine, filling unset thresholds with defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.EventThreshold == 0 {
		cfg.EventThreshold = def.EventThreshold
	}
	if cfg.MinEventDuration == 0 {
		cfg.MinEventDuration = def.MinEventDuration
	}
	if cfg.MaxBreak == 0 {
		cfg.MaxBreak = def.MaxBreak
	}
	if cfg.HotspotRank == 0 {
		cfg.HotspotRank = def.HotspotRank
	}
	if cfg.HotspotDeviation == 0 {
		cfg.HotspotDeviation = def.HotspotDeviation
	}
	if cfg.HotspotDays == 0 {
		cfg.HotspotDays = def.HotspotDays
	}
	if cfg.ValidMax == 0 {
		cfg.ValidMax = def.ValidMax
	}
	return &Engine{cfg: cfg}
}

// Result holds the featured records, in city then date order, and the
// policy side report.
type Result struct {
	Records       []Record
	Events        int
	Cities        []string
	PolicyEffects []PolicyEffect
}

// arena is the contiguous [start, end) slice of one city's records.
type arena struct {
	city       string
	start, end int
}

// Run computes every feature family over the observations.
func (e *Engine) Run(observations []Observation) *Result {
	records := make([]Record, 0, len(observations))
	for _, o := range observations {
		if o.City == "" || o.Date.IsZero() {
			continue
		}
		r := Record{Observation: o}
		if r.PM25 != nil && !airquality.InRange(*r.PM25, e.cfg.ValidMax) {
			r.PM25 = nil
		}
		records = append(records, r)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].City != records[j].City {
			return records[i].City < records[j].City
		}
		return records[i].Date.Before(records[j].Date)
	})
	arenas := buildArenas(records)

	res := &Result{Records: records}
	for _, a := range arenas {
		res.Cities = append(res.Cities, a.city)
	}

	for _, a := range arenas {
		city := records[a.start:a.end]
		temporalFeatures(city)
		healthFeatures(city)
	}

	counter := 0
	for _, a := range arenas {
		counter = e.detectEvents(records[a.start:a.end], counter)
	}
	res.Events = counter

	e.spatialFeatures(records, arenas)
	e.policyFeatures(records)
	res.PolicyEffects = e.policyEffects(records)

	e.cfg.Logger.Info().
		Int("records", len(records)).
		Int("cities", len(arenas)).
		Int("events", res.Events).
		Msg("features computed")
	return res
}

func buildArenas(records []Record) []arena {
	var arenas []arena
	for i := 0; i < len(records); {
		j := i
		for j < len(records) && records[j].City == records[i].City {
			j++
		}
		arenas = append(arenas, arena{city: records[i].City, start: i, end: j})
		i = j
	}
	return arenas
}

// CanonicalCity gives prefecture names their 市 suffix.
func CanonicalCity(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasSuffix(name, "市") {
		return name
	}
	return name + "市"
}

// FromCleaned converts cleaned daily records, canonicalizing city names.
// Records whose date cannot be parsed are skipped and counted.
func FromCleaned(records []airquality.CleanedRecord) ([]Observation, int) {
	out := make([]Observation, 0, len(records))
	skipped := 0
	for _, r := range records {
		d, err := time.Parse(time.DateOnly, r.Date)
		if err != nil || r.City == "" {
			skipped++
			continue
		}
		out = append(out, Observation{
			City:  CanonicalCity(r.City),
			Date:  d,
			AQI:   r.AQI,
			PM25:  r.PM25,
			Level: r.Level,
		})
	}
	return out, skipped
}
