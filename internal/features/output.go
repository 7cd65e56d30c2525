package features

import (
	"time"

	"github.com/pm25forecast/pm25forecast/internal/table"
)

// Columns is the layout of the featured table.
var Columns = []string{
	"city", "date", "aqi", "pm25", "quality_level",
	"year", "month", "day", "dayofweek", "quarter", "is_weekend", "season",
	"rolling_avg_7d", "rolling_avg_30d", "trend_30d", "year_over_year_change",
	"pollution_event_id", "event_duration", "peak_intensity", "event_severity_index",
	"regional_avg_pm25", "deviation_from_regional_avg", "regional_rank", "is_regional_hotspot",
	"policy_period", "special_event_flag",
	"aqi_category", "exceedance_flag_35", "exceedance_flag_75",
	"cumulative_exposure_7d", "cumulative_exposure_30d", "cumulative_exposure_365d",
	"exceedance_burden_365d",
}

// Table renders the featured records.
func (r *Result) Table() *table.Table {
	t := table.New(Columns...)
	t.Rows = make([][]any, 0, len(r.Records))
	for i := range r.Records {
		rec := &r.Records[i]
		var rank any
		if rec.RegionalRank != nil {
			rank = int64(*rec.RegionalRank)
		}
		t.Rows = append(t.Rows, []any{
			rec.City, rec.Date.Format(time.DateOnly), ptr(rec.AQI), ptr(rec.PM25), text(rec.Level),
			int64(rec.Year), int64(rec.Month), int64(rec.Day), int64(rec.Weekday), int64(rec.Quarter),
			flag(rec.IsWeekend), int64(rec.Season),
			ptr(rec.RollingAvg7), ptr(rec.RollingAvg30), ptr(rec.Trend30), ptr(rec.YearOverYear),
			text(rec.EventID), int64(rec.EventDuration), rec.PeakIntensity, rec.SeverityIndex,
			ptr(rec.RegionalAvg), ptr(rec.Deviation), rank, flag(rec.Hotspot),
			rec.PolicyPeriod, flag(rec.SpecialEvent),
			rec.AQICategory, flag(rec.Exceed35), flag(rec.Exceed75),
			int64(rec.Exposure7), int64(rec.Exposure30), int64(rec.Exposure365),
			rec.Burden365,
		})
	}
	return t
}

// PolicyEffectsTable renders the policy side report.
func (r *Result) PolicyEffectsTable() *table.Table {
	t := table.New("policy_period", "avg_before", "avg_during", "change_pct")
	for _, e := range r.PolicyEffects {
		t.Rows = append(t.Rows, []any{e.Period, e.AvgBefore, e.AvgDuring, e.ChangePct})
	}
	return t
}

func ptr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func text(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func flag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
