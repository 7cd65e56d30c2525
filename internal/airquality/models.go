// Package airquality defines the observation vocabulary shared by the crawl,
// cleaning and feature stages.
package airquality

import (
	"errors"
	"math"
)

// Source errors.
var (
	ErrNoDataTable      = errors.New("page has no data table")
	ErrEmptyPayload     = errors.New("response has no records")
	ErrInvalidTimePoint = errors.New("invalid time point")
)

// Kind tells realtime (hourly) data from history (daily) data.
type Kind string

const (
	KindRealtime Kind = "realtime"
	KindHistory  Kind = "history"
)

// Column names used in raw CSV files and storage tables.
const (
	ColCity    = "城市"
	ColDate    = "日期"
	ColHour    = "小时"
	ColStation = "监测站点"
	ColYear    = "年份"
	ColMonth   = "月份"
	ColAQI     = "AQI"
	ColLevel   = "空气质量等级"
	ColPM25    = "PM2.5"
	ColPM10    = "PM10"
	ColSO2     = "SO₂"
	ColNO2     = "NO₂"
	ColCO      = "CO"
	ColO3      = "O₃"

	ColPrimaryPollutant = "首要污染物"
	ColHealthEffect     = "健康建议"
	ColMeasure          = "措施建议"
	ColCollectedAt      = "采集时间"
)

// Physical bounds applied to concentration and index values.
const (
	MaxCleanValue   = 500.0
	MaxFeatureValue = 1000.0
)

// PM2.5 daily thresholds in µg/m³.
const (
	PM25Standard = 35.0
	PM25Polluted = 75.0
)

// CleanedRecord is one observation in the canonical schema. Hour is nil for
// daily history rows; Station is set only when the source carries one.
type CleanedRecord struct {
	City    string
	Date    string
	Hour    *int64
	AQI     *float64
	Level   string
	PM25    *float64
	Station string
}

// InRange reports whether v lies within [0, upper].
func InRange(v, upper float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= upper
}

// Category labels a PM2.5 concentration by the national AQI bands.
func Category(pm25 *float64) string {
	if pm25 == nil {
		return "未知"
	}
	switch v := *pm25; {
	case v <= 35:
		return "优"
	case v <= 75:
		return "良"
	case v <= 115:
		return "轻度污染"
	case v <= 150:
		return "中度污染"
	case v <= 250:
		return "重度污染"
	default:
		return "严重污染"
	}
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
