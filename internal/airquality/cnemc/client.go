// Package cnemc fetches hourly city AQI readings from the China National
// Environmental Monitoring Centre realtime publishing API.
package cnemc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pm25forecast/pm25forecast/internal/airquality"
	"github.com/pm25forecast/pm25forecast/internal/cities"
	"github.com/pm25forecast/pm25forecast/internal/provider/resilience"
	"github.com/pm25forecast/pm25forecast/internal/table"
)

const (
	// DefaultURL is the hourly history endpoint.
	DefaultURL = "https://air.cnemc.cn:18007/HourChangesPublish/GetCityRealTimeAqiHistoryByCondition"

	// DefaultReferer is sent with every request.
	DefaultReferer = "https://air.cnemc.cn:18007/"

	// SourceName identifies this source.
	SourceName = "cnemc"
)

// Columns is the column layout of a realtime table.
var Columns = []string{
	airquality.ColCity, airquality.ColDate, airquality.ColHour,
	airquality.ColAQI, airquality.ColLevel, airquality.ColPM25, airquality.ColPM10,
	airquality.ColSO2, airquality.ColNO2, airquality.ColCO, airquality.ColO3,
	airquality.ColPrimaryPollutant, airquality.ColHealthEffect, airquality.ColMeasure,
	airquality.ColCollectedAt,
}

// ClientConfig holds configuration for the realtime client.
type ClientConfig struct {
	// URL is the endpoint (defaults to DefaultURL).
	URL string

	// Fetcher performs the HTTP requests. If nil, a resilient client with
	// production defaults is created.
	Fetcher resilience.Fetcher

	// Clock supplies "today" for time point parsing and the cache buster.
	Clock clockwork.Clock
}

// Client fetches realtime readings.
type Client struct {
	url     string
	fetcher resilience.Fetcher
	clock   clockwork.Clock
}

// NewClient creates a realtime client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = resilience.NewClient(resilience.DefaultClientConfig(SourceName))
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Client{url: cfg.URL, fetcher: cfg.Fetcher, clock: cfg.Clock}
}

// FetchCity requests the recent hourly readings of one city. Records with an
// unparseable time point are skipped and counted.
func (c *Client) FetchCity(ctx context.Context, city cities.City) (*table.Table, int, error) {
	now := c.clock.Now()
	resp, err := c.fetcher.Fetch(ctx, resilience.Request{
		Method: http.MethodPost,
		URL:    c.url,
		Params: url.Values{
			"citycode": {city.Code},
			"_":        {strconv.FormatInt(now.UnixMilli(), 10)},
		},
		Referer: DefaultReferer,
	})
	if err != nil {
		return nil, 0, err
	}

	t, skipped, err := ParseRecords(resp.Body, city.Name, now)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", city.Name, err)
	}
	return t, skipped, nil
}

// value accepts a JSON string, number or null.
type value struct {
	text  string
	valid bool
}

func (v *value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = value{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = value{text: strings.TrimSpace(s), valid: true}
		return nil
	}
	*v = value{text: string(data), valid: true}
	return nil
}

// number returns nil for placeholders and non-numeric text.
func (v value) number() any {
	if !v.valid {
		return nil
	}
	switch v.text {
	case "", "—", "-", "None":
		return nil
	}
	if f, ok := table.Float(v.text); ok {
		return f
	}
	return nil
}

type record struct {
	TimePointStr     string `json:"TimePointStr"`
	AQI              value  `json:"AQI"`
	Quality          value  `json:"Quality"`
	PM25             value  `json:"PM2_5"`
	PM10             value  `json:"PM10"`
	SO2              value  `json:"SO2"`
	NO2              value  `json:"NO2"`
	CO               value  `json:"CO"`
	O3               value  `json:"O3"`
	PrimaryPollutant value  `json:"PrimaryPollutant"`
	Unheathful       value  `json:"Unheathful"`
	Measure          value  `json:"Measure"`
}

// ParseRecords decodes a response body: a JSON array of records, optionally
// wrapped as {"data": [...]}.
func ParseRecords(body []byte, city string, now time.Time) (*table.Table, int, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, 0, airquality.ErrEmptyPayload
	}

	var records []record
	if body[0] == '{' {
		var wrapped struct {
			Data []record `json:"data"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, 0, fmt.Errorf("decode response: %w", err)
		}
		records = wrapped.Data
	} else if err := json.Unmarshal(body, &records); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}

	collectedAt := now.Format(time.DateTime)
	out := table.New(Columns...)
	skipped := 0
	for _, r := range records {
		date, hour, err := ParseTimePoint(r.TimePointStr, now)
		if err != nil {
			skipped++
			continue
		}
		out.Rows = append(out.Rows, []any{
			city, date, hour,
			r.AQI.number(), text(r.Quality), r.PM25.number(), r.PM10.number(),
			r.SO2.number(), r.NO2.number(), r.CO.number(), r.O3.number(),
			textOrNil(strings.TrimSpace(strings.ReplaceAll(r.PrimaryPollutant.text, "—", ""))),
			text(r.Unheathful), text(r.Measure),
			collectedAt,
		})
	}
	return out, skipped, nil
}

func text(v value) any {
	return textOrNil(v.text)
}

func textOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var timePointPattern = regexp.MustCompile(`^(\d{2})日(\d{2})时$`)

// ParseTimePoint resolves "DD日HH时" against now. The source omits month and
// year; a day later than today's belongs to the previous month, rolling the
// year back in January.
func ParseTimePoint(s string, now time.Time) (string, int64, error) {
	m := timePointPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", 0, fmt.Errorf("%q: %w", s, airquality.ErrInvalidTimePoint)
	}
	day, _ := strconv.Atoi(m[1])
	hour, _ := strconv.Atoi(m[2])
	if day < 1 || day > 31 || hour > 24 {
		return "", 0, fmt.Errorf("%q: %w", s, airquality.ErrInvalidTimePoint)
	}

	year, month := now.Year(), now.Month()
	if day > now.Day() {
		month--
		if month < time.January {
			month = time.December
			year--
		}
	}

	date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if date.Month() != month {
		return "", 0, fmt.Errorf("%q: day %d does not exist in %d-%02d: %w", s, day, year, month, airquality.ErrInvalidTimePoint)
	}
	return date.Format(time.DateOnly), int64(hour), nil
}
