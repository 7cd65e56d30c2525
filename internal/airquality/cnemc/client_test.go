package cnemc_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pm25forecast/pm25forecast/internal/airquality"
	"github.com/pm25forecast/pm25forecast/internal/airquality/cnemc"
	"github.com/pm25forecast/pm25forecast/internal/cities"
	"github.com/pm25forecast/pm25forecast/internal/provider/resilience"
)

func TestParseTimePoint(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		now      time.Time
		wantDate string
		wantHour int64
		wantErr  bool
	}{
		{
			name:     "same month",
			input:    "02日20时",
			now:      time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC),
			wantDate: "2024-03-02",
			wantHour: 20,
		},
		{
			name:     "today",
			input:    "05日09时",
			now:      time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC),
			wantDate: "2024-03-05",
			wantHour: 9,
		},
		{
			name:     "previous month",
			input:    "31日23时",
			now:      time.Date(2024, time.April, 1, 0, 30, 0, 0, time.UTC),
			wantDate: "2024-03-31",
			wantHour: 23,
		},
		{
			name:     "previous year",
			input:    "31日22时",
			now:      time.Date(2025, time.January, 1, 1, 0, 0, 0, time.UTC),
			wantDate: "2024-12-31",
			wantHour: 22,
		},
		{
			name:    "day missing from previous month",
			input:   "31日01时",
			now:     time.Date(2024, time.May, 2, 1, 0, 0, 0, time.UTC),
			wantErr: true,
		},
		{
			name:    "malformed",
			input:   "2024-03-02 20:00",
			now:     time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date, hour, err := cnemc.ParseTimePoint(tt.input, tt.now)
			if tt.wantErr {
				assert.ErrorIs(t, err, airquality.ErrInvalidTimePoint)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDate, date)
			assert.Equal(t, tt.wantHour, hour)
		})
	}
}

func TestParseRecords_WrappedPayload(t *testing.T) {
	body := []byte(`{"data":[
		{"TimePointStr":"02日20时","AQI":"112","Quality":"轻度污染","PM2_5":"84","PM10":"—","SO2":6,"NO2":"52",
		 "CO":"1.1","O3":"None","PrimaryPollutant":"PM2.5","Unheathful":"易感人群症状有轻度加剧","Measure":"减少户外活动"},
		{"TimePointStr":"bad","AQI":"50"},
		{"TimePointStr":"02日21时","AQI":"","Quality":"","PM2_5":null,"PrimaryPollutant":"—"}
	]}`)
	now := time.Date(2024, time.March, 3, 8, 0, 0, 0, time.UTC)

	tbl, skipped, err := cnemc.ParseRecords(body, "北京", now)
	require.NoError(t, err)

	assert.Equal(t, 1, skipped)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, cnemc.Columns, tbl.Columns)

	assert.Equal(t, "北京", tbl.Get(0, airquality.ColCity))
	assert.Equal(t, "2024-03-02", tbl.Get(0, airquality.ColDate))
	assert.Equal(t, int64(20), tbl.Get(0, airquality.ColHour))
	assert.Equal(t, 112.0, tbl.Get(0, airquality.ColAQI))
	assert.Equal(t, 84.0, tbl.Get(0, airquality.ColPM25))
	assert.Nil(t, tbl.Get(0, airquality.ColPM10))
	assert.Equal(t, 6.0, tbl.Get(0, airquality.ColSO2))
	assert.Nil(t, tbl.Get(0, airquality.ColO3))
	assert.Equal(t, "PM2.5", tbl.Get(0, airquality.ColPrimaryPollutant))
	assert.Equal(t, "2024-03-03 08:00:00", tbl.Get(0, airquality.ColCollectedAt))

	assert.Nil(t, tbl.Get(1, airquality.ColAQI))
	assert.Nil(t, tbl.Get(1, airquality.ColLevel))
	assert.Nil(t, tbl.Get(1, airquality.ColPrimaryPollutant))
}

func TestParseRecords_BareArrayAndEmpty(t *testing.T) {
	now := time.Date(2024, time.March, 3, 8, 0, 0, 0, time.UTC)

	tbl, _, err := cnemc.ParseRecords([]byte(`[{"TimePointStr":"03日07时","AQI":40}]`), "天津", now)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Len())

	_, _, err = cnemc.ParseRecords([]byte("  "), "天津", now)
	assert.ErrorIs(t, err, airquality.ErrEmptyPayload)
}

func TestFetchCity(t *testing.T) {
	var gotCode, gotBuster, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCode = r.URL.Query().Get("citycode")
		gotBuster = r.URL.Query().Get("_")
		_, _ = w.Write([]byte(`[{"TimePointStr":"14日09时","AQI":"61","PM2_5":"43"}]`))
	}))
	defer server.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2026, time.October, 14, 10, 0, 0, 0, time.UTC))
	cb := resilience.DefaultCircuitBreakerConfig("test")
	cb.ReadyToTrip = func(gobreaker.Counts) bool { return false }
	fetcher := resilience.NewClient(resilience.ClientConfig{Name: "test", MaxAttempts: 1, CircuitBreaker: &cb})

	client := cnemc.NewClient(cnemc.ClientConfig{URL: server.URL, Fetcher: fetcher, Clock: clock})

	tbl, skipped, err := client.FetchCity(context.Background(), cities.City{Name: "北京", Code: "110000"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "110000", gotCode)
	assert.Equal(t, "1791972000000", gotBuster)
	assert.Zero(t, skipped)
	assert.Equal(t, "2026-10-14", tbl.Get(0, airquality.ColDate))
	assert.Equal(t, 43.0, tbl.Get(0, airquality.ColPM25))
}
