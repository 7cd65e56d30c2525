// Package tianqihoubao fetches and parses the monthly daily-AQI history pages
// of www.tianqihoubao.com.
package tianqihoubao

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pm25forecast/pm25forecast/internal/airquality"
	"github.com/pm25forecast/pm25forecast/internal/cities"
	"github.com/pm25forecast/pm25forecast/internal/provider/resilience"
	"github.com/pm25forecast/pm25forecast/internal/table"
)

const (
	// DefaultBaseURL is the base URL for the history pages.
	DefaultBaseURL = "https://www.tianqihoubao.com/aqi"

	// SourceName identifies this source.
	SourceName = "tianqihoubao"
)

// NumericColumns are the page columns coerced to numbers; placeholder text
// such as "-" becomes null.
var NumericColumns = []string{"AQI指数", "当天AQI排名", "PM2.5", "PM10", "No2", "So2", "Co", "O3"}

// ClientConfig holds configuration for the history client.
type ClientConfig struct {
	// BaseURL is the page base URL (defaults to DefaultBaseURL).
	BaseURL string

	// Fetcher performs the HTTP requests. If nil, a resilient client with
	// production defaults is created.
	Fetcher resilience.Fetcher
}

// Client fetches history pages.
type Client struct {
	baseURL string
	fetcher resilience.Fetcher
}

// NewClient creates a history client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = resilience.NewClient(resilience.DefaultClientConfig(SourceName))
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		fetcher: fetcher,
	}
}

// MonthURL returns the page URL of one city-month.
func (c *Client) MonthURL(pinyin string, month airquality.YearMonth) string {
	return fmt.Sprintf("%s/%s-%s.html", c.baseURL, pinyin, month)
}

// FetchMonth fetches one city-month and returns its daily rows with the
// 城市, 年份 and 月份 provenance columns appended.
func (c *Client) FetchMonth(ctx context.Context, city cities.City, month airquality.YearMonth) (*table.Table, error) {
	resp, err := c.fetcher.Fetch(ctx, resilience.Request{
		URL:     c.MonthURL(city.Pinyin, month),
		Referer: c.baseURL + "/",
	})
	if err != nil {
		return nil, err
	}

	t, err := ParseMonthPage(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", city.Name, month, err)
	}

	t.SetColumn(airquality.ColCity, city.Name)
	t.SetColumn(airquality.ColYear, int64(month.Year))
	t.SetColumn(airquality.ColMonth, int64(month.Month))
	return t, nil
}

// ParseMonthPage extracts the data table (class "b"). The first row holds the
// headers; rows whose cell count differs from the header are dropped.
func ParseMonthPage(r io.Reader) (*table.Table, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	tbl := doc.Find("table.b").First()
	if tbl.Length() == 0 {
		return nil, airquality.ErrNoDataTable
	}

	rows := tbl.Find("tr")
	if rows.Length() == 0 {
		return nil, airquality.ErrNoDataTable
	}

	headers := cellTexts(rows.First())
	out := table.New(headers...)

	numeric := make(map[int]bool)
	for _, col := range NumericColumns {
		if i := out.Index(col); i >= 0 {
			numeric[i] = true
		}
	}

	rows.Slice(1, goquery.ToEnd).Each(func(_ int, tr *goquery.Selection) {
		cells := cellTexts(tr)
		if len(cells) != len(headers) {
			return
		}
		row := make([]any, len(cells))
		for i, text := range cells {
			switch {
			case numeric[i]:
				if f, ok := table.Float(text); ok {
					row[i] = f
				}
			case text != "":
				row[i] = text
			}
		}
		out.Rows = append(out.Rows, row)
	})

	return out, nil
}

func cellTexts(tr *goquery.Selection) []string {
	var cells []string
	tr.Find("td").Each(func(_ int, td *goquery.Selection) {
		cells = append(cells, strings.Join(strings.Fields(td.Text()), " "))
	})
	return cells
}
