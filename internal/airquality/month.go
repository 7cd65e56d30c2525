package airquality

import (
	"fmt"
	"time"
)

// YearMonth is one calendar month, the unit of the history crawl.
type YearMonth struct {
	Year  int
	Month time.Month
}

// String renders the month as YYYYMM.
func (m YearMonth) String() string {
	return fmt.Sprintf("%04d%02d", m.Year, int(m.Month))
}

// Next returns the following month.
func (m YearMonth) Next() YearMonth {
	if m.Month == time.December {
		return YearMonth{Year: m.Year + 1, Month: time.January}
	}
	return YearMonth{Year: m.Year, Month: m.Month + 1}
}

// After reports whether m is later than o.
func (m YearMonth) After(o YearMonth) bool {
	return m.Year > o.Year || (m.Year == o.Year && m.Month > o.Month)
}

// MonthsInRange lists January of startYear through December of endYear,
// stopping at the month containing now.
func MonthsInRange(startYear, endYear int, now time.Time) []YearMonth {
	last := YearMonth{Year: endYear, Month: time.December}
	if current := (YearMonth{Year: now.Year(), Month: now.Month()}); last.After(current) {
		last = current
	}

	var months []YearMonth
	for m := (YearMonth{Year: startYear, Month: time.January}); !m.After(last); m = m.Next() {
		months = append(months, m)
	}
	return months
}
