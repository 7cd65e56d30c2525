package features

import "time"

func temporalFeatures(city []Record) {
	for i := range city {
		r := &city[i]
		r.Year = r.Date.Year()
		r.Month = int(r.Date.Month())
		r.Day = r.Date.Day()
		r.Weekday = (int(r.Date.Weekday()) + 6) % 7
		r.Quarter = (r.Month-1)/3 + 1
		r.IsWeekend = r.Weekday >= 5
		r.Season = season(r.Month)
	}

	values := pm25Values(city)
	roll7 := rollingMean(values, 7, 3)
	roll30 := rollingMean(values, 30, 15)
	trend := trailingSlope(values, 30)
	for i := range city {
		city[i].RollingAvg7 = roll7[i]
		city[i].RollingAvg30 = roll30[i]
		city[i].Trend30 = trend[i]
	}

	yearOverYear(city)
}

func season(month int) int {
	switch month {
	case 3, 4, 5:
		return 1
	case 6, 7, 8:
		return 2
	case 9, 10, 11:
		return 3
	default:
		return 4
	}
}

func pm25Values(city []Record) []*float64 {
	values := make([]*float64, len(city))
	for i := range city {
		values[i] = city[i].PM25
	}
	return values
}

// rollingMean is the mean of the non-nil values among the trailing window
// rows, nil while fewer than minPeriods values are available.
func rollingMean(values []*float64, window, minPeriods int) []*float64 {
	out := make([]*float64, len(values))
	var (
		sum   float64
		count int
	)
	for i, v := range values {
		if v != nil {
			sum += *v
			count++
		}
		if j := i - window; j >= 0 && values[j] != nil {
			sum -= *values[j]
			count--
		}
		if count >= minPeriods {
			m := sum / float64(count)
			out[i] = &m
		}
	}
	return out
}

// trailingSlope fits an ordinary least-squares line over the trailing window
// rows against x = 0..window-1. The slope is nil unless every row in the
// window has a value.
func trailingSlope(values []*float64, window int) []*float64 {
	out := make([]*float64, len(values))
	xMean := float64(window-1) / 2
	var sxx float64
	for x := 0; x < window; x++ {
		d := float64(x) - xMean
		sxx += d * d
	}

	for i := window - 1; i < len(values); i++ {
		var yMean float64
		complete := true
		for k := i - window + 1; k <= i; k++ {
			if values[k] == nil {
				complete = false
				break
			}
			yMean += *values[k]
		}
		if !complete {
			continue
		}
		yMean /= float64(window)

		var sxy float64
		for x := 0; x < window; x++ {
			sxy += (float64(x) - xMean) * (*values[i-window+1+x] - yMean)
		}
		slope := sxy / sxx
		out[i] = &slope
	}
	return out
}

// lastYear maps a date to the same calendar date one year earlier, with
// 29 February falling back to 28 February.
func lastYear(d time.Time) time.Time {
	day := d.Day()
	if d.Month() == time.February && day == 29 {
		day = 28
	}
	return time.Date(d.Year()-1, d.Month(), day, 0, 0, 0, 0, time.UTC)
}

func dateKey(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// yearOverYear is the percentage change against the same date one year
// earlier. It stays nil when either value is missing or the base is zero.
func yearOverYear(city []Record) {
	byDate := make(map[time.Time]int, len(city))
	for i := range city {
		k := dateKey(city[i].Date)
		if _, ok := byDate[k]; !ok {
			byDate[k] = i
		}
	}

	for i := range city {
		cur := city[i].PM25
		if cur == nil {
			continue
		}
		j, ok := byDate[lastYear(city[i].Date)]
		if !ok {
			continue
		}
		base := city[j].PM25
		if base == nil || *base == 0 {
			continue
		}
		change := (*cur - *base) / *base * 100
		city[i].YearOverYear = &change
	}
}
