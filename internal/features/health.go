package features

import (
	"math"

	"github.com/pm25forecast/pm25forecast/internal/airquality"
)

func healthFeatures(city []Record) {
	flags := make([]float64, len(city))
	excess := make([]float64, len(city))
	for i := range city {
		r := &city[i]
		r.AQICategory = airquality.Category(r.PM25)
		if r.PM25 == nil {
			continue
		}
		r.Exceed35 = *r.PM25 > airquality.PM25Standard
		r.Exceed75 = *r.PM25 > airquality.PM25Polluted
		if r.Exceed35 {
			flags[i] = 1
		}
		excess[i] = math.Max(*r.PM25-airquality.PM25Standard, 0)
	}

	exp7 := rollingSum(flags, 7)
	exp30 := rollingSum(flags, 30)
	exp365 := rollingSum(flags, 365)
	burden := rollingSum(excess, 365)
	for i := range city {
		city[i].Exposure7 = int(exp7[i])
		city[i].Exposure30 = int(exp30[i])
		city[i].Exposure365 = int(exp365[i])
		city[i].Burden365 = burden[i]
	}
}

// rollingSum sums the trailing window rows, partial windows included.
func rollingSum(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if j := i - window; j >= 0 {
			sum -= values[j]
		}
		out[i] = sum
	}
	return out
}
