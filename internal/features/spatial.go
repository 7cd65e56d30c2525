package features

import (
	"sort"
	"time"
)

// spatialFeatures compares each city-day with the regional picture of the
// same date and flags sustained hotspots.
func (e *Engine) spatialFeatures(records []Record, arenas []arena) {
	byDate := make(map[time.Time][]int)
	for i := range records {
		k := dateKey(records[i].Date)
		byDate[k] = append(byDate[k], i)
	}

	for _, idx := range byDate {
		var (
			sum    float64
			count  int
			values []float64
		)
		for _, i := range idx {
			if v := records[i].PM25; v != nil {
				sum += *v
				count++
				values = append(values, *v)
			}
		}
		if count == 0 {
			continue
		}
		avg := sum / float64(count)
		ranks := denseRanks(values)

		for _, i := range idx {
			r := &records[i]
			a := avg
			r.RegionalAvg = &a
			if r.PM25 == nil {
				continue
			}
			rank := ranks[*r.PM25]
			r.RegionalRank = &rank
			if avg != 0 {
				dev := (*r.PM25 - avg) / avg * 100
				r.Deviation = &dev
			}
		}
	}

	for _, a := range arenas {
		e.markHotspots(records[a.start:a.end])
	}
}

// denseRanks ranks distinct values in descending order, 1 being the highest.
func denseRanks(values []float64) map[float64]int {
	distinct := append([]float64(nil), values...)
	sort.Sort(sort.Reverse(sort.Float64Slice(distinct)))
	ranks := make(map[float64]int, len(distinct))
	rank := 0
	for i, v := range distinct {
		if i == 0 || v != distinct[i-1] {
			rank++
			ranks[v] = rank
		}
	}
	return ranks
}

// markHotspots flags every row of a run of HotspotDays consecutive rows that
// each rank within HotspotRank and deviate above HotspotDeviation.
func (e *Engine) markHotspots(city []Record) {
	qualifies := func(r *Record) bool {
		return r.RegionalRank != nil && *r.RegionalRank <= e.cfg.HotspotRank &&
			r.Deviation != nil && *r.Deviation > e.cfg.HotspotDeviation
	}

	w := e.cfg.HotspotDays
	for i := w - 1; i < len(city); i++ {
		all := true
		for k := i - w + 1; k <= i; k++ {
			if !qualifies(&city[k]) {
				all = false
				break
			}
		}
		if !all {
			continue
		}
		for k := i - w + 1; k <= i; k++ {
			city[k].Hotspot = true
		}
	}
}
