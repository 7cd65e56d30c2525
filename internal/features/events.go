package features

import (
	"fmt"
	"math"
)

// detectEvents segments one city's polluted runs. A dip continues an event
// when one of the next MaxBreak rows is polluted; otherwise the event closes
// at its last polluted day. The end of data also closes an open event.
// counter is shared across cities and the updated value is returned.
func (e *Engine) detectEvents(city []Record, counter int) int {
	polluted := func(i int) bool {
		return city[i].PM25 != nil && *city[i].PM25 > e.cfg.EventThreshold
	}

	var (
		inEvent     bool
		start, last int
		days        int
		peak        float64
	)
	closeEvent := func() {
		inEvent = false
		if days < e.cfg.MinEventDuration {
			return
		}
		counter++
		id := fmt.Sprintf("E%s%04d", cityPrefix(city[start].City), counter)

		var sum float64
		var n int
		for k := start; k <= last; k++ {
			if v := city[k].PM25; v != nil {
				sum += *v
				n++
			}
		}
		severity := sum / float64(n) * math.Log(float64(days)+1)

		for k := start; k <= last; k++ {
			city[k].EventID = id
			city[k].EventDuration = days
			city[k].PeakIntensity = peak
			city[k].SeverityIndex = severity
		}
	}

	for i := range city {
		if polluted(i) {
			if !inEvent {
				inEvent, start, days, peak = true, i, 0, 0
			}
			days++
			last = i
			peak = math.Max(peak, *city[i].PM25)
			continue
		}
		if !inEvent {
			continue
		}

		continues := false
		for j := 1; j <= e.cfg.MaxBreak && i+j < len(city); j++ {
			if polluted(i + j) {
				continues = true
				break
			}
		}
		if !continues {
			closeEvent()
		}
	}
	if inEvent {
		closeEvent()
	}
	return counter
}

func cityPrefix(city string) string {
	runes := []rune(city)
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return string(runes)
}
