package features

import "time"

// DefaultPeriod tags dates outside every policy period.
const DefaultPeriod = "其他时期"

// Period is a named closed date interval.
type Period struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Contains reports whether d falls within [Start, End] by calendar date.
func (p Period) Contains(d time.Time) bool {
	k := dateKey(d)
	return !k.Before(p.Start) && !k.After(p.End)
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

// DefaultPolicyPeriods lists the national air-quality regulatory eras.
func DefaultPolicyPeriods() []Period {
	return []Period{
		{Name: "大气十条时期", Start: day(2013, time.September, 1), End: day(2017, time.December, 31)},
		{Name: "蓝天保卫战时期", Start: day(2018, time.January, 1), End: day(2020, time.December, 31)},
		{Name: "十四五深化治理时期", Start: day(2021, time.January, 1), End: day(2025, time.December, 31)},
	}
}

// DefaultSpecialEvents lists major events with temporary emission controls.
func DefaultSpecialEvents() []Period {
	return []Period{
		{Name: "APEC会议", Start: day(2014, time.November, 5), End: day(2014, time.November, 11)},
		{Name: "抗战胜利阅兵", Start: day(2015, time.September, 1), End: day(2015, time.September, 3)},
		{Name: "G20峰会", Start: day(2016, time.September, 1), End: day(2016, time.September, 5)},
		{Name: "一带一路峰会", Start: day(2017, time.May, 14), End: day(2017, time.May, 15)},
		{Name: "冬奥会", Start: day(2022, time.February, 4), End: day(2022, time.February, 20)},
	}
}

// PolicyEffect compares mean PM2.5 over the year before a period with the
// mean during it.
type PolicyEffect struct {
	Period    string
	AvgBefore float64
	AvgDuring float64
	ChangePct float64
}

// policyFeatures tags each record. Later periods win where periods overlap.
func (e *Engine) policyFeatures(records []Record) {
	for i := range records {
		r := &records[i]
		r.PolicyPeriod = DefaultPeriod
		for _, p := range e.cfg.PolicyPeriods {
			if p.Contains(r.Date) {
				r.PolicyPeriod = p.Name
			}
		}
		for _, s := range e.cfg.SpecialEvents {
			if s.Contains(r.Date) {
				r.SpecialEvent = true
				break
			}
		}
	}
}

// policyEffects builds the side report across all cities. Periods lacking
// data on either side, or with a zero baseline, are omitted.
func (e *Engine) policyEffects(records []Record) []PolicyEffect {
	var effects []PolicyEffect
	for _, p := range e.cfg.PolicyPeriods {
		before := Period{Start: p.Start.AddDate(-1, 0, 0), End: p.Start.AddDate(0, 0, -1)}

		var sumB, sumD float64
		var nB, nD int
		for i := range records {
			v := records[i].PM25
			if v == nil {
				continue
			}
			switch d := records[i].Date; {
			case p.Contains(d):
				sumD += *v
				nD++
			case before.Contains(d):
				sumB += *v
				nB++
			}
		}
		if nB == 0 || nD == 0 || sumB == 0 {
			continue
		}
		avgB, avgD := sumB/float64(nB), sumD/float64(nD)
		effects = append(effects, PolicyEffect{
			Period:    p.Name,
			AvgBefore: avgB,
			AvgDuring: avgD,
			ChangePct: (avgD - avgB) / avgB * 100,
		})
	}
	return effects
}
