package crawl

import (
	"time"
)

// UnitState is the lifecycle state of one crawl unit: a (city, month) page for
// history, a city for realtime.
type UnitState int

const (
	StatePending UnitState = iota
	StateFetched
	StateParsed
	StateAccumulated
	StateDiscarded
)

func (s UnitState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetched:
		return "fetched"
	case StateParsed:
		return "parsed"
	case StateAccumulated:
		return "accumulated"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Unit is one fetch of a crawl run.
type Unit struct {
	City   string
	Bucket string
	State  UnitState
	Rows   int
	Err    error
}

// RunResult contains the result of a crawl run.
type RunResult struct {
	RunID     string
	Source    string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Cities      int
	Units       int
	Accumulated int
	Discarded   int
	Rows        int

	Flushes  int
	Files    []string
	Inserted int

	Errors []UnitError
}

// UnitError represents a discarded unit or a failed flush write.
type UnitError struct {
	City   string
	Bucket string
	Error  string
}

func (r *RunResult) record(u Unit) {
	r.Units++
	switch u.State {
	case StateAccumulated:
		r.Accumulated++
		r.Rows += u.Rows
	case StateDiscarded:
		r.Discarded++
		msg := "empty table"
		if u.Err != nil {
			msg = u.Err.Error()
		}
		r.Errors = append(r.Errors, UnitError{City: u.City, Bucket: u.Bucket, Error: msg})
	}
}

func (r *RunResult) addFile(path string) {
	for _, f := range r.Files {
		if f == path {
			return
		}
	}
	r.Files = append(r.Files, path)
}
