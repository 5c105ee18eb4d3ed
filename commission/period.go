package commission

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH / PERIOD - Calendar-month boundaries for tiering and reporting
// =============================================================================

// Month identifies a calendar month. It is the bucketing unit for tier
// counting: a lead belongs to the month of its reservation payment date.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the calendar month containing t (in UTC).
func MonthOf(t time.Time) Month {
	u := t.UTC()
	return Month{Year: u.Year(), Month: u.Month()}
}

// NewMonth validates and builds a Month from numeric month/year.
// Bounds follow the recompute contract: month 1-12, year 2020-2030.
func NewMonth(month, year int) (Month, error) {
	if month < 1 || month > 12 {
		return Month{}, &PeriodError{Month: month, Year: year, Cause: "month must be between 1 and 12"}
	}
	if year < 2020 || year > 2030 {
		return Month{}, &PeriodError{Month: month, Year: year, Cause: "year must be between 2020 and 2030"}
	}
	return Month{Year: year, Month: time.Month(month)}, nil
}

// Period returns the inclusive [start, end] bounds of the month at
// second granularity. Stores encode timestamps as fixed-width strings,
// so both bounds must be whole seconds for range comparisons to hold.
func (m Month) Period() Period {
	start := time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return Period{Start: start, End: end}
}

// String renders the month as "2025-03", the cache key form.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Period is an inclusive time range with second-granularity bounds.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t falls within [Start, End]. Sub-second
// precision is discarded so that a timestamp inside the range's last
// second still counts as in range.
func (p Period) Contains(t time.Time) bool {
	u := t.Truncate(time.Second)
	return !u.Before(p.Start) && !u.After(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}
