package models

import "time"

// DateLayout is the calendar date format used for interval and daily total dates
const DateLayout = "2006-01-02"

// UsageInterval represents one upstream reading of energy consumed over a sub-day period
type UsageInterval struct {
	Timestamp time.Time // Start of the interval, in the upstream timezone
	UsageKWh  float64
	Date      string // Calendar date of Timestamp
}

// NewUsageInterval builds an interval and derives its calendar date from the start timestamp
func NewUsageInterval(start time.Time, kwh float64) UsageInterval {
	return UsageInterval{
		Timestamp: start,
		UsageKWh:  kwh,
		Date:      start.Format(DateLayout),
	}
}

// DailyTotal is the sum of all intervals sharing a calendar date
type DailyTotal struct {
	Date     string
	TotalKWh float64
}

// Snapshot is the document written to the output file each cycle
type Snapshot struct {
	GeneratedAt  time.Time
	LastAccessed *time.Time // Always nil, kept for document shape compatibility
	Intervals    []UsageInterval
	DailyTotals  []DailyTotal
}
