package flights

import (
	"time"
)

// RawRecord is one flat record as returned by the upstream datastore API.
// Values are JSON scalars (string, number, bool or null) and keys vary
// between records; absent keys are common.
type RawRecord map[string]interface{}

// Row is a normalized flight observation with semantic column names,
// parsed timestamps and a derived delay.
type Row struct {
	FlightID string // MD5 hex identity, assigned after normalization

	AirlineCode  string
	FlightNumber string
	AirlineName  string
	Direction    string // "A" arrival, "D" departure
	AirportCode  string

	ScheduledTimeRaw string // source string, kept verbatim
	ActualTimeRaw    string

	AirportNameEN string
	AirportNameHE string
	CityEN        string
	CountryEN     string
	CountryHE     string

	Terminal        string
	CheckinCounters string
	CheckinZone     string

	StatusEN string
	StatusHE string

	ScheduledTime *time.Time // nil when the source string did not parse
	ActualTime    *time.Time
	DelayMinutes  *int // nil unless both timestamps parsed; may be negative

	ScrapeTimestamp time.Time
	RawPath         string // locator of the staged batch this row came from
}
