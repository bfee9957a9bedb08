package database

import (
	"time"
)

// Flight is the merged flight row, keyed by the 32-character hex identity.
// A row is created on the first observation of an identity and updated in
// place on every later observation per the merge policy in FlightRepository.
type Flight struct {
	FlightID     string
	AirlineCode  string
	FlightNumber string
	Direction    string
	LocationIATA string

	ScheduledTime *time.Time
	ActualTime    *time.Time

	AirlineName    string
	LocationEN     string
	LocationHE     string
	LocationCityEN string
	CountryEN      string
	CountryHE      string

	Terminal        string
	CheckinCounters string
	CheckinZone     string

	StatusEN string
	StatusHE string

	DelayMinutes *int

	ScrapeTimestamp *time.Time
	RawS3Path       string
}

// Processed-file ledger statuses.
const (
	BatchStatusSuccess = "success"
	BatchStatusFailed  = "failed"
)

// ProcessedFile is one ledger row per ingested source batch/file.
type ProcessedFile struct {
	FileName    string
	S3Key       string
	ProcessedAt time.Time
	Status      string
}

// AirlineKPI is one airline's aggregated performance for the airlines
// endpoint. AvgDelayMinutes covers delayed flights only; AvgDelayAllFlights
// counts on-time flights as zero delay.
type AirlineKPI struct {
	AirlineCode            string  `json:"airline_code"`
	AirlineName            string  `json:"airline_name"`
	TotalFlights           int     `json:"total_flights"`
	OnTimeFlights          int     `json:"on_time_flights"`
	DelayedFlights         int     `json:"delayed_flights"`
	CancelledFlights       int     `json:"cancelled_flights"`
	OnTimePercentage       float64 `json:"on_time_percentage"`
	CancellationPercentage float64 `json:"cancellation_percentage"`
	AvgDelayMinutes        float64 `json:"avg_delay_minutes"`
	AvgDelayAllFlights     float64 `json:"avg_delay_all_flights"`
}

// FlightStats aggregates the flights table for the stats endpoint.
type FlightStats struct {
	TotalFlights   int     `json:"total_flights"`
	Arrivals       int     `json:"arrivals"`
	Departures     int     `json:"departures"`
	DelayedFlights int     `json:"delayed_flights"`
	AvgDelay       float64 `json:"avg_delay_minutes"`
}
