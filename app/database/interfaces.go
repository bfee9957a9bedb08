package database

import (
	"github.com/skyline-data/flight-board/app/flights"
)

// FlightFilters narrows the flight listing. Zero values mean "no filter".
type FlightFilters struct {
	Direction   string
	AirlineCode string
	AirportCode string
	Status      string
	Terminal    string
	DateFrom    string // inclusive, YYYY-MM-DD against scheduled_time
	DateTo      string // inclusive
	DelayMin    *int
	DelayMax    *int
	SortDesc    bool // sort by scheduled_time; ascending by default
}

type FlightRepository interface {
	UpsertFlights(rows []flights.Row) (int, error)

	GetFlight(flightID string) (*Flight, error)
	ListFlights(filters FlightFilters, page, size int) ([]Flight, int, error)
	ListAirlines(minFlights int) ([]AirlineKPI, error)
	ListDestinations(search string, page, size int) ([]string, int, error)
	GetStats() (*FlightStats, error)
	GetFlightCount() (int, error)
}

type BatchRepository interface {
	IsProcessed(fileName string) (bool, error)
	MarkProcessed(fileName, s3Key, status string) error
	ListProcessed(limit int) ([]ProcessedFile, error)
}
