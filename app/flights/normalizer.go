package flights

import (
	"math"
	"strconv"
	"time"
)

// Source field codes of the upstream flight feed. The mapping below is the
// integration contract with the feed and must not be altered.
const (
	keyAirlineCode   = "CHOPER"
	keyFlightNumber  = "CHFLTN"
	keyAirlineName   = "CHOPERD"
	keyScheduledTime = "CHSTOL"
	keyActualTime    = "CHPTOL"
	keyDirection     = "CHAORD"
	keyAirportCode   = "CHLOC1"
	keyAirportNameEN = "CHLOC1D"
	keyAirportNameHE = "CHLOC1TH"
	keyCityEN        = "CHLOC1T"
	keyCountryHE     = "CHLOC1CH"
	keyCountryEN     = "CHLOCCT"
	keyTerminal      = "CHTERM"
	keyCheckinCount  = "CHCINT"
	keyCheckinZone   = "CHCKZN"
	keyStatusEN      = "CHRMINE"
	keyStatusHE      = "CHRMINH"
)

// Timestamp layouts observed in the feed. Parsing is best effort; an
// unparseable value leaves the typed field nil without failing the record.
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer maps raw feed records to Rows and assigns each row its
// flight identity.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Run normalizes a batch of raw records. Every input record yields exactly
// one row; missing source keys become empty values, never errors. An empty
// input yields an empty output.
func (n *Normalizer) Run(records []RawRecord, scrapedAt time.Time, rawPath string) []Row {
	rows := make([]Row, 0, len(records))
	for _, record := range records {
		row := n.normalizeRecord(record)
		row.ScrapeTimestamp = scrapedAt
		row.RawPath = rawPath
		row.FlightID = Identity(row)
		rows = append(rows, row)
	}
	return rows
}

func (n *Normalizer) normalizeRecord(record RawRecord) Row {
	row := Row{
		AirlineCode:      stringField(record, keyAirlineCode),
		FlightNumber:     stringField(record, keyFlightNumber),
		AirlineName:      stringField(record, keyAirlineName),
		Direction:        stringField(record, keyDirection),
		AirportCode:      stringField(record, keyAirportCode),
		ScheduledTimeRaw: stringField(record, keyScheduledTime),
		ActualTimeRaw:    stringField(record, keyActualTime),
		AirportNameEN:    stringField(record, keyAirportNameEN),
		AirportNameHE:    stringField(record, keyAirportNameHE),
		CityEN:           stringField(record, keyCityEN),
		CountryEN:        stringField(record, keyCountryEN),
		CountryHE:        stringField(record, keyCountryHE),
		Terminal:         stringField(record, keyTerminal),
		CheckinCounters:  stringField(record, keyCheckinCount),
		CheckinZone:      stringField(record, keyCheckinZone),
		StatusEN:         stringField(record, keyStatusEN),
		StatusHE:         stringField(record, keyStatusHE),
	}

	row.ScheduledTime = parseTime(row.ScheduledTimeRaw)
	row.ActualTime = parseTime(row.ActualTimeRaw)

	if row.ScheduledTime != nil && row.ActualTime != nil {
		delay := int(row.ActualTime.Sub(*row.ScheduledTime) / time.Minute)
		row.DelayMinutes = &delay
	}

	return row
}

// stringField coerces a JSON scalar to its string form. Absent keys and
// JSON nulls both yield the empty string.
func stringField(record RawRecord, key string) string {
	value, ok := record[key]
	if !ok || value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case float64:
		// encoding/json decodes all numbers as float64; render integral
		// values without a fraction so flight numbers survive intact
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
