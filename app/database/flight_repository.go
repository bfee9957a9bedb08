package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/skyline-data/flight-board/app/flights"
)

var _ FlightRepository = (*FlightRepo)(nil)

// FlightRepo owns all writes to the flights table. Every ingestion path goes
// through UpsertFlights; nothing else mutates flight rows.
type FlightRepo struct {
	db *DB
}

func NewFlightRepository(db *DB) *FlightRepo {
	return &FlightRepo{db: db}
}

// upsertChunkSize keeps each statement well under the Postgres limit of
// 65535 bind parameters (21 columns per row).
const upsertChunkSize = 500

const flightColumnCount = 21

// flightInsertColumns is the column order of every bulk upsert statement.
const flightInsertColumns = `flight_id, airline_code, flight_number, direction, location_iata,
		scheduled_time, actual_time, airline_name, location_en, location_he,
		location_city_en, country_en, country_he, terminal, checkin_counters,
		checkin_zone, status_en, status_he, delay_minutes, scrape_timestamp, raw_s3_path`

// flightMergeClause is the per-field conflict policy for repeated
// observations of the same identity:
//   - actual_time is COALESCE-protected: a null incoming value never erases
//     a previously known actual time
//   - status, terminal and check-in fields track the latest observation
//   - delay_minutes is recomputed from the stored scheduled_time and the
//     incoming actual_time, so a stale client-side delay can't overwrite a
//     fresher one; kept as-is when either side is null
//   - scrape_timestamp and raw_s3_path record the most recent provenance
//   - every column not listed here keeps its first-insert value
const flightMergeClause = `
		ON CONFLICT (flight_id) DO UPDATE SET
			actual_time = COALESCE(EXCLUDED.actual_time, flights.actual_time),
			status_en = EXCLUDED.status_en,
			status_he = EXCLUDED.status_he,
			terminal = EXCLUDED.terminal,
			checkin_counters = EXCLUDED.checkin_counters,
			checkin_zone = EXCLUDED.checkin_zone,
			delay_minutes = CASE
				WHEN EXCLUDED.actual_time IS NOT NULL AND flights.scheduled_time IS NOT NULL
				THEN trunc(extract(epoch FROM (EXCLUDED.actual_time - flights.scheduled_time)) / 60)::integer
				ELSE flights.delay_minutes
			END,
			scrape_timestamp = EXCLUDED.scrape_timestamp,
			raw_s3_path = EXCLUDED.raw_s3_path`

// UpsertFlights merges a batch of normalized rows into the flights table
// with one bulk statement per chunk. Rows without an identity are skipped
// and logged; they never abort the batch. A database error aborts the whole
// batch and propagates to the caller so the ledger stays unmarked.
// Returns the number of rows written.
func (r *FlightRepo) UpsertFlights(rows []flights.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	valid := make([]flights.Row, 0, len(rows))
	for _, row := range rows {
		if row.FlightID == "" {
			slog.Warn("Skipping row without flight identity",
				"airline_code", row.AirlineCode, "flight_number", row.FlightNumber)
			continue
		}
		valid = append(valid, row)
	}

	upserted := 0
	for start := 0; start < len(valid); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(valid) {
			end = len(valid)
		}
		chunk := valid[start:end]

		// Upserts within one statement are independent; Postgres rejects a
		// statement that touches the same conflict target twice, so
		// duplicate identities within a chunk are collapsed first
		// (last observation wins, matching the merge policy).
		chunk = dedupeChunk(chunk)

		query := buildUpsertQuery(len(chunk))
		args := make([]interface{}, 0, len(chunk)*flightColumnCount)
		for _, row := range chunk {
			args = append(args, flightArgs(row)...)
		}

		if _, err := r.db.Exec(query, args...); err != nil {
			return upserted, fmt.Errorf("failed to upsert flights chunk: %w", err)
		}
		upserted += len(chunk)
	}

	return upserted, nil
}

// buildUpsertQuery renders the bulk INSERT ... ON CONFLICT statement for
// rowCount rows.
func buildUpsertQuery(rowCount int) string {
	var placeholders strings.Builder
	n := 1
	for i := 0; i < rowCount; i++ {
		if i > 0 {
			placeholders.WriteString(", ")
		}
		placeholders.WriteString("(")
		for j := 0; j < flightColumnCount; j++ {
			if j > 0 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", n)
			n++
		}
		placeholders.WriteString(")")
	}

	return fmt.Sprintf("INSERT INTO flights (%s) VALUES %s%s",
		flightInsertColumns, placeholders.String(), flightMergeClause)
}

// flightArgs renders one row in flightInsertColumns order. Unparsed
// timestamps and missing delays become SQL NULLs.
func flightArgs(row flights.Row) []interface{} {
	var scheduled, actual, scraped interface{}
	if row.ScheduledTime != nil {
		scheduled = *row.ScheduledTime
	}
	if row.ActualTime != nil {
		actual = *row.ActualTime
	}
	if !row.ScrapeTimestamp.IsZero() {
		scraped = row.ScrapeTimestamp
	}

	var delay interface{}
	if row.DelayMinutes != nil {
		delay = *row.DelayMinutes
	}

	return []interface{}{
		row.FlightID,
		row.AirlineCode,
		row.FlightNumber,
		row.Direction,
		row.AirportCode,
		scheduled,
		actual,
		row.AirlineName,
		row.AirportNameEN,
		row.AirportNameHE,
		row.CityEN,
		row.CountryEN,
		row.CountryHE,
		row.Terminal,
		row.CheckinCounters,
		row.CheckinZone,
		row.StatusEN,
		row.StatusHE,
		delay,
		scraped,
		row.RawPath,
	}
}

// dedupeChunk collapses rows sharing an identity, keeping the last
// observation. Order of first appearance is preserved.
func dedupeChunk(rows []flights.Row) []flights.Row {
	seen := make(map[string]int, len(rows))
	out := make([]flights.Row, 0, len(rows))
	for _, row := range rows {
		if idx, ok := seen[row.FlightID]; ok {
			out[idx] = row
			continue
		}
		seen[row.FlightID] = len(out)
		out = append(out, row)
	}
	return out
}

const flightSelectColumns = `flight_id, COALESCE(airline_code, ''), COALESCE(flight_number, ''),
		       COALESCE(direction, ''), COALESCE(location_iata, ''),
		       scheduled_time, actual_time,
		       COALESCE(airline_name, ''), COALESCE(location_en, ''), COALESCE(location_he, ''),
		       COALESCE(location_city_en, ''), COALESCE(country_en, ''), COALESCE(country_he, ''),
		       COALESCE(terminal, ''), COALESCE(checkin_counters, ''), COALESCE(checkin_zone, ''),
		       COALESCE(status_en, ''), COALESCE(status_he, ''),
		       delay_minutes, scrape_timestamp, COALESCE(raw_s3_path, '')`

func scanFlight(scanner interface{ Scan(...interface{}) error }) (*Flight, error) {
	var flight Flight
	var delay sql.NullInt64

	err := scanner.Scan(
		&flight.FlightID, &flight.AirlineCode, &flight.FlightNumber,
		&flight.Direction, &flight.LocationIATA,
		&flight.ScheduledTime, &flight.ActualTime,
		&flight.AirlineName, &flight.LocationEN, &flight.LocationHE,
		&flight.LocationCityEN, &flight.CountryEN, &flight.CountryHE,
		&flight.Terminal, &flight.CheckinCounters, &flight.CheckinZone,
		&flight.StatusEN, &flight.StatusHE,
		&delay, &flight.ScrapeTimestamp, &flight.RawS3Path,
	)
	if err != nil {
		return nil, err
	}

	if delay.Valid {
		d := int(delay.Int64)
		flight.DelayMinutes = &d
	}

	return &flight, nil
}

// GetFlight retrieves a flight by its identity
func (r *FlightRepo) GetFlight(flightID string) (*Flight, error) {
	row := r.db.QueryRow(fmt.Sprintf(`
		SELECT %s
		FROM flights
		WHERE flight_id = $1
	`, flightSelectColumns), flightID)

	flight, err := scanFlight(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flight: %w", err)
	}

	return flight, nil
}

// ListFlights returns one page of flights matching the filters plus the
// total match count.
func (r *FlightRepo) ListFlights(filters FlightFilters, page, size int) ([]Flight, int, error) {
	where, args := buildFlightFilters(filters)

	var total int
	countQuery := "SELECT COUNT(*) FROM flights" + where
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count flights: %w", err)
	}

	order := "ASC"
	if filters.SortDesc {
		order = "DESC"
	}

	offset := (page - 1) * size
	query := fmt.Sprintf(`
		SELECT %s
		FROM flights%s
		ORDER BY scheduled_time %s NULLS LAST
		LIMIT $%d OFFSET $%d
	`, flightSelectColumns, where, order, len(args)+1, len(args)+2)

	rows, err := r.db.Query(query, append(args, size, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list flights: %w", err)
	}
	defer rows.Close()

	var result []Flight
	for rows.Next() {
		flight, err := scanFlight(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan flight row: %w", err)
		}
		result = append(result, *flight)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating flight rows: %w", err)
	}

	return result, total, nil
}

// buildFlightFilters renders the WHERE clause for ListFlights.
func buildFlightFilters(filters FlightFilters) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(condition string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if filters.Direction != "" {
		add("direction = $%d", filters.Direction)
	}
	if filters.AirlineCode != "" {
		add("airline_code = $%d", filters.AirlineCode)
	}
	if filters.AirportCode != "" {
		add("location_iata = $%d", filters.AirportCode)
	}
	if filters.Status != "" {
		add("status_en = $%d", filters.Status)
	}
	if filters.Terminal != "" {
		add("terminal = $%d", filters.Terminal)
	}
	if filters.DateFrom != "" {
		add("scheduled_time >= $%d::date", filters.DateFrom)
	}
	if filters.DateTo != "" {
		add("scheduled_time < $%d::date + INTERVAL '1 day'", filters.DateTo)
	}
	if filters.DelayMin != nil {
		add("delay_minutes >= $%d", *filters.DelayMin)
	}
	if filters.DelayMax != nil {
		add("delay_minutes <= $%d", *filters.DelayMax)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// ListAirlines aggregates flights into per-airline KPIs, best on-time
// performance first. A flight counts as on time when its delay is null or
// non-positive. Airlines with fewer than minFlights rows are dropped.
func (r *FlightRepo) ListAirlines(minFlights int) ([]AirlineKPI, error) {
	if minFlights < 1 {
		minFlights = 1
	}

	rows, err := r.db.Query(`
		SELECT
			airline_code,
			COALESCE(airline_name, '') AS airline_name,
			COUNT(*) AS total_flights,
			COALESCE(SUM(CASE WHEN delay_minutes IS NULL OR delay_minutes <= 0 THEN 1 ELSE 0 END), 0) AS on_time_flights,
			COALESCE(SUM(CASE WHEN delay_minutes > 0 THEN 1 ELSE 0 END), 0) AS delayed_flights,
			COALESCE(SUM(CASE WHEN status_en ILIKE '%cancel%' THEN 1 ELSE 0 END), 0) AS cancelled_flights,
			AVG(CASE WHEN delay_minutes > 0 THEN delay_minutes END) AS avg_delay_delayed,
			AVG(COALESCE(delay_minutes, 0)) AS avg_delay_all
		FROM flights
		GROUP BY airline_code, airline_name
		HAVING COUNT(*) >= $1
		ORDER BY SUM(CASE WHEN delay_minutes IS NULL OR delay_minutes <= 0 THEN 1 ELSE 0 END)::float / COUNT(*) DESC,
			airline_code ASC
		LIMIT 1000
	`, minFlights)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate airlines: %w", err)
	}
	defer rows.Close()

	var kpis []AirlineKPI
	for rows.Next() {
		var kpi AirlineKPI
		var avgDelayed, avgAll sql.NullFloat64

		err := rows.Scan(&kpi.AirlineCode, &kpi.AirlineName, &kpi.TotalFlights,
			&kpi.OnTimeFlights, &kpi.DelayedFlights, &kpi.CancelledFlights,
			&avgDelayed, &avgAll)
		if err != nil {
			return nil, fmt.Errorf("failed to scan airline row: %w", err)
		}

		if avgDelayed.Valid {
			kpi.AvgDelayMinutes = avgDelayed.Float64
		}
		if avgAll.Valid {
			kpi.AvgDelayAllFlights = avgAll.Float64
		}
		finalizeAirlineKPI(&kpi)
		kpis = append(kpis, kpi)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating airline rows: %w", err)
	}

	return kpis, nil
}

// finalizeAirlineKPI derives the percentage fields from the raw counts and
// rounds every float to two decimals.
func finalizeAirlineKPI(kpi *AirlineKPI) {
	if kpi.TotalFlights > 0 {
		kpi.OnTimePercentage = round2(float64(kpi.OnTimeFlights) / float64(kpi.TotalFlights) * 100)
		kpi.CancellationPercentage = round2(float64(kpi.CancelledFlights) / float64(kpi.TotalFlights) * 100)
	}
	kpi.AvgDelayMinutes = round2(kpi.AvgDelayMinutes)
	kpi.AvgDelayAllFlights = round2(kpi.AvgDelayAllFlights)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ListDestinations returns one page of distinct destination names plus the
// total match count. Empty names are excluded; search matches anywhere in
// the name, case-insensitively.
func (r *FlightRepo) ListDestinations(search string, page, size int) ([]string, int, error) {
	where, args := buildDestinationFilter(search)

	var total int
	countQuery := "SELECT COUNT(DISTINCT location_en) FROM flights" + where
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count destinations: %w", err)
	}

	offset := (page - 1) * size
	query := fmt.Sprintf(`
		SELECT DISTINCT location_en
		FROM flights%s
		ORDER BY location_en ASC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)

	rows, err := r.db.Query(query, append(args, size, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list destinations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, 0, fmt.Errorf("failed to scan destination row: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating destination rows: %w", err)
	}

	return names, total, nil
}

// buildDestinationFilter renders the WHERE clause for ListDestinations.
func buildDestinationFilter(search string) (string, []interface{}) {
	where := " WHERE location_en <> ''"
	var args []interface{}

	if search != "" {
		args = append(args, "%"+search+"%")
		where += fmt.Sprintf(" AND location_en ILIKE $%d", len(args))
	}

	return where, args
}

// GetStats aggregates the flights table
func (r *FlightRepo) GetStats() (*FlightStats, error) {
	var stats FlightStats
	var avgDelay sql.NullFloat64

	err := r.db.QueryRow(`
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN direction = 'A' THEN 1 ELSE 0 END), 0) AS arrivals,
			COALESCE(SUM(CASE WHEN direction = 'D' THEN 1 ELSE 0 END), 0) AS departures,
			COALESCE(SUM(CASE WHEN delay_minutes > 0 THEN 1 ELSE 0 END), 0) AS delayed,
			AVG(delay_minutes) AS avg_delay
		FROM flights
	`).Scan(&stats.TotalFlights, &stats.Arrivals, &stats.Departures,
		&stats.DelayedFlights, &avgDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to get flight stats: %w", err)
	}

	if avgDelay.Valid {
		stats.AvgDelay = avgDelay.Float64
	}

	return &stats, nil
}

// GetFlightCount returns the total number of flight rows
func (r *FlightRepo) GetFlightCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM flights").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get flight count: %w", err)
	}
	return count, nil
}
