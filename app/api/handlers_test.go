package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skyline-data/flight-board/app/database"
	"github.com/skyline-data/flight-board/app/flights"
	"github.com/skyline-data/flight-board/app/sources"
	"github.com/skyline-data/flight-board/app/tasks"
)

type fakeFlightRepo struct {
	flights         []database.Flight
	total           int
	lastFilters     database.FlightFilters
	lastPage        int
	lastSize        int
	stats           *database.FlightStats
	statsCalls      int
	countErr        error
	airlines        []database.AirlineKPI
	lastMinFlights  int
	destinations    []string
	lastDestSearch  string
}

func (f *fakeFlightRepo) UpsertFlights(rows []flights.Row) (int, error) {
	return len(rows), nil
}

func (f *fakeFlightRepo) GetFlight(flightID string) (*database.Flight, error) {
	for i := range f.flights {
		if f.flights[i].FlightID == flightID {
			return &f.flights[i], nil
		}
	}
	return nil, nil
}

func (f *fakeFlightRepo) ListFlights(filters database.FlightFilters, page, size int) ([]database.Flight, int, error) {
	f.lastFilters = filters
	f.lastPage = page
	f.lastSize = size
	return f.flights, f.total, nil
}

func (f *fakeFlightRepo) GetStats() (*database.FlightStats, error) {
	f.statsCalls++
	if f.stats != nil {
		return f.stats, nil
	}
	return &database.FlightStats{}, nil
}

func (f *fakeFlightRepo) ListAirlines(minFlights int) ([]database.AirlineKPI, error) {
	f.lastMinFlights = minFlights
	return f.airlines, nil
}

func (f *fakeFlightRepo) ListDestinations(search string, page, size int) ([]string, int, error) {
	f.lastDestSearch = search
	return f.destinations, len(f.destinations), nil
}

func (f *fakeFlightRepo) GetFlightCount() (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.flights), nil
}

type fakeBatchRepo struct {
	files []database.ProcessedFile
}

func (f *fakeBatchRepo) IsProcessed(fileName string) (bool, error) {
	return false, nil
}

func (f *fakeBatchRepo) MarkProcessed(fileName, s3Key, status string) error {
	return nil
}

func (f *fakeBatchRepo) ListProcessed(limit int) ([]database.ProcessedFile, error) {
	if limit < len(f.files) {
		return f.files[:limit], nil
	}
	return f.files, nil
}

type fakeScheduler struct {
	enqueued []tasks.TaskInterface
}

func (f *fakeScheduler) EnqueueTask(task tasks.TaskInterface) error {
	f.enqueued = append(f.enqueued, task)
	return nil
}

func (f *fakeScheduler) NewIngestTaskFor(sourceConfig *sources.Config) *tasks.IngestTask {
	return tasks.NewIngestTask(sourceConfig.Name, sourceConfig, nil, nil, nil, nil, nil)
}

func (f *fakeScheduler) NewBackfillTaskFor(force bool) *tasks.BackfillTask {
	return tasks.NewBackfillTask(force, nil, nil, nil, nil)
}

type fakeResponseCache struct {
	store map[string]string
	sets  int
}

func newFakeResponseCache() *fakeResponseCache {
	return &fakeResponseCache{store: make(map[string]string)}
}

func (f *fakeResponseCache) Get(key string) (string, error) {
	return f.store[key], nil
}

func (f *fakeResponseCache) Set(key string, value interface{}, ttl time.Duration) error {
	f.sets++
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.store[key] = string(data)
	return nil
}

func testSourcesCache(t *testing.T) *sources.Cache {
	t.Helper()

	dir := t.TempDir()
	content := `url: "https://data.example.org/api/3/action/datastore_search"
resource_id: "e83f763b-b7d7-479e-b172-ae981ddc6de5"
settings:
  enabled: true
`
	if err := os.WriteFile(filepath.Join(dir, "arrivals.yml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write source config: %v", err)
	}

	cache := sources.NewCache(dir)
	if err := cache.Run(); err != nil {
		t.Fatalf("Failed to load source configs: %v", err)
	}
	return cache
}

func testServer(t *testing.T, flightRepo *fakeFlightRepo, batchRepo *fakeBatchRepo,
	scheduler *fakeScheduler, responseCache ResponseCache) http.Handler {
	t.Helper()

	handler := NewHandler(flightRepo, batchRepo, testSourcesCache(t), scheduler, responseCache)
	return NewServer(handler, "test-key", false)
}

func sampleFlight() database.Flight {
	scheduled := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	delay := 25
	return database.Flight{
		FlightID:     "4f57718c7a5f3d3cb1f91a32d492531d",
		AirlineCode:  "LY",
		FlightNumber: "001",
		Direction:    "D",
		LocationIATA: "JFK",

		ScheduledTime: &scheduled,
		StatusEN:      "DEPARTED",
		DelayMinutes:  &delay,
	}
}

func TestListFlights(t *testing.T) {
	flightRepo := &fakeFlightRepo{flights: []database.Flight{sampleFlight()}, total: 1}
	server := testServer(t, flightRepo, &fakeBatchRepo{}, &fakeScheduler{}, nil)

	req := httptest.NewRequest("GET", "/flights?direction=D&airline=LY&page=2&size=25&sort=desc", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	if flightRepo.lastFilters.Direction != "D" {
		t.Errorf("Expected direction filter 'D', got '%s'", flightRepo.lastFilters.Direction)
	}
	if flightRepo.lastFilters.AirlineCode != "LY" {
		t.Errorf("Expected airline filter 'LY', got '%s'", flightRepo.lastFilters.AirlineCode)
	}
	if !flightRepo.lastFilters.SortDesc {
		t.Error("Expected descending sort")
	}
	if flightRepo.lastPage != 2 || flightRepo.lastSize != 25 {
		t.Errorf("Expected page 2 size 25, got page %d size %d", flightRepo.lastPage, flightRepo.lastSize)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if body["total"].(float64) != 1 {
		t.Errorf("Expected total 1, got %v", body["total"])
	}
}

func TestListFlightsDelayFilter(t *testing.T) {
	flightRepo := &fakeFlightRepo{}
	server := testServer(t, flightRepo, &fakeBatchRepo{}, &fakeScheduler{}, nil)

	req := httptest.NewRequest("GET", "/flights?delay_min=15&delay_max=120", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if flightRepo.lastFilters.DelayMin == nil || *flightRepo.lastFilters.DelayMin != 15 {
		t.Errorf("Expected delay_min 15, got %v", flightRepo.lastFilters.DelayMin)
	}
	if flightRepo.lastFilters.DelayMax == nil || *flightRepo.lastFilters.DelayMax != 120 {
		t.Errorf("Expected delay_max 120, got %v", flightRepo.lastFilters.DelayMax)
	}
}

func TestListFlightsInvalidDelayFilter(t *testing.T) {
	server := testServer(t, &fakeFlightRepo{}, &fakeBatchRepo{}, &fakeScheduler{}, nil)

	req := httptest.NewRequest("GET", "/flights?delay_min=soon", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid delay_min, got %d", w.Code)
	}
}

func TestListFlightsPaginationBounds(t *testing.T) {
	flightRepo := &fakeFlightRepo{}
	server := testServer(t, flightRepo, &fakeBatchRepo{}, &fakeScheduler{}, nil)

	req := httptest.NewRequest("GET", "/flights?page=0&size=9999", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if flightRepo.lastPage != 1 {
		t.Errorf("Page below 1 should clamp to 1, got %d", flightRepo.lastPage)
	}
	if flightRepo.lastSize != defaultPageSize {
		t.Errorf("Oversized page should fall back to %d, got %d", defaultPageSize, flightRepo.lastSize)
	}
}

func TestGetFlight(t *testing.T) {
	flightRepo := &fakeFlightRepo{flights: []database.Flight{sampleFlight()}}
	server := testServer(t, flightRepo, &fakeBatchRepo{}, &fakeScheduler{}, nil)

	req := httptest.NewRequest("GET", "/flights/4f57718c7a5f3d3cb1f91a32d492531d", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if body["airline_code"] != "LY" {
		t.Errorf("Expected airline_code 'LY', got %v", body["airline_code"])
	}
	if body["delay_minutes"].(float64) != 25 {
		t.Errorf("Expected delay_minutes 25, got %v", body["delay_minutes"])
	}
}

func TestGetFlightNotFound(t *testing.T) {
	server := testServer(t, &fakeFlightRepo{}, &fakeBatchRepo{}, &fakeScheduler{}, nil)

	req := httptest.NewRequest("GET", "/flights/ffffffffffffffffffffffffffffffff", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestGetStatsCaching(t *testing.T) {
	flightRepo := &fakeFlightRepo{stats: &database.FlightStats{TotalFlights: 42, Departures: 20, Arrivals: 22}}
	responseCache := newFakeResponseCache()
	server := testServer(t, flightRepo, &fakeBatchRepo{}, &fakeScheduler{}, responseCache)

	// First request populates the cache
	req := httptest.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if responseCache.sets != 1 {
		t.Errorf("Expected 1 cache write, got %d", responseCache.sets)
	}

	// Second request is served from cache
	w = httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest("GET", "/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Cache") != "HIT" {
		t.Error("Expected cache hit on second request")
	}
	if flightRepo.statsCalls != 1 {
		t.Errorf("Expected 1 repository call, got %d", flightRepo.statsCalls)
	}

	var stats database.FlightStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if stats.TotalFlights != 42 {
		t.Errorf("Expected 42 total flights, got %d", stats.TotalFlights)
	}
}

func TestGetHealth(t *testing.T) {
	flightRepo := &fakeFlightRepo{flights: []database.Flight{sampleFlight()}}
	server := testServer(t, flightRepo, &fakeBatchRepo{}, &fakeScheduler{}, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", body["status"])
	}
	if body["flights"].(float64) != 1 {
		t.Errorf("Expected 1 flight, got %v", body["flights"])
	}
	if body["loaded_sources"].(float64) != 1 {
		t.Errorf("Expected 1 loaded source, got %v", body["loaded_sources"])
	}
}

func TestGetHealthDegradedWhenDatabaseDown(t *testing.T) {
	flightRepo := &fakeFlightRepo{countErr: errors.New("connection refused")}
	server := testServer(t, flightRepo, &fakeBatchRepo{}, &fakeScheduler{}, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 when the count query fails, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if body["status"] != "degraded" {
		t.Errorf("Expected status 'degraded', got %v", body["status"])
	}
}

func TestListAirlines(t *testing.T) {
	flightRepo := &fakeFlightRepo{airlines: []database.AirlineKPI{
		{AirlineCode: "LY", AirlineName: "EL AL", TotalFlights: 80, OnTimeFlights: 60,
			DelayedFlights: 20, OnTimePercentage: 75, AvgDelayMinutes: 22.5},
		{AirlineCode: "BA", AirlineName: "BRITISH AIRWAYS", TotalFlights: 20, OnTimeFlights: 10,
			DelayedFlights: 10, OnTimePercentage: 50, AvgDelayMinutes: 40},
	}}
	server := testServer(t, flightRepo, &fakeBatchRepo{}, &fakeScheduler{}, nil)

	req := httptest.NewRequest("GET", "/airlines?min_flights=5", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if flightRepo.lastMinFlights != 5 {
		t.Errorf("Expected min_flights 5, got %d", flightRepo.lastMinFlights)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if body["total_airlines"].(float64) != 2 {
		t.Errorf("Expected 2 airlines, got %v", body["total_airlines"])
	}
	if body["total_flights"].(float64) != 100 {
		t.Errorf("Expected 100 total flights, got %v", body["total_flights"])
	}

	airlines := body["airlines"].([]interface{})
	first := airlines[0].(map[string]interface{})
	if first["airline_code"] != "LY" {
		t.Errorf("Expected first airline 'LY', got %v", first["airline_code"])
	}
	if first["on_time_percentage"].(float64) != 75 {
		t.Errorf("Expected on-time percentage 75, got %v", first["on_time_percentage"])
	}
}

func TestListDestinations(t *testing.T) {
	flightRepo := &fakeFlightRepo{destinations: []string{"LONDON", "NEW YORK", "PARIS"}}
	server := testServer(t, flightRepo, &fakeBatchRepo{}, &fakeScheduler{}, nil)

	req := httptest.NewRequest("GET", "/destinations?search=on", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if flightRepo.lastDestSearch != "on" {
		t.Errorf("Expected search 'on', got '%s'", flightRepo.lastDestSearch)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if body["total_count"].(float64) != 3 {
		t.Errorf("Expected 3 destinations, got %v", body["total_count"])
	}
	if body["has_more"].(bool) {
		t.Error("Expected no further pages")
	}

	destinations := body["destinations"].([]interface{})
	first := destinations[0].(map[string]interface{})
	if first["destination"] != "LONDON" {
		t.Errorf("Expected first destination 'LONDON', got %v", first["destination"])
	}
}

func TestListBatches(t *testing.T) {
	batchRepo := &fakeBatchRepo{files: []database.ProcessedFile{
		{FileName: "arrivals_20250115_100000.json.gz", S3Key: "s3://b/raw/flights/arrivals_20250115_100000.json.gz",
			ProcessedAt: time.Now(), Status: database.BatchStatusSuccess},
	}}
	server := testServer(t, &fakeFlightRepo{}, batchRepo, &fakeScheduler{}, nil)

	req := httptest.NewRequest("GET", "/batches", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if body["total"].(float64) != 1 {
		t.Errorf("Expected 1 batch, got %v", body["total"])
	}
}

func TestAPIRequiresKey(t *testing.T) {
	server := testServer(t, &fakeFlightRepo{}, &fakeBatchRepo{}, &fakeScheduler{}, nil)

	req := httptest.NewRequest("POST", "/api/backfill", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got %d", w.Code)
	}

	req = httptest.NewRequest("POST", "/api/backfill", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	w = httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong key, got %d", w.Code)
	}
}

func TestAPIBackfill(t *testing.T) {
	scheduler := &fakeScheduler{}
	server := testServer(t, &fakeFlightRepo{}, &fakeBatchRepo{}, scheduler, nil)

	req := httptest.NewRequest("POST", "/api/backfill?force=true", nil)
	req.Header.Set("X-API-Key", "test-key")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	if len(scheduler.enqueued) != 1 {
		t.Fatalf("Expected 1 enqueued task, got %d", len(scheduler.enqueued))
	}
	if scheduler.enqueued[0].GetType() != tasks.TaskTypeBackfill {
		t.Errorf("Expected backfill task, got %s", scheduler.enqueued[0].GetType())
	}
}

func TestAPIIngestSource(t *testing.T) {
	scheduler := &fakeScheduler{}
	server := testServer(t, &fakeFlightRepo{}, &fakeBatchRepo{}, scheduler, nil)

	req := httptest.NewRequest("POST", "/api/ingest/arrivals", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	if len(scheduler.enqueued) != 1 {
		t.Fatalf("Expected 1 enqueued task, got %d", len(scheduler.enqueued))
	}
	if scheduler.enqueued[0].GetSourceName() != "arrivals" {
		t.Errorf("Expected source 'arrivals', got %s", scheduler.enqueued[0].GetSourceName())
	}
}

func TestAPIIngestUnknownSource(t *testing.T) {
	scheduler := &fakeScheduler{}
	server := testServer(t, &fakeFlightRepo{}, &fakeBatchRepo{}, scheduler, nil)

	req := httptest.NewRequest("POST", "/api/ingest/nonexistent", nil)
	req.Header.Set("X-API-Key", "test-key")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if len(scheduler.enqueued) != 0 {
		t.Error("Unknown source should not enqueue a task")
	}
}
