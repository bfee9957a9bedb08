package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skyline-data/flight-board/app/database"
	"github.com/skyline-data/flight-board/app/sources"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	statsCacheKey   = "api:stats"
	statsCacheTTL   = 60 * time.Second
)

func NewHandler(flightRepo database.FlightRepository, batchRepo database.BatchRepository,
	sourcesCache *sources.Cache, scheduler SchedulerInterface,
	responseCache ResponseCache) *Handler {
	return &Handler{
		flightRepo:    flightRepo,
		batchRepo:     batchRepo,
		sourcesCache:  sourcesCache,
		scheduler:     scheduler,
		responseCache: responseCache,
	}
}

func (h *Handler) ListFlights(c *gin.Context) {
	filters := database.FlightFilters{
		Direction:   c.Query("direction"),
		AirlineCode: c.Query("airline"),
		AirportCode: c.Query("airport"),
		Status:      c.Query("status"),
		Terminal:    c.Query("terminal"),
		DateFrom:    c.Query("date_from"),
		DateTo:      c.Query("date_to"),
		SortDesc:    c.Query("sort") == "desc",
	}

	if v := c.Query("delay_min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid delay_min parameter"})
			return
		}
		filters.DelayMin = &n
	}
	if v := c.Query("delay_max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid delay_max parameter"})
			return
		}
		filters.DelayMax = &n
	}

	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", defaultPageSize)
	if page < 1 {
		page = 1
	}
	if size < 1 || size > maxPageSize {
		size = defaultPageSize
	}

	rows, total, err := h.flightRepo.ListFlights(filters, page, size)
	if err != nil {
		slog.Error("Database error", "operation", "list_flights", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	flightList := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		flightList = append(flightList, flightResponse(row))
	}

	c.JSON(http.StatusOK, gin.H{
		"flights": flightList,
		"total":   total,
		"page":    page,
		"size":    size,
	})
}

func (h *Handler) GetFlight(c *gin.Context) {
	flightID := c.Param("id")
	if flightID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing flight id parameter"})
		return
	}

	flight, err := h.flightRepo.GetFlight(flightID)
	if err != nil {
		slog.Error("Database error", "operation", "get_flight", "flight_id", flightID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if flight == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Flight not found"})
		return
	}

	c.JSON(http.StatusOK, flightResponse(*flight))
}

func (h *Handler) GetStats(c *gin.Context) {
	if h.responseCache != nil {
		if cached, err := h.responseCache.Get(statsCacheKey); err == nil && cached != "" {
			var stats database.FlightStats
			if err := json.Unmarshal([]byte(cached), &stats); err == nil {
				c.Header("X-Cache", "HIT")
				c.JSON(http.StatusOK, stats)
				return
			}
		}
	}

	stats, err := h.flightRepo.GetStats()
	if err != nil {
		slog.Error("Database error", "operation", "get_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if h.responseCache != nil {
		if err := h.responseCache.Set(statsCacheKey, stats, statsCacheTTL); err != nil {
			slog.Warn("Failed to cache stats response", "error", err)
		}
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ListAirlines(c *gin.Context) {
	minFlights := queryInt(c, "min_flights", 1)

	kpis, err := h.flightRepo.ListAirlines(minFlights)
	if err != nil {
		slog.Error("Database error", "operation", "list_airlines", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	totalFlights := 0
	for _, kpi := range kpis {
		totalFlights += kpi.TotalFlights
	}

	c.JSON(http.StatusOK, gin.H{
		"airlines":       kpis,
		"total_airlines": len(kpis),
		"total_flights":  totalFlights,
	})
}

func (h *Handler) ListDestinations(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "size", defaultPageSize)
	if page < 1 {
		page = 1
	}
	if size < 1 || size > maxPageSize {
		size = defaultPageSize
	}

	names, total, err := h.flightRepo.ListDestinations(c.Query("search"), page, size)
	if err != nil {
		slog.Error("Database error", "operation", "list_destinations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	destinations := make([]gin.H, 0, len(names))
	for _, name := range names {
		destinations = append(destinations, gin.H{"destination": name})
	}

	totalPages := (total + size - 1) / size

	c.JSON(http.StatusOK, gin.H{
		"destinations": destinations,
		"total_count":  total,
		"page":         page,
		"size":         size,
		"total_pages":  totalPages,
		"has_more":     page < totalPages,
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	flightCount, err := h.flightRepo.GetFlightCount()
	if err != nil {
		slog.Error("Health check query failed", "error", err)
		health["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	health["status"] = "ok"
	health["flights"] = flightCount
	health["loaded_sources"] = len(h.sourcesCache.GetConfigs())

	c.JSON(http.StatusOK, health)
}

func (h *Handler) ListBatches(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	files, err := h.batchRepo.ListProcessed(limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_batches", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	batches := make([]gin.H, 0, len(files))
	for _, file := range files {
		batches = append(batches, gin.H{
			"file_name":    file.FileName,
			"s3_key":       file.S3Key,
			"processed_at": file.ProcessedAt,
			"status":       file.Status,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"batches": batches,
		"total":   len(batches),
	})
}

func (h *Handler) APIIngestSource(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing source name parameter"})
		return
	}

	sourceConfig, err := h.sourcesCache.GetConfig(name)
	if err != nil {
		slog.Error("Source configuration not found", "source", name, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Source configuration not found"})
		return
	}

	task := h.scheduler.NewIngestTaskFor(sourceConfig)
	if err := h.scheduler.EnqueueTask(task); err != nil {
		slog.Error("Error enqueueing ingest task", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue ingest task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Ingest task enqueued",
		"source":  name,
		"task": gin.H{
			"id":   task.ID,
			"type": task.Type,
		},
	})
}

func (h *Handler) APIBackfill(c *gin.Context) {
	force := c.Query("force") == "true"

	task := h.scheduler.NewBackfillTaskFor(force)
	if err := h.scheduler.EnqueueTask(task); err != nil {
		slog.Error("Error enqueueing backfill task", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue backfill task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Backfill task enqueued",
		"force":   force,
		"task": gin.H{
			"id":   task.ID,
			"type": task.Type,
		},
	})
}

func flightResponse(f database.Flight) gin.H {
	return gin.H{
		"flight_id":        f.FlightID,
		"airline_code":     f.AirlineCode,
		"flight_number":    f.FlightNumber,
		"direction":        f.Direction,
		"location_iata":    f.LocationIATA,
		"scheduled_time":   f.ScheduledTime,
		"actual_time":      f.ActualTime,
		"airline_name":     f.AirlineName,
		"location_en":      f.LocationEN,
		"location_he":      f.LocationHE,
		"location_city_en": f.LocationCityEN,
		"country_en":       f.CountryEN,
		"country_he":       f.CountryHE,
		"terminal":         f.Terminal,
		"checkin_counters": f.CheckinCounters,
		"checkin_zone":     f.CheckinZone,
		"status_en":        f.StatusEN,
		"status_he":        f.StatusHE,
		"delay_minutes":    f.DelayMinutes,
		"scrape_timestamp": f.ScrapeTimestamp,
		"raw_s3_path":      f.RawS3Path,
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
