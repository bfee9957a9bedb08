package api

import (
	"time"

	"github.com/skyline-data/flight-board/app/cache"
	"github.com/skyline-data/flight-board/app/database"
	"github.com/skyline-data/flight-board/app/sources"
	"github.com/skyline-data/flight-board/app/tasks"
)

// SchedulerInterface covers the scheduler operations the API triggers
type SchedulerInterface interface {
	EnqueueTask(task tasks.TaskInterface) error
	NewIngestTaskFor(sourceConfig *sources.Config) *tasks.IngestTask
	NewBackfillTaskFor(force bool) *tasks.BackfillTask
}

var _ SchedulerInterface = (*tasks.Scheduler)(nil)

// ResponseCache caches rendered API responses. Optional: a nil cache
// disables caching.
type ResponseCache interface {
	Get(key string) (string, error)
	Set(key string, value interface{}, ttl time.Duration) error
}

var _ ResponseCache = (*cache.Cache)(nil)

type Handler struct {
	flightRepo    database.FlightRepository
	batchRepo     database.BatchRepository
	sourcesCache  *sources.Cache
	scheduler     SchedulerInterface
	responseCache ResponseCache
}
