package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/skyline-data/flight-board/app/database"
	"github.com/skyline-data/flight-board/app/flights"
	"github.com/skyline-data/flight-board/app/source"
	"github.com/skyline-data/flight-board/app/sources"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	sourcesCache *sources.Cache
	flightRepo   database.FlightRepository
	batchRepo    database.BatchRepository
	stager       BatchStager
	httpClient   *http.Client
	normalizer   *flights.Normalizer
	userAgent    string
	interval     time.Duration
	workerCount  int
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	taskQueue    chan TaskInterface

	mu      sync.Mutex
	nextRun map[string]time.Time
}

func NewScheduler(sourcesCache *sources.Cache, flightRepo database.FlightRepository,
	batchRepo database.BatchRepository, stager BatchStager, httpClient *http.Client,
	normalizer *flights.Normalizer, userAgent string, interval time.Duration,
	workerCount int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		sourcesCache: sourcesCache,
		flightRepo:   flightRepo,
		batchRepo:    batchRepo,
		stager:       stager,
		httpClient:   httpClient,
		normalizer:   normalizer,
		userAgent:    userAgent,
		interval:     interval,
		workerCount:  workerCount,
		ctx:          ctx,
		cancel:       cancel,
		taskQueue:    make(chan TaskInterface, 100),
		nextRun:      make(map[string]time.Time),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueDueTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueDueTasks()
			}
		}
	}()
}

// Stop halts the ticker and workers. The task queue is deliberately left
// open: a concurrent EnqueueTask racing a closed channel would panic, and
// workers already exit through the context.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// NewIngestTaskFor builds an ingest task wired to the source's own fetch
// client. Used by the ticker and by the API's manual trigger.
func (s *Scheduler) NewIngestTaskFor(sourceConfig *sources.Config) *IngestTask {
	fetcher := source.NewClient(s.httpClient, sourceConfig.URL, s.userAgent,
		sourceConfig.Settings.PageSize)
	return NewIngestTask(sourceConfig.Name, sourceConfig, fetcher, s.stager,
		s.normalizer, s.flightRepo, s.batchRepo)
}

// NewBackfillTaskFor builds a backfill task over all staged batches
func (s *Scheduler) NewBackfillTaskFor(force bool) *BackfillTask {
	return NewBackfillTask(force, s.stager, s.normalizer, s.flightRepo, s.batchRepo)
}

func (s *Scheduler) enqueueDueTasks() {
	sourceConfigs := s.sourcesCache.GetEnabledConfigs()
	if len(sourceConfigs) == 0 {
		slog.Debug("No enabled sources found")
		return
	}

	now := time.Now().UTC()

	for _, sourceConfig := range sourceConfigs {
		s.mu.Lock()
		next, seen := s.nextRun[sourceConfig.Name]
		due := !seen || !next.After(now)
		if due {
			s.nextRun[sourceConfig.Name] = now.Add(
				time.Duration(sourceConfig.Settings.RefreshInterval) * time.Second)
		}
		s.mu.Unlock()

		if !due {
			slog.Debug("Source not due for ingest yet", "source", sourceConfig.Name, "next_run", next)
			continue
		}

		if err := s.EnqueueTask(s.NewIngestTaskFor(sourceConfig)); err != nil {
			slog.Warn("Failed to enqueue IngestTask", "source", sourceConfig.Name, "error", err)
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 15*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID,
			"type", string(task.GetType()), "id", task.GetID(),
			"retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()),
				"source", task.GetSourceName(), "retry_count", task.GetRetryCount(),
				"max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			go func() {
				time.Sleep(retryDelay)
				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry",
						"type", string(task.GetType()), "id", task.GetID())
					return
				default:
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry",
							"type", string(task.GetType()), "id", task.GetID(),
							"retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else {
			slog.Error("Task failed after maximum retries",
				"type", string(task.GetType()), "id", task.GetID(),
				"retry_count", task.GetRetryCount(),
				"max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
