package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/skyline-data/flight-board/app/database"
	"github.com/skyline-data/flight-board/app/flights"
	"github.com/skyline-data/flight-board/app/sources"
	"github.com/skyline-data/flight-board/app/storage"
)

// IngestTask runs one full ingestion batch for a source: fetch every page,
// stage the raw records to object storage, normalize, hash and merge into
// the flights table, then record the batch in the processed-file ledger.
// The ledger is marked success only after the whole merge commits; any
// failure marks it failed and propagates, so the scheduler retries.
type IngestTask struct {
	Task
	SourceConfig *sources.Config
	fetcher      Fetcher
	stager       BatchStager
	normalizer   *flights.Normalizer
	flightRepo   database.FlightRepository
	batchRepo    database.BatchRepository
}

func NewIngestTask(sourceName string, sourceConfig *sources.Config, fetcher Fetcher,
	stager BatchStager, normalizer *flights.Normalizer,
	flightRepo database.FlightRepository, batchRepo database.BatchRepository) *IngestTask {
	return &IngestTask{
		Task:         NewTask(TaskTypeIngest, sourceName),
		SourceConfig: sourceConfig,
		fetcher:      fetcher,
		stager:       stager,
		normalizer:   normalizer,
		flightRepo:   flightRepo,
		batchRepo:    batchRepo,
	}
}

func (t *IngestTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !t.SourceConfig.Settings.Enabled {
		slog.Debug("Source disabled, skipping", "source", t.SourceName)
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx,
		time.Duration(t.SourceConfig.Settings.Timeout)*time.Second)
	defer cancel()

	records, err := t.fetcher.FetchAll(fetchCtx, t.SourceConfig.Resource)
	if err != nil {
		return fmt.Errorf("failed to fetch source %s: %w", t.SourceName, err)
	}

	if len(records) == 0 {
		slog.Info("Task completed", "type", "Ingest", "source", t.SourceName,
			"duration", t.GetDuration(), "records", 0)
		return nil
	}

	scrapedAt := time.Now().UTC()
	key := fmt.Sprintf("%s%s_%s.json.gz", storage.RawPrefix,
		t.SourceName, scrapedAt.Format("20060102_150405"))

	locator, err := t.stager.PutRawBatch(ctx, key, records)
	if err != nil {
		return fmt.Errorf("failed to stage raw batch: %w", err)
	}

	rows := t.normalizer.Run(records, scrapedAt, locator)

	fileName := path.Base(key)
	upserted, err := t.flightRepo.UpsertFlights(rows)
	if err != nil {
		if markErr := t.batchRepo.MarkProcessed(fileName, locator, database.BatchStatusFailed); markErr != nil {
			slog.Error("Failed to record failed batch", "file", fileName, "error", markErr)
		}
		return fmt.Errorf("failed to merge batch %s: %w", fileName, err)
	}

	if err := t.batchRepo.MarkProcessed(fileName, locator, database.BatchStatusSuccess); err != nil {
		return fmt.Errorf("failed to mark batch %s processed: %w", fileName, err)
	}

	slog.Info("Task completed",
		"type", "Ingest",
		"source", t.SourceName,
		"duration", t.GetDuration(),
		"records", len(records),
		"upserted", upserted,
		"skipped", len(rows)-upserted,
		"staged", locator)

	return nil
}
