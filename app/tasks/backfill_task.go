package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/skyline-data/flight-board/app/database"
	"github.com/skyline-data/flight-board/app/flights"
	"github.com/skyline-data/flight-board/app/storage"
)

// BackfillTask re-merges every staged batch in object storage. Batches the
// ledger already marks success are skipped unless Force is set; the primary
// key keeps a forced re-merge correct either way. Files are independent:
// one file's failure is recorded and the rest continue.
type BackfillTask struct {
	Task
	Force      bool
	stager     BatchStager
	normalizer *flights.Normalizer
	flightRepo database.FlightRepository
	batchRepo  database.BatchRepository
}

func NewBackfillTask(force bool, stager BatchStager, normalizer *flights.Normalizer,
	flightRepo database.FlightRepository, batchRepo database.BatchRepository) *BackfillTask {
	return &BackfillTask{
		Task:       NewTask(TaskTypeBackfill, "all"),
		Force:      force,
		stager:     stager,
		normalizer: normalizer,
		flightRepo: flightRepo,
		batchRepo:  batchRepo,
	}
}

func (t *BackfillTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	keys, err := t.stager.ListRawBatches(ctx, storage.RawPrefix)
	if err != nil {
		return fmt.Errorf("failed to list staged batches: %w", err)
	}

	processed := 0
	skipped := 0
	failed := 0

	for _, key := range keys {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fileName := path.Base(key)

		if !t.Force {
			done, err := t.batchRepo.IsProcessed(fileName)
			if err != nil {
				return fmt.Errorf("failed to check ledger for %s: %w", fileName, err)
			}
			if done {
				skipped++
				continue
			}
		}

		if err := t.mergeStagedBatch(ctx, key, fileName); err != nil {
			slog.Error("Backfill batch failed", "file", fileName, "error", err)
			failed++
			continue
		}
		processed++
	}

	slog.Info("Task completed",
		"type", "Backfill",
		"duration", t.GetDuration(),
		"total", len(keys),
		"processed", processed,
		"skipped", skipped,
		"failed", failed)

	if failed > 0 {
		return fmt.Errorf("%d of %d staged batches failed", failed, len(keys))
	}

	return nil
}

func (t *BackfillTask) mergeStagedBatch(ctx context.Context, key, fileName string) error {
	records, err := t.stager.GetRawBatch(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to download staged batch: %w", err)
	}

	locator := t.stager.Locator(key)
	rows := t.normalizer.Run(records, time.Now().UTC(), locator)

	if _, err := t.flightRepo.UpsertFlights(rows); err != nil {
		if markErr := t.batchRepo.MarkProcessed(fileName, locator, database.BatchStatusFailed); markErr != nil {
			slog.Error("Failed to record failed batch", "file", fileName, "error", markErr)
		}
		return fmt.Errorf("failed to merge staged batch: %w", err)
	}

	if err := t.batchRepo.MarkProcessed(fileName, locator, database.BatchStatusSuccess); err != nil {
		return fmt.Errorf("failed to mark batch processed: %w", err)
	}

	return nil
}
