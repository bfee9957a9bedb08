package tasks

import (
	"context"

	"github.com/skyline-data/flight-board/app/flights"
)

// TaskSchedulerInterface defines the interface for task scheduling
// operations. Used by the main application and the API to manage background
// ingestion work.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

// Fetcher retrieves all records of an upstream resource
type Fetcher interface {
	FetchAll(ctx context.Context, resourceID string) ([]flights.RawRecord, error)
}

// BatchStager stages raw fetched batches in object storage
type BatchStager interface {
	PutRawBatch(ctx context.Context, key string, records []flights.RawRecord) (string, error)
	GetRawBatch(ctx context.Context, key string) ([]flights.RawRecord, error)
	ListRawBatches(ctx context.Context, prefix string) ([]string, error)
	Locator(key string) string
}
