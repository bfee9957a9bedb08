package database

import (
	"database/sql"
	"fmt"
)

var _ BatchRepository = (*BatchRepo)(nil)

// BatchRepo is the processed-batch ledger. It gates whole-file re-ingestion:
// a file marked success is skipped on later runs. Row-level idempotency does
// not depend on it — the flights primary key guarantees correctness even
// when the ledger check is bypassed.
type BatchRepo struct {
	db *DB
}

func NewBatchRepository(db *DB) *BatchRepo {
	return &BatchRepo{db: db}
}

// IsProcessed reports whether the file was already merged successfully.
// A row with status failed counts as unprocessed so the batch is retried.
func (r *BatchRepo) IsProcessed(fileName string) (bool, error) {
	var status string
	err := r.db.QueryRow(
		"SELECT status FROM processed_files WHERE file_name = $1",
		fileName).Scan(&status)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check processed file: %w", err)
	}

	return status == BatchStatusSuccess, nil
}

// MarkProcessed records a batch attempt. Repeated attempts overwrite the
// previous row, so a retried batch flips failed to success in place.
func (r *BatchRepo) MarkProcessed(fileName, s3Key, status string) error {
	_, err := r.db.Exec(`
		INSERT INTO processed_files (file_name, s3_key, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (file_name) DO UPDATE SET
			s3_key = EXCLUDED.s3_key,
			processed_at = CURRENT_TIMESTAMP,
			status = EXCLUDED.status
	`, fileName, s3Key, status)

	if err != nil {
		return fmt.Errorf("failed to mark file %s as %s: %w", fileName, status, err)
	}

	return nil
}

// ListProcessed returns the most recent ledger entries
func (r *BatchRepo) ListProcessed(limit int) ([]ProcessedFile, error) {
	rows, err := r.db.Query(`
		SELECT file_name, s3_key, processed_at, status
		FROM processed_files
		ORDER BY processed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed files: %w", err)
	}
	defer rows.Close()

	var files []ProcessedFile
	for rows.Next() {
		var file ProcessedFile
		err := rows.Scan(&file.FileName, &file.S3Key, &file.ProcessedAt, &file.Status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan processed file row: %w", err)
		}
		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating processed file rows: %w", err)
	}

	return files, nil
}
