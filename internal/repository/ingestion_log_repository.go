package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/cdranalytics/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultRejectionPageSize = 200

type ingestionLogRepository struct {
	pool *pgxpool.Pool
}

// NewIngestionLogRepository wires a repository backed by pgxpool.
func NewIngestionLogRepository(pool *pgxpool.Pool) IngestionLogRepository {
	return &ingestionLogRepository{pool: pool}
}

func (r *ingestionLogRepository) RecordUpload(ctx context.Context, upload domain.IngestionUpload) error {
	if r.pool == nil {
		return fmt.Errorf("ingestion log repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO ingestion_uploads
			(id, file_name, status, total_lines, accepted_rows, rejected_rows, error_message, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		upload.ID,
		upload.FileName,
		string(upload.Status),
		upload.TotalLines,
		upload.AcceptedRows,
		upload.RejectedRows,
		upload.ErrorMessage,
		upload.StartedAt,
		upload.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record ingestion upload: %w", err)
	}
	return nil
}

// RecordRejections queues every entry in one round trip.
func (r *ingestionLogRepository) RecordRejections(ctx context.Context, entries []domain.IngestionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if r.pool == nil {
		return fmt.Errorf("ingestion log repository not initialized")
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		batch.Queue(
			`INSERT INTO ingestion_logs (upload_id, line_number, reason, line, message)
			 VALUES ($1, $2, $3, $4, $5)`,
			entry.UploadID,
			entry.LineNumber,
			entry.Reason,
			entry.Line,
			entry.Message,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to record ingestion log: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to record ingestion log: %w", err)
	}
	return nil
}

func (r *ingestionLogRepository) ListRejections(ctx context.Context, uploadID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("ingestion log repository not initialized")
	}

	if limit <= 0 {
		limit = defaultRejectionPageSize
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, upload_id, line_number, reason, line, message, created_at
		 FROM ingestion_logs
		 WHERE upload_id = $1
		 ORDER BY line_number ASC
		 LIMIT $2 OFFSET $3`,
		uploadID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.IngestionLogEntry
	for rows.Next() {
		var entry domain.IngestionLogEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.UploadID,
			&entry.LineNumber,
			&entry.Reason,
			&entry.Line,
			&entry.Message,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ingestion log: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ingestion logs: %w", err)
	}

	return entries, nil
}
