package domain

import (
	"time"

	"github.com/google/uuid"
)

// UploadStatus is the final state of one ingestion call.
type UploadStatus string

const (
	UploadStatusCompleted UploadStatus = "COMPLETED"
	UploadStatusFailed    UploadStatus = "FAILED"
	UploadStatusCancelled UploadStatus = "CANCELLED"
)

// IngestionUpload summarizes one ingestion call for later inspection.
type IngestionUpload struct {
	ID           uuid.UUID    `json:"id"`
	FileName     string       `json:"file_name"`
	Status       UploadStatus `json:"status"`
	TotalLines   int          `json:"total_lines"`
	AcceptedRows int          `json:"accepted_rows"`
	RejectedRows int          `json:"rejected_rows"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  time.Time    `json:"completed_at"`
}

// IngestionLogEntry captures a row that was rejected during ingestion.
type IngestionLogEntry struct {
	ID         int64     `json:"id"`
	UploadID   uuid.UUID `json:"upload_id"`
	LineNumber int       `json:"line_number"`
	Reason     string    `json:"reason"`
	Line       string    `json:"line"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}
