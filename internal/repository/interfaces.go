package repository

import (
	"context"
	"time"

	"github.com/rpattn/cdranalytics/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CallRecordWriter persists validated call records.
type CallRecordWriter interface {
	// BulkInsert writes all records in one batch; either all rows land or none do.
	BulkInsert(ctx context.Context, records []domain.CallRecord) error
}

// CallRecordReader answers the aggregate queries over persisted call records.
// A false found result means no rows matched; it is not an error.
type CallRecordReader interface {
	AverageCost(ctx context.Context) (avg decimal.Decimal, found bool, err error)
	LongestCall(ctx context.Context) (record domain.CallRecord, found bool, err error)
	CountInPeriod(ctx context.Context, start, end time.Time) (int64, error)
	TotalCostByCaller(ctx context.Context, callerID string) (CallerCost, error)
	ListByPhoneNumber(ctx context.Context, phoneNumber string) ([]domain.CallRecord, error)
	MostFrequentCaller(ctx context.Context) (callerID string, found bool, err error)
}

// CallRecordRepository is the full storage collaborator.
type CallRecordRepository interface {
	CallRecordWriter
	CallRecordReader
}

// CallerCost is the summed cost of every call placed by one caller.
type CallerCost struct {
	CallerID  string          `json:"callerId"`
	TotalCost decimal.Decimal `json:"totalCost"`
	Calls     int64           `json:"calls"`
}

// IngestionLogRepository stores ingestion outcomes for observability.
type IngestionLogRepository interface {
	RecordUpload(ctx context.Context, upload domain.IngestionUpload) error
	RecordRejections(ctx context.Context, entries []domain.IngestionLogEntry) error
	ListRejections(ctx context.Context, uploadID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error)
}
