package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rpattn/cdranalytics/internal/domain"
	"github.com/rpattn/cdranalytics/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxLoggedRejections = 1000
	maxLoggedLineBytes         = 512
	recordTimeout              = 10 * time.Second
)

// Service streams CDR uploads into the call record store.
type Service struct {
	writer  repository.CallRecordWriter
	logRepo repository.IngestionLogRepository
	logger  *zap.Logger
	metrics *Metrics

	batchSize           int
	maxLineBytes        int
	maxLoggedRejections int

	now   func() time.Time
	newID func() uuid.UUID
}

// Option customizes a Service.
type Option func(*Service)

// WithBatchSize flushes the accumulated records every size rows. Zero keeps a single flush at end of stream.
func WithBatchSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.batchSize = size
		}
	}
}

// WithMaxLineBytes bounds the length of a single text line.
func WithMaxLineBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLineBytes = n
		}
	}
}

// WithMaxLoggedRejections caps how many rejected rows are kept in the ingestion log per upload.
func WithMaxLoggedRejections(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxLoggedRejections = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// NewService creates a new ingestion service. logRepo may be nil.
func NewService(
	writer repository.CallRecordWriter,
	logRepo repository.IngestionLogRepository,
	opts ...Option,
) *Service {
	service := &Service{
		writer:              writer,
		logRepo:             logRepo,
		logger:              zap.NewNop(),
		maxLineBytes:        defaultMaxLineBytes,
		maxLoggedRejections: defaultMaxLoggedRejections,
		now:                 time.Now,
		newID:               uuid.New,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.metrics == nil {
		service.metrics = NewMetrics(nil)
	}
	return service
}

// Request describes the ingestion input. Data is closed by Ingest.
type Request struct {
	FileName string
	Data     io.ReadCloser
}

// Summary returns ingestion level metrics.
type Summary struct {
	UploadID         uuid.UUID               `json:"uploadId"`
	FileName         string                  `json:"fileName"`
	TotalLines       int                     `json:"totalLines"`
	AcceptedRows     int                     `json:"acceptedRows"`
	RejectedRows     int                     `json:"rejectedRows"`
	Rejections       map[RejectionReason]int `json:"rejections"`
	BatchesPersisted int                     `json:"batchesPersisted"`
}

type ingestRun struct {
	req        Request
	summary    Summary
	startedAt  time.Time
	rejections []domain.IngestionLogEntry
}

// Ingest reads the upload line by line and persists every valid record.
// Rejected rows never fail the call; read, storage and cancellation errors do.
func (s *Service) Ingest(ctx context.Context, req Request) (summary Summary, err error) {
	if req.Data == nil {
		return Summary{}, errors.New("data reader is required")
	}
	defer func() {
		if closeErr := req.Data.Close(); closeErr != nil {
			s.logger.Warn("failed to close upload", zap.String("file", req.FileName), zap.Error(closeErr))
		}
	}()

	run := &ingestRun{
		req: req,
		summary: Summary{
			UploadID:   s.newID(),
			FileName:   req.FileName,
			Rejections: map[RejectionReason]int{},
		},
		startedAt: s.now(),
	}
	defer func() {
		if p := recover(); p != nil {
			s.finish(ctx, run, fmt.Errorf("panic during ingestion: %v", p))
			panic(p)
		}
		s.finish(ctx, run, err)
		summary = run.summary
	}()

	source, err := openRowSource(req.FileName, req.Data, s.maxLineBytes)
	if err != nil {
		return run.summary, err
	}
	defer func() {
		if closeErr := source.Close(); closeErr != nil {
			s.logger.Warn("failed to close row source", zap.String("file", req.FileName), zap.Error(closeErr))
		}
	}()

	var buffer []domain.CallRecord
	for {
		if err := ctx.Err(); err != nil {
			return run.summary, err
		}

		row, readErr := source.Next()
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return run.summary, fmt.Errorf("failed to read upload: %w", readErr)
		}

		run.summary.TotalLines++
		record, rej := parseRow(row, s.maxLineBytes)
		if rej != nil {
			s.reject(run, row, rej)
			continue
		}

		buffer = append(buffer, record)
		run.summary.AcceptedRows++
		s.metrics.accepted()

		if s.batchSize > 0 && len(buffer) >= s.batchSize {
			if err := s.flush(ctx, run, buffer); err != nil {
				return run.summary, err
			}
			buffer = make([]domain.CallRecord, 0, s.batchSize)
		}
	}

	if len(buffer) > 0 {
		if err := s.flush(ctx, run, buffer); err != nil {
			return run.summary, err
		}
	}

	return run.summary, nil
}

func parseRow(row rawRow, maxLineBytes int) (domain.CallRecord, *Rejection) {
	if row.oversized {
		return domain.CallRecord{}, &Rejection{
			Reason: ReasonMalformedLine,
			Detail: fmt.Sprintf("line exceeds %d bytes", maxLineBytes),
		}
	}
	if row.fields != nil {
		return ParseFields(row.fields)
	}
	return ParseLine(row.text)
}

func (s *Service) reject(run *ingestRun, row rawRow, rej *Rejection) {
	run.summary.RejectedRows++
	run.summary.Rejections[rej.Reason]++
	s.metrics.rejected(rej.Reason)

	line := truncate(row.text, maxLoggedLineBytes)
	s.logger.Warn("skipping rejected row",
		zap.String("file", run.req.FileName),
		zap.Int("line", row.number),
		zap.String("reason", string(rej.Reason)),
		zap.String("detail", rej.Error()),
		zap.String("raw", line),
	)

	if len(run.rejections) < s.maxLoggedRejections {
		run.rejections = append(run.rejections, domain.IngestionLogEntry{
			UploadID:   run.summary.UploadID,
			LineNumber: row.number,
			Reason:     string(rej.Reason),
			Line:       line,
			Message:    rej.Error(),
		})
	}
}

func (s *Service) flush(ctx context.Context, run *ingestRun, records []domain.CallRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := s.now()
	if err := s.writer.BulkInsert(ctx, records); err != nil {
		return fmt.Errorf("failed to persist call records: %w", err)
	}
	s.metrics.observePersist(s.now().Sub(start).Seconds())

	run.summary.BatchesPersisted++
	s.logger.Debug("persisted call records",
		zap.String("file", run.req.FileName),
		zap.Int("records", len(records)),
		zap.Int("batch", run.summary.BatchesPersisted),
	)
	return nil
}

// finish records the upload outcome. Failures here are logged and never surface to the caller.
func (s *Service) finish(ctx context.Context, run *ingestRun, err error) {
	status := domain.UploadStatusCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = domain.UploadStatusCancelled
	default:
		status = domain.UploadStatusFailed
	}
	s.metrics.upload(string(status))

	fields := []zap.Field{
		zap.String("upload_id", run.summary.UploadID.String()),
		zap.String("file", run.req.FileName),
		zap.String("status", string(status)),
		zap.Int("lines", run.summary.TotalLines),
		zap.Int("accepted", run.summary.AcceptedRows),
		zap.Int("rejected", run.summary.RejectedRows),
	}
	if err != nil {
		s.logger.Error("ingestion failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Info("ingestion completed", fields...)
	}

	if s.logRepo == nil {
		return
	}

	upload := domain.IngestionUpload{
		ID:           run.summary.UploadID,
		FileName:     run.req.FileName,
		Status:       status,
		TotalLines:   run.summary.TotalLines,
		AcceptedRows: run.summary.AcceptedRows,
		RejectedRows: run.summary.RejectedRows,
		StartedAt:    run.startedAt,
		CompletedAt:  s.now(),
	}
	if err != nil {
		msg := err.Error()
		upload.ErrorMessage = &msg
	}

	// The caller's context may already be cancelled; the outcome is still worth keeping.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if recErr := s.logRepo.RecordUpload(recordCtx, upload); recErr != nil {
		s.logger.Warn("failed to record upload", zap.String("upload_id", upload.ID.String()), zap.Error(recErr))
		return
	}
	if len(run.rejections) == 0 {
		return
	}
	if recErr := s.logRepo.RecordRejections(recordCtx, run.rejections); recErr != nil {
		s.logger.Warn("failed to record rejected rows", zap.String("upload_id", upload.ID.String()), zap.Error(recErr))
	}
}

// truncate cuts value to limit bytes and replaces invalid UTF-8 so it can be stored as text.
func truncate(value string, limit int) string {
	if len(value) > limit {
		value = value[:limit]
	}
	return strings.ToValidUTF8(value, "\uFFFD")
}
