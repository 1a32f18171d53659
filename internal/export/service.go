package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rpattn/cdranalytics/internal/domain"
	"github.com/rpattn/cdranalytics/internal/ingestion"
	"github.com/rpattn/cdranalytics/internal/repository"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Format is an export file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrUnknownFormat is returned for formats other than csv and xlsx.
var ErrUnknownFormat = errors.New("unknown export format")

const sheetName = "CallRecords"

// ParseFormat defaults to csv when raw is blank.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(FormatCSV):
		return FormatCSV, nil
	case string(FormatXLSX):
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Service writes call records in the upload format so an export can be ingested again.
type Service struct {
	reader repository.CallRecordReader
	logger *zap.Logger
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(reader repository.CallRecordReader, opts ...Option) *Service {
	s := &Service{reader: reader, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result describes a finished export.
type Result struct {
	Rows  int
	Bytes int64
}

// ExportPhoneNumber writes every record involving phoneNumber to w.
func (s *Service) ExportPhoneNumber(ctx context.Context, w io.Writer, phoneNumber string, format Format) (Result, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return Result{}, errors.New("phoneNumber is required")
	}

	records, err := s.reader.ListByPhoneNumber(ctx, phoneNumber)
	if err != nil {
		return Result{}, fmt.Errorf("list call records: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	buffered := bufio.NewWriterSize(w, 64<<10)
	counter := &countingWriter{writer: buffered}

	switch format {
	case FormatCSV:
		err = writeLines(counter, records)
	case FormatXLSX:
		err = writeWorkbook(counter, records)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return Result{}, err
	}
	if err := buffered.Flush(); err != nil {
		return Result{}, fmt.Errorf("flush export: %w", err)
	}

	s.logger.Info("exported call records",
		zap.String("format", string(format)),
		zap.Int("rows", len(records)),
		zap.Int64("bytes", counter.count),
	)
	return Result{Rows: len(records), Bytes: counter.count}, nil
}

// FileName builds a download name such as call-records-447700900123.csv.
func FileName(phoneNumber string, format Format) string {
	return "call-records-" + sanitizeFileComponent(phoneNumber) + "." + string(format)
}

func writeLines(w io.Writer, records []domain.CallRecord) error {
	for _, record := range records {
		if _, err := io.WriteString(w, ingestion.FormatLine(record)+"\n"); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	return nil
}

func writeWorkbook(w io.Writer, records []domain.CallRecord) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}

	for idx, record := range records {
		fields := ingestion.FormatFields(record)
		row := make([]any, len(fields))
		for col, value := range fields {
			row[col] = value
		}
		cell, err := excelize.CoordinatesToCellName(1, idx+1)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", idx+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}

type countingWriter struct {
	writer io.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}
