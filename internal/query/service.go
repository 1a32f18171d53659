package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/cdranalytics/internal/domain"
	"github.com/rpattn/cdranalytics/internal/repository"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidPeriod is returned when a period starts after it ends.
	ErrInvalidPeriod = errors.New("start date must not be after end date")
	// ErrMissingParameter is returned when a required argument is blank.
	ErrMissingParameter = errors.New("missing required parameter")
)

// Service answers aggregate questions about persisted call records.
type Service struct {
	reader repository.CallRecordReader
}

// NewService creates a query service over reader.
func NewService(reader repository.CallRecordReader) *Service {
	return &Service{reader: reader}
}

// AverageCost reports false when there are no records.
func (s *Service) AverageCost(ctx context.Context) (decimal.Decimal, bool, error) {
	return s.reader.AverageCost(ctx)
}

func (s *Service) LongestCall(ctx context.Context) (domain.CallRecordDTO, bool, error) {
	record, found, err := s.reader.LongestCall(ctx)
	if err != nil || !found {
		return domain.CallRecordDTO{}, found, err
	}
	return record.ToDTO(), true, nil
}

// CountInPeriod counts calls dated within [start, end].
func (s *Service) CountInPeriod(ctx context.Context, start, end time.Time) (int64, error) {
	if start.After(end) {
		return 0, fmt.Errorf("%w: %s > %s", ErrInvalidPeriod, start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	}
	return s.reader.CountInPeriod(ctx, start, end)
}

// TotalCostByCaller reports false when the caller placed no calls.
func (s *Service) TotalCostByCaller(ctx context.Context, callerID string) (repository.CallerCost, bool, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return repository.CallerCost{}, false, fmt.Errorf("%w: callerID", ErrMissingParameter)
	}

	cost, err := s.reader.TotalCostByCaller(ctx, callerID)
	if err != nil {
		return repository.CallerCost{}, false, err
	}
	return cost, cost.Calls > 0, nil
}

func (s *Service) RecordsByPhoneNumber(ctx context.Context, phoneNumber string) ([]domain.CallRecordDTO, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return nil, fmt.Errorf("%w: phoneNumber", ErrMissingParameter)
	}

	records, err := s.reader.ListByPhoneNumber(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	return domain.ToDTOs(records), nil
}

func (s *Service) MostFrequentCaller(ctx context.Context) (string, bool, error) {
	return s.reader.MostFrequentCaller(ctx)
}

// ParseDate parses a yyyy-mm-dd query value into a call date.
func ParseDate(raw string) (time.Time, error) {
	parsed, err := time.Parse(domain.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected yyyy-mm-dd", raw)
	}
	return domain.NewCallDate(parsed.Year(), parsed.Month(), parsed.Day()), nil
}
