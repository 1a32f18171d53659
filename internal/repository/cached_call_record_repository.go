package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rpattn/cdranalytics/internal/cache"
	"github.com/rpattn/cdranalytics/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	keyAverageCost        = "average-cost"
	keyLongestCall        = "longest-call"
	keyMostFrequentCaller = "most-frequent-caller"
	keyCountInPeriod      = "count-in-period:"
	keyCallerCost         = "caller-cost:"
	keyPhoneNumber        = "phone-number:"
)

type cachedCallRecordRepository struct {
	inner  CallRecordRepository
	store  cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedCallRecordRepository serves reads from store and drops every entry after a successful BulkInsert.
// Store failures are logged and the call falls through to inner.
func NewCachedCallRecordRepository(inner CallRecordRepository, store cache.Store, ttl time.Duration, logger *zap.Logger) CallRecordRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &cachedCallRecordRepository{inner: inner, store: store, ttl: ttl, logger: logger}
}

type foundValue[T any] struct {
	Value T    `json:"value"`
	Found bool `json:"found"`
}

func (r *cachedCallRecordRepository) BulkInsert(ctx context.Context, records []domain.CallRecord) error {
	if err := r.inner.BulkInsert(ctx, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := r.store.Invalidate(context.WithoutCancel(ctx)); err != nil {
		r.logger.Error("failed to invalidate query cache", zap.Error(err))
	}
	return nil
}

func (r *cachedCallRecordRepository) AverageCost(ctx context.Context) (decimal.Decimal, bool, error) {
	entry, err := readThrough(ctx, r, keyAverageCost, func() (foundValue[decimal.Decimal], error) {
		avg, found, err := r.inner.AverageCost(ctx)
		return foundValue[decimal.Decimal]{Value: avg, Found: found}, err
	})
	return entry.Value, entry.Found, err
}

func (r *cachedCallRecordRepository) LongestCall(ctx context.Context) (domain.CallRecord, bool, error) {
	entry, err := readThrough(ctx, r, keyLongestCall, func() (foundValue[domain.CallRecord], error) {
		record, found, err := r.inner.LongestCall(ctx)
		return foundValue[domain.CallRecord]{Value: record, Found: found}, err
	})
	return entry.Value, entry.Found, err
}

func (r *cachedCallRecordRepository) CountInPeriod(ctx context.Context, start, end time.Time) (int64, error) {
	key := keyCountInPeriod + start.Format(domain.DateLayout) + ":" + end.Format(domain.DateLayout)
	return readThrough(ctx, r, key, func() (int64, error) {
		return r.inner.CountInPeriod(ctx, start, end)
	})
}

func (r *cachedCallRecordRepository) TotalCostByCaller(ctx context.Context, callerID string) (CallerCost, error) {
	return readThrough(ctx, r, keyCallerCost+callerID, func() (CallerCost, error) {
		return r.inner.TotalCostByCaller(ctx, callerID)
	})
}

func (r *cachedCallRecordRepository) ListByPhoneNumber(ctx context.Context, phoneNumber string) ([]domain.CallRecord, error) {
	return readThrough(ctx, r, keyPhoneNumber+phoneNumber, func() ([]domain.CallRecord, error) {
		return r.inner.ListByPhoneNumber(ctx, phoneNumber)
	})
}

func (r *cachedCallRecordRepository) MostFrequentCaller(ctx context.Context) (string, bool, error) {
	entry, err := readThrough(ctx, r, keyMostFrequentCaller, func() (foundValue[string], error) {
		callerID, found, err := r.inner.MostFrequentCaller(ctx)
		return foundValue[string]{Value: callerID, Found: found}, err
	})
	return entry.Value, entry.Found, err
}

// readThrough pins the store generation before loading, so a result read before a
// concurrent BulkInsert is written under the generation that insert retires.
func readThrough[T any](ctx context.Context, r *cachedCallRecordRepository, key string, load func() (T, error)) (T, error) {
	generation, err := r.store.Generation(ctx)
	if err != nil {
		r.logger.Warn("query cache unavailable", zap.String("key", key), zap.Error(err))
		return load()
	}

	data, ok, err := r.store.Get(ctx, generation, key)
	if err != nil {
		r.logger.Warn("query cache read failed", zap.String("key", key), zap.Error(err))
	}
	if ok {
		var value T
		if err := json.Unmarshal(data, &value); err == nil {
			return value, nil
		}
		r.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
	}

	value, err := load()
	if err != nil {
		return value, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		r.logger.Warn("failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return value, nil
	}
	if err := r.store.Set(ctx, generation, key, encoded, r.ttl); err != nil {
		r.logger.Warn("query cache write failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}
