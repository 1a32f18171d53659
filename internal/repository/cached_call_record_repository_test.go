package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpattn/cdranalytics/internal/cache"
	"github.com/rpattn/cdranalytics/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedRepositoryServesRepeatReadsFromStore(t *testing.T) {
	ctx := context.Background()
	inner := newCountingRepo()
	repo := NewCachedCallRecordRepository(inner, cache.NewLocalStore(time.Minute), time.Minute, nil)

	for i := 0; i < 3; i++ {
		avg, found, err := repo.AverageCost(ctx)
		require.NoError(t, err)
		assert.True(t, found)
		assert.True(t, avg.Equal(decimal.RequireFromString("2.5")))
	}
	assert.Equal(t, 1, inner.calls["AverageCost"])

	for i := 0; i < 2; i++ {
		record, found, err := repo.LongestCall(ctx)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "REF001", record.Reference)
		assert.Equal(t, domain.CurrencyGBP, record.Currency)
		require.NotNil(t, record.EndTime)
		assert.Equal(t, "10:15:30", record.EndTime.String())
		assert.True(t, record.Cost.Equal(decimal.RequireFromString("2.50")))
		assert.True(t, record.CallDate.Equal(domain.NewCallDate(2024, time.March, 1)))
	}
	assert.Equal(t, 1, inner.calls["LongestCall"])
}

func TestCachedRepositoryKeysIncludeArguments(t *testing.T) {
	ctx := context.Background()
	inner := newCountingRepo()
	repo := NewCachedCallRecordRepository(inner, cache.NewLocalStore(time.Minute), time.Minute, nil)

	march := domain.NewCallDate(2024, time.March, 1)
	april := domain.NewCallDate(2024, time.April, 1)

	_, err := repo.CountInPeriod(ctx, march, april)
	require.NoError(t, err)
	_, err = repo.CountInPeriod(ctx, march, march)
	require.NoError(t, err)
	_, err = repo.CountInPeriod(ctx, march, april)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls["CountInPeriod"])

	_, err = repo.TotalCostByCaller(ctx, "A")
	require.NoError(t, err)
	cost, err := repo.TotalCostByCaller(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "B", cost.CallerID)
	assert.Equal(t, 2, inner.calls["TotalCostByCaller"])
}

func TestCachedRepositoryInvalidatesAfterInsert(t *testing.T) {
	ctx := context.Background()
	inner := newCountingRepo()
	repo := NewCachedCallRecordRepository(inner, cache.NewLocalStore(time.Minute), time.Minute, nil)

	caller, found, err := repo.MostFrequentCaller(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "447700900123", caller)

	require.NoError(t, repo.BulkInsert(ctx, []domain.CallRecord{sampleRecord()}))

	_, _, err = repo.MostFrequentCaller(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls["MostFrequentCaller"])
	assert.Equal(t, 1, inner.calls["BulkInsert"])
}

func TestCachedRepositoryDoesNotKeepResultLoadedBeforeInsert(t *testing.T) {
	ctx := context.Background()
	inner := newCountingRepo()
	inner.average = "1"
	repo := NewCachedCallRecordRepository(inner, cache.NewLocalStore(time.Minute), time.Minute, nil)

	// An upload commits between the SELECT and the cache write.
	inner.afterAverage = func() {
		inner.average = "5"
		require.NoError(t, repo.BulkInsert(ctx, []domain.CallRecord{sampleRecord()}))
	}

	first, _, err := repo.AverageCost(ctx)
	require.NoError(t, err)
	assert.True(t, first.Equal(decimal.RequireFromString("1")))

	second, found, err := repo.AverageCost(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, second.Equal(decimal.RequireFromString("5")), "got %s", second)
	assert.Equal(t, 2, inner.calls["AverageCost"])
}

func TestCachedRepositoryCachesNotFound(t *testing.T) {
	ctx := context.Background()
	inner := newCountingRepo()
	inner.empty = true
	repo := NewCachedCallRecordRepository(inner, cache.NewLocalStore(time.Minute), time.Minute, nil)

	for i := 0; i < 2; i++ {
		_, found, err := repo.AverageCost(ctx)
		require.NoError(t, err)
		assert.False(t, found)

		records, err := repo.ListByPhoneNumber(ctx, "447700900999")
		require.NoError(t, err)
		assert.Empty(t, records)
	}
	assert.Equal(t, 1, inner.calls["AverageCost"])
	assert.Equal(t, 1, inner.calls["ListByPhoneNumber"])
}

func TestCachedRepositoryDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	inner := newCountingRepo()
	inner.err = errors.New("db down")
	repo := NewCachedCallRecordRepository(inner, cache.NewLocalStore(time.Minute), time.Minute, nil)

	_, _, err := repo.AverageCost(ctx)
	require.Error(t, err)

	inner.err = nil
	_, found, err := repo.AverageCost(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, inner.calls["AverageCost"])
}

func TestCachedRepositoryFallsThroughOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	inner := newCountingRepo()
	repo := NewCachedCallRecordRepository(inner, brokenStore{}, time.Minute, nil)

	for i := 0; i < 2; i++ {
		caller, found, err := repo.MostFrequentCaller(ctx)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "447700900123", caller)
	}
	assert.Equal(t, 2, inner.calls["MostFrequentCaller"])

	require.NoError(t, repo.BulkInsert(ctx, []domain.CallRecord{sampleRecord()}))
}

func TestCachedRepositoryInsertFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	inner := newCountingRepo()
	repo := NewCachedCallRecordRepository(inner, cache.NewLocalStore(time.Minute), time.Minute, nil)

	_, _, err := repo.AverageCost(ctx)
	require.NoError(t, err)

	inner.insertErr = errors.New("copy failed")
	require.Error(t, repo.BulkInsert(ctx, []domain.CallRecord{sampleRecord()}))

	_, _, err = repo.AverageCost(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls["AverageCost"])
}

func sampleRecord() domain.CallRecord {
	end, _ := domain.NewTimeOfDay(10, 15, 30)
	return domain.CallRecord{
		ID:              1,
		CallerID:        "447700900123",
		Recipient:       "447700900456",
		CallDate:        domain.NewCallDate(2024, time.March, 1),
		EndTime:         &end,
		DurationSeconds: 120,
		Cost:            decimal.RequireFromString("2.50"),
		Reference:       "REF001",
		Currency:        domain.CurrencyGBP,
	}
}

type countingRepo struct {
	calls     map[string]int
	empty     bool
	err       error
	insertErr error

	average string
	// afterAverage runs once the average has been computed, before it is returned.
	afterAverage func()
}

func newCountingRepo() *countingRepo {
	return &countingRepo{calls: map[string]int{}}
}

func (r *countingRepo) BulkInsert(ctx context.Context, records []domain.CallRecord) error {
	r.calls["BulkInsert"]++
	return r.insertErr
}

func (r *countingRepo) AverageCost(ctx context.Context) (decimal.Decimal, bool, error) {
	r.calls["AverageCost"]++
	if r.err != nil || r.empty {
		return decimal.Zero, false, r.err
	}
	avg := decimal.RequireFromString("2.5")
	if r.average != "" {
		avg = decimal.RequireFromString(r.average)
	}
	if hook := r.afterAverage; hook != nil {
		r.afterAverage = nil
		hook()
	}
	return avg, true, nil
}

func (r *countingRepo) LongestCall(ctx context.Context) (domain.CallRecord, bool, error) {
	r.calls["LongestCall"]++
	if r.err != nil || r.empty {
		return domain.CallRecord{}, false, r.err
	}
	return sampleRecord(), true, nil
}

func (r *countingRepo) CountInPeriod(ctx context.Context, start, end time.Time) (int64, error) {
	r.calls["CountInPeriod"]++
	return 3, r.err
}

func (r *countingRepo) TotalCostByCaller(ctx context.Context, callerID string) (CallerCost, error) {
	r.calls["TotalCostByCaller"]++
	return CallerCost{CallerID: callerID, TotalCost: decimal.RequireFromString("4.75"), Calls: 2}, r.err
}

func (r *countingRepo) ListByPhoneNumber(ctx context.Context, phoneNumber string) ([]domain.CallRecord, error) {
	r.calls["ListByPhoneNumber"]++
	if r.err != nil || r.empty {
		return nil, r.err
	}
	return []domain.CallRecord{sampleRecord()}, nil
}

func (r *countingRepo) MostFrequentCaller(ctx context.Context) (string, bool, error) {
	r.calls["MostFrequentCaller"]++
	if r.err != nil || r.empty {
		return "", false, r.err
	}
	return "447700900123", true, nil
}

type brokenStore struct{}

func (brokenStore) Generation(ctx context.Context) (string, error) {
	return "", errors.New("store unavailable")
}

func (brokenStore) Get(ctx context.Context, generation, key string) ([]byte, bool, error) {
	return nil, false, errors.New("store unavailable")
}

func (brokenStore) Set(ctx context.Context, generation, key string, value []byte, ttl time.Duration) error {
	return errors.New("store unavailable")
}

func (brokenStore) Invalidate(ctx context.Context) error {
	return errors.New("store unavailable")
}
