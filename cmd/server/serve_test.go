package main

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/cdranalytics/internal/cache"
	"github.com/rpattn/cdranalytics/internal/domain"
	"github.com/rpattn/cdranalytics/internal/export"
	"github.com/rpattn/cdranalytics/internal/ingestion"
	"github.com/rpattn/cdranalytics/internal/query"
	"github.com/rpattn/cdranalytics/internal/repository"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T, ping func(context.Context) error) (http.Handler, *memoryRepo) {
	t.Helper()
	registry := prometheus.NewRegistry()
	repo := &memoryRepo{}
	records := repository.NewCachedCallRecordRepository(repo, cache.NewLocalStore(time.Minute), time.Minute, zap.NewNop())
	logRepo := &memoryLogRepo{}

	router := newRouter(routerDeps{
		ingest:         ingestion.NewService(records, logRepo, ingestion.WithMetrics(ingestion.NewMetrics(registry))),
		query:          query.NewService(records),
		export:         export.NewService(records),
		logRepo:        logRepo,
		ping:           ping,
		registry:       registry,
		logger:         zap.NewNop(),
		maxUploadBytes: 1 << 20,
		allowedOrigins: []string{"http://localhost:3000"},
	})
	return router, repo
}

func TestRouterUploadThenQuery(t *testing.T) {
	router, repo := newTestRouter(t, func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cdr/most-frequent-caller", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "calls.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(strings.Join([]string{
		"447700900123,447700900456,01/03/2024,10:15:30,120,2.50,REF001,GBP",
		"447700900123,447700900789,02/03/2024,11:00:00,30,0.75,REF002,GBP",
		"447700900456,447700900123,03/03/2024,12:00:00,60,1.00,REF003,EUR",
		"broken",
	}, "\n")))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/cdr/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, repo.records, 3)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cdr/most-frequent-caller", nil))
	require.Equal(t, http.StatusOK, rec.Code, "cache must be invalidated by the upload")
	assert.JSONEq(t, `{"mostFrequentCaller":"447700900123"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cdr/export?phoneNumber=447700900456", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		"447700900123,447700900456,01/03/2024,10:15:30,120,2.50,REF001,GBP\n"+
			"447700900456,447700900123,03/03/2024,12:00:00,60,1.00,REF003,EUR\n",
		rec.Body.String(),
	)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cdr_ingest_lines_total{outcome="accepted",reason=""} 3`)
	assert.Contains(t, rec.Body.String(), `cdr_ingest_uploads_total{status="COMPLETED"} 1`)
	assert.Contains(t, rec.Body.String(), `cdr_http_requests_total`)
}

func TestRouterHealthz(t *testing.T) {
	healthy, _ := newTestRouter(t, func(context.Context) error { return nil })
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down, _ := newTestRouter(t, func(context.Context) error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouterMethodAndCORS(t *testing.T) {
	router, _ := newTestRouter(t, func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cdr/longest-call", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req := httptest.NewRequest(http.MethodOptions, "/api/cdr/upload", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

// memoryRepo is an in-memory CallRecordRepository with the same ordering rules as the SQL one.
type memoryRepo struct {
	records []domain.CallRecord
}

func (m *memoryRepo) BulkInsert(ctx context.Context, records []domain.CallRecord) error {
	for _, record := range records {
		record.ID = int64(len(m.records) + 1)
		m.records = append(m.records, record)
	}
	return nil
}

func (m *memoryRepo) AverageCost(ctx context.Context) (decimal.Decimal, bool, error) {
	if len(m.records) == 0 {
		return decimal.Zero, false, nil
	}
	sum := decimal.Zero
	for _, record := range m.records {
		sum = sum.Add(record.Cost)
	}
	return sum.Div(decimal.NewFromInt(int64(len(m.records)))), true, nil
}

func (m *memoryRepo) LongestCall(ctx context.Context) (domain.CallRecord, bool, error) {
	var best *domain.CallRecord
	for idx := range m.records {
		if best == nil || m.records[idx].DurationSeconds > best.DurationSeconds {
			best = &m.records[idx]
		}
	}
	if best == nil {
		return domain.CallRecord{}, false, nil
	}
	return *best, true, nil
}

func (m *memoryRepo) CountInPeriod(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	for _, record := range m.records {
		if !record.CallDate.Before(start) && !record.CallDate.After(end) {
			count++
		}
	}
	return count, nil
}

func (m *memoryRepo) TotalCostByCaller(ctx context.Context, callerID string) (repository.CallerCost, error) {
	cost := repository.CallerCost{CallerID: callerID, TotalCost: decimal.Zero}
	for _, record := range m.records {
		if record.CallerID == callerID {
			cost.TotalCost = cost.TotalCost.Add(record.Cost)
			cost.Calls++
		}
	}
	return cost, nil
}

func (m *memoryRepo) ListByPhoneNumber(ctx context.Context, phoneNumber string) ([]domain.CallRecord, error) {
	var out []domain.CallRecord
	for _, record := range m.records {
		if record.CallerID == phoneNumber || record.Recipient == phoneNumber {
			out = append(out, record)
		}
	}
	return out, nil
}

func (m *memoryRepo) MostFrequentCaller(ctx context.Context) (string, bool, error) {
	counts := map[string]int{}
	best, bestCount := "", 0
	for _, record := range m.records {
		if record.CallerID == "" {
			continue
		}
		counts[record.CallerID]++
		if counts[record.CallerID] > bestCount {
			best, bestCount = record.CallerID, counts[record.CallerID]
		}
	}
	return best, bestCount > 0, nil
}

type memoryLogRepo struct {
	uploads    []domain.IngestionUpload
	rejections []domain.IngestionLogEntry
}

func (m *memoryLogRepo) RecordUpload(ctx context.Context, upload domain.IngestionUpload) error {
	m.uploads = append(m.uploads, upload)
	return nil
}

func (m *memoryLogRepo) RecordRejections(ctx context.Context, entries []domain.IngestionLogEntry) error {
	m.rejections = append(m.rejections, entries...)
	return nil
}

func (m *memoryLogRepo) ListRejections(ctx context.Context, uploadID uuid.UUID, limit int, offset int) ([]domain.IngestionLogEntry, error) {
	var out []domain.IngestionLogEntry
	for _, entry := range m.rejections {
		if entry.UploadID == uploadID {
			out = append(out, entry)
		}
	}
	return out, nil
}
