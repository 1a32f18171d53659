package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rpattn/cdranalytics/internal/domain"
	"github.com/rpattn/cdranalytics/internal/ingestion"
	"github.com/rpattn/cdranalytics/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportCSVCanBeIngestedAgain(t *testing.T) {
	records := sampleRecords(t)
	service := NewService(&listReader{records: records})

	var buf bytes.Buffer
	result, err := service.ExportPhoneNumber(context.Background(), &buf, "447700900123", FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows)
	assert.Equal(t, int64(buf.Len()), result.Bytes)
	assert.Equal(t,
		"447700900123,447700900456,01/03/2024,10:15:30,120,2.50,REF001,GBP\n"+
			"447700900789,447700900123,02/03/2024,,30,0.750,REF002,EUR\n",
		buf.String(),
	)

	reingested := ingestAll(t, "export.csv", buf.Bytes())
	require.Len(t, reingested, 1, "a row without end time is rejected on the way back in")
	assert.Equal(t, records[0].Reference, reingested[0].Reference)
	assert.True(t, records[0].Cost.Equal(reingested[0].Cost))
}

func TestExportXLSXRoundTrip(t *testing.T) {
	records := sampleRecords(t)
	records[1].EndTime = records[0].EndTime
	service := NewService(&listReader{records: records})

	var buf bytes.Buffer
	result, err := service.ExportPhoneNumber(context.Background(), &buf, "447700900123", FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows)

	reingested := ingestAll(t, "export.xlsx", buf.Bytes())
	require.Len(t, reingested, 2)
	assert.Equal(t, domain.CurrencyEUR, reingested[1].Currency)
	assert.Equal(t, 30, reingested[1].DurationSeconds)
	assert.True(t, reingested[1].CallDate.Equal(domain.NewCallDate(2024, time.March, 2)))
}

func TestExportRejectsBadInput(t *testing.T) {
	service := NewService(&listReader{})

	_, err := service.ExportPhoneNumber(context.Background(), io.Discard, "  ", FormatCSV)
	assert.Error(t, err)

	_, err = service.ExportPhoneNumber(context.Background(), io.Discard, "1", Format("pdf"))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = ParseFormat("pdf")
	assert.ErrorIs(t, err, ErrUnknownFormat)

	format, err := ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, format)
}

func TestExportSurfacesStorageErrors(t *testing.T) {
	service := NewService(&listReader{err: errors.New("db down")})

	_, err := service.ExportPhoneNumber(context.Background(), io.Discard, "447700900123", FormatCSV)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "call-records-447700900123.csv", FileName("447700900123", FormatCSV))
	assert.Equal(t, "call-records-44-7700-900123.xlsx", FileName("+44 7700/900123", FormatXLSX))
	assert.Equal(t, "call-records-export.csv", FileName("///", FormatCSV))
}

func TestHTTPHandlerDownload(t *testing.T) {
	handler := NewHTTPHandler(NewService(&listReader{records: sampleRecords(t)}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cdr/export?phoneNumber=447700900123", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="call-records-447700900123.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "REF001")
}

func TestHTTPHandlerErrors(t *testing.T) {
	handler := NewHTTPHandler(NewService(&listReader{}))

	cases := map[string]int{
		"/api/cdr/export":                           http.StatusBadRequest,
		"/api/cdr/export?phoneNumber=1&format=pdf":  http.StatusBadRequest,
		"/api/cdr/export?phoneNumber=1&format=xlsx": http.StatusNotFound,
		"/api/cdr/export?phoneNumber=447700900123":  http.StatusNotFound,
	}
	for target, status := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, status, rec.Code, target)
	}
}

func sampleRecords(t *testing.T) []domain.CallRecord {
	t.Helper()
	end, err := domain.NewTimeOfDay(10, 15, 30)
	require.NoError(t, err)
	return []domain.CallRecord{
		{
			ID: 1, CallerID: "447700900123", Recipient: "447700900456",
			CallDate: domain.NewCallDate(2024, time.March, 1), EndTime: &end,
			DurationSeconds: 120, Cost: decimal.RequireFromString("2.50"),
			Reference: "REF001", Currency: domain.CurrencyGBP,
		},
		{
			ID: 2, CallerID: "447700900789", Recipient: "447700900123",
			CallDate: domain.NewCallDate(2024, time.March, 2),
			DurationSeconds: 30, Cost: decimal.RequireFromString("0.750"),
			Reference: "REF002", Currency: domain.CurrencyEUR,
		},
	}
}

func ingestAll(t *testing.T, fileName string, data []byte) []domain.CallRecord {
	t.Helper()
	writer := &collectingWriter{}
	_, err := ingestion.NewService(writer, nil).Ingest(context.Background(), ingestion.Request{
		FileName: fileName,
		Data:     io.NopCloser(bytes.NewReader(data)),
	})
	require.NoError(t, err)
	return writer.records
}

type collectingWriter struct {
	records []domain.CallRecord
}

func (c *collectingWriter) BulkInsert(ctx context.Context, records []domain.CallRecord) error {
	c.records = append(c.records, records...)
	return nil
}

type listReader struct {
	repository.CallRecordReader
	records []domain.CallRecord
	err     error
}

func (l *listReader) ListByPhoneNumber(ctx context.Context, phoneNumber string) ([]domain.CallRecord, error) {
	if l.err != nil {
		return nil, l.err
	}
	var out []domain.CallRecord
	for _, record := range l.records {
		if record.CallerID == phoneNumber || record.Recipient == phoneNumber {
			out = append(out, record)
		}
	}
	return out, nil
}
