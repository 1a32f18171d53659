package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/rpattn/cdranalytics/internal/domain"
)

func TestBulkInsertRejectsDurationOutsideIntegerColumn(t *testing.T) {
	repo := NewCallRecordRepository(nil)

	for _, duration := range []int{2147483648, 4294967356, -1} {
		record := sampleRecord()
		record.DurationSeconds = duration

		err := repo.BulkInsert(context.Background(), []domain.CallRecord{record})
		if err == nil {
			t.Fatalf("expected duration %d to be refused", duration)
		}
		if !strings.Contains(err.Error(), "outside INTEGER range") {
			t.Fatalf("duration %d: unexpected error: %v", duration, err)
		}
	}
}
