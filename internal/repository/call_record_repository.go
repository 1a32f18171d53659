package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rpattn/cdranalytics/internal/db"
	"github.com/rpattn/cdranalytics/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const callRecordColumns = `id, caller_id, recipient, call_date, end_time, duration_seconds, cost, reference, currency`

var callRecordCopyColumns = []string{
	"caller_id",
	"recipient",
	"call_date",
	"end_time",
	"duration_seconds",
	"cost",
	"reference",
	"currency",
}

type callRecordRepository struct {
	conn *db.Connection
}

// NewCallRecordRepository creates a call record repository backed by Postgres.
func NewCallRecordRepository(conn *db.Connection) CallRecordRepository {
	return &callRecordRepository{conn: conn}
}

// BulkInsert copies every record inside one transaction.
func (r *callRecordRepository) BulkInsert(ctx context.Context, records []domain.CallRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(records))
	for idx, record := range records {
		if !record.Currency.Valid() {
			return fmt.Errorf("record %d: invalid currency %d", idx, record.Currency)
		}
		if record.DurationSeconds < 0 || record.DurationSeconds > math.MaxInt32 {
			return fmt.Errorf("record %d: duration %d outside INTEGER range", idx, record.DurationSeconds)
		}
		rows = append(rows, []any{
			record.CallerID,
			record.Recipient,
			dateValue(record.CallDate),
			timeValue(record.EndTime),
			int32(record.DurationSeconds),
			numericFromDecimal(record.Cost),
			record.Reference,
			record.Currency.String(),
		})
	}

	if r.conn == nil || r.conn.Pool == nil {
		return fmt.Errorf("call record repository not initialized")
	}

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"call_records"}, callRecordCopyColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy call records: %w", err)
		}
		if copied != int64(len(rows)) {
			return fmt.Errorf("copied %d of %d call records", copied, len(rows))
		}
		return nil
	})
}

func (r *callRecordRepository) AverageCost(ctx context.Context) (decimal.Decimal, bool, error) {
	var avg pgtype.Numeric
	if err := r.conn.Pool.QueryRow(ctx, `SELECT AVG(cost) FROM call_records`).Scan(&avg); err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to compute average cost: %w", err)
	}
	value, found, err := decimalFromNumeric(avg)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to decode average cost: %w", err)
	}
	return value, found, nil
}

func (r *callRecordRepository) LongestCall(ctx context.Context) (domain.CallRecord, bool, error) {
	row := r.conn.Pool.QueryRow(ctx, `SELECT `+callRecordColumns+`
		FROM call_records
		ORDER BY duration_seconds DESC, id ASC
		LIMIT 1`)

	record, err := scanCallRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CallRecord{}, false, nil
		}
		return domain.CallRecord{}, false, fmt.Errorf("failed to find longest call: %w", err)
	}
	return record, true, nil
}

// CountInPeriod counts calls whose date falls within [start, end], both inclusive.
func (r *callRecordRepository) CountInPeriod(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	err := r.conn.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM call_records WHERE call_date BETWEEN $1 AND $2`,
		dateValue(start), dateValue(end),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count calls in period: %w", err)
	}
	return count, nil
}

func (r *callRecordRepository) TotalCostByCaller(ctx context.Context, callerID string) (CallerCost, error) {
	var (
		total pgtype.Numeric
		calls int64
	)
	err := r.conn.Pool.QueryRow(ctx,
		`SELECT SUM(cost), COUNT(*) FROM call_records WHERE caller_id = $1`,
		callerID,
	).Scan(&total, &calls)
	if err != nil {
		return CallerCost{}, fmt.Errorf("failed to total cost for caller: %w", err)
	}

	sum, _, err := decimalFromNumeric(total)
	if err != nil {
		return CallerCost{}, fmt.Errorf("failed to decode total cost: %w", err)
	}
	return CallerCost{CallerID: callerID, TotalCost: sum, Calls: calls}, nil
}

// ListByPhoneNumber returns calls where the number is either party, in insertion order.
func (r *callRecordRepository) ListByPhoneNumber(ctx context.Context, phoneNumber string) ([]domain.CallRecord, error) {
	rows, err := r.conn.Pool.Query(ctx, `SELECT `+callRecordColumns+`
		FROM call_records
		WHERE caller_id = $1 OR recipient = $1
		ORDER BY id`, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	defer rows.Close()

	var records []domain.CallRecord
	for rows.Next() {
		record, err := scanCallRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate call records: %w", err)
	}
	return records, nil
}

// MostFrequentCaller breaks ties by the caller's earliest record.
func (r *callRecordRepository) MostFrequentCaller(ctx context.Context) (string, bool, error) {
	var callerID string
	err := r.conn.Pool.QueryRow(ctx, `SELECT caller_id
		FROM call_records
		WHERE caller_id <> ''
		GROUP BY caller_id
		ORDER BY COUNT(*) DESC, MIN(id) ASC
		LIMIT 1`).Scan(&callerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to find most frequent caller: %w", err)
	}
	return callerID, true, nil
}

func scanCallRecord(row pgx.Row) (domain.CallRecord, error) {
	var (
		record   domain.CallRecord
		callDate pgtype.Date
		endTime  pgtype.Time
		duration int32
		cost     pgtype.Numeric
		currency string
	)
	if err := row.Scan(
		&record.ID,
		&record.CallerID,
		&record.Recipient,
		&callDate,
		&endTime,
		&duration,
		&cost,
		&record.Reference,
		&currency,
	); err != nil {
		return domain.CallRecord{}, err
	}

	value, _, err := decimalFromNumeric(cost)
	if err != nil {
		return domain.CallRecord{}, fmt.Errorf("record %d cost: %w", record.ID, err)
	}
	parsedCurrency, err := domain.ParseCurrency(currency)
	if err != nil {
		return domain.CallRecord{}, fmt.Errorf("record %d: %w", record.ID, err)
	}

	record.CallDate = callDateFromDate(callDate)
	record.EndTime = endTimeFromTime(endTime)
	record.DurationSeconds = int(duration)
	record.Cost = value
	record.Currency = parsedCurrency
	return record, nil
}
