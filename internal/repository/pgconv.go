package repository

import (
	"fmt"
	"time"

	"github.com/rpattn/cdranalytics/internal/domain"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const microsPerSecond = int64(time.Second / time.Microsecond)

func numericFromDecimal(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// decimalFromNumeric reports false for SQL NULL.
func decimalFromNumeric(n pgtype.Numeric) (decimal.Decimal, bool, error) {
	if !n.Valid {
		return decimal.Zero, false, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Zero, false, fmt.Errorf("numeric value is not finite")
	}
	if n.Int == nil {
		return decimal.Zero, true, nil
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), true, nil
}

func dateValue(t time.Time) pgtype.Date {
	return pgtype.Date{Time: t, Valid: true}
}

func callDateFromDate(d pgtype.Date) time.Time {
	year, month, day := d.Time.Date()
	return domain.NewCallDate(year, month, day)
}

func timeValue(t *domain.TimeOfDay) pgtype.Time {
	if t == nil {
		return pgtype.Time{}
	}
	return pgtype.Time{Microseconds: int64(*t) * microsPerSecond, Valid: true}
}

func endTimeFromTime(t pgtype.Time) *domain.TimeOfDay {
	if !t.Valid {
		return nil
	}
	value := domain.TimeOfDay(t.Microseconds / microsPerSecond)
	return &value
}
