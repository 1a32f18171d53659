package ingestion

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/cdranalytics/internal/domain"

	"github.com/shopspring/decimal"
)

// RejectionReason tags why a row was dropped.
type RejectionReason string

const (
	ReasonMissingField    RejectionReason = "MissingField"
	ReasonInvalidDate     RejectionReason = "InvalidDate"
	ReasonInvalidTime     RejectionReason = "InvalidTime"
	ReasonInvalidDuration RejectionReason = "InvalidDuration"
	ReasonInvalidAmount   RejectionReason = "InvalidAmount"
	ReasonInvalidCurrency RejectionReason = "InvalidCurrency"
	ReasonMalformedLine   RejectionReason = "MalformedLine"
)

// Reasons lists every rejection reason.
func Reasons() []RejectionReason {
	return []RejectionReason{
		ReasonMissingField,
		ReasonInvalidDate,
		ReasonInvalidTime,
		ReasonInvalidDuration,
		ReasonInvalidAmount,
		ReasonInvalidCurrency,
		ReasonMalformedLine,
	}
}

// Rejection explains why one row could not become a CallRecord.
type Rejection struct {
	Reason RejectionReason
	Field  string
	Value  string
	Detail string
}

func (r *Rejection) Error() string {
	msg := string(r.Reason)
	if r.Field != "" {
		msg += fmt.Sprintf(": field %s", r.Field)
	}
	if r.Value != "" {
		msg += fmt.Sprintf(" value %q", r.Value)
	}
	if r.Detail != "" {
		msg += ": " + r.Detail
	}
	return msg
}

const (
	fieldDelimiter = ","
	fieldCount     = 8

	callDateLayout = "02/01/2006"
	endTimeLayout  = "15:04:05"
)

// Positional field names, in input order.
var fieldNames = [fieldCount]string{
	"callerId",
	"recipient",
	"callDate",
	"endTime",
	"durationSeconds",
	"cost",
	"reference",
	"currency",
}

const (
	idxCaller = iota
	idxRecipient
	idxCallDate
	idxEndTime
	idxDuration
	idxCost
	idxReference
	idxCurrency
)

var amountPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// Bounds of the cost column, NUMERIC(19, 6).
const (
	costMaxIntegerDigits  = 13
	costMaxFractionDigits = 6
)

// ParseLine converts one comma-delimited line into a CallRecord.
func ParseLine(line string) (domain.CallRecord, *Rejection) {
	return ParseFields(strings.Split(line, fieldDelimiter))
}

// ParseFields validates an already split row.
func ParseFields(fields []string) (domain.CallRecord, *Rejection) {
	if len(fields) > fieldCount {
		return domain.CallRecord{}, &Rejection{
			Reason: ReasonMalformedLine,
			Detail: fmt.Sprintf("expected %d fields, got %d", fieldCount, len(fields)),
		}
	}

	var values [fieldCount]string
	for idx := 0; idx < fieldCount; idx++ {
		if idx >= len(fields) {
			return domain.CallRecord{}, &Rejection{Reason: ReasonMissingField, Field: fieldNames[idx]}
		}
		values[idx] = strings.TrimSpace(fields[idx])
		if values[idx] == "" {
			return domain.CallRecord{}, &Rejection{Reason: ReasonMissingField, Field: fieldNames[idx]}
		}
	}

	callDate, rej := parseCallDate(values[idxCallDate])
	if rej != nil {
		return domain.CallRecord{}, rej
	}

	cost, rej := parseCost(values[idxCost])
	if rej != nil {
		return domain.CallRecord{}, rej
	}

	endTime, rej := parseEndTime(values[idxEndTime])
	if rej != nil {
		return domain.CallRecord{}, rej
	}

	duration, rej := parseDuration(values[idxDuration])
	if rej != nil {
		return domain.CallRecord{}, rej
	}

	currency, err := domain.ParseCurrency(values[idxCurrency])
	if err != nil {
		return domain.CallRecord{}, &Rejection{
			Reason: ReasonInvalidCurrency,
			Field:  fieldNames[idxCurrency],
			Value:  values[idxCurrency],
		}
	}

	return domain.CallRecord{
		CallerID:        values[idxCaller],
		Recipient:       values[idxRecipient],
		CallDate:        callDate,
		EndTime:         &endTime,
		DurationSeconds: duration,
		Cost:            cost,
		Reference:       values[idxReference],
		Currency:        currency,
	}, nil
}

func parseCallDate(raw string) (time.Time, *Rejection) {
	// time.Parse tolerates some short forms; the wire format is fixed width.
	if len(raw) != len(callDateLayout) {
		return time.Time{}, &Rejection{Reason: ReasonInvalidDate, Field: fieldNames[idxCallDate], Value: raw}
	}
	parsed, err := time.ParseInLocation(callDateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, &Rejection{Reason: ReasonInvalidDate, Field: fieldNames[idxCallDate], Value: raw, Detail: err.Error()}
	}
	return parsed, nil
}

func parseCost(raw string) (decimal.Decimal, *Rejection) {
	if !amountPattern.MatchString(raw) {
		return decimal.Decimal{}, &Rejection{Reason: ReasonInvalidAmount, Field: fieldNames[idxCost], Value: raw}
	}
	integer, fraction, _ := strings.Cut(strings.TrimLeft(raw, "+-"), ".")
	if len(strings.TrimLeft(integer, "0")) > costMaxIntegerDigits {
		return decimal.Decimal{}, &Rejection{
			Reason: ReasonInvalidAmount, Field: fieldNames[idxCost], Value: raw,
			Detail: fmt.Sprintf("more than %d integer digits", costMaxIntegerDigits),
		}
	}
	if len(fraction) > costMaxFractionDigits {
		return decimal.Decimal{}, &Rejection{
			Reason: ReasonInvalidAmount, Field: fieldNames[idxCost], Value: raw,
			Detail: fmt.Sprintf("more than %d decimal places", costMaxFractionDigits),
		}
	}
	cost, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, &Rejection{Reason: ReasonInvalidAmount, Field: fieldNames[idxCost], Value: raw, Detail: err.Error()}
	}
	return cost, nil
}

func parseEndTime(raw string) (domain.TimeOfDay, *Rejection) {
	if len(raw) != len(endTimeLayout) {
		return 0, &Rejection{Reason: ReasonInvalidTime, Field: fieldNames[idxEndTime], Value: raw}
	}
	parsed, err := time.Parse(endTimeLayout, raw)
	if err != nil {
		return 0, &Rejection{Reason: ReasonInvalidTime, Field: fieldNames[idxEndTime], Value: raw, Detail: err.Error()}
	}
	tod, err := domain.NewTimeOfDay(parsed.Hour(), parsed.Minute(), parsed.Second())
	if err != nil {
		return 0, &Rejection{Reason: ReasonInvalidTime, Field: fieldNames[idxEndTime], Value: raw, Detail: err.Error()}
	}
	return tod, nil
}

func parseDuration(raw string) (int, *Rejection) {
	// The duration column is a 32-bit INTEGER.
	duration, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		detail := ""
		if errors.Is(err, strconv.ErrRange) {
			detail = "duration out of range"
		}
		return 0, &Rejection{Reason: ReasonInvalidDuration, Field: fieldNames[idxDuration], Value: raw, Detail: detail}
	}
	if duration < 0 {
		return 0, &Rejection{Reason: ReasonInvalidDuration, Field: fieldNames[idxDuration], Value: raw, Detail: "duration must not be negative"}
	}
	return int(duration), nil
}

// FormatFields renders a record as its eight input fields.
func FormatFields(record domain.CallRecord) []string {
	endTime := ""
	if record.EndTime != nil {
		endTime = record.EndTime.String()
	}
	return []string{
		record.CallerID,
		record.Recipient,
		record.CallDate.Format(callDateLayout),
		endTime,
		strconv.Itoa(record.DurationSeconds),
		formatCost(record.Cost),
		record.Reference,
		record.Currency.String(),
	}
}

// FormatLine renders a record back into its input line form.
func FormatLine(record domain.CallRecord) string {
	return strings.Join(FormatFields(record), fieldDelimiter)
}

// formatCost keeps the scale the value was parsed with, so "2.50" stays "2.50".
func formatCost(cost decimal.Decimal) string {
	if exp := cost.Exponent(); exp < 0 {
		return cost.StringFixed(-exp)
	}
	return cost.String()
}
