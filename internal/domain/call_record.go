package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the closed set of currencies a call can be billed in.
type Currency uint8

const (
	CurrencyGBP Currency = iota + 1
	CurrencyUSD
	CurrencyEUR
)

var currencyNames = map[Currency]string{
	CurrencyGBP: "GBP",
	CurrencyUSD: "USD",
	CurrencyEUR: "EUR",
}

// Currencies lists every supported currency in declaration order.
func Currencies() []Currency {
	return []Currency{CurrencyGBP, CurrencyUSD, CurrencyEUR}
}

// ParseCurrency matches raw against the supported currency names, ignoring case.
func ParseCurrency(raw string) (Currency, error) {
	for _, c := range Currencies() {
		if strings.EqualFold(raw, currencyNames[c]) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unsupported currency %q", raw)
}

// Valid reports whether c is one of the declared currencies.
func (c Currency) Valid() bool {
	_, ok := currencyNames[c]
	return ok
}

func (c Currency) String() string {
	if name, ok := currencyNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Currency(%d)", uint8(c))
}

// MarshalText renders the enumerator name so the numeric code never leaves the process.
func (c Currency) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid currency %d", uint8(c))
	}
	return []byte(currencyNames[c]), nil
}

func (c *Currency) UnmarshalText(text []byte) error {
	parsed, err := ParseCurrency(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimeOfDay is a wall-clock time without a date, in seconds since midnight.
type TimeOfDay int32

const secondsPerDay = 24 * 60 * 60

// NewTimeOfDay builds a TimeOfDay from its components.
func NewTimeOfDay(hour, minute, second int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return 0, fmt.Errorf("time of day %02d:%02d:%02d out of range", hour, minute, second)
	}
	return TimeOfDay(hour*3600 + minute*60 + second), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 3600 }
func (t TimeOfDay) Minute() int { return int(t) % 3600 / 60 }
func (t TimeOfDay) Second() int { return int(t) % 60 }

// Duration returns the offset from midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Second
}

// TimeOfDayFromDuration is the inverse of Duration; sub-second precision is dropped.
func TimeOfDayFromDuration(d time.Duration) (TimeOfDay, error) {
	secs := int64(d / time.Second)
	if secs < 0 || secs >= secondsPerDay {
		return 0, fmt.Errorf("duration %s is not a time of day", d)
	}
	return TimeOfDay(secs), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := time.Parse("15:04:05", string(text))
	if err != nil {
		return fmt.Errorf("invalid time of day %q: %w", text, err)
	}
	value, err := NewTimeOfDay(parsed.Hour(), parsed.Minute(), parsed.Second())
	if err != nil {
		return err
	}
	*t = value
	return nil
}

// CallRecord is one validated call detail record.
type CallRecord struct {
	ID              int64
	CallerID        string
	Recipient       string
	CallDate        time.Time
	EndTime         *TimeOfDay
	DurationSeconds int
	Cost            decimal.Decimal
	Reference       string
	Currency        Currency
}

// NewCallDate normalizes a calendar date to UTC midnight.
func NewCallDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the wire format used for dates in API responses and query parameters.
const DateLayout = "2006-01-02"

// CallRecordDTO is the externally visible shape of a CallRecord.
type CallRecordDTO struct {
	CallerID        string          `json:"callerId"`
	Recipient       string          `json:"recipient"`
	CallDate        string          `json:"callDate"`
	EndTime         *string         `json:"endTime"`
	DurationSeconds int             `json:"durationSeconds"`
	Cost            decimal.Decimal `json:"cost"`
	Reference       string          `json:"reference"`
	Currency        string          `json:"currency"`
}

// ToDTO converts the record for output.
func (r CallRecord) ToDTO() CallRecordDTO {
	dto := CallRecordDTO{
		CallerID:        r.CallerID,
		Recipient:       r.Recipient,
		CallDate:        r.CallDate.Format(DateLayout),
		DurationSeconds: r.DurationSeconds,
		Cost:            r.Cost,
		Reference:       r.Reference,
		Currency:        r.Currency.String(),
	}
	if r.EndTime != nil {
		end := r.EndTime.String()
		dto.EndTime = &end
	}
	return dto
}

// ToDTOs converts a slice of records, never returning nil.
func ToDTOs(records []CallRecord) []CallRecordDTO {
	dtos := make([]CallRecordDTO, 0, len(records))
	for _, record := range records {
		dtos = append(dtos, record.ToDTO())
	}
	return dtos
}
