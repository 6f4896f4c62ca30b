// Package normalize converts parsed rows into transaction records. Record is
// a pure function: the same row always yields the same result.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
	"github.com/dharsanguruparan/LedgerDrop/internal/parser"
)

// Header keys the normalizer reads.
const (
	KeyDate    = "date"
	KeyContent = "content"
	KeyAmount  = "amount"
	KeyType    = "type"
)

var (
	ErrMissingDate   = errors.New("missing date")
	ErrInvalidDate   = errors.New("invalid date")
	ErrMissingAmount = errors.New("missing amount")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrMissingType   = errors.New("missing transaction type")
)

// FieldError is a row-level validation failure.
type FieldError struct {
	Row    int
	Kind   error
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("Row %d: %s", e.Row, e.Reason)
}

func (e *FieldError) Unwrap() error { return e.Kind }

// RowError converts the failure into the form stored on the upload job.
func (e *FieldError) RowError() model.RowError {
	return model.RowError{Row: e.Row, Error: e.Error()}
}

// dayFirstLayouts cover "DD/MM/YYYY HH:mm:ss" exports.
var dayFirstLayouts = []string{
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
}

var genericLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"1/2/2006",
	"01-02-06",
	"Jan 2, 2006",
	"2 Jan 2006",
	time.RFC1123,
	time.RFC1123Z,
}

// Record validates row and builds its transaction. Checks run in order
// date, amount, type; the first failure wins.
func Record(row parser.Row, uploadID, ownerID string) (model.TransactionRecord, error) {
	fail := func(kind error, reason string) (model.TransactionRecord, error) {
		return model.TransactionRecord{}, &FieldError{Row: row.Number, Kind: kind, Reason: reason}
	}

	rawDate := row.Get(KeyDate)
	if rawDate == "" {
		return fail(ErrMissingDate, "Date is required")
	}
	date, err := ParseDate(rawDate)
	if err != nil {
		return fail(ErrInvalidDate, "Invalid date format: "+rawDate)
	}

	rawAmount := row.Get(KeyAmount)
	amount, err := ParseAmount(rawAmount)
	if err != nil {
		if errors.Is(err, ErrMissingAmount) {
			return fail(ErrMissingAmount, "Amount is required")
		}
		return fail(ErrInvalidAmount, "Invalid amount: "+rawAmount)
	}

	rawType := row.Get(KeyType)
	if rawType == "" {
		return fail(ErrMissingType, "Transaction type is required")
	}

	return model.TransactionRecord{
		Date:              date,
		Content:           row.Get(KeyContent),
		Amount:            amount,
		Type:              ClassifyType(rawType),
		OwnerID:           ownerID,
		UploadID:          uploadID,
		OriginalRowNumber: row.Number,
	}, nil
}

// ParseDate accepts day-first "DD/MM/YYYY HH:mm:ss" when the value has both a
// slash and a colon, otherwise a set of common timestamp layouts. Values
// without a zone are read as UTC.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	layouts := genericLayouts
	if strings.Contains(raw, "/") && strings.Contains(raw, ":") {
		layouts = dayFirstLayouts
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

// ParseAmount strips '+', ',' and spaces and returns the magnitude.
func ParseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '+', ',', ' ', '\t':
			return -1
		}
		return r
	}, raw)
	if cleaned == "" {
		return decimal.Decimal{}, ErrMissingAmount
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return d.Abs(), nil
}

// ClassifyType maps free text to a direction: anything mentioning "deposit"
// is a deposit, everything else a withdrawal.
func ClassifyType(raw string) model.TransactionType {
	if strings.Contains(strings.ToLower(raw), "deposit") {
		return model.TransactionDeposit
	}
	return model.TransactionWithdraw
}
