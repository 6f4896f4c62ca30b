// Package model contains the struct definitions shared across the ingestion
// pipeline: upload jobs, normalized transactions and row-level errors.
package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// UploadStatus describes the processing lifecycle of an upload.
type UploadStatus string

const (
	StatusPending    UploadStatus = "PENDING"
	StatusProcessing UploadStatus = "PROCESSING"
	StatusCompleted  UploadStatus = "COMPLETED"
	StatusFailed     UploadStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s UploadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether an upload may move from s to next. Status only
// moves forward; PROCESSING may be re-entered by a retried attempt.
func (s UploadStatus) CanTransition(next UploadStatus) bool {
	switch s {
	case StatusPending:
		return next != StatusPending
	case StatusProcessing:
		return next == StatusProcessing || next.Terminal()
	default:
		return false
	}
}

// FileType is the tabular format of an upload.
type FileType string

const (
	FileTypeCSV         FileType = "csv"
	FileTypeSpreadsheet FileType = "spreadsheet"
)

// TransactionType carries the direction of a transaction; amounts are always
// non-negative.
type TransactionType string

const (
	TransactionDeposit  TransactionType = "DEPOSIT"
	TransactionWithdraw TransactionType = "WITHDRAW"
)

// RowError is a single recorded failure. Row is the 1-based data row number,
// or the 0-based batch start index for a failed batch dispatch.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// UploadJob is the durable status record of one upload.
type UploadJob struct {
	UploadID            string       `json:"uploadId"`
	OwnerID             string       `json:"ownerId"`
	OriginalName        string       `json:"originalName"`
	StoredName          string       `json:"storedName"`
	FileSize            int64        `json:"fileSize"`
	FileType            FileType     `json:"fileType"`
	Description         string       `json:"description,omitempty"`
	Status              UploadStatus `json:"status"`
	TotalRecords        int          `json:"totalRecords"`
	ProcessedRecords    int          `json:"processedRecords"`
	SuccessfulRecords   int          `json:"successfulRecords"`
	FailedRecords       int          `json:"failedRecords"`
	Errors              []RowError   `json:"errors"`
	ContentHandle       string       `json:"-"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
	ProcessingStartedAt *time.Time   `json:"processingStartedAt,omitempty"`
	ProcessedAt         *time.Time   `json:"processedAt,omitempty"`
}

// Progress returns the completion percentage derived from the counters.
func (j *UploadJob) Progress() int {
	return Percent(j.ProcessedRecords, j.TotalRecords)
}

// Percent rounds processed/total to a whole percentage, 0 when total is unknown.
func Percent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(processed) / float64(total) * 100))
}

// UploadUpdate is a partial update; nil fields are left untouched. An update
// without a Status never lowers the record counters.
type UploadUpdate struct {
	Status              *UploadStatus
	TotalRecords        *int
	ProcessedRecords    *int
	SuccessfulRecords   *int
	FailedRecords       *int
	Errors              *[]RowError
	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
}

// TransactionRecord is the normalized output of one source row.
type TransactionRecord struct {
	Date              time.Time       `json:"date"`
	Content           string          `json:"content"`
	Amount            decimal.Decimal `json:"amount"`
	Type              TransactionType `json:"type"`
	OwnerID           string          `json:"ownerId"`
	UploadID          string          `json:"uploadId"`
	OriginalRowNumber int             `json:"originalRowNumber"`
}

// Ptr returns a pointer to v; handy for building UploadUpdate values.
func Ptr[T any](v T) *T {
	return &v
}
