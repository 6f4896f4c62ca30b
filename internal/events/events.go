// Package events publishes upload lifecycle notifications. Delivery is fire
// and forget: callers log publish errors and carry on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
)

// Kind names an event. It is also the last subject token on NATS.
type Kind string

const (
	KindStarted   Kind = "file_processing_started"
	KindProgress  Kind = "file_processing_progress"
	KindCompleted Kind = "file_processing_completed"
	KindFailed    Kind = "file_processing_failed"
)

// Publisher sends one event.
type Publisher interface {
	Publish(ctx context.Context, kind Kind, payload any) error
}

type Started struct {
	OwnerID  string         `json:"owner_id"`
	UploadID string         `json:"upload_id"`
	Filename string         `json:"filename"`
	FileSize int64          `json:"file_size"`
	FileType model.FileType `json:"file_type"`
}

type Progress struct {
	OwnerID          string `json:"owner_id"`
	UploadID         string `json:"upload_id"`
	Progress         int    `json:"progress"`
	ProcessedRecords int    `json:"processed_records"`
	TotalRecords     int    `json:"total_records"`
}

type Completed struct {
	OwnerID           string `json:"owner_id"`
	UploadID          string `json:"upload_id"`
	TotalRecords      int    `json:"total_records"`
	SuccessfulRecords int    `json:"successful_records"`
	FailedRecords     int    `json:"failed_records"`
}

type Failed struct {
	OwnerID  string `json:"owner_id"`
	UploadID string `json:"upload_id"`
	Error    string `json:"error"`
}

// Envelope is the wire format of every event.
type Envelope struct {
	Event      Kind            `json:"event"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Encode wraps payload in an Envelope.
func Encode(kind Kind, payload any, at time.Time) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{Event: kind, OccurredAt: at.UTC(), Data: data})
}

// Subject joins the configured prefix and the event kind.
func Subject(prefix string, kind Kind) string {
	if prefix == "" {
		return string(kind)
	}
	return prefix + "." + string(kind)
}
