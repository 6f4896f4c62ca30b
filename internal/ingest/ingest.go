// Package ingest accepts uploads and executes their processing jobs. Accept
// runs in the caller's request; Runner.Run runs on a worker, once per attempt.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
	"github.com/dharsanguruparan/LedgerDrop/internal/parser"
	"github.com/dharsanguruparan/LedgerDrop/internal/queue"
)

// StatusStore is the durable record of upload jobs.
type StatusStore interface {
	Create(ctx context.Context, job *model.UploadJob) error
	Get(ctx context.Context, uploadID, ownerID string) (*model.UploadJob, error)
	Update(ctx context.Context, uploadID string, u model.UploadUpdate) error
	ListForOwner(ctx context.Context, ownerID string, limit int) ([]model.UploadJob, error)
}

// Enqueuer hands an accepted upload to the background workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.Payload) error
}

// DetectFileType maps a mimetype or file extension to a supported format.
func DetectFileType(filename, mimetype string) (model.FileType, error) {
	mt := strings.ToLower(mimetype)
	name := strings.ToLower(strings.TrimSpace(filename))
	switch {
	case strings.Contains(mt, "csv") || strings.HasSuffix(name, ".csv"):
		return model.FileTypeCSV, nil
	case strings.Contains(mt, "excel") || strings.Contains(mt, "spreadsheet") ||
		strings.HasSuffix(name, ".xlsx") || strings.HasSuffix(name, ".xls"):
		return model.FileTypeSpreadsheet, nil
	}
	return "", model.WrapError(model.ErrInvalidInput, "detect file type",
		fmt.Errorf("unsupported file type %q (%s)", filename, mimetype))
}

// EstimateRecords is a cheap guess at the data row count, corrected once
// the file is parsed.
func EstimateRecords(data []byte, fileType model.FileType) int {
	if fileType == model.FileTypeCSV {
		return parser.CountCSVRecords(data)
	}
	return parser.EstimateSpreadsheetRecords(len(data))
}
