package ingest

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LedgerDrop/internal/events"
	"github.com/dharsanguruparan/LedgerDrop/internal/model"
	"github.com/dharsanguruparan/LedgerDrop/internal/queue"
	"github.com/dharsanguruparan/LedgerDrop/internal/storage"
)

const acceptedMessage = "File uploaded successfully and queued for processing"

// UploadRequest is what a caller hands over for ingestion.
type UploadRequest struct {
	Data        []byte
	Filename    string
	MimeType    string
	Size        int64
	OwnerID     string
	Description string
}

// UploadReceipt is returned as soon as the upload is queued.
type UploadReceipt struct {
	UploadID string             `json:"uploadId"`
	Status   model.UploadStatus `json:"status"`
	Message  string             `json:"message"`
}

// StatusView is the caller-facing status of one upload.
type StatusView struct {
	UploadID          string             `json:"uploadId"`
	Filename          string             `json:"filename"`
	Status            model.UploadStatus `json:"status"`
	Progress          int                `json:"progress"`
	TotalRecords      int                `json:"totalRecords"`
	ProcessedRecords  int                `json:"processedRecords"`
	SuccessfulRecords int                `json:"successfulRecords"`
	FailedRecords     int                `json:"failedRecords"`
	Errors            []model.RowError   `json:"errors,omitempty"`
	UploadedAt        time.Time          `json:"uploadedAt"`
	ProcessedAt       *time.Time         `json:"processedAt,omitempty"`
	FileSize          int64              `json:"fileSize"`
	FileType          model.FileType     `json:"fileType"`
}

// Service is the synchronous side of ingestion: acceptance and status
// queries.
type Service struct {
	content      storage.Store
	status       StatusStore
	queue        Enqueuer
	events       events.Publisher
	historyLimit int
	now          func() time.Time
}

func NewService(content storage.Store, status StatusStore, q Enqueuer, pub events.Publisher, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Service{
		content:      content,
		status:       status,
		queue:        q,
		events:       pub,
		historyLimit: historyLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Accept stores the file, records a PENDING job and queues it. Anything that
// fails after the content write removes the stored bytes again.
func (s *Service) Accept(ctx context.Context, req UploadRequest) (UploadReceipt, error) {
	if len(req.Data) == 0 {
		return UploadReceipt{}, model.WrapError(model.ErrInvalidInput, "accept upload", errors.New("file is empty"))
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return UploadReceipt{}, model.WrapError(model.ErrInvalidInput, "accept upload", errors.New("owner is required"))
	}
	fileType, err := DetectFileType(req.Filename, req.MimeType)
	if err != nil {
		return UploadReceipt{}, err
	}
	size := req.Size
	if size <= 0 {
		size = int64(len(req.Data))
	}

	handle, err := s.content.Put(ctx, req.Filename, req.Data, map[string]string{
		"owner-id":  req.OwnerID,
		"file-type": string(fileType),
	})
	if err != nil {
		return UploadReceipt{}, err
	}
	logger := log.WithFields(log.Fields{"owner_id": req.OwnerID, "handle": handle})

	job := &model.UploadJob{
		UploadID:      uuid.NewString(),
		OwnerID:       req.OwnerID,
		OriginalName:  req.Filename,
		StoredName:    path.Base(handle),
		FileSize:      size,
		FileType:      fileType,
		Description:   req.Description,
		Status:        model.StatusPending,
		TotalRecords:  EstimateRecords(req.Data, fileType),
		ContentHandle: handle,
		CreatedAt:     s.now(),
	}
	logger = logger.WithField("upload_id", job.UploadID)

	if err := s.status.Create(ctx, job); err != nil {
		s.discard(ctx, handle, logger)
		return UploadReceipt{}, err
	}

	payload := queue.Payload{
		UploadID:      job.UploadID,
		ContentHandle: handle,
		OwnerID:       job.OwnerID,
		FileType:      fileType,
		Filename:      job.OriginalName,
		EnqueuedAt:    job.CreatedAt,
	}
	if err := s.queue.Enqueue(ctx, payload); err != nil {
		if uerr := s.status.Update(ctx, job.UploadID, model.UploadUpdate{
			Status:      model.Ptr(model.StatusFailed),
			Errors:      &[]model.RowError{{Row: 0, Error: "Failed to queue upload: " + err.Error()}},
			ProcessedAt: model.Ptr(s.now()),
		}); uerr != nil {
			logger.WithError(uerr).Warn("could not mark unqueued upload failed")
		}
		s.discard(ctx, handle, logger)
		return UploadReceipt{}, err
	}

	if err := s.events.Publish(ctx, events.KindStarted, events.Started{
		OwnerID:  job.OwnerID,
		UploadID: job.UploadID,
		Filename: job.OriginalName,
		FileSize: job.FileSize,
		FileType: fileType,
	}); err != nil {
		logger.WithError(err).Warn("publish started event failed")
	}
	logger.WithFields(log.Fields{"file_type": fileType, "estimated_records": job.TotalRecords}).Info("upload accepted")

	return UploadReceipt{UploadID: job.UploadID, Status: model.StatusPending, Message: acceptedMessage}, nil
}

func (s *Service) discard(ctx context.Context, handle string, logger *log.Entry) {
	if err := s.content.Delete(context.WithoutCancel(ctx), handle); err != nil {
		logger.WithError(err).Error("cleanup of stored content failed")
	}
}

// GetStatus returns one upload owned by ownerID.
func (s *Service) GetStatus(ctx context.Context, uploadID, ownerID string) (StatusView, error) {
	job, err := s.status.Get(ctx, uploadID, ownerID)
	if err != nil {
		return StatusView{}, err
	}
	return viewOf(job, true), nil
}

// History lists the owner's uploads newest first, without error lists.
func (s *Service) History(ctx context.Context, ownerID string, limit int) ([]StatusView, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	jobs, err := s.status.ListForOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]StatusView, 0, len(jobs))
	for i := range jobs {
		out = append(out, viewOf(&jobs[i], false))
	}
	return out, nil
}

func viewOf(job *model.UploadJob, withErrors bool) StatusView {
	v := StatusView{
		UploadID:          job.UploadID,
		Filename:          job.OriginalName,
		Status:            job.Status,
		Progress:          job.Progress(),
		TotalRecords:      job.TotalRecords,
		ProcessedRecords:  job.ProcessedRecords,
		SuccessfulRecords: job.SuccessfulRecords,
		FailedRecords:     job.FailedRecords,
		UploadedAt:        job.CreatedAt,
		ProcessedAt:       job.ProcessedAt,
		FileSize:          job.FileSize,
		FileType:          job.FileType,
	}
	if withErrors {
		v.Errors = job.Errors
	}
	return v
}
