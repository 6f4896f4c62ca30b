package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
)

// MemoryUploads is an in-process status store with the same contract as
// UploadRepository.
type MemoryUploads struct {
	mu   sync.RWMutex
	jobs map[string]*model.UploadJob
}

func NewMemoryUploads() *MemoryUploads {
	return &MemoryUploads{jobs: make(map[string]*model.UploadJob)}
}

func (m *MemoryUploads) Create(_ context.Context, job *model.UploadJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.UploadID]; ok {
		return model.WrapError(model.ErrInvalidInput, "create upload job", fmt.Errorf("duplicate upload %s", job.UploadID))
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	if job.Status == "" {
		job.Status = model.StatusPending
	}
	m.jobs[job.UploadID] = cloneJob(job)
	return nil
}

func (m *MemoryUploads) Get(_ context.Context, uploadID, ownerID string) (*model.UploadJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[uploadID]
	if !ok || job.OwnerID != ownerID {
		return nil, model.WrapError(model.ErrUploadNotFound, "get upload job", fmt.Errorf("upload %s", uploadID))
	}
	return cloneJob(job), nil
}

func (m *MemoryUploads) ListForOwner(_ context.Context, ownerID string, limit int) ([]model.UploadJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.UploadJob
	for _, job := range m.jobs {
		if job.OwnerID == ownerID {
			out = append(out, *cloneJob(job))
		}
	}
	slices.SortFunc(out, func(a, b model.UploadJob) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryUploads) Update(_ context.Context, uploadID string, u model.UploadUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[uploadID]
	if !ok {
		return model.WrapError(model.ErrUploadNotFound, "update upload job", fmt.Errorf("upload %s", uploadID))
	}
	if job.Status.Terminal() {
		return model.WrapError(model.ErrTerminalStatus, "update upload job", fmt.Errorf("upload %s is %s", uploadID, job.Status))
	}
	if u.Status != nil && !job.Status.CanTransition(*u.Status) {
		return model.WrapError(model.ErrInvalidInput, "update upload job", errors.New("cannot move from "+string(job.Status)+" to "+string(*u.Status)))
	}
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.TotalRecords != nil {
		job.TotalRecords = *u.TotalRecords
	}
	counter := func(dst *int, v *int) {
		if v == nil {
			return
		}
		if u.Status != nil || *v > *dst {
			*dst = *v
		}
	}
	counter(&job.ProcessedRecords, u.ProcessedRecords)
	if u.ProcessedRecords != nil && u.TotalRecords == nil && job.TotalRecords < job.ProcessedRecords {
		job.TotalRecords = job.ProcessedRecords
	}
	counter(&job.SuccessfulRecords, u.SuccessfulRecords)
	counter(&job.FailedRecords, u.FailedRecords)
	if u.Errors != nil {
		job.Errors = slices.Clone(*u.Errors)
	}
	if u.ProcessingStartedAt != nil {
		t := u.ProcessingStartedAt.UTC()
		job.ProcessingStartedAt = &t
	}
	if u.ProcessedAt != nil {
		t := u.ProcessedAt.UTC()
		job.ProcessedAt = &t
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneJob(job *model.UploadJob) *model.UploadJob {
	out := *job
	out.Errors = slices.Clone(job.Errors)
	if job.ProcessingStartedAt != nil {
		t := *job.ProcessingStartedAt
		out.ProcessingStartedAt = &t
	}
	if job.ProcessedAt != nil {
		t := *job.ProcessedAt
		out.ProcessedAt = &t
	}
	return &out
}

type rowKey struct {
	uploadID string
	row      int
}

// MemoryTransactions is an in-process transaction sink, idempotent on
// (upload_id, original_row_number) like the Postgres one.
type MemoryTransactions struct {
	mu      sync.Mutex
	records map[rowKey]model.TransactionRecord
	calls   int
}

func NewMemoryTransactions() *MemoryTransactions {
	return &MemoryTransactions{records: make(map[rowKey]model.TransactionRecord)}
}

func (m *MemoryTransactions) BulkCreate(ctx context.Context, records []model.TransactionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for _, rec := range records {
		key := rowKey{uploadID: rec.UploadID, row: rec.OriginalRowNumber}
		if _, ok := m.records[key]; !ok {
			m.records[key] = rec
		}
	}
	return nil
}

func (m *MemoryTransactions) CountForUpload(_ context.Context, uploadID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.records {
		if key.uploadID == uploadID {
			n++
		}
	}
	return n, nil
}

// Records returns an upload's transactions ordered by source row.
func (m *MemoryTransactions) Records(uploadID string) []model.TransactionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TransactionRecord
	for key, rec := range m.records {
		if key.uploadID == uploadID {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b model.TransactionRecord) int {
		return a.OriginalRowNumber - b.OriginalRowNumber
	})
	return out
}

// Calls is the number of BulkCreate invocations seen.
func (m *MemoryTransactions) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
