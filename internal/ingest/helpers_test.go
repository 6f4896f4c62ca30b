package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dharsanguruparan/LedgerDrop/internal/batch"
	"github.com/dharsanguruparan/LedgerDrop/internal/events"
	"github.com/dharsanguruparan/LedgerDrop/internal/model"
	"github.com/dharsanguruparan/LedgerDrop/internal/queue"
	"github.com/dharsanguruparan/LedgerDrop/internal/repository"
	"github.com/dharsanguruparan/LedgerDrop/internal/storage"
)

const cleanCSV = "date,content,amount,type\n" +
	"2024-01-01,\"Rent\",-150.00,Withdraw\n" +
	"2024-01-02,\"Salary\",2000,Deposit\n" +
	"2024-01-03,\"\",abc,Deposit\n"

type published struct {
	kind    events.Kind
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, kind events.Kind, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{kind: kind, payload: payload})
	return nil
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.kind)
	}
	return out
}

type captureQueue struct {
	payloads []queue.Payload
	err      error
}

func (q *captureQueue) Enqueue(_ context.Context, p queue.Payload) error {
	if q.err != nil {
		return q.err
	}
	q.payloads = append(q.payloads, p)
	return nil
}

// recordingStatus wraps the memory store and keeps every update it sees.
type recordingStatus struct {
	*repository.MemoryUploads
	mu           sync.Mutex
	updates      []model.UploadUpdate
	failCreate   error
	failProgress error
}

func (s *recordingStatus) Create(ctx context.Context, job *model.UploadJob) error {
	if s.failCreate != nil {
		return s.failCreate
	}
	return s.MemoryUploads.Create(ctx, job)
}

func (s *recordingStatus) Update(ctx context.Context, id string, u model.UploadUpdate) error {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	s.mu.Unlock()
	if s.failProgress != nil && u.Status == nil && u.ProcessedRecords != nil {
		return s.failProgress
	}
	return s.MemoryUploads.Update(ctx, id, u)
}

func (s *recordingStatus) progressUpdates() []model.UploadUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.UploadUpdate
	for _, u := range s.updates {
		if u.Status == nil && u.ProcessedRecords != nil {
			out = append(out, u)
		}
	}
	return out
}

// failingSink fails the bulk create call with the given 1-based index.
type failingSink struct {
	*repository.MemoryTransactions
	mu     sync.Mutex
	calls  int
	failOn int
}

func (s *failingSink) BulkCreate(ctx context.Context, records []model.TransactionRecord) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if n == s.failOn {
		return errors.New("downstream unavailable")
	}
	return s.MemoryTransactions.BulkCreate(ctx, records)
}

// corruptStore reports every read as failing its integrity check.
type corruptStore struct {
	*storage.MemoryStore
}

func (c corruptStore) Get(_ context.Context, handle string) ([]byte, error) {
	return nil, fmt.Errorf("%s: %w", handle, storage.ErrHashMismatch)
}

type pipeline struct {
	content *storage.MemoryStore
	status  *recordingStatus
	sink    *failingSink
	pub     *recordingPublisher
	queue   *captureQueue
	service *Service
	runner  *Runner
}

func newPipeline(t *testing.T, cfg batch.Config) *pipeline {
	t.Helper()
	p := &pipeline{
		content: storage.NewMemoryStore(),
		status:  &recordingStatus{MemoryUploads: repository.NewMemoryUploads()},
		sink:    &failingSink{MemoryTransactions: repository.NewMemoryTransactions()},
		pub:     &recordingPublisher{},
		queue:   &captureQueue{},
	}
	p.service = NewService(p.content, p.status, p.queue, p.pub, 50)
	p.runner = NewRunner(p.content, p.status, p.sink, p.pub, nil, RunnerConfig{Batch: cfg})
	return p
}

func (p *pipeline) accept(t *testing.T, name, mimetype string, data []byte) queue.Payload {
	t.Helper()
	receipt, err := p.service.Accept(context.Background(), UploadRequest{
		Data: data, Filename: name, MimeType: mimetype, Size: int64(len(data)), OwnerID: "owner-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, p.queue.payloads)
	payload := p.queue.payloads[len(p.queue.payloads)-1]
	require.Equal(t, receipt.UploadID, payload.UploadID)
	return payload
}

func (p *pipeline) job(t *testing.T, uploadID string) *model.UploadJob {
	t.Helper()
	job, err := p.status.Get(context.Background(), uploadID, "owner-1")
	require.NoError(t, err)
	return job
}

func workbook(t *testing.T, rows int) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Date", "Content", "Amount", "Type"}))
	for i := 0; i < rows; i++ {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &[]any{"2024-02-01", fmt.Sprintf("item %d", i+1), 10 + i, "Deposit"}))
	}
	last, err := excelize.CoordinatesToCellName(4, rows+1)
	require.NoError(t, err)
	require.NoError(t, f.SetSheetDimension("Sheet1", "A1:"+last))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}
