// Package repository persists upload jobs and normalized transactions in
// Postgres, with in-memory equivalents for standalone runs and tests.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
)

const uploadColumns = `upload_id, owner_id, original_name, stored_name, file_size, file_type, description,
	status, total_records, processed_records, successful_records, failed_records, errors,
	content_handle, created_at, updated_at, processing_started_at, processed_at`

// UploadRepository is the Postgres status store.
type UploadRepository struct {
	db *sql.DB
}

func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// Create inserts a new job. CreatedAt and UpdatedAt are filled in when zero.
func (r *UploadRepository) Create(ctx context.Context, job *model.UploadJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	if job.Status == "" {
		job.Status = model.StatusPending
	}
	errs, err := encodeErrors(job.Errors)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO upload_jobs (`+uploadColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, job.UploadID, job.OwnerID, job.OriginalName, job.StoredName, job.FileSize, string(job.FileType), job.Description,
		string(job.Status), job.TotalRecords, job.ProcessedRecords, job.SuccessfulRecords, job.FailedRecords, errs,
		job.ContentHandle, job.CreatedAt, job.UpdatedAt, job.ProcessingStartedAt, job.ProcessedAt)
	if err != nil {
		return fmt.Errorf("insert upload job: %w", err)
	}
	return nil
}

// Get returns the job only when it belongs to ownerID.
func (r *UploadRepository) Get(ctx context.Context, uploadID, ownerID string) (*model.UploadJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+uploadColumns+`
		FROM upload_jobs WHERE upload_id = $1 AND owner_id = $2
	`, uploadID, ownerID)
	job, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.WrapError(model.ErrUploadNotFound, "get upload job", err)
		}
		return nil, fmt.Errorf("select upload job: %w", err)
	}
	return job, nil
}

// ListForOwner returns up to limit jobs, newest first.
func (r *UploadRepository) ListForOwner(ctx context.Context, ownerID string, limit int) ([]model.UploadJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+uploadColumns+`
		FROM upload_jobs WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list upload jobs: %w", err)
	}
	defer rows.Close()

	var out []model.UploadJob
	for rows.Next() {
		job, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload job: %w", err)
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload jobs: %w", err)
	}
	return out, nil
}

// Update merges the non-nil fields of u into the job. Rows already in a
// terminal status are never touched; such calls return ErrTerminalStatus.
// Without a status change the record counters only move up.
func (r *UploadRepository) Update(ctx context.Context, uploadID string, u model.UploadUpdate) error {
	if u.Status != nil && *u.Status == model.StatusPending {
		return model.WrapError(model.ErrInvalidInput, "update upload job", errors.New("cannot return to PENDING"))
	}
	var (
		sets []string
		args = []any{uploadID}
	)
	set := func(column string, value any) int {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
		return len(args)
	}
	counter := func(column string, value int) int {
		if u.Status != nil {
			return set(column, value)
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = GREATEST(%s, $%d)", column, column, len(args)))
		return len(args)
	}
	if u.Status != nil {
		set("status", string(*u.Status))
	}
	if u.TotalRecords != nil {
		set("total_records", *u.TotalRecords)
	}
	if u.ProcessedRecords != nil {
		n := counter("processed_records", *u.ProcessedRecords)
		if u.TotalRecords == nil {
			sets = append(sets, fmt.Sprintf("total_records = GREATEST(total_records, $%d)", n))
		}
	}
	if u.SuccessfulRecords != nil {
		counter("successful_records", *u.SuccessfulRecords)
	}
	if u.FailedRecords != nil {
		counter("failed_records", *u.FailedRecords)
	}
	if u.Errors != nil {
		errs, err := encodeErrors(*u.Errors)
		if err != nil {
			return err
		}
		set("errors", errs)
	}
	if u.ProcessingStartedAt != nil {
		set("processing_started_at", u.ProcessingStartedAt.UTC())
	}
	if u.ProcessedAt != nil {
		set("processed_at", u.ProcessedAt.UTC())
	}
	set("updated_at", time.Now().UTC())

	res, err := r.db.ExecContext(ctx, `
		UPDATE upload_jobs SET `+strings.Join(sets, ", ")+`
		WHERE upload_id = $1 AND status NOT IN ('COMPLETED', 'FAILED')
	`, args...)
	if err != nil {
		return fmt.Errorf("update upload job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update upload job: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM upload_jobs WHERE upload_id = $1`, uploadID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WrapError(model.ErrUploadNotFound, "update upload job", fmt.Errorf("upload %s", uploadID))
	}
	if err != nil {
		return fmt.Errorf("check upload status: %w", err)
	}
	return model.WrapError(model.ErrTerminalStatus, "update upload job", fmt.Errorf("upload %s is %s", uploadID, status))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(s scanner) (*model.UploadJob, error) {
	var (
		job               model.UploadJob
		fileType, status  string
		errs              []byte
		started, finished sql.NullTime
	)
	if err := s.Scan(&job.UploadID, &job.OwnerID, &job.OriginalName, &job.StoredName, &job.FileSize, &fileType,
		&job.Description, &status, &job.TotalRecords, &job.ProcessedRecords, &job.SuccessfulRecords,
		&job.FailedRecords, &errs, &job.ContentHandle, &job.CreatedAt, &job.UpdatedAt, &started, &finished); err != nil {
		return nil, err
	}
	job.FileType = model.FileType(fileType)
	job.Status = model.UploadStatus(status)
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &job.Errors); err != nil {
			return nil, fmt.Errorf("decode errors column: %w", err)
		}
	}
	if started.Valid {
		job.ProcessingStartedAt = &started.Time
	}
	if finished.Valid {
		job.ProcessedAt = &finished.Time
	}
	return &job, nil
}

func encodeErrors(errs []model.RowError) (string, error) {
	if errs == nil {
		errs = []model.RowError{}
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("encode errors: %w", err)
	}
	return string(b), nil
}
