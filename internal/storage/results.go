package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/table-engine/internal/domain"
)

// ErrNotFound indicates no stored result matched the query.
var ErrNotFound = errors.New("result not found")

// ResultStore persists terminal job results.
type ResultStore struct {
	db DB
}

// NewResultStore creates a result store over an open database.
func NewResultStore(db DB) *ResultStore {
	return &ResultStore{db: db}
}

// Append writes one terminal result. A second append for the same job id
// returns domain.ErrDuplicateJob; stored rows are never modified.
func (s *ResultStore) Append(ctx context.Context, r *domain.ExtractionResult) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM extraction_results WHERE job_id = $1`, r.JobID.String(),
	).Scan(&exists)
	if err == nil {
		return domain.ErrDuplicateJob
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.StorageError("check existing result", err)
	}

	var recordJSON sql.NullString
	if r.Record != nil {
		recordJSON = sql.NullString{String: string(r.Record.CanonicalJSON()), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extraction_results (
			job_id, doc_path, vintage, table_kind, page, status, method,
			confidence, failure_kind, rejection_reason, attempts, record_json,
			extract_ms, validate_ms, repair_ms, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.JobID.String(), r.DocPath, r.Vintage, r.TableKind, r.Page,
		string(r.Status), r.Method, r.Confidence, string(r.FailureKind),
		r.RejectionReason, r.Attempts, recordJSON,
		r.Timings.Extract.Milliseconds(), r.Timings.Validate.Milliseconds(),
		r.Timings.Repair.Milliseconds(), r.CompletedAt,
	)
	if err != nil {
		return domain.StorageError("append result", err)
	}
	return nil
}

// GetByJob retrieves the result for a job id.
func (s *ResultStore) GetByJob(ctx context.Context, jobID uuid.UUID) (*domain.ExtractionResult, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE job_id = $1`, jobID.String())
	return scanResult(row)
}

// FindCompleted returns the stored terminal result for a job key, or
// ErrNotFound. The orchestrator uses this to make re-submission a no-op.
func (s *ResultStore) FindCompleted(ctx context.Context, docPath, vintage, tableKind string, page int) (*domain.ExtractionResult, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` WHERE doc_path = $1 AND vintage = $2 AND table_kind = $3 AND page = $4
		ORDER BY completed_at LIMIT 1`,
		docPath, vintage, tableKind, page)
	return scanResult(row)
}

// ListByDocument returns all results recorded for a document, ordered by page.
func (s *ResultStore) ListByDocument(ctx context.Context, docPath string) ([]*domain.ExtractionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE doc_path = $1 ORDER BY page, table_kind`, docPath)
	if err != nil {
		return nil, domain.StorageError("list results", err)
	}
	defer rows.Close()

	var out []*domain.ExtractionResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("list results", err)
	}
	return out, nil
}

const selectColumns = `
	SELECT job_id, doc_path, vintage, table_kind, page, status, method,
		confidence, failure_kind, rejection_reason, attempts, record_json,
		extract_ms, validate_ms, repair_ms, completed_at
	FROM extraction_results`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanResult(row rowScanner) (*domain.ExtractionResult, error) {
	var (
		r          domain.ExtractionResult
		jobID      string
		status     string
		failure    string
		recordJSON sql.NullString
		extractMS  int64
		validateMS int64
		repairMS   int64
	)
	err := row.Scan(
		&jobID, &r.DocPath, &r.Vintage, &r.TableKind, &r.Page, &status,
		&r.Method, &r.Confidence, &failure, &r.RejectionReason, &r.Attempts,
		&recordJSON, &extractMS, &validateMS, &repairMS, &r.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageError("scan result", err)
	}

	r.JobID, err = uuid.Parse(jobID)
	if err != nil {
		return nil, domain.StorageError("parse stored job id", err)
	}
	r.Status = domain.JobStatus(status)
	r.FailureKind = domain.FailureKind(failure)
	r.Timings = domain.StageTimings{
		Extract:  time.Duration(extractMS) * time.Millisecond,
		Validate: time.Duration(validateMS) * time.Millisecond,
		Repair:   time.Duration(repairMS) * time.Millisecond,
	}
	r.Timings.Total = r.Timings.Extract + r.Timings.Validate + r.Timings.Repair

	if recordJSON.Valid && recordJSON.String != "" {
		rec, err := domain.ParseRecordJSON([]byte(recordJSON.String))
		if err != nil {
			return nil, domain.StorageError("decode stored record", err)
		}
		r.Record = rec
	}
	return &r, nil
}
