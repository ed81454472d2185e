package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/transrapport/engine/internal/engineerr"
)

// CreateJob inserts a new job keyed on conv, the single tenancy unit
// across all runtime tables (spec §3). A duplicate conv is a conflict.
// A freshly created job starts in JobEmpty.
func (s *Store) CreateJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := job.Status
	if status == "" {
		status = JobEmpty
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (conv, source_kind, source_path, chunksize, overlap, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, job.Conv, job.SourceKind, job.SourcePath, job.ChunkSize, job.Overlap, formatTS(job.CreatedAt), string(status))
	if err != nil {
		if isUniqueConstraint(err) {
			return &engineerr.StorageError{Kind: engineerr.StorageConflict, Op: "create_job", Err: engineerr.ErrConflict}
		}
		return wrapIOErr("create_job", err)
	}
	return nil
}

// GetJob looks up a job by conv.
func (s *Store) GetJob(conv string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job Job
	var createdAt, status string
	var lastRunAt, lastError sql.NullString
	err := s.db.QueryRow(`
		SELECT conv, source_kind, source_path, chunksize, overlap, created_at, status, last_run_at, last_error
		FROM jobs WHERE conv = ?
	`, conv).Scan(&job.Conv, &job.SourceKind, &job.SourcePath, &job.ChunkSize, &job.Overlap, &createdAt, &status, &lastRunAt, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, &engineerr.StorageError{Kind: engineerr.StorageNotFound, Op: "get_job", Err: engineerr.ErrNotFound}
	}
	if err != nil {
		return Job{}, wrapIOErr("get_job", err)
	}
	job.CreatedAt = mustParseTS(createdAt)
	job.Status = JobStatus(status)
	if lastRunAt.Valid {
		job.LastRunAt = mustParseTS(lastRunAt.String)
	}
	job.LastError = lastError.String
	return job, nil
}

// SetJobStatus transitions conv's job to status, recording lastErr (cleared
// on success) and stamping last_run_at with runAt when runAt is non-zero;
// a zero runAt leaves last_run_at unchanged.
func (s *Store) SetJobStatus(conv string, status JobStatus, runAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runAtArg, errArg any
	if !runAt.IsZero() {
		runAtArg = formatTS(runAt)
	}
	if lastErr != "" {
		errArg = lastErr
	}
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, last_run_at = COALESCE(?, last_run_at), last_error = ?
		WHERE conv = ?
	`, string(status), runAtArg, errArg, conv)
	if err != nil {
		return wrapIOErr("set_job_status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapIOErr("set_job_status rows_affected", err)
	}
	if n == 0 {
		return &engineerr.StorageError{Kind: engineerr.StorageNotFound, Op: "set_job_status", Err: engineerr.ErrNotFound}
	}
	return nil
}

// isUniqueConstraint reports whether err came from a UNIQUE/PRIMARY KEY
// violation. modernc.org/sqlite surfaces these as *sqlite.Error with a
// message containing "UNIQUE constraint failed" (SQLite's own wording);
// there is no typed sentinel to errors.As against, so this is a
// string-match fallback used only to choose StorageConflict vs StorageIO.
func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
