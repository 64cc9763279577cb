package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const defaultListLimit = 50

// timeLayout is fixed-width so ORDER BY on the text column is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, userID string, limit int) ([]*Run, error)
	ListPendingRuns(ctx context.Context) ([]*Run, error)
	UpdateRunStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateRunResult(ctx context.Context, id, status, url string, size int64) error
	FailInterruptedRuns(ctx context.Context) (int64, error)
}

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const runColumns = `id, user_id, model_id, video_path, object_path, document_path, url, status, error, size, created_at, updated_at`

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = r.now()
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO upload_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.UserID, run.ModelID, run.VideoPath, run.ObjectPath, run.DocumentPath,
		nullString(run.URL), run.Status, nullString(run.Error), run.Size,
		formatTime(run.CreatedAt), formatTime(run.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM upload_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns the newest runs first, optionally for a single user.
func (r *SQLiteRepository) ListRuns(ctx context.Context, userID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if userID == "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+runColumns+` FROM upload_runs ORDER BY created_at DESC LIMIT ?
		`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+runColumns+` FROM upload_runs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
		`, userID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

func (r *SQLiteRepository) ListPendingRuns(ctx context.Context) ([]*Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM upload_runs WHERE status = ? ORDER BY created_at ASC
	`, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

func (r *SQLiteRepository) UpdateRunStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE upload_runs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), formatTime(r.now()), id)
	return err
}

func (r *SQLiteRepository) UpdateRunResult(ctx context.Context, id, status, url string, size int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE upload_runs SET status = ?, url = ?, size = ?, updated_at = ? WHERE id = ?
	`, status, nullString(url), size, formatTime(r.now()), id)
	return err
}

// FailInterruptedRuns marks runs a previous process left in StatusRunning.
func (r *SQLiteRepository) FailInterruptedRuns(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE upload_runs SET status = ?, error = 'interrupted by restart', updated_at = ? WHERE status = ?
	`, StatusFailed, formatTime(r.now()), StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var url, errMsg sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&run.ID, &run.UserID, &run.ModelID, &run.VideoPath, &run.ObjectPath, &run.DocumentPath,
		&url, &run.Status, &errMsg, &run.Size, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	run.URL = url.String
	run.Error = errMsg.String
	run.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	run.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &run, nil
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
