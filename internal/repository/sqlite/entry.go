package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
	apperrors "github.com/lumehealth/lume-sync/pkg/errors"
)

const progressColumns = `id, user_id, metric_type, value, unit, date, created_at, updated_at, backend_id, sync_status`

type progressRepository struct {
	BaseRepository
}

func NewProgressRepository(base BaseRepository) repository.ProgressRepository {
	return &progressRepository{base}
}

// dayKey renders the calendar day of t in t's own location. All writes
// come in device-local time, so one user's keys are mutually consistent.
func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func (r *progressRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, entry *model.ProgressEntry) error {
	query := `
		INSERT INTO progress_entries (
			id, user_id, metric_type, value, unit, date, day,
			created_at, updated_at, backend_id, sync_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.MetricType,
		entry.Value,
		entry.Unit,
		entry.Date,
		dayKey(entry.Date),
		entry.CreatedAt,
		entry.UpdatedAt,
		entry.BackendID,
		entry.SyncStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to create progress entry: %w", err)
	}
	return nil
}

func (r *progressRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, entry *model.ProgressEntry) error {
	query := `
		UPDATE progress_entries
		SET value = ?, unit = ?, updated_at = ?, backend_id = ?, sync_status = ?
		WHERE id = ?
	`
	res, err := tx.ExecContext(ctx, query,
		entry.Value,
		entry.Unit,
		entry.UpdatedAt,
		entry.BackendID,
		entry.SyncStatus,
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update progress entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("progress entry", nil)
	}
	return nil
}

func (r *progressRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ProgressEntry, error) {
	query := `SELECT ` + progressColumns + ` FROM progress_entries WHERE id = ?`

	var entry model.ProgressEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("progress entry", err)
		}
		return nil, fmt.Errorf("failed to get progress entry: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *progressRepository) FindForDay(ctx context.Context, userID uuid.UUID, metric model.MetricType, dayStart, dayEnd time.Time) (*model.ProgressEntry, error) {
	return findForDay(ctx, r.db, userID, metric, dayStart)
}

func (r *progressRepository) FindForDayTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, metric model.MetricType, dayStart, dayEnd time.Time) (*model.ProgressEntry, error) {
	return findForDay(ctx, tx, userID, metric, dayStart)
}

func findForDay(ctx context.Context, q sqlx.QueryerContext, userID uuid.UUID, metric model.MetricType, dayStart time.Time) (*model.ProgressEntry, error) {
	query := `
		SELECT ` + progressColumns + `
		FROM progress_entries
		WHERE user_id = ? AND metric_type = ? AND day = ?
		LIMIT 1
	`
	var entry model.ProgressEntry
	err := sqlx.GetContext(ctx, q, &entry, query, userID, metric, dayKey(dayStart))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find day entry: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *progressRepository) FetchRange(ctx context.Context, userID uuid.UUID, metric *model.MetricType, filter repository.RangeFilter) ([]*model.ProgressEntry, error) {
	if err := checkFilter(filter); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + progressColumns + `
		FROM progress_entries
		WHERE user_id = ? AND date >= ? AND date < ?
	`
	args := []interface{}{userID, filter.From, filter.To}
	if metric != nil {
		query += ` AND metric_type = ?`
		args = append(args, *metric)
	}
	query += ` ORDER BY date DESC LIMIT ?`
	args = append(args, filter.Limit)

	var entries []*model.ProgressEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to fetch progress entries: %w", err)
	}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (r *progressRepository) ListDirty(ctx context.Context, userID uuid.UUID) ([]*model.ProgressEntry, error) {
	query := `
		SELECT ` + progressColumns + `
		FROM progress_entries
		WHERE user_id = ? AND sync_status IN (?, ?)
		ORDER BY date DESC
		LIMIT 500
	`
	var entries []*model.ProgressEntry
	err := r.db.SelectContext(ctx, &entries, query, userID, model.SyncStatusPending, model.SyncStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty progress entries: %w", err)
	}
	return entries, nil
}

func (r *progressRepository) MarkSynced(ctx context.Context, id uuid.UUID, backendID string) error {
	return markSynced(ctx, r.db, "progress_entries", id, backendID)
}

func (r *progressRepository) MarkSyncFailed(ctx context.Context, id uuid.UUID) error {
	return markSyncFailed(ctx, r.db, "progress_entries", id)
}


// Shared helpers for the per-kind stores. The sync bookkeeping columns
// are identical across tables.

func checkFilter(filter repository.RangeFilter) error {
	if filter.From.IsZero() || filter.To.IsZero() {
		return apperrors.Validation("date range bounds are required", nil)
	}
	if filter.Limit <= 0 {
		return apperrors.Validation("a positive limit is required", nil)
	}
	return nil
}

func markSynced(ctx context.Context, db *sqlx.DB, table string, id uuid.UUID, backendID string) error {
	query := `UPDATE ` + table + ` SET backend_id = ?, sync_status = ? WHERE id = ?`
	res, err := db.ExecContext(ctx, query, backendID, model.SyncStatusSynced, id)
	if err != nil {
		return fmt.Errorf("failed to mark synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound(table+" row", nil)
	}
	return nil
}

func markSyncFailed(ctx context.Context, db *sqlx.DB, table string, id uuid.UUID) error {
	query := `UPDATE ` + table + ` SET sync_status = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, model.SyncStatusFailed, id); err != nil {
		return fmt.Errorf("failed to mark sync failed: %w", err)
	}
	return nil
}
