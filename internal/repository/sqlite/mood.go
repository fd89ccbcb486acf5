package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
	apperrors "github.com/lumehealth/lume-sync/pkg/errors"
)

const moodColumns = `id, user_id, score, note, date, created_at, updated_at, backend_id, sync_status`

type moodRepository struct {
	BaseRepository
}

func NewMoodRepository(base BaseRepository) repository.MoodRepository {
	return &moodRepository{base}
}

func (r *moodRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, entry *model.MoodEntry) error {
	query := `
		INSERT INTO mood_entries (
			id, user_id, score, note, date, created_at, updated_at, backend_id, sync_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Score,
		entry.Note,
		entry.Date,
		entry.CreatedAt,
		entry.UpdatedAt,
		entry.BackendID,
		entry.SyncStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to create mood entry: %w", err)
	}
	return nil
}

func (r *moodRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.MoodEntry, error) {
	query := `SELECT ` + moodColumns + ` FROM mood_entries WHERE id = ?`

	var entry model.MoodEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("mood entry", err)
		}
		return nil, fmt.Errorf("failed to get mood entry: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *moodRepository) FetchRange(ctx context.Context, userID uuid.UUID, filter repository.RangeFilter) ([]*model.MoodEntry, error) {
	if err := checkFilter(filter); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + moodColumns + `
		FROM mood_entries
		WHERE user_id = ? AND date >= ? AND date < ?
		ORDER BY date DESC
		LIMIT ?
	`
	var entries []*model.MoodEntry
	err := r.db.SelectContext(ctx, &entries, query, userID, filter.From, filter.To, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mood entries: %w", err)
	}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (r *moodRepository) ListDirty(ctx context.Context, userID uuid.UUID) ([]*model.MoodEntry, error) {
	query := `
		SELECT ` + moodColumns + `
		FROM mood_entries
		WHERE user_id = ? AND sync_status IN (?, ?)
		ORDER BY date DESC
		LIMIT 500
	`
	var entries []*model.MoodEntry
	err := r.db.SelectContext(ctx, &entries, query, userID, model.SyncStatusPending, model.SyncStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty mood entries: %w", err)
	}
	return entries, nil
}

func (r *moodRepository) MarkSynced(ctx context.Context, id uuid.UUID, backendID string) error {
	return markSynced(ctx, r.db, "mood_entries", id, backendID)
}

func (r *moodRepository) MarkSyncFailed(ctx context.Context, id uuid.UUID) error {
	return markSyncFailed(ctx, r.db, "mood_entries", id)
}

