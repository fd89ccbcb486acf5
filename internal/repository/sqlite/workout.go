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

const workoutColumns = `id, user_id, activity_type, duration_min, calories_burned, source, date, created_at, updated_at, backend_id, sync_status`

type workoutRepository struct {
	BaseRepository
}

func NewWorkoutRepository(base BaseRepository) repository.WorkoutRepository {
	return &workoutRepository{base}
}

func (r *workoutRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, w *model.Workout) error {
	query := `
		INSERT INTO workouts (
			id, user_id, activity_type, duration_min, calories_burned, source,
			date, created_at, updated_at, backend_id, sync_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		w.ID,
		w.UserID,
		w.ActivityType,
		w.DurationMin,
		w.CaloriesBurned,
		w.Source,
		w.Date,
		w.CreatedAt,
		w.UpdatedAt,
		w.BackendID,
		w.SyncStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to create workout: %w", err)
	}
	return nil
}

func (r *workoutRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Workout, error) {
	query := `SELECT ` + workoutColumns + ` FROM workouts WHERE id = ?`

	var w model.Workout
	if err := r.db.GetContext(ctx, &w, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("workout", err)
		}
		return nil, fmt.Errorf("failed to get workout: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *workoutRepository) FetchRange(ctx context.Context, userID uuid.UUID, filter repository.RangeFilter) ([]*model.Workout, error) {
	if err := checkFilter(filter); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + workoutColumns + `
		FROM workouts
		WHERE user_id = ? AND date >= ? AND date < ?
		ORDER BY date DESC
		LIMIT ?
	`
	var workouts []*model.Workout
	err := r.db.SelectContext(ctx, &workouts, query, userID, filter.From, filter.To, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch workouts: %w", err)
	}
	for _, w := range workouts {
		if err := w.Validate(); err != nil {
			return nil, err
		}
	}
	return workouts, nil
}

func (r *workoutRepository) ListDirty(ctx context.Context, userID uuid.UUID) ([]*model.Workout, error) {
	query := `
		SELECT ` + workoutColumns + `
		FROM workouts
		WHERE user_id = ? AND sync_status IN (?, ?)
		ORDER BY date DESC
		LIMIT 500
	`
	var workouts []*model.Workout
	err := r.db.SelectContext(ctx, &workouts, query, userID, model.SyncStatusPending, model.SyncStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty workouts: %w", err)
	}
	return workouts, nil
}

func (r *workoutRepository) MarkSynced(ctx context.Context, id uuid.UUID, backendID string) error {
	return markSynced(ctx, r.db, "workouts", id, backendID)
}

func (r *workoutRepository) MarkSyncFailed(ctx context.Context, id uuid.UUID) error {
	return markSyncFailed(ctx, r.db, "workouts", id)
}

