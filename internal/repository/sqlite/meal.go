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

const mealColumns = `id, user_id, name, meal_type, calories, protein_g, carbs_g, fat_g, logged_via, date, created_at, updated_at, backend_id, sync_status`

type mealRepository struct {
	BaseRepository
}

func NewMealRepository(base BaseRepository) repository.MealRepository {
	return &mealRepository{base}
}

func (r *mealRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, m *model.Meal) error {
	query := `
		INSERT INTO meals (
			id, user_id, name, meal_type, calories, protein_g, carbs_g, fat_g,
			logged_via, date, created_at, updated_at, backend_id, sync_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		m.ID,
		m.UserID,
		m.Name,
		m.MealType,
		m.Calories,
		m.ProteinG,
		m.CarbsG,
		m.FatG,
		m.LoggedVia,
		m.Date,
		m.CreatedAt,
		m.UpdatedAt,
		m.BackendID,
		m.SyncStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to create meal: %w", err)
	}
	return nil
}

func (r *mealRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Meal, error) {
	query := `SELECT ` + mealColumns + ` FROM meals WHERE id = ?`

	var m model.Meal
	if err := r.db.GetContext(ctx, &m, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("meal", err)
		}
		return nil, fmt.Errorf("failed to get meal: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *mealRepository) FetchRange(ctx context.Context, userID uuid.UUID, filter repository.RangeFilter) ([]*model.Meal, error) {
	if err := checkFilter(filter); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + mealColumns + `
		FROM meals
		WHERE user_id = ? AND date >= ? AND date < ?
		ORDER BY date DESC
		LIMIT ?
	`
	var meals []*model.Meal
	err := r.db.SelectContext(ctx, &meals, query, userID, filter.From, filter.To, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch meals: %w", err)
	}
	for _, m := range meals {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	return meals, nil
}

func (r *mealRepository) ListDirty(ctx context.Context, userID uuid.UUID) ([]*model.Meal, error) {
	query := `
		SELECT ` + mealColumns + `
		FROM meals
		WHERE user_id = ? AND sync_status IN (?, ?)
		ORDER BY date DESC
		LIMIT 500
	`
	var meals []*model.Meal
	err := r.db.SelectContext(ctx, &meals, query, userID, model.SyncStatusPending, model.SyncStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty meals: %w", err)
	}
	return meals, nil
}

func (r *mealRepository) MarkSynced(ctx context.Context, id uuid.UUID, backendID string) error {
	return markSynced(ctx, r.db, "meals", id, backendID)
}

func (r *mealRepository) MarkSyncFailed(ctx context.Context, id uuid.UUID) error {
	return markSyncFailed(ctx, r.db, "meals", id)
}

