package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lumehealth/lume-sync/internal/model"
)

// Store exposes the transaction boundary shared by the entity stores and
// the outbox log. An entity write and its outbox event are created inside
// one WithTx closure; that is the whole point of the outbox pattern.
type Store interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// RangeFilter bounds a date-indexed read. Callers must pass explicit
// bounds and a limit; the stores refuse full-table scans.
type RangeFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}

// ProgressRepository is the entity store for body-metric samples.
type ProgressRepository interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, entry *model.ProgressEntry) error
	UpdateTx(ctx context.Context, tx *sqlx.Tx, entry *model.ProgressEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ProgressEntry, error)
	// FindForDay returns the single record for (user, metric, day window),
	// or nil when the day has no record yet. The Tx variant exists so the
	// read-modify-write of the aggregation policy stays inside one
	// transaction.
	FindForDay(ctx context.Context, userID uuid.UUID, metric model.MetricType, dayStart, dayEnd time.Time) (*model.ProgressEntry, error)
	FindForDayTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, metric model.MetricType, dayStart, dayEnd time.Time) (*model.ProgressEntry, error)
	FetchRange(ctx context.Context, userID uuid.UUID, metric *model.MetricType, filter RangeFilter) ([]*model.ProgressEntry, error)
	ListDirty(ctx context.Context, userID uuid.UUID) ([]*model.ProgressEntry, error)
	MarkSynced(ctx context.Context, id uuid.UUID, backendID string) error
	MarkSyncFailed(ctx context.Context, id uuid.UUID) error
}

// MoodRepository is the entity store for mood check-ins.
type MoodRepository interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, entry *model.MoodEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.MoodEntry, error)
	FetchRange(ctx context.Context, userID uuid.UUID, filter RangeFilter) ([]*model.MoodEntry, error)
	ListDirty(ctx context.Context, userID uuid.UUID) ([]*model.MoodEntry, error)
	MarkSynced(ctx context.Context, id uuid.UUID, backendID string) error
	MarkSyncFailed(ctx context.Context, id uuid.UUID) error
}

// WorkoutRepository is the entity store for workouts.
type WorkoutRepository interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, w *model.Workout) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Workout, error)
	FetchRange(ctx context.Context, userID uuid.UUID, filter RangeFilter) ([]*model.Workout, error)
	ListDirty(ctx context.Context, userID uuid.UUID) ([]*model.Workout, error)
	MarkSynced(ctx context.Context, id uuid.UUID, backendID string) error
	MarkSyncFailed(ctx context.Context, id uuid.UUID) error
}

// MealRepository is the entity store for meals.
type MealRepository interface {
	CreateTx(ctx context.Context, tx *sqlx.Tx, m *model.Meal) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Meal, error)
	FetchRange(ctx context.Context, userID uuid.UUID, filter RangeFilter) ([]*model.Meal, error)
	ListDirty(ctx context.Context, userID uuid.UUID) ([]*model.Meal, error)
	MarkSynced(ctx context.Context, id uuid.UUID, backendID string) error
	MarkSyncFailed(ctx context.Context, id uuid.UUID) error
}
