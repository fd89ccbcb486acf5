package workout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
	apperrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
)

type SaveRequest struct {
	UserID         uuid.UUID `validate:"required"`
	ActivityType   string    `validate:"required,max=100"`
	DurationMin    int       `validate:"gt=0"`
	CaloriesBurned float64   `validate:"gte=0"`
	Source         string
	Date           time.Time
}

// Service owns workout saves and reads.
type Service struct {
	store    repository.Store
	repo     repository.WorkoutRepository
	outbox   repository.OutboxRepository
	validate *validator.Validate
	now      func() time.Time
	log      *logger.Logger
}

func NewService(store repository.Store, repo repository.WorkoutRepository, outbox repository.OutboxRepository, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		repo:     repo,
		outbox:   outbox,
		validate: validator.New(),
		now:      time.Now,
		log:      log,
	}
}

func (s *Service) Save(ctx context.Context, req *SaveRequest) (*model.Workout, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validation("invalid workout", err)
	}

	date := req.Date
	if date.IsZero() {
		date = s.now()
	}
	source := req.Source
	if source == "" {
		source = "manual"
	}

	w := &model.Workout{
		SyncRecord: model.SyncRecord{
			ID:         uuid.New(),
			UserID:     req.UserID,
			Date:       date,
			CreatedAt:  s.now(),
			SyncStatus: model.SyncStatusPending,
		},
		ActivityType:   req.ActivityType,
		DurationMin:    req.DurationMin,
		CaloriesBurned: req.CaloriesBurned,
		Source:         source,
	}

	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.CreateTx(ctx, tx, w); err != nil {
			return err
		}
		metadata, err := model.EncodeMetadata(model.WorkoutMetadata{
			ActivityType: w.ActivityType,
			DurationMin:  w.DurationMin,
		})
		if err != nil {
			return err
		}
		return s.outbox.CreateEventTx(ctx, tx, &model.OutboxEvent{
			EventType:   model.EventWorkout,
			EntityID:    w.ID,
			UserID:      req.UserID,
			Metadata:    metadata,
			IsNewRecord: true,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save workout: %w", err)
	}
	return w, nil
}

func (s *Service) FetchRecent(ctx context.Context, userID uuid.UUID, from, to time.Time, limit int) ([]*model.Workout, error) {
	return s.repo.FetchRange(ctx, userID, repository.RangeFilter{From: from, To: to, Limit: limit})
}
