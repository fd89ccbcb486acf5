package meal

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

// importPriority pushes bulk-imported meals behind interactive saves.
const importPriority = 10

type SaveRequest struct {
	UserID    uuid.UUID      `validate:"required"`
	Name      string         `validate:"required,max=200"`
	MealType  model.MealType `validate:"required"`
	Calories  float64        `validate:"gte=0"`
	ProteinG  float64        `validate:"gte=0"`
	CarbsG    float64        `validate:"gte=0"`
	FatG      float64        `validate:"gte=0"`
	LoggedVia string
	Date      time.Time
}

// Service owns meal saves and reads.
type Service struct {
	store    repository.Store
	repo     repository.MealRepository
	outbox   repository.OutboxRepository
	validate *validator.Validate
	now      func() time.Time
	log      *logger.Logger
}

func NewService(store repository.Store, repo repository.MealRepository, outbox repository.OutboxRepository, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		repo:     repo,
		outbox:   outbox,
		validate: validator.New(),
		now:      time.Now,
		log:      log,
	}
}

func (s *Service) Save(ctx context.Context, req *SaveRequest) (*model.Meal, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validation("invalid meal", err)
	}
	if _, err := model.ParseMealType(string(req.MealType)); err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}

	date := req.Date
	if date.IsZero() {
		date = s.now()
	}
	loggedVia := req.LoggedVia
	if loggedVia == "" {
		loggedVia = "manual"
	}
	priority := 0
	if loggedVia == "import" {
		priority = importPriority
	}

	m := &model.Meal{
		SyncRecord: model.SyncRecord{
			ID:         uuid.New(),
			UserID:     req.UserID,
			Date:       date,
			CreatedAt:  s.now(),
			SyncStatus: model.SyncStatusPending,
		},
		Name:      req.Name,
		MealType:  req.MealType,
		Calories:  req.Calories,
		ProteinG:  req.ProteinG,
		CarbsG:    req.CarbsG,
		FatG:      req.FatG,
		LoggedVia: loggedVia,
	}

	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.CreateTx(ctx, tx, m); err != nil {
			return err
		}
		metadata, err := model.EncodeMetadata(model.MealMetadata{
			Name:     m.Name,
			MealType: m.MealType,
		})
		if err != nil {
			return err
		}
		return s.outbox.CreateEventTx(ctx, tx, &model.OutboxEvent{
			EventType:   model.EventMeal,
			EntityID:    m.ID,
			UserID:      req.UserID,
			Metadata:    metadata,
			Priority:    priority,
			IsNewRecord: true,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save meal: %w", err)
	}
	return m, nil
}

func (s *Service) FetchRecent(ctx context.Context, userID uuid.UUID, from, to time.Time, limit int) ([]*model.Meal, error) {
	return s.repo.FetchRange(ctx, userID, repository.RangeFilter{From: from, To: to, Limit: limit})
}
