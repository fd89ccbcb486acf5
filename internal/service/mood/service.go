package mood

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
	UserID uuid.UUID `validate:"required"`
	Score  int       `validate:"min=1,max=10"`
	Note   string    `validate:"max=2000"`
	Date   time.Time
}

// Service owns mood check-in saves and reads.
type Service struct {
	store    repository.Store
	repo     repository.MoodRepository
	outbox   repository.OutboxRepository
	validate *validator.Validate
	now      func() time.Time
	log      *logger.Logger
}

func NewService(store repository.Store, repo repository.MoodRepository, outbox repository.OutboxRepository, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		repo:     repo,
		outbox:   outbox,
		validate: validator.New(),
		now:      time.Now,
		log:      log,
	}
}

func (s *Service) Save(ctx context.Context, req *SaveRequest) (*model.MoodEntry, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validation("invalid mood entry", err)
	}

	date := req.Date
	if date.IsZero() {
		date = s.now()
	}

	entry := &model.MoodEntry{
		SyncRecord: model.SyncRecord{
			ID:         uuid.New(),
			UserID:     req.UserID,
			Date:       date,
			CreatedAt:  s.now(),
			SyncStatus: model.SyncStatusPending,
		},
		Score: req.Score,
		Note:  req.Note,
	}

	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.CreateTx(ctx, tx, entry); err != nil {
			return err
		}
		metadata, err := model.EncodeMetadata(model.MoodMetadata{Score: entry.Score})
		if err != nil {
			return err
		}
		return s.outbox.CreateEventTx(ctx, tx, &model.OutboxEvent{
			EventType:   model.EventMoodEntry,
			EntityID:    entry.ID,
			UserID:      req.UserID,
			Metadata:    metadata,
			IsNewRecord: true,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save mood entry: %w", err)
	}
	return entry, nil
}

func (s *Service) FetchRecent(ctx context.Context, userID uuid.UUID, from, to time.Time, limit int) ([]*model.MoodEntry, error) {
	return s.repo.FetchRange(ctx, userID, repository.RangeFilter{From: from, To: to, Limit: limit})
}
