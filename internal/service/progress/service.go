package progress

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

// SaveRequest is one metric sample from a producer (UI, HealthKit
// importer, nutrition parser).
type SaveRequest struct {
	UserID     uuid.UUID        `validate:"required"`
	MetricType model.MetricType `validate:"required"`
	Value      float64          `validate:"gt=0"`
	Unit       string
	Date       time.Time
	Priority   int
}

// Service owns progress-entry saves and reads, including the per-day
// aggregation/dedup policy for cumulative metrics.
type Service struct {
	store    repository.Store
	repo     repository.ProgressRepository
	outbox   repository.OutboxRepository
	validate *validator.Validate
	loc      *time.Location
	now      func() time.Time
	log      *logger.Logger
}

func NewService(store repository.Store, repo repository.ProgressRepository, outbox repository.OutboxRepository, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		repo:     repo,
		outbox:   outbox,
		validate: validator.New(),
		loc:      time.Local,
		now:      time.Now,
		log:      log,
	}
}

// WithLocation overrides the calendar used for day boundaries. Day
// boundaries follow the device calendar, not UTC.
func (s *Service) WithLocation(loc *time.Location) *Service {
	s.loc = loc
	return s
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Save persists a sample locally and queues its push. Cumulative metrics
// (water, steps, calories) add into the existing record for the same
// local calendar day; point metrics replace that day's measurement.
// Either way the day ends up with exactly one record.
func (s *Service) Save(ctx context.Context, req *SaveRequest) (*model.ProgressEntry, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validation("invalid progress sample", err)
	}
	if _, err := model.ParseMetricType(string(req.MetricType)); err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}

	date := req.Date
	if date.IsZero() {
		date = s.now()
	}
	date = date.In(s.loc)
	dayStart, dayEnd := dayBounds(date)

	var result *model.ProgressEntry
	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.repo.FindForDayTx(ctx, tx, req.UserID, req.MetricType, dayStart, dayEnd)
		if err != nil {
			return err
		}

		now := s.now()
		if existing != nil {
			if req.MetricType.Cumulative() {
				existing.Value += req.Value
			} else {
				existing.Value = req.Value
			}
			if req.Unit != "" {
				existing.Unit = req.Unit
			}
			// Same id, original date: the record absorbs the new
			// contribution and goes back in the push queue.
			existing.UpdatedAt = &now
			existing.BackendID = nil
			existing.SyncStatus = model.SyncStatusPending
			if err := s.repo.UpdateTx(ctx, tx, existing); err != nil {
				return err
			}
			result = existing
		} else {
			entry := &model.ProgressEntry{
				SyncRecord: model.SyncRecord{
					ID:         uuid.New(),
					UserID:     req.UserID,
					Date:       date,
					CreatedAt:  now,
					SyncStatus: model.SyncStatusPending,
				},
				MetricType: req.MetricType,
				Value:      req.Value,
				Unit:       req.Unit,
			}
			if err := s.repo.CreateTx(ctx, tx, entry); err != nil {
				return err
			}
			result = entry
		}

		metadata, err := model.EncodeMetadata(model.ProgressMetadata{
			MetricType: result.MetricType,
			Value:      result.Value,
			Unit:       result.Unit,
		})
		if err != nil {
			return err
		}
		return s.outbox.CreateEventTx(ctx, tx, &model.OutboxEvent{
			EventType:   model.EventProgressEntry,
			EntityID:    result.ID,
			UserID:      req.UserID,
			Metadata:    metadata,
			Priority:    req.Priority,
			IsNewRecord: result.BackendID == nil,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save progress sample: %w", err)
	}
	return result, nil
}

// BatchResult reports the outcome of one sample in a batch import.
type BatchResult struct {
	Request *SaveRequest
	Entry   *model.ProgressEntry
	Err     error
}

// SaveBatch saves independent samples from a bulk import. One sample's
// failure never aborts the others; the batch succeeds when at least one
// sample landed. Per-sample errors come back for the caller to inspect.
func (s *Service) SaveBatch(ctx context.Context, samples []*SaveRequest) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(samples))
	succeeded := 0
	for _, sample := range samples {
		entry, err := s.Save(ctx, sample)
		if err != nil {
			s.log.Error(err, "batch sample failed",
				"metric_type", string(sample.MetricType))
		} else {
			succeeded++
		}
		results = append(results, BatchResult{Request: sample, Entry: entry, Err: err})
	}
	if len(samples) > 0 && succeeded == 0 {
		return results, fmt.Errorf("all %d samples in batch failed", len(samples))
	}
	return results, nil
}

// TodayValue returns the current day's value for a metric, read straight
// off the single day record. Aggregation happened at write time, so the
// read never sums rows.
func (s *Service) TodayValue(ctx context.Context, userID uuid.UUID, metric model.MetricType) (float64, *model.ProgressEntry, error) {
	dayStart, dayEnd := dayBounds(s.now().In(s.loc))
	entry, err := s.repo.FindForDay(ctx, userID, metric, dayStart, dayEnd)
	if err != nil {
		return 0, nil, err
	}
	if entry == nil {
		return 0, nil, nil
	}
	return entry.Value, entry, nil
}

// FetchRecent reads a bounded local history window.
func (s *Service) FetchRecent(ctx context.Context, userID uuid.UUID, metric *model.MetricType, from, to time.Time, limit int) ([]*model.ProgressEntry, error) {
	return s.repo.FetchRange(ctx, userID, metric, repository.RangeFilter{From: from, To: to, Limit: limit})
}

func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
