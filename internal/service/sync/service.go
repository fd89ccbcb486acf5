package sync

import (
	"context"
	"fmt"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
	apperrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/remote"
)

// Pusher is the slice of the remote client the dispatcher needs.
type Pusher interface {
	CreateProgressEntry(ctx context.Context, dto *remote.ProgressEntryDTO) (*remote.ProgressEntryDTO, error)
	UpdateProgressEntry(ctx context.Context, backendID string, dto *remote.ProgressEntryDTO) (*remote.ProgressEntryDTO, error)
	CreateMoodEntry(ctx context.Context, dto *remote.MoodEntryDTO) (*remote.MoodEntryDTO, error)
	UpdateMoodEntry(ctx context.Context, backendID string, dto *remote.MoodEntryDTO) (*remote.MoodEntryDTO, error)
	CreateWorkout(ctx context.Context, dto *remote.WorkoutDTO) (*remote.WorkoutDTO, error)
	UpdateWorkout(ctx context.Context, backendID string, dto *remote.WorkoutDTO) (*remote.WorkoutDTO, error)
	CreateMeal(ctx context.Context, dto *remote.MealDTO) (*remote.MealDTO, error)
	UpdateMeal(ctx context.Context, backendID string, dto *remote.MealDTO) (*remote.MealDTO, error)
}

// Service turns one outbox event into one remote push. The entity is
// re-read at push time so the freshest local state goes over the wire,
// and marked synced once the backend acknowledges.
type Service struct {
	progress repository.ProgressRepository
	moods    repository.MoodRepository
	workouts repository.WorkoutRepository
	meals    repository.MealRepository
	pusher   Pusher
	log      *logger.Logger
}

func NewService(
	progress repository.ProgressRepository,
	moods repository.MoodRepository,
	workouts repository.WorkoutRepository,
	meals repository.MealRepository,
	pusher Pusher,
	log *logger.Logger,
) *Service {
	return &Service{
		progress: progress,
		moods:    moods,
		workouts: workouts,
		meals:    meals,
		pusher:   pusher,
		log:      log,
	}
}

// Dispatch pushes the entity behind the event. A missing entity is a
// non-retryable failure; the auditor reports it as an orphaned event.
func (s *Service) Dispatch(ctx context.Context, event *model.OutboxEvent) error {
	switch event.EventType {
	case model.EventProgressEntry:
		return s.pushProgress(ctx, event)
	case model.EventMoodEntry:
		return s.pushMood(ctx, event)
	case model.EventWorkout:
		return s.pushWorkout(ctx, event)
	case model.EventMeal:
		return s.pushMeal(ctx, event)
	default:
		return apperrors.UnknownEventType(string(event.EventType))
	}
}

// MarkEntityFailed flags the entity after its event fails terminally, so
// the sync-status indicator can surface it.
func (s *Service) MarkEntityFailed(ctx context.Context, event *model.OutboxEvent) error {
	switch event.EventType {
	case model.EventProgressEntry:
		return s.progress.MarkSyncFailed(ctx, event.EntityID)
	case model.EventMoodEntry:
		return s.moods.MarkSyncFailed(ctx, event.EntityID)
	case model.EventWorkout:
		return s.workouts.MarkSyncFailed(ctx, event.EntityID)
	case model.EventMeal:
		return s.meals.MarkSyncFailed(ctx, event.EntityID)
	default:
		return apperrors.UnknownEventType(string(event.EventType))
	}
}

func (s *Service) pushProgress(ctx context.Context, event *model.OutboxEvent) error {
	entry, err := s.progress.GetByID(ctx, event.EntityID)
	if err != nil {
		return err
	}

	dto := remote.NewProgressEntryDTO(entry)
	var resp *remote.ProgressEntryDTO
	if entry.BackendID == nil {
		resp, err = s.pusher.CreateProgressEntry(ctx, dto)
	} else {
		resp, err = s.pusher.UpdateProgressEntry(ctx, *entry.BackendID, dto)
	}
	if err != nil {
		return err
	}

	backendID := backendIDFrom(resp.ID, entry.BackendID)
	if backendID == "" {
		return fmt.Errorf("backend acknowledged progress entry without an id")
	}
	return s.progress.MarkSynced(ctx, entry.ID, backendID)
}

func (s *Service) pushMood(ctx context.Context, event *model.OutboxEvent) error {
	entry, err := s.moods.GetByID(ctx, event.EntityID)
	if err != nil {
		return err
	}

	dto := remote.NewMoodEntryDTO(entry)
	var resp *remote.MoodEntryDTO
	if entry.BackendID == nil {
		resp, err = s.pusher.CreateMoodEntry(ctx, dto)
	} else {
		resp, err = s.pusher.UpdateMoodEntry(ctx, *entry.BackendID, dto)
	}
	if err != nil {
		return err
	}

	backendID := backendIDFrom(resp.ID, entry.BackendID)
	if backendID == "" {
		return fmt.Errorf("backend acknowledged mood entry without an id")
	}
	return s.moods.MarkSynced(ctx, entry.ID, backendID)
}

func (s *Service) pushWorkout(ctx context.Context, event *model.OutboxEvent) error {
	w, err := s.workouts.GetByID(ctx, event.EntityID)
	if err != nil {
		return err
	}

	dto := remote.NewWorkoutDTO(w)
	var resp *remote.WorkoutDTO
	if w.BackendID == nil {
		resp, err = s.pusher.CreateWorkout(ctx, dto)
	} else {
		resp, err = s.pusher.UpdateWorkout(ctx, *w.BackendID, dto)
	}
	if err != nil {
		return err
	}

	backendID := backendIDFrom(resp.ID, w.BackendID)
	if backendID == "" {
		return fmt.Errorf("backend acknowledged workout without an id")
	}
	return s.workouts.MarkSynced(ctx, w.ID, backendID)
}

func (s *Service) pushMeal(ctx context.Context, event *model.OutboxEvent) error {
	m, err := s.meals.GetByID(ctx, event.EntityID)
	if err != nil {
		return err
	}

	dto := remote.NewMealDTO(m)
	var resp *remote.MealDTO
	if m.BackendID == nil {
		resp, err = s.pusher.CreateMeal(ctx, dto)
	} else {
		resp, err = s.pusher.UpdateMeal(ctx, *m.BackendID, dto)
	}
	if err != nil {
		return err
	}

	backendID := backendIDFrom(resp.ID, m.BackendID)
	if backendID == "" {
		return fmt.Errorf("backend acknowledged meal without an id")
	}
	return s.meals.MarkSynced(ctx, m.ID, backendID)
}

func backendIDFrom(respID string, existing *string) string {
	if respID != "" {
		return respID
	}
	if existing != nil {
		return *existing
	}
	return ""
}
