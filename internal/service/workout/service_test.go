package workout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
	"github.com/lumehealth/lume-sync/internal/repository/sqlite"
	apperrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
)

func newService(t *testing.T) (*Service, repository.OutboxRepository) {
	t.Helper()
	db, err := sqlite.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	base := sqlite.NewBaseRepository(db)
	outbox := sqlite.NewOutboxRepository(base)
	return NewService(&base, sqlite.NewWorkoutRepository(base), outbox, logger.Discard()), outbox
}

func TestSaveCreatesWorkoutAndEvent(t *testing.T) {
	svc, outbox := newService(t)
	userID := uuid.New()

	w, err := svc.Save(context.Background(), &SaveRequest{
		UserID:         userID,
		ActivityType:   "run",
		DurationMin:    42,
		CaloriesBurned: 380,
		Date:           time.Date(2026, 8, 31, 6, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "manual", w.Source)
	assert.Equal(t, model.SyncStatusPending, w.SyncStatus)

	active, err := outbox.ActiveEventForEntity(context.Background(), w.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, model.EventWorkout, active.EventType)

	decoded, err := active.DecodedMetadata()
	require.NoError(t, err)
	assert.Equal(t, model.WorkoutMetadata{ActivityType: "run", DurationMin: 42}, decoded)
}

func TestSaveKeepsImporterSource(t *testing.T) {
	svc, _ := newService(t)

	w, err := svc.Save(context.Background(), &SaveRequest{
		UserID:       uuid.New(),
		ActivityType: "cycling",
		DurationMin:  60,
		Source:       "healthkit",
	})
	require.NoError(t, err)
	assert.Equal(t, "healthkit", w.Source)
}

func TestSaveRejectsInvalidWorkout(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Save(context.Background(), &SaveRequest{
		UserID: uuid.New(), ActivityType: "", DurationMin: 30,
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))

	_, err = svc.Save(context.Background(), &SaveRequest{
		UserID: uuid.New(), ActivityType: "run", DurationMin: 0,
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))
}
