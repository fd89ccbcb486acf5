package meal

import (
	"context"
	"testing"

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
	return NewService(&base, sqlite.NewMealRepository(base), outbox, logger.Discard()), outbox
}

func TestSaveDefaultsToManual(t *testing.T) {
	svc, outbox := newService(t)
	userID := uuid.New()

	m, err := svc.Save(context.Background(), &SaveRequest{
		UserID:   userID,
		Name:     "oatmeal",
		MealType: model.MealBreakfast,
		Calories: 320,
		ProteinG: 12,
	})
	require.NoError(t, err)
	assert.Equal(t, "manual", m.LoggedVia)

	active, err := outbox.ActiveEventForEntity(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 0, active.Priority)
}

func TestSaveImportedMealDeferred(t *testing.T) {
	svc, outbox := newService(t)

	m, err := svc.Save(context.Background(), &SaveRequest{
		UserID:    uuid.New(),
		Name:      "imported dinner",
		MealType:  model.MealDinner,
		Calories:  650,
		LoggedVia: "import",
	})
	require.NoError(t, err)

	active, err := outbox.ActiveEventForEntity(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, importPriority, active.Priority, "bulk imports queue behind interactive saves")
}

func TestImportedMealsDrainAfterInteractiveOnes(t *testing.T) {
	svc, outbox := newService(t)
	userID := uuid.New()

	imported, err := svc.Save(context.Background(), &SaveRequest{
		UserID: userID, Name: "import 1", MealType: model.MealLunch, LoggedVia: "import",
	})
	require.NoError(t, err)
	interactive, err := svc.Save(context.Background(), &SaveRequest{
		UserID: userID, Name: "fresh snack", MealType: model.MealSnack,
	})
	require.NoError(t, err)

	events, err := outbox.FetchPending(context.Background(), userID, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, interactive.ID, events[0].EntityID)
	assert.Equal(t, imported.ID, events[1].EntityID)
}

func TestSaveRejectsInvalidMeal(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Save(context.Background(), &SaveRequest{
		UserID: uuid.New(), Name: "", MealType: model.MealLunch,
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))

	_, err = svc.Save(context.Background(), &SaveRequest{
		UserID: uuid.New(), Name: "mystery", MealType: "brunch",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))

	_, err = svc.Save(context.Background(), &SaveRequest{
		UserID: uuid.New(), Name: "negative", MealType: model.MealSnack, Calories: -10,
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))
}
