package mood

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
	return NewService(&base, sqlite.NewMoodRepository(base), outbox, logger.Discard()), outbox
}

func TestSaveCreatesEntryAndEvent(t *testing.T) {
	svc, outbox := newService(t)
	userID := uuid.New()

	entry, err := svc.Save(context.Background(), &SaveRequest{
		UserID: userID,
		Score:  7,
		Note:   "solid day",
		Date:   time.Date(2026, 8, 31, 21, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusPending, entry.SyncStatus)

	active, err := outbox.ActiveEventForEntity(context.Background(), entry.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, model.EventMoodEntry, active.EventType)

	decoded, err := active.DecodedMetadata()
	require.NoError(t, err)
	assert.Equal(t, model.MoodMetadata{Score: 7}, decoded)
}

func TestSaveRejectsScoreOutOfRange(t *testing.T) {
	svc, _ := newService(t)

	for _, score := range []int{0, 11, -3} {
		_, err := svc.Save(context.Background(), &SaveRequest{UserID: uuid.New(), Score: score})
		require.Error(t, err, "score %d", score)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))
	}
}

func TestRepeatedCheckInsAppend(t *testing.T) {
	svc, _ := newService(t)
	userID := uuid.New()
	day := time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC)

	morning, err := svc.Save(context.Background(), &SaveRequest{UserID: userID, Score: 4, Date: day})
	require.NoError(t, err)
	evening, err := svc.Save(context.Background(), &SaveRequest{UserID: userID, Score: 8, Date: day.Add(12 * time.Hour)})
	require.NoError(t, err)

	assert.NotEqual(t, morning.ID, evening.ID, "mood entries never aggregate")

	entries, err := svc.FetchRecent(context.Background(), userID, day.Add(-time.Hour), day.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
