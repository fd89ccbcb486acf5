package progress

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

type fixture struct {
	svc    *Service
	repo   repository.ProgressRepository
	outbox repository.OutboxRepository
	userID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	base := sqlite.NewBaseRepository(db)
	repo := sqlite.NewProgressRepository(base)
	outbox := sqlite.NewOutboxRepository(base)
	svc := NewService(&base, repo, outbox, logger.Discard()).WithLocation(time.UTC)

	return &fixture{svc: svc, repo: repo, outbox: outbox, userID: uuid.New()}
}

func TestSaveCumulativeAggregatesIntoOneRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	first, err := f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWater, Value: 0.5, Unit: "l", Date: day,
	})
	require.NoError(t, err)

	_, err = f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWater, Value: 0.75, Unit: "l", Date: day.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	third, err := f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWater, Value: 0.5, Unit: "l", Date: day.Add(5 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, third.ID, "the day keeps a single record")
	assert.InDelta(t, 1.75, third.Value, 1e-9)

	entries, err := f.svc.FetchRecent(ctx, f.userID, nil, day.Add(-time.Hour), day.Add(24*time.Hour), 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 1.75, entries[0].Value, 1e-9)
	require.NotNil(t, entries[0].UpdatedAt)
}

func TestSavePointMetricReplaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 31, 7, 0, 0, 0, time.UTC)

	morning, err := f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWeight, Value: 82.4, Unit: "kg", Date: day,
	})
	require.NoError(t, err)

	evening, err := f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWeight, Value: 81.9, Unit: "kg", Date: day.Add(12 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, morning.ID, evening.ID)
	assert.InDelta(t, 81.9, evening.Value, 1e-9, "point metrics replace, never add")
}

func TestSaveDayBoundaryStartsNewRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	beforeMidnight := time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)
	afterMidnight := time.Date(2026, 8, 31, 0, 1, 0, 0, time.UTC)

	a, err := f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricSteps, Value: 400, Date: beforeMidnight,
	})
	require.NoError(t, err)

	b, err := f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricSteps, Value: 300, Date: afterMidnight,
	})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID, "a new local day gets a new record")
	assert.InDelta(t, 400, a.Value, 1e-9)
	assert.InDelta(t, 300, b.Value, 1e-9)
}

func TestSaveSeparatesMetricsAndUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	water, err := f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWater, Value: 1, Unit: "l", Date: day,
	})
	require.NoError(t, err)

	steps, err := f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricSteps, Value: 2000, Date: day,
	})
	require.NoError(t, err)
	assert.NotEqual(t, water.ID, steps.ID)

	otherUser, err := f.svc.Save(ctx, &SaveRequest{
		UserID: uuid.New(), MetricType: model.MetricWater, Value: 1, Unit: "l", Date: day,
	})
	require.NoError(t, err)
	assert.NotEqual(t, water.ID, otherUser.ID)
	assert.InDelta(t, 1, otherUser.Value, 1e-9)
}

func TestSaveQueuesOneActiveEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	entry, err := f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWater, Value: 0.5, Unit: "l", Date: day,
	})
	require.NoError(t, err)

	_, err = f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWater, Value: 0.5, Unit: "l", Date: day.Add(time.Hour),
	})
	require.NoError(t, err)

	counts, err := f.outbox.CountByStatus(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.OutboxStatusPending], "repeat saves supersede, never stack")

	active, err := f.outbox.ActiveEventForEntity(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, model.EventProgressEntry, active.EventType)
}

func TestSaveUpdatedEntryGoesBackToPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	entry, err := f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWater, Value: 0.5, Unit: "l", Date: day,
	})
	require.NoError(t, err)

	require.NoError(t, f.repo.MarkSynced(ctx, entry.ID, "backend-123"))

	updated, err := f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWater, Value: 0.25, Unit: "l", Date: day.Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, model.SyncStatusPending, updated.SyncStatus)
	assert.Nil(t, updated.BackendID, "a changed record must be pushed again")
}

func TestSaveDuringInFlightPushStaysQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	entry, err := f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWater, Value: 0.5, Unit: "l", Date: day,
	})
	require.NoError(t, err)

	// The processor picks up the event and starts pushing 0.5.
	inFlight, err := f.outbox.ActiveEventForEntity(ctx, entry.ID)
	require.NoError(t, err)
	claimed, err := f.outbox.Claim(ctx, inFlight.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	// A second glass is logged while that push is on the wire.
	_, err = f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWater, Value: 0.75, Unit: "l", Date: day.Add(time.Hour),
	})
	require.NoError(t, err)

	// The stale push lands: event completed, record marked synced.
	require.NoError(t, f.outbox.MarkCompleted(ctx, inFlight.ID))
	require.NoError(t, f.repo.MarkSynced(ctx, entry.ID, "backend-9"))

	counts, err := f.outbox.CountByStatus(ctx, f.userID)
	require.NoError(t, err)
	require.Equal(t, 1, counts[model.OutboxStatusPending], "the newer value still has its own event")

	queued, err := f.outbox.ActiveEventForEntity(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, queued)
	claimed, err = f.outbox.Claim(ctx, queued.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	got, err := f.repo.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, got.Value, 1e-9, "the aggregate survives the stale push")
	require.NotNil(t, got.BackendID)
	assert.Equal(t, "backend-9", *got.BackendID, "the next push updates the backend record in place")
}

func TestSaveRejectsInvalidSamples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWater, Value: 0,
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))

	_, err = f.svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: "heart_rate", Value: 70,
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))

	counts, err := f.outbox.CountByStatus(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, counts, "rejected samples leave no trace")
}

func TestSaveBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	results, err := f.svc.SaveBatch(ctx, []*SaveRequest{
		{UserID: f.userID, MetricType: model.MetricSteps, Value: 1000, Date: day},
		{UserID: f.userID, MetricType: "nonsense", Value: 10, Date: day},
		{UserID: f.userID, MetricType: model.MetricSteps, Value: 500, Date: day},
	})
	require.NoError(t, err, "one bad sample must not sink the batch")
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)

	value, _, err := f.svc.WithClock(func() time.Time { return day }).TodayValue(ctx, f.userID, model.MetricSteps)
	require.NoError(t, err)
	assert.InDelta(t, 1500, value, 1e-9)
}

func TestSaveBatchAllFailed(t *testing.T) {
	f := newFixture(t)

	results, err := f.svc.SaveBatch(context.Background(), []*SaveRequest{
		{UserID: f.userID, MetricType: "bogus", Value: 1},
	})
	require.Error(t, err)
	require.Len(t, results, 1)
}

func TestTodayValueReadsSingleRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)
	svc := f.svc.WithClock(func() time.Time { return now })

	value, entry, err := svc.TodayValue(ctx, f.userID, model.MetricWater)
	require.NoError(t, err)
	assert.Zero(t, value)
	assert.Nil(t, entry)

	_, err = svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWater, Value: 0.5, Unit: "l", Date: now,
	})
	require.NoError(t, err)
	_, err = svc.Save(ctx, &SaveRequest{
		UserID: f.userID, MetricType: model.MetricWater, Value: 1.0, Unit: "l", Date: now,
	})
	require.NoError(t, err)

	value, entry, err = svc.TodayValue(ctx, f.userID, model.MetricWater)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.InDelta(t, 1.5, value, 1e-9)
}
