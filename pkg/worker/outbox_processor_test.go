package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
	"github.com/lumehealth/lume-sync/internal/repository/sqlite"
	apperrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/metrics"
)

type fakeDispatcher struct {
	mu             sync.Mutex
	dispatched     []uuid.UUID
	failedEntities []uuid.UUID
	dispatch       func(ctx context.Context, event *model.OutboxEvent) error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, event *model.OutboxEvent) error {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, event.ID)
	f.mu.Unlock()
	if f.dispatch != nil {
		return f.dispatch(ctx, event)
	}
	return nil
}

func (f *fakeDispatcher) MarkEntityFailed(_ context.Context, event *model.OutboxEvent) error {
	f.mu.Lock()
	f.failedEntities = append(f.failedEntities, event.EntityID)
	f.mu.Unlock()
	return nil
}

type fixture struct {
	repo       repository.OutboxRepository
	base       sqlite.BaseRepository
	dispatcher *fakeDispatcher
	processor  *OutboxProcessor
	userID     uuid.UUID
}

func newFixture(t *testing.T, cfg OutboxProcessorConfig) *fixture {
	t.Helper()
	db, err := sqlite.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	base := sqlite.NewBaseRepository(db)
	repo := sqlite.NewOutboxRepository(base)
	dispatcher := &fakeDispatcher{}
	userID := uuid.New()
	cfg.UserID = userID
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 1000
	}

	return &fixture{
		repo:       repo,
		base:       base,
		dispatcher: dispatcher,
		processor:  NewOutboxProcessor(repo, dispatcher, cfg, logger.Discard(), metrics.New("test")),
		userID:     userID,
	}
}

func (f *fixture) appendEvent(t *testing.T, maxAttempts int) *model.OutboxEvent {
	t.Helper()
	event := &model.OutboxEvent{
		EventType:   model.EventProgressEntry,
		EntityID:    uuid.New(),
		UserID:      f.userID,
		MaxAttempts: maxAttempts,
	}
	err := f.base.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return f.repo.CreateEventTx(context.Background(), tx, event)
	})
	require.NoError(t, err)
	return event
}

func (f *fixture) eventStatus(t *testing.T, id uuid.UUID) *model.OutboxEvent {
	t.Helper()
	got, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestProcessOnceCompletesEvents(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{})
	a := f.appendEvent(t, 5)
	b := f.appendEvent(t, 5)

	require.NoError(t, f.processor.ProcessOnce(context.Background()))

	assert.Len(t, f.dispatcher.dispatched, 2)
	assert.Equal(t, model.OutboxStatusCompleted, f.eventStatus(t, a.ID).Status)
	assert.Equal(t, model.OutboxStatusCompleted, f.eventStatus(t, b.ID).Status)
}

func TestProcessOnceRetryableFailure(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{})
	f.dispatcher.dispatch = func(context.Context, *model.OutboxEvent) error {
		return apperrors.Unavailable("backend down", nil)
	}
	event := f.appendEvent(t, 5)

	require.NoError(t, f.processor.ProcessOnce(context.Background()))

	got := f.eventStatus(t, event.ID)
	assert.Equal(t, model.OutboxStatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	require.NotNil(t, got.RetryAt)
	assert.True(t, got.RetryAt.After(time.Now()), "retry deadline must be in the future")
	assert.Empty(t, f.dispatcher.failedEntities)
}

func TestProcessOnceTerminalFailure(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{})
	f.dispatcher.dispatch = func(context.Context, *model.OutboxEvent) error {
		return apperrors.Validation("backend rejected payload", nil)
	}
	event := f.appendEvent(t, 5)

	require.NoError(t, f.processor.ProcessOnce(context.Background()))

	got := f.eventStatus(t, event.ID)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount, "non-retryable errors never burn further attempts")
	assert.Equal(t, []uuid.UUID{event.EntityID}, f.dispatcher.failedEntities)
}

func TestProcessOnceExhaustsAttempts(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{RetryBaseDelay: time.Nanosecond, RetryMaxDelay: time.Nanosecond})
	f.dispatcher.dispatch = func(context.Context, *model.OutboxEvent) error {
		return apperrors.Unavailable("backend down", nil)
	}
	event := f.appendEvent(t, 2)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.processor.ProcessOnce(context.Background()))
		time.Sleep(2 * time.Millisecond)
	}

	got := f.eventStatus(t, event.ID)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, []uuid.UUID{event.EntityID}, f.dispatcher.failedEntities)
}

func TestProcessOnceSkipsAlreadyClaimed(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{})
	event := f.appendEvent(t, 5)

	claimed, err := f.repo.Claim(context.Background(), event.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, f.processor.ProcessOnce(context.Background()))
	assert.Empty(t, f.dispatcher.dispatched, "an event claimed elsewhere is not ours to push")
}

func TestShutdownLeavesEventProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, OutboxProcessorConfig{})
	f.dispatcher.dispatch = func(dctx context.Context, _ *model.OutboxEvent) error {
		cancel()
		<-dctx.Done()
		return dctx.Err()
	}
	event := f.appendEvent(t, 5)

	_ = f.processor.ProcessOnce(ctx)

	// No attempt is recorded on shutdown; the reclaim pass will return
	// the event to pending after the grace period.
	got := f.eventStatus(t, event.ID)
	assert.Equal(t, model.OutboxStatusProcessing, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
}

func TestReclaimOnNextCycle(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{ReclaimGrace: time.Minute})
	event := f.appendEvent(t, 5)

	claimed, err := f.repo.Claim(context.Background(), event.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	stale := time.Now().Add(-time.Hour)
	_, err = f.base.GetDB().Exec(`UPDATE outbox_events SET last_attempt_at = ? WHERE id = ?`, stale, event.ID)
	require.NoError(t, err)

	require.NoError(t, f.processor.ProcessOnce(context.Background()))

	assert.Equal(t, model.OutboxStatusCompleted, f.eventStatus(t, event.ID).Status,
		"a reclaimed event is pushed in the same cycle")
}

func TestRetryDelayGrows(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  time.Minute,
	})

	first := f.processor.retryDelay(0)
	assert.Greater(t, first, time.Duration(0))
	assert.LessOrEqual(t, first, 2*time.Second)

	deep := f.processor.retryDelay(20)
	assert.LessOrEqual(t, deep, 2*time.Minute, "backoff caps at the configured maximum")
	assert.Greater(t, deep, first)
}

func TestRetryDelayHonorsConfiguredBase(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  10 * time.Millisecond,
	})

	first := f.processor.retryDelay(0)
	assert.LessOrEqual(t, first, 2*time.Millisecond,
		"the first interval comes from the configured base, not the library default")
}

func TestStartStopsOnCancel(t *testing.T) {
	f := newFixture(t, OutboxProcessorConfig{PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.processor.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("processor did not stop after cancellation")
	}
}
