package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lumehealth/lume-sync/internal/model"
)

// OutboxRepository is the outbox log contract.
type OutboxRepository interface {
	// CreateEventTx appends a new event inside the caller's transaction.
	// A still-pending event for the same entity is superseded so that at
	// most one pending event per entity exists at any time. An event
	// created while another is processing queues behind it.
	CreateEventTx(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error

	GetByID(ctx context.Context, id uuid.UUID) (*model.OutboxEvent, error)

	// FetchPending returns pending events whose retry deadline has passed,
	// ordered by (priority asc, created_at asc).
	FetchPending(ctx context.Context, userID uuid.UUID, limit int) ([]*model.OutboxEvent, error)

	FetchByStatus(ctx context.Context, status model.OutboxStatus, userID uuid.UUID, limit int) ([]*model.OutboxEvent, error)

	// Claim transitions pending -> processing. Returns false when the
	// event was already claimed (or finished) by another worker, or when
	// another event for the same entity is still in flight.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)

	MarkCompleted(ctx context.Context, id uuid.UUID) error

	// MarkFailed records an attempt. The event reverts to pending with a
	// retry deadline while attempts remain, or becomes terminally failed
	// once attempt_count reaches max_attempts (or terminal is forced for
	// non-retryable errors). Reports whether the event is now terminal.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time, terminal bool) (bool, error)

	// ReclaimStale is the crash-recovery pass: processing events older
	// than the grace period go back to pending, unless a newer pending
	// event for the same entity already carries the work.
	ReclaimStale(ctx context.Context, grace time.Duration) (int64, error)

	// DeleteForEntities removes events for the given entity ids. Used
	// only by orphan cleanup.
	DeleteForEntities(ctx context.Context, entityIDs []uuid.UUID) (int64, error)

	CountByStatus(ctx context.Context, userID uuid.UUID) (map[model.OutboxStatus]int, error)

	// ActiveEventForEntity returns the pending or processing event for an
	// entity, or nil.
	ActiveEventForEntity(ctx context.Context, entityID uuid.UUID) (*model.OutboxEvent, error)
}
