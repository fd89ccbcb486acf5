package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lumehealth/lume-sync/internal/model"
)

// DirtyRecord identifies a dirty entity record during an audit.
type DirtyRecord struct {
	Kind     model.EventType
	EntityID uuid.UUID
}

// InconsistentRecord is a record whose flags contradict the store
// invariant (synced without a backend id). Always a bug signal.
type InconsistentRecord struct {
	Kind     model.EventType
	EntityID uuid.UUID
}

// AuditRepository serves the consistency auditor's read-only
// cross-store queries. The entity stores and the outbox log share one
// database file, so the cross-referencing happens in SQL.
type AuditRepository interface {
	// OrphanedEvents returns non-completed events whose entity no longer
	// exists in its store.
	OrphanedEvents(ctx context.Context, userID uuid.UUID) ([]*model.OutboxEvent, error)

	// MissingEvents returns dirty records with no pending or processing
	// event attached.
	MissingEvents(ctx context.Context, userID uuid.UUID) ([]DirtyRecord, error)

	// StuckEvents returns pending events older than maxAge.
	StuckEvents(ctx context.Context, userID uuid.UUID, maxAge time.Duration) ([]*model.OutboxEvent, error)

	// InconsistentRecords returns records with sync_status synced but no
	// backend id.
	InconsistentRecords(ctx context.Context, userID uuid.UUID) ([]InconsistentRecord, error)

	// SyncedBackendIDs returns backend ids of synced progress entries in
	// the window, for remote divergence checks.
	SyncedBackendIDs(ctx context.Context, userID uuid.UUID, from, to time.Time) (map[string]uuid.UUID, error)
}
