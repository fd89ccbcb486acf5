package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
)

// entityTables maps event kinds onto their store tables. The audit
// queries are the one place allowed to cross the store boundary, and
// only for reads.
var entityTables = map[model.EventType]string{
	model.EventProgressEntry: "progress_entries",
	model.EventMoodEntry:     "mood_entries",
	model.EventWorkout:       "workouts",
	model.EventMeal:          "meals",
}

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

func (r *auditRepository) OrphanedEvents(ctx context.Context, userID uuid.UUID) ([]*model.OutboxEvent, error) {
	var orphans []*model.OutboxEvent
	for kind, table := range entityTables {
		query := `
			SELECT ` + outboxColumns + `
			FROM outbox_events
			WHERE user_id = ? AND event_type = ? AND status != ?
			AND entity_id NOT IN (SELECT id FROM ` + table + `)
		`
		var events []*model.OutboxEvent
		err := r.db.SelectContext(ctx, &events, query, userID, kind, model.OutboxStatusCompleted)
		if err != nil {
			return nil, fmt.Errorf("failed to find orphaned %s events: %w", kind, err)
		}
		orphans = append(orphans, events...)
	}
	return orphans, nil
}

func (r *auditRepository) MissingEvents(ctx context.Context, userID uuid.UUID) ([]repository.DirtyRecord, error) {
	var missing []repository.DirtyRecord
	for kind, table := range entityTables {
		query := `
			SELECT id FROM ` + table + `
			WHERE user_id = ? AND sync_status IN (?, ?)
			AND id NOT IN (
				SELECT entity_id FROM outbox_events WHERE status IN (?, ?)
			)
		`
		var ids []uuid.UUID
		err := r.db.SelectContext(ctx, &ids, query,
			userID, model.SyncStatusPending, model.SyncStatusFailed,
			model.OutboxStatusPending, model.OutboxStatusProcessing,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to find missing events for %s: %w", kind, err)
		}
		for _, id := range ids {
			missing = append(missing, repository.DirtyRecord{Kind: kind, EntityID: id})
		}
	}
	return missing, nil
}

func (r *auditRepository) StuckEvents(ctx context.Context, userID uuid.UUID, maxAge time.Duration) ([]*model.OutboxEvent, error) {
	cutoff := time.Now().Add(-maxAge)
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE user_id = ? AND status = ? AND created_at < ?
		ORDER BY created_at ASC
	`
	var events []*model.OutboxEvent
	err := r.db.SelectContext(ctx, &events, query, userID, model.OutboxStatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck events: %w", err)
	}
	return events, nil
}

func (r *auditRepository) InconsistentRecords(ctx context.Context, userID uuid.UUID) ([]repository.InconsistentRecord, error) {
	var out []repository.InconsistentRecord
	for kind, table := range entityTables {
		query := `
			SELECT id FROM ` + table + `
			WHERE user_id = ? AND sync_status = ? AND backend_id IS NULL
		`
		var ids []uuid.UUID
		err := r.db.SelectContext(ctx, &ids, query, userID, model.SyncStatusSynced)
		if err != nil {
			return nil, fmt.Errorf("failed to find inconsistent %s records: %w", kind, err)
		}
		for _, id := range ids {
			out = append(out, repository.InconsistentRecord{Kind: kind, EntityID: id})
		}
	}
	return out, nil
}

func (r *auditRepository) SyncedBackendIDs(ctx context.Context, userID uuid.UUID, from, to time.Time) (map[string]uuid.UUID, error) {
	query := `
		SELECT id, backend_id FROM progress_entries
		WHERE user_id = ? AND sync_status = ? AND backend_id IS NOT NULL
		AND date >= ? AND date < ?
	`
	rows := []struct {
		ID        uuid.UUID `db:"id"`
		BackendID string    `db:"backend_id"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, userID, model.SyncStatusSynced, from, to); err != nil {
		return nil, fmt.Errorf("failed to list synced backend ids: %w", err)
	}

	out := make(map[string]uuid.UUID, len(rows))
	for _, row := range rows {
		out[row.BackendID] = row.ID
	}
	return out, nil
}
