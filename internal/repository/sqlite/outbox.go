package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
	apperrors "github.com/lumehealth/lume-sync/pkg/errors"
)

const outboxColumns = `id, event_type, entity_id, user_id, status, created_at, last_attempt_at,
	attempt_count, max_attempts, error_message, completed_at, retry_at, metadata, priority, is_new_record`

const supersededMessage = "superseded by a newer event for the same entity"

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func (r *outboxRepository) CreateEventTx(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if _, err := model.ParseEventType(string(event.EventType)); err != nil {
		return err
	}

	// At most one pending event per entity. A pending event's work is
	// subsumed by the newer one, so it is closed as superseded. A
	// processing event stays untouched: the new pending event queues
	// behind it (Claim refuses to run two pushes for one entity), so a
	// save landing mid-push is still delivered afterwards.
	var pending model.OutboxEvent
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE entity_id = ? AND status = ?
		LIMIT 1
	`
	err := tx.GetContext(ctx, &pending, query, event.EntityID, model.OutboxStatusPending)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// no pending event, fall through to insert
	case err != nil:
		return fmt.Errorf("failed to check pending events: %w", err)
	default:
		now := time.Now()
		msg := supersededMessage
		_, err := tx.ExecContext(ctx,
			`UPDATE outbox_events SET status = ?, completed_at = ?, error_message = ? WHERE id = ?`,
			model.OutboxStatusCompleted, now, msg, pending.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to supersede event: %w", err)
		}
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.MaxAttempts <= 0 {
		event.MaxAttempts = 5
	}
	event.Status = model.OutboxStatusPending

	insert := `
		INSERT INTO outbox_events (
			id, event_type, entity_id, user_id, status, created_at,
			attempt_count, max_attempts, metadata, priority, is_new_record
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, insert,
		event.ID,
		event.EventType,
		event.EntityID,
		event.UserID,
		event.Status,
		event.CreatedAt,
		event.AttemptCount,
		event.MaxAttempts,
		nullableJSON(event.Metadata),
		event.Priority,
		event.IsNewRecord,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (r *outboxRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.OutboxEvent, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_events WHERE id = ?`

	var event model.OutboxEvent
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("outbox event", err)
		}
		return nil, fmt.Errorf("failed to get outbox event: %w", err)
	}
	if err := validateEvent(&event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *outboxRepository) FetchPending(ctx context.Context, userID uuid.UUID, limit int) ([]*model.OutboxEvent, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE user_id = ? AND status = ?
		AND (retry_at IS NULL OR retry_at <= ?)
		ORDER BY priority ASC, created_at ASC
		LIMIT ?
	`
	var events []*model.OutboxEvent
	err := r.db.SelectContext(ctx, &events, query, userID, model.OutboxStatusPending, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending events: %w", err)
	}
	for _, e := range events {
		if err := validateEvent(e); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (r *outboxRepository) FetchByStatus(ctx context.Context, status model.OutboxStatus, userID uuid.UUID, limit int) ([]*model.OutboxEvent, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE user_id = ? AND status = ?
		ORDER BY priority ASC, created_at ASC
		LIMIT ?
	`
	var events []*model.OutboxEvent
	err := r.db.SelectContext(ctx, &events, query, userID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	for _, e := range events {
		if err := validateEvent(e); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (r *outboxRepository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	// The status guard is the exclusivity lock: a non-pending event is
	// someone else's to finish. The NOT EXISTS clause extends the lock
	// to the entity, so an event queued behind an in-flight push waits
	// its turn instead of racing it.
	query := `
		UPDATE outbox_events
		SET status = ?, last_attempt_at = ?
		WHERE id = ? AND status = ?
		AND NOT EXISTS (
			SELECT 1 FROM outbox_events sibling
			WHERE sibling.entity_id = outbox_events.entity_id
			AND sibling.status = ?
		)
	`
	res, err := r.db.ExecContext(ctx, query, model.OutboxStatusProcessing, time.Now(), id, model.OutboxStatusPending, model.OutboxStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to claim event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *outboxRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_events
		SET status = ?, completed_at = ?, error_message = NULL, retry_at = NULL
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, query, model.OutboxStatusCompleted, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("outbox event", nil)
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryAt *time.Time, terminal bool) (bool, error) {
	query := `
		UPDATE outbox_events
		SET attempt_count = attempt_count + 1,
			last_attempt_at = ?,
			error_message = ?,
			status = CASE WHEN ? OR attempt_count + 1 >= max_attempts THEN ? ELSE ? END,
			retry_at = CASE WHEN ? OR attempt_count + 1 >= max_attempts THEN NULL ELSE ? END
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		time.Now(),
		errMsg,
		terminal,
		model.OutboxStatusFailed,
		model.OutboxStatusPending,
		terminal,
		retryAt,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark event failed: %w", err)
	}

	var status string
	if err := r.db.GetContext(ctx, &status, `SELECT status FROM outbox_events WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to read event status: %w", err)
	}
	return status == string(model.OutboxStatusFailed), nil
}

func (r *outboxRepository) ReclaimStale(ctx context.Context, grace time.Duration) (int64, error) {
	cutoff := time.Now().Add(-grace)

	// A stale processing event whose entity already has a newer pending
	// event does not come back: the pending one carries the work.
	superseded := `
		UPDATE outbox_events
		SET status = ?, completed_at = ?, error_message = ?
		WHERE status = ? AND last_attempt_at IS NOT NULL AND last_attempt_at < ?
		AND EXISTS (
			SELECT 1 FROM outbox_events sibling
			WHERE sibling.entity_id = outbox_events.entity_id
			AND sibling.status = ?
		)
	`
	_, err := r.db.ExecContext(ctx, superseded,
		model.OutboxStatusCompleted, time.Now(), supersededMessage,
		model.OutboxStatusProcessing, cutoff, model.OutboxStatusPending,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede stale events: %w", err)
	}

	reclaim := `
		UPDATE outbox_events
		SET status = ?
		WHERE status = ? AND last_attempt_at IS NOT NULL AND last_attempt_at < ?
	`
	res, err := r.db.ExecContext(ctx, reclaim, model.OutboxStatusPending, model.OutboxStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale events: %w", err)
	}
	return res.RowsAffected()
}

func (r *outboxRepository) DeleteForEntities(ctx context.Context, entityIDs []uuid.UUID) (int64, error) {
	if len(entityIDs) == 0 {
		return 0, nil
	}

	ids := make([]string, len(entityIDs))
	for i, id := range entityIDs {
		ids[i] = id.String()
	}
	query, args, err := sqlx.In(`DELETE FROM outbox_events WHERE entity_id IN (?)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return res.RowsAffected()
}

func (r *outboxRepository) CountByStatus(ctx context.Context, userID uuid.UUID) (map[model.OutboxStatus]int, error) {
	query := `
		SELECT status, COUNT(*) AS n
		FROM outbox_events
		WHERE user_id = ?
		GROUP BY status
	`
	rows := []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	counts := make(map[model.OutboxStatus]int, len(rows))
	for _, row := range rows {
		status, err := model.ParseOutboxStatus(row.Status)
		if err != nil {
			return nil, err
		}
		counts[status] = row.N
	}
	return counts, nil
}

func (r *outboxRepository) ActiveEventForEntity(ctx context.Context, entityID uuid.UUID) (*model.OutboxEvent, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE entity_id = ? AND status IN (?, ?)
		LIMIT 1
	`
	var event model.OutboxEvent
	err := r.db.GetContext(ctx, &event, query, entityID, model.OutboxStatusPending, model.OutboxStatusProcessing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active event: %w", err)
	}
	if err := validateEvent(&event); err != nil {
		return nil, err
	}
	return &event, nil
}

func validateEvent(e *model.OutboxEvent) error {
	if _, err := model.ParseEventType(string(e.EventType)); err != nil {
		return err
	}
	if _, err := model.ParseOutboxStatus(string(e.Status)); err != nil {
		return err
	}
	return nil
}
