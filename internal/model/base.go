package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncStatus tracks where a record sits in its journey to the backend.
// Persisted as a string for storage compatibility; repositories decode
// eagerly and reject unknown values.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusSyncing is part of the persisted enum but the stores
	// never write it: push-in-flight is tracked on the outbox event
	// (status processing), not on the record. It stays accepted so
	// rows written by earlier schema versions still decode.
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// ParseSyncStatus decodes a stored status string.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch SyncStatus(s) {
	case SyncStatusPending, SyncStatusSyncing, SyncStatusSynced, SyncStatusFailed:
		return SyncStatus(s), nil
	}
	return "", fmt.Errorf("invalid sync status %q", s)
}

// SyncRecord contains the sync bookkeeping shared by every entity kind.
// Date is the business timestamp; CreatedAt/UpdatedAt are bookkeeping.
type SyncRecord struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	Date       time.Time  `db:"date" json:"date"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  *time.Time `db:"updated_at" json:"updated_at,omitempty"`
	BackendID  *string    `db:"backend_id" json:"backend_id,omitempty"`
	SyncStatus SyncStatus `db:"sync_status" json:"sync_status"`
}

// Dirty reports whether the record still owes the backend a push.
func (r *SyncRecord) Dirty() bool {
	return r.SyncStatus == SyncStatusPending || r.SyncStatus == SyncStatusFailed
}

// Validate checks the stored status against the closed enum.
func (r *SyncRecord) Validate() error {
	_, err := ParseSyncStatus(string(r.SyncStatus))
	return err
}
