package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"

	"github.com/lumehealth/lume-sync/pkg/errors"
)

// EventType tags an outbox event with the entity kind it pushes.
type EventType string

const (
	EventProgressEntry EventType = "progress_entry"
	EventMoodEntry     EventType = "mood_entry"
	EventWorkout       EventType = "workout"
	EventMeal          EventType = "meal"
)

func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventProgressEntry, EventMoodEntry, EventWorkout, EventMeal:
		return EventType(s), nil
	}
	return "", fmt.Errorf("invalid event type %q", s)
}

// OutboxStatus is the lifecycle state of an outbox event.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

func ParseOutboxStatus(s string) (OutboxStatus, error) {
	switch OutboxStatus(s) {
	case OutboxStatusPending, OutboxStatusProcessing, OutboxStatusCompleted, OutboxStatusFailed:
		return OutboxStatus(s), nil
	}
	return "", fmt.Errorf("invalid outbox status %q", s)
}

// OutboxEvent is one pending side effect: "this entity needs to reach
// the backend". It carries no sync payload; the processor re-reads the
// entity at push time so the freshest state wins.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	EventType     EventType       `db:"event_type" json:"event_type"`
	EntityID      uuid.UUID       `db:"entity_id" json:"entity_id"`
	UserID        uuid.UUID       `db:"user_id" json:"user_id"`
	Status        OutboxStatus    `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	LastAttemptAt *time.Time      `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	AttemptCount  int             `db:"attempt_count" json:"attempt_count"`
	MaxAttempts   int             `db:"max_attempts" json:"max_attempts"`
	ErrorMessage  *string         `db:"error_message" json:"error_message,omitempty"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	RetryAt       *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
	Metadata      types.JSONText  `db:"metadata" json:"metadata,omitempty"`
	Priority      int             `db:"priority" json:"priority"`
	IsNewRecord   bool            `db:"is_new_record" json:"is_new_record"`
}

// DecodedMetadata decodes the event's tagged metadata union.
func (e *OutboxEvent) DecodedMetadata() (EventMetadata, error) {
	return DecodeMetadata(e.Metadata)
}

// EventMetadata is a closed union of per-kind debug metadata. It exists
// for observability only and is never used as the sync payload.
type EventMetadata interface {
	Kind() EventType
}

type ProgressMetadata struct {
	MetricType MetricType `json:"metric_type"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit"`
}

func (ProgressMetadata) Kind() EventType { return EventProgressEntry }

type MoodMetadata struct {
	Score int `json:"score"`
}

func (MoodMetadata) Kind() EventType { return EventMoodEntry }

type WorkoutMetadata struct {
	ActivityType string `json:"activity_type"`
	DurationMin  int    `json:"duration_min"`
}

func (WorkoutMetadata) Kind() EventType { return EventWorkout }

type MealMetadata struct {
	Name     string   `json:"name"`
	MealType MealType `json:"meal_type"`
}

func (MealMetadata) Kind() EventType { return EventMeal }

type metadataEnvelope struct {
	Kind EventType       `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeMetadata wraps a metadata variant in its tagged envelope.
func EncodeMetadata(m EventMetadata) (types.JSONText, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	raw, err := json.Marshal(metadataEnvelope{Kind: m.Kind(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata envelope: %w", err)
	}
	return raw, nil
}

// DecodeMetadata unwraps a tagged metadata envelope. An unknown tag is
// a recoverable UnknownEventType error, never a panic.
func DecodeMetadata(raw types.JSONText) (EventMetadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata envelope: %w", err)
	}

	var out EventMetadata
	switch env.Kind {
	case EventProgressEntry:
		var m ProgressMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal progress metadata: %w", err)
		}
		out = m
	case EventMoodEntry:
		var m MoodMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mood metadata: %w", err)
		}
		out = m
	case EventWorkout:
		var m WorkoutMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workout metadata: %w", err)
		}
		out = m
	case EventMeal:
		var m MealMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal meal metadata: %w", err)
		}
		out = m
	default:
		return nil, errors.UnknownEventType(string(env.Kind))
	}
	return out, nil
}
