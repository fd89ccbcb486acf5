package remote

import (
	"time"

	"github.com/lumehealth/lume-sync/internal/model"
)

// Wire DTOs for the sync backend. client_id carries the local UUID so
// the backend can deduplicate at-least-once deliveries by source id.

type ProgressEntryDTO struct {
	ID       string    `json:"id,omitempty"`
	ClientID string    `json:"client_id"`
	Type     string    `json:"type"`
	Value    float64   `json:"value"`
	Unit     string    `json:"unit,omitempty"`
	Date     time.Time `json:"date"`
}

type MoodEntryDTO struct {
	ID       string    `json:"id,omitempty"`
	ClientID string    `json:"client_id"`
	Score    int       `json:"score"`
	Note     string    `json:"note,omitempty"`
	Date     time.Time `json:"date"`
}

type WorkoutDTO struct {
	ID             string    `json:"id,omitempty"`
	ClientID       string    `json:"client_id"`
	ActivityType   string    `json:"activity_type"`
	DurationMin    int       `json:"duration_min"`
	CaloriesBurned float64   `json:"calories_burned,omitempty"`
	Source         string    `json:"source,omitempty"`
	Date           time.Time `json:"date"`
}

type MealDTO struct {
	ID       string    `json:"id,omitempty"`
	ClientID string    `json:"client_id"`
	Name     string    `json:"name"`
	MealType string    `json:"meal_type"`
	Calories float64   `json:"calories"`
	ProteinG float64   `json:"protein_g,omitempty"`
	CarbsG   float64   `json:"carbs_g,omitempty"`
	FatG     float64   `json:"fat_g,omitempty"`
	Date     time.Time `json:"date"`
}

// ProgressPage is the paginated history listing, used by the auditor and
// current-value reads only, never as a pull-sync source.
type ProgressPage struct {
	Entries []ProgressEntryDTO `json:"entries"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

// ListQuery bounds a history listing.
type ListQuery struct {
	Type   string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// NewProgressEntryDTO maps a local record onto the wire shape.
func NewProgressEntryDTO(e *model.ProgressEntry) *ProgressEntryDTO {
	return &ProgressEntryDTO{
		ClientID: e.ID.String(),
		Type:     string(e.MetricType),
		Value:    e.Value,
		Unit:     e.Unit,
		Date:     e.Date,
	}
}

func NewMoodEntryDTO(e *model.MoodEntry) *MoodEntryDTO {
	return &MoodEntryDTO{
		ClientID: e.ID.String(),
		Score:    e.Score,
		Note:     e.Note,
		Date:     e.Date,
	}
}

func NewWorkoutDTO(w *model.Workout) *WorkoutDTO {
	return &WorkoutDTO{
		ClientID:       w.ID.String(),
		ActivityType:   w.ActivityType,
		DurationMin:    w.DurationMin,
		CaloriesBurned: w.CaloriesBurned,
		Source:         w.Source,
		Date:           w.Date,
	}
}

func NewMealDTO(m *model.Meal) *MealDTO {
	return &MealDTO{
		ClientID: m.ID.String(),
		Name:     m.Name,
		MealType: string(m.MealType),
		Calories: m.Calories,
		ProteinG: m.ProteinG,
		CarbsG:   m.CarbsG,
		FatG:     m.FatG,
		Date:     m.Date,
	}
}
