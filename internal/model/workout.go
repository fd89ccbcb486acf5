package model

// Workout records a completed exercise session. Date doubles as the
// session start time.
type Workout struct {
	SyncRecord
	ActivityType   string  `db:"activity_type" json:"activity_type"`
	DurationMin    int     `db:"duration_min" json:"duration_min"`
	CaloriesBurned float64 `db:"calories_burned" json:"calories_burned"`
	Source         string  `db:"source" json:"source"`
}
